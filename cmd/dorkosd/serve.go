package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/dorkos/dorkos/internal/agentmgr"
	"github.com/dorkos/dorkos/internal/boundary"
	"github.com/dorkos/dorkos/internal/broadcaster"
	"github.com/dorkos/dorkos/internal/config"
	"github.com/dorkos/dorkos/internal/idgen"
	"github.com/dorkos/dorkos/internal/logging"
	"github.com/dorkos/dorkos/internal/mcptools"
	"github.com/dorkos/dorkos/internal/mesh"
	"github.com/dorkos/dorkos/internal/pulse"
	"github.com/dorkos/dorkos/internal/relay"
	"github.com/dorkos/dorkos/internal/relay/adapter"
	"github.com/dorkos/dorkos/internal/relaytrace"
	"github.com/dorkos/dorkos/internal/runtime"
	"github.com/dorkos/dorkos/internal/substrate"
	"github.com/dorkos/dorkos/internal/telemetry"
	"github.com/dorkos/dorkos/internal/transcript"
)

// lazyAccessChecker defers to a Mesh Registry that may not exist yet at Bus
// construction time: Relay is built before Mesh per spec §4.13, but
// relay.NewBus takes its AccessChecker up front. Allows everything until
// Mesh finishes opening and calls bind.
type lazyAccessChecker struct {
	registry *mesh.Registry
}

func (l *lazyAccessChecker) Allow(from, subject string) bool {
	if l.registry == nil {
		return true
	}
	return mesh.AccessChecker{Registry: l.registry}.Allow(from, subject)
}

// lazyIdentity mirrors lazyAccessChecker for agentmgr's IdentityReader: the
// Agent Manager is built before Mesh, so its Identity port starts as a no-op
// and is bound once the Mesh Registry opens.
type lazyIdentity struct {
	registry *mesh.Registry
}

func (l *lazyIdentity) ReadIdentity(cwd string) (agentmgr.AgentIdentity, bool, error) {
	if l.registry == nil {
		return agentmgr.AgentIdentity{}, false, nil
	}
	return mesh.IdentityAdapter{Registry: l.registry}.ReadIdentity(cwd)
}

// runServe wires every subsystem in the dependency order spec §4.13 names
// (Relay → Mesh → Pulse, each after the Agent Manager and the ID/logging
// services) and blocks until interrupted. It mirrors the teacher's
// cmd/gateway.go top-level wiring shape, trimmed to the subsystems
// SPEC_FULL.md actually names (no HTTP listener: §1 Non-goals).
func runServe() error {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	level := cfg.LogLevelValue()
	if verbose {
		level = slog.LevelDebug
	}
	log := logging.New(logging.DefaultConfig(filepath.Join(cfg.DataHome, "logs", "dorkos.log"), level))
	defer log.Close()
	slog.SetDefault(log.Logger)

	if err := os.MkdirAll(cfg.DataHome, 0o755); err != nil {
		return fmt.Errorf("create data home: %w", err)
	}
	guard, err := boundary.NewGuard(cfg.BoundaryRoot)
	if err != nil {
		return fmt.Errorf("boundary guard: %w", err)
	}
	ids := idgen.New(nil)
	flags := substrate.NewFlags()
	lifecycle := substrate.NewLifecycle(log.Logger)

	transcriptRoot := filepath.Join(cfg.DataHome, "transcripts")
	transcripts := transcript.NewReader(transcriptRoot)

	identity := &lazyIdentity{}
	var toolsRegistry *mcptools.Registry
	agentMgr := agentmgr.New(agentmgr.Config{
		Client:         stubRuntimeClient{},
		Boundary:       guard,
		IDs:            ids,
		DefaultCwd:     cfg.DefaultCwd,
		ProductName:    "dorkos",
		ProductVersion: Version,
		Port:           cfg.Port,
		Identity:       identity,
		MCPFactory: func() map[string]any {
			if toolsRegistry == nil {
				return nil
			}
			return map[string]any{"dorkos": toolsRegistry.BuildFactory()()}
		},
	})

	bcast := broadcaster.New(transcriptRoot, log.Logger)
	bcastCtx, bcastCancel := context.WithCancel(context.Background())
	go bcast.Start(bcastCtx)
	lifecycle.Register("broadcaster", closerFunc(func() error { bcastCancel(); return nil }))

	var (
		meshRegistry *mesh.Registry
		bus          *relay.Bus
		traces       *relaytrace.Store
		adapters     *adapter.Registry
		bindings     *adapter.BindingStore
		pulseStore   *pulse.Store
		pulseSched   *pulse.Scheduler
	)

	// Relay (spec §4.13: init after Agent Manager/ID/log services).
	if flags.Relay.Enabled() {
		var otelExporter relaytrace.OTelExporter
		otelShutdown := func(context.Context) error { return nil }
		if cfg.Relay.TelemetryEnabled {
			provider, shutdown, err := telemetry.NewTracerProvider(telemetry.TracerConfig{
				ServiceName:    "dorkos",
				ServiceVersion: Version,
				OTLPEndpoint:   cfg.Relay.OTLPEndpoint,
			})
			if err != nil {
				log.Warn("serve.otel_init_failed", "error", err)
			} else if provider != nil {
				otelExporter = telemetry.OTelBridge{Tracer: provider.Tracer("dorkos/relay")}
				otelShutdown = shutdown
			}
		}
		metricsSink := telemetry.NewPrometheusSink(prometheus.NewRegistry())

		traces, err = relaytrace.Open(filepath.Join(cfg.DataHome, "relay", "traces.db"), otelExporter, metricsSink)
		if err != nil {
			return fmt.Errorf("open trace store: %w", err)
		}
		lifecycle.Register("relay.traces", traces)
		lifecycle.Register("relay.otel", closerFunc(func() error { return otelShutdown(context.Background()) }))

		access := &lazyAccessChecker{}
		bus = relay.NewBus(ids, traces, access)

		bindings, err = adapter.OpenBindingStore(filepath.Join(cfg.DataHome, "relay", "bindings.db"))
		if err != nil {
			return fmt.Errorf("open binding store: %w", err)
		}
		lifecycle.Register("relay.bindings", bindings)

		factories := map[string]adapter.Factory{
			"discord": func(id string) (adapter.Adapter, error) {
				return adapter.NewDiscordAdapter(id, bus), nil
			},
			"telegram": func(id string) (adapter.Adapter, error) {
				return adapter.NewTelegramAdapter(id, bus), nil
			},
			"embedded": func(id string) (adapter.Adapter, error) {
				return adapter.NewEmbeddedHostAdapter(id, "127.0.0.1:0"), nil
			},
		}
		adaptersPath := cfg.Relay.AdaptersConfigPath
		if adaptersPath == "" {
			adaptersPath = filepath.Join(cfg.DataHome, "relay", "adapters.json")
		}
		adapters = adapter.New(adaptersPath, factories, log.Logger)
		reloadCtx, reloadCancel := context.WithCancel(context.Background())
		if err := adapters.Reload(reloadCtx); err != nil {
			log.Warn("serve.adapter_reload_failed", "error", err)
		}
		lifecycle.Register("relay.adapters", closerFunc(func() error { reloadCancel(); return nil }))

		// Mesh (after Relay per spec §4.13); the Bus itself satisfies
		// mesh.EndpointManager so manifests can register/unregister Relay
		// endpoints without Mesh importing *relay.Bus directly.
		if flags.Mesh.Enabled() {
			meshRegistry, err = mesh.Open(filepath.Join(cfg.DataHome, "mesh", "mesh.db"), guard, ids, bus, log.Logger)
			if err != nil {
				return fmt.Errorf("open mesh registry: %w", err)
			}
			lifecycle.Register("mesh", meshRegistry)
			identity.registry = meshRegistry
			access.registry = meshRegistry

			sweepCtx, sweepCancel := context.WithCancel(context.Background())
			go meshRegistry.RunHealthSweep(sweepCtx)
			lifecycle.Register("mesh.healthsweep", closerFunc(func() error { sweepCancel(); return nil }))
		}
	} else if flags.Mesh.Enabled() {
		// Mesh can run standalone (discovery/registry) without Relay
		// endpoint management; the EndpointManager argument is nil in that case.
		meshRegistry, err = mesh.Open(filepath.Join(cfg.DataHome, "mesh", "mesh.db"), guard, ids, nil, log.Logger)
		if err != nil {
			return fmt.Errorf("open mesh registry: %w", err)
		}
		lifecycle.Register("mesh", meshRegistry)
		identity.registry = meshRegistry

		sweepCtx, sweepCancel := context.WithCancel(context.Background())
		go meshRegistry.RunHealthSweep(sweepCtx)
		lifecycle.Register("mesh.healthsweep", closerFunc(func() error { sweepCancel(); return nil }))
	}

	// Pulse (after Mesh per spec §4.13).
	if flags.Pulse.Enabled() {
		pulseStore, err = pulse.Open(filepath.Join(cfg.DataHome, "pulse", "pulse.db"))
		if err != nil {
			return fmt.Errorf("open pulse store: %w", err)
		}
		lifecycle.Register("pulse.store", pulseStore)

		pulseSched = pulse.New(pulse.Config{
			Store:  pulseStore,
			IDs:    ids,
			Agent:  agentMgr,
			Bus:    bus,
			Logger: log.Logger,
		})
		schedCtx, schedCancel := context.WithCancel(context.Background())
		go pulseSched.Run(schedCtx)
		lifecycle.Register("pulse.scheduler", closerFunc(func() error { schedCancel(); return nil }))
	}

	toolsRegistry = mcptools.New("dorkos", Version, log.Logger,
		&mcptools.CoreContributor{ProductName: "dorkos", Version: Version, DefaultCwd: cfg.DefaultCwd, Sessions: agentMgr, Identity: identity},
		&mcptools.RelayContributor{Bus: bus, Traces: traces},
		&mcptools.AdapterContributor{Registry: adapters},
		&mcptools.BindingContributor{Store: bindings},
		&mcptools.MeshContributor{Registry: meshRegistry, Roots: cfg.Mesh.DiscoveryRoots},
		&mcptools.PulseContributor{Store: pulseStore},
		&mcptools.TranscriptContributor{Reader: transcripts},
	)

	healthCtx, healthCancel := context.WithCancel(context.Background())
	go runSessionHealthSweep(healthCtx, agentMgr)
	lifecycle.Register("agentmgr.healthsweep", closerFunc(func() error { healthCancel(); return nil }))

	log.Info("dorkosd.started", "port", cfg.Port, "dataHome", cfg.DataHome, "flags", flags.Snapshot())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	log.Info("dorkosd.shutting_down")
	return lifecycle.Close()
}

// runSessionHealthSweep drives Manager.CheckSessionHealth on an interval
// until ctx is cancelled; nothing in agentmgr schedules this itself.
func runSessionHealthSweep(ctx context.Context, m *agentmgr.Manager) {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.CheckSessionHealth()
		}
	}
}

// closerFunc adapts a plain func() error to substrate.Closer.
type closerFunc func() error

func (f closerFunc) Close() error { return f() }

// stubRuntimeClient is a placeholder runtime.Client: the external LLM
// coding-agent runtime is out of scope (spec §1), so this entrypoint wires
// every subsystem around the runtime.Client boundary without providing a
// real implementation. A deployment supplies its own runtime.Client and
// passes it to agentmgr.Config.Client in place of this stub.
type stubRuntimeClient struct{}

func (stubRuntimeClient) Query(ctx context.Context, opts runtime.QueryOptions) (runtime.EventIterator, error) {
	return nil, fmt.Errorf("no runtime.Client configured: the external LLM runtime is out of scope for this module")
}

func (stubRuntimeClient) SupportedModels(ctx context.Context) ([]runtime.ModelDescriptor, error) {
	return nil, nil
}
