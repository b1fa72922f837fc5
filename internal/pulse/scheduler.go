package pulse

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/adhocore/gronx"
	"github.com/robfig/cron/v3"

	"github.com/dorkos/dorkos/internal/agentmgr"
	"github.com/dorkos/dorkos/internal/idgen"
	"github.com/dorkos/dorkos/internal/relay"
	"github.com/dorkos/dorkos/pkg/protocol"
)

// cronParser accepts the standard 5-field cron grammar plus descriptors
// (@hourly, @daily, ...), mirroring the teacher-adjacent cron grounding in
// haasonsaas-nexus/internal/cron/schedule.go.
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ValidateCronExpr parses cronExpr with robfig/cron and cross-checks it with
// adhocore/gronx (the teacher's actual cron dependency, kept alive here as a
// second opinion at schedule-creation time rather than dropped).
func ValidateCronExpr(cronExpr string) error {
	if _, err := cronParser.Parse(cronExpr); err != nil {
		return fmt.Errorf("invalid cron expression %q: %w", cronExpr, err)
	}
	if !gronx.New().IsValid(cronExpr) {
		return fmt.Errorf("invalid cron expression %q", cronExpr)
	}
	return nil
}

func nextFire(cronExpr, timezone string, after time.Time) (time.Time, error) {
	loc := after.Location()
	if timezone != "" {
		tz, err := time.LoadLocation(timezone)
		if err != nil {
			return time.Time{}, fmt.Errorf("load timezone %q: %w", timezone, err)
		}
		loc = tz
	}
	sched, err := cronParser.Parse(cronExpr)
	if err != nil {
		return time.Time{}, err
	}
	return sched.Next(after.In(loc)), nil
}

// AgentDispatcher is the subset of *agentmgr.Manager Pulse dispatches
// through when Relay is disabled.
type AgentDispatcher interface {
	SendMessage(ctx context.Context, sessionKey, content string, opts agentmgr.SendMessageOptions, sink func(protocol.Event)) error
}

// RelayPublisher is the subset of *relay.Bus Pulse dispatches through when
// Relay is enabled.
type RelayPublisher interface {
	Publish(subject string, payload any, opts relay.PublishOptions) (relay.PublishResult, error)
}

// Scheduler is the Pulse tick thread plus dispatcher (spec §4.11).
type Scheduler struct {
	store      *Store
	ids        *idgen.Service
	agent      AgentDispatcher
	bus        RelayPublisher
	logger     *slog.Logger
	tickEvery  time.Duration
	concurrCap int

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
}

// Config configures a Scheduler.
type Config struct {
	Store              *Store
	IDs                *idgen.Service
	Agent              AgentDispatcher // nil means dispatch only via Relay
	Bus                RelayPublisher  // nil means dispatch only direct
	Logger             *slog.Logger
	TickInterval       time.Duration
	ConcurrencyPerRule int
}

// New builds a Scheduler.
func New(cfg Config) *Scheduler {
	tick := cfg.TickInterval
	if tick <= 0 {
		tick = TickInterval
	}
	concurrCap := cfg.ConcurrencyPerRule
	if concurrCap <= 0 {
		concurrCap = DefaultConcurrencyCap
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		store:      cfg.Store,
		ids:        cfg.IDs,
		agent:      cfg.Agent,
		bus:        cfg.Bus,
		logger:     logger,
		tickEvery:  tick,
		concurrCap: concurrCap,
		cancels:    map[string]context.CancelFunc{},
	}
}

// Run starts the tick thread; it blocks until ctx is canceled (spec §5
// "Pulse's tick thread is a single worker").
func (sc *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(sc.tickEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sc.tick(ctx)
		}
	}
}

func (sc *Scheduler) tick(ctx context.Context) {
	due, err := sc.store.DueSchedules()
	if err != nil {
		sc.logger.Error("pulse: list due schedules failed", "error", err)
		return
	}
	now := time.Now()
	for _, sched := range due {
		fire, err := nextFire(sched.CronExpr, sched.Timezone, lastTick(sched, now))
		if err != nil {
			sc.logger.Warn("pulse: schedule has invalid cron expression", "schedule", sched.ID, "error", err)
			continue
		}
		if fire.After(now) {
			continue
		}
		sc.dispatch(ctx, sched, TriggerScheduled)
	}
}

func lastTick(sched Schedule, now time.Time) time.Time {
	if sched.LastRunAt.IsZero() {
		return now.Add(-TickInterval)
	}
	return sched.LastRunAt
}

// RunNow enqueues a manual run (spec §4.11 "Manual trigger"). It bypasses
// cron but obeys concurrency and the active-status rule.
func (sc *Scheduler) RunNow(ctx context.Context, scheduleID string) (Run, error) {
	sched, ok, err := sc.store.GetSchedule(scheduleID)
	if err != nil {
		return Run{}, err
	}
	if !ok {
		return Run{}, fmt.Errorf("schedule %s not found", scheduleID)
	}
	if !sched.Runnable() {
		return Run{}, fmt.Errorf("schedule %s is not active", scheduleID)
	}
	return sc.dispatch(ctx, sched, TriggerManual)
}

func (sc *Scheduler) dispatch(ctx context.Context, sched Schedule, trigger Trigger) (Run, error) {
	running, err := sc.store.CountRunningForSchedule(sched.ID)
	if err != nil {
		return Run{}, err
	}
	if running >= sc.concurrCap {
		sc.logger.Info("pulse: skipped_concurrent", "schedule", sched.ID)
		return Run{}, fmt.Errorf("schedule %s at concurrency cap", sched.ID)
	}

	runID := sc.ids.NewString()
	run := Run{
		ID:         runID,
		ScheduleID: sched.ID,
		Trigger:    trigger,
		Status:     RunRunning,
		CreatedAt:  time.Now(),
		StartedAt:  time.Now(),
		SessionID:  runID, // spec §9: a Pulse run reuses its ID as the runtime session id
	}
	run, err = sc.store.CreateRun(run)
	if err != nil {
		return Run{}, err
	}

	sched.LastRunAt = time.Now()
	_ = sc.store.UpdateSchedule(sched)

	runCtx, cancel := context.WithCancel(ctx)
	if sched.MaxRuntimeMs > 0 {
		runCtx, cancel = context.WithTimeout(ctx, time.Duration(sched.MaxRuntimeMs)*time.Millisecond)
	}
	sc.mu.Lock()
	sc.cancels[run.ID] = cancel
	sc.mu.Unlock()

	go sc.execute(runCtx, cancel, sched, run)
	return run, nil
}

func (sc *Scheduler) execute(ctx context.Context, cancel context.CancelFunc, sched Schedule, run Run) {
	defer func() {
		cancel()
		sc.mu.Lock()
		delete(sc.cancels, run.ID)
		sc.mu.Unlock()
	}()

	var transcript strings.Builder
	var tokenCost int64
	sink := func(ev protocol.Event) {
		if ev.Type == protocol.EventTextDelta {
			transcript.WriteString(ev.Text)
		}
	}

	var dispatchErr error
	switch {
	case sc.bus != nil:
		dispatchErr = sc.dispatchViaRelay(ctx, sched, run)
	case sc.agent != nil:
		dispatchErr = sc.agent.SendMessage(ctx, run.SessionID, sched.Prompt, agentmgr.SendMessageOptions{
			PermissionMode:     sched.PermissionMode,
			Cwd:                sched.WorkingDir,
			SystemPromptAppend: fmt.Sprintf("Scheduled run id=%s name=%s", run.ID, sched.Name),
		}, sink)
	default:
		dispatchErr = fmt.Errorf("pulse: no dispatcher configured")
	}

	run.FinishedAt = time.Now()
	run.DurationMs = run.FinishedAt.Sub(run.StartedAt).Milliseconds()
	run.TokenCost = tokenCost
	run.OutputSummary = truncateSummary(transcript.String())

	if ctx.Err() != nil {
		// Canceled explicitly via CancelRun, or the schedule's maxRuntimeMs
		// budget elapsed (spec §4.11 "on timeout, cancel the run").
		run.Status = RunCancelled
	} else if dispatchErr != nil {
		run.Status = RunFailed
		run.Error = dispatchErr.Error()
	} else {
		run.Status = RunCompleted
	}
	if err := sc.store.UpdateRun(run); err != nil {
		sc.logger.Error("pulse: update run failed", "run", run.ID, "error", err)
	}
}

// dispatchViaRelay publishes the schedule's prompt on
// relay.system.pulse.{scheduleId}, where the Relay-backed Agent Manager
// endpoint consumes it (spec §4.11 "Dispatch path").
func (sc *Scheduler) dispatchViaRelay(ctx context.Context, sched Schedule, run Run) error {
	subject := "relay.system.pulse." + sched.ID
	replyTo := "relay.system.pulse." + sched.ID + ".run." + run.ID
	_, err := sc.bus.Publish(subject, map[string]any{
		"prompt":         sched.Prompt,
		"cwd":            sched.WorkingDir,
		"permissionMode": string(sched.PermissionMode),
		"runId":          run.ID,
		"sessionKey":     run.SessionID,
	}, relay.PublishOptions{From: subject, ReplyTo: replyTo})
	return err
}

// CancelRun signals an in-flight run to terminate (spec §4.11
// "Cancellation").
func (sc *Scheduler) CancelRun(runID string) error {
	sc.mu.Lock()
	cancel, ok := sc.cancels[runID]
	sc.mu.Unlock()
	if ok {
		cancel()
		return nil
	}

	run, found, err := sc.store.GetRun(runID)
	if err != nil {
		return err
	}
	if !found || run.Status != RunRunning {
		return fmt.Errorf("run %s is not running", runID)
	}
	if sc.bus != nil {
		subject := "relay.system.pulse." + run.ScheduleID + ".run." + run.ID
		if _, err := sc.bus.Publish(subject, map[string]any{"type": "cancel", "runId": run.ID}, relay.PublishOptions{From: subject}); err != nil {
			return err
		}
	}
	run.Status = RunCancelled
	run.FinishedAt = time.Now()
	return sc.store.UpdateRun(run)
}

func truncateSummary(s string) string {
	const maxLen = 2000
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen]
}
