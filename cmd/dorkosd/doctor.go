package main

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/dorkos/dorkos/internal/boundary"
	"github.com/dorkos/dorkos/internal/config"
	"github.com/dorkos/dorkos/internal/idgen"
	"github.com/dorkos/dorkos/internal/mesh"
	"github.com/dorkos/dorkos/internal/pulse"
	"github.com/dorkos/dorkos/internal/relay/adapter"
	"github.com/dorkos/dorkos/internal/relaytrace"
)

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check configuration and subsystem store health",
		Run: func(cmd *cobra.Command, args []string) {
			runDoctor()
		},
	}
}

func runDoctor() {
	fmt.Println("dorkosd doctor")
	fmt.Printf("  Version:  %s\n", Version)
	fmt.Printf("  OS:       %s/%s\n", runtime.GOOS, runtime.GOARCH)
	fmt.Printf("  Go:       %s\n", runtime.Version())
	fmt.Println()

	cfgPath := resolveConfigPath()
	fmt.Printf("  Config:   %s", cfgPath)
	if _, err := os.Stat(cfgPath); err != nil {
		fmt.Println(" (NOT FOUND — defaults apply)")
	} else {
		fmt.Println(" (OK)")
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Printf("  Config load error: %s\n", err)
		return
	}

	fmt.Println()
	fmt.Printf("  Data home: %s", cfg.DataHome)
	if _, err := os.Stat(cfg.DataHome); err != nil {
		fmt.Println(" (NOT FOUND)")
	} else {
		fmt.Println(" (OK)")
	}

	if _, err := boundary.NewGuard(cfg.BoundaryRoot); err != nil {
		fmt.Printf("  Boundary root %q: FAILED (%s)\n", cfg.BoundaryRoot, err)
	} else {
		fmt.Printf("  Boundary root %q: OK\n", cfg.BoundaryRoot)
	}

	fmt.Println()
	fmt.Println("  Subsystems:")
	ids := idgen.New(nil)

	checkStore("Relay traces", cfg.RelayEnabled, func() error {
		s, err := relaytrace.Open(filepath.Join(cfg.DataHome, "relay", "traces.db"), nil, nil)
		if err == nil {
			s.Close()
		}
		return err
	})
	checkStore("Relay bindings", cfg.RelayEnabled, func() error {
		s, err := adapter.OpenBindingStore(filepath.Join(cfg.DataHome, "relay", "bindings.db"))
		if err == nil {
			s.Close()
		}
		return err
	})
	checkStore("Mesh registry", cfg.MeshEnabled, func() error {
		guard, gerr := boundary.NewGuard(cfg.BoundaryRoot)
		if gerr != nil {
			return gerr
		}
		r, err := mesh.Open(filepath.Join(cfg.DataHome, "mesh", "mesh.db"), guard, ids, nil, nil)
		if err == nil {
			r.Close()
		}
		return err
	})
	checkStore("Pulse store", cfg.PulseEnabled, func() error {
		s, err := pulse.Open(filepath.Join(cfg.DataHome, "pulse", "pulse.db"))
		if err == nil {
			s.Close()
		}
		return err
	})

	fmt.Println()
	fmt.Println("  External Tools:")
	checkBinary("git")
	checkBinary("sqlite3")

	fmt.Println()
	fmt.Println("Doctor check complete.")
}

func checkStore(name string, enabled bool, open func() error) {
	if !enabled {
		fmt.Printf("    %-16s disabled\n", name+":")
		return
	}
	if err := open(); err != nil {
		fmt.Printf("    %-16s FAILED (%s)\n", name+":", err)
		return
	}
	fmt.Printf("    %-16s OK\n", name+":")
}

func checkBinary(name string) {
	path, err := exec.LookPath(name)
	if err != nil {
		fmt.Printf("    %-12s NOT FOUND\n", name+":")
		return
	}
	fmt.Printf("    %-12s %s\n", name+":", path)
}
