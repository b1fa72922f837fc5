package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version is set at build time via -ldflags "-X main.Version=...", mirroring
// the teacher's cmd/root.go Version variable.
var Version = "dev"

var (
	cfgFile string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "dorkosd",
	Short: "DorkOS — agent coordination server",
	Long:  "DorkOS: an Agent Manager, Relay message bus, Mesh discovery/registry, and Pulse scheduler for LLM coding agents.",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: dorkos.json5 or $DORKOS_CONFIG)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging regardless of config")

	rootCmd.AddCommand(versionCmd())
	rootCmd.AddCommand(doctorCmd())
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("dorkosd %s\n", Version)
		},
	}
}

func resolveConfigPath() string {
	if cfgFile != "" {
		return cfgFile
	}
	if v := os.Getenv("DORKOS_CONFIG"); v != "" {
		return v
	}
	return "dorkos.json5"
}

// Execute runs the root cobra command.
func Execute() error {
	return rootCmd.Execute()
}
