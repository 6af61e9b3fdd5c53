// Package main implements the maos command line: a hierarchical
// multi-agent orchestrator that plans and executes a project objective
// by driving external LLM CLI tools.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/jcushman97/MAOFinal/internal/config"
)

// Exit codes for headless use.
const (
	exitComplete  = 0
	exitFailed    = 1
	exitPlanning  = 2
	exitCancelled = 130
)

var (
	cfgPath       string
	providersPath string
	projectsDir   string

	cfg *config.Config
)

// exitCode carries the process exit status out of command handlers.
var exitCode = exitComplete

var rootCmd = &cobra.Command{
	Use:   "maos",
	Short: "Multi-agent orchestration system for LLM CLI tools",
	Long: `maos decomposes a project objective into a task graph and executes it
with a hierarchy of LLM-CLI agents: a project manager plans, team leads
fan out groups, and specialist workers produce deliverable files.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(cfgPath)
		if err != nil {
			return err
		}
		if providersPath != "" {
			if err := cfg.LoadProviders(providersPath); err != nil {
				return err
			}
		}
		if projectsDir != "" {
			cfg.ProjectsDir = projectsDir
		}
		return nil
	},
}

// Execute runs the command tree and returns the process exit code.
func Execute() int {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "", "config file path")
	rootCmd.PersistentFlags().StringVar(&providersPath, "providers", "", "providers.yaml path")
	rootCmd.PersistentFlags().StringVar(&projectsDir, "projects-dir", "", "override projects directory")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(projectsCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(versionCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		if exitCode == exitComplete {
			return exitFailed
		}
	}
	return exitCode
}
