package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/jcushman97/MAOFinal/internal/artifact"
	"github.com/jcushman97/MAOFinal/internal/orchestrator"
	"github.com/jcushman97/MAOFinal/internal/provider"
	"github.com/jcushman97/MAOFinal/internal/resource"
	"github.com/jcushman97/MAOFinal/internal/state"
	"github.com/jcushman97/MAOFinal/pkg/models"
)

var (
	runMode     string
	runStrategy string
	runResume   string
)

var runCmd = &cobra.Command{
	Use:   "run [objective]",
	Short: "Plan and execute a project objective",
	Long: `Run creates a project for the objective, plans it into a task graph,
and executes it to a terminal status. With --resume, an existing project
is continued instead; interrupted tasks are requeued automatically.

Exit codes: 0 complete, 1 failed, 2 planning error, 130 cancelled.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if runResume == "" && len(args) == 0 {
			return errors.New("an objective argument or --resume is required")
		}
		if runMode != "" {
			cfg.Mode = models.Mode(runMode)
		}
		if runStrategy != "" {
			cfg.Strategy = models.Strategy(runStrategy)
		}
		if err := cfg.Validate(); err != nil {
			return err
		}
		if len(cfg.Providers) == 0 {
			return errors.New("no providers configured; pass --providers or add providers to the config")
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		store, err := state.NewStore(cfg.ProjectsDir)
		if err != nil {
			return err
		}
		catalog, err := artifact.OpenCatalog(artifact.CatalogPath(cfg.ProjectsDir))
		if err != nil {
			return err
		}
		defer catalog.Close()

		resources := resource.NewManager(cfg.ResourceLimits.Limit())
		monitorCtx, stopMonitor := context.WithCancel(context.Background())
		defer stopMonitor()
		resources.StartMonitor(monitorCtx)

		logPath := ""
		if runResume != "" {
			logPath = filepath.Join(store.LogsDir(runResume), "orchestrator.log")
		}
		logger, err := orchestrator.NewDebugLogger(logPath)
		if err != nil {
			logger = orchestrator.NopLogger()
		}
		defer logger.Close()

		orch := orchestrator.New(
			orchestrator.RequiredConfig{
				Store:     store,
				Client:    provider.NewClient(cfg.Providers),
				Resources: resources,
			},
			orchestrator.WithMode(cfg.Mode),
			orchestrator.WithStrategy(cfg.Strategy),
			orchestrator.WithMaxAttempts(cfg.MaxAttempts),
			orchestrator.WithBaseTimeout(cfg.BaseTimeout()),
			orchestrator.WithCatalog(catalog),
			orchestrator.WithLogger(logger),
			orchestrator.WithConfigSnapshot(cfg.Snapshot()),
		)

		go printEvents(orch)

		var projectID string
		var status models.ProjectStatus
		if runResume != "" {
			projectID = runResume
			status, err = orch.Run(ctx, runResume)
		} else {
			projectID, status, err = orch.Start(ctx, args[0])
		}

		printOutcome(store, projectID, status)
		exitCode = outcomeExit(status, err, ctx)
		if err != nil && exitCode != exitCancelled {
			return err
		}
		return nil
	},
}

func init() {
	runCmd.Flags().StringVar(&runMode, "mode", "", "execution mode: sequential, parallel, hybrid")
	runCmd.Flags().StringVar(&runStrategy, "strategy", "", "grouping strategy: conservative, balanced, aggressive")
	runCmd.Flags().StringVar(&runResume, "resume", "", "resume an existing project by ID")
}

// outcomeExit maps a terminal status and error to the process exit code.
func outcomeExit(status models.ProjectStatus, err error, ctx context.Context) int {
	switch {
	case ctx.Err() != nil:
		return exitCancelled
	case errors.Is(err, orchestrator.ErrPlanning):
		return exitPlanning
	case status == models.StatusComplete:
		return exitComplete
	default:
		return exitFailed
	}
}

// printEvents streams progress events to the terminal.
func printEvents(orch *orchestrator.Orchestrator) {
	dim := color.New(color.Faint)
	red := color.New(color.FgRed)
	for ev := range orch.Events() {
		switch ev.Type {
		case orchestrator.EventPlanningError, orchestrator.EventProjectFailed:
			red.Printf("%-20s %s %v\n", ev.Type, ev.Message, ev.Err)
		default:
			dim.Printf("%-20s %s\n", ev.Type, ev.Message)
		}
	}
}

// printOutcome prints the final banner.
func printOutcome(store *state.Store, projectID string, status models.ProjectStatus) {
	if projectID == "" {
		return
	}
	bold := color.New(color.Bold)
	switch status {
	case models.StatusComplete:
		color.Green("project %s complete", projectID)
		bold.Printf("deliverables: %s\n", store.DeliverablesDir(projectID))
	case models.StatusPaused:
		color.Yellow("project %s paused; resume with: maos run --resume %s", projectID, projectID)
	default:
		color.Red("project %s %s", projectID, status)
	}
	fmt.Printf("state: %s\n", filepath.Join(store.ProjectDir(projectID), "state.json"))
}
