package main

import (
	"fmt"
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/jcushman97/MAOFinal/internal/state"
)

var statusCmd = &cobra.Command{
	Use:   "status <project-id>",
	Short: "Show a project's tasks and usage",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := state.NewStore(cfg.ProjectsDir)
		if err != nil {
			return err
		}
		p, err := store.Load(args[0])
		if err != nil {
			return err
		}

		fmt.Printf("Project:   %s\n", p.ID)
		fmt.Printf("Objective: %s\n", p.Objective)
		fmt.Printf("Status:    %s\n", p.Status)
		fmt.Printf("Updated:   %s\n\n", p.UpdatedAt.Format("2006-01-02 15:04:05"))

		t := table.NewWriter()
		t.SetOutputMirror(os.Stdout)
		t.AppendHeader(table.Row{"Task", "Title", "Team", "Status", "Attempts", "Error"})
		for _, task := range p.Tasks {
			errMsg := ""
			if task.Error != nil {
				errMsg = task.Error.Kind
			}
			t.AppendRow(table.Row{task.ID, task.Title, task.Team, task.Status, task.Attempts, errMsg})
		}
		t.Render()

		fmt.Printf("\nUsage: %d call(s), ~%d tokens\n", p.Usage.Calls, p.Usage.Tokens)
		for agentID, u := range p.Usage.PerAgent {
			fmt.Printf("  %-30s %d call(s), ~%d tokens\n", agentID, u.Calls, u.Tokens)
		}
		return nil
	},
}

var projectsCmd = &cobra.Command{
	Use:   "projects",
	Short: "List known projects",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := state.NewStore(cfg.ProjectsDir)
		if err != nil {
			return err
		}
		ids, err := store.ListProjects()
		if err != nil {
			return err
		}

		t := table.NewWriter()
		t.SetOutputMirror(os.Stdout)
		t.AppendHeader(table.Row{"Project", "Status", "Tasks", "Objective"})
		for _, id := range ids {
			p, err := store.Load(id)
			if err != nil {
				t.AppendRow(table.Row{id, "unreadable", "-", err.Error()})
				continue
			}
			objective := p.Objective
			if len(objective) > 60 {
				objective = objective[:57] + "..."
			}
			t.AppendRow(table.Row{p.ID, p.Status, len(p.Tasks), objective})
		}
		t.Render()
		return nil
	},
}
