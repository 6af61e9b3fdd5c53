package main

import (
	"fmt"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/jcushman97/MAOFinal/internal/artifact"
	"github.com/jcushman97/MAOFinal/internal/dashboard"
	"github.com/jcushman97/MAOFinal/internal/resource"
	"github.com/jcushman97/MAOFinal/internal/state"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the read-only status dashboard",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := state.NewStore(cfg.ProjectsDir)
		if err != nil {
			return err
		}
		catalog, err := artifact.OpenCatalog(artifact.CatalogPath(cfg.ProjectsDir))
		if err != nil {
			return err
		}
		defer catalog.Close()

		srv := dashboard.NewServer(store, resource.NewManager(cfg.ResourceLimits.Limit()), catalog)
		closeWatch, err := srv.Watch()
		if err != nil {
			return fmt.Errorf("start state watcher: %w", err)
		}
		defer closeWatch()

		fmt.Printf("dashboard listening on %s\n", serveAddr)
		return http.ListenAndServe(serveAddr, srv.Handler())
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "127.0.0.1:8700", "listen address")
}
