package main

import (
	"github.com/spf13/cobra"

	"github.com/ship-components/ceres-framework-sub000/pkg/config"
)

var (
	servePort      int
	serveInstances int
	serveStrategy  string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server",
	Long: `Starts serving with the configured process topology. Cluster and
sticky-cluster masters re-execute this binary for every worker; fork masters
start one child per port.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 0, "Override the listen port")
	serveCmd.Flags().IntVarP(&serveInstances, "instances", "i", 0, "Override the number of workers")
	serveCmd.Flags().StringVar(&serveStrategy, "process-management", "", "Override the topology (cluster, sticky-cluster, fork)")
}

func runServe(cmd *cobra.Command, _ []string) error {
	a := newApp()
	defer a.Close()

	opts := options()
	opts.Config.Override = func(c *config.Config) {
		if servePort > 0 {
			c.Port = servePort
			c.Ports = []int{servePort}
		}
		if serveInstances > 0 {
			c.Instances = serveInstances
		}
		if serveStrategy != "" {
			c.ProcessManagement = serveStrategy
		}
	}

	ctx := cmd.Context()
	if err := a.Configure(ctx, opts); err != nil {
		return err
	}
	if err := a.Run(ctx); err != nil {
		a.Fatal(err)
	}
	return nil
}
