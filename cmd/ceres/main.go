// Command ceres runs the example widgets application on the ceres framework.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ship-components/ceres-framework-sub000/pkg/app"
	"github.com/ship-components/ceres-framework-sub000/pkg/config"
)

// Set by -ldflags at build time.
var (
	version = "dev"
	commit  = "none"
)

var (
	configFile string
	envName    string
)

var rootCmd = &cobra.Command{
	Use:           "ceres",
	Short:         "Ceres - controller routing and process topology for HTTP services",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "Path to the YAML config file")
	rootCmd.PersistentFlags().StringVarP(&envName, "env", "e", "", "Environment name (development, production, test)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(execCmd)
	rootCmd.AddCommand(versionCmd)
}

func options() app.Options {
	return app.Options{Config: config.Options{File: configFile, Env: envName}}
}

func newApp() *app.App {
	return app.New(app.WithControllerFactory(widgetControllers))
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
