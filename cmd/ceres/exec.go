package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/ship-components/ceres-framework-sub000/internal/database"
	"github.com/ship-components/ceres-framework-sub000/pkg/app"
	"github.com/ship-components/ceres-framework-sub000/pkg/controller"
)

var migrationsDir string

var execCmd = &cobra.Command{
	Use:   "exec",
	Short: "Run a one-off command against the configured application",
}

var routesCmd = &cobra.Command{
	Use:   "routes",
	Short: "Print the compiled route table",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runExec(cmd.Context(), func(_ context.Context, a *app.App) error {
			srv, err := a.Server()
			if err != nil {
				return err
			}
			return printRoutes(cmd.OutOrStdout(), srv.Routes())
		})
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending database migrations",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runExec(cmd.Context(), func(ctx context.Context, a *app.App) error {
			if err := a.Connect(ctx); err != nil {
				return err
			}
			if a.DB() == nil {
				return errors.New("no database configured")
			}
			if err := database.Migrate(a.DB(), migrationsDir); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "migrations applied")
			return nil
		})
	},
}

func init() {
	migrateCmd.Flags().StringVar(&migrationsDir, "dir", "migrations", "Directory holding the migration files")
	execCmd.AddCommand(routesCmd)
	execCmd.AddCommand(migrateCmd)
}

func runExec(ctx context.Context, fn func(context.Context, *app.App) error) error {
	a := newApp()
	defer a.Close()
	return a.Exec(ctx, options(), fn)
}

func printRoutes(out io.Writer, routes []controller.CompiledRoute) error {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "METHOD\tPATH\tHANDLER\tMIDDLEWARE")
	for _, r := range routes {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\n", strings.ToUpper(r.Method), r.Path, r.HandlerName, len(r.Middleware))
	}
	return w.Flush()
}

