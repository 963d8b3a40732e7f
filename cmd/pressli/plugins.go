package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var pluginsCmd = &cobra.Command{
	Use:   "plugins",
	Short: "Manage plugins",
}

var pluginsScanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Sync the plugins directory with the database",
	Long: `Register plugin directories that appeared since the last scan, remove
records for directories that vanished and refresh changed manifests. New
plugins are registered inactive.`,
	RunE: runPluginsScan,
}

func init() {
	pluginsCmd.AddCommand(pluginsScanCmd)
}

func runPluginsScan(cmd *cobra.Command, args []string) error {
	app, _, err := openApp(cmd.Context())
	if err != nil {
		return err
	}
	defer app.Close()

	rep, err := app.Plugins.Sync(cmd.Context())
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if !rep.Changed() {
		fmt.Fprintln(out, "plugins up to date")
		return nil
	}
	for _, line := range []struct {
		label string
		slugs []string
	}{{"added", rep.Added}, {"removed", rep.Removed}, {"updated", rep.Updated}} {
		if len(line.slugs) > 0 {
			fmt.Fprintf(out, "%-8s %s\n", line.label, strings.Join(line.slugs, ", "))
		}
	}
	return nil
}
