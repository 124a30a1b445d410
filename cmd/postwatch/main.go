// Command postwatch watches a zola site, rebuilds it on change and publishes
// scheduled posts when their date comes.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"postwatch/internal/app"
)

type globalFlags struct {
	config   string
	site     string
	logLevel string
}

func newRootCmd() *cobra.Command {
	g := &globalFlags{}
	root := &cobra.Command{
		Use:   "postwatch",
		Short: "Scheduled publishing for zola sites",
		Long: `postwatch keeps a zola site built while you write and moves posts
from the schedule directory into the published tree when their date comes.

The config file (postwatch.toml, .yaml or .json) is looked up in the site
root unless --config is given.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&g.config, "config", "c", "", "Path to the config file")
	root.PersistentFlags().StringVarP(&g.site, "site", "s", "", "Site root (overrides site.root)")
	root.PersistentFlags().StringVar(&g.logLevel, "log-level", "", "Log level: trace, debug, info, warn, error")

	root.AddCommand(
		newWatchCmd(g),
		newPublishCmd(g),
		newDraftCmd(g),
		newScheduleCmd(g),
		newListCmd(g),
		newHistoryCmd(g),
	)
	return root
}

func (g *globalFlags) open() (*app.Env, error) {
	return app.Open(app.Options{
		ConfigPath: g.config,
		SiteRoot:   g.site,
		LogLevel:   g.logLevel,
	})
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
