package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"postwatch/internal/app"
)

func newWatchCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "watch [site]",
		Short: "Rebuild on change and publish scheduled posts until interrupted",
		Long: `Watch the site trees, rebuild the site after every change and publish
each post of the schedule directory at its date.

Posts already due when the session starts are published right away.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				g.site = args[0]
			}
			env, err := g.open()
			if err != nil {
				return err
			}
			defer env.Close()

			a, err := app.New(env)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return a.Run(ctx)
		},
	}
}
