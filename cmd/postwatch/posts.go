package main

import (
	"fmt"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"postwatch/internal/content"
)

func newPublishCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "publish <slug>",
		Short: "Publish a draft or scheduled post now",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := g.open()
			if err != nil {
				return err
			}
			defer env.Close()

			dest, err := env.PublishNow(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "published %s\n", env.Posts.Rel(dest))
			return nil
		},
	}
}

func newDraftCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:     "new <title>",
		Aliases: []string{"draft"},
		Short:   "Create a draft from the draft template",
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := g.open()
			if err != nil {
				return err
			}
			defer env.Close()

			path, err := env.Posts.CreateDraft(strings.Join(args, " "))
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), env.Posts.Rel(path))
			return nil
		},
	}
}

func newScheduleCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "schedule <slug> <when>",
		Short: "Date a draft and move it into the schedule directory",
		Long: `Set the date of a draft and move it into the schedule directory, where a
running watch session picks it up.

<when> is an RFC 3339 date, a plain date ("2025-03-01", published at
site.default_schedule_time) or plain English ("next friday at 9am").`,
		Example: `  postwatch schedule my-post 2025-03-01T09:00:00+01:00
  postwatch schedule my-post tomorrow at 8am`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := g.open()
			if err != nil {
				return err
			}
			defer env.Close()

			at, err := env.Posts.ParseWhen(strings.Join(args[1:], " "))
			if err != nil {
				return err
			}
			path, err := env.Posts.SchedulePost(args[0], at)
			if err != nil {
				return err
			}
			now := env.Posts.Now()
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "scheduled %s for %s (%s)\n",
				env.Posts.Rel(path), at.Format("2006-01-02 15:04 MST"), humanize.RelTime(at, now, "ago", "from now"))
			if !at.After(now) {
				fmt.Fprintln(out, "note: the date has passed; a running watcher publishes it right away")
			}
			return nil
		},
	}
}

func newListCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List scheduled posts, soonest first",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := g.open()
			if err != nil {
				return err
			}
			defer env.Close()

			found, err := env.Posts.ScanScheduled()
			if err != nil {
				return err
			}
			sortScheduled(found)
			now := env.Posts.Now()
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			for _, f := range found {
				if f.Err != nil {
					fmt.Fprintf(tw, "%s\t-\terror: %v\n", env.Posts.Rel(f.Path), f.Err)
					continue
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\n", env.Posts.Rel(f.Path),
					f.At.In(env.Posts.Location()).Format("2006-01-02 15:04"),
					humanize.RelTime(f.At, now, "ago", "from now"))
			}
			if len(found) == 0 {
				fmt.Fprintln(tw, "no scheduled posts")
			}
			return tw.Flush()
		},
	}
}

func newHistoryCmd(g *globalFlags) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent publications from the journal",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := g.open()
			if err != nil {
				return err
			}
			defer env.Close()
			if env.Journal == nil {
				return fmt.Errorf("journal disabled: set storage.driver to file or sqlite")
			}

			recs, err := env.Journal.RecentPublications(cmd.Context(), limit)
			if err != nil {
				return err
			}
			now := env.Clock.Now()
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			for _, r := range recs {
				result := r.Dest
				if !r.OK() {
					result = "failed: " + r.Error
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n",
					humanize.RelTime(r.At, now, "ago", "from now"), r.Trigger, r.Source, result)
			}
			if len(recs) == 0 {
				fmt.Fprintln(tw, "no publications yet")
			}
			return tw.Flush()
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Number of entries to show")
	return cmd
}

// sortScheduled orders posts by date, unreadable ones last.
func sortScheduled(found []content.Scheduled) {
	sort.SliceStable(found, func(i, j int) bool {
		a, b := found[i], found[j]
		if (a.Err == nil) != (b.Err == nil) {
			return a.Err == nil
		}
		if a.Err != nil || a.At.Equal(b.At) {
			return a.Path < b.Path
		}
		return a.At.Before(b.At)
	})
}
