package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/chorus/internal/store/journal"
	"github.com/nextlevelbuilder/chorus/internal/telemetry"
)

func journalCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "journal",
		Short: "Inspect the dispatch journal",
	}
	cmd.AddCommand(journalStatsCmd())
	cmd.AddCommand(journalRecentCmd())
	return cmd
}

func withJournal(ctx context.Context, fn func(*journal.Journal) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.Journal.Driver == "" {
		return errors.New("dispatch journal is disabled: set journal.driver")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	j, err := openJournal(ctx, cfg.Journal)
	if err != nil {
		return err
	}
	defer j.Close()
	return fn(j)
}

func journalStatsCmd() *cobra.Command {
	var since time.Duration
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Per-bot dispatch outcome counts",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withJournal(cmd.Context(), func(j *journal.Journal) error {
				var from time.Time
				if since > 0 {
					from = time.Now().Add(-since)
				}
				stats, err := j.Stats(cmd.Context(), from)
				if err != nil {
					return err
				}
				printStats(cmd.OutOrStdout(), stats)
				return nil
			})
		},
	}
	cmd.Flags().DurationVar(&since, "since", 24*time.Hour, "only count dispatches newer than this (0 = all)")
	return cmd
}

func printStats(w io.Writer, stats []journal.BotStats) {
	if len(stats) == 0 {
		fmt.Fprintln(w, "no dispatches recorded")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	defer tw.Flush()
	fmt.Fprintln(tw, "BOT\tTOTAL\tDELIVERED\tDISCARDED\tFAILED\tNO MATCH\tSKIPPED\tAVG\tLAST MATCH")
	for _, s := range stats {
		last := "-"
		if !s.LastMatch.IsZero() {
			last = s.LastMatch.Local().Format(time.DateTime)
		}
		fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%d\t%d\t%d\t%s\t%s\n",
			s.Bot, s.Total,
			s.Outcomes[telemetry.OutcomeDelivered],
			s.Outcomes[telemetry.OutcomeDiscarded],
			s.Outcomes[telemetry.OutcomeFailed],
			s.Outcomes[telemetry.OutcomeNoMatch],
			s.Outcomes[telemetry.OutcomeSkipped],
			s.AvgTotal.Round(time.Millisecond),
			last,
		)
	}
}

func journalRecentCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "recent",
		Short: "List the newest dispatches",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withJournal(cmd.Context(), func(j *journal.Journal) error {
				entries, err := j.Recent(cmd.Context(), limit)
				if err != nil {
					return err
				}
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				defer tw.Flush()
				fmt.Fprintln(tw, "TIME\tBOT\tOUTCOME\tTRIGGER\tSTAGE\tTOTAL\tERROR")
				for _, e := range entries {
					fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
						e.At.Local().Format(time.DateTime), e.Bot, e.Outcome, e.Trigger, e.Stage,
						e.Total.Round(time.Millisecond), e.Error)
				}
				return nil
			})
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of dispatches to show")
	return cmd
}
