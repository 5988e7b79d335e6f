package cmd

import (
	"errors"
	"fmt"

	"cloud.google.com/go/civil"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/gazette-watch/internal/gazette"
	"github.com/JakeFAU/gazette-watch/internal/pipeline"
)

func newRunCmd() *cobra.Command {
	var date string
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Runs the pipeline once for a publication date",
		Args:  cobra.NoArgs,
		RunE: withServices(func(cmd *cobra.Command, _ []string, svc *services) error {
			d, err := parseDateFlag(date, svc.runner)
			if err != nil {
				return err
			}
			summary, runErr := svc.runner.RunForDate(cmd.Context(), d)
			if err := printJSON(cmd.OutOrStdout(), summary); err != nil {
				return err
			}
			if runErr != nil {
				return fmt.Errorf("run %s: %w", d, runErr)
			}
			return nil
		}),
	}
	cmd.Flags().StringVar(&date, "date", "", "publication date YYYY-MM-DD (default today)")
	return cmd
}

func newReplayCmd() *cobra.Command {
	var (
		date      string
		watcherID int64
		notify    bool
	)
	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Rebuilds one watcher's report for a date",
		Args:  cobra.NoArgs,
		RunE: withServices(func(cmd *cobra.Command, _ []string, svc *services) error {
			if watcherID <= 0 {
				return errors.New("--watcher is required")
			}
			d, err := parseDateFlag(date, svc.runner)
			if err != nil {
				return err
			}
			rep, replayErr := svc.runner.ReplayForWatcher(cmd.Context(), watcherID, d, pipeline.ReplayOptions{Dispatch: notify})
			var delivery *gazette.DeliveryError
			if replayErr != nil && !errors.As(replayErr, &delivery) {
				return fmt.Errorf("replay watcher %d for %s: %w", watcherID, d, replayErr)
			}
			if err := printJSON(cmd.OutOrStdout(), rep); err != nil {
				return err
			}
			if replayErr != nil {
				return fmt.Errorf("replay watcher %d for %s: %w", watcherID, d, replayErr)
			}
			return nil
		}),
	}
	cmd.Flags().StringVar(&date, "date", "", "publication date YYYY-MM-DD (default today)")
	cmd.Flags().Int64Var(&watcherID, "watcher", 0, "watcher ID")
	cmd.Flags().BoolVar(&notify, "notify", false, "mail the report when it has highlights")
	return cmd
}

// backfillResult is one line of the backfill report.
type backfillResult struct {
	Date    civil.Date        `json:"date"`
	Status  gazette.RunStatus `json:"status"`
	RunID   string            `json:"run_id,omitempty"`
	Matched int               `json:"watchers_matched"`
	Error   string            `json:"error,omitempty"`
}

func newBackfillCmd() *cobra.Command {
	var from, to string
	cmd := &cobra.Command{
		Use:   "backfill",
		Short: "Runs the pipeline for every date in a range, oldest first",
		Args:  cobra.NoArgs,
		RunE: withServices(func(cmd *cobra.Command, _ []string, svc *services) error {
			start, err := civil.ParseDate(from)
			if err != nil {
				return fmt.Errorf("invalid --from %q, want YYYY-MM-DD", from)
			}
			end, err := civil.ParseDate(to)
			if err != nil {
				return fmt.Errorf("invalid --to %q, want YYYY-MM-DD", to)
			}
			if end.Before(start) {
				return fmt.Errorf("--to %s is before --from %s", end, start)
			}
			if today := svc.runner.Today(); end.After(today) {
				return fmt.Errorf("--to %s: %w", end, gazette.ErrFutureDate)
			}

			results, aborted := backfill(cmd, svc, start, end)
			if err := printJSON(cmd.OutOrStdout(), results); err != nil {
				return err
			}
			if err := cmd.Context().Err(); err != nil {
				return fmt.Errorf("backfill interrupted: %w", err)
			}
			if aborted > 0 {
				return fmt.Errorf("backfill: %d of %d dates aborted", aborted, len(results))
			}
			return nil
		}),
	}
	cmd.Flags().StringVar(&from, "from", "", "first publication date YYYY-MM-DD")
	cmd.Flags().StringVar(&to, "to", "", "last publication date YYYY-MM-DD")
	return cmd
}

func backfill(cmd *cobra.Command, svc *services, start, end civil.Date) ([]backfillResult, int) {
	var (
		results []backfillResult
		aborted int
	)
	for d := start; !d.After(end); d = d.AddDays(1) {
		if cmd.Context().Err() != nil {
			break
		}
		summary, err := svc.runner.RunForDate(cmd.Context(), d)
		res := backfillResult{Date: d, Status: summary.Status, RunID: summary.RunID, Matched: summary.WatchersMatched}
		if err != nil {
			res.Error = err.Error()
			if summary.Status == gazette.RunStatusAborted {
				aborted++
			}
			svc.logger.Warn("backfill date failed", zap.Stringer("date", d), zap.Error(err))
		}
		results = append(results, res)
	}
	return results, aborted
}
