package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/roach88/botsync/internal/bot"
)

// UpdateOptions holds flags for the update command.
type UpdateOptions struct {
	*RootOptions
	StaleOnly bool
	Limit     int
}

// NewUpdateCommand creates the update command.
func NewUpdateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &UpdateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "update",
		Short: "Discover new records and refresh stale ones",
		Long: `Run one update cycle: discover new identifiers (alpha or incremental
search), then fetch every record not retrieved in the last 30 days.

The cycle stops early, without failing, when the registry is outside its
permitted hours or closed for maintenance. Other failures raise a
failed-bot ticket when notifications are configured.

Example:
  botsync update --config ie-companies.yaml
  botsync update --stale-only --limit 100`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runUpdate(opts, cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.StaleOnly, "stale-only", false, "skip discovery")
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "refresh at most this many records (with --stale-only)")

	return cmd
}

func runUpdate(opts *UpdateOptions, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)

	ctx, stop := signalContext(cmd)
	defer stop()

	rt, err := openRuntime(ctx, opts.RootOptions, cmd.OutOrStdout())
	if err != nil {
		formatter.Error(ErrCodeConfig, err.Error(), nil)
		return err
	}
	defer rt.Close()

	var summary bot.RunSummary
	if opts.StaleOnly {
		summary, err = rt.bot.UpdateStale(ctx, opts.Limit)
	} else {
		summary, err = rt.bot.Update(ctx)
	}
	if err != nil {
		rt.reportFailure(ctx, err)
		return formatter.Fail(ErrCodeUpdate, ExitFailure, "update failed", err, summary)
	}

	return formatter.Success(summary)
}

// NewUpdateOneCommand creates the update-one command.
func NewUpdateOneCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "update-one <id>",
		Short: "Fetch and store a single record",
		Long: `Fetch, validate and store the record for one identifier, ignoring the
registry's permitted hours.

Prints the stored record as one JSON object, or {"error": {...}} when the
update failed. Meant for callers outside the bot, so the output is JSON
whatever --format says.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runUpdateOne(rootOpts, args[0], cmd)
		},
	}
	return cmd
}

func runUpdateOne(opts *RootOptions, id string, cmd *cobra.Command) error {
	formatter := newFormatter(opts, cmd)
	// stdout is read by other programs
	formatter.Format = "json"

	ctx, stop := signalContext(cmd)
	defer stop()

	rt, err := openRuntime(ctx, opts, cmd.OutOrStdout())
	if err != nil {
		formatter.Error(ErrCodeConfig, err.Error(), nil)
		return err
	}
	defer rt.Close()

	if _, err := rt.bot.UpdateOne(ctx, id, bot.UpdateOptions{SuppressErrors: true}); err != nil {
		return formatter.Fail(ErrCodeUpdate, ExitFailure, "update failed", err, map[string]string{"uid": id})
	}
	return nil
}

// signalContext cancels on SIGINT/SIGTERM. Uses the command's context when
// set (tests), otherwise context.Background.
func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}
