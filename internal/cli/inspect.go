package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/roach88/botsync/internal/record"
	"github.com/roach88/botsync/internal/store"
)

// NewStaleCommand creates the stale command.
func NewStaleCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		limit int
		id    string
	)

	cmd := &cobra.Command{
		Use:   "stale",
		Short: "List identifiers due for a refresh",
		Long: `List identifiers the next update would fetch: never retrieved first,
then oldest retrieval first.

With --id, report whether that one identifier is stale.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(rootOpts, cmd, func(ctx context.Context, rt *runtime, f *OutputFormatter) error {
				if id != "" {
					stale, err := rt.bot.Tracker().IsStale(ctx, id)
					if err != nil {
						return storeFailure(f, err)
					}
					return f.Success(stale)
				}

				seq, err := rt.bot.Tracker().Stale(ctx, limit)
				if err != nil {
					return storeFailure(f, err)
				}
				ids := []string{}
				for id := range seq {
					ids = append(ids, id)
				}
				if f.Format == "json" {
					return f.Success(ids)
				}
				for _, id := range ids {
					fmt.Fprintln(f.Writer, id)
				}
				return nil
			})
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 0, "list at most this many identifiers")
	cmd.Flags().StringVar(&id, "id", "", "check a single identifier")
	return cmd
}

// NewExportCommand creates the export command.
func NewExportCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write every stored record as JSON lines",
		Long: `Write every stored record to stdout, one JSON object per line, with
structured fields decoded, null fields and the raw payload removed.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(rootOpts, cmd, func(ctx context.Context, rt *runtime, f *OutputFormatter) error {
				count := 0
				err := rt.bot.Export(ctx, func(r record.Record) error {
					data, err := record.MarshalJSON(r)
					if err != nil {
						return err
					}
					count++
					_, err = fmt.Fprintf(f.Writer, "%s\n", data)
					return err
				})
				if err != nil {
					return storeFailure(f, err)
				}
				f.VerboseLog("exported %d records", count)
				return nil
			})
		},
	}
	return cmd
}

// NewRawCommand creates the raw command.
func NewRawCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "raw <id>",
		Short:         "Print the archived raw payload for an identifier",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(rootOpts, cmd, func(ctx context.Context, rt *runtime, f *OutputFormatter) error {
				raw, err := rt.bot.RawPayload(ctx, args[0])
				if err != nil {
					return f.Fail(ErrCodeNotFound, ExitFailure, "raw payload unavailable", err, nil)
				}
				_, err = f.Writer.Write(raw)
				return err
			})
		},
	}
	return cmd
}

// NewReportsCommand creates the reports command.
func NewReportsCommand(rootOpts *RootOptions) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:           "reports",
		Short:         "Show recent update runs",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(rootOpts, cmd, func(ctx context.Context, rt *runtime, f *OutputFormatter) error {
				reports, err := rt.store.RunReports(ctx, rt.cfg.Name, limit)
				if err != nil {
					return storeFailure(f, err)
				}
				if f.Format == "json" {
					return f.Success(reports)
				}
				return writeReports(f.Writer, reports)
			})
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 10, "number of runs to show (0 for all)")
	return cmd
}

func writeReports(w io.Writer, reports []store.RunReport) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "RUN\tSTATUS\tUPDATED\tSTARTED\tOUTPUT")
	for _, r := range reports {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\n",
			r.RunID, r.Status, r.Updated, record.FormatTime(r.StartedAt), r.Output)
	}
	return tw.Flush()
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <record.json>",
		Short: "Check a record against the bot's schema",
		Long: `Check a JSON record against the bot's schema without storing it.
Use - to read the record from stdin.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(rootOpts, cmd, func(ctx context.Context, rt *runtime, f *OutputFormatter) error {
				r, err := readRecord(cmd, args[0])
				if err != nil {
					return f.Fail(ErrCodeGeneric, ExitCommandError, "failed to read record", err, nil)
				}

				violations, err := rt.bot.Validate(ctx, r)
				if err != nil {
					return f.Fail(ErrCodeGeneric, ExitCommandError, "validation error", err, nil)
				}
				if len(violations) > 0 {
					f.Error(ErrCodeInvalid, fmt.Sprintf("record invalid: %d violation(s)", len(violations)), violations)
					if f.Format != "json" {
						for _, v := range violations {
							fmt.Fprintf(f.Writer, "  %s: %s\n", v.FailedAttribute, v.Message)
						}
					}
					return NewExitError(ExitFailure, "record invalid")
				}
				return f.Success("record valid")
			})
		},
	}
	return cmd
}

func readRecord(cmd *cobra.Command, path string) (record.Record, error) {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(cmd.InOrStdin())
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, err
	}

	var r record.Record
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&r); err != nil {
		return nil, fmt.Errorf("parse record: %w", err)
	}
	return r, nil
}

// withRuntime opens the bot, runs fn and closes it again.
func withRuntime(opts *RootOptions, cmd *cobra.Command, fn func(context.Context, *runtime, *OutputFormatter) error) error {
	formatter := newFormatter(opts, cmd)

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	rt, err := openRuntime(ctx, opts, cmd.OutOrStdout())
	if err != nil {
		formatter.Error(ErrCodeConfig, err.Error(), nil)
		return err
	}
	defer rt.Close()

	return fn(ctx, rt, formatter)
}

func storeFailure(f *OutputFormatter, err error) error {
	return f.Fail(ErrCodeStore, ExitCommandError, "record store error", err, nil)
}
