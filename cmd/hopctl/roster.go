package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/npratt/hopctl/internal/directory"
	"github.com/npratt/hopctl/internal/exec"
	"github.com/npratt/hopctl/internal/roster"
)

func newRosterCmd(logger *slog.Logger, logLevel *slog.LevelVar) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "roster",
		Short: "Query the directory and print the relay roster",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, logger, logLevel)
			if err != nil {
				return err
			}

			q, err := directory.NewQuery(cfg)
			if err != nil {
				return err
			}

			logger.Debug("querying directory", "command", q.String())
			return runRoster(cmd.Context(), q, &exec.ExecRunner{Dir: q.Dir()},
				cmd.OutOrStdout(), viper.GetString(FlagOutput), time.Now())
		},
	}

	cmd.Flags().StringP(FlagOutput, "o", roster.FormatText, "Output format (text, json, yaml)")
	bindFlags(cmd.Flags())

	return cmd
}

// runRoster asks the directory once and writes the roster it reports.
func runRoster(ctx context.Context, q *directory.Query, r exec.CommandRunner, w io.Writer, format string, now time.Time) error {
	addrs, err := q.Lookup(ctx, r)
	if err != nil {
		return fmt.Errorf("directory: %w", err)
	}
	return roster.Write(w, roster.Seed(addrs, now), format, now)
}
