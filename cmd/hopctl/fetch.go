package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/npratt/hopctl/internal/controller"
	"github.com/npratt/hopctl/internal/events"
	"github.com/npratt/hopctl/internal/runner"
)

// fetcher is the part of the controller a one-shot fetch needs.
type fetcher interface {
	StartProxy() error
	Load(resource string) (string, error)
	Snapshot() controller.Snapshot
	Updates() <-chan struct{}
	Done() <-chan struct{}
}

func newFetchCmd(logger *slog.Logger, logLevel *slog.LevelVar) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fetch <resource>",
		Short: "Connect, fetch one resource, and print it",
		Long: `Connect to the relay network, fetch a single resource through the
client, print the response body to stdout, and shut the network down.

The first failed connection attempt ends the command.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, logger, logLevel)
			if err != nil {
				return err
			}

			router := events.NewRouter(events.DefaultBufferSize)
			defer router.Close()
			router.SetLogger(logger)

			ctrl, err := controller.New(cfg, runner.NewExecProcessRunner(), router, logger)
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), viper.GetDuration(FlagTimeout))
			defer cancel()

			runDone := make(chan error, 1)
			go func() {
				runDone <- ctrl.Run(cmd.Context())
			}()

			fetchErr := fetchResource(ctx, ctrl, args[0], cmd.OutOrStdout())

			ctrl.Stop()
			if err := <-runDone; err != nil {
				logger.Warn("controller stopped with error", "error", err)
			}
			return fetchErr
		},
	}

	cmd.Flags().Int(FlagNodes, 0, "Number of relays to launch (default: relay.count)")
	cmd.Flags().Duration(FlagTimeout, time.Minute, "Give up after this long")
	bindFlags(cmd.Flags())

	return cmd
}

// fetchResource connects, loads resource, and writes the page body to w.
func fetchResource(ctx context.Context, f fetcher, resource string, w io.Writer) error {
	if err := f.StartProxy(); err != nil && !errors.Is(err, controller.ErrAlreadyConnected) {
		return fmt.Errorf("connect: %w", err)
	}

	_, err := waitFor(ctx, f, func(s controller.Snapshot) (bool, error) {
		switch {
		case s.Connected():
			return true, nil
		case s.State == controller.StateNotConnected && s.Failures > 0:
			return false, fmt.Errorf("connect: %s", s.LastFailure)
		}
		return false, nil
	})
	if err != nil {
		return err
	}

	url, err := f.Load(resource)
	if err != nil {
		return fmt.Errorf("load %s: %w", resource, err)
	}

	s, err := waitFor(ctx, f, func(s controller.Snapshot) (bool, error) {
		switch {
		case !s.Connected():
			return false, fmt.Errorf("load %s: connection lost: %s", url, s.LastFailure)
		case s.Loading != "":
			return false, nil
		case s.LoadError != "":
			return false, fmt.Errorf("load %s: %s", url, s.LoadError)
		}
		return s.Page != nil && s.Page.URL == url, nil
	})
	if err != nil {
		return err
	}

	content := s.Page.Content
	if !strings.HasSuffix(content, "\n") {
		content += "\n"
	}
	_, err = io.WriteString(w, content)
	return err
}

// waitFor re-checks cond on every published snapshot until it reports done
// or fails.
func waitFor(ctx context.Context, f fetcher, cond func(controller.Snapshot) (bool, error)) (controller.Snapshot, error) {
	for {
		s := f.Snapshot()
		done, err := cond(s)
		if err != nil || done {
			return s, err
		}

		select {
		case <-f.Updates():
		case <-f.Done():
			return s, controller.ErrStopped
		case <-ctx.Done():
			return s, fmt.Errorf("%s: %w", s.Message, ctx.Err())
		}
	}
}
