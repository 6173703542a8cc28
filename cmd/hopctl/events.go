package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/npratt/hopctl/internal/events"
)

// followPoll is how often tailFollow checks for new lines.
var followPoll = 100 * time.Millisecond

func newEventsCmd(logger *slog.Logger, logLevel *slog.LevelVar) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "events",
		Short: "View recent events",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, logger, logLevel)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if viper.GetBool(FlagFollow) {
				return tailFollow(cmd.Context(), cfg.Paths.Log, out)
			}
			return tailLast(cfg.Paths.Log, viper.GetInt(FlagCount), out)
		},
	}

	cmd.Flags().BoolP(FlagFollow, "f", false, "Follow event stream (like tail -f)")
	cmd.Flags().IntP(FlagCount, "n", 20, "Number of recent events to show")
	bindFlags(cmd.Flags())

	return cmd
}

// tailLast writes the last n events from the log file.
func tailLast(path string, n int, w io.Writer) error {
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintln(w, "No events yet (log file does not exist)")
			return nil
		}
		return fmt.Errorf("open log file: %w", err)
	}
	defer func() { _ = file.Close() }()

	// Keep a ring of the last n lines
	var lines []string
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
		if n > 0 && len(lines) > n {
			lines = lines[1:]
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read log file: %w", err)
	}

	if len(lines) == 0 {
		fmt.Fprintln(w, "No events yet")
		return nil
	}

	for _, line := range lines {
		printEventLine(w, line)
	}
	return nil
}

// waitForFile waits for a file to be created and returns the opened file.
func waitForFile(ctx context.Context, path string) (*os.File, error) {
	ticker := time.NewTicker(followPoll)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
			file, err := os.Open(path)
			if err == nil {
				return file, nil
			}
			if !errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("open file: %w", err)
			}
		}
	}
}

// tailFollow writes events appended to the log file until ctx ends.
func tailFollow(ctx context.Context, path string, w io.Writer) error {
	file, err := os.Open(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		fmt.Fprintln(w, "Waiting for log file to be created...")
		if file, err = waitForFile(ctx, path); err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}
	case err != nil:
		return fmt.Errorf("open log file: %w", err)
	default:
		if _, err := file.Seek(0, io.SeekEnd); err != nil {
			_ = file.Close()
			return fmt.Errorf("seek to end: %w", err)
		}
	}
	defer func() { _ = file.Close() }()

	fmt.Fprintln(w, "Following events (Ctrl+C to stop)...")
	reader := bufio.NewReader(file)
	var partial string
	for {
		line, err := reader.ReadString('\n')
		if err == nil {
			printEventLine(w, strings.TrimSuffix(partial+line, "\n"))
			partial = ""
			continue
		}
		if !errors.Is(err, io.EOF) {
			return fmt.Errorf("read log: %w", err)
		}
		// Hold an unterminated line until the rest is written
		partial += line

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(followPoll):
		}
	}
}

// printEventLine writes one log line in a human-readable form. Lines that
// are not known events are written as-is.
func printEventLine(w io.Writer, line string) {
	if strings.TrimSpace(line) == "" {
		return
	}
	event, err := events.ParseEvent([]byte(line))
	if err != nil || event == nil {
		fmt.Fprintln(w, line)
		return
	}
	fmt.Fprintln(w, events.FormatWithTimestamp(event))
}
