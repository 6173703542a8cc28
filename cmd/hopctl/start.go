package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/term"

	"github.com/npratt/hopctl/internal/controller"
	"github.com/npratt/hopctl/internal/events"
	"github.com/npratt/hopctl/internal/runner"
	"github.com/npratt/hopctl/internal/shutdown"
	"github.com/npratt/hopctl/internal/tui"
)

const shutdownTimeout = 10 * time.Second

// tuiEventBuffer is large so a busy network never blocks the activity pane.
const tuiEventBuffer = 5000

func newStartCmd(logger *slog.Logger, logLevel *slog.LevelVar) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start the relay network",
		Long: `Start the controller and connect to the relay network.

With a terminal attached this opens the interactive browser view. Without
one, or with --tui=false, the controller runs headless until interrupted.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, logger, logLevel)
			if err != nil {
				return err
			}

			// Explicit flag wins over TTY auto-detection
			tuiEnabled := viper.GetBool(FlagTUI)
			if !cmd.Flags().Changed(FlagTUI) {
				tuiEnabled = term.IsTerminal(int(os.Stdout.Fd()))
			}
			connect := !viper.GetBool(FlagNoConnect)

			logger.Info("hopctl starting",
				"version", version,
				"log_file", cfg.Paths.Log,
				"nodes", cfg.Relay.Count,
				"tui", tuiEnabled,
			)

			ctx := cmd.Context()
			router := events.NewRouter(events.DefaultBufferSize)
			sinkCtx, sinkCancel := context.WithCancel(ctx)

			logSink := events.NewLogSink(cfg.Paths.Log, logger, events.WithMaxBackups(cfg.LogRotation.MaxBackups))
			if err := logSink.Start(sinkCtx, router.Subscribe()); err != nil {
				sinkCancel()
				router.Close()
				return fmt.Errorf("start log sink: %w", err)
			}
			defer func() {
				sinkCancel()
				router.Close()
				_ = logSink.Stop()
			}()

			// TUI mode: redirect logs to a file before anything else logs
			ctrlLogger := logger
			if tuiEnabled {
				tuiLog, err := SetupTUILogger(cfg.Paths.DebugLog, logLevel, cfg.LogRotation)
				if err != nil {
					return err
				}
				defer func() { _ = tuiLog.Close() }()
				ctrlLogger = tuiLog.Logger
				slog.SetDefault(ctrlLogger)
			}
			router.SetLogger(ctrlLogger)

			ctrl, err := controller.New(cfg, runner.NewExecProcessRunner(), router, ctrlLogger)
			if err != nil {
				return err
			}

			autoConnect := func() {
				if !connect {
					return
				}
				if err := ctrl.StartProxy(); err != nil {
					ctrlLogger.Warn("initial connect failed", "error", err)
				}
			}

			if tuiEnabled {
				// Status lines reach the TUI through snapshots
				tuiEvents := router.SubscribeExcept(tuiEventBuffer, events.EventStatus)
				defer router.Unsubscribe(tuiEvents)

				app := tui.New(ctrl,
					tui.WithEvents(tuiEvents),
					tui.WithOnQuit(ctrl.Stop),
				)

				ctrlDone := make(chan error, 1)
				go func() {
					ctrlDone <- ctrl.Run(ctx)
				}()
				go autoConnect()

				tuiErr := app.Run()

				ctrl.Stop()
				if err := <-ctrlDone; err != nil {
					return err
				}
				return tuiErr
			}

			return shutdown.RunWithGracefulShutdown(ctx, logger, shutdownTimeout,
				func(runCtx context.Context) error {
					go autoConnect()
					return ctrl.Run(runCtx)
				},
				func(context.Context) error {
					ctrl.Stop()
					return nil
				},
			)
		},
	}

	cmd.Flags().Bool(FlagTUI, false, "Enable terminal UI (default: auto-detect)")
	cmd.Flags().Int(FlagNodes, 0, "Number of relays to launch (default: relay.count)")
	cmd.Flags().Bool(FlagNoConnect, false, "Do not connect on startup")
	bindFlags(cmd.Flags())

	return cmd
}
