package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/npratt/hopctl/internal/config"
)

var version = "dev"

// bindFlags binds every flag in fs to viper under its own name.
func bindFlags(fs *pflag.FlagSet) {
	fs.VisitAll(func(f *pflag.Flag) {
		_ = viper.BindPFlag(f.Name, f)
	})
}

// loadConfig loads configuration and applies the flags the user set
// explicitly on cmd.
func loadConfig(cmd *cobra.Command, logger *slog.Logger, logLevel *slog.LevelVar) (*config.Config, error) {
	if viper.GetBool(FlagVerbose) {
		logLevel.Set(slog.LevelDebug)
		logger.Debug("verbose logging enabled")
	}

	cfg, files, err := config.LoadConfigFiles(viper.GetViper())
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logger.Debug("config loaded", "files", files)

	flags := cmd.Flags()
	if flags.Changed(FlagLogFile) {
		cfg.Paths.Log = viper.GetString(FlagLogFile)
	}
	if flags.Changed(FlagWorkDir) {
		cfg.WorkDir = viper.GetString(FlagWorkDir)
	}
	// --nodes exists on several commands, so read it from cmd, not viper.
	if flags.Changed(FlagNodes) {
		cfg.Relay.Count, _ = flags.GetInt(FlagNodes)
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("invalid flags: %w", err)
		}
	}
	return cfg, nil
}

func main() {
	logLevel := &slog.LevelVar{}
	logger := newLogger(os.Stderr, logLevel)

	viper.SetEnvPrefix("HOPCTL")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	rootCmd := &cobra.Command{
		Use:   "hopctl",
		Short: "Bootstrap and watch a local relay network",
		Long: `hopctl launches a small relay network from the roster a directory
service reports, keeps it healthy, and fetches resources through it.

Connection failures are retried with exponential backoff. Every state
change is written to a JSONL event log that "hopctl events" can tail.`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().Bool(FlagVerbose, false, "Enable verbose (debug) logging")
	rootCmd.PersistentFlags().String(FlagConfig, "", "Config file path (default: .hopctl/config.yaml)")
	rootCmd.PersistentFlags().String(FlagLogFile, "", "Event log path")
	rootCmd.PersistentFlags().String(FlagWorkDir, "", "Working directory for spawned processes")
	bindFlags(rootCmd.PersistentFlags())

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "hopctl %s\n", version)
		},
	}

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(newStartCmd(logger, logLevel))
	rootCmd.AddCommand(newFetchCmd(logger, logLevel))
	rootCmd.AddCommand(newRosterCmd(logger, logLevel))
	rootCmd.AddCommand(newEventsCmd(logger, logLevel))

	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		logger.Error("command failed", "error", err)
		os.Exit(1)
	}
}
