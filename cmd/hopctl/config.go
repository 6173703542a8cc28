package main

// Flag names for Viper binding
const (
	// Global flags
	FlagVerbose = "verbose"
	FlagConfig  = "config"
	FlagLogFile = "log-file"
	FlagWorkDir = "work-dir"

	// Start command flags
	FlagTUI       = "tui"
	FlagNodes     = "nodes"
	FlagNoConnect = "no-connect"

	// Fetch command flags
	FlagTimeout = "timeout"

	// Roster command flags
	FlagOutput = "output"

	// Events command flags
	FlagFollow = "follow"
	FlagCount  = "count"
)
