package main

import (
	"log/slog"

	"github.com/spf13/cobra"

	"dartas/internal/slogutil"
	"dartas/internal/version"
)

var (
	sdkFlag         string
	formatFlag      string
	verbosity       int
	quietFlag       bool
	metricsAddrFlag string
)

var rootCmd = &cobra.Command{
	Use:   "dartas",
	Short: "dartas - Dart analysis server client",
	Long: `dartas drives the Dart analysis server over stdio: it tracks analysis roots
for the files you touch and exposes diagnostics, hover, navigation and
completion from the command line.`,
	Version:       version.Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.SetVersionTemplate("dartas version {{.Version}}\n")

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&sdkFlag, "sdk", "", "Dart SDK root (overrides sdkPath and DARTAS_SDK_PATH)")
	flags.StringVar(&formatFlag, "format", string(FormatHuman), "Output format (json, human)")
	flags.CountVarP(&verbosity, "verbose", "v", "Increase log verbosity (-v info, -vv debug)")
	flags.BoolVarP(&quietFlag, "quiet", "q", false, "Suppress all logs")
	flags.StringVar(&metricsAddrFlag, "metrics-addr", "", "Serve Prometheus metrics on this address")
}

// levelOverride returns the log level chosen on the command line, or nil
// when the configured level applies.
func levelOverride() *slog.Level {
	if verbosity == 0 && !quietFlag {
		return nil
	}
	level := slogutil.LevelFromVerbosity(verbosity, quietFlag)
	return &level
}
