package main

import (
	"fmt"
	"io"
	"os"

	"github.com/google/logger"
	"github.com/spf13/cobra"
)

const programName = "giveaway"

var configFile string

// initLogger sets up the default google/logger instance, optionally teeing
// output to a file.
func initLogger(verbose bool, logFile string) (*logger.Logger, func(), error) {
	out := io.Discard
	closeFn := func() {}
	if logFile != "" {
		f, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
		if err != nil {
			return nil, nil, fmt.Errorf("open log file: %w", err)
		}
		out = f
		closeFn = func() { _ = f.Close() }
	}
	l := logger.Init(programName, verbose, false, out)
	return l, func() {
		l.Close()
		closeFn()
	}, nil
}

func main() {
	rootCmd := &cobra.Command{
		Use:           programName,
		Short:         "Token escrow giveaway service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "path to a YAML config file")

	rootCmd.AddCommand(serveCommand())
	rootCmd.AddCommand(tokenCommand())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
