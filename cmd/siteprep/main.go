// Copyright (c) 2025 Sudo-Ivan
// Licensed under the MIT License

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var (
	configPath string
	noColor    bool
	verbose    bool
	jsonLogs   bool
	traceSQL   bool

	rootCmd = &cobra.Command{
		Use:   "siteprep",
		Short: "Prepare project GIS data from ArcGIS services",
		Long: `siteprep creates a project's study area from a street address and
extracts every reference layer listed for the project type into a local
project database, clipped or filtered to the study area.`,
		SilenceUsage: true,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file path")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log debug messages")
	rootCmd.PersistentFlags().BoolVar(&jsonLogs, "json-logs", false, "log as JSON")
	rootCmd.PersistentFlags().BoolVar(&traceSQL, "trace-sql", false, "log every database statement")
	_ = rootCmd.PersistentFlags().MarkHidden("trace-sql")
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
