// Copyright (C) 2025 Cairn Health (oss@cairnhealth.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/cairnhealth/cairn/pkg/logging"
	"github.com/cairnhealth/cairn/services/orchestrator"
	"github.com/spf13/cobra"
)

// version is overridden at build time via -ldflags.
var version = "dev"

var (
	flagConfig  string
	flagVerbose bool
)

var rootCmd = &cobra.Command{
	Use:   "cairn",
	Short: "Cairn is a conversational interface to your health data",
	Long: `Cairn runs a local orchestrator that lets an LLM answer questions
about your health observations, with tooling for read-only queries,
plots, tables and dashboard thumbnails.`,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the orchestrator server",
	RunE: func(cmd *cobra.Command, args []string) error {
		level := logging.LevelInfo
		if flagVerbose {
			level = logging.LevelDebug
		}
		logger := logging.New(logging.Config{
			Level:   level,
			Service: "orchestrator",
			LogDir:  os.Getenv("CAIRN_LOG_DIR"),
		})
		defer logger.Close()
		slog.SetDefault(logger.Slog())

		cfg := orchestrator.ConfigFromEnv()
		if flagConfig != "" {
			if err := orchestrator.LoadConfigFile(flagConfig, &cfg); err != nil {
				return err
			}
		}

		svc, err := orchestrator.New(cfg)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return svc.Run(ctx)
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the cairn version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("cairn", version)
	},
}

func init() {
	serveCmd.Flags().StringVarP(&flagConfig, "config", "c", "", "path to a YAML config file")
	serveCmd.Flags().BoolVarP(&flagVerbose, "verbose", "v", false, "enable debug logging")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
