// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"fmt"
	"os"

	badger "github.com/dgraph-io/badger/v4"
	_ "github.com/go-sql-driver/mysql"
	"github.com/spf13/cobra"
	_ "modernc.org/sqlite"

	"github.com/AleutianAI/AleutianDQ/cmd/dq/config"
	"github.com/AleutianAI/AleutianDQ/pkg/logging"
	"github.com/AleutianAI/AleutianDQ/services/history"
	"github.com/AleutianAI/AleutianDQ/services/quality/detect"
	"github.com/AleutianAI/AleutianDQ/services/quality/metrics"
	"github.com/AleutianAI/AleutianDQ/services/quality/remediate"
	"github.com/AleutianAI/AleutianDQ/services/quality/treat"
	"github.com/AleutianAI/AleutianDQ/services/rules"
	"github.com/AleutianAI/AleutianDQ/services/warehouse"
)

// --- Global Command Variables ---
var (
	configPath    string
	outputJSON    bool
	outputCompact bool
	outputQuiet   bool
	actorName     string

	rootCmd = &cobra.Command{
		Use:   "dq",
		Short: "A cli to detect, treat, and remediate data-quality issues",
		Long: `dq runs detection rules against a tabular record store, suggests
fixes for what it finds, applies them with full before/after patches
and rollback, and scores the store across five quality dimensions.`,
		SilenceUsage: true,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to dq.yaml (default ~/.aleutian_dq/dq.yaml)")
	rootCmd.PersistentFlags().BoolVar(&outputJSON, "json", false, "Output as JSON")
	rootCmd.PersistentFlags().BoolVar(&outputCompact, "compact", false, "Compact JSON output")
	rootCmd.PersistentFlags().BoolVarP(&outputQuiet, "quiet", "q", false, "Suppress output, exit code only")
	rootCmd.PersistentFlags().StringVar(&actorName, "actor", defaultActor(), "Actor recorded in the audit trail")

	rootCmd.AddCommand(detectCmd)
	rootCmd.AddCommand(suggestCmd)
	rootCmd.AddCommand(applyCmd)
	rootCmd.AddCommand(rollbackCmd)
	rootCmd.AddCommand(escalateCmd)
	rootCmd.AddCommand(metricsCmd)
	rootCmd.AddCommand(rulesCmd)
	rootCmd.AddCommand(issuesCmd)
	rootCmd.AddCommand(auditCmd)
}

func defaultActor() string {
	if u := os.Getenv("USER"); u != "" {
		return u
	}
	return "operator"
}

func outputConfig() OutputConfig {
	return OutputConfig{JSON: outputJSON, Compact: outputCompact, Quiet: outputQuiet}
}

// app holds the wired components a command needs. Commands build it,
// use it, and close it before exiting.
type app struct {
	cfg        config.DQConfig
	logger     *logging.Logger
	warehouse  *warehouse.Accessor
	db         *badger.DB
	history    *history.Store
	rules      *rules.Store
	detector   *detect.Detector
	advisor    *treat.Advisor
	applier    *remediate.Applier
	aggregator *metrics.Aggregator
}

// newApp loads the configuration and connects every component.
func newApp() (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	logger, err := logging.New(cfg.Logging.Logging("dq"))
	if err != nil {
		return nil, err
	}

	accessor, err := warehouse.Open(cfg.Warehouse)
	if err != nil {
		logger.Close()
		return nil, err
	}

	db, err := history.Open(cfg.History)
	if err != nil {
		accessor.Close()
		logger.Close()
		return nil, err
	}
	hist := history.NewStore(db)
	ruleStore := rules.NewStore(db, hist)
	detector := detect.New(accessor, ruleStore, hist, logger, cfg.Detect)
	advisor, err := treat.New(ruleStore, hist, logger)
	if err != nil {
		db.Close()
		accessor.Close()
		logger.Close()
		return nil, err
	}

	return &app{
		cfg:        cfg,
		logger:     logger,
		warehouse:  accessor,
		db:         db,
		history:    hist,
		rules:      ruleStore,
		detector:   detector,
		advisor:    advisor,
		applier:    remediate.New(accessor, hist, detector, logger),
		aggregator: metrics.New(accessor, hist, logger, cfg.Metrics),
	}, nil
}

// Close releases every handle. Safe to call once.
func (a *app) Close() {
	if a.db != nil {
		a.db.Close()
	}
	if a.warehouse != nil {
		a.warehouse.Close()
	}
	if a.logger != nil {
		a.logger.Close()
	}
}

// withApp wires the app, runs fn, and exits with its code.
func withApp(fn func(a *app) int) {
	a, err := newApp()
	if err != nil {
		OutputError(outputJSON, "Startup failed", err)
		os.Exit(CLIExitError)
	}
	code := fn(a)
	a.Close()
	os.Exit(code)
}

func humanf(format string, args ...any) {
	if outputJSON || outputQuiet {
		return
	}
	fmt.Printf(format, args...)
}
