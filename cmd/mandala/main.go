// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command mandala is the maintenance surface for the goal tree store:
// seeding demo data, recalculating progress chains, auditing and
// repairing stored values, and inspecting cache behavior.
//
// Usage:
//
//	mandala seed
//	mandala progress <goal-id>
//	mandala recalc <task-id>
//	mandala validate <goal-id>
//	mandala repair <goal-id>
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/mandala/pkg/logging"
	"github.com/AleutianAI/mandala/pkg/ux"
	"github.com/AleutianAI/mandala/pkg/validation"
	"github.com/AleutianAI/mandala/services/goals/config"
	"github.com/AleutianAI/mandala/services/goals/integrity"
	"github.com/AleutianAI/mandala/services/goals/model"
	"github.com/AleutianAI/mandala/services/goals/progress"
	"github.com/AleutianAI/mandala/services/goals/storage/badgerstore"
	"github.com/AleutianAI/mandala/services/goals/telemetry"
)

var (
	configPath string
	plainOut   bool

	rootCmd = &cobra.Command{
		Use:   "mandala",
		Short: "Maintenance CLI for the mandala goal tree",
		Long: `Mandala tracks goals as a fixed two-level tree: one goal, 8 sub-goals,
8 actions each, with tasks under every action. This CLI seeds demo
data, recalculates derived progress, and audits or repairs the store.`,
		SilenceUsage: true,
	}

	seedCmd = &cobra.Command{
		Use:   "seed",
		Short: "Create a demo 8x8 goal tree and print its identifiers",
		RunE:  runSeed,
	}

	progressCmd = &cobra.Command{
		Use:   "progress <goal-id>",
		Short: "Compute a goal's progress through the cache",
		Args:  cobra.ExactArgs(1),
		RunE:  runProgress,
	}

	recalcCmd = &cobra.Command{
		Use:   "recalc <task-id>",
		Short: "Recalculate the ancestor chain of a task and persist each level",
		Args:  cobra.ExactArgs(1),
		RunE:  runRecalc,
	}

	validateCmd = &cobra.Command{
		Use:   "validate <goal-id>",
		Short: "Audit a goal subtree for structural and value inconsistencies",
		Args:  cobra.ExactArgs(1),
		RunE:  runValidate,
	}

	repairCmd = &cobra.Command{
		Use:   "repair <goal-id>",
		Short: "Rewrite drifted stored progress values bottom-up",
		Args:  cobra.ExactArgs(1),
		RunE:  runRepair,
	}
)

func main() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to YAML config file")
	rootCmd.PersistentFlags().BoolVar(&plainOut, "plain", false, "disable styled output")
	rootCmd.PersistentPreRun = func(*cobra.Command, []string) {
		if plainOut {
			ux.SetPlain(true)
		}
	}
	rootCmd.AddCommand(seedCmd, progressCmd, recalcCmd, validateCmd, repairCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// app bundles the wired-up service pieces for one command invocation.
type app struct {
	cfg      config.Config
	logger   *logging.Logger
	store    *badgerstore.Store
	engine   *progress.Engine
	checker  *integrity.Checker
	shutdown func(context.Context) error
}

// newApp wires config, logging, telemetry, storage, and the engine.
func newApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	logger, err := logging.New(logging.Config{
		Level:   logging.ParseLevel(cfg.Logging.Level),
		LogDir:  cfg.Logging.Dir,
		Service: "mandala",
	})
	if err != nil {
		return nil, err
	}

	shutdown, err := telemetry.Init(ctx, cfg.Telemetry)
	if err != nil {
		return nil, fmt.Errorf("init telemetry: %w", err)
	}

	storeCfg := badgerstore.DefaultConfig()
	storeCfg.Path = cfg.Storage.Path
	storeCfg.InMemory = cfg.Storage.InMemory
	store, err := badgerstore.Open(storeCfg)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	var cacheOpts []progress.CacheOption
	if cfg.Cache.MaxEntries > 0 {
		cacheOpts = append(cacheOpts, progress.WithMaxEntries(cfg.Cache.MaxEntries))
	}
	engine := progress.NewEngine(store,
		progress.WithCache(progress.NewCache(cacheOpts...)),
		progress.WithLogger(logger.Slog()),
	)

	return &app{
		cfg:      cfg,
		logger:   logger,
		store:    store,
		engine:   engine,
		checker:  integrity.NewChecker(store, logger.Slog()),
		shutdown: shutdown,
	}, nil
}

func (a *app) close(ctx context.Context) {
	if err := a.store.Close(); err != nil {
		a.logger.Error("close store", "error", err)
	}
	if err := a.shutdown(ctx); err != nil {
		a.logger.Error("shutdown telemetry", "error", err)
	}
	_ = a.logger.Close()
}

func runSeed(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.close(ctx)

	goal := &model.Goal{ID: model.NewID(), Title: "Demo goal"}
	if err := a.store.CreateGoal(ctx, goal); err != nil {
		return err
	}

	var firstTask string
	for i := 0; i < model.SubGoalsPerGoal; i++ {
		sg := &model.SubGoal{
			ID:     model.NewID(),
			GoalID: goal.ID,
			Title:  fmt.Sprintf("Sub-goal %d", i+1),
		}
		if err := a.store.CreateSubGoal(ctx, sg); err != nil {
			return err
		}
		for j := 0; j < model.ActionsPerSubGoal; j++ {
			action := &model.Action{
				ID:        model.NewID(),
				SubGoalID: sg.ID,
				Title:     fmt.Sprintf("Action %d.%d", i+1, j+1),
				Type:      model.ActionExecution,
			}
			if err := a.store.CreateAction(ctx, action); err != nil {
				return err
			}
			task := &model.Task{
				ID:       model.NewID(),
				ActionID: action.ID,
				Title:    fmt.Sprintf("Task %d.%d.1", i+1, j+1),
				Status:   model.TaskNotStarted,
			}
			if err := a.store.CreateTask(ctx, task); err != nil {
				return err
			}
			if firstTask == "" {
				firstTask = task.ID
			}
		}
	}

	ux.Success("seeded demo goal tree")
	fmt.Printf("goal:  %s\n", goal.ID)
	fmt.Printf("task:  %s (first task, for recalc)\n", firstTask)
	return nil
}

func runProgress(cmd *cobra.Command, args []string) error {
	if err := validation.ValidateID(args[0]); err != nil {
		return err
	}
	ctx := cmd.Context()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.close(ctx)

	value, err := a.engine.GoalProgress(ctx, args[0])
	if err != nil {
		return err
	}
	fmt.Printf("goal %s %s\n", args[0], ux.ProgressBar(value, 20))
	printCacheStats(a.engine.CacheStats())
	return nil
}

func runRecalc(cmd *cobra.Command, args []string) error {
	if err := validation.ValidateID(args[0]); err != nil {
		return err
	}
	ctx := cmd.Context()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.close(ctx)

	result, err := a.engine.RecalculateFromTask(ctx, args[0])
	if err != nil {
		return err
	}
	fmt.Printf("task     %s  %.2f%%\n", result.Task.ID, result.Task.Progress)
	fmt.Printf("action   %s  %.2f%%\n", result.Action.ID, result.Action.Progress)
	fmt.Printf("sub-goal %s  %.2f%%\n", result.SubGoal.ID, result.SubGoal.Progress)
	fmt.Printf("goal     %s  %.2f%%\n", result.Goal.ID, result.Goal.Progress)
	return nil
}

func runValidate(cmd *cobra.Command, args []string) error {
	if err := validation.ValidateID(args[0]); err != nil {
		return err
	}
	ctx := cmd.Context()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.close(ctx)

	report, err := a.checker.Validate(ctx, args[0])
	if err != nil {
		return err
	}
	if report.IsValid {
		ux.Success("no inconsistencies found")
		return nil
	}
	ux.Warning(fmt.Sprintf("%d finding(s)", len(report.Errors)))
	for _, e := range report.Errors {
		ux.Info(e)
	}
	return nil
}

func runRepair(cmd *cobra.Command, args []string) error {
	if err := validation.ValidateID(args[0]); err != nil {
		return err
	}
	ctx := cmd.Context()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.close(ctx)

	result, err := a.checker.Repair(ctx, args[0])
	if err != nil {
		return err
	}
	if !result.Repaired {
		ux.Success("nothing to repair")
		return nil
	}
	ux.Success(fmt.Sprintf("repaired %d item(s)", len(result.RepairedItems)))
	for _, item := range result.RepairedItems {
		ux.Info(item)
	}
	return nil
}

func printCacheStats(stats progress.CacheStats) {
	fmt.Printf("cache: size=%d requests=%d hits=%d misses=%d hit-rate=%.2f%%\n",
		stats.Size, stats.TotalRequests, stats.Hits, stats.Misses, stats.HitRate)
}
