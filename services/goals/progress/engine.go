// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package progress computes and caches percentage-complete values for
// every node of a mandala goal tree.
//
// # Description
//
// Progress is always derived bottom-up: a task contributes 100 or 0
// depending on its status, an action is the mean of its tasks, a
// sub-goal the mean of its 8 actions, a goal the mean of its 8
// sub-goals. The Engine memoizes computed values in a bounded,
// dependency-aware cache and keeps stored progress fields consistent by
// recomputing the ancestor chain whenever a task's status changes.
//
// # Failure Isolation
//
// Every entry point propagates errors to its caller except
// OnTaskStatusChanged, which logs and swallows them: it runs as a
// side effect of unrelated requests and must never fail them.
package progress

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/singleflight"

	"github.com/AleutianAI/mandala/services/goals/model"
	"github.com/AleutianAI/mandala/services/goals/storage"
)

// NodeProgress is one recomputed (entity, progress) pair.
type NodeProgress struct {
	ID       string  `json:"id"`
	Progress float64 `json:"progress"`
}

// Recalculation is the result of one bottom-up recalculation chain.
type Recalculation struct {
	Task    NodeProgress `json:"task"`
	Action  NodeProgress `json:"action"`
	SubGoal NodeProgress `json:"sub_goal"`
	Goal    NodeProgress `json:"goal"`
}

// computeFn produces a fresh value and its dependency set for one
// entity. Selected by EntityKind via the Engine's calculator table.
type computeFn func(ctx context.Context, id string) (value float64, deps []string, err error)

// Option configures an Engine.
type Option func(*Engine)

// WithCache replaces the engine's cache.
func WithCache(c *Cache) Option {
	return func(e *Engine) {
		if c != nil {
			e.cache = c
		}
	}
}

// WithLogger sets the logger used by the auto-update failure path.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// Engine owns the progress cache, the calculators, and the auto-update
// flag. Construct one per service process and share it; there is no
// package-level instance.
//
// Thread Safety: safe for concurrent use. Cache state is guarded by
// the cache's own mutex, and concurrent misses on one key are
// deduplicated with singleflight.
type Engine struct {
	store  storage.Store
	cache  *Cache
	logger *slog.Logger
	flight singleflight.Group

	autoUpdate atomic.Bool

	// calculators selects the computation for a cached entity kind.
	calculators map[EntityKind]computeFn
}

// NewEngine creates an Engine over the given store. Auto-update is
// enabled by default.
func NewEngine(store storage.Store, opts ...Option) *Engine {
	e := &Engine{
		store:  store,
		cache:  NewCache(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.calculators = map[EntityKind]computeFn{
		KindAction:  e.computeAction,
		KindSubGoal: e.computeSubGoal,
		KindGoal:    e.computeGoal,
	}
	e.autoUpdate.Store(true)
	return e
}

// TaskProgress returns a task's contribution: exactly 100 or 0. Task
// values are not cached; they are a single lookup with no fanout.
func (e *Engine) TaskProgress(ctx context.Context, taskID string) (float64, error) {
	task, err := e.store.GetTask(ctx, taskID)
	if err != nil {
		return 0, err
	}
	return TaskContribution(task), nil
}

// ActionProgress returns an action's progress, reading through the
// cache.
func (e *Engine) ActionProgress(ctx context.Context, actionID string) (float64, error) {
	return e.cachedProgress(ctx, KindAction, actionID)
}

// SubGoalProgress returns a sub-goal's progress, reading through the
// cache.
func (e *Engine) SubGoalProgress(ctx context.Context, subGoalID string) (float64, error) {
	return e.cachedProgress(ctx, KindSubGoal, subGoalID)
}

// GoalProgress returns a goal's progress, reading through the cache.
func (e *Engine) GoalProgress(ctx context.Context, goalID string) (float64, error) {
	return e.cachedProgress(ctx, KindGoal, goalID)
}

// cachedProgress is the read-through path shared by all cached kinds.
// Concurrent misses on one key run the calculator once.
func (e *Engine) cachedProgress(ctx context.Context, kind EntityKind, id string) (float64, error) {
	key := CacheKey(kind, id)
	if value, ok := e.cache.Get(key); ok {
		recordCacheHit(ctx, kind)
		return value, nil
	}
	recordCacheMiss(ctx, kind)

	compute := e.calculators[kind]
	result, err, _ := e.flight.Do(key, func() (interface{}, error) {
		value, deps, err := compute(ctx, id)
		if err != nil {
			return nil, err
		}
		e.cache.Put(key, value, deps)
		return value, nil
	})
	if err != nil {
		return 0, err
	}
	return result.(float64), nil
}

// computeAction derives an action's progress from its tasks. The
// dependency set is the action's own ID plus every task consulted.
func (e *Engine) computeAction(ctx context.Context, id string) (float64, []string, error) {
	action, err := e.store.GetAction(ctx, id)
	if err != nil {
		return 0, nil, err
	}
	deps := make([]string, 0, len(action.Tasks)+1)
	deps = append(deps, action.ID)
	for _, t := range action.Tasks {
		deps = append(deps, t.ID)
	}
	return ActionValue(action), deps, nil
}

// computeSubGoal derives a sub-goal's progress as the mean of its
// actions' progress, each read through the cache.
func (e *Engine) computeSubGoal(ctx context.Context, id string) (float64, []string, error) {
	subGoal, err := e.store.GetSubGoal(ctx, id)
	if err != nil {
		return 0, nil, err
	}
	deps := make([]string, 0, len(subGoal.Actions)+1)
	deps = append(deps, subGoal.ID)
	values := make([]float64, 0, len(subGoal.Actions))
	for _, a := range subGoal.Actions {
		value, err := e.ActionProgress(ctx, a.ID)
		if err != nil {
			return 0, nil, err
		}
		values = append(values, value)
		deps = append(deps, a.ID)
	}
	return Mean(values), deps, nil
}

// computeGoal derives a goal's progress as the mean of its sub-goals'
// progress, each read through the cache.
func (e *Engine) computeGoal(ctx context.Context, id string) (float64, []string, error) {
	goal, err := e.store.GetGoal(ctx, id)
	if err != nil {
		return 0, nil, err
	}
	deps := make([]string, 0, len(goal.SubGoals)+1)
	deps = append(deps, goal.ID)
	values := make([]float64, 0, len(goal.SubGoals))
	for _, sg := range goal.SubGoals {
		value, err := e.SubGoalProgress(ctx, sg.ID)
		if err != nil {
			return 0, nil, err
		}
		values = append(values, value)
		deps = append(deps, sg.ID)
	}
	return Mean(values), deps, nil
}

// RecalculateFromTask recomputes and persists the ancestor chain of a
// task, strictly bottom-up: action, then sub-goal, then goal. Each
// level is persisted before the next is computed, because each level
// reads its children's current stored values. A failure at any level
// aborts the remaining levels and surfaces to the caller.
//
// The touched cache entries are overwritten with the fresh values, so
// subsequent reads hit.
func (e *Engine) RecalculateFromTask(ctx context.Context, taskID string) (result *Recalculation, err error) {
	ctx, span := startSpan(ctx, "RecalculateFromTask",
		attribute.String("task.id", taskID),
	)
	defer span.End()

	start := time.Now()
	defer func() {
		recordRecalculation(ctx, time.Since(start), err != nil)
	}()

	// Resolve the chain root and seed the result.
	task, err := e.store.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}

	// Level 1: action, from its tasks.
	action, err := e.store.GetAction(ctx, task.ActionID)
	if err != nil {
		return nil, err
	}
	actionValue := ActionValue(action)
	if err = e.store.UpdateActionProgress(ctx, action.ID, actionValue); err != nil {
		return nil, err
	}
	e.refreshActionEntry(action, actionValue)

	// Level 2: sub-goal, from its actions' now-current stored values.
	subGoal, err := e.store.GetSubGoal(ctx, action.SubGoalID)
	if err != nil {
		return nil, err
	}
	subGoalValue := storedActionMean(subGoal)
	if err = e.store.UpdateSubGoalProgress(ctx, subGoal.ID, subGoalValue); err != nil {
		return nil, err
	}
	e.refreshSubGoalEntry(subGoal, subGoalValue)

	// Level 3: goal, from its sub-goals' now-current stored values.
	goal, err := e.store.GetGoal(ctx, subGoal.GoalID)
	if err != nil {
		return nil, err
	}
	goalValue := storedSubGoalMean(goal)
	if err = e.store.UpdateGoalProgress(ctx, goal.ID, goalValue); err != nil {
		return nil, err
	}
	e.refreshGoalEntry(goal, goalValue)

	span.SetAttributes(
		attribute.Float64("progress.action", actionValue),
		attribute.Float64("progress.goal", goalValue),
	)

	return &Recalculation{
		Task:    NodeProgress{ID: task.ID, Progress: TaskContribution(task)},
		Action:  NodeProgress{ID: action.ID, Progress: actionValue},
		SubGoal: NodeProgress{ID: subGoal.ID, Progress: subGoalValue},
		Goal:    NodeProgress{ID: goal.ID, Progress: goalValue},
	}, nil
}

// storedActionMean averages the stored progress of a sub-goal's
// actions. The orchestrator uses stored child values: by the time a
// level is computed, the level below it has already been persisted.
func storedActionMean(sg *model.SubGoal) float64 {
	values := make([]float64, 0, len(sg.Actions))
	for _, a := range sg.Actions {
		values = append(values, a.Progress)
	}
	return Mean(values)
}

// storedSubGoalMean averages the stored progress of a goal's sub-goals.
func storedSubGoalMean(g *model.Goal) float64 {
	values := make([]float64, 0, len(g.SubGoals))
	for _, sg := range g.SubGoals {
		values = append(values, sg.Progress)
	}
	return Mean(values)
}

// refreshActionEntry overwrites the cache entry for an action. The
// stale progress values inside the loaded structs are irrelevant; only
// IDs feed the dependency set.
func (e *Engine) refreshActionEntry(action *model.Action, value float64) {
	deps := make([]string, 0, len(action.Tasks)+1)
	deps = append(deps, action.ID)
	for _, t := range action.Tasks {
		deps = append(deps, t.ID)
	}
	e.cache.Put(CacheKey(KindAction, action.ID), value, deps)
}

func (e *Engine) refreshSubGoalEntry(subGoal *model.SubGoal, value float64) {
	deps := make([]string, 0, len(subGoal.Actions)+1)
	deps = append(deps, subGoal.ID)
	for _, a := range subGoal.Actions {
		deps = append(deps, a.ID)
	}
	e.cache.Put(CacheKey(KindSubGoal, subGoal.ID), value, deps)
}

func (e *Engine) refreshGoalEntry(goal *model.Goal, value float64) {
	deps := make([]string, 0, len(goal.SubGoals)+1)
	deps = append(deps, goal.ID)
	for _, sg := range goal.SubGoals {
		deps = append(deps, sg.ID)
	}
	e.cache.Put(CacheKey(KindGoal, goal.ID), value, deps)
}

// OnTaskStatusChanged reacts to a task status change by recalculating
// the ancestor chain. It never returns or raises an error: a
// recalculation failure is logged with the task identifier and
// swallowed, because this hook runs as a side effect of unrelated
// requests. This is the only silent failure point in the engine.
//
// A no-op while auto-update is disabled (bulk imports, migrations).
func (e *Engine) OnTaskStatusChanged(ctx context.Context, taskID string) {
	if !e.autoUpdate.Load() {
		return
	}
	if _, err := e.RecalculateFromTask(ctx, taskID); err != nil {
		e.logger.Error("progress recalculation failed",
			slog.String("task_id", taskID),
			slog.String("error", err.Error()),
		)
	}
}

// SetAutoUpdateEnabled toggles the auto-update hook. Disable during
// bulk imports where per-task recalculation would be wasteful.
func (e *Engine) SetAutoUpdateEnabled(enabled bool) {
	e.autoUpdate.Store(enabled)
}

// AutoUpdateEnabled reports whether the auto-update hook is active.
func (e *Engine) AutoUpdateEnabled() bool {
	return e.autoUpdate.Load()
}

// CacheStats returns a snapshot of the cache counters.
func (e *Engine) CacheStats() CacheStats {
	return e.cache.Stats()
}

// ClearCache empties the cache and resets its counters.
func (e *Engine) ClearCache() {
	e.cache.Clear()
}

// Cache exposes the underlying cache for audit and maintenance
// (dependency inspection, Optimize).
func (e *Engine) Cache() *Cache {
	return e.cache
}
