// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package progress_test

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/mandala/services/goals/model"
	"github.com/AleutianAI/mandala/services/goals/progress"
	"github.com/AleutianAI/mandala/services/goals/storage"
	"github.com/AleutianAI/mandala/services/goals/storage/badgerstore"
)

// tree holds the identifiers of a seeded 8x8 goal tree.
type tree struct {
	goalID     string
	subGoalIDs [8]string
	actionIDs  [8][8]string
}

// seedTree creates a well-formed goal with 8 sub-goals and 8 actions
// each, no tasks.
func seedTree(t *testing.T, store storage.Store) *tree {
	t.Helper()
	ctx := context.Background()

	tr := &tree{goalID: model.NewID()}
	require.NoError(t, store.CreateGoal(ctx, &model.Goal{ID: tr.goalID, Title: "goal"}))

	for i := 0; i < model.SubGoalsPerGoal; i++ {
		tr.subGoalIDs[i] = model.NewID()
		require.NoError(t, store.CreateSubGoal(ctx, &model.SubGoal{
			ID:     tr.subGoalIDs[i],
			GoalID: tr.goalID,
		}))
		for j := 0; j < model.ActionsPerSubGoal; j++ {
			tr.actionIDs[i][j] = model.NewID()
			require.NoError(t, store.CreateAction(ctx, &model.Action{
				ID:        tr.actionIDs[i][j],
				SubGoalID: tr.subGoalIDs[i],
				Type:      model.ActionExecution,
			}))
		}
	}
	return tr
}

// addTasks creates one task per status under the given action and
// returns their IDs.
func addTasks(t *testing.T, store storage.Store, actionID string, statuses ...model.TaskStatus) []string {
	t.Helper()
	ctx := context.Background()

	ids := make([]string, len(statuses))
	for i, status := range statuses {
		ids[i] = model.NewID()
		require.NoError(t, store.CreateTask(ctx, &model.Task{
			ID:       ids[i],
			ActionID: actionID,
			Status:   status,
		}))
	}
	return ids
}

func newTestStore(t *testing.T) *badgerstore.Store {
	t.Helper()
	store, err := badgerstore.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestEngine_TaskProgress(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	tr := seedTree(t, store)
	engine := progress.NewEngine(store)

	taskIDs := addTasks(t, store, tr.actionIDs[0][0],
		model.TaskCompleted, model.TaskInProgress, model.TaskNotStarted)

	completed, err := engine.TaskProgress(ctx, taskIDs[0])
	require.NoError(t, err)
	assert.Equal(t, 100.0, completed)

	inProgress, err := engine.TaskProgress(ctx, taskIDs[1])
	require.NoError(t, err)
	assert.Equal(t, 0.0, inProgress)

	notStarted, err := engine.TaskProgress(ctx, taskIDs[2])
	require.NoError(t, err)
	assert.Equal(t, 0.0, notStarted)

	_, err = engine.TaskProgress(ctx, "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestEngine_ActionProgress(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	tr := seedTree(t, store)
	engine := progress.NewEngine(store)

	actionID := tr.actionIDs[0][0]
	taskIDs := addTasks(t, store, actionID,
		model.TaskCompleted, model.TaskCompleted, model.TaskCompleted, model.TaskNotStarted)

	value, err := engine.ActionProgress(ctx, actionID)
	require.NoError(t, err)
	assert.Equal(t, 75.0, value)

	// Second read hits the cache.
	value, err = engine.ActionProgress(ctx, actionID)
	require.NoError(t, err)
	assert.Equal(t, 75.0, value)

	stats := engine.CacheStats()
	assert.Equal(t, int64(2), stats.TotalRequests)
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)

	// The dependency set records the action and every consulted task.
	deps, ok := engine.Cache().Dependencies(progress.CacheKey(progress.KindAction, actionID))
	require.True(t, ok)
	assert.Len(t, deps, len(taskIDs)+1)
	assert.Contains(t, deps, actionID)
	for _, id := range taskIDs {
		assert.Contains(t, deps, id)
	}

	_, err = engine.ActionProgress(ctx, "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestEngine_SubGoalProgress(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	tr := seedTree(t, store)
	engine := progress.NewEngine(store)

	// Make the first sub-goal's actions compute to 100 and 50; the
	// remaining six have no tasks and compute to 0.
	addTasks(t, store, tr.actionIDs[0][0], model.TaskCompleted)
	addTasks(t, store, tr.actionIDs[0][1], model.TaskCompleted, model.TaskNotStarted)

	value, err := engine.SubGoalProgress(ctx, tr.subGoalIDs[0])
	require.NoError(t, err)
	assert.Equal(t, 18.75, value) // (100+50)/8

	// The sub-goal read primed the per-action entries too.
	assert.Equal(t, 9, engine.Cache().Len()) // 8 actions + 1 sub-goal

	_, err = engine.SubGoalProgress(ctx, "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestEngine_GoalProgress(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	tr := seedTree(t, store)
	engine := progress.NewEngine(store)

	// Every action of the first sub-goal fully complete; the rest empty.
	for j := 0; j < model.ActionsPerSubGoal; j++ {
		addTasks(t, store, tr.actionIDs[0][j], model.TaskCompleted)
	}

	value, err := engine.GoalProgress(ctx, tr.goalID)
	require.NoError(t, err)
	assert.Equal(t, 12.5, value) // one sub-goal at 100 of eight

	_, err = engine.GoalProgress(ctx, "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestEngine_RecalculateFromTask(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	tr := seedTree(t, store)
	engine := progress.NewEngine(store)

	actionID := tr.actionIDs[0][0]
	taskIDs := addTasks(t, store, actionID,
		model.TaskCompleted, model.TaskNotStarted)

	result, err := engine.RecalculateFromTask(ctx, taskIDs[0])
	require.NoError(t, err)

	assert.Equal(t, taskIDs[0], result.Task.ID)
	assert.Equal(t, 100.0, result.Task.Progress)
	assert.Equal(t, actionID, result.Action.ID)
	assert.Equal(t, 50.0, result.Action.Progress)
	assert.Equal(t, tr.subGoalIDs[0], result.SubGoal.ID)
	assert.Equal(t, 6.25, result.SubGoal.Progress) // 50/8
	assert.Equal(t, tr.goalID, result.Goal.ID)
	assert.Equal(t, 0.78125, result.Goal.Progress) // 6.25/8

	// Every level was persisted.
	action, err := store.GetAction(ctx, actionID)
	require.NoError(t, err)
	assert.Equal(t, 50.0, action.Progress)

	subGoal, err := store.GetSubGoal(ctx, tr.subGoalIDs[0])
	require.NoError(t, err)
	assert.Equal(t, 6.25, subGoal.Progress)

	goal, err := store.GetGoal(ctx, tr.goalID)
	require.NoError(t, err)
	assert.Equal(t, 0.78125, goal.Progress)

	// The cache entries were refreshed with the new values.
	value, ok := engine.Cache().Get(progress.CacheKey(progress.KindAction, actionID))
	require.True(t, ok)
	assert.Equal(t, 50.0, value)
	value, ok = engine.Cache().Get(progress.CacheKey(progress.KindGoal, tr.goalID))
	require.True(t, ok)
	assert.Equal(t, 0.78125, value)
}

func TestEngine_RecalculateIdempotent(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	tr := seedTree(t, store)
	engine := progress.NewEngine(store)

	taskIDs := addTasks(t, store, tr.actionIDs[2][3],
		model.TaskCompleted, model.TaskCompleted, model.TaskNotStarted)

	first, err := engine.RecalculateFromTask(ctx, taskIDs[0])
	require.NoError(t, err)
	second, err := engine.RecalculateFromTask(ctx, taskIDs[0])
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestEngine_RecalculateNotFound(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	seedTree(t, store)
	engine := progress.NewEngine(store)

	_, err := engine.RecalculateFromTask(ctx, "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

// failingStore wraps a Store and fails selected writes.
type failingStore struct {
	storage.Store
	failSubGoalWrite bool
}

var errWrite = errors.New("write failed")

func (s *failingStore) UpdateSubGoalProgress(ctx context.Context, id string, p float64) error {
	if s.failSubGoalWrite {
		return errWrite
	}
	return s.Store.UpdateSubGoalProgress(ctx, id, p)
}

func TestEngine_RecalculateAbortsOnWriteFailure(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	tr := seedTree(t, store)

	failing := &failingStore{Store: store, failSubGoalWrite: true}
	engine := progress.NewEngine(failing)

	taskIDs := addTasks(t, store, tr.actionIDs[0][0], model.TaskCompleted)

	_, err := engine.RecalculateFromTask(ctx, taskIDs[0])
	require.ErrorIs(t, err, errWrite)

	// The action level committed before the failure; the goal level
	// was never reached.
	action, err := store.GetAction(ctx, tr.actionIDs[0][0])
	require.NoError(t, err)
	assert.Equal(t, 100.0, action.Progress)

	goal, err := store.GetGoal(ctx, tr.goalID)
	require.NoError(t, err)
	assert.Equal(t, 0.0, goal.Progress)
}

// recordingHandler counts error records for the silent-failure test.
type recordingHandler struct {
	mu      sync.Mutex
	records []slog.Record
}

func (h *recordingHandler) Enabled(context.Context, slog.Level) bool { return true }

func (h *recordingHandler) Handle(_ context.Context, r slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.records = append(h.records, r.Clone())
	return nil
}

func (h *recordingHandler) WithAttrs([]slog.Attr) slog.Handler { return h }
func (h *recordingHandler) WithGroup(string) slog.Handler      { return h }

func (h *recordingHandler) errorRecords() []slog.Record {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []slog.Record
	for _, r := range h.records {
		if r.Level == slog.LevelError {
			out = append(out, r)
		}
	}
	return out
}

func TestEngine_OnTaskStatusChanged(t *testing.T) {
	t.Run("recalculates the chain", func(t *testing.T) {
		ctx := context.Background()
		store := newTestStore(t)
		tr := seedTree(t, store)
		engine := progress.NewEngine(store)

		taskIDs := addTasks(t, store, tr.actionIDs[0][0], model.TaskNotStarted)
		require.NoError(t, store.UpdateTaskStatus(ctx, taskIDs[0], model.TaskCompleted))

		engine.OnTaskStatusChanged(ctx, taskIDs[0])

		action, err := store.GetAction(ctx, tr.actionIDs[0][0])
		require.NoError(t, err)
		assert.Equal(t, 100.0, action.Progress)
	})

	t.Run("swallows failures and logs once with the task id", func(t *testing.T) {
		ctx := context.Background()
		store := newTestStore(t)
		seedTree(t, store)

		handler := &recordingHandler{}
		engine := progress.NewEngine(store, progress.WithLogger(slog.New(handler)))

		// Unknown task: the recalculation fails, the hook must not.
		engine.OnTaskStatusChanged(ctx, "missing-task")

		errs := handler.errorRecords()
		require.Len(t, errs, 1)

		var taskID string
		errs[0].Attrs(func(a slog.Attr) bool {
			if a.Key == "task_id" {
				taskID = a.Value.String()
			}
			return true
		})
		assert.Equal(t, "missing-task", taskID)
	})

	t.Run("no-op while disabled", func(t *testing.T) {
		ctx := context.Background()
		store := newTestStore(t)
		tr := seedTree(t, store)
		engine := progress.NewEngine(store)

		taskIDs := addTasks(t, store, tr.actionIDs[0][0], model.TaskCompleted)

		engine.SetAutoUpdateEnabled(false)
		assert.False(t, engine.AutoUpdateEnabled())
		engine.OnTaskStatusChanged(ctx, taskIDs[0])

		action, err := store.GetAction(ctx, tr.actionIDs[0][0])
		require.NoError(t, err)
		assert.Equal(t, 0.0, action.Progress, "disabled hook must not write")

		engine.SetAutoUpdateEnabled(true)
		engine.OnTaskStatusChanged(ctx, taskIDs[0])

		action, err = store.GetAction(ctx, tr.actionIDs[0][0])
		require.NoError(t, err)
		assert.Equal(t, 100.0, action.Progress)
	})
}

func TestEngine_ClearCache(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	tr := seedTree(t, store)
	engine := progress.NewEngine(store)

	_, err := engine.GoalProgress(ctx, tr.goalID)
	require.NoError(t, err)
	require.NotZero(t, engine.CacheStats().Size)

	engine.ClearCache()

	stats := engine.CacheStats()
	assert.Zero(t, stats.Size)
	assert.Zero(t, stats.TotalRequests)
	assert.Zero(t, stats.HitRate)
}

func TestEngine_ConcurrentReads(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	tr := seedTree(t, store)
	engine := progress.NewEngine(store)

	for j := 0; j < model.ActionsPerSubGoal; j++ {
		addTasks(t, store, tr.actionIDs[0][j], model.TaskCompleted)
	}

	var wg sync.WaitGroup
	results := make([]float64, 16)
	errs := make([]error, 16)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = engine.GoalProgress(ctx, tr.goalID)
		}(i)
	}
	wg.Wait()

	for i := range results {
		require.NoError(t, errs[i], fmt.Sprintf("reader %d", i))
		assert.Equal(t, 12.5, results[i])
	}
}
