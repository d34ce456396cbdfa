// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package badgerstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"

	"github.com/AleutianAI/mandala/services/goals/model"
	"github.com/AleutianAI/mandala/services/goals/storage"
)

// Key prefixes for entity records. Each entity lives under a single
// key; parent records carry their child ID lists so that a load with
// immediate children is one primary read plus N child reads inside one
// read transaction.
const (
	goalPrefix    = "goal:"
	subGoalPrefix = "subgoal:"
	actionPrefix  = "action:"
	taskPrefix    = "task:"
)

// goalRecord is the stored form of a goal.
type goalRecord struct {
	ID         string   `json:"id"`
	Title      string   `json:"title,omitempty"`
	Progress   float64  `json:"progress"`
	SubGoalIDs []string `json:"sub_goal_ids"`
}

// subGoalRecord is the stored form of a sub-goal.
type subGoalRecord struct {
	ID        string   `json:"id"`
	GoalID    string   `json:"goal_id"`
	Title     string   `json:"title,omitempty"`
	Progress  float64  `json:"progress"`
	ActionIDs []string `json:"action_ids"`
}

// actionRecord is the stored form of an action.
type actionRecord struct {
	ID        string           `json:"id"`
	SubGoalID string           `json:"sub_goal_id"`
	Title     string           `json:"title,omitempty"`
	Type      model.ActionType `json:"type"`
	Progress  float64          `json:"progress"`
	TaskIDs   []string         `json:"task_ids"`
}

// taskRecord is the stored form of a task.
type taskRecord struct {
	ID       string           `json:"id"`
	ActionID string           `json:"action_id"`
	Title    string           `json:"title,omitempty"`
	Status   model.TaskStatus `json:"status"`
}

// Store is the BadgerDB-backed storage.Store.
//
// Thread Safety: safe for concurrent use. Each update method is a
// single read-modify-write transaction, so concurrent writers to the
// same record serialize at the BadgerDB layer.
type Store struct {
	db *badger.DB
	gc *gcRunner
}

var _ storage.Store = (*Store)(nil)

// Open opens a Store with the given configuration. Call Close when
// done.
func Open(cfg Config) (*Store, error) {
	db, err := openDB(cfg)
	if err != nil {
		return nil, err
	}

	s := &Store{db: db}
	if cfg.GCInterval > 0 && !cfg.InMemory {
		s.gc = newGCRunner(db, cfg.GCInterval, cfg.GCDiscardRatio, cfg.Logger)
		s.gc.start()
	}
	return s, nil
}

// OpenInMemory opens an in-memory Store for tests. Data is lost on
// Close.
func OpenInMemory() (*Store, error) {
	return Open(InMemoryConfig())
}

// Close stops garbage collection and closes the database.
func (s *Store) Close() error {
	if s.gc != nil {
		s.gc.stop()
	}
	return s.db.Close()
}

// view runs fn in a read-only transaction after checking the context.
func (s *Store) view(ctx context.Context, fn func(txn *badger.Txn) error) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context cancelled: %w", err)
	}
	return s.db.View(fn)
}

// update runs fn in a read-write transaction after checking the context.
func (s *Store) update(ctx context.Context, fn func(txn *badger.Txn) error) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context cancelled: %w", err)
	}
	return s.db.Update(fn)
}

// getRecord loads and unmarshals one record, mapping a missing key to
// storage.ErrNotFound.
func getRecord(txn *badger.Txn, key string, out any) error {
	item, err := txn.Get([]byte(key))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return fmt.Errorf("%s: %w", key, storage.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("get %s: %w", key, err)
	}
	return item.Value(func(val []byte) error {
		if err := json.Unmarshal(val, out); err != nil {
			return fmt.Errorf("decode %s: %w", key, err)
		}
		return nil
	})
}

// setRecord marshals and writes one record.
func setRecord(txn *badger.Txn, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	if err := txn.Set([]byte(key), data); err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	return nil
}

// recordExists reports whether a key is present.
func recordExists(txn *badger.Txn, key string) (bool, error) {
	_, err := txn.Get([]byte(key))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("get %s: %w", key, err)
	}
	return true, nil
}

// GetTask implements storage.Store.
func (s *Store) GetTask(ctx context.Context, id string) (*model.Task, error) {
	var rec taskRecord
	err := s.view(ctx, func(txn *badger.Txn) error {
		return getRecord(txn, taskPrefix+id, &rec)
	})
	if err != nil {
		return nil, err
	}
	return taskFromRecord(&rec), nil
}

// GetAction implements storage.Store. The returned action has its
// tasks populated.
func (s *Store) GetAction(ctx context.Context, id string) (*model.Action, error) {
	var action *model.Action
	err := s.view(ctx, func(txn *badger.Txn) error {
		var rec actionRecord
		if err := getRecord(txn, actionPrefix+id, &rec); err != nil {
			return err
		}
		action = actionFromRecord(&rec)
		for _, taskID := range rec.TaskIDs {
			var tr taskRecord
			if err := getRecord(txn, taskPrefix+taskID, &tr); err != nil {
				return err
			}
			action.Tasks = append(action.Tasks, taskFromRecord(&tr))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return action, nil
}

// GetSubGoal implements storage.Store. The returned sub-goal has its
// actions populated shallowly (no tasks).
func (s *Store) GetSubGoal(ctx context.Context, id string) (*model.SubGoal, error) {
	var subGoal *model.SubGoal
	err := s.view(ctx, func(txn *badger.Txn) error {
		var rec subGoalRecord
		if err := getRecord(txn, subGoalPrefix+id, &rec); err != nil {
			return err
		}
		subGoal = &model.SubGoal{
			ID:       rec.ID,
			GoalID:   rec.GoalID,
			Title:    rec.Title,
			Progress: rec.Progress,
		}
		for _, actionID := range rec.ActionIDs {
			var ar actionRecord
			if err := getRecord(txn, actionPrefix+actionID, &ar); err != nil {
				return err
			}
			subGoal.Actions = append(subGoal.Actions, actionFromRecord(&ar))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return subGoal, nil
}

// GetGoal implements storage.Store. The returned goal has its
// sub-goals populated shallowly (no actions).
func (s *Store) GetGoal(ctx context.Context, id string) (*model.Goal, error) {
	var goal *model.Goal
	err := s.view(ctx, func(txn *badger.Txn) error {
		var rec goalRecord
		if err := getRecord(txn, goalPrefix+id, &rec); err != nil {
			return err
		}
		goal = &model.Goal{
			ID:       rec.ID,
			Title:    rec.Title,
			Progress: rec.Progress,
		}
		for _, subGoalID := range rec.SubGoalIDs {
			var sr subGoalRecord
			if err := getRecord(txn, subGoalPrefix+subGoalID, &sr); err != nil {
				return err
			}
			goal.SubGoals = append(goal.SubGoals, &model.SubGoal{
				ID:       sr.ID,
				GoalID:   sr.GoalID,
				Title:    sr.Title,
				Progress: sr.Progress,
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return goal, nil
}

// CreateGoal implements storage.Store.
func (s *Store) CreateGoal(ctx context.Context, g *model.Goal) error {
	return s.update(ctx, func(txn *badger.Txn) error {
		key := goalPrefix + g.ID
		exists, err := recordExists(txn, key)
		if err != nil {
			return err
		}
		if exists {
			return fmt.Errorf("%s: %w", key, storage.ErrConflict)
		}
		return setRecord(txn, key, &goalRecord{
			ID:         g.ID,
			Title:      g.Title,
			Progress:   g.Progress,
			SubGoalIDs: []string{},
		})
	})
}

// CreateSubGoal implements storage.Store. The owning goal must exist;
// its child list is updated in the same transaction.
func (s *Store) CreateSubGoal(ctx context.Context, sg *model.SubGoal) error {
	return s.update(ctx, func(txn *badger.Txn) error {
		var parent goalRecord
		if err := getRecord(txn, goalPrefix+sg.GoalID, &parent); err != nil {
			return err
		}

		key := subGoalPrefix + sg.ID
		exists, err := recordExists(txn, key)
		if err != nil {
			return err
		}
		if exists {
			return fmt.Errorf("%s: %w", key, storage.ErrConflict)
		}

		if err := setRecord(txn, key, &subGoalRecord{
			ID:        sg.ID,
			GoalID:    sg.GoalID,
			Title:     sg.Title,
			Progress:  sg.Progress,
			ActionIDs: []string{},
		}); err != nil {
			return err
		}

		parent.SubGoalIDs = append(parent.SubGoalIDs, sg.ID)
		return setRecord(txn, goalPrefix+sg.GoalID, &parent)
	})
}

// CreateAction implements storage.Store.
func (s *Store) CreateAction(ctx context.Context, a *model.Action) error {
	if !a.Type.Valid() {
		return fmt.Errorf("invalid action type %q", a.Type)
	}
	return s.update(ctx, func(txn *badger.Txn) error {
		var parent subGoalRecord
		if err := getRecord(txn, subGoalPrefix+a.SubGoalID, &parent); err != nil {
			return err
		}

		key := actionPrefix + a.ID
		exists, err := recordExists(txn, key)
		if err != nil {
			return err
		}
		if exists {
			return fmt.Errorf("%s: %w", key, storage.ErrConflict)
		}

		if err := setRecord(txn, key, &actionRecord{
			ID:        a.ID,
			SubGoalID: a.SubGoalID,
			Title:     a.Title,
			Type:      a.Type,
			Progress:  a.Progress,
			TaskIDs:   []string{},
		}); err != nil {
			return err
		}

		parent.ActionIDs = append(parent.ActionIDs, a.ID)
		return setRecord(txn, subGoalPrefix+a.SubGoalID, &parent)
	})
}

// CreateTask implements storage.Store.
func (s *Store) CreateTask(ctx context.Context, t *model.Task) error {
	if !t.Status.Valid() {
		return fmt.Errorf("invalid task status %q", t.Status)
	}
	return s.update(ctx, func(txn *badger.Txn) error {
		var parent actionRecord
		if err := getRecord(txn, actionPrefix+t.ActionID, &parent); err != nil {
			return err
		}

		key := taskPrefix + t.ID
		exists, err := recordExists(txn, key)
		if err != nil {
			return err
		}
		if exists {
			return fmt.Errorf("%s: %w", key, storage.ErrConflict)
		}

		if err := setRecord(txn, key, &taskRecord{
			ID:       t.ID,
			ActionID: t.ActionID,
			Title:    t.Title,
			Status:   t.Status,
		}); err != nil {
			return err
		}

		parent.TaskIDs = append(parent.TaskIDs, t.ID)
		return setRecord(txn, actionPrefix+t.ActionID, &parent)
	})
}

// UpdateTaskStatus implements storage.Store.
func (s *Store) UpdateTaskStatus(ctx context.Context, id string, status model.TaskStatus) error {
	if !status.Valid() {
		return fmt.Errorf("invalid task status %q", status)
	}
	return s.update(ctx, func(txn *badger.Txn) error {
		var rec taskRecord
		if err := getRecord(txn, taskPrefix+id, &rec); err != nil {
			return err
		}
		rec.Status = status
		return setRecord(txn, taskPrefix+id, &rec)
	})
}

// UpdateActionProgress implements storage.Store.
func (s *Store) UpdateActionProgress(ctx context.Context, id string, progress float64) error {
	if err := validProgress(progress); err != nil {
		return err
	}
	return s.update(ctx, func(txn *badger.Txn) error {
		var rec actionRecord
		if err := getRecord(txn, actionPrefix+id, &rec); err != nil {
			return err
		}
		rec.Progress = progress
		return setRecord(txn, actionPrefix+id, &rec)
	})
}

// UpdateSubGoalProgress implements storage.Store.
func (s *Store) UpdateSubGoalProgress(ctx context.Context, id string, progress float64) error {
	if err := validProgress(progress); err != nil {
		return err
	}
	return s.update(ctx, func(txn *badger.Txn) error {
		var rec subGoalRecord
		if err := getRecord(txn, subGoalPrefix+id, &rec); err != nil {
			return err
		}
		rec.Progress = progress
		return setRecord(txn, subGoalPrefix+id, &rec)
	})
}

// UpdateGoalProgress implements storage.Store.
func (s *Store) UpdateGoalProgress(ctx context.Context, id string, progress float64) error {
	if err := validProgress(progress); err != nil {
		return err
	}
	return s.update(ctx, func(txn *badger.Txn) error {
		var rec goalRecord
		if err := getRecord(txn, goalPrefix+id, &rec); err != nil {
			return err
		}
		rec.Progress = progress
		return setRecord(txn, goalPrefix+id, &rec)
	})
}

func validProgress(p float64) error {
	if p < 0 || p > 100 {
		return fmt.Errorf("progress %v out of range [0,100]", p)
	}
	return nil
}

func taskFromRecord(rec *taskRecord) *model.Task {
	return &model.Task{
		ID:       rec.ID,
		ActionID: rec.ActionID,
		Title:    rec.Title,
		Status:   rec.Status,
	}
}

func actionFromRecord(rec *actionRecord) *model.Action {
	return &model.Action{
		ID:        rec.ID,
		SubGoalID: rec.SubGoalID,
		Title:     rec.Title,
		Type:      rec.Type,
		Progress:  rec.Progress,
	}
}
