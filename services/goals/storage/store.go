// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package storage defines the persistence contract for the goal tree.
//
// The progress engine only reads entity structure and writes single
// progress fields; creation and structural ownership belong to the
// surrounding CRUD layer. The badgerstore subpackage provides the
// embedded implementation used by the CLI and tests.
package storage

import (
	"context"
	"errors"

	"github.com/AleutianAI/mandala/services/goals/model"
)

// Sentinel errors returned by Store implementations. Callers classify
// with errors.Is; implementations wrap these with identifier context.
var (
	// ErrNotFound is returned when an entity identifier does not resolve.
	ErrNotFound = errors.New("entity not found")

	// ErrConflict is returned when a create collides with an existing
	// identifier.
	ErrConflict = errors.New("entity already exists")
)

// Store is the persistence contract consumed by the progress engine and
// the integrity checker.
//
// Reads return the entity with its immediate children populated: an
// Action carries its Tasks, a SubGoal its Actions (shallow), a Goal its
// SubGoals (shallow). Updates touch exactly one field of one record.
//
// Thread Safety: implementations must be safe for concurrent use.
type Store interface {
	// GetTask returns the task with the given ID.
	GetTask(ctx context.Context, id string) (*model.Task, error)

	// GetAction returns the action with its tasks populated.
	GetAction(ctx context.Context, id string) (*model.Action, error)

	// GetSubGoal returns the sub-goal with its actions populated
	// (shallow: the actions' Tasks slices are left nil).
	GetSubGoal(ctx context.Context, id string) (*model.SubGoal, error)

	// GetGoal returns the goal with its sub-goals populated (shallow).
	GetGoal(ctx context.Context, id string) (*model.Goal, error)

	// CreateGoal persists a new goal record.
	CreateGoal(ctx context.Context, g *model.Goal) error

	// CreateSubGoal persists a new sub-goal and links it to its goal.
	CreateSubGoal(ctx context.Context, sg *model.SubGoal) error

	// CreateAction persists a new action and links it to its sub-goal.
	CreateAction(ctx context.Context, a *model.Action) error

	// CreateTask persists a new task and links it to its action.
	CreateTask(ctx context.Context, t *model.Task) error

	// UpdateTaskStatus sets the status of one task.
	UpdateTaskStatus(ctx context.Context, id string, status model.TaskStatus) error

	// UpdateActionProgress sets the stored progress of one action.
	UpdateActionProgress(ctx context.Context, id string, progress float64) error

	// UpdateSubGoalProgress sets the stored progress of one sub-goal.
	UpdateSubGoalProgress(ctx context.Context, id string, progress float64) error

	// UpdateGoalProgress sets the stored progress of one goal.
	UpdateGoalProgress(ctx context.Context, id string, progress float64) error
}
