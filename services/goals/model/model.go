// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package model defines the mandala goal tree entities.
//
// A mandala chart is a fixed two-level decomposition: one Goal owns
// exactly 8 SubGoals, each SubGoal owns exactly 8 Actions, and each
// Action owns an open-ended number of Tasks. Tasks are the only leaves;
// everything above them carries a derived progress percentage.
package model

import "github.com/google/uuid"

// Structural invariants of the mandala chart.
const (
	// SubGoalsPerGoal is the required number of sub-goals under a goal.
	SubGoalsPerGoal = 8

	// ActionsPerSubGoal is the required number of actions under a sub-goal.
	ActionsPerSubGoal = 8
)

// TaskStatus is the lifecycle state of a task.
type TaskStatus string

const (
	TaskNotStarted TaskStatus = "NOT_STARTED"
	TaskInProgress TaskStatus = "IN_PROGRESS"
	TaskCompleted  TaskStatus = "COMPLETED"
)

// Valid reports whether s is one of the known task statuses.
func (s TaskStatus) Valid() bool {
	switch s {
	case TaskNotStarted, TaskInProgress, TaskCompleted:
		return true
	}
	return false
}

// ActionType distinguishes how the rest of the system interprets an
// action being "done". The progress aggregation formula is uniform
// across types; the type is carried as metadata only.
type ActionType string

const (
	ActionExecution ActionType = "EXECUTION"
	ActionHabit     ActionType = "HABIT"
)

// Valid reports whether t is one of the known action types.
func (t ActionType) Valid() bool {
	return t == ActionExecution || t == ActionHabit
}

// Task is a leaf work item. Tasks have no stored progress; their
// contribution to the owning action is binary (100 when completed,
// otherwise 0).
type Task struct {
	ID       string     `json:"id"`
	ActionID string     `json:"action_id"`
	Title    string     `json:"title,omitempty"`
	Status   TaskStatus `json:"status"`
}

// Completed reports whether the task counts as done.
func (t *Task) Completed() bool {
	return t.Status == TaskCompleted
}

// Action groups tasks under a sub-goal. Progress is the stored
// aggregate of its tasks' completion, maintained by the progress
// engine.
type Action struct {
	ID        string     `json:"id"`
	SubGoalID string     `json:"sub_goal_id"`
	Title     string     `json:"title,omitempty"`
	Type      ActionType `json:"type"`
	Progress  float64    `json:"progress"`

	// Tasks are the immediate children, populated on load.
	Tasks []*Task `json:"tasks,omitempty"`
}

// SubGoal groups actions under a goal. A well-formed sub-goal has
// exactly ActionsPerSubGoal actions; deviations are integrity findings,
// not load errors.
type SubGoal struct {
	ID       string  `json:"id"`
	GoalID   string  `json:"goal_id"`
	Title    string  `json:"title,omitempty"`
	Progress float64 `json:"progress"`

	// Actions are the immediate children, populated on load (shallow:
	// their Tasks slices are not filled in).
	Actions []*Action `json:"actions,omitempty"`
}

// Goal is the root of a mandala chart. A well-formed goal has exactly
// SubGoalsPerGoal sub-goals.
type Goal struct {
	ID       string  `json:"id"`
	Title    string  `json:"title,omitempty"`
	Progress float64 `json:"progress"`

	// SubGoals are the immediate children, populated on load (shallow).
	SubGoals []*SubGoal `json:"sub_goals,omitempty"`
}

// NewID returns a fresh entity identifier.
func NewID() string {
	return uuid.NewString()
}
