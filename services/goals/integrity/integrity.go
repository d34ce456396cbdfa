// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package integrity audits and repairs a goal subtree.
//
// Validate compares stored progress fields against freshly recomputed
// values (bypassing the cache) and checks the structural invariant of
// the mandala chart: exactly 8 sub-goals per goal and 8 actions per
// sub-goal. Findings are reported as strings, never raised as errors.
// Repair rewrites drifted stored values bottom-up so that every
// corrected sub-goal derives from already-corrected action values.
//
// Concurrent repair of the same goal from two callers is not
// supported; serializing repair calls per goal is the caller's
// responsibility.
package integrity

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strconv"

	"github.com/AleutianAI/mandala/services/goals/model"
	"github.com/AleutianAI/mandala/services/goals/progress"
	"github.com/AleutianAI/mandala/services/goals/storage"
)

// progressEpsilon ignores float noise when comparing stored and
// recomputed values.
const progressEpsilon = 1e-9

// Report is the outcome of a validation pass. Errors accumulates every
// finding; validation does not stop at the first one.
type Report struct {
	IsValid bool     `json:"is_valid"`
	Errors  []string `json:"errors"`
}

// RepairResult lists the corrections made by a repair pass.
type RepairResult struct {
	Repaired      bool     `json:"repaired"`
	RepairedItems []string `json:"repaired_items"`
}

// Checker validates and repairs goal subtrees. It reads the store
// directly so that audits never see cached values.
type Checker struct {
	store  storage.Store
	logger *slog.Logger
}

// NewChecker creates a Checker over the given store.
func NewChecker(store storage.Store, logger *slog.Logger) *Checker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Checker{store: store, logger: logger}
}

// Validate checks one goal subtree and reports every structural and
// value discrepancy found. A missing goal is an error; a malformed or
// drifted tree is a finding.
func (c *Checker) Validate(ctx context.Context, goalID string) (*Report, error) {
	report := &Report{}

	goal, err := c.store.GetGoal(ctx, goalID)
	if err != nil {
		return nil, err
	}

	if len(goal.SubGoals) != model.SubGoalsPerGoal {
		report.Errors = append(report.Errors, fmt.Sprintf(
			"Goal %s should have %d sub-goals, but has %d",
			goal.ID, model.SubGoalsPerGoal, len(goal.SubGoals)))
	}

	subGoalValues := make([]float64, 0, len(goal.SubGoals))
	for _, shallow := range goal.SubGoals {
		subGoal, err := c.store.GetSubGoal(ctx, shallow.ID)
		if err != nil {
			return nil, err
		}

		if len(subGoal.Actions) != model.ActionsPerSubGoal {
			report.Errors = append(report.Errors, fmt.Sprintf(
				"SubGoal %s should have %d actions, but has %d",
				subGoal.ID, model.ActionsPerSubGoal, len(subGoal.Actions)))
		}

		actionValues := make([]float64, 0, len(subGoal.Actions))
		for _, shallowAction := range subGoal.Actions {
			action, err := c.store.GetAction(ctx, shallowAction.ID)
			if err != nil {
				return nil, err
			}
			computed := progress.ActionValue(action)
			actionValues = append(actionValues, computed)
			if drifted(action.Progress, computed) {
				report.Errors = append(report.Errors, fmt.Sprintf(
					"Action %s progress mismatch: stored %s, computed %s",
					action.ID, formatProgress(action.Progress), formatProgress(computed)))
			}
		}

		computed := progress.Mean(actionValues)
		subGoalValues = append(subGoalValues, computed)
		if drifted(subGoal.Progress, computed) {
			report.Errors = append(report.Errors, fmt.Sprintf(
				"SubGoal %s progress mismatch: stored %s, computed %s",
				subGoal.ID, formatProgress(subGoal.Progress), formatProgress(computed)))
		}
	}

	computed := progress.Mean(subGoalValues)
	if drifted(goal.Progress, computed) {
		report.Errors = append(report.Errors, fmt.Sprintf(
			"Goal %s progress mismatch: stored %s, computed %s",
			goal.ID, formatProgress(goal.Progress), formatProgress(computed)))
	}

	report.IsValid = len(report.Errors) == 0
	return report, nil
}

// Repair recomputes every node of one goal subtree bottom-up and
// overwrites any stored value that drifted from its recomputed value.
// Writes happen leaf-to-root, so a sub-goal's corrected value is
// always derived from already-corrected action values.
func (c *Checker) Repair(ctx context.Context, goalID string) (*RepairResult, error) {
	result := &RepairResult{}

	goal, err := c.store.GetGoal(ctx, goalID)
	if err != nil {
		return nil, err
	}

	subGoalValues := make([]float64, 0, len(goal.SubGoals))
	for _, shallow := range goal.SubGoals {
		subGoal, err := c.store.GetSubGoal(ctx, shallow.ID)
		if err != nil {
			return nil, err
		}

		actionValues := make([]float64, 0, len(subGoal.Actions))
		for _, shallowAction := range subGoal.Actions {
			action, err := c.store.GetAction(ctx, shallowAction.ID)
			if err != nil {
				return nil, err
			}
			computed := progress.ActionValue(action)
			actionValues = append(actionValues, computed)
			if drifted(action.Progress, computed) {
				if err := c.store.UpdateActionProgress(ctx, action.ID, computed); err != nil {
					return nil, err
				}
				result.RepairedItems = append(result.RepairedItems, fmt.Sprintf(
					"Action %s progress updated to %s%%", action.ID, formatProgress(computed)))
			}
		}

		computed := progress.Mean(actionValues)
		subGoalValues = append(subGoalValues, computed)
		if drifted(subGoal.Progress, computed) {
			if err := c.store.UpdateSubGoalProgress(ctx, subGoal.ID, computed); err != nil {
				return nil, err
			}
			result.RepairedItems = append(result.RepairedItems, fmt.Sprintf(
				"SubGoal %s progress updated to %s%%", subGoal.ID, formatProgress(computed)))
		}
	}

	computed := progress.Mean(subGoalValues)
	if drifted(goal.Progress, computed) {
		if err := c.store.UpdateGoalProgress(ctx, goal.ID, computed); err != nil {
			return nil, err
		}
		result.RepairedItems = append(result.RepairedItems, fmt.Sprintf(
			"Goal %s progress updated to %s%%", goal.ID, formatProgress(computed)))
	}

	result.Repaired = len(result.RepairedItems) > 0
	if result.Repaired {
		c.logger.Info("goal subtree repaired",
			slog.String("goal_id", goalID),
			slog.Int("corrections", len(result.RepairedItems)),
		)
	}
	return result, nil
}

// drifted reports whether a stored value differs from its recomputed
// value beyond float noise.
func drifted(stored, computed float64) bool {
	return math.Abs(stored-computed) > progressEpsilon
}

// formatProgress renders a progress value rounded to two decimals,
// without trailing zeros (75, 45.5, 66.67).
func formatProgress(v float64) string {
	return strconv.FormatFloat(math.Round(v*100)/100, 'f', -1, 64)
}
