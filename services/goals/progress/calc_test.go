// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package progress

import (
	"testing"

	"github.com/AleutianAI/mandala/services/goals/model"
)

func TestTaskContribution(t *testing.T) {
	tests := []struct {
		name   string
		status model.TaskStatus
		want   float64
	}{
		{"completed is 100", model.TaskCompleted, 100},
		{"in progress is 0", model.TaskInProgress, 0},
		{"not started is 0", model.TaskNotStarted, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			task := &model.Task{ID: "t1", Status: tt.status}
			if got := TaskContribution(task); got != tt.want {
				t.Errorf("TaskContribution = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestActionValue(t *testing.T) {
	t.Run("zero tasks is zero", func(t *testing.T) {
		a := &model.Action{ID: "a1", Type: model.ActionExecution}
		if got := ActionValue(a); got != 0 {
			t.Errorf("ActionValue = %v, want 0", got)
		}
	})

	t.Run("mean of task contributions", func(t *testing.T) {
		a := &model.Action{ID: "a1", Type: model.ActionExecution, Tasks: []*model.Task{
			{Status: model.TaskCompleted},
			{Status: model.TaskCompleted},
			{Status: model.TaskCompleted},
			{Status: model.TaskNotStarted},
		}}
		if got := ActionValue(a); got != 75 {
			t.Errorf("ActionValue = %v, want 75", got)
		}
	})

	t.Run("habit aggregates the same as execution", func(t *testing.T) {
		tasks := []*model.Task{
			{Status: model.TaskCompleted},
			{Status: model.TaskNotStarted},
		}
		execution := &model.Action{Type: model.ActionExecution, Tasks: tasks}
		habit := &model.Action{Type: model.ActionHabit, Tasks: tasks}
		if ActionValue(execution) != ActionValue(habit) {
			t.Error("habit and execution actions must aggregate identically")
		}
	})
}

func TestMean(t *testing.T) {
	t.Run("eight actions", func(t *testing.T) {
		values := []float64{10, 20, 30, 40, 50, 60, 70, 80}
		if got := Mean(values); got != 45 {
			t.Errorf("Mean = %v, want 45", got)
		}
	})

	t.Run("eight sub-goals", func(t *testing.T) {
		values := []float64{15, 25, 35, 45, 55, 65, 75, 85}
		if got := Mean(values); got != 50 {
			t.Errorf("Mean = %v, want 50", got)
		}
	})

	t.Run("empty is zero", func(t *testing.T) {
		if got := Mean(nil); got != 0 {
			t.Errorf("Mean = %v, want 0", got)
		}
	})
}
