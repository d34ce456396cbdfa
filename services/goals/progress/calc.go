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

import "github.com/AleutianAI/mandala/services/goals/model"

// TaskContribution returns a task's contribution to its action: 100
// when the task is completed, otherwise 0. Tasks have no intermediate
// progress.
func TaskContribution(t *model.Task) float64 {
	if t.Completed() {
		return 100
	}
	return 0
}

// ActionValue returns an action's progress as the mean of its tasks'
// contributions. An action with no tasks has no work recorded yet and
// reports 0. EXECUTION and HABIT actions aggregate identically.
func ActionValue(a *model.Action) float64 {
	if len(a.Tasks) == 0 {
		return 0
	}
	var sum float64
	for _, t := range a.Tasks {
		sum += TaskContribution(t)
	}
	return sum / float64(len(a.Tasks))
}

// Mean returns the arithmetic mean of values, or 0 for an empty slice.
func Mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}
