// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package validation provides input validation for user-provided
// identifiers before they reach storage lookups.
package validation

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// ValidateID checks that a user-provided entity identifier is a
// well-formed UUID, the format NewID produces for every goal, sub-goal,
// action, and task.
//
// Returns an error naming the offending value if it is malformed.
func ValidateID(id string) error {
	trimmed := strings.TrimSpace(id)
	if trimmed == "" {
		return fmt.Errorf("id must not be empty")
	}
	if trimmed != id {
		return fmt.Errorf("id %q has surrounding whitespace", id)
	}
	if _, err := uuid.Parse(id); err != nil {
		return fmt.Errorf("id %q is not a valid UUID: %w", id, err)
	}
	return nil
}
