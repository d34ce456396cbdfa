// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ux

import (
	"strings"
	"testing"
)

func TestProgressBar(t *testing.T) {
	SetPlain(true)
	defer SetPlain(false)

	tests := []struct {
		name   string
		value  float64
		width  int
		filled int
		label  string
	}{
		{"empty", 0, 20, 0, "0.00%"},
		{"third", 30, 20, 6, "30.00%"},
		{"full", 100, 20, 20, "100.00%"},
		{"clamped low", -5, 20, 0, "0.00%"},
		{"clamped high", 120, 20, 20, "100.00%"},
		{"default width", 50, 0, 10, "50.00%"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ProgressBar(tt.value, tt.width)
			if n := strings.Count(got, "█"); n != tt.filled {
				t.Errorf("filled cells = %d, want %d (%q)", n, tt.filled, got)
			}
			if !strings.HasSuffix(got, tt.label) {
				t.Errorf("bar = %q, want suffix %q", got, tt.label)
			}
		})
	}
}

func TestIconRender(t *testing.T) {
	for _, icon := range []Icon{IconSuccess, IconWarning, IconError, IconPending, IconBullet} {
		if out := icon.Render(); !strings.Contains(out, string(icon)) {
			t.Errorf("Render(%q) = %q, glyph missing", icon, out)
		}
	}
}

func TestSetPlain(t *testing.T) {
	SetPlain(true)
	if !Plain() {
		t.Error("Plain() = false after SetPlain(true)")
	}
	SetPlain(false)
	if Plain() {
		t.Error("Plain() = true after SetPlain(false)")
	}
}
