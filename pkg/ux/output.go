// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package ux provides terminal output styling for the mandala CLI.
package ux

import (
	"fmt"
	"os"
	"strings"
	"sync/atomic"

	"github.com/charmbracelet/lipgloss"
)

// Mandala color palette - saffron and indigo.
var (
	ColorSaffron = lipgloss.Color("#F4A934") // Primary accent, titles
	ColorGold    = lipgloss.Color("#E8C547") // Highlights
	ColorIndigo  = lipgloss.Color("#5B5EA6") // Secondary elements, borders
	ColorLotus   = lipgloss.Color("#C06C84") // Tertiary accents

	ColorSuccess = lipgloss.Color("#3FB68B") // Green for success
	ColorWarning = lipgloss.Color("#F4D03F") // Amber for warnings
	ColorError   = lipgloss.Color("#E74C3C") // Red for errors
	ColorMuted   = lipgloss.Color("#6C7A89") // Slate for muted text
)

// Styles provides pre-configured lipgloss styles.
var Styles = struct {
	Title     lipgloss.Style
	Bold      lipgloss.Style
	Muted     lipgloss.Style
	Success   lipgloss.Style
	Warning   lipgloss.Style
	Error     lipgloss.Style
	Highlight lipgloss.Style
	Box       lipgloss.Style
}{
	Title:     lipgloss.NewStyle().Bold(true).Foreground(ColorSaffron),
	Bold:      lipgloss.NewStyle().Bold(true),
	Muted:     lipgloss.NewStyle().Foreground(ColorMuted),
	Success:   lipgloss.NewStyle().Foreground(ColorSuccess),
	Warning:   lipgloss.NewStyle().Foreground(ColorWarning),
	Error:     lipgloss.NewStyle().Foreground(ColorError),
	Highlight: lipgloss.NewStyle().Foreground(ColorGold).Bold(true),
	Box: lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(ColorIndigo).
		Padding(0, 1),
}

// Icon provides themed status icons.
type Icon string

const (
	IconSuccess Icon = "✓"
	IconWarning Icon = "⚠"
	IconError   Icon = "✗"
	IconPending Icon = "○"
	IconBullet  Icon = "•"
)

// Render returns the icon with appropriate styling.
func (i Icon) Render() string {
	switch i {
	case IconSuccess:
		return Styles.Success.Render(string(i))
	case IconWarning:
		return Styles.Warning.Render(string(i))
	case IconError:
		return Styles.Error.Render(string(i))
	case IconPending:
		return Styles.Muted.Render(string(i))
	default:
		return string(i)
	}
}

// plain switches output to unstyled machine-friendly text. Enabled by
// the NO_COLOR convention at init.
var plain atomic.Bool

func init() {
	if os.Getenv("NO_COLOR") != "" {
		plain.Store(true)
	}
}

// SetPlain toggles unstyled output. Safe for concurrent use.
func SetPlain(v bool) { plain.Store(v) }

// Plain reports whether unstyled output is active.
func Plain() bool { return plain.Load() }

// Title prints a styled section title.
func Title(text string) {
	if Plain() {
		fmt.Println(text)
		return
	}
	fmt.Println(Styles.Title.Render(text))
}

// Success prints a success message with checkmark.
func Success(text string) {
	if Plain() {
		fmt.Printf("OK: %s\n", text)
		return
	}
	fmt.Printf("%s %s\n", IconSuccess.Render(), Styles.Success.Render(text))
}

// Warning prints a warning message.
func Warning(text string) {
	if Plain() {
		fmt.Fprintf(os.Stderr, "WARN: %s\n", text)
		return
	}
	fmt.Printf("%s %s\n", IconWarning.Render(), Styles.Warning.Render(text))
}

// Error prints an error message.
func Error(text string) {
	if Plain() {
		fmt.Fprintf(os.Stderr, "ERROR: %s\n", text)
		return
	}
	fmt.Printf("%s %s\n", IconError.Render(), Styles.Error.Render(text))
}

// Info prints an informational line.
func Info(text string) {
	if Plain() {
		fmt.Println(text)
		return
	}
	fmt.Printf("%s %s\n", Styles.Muted.Render("│"), text)
}

// Muted prints secondary text.
func Muted(text string) {
	if Plain() {
		fmt.Println(text)
		return
	}
	fmt.Println(Styles.Muted.Render(text))
}

// ProgressBar renders a percentage in [0, 100] as a fixed-width bar,
// e.g. "[██████░░░░░░░░░░░░░░] 30.00%".
func ProgressBar(value float64, width int) string {
	if width <= 0 {
		width = 20
	}
	if value < 0 {
		value = 0
	}
	if value > 100 {
		value = 100
	}
	filled := int(value / 100 * float64(width))
	bar := strings.Repeat("█", filled) + strings.Repeat("░", width-filled)
	label := fmt.Sprintf("%.2f%%", value)
	if Plain() {
		return fmt.Sprintf("[%s] %s", bar, label)
	}
	return fmt.Sprintf("[%s] %s", Styles.Highlight.Render(bar), label)
}
