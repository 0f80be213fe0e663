// Copyright (C) 2025 Cairn Health (oss@cairnhealth.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datatypes

import (
	"github.com/go-playground/validator/v10"
)

// =============================================================================
// Status / Direction Enums
// =============================================================================

// TrendStatus summarizes where the latest measurement of a series sits
// relative to its reference range.
type TrendStatus string

const (
	// StatusUnknown is used when no judgement is possible: empty data,
	// mixed units, or no reference bounds on the latest point.
	StatusUnknown TrendStatus = "unknown"

	// StatusNormal means the latest point satisfies its reference bounds.
	StatusNormal TrendStatus = "normal"

	// StatusHigh means the latest point is above its upper reference bound.
	StatusHigh TrendStatus = "high"

	// StatusLow means the latest point is below its lower reference bound.
	StatusLow TrendStatus = "low"
)

// Valid reports whether s is one of the four defined statuses.
func (s TrendStatus) Valid() bool {
	switch s {
	case StatusUnknown, StatusNormal, StatusHigh, StatusLow:
		return true
	default:
		return false
	}
}

// DeltaDirection classifies the percentage change between the first and
// last point of the focus series.
type DeltaDirection string

const (
	// DirectionUp means the delta is greater than +1 percent.
	DirectionUp DeltaDirection = "up"

	// DirectionDown means the delta is less than -1 percent.
	DirectionDown DeltaDirection = "down"

	// DirectionStable means the delta is within one percent of zero.
	DirectionStable DeltaDirection = "stable"
)

// =============================================================================
// Thumbnail
// =============================================================================

// Thumbnail is a compact visual summary of a sanitized row set.
//
// # Description
//
// A thumbnail is derived, never stored: every emission is regenerated from
// a sanitized row set plus an optional caller hint. The required fields
// (Title, Status, Sparkline, PointCount, SeriesCount) are never null in a
// successfully emitted thumbnail. The optional pointer fields are nil
// whenever their preconditions fail: empty focus series, mixed units, or
// fewer than two points.
//
// # Fields
//
//   - Title: display title, caller supplied.
//   - Status: trend status of the latest focus-series point.
//   - Sparkline: 1-30 downsampled focus-series values; [0] when empty.
//   - PointCount: number of points in the focus series.
//   - SeriesCount: distinct series labels across the whole row set.
//   - MixedUnits: true when the focus series carries more than one
//     normalized unit, which invalidates all numeric trend fields.
//   - Latest: value of the most recent focus-series point.
//   - Unit: the single normalized unit of the focus series.
//   - DeltaPercent: rounded percent change first -> last.
//   - DeltaDirection: up / down / stable classification of DeltaPercent.
//   - DeltaPeriod: elapsed first -> last span, rendered at the coarsest
//     unit that keeps the value at or above one.
type Thumbnail struct {
	Title       string      `json:"title"`
	Status      TrendStatus `json:"status"`
	Sparkline   []float64   `json:"sparkline"`
	PointCount  int         `json:"point_count"`
	SeriesCount int         `json:"series_count"`
	MixedUnits  bool        `json:"mixed_units"`

	Latest         *float64        `json:"latest,omitempty"`
	Unit           *string         `json:"unit,omitempty"`
	DeltaPercent   *float64        `json:"delta_percent,omitempty"`
	DeltaDirection *DeltaDirection `json:"delta_direction,omitempty"`
	DeltaPeriod    *string         `json:"delta_period,omitempty"`
}

// =============================================================================
// Thumbnail Hint
// =============================================================================

// hintValidate is the validator instance for thumbnail hints.
var hintValidate = validator.New()

// ThumbnailHint is the optional, untrusted steering input for thumbnail
// derivation.
//
// # Description
//
// Hints originate from the LLM's tool parameters and must be treated as
// untrusted input. A hint that fails shape validation is discarded (logged
// by the caller) and derivation proceeds as if no hint were given;
// thumbnails are a non-critical enhancement and never block the primary
// result.
//
// # Fields
//
//   - FocusSeries: preferred series to summarize. Ignored when the named
//     series is absent from the data.
//   - StatusHint: caller-asserted trend status. Trusted verbatim when it is
//     a valid non-unknown status and the units are not mixed.
type ThumbnailHint struct {
	FocusSeries string      `json:"focus_series,omitempty" validate:"omitempty,max=200"`
	StatusHint  TrendStatus `json:"status_hint,omitempty" validate:"omitempty,oneof=unknown normal high low"`
}

// Validate checks the hint's shape.
//
// # Outputs
//
//   - error: Non-nil if the hint fails validation (bad enum, oversized
//     series name). Callers fall back to data-derived status on error.
func (h *ThumbnailHint) Validate() error {
	return hintValidate.Struct(h)
}
