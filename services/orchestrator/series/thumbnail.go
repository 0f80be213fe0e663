// Copyright (C) 2025 Cairn Health (oss@cairnhealth.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package series

import (
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"

	"github.com/cairnhealth/cairn/services/orchestrator/datatypes"
)

// MaxSparklinePoints is the downsampling ceiling for thumbnail sparklines.
const MaxSparklinePoints = 30

// =============================================================================
// Derivation
// =============================================================================

// Derive builds a thumbnail from a sanitized row set and an optional hint.
//
// # Description
//
// Derive is a total function: it never fails, never panics, and always
// returns a structurally valid thumbnail for any row-set/hint combination.
// The pipeline is:
//
//  1. Empty input yields the canonical empty thumbnail (status unknown,
//     sparkline [0], zero counts, all optional fields nil).
//  2. The focus series is the hint's named series when present in the
//     data, else the alphabetically first series label.
//  3. Units within the focus series are compared case-insensitively with
//     null/empty treated as equivalent; more than one distinct normalized
//     unit sets MixedUnits.
//  4. Status: mixed units force unknown regardless of the hint. A valid
//     non-unknown hint status is otherwise used verbatim. Failing both,
//     the latest point is judged against its own reference bounds.
//  5. Delta percent, direction and period are nil under mixed units or
//     fewer than two focus points; delta percent is also nil when the
//     first value is zero.
//  6. The sparkline is the focus values downsampled to at most 30 points,
//     first and last preserved exactly.
//
// A hint that fails shape validation is logged and ignored; derivation
// falls back to data-derived status rather than failing the operation.
//
// # Inputs
//
//   - rows: sanitized rows (output of Sanitize). Multi-series allowed.
//   - hint: optional untrusted steering input. Nil is fine.
//   - title: display title for the thumbnail.
//
// # Outputs
//
//   - datatypes.Thumbnail: always valid; see above for field semantics.
func Derive(rows []datatypes.ResultRow, hint *datatypes.ThumbnailHint, title string) datatypes.Thumbnail {
	if hint != nil {
		if err := hint.Validate(); err != nil {
			slog.Warn("ignoring malformed thumbnail hint", "error", err, "title", title)
			hint = nil
		}
	}

	if len(rows) == 0 {
		return emptyThumbnail(title)
	}

	focusLabel := selectFocusSeries(rows, hint)
	focus := filterSeries(rows, focusLabel)

	thumb := datatypes.Thumbnail{
		Title:       title,
		PointCount:  len(focus),
		SeriesCount: countSeries(rows),
		MixedUnits:  hasMixedUnits(focus),
	}

	thumb.Sparkline = Downsample(values(focus), MaxSparklinePoints)
	thumb.Status = deriveStatus(focus, hint, thumb.MixedUnits)

	if len(focus) > 0 {
		latest := focus[len(focus)-1].Value
		thumb.Latest = &latest
	}
	if !thumb.MixedUnits {
		if u := singleUnit(focus); u != "" {
			thumb.Unit = &u
		}
	}

	// Trend fields share preconditions: a single-unit series with at
	// least two points.
	if !thumb.MixedUnits && len(focus) >= 2 {
		first, last := focus[0], focus[len(focus)-1]
		if first.Value != 0 {
			pct := math.Round(100 * (last.Value - first.Value) / math.Abs(first.Value))
			thumb.DeltaPercent = &pct
			dir := classifyDirection(pct)
			thumb.DeltaDirection = &dir
		}
		period := renderPeriod(last.Timestamp - first.Timestamp)
		thumb.DeltaPeriod = &period
	}

	return thumb
}

// emptyThumbnail is the canonical thumbnail for an empty row set.
func emptyThumbnail(title string) datatypes.Thumbnail {
	return datatypes.Thumbnail{
		Title:       title,
		Status:      datatypes.StatusUnknown,
		Sparkline:   []float64{0},
		PointCount:  0,
		SeriesCount: 0,
	}
}

// selectFocusSeries picks the series a thumbnail summarizes: the hinted
// series when it exists in the data, else the alphabetically first label.
func selectFocusSeries(rows []datatypes.ResultRow, hint *datatypes.ThumbnailHint) string {
	labels := make(map[string]struct{}, 4)
	for _, r := range rows {
		labels[r.Series] = struct{}{}
	}
	if hint != nil && hint.FocusSeries != "" {
		if _, ok := labels[hint.FocusSeries]; ok {
			return hint.FocusSeries
		}
	}
	sorted := make([]string, 0, len(labels))
	for l := range labels {
		sorted = append(sorted, l)
	}
	sort.Strings(sorted)
	return sorted[0]
}

// filterSeries returns the rows of one series, preserving order.
func filterSeries(rows []datatypes.ResultRow, label string) []datatypes.ResultRow {
	out := make([]datatypes.ResultRow, 0, len(rows))
	for _, r := range rows {
		if r.Series == label {
			out = append(out, r)
		}
	}
	return out
}

// countSeries counts distinct series labels across the whole row set.
func countSeries(rows []datatypes.ResultRow) int {
	labels := make(map[string]struct{}, 4)
	for _, r := range rows {
		labels[r.Series] = struct{}{}
	}
	return len(labels)
}

// normalizeUnit folds case and treats empty as the absent unit.
func normalizeUnit(u string) string {
	return strings.ToLower(strings.TrimSpace(u))
}

// hasMixedUnits reports whether the focus series carries more than one
// distinct normalized unit. Null/empty units are equivalent to each other
// but distinct from any concrete unit.
func hasMixedUnits(focus []datatypes.ResultRow) bool {
	seen := ""
	found := false
	for _, r := range focus {
		u := normalizeUnit(r.Unit)
		if !found {
			seen = u
			found = true
			continue
		}
		if u != seen {
			return true
		}
	}
	return false
}

// singleUnit returns the focus series' one normalized unit, or "" when the
// series is empty or unitless.
func singleUnit(focus []datatypes.ResultRow) string {
	for _, r := range focus {
		if u := normalizeUnit(r.Unit); u != "" {
			return u
		}
	}
	return ""
}

// deriveStatus resolves the thumbnail status per the precedence rules:
// mixed units force unknown, then a valid non-unknown hint wins, then the
// latest point is judged against its own reference bounds.
func deriveStatus(focus []datatypes.ResultRow, hint *datatypes.ThumbnailHint, mixedUnits bool) datatypes.TrendStatus {
	if mixedUnits {
		return datatypes.StatusUnknown
	}
	if hint != nil && hint.StatusHint != "" && hint.StatusHint != datatypes.StatusUnknown {
		return hint.StatusHint
	}
	if len(focus) == 0 {
		return datatypes.StatusUnknown
	}
	latest := focus[len(focus)-1]
	if latest.RefLow == nil && latest.RefHigh == nil {
		return datatypes.StatusUnknown
	}
	if latest.RefHigh != nil && latest.Value > *latest.RefHigh {
		return datatypes.StatusHigh
	}
	if latest.RefLow != nil && latest.Value < *latest.RefLow {
		return datatypes.StatusLow
	}
	return datatypes.StatusNormal
}

// classifyDirection maps a rounded delta percentage to a direction.
func classifyDirection(pct float64) datatypes.DeltaDirection {
	switch {
	case pct > 1:
		return datatypes.DirectionUp
	case pct < -1:
		return datatypes.DirectionDown
	default:
		return datatypes.DirectionStable
	}
}

// renderPeriod renders an elapsed span in the coarsest unit that keeps the
// value at or above one: years (>=365d), months (>=30d), weeks (>=7d),
// else days. The value is rounded.
func renderPeriod(elapsedMillis int64) string {
	days := float64(elapsedMillis) / float64(24*60*60*1000)
	switch {
	case days >= 365:
		return fmt.Sprintf("%dy", int64(math.Round(days/365)))
	case days >= 30:
		return fmt.Sprintf("%dm", int64(math.Round(days/30)))
	case days >= 7:
		return fmt.Sprintf("%dw", int64(math.Round(days/7)))
	default:
		return fmt.Sprintf("%dd", int64(math.Round(days)))
	}
}

// values projects a row slice onto its measurement values.
func values(rows []datatypes.ResultRow) []float64 {
	out := make([]float64, len(rows))
	for i, r := range rows {
		out[i] = r.Value
	}
	return out
}

// =============================================================================
// Downsampling
// =============================================================================

// Downsample reduces a value series to at most max points.
//
// # Description
//
// The first and last values are always preserved exactly. Interior points
// are selected at a uniform stride through the remaining values. Inputs
// already at or under the ceiling pass through unchanged (a copy is
// returned so callers cannot alias the input). An empty input yields [0],
// the canonical empty sparkline.
//
// # Inputs
//
//   - vals: the focus series' values in timestamp order.
//   - max: the output ceiling; values below 2 are treated as 2.
//
// # Outputs
//
//   - []float64: min(len(vals), max) points, or [0] for empty input.
func Downsample(vals []float64, max int) []float64 {
	if len(vals) == 0 {
		return []float64{0}
	}
	if max < 2 {
		max = 2
	}
	if len(vals) <= max {
		out := make([]float64, len(vals))
		copy(out, vals)
		return out
	}
	out := make([]float64, max)
	stride := float64(len(vals)-1) / float64(max-1)
	for i := 0; i < max; i++ {
		out[i] = vals[int(math.Round(float64(i)*stride))]
	}
	out[0] = vals[0]
	out[max-1] = vals[len(vals)-1]
	return out
}
