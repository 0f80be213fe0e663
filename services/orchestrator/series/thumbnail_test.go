// Copyright (C) 2025 Cairn Health (oss@cairnhealth.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package series

import (
	"math"
	"testing"

	"github.com/cairnhealth/cairn/services/orchestrator/datatypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func floatPtr(f float64) *float64 { return &f }

func sanitized(ts string, value float64, seriesLabel, unit string) datatypes.RawRow {
	return rawRow(ts, value, seriesLabel, strPtr(unit))
}

// TestDerive_TrendComputation covers the first scenario from the design
// review: two same-unit points, 10 -> 15 over five months.
func TestDerive_TrendComputation(t *testing.T) {
	rows := Sanitize([]datatypes.RawRow{
		sanitized("2024-01-01", 10, "A", "mg/dL"),
		sanitized("2024-06-01", 15, "A", "mg/dL"),
	})
	thumb := Derive(rows, nil, "A1c trend")

	require.NotNil(t, thumb.DeltaPercent)
	assert.Equal(t, float64(50), *thumb.DeltaPercent)
	require.NotNil(t, thumb.DeltaDirection)
	assert.Equal(t, datatypes.DirectionUp, *thumb.DeltaDirection)
	require.NotNil(t, thumb.DeltaPeriod)
	assert.Equal(t, "5m", *thumb.DeltaPeriod)
	assert.Equal(t, []float64{10, 15}, thumb.Sparkline)
	assert.Equal(t, 2, thumb.PointCount)
	assert.Equal(t, 1, thumb.SeriesCount)
}

// TestDerive_MixedUnits verifies the hard override: mixed units force
// status unknown and null trend fields, but the sparkline survives.
func TestDerive_MixedUnits(t *testing.T) {
	rows := Sanitize([]datatypes.RawRow{
		sanitized("2024-01-01", 10, "A", "mg/dL"),
		sanitized("2024-06-01", 15, "A", "mmol/L"),
	})
	// Even an explicit status hint loses to the mixed-unit override.
	hint := &datatypes.ThumbnailHint{StatusHint: datatypes.StatusNormal}
	thumb := Derive(rows, hint, "A1c trend")

	assert.Equal(t, datatypes.StatusUnknown, thumb.Status)
	assert.True(t, thumb.MixedUnits)
	assert.Nil(t, thumb.DeltaPercent)
	assert.Nil(t, thumb.DeltaDirection)
	assert.Nil(t, thumb.DeltaPeriod)
	assert.Nil(t, thumb.Unit)
	assert.Equal(t, []float64{10, 15}, thumb.Sparkline)
}

// TestDerive_Empty verifies the canonical empty thumbnail.
func TestDerive_Empty(t *testing.T) {
	thumb := Derive(nil, nil, "empty")

	assert.Equal(t, datatypes.StatusUnknown, thumb.Status)
	assert.Equal(t, []float64{0}, thumb.Sparkline)
	assert.Equal(t, 0, thumb.PointCount)
	assert.Equal(t, 0, thumb.SeriesCount)
	assert.Nil(t, thumb.Latest)
	assert.Nil(t, thumb.Unit)
	assert.Nil(t, thumb.DeltaPercent)
	assert.Nil(t, thumb.DeltaDirection)
	assert.Nil(t, thumb.DeltaPeriod)
}

// TestDerive_UnitNormalization verifies case-insensitive unit comparison
// with null/empty treated as equivalent.
func TestDerive_UnitNormalization(t *testing.T) {
	rows := Sanitize([]datatypes.RawRow{
		sanitized("2024-01-01", 10, "A", "mg/dL"),
		sanitized("2024-02-01", 11, "A", "MG/DL"),
		sanitized("2024-03-01", 12, "A", "mg/dl"),
	})
	thumb := Derive(rows, nil, "t")
	assert.False(t, thumb.MixedUnits)
	require.NotNil(t, thumb.Unit)
	assert.Equal(t, "mg/dl", *thumb.Unit)
}

// TestDerive_StatusFromBounds checks the reference-range judgement on the
// latest point.
func TestDerive_StatusFromBounds(t *testing.T) {
	mk := func(low, high *float64, value float64) []datatypes.ResultRow {
		row := datatypes.RawRow{
			Timestamp: "2024-01-01", Value: value, Series: "A", Unit: strPtr("u"),
			RefLow: low, RefHigh: high,
		}
		return Sanitize([]datatypes.RawRow{row})
	}

	tests := []struct {
		name string
		rows []datatypes.ResultRow
		want datatypes.TrendStatus
	}{
		{"above high", mk(floatPtr(1), floatPtr(10), 12), datatypes.StatusHigh},
		{"below low", mk(floatPtr(5), floatPtr(10), 2), datatypes.StatusLow},
		{"inside bounds", mk(floatPtr(1), floatPtr(10), 5), datatypes.StatusNormal},
		{"only high bound satisfied", mk(nil, floatPtr(10), 5), datatypes.StatusNormal},
		{"only low bound satisfied", mk(floatPtr(1), nil, 5), datatypes.StatusNormal},
		{"no bounds", mk(nil, nil, 5), datatypes.StatusUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Derive(tt.rows, nil, "t").Status)
		})
	}
}

// TestDerive_HintStatusTrusted verifies a valid non-unknown hint status is
// used verbatim when units are not mixed.
func TestDerive_HintStatusTrusted(t *testing.T) {
	rows := Sanitize([]datatypes.RawRow{sanitized("2024-01-01", 10, "A", "u")})
	hint := &datatypes.ThumbnailHint{StatusHint: datatypes.StatusHigh}
	assert.Equal(t, datatypes.StatusHigh, Derive(rows, hint, "t").Status)

	// An unknown hint defers to the data (no bounds here -> unknown).
	hint = &datatypes.ThumbnailHint{StatusHint: datatypes.StatusUnknown}
	assert.Equal(t, datatypes.StatusUnknown, Derive(rows, hint, "t").Status)
}

// TestDerive_MalformedHintFallsBack verifies a hint with a bad enum is
// ignored rather than failing derivation.
func TestDerive_MalformedHintFallsBack(t *testing.T) {
	rows := Sanitize([]datatypes.RawRow{
		sanitized("2024-01-01", 10, "A", "u"),
		sanitized("2024-02-01", 20, "A", "u"),
	})
	hint := &datatypes.ThumbnailHint{StatusHint: datatypes.TrendStatus("critical")}
	thumb := Derive(rows, hint, "t")

	assert.Equal(t, datatypes.StatusUnknown, thumb.Status, "falls back to data-derived status")
	require.NotNil(t, thumb.DeltaPercent, "derivation itself still completes")
	assert.Equal(t, float64(100), *thumb.DeltaPercent)
}

// TestDerive_FocusSeriesSelection verifies hinted selection with
// alphabetical fallback.
func TestDerive_FocusSeriesSelection(t *testing.T) {
	rows := Sanitize([]datatypes.RawRow{
		sanitized("2024-01-01", 1, "Zinc", "u"),
		sanitized("2024-01-01", 2, "Albumin", "u"),
	})

	t.Run("alphabetical default", func(t *testing.T) {
		thumb := Derive(rows, nil, "t")
		require.NotNil(t, thumb.Latest)
		assert.Equal(t, float64(2), *thumb.Latest)
		assert.Equal(t, 2, thumb.SeriesCount)
		assert.Equal(t, 1, thumb.PointCount)
	})

	t.Run("hint picks named series", func(t *testing.T) {
		hint := &datatypes.ThumbnailHint{FocusSeries: "Zinc"}
		thumb := Derive(rows, hint, "t")
		require.NotNil(t, thumb.Latest)
		assert.Equal(t, float64(1), *thumb.Latest)
	})

	t.Run("hint for absent series ignored", func(t *testing.T) {
		hint := &datatypes.ThumbnailHint{FocusSeries: "Iron"}
		thumb := Derive(rows, hint, "t")
		require.NotNil(t, thumb.Latest)
		assert.Equal(t, float64(2), *thumb.Latest)
	})
}

// TestDerive_ZeroFirstValue verifies delta fields are nil when the first
// point is zero but the period is still rendered.
func TestDerive_ZeroFirstValue(t *testing.T) {
	rows := Sanitize([]datatypes.RawRow{
		sanitized("2024-01-01", 0, "A", "u"),
		sanitized("2024-01-15", 5, "A", "u"),
	})
	thumb := Derive(rows, nil, "t")
	assert.Nil(t, thumb.DeltaPercent)
	assert.Nil(t, thumb.DeltaDirection)
	require.NotNil(t, thumb.DeltaPeriod)
	assert.Equal(t, "2w", *thumb.DeltaPeriod)
}

// TestDerive_TotalFunction throws hostile inputs at Derive and asserts it
// always returns a structurally valid thumbnail.
func TestDerive_TotalFunction(t *testing.T) {
	inputs := [][]datatypes.RawRow{
		nil,
		{},
		{rawRow(nil, nil, "", nil)},
		{rawRow("2024-01-01", math.NaN(), "A", strPtr("u"))},
		{rawRow(math.Inf(-1), 1.0, "A", strPtr("u"))},
	}
	hints := []*datatypes.ThumbnailHint{
		nil,
		{},
		{StatusHint: datatypes.TrendStatus("bogus")},
		{FocusSeries: "nope", StatusHint: datatypes.StatusLow},
	}
	for _, in := range inputs {
		for _, h := range hints {
			thumb := Derive(Sanitize(in), h, "t")
			assert.True(t, thumb.Status.Valid())
			assert.NotEmpty(t, thumb.Sparkline)
		}
	}
}

// TestDownsample_Properties verifies output length min(L, 30), exact
// first/last preservation, and pass-through below the ceiling.
func TestDownsample_Properties(t *testing.T) {
	t.Run("forty increasing values", func(t *testing.T) {
		vals := make([]float64, 40)
		for i := range vals {
			vals[i] = float64(i * 3)
		}
		out := Downsample(vals, MaxSparklinePoints)
		require.Len(t, out, 30)
		assert.Equal(t, vals[0], out[0])
		assert.Equal(t, vals[39], out[29])
	})

	t.Run("pass-through at or under ceiling", func(t *testing.T) {
		for _, l := range []int{1, 2, 15, 29, 30} {
			vals := make([]float64, l)
			for i := range vals {
				vals[i] = float64(i)
			}
			out := Downsample(vals, MaxSparklinePoints)
			assert.Equal(t, vals, out, "length %d should pass through", l)
		}
	})

	t.Run("lengths above ceiling", func(t *testing.T) {
		for _, l := range []int{31, 50, 100, 1000} {
			vals := make([]float64, l)
			for i := range vals {
				vals[i] = float64(i)
			}
			out := Downsample(vals, MaxSparklinePoints)
			require.Len(t, out, 30, "length %d", l)
			assert.Equal(t, vals[0], out[0])
			assert.Equal(t, vals[l-1], out[29])
		}
	})

	t.Run("empty yields canonical zero", func(t *testing.T) {
		assert.Equal(t, []float64{0}, Downsample(nil, MaxSparklinePoints))
	})
}
