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

func strPtr(s string) *string { return &s }

func rawRow(ts any, value any, seriesLabel string, unit *string) datatypes.RawRow {
	return datatypes.RawRow{Timestamp: ts, Value: value, Series: seriesLabel, Unit: unit}
}

// TestSanitize_DropsInvalidRows verifies each validity predicate
// independently: unparsable timestamp, non-finite value, empty series,
// absent unit.
func TestSanitize_DropsInvalidRows(t *testing.T) {
	tests := []struct {
		name string
		row  datatypes.RawRow
		kept bool
	}{
		{"valid iso date", rawRow("2024-01-01", 10.0, "A1c", strPtr("mg/dL")), true},
		{"valid rfc3339 with offset", rawRow("2024-01-01T08:30:00+02:00", 5.0, "A1c", strPtr("%")), true},
		{"valid offsetless datetime", rawRow("2024-01-01T08:30:00", 5.0, "A1c", strPtr("%")), true},
		{"valid epoch seconds", rawRow(float64(1704067200), 1.0, "A1c", strPtr("")), true},
		{"valid epoch millis", rawRow(float64(1704067200000), 1.0, "A1c", strPtr("")), true},
		{"empty unit string allowed", rawRow("2024-01-01", 1.0, "A1c", strPtr("")), true},
		{"garbage timestamp", rawRow("not a date", 1.0, "A1c", strPtr("u")), false},
		{"nil timestamp", rawRow(nil, 1.0, "A1c", strPtr("u")), false},
		{"nan value", rawRow("2024-01-01", math.NaN(), "A1c", strPtr("u")), false},
		{"inf value", rawRow("2024-01-01", math.Inf(1), "A1c", strPtr("u")), false},
		{"non-numeric value", rawRow("2024-01-01", "tall", "A1c", strPtr("u")), false},
		{"nil value", rawRow("2024-01-01", nil, "A1c", strPtr("u")), false},
		{"empty series label", rawRow("2024-01-01", 1.0, "", strPtr("u")), false},
		{"absent unit", rawRow("2024-01-01", 1.0, "A1c", nil), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := Sanitize([]datatypes.RawRow{tt.row})
			if tt.kept {
				assert.Len(t, out, 1, "row should survive sanitization")
			} else {
				assert.Empty(t, out, "row should be dropped")
			}
		})
	}
}

// TestSanitize_EpochHeuristic verifies the 10^12 seconds/milliseconds
// cutoff: values below are multiplied by 1000, values at or above pass
// through unchanged.
func TestSanitize_EpochHeuristic(t *testing.T) {
	out := Sanitize([]datatypes.RawRow{
		rawRow(float64(1704067200), 1.0, "A", strPtr("")),    // seconds
		rawRow(float64(1704067200000), 2.0, "A", strPtr("")), // millis
	})
	require.Len(t, out, 2)
	assert.Equal(t, int64(1704067200000), out[0].Timestamp)
	assert.Equal(t, int64(1704067200000), out[1].Timestamp)
}

// TestSanitize_OffsetlessIsUTC verifies that an offsetless ISO-8601
// timestamp resolves identically to the same instant written with an
// explicit Z offset.
func TestSanitize_OffsetlessIsUTC(t *testing.T) {
	out := Sanitize([]datatypes.RawRow{
		rawRow("2024-03-15T12:00:00", 1.0, "A", strPtr("")),
		rawRow("2024-03-15T12:00:00Z", 2.0, "A", strPtr("")),
	})
	require.Len(t, out, 2)
	assert.Equal(t, out[0].Timestamp, out[1].Timestamp)
}

// TestSanitize_SortsAscendingStable verifies ascending timestamp order
// with input order preserved for equal timestamps.
func TestSanitize_SortsAscendingStable(t *testing.T) {
	out := Sanitize([]datatypes.RawRow{
		rawRow("2024-06-01", 3.0, "A", strPtr("")),
		rawRow("2024-01-01", 1.0, "A", strPtr("")),
		rawRow("2024-06-01", 4.0, "B", strPtr("")),
		rawRow("2024-03-01", 2.0, "A", strPtr("")),
	})
	require.Len(t, out, 4)
	assert.Equal(t, []float64{1, 2, 3, 4}, []float64{out[0].Value, out[1].Value, out[2].Value, out[3].Value})
	// Equal timestamps: series A row came first in input and must stay first.
	assert.Equal(t, "A", out[2].Series)
	assert.Equal(t, "B", out[3].Series)
}

// TestSanitize_Idempotent verifies sanitize(sanitize(rows)) == sanitize(rows).
func TestSanitize_Idempotent(t *testing.T) {
	raw := []datatypes.RawRow{
		rawRow("2024-06-01", 3.0, "A", strPtr("mg/dL")),
		rawRow("garbage", 1.0, "A", strPtr("mg/dL")),
		rawRow("2024-01-01", 1.5, "B", strPtr("")),
		rawRow(float64(1704067200), 9.0, "C", strPtr("u")),
	}
	once := Sanitize(raw)
	twice := Sanitize(AsRaw(once))
	assert.Equal(t, once, twice)
}

// TestSanitize_EmptyAndNil verifies empty outputs are non-nil slices.
func TestSanitize_EmptyAndNil(t *testing.T) {
	assert.NotNil(t, Sanitize(nil))
	assert.Empty(t, Sanitize(nil))
	assert.Empty(t, Sanitize([]datatypes.RawRow{}))
}

// TestParseTimestamp_NumericString verifies that numeric epochs smuggled
// as strings are accepted on the same heuristic.
func TestParseTimestamp_NumericString(t *testing.T) {
	ms, ok := ParseTimestamp("1704067200")
	require.True(t, ok)
	assert.Equal(t, int64(1704067200000), ms)
}
