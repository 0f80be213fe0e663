// Copyright (C) 2025 Cairn Health (oss@cairnhealth.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package series implements the pure functions of the result pipeline:
// row sanitization and thumbnail derivation.
//
// Nothing in this package performs I/O or holds state. Inputs are
// untrusted query-result rows (from the query executor or from LLM tool
// parameters); outputs are immutable sanitized row sets and derived
// thumbnails. Invalid rows are dropped, never coerced.
package series

import (
	"math"
	"sort"
	"strconv"
	"time"

	"github.com/cairnhealth/cairn/services/orchestrator/datatypes"
)

// epochMillisCutoff separates second-resolution epochs from millisecond
// ones. Numeric timestamps below this are seconds and are scaled by 1000.
const epochMillisCutoff = 1e12

// offsetlessLayouts are the ISO-8601 layouts accepted when the timestamp
// carries no zone offset. Absent offset means UTC.
var offsetlessLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// Sanitize validates, normalizes and sorts a raw row set.
//
// # Description
//
// A row is kept iff all predicates hold:
//   - its timestamp parses (ISO-8601 with or without offset, or numeric
//     epoch with the seconds/milliseconds heuristic),
//   - its value is a finite number,
//   - its series label is a non-empty string,
//   - its unit field is present (empty string allowed, absence is not).
//
// Rows failing any predicate are dropped, not coerced. The output is
// stable-sorted ascending by resolved timestamp, so equal-timestamp rows
// keep their input order. Sanitize is idempotent: re-sanitizing its own
// output changes nothing.
//
// # Inputs
//
//   - raw: untrusted rows. May be nil or contain arbitrary garbage.
//
// # Outputs
//
//   - []datatypes.ResultRow: valid rows in ascending timestamp order.
//     Never nil; empty slice when nothing survives.
func Sanitize(raw []datatypes.RawRow) []datatypes.ResultRow {
	rows := make([]datatypes.ResultRow, 0, len(raw))
	for _, r := range raw {
		ts, ok := ParseTimestamp(r.Timestamp)
		if !ok {
			continue
		}
		v, ok := parseValue(r.Value)
		if !ok {
			continue
		}
		if r.Series == "" || r.Unit == nil {
			continue
		}
		rows = append(rows, datatypes.ResultRow{
			Timestamp: ts,
			Value:     v,
			Series:    r.Series,
			Unit:      *r.Unit,
			RefLow:    r.RefLow,
			RefHigh:   r.RefHigh,
		})
	}
	sort.SliceStable(rows, func(i, j int) bool {
		return rows[i].Timestamp < rows[j].Timestamp
	})
	return rows
}

// AsRaw converts sanitized rows back to the raw representation.
//
// Useful for round-trip checks and for callers that merge already-clean
// rows with untrusted ones before a single Sanitize pass.
func AsRaw(rows []datatypes.ResultRow) []datatypes.RawRow {
	raw := make([]datatypes.RawRow, 0, len(rows))
	for _, r := range rows {
		unit := r.Unit
		raw = append(raw, datatypes.RawRow{
			Timestamp: r.Timestamp,
			Value:     r.Value,
			Series:    r.Series,
			Unit:      &unit,
			RefLow:    r.RefLow,
			RefHigh:   r.RefHigh,
		})
	}
	return raw
}

// ParseTimestamp resolves an untrusted timestamp to Unix milliseconds UTC.
//
// # Description
//
// Accepts ISO-8601 strings with an explicit offset (RFC 3339), offsetless
// ISO-8601 strings (interpreted as UTC), and numeric epochs. Numeric
// values below 10^12 are interpreted as seconds and multiplied by 1000;
// values at or above 10^12 are already milliseconds. Numeric strings are
// accepted on the same terms.
//
// # Outputs
//
//   - int64: resolved Unix milliseconds.
//   - bool: false when the input is unparsable (nil, wrong type, garbage
//     string, non-finite number).
func ParseTimestamp(v any) (int64, bool) {
	switch t := v.(type) {
	case string:
		if t == "" {
			return 0, false
		}
		if parsed, err := time.Parse(time.RFC3339Nano, t); err == nil {
			return parsed.UnixMilli(), true
		}
		for _, layout := range offsetlessLayouts {
			if parsed, err := time.ParseInLocation(layout, t, time.UTC); err == nil {
				return parsed.UnixMilli(), true
			}
		}
		if f, err := strconv.ParseFloat(t, 64); err == nil {
			return epochToMillis(f)
		}
		return 0, false
	case float64:
		return epochToMillis(t)
	case float32:
		return epochToMillis(float64(t))
	case int:
		return epochToMillis(float64(t))
	case int64:
		return epochToMillis(float64(t))
	case time.Time:
		return t.UnixMilli(), true
	default:
		return 0, false
	}
}

// epochToMillis applies the seconds/milliseconds cutoff heuristic.
func epochToMillis(f float64) (int64, bool) {
	if math.IsNaN(f) || math.IsInf(f, 0) || f < 0 {
		return 0, false
	}
	if f < epochMillisCutoff {
		return int64(f * 1000), true
	}
	return int64(f), true
}

// parseValue extracts a finite float64 from an untrusted value.
func parseValue(v any) (float64, bool) {
	var f float64
	switch t := v.(type) {
	case float64:
		f = t
	case float32:
		f = float64(t)
	case int:
		f = float64(t)
	case int64:
		f = float64(t)
	case string:
		parsed, err := strconv.ParseFloat(t, 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}
