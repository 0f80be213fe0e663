// Copyright (C) 2025 Cairn Health (oss@cairnhealth.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datatypes

// RawRow is one untrusted query-result row before sanitization.
//
// # Description
//
// RawRow is what the query executor and the LLM's tool parameters hand us:
// the timestamp may be an ISO-8601 string or a numeric epoch, the value may
// be missing or non-finite, the unit may be absent entirely. Nothing in a
// RawRow may be trusted until it has passed the row sanitizer.
//
// # Fields
//
//   - Timestamp: ISO-8601 string (offsetless means UTC) or numeric epoch.
//     Numeric values below 10^12 are seconds, values at or above are
//     milliseconds.
//   - Value: the measurement. Must decode to a finite number to be valid.
//   - Series: measurement series label, e.g. "Hemoglobin A1c".
//   - Unit: unit of measure. A nil pointer means the field was absent,
//     which invalidates the row; an empty string is allowed.
//   - RefLow/RefHigh: optional reference range bounds for the measurement.
type RawRow struct {
	Timestamp any      `json:"timestamp"`
	Value     any      `json:"value"`
	Series    string   `json:"series"`
	Unit      *string  `json:"unit"`
	RefLow    *float64 `json:"ref_low,omitempty"`
	RefHigh   *float64 `json:"ref_high,omitempty"`
}

// ResultRow is a sanitized, immutable query-result row.
//
// A ResultRow only exists as the output of the row sanitizer: its timestamp
// resolved to Unix milliseconds UTC, its value finite, its series label
// non-empty and its unit present (possibly empty). Sanitized row sets are
// always stable-sorted ascending by Timestamp.
type ResultRow struct {
	Timestamp int64    `json:"timestamp"`
	Value     float64  `json:"value"`
	Series    string   `json:"series"`
	Unit      string   `json:"unit"`
	RefLow    *float64 `json:"ref_low,omitempty"`
	RefHigh   *float64 `json:"ref_high,omitempty"`
}
