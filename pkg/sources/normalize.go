// Package sources contains the concrete backend adapters: each one fronts a
// single upstream (the Firestore-backed cloud service, the local HTTP
// server, the BigQuery archive) and normalizes its idiosyncratic payloads
// into the canonical shapes in pkg/telemetry.
//
// Normalization is deliberately tolerant. Backends rename fields across
// firmware and schema revisions, so every extraction walks an ordered list
// of candidate keys and the first usable value wins. Records that cannot
// yield a stable id are dropped from collections rather than propagated as
// errors.
package sources

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/illmade-knight/go-devicedata/pkg/telemetry"
)

// firstNumber walks candidate keys in order and returns the first value
// that cleans to a number, or nil when none does.
func firstNumber(raw map[string]any, keys ...string) *float64 {
	for _, key := range keys {
		if v, ok := raw[key]; ok {
			if n := cleanNumber(v); n != nil {
				return n
			}
		}
	}
	return nil
}

// firstString walks candidate keys in order and returns the first non-empty
// string value.
func firstString(raw map[string]any, keys ...string) string {
	for _, key := range keys {
		if v, ok := raw[key]; ok {
			if s, ok := v.(string); ok && !isAbsentString(s) {
				return strings.TrimSpace(s)
			}
		}
	}
	return ""
}

// firstTime walks candidate keys in order and returns the first parseable
// timestamp. The zero time means "no timestamp", which merge-by-recency
// treats as the oldest possible instant.
func firstTime(raw map[string]any, keys ...string) time.Time {
	for _, key := range keys {
		if v, ok := raw[key]; ok {
			if t := parseTimestamp(v); !t.IsZero() {
				return t
			}
		}
	}
	return time.Time{}
}

// cleanNumber coerces the value shapes backends actually send (numbers,
// numeric strings, json.Number) into a float, rejecting NaN and the
// absent-value spellings ("", "nan", "n/a", "null", "undefined").
func cleanNumber(v any) *float64 {
	switch n := v.(type) {
	case float64:
		if math.IsNaN(n) {
			return nil
		}
		return &n
	case float32:
		f := float64(n)
		return &f
	case int:
		f := float64(n)
		return &f
	case int64:
		f := float64(n)
		return &f
	case json.Number:
		if f, err := n.Float64(); err == nil {
			return &f
		}
	case string:
		if isAbsentString(n) {
			return nil
		}
		if f, err := strconv.ParseFloat(strings.TrimSpace(n), 64); err == nil && !math.IsNaN(f) {
			return &f
		}
	}
	return nil
}

func isAbsentString(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "nan", "n/a", "null", "undefined":
		return true
	}
	return false
}

// parseTimestamp accepts RFC3339 strings, unix seconds, unix milliseconds
// and time.Time values. Anything else yields the zero time.
func parseTimestamp(v any) time.Time {
	switch t := v.(type) {
	case time.Time:
		return t
	case string:
		for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02 15:04:05"} {
			if parsed, err := time.Parse(layout, t); err == nil {
				return parsed
			}
		}
	case float64:
		return unixTimestamp(t)
	case int64:
		return unixTimestamp(float64(t))
	case int:
		return unixTimestamp(float64(t))
	case json.Number:
		if f, err := t.Float64(); err == nil {
			return unixTimestamp(f)
		}
	}
	return time.Time{}
}

// unixTimestamp distinguishes seconds from milliseconds by magnitude:
// anything below 1e10 is seconds.
func unixTimestamp(n float64) time.Time {
	if n <= 0 {
		return time.Time{}
	}
	if n < 1e10 {
		return time.Unix(int64(n), 0).UTC()
	}
	return time.UnixMilli(int64(n)).UTC()
}

// airQualityFromCO2 buckets a CO2 concentration (ppm) into the dashboard's
// air-quality bands.
func airQualityFromCO2(co2 *float64) string {
	if co2 == nil {
		return ""
	}
	switch {
	case *co2 < 400:
		return "excellent"
	case *co2 < 1000:
		return "good"
	case *co2 < 2000:
		return "moderate"
	case *co2 < 5000:
		return "poor"
	default:
		return "hazardous"
	}
}

// statusFromLastSeen infers a device status from the age of its last
// contact when the backend reports none.
func statusFromLastSeen(lastSeen, now time.Time) string {
	if lastSeen.IsZero() {
		return "unknown"
	}
	age := now.Sub(lastSeen)
	switch {
	case age < 5*time.Minute:
		return "active"
	case age < 30*time.Minute:
		return "warning"
	default:
		return "inactive"
	}
}

var statusAliases = map[string]string{
	"online":   "active",
	"offline":  "inactive",
	"healthy":  "active",
	"error":    "error",
	"warning":  "warning",
	"active":   "active",
	"inactive": "inactive",
}

func mapStatus(status string) string {
	if mapped, ok := statusAliases[strings.ToLower(status)]; ok {
		return mapped
	}
	return "unknown"
}

// asList accepts the collection shapes backends send: a bare JSON array, or
// a map of id to record (in which case the key backfills a missing id).
func asList(v any) []map[string]any {
	switch c := v.(type) {
	case []any:
		out := make([]map[string]any, 0, len(c))
		for _, item := range c {
			if m, ok := item.(map[string]any); ok {
				out = append(out, m)
			}
		}
		return out
	case []map[string]any:
		return c
	case map[string]any:
		out := make([]map[string]any, 0, len(c))
		for id, item := range c {
			m, ok := item.(map[string]any)
			if !ok {
				continue
			}
			if _, hasID := m["id"]; !hasID {
				m["id"] = id
			}
			out = append(out, m)
		}
		return out
	}
	return nil
}

// unwrapEnvelope strips the optional {"data": [...]} / {"devices": [...]}
// wrappers some endpoints add around their collections.
func unwrapEnvelope(v any, wrappers ...string) any {
	if m, ok := v.(map[string]any); ok {
		for _, w := range wrappers {
			if inner, ok := m[w]; ok {
				return inner
			}
		}
	}
	return v
}

// normalizeAlert maps one raw alert into the canonical shape, synthesizing
// an id when the payload carries none.
func normalizeAlert(raw map[string]any) telemetry.Alert {
	id := firstString(raw, "alert_id", "id", "uid")
	if id == "" {
		id = uuid.NewString()
	}
	return telemetry.Alert{
		ID:        id,
		DeviceID:  firstString(raw, "device_id", "deviceId"),
		Type:      defaultString(firstString(raw, "alert_type", "type"), "info"),
		Message:   firstString(raw, "alert_message", "message", "text"),
		Severity:  normalizeSeverity(raw),
		Timestamp: firstTime(raw, "timestamp", "created_at"),
	}
}

func normalizeAlerts(v any) []telemetry.Alert {
	items := asList(v)
	if len(items) == 0 {
		return nil
	}
	alerts := make([]telemetry.Alert, 0, len(items))
	for _, item := range items {
		alerts = append(alerts, normalizeAlert(item))
	}
	return alerts
}

// normalizeSeverity handles both the string severities the cloud side sends
// and the numeric severity_level codes of the local server (>=3 high,
// >=2 medium, else low).
func normalizeSeverity(raw map[string]any) string {
	if n := firstNumber(raw, "severity_level", "severity"); n != nil {
		switch {
		case *n >= 3:
			return "high"
		case *n >= 2:
			return "medium"
		default:
			return "low"
		}
	}
	return defaultString(firstString(raw, "severity"), "low")
}

func defaultString(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}
