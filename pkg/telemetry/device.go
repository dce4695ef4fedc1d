// Package telemetry defines the canonical record shapes produced by source
// adapters and consumed by the repositories: device snapshots, individual
// sensor readings, and the statistics derived from them.
package telemetry

import "time"

// Device is a normalized snapshot of one sensor device. Each fetch produces a
// brand-new immutable value; merging never mutates a source record in place.
//
// Optional metrics are pointers so that "the source did not report this" is
// distinguishable from a reported zero.
type Device struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Room string `json:"room"`

	Temperature *float64 `json:"temperature"`
	Humidity    *float64 `json:"humidity"`
	CO2         *float64 `json:"co2,omitempty"`
	Pressure    *float64 `json:"pressure,omitempty"`

	// AirQuality is derived from CO2 during normalization.
	AirQuality string `json:"airQuality,omitempty"`
	Status     string `json:"status"`

	// LastSeen is the cloud-side recency stamp; LastUpdate is the local
	// server's. Merge-by-recency compares each side's best-available stamp
	// and treats a zero time as the oldest possible instant.
	LastSeen   time.Time `json:"lastSeen"`
	LastUpdate time.Time `json:"lastUpdate,omitempty"`

	// Stats carries server-side aggregates. The local server is the
	// statistics source of record.
	Stats *DeviceSummary `json:"stats,omitempty"`

	Alerts []Alert `json:"alerts,omitempty"`

	// Source tags which adapter produced this record.
	Source string `json:"source"`
}

// DeviceSummary holds the aggregates a backend reports alongside a device.
type DeviceSummary struct {
	MinTemperature *float64 `json:"minTemperature,omitempty"`
	MaxTemperature *float64 `json:"maxTemperature,omitempty"`
	AvgTemperature *float64 `json:"avgTemperature,omitempty"`
	ReadingsCount  int      `json:"readingsCount"`
}

// Alert is a normalized device alert.
type Alert struct {
	ID        string    `json:"id"`
	DeviceID  string    `json:"deviceId"`
	Type      string    `json:"type"`
	Message   string    `json:"message"`
	Severity  string    `json:"severity"`
	Timestamp time.Time `json:"timestamp"`
}

// Reading is one normalized time-series sample for a device.
type Reading struct {
	DeviceID    string    `json:"deviceId"`
	Timestamp   time.Time `json:"timestamp"`
	Temperature *float64  `json:"temperature"`
	Humidity    *float64  `json:"humidity"`
	CO2         *float64  `json:"co2,omitempty"`
	Pressure    *float64  `json:"pressure,omitempty"`
	Source      string    `json:"source,omitempty"`
}
