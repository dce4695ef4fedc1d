package telemetry

import (
	"sort"
	"time"
)

// MetricStats summarizes one metric across a reading set. All fields are nil
// when the metric has no reported values: consumers receive explicit absence,
// never NaN.
type MetricStats struct {
	Min     *float64 `json:"min"`
	Max     *float64 `json:"max"`
	Avg     *float64 `json:"avg"`
	Current *float64 `json:"current"`
}

// DeviceStats is the derived per-device view over its current reading set.
type DeviceStats struct {
	DeviceID         string      `json:"deviceId"`
	TemperatureStats MetricStats `json:"temperatureStats"`
	HumidityStats    MetricStats `json:"humidityStats"`
	ReadingCount     int         `json:"readingCount"`
	LastUpdated      *time.Time  `json:"lastUpdated"`
}

// ComputeDeviceStats derives min/max/avg/current statistics for temperature
// and humidity from a set of readings. Readings are considered newest-first
// by timestamp; Current is whatever the newest reading carries for the
// metric, even when that is nil.
func ComputeDeviceStats(deviceID string, readings []Reading) DeviceStats {
	if len(readings) == 0 {
		return DeviceStats{DeviceID: deviceID}
	}

	sorted := make([]Reading, len(readings))
	copy(sorted, readings)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Timestamp.After(sorted[j].Timestamp)
	})

	newest := sorted[0].Timestamp
	return DeviceStats{
		DeviceID:         deviceID,
		TemperatureStats: computeMetric(sorted, func(r Reading) *float64 { return r.Temperature }),
		HumidityStats:    computeMetric(sorted, func(r Reading) *float64 { return r.Humidity }),
		ReadingCount:     len(readings),
		LastUpdated:      &newest,
	}
}

func computeMetric(sorted []Reading, value func(Reading) *float64) MetricStats {
	var values []float64
	for _, r := range sorted {
		if v := value(r); v != nil {
			values = append(values, *v)
		}
	}
	if len(values) == 0 {
		return MetricStats{}
	}

	minV, maxV, sum := values[0], values[0], 0.0
	for _, v := range values {
		if v < minV {
			minV = v
		}
		if v > maxV {
			maxV = v
		}
		sum += v
	}
	avg := sum / float64(len(values))

	return MetricStats{
		Min:     &minV,
		Max:     &maxV,
		Avg:     &avg,
		Current: value(sorted[0]),
	}
}
