package sources

import (
	"time"

	"github.com/illmade-knight/go-devicedata/pkg/telemetry"
)

// NormalizeFirebaseDevice maps one raw cloud-side device document into the
// canonical shape. It returns nil when the document has no resolvable id;
// collection normalization drops such records.
func NormalizeFirebaseDevice(raw map[string]any, now time.Time) *telemetry.Device {
	if raw == nil {
		return nil
	}
	id := firstString(raw, "id", "uid", "deviceId")
	if id == "" {
		return nil
	}

	co2 := firstNumber(raw, "co2_immediate", "co2", "carbon_dioxide", "last_co2", "avg_co2")
	lastSeen := firstTime(raw, "last_seen", "lastUpdate", "timestamp")

	status := firstString(raw, "status")
	if status == "" {
		status = statusFromLastSeen(lastSeen, now)
	} else {
		status = mapStatus(status)
	}

	return &telemetry.Device{
		ID:   id,
		Name: defaultString(firstString(raw, "name", "device_name"), "Unknown Device"),
		Room: defaultString(firstString(raw, "room", "location"), "Unknown"),
		Temperature: firstNumber(raw,
			"temperature_immediate", "temp", "temperature", "last_temperature",
			"avg_temperature", "current_temperature", "temp_c", "value_temperature"),
		Humidity: firstNumber(raw,
			"humidity_immediate", "humidity", "last_humidity", "avg_humidity",
			"current_humidity", "rh", "value_humidity"),
		CO2:        co2,
		Pressure:   firstNumber(raw, "pressure_immediate", "pressure", "barometric_pressure", "last_pressure", "avg_pressure"),
		AirQuality: airQualityFromCO2(co2),
		Status:     status,
		LastSeen:   lastSeen,
		Alerts:     normalizeAlerts(raw["alerts"]),
		Source:     "firebase",
	}
}

// NormalizeFirebaseDevices maps a raw device collection, dropping records
// without an id.
func NormalizeFirebaseDevices(raw any, now time.Time) []telemetry.Device {
	items := asList(raw)
	devices := make([]telemetry.Device, 0, len(items))
	for _, item := range items {
		if device := NormalizeFirebaseDevice(item, now); device != nil {
			devices = append(devices, *device)
		}
	}
	return devices
}

// NormalizeFirebaseReading maps one raw cloud-side reading.
func NormalizeFirebaseReading(raw map[string]any) telemetry.Reading {
	return telemetry.Reading{
		DeviceID:    firstString(raw, "device_id", "deviceId"),
		Timestamp:   firstTime(raw, "timestamp", "time"),
		Temperature: firstNumber(raw, "temperature_immediate", "temp", "temperature"),
		Humidity:    firstNumber(raw, "humidity_immediate", "humidity"),
		CO2:         firstNumber(raw, "co2_immediate", "co2"),
		Pressure:    firstNumber(raw, "pressure_immediate", "pressure"),
		Source:      "firebase",
	}
}

// NormalizeLocalDevice maps one raw record from the local server, which
// reports snake_case columns and rolling aggregates alongside the live
// values. Returns nil when no id can be resolved.
func NormalizeLocalDevice(raw map[string]any) *telemetry.Device {
	if raw == nil {
		return nil
	}
	id := firstString(raw, "sensor_id", "device_id", "id")
	if id == "" {
		return nil
	}

	name := firstString(raw, "device_name", "name")
	if room := firstString(raw, "room_name"); room != "" {
		name = room + " Sensor"
	}

	co2 := firstNumber(raw, "avg_co2", "current_co2", "co2")

	return &telemetry.Device{
		ID:   id,
		Name: defaultString(name, "Unknown Device"),
		Room: defaultString(firstString(raw, "room_name", "location"), "Unknown"),
		Temperature: firstNumber(raw,
			"last_temperature", "temp", "avg_temperature", "current_temperature", "temperature"),
		Humidity: firstNumber(raw,
			"last_humidity", "rh", "avg_humidity", "current_humidity", "humidity"),
		CO2:        co2,
		Pressure:   firstNumber(raw, "avg_pressure", "current_pressure", "pressure"),
		AirQuality: airQualityFromCO2(co2),
		Status:     localStatus(raw),
		LastSeen:   firstTime(raw, "last_seen", "updated_at", "last_update", "timestamp"),
		LastUpdate: firstTime(raw, "last_update", "updated_at", "created_at"),
		Stats:      localSummary(raw),
		Alerts:     normalizeAlerts(firstPresent(raw, "alerts", "active_alerts")),
		Source:     "local",
	}
}

// NormalizeLocalDevices maps a raw device collection from the local server.
func NormalizeLocalDevices(raw any) []telemetry.Device {
	items := asList(unwrapEnvelope(raw, "data", "devices"))
	devices := make([]telemetry.Device, 0, len(items))
	for _, item := range items {
		if device := NormalizeLocalDevice(item); device != nil {
			devices = append(devices, *device)
		}
	}
	return devices
}

// NormalizeLocalReading maps one raw reading row from the local server.
func NormalizeLocalReading(raw map[string]any) telemetry.Reading {
	return telemetry.Reading{
		DeviceID:    firstString(raw, "sensor_id", "device_id"),
		Timestamp:   firstTime(raw, "timestamp", "time"),
		Temperature: firstNumber(raw, "temperature", "temp"),
		Humidity:    firstNumber(raw, "humidity", "rh"),
		CO2:         firstNumber(raw, "co2"),
		Pressure:    firstNumber(raw, "pressure"),
		Source:      "local",
	}
}

// NormalizeLocalReadings maps a raw reading collection from the local server.
func NormalizeLocalReadings(raw any) []telemetry.Reading {
	items := asList(unwrapEnvelope(raw, "data", "readings"))
	readings := make([]telemetry.Reading, 0, len(items))
	for _, item := range items {
		readings = append(readings, NormalizeLocalReading(item))
	}
	return readings
}

// localStatus resolves the local server's status signals: a boolean
// is_online wins, then numeric status codes, then the shared aliases.
func localStatus(raw map[string]any) string {
	if online, ok := raw["is_online"].(bool); ok {
		if online {
			return "active"
		}
		return "inactive"
	}
	if n := firstNumber(raw, "status", "device_status"); n != nil {
		switch *n {
		case 1:
			return "active"
		case 0:
			return "inactive"
		case -1:
			return "error"
		case 2:
			return "warning"
		}
		return "unknown"
	}
	return mapStatus(firstString(raw, "status", "device_status"))
}

// localSummary lifts the server's rolling aggregates when any are present.
func localSummary(raw map[string]any) *telemetry.DeviceSummary {
	summary := &telemetry.DeviceSummary{
		MinTemperature: firstNumber(raw, "min_temperature"),
		MaxTemperature: firstNumber(raw, "max_temperature"),
		AvgTemperature: firstNumber(raw, "avg_temperature"),
	}
	count := firstNumber(raw, "readings_count")
	if count != nil {
		summary.ReadingsCount = int(*count)
	}
	if count == nil && summary.MinTemperature == nil && summary.MaxTemperature == nil && summary.AvgTemperature == nil {
		return nil
	}
	return summary
}

func firstPresent(raw map[string]any, keys ...string) any {
	for _, key := range keys {
		if v, ok := raw[key]; ok && v != nil {
			return v
		}
	}
	return nil
}
