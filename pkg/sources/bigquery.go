package sources

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/bigquery"
	"github.com/rs/zerolog"
	"google.golang.org/api/iterator"

	"github.com/illmade-knight/go-devicedata/pkg/repository"
	"github.com/illmade-knight/go-devicedata/pkg/telemetry"
)

// ErrArchiveReadOnly is returned for the live operations the archive cannot
// serve. The repository protocol treats it like any other adapter failure
// and moves on to the next source.
var ErrArchiveReadOnly = errors.New("bigquery archive serves historical ranges only")

// SourceArchive tags the BigQuery-backed historical adapter.
const SourceArchive = "archive"

// BigQueryArchiveConfig holds configuration for the readings archive.
type BigQueryArchiveConfig struct {
	ProjectID string
	DatasetID string
	TableID   string
}

// BigQueryArchive is a read-only adapter over the long-term readings table.
// It only answers historical range queries; configured last in a
// DeviceDataRepository's adapter list it becomes the final fallback for
// ranges the live backends have already aged out.
type BigQueryArchive struct {
	client *bigquery.Client
	cfg    BigQueryArchiveConfig
	logger zerolog.Logger
}

// archiveRow is the BigQuery row shape of one archived reading.
type archiveRow struct {
	DeviceID    string               `bigquery:"device_id"`
	Timestamp   time.Time            `bigquery:"timestamp"`
	Temperature bigquery.NullFloat64 `bigquery:"temperature"`
	Humidity    bigquery.NullFloat64 `bigquery:"humidity"`
	CO2         bigquery.NullFloat64 `bigquery:"co2"`
	Pressure    bigquery.NullFloat64 `bigquery:"pressure"`
}

// NewBigQueryArchive creates a BigQueryArchive over an existing client. The
// client's lifecycle is managed by the caller.
func NewBigQueryArchive(cfg BigQueryArchiveConfig, client *bigquery.Client, logger zerolog.Logger) (*BigQueryArchive, error) {
	if client == nil {
		return nil, fmt.Errorf("bigquery client cannot be nil")
	}
	if cfg.DatasetID == "" || cfg.TableID == "" {
		return nil, fmt.Errorf("bigquery archive requires dataset and table ids")
	}
	return &BigQueryArchive{
		client: client,
		cfg:    cfg,
		logger: logger.With().Str("component", "BigQueryArchive").Logger(),
	}, nil
}

// Source identifies this adapter as the archive backend.
func (a *BigQueryArchive) Source() string {
	return SourceArchive
}

// Available checks that the archive table is reachable. Failures are logged
// and reported as unavailable, never as errors.
func (a *BigQueryArchive) Available(ctx context.Context) bool {
	_, err := a.client.Dataset(a.cfg.DatasetID).Table(a.cfg.TableID).Metadata(ctx)
	if err != nil {
		a.logger.Warn().Err(err).Msg("BigQuery archive availability check failed.")
		return false
	}
	return true
}

// FetchDevices is unsupported: the archive holds readings, not device state.
func (a *BigQueryArchive) FetchDevices(_ context.Context) ([]telemetry.Device, error) {
	return nil, ErrArchiveReadOnly
}

// FetchDeviceReadings is unsupported: live readings come from the
// real-time backends.
func (a *BigQueryArchive) FetchDeviceReadings(_ context.Context, _ string, _ repository.Options) ([]telemetry.Reading, error) {
	return nil, ErrArchiveReadOnly
}

// FetchHistoricalData queries the archive table for readings within
// [start, end], oldest first.
func (a *BigQueryArchive) FetchHistoricalData(ctx context.Context, deviceID string, start, end time.Time, _ repository.Options) ([]telemetry.Reading, error) {
	q := a.client.Query(fmt.Sprintf(
		"SELECT device_id, timestamp, temperature, humidity, co2, pressure "+
			"FROM `%s.%s.%s` "+
			"WHERE device_id = @device_id AND timestamp BETWEEN @start AND @end "+
			"ORDER BY timestamp",
		a.cfg.ProjectID, a.cfg.DatasetID, a.cfg.TableID))
	q.Parameters = []bigquery.QueryParameter{
		{Name: "device_id", Value: deviceID},
		{Name: "start", Value: start},
		{Name: "end", Value: end},
	}

	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("archive query for %s: %w", deviceID, err)
	}

	var readings []telemetry.Reading
	for {
		var row archiveRow
		err := it.Next(&row)
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("archive row scan for %s: %w", deviceID, err)
		}
		readings = append(readings, telemetry.Reading{
			DeviceID:    row.DeviceID,
			Timestamp:   row.Timestamp,
			Temperature: nullToPtr(row.Temperature),
			Humidity:    nullToPtr(row.Humidity),
			CO2:         nullToPtr(row.CO2),
			Pressure:    nullToPtr(row.Pressure),
			Source:      SourceArchive,
		})
	}

	a.logger.Debug().Int("count", len(readings)).Str("device_id", deviceID).Msg("Fetched archived readings.")
	return readings, nil
}

func nullToPtr(n bigquery.NullFloat64) *float64 {
	if !n.Valid {
		return nil
	}
	v := n.Float64
	return &v
}
