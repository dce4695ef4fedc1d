package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/illmade-knight/go-devicedata/pkg/cache"
	"github.com/illmade-knight/go-devicedata/pkg/telemetry"
)

// DefaultHistoricalTTL is the cache lifetime for historical range queries.
// Historical data is immutable once its range has fully elapsed, so it can
// outlive live readings in the cache by a wide margin.
const DefaultHistoricalTTL = 30 * time.Minute

// DeviceDataRepository serves time-series reads: recent readings, historical
// ranges, and the statistics derived from them. Fetches run through the
// ordered adapter list, first success wins.
type DeviceDataRepository struct {
	adapters      []SourceAdapter
	cache         *cache.Store[[]telemetry.Reading]
	historicalTTL time.Duration
	logger        zerolog.Logger
}

// NewDeviceDataRepository creates a DeviceDataRepository over the given
// adapters. historicalTTL tunes how long historical range results live in
// the cache; zero or less selects DefaultHistoricalTTL.
func NewDeviceDataRepository(
	adapters []SourceAdapter,
	store *cache.Store[[]telemetry.Reading],
	historicalTTL time.Duration,
	logger zerolog.Logger,
) (*DeviceDataRepository, error) {
	if len(adapters) == 0 {
		return nil, ErrNoAdapters
	}
	if store == nil {
		return nil, fmt.Errorf("repository: readings cache store is required")
	}
	if historicalTTL <= 0 {
		historicalTTL = DefaultHistoricalTTL
	}
	return &DeviceDataRepository{
		adapters:      adapters,
		cache:         store,
		historicalTTL: historicalTTL,
		logger:        logger.With().Str("component", "DeviceDataRepository").Logger(),
	}, nil
}

// GetDeviceReadings returns the most recent readings for a device, from
// cache unless ForceRefresh is set, otherwise from the first adapter that
// succeeds.
func (r *DeviceDataRepository) GetDeviceReadings(ctx context.Context, deviceID string, opts Options) ([]telemetry.Reading, error) {
	cacheKey := "readings:" + deviceID

	if !opts.ForceRefresh {
		if cached, ok := r.cache.Get(ctx, cacheKey); ok {
			return cached, nil
		}
	}

	readings, err := fetchFromAdapters(ctx, r.adapters, r.logger,
		fmt.Sprintf("fetch readings for device %s", deviceID),
		func(ctx context.Context, adapter SourceAdapter) ([]telemetry.Reading, error) {
			return adapter.FetchDeviceReadings(ctx, deviceID, opts)
		})
	if err != nil {
		if cached, ok := r.cache.Get(ctx, cacheKey); ok {
			r.logger.Warn().Err(err).Str("device_id", deviceID).
				Msg("All sources failed; serving stale cached readings.")
			return cached, nil
		}
		return nil, err
	}

	r.cache.Set(ctx, cacheKey, readings)
	return readings, nil
}

// GetHistoricalData returns readings within [start, end]. The cache key is
// derived from the device id and both bounds, so range queries with
// different bounds never share an entry even when they overlap. Results are
// cached under the longer historical TTL.
func (r *DeviceDataRepository) GetHistoricalData(ctx context.Context, deviceID string, start, end time.Time, opts Options) ([]telemetry.Reading, error) {
	cacheKey := fmt.Sprintf("historical:%s:%s:%s",
		deviceID, start.Format(time.RFC3339), end.Format(time.RFC3339))

	if !opts.ForceRefresh {
		if cached, ok := r.cache.Get(ctx, cacheKey); ok {
			return cached, nil
		}
	}

	readings, err := fetchFromAdapters(ctx, r.adapters, r.logger,
		fmt.Sprintf("fetch historical data for device %s", deviceID),
		func(ctx context.Context, adapter SourceAdapter) ([]telemetry.Reading, error) {
			return adapter.FetchHistoricalData(ctx, deviceID, start, end, opts)
		})
	if err != nil {
		if cached, ok := r.cache.Get(ctx, cacheKey); ok {
			r.logger.Warn().Err(err).Str("device_id", deviceID).
				Msg("All sources failed; serving stale cached historical data.")
			return cached, nil
		}
		return nil, err
	}

	r.cache.SetWithTTL(ctx, cacheKey, readings, r.historicalTTL)
	return readings, nil
}

// GetDeviceStats derives per-metric min/max/avg/current statistics from the
// device's current reading set. Stats are never cached separately: they are
// always recomputed from GetDeviceReadings, so they stay consistent with
// whatever that call serves.
func (r *DeviceDataRepository) GetDeviceStats(ctx context.Context, deviceID string, opts Options) (telemetry.DeviceStats, error) {
	readings, err := r.GetDeviceReadings(ctx, deviceID, opts)
	if err != nil {
		return telemetry.DeviceStats{}, fmt.Errorf("compute stats for device %s: %w", deviceID, err)
	}
	return telemetry.ComputeDeviceStats(deviceID, readings), nil
}

// ClearCache drops every cached reading set.
func (r *DeviceDataRepository) ClearCache(ctx context.Context) {
	r.cache.Clear(ctx, "")
	r.logger.Debug().Msg("Readings cache cleared.")
}
