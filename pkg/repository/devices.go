package repository

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/illmade-knight/go-devicedata/pkg/cache"
	"github.com/illmade-knight/go-devicedata/pkg/telemetry"
)

// DeviceRepository serves device snapshots from a prioritized set of source
// adapters with explicit or automatic source selection, availability
// probing, empty-result fallback, stale-cache degradation, and a
// field-level merge across sources.
type DeviceRepository struct {
	adapters []SourceAdapter
	cache    *cache.Store[[]telemetry.Device]
	logger   zerolog.Logger
}

// NewDeviceRepository creates a DeviceRepository over the given adapters.
// Adapter order fixes the automatic-selection priority: the first adapter
// tagged "firebase" is probed first, "local" is the standing fallback.
func NewDeviceRepository(
	adapters []SourceAdapter,
	store *cache.Store[[]telemetry.Device],
	logger zerolog.Logger,
) (*DeviceRepository, error) {
	if len(adapters) == 0 {
		return nil, ErrNoAdapters
	}
	if store == nil {
		return nil, fmt.Errorf("repository: device cache store is required")
	}
	return &DeviceRepository{
		adapters: adapters,
		cache:    store,
		logger:   logger.With().Str("component", "DeviceRepository").Logger(),
	}, nil
}

// GetDevices returns the normalized device set for the requested source.
//
// The cache short-circuits everything: unless ForceRefresh is set, a hit
// under "devices_{source}" returns immediately. On a miss the source is
// resolved (explicit tag, or firebase-then-local under "auto"), an empty
// result triggers the configured fallback, and a non-empty result is
// written back to the cache. If anything fails, the same cache key is
// consulted once more before the error propagates: a stale answer beats
// none at all.
func (r *DeviceRepository) GetDevices(ctx context.Context, opts Options) ([]telemetry.Device, error) {
	opts = opts.withDefaults()
	cacheKey := "devices_" + opts.Source

	if !opts.ForceRefresh {
		if cached, ok := r.cache.Get(ctx, cacheKey); ok {
			r.logger.Debug().Str("source", opts.Source).Msg("Serving devices from cache.")
			return cached, nil
		}
	}

	devices, err := r.fetchBySource(ctx, opts)
	if err != nil {
		// The cache may have been populated by a concurrent request, or a
		// longer-lived entry may have outlived the read above.
		if cached, ok := r.cache.Get(ctx, cacheKey); ok {
			r.logger.Warn().Err(err).Str("source", opts.Source).
				Msg("All sources failed; serving stale cached devices.")
			return cached, nil
		}
		return nil, fmt.Errorf("getDevices: %w", err)
	}

	if len(devices) > 0 {
		r.cache.Set(ctx, cacheKey, devices)
	}
	return devices, nil
}

// fetchBySource resolves the source and fetches from it, applying the
// empty-result fallback under automatic selection. Priority is fixed:
// firebase first, local second.
func (r *DeviceRepository) fetchBySource(ctx context.Context, opts Options) ([]telemetry.Device, error) {
	var used string
	var devices []telemetry.Device
	var err error

	switch {
	case opts.Source == SourceFirebase,
		opts.Source == SourceAuto && r.IsSourceAvailable(ctx, SourceFirebase):
		used = SourceFirebase
		devices, err = r.fetchFrom(ctx, SourceFirebase)
	case opts.Source == SourceLocal, opts.Source == SourceAuto:
		used = SourceLocal
		devices, err = r.fetchFrom(ctx, SourceLocal)
	default:
		return nil, fmt.Errorf("unknown source %q", opts.Source)
	}
	if err != nil {
		return nil, err
	}

	if len(devices) == 0 && opts.fallbackEnabled() && opts.Source == SourceAuto {
		other := SourceLocal
		if used == SourceLocal {
			other = SourceFirebase
		}
		r.logger.Warn().Str("primary", used).Str("fallback", other).
			Msg("Primary source returned no devices; trying fallback source.")
		if r.IsSourceAvailable(ctx, other) {
			return r.fetchFrom(ctx, other)
		}
	}

	return devices, nil
}

// fetchFrom fetches and returns the device set of one named source.
func (r *DeviceRepository) fetchFrom(ctx context.Context, source string) ([]telemetry.Device, error) {
	adapter := adapterFor(r.adapters, source)
	if adapter == nil {
		return nil, fmt.Errorf("no %q adapter configured", source)
	}
	devices, err := adapter.FetchDevices(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch from %s: %w", source, err)
	}
	return devices, nil
}

// IsSourceAvailable reports whether the named source is reachable. It is a
// best-effort probe: an unknown source, like a failed probe, is simply
// unavailable, never an error.
func (r *DeviceRepository) IsSourceAvailable(ctx context.Context, source string) bool {
	adapter := adapterFor(r.adapters, source)
	if adapter == nil {
		return false
	}
	return adapter.Available(ctx)
}

// GetDevice returns the device with the given id, or nil when no such
// device exists. Absence is a normal result, not an error.
func (r *DeviceRepository) GetDevice(ctx context.Context, deviceID string, opts Options) (*telemetry.Device, error) {
	devices, err := r.GetDevices(ctx, opts)
	if err != nil {
		return nil, err
	}
	for i := range devices {
		if devices[i].ID == deviceID {
			device := devices[i]
			return &device, nil
		}
	}
	return nil, nil
}

// GetMergedDevices fetches from every configured adapter concurrently and
// independently, then merges the results by device id. A failure in one
// source never cancels another; partial results are expected. Only when
// every source fails does the operation itself fail, so callers can tell
// "no data" from "all sources down".
//
// The merge is field-level, by recency: identity fields (name) stay with
// the first-source (firebase-origin) record, live metrics come from
// whichever side carries the newer recency stamp, and aggregate stats come
// from the later (local) record, which is the statistics source of record.
func (r *DeviceRepository) GetMergedDevices(ctx context.Context) ([]telemetry.Device, error) {
	type sourceResult struct {
		devices []telemetry.Device
		err     error
	}

	results := make([]sourceResult, len(r.adapters))
	var wg sync.WaitGroup
	for i, adapter := range r.adapters {
		wg.Add(1)
		go func(i int, adapter SourceAdapter) {
			defer wg.Done()
			devices, err := adapter.FetchDevices(ctx)
			results[i] = sourceResult{devices: devices, err: err}
		}(i, adapter)
	}
	wg.Wait()

	merged := make(map[string]telemetry.Device)
	var order []string
	var lastErr error
	failures := 0

	for i, res := range results {
		if res.err != nil {
			failures++
			lastErr = res.err
			r.logger.Warn().Err(res.err).Str("source", r.adapters[i].Source()).
				Msg("Source failed during merged fetch; continuing with remaining sources.")
			continue
		}
		for _, device := range res.devices {
			existing, ok := merged[device.ID]
			if !ok {
				merged[device.ID] = device
				order = append(order, device.ID)
				continue
			}
			merged[device.ID] = mergeDevice(existing, device)
		}
	}

	if failures == len(r.adapters) {
		return nil, fmt.Errorf("getMergedDevices: all sources failed: %w", lastErr)
	}

	out := make([]telemetry.Device, 0, len(order))
	for _, id := range order {
		out = append(out, merged[id])
	}
	return out, nil
}

// RefreshDevices refetches the automatic device set, bypassing the cache
// read (the fresh result is still cached for subsequent calls).
func (r *DeviceRepository) RefreshDevices(ctx context.Context) ([]telemetry.Device, error) {
	return r.GetDevices(ctx, Options{ForceRefresh: true})
}

// RefreshDevice refetches and returns a single device, or nil when it no
// longer exists.
func (r *DeviceRepository) RefreshDevice(ctx context.Context, deviceID string) (*telemetry.Device, error) {
	return r.GetDevice(ctx, deviceID, Options{ForceRefresh: true})
}

// ClearCache drops every cached device set.
func (r *DeviceRepository) ClearCache(ctx context.Context) {
	r.cache.Clear(ctx, "")
	r.logger.Debug().Msg("Device cache cleared.")
}

// mergeDevice produces a new record combining an existing (earlier-source)
// record with an incoming (later-source) one for the same id. Different
// fields of the result may legitimately originate from different sources.
//
// Name intentionally stays with the existing record even when the incoming
// side is strictly newer: identity fields follow the real-time source,
// statistical fields follow the local one.
func mergeDevice(existing, incoming telemetry.Device) telemetry.Device {
	existingRecency := bestRecency(existing.LastSeen, existing.LastUpdate)
	incomingRecency := bestRecency(incoming.LastUpdate, incoming.LastSeen)
	incomingNewer := incomingRecency.After(existingRecency)

	merged := existing
	merged.Temperature = newestValue(existing.Temperature, incoming.Temperature, incomingNewer)
	merged.Humidity = newestValue(existing.Humidity, incoming.Humidity, incomingNewer)
	merged.Stats = incoming.Stats
	return merged
}

// bestRecency picks a side's best-available recency stamp. A missing stamp
// is the oldest possible time.
func bestRecency(preferred, fallback time.Time) time.Time {
	if !preferred.IsZero() {
		return preferred
	}
	return fallback
}

// newestValue picks the newer side's value, falling through to the other
// side when the newer one did not report the metric.
func newestValue(existing, incoming *float64, incomingNewer bool) *float64 {
	if incomingNewer {
		if incoming != nil {
			return incoming
		}
		return existing
	}
	if existing != nil {
		return existing
	}
	return incoming
}
