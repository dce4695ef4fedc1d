// Package repository implements the multi-source data-access protocol for
// device telemetry: try each source adapter in configured order, cache the
// winner, and fall back to the cache when every live source is down.
//
// Adapters are the only components that understand a backend's raw payloads;
// everything here operates on the normalized shapes in pkg/telemetry.
package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/illmade-knight/go-devicedata/pkg/telemetry"
)

// Well-known source tags. The adapter set itself is configuration: any
// adapter with a distinct Source tag can join the list.
const (
	SourceAuto     = "auto"
	SourceFirebase = "firebase"
	SourceLocal    = "local"
)

// ErrNoAdapters is returned by constructors when no source adapters are
// supplied. A repository without sources is a configuration mistake, caught
// at construction rather than on the first request.
var ErrNoAdapters = errors.New("repository: at least one adapter is required")

// SourceAdapter is the capability a backend must provide: a stable source
// tag, a best-effort availability probe, and fetch operations that return
// normalized records.
type SourceAdapter interface {
	// Source identifies the backend ("firebase", "local", ...).
	Source() string
	// Available reports whether the backend is reachable. It must never
	// block past its own internal budget and must never panic or error:
	// any failure is simply "unavailable".
	Available(ctx context.Context) bool
	// FetchDevices returns the backend's current device snapshots.
	FetchDevices(ctx context.Context) ([]telemetry.Device, error)
	// FetchDeviceReadings returns recent readings for one device.
	FetchDeviceReadings(ctx context.Context, deviceID string, opts Options) ([]telemetry.Reading, error)
	// FetchHistoricalData returns readings within [start, end].
	FetchHistoricalData(ctx context.Context, deviceID string, start, end time.Time, opts Options) ([]telemetry.Reading, error)
}

// Options selects a source and tunes cache behavior for one request. The
// zero value means automatic source selection with fallback enabled, which
// is the default callers almost always want.
type Options struct {
	// Source is "auto", "firebase" or "local". Empty means "auto".
	Source string
	// ForceRefresh bypasses the cache read (the result is still cached).
	ForceRefresh bool
	// DisableFallback turns off the empty-result fallback to the other
	// source under automatic selection.
	DisableFallback bool
}

func (o Options) withDefaults() Options {
	if o.Source == "" {
		o.Source = SourceAuto
	}
	return o
}

func (o Options) fallbackEnabled() bool {
	return !o.DisableFallback
}

// fetchFromAdapters tries op against each adapter strictly in order and
// returns the first success. Per-adapter failures are logged and recorded;
// only exhaustion of the whole list surfaces, as an error that names the
// operation and wraps the last underlying cause.
func fetchFromAdapters[T any](
	ctx context.Context,
	adapters []SourceAdapter,
	logger zerolog.Logger,
	operation string,
	op func(ctx context.Context, adapter SourceAdapter) (T, error),
) (T, error) {
	var zero T
	var lastErr error

	for _, adapter := range adapters {
		result, err := op(ctx, adapter)
		if err != nil {
			lastErr = err
			logger.Warn().Err(err).Str("source", adapter.Source()).Str("operation", operation).
				Msg("Adapter fetch failed; trying next adapter.")
			continue
		}
		return result, nil
	}

	return zero, fmt.Errorf("%s: all sources failed: %w", operation, lastErr)
}

// adapterFor returns the configured adapter with the given source tag.
func adapterFor(adapters []SourceAdapter, source string) SourceAdapter {
	for _, a := range adapters {
		if a.Source() == source {
			return a
		}
	}
	return nil
}
