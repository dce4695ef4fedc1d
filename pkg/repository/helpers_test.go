package repository_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/illmade-knight/go-devicedata/pkg/cache"
	"github.com/illmade-knight/go-devicedata/pkg/repository"
	"github.com/illmade-knight/go-devicedata/pkg/telemetry"
)

// fakeClock is a manually advanced time source shared with the cache store.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// mockAdapter is a configurable SourceAdapter with per-operation call
// counters.
type mockAdapter struct {
	source string

	AvailableFunc       func(ctx context.Context) bool
	FetchDevicesFunc    func(ctx context.Context) ([]telemetry.Device, error)
	FetchReadingsFunc   func(ctx context.Context, deviceID string, opts repository.Options) ([]telemetry.Reading, error)
	FetchHistoricalFunc func(ctx context.Context, deviceID string, start, end time.Time, opts repository.Options) ([]telemetry.Reading, error)

	devicesCalls    atomic.Int32
	readingsCalls   atomic.Int32
	historicalCalls atomic.Int32
	probeCalls      atomic.Int32
}

func (m *mockAdapter) Source() string { return m.source }

func (m *mockAdapter) Available(ctx context.Context) bool {
	m.probeCalls.Add(1)
	if m.AvailableFunc == nil {
		return true
	}
	return m.AvailableFunc(ctx)
}

func (m *mockAdapter) FetchDevices(ctx context.Context) ([]telemetry.Device, error) {
	m.devicesCalls.Add(1)
	if m.FetchDevicesFunc == nil {
		return nil, errors.New("FetchDevices not configured")
	}
	return m.FetchDevicesFunc(ctx)
}

func (m *mockAdapter) FetchDeviceReadings(ctx context.Context, deviceID string, opts repository.Options) ([]telemetry.Reading, error) {
	m.readingsCalls.Add(1)
	if m.FetchReadingsFunc == nil {
		return nil, errors.New("FetchDeviceReadings not configured")
	}
	return m.FetchReadingsFunc(ctx, deviceID, opts)
}

func (m *mockAdapter) FetchHistoricalData(ctx context.Context, deviceID string, start, end time.Time, opts repository.Options) ([]telemetry.Reading, error) {
	m.historicalCalls.Add(1)
	if m.FetchHistoricalFunc == nil {
		return nil, errors.New("FetchHistoricalData not configured")
	}
	return m.FetchHistoricalFunc(ctx, deviceID, start, end, opts)
}

func newDeviceStore(t *testing.T, clock *fakeClock) *cache.Store[[]telemetry.Device] {
	t.Helper()
	store, err := cache.NewStore[[]telemetry.Device](cache.Config{
		Namespace:       "devices",
		Capacity:        100,
		DefaultTTL:      5 * time.Minute,
		CleanupInterval: -1,
		Clock:           clock.Now,
	}, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func newReadingsStore(t *testing.T, clock *fakeClock) *cache.Store[[]telemetry.Reading] {
	t.Helper()
	store, err := cache.NewStore[[]telemetry.Reading](cache.Config{
		Namespace:       "readings",
		Capacity:        100,
		DefaultTTL:      5 * time.Minute,
		CleanupInterval: -1,
		Clock:           clock.Now,
	}, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func floatPtr(v float64) *float64 { return &v }

func deviceSet(ids ...string) []telemetry.Device {
	devices := make([]telemetry.Device, 0, len(ids))
	for _, id := range ids {
		devices = append(devices, telemetry.Device{ID: id, Name: "Device " + id})
	}
	return devices
}
