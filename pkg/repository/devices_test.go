package repository_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/illmade-knight/go-devicedata/pkg/repository"
	"github.com/illmade-knight/go-devicedata/pkg/telemetry"
)

func newDeviceRepo(t *testing.T, clock *fakeClock, adapters ...repository.SourceAdapter) *repository.DeviceRepository {
	t.Helper()
	repo, err := repository.NewDeviceRepository(adapters, newDeviceStore(t, clock), zerolog.Nop())
	require.NoError(t, err)
	return repo
}

func TestNewDeviceRepository_Validation(t *testing.T) {
	t.Run("Zero adapters is a construction-time error", func(t *testing.T) {
		_, err := repository.NewDeviceRepository(nil, newDeviceStore(t, newFakeClock()), zerolog.Nop())
		require.ErrorIs(t, err, repository.ErrNoAdapters)
	})
}

func TestDeviceRepository_GetDevices(t *testing.T) {
	ctx := context.Background()

	t.Run("Auto selection uses firebase when available and local is never invoked", func(t *testing.T) {
		// Arrange
		firebase := &mockAdapter{
			source: repository.SourceFirebase,
			FetchDevicesFunc: func(context.Context) ([]telemetry.Device, error) {
				return deviceSet("d1", "d2"), nil
			},
		}
		local := &mockAdapter{source: repository.SourceLocal}
		repo := newDeviceRepo(t, newFakeClock(), firebase, local)

		// Act
		devices, err := repo.GetDevices(ctx, repository.Options{})

		// Assert
		require.NoError(t, err)
		assert.Len(t, devices, 2)
		assert.Equal(t, int32(1), firebase.devicesCalls.Load())
		assert.Equal(t, int32(0), local.devicesCalls.Load(), "local must not be touched when firebase serves")
	})

	t.Run("Auto selection falls through to local when firebase probe fails", func(t *testing.T) {
		firebase := &mockAdapter{
			source:        repository.SourceFirebase,
			AvailableFunc: func(context.Context) bool { return false },
		}
		local := &mockAdapter{
			source: repository.SourceLocal,
			FetchDevicesFunc: func(context.Context) ([]telemetry.Device, error) {
				return deviceSet("d1"), nil
			},
		}
		repo := newDeviceRepo(t, newFakeClock(), firebase, local)

		devices, err := repo.GetDevices(ctx, repository.Options{})

		require.NoError(t, err)
		assert.Len(t, devices, 1)
		assert.Equal(t, int32(0), firebase.devicesCalls.Load())
		assert.Equal(t, int32(1), local.devicesCalls.Load())
	})

	t.Run("Empty firebase result falls back to local when fallback is enabled", func(t *testing.T) {
		firebase := &mockAdapter{
			source: repository.SourceFirebase,
			FetchDevicesFunc: func(context.Context) ([]telemetry.Device, error) {
				return nil, nil // reachable but empty
			},
		}
		local := &mockAdapter{
			source: repository.SourceLocal,
			FetchDevicesFunc: func(context.Context) ([]telemetry.Device, error) {
				return deviceSet("d1"), nil
			},
		}
		repo := newDeviceRepo(t, newFakeClock(), firebase, local)

		devices, err := repo.GetDevices(ctx, repository.Options{Source: repository.SourceAuto})

		require.NoError(t, err)
		require.Len(t, devices, 1)
		assert.Equal(t, "d1", devices[0].ID)
	})

	t.Run("Empty result is returned as-is when fallback is disabled", func(t *testing.T) {
		firebase := &mockAdapter{
			source: repository.SourceFirebase,
			FetchDevicesFunc: func(context.Context) ([]telemetry.Device, error) {
				return nil, nil
			},
		}
		local := &mockAdapter{source: repository.SourceLocal}
		repo := newDeviceRepo(t, newFakeClock(), firebase, local)

		devices, err := repo.GetDevices(ctx, repository.Options{DisableFallback: true})

		require.NoError(t, err)
		assert.Empty(t, devices)
		assert.Equal(t, int32(0), local.devicesCalls.Load())
	})

	t.Run("Explicit local selection never probes or touches firebase", func(t *testing.T) {
		firebase := &mockAdapter{source: repository.SourceFirebase}
		local := &mockAdapter{
			source: repository.SourceLocal,
			FetchDevicesFunc: func(context.Context) ([]telemetry.Device, error) {
				return deviceSet("d1"), nil
			},
		}
		repo := newDeviceRepo(t, newFakeClock(), firebase, local)

		_, err := repo.GetDevices(ctx, repository.Options{Source: repository.SourceLocal})

		require.NoError(t, err)
		assert.Equal(t, int32(0), firebase.devicesCalls.Load())
		assert.Equal(t, int32(0), firebase.probeCalls.Load())
	})

	t.Run("Cache short-circuits the second request", func(t *testing.T) {
		firebase := &mockAdapter{
			source: repository.SourceFirebase,
			FetchDevicesFunc: func(context.Context) ([]telemetry.Device, error) {
				return deviceSet("d1"), nil
			},
		}
		repo := newDeviceRepo(t, newFakeClock(), firebase, &mockAdapter{source: repository.SourceLocal})

		_, err := repo.GetDevices(ctx, repository.Options{})
		require.NoError(t, err)
		_, err = repo.GetDevices(ctx, repository.Options{})
		require.NoError(t, err)

		assert.Equal(t, int32(1), firebase.devicesCalls.Load(), "second request must be served from cache")
	})

	t.Run("ForceRefresh bypasses the cache read", func(t *testing.T) {
		firebase := &mockAdapter{
			source: repository.SourceFirebase,
			FetchDevicesFunc: func(context.Context) ([]telemetry.Device, error) {
				return deviceSet("d1"), nil
			},
		}
		repo := newDeviceRepo(t, newFakeClock(), firebase, &mockAdapter{source: repository.SourceLocal})

		_, err := repo.GetDevices(ctx, repository.Options{})
		require.NoError(t, err)
		_, err = repo.GetDevices(ctx, repository.Options{ForceRefresh: true})
		require.NoError(t, err)

		assert.Equal(t, int32(2), firebase.devicesCalls.Load())
	})

	t.Run("Stale cache is served when every live source fails", func(t *testing.T) {
		// Arrange: first request succeeds and populates the cache.
		failing := false
		firebase := &mockAdapter{
			source: repository.SourceFirebase,
			FetchDevicesFunc: func(context.Context) ([]telemetry.Device, error) {
				if failing {
					return nil, errors.New("firebase down")
				}
				return deviceSet("d1"), nil
			},
		}
		repo := newDeviceRepo(t, newFakeClock(), firebase, &mockAdapter{source: repository.SourceLocal})
		_, err := repo.GetDevices(ctx, repository.Options{})
		require.NoError(t, err)

		// Act: the source dies; a forced refresh must degrade to the cache.
		failing = true
		devices, err := repo.GetDevices(ctx, repository.Options{ForceRefresh: true})

		// Assert
		require.NoError(t, err)
		require.Len(t, devices, 1)
		assert.Equal(t, "d1", devices[0].ID)
	})

	t.Run("Error propagates when sources fail and no cache exists", func(t *testing.T) {
		firebase := &mockAdapter{
			source: repository.SourceFirebase,
			FetchDevicesFunc: func(context.Context) ([]telemetry.Device, error) {
				return nil, errors.New("firebase down")
			},
		}
		repo := newDeviceRepo(t, newFakeClock(), firebase, &mockAdapter{source: repository.SourceLocal})

		_, err := repo.GetDevices(ctx, repository.Options{})

		require.Error(t, err)
		assert.Contains(t, err.Error(), "getDevices")
		assert.Contains(t, err.Error(), "firebase down")
	})

	t.Run("Unknown explicit source is an error", func(t *testing.T) {
		repo := newDeviceRepo(t, newFakeClock(), &mockAdapter{source: repository.SourceFirebase})

		_, err := repo.GetDevices(ctx, repository.Options{Source: "carrier-pigeon"})

		require.Error(t, err)
		assert.Contains(t, err.Error(), "unknown source")
	})
}

func TestDeviceRepository_GetDevice(t *testing.T) {
	ctx := context.Background()

	firebase := &mockAdapter{
		source: repository.SourceFirebase,
		FetchDevicesFunc: func(context.Context) ([]telemetry.Device, error) {
			return deviceSet("d1", "d2"), nil
		},
	}
	repo := newDeviceRepo(t, newFakeClock(), firebase, &mockAdapter{source: repository.SourceLocal})

	t.Run("Known id returns the matching record", func(t *testing.T) {
		device, err := repo.GetDevice(ctx, "d2", repository.Options{})
		require.NoError(t, err)
		require.NotNil(t, device)
		assert.Equal(t, "d2", device.ID)
	})

	t.Run("Unknown id returns nil, not an error", func(t *testing.T) {
		device, err := repo.GetDevice(ctx, "no-such-device", repository.Options{})
		require.NoError(t, err)
		assert.Nil(t, device)
	})
}

func TestDeviceRepository_GetMergedDevices(t *testing.T) {
	ctx := context.Background()
	t1 := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	t2 := t1.Add(time.Hour)

	t.Run("Field-level merge by recency", func(t *testing.T) {
		// Arrange: the local record is strictly newer and carries stats.
		firebase := &mockAdapter{
			source: repository.SourceFirebase,
			FetchDevicesFunc: func(context.Context) ([]telemetry.Device, error) {
				return []telemetry.Device{{
					ID:          "d1",
					Name:        "Living Room",
					Temperature: floatPtr(22.5),
					Humidity:    floatPtr(45),
					LastSeen:    t1,
				}}, nil
			},
		}
		local := &mockAdapter{
			source: repository.SourceLocal,
			FetchDevicesFunc: func(context.Context) ([]telemetry.Device, error) {
				return []telemetry.Device{
					{
						ID:          "d1",
						Name:        "sensor-01 Sensor",
						Temperature: floatPtr(23.0),
						LastUpdate:  t2,
						Stats:       &telemetry.DeviceSummary{ReadingsCount: 5},
					},
					{ID: "d2", Name: "Cellar Sensor"},
				}, nil
			},
		}
		repo := newDeviceRepo(t, newFakeClock(), firebase, local)

		// Act
		merged, err := repo.GetMergedDevices(ctx)

		// Assert
		require.NoError(t, err)
		require.Len(t, merged, 2)

		d1 := merged[0]
		assert.Equal(t, "d1", d1.ID)
		// Intentional asymmetry: the firebase-origin name wins even though
		// the local record is strictly newer.
		assert.Equal(t, "Living Room", d1.Name)
		require.NotNil(t, d1.Temperature)
		assert.Equal(t, 23.0, *d1.Temperature, "newer local temperature wins")
		require.NotNil(t, d1.Humidity)
		assert.Equal(t, 45.0, *d1.Humidity, "newer side has no humidity, older value survives")
		require.NotNil(t, d1.Stats)
		assert.Equal(t, 5, d1.Stats.ReadingsCount, "local is the statistics source of record")

		assert.Equal(t, "d2", merged[1].ID, "local-only devices are inserted directly")
	})

	t.Run("Older local values lose to newer firebase values", func(t *testing.T) {
		firebase := &mockAdapter{
			source: repository.SourceFirebase,
			FetchDevicesFunc: func(context.Context) ([]telemetry.Device, error) {
				return []telemetry.Device{{ID: "d1", Name: "A", Temperature: floatPtr(22.5), LastSeen: t2}}, nil
			},
		}
		local := &mockAdapter{
			source: repository.SourceLocal,
			FetchDevicesFunc: func(context.Context) ([]telemetry.Device, error) {
				return []telemetry.Device{{ID: "d1", Temperature: floatPtr(19.0), LastUpdate: t1}}, nil
			},
		}
		repo := newDeviceRepo(t, newFakeClock(), firebase, local)

		merged, err := repo.GetMergedDevices(ctx)

		require.NoError(t, err)
		require.Len(t, merged, 1)
		require.NotNil(t, merged[0].Temperature)
		assert.Equal(t, 22.5, *merged[0].Temperature)
	})

	t.Run("Partial failure yields partial data", func(t *testing.T) {
		firebase := &mockAdapter{
			source: repository.SourceFirebase,
			FetchDevicesFunc: func(context.Context) ([]telemetry.Device, error) {
				return nil, errors.New("firebase down")
			},
		}
		local := &mockAdapter{
			source: repository.SourceLocal,
			FetchDevicesFunc: func(context.Context) ([]telemetry.Device, error) {
				return deviceSet("d1"), nil
			},
		}
		repo := newDeviceRepo(t, newFakeClock(), firebase, local)

		merged, err := repo.GetMergedDevices(ctx)

		require.NoError(t, err, "one healthy source is enough")
		assert.Len(t, merged, 1)
	})

	t.Run("All sources failing fails the operation", func(t *testing.T) {
		boom := func(context.Context) ([]telemetry.Device, error) { return nil, errors.New("down") }
		repo := newDeviceRepo(t, newFakeClock(),
			&mockAdapter{source: repository.SourceFirebase, FetchDevicesFunc: boom},
			&mockAdapter{source: repository.SourceLocal, FetchDevicesFunc: boom},
		)

		_, err := repo.GetMergedDevices(ctx)

		require.Error(t, err, "callers must be able to tell 'no data' from 'all sources down'")
		assert.Contains(t, err.Error(), "all sources failed")
	})
}

func TestDeviceRepository_Refresh(t *testing.T) {
	ctx := context.Background()

	firebase := &mockAdapter{
		source: repository.SourceFirebase,
		FetchDevicesFunc: func(context.Context) ([]telemetry.Device, error) {
			return deviceSet("d1"), nil
		},
	}
	repo := newDeviceRepo(t, newFakeClock(), firebase, &mockAdapter{source: repository.SourceLocal})

	_, err := repo.GetDevices(ctx, repository.Options{})
	require.NoError(t, err)

	t.Run("RefreshDevices always hits the live source", func(t *testing.T) {
		_, err := repo.RefreshDevices(ctx)
		require.NoError(t, err)
		assert.Equal(t, int32(2), firebase.devicesCalls.Load())
	})

	t.Run("RefreshDevice refetches and resolves one id", func(t *testing.T) {
		device, err := repo.RefreshDevice(ctx, "d1")
		require.NoError(t, err)
		require.NotNil(t, device)
		assert.Equal(t, "d1", device.ID)
	})

	t.Run("ClearCache forces the next read back to the source", func(t *testing.T) {
		before := firebase.devicesCalls.Load()
		repo.ClearCache(ctx)
		_, err := repo.GetDevices(ctx, repository.Options{})
		require.NoError(t, err)
		assert.Equal(t, before+1, firebase.devicesCalls.Load())
	})
}
