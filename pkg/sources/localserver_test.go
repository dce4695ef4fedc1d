package sources_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/illmade-knight/go-devicedata/pkg/repository"
	"github.com/illmade-knight/go-devicedata/pkg/sources"
)

func newLocalSource(t *testing.T, baseURL string) *sources.LocalServerSource {
	t.Helper()
	source, err := sources.NewLocalServerSource(sources.LocalServerConfig{
		BaseURL:       baseURL,
		Timeout:       2 * time.Second,
		RetryAttempts: 1,
		RetryDelay:    10 * time.Millisecond,
		ProbeTimeout:  time.Second,
	}, zerolog.Nop())
	require.NoError(t, err)
	return source
}

func TestNewLocalServerSource_Validation(t *testing.T) {
	_, err := sources.NewLocalServerSource(sources.LocalServerConfig{}, zerolog.Nop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "base URL")
}

func TestLocalServerSource_FetchDevices(t *testing.T) {
	ctx := context.Background()

	t.Run("Devices are fetched and normalized from the envelope", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			require.Equal(t, "/api/devices", r.URL.Path)
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"data":[
				{"sensor_id":"s-1","room_name":"Kitchen","last_temperature":19.5,"is_online":true},
				{"sensor_id":"s-2","is_online":false}
			]}`))
		}))
		defer server.Close()

		devices, err := newLocalSource(t, server.URL).FetchDevices(ctx)

		require.NoError(t, err)
		require.Len(t, devices, 2)
		assert.Equal(t, "s-1", devices[0].ID)
		assert.Equal(t, "Kitchen Sensor", devices[0].Name)
		assert.Equal(t, "active", devices[0].Status)
		assert.Equal(t, "inactive", devices[1].Status)
	})

	t.Run("A transient failure is retried and recovers", func(t *testing.T) {
		var calls atomic.Int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			if calls.Add(1) == 1 {
				w.WriteHeader(http.StatusInternalServerError)
				return
			}
			_, _ = w.Write([]byte(`[{"sensor_id":"s-1"}]`))
		}))
		defer server.Close()

		devices, err := newLocalSource(t, server.URL).FetchDevices(ctx)

		require.NoError(t, err)
		assert.Len(t, devices, 1)
		assert.Equal(t, int32(2), calls.Load())
	})

	t.Run("Exhausted retries report the attempt count and last error", func(t *testing.T) {
		var calls atomic.Int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			calls.Add(1)
			w.WriteHeader(http.StatusServiceUnavailable)
		}))
		defer server.Close()

		_, err := newLocalSource(t, server.URL).FetchDevices(ctx)

		require.Error(t, err)
		assert.Contains(t, err.Error(), "after 2 attempts")
		assert.Contains(t, err.Error(), "http status 503")
		assert.Equal(t, int32(2), calls.Load())
	})

	t.Run("Context cancellation stops the retry wait", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}))
		defer server.Close()

		source, err := sources.NewLocalServerSource(sources.LocalServerConfig{
			BaseURL:       server.URL,
			Timeout:       time.Second,
			RetryAttempts: 5,
			RetryDelay:    10 * time.Second,
		}, zerolog.Nop())
		require.NoError(t, err)

		cancelCtx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
		defer cancel()

		start := time.Now()
		_, err = source.FetchDevices(cancelCtx)

		require.Error(t, err)
		assert.Less(t, time.Since(start), 2*time.Second, "cancellation must interrupt the retry delay")
	})
}

func TestLocalServerSource_FetchReadings(t *testing.T) {
	ctx := context.Background()

	t.Run("Readings route includes the escaped device id", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			require.Equal(t, "/api/devices/s-1/readings", r.URL.Path)
			_, _ = w.Write([]byte(`{"readings":[{"sensor_id":"s-1","temperature":20.5,"timestamp":"2025-06-01T10:00:00Z"}]}`))
		}))
		defer server.Close()

		readings, err := newLocalSource(t, server.URL).FetchDeviceReadings(ctx, "s-1", repository.Options{})

		require.NoError(t, err)
		require.Len(t, readings, 1)
		assert.Equal(t, 20.5, *readings[0].Temperature)
		assert.Equal(t, "local", readings[0].Source)
	})

	t.Run("Historical route carries RFC3339 bounds", func(t *testing.T) {
		start := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)
		end := start.AddDate(0, 0, 7)

		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			require.Equal(t, "/api/devices/s-1/history", r.URL.Path)
			assert.Equal(t, start.Format(time.RFC3339), r.URL.Query().Get("start"))
			assert.Equal(t, end.Format(time.RFC3339), r.URL.Query().Get("end"))
			_, _ = w.Write([]byte(`[]`))
		}))
		defer server.Close()

		readings, err := newLocalSource(t, server.URL).FetchHistoricalData(ctx, "s-1", start, end, repository.Options{})

		require.NoError(t, err)
		assert.Empty(t, readings)
	})
}

func TestLocalServerSource_Available(t *testing.T) {
	ctx := context.Background()

	t.Run("Healthy server probes available", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			require.Equal(t, http.MethodHead, r.Method)
			require.Equal(t, "/health", r.URL.Path)
			w.WriteHeader(http.StatusOK)
		}))
		defer server.Close()

		assert.True(t, newLocalSource(t, server.URL).Available(ctx))
	})

	t.Run("Error responses probe unavailable", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		}))
		defer server.Close()

		assert.False(t, newLocalSource(t, server.URL).Available(ctx))
	})

	t.Run("An unreachable server probes unavailable", func(t *testing.T) {
		source := newLocalSource(t, "http://127.0.0.1:1")
		assert.False(t, source.Available(ctx))
	})
}
