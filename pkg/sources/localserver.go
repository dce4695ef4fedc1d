package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/illmade-knight/go-devicedata/pkg/repository"
	"github.com/illmade-knight/go-devicedata/pkg/telemetry"
)

// LocalServerConfig holds connection parameters for the local telemetry
// server.
type LocalServerConfig struct {
	// BaseURL is the server root, e.g. "http://192.168.1.10:8080".
	BaseURL string
	// DevicesPath, ReadingsPath and HistoryPath are the JSON endpoints.
	// ReadingsPath and HistoryPath contain one %s verb for the device id.
	DevicesPath  string
	ReadingsPath string
	HistoryPath  string
	// HealthPath is the availability probe endpoint.
	HealthPath string
	// Timeout bounds each request attempt.
	Timeout time.Duration
	// RetryAttempts is the number of retries after the first attempt.
	RetryAttempts int
	// RetryDelay is the pause between attempts.
	RetryDelay time.Duration
	// ProbeTimeout bounds the availability probe.
	ProbeTimeout time.Duration
}

// Env constants for local server settings.
const (
	LocalBaseURL             = "LOCAL_API_BASE_URL"
	LocalTimeoutSeconds      = "LOCAL_API_TIMEOUT_SECONDS"
	LocalRetryAttempts       = "LOCAL_API_RETRY_ATTEMPTS"
	LocalRetryDelaySeconds   = "LOCAL_API_RETRY_DELAY_SECONDS"
	LocalProbeTimeoutSeconds = "LOCAL_API_PROBE_TIMEOUT_SECONDS"
)

// LoadLocalServerConfigWithEnv loads local server configuration from
// environment variables, filling unset knobs with defaults.
func LoadLocalServerConfigWithEnv() *LocalServerConfig {
	cfg := &LocalServerConfig{
		BaseURL:       os.Getenv(LocalBaseURL),
		DevicesPath:   "/api/devices",
		ReadingsPath:  "/api/devices/%s/readings",
		HistoryPath:   "/api/devices/%s/history",
		HealthPath:    "/health",
		Timeout:       5 * time.Second,
		RetryAttempts: 2,
		RetryDelay:    time.Second,
		ProbeTimeout:  2 * time.Second,
	}
	if v := os.Getenv(LocalTimeoutSeconds); v != "" {
		if s, err := time.ParseDuration(v + "s"); err == nil {
			cfg.Timeout = s
		}
	}
	if v := os.Getenv(LocalRetryAttempts); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.RetryAttempts = n
		}
	}
	if v := os.Getenv(LocalRetryDelaySeconds); v != "" {
		if s, err := time.ParseDuration(v + "s"); err == nil {
			cfg.RetryDelay = s
		}
	}
	if v := os.Getenv(LocalProbeTimeoutSeconds); v != "" {
		if s, err := time.ParseDuration(v + "s"); err == nil {
			cfg.ProbeTimeout = s
		}
	}
	return cfg
}

// LocalServerSource is the "local" adapter: it reads JSON from the local
// telemetry server with a bounded timeout-and-retry transport and
// normalizes the snake_case payloads.
type LocalServerSource struct {
	cfg        LocalServerConfig
	httpClient *http.Client
	logger     zerolog.Logger
}

// NewLocalServerSource creates a LocalServerSource. Unset config fields get
// the LoadLocalServerConfigWithEnv defaults.
func NewLocalServerSource(cfg LocalServerConfig, logger zerolog.Logger) (*LocalServerSource, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("local server base URL is required")
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("invalid local server base URL %q: %w", cfg.BaseURL, err)
	}
	defaults := LoadLocalServerConfigWithEnv()
	if cfg.DevicesPath == "" {
		cfg.DevicesPath = defaults.DevicesPath
	}
	if cfg.ReadingsPath == "" {
		cfg.ReadingsPath = defaults.ReadingsPath
	}
	if cfg.HistoryPath == "" {
		cfg.HistoryPath = defaults.HistoryPath
	}
	if cfg.HealthPath == "" {
		cfg.HealthPath = defaults.HealthPath
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaults.Timeout
	}
	if cfg.RetryAttempts < 0 {
		cfg.RetryAttempts = 0
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = defaults.RetryDelay
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = defaults.ProbeTimeout
	}

	return &LocalServerSource{
		cfg:        cfg,
		httpClient: &http.Client{},
		logger:     logger.With().Str("component", "LocalServerSource").Logger(),
	}, nil
}

// Source identifies this adapter as the local backend.
func (s *LocalServerSource) Source() string {
	return repository.SourceLocal
}

// Available sends a HEAD request to the health endpoint under a short
// deadline. Any transport error or 4xx/5xx response means unavailable.
func (s *LocalServerSource) Available(ctx context.Context) bool {
	probeCtx, cancel := context.WithTimeout(ctx, s.cfg.ProbeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(probeCtx, http.MethodHead, s.cfg.BaseURL+s.cfg.HealthPath, nil)
	if err != nil {
		return false
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		s.logger.Debug().Err(err).Msg("Local server availability probe failed.")
		return false
	}
	defer func() { _ = resp.Body.Close() }()
	return resp.StatusCode < 400
}

// FetchDevices returns the local server's normalized device list.
func (s *LocalServerSource) FetchDevices(ctx context.Context) ([]telemetry.Device, error) {
	raw, err := s.getJSON(ctx, s.cfg.BaseURL+s.cfg.DevicesPath)
	if err != nil {
		return nil, fmt.Errorf("local devices fetch: %w", err)
	}
	return NormalizeLocalDevices(raw), nil
}

// FetchDeviceReadings returns recent readings for one device.
func (s *LocalServerSource) FetchDeviceReadings(ctx context.Context, deviceID string, _ repository.Options) ([]telemetry.Reading, error) {
	endpoint := s.cfg.BaseURL + fmt.Sprintf(s.cfg.ReadingsPath, url.PathEscape(deviceID))
	raw, err := s.getJSON(ctx, endpoint)
	if err != nil {
		return nil, fmt.Errorf("local readings fetch for %s: %w", deviceID, err)
	}
	return NormalizeLocalReadings(raw), nil
}

// FetchHistoricalData returns readings within [start, end].
func (s *LocalServerSource) FetchHistoricalData(ctx context.Context, deviceID string, start, end time.Time, _ repository.Options) ([]telemetry.Reading, error) {
	endpoint := fmt.Sprintf("%s%s?start=%s&end=%s",
		s.cfg.BaseURL,
		fmt.Sprintf(s.cfg.HistoryPath, url.PathEscape(deviceID)),
		url.QueryEscape(start.Format(time.RFC3339)),
		url.QueryEscape(end.Format(time.RFC3339)))
	raw, err := s.getJSON(ctx, endpoint)
	if err != nil {
		return nil, fmt.Errorf("local historical fetch for %s: %w", deviceID, err)
	}
	return NormalizeLocalReadings(raw), nil
}

// getJSON performs a GET with per-attempt timeout and bounded retry with a
// fixed delay. The caller's context cancels both the in-flight attempt and
// the wait between attempts.
func (s *LocalServerSource) getJSON(ctx context.Context, endpoint string) (any, error) {
	attempts := s.cfg.RetryAttempts + 1
	var lastErr error

	for attempt := 1; attempt <= attempts; attempt++ {
		result, err := s.getJSONOnce(ctx, endpoint)
		if err == nil {
			return result, nil
		}
		lastErr = err

		if attempt < attempts {
			s.logger.Warn().Err(err).Int("attempt", attempt).Int("max_attempts", attempts).
				Str("url", endpoint).Msg("Local server request failed; retrying.")
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(s.cfg.RetryDelay):
			}
		}
	}

	return nil, fmt.Errorf("after %d attempts: %w", attempts, lastErr)
}

func (s *LocalServerSource) getJSONOnce(ctx context.Context, endpoint string) (any, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("http status %d from %s", resp.StatusCode, endpoint)
	}

	var result any
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode response from %s: %w", endpoint, err)
	}
	return result, nil
}
