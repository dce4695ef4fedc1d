package sources

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/rs/zerolog"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/illmade-knight/go-devicedata/pkg/repository"
	"github.com/illmade-knight/go-devicedata/pkg/telemetry"
)

// FirestoreConfig holds configuration for the cloud-side device source.
type FirestoreConfig struct {
	ProjectID string
	// DevicesCollection is the top-level device document collection.
	DevicesCollection string
	// ReadingsCollection is the per-device readings subcollection name.
	ReadingsCollection string
	// ReadingsLimit bounds FetchDeviceReadings. Defaults to 100.
	ReadingsLimit int
	// ProbeTimeout bounds the availability probe. Defaults to 2s.
	ProbeTimeout time.Duration
}

// FirestoreSource is the "firebase" adapter: it reads raw device documents
// and reading subcollections from Firestore and normalizes them. The
// Firestore client's lifecycle is managed by the caller.
type FirestoreSource struct {
	client *firestore.Client
	cfg    FirestoreConfig
	logger zerolog.Logger
	now    func() time.Time
}

// NewFirestoreSource creates a FirestoreSource over an existing client.
func NewFirestoreSource(cfg FirestoreConfig, client *firestore.Client, logger zerolog.Logger) (*FirestoreSource, error) {
	if client == nil {
		return nil, fmt.Errorf("firestore client cannot be nil")
	}
	if cfg.DevicesCollection == "" {
		cfg.DevicesCollection = "devices"
	}
	if cfg.ReadingsCollection == "" {
		cfg.ReadingsCollection = "readings"
	}
	if cfg.ReadingsLimit <= 0 {
		cfg.ReadingsLimit = 100
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = 2 * time.Second
	}

	logger.Info().Str("project_id", cfg.ProjectID).Str("collection", cfg.DevicesCollection).Msg("FirestoreSource initialized.")

	return &FirestoreSource{
		client: client,
		cfg:    cfg,
		logger: logger.With().Str("component", "FirestoreSource").Logger(),
		now:    time.Now,
	}, nil
}

// Source identifies this adapter as the firebase backend.
func (s *FirestoreSource) Source() string {
	return repository.SourceFirebase
}

// Available probes the devices collection with a one-document read under a
// short deadline. Any failure means unavailable; probes never error.
func (s *FirestoreSource) Available(ctx context.Context) bool {
	probeCtx, cancel := context.WithTimeout(ctx, s.cfg.ProbeTimeout)
	defer cancel()

	iter := s.client.Collection(s.cfg.DevicesCollection).Limit(1).Documents(probeCtx)
	defer iter.Stop()
	_, err := iter.Next()
	if err != nil && !errors.Is(err, iterator.Done) {
		s.logger.Warn().Err(err).Msg("Firestore availability probe failed.")
		return false
	}
	return true
}

// FetchDevices reads and normalizes every device document. Documents that
// cannot yield a stable id are dropped, not surfaced.
func (s *FirestoreSource) FetchDevices(ctx context.Context) ([]telemetry.Device, error) {
	iter := s.client.Collection(s.cfg.DevicesCollection).Documents(ctx)
	defer iter.Stop()

	var devices []telemetry.Device
	now := s.now()
	for {
		doc, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			if status.Code(err) == codes.NotFound {
				return nil, fmt.Errorf("devices collection %q not found: %w", s.cfg.DevicesCollection, err)
			}
			return nil, fmt.Errorf("firestore devices scan: %w", err)
		}

		raw := doc.Data()
		if _, hasID := raw["id"]; !hasID {
			raw["id"] = doc.Ref.ID
		}
		if device := NormalizeFirebaseDevice(raw, now); device != nil {
			devices = append(devices, *device)
		} else {
			s.logger.Warn().Str("doc", doc.Ref.ID).Msg("Dropping device document with no resolvable id.")
		}
	}

	s.logger.Debug().Int("count", len(devices)).Msg("Fetched devices from Firestore.")
	return devices, nil
}

// FetchDeviceReadings returns the newest readings for one device, newest
// first, bounded by the configured limit.
func (s *FirestoreSource) FetchDeviceReadings(ctx context.Context, deviceID string, _ repository.Options) ([]telemetry.Reading, error) {
	query := s.client.Collection(s.cfg.DevicesCollection).Doc(deviceID).
		Collection(s.cfg.ReadingsCollection).
		OrderBy("timestamp", firestore.Desc).
		Limit(s.cfg.ReadingsLimit)

	return s.collectReadings(ctx, query.Documents(ctx), deviceID)
}

// FetchHistoricalData returns readings within [start, end], oldest first.
func (s *FirestoreSource) FetchHistoricalData(ctx context.Context, deviceID string, start, end time.Time, _ repository.Options) ([]telemetry.Reading, error) {
	query := s.client.Collection(s.cfg.DevicesCollection).Doc(deviceID).
		Collection(s.cfg.ReadingsCollection).
		Where("timestamp", ">=", start).
		Where("timestamp", "<=", end).
		OrderBy("timestamp", firestore.Asc)

	return s.collectReadings(ctx, query.Documents(ctx), deviceID)
}

func (s *FirestoreSource) collectReadings(_ context.Context, iter *firestore.DocumentIterator, deviceID string) ([]telemetry.Reading, error) {
	defer iter.Stop()

	var readings []telemetry.Reading
	for {
		doc, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("firestore readings scan for %s: %w", deviceID, err)
		}
		reading := NormalizeFirebaseReading(doc.Data())
		if reading.DeviceID == "" {
			reading.DeviceID = deviceID
		}
		readings = append(readings, reading)
	}
	return readings, nil
}
