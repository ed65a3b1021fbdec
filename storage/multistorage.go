package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ruteri/sidechain-registry/interfaces"
)

// MultiStorageBackend replicates snapshots to several backends and reads from
// the first backend returning content that matches the requested id.
type MultiStorageBackend struct {
	backends    []interfaces.StorageBackend
	minReplicas int
	log         *slog.Logger
}

// NewMultiStorageBackend creates a multi-storage backend. A Store succeeds once
// at least minReplicas backends accepted the content; values below 1 mean 1.
func NewMultiStorageBackend(backends []interfaces.StorageBackend, minReplicas int, logger *slog.Logger) *MultiStorageBackend {
	if logger == nil {
		logger = slog.Default()
	}
	if minReplicas < 1 {
		minReplicas = 1
	}

	return &MultiStorageBackend{
		backends:    backends,
		minReplicas: minReplicas,
		log:         logger,
	}
}

// Fetch tries each available backend in order. Content whose hash does not
// match id is treated as a failure of that backend.
func (m *MultiStorageBackend) Fetch(ctx context.Context, id interfaces.ContentID, contentType interfaces.ContentType) ([]byte, error) {
	start := time.Now()
	contentIDStr := fmt.Sprintf("%x", id[:8])
	var errs []error

	for _, backend := range m.backends {
		if !backend.Available(ctx) {
			m.log.Debug("Backend unavailable",
				slog.String("backend_name", backend.Name()),
				slog.String("content_id", contentIDStr))
			continue
		}

		data, err := backend.Fetch(ctx, id, contentType)
		if err == nil && interfaces.ComputeID(data) != id {
			err = fmt.Errorf("content hash mismatch")
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", backend.Name(), err))
			m.log.Debug("Failed to fetch from backend",
				slog.String("backend_name", backend.Name()),
				slog.String("content_id", contentIDStr),
				"err", err)
			continue
		}

		m.log.Debug("Fetched content",
			slog.String("backend_name", backend.Name()),
			slog.String("content_id", contentIDStr),
			slog.Duration("duration", time.Since(start)))
		return data, nil
	}

	m.log.Error("All backends failed to fetch content",
		slog.String("content_id", contentIDStr),
		slog.Int("failed_backends", len(errs)),
		slog.Duration("duration", time.Since(start)))

	if len(errs) == 0 {
		return nil, fmt.Errorf("%w: no backend available for %s", interfaces.ErrBackendUnavailable, contentIDStr)
	}
	if allNotFound(errs) {
		return nil, fmt.Errorf("%w: %s", interfaces.ErrContentNotFound, contentIDStr)
	}
	return nil, fmt.Errorf("all backends failed to fetch %s: %w", contentIDStr, errors.Join(errs...))
}

// Store saves data to every available backend.
func (m *MultiStorageBackend) Store(ctx context.Context, data []byte, contentType interfaces.ContentType) (interfaces.ContentID, error) {
	start := time.Now()
	id := interfaces.ComputeID(data)
	stored := 0
	var errs []error

	for _, backend := range m.backends {
		if !backend.Available(ctx) {
			m.log.Debug("Backend unavailable", slog.String("backend_name", backend.Name()))
			continue
		}

		backendID, err := backend.Store(ctx, data, contentType)
		if err == nil && backendID != id {
			err = fmt.Errorf("backend returned content id %x, expected %x", backendID[:8], id[:8])
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", backend.Name(), err))
			m.log.Warn("Failed to store to backend",
				slog.String("backend_name", backend.Name()),
				"err", err)
			continue
		}
		stored++
	}

	if stored < m.minReplicas {
		m.log.Error("Not enough backends stored data",
			slog.Int("stored", stored),
			slog.Int("min_replicas", m.minReplicas),
			slog.Duration("duration", time.Since(start)))
		if len(errs) == 0 {
			return interfaces.ContentID{}, fmt.Errorf("%w: stored to %d of %d required backends", interfaces.ErrBackendUnavailable, stored, m.minReplicas)
		}
		return interfaces.ContentID{}, fmt.Errorf("stored to %d of %d required backends: %w", stored, m.minReplicas, errors.Join(errs...))
	}

	m.log.Info("Stored content",
		slog.String("content_id", id.String()),
		slog.Int("replicas", stored),
		slog.Duration("duration", time.Since(start)))
	return id, nil
}

// Available checks if any backend is available
func (m *MultiStorageBackend) Available(ctx context.Context) bool {
	for _, backend := range m.backends {
		if backend.Available(ctx) {
			return true
		}
	}
	return false
}

// Name returns the name of this backend
func (m *MultiStorageBackend) Name() string {
	return "multi-storage"
}

// LocationURI combines the locations of all backends.
func (m *MultiStorageBackend) LocationURI() string {
	locations := make([]string, 0, len(m.backends))
	for _, backend := range m.backends {
		locations = append(locations, backend.LocationURI())
	}
	return "multi:[" + strings.Join(locations, ",") + "]"
}

func allNotFound(errs []error) bool {
	for _, err := range errs {
		if !errors.Is(err, interfaces.ErrContentNotFound) {
			return false
		}
	}
	return true
}
