package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	apperrors "cardauth/internal/errors"
	"cardauth/internal/security"
)

// Storage keys shared with earlier client releases.
const (
	KeySession  = "cardAuth"
	KeyDeviceID = "device_id"
)

// Record is the persisted session snapshot.
type Record struct {
	Authenticated bool   `json:"isAuthenticated"`
	CardNumber    string `json:"cardNumber"`
	ExpiresAt     string `json:"expiresAt"`
	ExpiresTs     int64  `json:"expiresTs"`
	CardType      string `json:"cardType"`
	LastHeartbeat *int64 `json:"lastHeartbeat"`
}

// DeviceIDSource produces a new device identifier.
type DeviceIDSource interface {
	Generate() string
}

// SessionStore reads and writes the session record and device identity.
type SessionStore struct {
	kv      KV
	devices DeviceIDSource
	logger  *slog.Logger
}

// NewSessionStore wraps kv. A nil devices source uses the host-derived
// generator.
func NewSessionStore(kv KV, devices DeviceIDSource, logger *slog.Logger) *SessionStore {
	if logger == nil {
		logger = slog.Default()
	}
	if devices == nil {
		devices = security.NewDeviceIDGenerator(logger)
	}
	return &SessionStore{
		kv:      kv,
		devices: devices,
		logger:  logger.With(slog.String("component", "session_store")),
	}
}

// Load returns the stored record, or nil when there is none. A record that
// cannot be decoded is removed and reported as absent.
func (s *SessionStore) Load(ctx context.Context) (*Record, error) {
	raw, ok, err := s.kv.Get(ctx, KeySession)
	if err != nil {
		return nil, apperrors.NewStorageError("failed to read session", err)
	}
	if !ok || strings.TrimSpace(raw) == "" {
		return nil, nil
	}

	var rec Record
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		s.logger.WarnContext(ctx, "discarding corrupt session record",
			slog.String("key", KeySession),
			slog.String("error", err.Error()),
		)
		if rmErr := s.kv.Remove(ctx, KeySession); rmErr != nil {
			s.logger.WarnContext(ctx, "failed to remove corrupt session record",
				slog.String("error", rmErr.Error()),
			)
		}
		return nil, nil
	}
	return &rec, nil
}

// Save replaces the stored record.
func (s *SessionStore) Save(ctx context.Context, rec Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return apperrors.NewStorageError("failed to encode session", err)
	}
	if err := s.kv.Set(ctx, KeySession, string(data)); err != nil {
		return apperrors.NewStorageError("failed to write session", err)
	}
	s.logger.DebugContext(ctx, "session saved",
		slog.String("card", security.MaskCard(rec.CardNumber)),
		slog.Int64("expires_ts", rec.ExpiresTs),
	)
	return nil
}

// Clear removes the stored record. The device identity is kept.
func (s *SessionStore) Clear(ctx context.Context) error {
	if err := s.kv.Remove(ctx, KeySession); err != nil {
		return apperrors.NewStorageError("failed to clear session", err)
	}
	return nil
}

// DeviceID returns the persisted device identity, creating and persisting
// one on first use.
func (s *SessionStore) DeviceID(ctx context.Context) (string, error) {
	id, ok, err := s.kv.Get(ctx, KeyDeviceID)
	if err != nil {
		return "", apperrors.NewStorageError("failed to read device id", err)
	}
	if id = strings.TrimSpace(id); ok && id != "" {
		return id, nil
	}

	id = s.devices.Generate()
	if id == "" {
		return "", apperrors.NewStorageError("device id generator returned an empty id", nil)
	}
	if err := s.kv.Set(ctx, KeyDeviceID, id); err != nil {
		return "", apperrors.NewStorageError(fmt.Sprintf("failed to persist device id %s", id), err)
	}
	s.logger.InfoContext(ctx, "device id created", slog.String("device_id", id))
	return id, nil
}
