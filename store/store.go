package store

import (
	"context"
	"encoding/json"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	internalerrors "github.com/jrsteele09/go-sso-session/internal/errors"
	"github.com/jrsteele09/go-sso-session/session"
)

const recordKeySuffix = ":auth_record"

// Store persists the current auth record as JSON under a single namespaced
// key of the backing KeyValue.
type Store struct {
	kv        KeyValue
	recordKey string
	log       zerolog.Logger
}

// StoreOption defines a function type to modify the Store instance.
type StoreOption func(*Store)

// WithLogger sets the store logger.
func WithLogger(log zerolog.Logger) StoreOption {
	return func(s *Store) {
		s.log = log
	}
}

// New creates a Store over the given KeyValue. namespace prefixes the record
// key so several apps can share one backend.
func New(kv KeyValue, namespace string, options ...StoreOption) (*Store, error) {
	if kv == nil {
		return nil, errors.New("[store.New] KeyValue is required")
	}
	if namespace == "" {
		namespace = "sso"
	}
	s := &Store{
		kv:        kv,
		recordKey: namespace + recordKeySuffix,
		log:       zerolog.Nop(),
	}
	for _, opt := range options {
		opt(s)
	}
	return s, nil
}

// Load reads the persisted record. Missing or corrupt data yields nil; the
// failure is logged and treated as no session, never surfaced.
func (s *Store) Load(ctx context.Context) *session.Record {
	raw, err := s.kv.Get(ctx, s.recordKey)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			s.log.Warn().Err(err).Msg("failed to read persisted auth record")
		}
		return nil
	}

	record := &session.Record{}
	if err := json.Unmarshal(raw, record); err != nil {
		s.log.Warn().Err(internalerrors.ErrCorruptRecord).Str("detail", err.Error()).Msg("persisted auth record discarded")
		if err := s.kv.Delete(ctx, s.recordKey); err != nil {
			s.log.Warn().Err(err).Msg("failed to remove corrupt auth record")
		}
		return nil
	}
	return record
}

// Save atomically replaces the persisted record.
func (s *Store) Save(ctx context.Context, record *session.Record) error {
	if record == nil {
		return errors.New("[Store.Save] record is required")
	}
	raw, err := json.Marshal(record)
	if err != nil {
		return errors.Wrap(err, "[Store.Save] json.Marshal")
	}
	if err := s.kv.Set(ctx, s.recordKey, raw, 0); err != nil {
		return errors.Wrap(err, "[Store.Save] kv.Set")
	}
	return nil
}

// Clear removes the persisted record. Idempotent.
func (s *Store) Clear(ctx context.Context) error {
	if err := s.kv.Delete(ctx, s.recordKey); err != nil {
		return errors.Wrap(err, "[Store.Clear] kv.Delete")
	}
	return nil
}
