package filestore

import (
	"context"
	"crypto/cipher"
	"crypto/rand"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/scrypt"

	"github.com/jrsteele09/go-sso-session/store"
)

var _ store.KeyValue = (*Store)(nil)

const (
	fileMode   = 0o600
	folderMode = 0o700
	saltLength = 16
)

type envelope struct {
	ExpiresAt time.Time `json:"expires_at,omitempty"`
	Value     []byte    `json:"value"`
}

// Store is a file-per-key KeyValue under a single folder. Writes go through
// a temp file and rename so a crash never leaves a half-written record.
// An optional passphrase encrypts values at rest.
type Store struct {
	folder     string
	passphrase string
	nowTime    func() time.Time
}

// Option defines a function type to modify the Store instance.
type Option func(*Store)

// WithPassphrase enables at-rest encryption of stored values.
func WithPassphrase(passphrase string) Option {
	return func(s *Store) {
		s.passphrase = passphrase
	}
}

// WithNowTime sets the now time function (primarily for testing)
func WithNowTime(nowFunc func() time.Time) Option {
	return func(s *Store) {
		s.nowTime = nowFunc
	}
}

// New creates the folder if needed and returns the store.
func New(folder string, options ...Option) (*Store, error) {
	if folder == "" {
		return nil, errors.New("[filestore.New] folder is required")
	}
	if err := os.MkdirAll(folder, folderMode); err != nil {
		return nil, errors.Wrap(err, "[filestore.New] os.MkdirAll")
	}
	s := &Store{
		folder:  folder,
		nowTime: time.Now,
	}
	for _, opt := range options {
		opt(s)
	}
	return s, nil
}

func (s *Store) Get(_ context.Context, key string) ([]byte, error) {
	raw, err := os.ReadFile(s.path(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, store.ErrNotFound
		}
		return nil, errors.Wrap(err, "[Store.Get] os.ReadFile")
	}

	if s.passphrase != "" {
		if raw, err = s.decrypt(raw); err != nil {
			return nil, errors.Wrap(err, "[Store.Get] decrypt")
		}
	}

	var e envelope
	if err := json.Unmarshal(raw, &e); err != nil {
		return nil, errors.Wrap(err, "[Store.Get] json.Unmarshal envelope")
	}
	if !e.ExpiresAt.IsZero() && !e.ExpiresAt.After(s.nowTime()) {
		_ = os.Remove(s.path(key))
		return nil, store.ErrNotFound
	}
	return e.Value, nil
}

func (s *Store) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	e := envelope{Value: value}
	if ttl > 0 {
		e.ExpiresAt = s.nowTime().Add(ttl)
	}
	raw, err := json.Marshal(e)
	if err != nil {
		return errors.Wrap(err, "[Store.Set] json.Marshal envelope")
	}

	if s.passphrase != "" {
		if raw, err = s.encrypt(raw); err != nil {
			return errors.Wrap(err, "[Store.Set] encrypt")
		}
	}

	tmp, err := os.CreateTemp(s.folder, ".tmp-*")
	if err != nil {
		return errors.Wrap(err, "[Store.Set] os.CreateTemp")
	}
	tmpName := tmp.Name()
	defer func() {
		_ = os.Remove(tmpName)
	}()

	if _, err := tmp.Write(raw); err != nil {
		_ = tmp.Close()
		return errors.Wrap(err, "[Store.Set] write temp file")
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrap(err, "[Store.Set] close temp file")
	}
	if err := os.Chmod(tmpName, fileMode); err != nil {
		return errors.Wrap(err, "[Store.Set] os.Chmod")
	}
	if err := os.Rename(tmpName, s.path(key)); err != nil {
		return errors.Wrap(err, "[Store.Set] os.Rename")
	}
	return nil
}

func (s *Store) Delete(_ context.Context, key string) error {
	if err := os.Remove(s.path(key)); err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, "[Store.Delete] os.Remove")
	}
	return nil
}

func (s *Store) path(key string) string {
	sanitized := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			return r
		default:
			return '_'
		}
	}, key)
	return filepath.Join(s.folder, sanitized+".json")
}

func (s *Store) encrypt(plaintext []byte) ([]byte, error) {
	salt := make([]byte, saltLength)
	if _, err := rand.Read(salt); err != nil {
		return nil, errors.Wrap(err, "rand.Read salt")
	}
	aead, err := s.aead(salt)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, errors.Wrap(err, "rand.Read nonce")
	}
	out := append(salt, nonce...)
	return aead.Seal(out, nonce, plaintext, nil), nil
}

func (s *Store) decrypt(raw []byte) ([]byte, error) {
	if len(raw) < saltLength {
		return nil, errors.New("ciphertext too short")
	}
	salt := raw[:saltLength]
	aead, err := s.aead(salt)
	if err != nil {
		return nil, err
	}
	rest := raw[saltLength:]
	if len(rest) < aead.NonceSize() {
		return nil, errors.New("ciphertext too short")
	}
	nonce, ciphertext := rest[:aead.NonceSize()], rest[aead.NonceSize():]
	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, errors.Wrap(err, "aead.Open")
	}
	return plaintext, nil
}

func (s *Store) aead(salt []byte) (cipher.AEAD, error) {
	key, err := scrypt.Key([]byte(s.passphrase), salt, 1<<15, 8, 1, chacha20poly1305.KeySize)
	if err != nil {
		return nil, errors.Wrap(err, "scrypt.Key")
	}
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, errors.Wrap(err, "chacha20poly1305.New")
	}
	return aead, nil
}
