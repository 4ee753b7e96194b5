package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jrsteele09/go-sso-session/session"
	"github.com/jrsteele09/go-sso-session/store"
	"github.com/jrsteele09/go-sso-session/store/memstore"
)

func setupStore(t *testing.T) (*store.Store, store.KeyValue) {
	t.Helper()
	kv := memstore.New()
	s, err := store.New(kv, "sso")
	require.NoError(t, err)
	return s, kv
}

func testRecord() *session.Record {
	return &session.Record{
		AccessToken:  "access-token",
		RefreshToken: "refresh-token",
		ExpiresAt:    time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC),
		User:         &session.User{ID: "user-1", Email: "john.doe@example.com"},
		Tenant:       &session.Tenant{ID: "tenant-1", Name: "Acme"},
	}
}

func TestStoreRequiresKeyValue(t *testing.T) {
	_, err := store.New(nil, "sso")
	require.Error(t, err)
}

func TestStoreSaveLoadRoundtrip(t *testing.T) {
	s, _ := setupStore(t)
	ctx := context.Background()

	require.NoError(t, s.Save(ctx, testRecord()))

	loaded := s.Load(ctx)
	require.NotNil(t, loaded)
	require.Equal(t, testRecord(), loaded)
}

func TestStoreLoadMissingReturnsNil(t *testing.T) {
	s, _ := setupStore(t)
	require.Nil(t, s.Load(context.Background()))
}

func TestStoreLoadCorruptReturnsNil(t *testing.T) {
	s, kv := setupStore(t)
	ctx := context.Background()

	require.NoError(t, kv.Set(ctx, "sso:auth_record", []byte("{not json"), 0))
	require.Nil(t, s.Load(ctx))

	// The corrupt entry is discarded, not left to fail again.
	_, err := kv.Get(ctx, "sso:auth_record")
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestStoreClearIdempotent(t *testing.T) {
	s, _ := setupStore(t)
	ctx := context.Background()

	require.NoError(t, s.Save(ctx, testRecord()))
	require.NoError(t, s.Clear(ctx))
	require.Nil(t, s.Load(ctx))
	require.NoError(t, s.Clear(ctx))
}

func TestStoreSaveOverwrites(t *testing.T) {
	s, _ := setupStore(t)
	ctx := context.Background()

	require.NoError(t, s.Save(ctx, testRecord()))

	updated := testRecord()
	updated.AccessToken = "rotated"
	require.NoError(t, s.Save(ctx, updated))

	loaded := s.Load(ctx)
	require.NotNil(t, loaded)
	require.Equal(t, "rotated", loaded.AccessToken)
}
