package authsession_test

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	authsession "github.com/jrsteele09/go-sso-session"
	"github.com/jrsteele09/go-sso-session/loginflow"
	"github.com/jrsteele09/go-sso-session/loginflow/flowfakes"
	"github.com/jrsteele09/go-sso-session/refresh"
	"github.com/jrsteele09/go-sso-session/session"
	"github.com/jrsteele09/go-sso-session/ssoapi"
	"github.com/jrsteele09/go-sso-session/ssoapi/requesterfake"
	"github.com/jrsteele09/go-sso-session/store"
	"github.com/jrsteele09/go-sso-session/store/memstore"
	"github.com/jrsteele09/go-sso-session/validator"
)

const recordKey = "sso:auth_record"

type managerFixture struct {
	api       *requesterfake.FakeRequester
	kv        *memstore.Store
	store     *store.Store
	popup     *flowfakes.FakePopup
	callbacks *flowfakes.FakeCallbackSource
	manager   *authsession.Manager
}

func setupManagerFixture(t *testing.T) *managerFixture {
	t.Helper()

	f := &managerFixture{
		api:       requesterfake.NewFakeRequester(),
		kv:        memstore.New(),
		popup:     flowfakes.NewFakePopup(),
		callbacks: &flowfakes.FakeCallbackSource{},
	}

	authStore, err := store.New(f.kv, "sso")
	require.NoError(t, err)
	f.store = authStore

	flow, err := loginflow.NewCoordinator(f.api, flowfakes.NewFakeOpener(f.popup), f.kv,
		loginflow.WithCallbackSource(f.callbacks),
		loginflow.WithPollInterval(5*time.Millisecond),
		loginflow.WithTimeout(time.Second),
	)
	require.NoError(t, err)

	tokenValidator, err := validator.New(f.api)
	require.NoError(t, err)

	manager, err := authsession.New(authsession.Deps{
		API:       f.api,
		Store:     authStore,
		Flow:      flow,
		Validator: tokenValidator,
	},
		// Fire as soon as the record's expiry arrives, so tests can drive
		// refreshes with millisecond expiries.
		authsession.WithSchedulerOptions(refresh.WithLeadTime(0)),
	)
	require.NoError(t, err)
	f.manager = manager
	t.Cleanup(manager.Destroy)

	return f
}

func storedRecord(expiresAt time.Time) *session.Record {
	return &session.Record{
		AccessToken:  "access-token",
		RefreshToken: "refresh-token",
		ExpiresAt:    expiresAt,
		User: &session.User{
			ID:          "user-1",
			Email:       "john.doe@example.com",
			Roles:       []string{"tenant_admin"},
			Permissions: []string{"reports:read"},
		},
		Tenant: &session.Tenant{ID: "tenant-1", Name: "Acme", Tier: "enterprise"},
	}
}

func (f *managerFixture) persist(t *testing.T, record *session.Record) {
	t.Helper()
	require.NoError(t, f.store.Save(context.Background(), record))
}

func (f *managerFixture) persistedRecordExists() bool {
	_, err := f.kv.Get(context.Background(), recordKey)
	return err == nil
}

func TestNewValidatesDeps(t *testing.T) {
	_, err := authsession.New(authsession.Deps{})
	require.Error(t, err)
}

func TestInitializeNoStoredRecord(t *testing.T) {
	f := setupManagerFixture(t)

	f.manager.Initialize(context.Background())

	require.False(t, f.manager.IsAuthenticated())
	require.Equal(t, authsession.StateUnauthenticated, f.manager.State())
}

func TestInitializeValidSession(t *testing.T) {
	f := setupManagerFixture(t)
	f.persist(t, storedRecord(time.Now().Add(time.Hour)))
	f.api.RespondOK(ssoapi.RouteValidate, map[string]bool{"valid": true})

	f.manager.Initialize(context.Background())

	require.True(t, f.manager.IsAuthenticated())
	require.Equal(t, authsession.StateAuthenticated, f.manager.State())
	require.Equal(t, "john.doe@example.com", f.manager.CurrentUser().Email)
	require.Equal(t, "Acme", f.manager.CurrentTenant().Name)
	require.True(t, f.manager.HasRole("tenant_admin"))
	require.False(t, f.manager.HasRole("super_admin"))
	require.True(t, f.manager.HasPermission("reports:read"))
	require.False(t, f.manager.HasPermission("reports:write"))
}

func TestInitializeExpiredRecordClearsSession(t *testing.T) {
	f := setupManagerFixture(t)
	f.persist(t, storedRecord(time.Now().Add(-time.Hour)))

	f.manager.Initialize(context.Background())

	require.False(t, f.manager.IsAuthenticated())
	require.False(t, f.persistedRecordExists())
}

func TestInitializeRemoteRejectionClearsSession(t *testing.T) {
	f := setupManagerFixture(t)
	f.persist(t, storedRecord(time.Now().Add(time.Hour)))
	f.api.RespondFail(ssoapi.RouteValidate, "token revoked")

	f.manager.Initialize(context.Background())

	require.False(t, f.manager.IsAuthenticated())
	require.False(t, f.persistedRecordExists())
}

func TestInitializeCorruptStorage(t *testing.T) {
	f := setupManagerFixture(t)
	require.NoError(t, f.kv.Set(context.Background(), recordKey, []byte("{not json"), 0))

	f.manager.Initialize(context.Background())

	require.False(t, f.manager.IsAuthenticated())
	require.Equal(t, authsession.StateUnauthenticated, f.manager.State())
}

func TestInitializeValidationNetworkFailureFailsClosed(t *testing.T) {
	f := setupManagerFixture(t)
	f.persist(t, storedRecord(time.Now().Add(time.Hour)))
	f.api.RespondError(ssoapi.RouteValidate, errors.New("connection refused"))

	f.manager.Initialize(context.Background())

	require.False(t, f.manager.IsAuthenticated())
	require.False(t, f.persistedRecordExists())
}

func TestLoginPersistsAndAuthenticates(t *testing.T) {
	f := setupManagerFixture(t)
	f.api.RespondOK(ssoapi.RouteLogin, map[string]string{"login_url": "https://idp.example.com/login"})
	f.api.RespondOK(ssoapi.RouteCallback, storedRecord(time.Now().Add(time.Hour)))
	f.callbacks.Code = "auth-code-1"
	f.callbacks.State = "state-1"
	f.callbacks.Has = true
	f.popup.UserCloses()

	require.NoError(t, f.manager.Login(context.Background(), "okta"))

	require.True(t, f.manager.IsAuthenticated())
	require.True(t, f.persistedRecordExists())
}

func TestLoginFailureLeavesUnauthenticated(t *testing.T) {
	f := setupManagerFixture(t)
	f.api.RespondOK(ssoapi.RouteLogin, map[string]string{"login_url": "https://idp.example.com/login"})
	f.popup.UserCloses() // closed without completing the provider flow

	err := f.manager.Login(context.Background(), "okta")
	require.ErrorIs(t, err, loginflow.ErrNoAuthData)

	require.False(t, f.manager.IsAuthenticated())
	require.Equal(t, authsession.StateUnauthenticated, f.manager.State())
	require.False(t, f.persistedRecordExists())
}

func TestFailedReloginKeepsCurrentSession(t *testing.T) {
	f := setupManagerFixture(t)
	f.api.RespondOK(ssoapi.RouteValidate, map[string]bool{"valid": true})
	f.persist(t, storedRecord(time.Now().Add(time.Hour)))
	f.manager.Initialize(context.Background())
	require.True(t, f.manager.IsAuthenticated())

	f.api.RespondFail(ssoapi.RouteLogin, "unknown provider")
	err := f.manager.Login(context.Background(), "okta")
	require.ErrorIs(t, err, loginflow.ErrLoginRejected)

	require.True(t, f.manager.IsAuthenticated())
	require.Equal(t, authsession.StateAuthenticated, f.manager.State())
	require.Equal(t, "john.doe@example.com", f.manager.CurrentUser().Email)
	require.True(t, f.persistedRecordExists())
}

func TestDirectLogin(t *testing.T) {
	f := setupManagerFixture(t)
	f.api.RespondOK(ssoapi.RouteDirectLogin, storedRecord(time.Now().Add(time.Hour)))

	require.NoError(t, f.manager.DirectLogin(context.Background(), "john.doe@example.com", "password123", "tenant-1"))
	require.True(t, f.manager.IsAuthenticated())
}

func TestScheduledRefreshRotatesTokens(t *testing.T) {
	f := setupManagerFixture(t)
	f.api.RespondOK(ssoapi.RouteValidate, map[string]bool{"valid": true})

	laterExpiry := time.Now().Add(time.Hour).Truncate(time.Second)
	f.api.RespondOK(ssoapi.RouteRefresh, &session.Record{
		AccessToken:  "rotated-access",
		RefreshToken: "rotated-refresh",
		ExpiresAt:    laterExpiry,
	})

	// Lead time is zero, so the refresh fires when this expiry arrives.
	f.persist(t, storedRecord(time.Now().Add(150*time.Millisecond)))
	f.manager.Initialize(context.Background())
	require.True(t, f.manager.IsAuthenticated())

	require.Eventually(t, func() bool {
		return f.api.CallCount(ssoapi.RouteRefresh) == 1
	}, 2*time.Second, 10*time.Millisecond)

	require.Eventually(t, func() bool {
		raw, err := f.kv.Get(context.Background(), recordKey)
		if err != nil {
			return false
		}
		persisted := &session.Record{}
		if err := json.Unmarshal(raw, persisted); err != nil {
			return false
		}
		return persisted.AccessToken == "rotated-access"
	}, 2*time.Second, 10*time.Millisecond)

	require.True(t, f.manager.IsAuthenticated())

	// The refresh request carried the stored refresh token.
	for _, call := range f.api.Calls() {
		if call.Path == ssoapi.RouteRefresh {
			require.Equal(t, map[string]string{"refresh_token": "refresh-token"}, call.Body)
		}
	}
}

func TestScheduledRefreshWithoutRefreshTokenClearsSession(t *testing.T) {
	f := setupManagerFixture(t)
	f.api.RespondOK(ssoapi.RouteValidate, map[string]bool{"valid": true})

	record := storedRecord(time.Now().Add(150 * time.Millisecond))
	record.RefreshToken = ""
	f.persist(t, record)
	f.manager.Initialize(context.Background())
	require.True(t, f.manager.IsAuthenticated())

	require.Eventually(t, func() bool {
		return !f.manager.IsAuthenticated()
	}, 2*time.Second, 10*time.Millisecond)

	require.False(t, f.persistedRecordExists())
	require.Zero(t, f.api.CallCount(ssoapi.RouteRefresh))
	require.Equal(t, authsession.StateUnauthenticated, f.manager.State())
}

// gatedKV blocks the next Set after arming until released, holding a refresh
// just before it persists the rotated record. entered closes when the held
// Set has been reached.
type gatedKV struct {
	*memstore.Store
	gate    chan struct{}
	entered chan struct{}
	armed   atomic.Bool
}

func (g *gatedKV) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if g.armed.CompareAndSwap(true, false) {
		close(g.entered)
		<-g.gate
	}
	return g.Store.Set(ctx, key, value, ttl)
}

func TestLogoutDuringRefreshPersistLeavesStorageClear(t *testing.T) {
	api := requesterfake.NewFakeRequester()
	kv := &gatedKV{Store: memstore.New(), gate: make(chan struct{}), entered: make(chan struct{})}

	authStore, err := store.New(kv, "sso")
	require.NoError(t, err)

	flow, err := loginflow.NewCoordinator(api, flowfakes.NewFakeOpener(flowfakes.NewFakePopup()), kv)
	require.NoError(t, err)

	tokenValidator, err := validator.New(api)
	require.NoError(t, err)

	manager, err := authsession.New(authsession.Deps{
		API:       api,
		Store:     authStore,
		Flow:      flow,
		Validator: tokenValidator,
	}, authsession.WithSchedulerOptions(refresh.WithLeadTime(0)))
	require.NoError(t, err)
	t.Cleanup(manager.Destroy)

	api.RespondOK(ssoapi.RouteValidate, map[string]bool{"valid": true})
	api.RespondOK(ssoapi.RouteLogout, map[string]bool{"ok": true})
	api.RespondOK(ssoapi.RouteRefresh, &session.Record{
		AccessToken:  "rotated-access",
		RefreshToken: "rotated-refresh",
		ExpiresAt:    time.Now().Add(time.Hour),
	})

	ctx := context.Background()
	require.NoError(t, authStore.Save(ctx, storedRecord(time.Now().Add(150*time.Millisecond))))
	manager.Initialize(ctx)
	require.True(t, manager.IsAuthenticated())

	kv.armed.Store(true)
	select {
	case <-kv.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("refresh never reached the persist step")
	}
	require.Equal(t, 1, api.CallCount(ssoapi.RouteRefresh))

	logoutErr := make(chan error, 1)
	go func() {
		logoutErr <- manager.Logout(ctx)
	}()

	// Logout cannot resolve while the refresh result is being committed.
	select {
	case <-logoutErr:
		t.Fatal("logout resolved while the refresh commit was in flight")
	case <-time.After(50 * time.Millisecond):
	}

	close(kv.gate)
	require.NoError(t, <-logoutErr)

	require.False(t, manager.IsAuthenticated())
	require.Equal(t, authsession.StateUnauthenticated, manager.State())
	_, err = kv.Get(ctx, recordKey)
	require.ErrorIs(t, err, store.ErrNotFound)

	// The rotated record must not reappear after logout returned.
	time.Sleep(100 * time.Millisecond)
	_, err = kv.Get(ctx, recordKey)
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestScheduledRefreshFailureClearsSession(t *testing.T) {
	f := setupManagerFixture(t)
	f.api.RespondOK(ssoapi.RouteValidate, map[string]bool{"valid": true})
	f.api.RespondFail(ssoapi.RouteRefresh, "refresh token revoked")

	f.persist(t, storedRecord(time.Now().Add(150*time.Millisecond)))
	f.manager.Initialize(context.Background())
	require.True(t, f.manager.IsAuthenticated())

	require.Eventually(t, func() bool {
		return !f.manager.IsAuthenticated()
	}, 2*time.Second, 10*time.Millisecond)

	require.False(t, f.persistedRecordExists())
	require.Equal(t, authsession.StateUnauthenticated, f.manager.State())
}

func TestLogoutClearsEverything(t *testing.T) {
	f := setupManagerFixture(t)
	f.api.RespondOK(ssoapi.RouteValidate, map[string]bool{"valid": true})
	f.api.RespondOK(ssoapi.RouteLogout, map[string]bool{"ok": true})

	f.persist(t, storedRecord(time.Now().Add(time.Hour)))
	f.manager.Initialize(context.Background())
	require.True(t, f.manager.IsAuthenticated())

	require.NoError(t, f.manager.Logout(context.Background()))

	require.False(t, f.manager.IsAuthenticated())
	require.False(t, f.persistedRecordExists())
	require.Nil(t, f.manager.CurrentUser())
	require.Nil(t, f.manager.CurrentTenant())
}

func TestLogoutIdempotent(t *testing.T) {
	f := setupManagerFixture(t)

	require.NoError(t, f.manager.Logout(context.Background()))
	require.NoError(t, f.manager.Logout(context.Background()))
	require.Equal(t, authsession.StateUnauthenticated, f.manager.State())
}

func TestLogoutClearsLocallyWhenRemoteFails(t *testing.T) {
	f := setupManagerFixture(t)
	f.api.RespondOK(ssoapi.RouteValidate, map[string]bool{"valid": true})
	f.api.RespondError(ssoapi.RouteLogout, errors.New("connection refused"))

	f.persist(t, storedRecord(time.Now().Add(time.Hour)))
	f.manager.Initialize(context.Background())

	require.NoError(t, f.manager.Logout(context.Background()))
	require.False(t, f.manager.IsAuthenticated())
	require.False(t, f.persistedRecordExists())
}

func TestProviders(t *testing.T) {
	f := setupManagerFixture(t)
	f.api.RespondOK(ssoapi.RouteProviders, []loginflow.Provider{{ID: "okta", Name: "Okta", Type: "oauth"}})

	providers := f.manager.Providers(context.Background())
	require.Len(t, providers, 1)
}

func TestDestroyDropsInMemoryStateOnly(t *testing.T) {
	f := setupManagerFixture(t)
	f.api.RespondOK(ssoapi.RouteValidate, map[string]bool{"valid": true})

	f.persist(t, storedRecord(time.Now().Add(time.Hour)))
	f.manager.Initialize(context.Background())
	require.True(t, f.manager.IsAuthenticated())

	f.manager.Destroy()

	require.False(t, f.manager.IsAuthenticated())
	// The persisted record survives for the next Initialize.
	require.True(t, f.persistedRecordExists())
}
