// Package authsession manages client-side authentication state for a
// multi-tenant SSO integration: persisted token storage, token validation,
// scheduled refresh, and popup-based login negotiation, behind one facade.
package authsession

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	internalerrors "github.com/jrsteele09/go-sso-session/internal/errors"
	"github.com/jrsteele09/go-sso-session/loginflow"
	"github.com/jrsteele09/go-sso-session/refresh"
	"github.com/jrsteele09/go-sso-session/session"
	"github.com/jrsteele09/go-sso-session/ssoapi"
	"github.com/jrsteele09/go-sso-session/store"
	"github.com/jrsteele09/go-sso-session/validator"
)

// State is the manager's lifecycle state.
type State string

const (
	StateUnauthenticated State = "unauthenticated"
	StatePendingLogin    State = "pending_login"
	StateAuthenticated   State = "authenticated"
	StateRefreshing      State = "refreshing"
)

// Deps holds all dependencies for the Manager.
type Deps struct {
	API       ssoapi.Requester       // Backend SSO facade client
	Store     *store.Store           // Persisted auth record store
	Flow      *loginflow.Coordinator // Popup login flow negotiation
	Validator *validator.Validator   // Local + remote token validation
}

// Manager orchestrates the session components and exposes the public
// contract to the rest of the application.
type Manager struct {
	deps             Deps
	scheduler        *refresh.Scheduler
	schedulerOptions []refresh.Option
	nowTime          func() time.Time
	log              zerolog.Logger

	lock       sync.RWMutex
	state      State
	record     *session.Record
	generation uint64
}

// Option defines a function type to modify the Manager instance.
type Option func(*Manager)

// WithNowTime sets the now time function (primarily for testing)
func WithNowTime(nowFunc func() time.Time) Option {
	return func(m *Manager) {
		m.nowTime = nowFunc
	}
}

// WithLogger sets the manager logger.
func WithLogger(log zerolog.Logger) Option {
	return func(m *Manager) {
		m.log = log
	}
}

// WithSchedulerOptions forwards options to the refresh scheduler.
func WithSchedulerOptions(options ...refresh.Option) Option {
	return func(m *Manager) {
		m.schedulerOptions = options
	}
}

// New initializes a Manager with required dependencies. Optional
// configuration can be provided via options (e.g., WithNowTime for testing).
func New(deps Deps, options ...Option) (*Manager, error) {
	if deps.API == nil {
		return nil, errors.New("[authsession.New] API requester is required")
	}
	if deps.Store == nil {
		return nil, errors.New("[authsession.New] Store is required")
	}
	if deps.Flow == nil {
		return nil, errors.New("[authsession.New] Flow coordinator is required")
	}
	if deps.Validator == nil {
		return nil, errors.New("[authsession.New] Validator is required")
	}

	m := &Manager{
		deps:    deps,
		nowTime: time.Now,
		log:     zerolog.Nop(),
		state:   StateUnauthenticated,
	}
	for _, opt := range options {
		opt(m)
	}

	m.scheduler = refresh.NewScheduler(m.onRefreshDue, append([]refresh.Option{
		refresh.WithNowTime(m.nowTime),
		refresh.WithLogger(m.log),
	}, m.schedulerOptions...)...)

	return m, nil
}

// Initialize restores a persisted session: load, validate, clear on failure,
// arm the refresh scheduler. It never returns an error for storage or
// validation problems; those degrade to the unauthenticated state.
func (m *Manager) Initialize(ctx context.Context) {
	record := m.deps.Store.Load(ctx)
	if record == nil {
		m.setUnauthenticated()
		return
	}

	valid, err := m.deps.Validator.Validate(ctx, record)
	if err != nil {
		m.log.Warn().Err(err).Msg("token validation failed, clearing session")
	}
	if !valid {
		m.clearSession(ctx)
		return
	}

	m.adopt(ctx, record, false)
}

// Login negotiates the popup flow for the given provider. On success the
// record is persisted and the scheduler armed; on failure the session the
// manager held before the attempt is restored and the error is returned for
// UI display.
func (m *Manager) Login(ctx context.Context, providerID string) error {
	restore := m.beginLogin()

	record, err := m.deps.Flow.InitiateLogin(ctx, providerID)
	if err != nil {
		restore()
		return errors.Wrap(err, "[Manager.Login]")
	}

	m.adopt(ctx, record, true)
	return nil
}

// DirectLogin exchanges username/password credentials for a session.
func (m *Manager) DirectLogin(ctx context.Context, email, password, tenantID string) error {
	restore := m.beginLogin()

	record, err := m.deps.Flow.DirectLogin(ctx, email, password, tenantID)
	if err != nil {
		restore()
		return errors.Wrap(err, "[Manager.DirectLogin]")
	}

	m.adopt(ctx, record, true)
	return nil
}

// Logout notifies the backend best-effort, then unconditionally clears the
// store, the in-memory record, and the refresh timer. Idempotent.
func (m *Manager) Logout(ctx context.Context) error {
	token := ""
	m.lock.RLock()
	if m.record != nil {
		token = m.record.AccessToken
	}
	m.lock.RUnlock()

	var remoteErr error
	if token != "" {
		resp, err := m.deps.API.Request(ctx, http.MethodPost, ssoapi.RouteLogout, map[string]string{
			"token": token,
		})
		switch {
		case err != nil:
			remoteErr = err
		case !resp.OK:
			remoteErr = errors.Errorf("backend logout refused: %s", resp.Message)
		}
		if remoteErr != nil {
			m.log.Warn().Err(remoteErr).Msg("remote logout failed, clearing local session anyway")
		}
	}

	m.clearSession(ctx)
	return nil
}

// Destroy cancels timers and drops in-memory state without touching the
// persisted record or the backend. For host teardown.
func (m *Manager) Destroy() {
	m.scheduler.Cancel()
	m.lock.Lock()
	defer m.lock.Unlock()
	m.generation++
	m.record = nil
	m.state = StateUnauthenticated
}

// Providers lists the configured identity providers; empty on any failure.
func (m *Manager) Providers(ctx context.Context) []loginflow.Provider {
	return m.deps.Flow.ListProviders(ctx)
}

// IsAuthenticated reports whether a complete session is held in memory.
func (m *Manager) IsAuthenticated() bool {
	m.lock.RLock()
	defer m.lock.RUnlock()
	return m.record.Complete()
}

// CurrentUser returns the authenticated user, or nil.
func (m *Manager) CurrentUser() *session.User {
	m.lock.RLock()
	defer m.lock.RUnlock()
	if !m.record.Complete() {
		return nil
	}
	return m.record.User
}

// CurrentTenant returns the authenticated tenant, or nil.
func (m *Manager) CurrentTenant() *session.Tenant {
	m.lock.RLock()
	defer m.lock.RUnlock()
	if !m.record.Complete() {
		return nil
	}
	return m.record.Tenant
}

// HasPermission reports whether the current user carries the permission.
func (m *Manager) HasPermission(permission string) bool {
	m.lock.RLock()
	defer m.lock.RUnlock()
	return m.record.HasPermission(permission)
}

// HasRole reports whether the current user carries the role.
func (m *Manager) HasRole(role string) bool {
	m.lock.RLock()
	defer m.lock.RUnlock()
	return m.record.HasRole(role)
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.lock.RLock()
	defer m.lock.RUnlock()
	return m.state
}

// onRefreshDue is the scheduler's fire handler: exchange the refresh token,
// persist and re-arm on success, tear the session down on any failure. The
// generation captured up front detects a Logout or Destroy that landed while
// the exchange was in flight; a stale refresh result is discarded whole.
func (m *Manager) onRefreshDue() {
	ctx := context.Background()

	m.lock.Lock()
	if m.record == nil || m.record.RefreshToken == "" {
		m.lock.Unlock()
		m.log.Warn().Err(internalerrors.ErrNoRefreshToken).Msg("refresh due without a refresh token")
		m.clearSession(ctx)
		return
	}
	refreshToken := m.record.RefreshToken
	generation := m.generation
	m.state = StateRefreshing
	m.lock.Unlock()

	resp, err := m.deps.API.Request(ctx, http.MethodPost, ssoapi.RouteRefresh, map[string]string{
		"refresh_token": refreshToken,
	})
	if err != nil {
		m.log.Warn().Err(err).Msg("token refresh failed, clearing session")
		m.clearSession(ctx)
		return
	}
	if !resp.OK {
		m.log.Warn().Err(internalerrors.ErrRefreshFailed).Str("message", resp.Message).Msg("token refresh rejected, clearing session")
		m.clearSession(ctx)
		return
	}

	refreshed := &session.Record{}
	if err := resp.Decode(refreshed); err != nil {
		m.log.Warn().Err(err).Msg("token refresh payload undecodable, clearing session")
		m.clearSession(ctx)
		return
	}

	// Commit, persist, and re-arm as one step under the lock, so a
	// concurrent teardown either precedes the commit (generation mismatch,
	// result discarded) or follows it and removes everything it wrote.
	m.lock.Lock()
	if m.record == nil || m.generation != generation {
		m.lock.Unlock()
		return
	}
	m.record.Merge(refreshed)
	expiresAt := m.record.ExpiresAt
	if err := m.deps.Store.Save(ctx, m.record); err != nil {
		m.log.Warn().Err(err).Msg("failed to persist refreshed record")
	}
	m.scheduler.Schedule(expiresAt)
	m.state = StateAuthenticated
	m.lock.Unlock()

	m.log.Debug().Time("expires_at", expiresAt).Msg("session refreshed")
}

// beginLogin moves the manager into the pending state and returns a restore
// func that reinstates whatever session was held before, for when the flow
// fails.
func (m *Manager) beginLogin() func() {
	m.lock.Lock()
	prevRecord, prevState := m.record, m.state
	m.state = StatePendingLogin
	m.lock.Unlock()

	return func() {
		m.lock.Lock()
		defer m.lock.Unlock()
		m.record = prevRecord
		m.state = prevState
	}
}

// adopt installs a record as the current session, optionally persisting it,
// and arms the scheduler.
func (m *Manager) adopt(ctx context.Context, record *session.Record, persist bool) {
	if !record.Complete() {
		m.log.Warn().Msg("login produced an incomplete record, treating as failure")
		m.clearSession(ctx)
		return
	}

	m.lock.Lock()
	m.generation++
	m.record = record
	m.state = StateAuthenticated
	if persist {
		if err := m.deps.Store.Save(ctx, record); err != nil {
			m.log.Warn().Err(err).Msg("failed to persist auth record")
		}
	}
	if !record.ExpiresAt.IsZero() {
		m.scheduler.Schedule(record.ExpiresAt)
	}
	m.lock.Unlock()
}

// clearSession is the single teardown path: persisted record removed,
// in-memory record dropped, timers canceled. Runs on every exit path, as
// one step under the lock so nothing can interleave a commit with it.
func (m *Manager) clearSession(ctx context.Context) {
	m.lock.Lock()
	defer m.lock.Unlock()
	m.generation++
	m.scheduler.Cancel()
	if err := m.deps.Store.Clear(ctx); err != nil {
		m.log.Warn().Err(err).Msg("failed to clear persisted auth record")
	}
	m.record = nil
	m.state = StateUnauthenticated
}

func (m *Manager) setUnauthenticated() {
	m.lock.Lock()
	defer m.lock.Unlock()
	m.generation++
	m.record = nil
	m.state = StateUnauthenticated
}
