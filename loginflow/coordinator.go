package loginflow

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/jrsteele09/go-sso-session/session"
	"github.com/jrsteele09/go-sso-session/ssoapi"
	"github.com/jrsteele09/go-sso-session/store"
)

const (
	// DefaultTimeout is the hard deadline for a popup login flow.
	DefaultTimeout = 5 * time.Minute

	// DefaultPollInterval is how often the popup is polled for closure.
	DefaultPollInterval = 1 * time.Second

	// callbackKeyPrefix namespaces temp-store entries written by the
	// callback page; the state nonce is appended.
	callbackKeyPrefix = "sso:callback:"

	// legacyCallbackKey is the un-keyed entry older callback pages write.
	legacyCallbackKey = "sso:callback"

	// pendingKeyPrefix marks a flow as in-progress so the callback page can
	// check the state nonce it received against one we actually issued.
	pendingKeyPrefix = "sso:state:"
)

// Provider describes one configured identity provider.
type Provider struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Type string `json:"type"`
}

// callbackPayload is what the callback page leaves behind: either an
// authorization code pair still to be exchanged, or a full token payload.
type callbackPayload struct {
	Code  string `json:"code,omitempty"`
	State string `json:"state,omitempty"`

	AccessToken  string          `json:"access_token,omitempty"`
	RefreshToken string          `json:"refresh_token,omitempty"`
	ExpiresAt    time.Time       `json:"expires_at,omitempty"`
	User         *session.User   `json:"user,omitempty"`
	Tenant       *session.Tenant `json:"tenant,omitempty"`
}

// Coordinator negotiates the popup-based login flow with the backend facade
// and the injected popup environment.
type Coordinator struct {
	api          ssoapi.Requester
	popups       PopupOpener
	callbacks    CallbackSource
	tempStore    store.KeyValue
	timeout      time.Duration
	pollInterval time.Duration
	newState     func() string
	log          zerolog.Logger
}

// Option defines a function type to modify the Coordinator instance.
type Option func(*Coordinator)

// WithTimeout overrides the hard login deadline.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Coordinator) {
		c.timeout = timeout
	}
}

// WithPollInterval overrides the popup closure poll interval.
func WithPollInterval(interval time.Duration) Option {
	return func(c *Coordinator) {
		c.pollInterval = interval
	}
}

// WithCallbackSource provides the environment's callback query parameters.
func WithCallbackSource(source CallbackSource) Option {
	return func(c *Coordinator) {
		c.callbacks = source
	}
}

// WithLogger sets the coordinator logger.
func WithLogger(log zerolog.Logger) Option {
	return func(c *Coordinator) {
		c.log = log
	}
}

// WithStateFunc sets the state nonce generator (primarily for testing)
func WithStateFunc(newState func() string) Option {
	return func(c *Coordinator) {
		c.newState = newState
	}
}

// NewCoordinator initializes a Coordinator with required dependencies.
// tempStore holds the short-lived entries the callback page writes when the
// popup cannot reach the opener directly.
func NewCoordinator(api ssoapi.Requester, popups PopupOpener, tempStore store.KeyValue, options ...Option) (*Coordinator, error) {
	if api == nil {
		return nil, errors.New("[NewCoordinator] Requester is required")
	}
	if popups == nil {
		return nil, errors.New("[NewCoordinator] PopupOpener is required")
	}
	if tempStore == nil {
		return nil, errors.New("[NewCoordinator] temp store is required")
	}

	c := &Coordinator{
		api:          api,
		popups:       popups,
		callbacks:    NoCallbackSource{},
		tempStore:    tempStore,
		timeout:      DefaultTimeout,
		pollInterval: DefaultPollInterval,
		newState:     func() string { return uuid.New().String() },
		log:          zerolog.Nop(),
	}
	for _, opt := range options {
		opt(c)
	}
	return c, nil
}

// ListProviders returns the configured identity providers. Any failure
// degrades to an empty list; the UI simply shows no SSO buttons.
func (c *Coordinator) ListProviders(ctx context.Context) []Provider {
	resp, err := c.api.Request(ctx, http.MethodGet, ssoapi.RouteProviders, nil)
	if err != nil {
		c.log.Warn().Err(err).Msg("failed to list providers")
		return []Provider{}
	}
	if !resp.OK {
		c.log.Warn().Str("message", resp.Message).Msg("backend refused provider list")
		return []Provider{}
	}

	var providers []Provider
	if err := resp.Decode(&providers); err != nil {
		c.log.Warn().Err(err).Msg("failed to decode provider list")
		return []Provider{}
	}
	return providers
}

// InitiateLogin runs the full popup negotiation for the given provider and
// returns the resulting auth record. The timeout bounds the whole flow, from
// opening the popup through the callback exchange; on timeout the popup is
// force-closed and a late callback is discarded.
func (c *Coordinator) InitiateLogin(ctx context.Context, providerID string) (*session.Record, error) {
	state := c.newState()

	resp, err := c.api.Request(ctx, http.MethodPost, ssoapi.RouteLogin, map[string]string{
		"provider": providerID,
		"state":    state,
	})
	if err != nil {
		return nil, errors.Wrap(err, "[Coordinator.InitiateLogin] login request")
	}
	if !resp.OK {
		return nil, errors.Wrapf(ErrLoginRejected, "[Coordinator.InitiateLogin] %s", resp.Message)
	}

	var loginData struct {
		LoginURL string `json:"login_url"`
	}
	if err := resp.Decode(&loginData); err != nil {
		return nil, errors.Wrap(err, "[Coordinator.InitiateLogin] decode login response")
	}
	if loginData.LoginURL == "" {
		return nil, ErrNoLoginURL
	}

	if err := c.tempStore.Set(ctx, pendingKeyPrefix+state, []byte(providerID), c.timeout); err != nil {
		c.log.Warn().Err(err).Msg("failed to record pending login state")
	}
	defer func() {
		_ = c.tempStore.Delete(ctx, pendingKeyPrefix+state)
	}()

	flowCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	popup, err := c.popups.Open(flowCtx, loginData.LoginURL)
	if err != nil {
		return nil, errors.Wrap(err, "[Coordinator.InitiateLogin] open popup")
	}

	if err := c.awaitPopupClosure(flowCtx, popup); err != nil {
		return nil, err
	}

	record, err := c.recoverAndExchange(flowCtx, state)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(flowCtx.Err(), context.DeadlineExceeded) {
			return nil, ErrLoginTimeout
		}
		return nil, err
	}
	return record, nil
}

// awaitPopupClosure polls the popup until it closes or the flow deadline
// passes, whichever settles first. On timeout the popup is force-closed.
func (c *Coordinator) awaitPopupClosure(ctx context.Context, popup Popup) error {
	if popup.Closed() {
		return nil
	}

	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if err := popup.Close(); err != nil {
				c.log.Warn().Err(err).Msg("failed to force-close login popup")
			}
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return ErrLoginTimeout
			}
			return errors.Wrap(ErrPopupCancelled, "[Coordinator.awaitPopupClosure]")
		case <-ticker.C:
			if popup.Closed() {
				return nil
			}
		}
	}
}

// recoverAndExchange pulls the authorization artifact left behind by the
// callback page and turns it into an auth record. Query parameters win over
// the temp store; a temp-store entry carrying a full token payload is
// consumed directly without another round-trip.
func (c *Coordinator) recoverAndExchange(ctx context.Context, state string) (*session.Record, error) {
	if code, cbState, ok := c.callbacks.AuthCode(); ok {
		return c.exchangeCode(ctx, code, cbState)
	}

	payload, ok := c.loadCallbackPayload(ctx, state)
	if !ok {
		return nil, ErrNoAuthData
	}
	if payload.Code != "" {
		return c.exchangeCode(ctx, payload.Code, payload.State)
	}
	if payload.AccessToken == "" {
		return nil, ErrNoAuthData
	}
	return &session.Record{
		AccessToken:  payload.AccessToken,
		RefreshToken: payload.RefreshToken,
		ExpiresAt:    payload.ExpiresAt,
		User:         payload.User,
		Tenant:       payload.Tenant,
	}, nil
}

func (c *Coordinator) loadCallbackPayload(ctx context.Context, state string) (*callbackPayload, bool) {
	for _, key := range []string{callbackKeyPrefix + state, legacyCallbackKey} {
		raw, err := c.tempStore.Get(ctx, key)
		if err != nil {
			continue
		}
		// Consume the entry whatever happens next; it is single-use.
		if err := c.tempStore.Delete(ctx, key); err != nil {
			c.log.Warn().Err(err).Str("key", key).Msg("failed to consume callback entry")
		}
		payload := &callbackPayload{}
		if err := json.Unmarshal(raw, payload); err != nil {
			c.log.Warn().Err(err).Str("key", key).Msg("callback entry is corrupt")
			continue
		}
		return payload, true
	}
	return nil, false
}

func (c *Coordinator) exchangeCode(ctx context.Context, code, state string) (*session.Record, error) {
	resp, err := c.api.Request(ctx, http.MethodPost, ssoapi.RouteCallback, map[string]string{
		"code":  code,
		"state": state,
	})
	if err != nil {
		return nil, errors.Wrap(err, "[Coordinator.exchangeCode] callback request")
	}
	if !resp.OK {
		return nil, errors.Wrapf(ErrLoginRejected, "[Coordinator.exchangeCode] %s", resp.Message)
	}

	record := &session.Record{}
	if err := resp.Decode(record); err != nil {
		return nil, errors.Wrap(err, "[Coordinator.exchangeCode] decode record")
	}
	return record, nil
}

// DirectLogin exchanges username/password credentials for an auth record in
// a single round-trip; no popup is involved.
func (c *Coordinator) DirectLogin(ctx context.Context, email, password, tenantID string) (*session.Record, error) {
	resp, err := c.api.Request(ctx, http.MethodPost, ssoapi.RouteDirectLogin, map[string]string{
		"email":     email,
		"password":  password,
		"tenant_id": tenantID,
	})
	if err != nil {
		return nil, errors.Wrap(err, "[Coordinator.DirectLogin] login request")
	}
	if !resp.OK {
		return nil, errors.Wrapf(ErrLoginRejected, "[Coordinator.DirectLogin] %s", resp.Message)
	}

	record := &session.Record{}
	if err := resp.Decode(record); err != nil {
		return nil, errors.Wrap(err, "[Coordinator.DirectLogin] decode record")
	}
	return record, nil
}
