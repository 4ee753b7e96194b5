package validator

import (
	"context"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/jrsteele09/go-sso-session/session"
	"github.com/jrsteele09/go-sso-session/ssoapi"
)

// Validator checks whether an auth record is still usable: a local expiry
// check first, then confirmation with the backend's validate endpoint.
type Validator struct {
	api     ssoapi.Requester
	nowTime func() time.Time
	log     zerolog.Logger
}

// Option defines a function type to modify the Validator instance.
type Option func(*Validator)

// WithNowTime sets the now time function (primarily for testing)
func WithNowTime(nowFunc func() time.Time) Option {
	return func(v *Validator) {
		v.nowTime = nowFunc
	}
}

// WithLogger sets the validator logger.
func WithLogger(log zerolog.Logger) Option {
	return func(v *Validator) {
		v.log = log
	}
}

// New creates a Validator over the backend facade.
func New(api ssoapi.Requester, options ...Option) (*Validator, error) {
	if api == nil {
		return nil, errors.New("[validator.New] Requester is required")
	}
	v := &Validator{
		api:     api,
		nowTime: time.Now,
		log:     zerolog.Nop(),
	}
	for _, opt := range options {
		opt(v)
	}
	return v, nil
}

// Validate reports whether the record is valid. Absent, incomplete, or
// locally-expired records are invalid without a round-trip. A remote
// rejection is invalid; a transport failure is also invalid (fail-closed)
// but the error is returned so the caller can log it.
func (v *Validator) Validate(ctx context.Context, record *session.Record) (bool, error) {
	if !record.Complete() {
		return false, nil
	}

	expiresAt := record.ExpiresAt
	if expiresAt.IsZero() {
		// Expiry wasn't persisted; fall back to the token's own exp claim.
		// The signature is the server's concern, only the claim is read.
		expiresAt = tokenExpiry(record.AccessToken)
	}
	if !expiresAt.IsZero() && !expiresAt.After(v.nowTime()) {
		v.log.Debug().Time("expires_at", expiresAt).Msg("access token locally expired")
		return false, nil
	}

	resp, err := v.api.Request(ctx, http.MethodPost, ssoapi.RouteValidate, map[string]string{
		"token": record.AccessToken,
	})
	if err != nil {
		return false, errors.Wrap(err, "[Validator.Validate] remote validation")
	}
	if !resp.OK {
		v.log.Debug().Str("message", resp.Message).Msg("backend reported token invalid")
		return false, nil
	}
	return true, nil
}

func tokenExpiry(accessToken string) time.Time {
	claims := jwt.MapClaims{}
	parser := jwt.NewParser(jwt.WithoutClaimsValidation())
	if _, _, err := parser.ParseUnverified(accessToken, claims); err != nil {
		return time.Time{}
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}
	}
	return exp.Time
}
