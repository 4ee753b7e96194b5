package validator_test

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/jrsteele09/go-sso-session/session"
	"github.com/jrsteele09/go-sso-session/ssoapi"
	"github.com/jrsteele09/go-sso-session/ssoapi/requesterfake"
	"github.com/jrsteele09/go-sso-session/validator"
)

var testNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func setupValidator(t *testing.T) (*validator.Validator, *requesterfake.FakeRequester) {
	t.Helper()
	api := requesterfake.NewFakeRequester()
	v, err := validator.New(api, validator.WithNowTime(func() time.Time { return testNow }))
	require.NoError(t, err)
	return v, api
}

func validRecord() *session.Record {
	return &session.Record{
		AccessToken:  "access-token",
		RefreshToken: "refresh-token",
		ExpiresAt:    testNow.Add(time.Hour),
		User:         &session.User{ID: "user-1", Email: "john.doe@example.com"},
		Tenant:       &session.Tenant{ID: "tenant-1", Name: "Acme"},
	}
}

func TestValidatorRequiresRequester(t *testing.T) {
	_, err := validator.New(nil)
	require.Error(t, err)
}

func TestValidateAbsentOrIncompleteRecord(t *testing.T) {
	v, api := setupValidator(t)

	valid, err := v.Validate(context.Background(), nil)
	require.NoError(t, err)
	require.False(t, valid)

	partial := validRecord()
	partial.Tenant = nil
	valid, err = v.Validate(context.Background(), partial)
	require.NoError(t, err)
	require.False(t, valid)

	// No remote call is made for records that fail locally.
	require.Zero(t, api.CallCount(ssoapi.RouteValidate))
}

func TestValidateLocallyExpired(t *testing.T) {
	v, api := setupValidator(t)

	record := validRecord()
	record.ExpiresAt = testNow.Add(-time.Second)

	valid, err := v.Validate(context.Background(), record)
	require.NoError(t, err)
	require.False(t, valid)
	require.Zero(t, api.CallCount(ssoapi.RouteValidate))
}

func TestValidateRemoteConfirms(t *testing.T) {
	v, api := setupValidator(t)
	api.RespondOK(ssoapi.RouteValidate, map[string]bool{"valid": true})

	valid, err := v.Validate(context.Background(), validRecord())
	require.NoError(t, err)
	require.True(t, valid)
	require.Equal(t, 1, api.CallCount(ssoapi.RouteValidate))
}

func TestValidateRemoteRejects(t *testing.T) {
	v, api := setupValidator(t)
	api.RespondFail(ssoapi.RouteValidate, "token revoked")

	valid, err := v.Validate(context.Background(), validRecord())
	require.NoError(t, err)
	require.False(t, valid)
}

func TestValidateNetworkFailureFailsClosed(t *testing.T) {
	v, api := setupValidator(t)
	api.RespondError(ssoapi.RouteValidate, errors.New("connection refused"))

	valid, err := v.Validate(context.Background(), validRecord())
	require.Error(t, err)
	require.False(t, valid)
}

func TestValidateFallsBackToTokenExpClaim(t *testing.T) {
	v, api := setupValidator(t)

	expired := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "user-1",
		"exp": testNow.Add(-time.Minute).Unix(),
	})
	signed, err := expired.SignedString([]byte("test-key"))
	require.NoError(t, err)

	record := validRecord()
	record.ExpiresAt = time.Time{}
	record.AccessToken = signed

	valid, err := v.Validate(context.Background(), record)
	require.NoError(t, err)
	require.False(t, valid)
	require.Zero(t, api.CallCount(ssoapi.RouteValidate))
}

func TestValidateOpaqueTokenWithoutExpiryGoesRemote(t *testing.T) {
	v, api := setupValidator(t)
	api.RespondOK(ssoapi.RouteValidate, map[string]bool{"valid": true})

	record := validRecord()
	record.ExpiresAt = time.Time{}
	record.AccessToken = "opaque-token"

	valid, err := v.Validate(context.Background(), record)
	require.NoError(t, err)
	require.True(t, valid)
	require.Equal(t, 1, api.CallCount(ssoapi.RouteValidate))
}
