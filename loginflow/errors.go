package loginflow

import "errors"

var (
	ErrNoAuthData     = errors.New("No authentication data found")
	ErrLoginTimeout   = errors.New("login timed out waiting for the provider flow to complete")
	ErrNoLoginURL     = errors.New("backend did not return a login url")
	ErrLoginRejected  = errors.New("login rejected")
	ErrPopupCancelled = errors.New("login cancelled")
)
