package config

import "time"

type SessionConfig interface {
	GetRefreshLeadTime() time.Duration
	GetLoginTimeout() time.Duration
	GetPopupPollInterval() time.Duration
}

type Session struct{}

var _ SessionConfig = Session{}

// GetRefreshLeadTime returns how long before access token expiry the
// scheduled refresh fires.
func (Session) GetRefreshLeadTime() time.Duration {
	return 5 * time.Minute
}

// GetLoginTimeout returns the hard deadline for a popup login flow.
func (Session) GetLoginTimeout() time.Duration {
	return 5 * time.Minute
}

// GetPopupPollInterval returns how often the popup is polled for closure.
func (Session) GetPopupPollInterval() time.Duration {
	return 1 * time.Second
}
