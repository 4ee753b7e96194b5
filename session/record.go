package session

import (
	"time"
)

// User is the authenticated principal carried inside a session record.
// Roles and permissions are opaque strings assigned by the SSO backend;
// the client never derives one from the other.
type User struct {
	ID          string   `json:"id"`
	Email       string   `json:"email"`
	Roles       []string `json:"roles,omitempty"`
	Permissions []string `json:"permissions,omitempty"`
}

// Tenant represents the organisation context the session was issued for.
type Tenant struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Tier string `json:"tier,omitempty"`
}

// Record is the single persisted authentication entity: the token pair,
// its expiry, and the user/tenant identity the tokens were minted for.
type Record struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	ExpiresAt    time.Time `json:"expires_at"`
	User         *User     `json:"user,omitempty"`
	Tenant       *Tenant   `json:"tenant,omitempty"`
}

// Complete reports whether the record carries everything an authenticated
// session requires: the access token, the user, and the tenant. Partial
// records are treated as no session at all.
func (r *Record) Complete() bool {
	if r == nil {
		return false
	}
	return r.AccessToken != "" && r.User != nil && r.Tenant != nil
}

// Expired reports whether the access token expiry has passed. A zero
// ExpiresAt means the expiry is unknown, not expired.
func (r *Record) Expired(now time.Time) bool {
	if r == nil {
		return true
	}
	if r.ExpiresAt.IsZero() {
		return false
	}
	return !r.ExpiresAt.After(now)
}

// HasRole reports whether the record's user carries the given role.
func (r *Record) HasRole(role string) bool {
	if r == nil || r.User == nil {
		return false
	}
	for _, have := range r.User.Roles {
		if have == role {
			return true
		}
	}
	return false
}

// HasPermission reports whether the record's user carries the given permission.
func (r *Record) HasPermission(permission string) bool {
	if r == nil || r.User == nil {
		return false
	}
	for _, have := range r.User.Permissions {
		if have == permission {
			return true
		}
	}
	return false
}

// Merge applies a refresh result onto the record: tokens and expiry are
// replaced, user and tenant are only replaced when the payload carries them.
func (r *Record) Merge(refreshed *Record) {
	if r == nil || refreshed == nil {
		return
	}
	r.AccessToken = refreshed.AccessToken
	if refreshed.RefreshToken != "" {
		r.RefreshToken = refreshed.RefreshToken
	}
	r.ExpiresAt = refreshed.ExpiresAt
	if refreshed.User != nil {
		r.User = refreshed.User
	}
	if refreshed.Tenant != nil {
		r.Tenant = refreshed.Tenant
	}
}
