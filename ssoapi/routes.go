package ssoapi

// Backend SSO facade routes consumed by this client.
const (
	RouteProviders   = "/sso/providers"
	RouteLogin       = "/sso/login"
	RouteCallback    = "/sso/callback"
	RouteDirectLogin = "/sso/login/direct"
	RouteValidate    = "/sso/validate"
	RouteRefresh     = "/sso/refresh"
	RouteLogout      = "/sso/logout"
)
