package loginflow

import "context"

// Popup is a handle on the external login window. Its completion cannot be
// observed directly; the coordinator polls Closed and recovers the callback
// artifact afterwards.
type Popup interface {
	// Closed reports whether the window has been closed, by the user or by
	// the provider flow completing.
	Closed() bool

	// Close force-closes the window. Idempotent.
	Close() error
}

// PopupOpener opens the external login window at the provider's login URL.
type PopupOpener interface {
	Open(ctx context.Context, loginURL string) (Popup, error)
}

// CallbackSource exposes authorization data the callback page may have left
// in the surrounding environment, typically the current URL's query
// parameters. Implementations return ok false when nothing is present.
type CallbackSource interface {
	AuthCode() (code string, state string, ok bool)
}

// NoCallbackSource is a CallbackSource that never has data, for hosts with
// no shared URL to inspect.
type NoCallbackSource struct{}

func (NoCallbackSource) AuthCode() (string, string, bool) {
	return "", "", false
}
