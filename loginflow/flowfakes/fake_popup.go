package flowfakes

import (
	"context"
	"sync"

	"github.com/jrsteele09/go-sso-session/loginflow"
)

var (
	_ loginflow.Popup       = (*FakePopup)(nil)
	_ loginflow.PopupOpener = (*FakeOpener)(nil)
)

// FakePopup is a scriptable popup window handle.
type FakePopup struct {
	closed      bool
	forceClosed bool
	lock        sync.Mutex
}

func NewFakePopup() *FakePopup {
	return &FakePopup{}
}

func (p *FakePopup) Closed() bool {
	p.lock.Lock()
	defer p.lock.Unlock()
	return p.closed
}

func (p *FakePopup) Close() error {
	p.lock.Lock()
	defer p.lock.Unlock()
	p.closed = true
	p.forceClosed = true
	return nil
}

// UserCloses simulates the user (or the completed provider flow) closing the
// window.
func (p *FakePopup) UserCloses() {
	p.lock.Lock()
	defer p.lock.Unlock()
	p.closed = true
}

// ForceClosed reports whether Close was called on the handle.
func (p *FakePopup) ForceClosed() bool {
	p.lock.Lock()
	defer p.lock.Unlock()
	return p.forceClosed
}

// FakeOpener hands out a prepared popup and records the login URL.
type FakeOpener struct {
	Popup   *FakePopup
	OpenErr error

	lastURL string
	lock    sync.Mutex
}

func NewFakeOpener(popup *FakePopup) *FakeOpener {
	return &FakeOpener{Popup: popup}
}

func (o *FakeOpener) Open(_ context.Context, loginURL string) (loginflow.Popup, error) {
	o.lock.Lock()
	defer o.lock.Unlock()
	if o.OpenErr != nil {
		return nil, o.OpenErr
	}
	o.lastURL = loginURL
	return o.Popup, nil
}

// LastURL returns the login URL the popup was opened at.
func (o *FakeOpener) LastURL() string {
	o.lock.Lock()
	defer o.lock.Unlock()
	return o.lastURL
}

// FakeCallbackSource returns a fixed code/state pair when armed.
type FakeCallbackSource struct {
	Code  string
	State string
	Has   bool
}

var _ loginflow.CallbackSource = (*FakeCallbackSource)(nil)

func (f *FakeCallbackSource) AuthCode() (string, string, bool) {
	return f.Code, f.State, f.Has
}
