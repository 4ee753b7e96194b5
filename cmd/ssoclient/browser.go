package main

import (
	"context"
	"os/exec"
	"runtime"
	"sync"

	"github.com/jrsteele09/go-sso-session/loginflow"
)

// browserOpener opens the login URL in the user's browser. A terminal host
// cannot watch a browser tab, so the popup handle tracks the launcher
// process instead: once it exits the flow moves on to artifact recovery,
// which for this client means the callback page writing into the shared
// store (redis when configured).
type browserOpener struct{}

func (browserOpener) Open(_ context.Context, loginURL string) (loginflow.Popup, error) {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", loginURL)
	case "windows":
		cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", loginURL)
	default:
		cmd = exec.Command("xdg-open", loginURL)
	}
	if err := cmd.Start(); err != nil {
		return nil, err
	}

	p := &browserPopup{}
	go func() {
		_ = cmd.Wait()
		p.markClosed()
	}()
	return p, nil
}

type browserPopup struct {
	closed bool
	lock   sync.Mutex
}

func (p *browserPopup) Closed() bool {
	p.lock.Lock()
	defer p.lock.Unlock()
	return p.closed
}

func (p *browserPopup) Close() error {
	// Nothing to tear down; the launcher already detached from the browser.
	p.markClosed()
	return nil
}

func (p *browserPopup) markClosed() {
	p.lock.Lock()
	defer p.lock.Unlock()
	p.closed = true
}
