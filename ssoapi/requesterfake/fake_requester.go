package requesterfake

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/jrsteele09/go-sso-session/ssoapi"
)

var _ ssoapi.Requester = (*FakeRequester)(nil)

// Call records a single request seen by the fake.
type Call struct {
	Method string
	Path   string
	Body   any
}

type response struct {
	envelope *ssoapi.Response
	err      error
}

// FakeRequester returns canned envelopes per path and records every call.
type FakeRequester struct {
	responses map[string]response
	calls     []Call
	lock      sync.Mutex
}

func NewFakeRequester() *FakeRequester {
	return &FakeRequester{
		responses: make(map[string]response),
	}
}

// RespondOK registers a successful envelope for path, with data marshalled
// from payload.
func (f *FakeRequester) RespondOK(path string, payload any) {
	data, _ := json.Marshal(payload)
	f.lock.Lock()
	defer f.lock.Unlock()
	f.responses[path] = response{envelope: &ssoapi.Response{OK: true, Data: data}}
}

// RespondFail registers a backend rejection for path.
func (f *FakeRequester) RespondFail(path, message string) {
	f.lock.Lock()
	defer f.lock.Unlock()
	f.responses[path] = response{envelope: &ssoapi.Response{OK: false, Message: message}}
}

// RespondError registers a transport error for path.
func (f *FakeRequester) RespondError(path string, err error) {
	f.lock.Lock()
	defer f.lock.Unlock()
	f.responses[path] = response{err: err}
}

func (f *FakeRequester) Request(_ context.Context, method, path string, body any) (*ssoapi.Response, error) {
	f.lock.Lock()
	defer f.lock.Unlock()
	f.calls = append(f.calls, Call{Method: method, Path: path, Body: body})
	r, ok := f.responses[path]
	if !ok {
		return &ssoapi.Response{OK: false, Message: "not found"}, nil
	}
	if r.err != nil {
		return nil, r.err
	}
	return r.envelope, nil
}

// Calls returns a copy of every recorded call.
func (f *FakeRequester) Calls() []Call {
	f.lock.Lock()
	defer f.lock.Unlock()
	out := make([]Call, len(f.calls))
	copy(out, f.calls)
	return out
}

// CallCount returns how many times path was requested.
func (f *FakeRequester) CallCount(path string) int {
	f.lock.Lock()
	defer f.lock.Unlock()
	n := 0
	for _, c := range f.calls {
		if c.Path == path {
			n++
		}
	}
	return n
}
