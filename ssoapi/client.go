package ssoapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	internalerrors "github.com/jrsteele09/go-sso-session/internal/errors"
)

const defaultRequestTimeout = 30 * time.Second

// Client is the HTTP implementation of Requester, pointed at the backend's
// SSO facade base URL.
type Client struct {
	baseURL    string
	httpClient *http.Client
	log        zerolog.Logger
}

// ClientOption defines a function type to modify the Client instance.
type ClientOption func(*Client)

// WithHTTPClient overrides the underlying http.Client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithLogger sets the client logger.
func WithLogger(log zerolog.Logger) ClientOption {
	return func(c *Client) {
		c.log = log
	}
}

// NewClient creates a facade client for the given base URL.
func NewClient(baseURL string, options ...ClientOption) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: defaultRequestTimeout},
		log:        zerolog.Nop(),
	}
	for _, opt := range options {
		opt(c)
	}
	return c
}

// Request performs one round-trip against the facade, returning the decoded
// envelope. Transport failures are wrapped as network errors; non-2xx
// responses with a decodable envelope are returned as-is so callers can read
// the backend's message.
func (c *Client) Request(ctx context.Context, method, path string, body any) (*Response, error) {
	var reqBody io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return nil, errors.Wrap(err, "[Client.Request] json.Marshal body")
		}
		reqBody = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return nil, errors.Wrap(err, "[Client.Request] http.NewRequestWithContext")
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errors.Wrapf(internalerrors.ErrNetwork, "[Client.Request] %s %s: %v", method, path, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrapf(internalerrors.ErrNetwork, "[Client.Request] read body %s: %v", path, err)
	}

	envelope := &Response{}
	if err := json.Unmarshal(raw, envelope); err != nil {
		c.log.Debug().Str("path", path).Int("status", resp.StatusCode).Msg("response is not an envelope")
		return nil, errors.Wrapf(err, "[Client.Request] decode envelope %s (status %d)", path, resp.StatusCode)
	}

	if resp.StatusCode >= http.StatusInternalServerError && envelope.Message == "" {
		envelope.Message = http.StatusText(resp.StatusCode)
	}
	return envelope, nil
}

var _ Requester = (*Client)(nil)
