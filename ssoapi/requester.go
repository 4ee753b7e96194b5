package ssoapi

import (
	"context"
	"encoding/json"

	"github.com/pkg/errors"
)

// Response is the backend facade's uniform envelope. Data is left raw so
// each caller can decode the shape it expects.
type Response struct {
	OK      bool            `json:"ok"`
	Data    json.RawMessage `json:"data,omitempty"`
	Message string          `json:"message,omitempty"`
}

// Decode unmarshals the envelope's data payload into out.
func (r *Response) Decode(out any) error {
	if r == nil || len(r.Data) == 0 {
		return errors.New("[Response.Decode] empty data payload")
	}
	if err := json.Unmarshal(r.Data, out); err != nil {
		return errors.Wrap(err, "[Response.Decode] json.Unmarshal")
	}
	return nil
}

// Requester is the narrow request contract the session core consumes.
// A nil body sends an empty request. Transport failures return an error;
// a backend rejection comes back as a Response with OK false.
type Requester interface {
	Request(ctx context.Context, method, path string, body any) (*Response, error)
}
