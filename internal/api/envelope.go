package api

import (
	"strconv"

	"github.com/danielgtaylor/huma/v2"
)

// EnvelopeVersion is the response envelope format version.
const EnvelopeVersion = 1

// Envelope is the JSON shape of every API response.
type Envelope struct {
	Version int       `json:"v"`
	Success bool      `json:"success"`
	Data    any       `json:"data,omitempty"`
	Error   *APIError `json:"error,omitempty"`
}

// EnvelopeTransformer wraps response bodies in an Envelope.
func EnvelopeTransformer(_ huma.Context, status string, v any) (any, error) {
	if _, ok := v.(Envelope); ok {
		return v, nil
	}

	if apiErr, ok := v.(*APIError); ok {
		return Envelope{Version: EnvelopeVersion, Error: apiErr}, nil
	}

	code, err := strconv.Atoi(status)
	if err != nil {
		code = 200
	}
	return Envelope{Version: EnvelopeVersion, Success: code < 400, Data: v}, nil
}
