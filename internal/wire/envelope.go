// Package wire carries depi requests between a Session and the graph service.
//
// Every exchange is a JSON envelope. A request is {id, method, session, body};
// a response is {id, ok, msg, code, body, final}. Watch requests stay open: the
// server answers with an acknowledgement, then pushes one frame per update until
// the client sends a cancel frame, which the server answers with a final frame.
package wire

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dyluth/depi/pkg/depi"
)

// Backend serves decoded requests. *graph.Dispatcher implements it.
type Backend interface {
	Call(ctx context.Context, method, session string, body json.RawMessage) (json.RawMessage, error)
	Subscribe(ctx context.Context, method, session string, body json.RawMessage) (depi.Stream, error)
}

// Request is a client frame.
type Request struct {
	ID      uint64          `json:"id"`
	Method  string          `json:"method,omitempty"`
	Session string          `json:"session,omitempty"`
	Body    json.RawMessage `json:"body,omitempty"`
	// Cancel closes the stream opened by the request with the same id.
	Cancel bool `json:"cancel,omitempty"`
}

// Response is a server frame. OK is a pointer so that a frame without the flag is
// told apart from an explicit failure: both are failures.
type Response struct {
	ID    uint64          `json:"id"`
	OK    *bool           `json:"ok"`
	Msg   string          `json:"msg,omitempty"`
	Code  string          `json:"code,omitempty"`
	Body  json.RawMessage `json:"body,omitempty"`
	Final bool            `json:"final,omitempty"`
}

// codes lists the error kinds that travel as a response code.
var codes = map[depi.Kind]string{
	depi.KindAuth:            "auth",
	depi.KindScope:           "scope",
	depi.KindVersionConflict: "conflict",
	depi.KindNotFound:        "not_found",
	depi.KindIntegrity:       "integrity",
	depi.KindInvalid:         "invalid",
	depi.KindBusy:            "busy",
}

func codeOf(err error) string {
	return codes[depi.KindOf(err)]
}

func kindOf(code string) depi.Kind {
	for kind, c := range codes {
		if c == code {
			return kind
		}
	}
	return depi.KindRemote
}

func success(id uint64, body json.RawMessage) Response {
	ok := true
	return Response{ID: id, OK: &ok, Body: body}
}

func failure(id uint64, err error) Response {
	ok := false
	msg := err.Error()
	var e *depi.Error
	if errors.As(err, &e) && e.Msg != "" {
		msg = e.Msg
	}
	return Response{ID: id, OK: &ok, Msg: msg, Code: codeOf(err)}
}

// Err converts a failed response into a *depi.Error. It returns nil on success.
func (r *Response) Err(method string) error {
	if r.OK == nil {
		return depi.Errorf(depi.KindRemote, method, "response carries no ok flag")
	}
	if *r.OK {
		return nil
	}
	msg := r.Msg
	if msg == "" {
		msg = "request failed"
	}
	return &depi.Error{Kind: kindOf(r.Code), Op: method, Msg: msg}
}

// Decode checks the response and unmarshals its body into v when v is non-nil.
func (r *Response) Decode(method string, v any) error {
	if err := r.Err(method); err != nil {
		return err
	}
	if v == nil || len(r.Body) == 0 {
		return nil
	}
	if err := json.Unmarshal(r.Body, v); err != nil {
		return depi.Errorf(depi.KindRemote, method, "malformed response body: %v", err)
	}
	return nil
}

func encodeBody(method string, req any) (json.RawMessage, error) {
	if req == nil {
		return nil, nil
	}
	raw, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s request: %w", method, err)
	}
	return raw, nil
}
