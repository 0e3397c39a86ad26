// Package transport provides clients for the remote assistant service.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Transport is the remote assistant service as seen by the session gateway.
// Response bodies are returned undecoded; interpreting them is the caller's job.
type Transport interface {
	FetchHistory(ctx context.Context, token string) (json.RawMessage, error)
	PostMessage(ctx context.Context, token, text string) (json.RawMessage, error)
	DeleteHistory(ctx context.Context, token string) error
	Login(ctx context.Context, username, password string) (LoginResult, error)
}

// LoginResult is the credential issued by the service.
type LoginResult struct {
	Token     string
	ExpiresAt time.Time
}

// Failure tells how a remote call failed.
type Failure int

const (
	// FailureStatus means the service answered with an error status or error frame.
	FailureStatus Failure = iota
	// FailureNetwork means the service could not be reached or the connection broke.
	FailureNetwork
	// FailureTimeout means the transport gave up waiting.
	FailureTimeout
)

func (f Failure) String() string {
	switch f {
	case FailureStatus:
		return "status"
	case FailureNetwork:
		return "network"
	case FailureTimeout:
		return "timeout"
	default:
		return fmt.Sprintf("failure(%d)", int(f))
	}
}

// Error is the single error type returned by Transport implementations.
type Error struct {
	Failure Failure
	Status  int
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	switch {
	case e.Failure == FailureStatus && e.Code != "":
		return fmt.Sprintf("service returned status %d (%s): %s", e.Status, e.Code, e.Message)
	case e.Failure == FailureStatus:
		return fmt.Sprintf("service returned status %d: %s", e.Status, e.Message)
	case e.Err != nil:
		return fmt.Sprintf("%s failure: %s: %v", e.Failure, e.Message, e.Err)
	default:
		return fmt.Sprintf("%s failure: %s", e.Failure, e.Message)
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

// AsError extracts a transport error from err's chain.
func AsError(err error) (*Error, bool) {
	var terr *Error
	if errors.As(err, &terr) {
		return terr, true
	}
	return nil, false
}

// errorBody accepts the error shapes services commonly answer with:
// {"code","message"}, {"error":{"code","message"}} and {"error":"text"}.
type errorBody struct {
	Code    string          `json:"code"`
	Message string          `json:"message"`
	Error   json.RawMessage `json:"error"`
}

// parseErrorBody extracts a code and message from an error response body.
// Bodies that are not JSON are returned as the message.
func parseErrorBody(body []byte) (code, message string) {
	var eb errorBody
	if err := json.Unmarshal(body, &eb); err != nil {
		return "", string(body)
	}
	code, message = eb.Code, eb.Message

	if len(eb.Error) > 0 {
		var text string
		if json.Unmarshal(eb.Error, &text) == nil {
			if message == "" {
				message = text
			}
		} else {
			var nested struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			}
			if json.Unmarshal(eb.Error, &nested) == nil {
				if code == "" {
					code = nested.Code
				}
				if message == "" {
					message = nested.Message
				}
			}
		}
	}

	if code == "" && message == "" {
		message = string(body)
	}
	return code, message
}

// loginBody is the login response. expires_at is epoch milliseconds.
type loginBody struct {
	Token     string `json:"token"`
	ExpiresAt int64  `json:"expires_at"`
}

func (b loginBody) result() (LoginResult, error) {
	if b.Token == "" {
		return LoginResult{}, &Error{Failure: FailureStatus, Status: 200, Message: "login response carried no token"}
	}
	res := LoginResult{Token: b.Token}
	if b.ExpiresAt > 0 {
		res.ExpiresAt = time.UnixMilli(b.ExpiresAt)
	}
	return res, nil
}
