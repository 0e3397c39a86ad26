// Package protocol defines the WebSocket frames exchanged between chat clients and the assistant service.
package protocol

import (
	"encoding/json"
	"time"
)

// Frame types from client to service
const (
	TypeHistoryGet   = "history_get"
	TypeMessageSend  = "message_send"
	TypeHistoryClear = "history_clear"
	TypeLogin        = "login"
)

// Frame types from service to client
const (
	TypeResult = "result"
	TypeError  = "error"
)

// BaseFrame contains common fields for all frames.
type BaseFrame struct {
	Type      string `json:"type"`
	Ts        int64  `json:"ts"`
	RequestID string `json:"request_id,omitempty"`
}

// RequestFrame is sent by the client. Token is empty only for login.
type RequestFrame struct {
	BaseFrame
	Token    string `json:"token,omitempty"`
	Message  string `json:"message,omitempty"`
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
}

// ResultFrame answers a request. Data carries the same JSON body the HTTP endpoint returns.
type ResultFrame struct {
	BaseFrame
	Data json.RawMessage `json:"data,omitempty"`
}

// ErrorFrame answers a request that failed. Status mirrors the HTTP status the
// equivalent HTTP call would have returned.
type ErrorFrame struct {
	BaseFrame
	Status  int    `json:"status"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

// ResponseFrame is used by clients to decode either a result or an error
// before dispatching on Type.
type ResponseFrame struct {
	BaseFrame
	Data    json.RawMessage `json:"data,omitempty"`
	Status  int             `json:"status,omitempty"`
	Code    string          `json:"code,omitempty"`
	Message string          `json:"message,omitempty"`
}

// Error codes used in error frames besides the service's HTTP error codes.
const (
	ErrorCodeInvalidFrame  = "INVALID_FRAME"
	ErrorCodeInternalError = "INTERNAL_ERROR"
)

// NewBase stamps a frame header with the current time.
func NewBase(frameType, requestID string) BaseFrame {
	return BaseFrame{
		Type:      frameType,
		Ts:        time.Now().UnixMilli(),
		RequestID: requestID,
	}
}
