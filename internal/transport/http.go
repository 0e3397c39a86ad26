package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"
)

// HTTPClient talks to the assistant service over its REST API.
type HTTPClient struct {
	baseURL    string
	httpClient *http.Client
}

var _ Transport = (*HTTPClient)(nil)

// NewHTTPClient creates a new HTTP transport. A zero timeout defaults to 30 seconds.
func NewHTTPClient(baseURL string, timeout time.Duration) *HTTPClient {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPClient{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// SendMessageRequest is the body of POST /api/chat/message.
type SendMessageRequest struct {
	Message string `json:"message"`
}

// LoginRequest is the body of POST /api/auth/login.
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// FetchHistory calls GET /api/chat/history.
func (c *HTTPClient) FetchHistory(ctx context.Context, token string) (json.RawMessage, error) {
	return c.do(ctx, http.MethodGet, "/api/chat/history", token, nil)
}

// PostMessage calls POST /api/chat/message.
func (c *HTTPClient) PostMessage(ctx context.Context, token, text string) (json.RawMessage, error) {
	return c.do(ctx, http.MethodPost, "/api/chat/message", token, SendMessageRequest{Message: text})
}

// DeleteHistory calls DELETE /api/chat/history.
func (c *HTTPClient) DeleteHistory(ctx context.Context, token string) error {
	_, err := c.do(ctx, http.MethodDelete, "/api/chat/history", token, nil)
	return err
}

// Login calls POST /api/auth/login.
func (c *HTTPClient) Login(ctx context.Context, username, password string) (LoginResult, error) {
	body, err := c.do(ctx, http.MethodPost, "/api/auth/login", "", LoginRequest{Username: username, Password: password})
	if err != nil {
		return LoginResult{}, err
	}

	var lb loginBody
	if err := json.Unmarshal(body, &lb); err != nil {
		return LoginResult{}, fmt.Errorf("failed to decode login response: %w", err)
	}
	return lb.result()
}

func (c *HTTPClient) do(ctx context.Context, method, path, token string, payload any) (json.RawMessage, error) {
	var reader io.Reader
	if payload != nil {
		body, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if payload != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	httpReq.Header.Set("Accept", "application/json")
	if token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, requestError(method, path, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, requestError(method, path, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		code, message := parseErrorBody(respBody)
		if message == "" {
			message = http.StatusText(resp.StatusCode)
		}
		return nil, &Error{
			Failure: FailureStatus,
			Status:  resp.StatusCode,
			Code:    code,
			Message: message,
		}
	}

	return json.RawMessage(respBody), nil
}

// requestError maps a client-side failure onto the transport error union.
func requestError(method, path string, err error) *Error {
	return &Error{
		Failure: failureOf(err),
		Message: fmt.Sprintf("failed to call %s %s", method, path),
		Err:     err,
	}
}

// failureOf reports whether err is a timeout or a plain network failure.
func failureOf(err error) Failure {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return FailureTimeout
	}
	return FailureNetwork
}
