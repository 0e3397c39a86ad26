// Package stub implements a development assistant service that speaks the
// chat client's HTTP and WebSocket contract. It backs end-to-end runs of the
// CLI and the transport tests; it is not a production backend.
package stub

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/xiaot623/convo/internal/domain"
)

// APIError is a failure reported to the client with a status and code.
type APIError struct {
	Status  int    `json:"-"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%d %s: %s", e.Status, e.Code, e.Message)
}

func unauthorized(code, message string) *APIError {
	return &APIError{Status: http.StatusUnauthorized, Code: code, Message: message}
}

func badRequest(message string) *APIError {
	return &APIError{Status: http.StatusBadRequest, Code: CodeInvalidRequest, Message: message}
}

func internalError(err error) *APIError {
	log.Printf("Internal error: %v", err)
	return &APIError{Status: http.StatusInternalServerError, Code: CodeInternalError, Message: "internal error"}
}

// HistoryRecord is one entry of the history response. Timestamps are epoch milliseconds.
type HistoryRecord struct {
	ID        string `json:"id"`
	Role      string `json:"role"`
	Content   string `json:"content"`
	Timestamp int64  `json:"timestamp"`
}

// ReplyResponse is the body returned for a sent message.
type ReplyResponse struct {
	ID        string `json:"id"`
	Message   string `json:"message"`
	Timestamp int64  `json:"timestamp"`
}

// LoginResponse is the body returned for a successful login.
type LoginResponse struct {
	Token     string `json:"token"`
	ExpiresAt int64  `json:"expires_at"`
}

// Options tunes the service.
type Options struct {
	RateLimitPerMinute int
	MaxMessageChars    int
}

// Service implements the assistant operations shared by the HTTP and
// WebSocket surfaces.
type Service struct {
	store   *SQLiteStore
	auth    *Authenticator
	policy  *PolicyEngine
	replier *MockReplier
	opts    Options
	now     func() time.Time
}

// NewService creates a new service.
func NewService(store *SQLiteStore, auth *Authenticator, policy *PolicyEngine, replier *MockReplier, opts Options) *Service {
	return &Service{
		store:   store,
		auth:    auth,
		policy:  policy,
		replier: replier,
		opts:    opts,
		now:     auth.now,
	}
}

// Authorize verifies token and returns its user.
func (s *Service) Authorize(token string) (string, *APIError) {
	return s.auth.Verify(token)
}

// Login checks the password and issues a token.
func (s *Service) Login(ctx context.Context, username, password string) (*LoginResponse, *APIError) {
	if username == "" || password == "" {
		return nil, badRequest("username and password are required")
	}

	hash, err := s.store.GetPasswordHash(ctx, username)
	if errors.Is(err, ErrUserNotFound) {
		return nil, unauthorized(CodeInvalidCredentials, "Invalid username or password")
	}
	if err != nil {
		return nil, internalError(err)
	}
	if !checkPassword(hash, password) {
		return nil, unauthorized(CodeInvalidCredentials, "Invalid username or password")
	}

	token, expiresAt, err := s.auth.Issue(username)
	if err != nil {
		return nil, internalError(err)
	}
	return &LoginResponse{Token: token, ExpiresAt: expiresAt.UnixMilli()}, nil
}

// History returns the user's conversation, oldest first.
func (s *Service) History(ctx context.Context, username string) ([]HistoryRecord, *APIError) {
	msgs, err := s.store.ListMessages(ctx, username)
	if err != nil {
		return nil, internalError(err)
	}

	records := make([]HistoryRecord, 0, len(msgs))
	for _, m := range msgs {
		records = append(records, HistoryRecord{
			ID:        m.ID,
			Role:      m.Role,
			Content:   m.Content,
			Timestamp: m.CreatedAt.UnixMilli(),
		})
	}
	return records, nil
}

// Send applies the message policy, stores the user message and the
// assistant's reply, and returns the reply.
func (s *Service) Send(ctx context.Context, username, text string) (*ReplyResponse, *APIError) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, badRequest("message is required")
	}

	now := s.now()
	recent, err := s.store.CountMessagesSince(ctx, username, string(domain.RoleUser), now.Add(-time.Minute))
	if err != nil {
		return nil, internalError(err)
	}

	decision, err := s.policy.Evaluate(ctx, PolicyInput{
		ContentLength: len([]rune(text)),
		RecentCount:   recent,
		MaxChars:      s.opts.MaxMessageChars,
		RateLimit:     s.opts.RateLimitPerMinute,
	})
	if err != nil {
		return nil, internalError(err)
	}

	switch decision {
	case DecisionAllow:
	case DecisionRateLimit:
		return nil, &APIError{Status: http.StatusTooManyRequests, Code: domain.CodeRateLimit, Message: "Too many messages, try again in a minute"}
	case DecisionBlock:
		return nil, &APIError{Status: http.StatusUnprocessableEntity, Code: CodeMessageBlocked, Message: "Message blocked by policy"}
	default:
		return nil, internalError(fmt.Errorf("unknown policy decision %q", decision))
	}

	history, err := s.store.ListMessages(ctx, username)
	if err != nil {
		return nil, internalError(err)
	}

	userMsg := &Message{
		ID:        uuid.New().String(),
		Username:  username,
		Role:      string(domain.RoleUser),
		Content:   text,
		CreatedAt: now,
	}
	if err := s.store.CreateMessage(ctx, userMsg); err != nil {
		return nil, internalError(err)
	}

	reply := &Message{
		ID:        uuid.New().String(),
		Username:  username,
		Role:      string(domain.RoleAssistant),
		Content:   s.replier.Reply(history, text),
		CreatedAt: s.now(),
	}
	if err := s.store.CreateMessage(ctx, reply); err != nil {
		return nil, internalError(err)
	}

	return &ReplyResponse{ID: reply.ID, Message: reply.Content, Timestamp: reply.CreatedAt.UnixMilli()}, nil
}

// Clear deletes the user's history.
func (s *Service) Clear(ctx context.Context, username string) *APIError {
	n, err := s.store.DeleteMessages(ctx, username)
	if err != nil {
		return internalError(err)
	}
	log.Printf("Cleared %d messages for %s", n, username)
	return nil
}
