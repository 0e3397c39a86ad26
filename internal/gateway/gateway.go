// Package gateway mediates every interaction between a chat UI and the remote
// assistant service: it enforces the authentication rules, runs the
// optimistic send protocol against the conversation log and turns transport
// failures into classified errors.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/xiaot623/convo/internal/conversation"
	"github.com/xiaot623/convo/internal/credentials"
	"github.com/xiaot623/convo/internal/domain"
	"github.com/xiaot623/convo/internal/transport"
)

// Errors returned for rejected sends. Neither reaches the network.
var (
	ErrEmptyMessage = errors.New("message is empty")
	ErrSendInFlight = errors.New("another message is still being sent")
)

// Phase is the position of the current send in its lifecycle.
type Phase string

const (
	PhaseIdle               Phase = "IDLE"
	PhaseOptimisticInserted Phase = "OPTIMISTIC_INSERTED"
	PhaseConfirmed          Phase = "CONFIRMED"
	PhaseRolledBack         Phase = "ROLLED_BACK"
)

// Notifier receives toast notices for the UI.
type Notifier interface {
	Notify(notice domain.Notice)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(domain.Notice)

func (f NotifierFunc) Notify(notice domain.Notice) { f(notice) }

// Navigator performs the redirect to the authentication screen.
type Navigator interface {
	RedirectToAuth()
}

// NavigatorFunc adapts a function to Navigator.
type NavigatorFunc func()

func (f NavigatorFunc) RedirectToAuth() { f() }

type noopNotifier struct{}

func (noopNotifier) Notify(domain.Notice) {}

type noopNavigator struct{}

func (noopNavigator) RedirectToAuth() {}

// Toast titles per error kind.
var titles = map[domain.ErrorKind]string{
	domain.ErrorKindNetworkCorsError: "Request blocked",
	domain.ErrorKindNetworkError:     "Connection problem",
	domain.ErrorKindTimeout:          "Request timed out",
	domain.ErrorKindRateLimited:      "Slow down",
	domain.ErrorKindUnknown:          "Something went wrong",
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithNotifier sets the toast surface.
func WithNotifier(n Notifier) Option {
	return func(g *Gateway) {
		g.notifier = n
	}
}

// WithNavigator sets the redirect target used when the session ends.
func WithNavigator(n Navigator) Option {
	return func(g *Gateway) {
		g.navigator = n
	}
}

// WithLogger sets the logger for classified failures.
func WithLogger(l *slog.Logger) Option {
	return func(g *Gateway) {
		g.logger = l
	}
}

// WithClock sets the time source for optimistic timestamps and expiry checks.
func WithClock(now func() time.Time) Option {
	return func(g *Gateway) {
		g.now = now
	}
}

// WithIDGenerator sets the generator for temporary and fallback message ids.
func WithIDGenerator(fn func() string) Option {
	return func(g *Gateway) {
		g.newID = fn
	}
}

// WithReplyTimeout bounds how long Send waits for the assistant's reply.
// On expiry the send fails as a timeout; the request itself keeps running
// and its late result is discarded. Zero waits indefinitely.
func WithReplyTimeout(d time.Duration) Option {
	return func(g *Gateway) {
		g.replyTimeout = d
	}
}

// Gateway is the session gateway for one conversation.
type Gateway struct {
	transport    transport.Transport
	credentials  credentials.Store
	state        *conversation.State
	notifier     Notifier
	navigator    Navigator
	logger       *slog.Logger
	now          func() time.Time
	newID        func() string
	replyTimeout time.Duration

	sending atomic.Bool

	mu     sync.Mutex
	phase  Phase
	banner *domain.ErrorContext
}

// New creates a gateway over the given transport, credential store and log.
func New(t transport.Transport, creds credentials.Store, state *conversation.State, opts ...Option) *Gateway {
	g := &Gateway{
		transport:   t,
		credentials: creds,
		state:       state,
		notifier:    noopNotifier{},
		navigator:   noopNavigator{},
		logger:      slog.Default(),
		now:         time.Now,
		newID:       uuid.NewString,
		phase:       PhaseIdle,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// IsAuthenticated reports whether a valid credential is held. It never
// touches the network.
func (g *Gateway) IsAuthenticated() bool {
	_, ok := g.credential()
	return ok
}

// Phase returns the lifecycle position of the current send.
func (g *Gateway) Phase() Phase {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.phase
}

// Banner returns the connection problem currently shown inline, if any.
func (g *Gateway) Banner() *domain.ErrorContext {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.banner
}

// LoadHistory fetches the conversation from the service and replaces the
// local log with it.
func (g *Gateway) LoadHistory(ctx context.Context) ([]domain.Message, error) {
	cred, ok := g.credential()
	if !ok {
		return nil, g.surface("load_history", g.missingCredential())
	}

	body, err := g.transport.FetchHistory(ctx, cred.Token)
	if err != nil {
		ec := g.surface("load_history", err)
		if ec.Kind == domain.ErrorKindNetworkCorsError {
			g.state.Clear()
		}
		return nil, ec
	}

	msgs := g.normalizeHistory(body)
	g.state.Replace(msgs)
	g.setBanner(nil)
	return msgs, nil
}

// Send submits text as a new user message. See Submit.
func (g *Gateway) Send(ctx context.Context, text string) (domain.Message, error) {
	return g.Submit(ctx, NewDraft(text))
}

// Submit sends the draft's text as a new user message.
//
// The user message is appended to the log and the draft is cleared before
// the request is issued. On success the assistant's reply is appended after
// it and returned. On failure the user message is removed again and the
// draft gets its original text back before the classified error is
// surfaced and returned.
func (g *Gateway) Submit(ctx context.Context, draft *Draft) (domain.Message, error) {
	original := draft.Text()
	text := strings.TrimSpace(original)

	cred, ok := g.credential()
	if !ok {
		return domain.Message{}, g.surface("send", g.missingCredential())
	}
	if text == "" {
		return domain.Message{}, ErrEmptyMessage
	}
	if !g.sending.CompareAndSwap(false, true) {
		return domain.Message{}, ErrSendInFlight
	}
	defer g.sending.Store(false)
	defer g.setPhase(PhaseIdle)

	optimistic := domain.Message{
		ID:        domain.TempIDPrefix + g.newID(),
		Role:      domain.RoleUser,
		Content:   text,
		Timestamp: g.now(),
	}
	g.state.Append(optimistic)
	draft.Clear()
	g.setPhase(PhaseOptimisticInserted)

	body, err := g.post(ctx, cred.Token, text)
	var confirmed domain.Message
	if err == nil {
		confirmed, err = g.parseReply(body)
	}
	if err != nil {
		g.state.RemoveByID(optimistic.ID)
		draft.SetText(original)
		g.setPhase(PhaseRolledBack)
		return domain.Message{}, g.surface("send", err)
	}

	g.state.Append(confirmed)
	g.setPhase(PhaseConfirmed)
	g.setBanner(nil)
	return confirmed, nil
}

// ClearHistory empties the local log, then asks the service to delete its
// copy. It reports whether the service confirmed the deletion; a failure
// there only produces a warning notice because the local clear stands.
func (g *Gateway) ClearHistory(ctx context.Context) bool {
	g.state.Clear()

	cred, ok := g.credential()
	if !ok {
		g.surface("clear_history", g.missingCredential())
		return false
	}

	if err := g.transport.DeleteHistory(ctx, cred.Token); err != nil {
		ec := Classify(err)
		g.logger.Warn("clear history notify failed", "kind", ec.Kind, "error", err)
		if ec.Kind.IsAuth() {
			g.endSession(ec)
			return false
		}
		g.notifier.Notify(domain.Notice{
			Title:       "History cleared on this device only",
			Description: ec.Message,
			Severity:    domain.SeverityWarning,
		})
		return false
	}

	g.setBanner(nil)
	return true
}

// Logout drops the stored credential. It is safe to call repeatedly.
func (g *Gateway) Logout() {
	if err := g.credentials.Clear(); err != nil {
		g.logger.Error("failed to clear credential", "error", err)
	}
}

// Login exchanges a username and password for a credential and stores it.
func (g *Gateway) Login(ctx context.Context, username, password string) error {
	res, err := g.transport.Login(ctx, username, password)
	if err != nil {
		ec := Classify(err)
		if ec.Kind.IsAuth() {
			ec = &domain.ErrorContext{Kind: domain.ErrorKindAuthRequired, Message: "Invalid username or password", Err: err}
		}
		g.logger.Warn("login failed", "kind", ec.Kind, "error", err)
		if ec.Kind.ShowsBanner() {
			g.setBanner(ec)
		}
		g.notifier.Notify(domain.Notice{Title: "Login failed", Description: ec.Message, Severity: domain.SeverityError})
		return ec
	}

	cred := credentials.FromToken(res.Token)
	if !res.ExpiresAt.IsZero() {
		cred.ExpiresAt = res.ExpiresAt
	}
	if err := g.credentials.Set(cred); err != nil {
		return fmt.Errorf("failed to store credential: %w", err)
	}
	g.setBanner(nil)
	return nil
}

func (g *Gateway) credential() (credentials.Credential, bool) {
	cred, ok := g.credentials.Get()
	if !ok || !cred.Valid(g.now()) {
		return credentials.Credential{}, false
	}
	return cred, true
}

// missingCredential explains why no valid credential is available.
func (g *Gateway) missingCredential() *domain.ErrorContext {
	if cred, ok := g.credentials.Get(); ok && cred.Token != "" {
		return newErrorContext(domain.ErrorKindAuthExpired, nil)
	}
	return newErrorContext(domain.ErrorKindAuthRequired, nil)
}

// post issues the send request, bounded by the reply timeout when one is set.
func (g *Gateway) post(ctx context.Context, token, text string) (json.RawMessage, error) {
	if g.replyTimeout <= 0 {
		return g.transport.PostMessage(ctx, token, text)
	}

	type result struct {
		body json.RawMessage
		err  error
	}
	done := make(chan result, 1)
	go func() {
		body, err := g.transport.PostMessage(context.WithoutCancel(ctx), token, text)
		done <- result{body: body, err: err}
	}()

	timer := time.NewTimer(g.replyTimeout)
	defer timer.Stop()

	select {
	case r := <-done:
		return r.body, r.err
	case <-timer.C:
		g.logger.Debug("reply timed out, discarding late result", "timeout", g.replyTimeout)
		return nil, newErrorContext(domain.ErrorKindTimeout, context.DeadlineExceeded)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// surface classifies err and applies its side effects: auth failures end
// the session, connection problems set the banner, everything else toasts.
func (g *Gateway) surface(op string, err error) *domain.ErrorContext {
	ec := Classify(err)
	g.logger.Warn("session operation failed", "op", op, "kind", ec.Kind, "error", ec.Err)

	if ec.Kind.IsAuth() {
		g.endSession(ec)
		return ec
	}
	if ec.Kind.ShowsBanner() {
		g.setBanner(ec)
	}
	g.notifier.Notify(domain.Notice{
		Title:       titles[ec.Kind],
		Description: ec.Message,
		Severity:    domain.SeverityError,
	})
	return ec
}

// endSession clears the credential before redirecting so the auth screen
// does not bounce straight back. The expiry notice is shown only while a
// credential was still held, so a session ends with at most one of them.
func (g *Gateway) endSession(ec *domain.ErrorContext) {
	_, hadCredential := g.credentials.Get()
	g.Logout()
	if ec.Kind == domain.ErrorKindAuthExpired && hadCredential {
		g.notifier.Notify(domain.Notice{
			Title:       "Session expired",
			Description: "Please log in again",
			Severity:    domain.SeverityWarning,
		})
	}
	g.navigator.RedirectToAuth()
}

func (g *Gateway) setPhase(p Phase) {
	g.mu.Lock()
	g.phase = p
	g.mu.Unlock()
}

func (g *Gateway) setBanner(ec *domain.ErrorContext) {
	g.mu.Lock()
	g.banner = ec
	g.mu.Unlock()
}
