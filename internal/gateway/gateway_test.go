package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xiaot623/convo/internal/conversation"
	"github.com/xiaot623/convo/internal/credentials"
	"github.com/xiaot623/convo/internal/domain"
	"github.com/xiaot623/convo/internal/transport"
)

// fakeTransport answers with the configured functions and counts calls.
type fakeTransport struct {
	history func(ctx context.Context, token string) (json.RawMessage, error)
	post    func(ctx context.Context, token, text string) (json.RawMessage, error)
	clear   func(ctx context.Context, token string) error
	login   func(ctx context.Context, username, password string) (transport.LoginResult, error)

	calls atomic.Int32
}

func (f *fakeTransport) FetchHistory(ctx context.Context, token string) (json.RawMessage, error) {
	f.calls.Add(1)
	if f.history == nil {
		return json.RawMessage(`[]`), nil
	}
	return f.history(ctx, token)
}

func (f *fakeTransport) PostMessage(ctx context.Context, token, text string) (json.RawMessage, error) {
	f.calls.Add(1)
	if f.post == nil {
		return json.RawMessage(`{"message":"ok"}`), nil
	}
	return f.post(ctx, token, text)
}

func (f *fakeTransport) DeleteHistory(ctx context.Context, token string) error {
	f.calls.Add(1)
	if f.clear == nil {
		return nil
	}
	return f.clear(ctx, token)
}

func (f *fakeTransport) Login(ctx context.Context, username, password string) (transport.LoginResult, error) {
	f.calls.Add(1)
	return f.login(ctx, username, password)
}

type recorder struct {
	mu        sync.Mutex
	notices   []domain.Notice
	redirects int
}

func (r *recorder) Notify(n domain.Notice) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notices = append(r.notices, n)
}

func (r *recorder) RedirectToAuth() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.redirects++
}

func (r *recorder) bySeverity(s domain.Severity) []domain.Notice {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Notice
	for _, n := range r.notices {
		if n.Severity == s {
			out = append(out, n)
		}
	}
	return out
}

var fixedNow = time.Date(2026, 5, 1, 9, 30, 0, 0, time.UTC)

type fixture struct {
	gw    *Gateway
	tr    *fakeTransport
	creds *credentials.MemoryStore
	state *conversation.State
	rec   *recorder
}

func newFixture(t *testing.T, token string, opts ...Option) *fixture {
	t.Helper()
	f := &fixture{
		tr:    &fakeTransport{},
		creds: credentials.NewMemoryStore(),
		state: conversation.NewState(),
		rec:   &recorder{},
	}
	if token != "" {
		require.NoError(t, f.creds.Set(credentials.Credential{Token: token}))
	}

	var seq atomic.Int32
	base := []Option{
		WithNotifier(f.rec),
		WithNavigator(f.rec),
		WithClock(func() time.Time { return fixedNow }),
		WithIDGenerator(func() string { return "gen-" + string(rune('a'+seq.Add(1)-1)) }),
	}
	f.gw = New(f.tr, f.creds, f.state, append(base, opts...)...)
	return f
}

func statusError(status int, code, msg string) error {
	return &transport.Error{Failure: transport.FailureStatus, Status: status, Code: code, Message: msg}
}

func seed(state *conversation.State) []domain.Message {
	msgs := []domain.Message{
		{ID: "1", Role: domain.RoleUser, Content: "earlier", Timestamp: fixedNow.Add(-time.Hour)},
		{ID: "2", Role: domain.RoleAssistant, Content: "reply", Timestamp: fixedNow.Add(-time.Hour)},
	}
	state.Replace(msgs)
	return msgs
}

func TestSendHappyPath(t *testing.T) {
	f := newFixture(t, "tok")
	before := seed(f.state)
	draft := NewDraft("  Hello  ")

	f.tr.post = func(ctx context.Context, token, text string) (json.RawMessage, error) {
		assert.Equal(t, "tok", token)
		assert.Equal(t, "Hello", text)

		// The optimistic message is visible and the draft is empty while the request runs.
		msgs := f.state.Messages()
		require.Len(t, msgs, len(before)+1)
		last := msgs[len(msgs)-1]
		assert.True(t, last.Pending())
		assert.Equal(t, domain.RoleUser, last.Role)
		assert.Equal(t, "Hello", last.Content)
		assert.Empty(t, draft.Text())
		assert.Equal(t, PhaseOptimisticInserted, f.gw.Phase())

		return json.RawMessage(`{"id":"srv-9","message":"Hi there","timestamp":1700000000000}`), nil
	}

	reply, err := f.gw.Submit(context.Background(), draft)
	require.NoError(t, err)

	assert.Equal(t, "srv-9", reply.ID)
	assert.Equal(t, domain.RoleAssistant, reply.Role)
	assert.Equal(t, "Hi there", reply.Content)
	assert.Equal(t, int64(1700000000000), reply.Timestamp.UnixMilli())

	msgs := f.state.Messages()
	require.Len(t, msgs, len(before)+2)
	assert.Equal(t, before, msgs[:len(before)])
	assert.Equal(t, domain.Message{ID: domain.TempIDPrefix + "gen-a", Role: domain.RoleUser, Content: "Hello", Timestamp: fixedNow}, msgs[len(before)])
	assert.Equal(t, reply, msgs[len(before)+1])

	assert.Empty(t, draft.Text())
	assert.Equal(t, PhaseIdle, f.gw.Phase())
	assert.Empty(t, f.rec.notices)
}

func TestSendRollbackOnFailure(t *testing.T) {
	tests := []struct {
		name string
		err  error
		kind domain.ErrorKind
	}{
		{"network", &transport.Error{Failure: transport.FailureNetwork, Err: errors.New("refused")}, domain.ErrorKindNetworkError},
		{"transport timeout", &transport.Error{Failure: transport.FailureTimeout, Err: context.DeadlineExceeded}, domain.ErrorKindTimeout},
		{"timeout code", statusError(http.StatusGatewayTimeout, domain.CodeTimeout, "late"), domain.ErrorKindTimeout},
		{"rate limit code", statusError(http.StatusBadRequest, domain.CodeRateLimit, "slow down"), domain.ErrorKindRateLimited},
		{"rate limit status", statusError(http.StatusTooManyRequests, "", "slow down"), domain.ErrorKindRateLimited},
		{"cors", statusError(http.StatusForbidden, domain.CodeNetworkCorsError, "origin"), domain.ErrorKindNetworkCorsError},
		{"server error", statusError(http.StatusInternalServerError, "", "database is locked"), domain.ErrorKindUnknown},
		{"plain error", errors.New("weird"), domain.ErrorKindUnknown},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t, "tok")
			before := seed(f.state)
			f.tr.post = func(ctx context.Context, token, text string) (json.RawMessage, error) {
				return nil, tc.err
			}

			draft := NewDraft(" retry me ")
			_, err := f.gw.Submit(context.Background(), draft)
			require.Error(t, err)

			assert.Equal(t, tc.kind, domain.KindOf(err))
			assert.Equal(t, before, f.state.Messages())
			assert.Empty(t, f.state.Pending())
			assert.Equal(t, " retry me ", draft.Text())
			assert.Equal(t, PhaseIdle, f.gw.Phase())
			assert.True(t, f.gw.IsAuthenticated())
			assert.Zero(t, f.rec.redirects)
			assert.Len(t, f.rec.bySeverity(domain.SeverityError), 1)
		})
	}
}

func TestSendUnauthorizedMidSend(t *testing.T) {
	f := newFixture(t, "stale")
	before := seed(f.state)
	f.tr.post = func(ctx context.Context, token, text string) (json.RawMessage, error) {
		return nil, statusError(http.StatusUnauthorized, "", "Unauthorized")
	}

	draft := NewDraft("test")
	_, err := f.gw.Submit(context.Background(), draft)
	require.Error(t, err)

	assert.Equal(t, domain.ErrorKindAuthExpired, domain.KindOf(err))
	assert.Equal(t, before, f.state.Messages())
	assert.Equal(t, "test", draft.Text())
	assert.False(t, f.gw.IsAuthenticated())
	_, held := f.creds.Get()
	assert.False(t, held)
	assert.Equal(t, 1, f.rec.redirects)
	assert.Empty(t, f.rec.bySeverity(domain.SeverityError))
	assert.Len(t, f.rec.bySeverity(domain.SeverityWarning), 1)
}

func TestCredentialClearedBeforeRedirect(t *testing.T) {
	f := newFixture(t, "tok")
	f.tr.history = func(ctx context.Context, token string) (json.RawMessage, error) {
		return nil, statusError(http.StatusUnauthorized, domain.CodeAuthExpired, "expired")
	}

	var heldAtRedirect bool
	f.gw.navigator = NavigatorFunc(func() {
		_, heldAtRedirect = f.creds.Get()
	})

	_, err := f.gw.LoadHistory(context.Background())
	assert.Equal(t, domain.ErrorKindAuthExpired, domain.KindOf(err))
	assert.False(t, heldAtRedirect)
}

func TestAuthGate(t *testing.T) {
	t.Run("no credential", func(t *testing.T) {
		f := newFixture(t, "")
		assert.False(t, f.gw.IsAuthenticated())

		_, err := f.gw.LoadHistory(context.Background())
		assert.Equal(t, domain.ErrorKindAuthRequired, domain.KindOf(err))

		draft := NewDraft("hi")
		_, err = f.gw.Submit(context.Background(), draft)
		assert.Equal(t, domain.ErrorKindAuthRequired, domain.KindOf(err))
		assert.Equal(t, "hi", draft.Text())

		assert.Zero(t, f.tr.calls.Load())
		assert.Equal(t, 2, f.rec.redirects)
		assert.Empty(t, f.rec.notices)
		assert.Zero(t, f.state.Len())
	})

	t.Run("expired credential", func(t *testing.T) {
		f := newFixture(t, "")
		require.NoError(t, f.creds.Set(credentials.Credential{Token: "old", ExpiresAt: fixedNow.Add(-time.Minute)}))
		assert.False(t, f.gw.IsAuthenticated())

		_, err := f.gw.Send(context.Background(), "hi")
		assert.Equal(t, domain.ErrorKindAuthExpired, domain.KindOf(err))
		_, err = f.gw.LoadHistory(context.Background())
		assert.Equal(t, domain.ErrorKindAuthRequired, domain.KindOf(err))

		assert.Zero(t, f.tr.calls.Load())
		_, held := f.creds.Get()
		assert.False(t, held)
		assert.Equal(t, 2, f.rec.redirects)
		// One expiry notice for the whole session.
		assert.Len(t, f.rec.bySeverity(domain.SeverityWarning), 1)
	})
}

func TestSendPreconditions(t *testing.T) {
	f := newFixture(t, "tok")

	_, err := f.gw.Send(context.Background(), "   \n\t")
	assert.ErrorIs(t, err, ErrEmptyMessage)
	assert.Zero(t, f.tr.calls.Load())
	assert.Zero(t, f.state.Len())

	release := make(chan struct{})
	entered := make(chan struct{})
	f.tr.post = func(ctx context.Context, token, text string) (json.RawMessage, error) {
		close(entered)
		<-release
		return json.RawMessage(`{"message":"first"}`), nil
	}

	done := make(chan error, 1)
	go func() {
		_, err := f.gw.Send(context.Background(), "first")
		done <- err
	}()
	<-entered

	second := NewDraft("second")
	_, err = f.gw.Submit(context.Background(), second)
	assert.ErrorIs(t, err, ErrSendInFlight)
	assert.Equal(t, "second", second.Text())
	assert.Len(t, f.state.Pending(), 1)

	close(release)
	require.NoError(t, <-done)
	assert.Equal(t, 2, f.state.Len())
	assert.Empty(t, f.state.Pending())
}

func TestSendEmptyResponseFallback(t *testing.T) {
	for _, body := range []string{`{}`, `{"id":"x","message":"","content":""}`, `null`, ``, `"text"`} {
		t.Run(body, func(t *testing.T) {
			f := newFixture(t, "tok")
			f.tr.post = func(ctx context.Context, token, text string) (json.RawMessage, error) {
				return json.RawMessage(body), nil
			}

			reply, err := f.gw.Send(context.Background(), "hi")
			require.NoError(t, err)
			assert.Equal(t, domain.EmptyResponseContent, reply.Content)
			assert.NotEmpty(t, reply.ID)
			assert.Equal(t, fixedNow, reply.Timestamp)
			assert.Equal(t, 2, f.state.Len())
		})
	}
}

func TestSendReplyContentFallback(t *testing.T) {
	f := newFixture(t, "tok")
	f.tr.post = func(ctx context.Context, token, text string) (json.RawMessage, error) {
		return json.RawMessage(`{"id":42,"content":"from content"}`), nil
	}

	reply, err := f.gw.Send(context.Background(), "hi")
	require.NoError(t, err)
	assert.Equal(t, "42", reply.ID)
	assert.Equal(t, "from content", reply.Content)
}

func TestSendMalformedReplyRollsBack(t *testing.T) {
	f := newFixture(t, "tok")
	f.tr.post = func(ctx context.Context, token, text string) (json.RawMessage, error) {
		return json.RawMessage(`<html>oops`), nil
	}

	draft := NewDraft("hi")
	_, err := f.gw.Submit(context.Background(), draft)
	assert.Equal(t, domain.ErrorKindUnknown, domain.KindOf(err))
	assert.Zero(t, f.state.Len())
	assert.Equal(t, "hi", draft.Text())
}

func TestSendReplyTimeout(t *testing.T) {
	f := newFixture(t, "tok", WithReplyTimeout(20*time.Millisecond))

	release := make(chan struct{})
	finished := make(chan struct{})
	f.tr.post = func(ctx context.Context, token, text string) (json.RawMessage, error) {
		defer close(finished)
		<-release
		// The request was not aborted when the wait expired.
		assert.NoError(t, ctx.Err())
		return json.RawMessage(`{"message":"late"}`), nil
	}

	draft := NewDraft("hi")
	_, err := f.gw.Submit(context.Background(), draft)
	assert.Equal(t, domain.ErrorKindTimeout, domain.KindOf(err))
	assert.Zero(t, f.state.Len())
	assert.Equal(t, "hi", draft.Text())

	close(release)
	<-finished
	// The late reply is discarded.
	assert.Zero(t, f.state.Len())
}

func TestLoadHistoryNormalizes(t *testing.T) {
	f := newFixture(t, "tok")
	f.tr.history = func(ctx context.Context, token string) (json.RawMessage, error) {
		return json.RawMessage(`[
			{"role":"user","content":"hi","id":1,"timestamp":1000},
			{"sender":"user","message":"hi"},
			{"sender":"bot","message":"hello back","id":"b2","timestamp":"2026-01-02T03:04:05Z"}
		]`), nil
	}

	msgs, err := f.gw.LoadHistory(context.Background())
	require.NoError(t, err)
	require.Len(t, msgs, 3)

	assert.Equal(t, domain.Message{ID: "1", Role: domain.RoleUser, Content: "hi", Timestamp: time.UnixMilli(1000)}, msgs[0])

	assert.Equal(t, domain.RoleUser, msgs[1].Role)
	assert.Equal(t, "hi", msgs[1].Content)
	assert.Equal(t, "gen-a", msgs[1].ID)
	assert.Equal(t, fixedNow, msgs[1].Timestamp)

	assert.Equal(t, domain.RoleAssistant, msgs[2].Role)
	assert.Equal(t, "b2", msgs[2].ID)
	assert.Equal(t, time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC), msgs[2].Timestamp.UTC())

	assert.Equal(t, msgs, f.state.Messages())
}

func TestLoadHistoryMalformedTolerance(t *testing.T) {
	for _, body := range []string{`null`, `{}`, `"a string"`, `42`, ``, `not json`, `{"messages":"nope"}`} {
		t.Run(body, func(t *testing.T) {
			f := newFixture(t, "tok")
			seed(f.state)
			f.tr.history = func(ctx context.Context, token string) (json.RawMessage, error) {
				return json.RawMessage(body), nil
			}

			msgs, err := f.gw.LoadHistory(context.Background())
			require.NoError(t, err)
			assert.NotNil(t, msgs)
			assert.Empty(t, msgs)
			assert.Zero(t, f.state.Len())
		})
	}
}

func TestLoadHistoryEnvelope(t *testing.T) {
	f := newFixture(t, "tok")
	f.tr.history = func(ctx context.Context, token string) (json.RawMessage, error) {
		return json.RawMessage(`{"history":[{"id":"h1","role":"assistant","content":"welcome"}, null, 7]}`), nil
	}

	msgs, err := f.gw.LoadHistory(context.Background())
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "h1", msgs[0].ID)
}

func TestLoadHistoryFailures(t *testing.T) {
	t.Run("cors aborts to empty state", func(t *testing.T) {
		f := newFixture(t, "tok")
		seed(f.state)
		f.tr.history = func(ctx context.Context, token string) (json.RawMessage, error) {
			return nil, statusError(http.StatusForbidden, domain.CodeNetworkCorsError, "blocked")
		}

		_, err := f.gw.LoadHistory(context.Background())
		assert.Equal(t, domain.ErrorKindNetworkCorsError, domain.KindOf(err))
		assert.Zero(t, f.state.Len())
		require.NotNil(t, f.gw.Banner())
		assert.Equal(t, domain.ErrorKindNetworkCorsError, f.gw.Banner().Kind)
		assert.Len(t, f.rec.bySeverity(domain.SeverityError), 1)
	})

	t.Run("network error keeps state and sets banner until next success", func(t *testing.T) {
		f := newFixture(t, "tok")
		before := seed(f.state)
		fail := true
		f.tr.history = func(ctx context.Context, token string) (json.RawMessage, error) {
			if fail {
				return nil, &transport.Error{Failure: transport.FailureNetwork, Err: errors.New("refused")}
			}
			return json.RawMessage(`[]`), nil
		}

		_, err := f.gw.LoadHistory(context.Background())
		var ec *domain.ErrorContext
		require.ErrorAs(t, err, &ec)
		assert.Equal(t, domain.ErrorKindNetworkError, ec.Kind)
		assert.Equal(t, before, f.state.Messages())
		require.NotNil(t, f.gw.Banner())

		fail = false
		_, err = f.gw.LoadHistory(context.Background())
		require.NoError(t, err)
		assert.Nil(t, f.gw.Banner())
	})

	t.Run("auth required code", func(t *testing.T) {
		f := newFixture(t, "tok")
		f.tr.history = func(ctx context.Context, token string) (json.RawMessage, error) {
			return nil, statusError(http.StatusUnauthorized, domain.CodeAuthRequired, "login")
		}

		_, err := f.gw.LoadHistory(context.Background())
		assert.Equal(t, domain.ErrorKindAuthRequired, domain.KindOf(err))
		assert.False(t, f.gw.IsAuthenticated())
		assert.Equal(t, 1, f.rec.redirects)
		assert.Empty(t, f.rec.notices)
	})
}

func TestClearHistory(t *testing.T) {
	t.Run("server failure", func(t *testing.T) {
		f := newFixture(t, "tok")
		seed(f.state)
		f.tr.clear = func(ctx context.Context, token string) error {
			// Local clear happens before the remote call.
			assert.Zero(t, f.state.Len())
			return statusError(http.StatusInternalServerError, "", "boom")
		}

		assert.NotPanics(t, func() {
			assert.False(t, f.gw.ClearHistory(context.Background()))
		})
		assert.Zero(t, f.state.Len())
		warnings := f.rec.bySeverity(domain.SeverityWarning)
		require.Len(t, warnings, 1)
		assert.Equal(t, "boom", warnings[0].Description)
		assert.Empty(t, f.rec.bySeverity(domain.SeverityError))
		assert.True(t, f.gw.IsAuthenticated())
	})

	t.Run("success", func(t *testing.T) {
		f := newFixture(t, "tok")
		seed(f.state)
		assert.True(t, f.gw.ClearHistory(context.Background()))
		assert.Zero(t, f.state.Len())
		assert.Empty(t, f.rec.notices)
	})

	t.Run("auth failure ends session", func(t *testing.T) {
		f := newFixture(t, "tok")
		seed(f.state)
		f.tr.clear = func(ctx context.Context, token string) error {
			return statusError(http.StatusUnauthorized, "", "")
		}

		assert.False(t, f.gw.ClearHistory(context.Background()))
		assert.Zero(t, f.state.Len())
		assert.False(t, f.gw.IsAuthenticated())
		assert.Equal(t, 1, f.rec.redirects)
	})

	t.Run("unauthenticated still clears locally", func(t *testing.T) {
		f := newFixture(t, "")
		seed(f.state)
		assert.False(t, f.gw.ClearHistory(context.Background()))
		assert.Zero(t, f.state.Len())
		assert.Zero(t, f.tr.calls.Load())
		assert.Equal(t, 1, f.rec.redirects)
	})
}

func TestLogoutIdempotent(t *testing.T) {
	f := newFixture(t, "tok")
	f.gw.Logout()
	f.gw.Logout()
	assert.False(t, f.gw.IsAuthenticated())
	assert.Zero(t, f.rec.redirects)
}

func TestLogin(t *testing.T) {
	f := newFixture(t, "")
	expires := fixedNow.Add(time.Hour)
	f.tr.login = func(ctx context.Context, username, password string) (transport.LoginResult, error) {
		if password != "demo" {
			return transport.LoginResult{}, statusError(http.StatusUnauthorized, "INVALID_CREDENTIALS", "bad password")
		}
		return transport.LoginResult{Token: "issued", ExpiresAt: expires}, nil
	}

	err := f.gw.Login(context.Background(), "demo", "wrong")
	assert.Equal(t, domain.ErrorKindAuthRequired, domain.KindOf(err))
	assert.False(t, f.gw.IsAuthenticated())
	assert.Zero(t, f.rec.redirects)

	require.NoError(t, f.gw.Login(context.Background(), "demo", "demo"))
	assert.True(t, f.gw.IsAuthenticated())
	cred, ok := f.creds.Get()
	require.True(t, ok)
	assert.Equal(t, "issued", cred.Token)
	assert.Equal(t, expires, cred.ExpiresAt)
}

func TestStateObserversSeeRollback(t *testing.T) {
	f := newFixture(t, "tok")
	var ops []conversation.Op
	f.state.Observe(func(c conversation.Change) {
		ops = append(ops, c.Op)
	})
	f.tr.post = func(ctx context.Context, token, text string) (json.RawMessage, error) {
		return nil, statusError(http.StatusTooManyRequests, domain.CodeRateLimit, "slow down")
	}

	_, err := f.gw.Send(context.Background(), "hi")
	require.Error(t, err)
	assert.Equal(t, []conversation.Op{conversation.OpAppended, conversation.OpRemoved}, ops)
}
