package stub

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/xiaot623/convo/internal/config"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()

	s, err := NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = s.Close()
	})
	return s
}

func testStubConfig() *config.StubConfig {
	return &config.StubConfig{
		DatabaseURL:        ":memory:",
		JWTSecret:          "test-secret",
		TokenTTL:           time.Hour,
		Users:              map[string]string{"demo": "demo"},
		RateLimitPerMinute: 20,
		MaxMessageChars:    4000,
	}
}

func newTestServer(t *testing.T, cfg *config.StubConfig) *Server {
	t.Helper()

	srv, err := newServer(context.Background(), cfg, bcrypt.MinCost, false)
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	})
	return srv
}

func newTestService(t *testing.T, opts Options, now func() time.Time) (*Service, *SQLiteStore) {
	t.Helper()

	store := newTestStore(t)
	require.NoError(t, SeedUsers(context.Background(), store, map[string]string{"demo": "demo"}, bcrypt.MinCost))

	policy, err := NewPolicyEngine(context.Background(), DefaultPolicy)
	require.NoError(t, err)

	return NewService(store, NewAuthenticator("test-secret", time.Hour, now), policy, NewMockReplier(), opts), store
}
