package stub

import (
	"context"
	"fmt"
	"log"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"golang.org/x/crypto/bcrypt"

	"github.com/xiaot623/convo/internal/config"
)

// Server is the assembled dev assistant service.
type Server struct {
	Echo  *echo.Echo
	store *SQLiteStore
	ws    *WSServer
}

// NewServer opens the store, seeds the configured users and registers all routes.
func NewServer(ctx context.Context, cfg *config.StubConfig) (*Server, error) {
	return newServer(ctx, cfg, bcrypt.DefaultCost, true)
}

func newServer(ctx context.Context, cfg *config.StubConfig, hashCost int, accessLog bool) (*Server, error) {
	store, err := NewSQLiteStore(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize store: %w", err)
	}

	if err := SeedUsers(ctx, store, cfg.Users, hashCost); err != nil {
		store.Close()
		return nil, err
	}

	policy, err := NewPolicyEngine(ctx, DefaultPolicy)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to initialize policy engine: %w", err)
	}

	svc := NewService(store, NewAuthenticator(cfg.JWTSecret, cfg.TokenTTL, nil), policy, NewMockReplier(), Options{
		RateLimitPerMinute: cfg.RateLimitPerMinute,
		MaxMessageChars:    cfg.MaxMessageChars,
	})
	ws := NewWSServer(DefaultWSConfig(), svc)

	e := echo.New()
	e.HideBanner = true
	if accessLog {
		e.Use(middleware.Logger())
	}
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	NewHandler(svc, ws).RegisterRoutes(e)

	log.Printf("Seeded %d users", len(cfg.Users))
	return &Server{Echo: e, store: store, ws: ws}, nil
}

// Start serves on addr until Shutdown is called.
func (s *Server) Start(addr string) error {
	return s.Echo.Start(addr)
}

// Shutdown stops accepting requests, closes WebSocket connections and the store.
func (s *Server) Shutdown(ctx context.Context) error {
	s.ws.CloseAll()
	err := s.Echo.Shutdown(ctx)
	if cerr := s.store.Close(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}
