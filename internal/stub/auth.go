package stub

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/xiaot623/convo/internal/domain"
)

// Error codes for failures that the client does not classify specially.
const (
	CodeInvalidCredentials = "INVALID_CREDENTIALS"
	CodeInvalidRequest     = "INVALID_REQUEST"
	CodeMessageBlocked     = "MESSAGE_BLOCKED"
	CodeInternalError      = "INTERNAL_ERROR"
)

// Authenticator issues and verifies HS256 access tokens.
type Authenticator struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewAuthenticator creates an authenticator. now may be nil.
func NewAuthenticator(secret string, ttl time.Duration, now func() time.Time) *Authenticator {
	if now == nil {
		now = time.Now
	}
	return &Authenticator{secret: []byte(secret), ttl: ttl, now: now}
}

// Issue creates a token for username.
func (a *Authenticator) Issue(username string) (string, time.Time, error) {
	issuedAt := a.now()
	expiresAt := issuedAt.Add(a.ttl)
	claims := jwt.MapClaims{
		"sub": username,
		"exp": expiresAt.Unix(),
		"iat": issuedAt.Unix(),
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign token: %w", err)
	}
	return token, time.Unix(expiresAt.Unix(), 0), nil
}

// Verify checks token and returns the username it was issued to.
func (a *Authenticator) Verify(token string) (string, *APIError) {
	if token == "" {
		return "", unauthorized(domain.CodeAuthRequired, "Missing authorization token")
	}

	parsed, err := jwt.Parse(token, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return a.secret, nil
	}, jwt.WithTimeFunc(a.now), jwt.WithExpirationRequired())
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", unauthorized(domain.CodeAuthExpired, "Token has expired")
		}
		return "", unauthorized(domain.CodeAuthRequired, "Invalid token")
	}

	sub, err := parsed.Claims.GetSubject()
	if err != nil || sub == "" {
		return "", unauthorized(domain.CodeAuthRequired, "Invalid token subject")
	}
	return sub, nil
}

// bearerToken extracts the token from an Authorization header value.
func bearerToken(header string) string {
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

// HashPassword hashes password with the given bcrypt cost.
func HashPassword(password string, cost int) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hash), nil
}

// SeedUsers stores the given accounts, replacing existing passwords.
func SeedUsers(ctx context.Context, store *SQLiteStore, users map[string]string, cost int) error {
	for name, password := range users {
		hash, err := HashPassword(password, cost)
		if err != nil {
			return err
		}
		if err := store.UpsertUser(ctx, name, hash); err != nil {
			return fmt.Errorf("failed to seed user %s: %w", name, err)
		}
	}
	return nil
}

func checkPassword(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}
