package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/xiaot623/convo/internal/domain"
	"github.com/xiaot623/convo/internal/transport"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		kind    domain.ErrorKind
		message string
	}{
		{"401 status", statusError(http.StatusUnauthorized, "", "Unauthorized"), domain.ErrorKindAuthExpired, "Unauthorized"},
		{"auth expired code", statusError(http.StatusForbidden, domain.CodeAuthExpired, ""), domain.ErrorKindAuthExpired, defaultMessages[domain.ErrorKindAuthExpired]},
		{"auth required code wins over 401", statusError(http.StatusUnauthorized, domain.CodeAuthRequired, "no token"), domain.ErrorKindAuthRequired, "no token"},
		{"cors code", statusError(0, domain.CodeNetworkCorsError, "blocked"), domain.ErrorKindNetworkCorsError, "blocked"},
		{"network code", statusError(http.StatusBadGateway, domain.CodeNetworkError, ""), domain.ErrorKindNetworkError, defaultMessages[domain.ErrorKindNetworkError]},
		{"timeout code", statusError(http.StatusGatewayTimeout, domain.CodeTimeout, "late"), domain.ErrorKindTimeout, "late"},
		{"rate limit code", statusError(http.StatusBadRequest, domain.CodeRateLimit, "wait"), domain.ErrorKindRateLimited, "wait"},
		{"429 status", statusError(http.StatusTooManyRequests, "", ""), domain.ErrorKindRateLimited, defaultMessages[domain.ErrorKindRateLimited]},
		{"network failure", &transport.Error{Failure: transport.FailureNetwork, Message: "failed to call GET /x", Err: errors.New("refused")}, domain.ErrorKindNetworkError, defaultMessages[domain.ErrorKindNetworkError]},
		{"timeout failure", &transport.Error{Failure: transport.FailureTimeout, Err: context.DeadlineExceeded}, domain.ErrorKindTimeout, defaultMessages[domain.ErrorKindTimeout]},
		{"unknown code keeps raw message", statusError(http.StatusUnprocessableEntity, "MESSAGE_BLOCKED", "message blocked by policy"), domain.ErrorKindUnknown, "message blocked by policy"},
		{"wrapped transport error", fmt.Errorf("send: %w", statusError(http.StatusUnauthorized, "", "x")), domain.ErrorKindAuthExpired, "x"},
		{"deadline", context.DeadlineExceeded, domain.ErrorKindTimeout, defaultMessages[domain.ErrorKindTimeout]},
		{"plain error", errors.New("boom"), domain.ErrorKindUnknown, "boom"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			ec := Classify(tc.err)
			assert.Equal(t, tc.kind, ec.Kind)
			assert.Equal(t, tc.message, ec.Message)
			assert.ErrorIs(t, ec, tc.err)
		})
	}
}

func TestClassifyPassesThroughErrorContext(t *testing.T) {
	ec := &domain.ErrorContext{Kind: domain.ErrorKindTimeout, Message: "late"}
	assert.Same(t, ec, Classify(fmt.Errorf("wrapped: %w", ec)))
	assert.Nil(t, Classify(nil))
}

func TestParseID(t *testing.T) {
	assert.Equal(t, "1", parseID([]byte(`1`)))
	assert.Equal(t, "12345678901", parseID([]byte(`12345678901`)))
	assert.Equal(t, "1.5", parseID([]byte(`1.5`)))
	assert.Equal(t, "abc", parseID([]byte(`"abc"`)))
	assert.Empty(t, parseID([]byte(`null`)))
	assert.Empty(t, parseID([]byte(`{"x":1}`)))
	assert.Empty(t, parseID(nil))
}

func TestParseTimestamp(t *testing.T) {
	ts, ok := parseTimestamp([]byte(`1000`))
	assert.True(t, ok)
	assert.Equal(t, int64(1000), ts.UnixMilli())

	ts, ok = parseTimestamp([]byte(`"1700000000000"`))
	assert.True(t, ok)
	assert.Equal(t, int64(1700000000000), ts.UnixMilli())

	ts, ok = parseTimestamp([]byte(`"2026-01-02T03:04:05.5Z"`))
	assert.True(t, ok)
	assert.Equal(t, 500, ts.Nanosecond()/1e6)

	_, ok = parseTimestamp([]byte(`"yesterday"`))
	assert.False(t, ok)
	_, ok = parseTimestamp([]byte(`null`))
	assert.False(t, ok)
	_, ok = parseTimestamp(nil)
	assert.False(t, ok)
}
