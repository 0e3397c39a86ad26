package gateway

import (
	"context"
	"errors"
	"net/http"

	"github.com/xiaot623/convo/internal/domain"
	"github.com/xiaot623/convo/internal/transport"
)

// Default messages shown when the service gave no text of its own.
var defaultMessages = map[domain.ErrorKind]string{
	domain.ErrorKindAuthRequired:     "Please log in to continue",
	domain.ErrorKindAuthExpired:      "Your session has expired, please log in again",
	domain.ErrorKindNetworkCorsError: "The assistant service rejected this origin",
	domain.ErrorKindNetworkError:     "Unable to reach the assistant service",
	domain.ErrorKindTimeout:          "Server took too long to respond",
	domain.ErrorKindRateLimited:      "Too many messages, please wait a moment",
	domain.ErrorKindUnknown:          "Something went wrong",
}

// codeKinds maps recognized error codes to kinds. Codes win over statuses.
var codeKinds = map[string]domain.ErrorKind{
	domain.CodeAuthExpired:      domain.ErrorKindAuthExpired,
	domain.CodeAuthRequired:     domain.ErrorKindAuthRequired,
	domain.CodeNetworkCorsError: domain.ErrorKindNetworkCorsError,
	domain.CodeNetworkError:     domain.ErrorKindNetworkError,
	domain.CodeTimeout:          domain.ErrorKindTimeout,
	domain.CodeRateLimit:        domain.ErrorKindRateLimited,
}

// Classify converts any failure of a remote call into an ErrorContext.
// An error that already carries a classification is returned unchanged.
func Classify(err error) *domain.ErrorContext {
	if err == nil {
		return nil
	}

	var ec *domain.ErrorContext
	if errors.As(err, &ec) {
		return ec
	}

	if terr, ok := transport.AsError(err); ok {
		kind := kindOf(terr)
		msg := terr.Message
		if kind != domain.ErrorKindUnknown && (terr.Failure != transport.FailureStatus || msg == "") {
			msg = defaultMessages[kind]
		}
		if msg == "" {
			msg = terr.Error()
		}
		return &domain.ErrorContext{Kind: kind, Message: msg, Err: err}
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return newErrorContext(domain.ErrorKindTimeout, err)
	}

	return &domain.ErrorContext{Kind: domain.ErrorKindUnknown, Message: err.Error(), Err: err}
}

func kindOf(terr *transport.Error) domain.ErrorKind {
	if kind, ok := codeKinds[terr.Code]; ok {
		return kind
	}

	switch terr.Failure {
	case transport.FailureNetwork:
		return domain.ErrorKindNetworkError
	case transport.FailureTimeout:
		return domain.ErrorKindTimeout
	}

	switch terr.Status {
	case http.StatusUnauthorized:
		return domain.ErrorKindAuthExpired
	case http.StatusTooManyRequests:
		return domain.ErrorKindRateLimited
	}
	return domain.ErrorKindUnknown
}

func newErrorContext(kind domain.ErrorKind, err error) *domain.ErrorContext {
	return &domain.ErrorContext{Kind: kind, Message: defaultMessages[kind], Err: err}
}
