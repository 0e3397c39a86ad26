// Package domain defines the core models shared by the chat session client.
package domain

// Role represents the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleSystem:
		return true
	}
	return false
}

// ErrorKind classifies a failed session operation.
type ErrorKind string

const (
	ErrorKindAuthRequired     ErrorKind = "AuthRequired"
	ErrorKindAuthExpired      ErrorKind = "AuthExpired"
	ErrorKindNetworkCorsError ErrorKind = "NetworkCorsError"
	ErrorKindNetworkError     ErrorKind = "NetworkError"
	ErrorKindTimeout          ErrorKind = "Timeout"
	ErrorKindRateLimited      ErrorKind = "RateLimited"
	ErrorKindUnknown          ErrorKind = "Unknown"
)

// IsAuth reports whether the kind terminates the session.
func (k ErrorKind) IsAuth() bool {
	return k == ErrorKindAuthRequired || k == ErrorKindAuthExpired
}

// ShowsBanner reports whether the kind is displayed as an inline banner
// in addition to a toast.
func (k ErrorKind) ShowsBanner() bool {
	return k == ErrorKindNetworkCorsError || k == ErrorKindNetworkError
}

// Error codes recognized in remote error bodies.
const (
	CodeAuthExpired      = "AUTH_EXPIRED"
	CodeAuthRequired     = "AUTH_REQUIRED"
	CodeNetworkCorsError = "NETWORK_CORS_ERROR"
	CodeNetworkError     = "NETWORK_ERROR"
	CodeTimeout          = "TIMEOUT"
	CodeRateLimit        = "RATE_LIMIT"
)

// Severity is the urgency of a notice.
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)
