package nextengine

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNoTokens means no token pair has ever been stored; the app has to go
// through the OAuth flow (or setup-tokens) first.
var ErrNoTokens = errors.New("nextengine: no tokens stored, authenticate first")

// ErrorKind classifies an application-level error response.
type ErrorKind int

const (
	// ErrorKindAPI is any non-success response with no special handling.
	ErrorKindAPI ErrorKind = iota
	// ErrorKindToken marks an invalid/expired access token; the client
	// recovers with one refresh-and-retry.
	ErrorKindToken
	// ErrorKindRateLimit marks a payload-size/rate rejection on bulk
	// uploads; the sync engine retries these with backoff.
	ErrorKindRateLimit
)

// NextEngine signals a dead access token either with this code or with a
// message naming the token parameter.
const codeInvalidToken = "002004"

// Bulk upload rejections for oversized/too-frequent payloads.
const codeUploadLimit = "003001"

// ClassifyAPIError maps a raw upstream code/message to an ErrorKind. The
// substring checks mirror what the upstream actually sends; keeping them in
// one place is what makes the retry decisions testable.
func ClassifyAPIError(code, message string) ErrorKind {
	if code == codeInvalidToken ||
		strings.Contains(message, "access_token") ||
		strings.Contains(message, "が不正です") {
		return ErrorKindToken
	}
	if code == codeUploadLimit ||
		strings.Contains(message, "しばらく時間をおいて") ||
		strings.Contains(message, "上限を超えて") {
		return ErrorKindRateLimit
	}
	return ErrorKindAPI
}

// APIError is a non-success application response from NextEngine.
type APIError struct {
	Code    string
	Message string
	Kind    ErrorKind
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("nextengine: api error %s: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("nextengine: api error: %s", e.Message)
}

// TokenRefreshError means the token endpoint rejected the refresh or
// returned an incomplete pair. Fatal for the current call chain.
type TokenRefreshError struct {
	Status string
	Reason string
}

func (e *TokenRefreshError) Error() string {
	if e.Status != "" {
		return fmt.Sprintf("nextengine: token refresh failed (%s): %s", e.Status, e.Reason)
	}
	return fmt.Sprintf("nextengine: token refresh failed: %s", e.Reason)
}

// IsRetryableUpload reports whether err is a bulk-upload rejection worth
// retrying with backoff.
func IsRetryableUpload(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Kind == ErrorKindRateLimit
}
