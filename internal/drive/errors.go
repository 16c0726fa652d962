package drive

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound means the object vanished between listing and acting on it.
	// Callers treat it as a delete and re-derive on the next pass.
	ErrNotFound = errors.New("drive: not found")

	// ErrUnavailable is a transient transport or server failure. It has
	// already been retried with backoff by the time callers see it.
	ErrUnavailable = errors.New("drive: unavailable")
)

const (
	CodeInvalidRequest = "E_INVALID_REQUEST" // bad or invalid request
	CodeNotFound       = "E_NOT_FOUND"       // the object does not exist
	CodeAccessDenied   = "E_ACCESS_DENIED"   // access denied
	CodeRateLimited    = "E_RATE_LIMITED"    // rate limit exceeded
	CodeInternalError  = "E_INTERNAL_ERROR"  // internal server error
	CodeUnknownError   = "E_UNKNOWN_ERR"     // unknown error
)

// APIError is the error body returned by the drive API.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"error"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: %s - %s", e.Code, e.Message)
}
