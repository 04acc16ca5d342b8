package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrMissingData reports a 2xx response without the expected data payload.
var ErrMissingData = errors.New("response has no data")

// RequestError is the single failure shape of the backend client.
type RequestError struct {
	// Op names the client operation, e.g. "list conversations".
	Op string
	// StatusCode is 0 when the request never produced a response.
	StatusCode int
	// Message is the server's message field, suitable for showing to the
	// user. Empty when the server gave none.
	Message string
	Err     error
}

func (e *RequestError) Error() string {
	var b strings.Builder
	b.WriteString(e.Op)
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, ": status %d", e.StatusCode)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

func (e *RequestError) Unwrap() error {
	return e.Err
}

// UserMessage returns the server's message for err, or fallback when there is
// none.
func UserMessage(err error, fallback string) string {
	var reqErr *RequestError
	if errors.As(err, &reqErr) && reqErr.Message != "" {
		return reqErr.Message
	}
	return fallback
}

// IsUnauthorized reports whether err is a 401 from the backend.
func IsUnauthorized(err error) bool {
	var reqErr *RequestError
	return errors.As(err, &reqErr) && reqErr.StatusCode == http.StatusUnauthorized
}

// IsNotFound reports whether err is a 404 from the backend.
func IsNotFound(err error) bool {
	var reqErr *RequestError
	return errors.As(err, &reqErr) && reqErr.StatusCode == http.StatusNotFound
}
