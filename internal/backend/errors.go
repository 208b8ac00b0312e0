package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

var (
	ErrUnauthorized = errors.New("backend: unauthorized")
	ErrNotFound     = errors.New("backend: not found")
	ErrDecode       = errors.New("backend: decode response")
)

// APIError is a non-2xx answer from the MyMove backend.
type APIError struct {
	Status    int
	Code      string
	Message   string
	Method    string
	Path      string
	RequestID string
}

func (e *APIError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = http.StatusText(e.Status)
	}
	return fmt.Sprintf("backend %s %s: %d %s", e.Method, e.Path, e.Status, msg)
}

// UserMessage is the server's human-readable message, shown to the customer.
func (e *APIError) UserMessage() string {
	return e.Message
}

// Is maps 401 and 404 onto the package sentinels.
func (e *APIError) Is(target error) bool {
	switch target {
	case ErrUnauthorized:
		return e.Status == http.StatusUnauthorized
	case ErrNotFound:
		return e.Status == http.StatusNotFound
	}
	return false
}

type errorBody struct {
	Status    int    `json:"status"`
	Error     string `json:"error"`
	Message   string `json:"message"`
	Path      string `json:"path"`
	RequestID string `json:"requestId"`
}

func newAPIError(req *http.Request, status int, body []byte) *APIError {
	apiErr := &APIError{
		Status: status,
		Method: req.Method,
		Path:   req.URL.Path,
	}
	var parsed errorBody
	if err := json.Unmarshal(body, &parsed); err == nil {
		apiErr.Code = parsed.Error
		apiErr.Message = strings.TrimSpace(parsed.Message)
		apiErr.RequestID = parsed.RequestID
	}
	return apiErr
}

// retryable reports whether a GET may be repeated after err.
func retryable(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Status >= 500
	}
	if errors.Is(err, ErrDecode) {
		return false
	}
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}
