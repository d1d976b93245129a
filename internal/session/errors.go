package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrUnauthorized   = errors.New("session: unauthorized")
	ErrNoRefreshToken = errors.New("session: no refresh token available")
	ErrSessionExpired = errors.New("session: expired")
)

// ResponseError is returned for any non-2xx response.
type ResponseError struct {
	StatusCode int
	Message    string
	Body       []byte
}

func (e *ResponseError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("request failed with status %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("request failed with status %d", e.StatusCode)
}

// Is matches ErrUnauthorized for 401 responses.
func (e *ResponseError) Is(target error) bool {
	return target == ErrUnauthorized && e.StatusCode == http.StatusUnauthorized
}

func newResponseError(status int, body []byte) *ResponseError {
	var payload struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	_ = json.Unmarshal(body, &payload)
	msg := payload.Error
	if msg == "" {
		msg = payload.Message
	}
	return &ResponseError{StatusCode: status, Message: msg, Body: body}
}
