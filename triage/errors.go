package triage

import (
	"fmt"
)

// ConnectionError means the realtime channel was unreachable or timed out.
// Callers degrade to empty or locally persisted state.
type ConnectionError struct {
	Message string
}

func (self *ConnectionError) Error() string {
	return fmt.Sprintf("connection: %s", self.Message)
}

// RequestError means the server answered with a failure envelope.
// It carries the server-supplied message and triggers a rollback of the
// optimistic write that issued the request.
type RequestError struct {
	Message string
}

func (self *RequestError) Error() string {
	return fmt.Sprintf("request: %s", self.Message)
}

// ValidationError means an input record or credential field was malformed.
// The record is dropped; the batch survives.
type ValidationError struct {
	Field   string
	Message string
}

func (self *ValidationError) Error() string {
	if self.Field == "" {
		return self.Message
	}
	return fmt.Sprintf("%s: %s", self.Field, self.Message)
}

// AuthError means the token is expired or rejected. The embedder should
// clear persisted credentials and call Client.SetAuthToken("").
type AuthError struct {
	Message string
}

func (self *AuthError) Error() string {
	return fmt.Sprintf("auth: %s", self.Message)
}
