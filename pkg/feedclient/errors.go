package feedclient

import (
	"errors"
	"fmt"

	"github.com/YaganovValera/feedbridge/pkg/envelope"
)

var (
	// ErrValidation covers malformed inbound pushes and unknown event names.
	ErrValidation = envelope.ErrValidation
	// ErrConfiguration is returned before any network call when the client
	// lacks something the operation needs (secret, service URL).
	ErrConfiguration = errors.New("feedclient: configuration error")
	// ErrRegistration matches non-200 answers to PUT/DELETE /register.
	ErrRegistration = errors.New("feedclient: registration failed")
	// ErrCommand matches non-200 answers to start/stop/restart.
	ErrCommand = errors.New("feedclient: command failed")
)

// StatusError is a non-200 answer from the feed server. It unwraps to
// ErrRegistration or ErrCommand.
type StatusError struct {
	Op     string
	Method string
	URI    string // token redacted
	Code   int
	Body   string

	kind error
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s: unexpected status %d: %s", e.Method, e.URI, e.Code, e.Body)
}

func (e *StatusError) Unwrap() error { return e.kind }
