package collaboration

import (
	"errors"
	"fmt"
)

// MessageConnectionFailed is stored in SessionState.Error when a session
// could not be set up. The user has to reopen the document.
const MessageConnectionFailed = "Could not connect to the collaboration server. Please reload the document to try again."

// MessageConnectionLost is shown once when the server drops a session while
// the network is up.
const MessageConnectionLost = "Connection to the collaboration server was lost. Trying to reconnect…"

var (
	ErrReadOnly        = errors.New("document is read-only")
	ErrEmptyDocumentID = errors.New("document id is required")
	ErrMalformedFrame  = errors.New("malformed frame")

	errNoValidator     = errors.New("no token validator configured")
	errEmptyValidation = errors.New("empty token validation response")
)

func panicError(p interface{}) error {
	if err, ok := p.(error); ok {
		return fmt.Errorf("panic: %w", err)
	}
	return fmt.Errorf("panic: %v", p)
}
