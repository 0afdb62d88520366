package homeassistant

import (
	"errors"
	"fmt"
)

var (
	// ErrAuthFailed is returned when Home Assistant rejects the access token.
	ErrAuthFailed = errors.New("homeassistant: authentication failed")

	// ErrClosed is returned for calls on a closed or dropped connection.
	ErrClosed = errors.New("homeassistant: connection closed")

	// ErrProtocol is returned for unexpected frames during the handshake.
	ErrProtocol = errors.New("homeassistant: protocol error")

	// ErrTimeout is returned when a command gets no result in time.
	ErrTimeout = errors.New("homeassistant: request timed out")

	// ErrUnknownCommand matches a CommandError for a command the
	// server does not implement (an older Home Assistant).
	ErrUnknownCommand = errors.New("homeassistant: unknown command")
)

// CommandError is an unsuccessful command result.
type CommandError struct {
	Command string
	Code    string
	Message string
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("homeassistant: %s failed: %s: %s", e.Command, e.Code, e.Message)
}

// Is makes errors.Is(err, ErrUnknownCommand) work.
func (e *CommandError) Is(target error) bool {
	return target == ErrUnknownCommand && e.Code == codeUnknownCommand
}
