package service

import (
	"errors"
	"fmt"
)

const NoSessionMessage = "no installation session found"

type ErrSubmission struct {
	error
}

func NewErrSubmission(format string, args ...any) *ErrSubmission {
	return &ErrSubmission{fmt.Errorf(format, args...)}
}

type ErrSpawn struct {
	error
}

func NewErrSpawn(sessionID string, cause error) *ErrSpawn {
	return &ErrSpawn{fmt.Errorf("could not start installation for session %s: %w", sessionID, cause)}
}

func (e *ErrSpawn) Unwrap() error {
	return errors.Unwrap(e.error)
}

type ErrJobInProgress struct {
	error
}

func NewErrJobInProgress(sessionID string) *ErrJobInProgress {
	return &ErrJobInProgress{fmt.Errorf("an installation is already running for session %s", sessionID)}
}

type ErrJobNotFound struct {
	error
}

func NewErrJobNotFound(sessionID string) *ErrJobNotFound {
	return &ErrJobNotFound{fmt.Errorf("%s: %s", NoSessionMessage, sessionID)}
}

type ErrInvalidLogChannel struct {
	error
}

func NewErrInvalidLogChannel(channel string) *ErrInvalidLogChannel {
	return &ErrInvalidLogChannel{fmt.Errorf("unknown log channel %q", channel)}
}
