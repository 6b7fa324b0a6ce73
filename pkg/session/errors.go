package session

import (
	"errors"

	"github.com/harun/olmchat/pkg/naming"
)

var (
	// ErrValidation is returned for malformed input (missing timestamp, bad role, empty messages).
	ErrValidation = errors.New("invalid session")

	// ErrNotFound is returned when a session file is missing, unreadable or unparsable.
	ErrNotFound = errors.New("session not found")

	// ErrPersistence is returned when writing or listing the storage directory fails.
	ErrPersistence = errors.New("session persistence failed")

	// ErrNameResolutionExhausted is returned when no free file name was found within the retry bound.
	ErrNameResolutionExhausted = naming.ErrExhausted
)
