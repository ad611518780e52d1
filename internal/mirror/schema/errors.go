package schema

import (
	"errors"
	"fmt"
)

// Errors returned while translating notifications into metadata mutations.
//
// None of them is fatal: the notification is dropped and the next
// reconciliation sweep corrects whatever drift remains. Check them with
// errors.Is:
//
//	if errors.Is(err, schema.ErrNotFound) {
//	    // the path is not tracked
//	}
var (
	// ErrNotFound is returned when a path does not resolve to any tracked
	// record where one is required (move source, modify target, parent).
	ErrNotFound = errors.New("path is not tracked")

	// ErrInvalidOperation is returned when a notification describes a change
	// the local mirror refuses to apply.
	ErrInvalidOperation = errors.New("invalid operation")

	// ErrTransientSource is returned when a file vanished between the
	// notification and hashing, typically an editor temp file.
	ErrTransientSource = errors.New("file vanished before it could be read")

	// ErrNoUser is returned when the store has no logged-in user.
	ErrNoUser = errors.New("no logged-in user")
)

// Invalid operations surfaced to the user.
var (
	// ErrReservedName rejects any event touching a file or folder named Components.
	ErrReservedName = fmt.Errorf("%w: %q is a reserved name", ErrInvalidOperation, ReservedName)

	// ErrNodeRelocation rejects moving or renaming a project or component folder.
	ErrNodeRelocation = fmt.Errorf("%w: projects and components cannot be moved locally", ErrInvalidOperation)

	// ErrParentIsFile rejects creating or moving an item under a regular file.
	ErrParentIsFile = fmt.Errorf("%w: parent is a file", ErrInvalidOperation)
)

// IsRecoverable returns true for errors that only cost the current event.
// Store failures (I/O, corrupted database) are not recoverable.
func IsRecoverable(err error) bool {
	if err == nil {
		return true
	}
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrInvalidOperation) ||
		errors.Is(err, ErrTransientSource)
}

// IsUserVisible returns true if the error should be shown to the user as an
// alert rather than only logged.
func IsUserVisible(err error) bool {
	return errors.Is(err, ErrInvalidOperation)
}
