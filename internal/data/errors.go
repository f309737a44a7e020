package data

import (
	"errors" // Sentinel errors
	"fmt"    // Error wrapping
)

// Hard failures. "Not found" on the targeted entity is never an error: lookups
// return nil and deletes return false.
var (
	// ErrNotInitialized is returned by every operation before Connect succeeds.
	ErrNotInitialized = errors.New("store not initialized")

	// ErrConnectionFailure wraps the driver error of a failed Connect.
	ErrConnectionFailure = errors.New("database connection failed")

	// ErrReferenceNotFound is returned when a user id referenced by a message
	// draft or a contact does not resolve.
	ErrReferenceNotFound = errors.New("referenced user not found")

	// ErrWriteFailure is returned when an insert is not confirmed.
	ErrWriteFailure = errors.New("write not confirmed")

	// ErrDuplicateUser is always joined with ErrWriteFailure.
	ErrDuplicateUser = errors.New("user with this id or email already exists")
)

func referenceError(role, id string) error {
	return fmt.Errorf("%w: %s user %q", ErrReferenceNotFound, role, id)
}
