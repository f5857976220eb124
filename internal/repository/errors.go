// Package repository defines error types that are reused across multiple
// repositories. These sentinel values allow higher layers such as
// handlers to distinguish between different failure scenarios and map
// them onto the HTTP error taxonomy: ErrNotFound becomes 404,
// ErrConflict becomes 409, and ErrAlreadyFinalized is the idempotency
// signal that lets webhook retries be acknowledged as success.
package repository

import "errors"

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// ErrConflict is returned when an insert or update cannot proceed
// because of existing state, such as a second registration for the
// same (user, session) pair or a duplicate speaker website.
var ErrConflict = errors.New("conflict")

// ErrAlreadyFinalized is returned by Finalize when the registration
// is already paid. Callers treat it as success without re-applying
// side effects, so duplicate provider notifications never decrement
// the seat counter twice.
var ErrAlreadyFinalized = errors.New("registration already finalized")
