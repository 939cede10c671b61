// Package repository holds the MySQL stores behind the authenticator and
// the rate limiter. The sentinel values below let higher layers tell
// expected outcomes apart from infrastructure failures: ErrNotFound and
// ErrStale are ordinary results, anything else is a store fault.
package repository

import "errors"

// ErrNotFound is returned when the requested row does not exist (or is
// filtered out, e.g. an inactive user looked up by GetActiveByID).
var ErrNotFound = errors.New("not found")

// ErrEmailExists is returned by UserRepo.Create on a unique-key violation
// of users.email.
var ErrEmailExists = errors.New("email already exists")

// ErrStale is returned when a conditional update matched no row because
// another request changed it first, such as two refreshes racing to
// consume the same refresh token.
var ErrStale = errors.New("row changed concurrently")
