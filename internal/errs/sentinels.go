// Package errs contains sentinel errors used across layers for stable error mapping.
package errs

import "errors"

// Common sentinels across client, service and repository layers.
var (
	// ErrNotFound indicates the requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrVersionConflict indicates a conditional write lost against a concurrent one.
	ErrVersionConflict = errors.New("version conflict")

	// ErrUnauthorized indicates failed authentication/authorization.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrRateLimited indicates temporary login lock due to rate limiting.
	ErrRateLimited = errors.New("rate limited")

	// ErrAlreadyExists indicates a unique constraint violation (e.g., email taken).
	ErrAlreadyExists = errors.New("already exists")

	// ErrRejected indicates the server refused a cart mutation (bad quantity, product unavailable, ...).
	ErrRejected = errors.New("rejected by server")

	// ErrInvalidQuantity indicates a quantity below 1; removal goes through RemoveItem instead.
	ErrInvalidQuantity = errors.New("quantity must be at least 1")

	// ErrInvalidInput indicates a request payload that fails validation on the server.
	ErrInvalidInput = errors.New("invalid input")

	// ErrNoIdentity indicates a user-scoped call was attempted without resolvable credentials.
	ErrNoIdentity = errors.New("no authenticated identity")
)
