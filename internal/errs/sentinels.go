// Package errs contains sentinel errors used across layers for stable error mapping.
package errs

import "errors"

// Common sentinels across repo/service layers.
var (
	// ErrNotFound indicates the requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidInput indicates a malformed request rejected before any state was touched.
	ErrInvalidInput = errors.New("invalid input")

	// ErrAlreadyCompleted indicates the challenge already reached the completed state
	// (or a concurrent submission won the terminal transition).
	ErrAlreadyCompleted = errors.New("challenge already completed")

	// ErrAlreadyFailed indicates the challenge was already submitted and failed.
	ErrAlreadyFailed = errors.New("challenge already failed")

	// ErrExpired indicates the challenge time limit has passed.
	ErrExpired = errors.New("challenge expired")

	// ErrStateConflict indicates a conditional update lost against the current row state.
	ErrStateConflict = errors.New("state conflict")

	// ErrStepOrder indicates a tool-use step was attempted before its predecessor was satisfied,
	// or after it was itself satisfied.
	ErrStepOrder = errors.New("tool-use step out of order")

	// ErrUnauthorized indicates failed authentication of a relying party.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrRateLimited indicates a rate-limit gate denied the request.
	ErrRateLimited = errors.New("rate limited")

	// ErrQuotaExceeded indicates the platform used up its monthly verification quota.
	ErrQuotaExceeded = errors.New("quota exceeded")

	// ErrAlreadyExists indicates a unique constraint violation (e.g., API key hash taken).
	ErrAlreadyExists = errors.New("already exists")
)
