package domain

import "errors"

// Store sentinels. Services translate them into AppErrors.
var (
	ErrNotFound = errors.New("record not found")

	// ErrStaleCallState is returned when a conditional transition matched no row
	ErrStaleCallState = errors.New("call state changed concurrently")
)
