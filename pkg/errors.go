package cache

// errors.go collects the sentinel errors returned by the public surface.
// Per the programming-error/resource-error split, invalid policies and
// nil keys are programming errors: they are returned as typed errors here
// rather than panicking, so library callers can decide how loud their own
// debug builds want to be.
//
// © 2025 objcache authors. MIT License.

import "errors"

var (
	// ErrInvalidPolicy is returned by Policy.validate when a caller mixes
	// absolute and sliding expiration, sets both removal and update
	// callbacks, sets a sliding expiration longer than one year, or uses
	// an out-of-range priority.
	ErrInvalidPolicy = errors.New("objcache: invalid policy")

	// ErrEmptyKey is returned for operations given a zero-length key.
	ErrEmptyKey = errors.New("objcache: key must not be empty")

	// ErrClosed is returned by operations called after Close.
	ErrClosed = errors.New("objcache: cache is closed")

	// ErrAlreadySet is returned when SetMemoryAccountingHook is called a
	// second time; the hook follows a write-once discipline.
	ErrAlreadySet = errors.New("objcache: memory accounting hook already set")
)
