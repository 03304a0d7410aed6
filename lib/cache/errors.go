package cache

import "errors"

var (
	// ErrConflict is returned by Put when the distributed version is ahead of
	// the local one: another party changed the key and this instance has not
	// seen it yet. Get the key first to adopt the newer version.
	ErrConflict = errors.New("cache: distributed version is ahead of local version")

	// ErrCASExhausted is returned by Put when every compare-and-swap attempt on
	// the version marker lost against a concurrent writer.
	ErrCASExhausted = errors.New("cache: compare-and-swap attempts exhausted")

	// ErrTransport wraps failures of the distributed store.
	ErrTransport = errors.New("cache: distributed store error")

	// ErrInvalidVersion is returned when a version marker does not hold a
	// decimal version.
	ErrInvalidVersion = errors.New("cache: invalid version marker")
)
