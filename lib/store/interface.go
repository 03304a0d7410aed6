package store

import (
	"context"
	"fmt"
	"time"

	"github.com/ValentinKolb/dCall/lib/db"
)

// --------------------------------------------------------------------------
// Interface Definition
// --------------------------------------------------------------------------

// DBFactory is a function type that creates a new db used by the store.
// This is used to abstract the creation of the db from the store implementation.
type DBFactory func() db.KVDB

// IStore is the generic interface for interacting with a shared key–value store.
// All operations return a *Error (nil on success) on failure, except for
// context errors which are returned as is.
//
// A ttl of zero means the entry never expires. Expired entries behave as absent.
type IStore interface {
	// Set inserts or updates a key–value pair.
	Set(ctx context.Context, key string, value []byte) (err error)
	// SetE inserts or updates a key–value pair that expires after ttl.
	SetE(ctx context.Context, key string, value []byte, ttl time.Duration) (err error)
	// SetEIfUnset inserts a key–value pair if the key does not exist.
	// It reports whether the pair was written. An existing key is left untouched.
	SetEIfUnset(ctx context.Context, key string, value []byte, ttl time.Duration) (ok bool, err error)
	// CompareAndSwap replaces the value of an existing key if it currently equals expected.
	// It reports whether the value was replaced. An absent key never matches.
	CompareAndSwap(ctx context.Context, key string, expected, value []byte, ttl time.Duration) (ok bool, err error)
	// Delete deletes a key–value pair.
	Delete(ctx context.Context, key string) (err error)
	// Flush deletes every key–value pair of the store.
	Flush(ctx context.Context) (err error)
	// Get return the value for a key. The boolean return value indicates whether a value for the key was found.
	Get(ctx context.Context, key string) (value []byte, loaded bool, err error)
	// Has returns whether a key exists in the store.
	Has(ctx context.Context, key string) (loaded bool, err error)
	// GetDBInfo returns metadata about the database underlying the store.
	// It is not guaranteed that all fields are filled in or that the information is up-to-date!
	GetDBInfo(ctx context.Context) (info db.DatabaseInfo, err error)
}

// --------------------------------------------------------------------------
// Custom Error Type
// --------------------------------------------------------------------------

// Error is a custom error type that wraps a return code (of type RetCode)
// and an error message.
type Error struct {
	Code RetCode // The return code
	Msg  string  // The error message.
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("store error (code %s): %s", e.Code, e.Msg)
}

// Is matches store errors by code, so errors.Is(err, &Error{Code: RetCUnavailable}) works.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code && (t.Msg == "" || t.Msg == e.Msg)
}

// NewError creates a new store error with the given code and message.
func NewError(code RetCode, msg string) *Error {
	return &Error{
		Code: code,
		Msg:  msg,
	}
}

// Errorf creates a new store error with a formatted message.
func Errorf(code RetCode, format string, args ...any) *Error {
	return NewError(code, fmt.Sprintf(format, args...))
}

// --------------------------------------------------------------------------
// Return Codes
// --------------------------------------------------------------------------

type RetCode uint64

const (
	RetCSuccess              RetCode = iota // 0: Command executed successfully.
	RetCInternalError                       // 1: Command failed due to an internal error.
	RetCUnsupportedOperation                // 2: Operation is not supported by underlying database.
	RetCInvalidOperation                    // 3: Invalid operation.
	RetCUnavailable                         // 4: Store could not be reached or did not answer in time.
)

func (c RetCode) String() string {
	switch c {
	case RetCSuccess:
		return "Success"
	case RetCInternalError:
		return "InternalError"
	case RetCUnsupportedOperation:
		return "UnsupportedOperation"
	case RetCInvalidOperation:
		return "InvalidOperation"
	case RetCUnavailable:
		return "Unavailable"
	default:
		return fmt.Sprintf("Unknown(%d)", uint64(c))
	}
}
