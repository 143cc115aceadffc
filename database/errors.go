package database

import (
	"errors"
	"fmt"
)

var (
	// ErrUpgradeDeclined means the caller's confirmation callback
	// refused the schema upgrade; nothing was modified.
	ErrUpgradeDeclined = errors.New("database schema upgrade declined")

	// ErrPoolClosed is returned by Take after the pool is disposed.
	ErrPoolClosed = errors.New("connection pool is closed")
)

// InvalidVersionError means the version marker exists but cannot be
// interpreted. The file is not opened.
type InvalidVersionError struct {
	Marker string
}

func (e *InvalidVersionError) Error() string {
	return fmt.Sprintf("database has an invalid version marker %q", e.Marker)
}

// TooNewError means the file was written by a newer release. Forward
// compatibility is refused, never guessed at.
type TooNewError struct {
	Version int
}

func (e *TooNewError) Error() string {
	return fmt.Sprintf("database version %d is newer than the latest supported version %d", e.Version, SchemaVersion)
}
