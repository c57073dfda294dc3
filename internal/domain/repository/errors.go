package repository

import "errors"

var (
	// ErrNotFound is returned by PersistentStore.Get when a key has no value
	// and no cached negative result.
	ErrNotFound = errors.New("key not found")

	// ErrMetaNotFound is returned when MetaService has no metadata for a
	// MediaKey.
	ErrMetaNotFound = errors.New("metadata not found")
)
