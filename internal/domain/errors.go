package domain

import (
	"errors"
	"fmt"
)

// ErrModelUnavailable reports that the enrichment model cannot be loaded.
// Callers downgrade to local-only analysis instead of failing.
var ErrModelUnavailable = errors.New("analysis model unavailable")

// FetchError marks a page or asset that could not be retrieved.
type FetchError struct {
	URL    string
	Status int // zero when the request never completed
	Err    error
}

func (e *FetchError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("fetch %s: status %d", e.URL, e.Status)
	}
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// StorageError marks an object-storage failure: missing credentials or a
// rejected upload.
type StorageError struct {
	Op  string
	Key string
	Err error
}

func (e *StorageError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("storage %s %s: %v", e.Op, e.Key, e.Err)
	}
	return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }
