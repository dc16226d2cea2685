package domain

import (
	"errors"
	"fmt"
)

var (
	ErrLoadFailed       = errors.New("load failed")
	ErrCancelled        = errors.New("cancelled")
	ErrTimeout          = errors.New("timed out")
	ErrKeyNotFound      = errors.New("key not found")
	ErrAssetNotFound    = errors.New("asset not found")
	ErrInvalidKey       = errors.New("invalid key")
	ErrInstanceNotFound = errors.New("instance not found")
)

// LoadError is returned to every caller waiting on a backend operation that failed.
//
// errors.Is(err, ErrLoadFailed) holds for any LoadError, and the backend cause is
// available through errors.Unwrap.
type LoadError struct {
	Key   Key
	Cause error
}

func (e *LoadError) Error() string {
	if e.Key.IsZero() {
		return fmt.Sprintf("load failed: %v", e.Cause)
	}
	return fmt.Sprintf("load failed for %s: %v", e.Key, e.Cause)
}

func (e *LoadError) Unwrap() error {
	return e.Cause
}

func (e *LoadError) Is(target error) bool {
	return target == ErrLoadFailed
}

func NewLoadError(key Key, cause error) error {
	if cause == nil {
		cause = errors.New("no error provided")
	}
	return &LoadError{Key: key, Cause: cause}
}
