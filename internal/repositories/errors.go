package repositories

import (
	"errors"
	"fmt"
)

// StoreError is the RepositoryError used by the memory and redis backends.
type StoreError struct {
	Op          string
	Key         string
	Err         error
	notFound    bool
	unavailable bool
}

// NewNotFoundError reports a missing key.
func NewNotFoundError(op, key string) *StoreError {
	return &StoreError{Op: op, Key: key, Err: errors.New("not found"), notFound: true}
}

// NewUnavailableError reports a backend failure.
func NewUnavailableError(op, key string, err error) *StoreError {
	return &StoreError{Op: op, Key: key, Err: err, unavailable: true}
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Key, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

func (e *StoreError) IsNotFound() bool { return e != nil && e.notFound }

func (e *StoreError) IsConflict() bool { return false }

func (e *StoreError) IsUnavailable() bool { return e != nil && e.unavailable }

// IsNotFound reports whether err is a RepositoryError for a missing record.
func IsNotFound(err error) bool {
	var repoErr RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsNotFound()
}
