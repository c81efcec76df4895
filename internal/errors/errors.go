package errors

import (
	"errors"
	"fmt"
)

// Common error types shared by the storage and client layers
var (
	// Storage errors
	ErrNotFound       = errors.New("not found")
	ErrCorruptStorage = errors.New("corrupt session storage")
	ErrEmptyKey       = errors.New("storage key cannot be empty")

	// Configuration errors
	ErrInvalidConfig = errors.New("invalid configuration")

	// General errors
	ErrInternal = errors.New("internal error")
)

// Wrapf wraps an error with context using fmt.Errorf
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf(format+": %w", append(args, err)...)
}

// Is reports whether any error in err's chain matches target
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}

// New is errors.New, re-exported so callers only import one errors package
func New(text string) error {
	return errors.New(text)
}
