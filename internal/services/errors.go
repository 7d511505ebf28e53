package services

import (
	"errors"
	"fmt"
)

// Kind classifies a failure for the boundary.
type Kind string

const (
	KindValidation   Kind = "VALIDATION"
	KindNotFound     Kind = "NOT_FOUND"
	KindExpired      Kind = "EXPIRED"
	KindUnauthorized Kind = "UNAUTHORIZED"
	KindStorage      Kind = "STORAGE_FAULT"
)

var (
	ErrValidation   = errors.New("validation failed")
	ErrNotFound     = errors.New("file not found")
	ErrExpired      = errors.New("file has expired")
	ErrUnauthorized = errors.New("password required or incorrect")
	ErrStorage      = errors.New("storage failure")

	ErrNoValidFiles  = fmt.Errorf("%w: no valid files uploaded", ErrValidation)
	ErrTooManyFiles  = fmt.Errorf("%w: too many files in one upload", ErrValidation)
	ErrInvalidExpiry = fmt.Errorf("%w: expiresInDays out of range", ErrValidation)
)

// KindOf maps err onto the taxonomy. Anything unrecognised is a storage fault.
func KindOf(err error) Kind {
	switch {
	case errors.Is(err, ErrValidation):
		return KindValidation
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrExpired):
		return KindExpired
	case errors.Is(err, ErrUnauthorized):
		return KindUnauthorized
	default:
		return KindStorage
	}
}

// UnauthorizedError carries what a password prompt needs to show.
type UnauthorizedError struct {
	FileID    string
	Name      string
	Size      int64
	Attempted bool // a password was supplied but did not match
}

func (e *UnauthorizedError) Error() string {
	if e.Attempted {
		return "incorrect password for file " + e.FileID
	}
	return "password required for file " + e.FileID
}

func (e *UnauthorizedError) Is(target error) bool {
	return target == ErrUnauthorized
}

func storageErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrStorage, op, err)
}
