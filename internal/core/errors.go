package core

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when a package, version or field is not found.
var ErrNotFound = errors.New("not found")

// ErrStorageUnavailable is returned when the backing store cannot be reached
// or rejects a write. Writes already issued before the failure remain.
var ErrStorageUnavailable = errors.New("storage unavailable")

// ErrInvalidIdentity is returned when an ingest lacks a name or version.
var ErrInvalidIdentity = errors.New("package name and version are required")

// NotFoundError wraps ErrNotFound with additional context.
type NotFoundError struct {
	Name    string
	Version string
	Field   string
}

func (e *NotFoundError) Error() string {
	switch {
	case e.Field != "" && e.Version != "":
		return fmt.Sprintf("package %s version %s has no field %s", e.Name, e.Version, e.Field)
	case e.Field != "":
		return fmt.Sprintf("package %s has no field %s", e.Name, e.Field)
	case e.Version != "":
		return fmt.Sprintf("package %s version %s not found", e.Name, e.Version)
	default:
		return fmt.Sprintf("package %s not found", e.Name)
	}
}

func (e *NotFoundError) Unwrap() error {
	return ErrNotFound
}

// UnsupportedPayloadError is returned when an upload declares a filetype the
// index does not recognize. It is raised before anything is written.
type UnsupportedPayloadError struct {
	Filetype string
}

func (e *UnsupportedPayloadError) Error() string {
	return fmt.Sprintf("unsupported filetype %q", e.Filetype)
}

// storageError wraps a backend failure so that it matches
// ErrStorageUnavailable while keeping the original cause.
func storageError(op, key string, err error) error {
	if err == nil || errors.Is(err, ErrNotFound) || errors.Is(err, ErrStorageUnavailable) {
		return err
	}
	StorageErrors.WithLabelValues(op).Inc()
	return fmt.Errorf("%w: %s %s: %w", ErrStorageUnavailable, op, key, err)
}
