// Package blobstore persists uploaded distribution files.
package blobstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"strings"
)

// ErrNotFound is returned when a blob does not exist.
//
// Implementations return an error that satisfies errors.Is(err, ErrNotFound).
var ErrNotFound = os.ErrNotExist

// ErrInvalidName is returned for blob names that are empty, absolute or
// that would escape the store's root.
var ErrInvalidName = errors.New("invalid blob name")

// Store persists distribution files under "<package>/<filename>" names.
type Store interface {
	// Put writes a blob, replacing any earlier content.
	Put(ctx context.Context, name string, data []byte) error

	// Open returns a reader over a blob and its size.
	Open(ctx context.Context, name string) (io.ReadCloser, int64, error)
}

// IOError reports a failed write after the directory was created and the
// write retried.
type IOError struct {
	Op   string
	Name string
	Err  error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Name, e.Err)
}

func (e *IOError) Unwrap() error {
	return e.Err
}

// Key returns the blob name of a package file.
func Key(pkg, filename string) string {
	return pkg + "/" + filename
}

// ValidName checks that name is a relative slash-separated path that stays
// inside the store.
func ValidName(name string) error {
	if name == "" || strings.HasPrefix(name, "/") || strings.Contains(name, "\\") {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	clean := path.Clean(name)
	if clean != name || clean == "." || clean == ".." || strings.HasPrefix(clean, "../") {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}
