// Package pebble provides an embedded core.Backend on cockroachdb/pebble.
//
// Values are stored with Set. Sets are stored as CBOR string lists and
// grown with Merge, so adding members never reads the existing set.
package pebble

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"slices"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"

	"github.com/git-pkgs/ministry/internal/codec"
	"github.com/git-pkgs/ministry/internal/core"
)

func init() {
	core.Register("pebble", func(u *url.URL) (core.Backend, error) {
		dir := u.Host + u.Path
		if dir == "" {
			return nil, fmt.Errorf("pebble backend url %q has no path", u.String())
		}
		return Open(dir)
	})
}

// Backend implements core.Backend on a pebble database.
type Backend struct {
	db *pebble.DB
}

// Option configures Open.
type Option func(*pebble.Options)

// WithFS sets the filesystem pebble writes to, e.g. vfs.NewMem() in tests.
func WithFS(fs vfs.FS) Option {
	return func(o *pebble.Options) {
		o.FS = fs
	}
}

// Open opens or creates the database in dir.
func Open(dir string, opts ...Option) (*Backend, error) {
	o := &pebble.Options{
		Merger: &pebble.Merger{
			Name:  mergerName,
			Merge: mergeSet,
		},
	}
	for _, opt := range opts {
		opt(o)
	}
	db, err := pebble.Open(dir, o)
	if err != nil {
		return nil, fmt.Errorf("opening pebble at %s: %w", dir, err)
	}
	return &Backend{db: db}, nil
}

func (b *Backend) Get(_ context.Context, key string) ([]byte, error) {
	val, closer, err := b.db.Get([]byte(key))
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, core.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	defer closer.Close()
	return slices.Clone(val), nil
}

func (b *Backend) Put(_ context.Context, key string, value []byte) error {
	return b.db.Set([]byte(key), value, pebble.Sync)
}

func (b *Backend) AddMembers(_ context.Context, key string, members ...string) error {
	if len(members) == 0 {
		return nil
	}
	operand, err := codec.Marshal(members)
	if err != nil {
		return err
	}
	return b.db.Merge([]byte(key), operand, pebble.Sync)
}

func (b *Backend) Members(_ context.Context, key string) ([]string, error) {
	val, closer, err := b.db.Get([]byte(key))
	if errors.Is(err, pebble.ErrNotFound) {
		return []string{}, nil
	}
	if err != nil {
		return nil, err
	}
	defer closer.Close()

	var members []string
	if err := codec.Unmarshal(val, &members); err != nil {
		return nil, fmt.Errorf("decoding set %s: %w", key, err)
	}
	return members, nil
}

func (b *Backend) IsMember(ctx context.Context, key, member string) (bool, error) {
	members, err := b.Members(ctx, key)
	if err != nil {
		return false, err
	}
	_, found := slices.BinarySearch(members, member)
	return found, nil
}

// Close flushes and closes the database.
func (b *Backend) Close() error {
	return b.db.Close()
}

// DB returns the underlying database.
func (b *Backend) DB() *pebble.DB {
	return b.db
}
