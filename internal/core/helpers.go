package core

import (
	"context"
	"errors"
	"sync"
	"time"
)

const defaultConcurrency = 15

// Ref names one version of a package. An empty Version means latest.
type Ref struct {
	Name    string
	Version string
}

// BulkGetMetadata loads many versions in parallel.
// Individual lookup errors are silently ignored - those refs are omitted from results.
func (s *Store) BulkGetMetadata(ctx context.Context, refs []Ref) map[Ref]*Version {
	results := make(map[Ref]*Version)
	var mu sync.Mutex
	sem := make(chan struct{}, s.concurrency)
	var wg sync.WaitGroup

	for _, ref := range refs {
		wg.Add(1)
		go func(r Ref) {
			defer wg.Done()

			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				return
			}

			v, err := s.GetMetadata(ctx, r.Name, r.Version)
			if err == nil && v != nil {
				mu.Lock()
				results[r] = v
				mu.Unlock()
			}
		}(ref)
	}

	wg.Wait()
	return results
}

// ReindexStats summarizes a Reindex run.
type ReindexStats struct {
	Packages int
	Versions int
	Failed   int
}

// Reindex rebuilds every derived index from the stored records. Entries are
// only added, so stale associations from overwritten records survive. The
// latest pointers and file descriptors are not derived and stay as they
// are. A
// version whose record cannot be read is counted as failed and skipped;
// storage failures abort the run.
func (s *Store) Reindex(ctx context.Context) (ReindexStats, error) {
	start := time.Now()
	defer func() { ReindexDuration.Observe(time.Since(start).Seconds()) }()

	var stats ReindexStats
	names, err := s.Packages(ctx)
	if err != nil {
		return stats, err
	}

	var (
		mu       sync.Mutex
		firstErr error
		wg       sync.WaitGroup
	)
	sem := make(chan struct{}, s.concurrency)

packages:
	for _, name := range names {
		key := Key{Name: name}
		versions, err := s.backend.Members(ctx, key.VersionsKey())
		if err != nil {
			mu.Lock()
			firstErr = storageError("members", key.VersionsKey(), err)
			mu.Unlock()
			break packages
		}
		mu.Lock()
		stats.Packages++
		mu.Unlock()

		for _, version := range versions {
			wg.Add(1)
			go func(version string) {
				defer wg.Done()

				select {
				case sem <- struct{}{}:
					defer func() { <-sem }()
				case <-ctx.Done():
					return
				}

				err := s.reindexVersion(ctx, key, version)

				mu.Lock()
				defer mu.Unlock()
				switch {
				case err == nil:
					stats.Versions++
				case errors.Is(err, ErrStorageUnavailable):
					if firstErr == nil {
						firstErr = err
					}
				default:
					stats.Failed++
					s.logger.Warn("skipping version during reindex", "name", key.Name, "version", version, "error", err)
				}
			}(version)
		}
	}

	wg.Wait()
	if firstErr != nil {
		return stats, firstErr
	}
	if err := ctx.Err(); err != nil {
		return stats, err
	}
	s.logger.Info("reindex complete", "packages", stats.Packages, "versions", stats.Versions, "failed", stats.Failed)
	return stats, nil
}

func (s *Store) reindexVersion(ctx context.Context, key Key, version string) error {
	v, err := s.load(ctx, key, version)
	if err != nil {
		return err
	}
	var file *File
	if raw := v.Fields.Get(FieldFiletype); raw != "" {
		ft, err := ParseFiletype(raw)
		if err != nil {
			return err
		}
		file = &File{Filetype: ft, Filename: v.Fields.Get(FieldFilename)}
	}
	if err := s.indexVersion(ctx, key, version, file); err != nil {
		return err
	}
	return s.indexFields(ctx, key, v.Fields)
}
