// Package content defines the physical storage collaborator of the tree engine.
//
// Content is stored under two roots: the live area, which mirrors each user's
// logical tree path for path, and the recycle area, which holds soft-deleted
// subtrees until they are restored or purged. Paths are slash-separated and
// relative to the area root.
package content

import (
	"context"
	"errors"
	"io"
	"os"
)

// Area selects one of the two physical roots.
type Area int

const (
	// AreaLive holds the content of non-deleted entities
	AreaLive Area = iota

	// AreaRecycle holds recycled subtrees
	AreaRecycle
)

func (a Area) String() string {
	if a == AreaRecycle {
		return "recycle"
	}
	return "live"
}

// ErrExists is returned when a create or rename target is already occupied.
var ErrExists = errors.New("content: target already exists")

// File is an open content file.
//
// ReaderAt is required by the archive exporter to peek at the IV and the
// trailing cipher block without consuming the stream.
type File interface {
	io.Reader
	io.ReaderAt
	io.Seeker
	io.Closer
	Stat() (os.FileInfo, error)
}

// WalkFunc is called for every file and directory under a walk root.
// path is relative to the area root.
type WalkFunc func(path string, info os.FileInfo) error

// ContentStore is the physical filesystem behind the tree engine.
//
// Thread Safety:
// Implementations must be safe for concurrent use. Concurrent writers to the
// same path are prevented one level up by the metadata transaction.
type ContentStore interface {
	// Exists reports whether anything (file or directory) is at path.
	Exists(ctx context.Context, area Area, path string) (bool, error)

	// Mkdir creates path and any missing parents.
	Mkdir(ctx context.Context, area Area, path string) error

	// Write streams r into a new file at path in chunks and returns the
	// number of bytes written. It fails with ErrExists if path is occupied and
	// never leaves a partial file behind on error.
	Write(ctx context.Context, area Area, path string, r io.Reader) (int64, error)

	// Open opens the file at path for reading.
	Open(ctx context.Context, area Area, path string) (File, error)

	// Rename atomically moves a file or directory, possibly across areas.
	// It fails with ErrExists if the target is occupied.
	Rename(ctx context.Context, fromArea Area, from string, toArea Area, to string) error

	// Remove deletes path recursively. A missing path is not an error.
	Remove(ctx context.Context, area Area, path string) error

	// Size returns the total size of the regular files under path.
	Size(ctx context.Context, area Area, path string) (int64, error)

	// Walk visits path and everything beneath it.
	Walk(ctx context.Context, area Area, path string, fn WalkFunc) error
}
