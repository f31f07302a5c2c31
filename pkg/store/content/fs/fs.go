// Package fs implements filesystem-based content storage for DittoDisk.
//
// Each area is an afero.BasePathFs rooted at its configured directory, which
// confines every relative path to that root. Cross-area renames resolve both
// sides to real paths and rename on the shared base filesystem, so both roots
// must live on the same volume for the rename to stay atomic.
package fs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/marmos91/dittodisk/pkg/store/content"
	"github.com/spf13/afero"
)

const (
	defaultChunkSize = 64 * 1024
	dirPerm          = 0755
	filePerm         = 0644
)

// Config configures the filesystem content store.
type Config struct {
	// LiveRoot is the directory holding live content
	LiveRoot string `mapstructure:"live_root"`

	// RecycleRoot is the directory holding recycled content
	RecycleRoot string `mapstructure:"recycle_root"`

	// ChunkSize is the copy buffer size for streamed writes (default: 64KB)
	ChunkSize int `mapstructure:"chunk_size"`
}

// FSContentStore implements content.ContentStore on an afero filesystem.
//
// Thread Safety:
// The underlying filesystem operations are thread-safe at the OS level.
type FSContentStore struct {
	base      afero.Fs
	areas     map[content.Area]*afero.BasePathFs
	roots     map[content.Area]string
	chunkSize int
}

var _ content.ContentStore = (*FSContentStore)(nil)

// NewFSContentStore creates a content store on the host filesystem.
//
// Both root directories are created with permissions 0755 if missing.
//
// Parameters:
//   - ctx: Context for cancellation
//   - cfg: Area roots and tuning
//
// Returns:
//   - *FSContentStore: Initialized store
//   - error: If a root is missing from cfg or cannot be created
func NewFSContentStore(ctx context.Context, cfg Config) (*FSContentStore, error) {
	return NewFSContentStoreWithFs(ctx, afero.NewOsFs(), cfg)
}

// NewFSContentStoreWithFs creates a content store on an arbitrary afero base.
func NewFSContentStoreWithFs(ctx context.Context, base afero.Fs, cfg Config) (*FSContentStore, error) {
	// ========================================================================
	// Step 1: Check context and configuration
	// ========================================================================

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if cfg.LiveRoot == "" || cfg.RecycleRoot == "" {
		return nil, fmt.Errorf("live_root and recycle_root are required")
	}

	liveRoot := filepath.Clean(cfg.LiveRoot)
	recycleRoot := filepath.Clean(cfg.RecycleRoot)
	if liveRoot == recycleRoot {
		return nil, fmt.Errorf("live_root and recycle_root must differ")
	}

	// ========================================================================
	// Step 2: Create the root directories if they don't exist
	// ========================================================================

	for _, root := range []string{liveRoot, recycleRoot} {
		if err := base.MkdirAll(root, dirPerm); err != nil {
			return nil, fmt.Errorf("failed to create content root %s: %w", root, err)
		}
	}

	chunk := cfg.ChunkSize
	if chunk <= 0 {
		chunk = defaultChunkSize
	}

	return &FSContentStore{
		base: base,
		areas: map[content.Area]*afero.BasePathFs{
			content.AreaLive:    afero.NewBasePathFs(base, liveRoot).(*afero.BasePathFs),
			content.AreaRecycle: afero.NewBasePathFs(base, recycleRoot).(*afero.BasePathFs),
		},
		roots: map[content.Area]string{
			content.AreaLive:    liveRoot,
			content.AreaRecycle: recycleRoot,
		},
		chunkSize: chunk,
	}, nil
}

// Root returns the directory backing area.
func (s *FSContentStore) Root(area content.Area) string {
	return s.roots[area]
}

// fsFor returns the area filesystem and the cleaned relative path.
func (s *FSContentStore) fsFor(area content.Area, path string) (*afero.BasePathFs, string, error) {
	fs, ok := s.areas[area]
	if !ok {
		return nil, "", fmt.Errorf("unknown content area %d", area)
	}
	clean := filepath.Clean("/" + filepath.FromSlash(path))
	return fs, clean, nil
}

func (s *FSContentStore) Exists(ctx context.Context, area content.Area, path string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	fs, p, err := s.fsFor(area, path)
	if err != nil {
		return false, err
	}
	return afero.Exists(fs, p)
}

func (s *FSContentStore) Mkdir(ctx context.Context, area content.Area, path string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	fs, p, err := s.fsFor(area, path)
	if err != nil {
		return err
	}
	if err := fs.MkdirAll(p, dirPerm); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", path, err)
	}
	return nil
}

// Write streams r into a new file, chunkSize bytes at a time.
func (s *FSContentStore) Write(ctx context.Context, area content.Area, path string, r io.Reader) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	fs, p, err := s.fsFor(area, path)
	if err != nil {
		return 0, err
	}

	f, err := fs.OpenFile(p, os.O_CREATE|os.O_EXCL|os.O_WRONLY, filePerm)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return 0, fmt.Errorf("%s: %w", path, content.ErrExists)
		}
		return 0, fmt.Errorf("failed to create %s: %w", path, err)
	}

	buf := make([]byte, s.chunkSize)
	n, copyErr := io.CopyBuffer(f, &ctxReader{ctx: ctx, r: r}, buf)
	closeErr := f.Close()

	if copyErr != nil || closeErr != nil {
		_ = fs.Remove(p)
		if copyErr != nil {
			return n, fmt.Errorf("failed to write %s: %w", path, copyErr)
		}
		return n, fmt.Errorf("failed to close %s: %w", path, closeErr)
	}
	return n, nil
}

func (s *FSContentStore) Open(ctx context.Context, area content.Area, path string) (content.File, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	fs, p, err := s.fsFor(area, path)
	if err != nil {
		return nil, err
	}
	f, err := fs.Open(p)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	return f, nil
}

// Rename resolves both sides to real paths and renames on the base filesystem.
func (s *FSContentStore) Rename(ctx context.Context, fromArea content.Area, from string, toArea content.Area, to string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	fromFs, fromPath, err := s.fsFor(fromArea, from)
	if err != nil {
		return err
	}
	toFs, toPath, err := s.fsFor(toArea, to)
	if err != nil {
		return err
	}

	realFrom, err := fromFs.RealPath(fromPath)
	if err != nil {
		return fmt.Errorf("invalid source %s: %w", from, err)
	}
	realTo, err := toFs.RealPath(toPath)
	if err != nil {
		return fmt.Errorf("invalid target %s: %w", to, err)
	}

	exists, err := afero.Exists(s.base, realTo)
	if err != nil {
		return err
	}
	if exists {
		return fmt.Errorf("%s: %w", to, content.ErrExists)
	}

	if err := s.base.Rename(realFrom, realTo); err != nil {
		return fmt.Errorf("failed to rename %s/%s to %s/%s: %w", fromArea, from, toArea, to, err)
	}
	return nil
}

func (s *FSContentStore) Remove(ctx context.Context, area content.Area, path string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	fs, p, err := s.fsFor(area, path)
	if err != nil {
		return err
	}
	if p == string(filepath.Separator) {
		return fmt.Errorf("refusing to remove %s area root", area)
	}
	if err := fs.RemoveAll(p); err != nil {
		return fmt.Errorf("failed to remove %s: %w", path, err)
	}
	return nil
}

func (s *FSContentStore) Size(ctx context.Context, area content.Area, path string) (int64, error) {
	var total int64
	err := s.Walk(ctx, area, path, func(_ string, info os.FileInfo) error {
		if info.Mode().IsRegular() {
			total += info.Size()
		}
		return nil
	})
	return total, err
}

func (s *FSContentStore) Walk(ctx context.Context, area content.Area, path string, fn content.WalkFunc) error {
	fs, p, err := s.fsFor(area, path)
	if err != nil {
		return err
	}
	return afero.Walk(fs, p, func(walked string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		rel := strings.TrimPrefix(filepath.ToSlash(walked), "/")
		return fn(rel, info)
	})
}

// ctxReader stops a streamed copy once ctx is done.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
