// Package archive exports a user's folder subtree as a zip archive.
//
// The subtree is snapshotted in a single metadata read transaction, so the
// archive reflects one consistent view of the tree even while other
// mutations run. File content is then streamed from the live area. When an
// encryption key is configured, each file is decrypted before it is added;
// files that do not decrypt cleanly are exported as stored.
package archive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"time"

	"github.com/google/uuid"
	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/zip"
	"github.com/marmos91/dittodisk/internal/logger"
	"github.com/marmos91/dittodisk/pkg/metrics"
	"github.com/marmos91/dittodisk/pkg/store/content"
	"github.com/marmos91/dittodisk/pkg/store/metadata"
	"github.com/marmos91/dittodisk/pkg/tree"
)

// Config configures an Exporter.
type Config struct {
	// Decrypter, when set, decrypts file content on export.
	Decrypter *Decrypter

	// Level is the deflate level (default: flate.DefaultCompression)
	Level int

	Metrics metrics.ArchiveMetrics
}

// Exporter writes folder snapshots as zip archives.
type Exporter struct {
	store     metadata.MetadataStore
	content   content.ContentStore
	decrypter *Decrypter
	level     int
	metrics   metrics.ArchiveMetrics
}

// NewExporter creates an exporter.
func NewExporter(store metadata.MetadataStore, cs content.ContentStore, cfg Config) (*Exporter, error) {
	level := cfg.Level
	if level == 0 {
		level = flate.DefaultCompression
	}
	if level < flate.HuffmanOnly || level > flate.BestCompression {
		return nil, fmt.Errorf("invalid compression level %d", level)
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.NewNoopArchiveMetrics()
	}
	return &Exporter{
		store:     store,
		content:   cs,
		decrypter: cfg.Decrypter,
		level:     level,
		metrics:   cfg.Metrics,
	}, nil
}

// member is one archive entry taken from the snapshot.
type member struct {
	name   string
	entity *metadata.Entity
}

// snapshot returns the folder and its live subtree in breadth-first order,
// with archive names relative to the folder's parent.
func (x *Exporter) snapshot(ctx context.Context, sess *tree.Session, folderID uuid.UUID) ([]member, error) {
	var out []member
	err := x.store.View(ctx, func(tx metadata.Tx) error {
		top, err := tx.GetEntity(folderID)
		if err != nil {
			return err
		}
		if top.Owner != sess.Username || top.Deleted {
			return metadata.NewError(metadata.ErrNotFound, "folder not found", folderID.String())
		}
		if !top.IsFolder() {
			return metadata.NewError(metadata.ErrNotDirectory, "only folders can be archived", top.Path)
		}

		name := top.Name
		if top.IsRoot() {
			name = sess.Username
		}
		out = append(out, member{name: name, entity: top})

		for i := 0; i < len(out); i++ {
			if !out[i].entity.IsFolder() {
				continue
			}
			children, err := tx.ListChildren(out[i].entity.ID)
			if err != nil {
				return err
			}
			for _, c := range children {
				if c.Deleted {
					continue
				}
				out = append(out, member{name: path.Join(out[i].name, c.Name), entity: c})
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}

// Export writes the folder folderID as a zip archive to w and returns the
// number of bytes written.
func (x *Exporter) Export(ctx context.Context, sess *tree.Session, folderID uuid.UUID, w io.Writer) (int64, error) {
	return x.export(ctx, "stream", sess, folderID, w)
}

func (x *Exporter) export(ctx context.Context, dest string, sess *tree.Session, folderID uuid.UUID, w io.Writer) (n int64, err error) {
	start := time.Now()
	cw := &countingWriter{w: w}
	defer func() {
		x.metrics.ObserveExport(dest, time.Since(start), cw.n, err)
	}()

	members, err := x.snapshot(ctx, sess, folderID)
	if err != nil {
		return 0, err
	}

	zw := zip.NewWriter(cw)
	zw.RegisterCompressor(zip.Deflate, func(out io.Writer) (io.WriteCloser, error) {
		return flate.NewWriter(out, x.level)
	})

	for _, m := range members {
		if err := ctx.Err(); err != nil {
			return cw.n, err
		}
		if err := x.add(ctx, zw, m); err != nil {
			return cw.n, err
		}
	}
	if err := zw.Close(); err != nil {
		return cw.n, fmt.Errorf("failed to finish archive: %w", err)
	}

	logger.Debug("archive: exported %d entries (%d bytes) for %s", len(members), cw.n, sess.Username)
	return cw.n, nil
}

func (x *Exporter) add(ctx context.Context, zw *zip.Writer, m member) error {
	e := m.entity
	if e.IsFolder() {
		_, err := zw.CreateHeader(&zip.FileHeader{
			Name:     m.name + "/",
			Method:   zip.Store,
			Modified: e.UpdatedAt,
		})
		return err
	}

	f, err := x.content.Open(ctx, content.AreaLive, e.Path)
	if err != nil {
		return metadata.NewFatal("archive", e.Path, err)
	}
	defer func() { _ = f.Close() }()

	dst, err := zw.CreateHeader(&zip.FileHeader{
		Name:     m.name,
		Method:   zip.Deflate,
		Modified: e.UpdatedAt,
	})
	if err != nil {
		return err
	}

	if x.decrypter == nil {
		_, err = io.Copy(dst, f)
		return err
	}

	_, err = x.decrypter.DecryptTo(dst, f)
	if errors.Is(err, ErrNotEncrypted) {
		x.metrics.RecordDecryptFallback()
		logger.Debug("archive: %s is not decryptable, exporting raw", e.Path)
		_, err = io.Copy(dst, f)
	}
	if err != nil {
		return fmt.Errorf("failed to export %s: %w", e.Path, err)
	}
	return nil
}
