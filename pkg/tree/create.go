package tree

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/marmos91/dittodisk/internal/logger"
	"github.com/marmos91/dittodisk/pkg/store/content"
	"github.com/marmos91/dittodisk/pkg/store/metadata"
)

// UploadItem is one file of a folder upload.
type UploadItem struct {
	// RelPath is the slash-separated path of the file below the uploaded
	// folder, e.g. "src/main.go".
	RelPath string

	// Size is the declared size in bytes.
	Size int64

	// Body supplies the bytes. It is consumed once, in chunks.
	Body io.Reader
}

func (m *Mutator) newEntity(sess *Session, parent *metadata.Entity, name, path string, typ metadata.FileType) *metadata.Entity {
	now := m.now()
	e := &metadata.Entity{
		ID:        uuid.New(),
		Name:      name,
		Type:      typ,
		Path:      path,
		ParentID:  parent.ID,
		Owner:     sess.Username,
		CreatedAt: now,
		UpdatedAt: now,
		CreatedBy: sess.Username,
		UpdatedBy: sess.Username,
	}
	if typ == metadata.FileTypeFile {
		e.Suffix = metadata.SuffixOf(name)
	}
	return e
}

// CreateFolder creates an empty folder named name under parentID.
func (m *Mutator) CreateFolder(ctx context.Context, sess *Session, parentID uuid.UUID, name string) (*metadata.Entity, error) {
	var folder *metadata.Entity
	err := m.update(ctx, sess.Username, "create_folder", func(tx metadata.Tx, p *plan) error {
		parent, err := loadFolder(tx, sess, parentID)
		if err != nil {
			return err
		}
		path, err := m.alloc.Admit(ctx, tx, parent, name)
		if err != nil {
			return err
		}

		folder = m.newEntity(sess, parent, name, path, metadata.FileTypeFolder)
		if err := tx.PutEntity(folder); err != nil {
			return err
		}

		p.add("mkdir "+path,
			func(ctx context.Context) error { return m.content.Mkdir(ctx, content.AreaLive, path) },
			func(ctx context.Context) error { return m.content.Remove(ctx, content.AreaLive, path) })
		return nil
	})
	if err != nil {
		return nil, err
	}

	logger.Debug("tree: %s created folder %s", sess.Username, folder.Path)
	return folder, nil
}

// Upload stores body as a new file named name under parentID.
//
// size is checked against the quota before anything is written and must
// match the number of bytes body yields. The body is streamed to a staging
// file first; the transaction only renames it into place.
func (m *Mutator) Upload(ctx context.Context, sess *Session, parentID uuid.UUID, name string, size int64, body io.Reader) (*metadata.Entity, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}
	if err := m.admitQuota(sess, size); err != nil {
		return nil, err
	}
	if err := m.precheck(ctx, sess, parentID, name); err != nil {
		return nil, err
	}

	start := time.Now()
	staged, err := m.stage(ctx, stagingPath(), name, size, body)
	defer m.unstage(ctx, staged)
	if err != nil {
		err = stageError("upload", staged, err)
		m.record("upload", start, err)
		return nil, err
	}

	var file *metadata.Entity
	err = m.update(ctx, sess.Username, "upload", func(tx metadata.Tx, p *plan) error {
		parent, err := loadFolder(tx, sess, parentID)
		if err != nil {
			return err
		}
		path, err := m.alloc.Admit(ctx, tx, parent, name)
		if err != nil {
			return err
		}

		file = m.newEntity(sess, parent, name, path, metadata.FileTypeFile)
		file.Size = size
		if err := tx.PutEntity(file); err != nil {
			return err
		}

		chain, err := Ancestors(tx, parent.ID)
		if err != nil {
			return err
		}
		delta := NewSizeDelta()
		delta.Add(chain, size, IncludeRoot)
		if err := delta.Apply(tx, sess.Username, m.now()); err != nil {
			return err
		}

		m.addPlace(p, staged, path)
		return nil
	})
	if err != nil {
		return nil, err
	}

	sess.AddUsed(size)
	m.metrics.RecordBytesWritten(size)
	logger.Debug("tree: %s uploaded %s (%d bytes)", sess.Username, file.Path, size)
	return file, nil
}

func (m *Mutator) admitQuota(sess *Session, incoming int64) error {
	err := m.guard.Admit(sess, incoming)
	if metadata.IsCode(err, metadata.ErrQuotaExceeded) {
		m.metrics.RecordQuotaRejection()
	}
	return err
}

// precheck rejects an upload whose target is already unusable before any
// byte is staged. The transaction checks again.
func (m *Mutator) precheck(ctx context.Context, sess *Session, parentID uuid.UUID, name string) error {
	return m.store.View(ctx, func(tx metadata.Tx) error {
		parent, err := loadFolder(tx, sess, parentID)
		if err != nil {
			return err
		}
		_, err = m.alloc.Admit(ctx, tx, parent, name)
		return err
	})
}

// addPlace adds the step moving a staged body to its live path.
func (m *Mutator) addPlace(p *plan, staged, path string) {
	p.add("write "+path,
		func(ctx context.Context) error {
			return m.content.Rename(ctx, content.AreaLive, staged, content.AreaLive, path)
		},
		func(ctx context.Context) error {
			return m.content.Rename(ctx, content.AreaLive, path, content.AreaLive, staged)
		})
}

// stage streams body to path in the live staging area and insists on
// exactly size bytes. label names the upload in errors.
func (m *Mutator) stage(ctx context.Context, path, label string, size int64, body io.Reader) (string, error) {
	if err := m.content.Mkdir(ctx, content.AreaLive, parentOf(path)); err != nil {
		return path, err
	}
	if body == nil {
		body = strings.NewReader("")
	}
	n, err := m.content.Write(ctx, content.AreaLive, path, io.LimitReader(body, size+1))
	if err != nil {
		return path, err
	}
	if n != size {
		return path, metadata.NewError(metadata.ErrInvalidArgument,
			fmt.Sprintf("declared %d bytes, received %d", size, n), label)
	}
	return path, nil
}

// unstage removes whatever is left of a staged body or batch.
func (m *Mutator) unstage(ctx context.Context, path string) {
	if err := m.content.Remove(context.WithoutCancel(ctx), content.AreaLive, path); err != nil {
		logger.Warn("tree: failed to remove staged upload %s: %v", path, err)
	}
}

// stageError classifies a staging failure. Input errors pass through;
// anything else is a storage fault.
func stageError(op, path string, err error) error {
	var se *metadata.StoreError
	if errors.As(err, &se) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return metadata.NewFatal(op, path, err)
}

func parentOf(path string) string {
	if i := strings.LastIndex(path, "/"); i >= 0 {
		return path[:i]
	}
	return ""
}

// UploadTree stores a whole folder named name under parentID.
//
// The top folder must not exist yet. Intermediate folders are created once
// per distinct path however many items share them, sizes are propagated in
// one pass, and the quota is checked against the sum of all item sizes.
func (m *Mutator) UploadTree(ctx context.Context, sess *Session, parentID uuid.UUID, name string, items []UploadItem) (*metadata.Entity, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}

	var total int64
	for _, it := range items {
		if it.Size < 0 {
			return nil, metadata.NewError(metadata.ErrInvalidArgument, "negative size", it.RelPath)
		}
		if it.Size > math.MaxInt64-total {
			return nil, metadata.NewError(metadata.ErrQuotaExceeded, "upload too large", name)
		}
		total += it.Size
		for _, part := range strings.Split(strings.Trim(it.RelPath, "/"), "/") {
			if err := ValidateName(part); err != nil {
				return nil, err
			}
		}
	}
	if err := m.admitQuota(sess, total); err != nil {
		return nil, err
	}
	if err := m.precheck(ctx, sess, parentID, name); err != nil {
		return nil, err
	}

	start := time.Now()
	batch := stagingPath()
	defer m.unstage(ctx, batch)
	staged := make([]string, len(items))
	for i, it := range items {
		path, err := m.stage(ctx, fmt.Sprintf("%s/%d", batch, i), it.RelPath, it.Size, it.Body)
		if err != nil {
			err = stageError("upload_tree", path, err)
			m.record("upload_tree", start, err)
			return nil, err
		}
		staged[i] = path
	}

	var top *metadata.Entity
	err := m.update(ctx, sess.Username, "upload_tree", func(tx metadata.Tx, p *plan) error {
		parent, err := loadFolder(tx, sess, parentID)
		if err != nil {
			return err
		}
		path, err := m.alloc.Admit(ctx, tx, parent, name)
		if err != nil {
			return err
		}

		parentChain, err := Ancestors(tx, parent.ID)
		if err != nil {
			return err
		}

		top = m.newEntity(sess, parent, name, path, metadata.FileTypeFolder)
		if err := tx.PutEntity(top); err != nil {
			return err
		}

		// chains maps a created folder path to its ancestor chain, leaf first
		chains := map[string][]*metadata.Entity{
			top.Path: append([]*metadata.Entity{top}, parentChain...),
		}
		folders := []*metadata.Entity{top}
		delta := NewSizeDelta()

		type write struct {
			path   string
			staged string
		}
		var writes []write

		for i, it := range items {
			parts := strings.Split(strings.Trim(it.RelPath, "/"), "/")
			dir := top
			for j, part := range parts {
				if err := ValidateName(part); err != nil {
					return err
				}
				childPath := metadata.JoinPath(dir.Path, part)

				if j == len(parts)-1 {
					if _, ok := chains[childPath]; ok {
						return metadata.NewError(metadata.ErrNameCollision, "file collides with a folder", childPath)
					}
					unique, err := m.alloc.IsUniqueAmongSiblings(tx, dir.ID, part)
					if err != nil {
						return err
					}
					if !unique {
						return metadata.NewError(metadata.ErrNameCollision, "duplicate file in upload", childPath)
					}
					file := m.newEntity(sess, dir, part, childPath, metadata.FileTypeFile)
					file.Size = it.Size
					if err := tx.PutEntity(file); err != nil {
						return err
					}
					delta.Add(chains[dir.Path], it.Size, IncludeRoot)
					writes = append(writes, write{path: childPath, staged: staged[i]})
					break
				}

				if _, ok := chains[childPath]; !ok {
					if existing, err := tx.LookupChild(dir.ID, part); err == nil && !existing.IsFolder() {
						return metadata.NewError(metadata.ErrNameCollision, "folder collides with a file", childPath)
					}
					folder := m.newEntity(sess, dir, part, childPath, metadata.FileTypeFolder)
					if err := tx.PutEntity(folder); err != nil {
						return err
					}
					chains[childPath] = append([]*metadata.Entity{folder}, chains[dir.Path]...)
					folders = append(folders, folder)
				}
				dir = chains[childPath][0]
			}
		}

		if err := delta.Apply(tx, sess.Username, m.now()); err != nil {
			return err
		}

		p.add("mkdir "+top.Path,
			func(ctx context.Context) error {
				for _, f := range folders {
					if err := m.content.Mkdir(ctx, content.AreaLive, f.Path); err != nil {
						return err
					}
				}
				return nil
			},
			func(ctx context.Context) error { return m.content.Remove(ctx, content.AreaLive, top.Path) })
		for _, w := range writes {
			m.addPlace(p, w.staged, w.path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sess.AddUsed(total)
	m.metrics.RecordBytesWritten(total)
	logger.Debug("tree: %s uploaded folder %s (%d files, %d bytes)", sess.Username, top.Path, len(items), total)
	return m.Get(ctx, sess, top.ID)
}
