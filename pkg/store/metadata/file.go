package metadata

import (
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
)

// FileType distinguishes folders from files.
//
// A folder carries no type classifier; a file carries its suffix as
// classifier (see Entity.Suffix).
type FileType int

const (
	// FileTypeFolder is a container node
	FileTypeFolder FileType = iota

	// FileTypeFile is a leaf node backed by bytes in the live store
	FileTypeFile
)

func (t FileType) String() string {
	if t == FileTypeFolder {
		return "folder"
	}
	return "file"
}

// Entity is one node of a user's file tree.
//
// Path is relative to the live storage root and always equals
// parent.Path + "/" + Name for non-root entities. A user root has a nil
// ParentID and its Name and Path are both the user's secret directory token.
//
// Size is the byte size for files. For folders it is the sum of the sizes
// of the non-deleted children. The user root additionally keeps counting
// recycled items until they are purged, making it the user's "used" figure.
type Entity struct {
	ID       uuid.UUID `json:"id"`
	Name     string    `json:"name"`
	Type     FileType  `json:"type"`
	Suffix   string    `json:"suffix,omitempty"`
	Size     int64     `json:"size"`
	Path     string    `json:"path"`
	ParentID uuid.UUID `json:"parent_id"`
	Owner    string    `json:"owner"`

	// Deleted is the soft-delete flag.
	Deleted bool `json:"deleted"`

	// TrashedBy is the top-level recycled entity whose recycle operation
	// soft-deleted this row. It lets a restore revive exactly the rows its
	// recycle marked, leaving separately recycled descendants alone.
	TrashedBy uuid.UUID `json:"trashed_by"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	CreatedBy string    `json:"created_by"`
	UpdatedBy string    `json:"updated_by"`
}

// IsRoot reports whether the entity is a user root.
func (e *Entity) IsRoot() bool {
	return e.ParentID == uuid.Nil
}

// IsFolder reports whether the entity is a folder.
func (e *Entity) IsFolder() bool {
	return e.Type == FileTypeFolder
}

// Clone returns a copy safe to mutate.
func (e *Entity) Clone() *Entity {
	if e == nil {
		return nil
	}
	c := *e
	return &c
}

// Touch stamps the audit fields for an update by actor.
func (e *Entity) Touch(actor string, now time.Time) {
	e.UpdatedAt = now
	e.UpdatedBy = actor
}

// SuffixOf returns the lowercase extension of name without the dot, or ""
// when the name has none.
func SuffixOf(name string) string {
	ext := path.Ext(name)
	if ext == "" || ext == name {
		return ""
	}
	return strings.ToLower(strings.TrimPrefix(ext, "."))
}

// JoinPath joins a parent path and a child name with a single slash.
func JoinPath(parent, name string) string {
	if parent == "" {
		return name
	}
	return parent + "/" + name
}
