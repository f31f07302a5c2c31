package metadata

import (
	"time"

	"github.com/google/uuid"
)

// RecycleEntry records where a soft-deleted entity lives in the recycle
// store and where it came from.
//
// Exactly one entry exists per top-level recycled entity; descendants
// recycled along with it have none. Each account also owns one entry with a
// nil OriginID: its recycle root, whose RecyclePath is the user's directory
// inside the recycle area.
type RecycleEntry struct {
	ID          uuid.UUID `json:"id"`
	OriginID    uuid.UUID `json:"origin_id"`
	RecyclePath string    `json:"recycle_path"`
	OriginPath  string    `json:"origin_path"`
	Owner       string    `json:"owner"`
	CreatedAt   time.Time `json:"created_at"`
}

// IsRecycleRoot reports whether the entry is an account's recycle root.
func (r *RecycleEntry) IsRecycleRoot() bool {
	return r.OriginID == uuid.Nil
}

// ShareLink grants time-limited read access to one file.
type ShareLink struct {
	Key       string    `json:"key"`
	Signature string    `json:"signature"`
	FileID    uuid.UUID `json:"file_id"`
	Owner     string    `json:"owner"`
	ExpiresAt time.Time `json:"expires_at"`
	Summary   string    `json:"summary,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Expired reports whether the link validity window has passed at now.
func (l *ShareLink) Expired(now time.Time) bool {
	return !now.Before(l.ExpiresAt)
}

// AccessRecord attributes one successful share resolution.
//
// Username is set for authenticated callers, RemoteAddr otherwise.
type AccessRecord struct {
	ID         uuid.UUID `json:"id"`
	LinkKey    string    `json:"link_key"`
	Username   string    `json:"username,omitempty"`
	RemoteAddr string    `json:"remote_addr,omitempty"`
	AccessedAt time.Time `json:"accessed_at"`
}

// Account binds a username to its role and its two tree roots.
type Account struct {
	Username      string    `json:"username"`
	Role          string    `json:"role"`
	RootID        uuid.UUID `json:"root_id"`
	RecycleRootID uuid.UUID `json:"recycle_root_id"`
	CreatedAt     time.Time `json:"created_at"`
}

// LimitStorage is the role limit key holding the storage quota in bytes.
const LimitStorage = "storage"

// RoleLimits maps a limit key to its value for one role.
type RoleLimits map[string]int64
