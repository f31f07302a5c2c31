package metadata

import (
	"context"

	"github.com/google/uuid"
)

// ============================================================================
// MetadataStore Interface
// ============================================================================

// MetadataStore persists the logical file tree and the records hanging off
// it (recycle entries, share links, access records, accounts, role limits).
//
// All access goes through transactions. Update runs fn inside one atomic
// read-write transaction: either every write made through the Tx commits or
// none does. Implementations serialize Update calls so concurrent mutations
// observe either the pre- or post-state of one another, never an interleaving.
// View runs fn against a consistent read-only snapshot.
//
// An error returned by fn aborts the transaction and is returned unchanged.
//
// Thread Safety:
// Implementations must be safe for concurrent use by multiple goroutines.
type MetadataStore interface {
	Update(ctx context.Context, fn func(tx Tx) error) error
	View(ctx context.Context, fn func(tx Tx) error) error
	Close() error
}

// Tx is the set of operations available inside a transaction.
//
// Returned records are copies; mutating them has no effect until written
// back with the matching Put method. Lookups of missing records return a
// StoreError with code ErrNotFound. Write methods on a View transaction
// return ErrInvalidArgument.
type Tx interface {
	// ========================================================================
	// Entities
	// ========================================================================

	// GetEntity returns the entity with the given ID, deleted or not.
	GetEntity(id uuid.UUID) (*Entity, error)

	// PutEntity inserts or replaces an entity and maintains the children and
	// live-name indexes. It fails with ErrNameCollision if the entity is live
	// and a different live sibling already holds its name.
	PutEntity(e *Entity) error

	// DeleteEntity removes the entity row and cascades to its recycle entry,
	// its share links and their access records. Descendants are not touched;
	// callers delete subtrees explicitly.
	DeleteEntity(id uuid.UUID) error

	// LookupChild returns the live child of parentID named name.
	LookupChild(parentID uuid.UUID, name string) (*Entity, error)

	// ListChildren returns every child (live or deleted) of each of the given
	// parents. It is used for level-by-level subtree walks.
	ListChildren(parentIDs ...uuid.UUID) ([]*Entity, error)

	// ListEntities returns every entity owned by owner.
	ListEntities(owner string) ([]*Entity, error)

	// ========================================================================
	// Recycle entries
	// ========================================================================

	GetRecycleEntry(id uuid.UUID) (*RecycleEntry, error)

	// FindRecycleEntry returns the entry whose OriginID is originID.
	FindRecycleEntry(originID uuid.UUID) (*RecycleEntry, error)

	PutRecycleEntry(entry *RecycleEntry) error
	DeleteRecycleEntry(id uuid.UUID) error

	// ListRecycleEntries returns the owner's entries, recycle root excluded.
	ListRecycleEntries(owner string) ([]*RecycleEntry, error)

	// ========================================================================
	// Share links and access records
	// ========================================================================

	GetShareLink(key string) (*ShareLink, error)
	PutShareLink(link *ShareLink) error

	// DeleteShareLink removes the link and its access records.
	DeleteShareLink(key string) error

	ListShareLinks(owner string) ([]*ShareLink, error)
	ListShareLinksForFile(fileID uuid.UUID) ([]*ShareLink, error)

	PutAccessRecord(rec *AccessRecord) error
	ListAccessRecords(key string) ([]*AccessRecord, error)

	// ========================================================================
	// Accounts and role limits
	// ========================================================================

	GetAccount(username string) (*Account, error)

	// CreateAccount fails with ErrAlreadyExists if the username is taken.
	CreateAccount(acct *Account) error

	ListAccounts() ([]*Account, error)

	// GetRoleLimits returns the limits of role; an unknown role yields an
	// empty map, not an error.
	GetRoleLimits(role string) (RoleLimits, error)

	PutRoleLimit(role, key string, value int64) error
}
