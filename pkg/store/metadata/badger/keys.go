package badger

import (
	"github.com/google/uuid"
)

// Database Key Namespace Design
// ==============================
//
// BadgerDB is a key-value store, so we use prefixed keys to organize the
// different record types into logical namespaces. Secondary indexes are plain
// keys with empty or tiny values so range scans over a prefix answer the
// lookups the tree engine needs.
//
// Key Namespace Prefixes:
//
// Data Type              Prefix   Key Format                       Value Type
// ============================================================================
// Entity                 "e:"     e:<uuid>                         Entity (JSON)
// Children Index         "c:"     c:<parentUUID>:<childUUID>       empty
// Live Name Index        "n:"     n:<parentUUID>:<name>            childUUID (bytes)
// Owner Index            "o:"     o:<owner>:<uuid>                 empty
// Recycle Entry          "t:"     t:<uuid>                         RecycleEntry (JSON)
// Recycle Owner Index    "to:"    to:<owner>:<uuid>                empty
// Recycle Origin Index   "tg:"    tg:<originUUID>                  entryUUID (bytes)
// Share Link             "s:"     s:<key>                          ShareLink (JSON)
// Share File Index       "sf:"    sf:<fileUUID>:<key>              empty
// Share Owner Index      "so:"    so:<owner>:<key>                 empty
// Access Record          "a:"     a:<key>:<uuid>                   AccessRecord (JSON)
// Account                "u:"     u:<username>                     Account (JSON)
// Role Limit             "rl:"    rl:<role>:<limitKey>             int64 (binary)
//
// Key Design Rationale:
//
// 1. Children Index (c:)
//    - One entry per child, live or deleted
//    - Subtree walks scan "c:<parentUUID>:" once per folder
//
// 2. Live Name Index (n:)
//    - Only non-deleted, non-root entities are indexed
//    - A point lookup enforces sibling name uniqueness inside the same
//      transaction that writes the entity
//
// 3. Owner Index (o:)
//    - Lets the consistency checker enumerate one user's tree without a
//      full table scan
//
// 4. Recycle Origin Index (tg:)
//    - Resolves the 1:1 entity → recycle entry link so deleting an entity can
//      cascade to its entry
//
// Usernames must not contain ':' since they appear inside composite keys.

const (
	prefixEntity       = "e:"
	prefixChild        = "c:"
	prefixName         = "n:"
	prefixOwner        = "o:"
	prefixRecycle      = "t:"
	prefixRecycleOwner = "to:"
	prefixRecycleOrig  = "tg:"
	prefixShare        = "s:"
	prefixShareFile    = "sf:"
	prefixShareOwner   = "so:"
	prefixAccess       = "a:"
	prefixAccount      = "u:"
	prefixRoleLimit    = "rl:"
)

// keyEntity generates a key for entity data.
//
// Format: "e:<uuid>"
// Example: "e:550e8400-e29b-41d4-a716-446655440000"
func keyEntity(id uuid.UUID) []byte {
	return []byte(prefixEntity + id.String())
}

// keyChild generates a children index key.
//
// Format: "c:<parentUUID>:<childUUID>"
//
// Range: ["c:<parentUUID>:", "c:<parentUUID>:\xff")
func keyChild(parentID, childID uuid.UUID) []byte {
	return []byte(prefixChild + parentID.String() + ":" + childID.String())
}

// keyChildPrefix generates a key prefix for range scanning children.
func keyChildPrefix(parentID uuid.UUID) []byte {
	return []byte(prefixChild + parentID.String() + ":")
}

// keyName generates a live name index key.
//
// Format: "n:<parentUUID>:<name>"
// Example: "n:550e8400-e29b-41d4-a716-446655440000:report.pdf"
func keyName(parentID uuid.UUID, name string) []byte {
	return []byte(prefixName + parentID.String() + ":" + name)
}

func keyOwner(owner string, id uuid.UUID) []byte {
	return []byte(prefixOwner + owner + ":" + id.String())
}

func keyOwnerPrefix(owner string) []byte {
	return []byte(prefixOwner + owner + ":")
}

func keyRecycle(id uuid.UUID) []byte {
	return []byte(prefixRecycle + id.String())
}

func keyRecycleOwner(owner string, id uuid.UUID) []byte {
	return []byte(prefixRecycleOwner + owner + ":" + id.String())
}

func keyRecycleOwnerPrefix(owner string) []byte {
	return []byte(prefixRecycleOwner + owner + ":")
}

func keyRecycleOrigin(originID uuid.UUID) []byte {
	return []byte(prefixRecycleOrig + originID.String())
}

func keyShare(key string) []byte {
	return []byte(prefixShare + key)
}

func keyShareFile(fileID uuid.UUID, key string) []byte {
	return []byte(prefixShareFile + fileID.String() + ":" + key)
}

func keyShareFilePrefix(fileID uuid.UUID) []byte {
	return []byte(prefixShareFile + fileID.String() + ":")
}

func keyShareOwner(owner, key string) []byte {
	return []byte(prefixShareOwner + owner + ":" + key)
}

func keyShareOwnerPrefix(owner string) []byte {
	return []byte(prefixShareOwner + owner + ":")
}

// keyAccess generates a key for one access record of a share link.
//
// Format: "a:<key>:<uuid>"
func keyAccess(key string, id uuid.UUID) []byte {
	return []byte(prefixAccess + key + ":" + id.String())
}

func keyAccessPrefix(key string) []byte {
	return []byte(prefixAccess + key + ":")
}

func keyAccount(username string) []byte {
	return []byte(prefixAccount + username)
}

// keyRoleLimit generates a key for one role limit value.
//
// Format: "rl:<role>:<limitKey>"
// Example: "rl:common:storage"
func keyRoleLimit(role, limit string) []byte {
	return []byte(prefixRoleLimit + role + ":" + limit)
}

func keyRoleLimitPrefix(role string) []byte {
	return []byte(prefixRoleLimit + role + ":")
}
