package tree

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"path"
	"strings"

	"github.com/google/uuid"
	"github.com/marmos91/dittodisk/pkg/store/content"
	"github.com/marmos91/dittodisk/pkg/store/metadata"
)

const (
	// MaxNameLength is the longest accepted entity name in bytes.
	MaxNameLength = 100

	// secretRootLength is the number of hex characters kept from the
	// username HMAC.
	secretRootLength = 32

	uniqueNameAttempts = 8
)

// PathAllocator derives physical paths from tree positions and detects
// collisions, both physical (bytes already at the path) and logical (a live
// sibling with the same name).
type PathAllocator struct {
	content content.ContentStore
	secret  []byte
}

// NewPathAllocator creates an allocator over the live area of cs. secret
// keys the per-user root token derivation.
func NewPathAllocator(cs content.ContentStore, secret []byte) *PathAllocator {
	return &PathAllocator{content: cs, secret: secret}
}

// ValidateName checks a single path component.
func ValidateName(name string) error {
	switch {
	case name == "":
		return metadata.NewError(metadata.ErrInvalidArgument, "name is empty", "")
	case len(name) > MaxNameLength:
		return metadata.NewError(metadata.ErrInvalidArgument,
			fmt.Sprintf("name exceeds %d bytes", MaxNameLength), name)
	case name == "." || name == "..":
		return metadata.NewError(metadata.ErrInvalidArgument, "reserved name", name)
	case strings.ContainsAny(name, "/\\\x00"):
		return metadata.NewError(metadata.ErrInvalidArgument, "name contains a separator or NUL", name)
	}
	return nil
}

// Candidate returns the physical path name would occupy under parent.
func (a *PathAllocator) Candidate(parent *metadata.Entity, name string) (string, error) {
	if err := ValidateName(name); err != nil {
		return "", err
	}
	return metadata.JoinPath(parent.Path, name), nil
}

// Exists reports whether anything occupies candidate in the live area.
func (a *PathAllocator) Exists(ctx context.Context, candidate string) (bool, error) {
	return a.content.Exists(ctx, content.AreaLive, candidate)
}

// IsUniqueAmongSiblings reports whether no live child of parentID is
// named name.
func (a *PathAllocator) IsUniqueAmongSiblings(tx metadata.Tx, parentID uuid.UUID, name string) (bool, error) {
	_, err := tx.LookupChild(parentID, name)
	if err == nil {
		return false, nil
	}
	if metadata.IsCode(err, metadata.ErrNotFound) {
		return true, nil
	}
	return false, err
}

// Admit runs both collision checks for name under parent and returns the
// admitted path. Either collision fails with ErrNameCollision.
func (a *PathAllocator) Admit(ctx context.Context, tx metadata.Tx, parent *metadata.Entity, name string) (string, error) {
	candidate, err := a.Candidate(parent, name)
	if err != nil {
		return "", err
	}

	unique, err := a.IsUniqueAmongSiblings(tx, parent.ID, name)
	if err != nil {
		return "", err
	}
	if !unique {
		return "", metadata.NewError(metadata.ErrNameCollision, "name already used in folder", candidate)
	}

	exists, err := a.Exists(ctx, candidate)
	if err != nil {
		return "", fmt.Errorf("failed to check %s: %w", candidate, err)
	}
	if exists {
		return "", metadata.NewError(metadata.ErrNameCollision, "physical path already occupied", candidate)
	}
	return candidate, nil
}

// SecretRoot derives the user's root directory token: a truncated hex
// HMAC-SHA256 of the username.
func (a *PathAllocator) SecretRoot(username string) string {
	mac := hmac.New(sha256.New, a.secret)
	mac.Write([]byte(username))
	return hex.EncodeToString(mac.Sum(nil))[:secretRootLength]
}

// UniqueName derives a free name under parent from name by inserting a
// random token between stem and extension.
func (a *PathAllocator) UniqueName(ctx context.Context, tx metadata.Tx, parent *metadata.Entity, name string) (string, error) {
	ext := path.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	if stem == "" {
		// dotfile: keep the whole name as stem
		stem, ext = name, ""
	}

	for range uniqueNameAttempts {
		token := strings.ReplaceAll(uuid.NewString(), "-", "")
		room := MaxNameLength - len(token) - len(ext)
		s := stem
		if len(s) > room {
			s = s[:max(room, 0)]
		}
		candidate := s + token + ext

		if _, err := a.Admit(ctx, tx, parent, candidate); err != nil {
			if metadata.IsCode(err, metadata.ErrNameCollision) {
				continue
			}
			return "", err
		}
		return candidate, nil
	}
	return "", metadata.NewError(metadata.ErrNameCollision, "no free name found", metadata.JoinPath(parent.Path, name))
}
