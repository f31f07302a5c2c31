package testing

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/marmos91/dittodisk/pkg/store/metadata"
	"github.com/stretchr/testify/require"
)

// StoreTestSuite is a conformance suite for MetadataStore implementations.
// It tests the interface contract, not implementation details, so the
// Badger and memory stores are held to identical semantics.
type StoreTestSuite struct {
	// NewStore is a factory function that creates a fresh MetadataStore
	// instance for each test. This ensures test isolation.
	NewStore func(t *testing.T) metadata.MetadataStore
}

// Run executes all tests in the suite.
func (suite *StoreTestSuite) Run(t *testing.T) {
	t.Run("Entity", suite.RunEntityTests)
	t.Run("Transaction", suite.RunTransactionTests)
	t.Run("Recycle", suite.RunRecycleTests)
	t.Run("Share", suite.RunShareTests)
	t.Run("Account", suite.RunAccountTests)
}

func (suite *StoreTestSuite) newStore(t *testing.T) metadata.MetadataStore {
	store := suite.NewStore(t)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

// NewRoot builds a root entity for owner.
func NewRoot(owner string) *metadata.Entity {
	now := time.Now()
	return &metadata.Entity{
		ID:        uuid.New(),
		Name:      "root-" + owner,
		Type:      metadata.FileTypeFolder,
		Path:      "root-" + owner,
		Owner:     owner,
		CreatedAt: now,
		UpdatedAt: now,
		CreatedBy: owner,
		UpdatedBy: owner,
	}
}

// NewChild builds a live child of parent.
func NewChild(parent *metadata.Entity, name string, typ metadata.FileType, size int64) *metadata.Entity {
	now := time.Now()
	e := &metadata.Entity{
		ID:        uuid.New(),
		Name:      name,
		Type:      typ,
		Size:      size,
		Path:      metadata.JoinPath(parent.Path, name),
		ParentID:  parent.ID,
		Owner:     parent.Owner,
		CreatedAt: now,
		UpdatedAt: now,
		CreatedBy: parent.Owner,
		UpdatedBy: parent.Owner,
	}
	if typ == metadata.FileTypeFile {
		e.Suffix = metadata.SuffixOf(name)
	}
	return e
}

// put writes entities in one transaction and fails the test on error.
func put(t *testing.T, store metadata.MetadataStore, entities ...*metadata.Entity) {
	t.Helper()
	err := store.Update(context.Background(), func(tx metadata.Tx) error {
		for _, e := range entities {
			if err := tx.PutEntity(e); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)
}

// view runs fn in a read transaction and fails the test on error.
func view(t *testing.T, store metadata.MetadataStore, fn func(tx metadata.Tx) error) {
	t.Helper()
	require.NoError(t, store.View(context.Background(), fn))
}

func requireCode(t *testing.T, err error, code metadata.ErrorCode) {
	t.Helper()
	require.Error(t, err)
	require.Truef(t, metadata.IsCode(err, code), "expected %s, got %v", code, err)
}
