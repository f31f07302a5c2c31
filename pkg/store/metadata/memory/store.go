package memory

import (
	"context"
	"maps"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/marmos91/dittodisk/pkg/metrics"
	"github.com/marmos91/dittodisk/pkg/store/metadata"
)

// nameKey indexes a live entity by parent and name.
type nameKey struct {
	parent uuid.UUID
	name   string
}

// state is one immutable generation of the store contents.
//
// Stored records are never mutated in place: every write replaces the
// pointer with a fresh copy. That makes a shallow clone of the top-level
// maps a valid snapshot, which is how transactions are isolated.
type state struct {
	entities map[uuid.UUID]*metadata.Entity
	children map[uuid.UUID]map[uuid.UUID]struct{}
	names    map[nameKey]uuid.UUID

	recycle         map[uuid.UUID]*metadata.RecycleEntry
	recycleByOrigin map[uuid.UUID]uuid.UUID

	shares map[string]*metadata.ShareLink
	access map[string][]*metadata.AccessRecord

	accounts map[string]*metadata.Account
	limits   map[string]metadata.RoleLimits
}

func newState() *state {
	return &state{
		entities:        make(map[uuid.UUID]*metadata.Entity),
		children:        make(map[uuid.UUID]map[uuid.UUID]struct{}),
		names:           make(map[nameKey]uuid.UUID),
		recycle:         make(map[uuid.UUID]*metadata.RecycleEntry),
		recycleByOrigin: make(map[uuid.UUID]uuid.UUID),
		shares:          make(map[string]*metadata.ShareLink),
		access:          make(map[string][]*metadata.AccessRecord),
		accounts:        make(map[string]*metadata.Account),
		limits:          make(map[string]metadata.RoleLimits),
	}
}

// clone returns a copy that can be written without affecting s.
//
// Nested containers (children sets, access slices, limit maps) are copied
// lazily by the writers that touch them; see tx.childSet and friends.
func (s *state) clone() *state {
	return &state{
		entities:        maps.Clone(s.entities),
		children:        maps.Clone(s.children),
		names:           maps.Clone(s.names),
		recycle:         maps.Clone(s.recycle),
		recycleByOrigin: maps.Clone(s.recycleByOrigin),
		shares:          maps.Clone(s.shares),
		access:          maps.Clone(s.access),
		accounts:        maps.Clone(s.accounts),
		limits:          maps.Clone(s.limits),
	}
}

// MemoryMetadataStore implements metadata.MetadataStore using in-memory storage.
//
// It is suitable for testing, development and ephemeral deployments. Update
// works on a private clone of the current state and publishes it only if the
// callback succeeds, giving the same all-or-nothing semantics as the Badger
// store.
//
// Thread Safety:
// Writers are serialized by writeMu for the whole callback. mu only guards
// the current generation pointer, so readers never wait for a running
// Update and see the last committed generation.
type MemoryMetadataStore struct {
	writeMu sync.Mutex
	mu      sync.RWMutex
	current *state
	closed  bool
	metrics metrics.MetadataMetrics
}

// MemoryMetadataStoreConfig contains configuration for the memory store.
type MemoryMetadataStoreConfig struct {
	// Metrics receives transaction timings (nil disables collection)
	Metrics metrics.MetadataMetrics `mapstructure:"-"`
}

// NewMemoryMetadataStore creates an empty store.
func NewMemoryMetadataStore(config MemoryMetadataStoreConfig) *MemoryMetadataStore {
	m := config.Metrics
	if m == nil {
		m = metrics.NewNoopMetadataMetrics()
	}
	return &MemoryMetadataStore{current: newState(), metrics: m}
}

// NewMemoryMetadataStoreWithDefaults creates an empty store without metrics.
func NewMemoryMetadataStoreWithDefaults() *MemoryMetadataStore {
	return NewMemoryMetadataStore(MemoryMetadataStoreConfig{})
}

func (s *MemoryMetadataStore) Update(ctx context.Context, fn func(tx metadata.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.RLock()
	base, closed := s.current, s.closed
	s.mu.RUnlock()
	if closed {
		return metadata.NewError(metadata.ErrInvalidArgument, "store is closed", "")
	}

	start := time.Now()
	tx := &memoryTx{st: base.clone(), writable: true, copied: make(map[any]bool)}
	err := fn(tx)
	if err == nil {
		s.mu.Lock()
		s.current = tx.st
		s.mu.Unlock()
	}
	s.metrics.RecordTransaction("update", time.Since(start), err)
	return err
}

func (s *MemoryMetadataStore) View(ctx context.Context, fn func(tx metadata.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.RLock()
	snapshot := s.current
	closed := s.closed
	s.mu.RUnlock()

	if closed {
		return metadata.NewError(metadata.ErrInvalidArgument, "store is closed", "")
	}

	start := time.Now()
	err := fn(&memoryTx{st: snapshot})
	s.metrics.RecordTransaction("view", time.Since(start), err)
	return err
}

func (s *MemoryMetadataStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
