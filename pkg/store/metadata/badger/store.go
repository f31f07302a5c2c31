package badger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	badger "github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
	"github.com/marmos91/dittodisk/internal/logger"
	"github.com/marmos91/dittodisk/pkg/metrics"
	"github.com/marmos91/dittodisk/pkg/store/metadata"
)

const (
	defaultMemTableSizeMB  = 128
	minMemTableSizeMB      = 8
	defaultConflictRetries = 10
)

// BadgerMetadataStore implements metadata.MetadataStore using BadgerDB for persistence.
//
// Key Features:
//   - Persistent storage with crash recovery (WAL-based)
//   - ACID transactions spanning an entity, its indexes and every aggregate
//     row a mutation touches
//   - Efficient range scans for children listings and owner enumeration
//
// Thread Safety:
// Views read an MVCC snapshot and never wait for writers. Updates run
// concurrently under Badger's optimistic concurrency control: a commit that
// read a key another transaction wrote in the meantime fails with
// badger.ErrConflict and the whole callback is replayed, with exponential
// backoff, up to ConflictRetries times. Callbacks must therefore be safe to
// run more than once.
//
// Storage Model:
// See keys.go for the key namespace schema.
type BadgerMetadataStore struct {
	// mu guards db against Close; transactions only take the read lock.
	mu sync.RWMutex

	// db is the BadgerDB database handle
	db *badger.DB

	conflictRetries uint64
	metrics         metrics.MetadataMetrics
}

// BadgerMetadataStoreConfig contains configuration for creating a BadgerDB metadata store.
type BadgerMetadataStoreConfig struct {
	// DBPath is the directory where BadgerDB will store its files.
	// Ignored when InMemory is true.
	DBPath string `mapstructure:"db_path"`

	// InMemory keeps the whole database in RAM (tests, ephemeral deployments)
	InMemory bool `mapstructure:"in_memory"`

	// SyncWrites fsyncs the value log on every commit
	SyncWrites bool `mapstructure:"sync_writes"`

	// BlockCacheSizeMB is the block cache size (default: 64MB)
	BlockCacheSizeMB int64 `mapstructure:"block_cache_size_mb"`

	// IndexCacheSizeMB is the index cache size (default: 32MB)
	IndexCacheSizeMB int64 `mapstructure:"index_cache_size_mb"`

	// MemTableSizeMB sizes each memtable (default: 128MB, minimum 8MB).
	// A single transaction may stage at most 15% of it, which bounds the
	// largest subtree one recycle, move or folder upload can touch.
	MemTableSizeMB int64 `mapstructure:"mem_table_size_mb"`

	// ConflictRetries is how many times an Update is replayed after a
	// commit conflict before ErrConflict is returned (default: 10)
	ConflictRetries int `mapstructure:"conflict_retries"`

	// BadgerOptions allows full customization of BadgerDB behavior.
	// If nil, options are derived from the fields above.
	BadgerOptions *badger.Options `mapstructure:"-"`

	// Metrics receives transaction timings (nil disables collection)
	Metrics metrics.MetadataMetrics `mapstructure:"-"`
}

// NewBadgerMetadataStore opens (or creates) a BadgerDB metadata store.
//
// Parameters:
//   - ctx: Context for cancellation
//   - config: Store configuration
//
// Returns:
//   - *BadgerMetadataStore: Open store, ready for transactions
//   - error: If the context is cancelled or the database cannot be opened
func NewBadgerMetadataStore(ctx context.Context, config BadgerMetadataStoreConfig) (*BadgerMetadataStore, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var opts badger.Options
	if config.BadgerOptions != nil {
		opts = *config.BadgerOptions
	} else {
		if config.InMemory {
			opts = badger.DefaultOptions("").WithInMemory(true)
		} else {
			if config.DBPath == "" {
				return nil, fmt.Errorf("badger db_path is required")
			}
			opts = badger.DefaultOptions(config.DBPath)
		}

		// Tree records are small JSON blobs; compression is not worth it.
		opts = opts.WithLoggingLevel(badger.WARNING)
		opts = opts.WithCompression(options.None)
		opts = opts.WithSyncWrites(config.SyncWrites)

		blockCacheMB := config.BlockCacheSizeMB
		if blockCacheMB == 0 {
			blockCacheMB = 64
		}
		indexCacheMB := config.IndexCacheSizeMB
		if indexCacheMB == 0 {
			indexCacheMB = 32
		}
		opts = opts.WithBlockCacheSize(blockCacheMB << 20)
		opts = opts.WithIndexCacheSize(indexCacheMB << 20)

		memTableMB := config.MemTableSizeMB
		if memTableMB == 0 {
			memTableMB = defaultMemTableSizeMB
		}
		if memTableMB < minMemTableSizeMB {
			return nil, fmt.Errorf("badger mem_table_size_mb must be at least %d", minMemTableSizeMB)
		}
		opts = opts.WithMemTableSize(memTableMB << 20)
	}

	retries := config.ConflictRetries
	if retries < 0 {
		return nil, fmt.Errorf("badger conflict_retries must not be negative")
	}
	if retries == 0 {
		retries = defaultConflictRetries
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open BadgerDB at %s: %w", config.DBPath, err)
	}

	m := config.Metrics
	if m == nil {
		m = metrics.NewNoopMetadataMetrics()
	}

	return &BadgerMetadataStore{db: db, conflictRetries: uint64(retries), metrics: m}, nil
}

// NewBadgerMetadataStoreInMemory opens a store that lives only in RAM.
func NewBadgerMetadataStoreInMemory(ctx context.Context) (*BadgerMetadataStore, error) {
	return NewBadgerMetadataStore(ctx, BadgerMetadataStoreConfig{InMemory: true})
}

// Update runs fn inside a read-write Badger transaction.
//
// The transaction commits only if fn returns nil. On a commit conflict fn is
// run again against a fresh transaction; once the retries are spent the
// conflict is returned as ErrConflict. A transaction that outgrows the
// memtable is reported as ErrInvalidArgument.
func (s *BadgerMetadataStore) Update(ctx context.Context, fn func(tx metadata.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.db == nil {
		return errClosed
	}

	start := time.Now()
	var err error
	attempt := func() error {
		err = s.db.Update(func(txn *badger.Txn) error {
			return fn(&badgerTx{txn: txn, writable: true})
		})
		if errors.Is(err, badger.ErrConflict) {
			return err
		}
		return nil
	}
	notify := func(_ error, wait time.Duration) {
		logger.Debug("badger: commit conflict, retrying in %v", wait)
	}
	_ = backoff.RetryNotify(attempt, s.retryPolicy(ctx), notify)

	err = translateError(err)
	s.metrics.RecordTransaction("update", time.Since(start), err)
	return err
}

func (s *BadgerMetadataStore) retryPolicy(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 2 * time.Millisecond
	b.MaxInterval = 200 * time.Millisecond
	b.MaxElapsedTime = 0
	return backoff.WithContext(backoff.WithMaxRetries(b, s.conflictRetries), ctx)
}

// translateError turns Badger's transaction limits into store errors.
func translateError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, badger.ErrConflict):
		return &metadata.StoreError{
			Code:    metadata.ErrConflict,
			Message: "concurrent update, retries exhausted",
			Err:     err,
		}
	case errors.Is(err, badger.ErrTxnTooBig):
		return &metadata.StoreError{
			Code:    metadata.ErrInvalidArgument,
			Message: "subtree too large for one transaction",
			Err:     err,
		}
	default:
		return err
	}
}

// View runs fn against a read-only snapshot.
func (s *BadgerMetadataStore) View(ctx context.Context, fn func(tx metadata.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.db == nil {
		return errClosed
	}

	start := time.Now()
	err := s.db.View(func(txn *badger.Txn) error {
		return fn(&badgerTx{txn: txn})
	})
	s.metrics.RecordTransaction("view", time.Since(start), err)
	return err
}

var errClosed = metadata.NewError(metadata.ErrInvalidArgument, "store is closed", "")

// Close closes the underlying database. It waits for running transactions.
func (s *BadgerMetadataStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}
