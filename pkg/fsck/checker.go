// Package fsck verifies the consistency of users' file trees.
//
// The checker compares the logical tree against its own invariants and,
// optionally, against the physical layout. Inconsistencies can appear when
// a physical step and a metadata commit diverge (a fatal storage fault), or
// when an operator edits either side by hand. The checker only reports:
// repairing a diverged tree needs a human decision about which side is
// authoritative.
package fsck

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/marmos91/dittodisk/internal/logger"
	"github.com/marmos91/dittodisk/pkg/store/content"
	"github.com/marmos91/dittodisk/pkg/store/metadata"
)

// Finding kinds.
const (
	KindRoot       = "root"
	KindPath       = "path"
	KindAggregate  = "aggregate"
	KindUniqueness = "uniqueness"
	KindOrphan     = "orphan"
	KindRecycle    = "recycle"
	KindPhysical   = "physical"
)

// Finding is one violated invariant.
type Finding struct {
	Kind     string
	Owner    string
	EntityID uuid.UUID
	Path     string
	Detail   string
}

func (f Finding) String() string {
	return fmt.Sprintf("[%s] %s %s: %s", f.Kind, f.Owner, f.Path, f.Detail)
}

// Report is the outcome of checking one account.
type Report struct {
	Username  string
	StartTime time.Time
	EndTime   time.Time
	Entities  int
	Recycled  int
	Findings  []Finding
}

// OK reports whether no invariant was violated.
func (r *Report) OK() bool {
	return len(r.Findings) == 0
}

// Duration returns the check duration.
func (r *Report) Duration() time.Duration {
	if r.EndTime.IsZero() {
		return time.Since(r.StartTime)
	}
	return r.EndTime.Sub(r.StartTime)
}

// Summary returns a one-line human-readable summary.
func (r *Report) Summary() string {
	return fmt.Sprintf("user=%s entities=%d recycled=%d findings=%d duration=%s",
		r.Username, r.Entities, r.Recycled, len(r.Findings), r.Duration())
}

func (r *Report) add(kind string, e *metadata.Entity, format string, args ...any) {
	f := Finding{Kind: kind, Owner: r.Username, Detail: fmt.Sprintf(format, args...)}
	if e != nil {
		f.EntityID = e.ID
		f.Path = e.Path
	}
	r.Findings = append(r.Findings, f)
}

// Config contains configuration for the checker.
type Config struct {
	// Enabled controls whether periodic checks run (default: false)
	Enabled bool `mapstructure:"enabled"`

	// Interval is how often to check all accounts (default: 1h)
	Interval time.Duration `mapstructure:"interval"`

	// Physical also verifies the content store (default: false)
	Physical bool `mapstructure:"physical"`
}

// Checker runs consistency checks, on demand or periodically.
//
// Thread Safety: Safe for concurrent use.
type Checker struct {
	metadataStore metadata.MetadataStore
	contentStore  content.ContentStore
	config        Config
	stopCh        chan struct{}
	doneCh        chan struct{}
	startOnce     sync.Once
	stopOnce      sync.Once
	started       atomic.Bool
}

// NewChecker creates a checker. contentStore may be nil when
// config.Physical is false.
func NewChecker(metadataStore metadata.MetadataStore, contentStore content.ContentStore, config Config) (*Checker, error) {
	if config.Physical && contentStore == nil {
		return nil, fmt.Errorf("physical checks need a content store")
	}
	if config.Interval <= 0 {
		config.Interval = time.Hour
	}
	return &Checker{
		metadataStore: metadataStore,
		contentStore:  contentStore,
		config:        config,
		stopCh:        make(chan struct{}),
		doneCh:        make(chan struct{}),
	}, nil
}

// Start begins periodic checking. Safe to call multiple times.
func (c *Checker) Start() {
	if !c.config.Enabled {
		logger.Info("Consistency checker disabled")
		return
	}
	c.startOnce.Do(func() {
		c.started.Store(true)
		logger.Info("Starting consistency checker: interval=%s physical=%v", c.config.Interval, c.config.Physical)
		go c.worker()
	})
}

// Stop stops the periodic worker and waits for an in-flight run.
func (c *Checker) Stop(ctx context.Context) error {
	if !c.started.Load() {
		return nil
	}
	c.stopOnce.Do(func() {
		logger.Info("Stopping consistency checker...")
		close(c.stopCh)
	})

	select {
	case <-c.doneCh:
		logger.Info("Consistency checker stopped")
		return nil
	case <-ctx.Done():
		logger.Warn("Consistency checker shutdown timeout")
		return ctx.Err()
	}
}

func (c *Checker) worker() {
	defer close(c.doneCh)

	ticker := time.NewTicker(c.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
			reports, err := c.CheckAll(ctx)
			cancel()
			if err != nil {
				logger.Error("Consistency check failed: %v", err)
				continue
			}
			Log(reports)

		case <-c.stopCh:
			return
		}
	}
}

// Log writes one line per report and one per finding.
func Log(reports []*Report) {
	for _, r := range reports {
		if r.OK() {
			logger.Info("fsck: %s", r.Summary())
			continue
		}
		logger.Warn("fsck: %s", r.Summary())
		for _, f := range r.Findings {
			logger.Warn("fsck:   %s", f)
		}
	}
}

// CheckAll checks every account.
func (c *Checker) CheckAll(ctx context.Context) ([]*Report, error) {
	var accounts []*metadata.Account
	err := c.metadataStore.View(ctx, func(tx metadata.Tx) error {
		var err error
		accounts, err = tx.ListAccounts()
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}

	reports := make([]*Report, 0, len(accounts))
	for _, acct := range accounts {
		if err := ctx.Err(); err != nil {
			return reports, err
		}
		r, err := c.Check(ctx, acct.Username)
		if err != nil {
			return reports, err
		}
		reports = append(reports, r)
	}
	return reports, nil
}

// Check verifies the tree of one account.
//
// Logical checks:
//   - the root has no parent and its name and path equal the recycle root
//     directory token
//   - every non-root path is its parent's path plus its name
//   - live entities have live parents; no two live siblings share a name
//   - non-root folders weigh the sum of their live children
//   - the root weighs its live children plus every recycled item
//   - every deleted row points at a recycled top item with an entry
//
// Physical checks (Config.Physical): live files exist with their size,
// live folders exist, and every recycle entry has its blob.
func (c *Checker) Check(ctx context.Context, username string) (*Report, error) {
	r := &Report{Username: username, StartTime: time.Now()}

	var (
		acct     *metadata.Account
		entities []*metadata.Entity
		entries  []*metadata.RecycleEntry
		binRoot  *metadata.RecycleEntry
	)
	err := c.metadataStore.View(ctx, func(tx metadata.Tx) error {
		var err error
		if acct, err = tx.GetAccount(username); err != nil {
			return err
		}
		if entities, err = tx.ListEntities(username); err != nil {
			return err
		}
		if entries, err = tx.ListRecycleEntries(username); err != nil {
			return err
		}
		binRoot, err = tx.GetRecycleEntry(acct.RecycleRootID)
		return err
	})
	if err != nil {
		return nil, err
	}

	r.Entities = len(entities)
	r.Recycled = len(entries)

	byID := make(map[uuid.UUID]*metadata.Entity, len(entities))
	for _, e := range entities {
		byID[e.ID] = e
	}
	entryByOrigin := make(map[uuid.UUID]*metadata.RecycleEntry, len(entries))
	for _, entry := range entries {
		entryByOrigin[entry.OriginID] = entry
	}

	c.checkLogical(r, acct, binRoot, byID, entryByOrigin)

	if c.config.Physical {
		if err := c.checkPhysical(ctx, r, entities, entries); err != nil {
			return nil, err
		}
	}

	r.EndTime = time.Now()
	return r, nil
}

func (c *Checker) checkLogical(
	r *Report,
	acct *metadata.Account,
	binRoot *metadata.RecycleEntry,
	byID map[uuid.UUID]*metadata.Entity,
	entryByOrigin map[uuid.UUID]*metadata.RecycleEntry,
) {
	root, ok := byID[acct.RootID]
	if !ok {
		r.add(KindRoot, nil, "root entity %s missing", acct.RootID)
		return
	}
	if !root.IsRoot() {
		r.add(KindRoot, root, "root has parent %s", root.ParentID)
	}
	if root.Name != root.Path || root.Path != binRoot.RecyclePath {
		r.add(KindRoot, root, "root token mismatch: name=%q path=%q recycle=%q", root.Name, root.Path, binRoot.RecyclePath)
	}

	liveSum := make(map[uuid.UUID]int64)
	names := make(map[uuid.UUID]map[string]uuid.UUID)
	var recycled int64

	for _, e := range byID {
		if e.ID == root.ID {
			continue
		}
		if e.IsRoot() {
			r.add(KindRoot, e, "second root")
			continue
		}

		parent, ok := byID[e.ParentID]
		if !ok {
			r.add(KindOrphan, e, "parent %s missing", e.ParentID)
			continue
		}
		if want := metadata.JoinPath(parent.Path, e.Name); e.Path != want {
			r.add(KindPath, e, "path should be %q", want)
		}

		if e.Deleted {
			trasher, ok := byID[e.TrashedBy]
			switch {
			case e.TrashedBy == uuid.Nil || !ok:
				r.add(KindRecycle, e, "deleted without a recycled top item")
			case !trasher.Deleted || trasher.TrashedBy != trasher.ID:
				r.add(KindRecycle, e, "trashed by %s which is not a recycled top item", trasher.ID)
			}
			if e.TrashedBy == e.ID {
				if _, ok := entryByOrigin[e.ID]; !ok {
					r.add(KindRecycle, e, "recycled top item has no recycle entry")
				}
				recycled += e.Size
			}
			continue
		}

		if parent.Deleted {
			r.add(KindOrphan, e, "live entity under deleted parent %s", parent.ID)
		}
		liveSum[parent.ID] += e.Size

		siblings := names[parent.ID]
		if siblings == nil {
			siblings = make(map[string]uuid.UUID)
			names[parent.ID] = siblings
		}
		if other, dup := siblings[e.Name]; dup {
			r.add(KindUniqueness, e, "name shared with %s", other)
		}
		siblings[e.Name] = e.ID
	}

	for _, e := range byID {
		if !e.IsFolder() || e.Deleted || e.ID == root.ID {
			continue
		}
		if e.Size != liveSum[e.ID] {
			r.add(KindAggregate, e, "size %d, live children weigh %d", e.Size, liveSum[e.ID])
		}
	}

	if want := liveSum[root.ID] + recycled; root.Size != want {
		r.add(KindAggregate, root, "used %d, live %d + recycled %d = %d", root.Size, liveSum[root.ID], recycled, want)
	}

	for origin, entry := range entryByOrigin {
		e, ok := byID[origin]
		if !ok {
			r.add(KindRecycle, nil, "entry %s points at missing entity %s", entry.ID, origin)
			continue
		}
		if !e.Deleted || e.TrashedBy != e.ID {
			r.add(KindRecycle, e, "entry %s points at an entity that is not a recycled top item", entry.ID)
		}
	}
}

func (c *Checker) checkPhysical(ctx context.Context, r *Report, entities []*metadata.Entity, entries []*metadata.RecycleEntry) error {
	for _, e := range entities {
		if e.Deleted {
			continue
		}
		exists, err := c.contentStore.Exists(ctx, content.AreaLive, e.Path)
		if err != nil {
			return err
		}
		if !exists {
			r.add(KindPhysical, e, "missing from live area")
			continue
		}
		if e.IsFolder() {
			continue
		}
		size, err := c.contentStore.Size(ctx, content.AreaLive, e.Path)
		if err != nil {
			return err
		}
		if size != e.Size {
			r.add(KindPhysical, e, "physical size %d, recorded %d", size, e.Size)
		}
	}

	for _, entry := range entries {
		exists, err := c.contentStore.Exists(ctx, content.AreaRecycle, entry.RecyclePath)
		if err != nil {
			return err
		}
		if !exists {
			r.Findings = append(r.Findings, Finding{
				Kind:     KindPhysical,
				Owner:    r.Username,
				EntityID: entry.OriginID,
				Path:     entry.RecyclePath,
				Detail:   "recycle blob missing",
			})
		}
	}
	return nil
}
