// Package tree implements the file-tree consistency engine.
//
// A Mutator keeps three things in step: the logical tree in the metadata
// store, the cached folder sizes, and the physical layout in the content
// store. Each mutation runs in one metadata transaction whose last action
// is the physical step. If that step fails the transaction is aborted and
// the error is reported as ErrFatalStorage. If the commit is rejected after
// the physical step succeeded, the step is undone; only an undo that fails
// is reported as ErrFatalStorage.
//
// Upload bodies are streamed to a staging file before the transaction
// starts, so the physical step of every mutation is a rename, mkdir or
// remove. Mutations of one owner are serialized; different owners never
// wait for each other.
//
// Physical layout mirrors logical paths exactly:
//
//	live/<root token>/docs/report.pdf
//	recycle/<root token>/<entry uuid>
//	live/.staging/<uuid>     upload bodies not yet committed
//	recycle/.staging/<uuid>  purged blobs awaiting removal
package tree

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/marmos91/dittodisk/internal/logger"
	"github.com/marmos91/dittodisk/pkg/metrics"
	"github.com/marmos91/dittodisk/pkg/store/content"
	"github.com/marmos91/dittodisk/pkg/store/metadata"
)

// Config configures a Mutator.
type Config struct {
	// Secret keys the per-user root token derivation. Required.
	Secret []byte

	// Metrics records operation outcomes (default: no-op)
	Metrics metrics.TreeMetrics

	// Clock overrides time.Now in tests
	Clock func() time.Time
}

// Mutator is the tree engine.
//
// Thread Safety:
// Safe for concurrent use. Mutations of the same owner hold that owner's
// lock for the metadata transaction and its physical step; reads take no
// lock at all.
type Mutator struct {
	store   metadata.MetadataStore
	content content.ContentStore
	alloc   *PathAllocator
	guard   Guard
	metrics metrics.TreeMetrics
	now     func() time.Time

	ownerLocks sync.Map // username -> *sync.Mutex
}

// New creates a tree engine over the given stores.
func New(store metadata.MetadataStore, cs content.ContentStore, cfg Config) (*Mutator, error) {
	if store == nil || cs == nil {
		return nil, errors.New("tree: metadata and content stores are required")
	}
	if len(cfg.Secret) == 0 {
		return nil, errors.New("tree: secret is required")
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.NewNoopTreeMetrics()
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	return &Mutator{
		store:   store,
		content: cs,
		alloc:   NewPathAllocator(cs, cfg.Secret),
		metrics: cfg.Metrics,
		now:     cfg.Clock,
	}, nil
}

// Allocator exposes the path allocator used by the engine.
func (m *Mutator) Allocator() *PathAllocator {
	return m.alloc
}

// Store returns the metadata store.
func (m *Mutator) Store() metadata.MetadataStore {
	return m.store
}

// Content returns the content store.
func (m *Mutator) Content() content.ContentStore {
	return m.content
}

// ============================================================================
// Transaction plumbing
// ============================================================================

// stagingDir holds uncommitted upload bodies in the live area and purged
// blobs in the recycle area. User root tokens are hex, so it never clashes.
const stagingDir = ".staging"

func stagingPath() string {
	return stagingDir + "/" + uuid.NewString()
}

// lockOwner serializes mutations of one owner and returns the unlock func.
func (m *Mutator) lockOwner(owner string) func() {
	value, _ := m.ownerLocks.LoadOrStore(owner, &sync.Mutex{})
	mu := value.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

// physicalStep is one filesystem action with an optional undo.
type physicalStep struct {
	desc string
	do   func(ctx context.Context) error
	undo func(ctx context.Context) error
}

// plan collects the physical steps of a mutation. Steps run in order after
// every metadata write has been staged; cleanups run once the transaction
// has committed.
type plan struct {
	steps    []physicalStep
	done     int
	cleanups []func(ctx context.Context) error
}

func (p *plan) add(desc string, do, undo func(ctx context.Context) error) {
	p.steps = append(p.steps, physicalStep{desc: desc, do: do, undo: undo})
}

// afterCommit registers fn to run once the metadata commit succeeded.
func (p *plan) afterCommit(fn func(ctx context.Context) error) {
	p.cleanups = append(p.cleanups, fn)
}

// stepError reports the step that failed and whether rolling back the
// steps before it failed too.
type stepError struct {
	desc    string
	err     error
	undoErr error
}

func (e *stepError) Error() string {
	if e.undoErr != nil {
		return fmt.Sprintf("%v (undo: %v)", e.err, e.undoErr)
	}
	return e.err.Error()
}

func (e *stepError) Unwrap() error { return e.err }

// run executes the steps. On failure the completed steps are undone in
// reverse order and a *stepError is returned.
func (p *plan) run(ctx context.Context) error {
	for i, step := range p.steps {
		if err := step.do(ctx); err != nil {
			p.done = i
			return &stepError{desc: step.desc, err: err, undoErr: p.undo(ctx)}
		}
	}
	p.done = len(p.steps)
	return nil
}

// undo reverts the completed steps, newest first. Every undo is attempted;
// the failures are joined.
func (p *plan) undo(ctx context.Context) error {
	ctx = context.WithoutCancel(ctx)
	var errs []error
	for j := p.done - 1; j >= 0; j-- {
		step := p.steps[j]
		if step.undo == nil {
			continue
		}
		if err := step.undo(ctx); err != nil {
			logger.Error("tree: undo of %q failed: %v", step.desc, err)
			errs = append(errs, err)
		}
	}
	p.done = 0
	return errors.Join(errs...)
}

func (p *plan) cleanup(ctx context.Context) {
	ctx = context.WithoutCancel(ctx)
	for _, fn := range p.cleanups {
		if err := fn(ctx); err != nil {
			logger.Warn("tree: post-commit cleanup failed: %v", err)
		}
	}
}

// update runs fn for owner in one metadata transaction followed by the
// physical plan fn staged. Every outcome is recorded under op.
//
// The store may replay fn after a commit conflict; the physical steps of
// the rejected attempt are undone before the replay.
func (m *Mutator) update(ctx context.Context, owner, op string, fn func(tx metadata.Tx, p *plan) error) (err error) {
	start := time.Now()
	defer func() {
		m.record(op, start, err)
	}()

	unlock := m.lockOwner(owner)
	defer unlock()

	// applied is the plan whose steps ran but whose commit is unconfirmed
	var applied *plan
	err = m.store.Update(ctx, func(tx metadata.Tx) error {
		if applied != nil {
			if uerr := applied.undo(ctx); uerr != nil {
				return metadata.NewFatal(op, "undo before retry", uerr)
			}
			applied = nil
		}

		p := &plan{}
		if err := fn(tx, p); err != nil {
			return err
		}
		if err := p.run(ctx); err != nil {
			var stepErr *stepError
			errors.As(err, &stepErr)
			var se *metadata.StoreError
			if stepErr.undoErr == nil && errors.As(stepErr.err, &se) && se.Code != metadata.ErrFatalStorage {
				// The step rejected its input and nothing is left behind.
				return stepErr.err
			}
			return metadata.NewFatal(op, stepErr.desc, err)
		}
		applied = p
		return nil
	})

	switch {
	case err == nil:
		if applied != nil {
			applied.cleanup(ctx)
		}
	case applied != nil && !metadata.IsCode(err, metadata.ErrFatalStorage):
		// The commit was rejected after the physical steps ran.
		if uerr := applied.undo(ctx); uerr != nil {
			err = metadata.NewFatal(op, "commit after physical step", errors.Join(err, uerr))
		}
	}
	return err
}

// record logs and counts the outcome of op.
func (m *Mutator) record(op string, start time.Time, err error) {
	m.metrics.RecordOperation(op, time.Since(start), err)
	switch {
	case err == nil:
	case metadata.IsCode(err, metadata.ErrFatalStorage):
		m.metrics.RecordFatal(op)
		logger.Error("tree: %s: %v", op, err)
	default:
		logger.Debug("tree: %s rejected: %v", op, err)
	}
}

// view runs a read-only operation and records it under op.
func (m *Mutator) view(ctx context.Context, op string, fn func(tx metadata.Tx) error) (err error) {
	start := time.Now()
	defer func() {
		m.metrics.RecordOperation(op, time.Since(start), err)
	}()
	return m.store.View(ctx, fn)
}

// ============================================================================
// Loaders
// ============================================================================

// loadEntity returns id if it is owned by sess and live.
func loadEntity(tx metadata.Tx, sess *Session, id uuid.UUID) (*metadata.Entity, error) {
	e, err := tx.GetEntity(id)
	if err != nil {
		return nil, err
	}
	if e.Owner != sess.Username || e.Deleted {
		return nil, metadata.NewError(metadata.ErrNotFound, "entity not found", id.String())
	}
	return e, nil
}

// loadFolder is loadEntity restricted to folders.
func loadFolder(tx metadata.Tx, sess *Session, id uuid.UUID) (*metadata.Entity, error) {
	e, err := loadEntity(tx, sess, id)
	if err != nil {
		return nil, err
	}
	if !e.IsFolder() {
		return nil, metadata.NewError(metadata.ErrNotDirectory, "not a folder", e.Path)
	}
	return e, nil
}

// loadMutable is loadEntity refusing the user root.
func loadMutable(tx metadata.Tx, sess *Session, id uuid.UUID) (*metadata.Entity, error) {
	e, err := loadEntity(tx, sess, id)
	if err != nil {
		return nil, err
	}
	if e.IsRoot() {
		return nil, metadata.NewError(metadata.ErrPermissionViolation, "the root folder cannot be modified", e.Path)
	}
	return e, nil
}

// loadRecycleRoot returns the physical directory of the user's recycle bin.
func loadRecycleRoot(tx metadata.Tx, sess *Session) (*metadata.RecycleEntry, error) {
	root, err := tx.GetRecycleEntry(sess.RecycleRootID)
	if err != nil {
		return nil, err
	}
	if root.Owner != sess.Username || !root.IsRecycleRoot() {
		return nil, metadata.NewError(metadata.ErrNotFound, "recycle root not found", sess.RecycleRootID.String())
	}
	return root, nil
}

// walkDescendants visits every descendant of top, deleted or not, level by
// level. fn may modify and write the child; parent is its already visited
// parent as last written.
func walkDescendants(tx metadata.Tx, top *metadata.Entity, fn func(parent, child *metadata.Entity) error) error {
	level := []*metadata.Entity{top}
	for depth := 0; len(level) > 0; depth++ {
		if depth > maxDepth {
			return metadata.NewError(metadata.ErrInvalidArgument, "subtree too deep", top.Path)
		}
		byID := make(map[uuid.UUID]*metadata.Entity, len(level))
		ids := make([]uuid.UUID, 0, len(level))
		for _, e := range level {
			if e.IsFolder() {
				byID[e.ID] = e
				ids = append(ids, e.ID)
			}
		}
		if len(ids) == 0 {
			return nil
		}
		children, err := tx.ListChildren(ids...)
		if err != nil {
			return err
		}
		next := make([]*metadata.Entity, 0, len(children))
		for _, child := range children {
			if err := fn(byID[child.ParentID], child); err != nil {
				return err
			}
			next = append(next, child)
		}
		level = next
	}
	return nil
}

// rewritePaths re-derives the path of every descendant of top from the
// already updated top. Recycle entries of separately recycled descendants
// follow their origin.
func (m *Mutator) rewritePaths(tx metadata.Tx, top *metadata.Entity, actor string, now time.Time) error {
	return walkDescendants(tx, top, func(parent, child *metadata.Entity) error {
		child.Path = metadata.JoinPath(parent.Path, child.Name)
		child.Touch(actor, now)
		if err := tx.PutEntity(child); err != nil {
			return err
		}
		return retargetRecycleEntry(tx, child)
	})
}

// retargetRecycleEntry updates the origin path of e's own recycle entry,
// if e is a separately recycled item.
func retargetRecycleEntry(tx metadata.Tx, e *metadata.Entity) error {
	if !e.Deleted || e.TrashedBy != e.ID {
		return nil
	}
	entry, err := tx.FindRecycleEntry(e.ID)
	if err != nil {
		if metadata.IsCode(err, metadata.ErrNotFound) {
			return nil
		}
		return err
	}
	entry.OriginPath = e.Path
	return tx.PutRecycleEntry(entry)
}

// ============================================================================
// Accounts
// ============================================================================

// Provision registers username: the account, its root folder, its recycle
// root, and both physical root directories.
func (m *Mutator) Provision(ctx context.Context, username, role string) (*metadata.Account, error) {
	if username == "" || strings.ContainsAny(username, ":/\x00") {
		return nil, metadata.NewError(metadata.ErrInvalidArgument, "invalid username", username)
	}
	if role == "" {
		return nil, metadata.NewError(metadata.ErrInvalidArgument, "role is required", username)
	}

	token := m.alloc.SecretRoot(username)
	now := m.now()

	var acct *metadata.Account
	err := m.update(ctx, username, "provision", func(tx metadata.Tx, p *plan) error {
		if _, err := tx.GetAccount(username); err == nil {
			return metadata.NewError(metadata.ErrAlreadyExists, "account already exists", username)
		} else if !metadata.IsCode(err, metadata.ErrNotFound) {
			return err
		}

		root := &metadata.Entity{
			ID:        uuid.New(),
			Name:      token,
			Type:      metadata.FileTypeFolder,
			Path:      token,
			Owner:     username,
			CreatedAt: now,
			UpdatedAt: now,
			CreatedBy: username,
			UpdatedBy: username,
		}
		if err := tx.PutEntity(root); err != nil {
			return err
		}

		recycleRoot := &metadata.RecycleEntry{
			ID:          uuid.New(),
			RecyclePath: token,
			Owner:       username,
			CreatedAt:   now,
		}
		if err := tx.PutRecycleEntry(recycleRoot); err != nil {
			return err
		}

		acct = &metadata.Account{
			Username:      username,
			Role:          role,
			RootID:        root.ID,
			RecycleRootID: recycleRoot.ID,
			CreatedAt:     now,
		}
		if err := tx.CreateAccount(acct); err != nil {
			return err
		}

		p.add("mkdir live root",
			func(ctx context.Context) error { return m.content.Mkdir(ctx, content.AreaLive, token) },
			func(ctx context.Context) error { return m.content.Remove(ctx, content.AreaLive, token) })
		p.add("mkdir recycle root",
			func(ctx context.Context) error { return m.content.Mkdir(ctx, content.AreaRecycle, token) },
			func(ctx context.Context) error { return m.content.Remove(ctx, content.AreaRecycle, token) })
		return nil
	})
	if err != nil {
		return nil, err
	}

	logger.Info("Provisioned account %s (role %s)", username, role)
	return acct, nil
}

// StartSession loads the account of username and caches its role limits
// and used counter.
func (m *Mutator) StartSession(ctx context.Context, username string) (*Session, error) {
	var sess *Session
	err := m.view(ctx, "start_session", func(tx metadata.Tx) error {
		acct, err := tx.GetAccount(username)
		if err != nil {
			return err
		}
		limits, err := tx.GetRoleLimits(acct.Role)
		if err != nil {
			return err
		}
		root, err := tx.GetEntity(acct.RootID)
		if err != nil {
			return err
		}

		terms := make(map[string]int64, len(limits)+1)
		for k, v := range limits {
			terms[k] = v
		}
		terms[TermUsed] = root.Size

		sess = NewSession(acct.Username, acct.Role, acct.RootID, acct.RecycleRootID, terms)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return sess, nil
}

func describe(e *metadata.Entity) string {
	return fmt.Sprintf("%s %s", e.Type, e.Path)
}
