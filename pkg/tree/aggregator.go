package tree

import (
	"time"

	"github.com/google/uuid"
	"github.com/marmos91/dittodisk/pkg/store/metadata"
)

// maxDepth bounds ancestor walks so a corrupt parent cycle fails instead of
// looping forever.
const maxDepth = 4096

// Scope selects whether a delta reaches the user root.
type Scope int

const (
	// IncludeRoot applies the delta to the root too; used when the user's
	// storage consumption changes (upload, move, purge).
	IncludeRoot Scope = iota

	// ExcludeRoot stops below the root; used by recycle and restore, which
	// change visible folder sizes but not consumption.
	ExcludeRoot
)

// Ancestors returns the chain from start up to and including the user root.
func Ancestors(tx metadata.Tx, start uuid.UUID) ([]*metadata.Entity, error) {
	var chain []*metadata.Entity
	id := start
	for range maxDepth {
		e, err := tx.GetEntity(id)
		if err != nil {
			return nil, err
		}
		chain = append(chain, e)
		if e.IsRoot() {
			return chain, nil
		}
		id = e.ParentID
	}
	return nil, metadata.NewError(metadata.ErrInvalidArgument, "ancestor chain too deep", start.String())
}

// SizeDelta accumulates size changes per folder so each touched folder is
// written once, however many chains cross it.
type SizeDelta struct {
	net   map[uuid.UUID]int64
	order []uuid.UUID
}

// NewSizeDelta returns an empty accumulator.
func NewSizeDelta() *SizeDelta {
	return &SizeDelta{net: make(map[uuid.UUID]int64)}
}

// Add adds delta to every folder of chain, skipping the root unless scope
// is IncludeRoot.
func (d *SizeDelta) Add(chain []*metadata.Entity, delta int64, scope Scope) {
	if delta == 0 {
		return
	}
	for _, e := range chain {
		if e.IsRoot() && scope == ExcludeRoot {
			continue
		}
		if _, seen := d.net[e.ID]; !seen {
			d.order = append(d.order, e.ID)
		}
		d.net[e.ID] += delta
	}
}

// Net returns the accumulated delta for id.
func (d *SizeDelta) Net(id uuid.UUID) int64 {
	return d.net[id]
}

// Touched returns the folders with a non-zero net delta, in first-seen order.
func (d *SizeDelta) Touched() []uuid.UUID {
	var ids []uuid.UUID
	for _, id := range d.order {
		if d.net[id] != 0 {
			ids = append(ids, id)
		}
	}
	return ids
}

// Apply writes the net deltas. Folders are re-read inside tx so earlier
// writes in the same transaction are preserved.
func (d *SizeDelta) Apply(tx metadata.Tx, actor string, now time.Time) error {
	for _, id := range d.Touched() {
		e, err := tx.GetEntity(id)
		if err != nil {
			return err
		}
		e.Size += d.net[id]
		e.Touch(actor, now)
		if err := tx.PutEntity(e); err != nil {
			return err
		}
	}
	return nil
}
