package memory

import (
	"maps"
	"slices"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/marmos91/dittodisk/pkg/store/metadata"
)

type (
	childCopyKey  struct{ id uuid.UUID }
	accessCopyKey struct{ key string }
	limitCopyKey  struct{ role string }
)

// memoryTx operates on one state generation.
type memoryTx struct {
	st       *state
	writable bool

	// copied tracks nested containers already cloned in this transaction.
	copied map[any]bool
}

var _ metadata.Tx = (*memoryTx)(nil)

func (t *memoryTx) checkWritable() error {
	if !t.writable {
		return metadata.NewError(metadata.ErrInvalidArgument, "write in read-only transaction", "")
	}
	return nil
}

// childSet returns a writable children set for parent.
func (t *memoryTx) childSet(parent uuid.UUID) map[uuid.UUID]struct{} {
	k := childCopyKey{parent}
	set := t.st.children[parent]
	if !t.copied[k] {
		if set == nil {
			set = make(map[uuid.UUID]struct{})
		} else {
			set = maps.Clone(set)
		}
		t.st.children[parent] = set
		t.copied[k] = true
	}
	return set
}

// ============================================================================
// Entities
// ============================================================================

func (t *memoryTx) GetEntity(id uuid.UUID) (*metadata.Entity, error) {
	e, ok := t.st.entities[id]
	if !ok {
		return nil, metadata.NewError(metadata.ErrNotFound, "entity not found", id.String())
	}
	return e.Clone(), nil
}

func (t *memoryTx) PutEntity(e *metadata.Entity) error {
	if err := t.checkWritable(); err != nil {
		return err
	}
	if e.ID == uuid.Nil {
		return metadata.NewError(metadata.ErrInvalidArgument, "entity id is required", e.Name)
	}

	nk := nameKey{e.ParentID, e.Name}
	if !e.IsRoot() && !e.Deleted {
		if holder, ok := t.st.names[nk]; ok && holder != e.ID {
			return metadata.NewError(metadata.ErrNameCollision, "name already in use", e.Path)
		}
	}

	if old, ok := t.st.entities[e.ID]; ok && !old.IsRoot() {
		if old.ParentID != e.ParentID {
			delete(t.childSet(old.ParentID), old.ID)
		}
		if !old.Deleted && (e.Deleted || old.ParentID != e.ParentID || old.Name != e.Name) {
			delete(t.st.names, nameKey{old.ParentID, old.Name})
		}
	}

	t.st.entities[e.ID] = e.Clone()
	if !e.IsRoot() {
		t.childSet(e.ParentID)[e.ID] = struct{}{}
		if !e.Deleted {
			t.st.names[nk] = e.ID
		}
	}
	return nil
}

func (t *memoryTx) DeleteEntity(id uuid.UUID) error {
	if err := t.checkWritable(); err != nil {
		return err
	}
	e, ok := t.st.entities[id]
	if !ok {
		return metadata.NewError(metadata.ErrNotFound, "entity not found", id.String())
	}

	if !e.IsRoot() {
		delete(t.childSet(e.ParentID), id)
		if !e.Deleted {
			delete(t.st.names, nameKey{e.ParentID, e.Name})
		}
	}
	delete(t.st.entities, id)

	if entryID, ok := t.st.recycleByOrigin[id]; ok {
		if err := t.DeleteRecycleEntry(entryID); err != nil {
			return err
		}
	}
	for key, link := range t.st.shares {
		if link.FileID == id {
			if err := t.DeleteShareLink(key); err != nil {
				return err
			}
		}
	}
	return nil
}

func (t *memoryTx) LookupChild(parentID uuid.UUID, name string) (*metadata.Entity, error) {
	id, ok := t.st.names[nameKey{parentID, name}]
	if !ok {
		return nil, metadata.NewError(metadata.ErrNotFound, "entity not found", name)
	}
	return t.GetEntity(id)
}

func (t *memoryTx) ListChildren(parentIDs ...uuid.UUID) ([]*metadata.Entity, error) {
	var out []*metadata.Entity
	for _, pid := range parentIDs {
		ids := slices.Collect(maps.Keys(t.st.children[pid]))
		sortIDs(ids)
		for _, id := range ids {
			out = append(out, t.st.entities[id].Clone())
		}
	}
	return out, nil
}

func (t *memoryTx) ListEntities(owner string) ([]*metadata.Entity, error) {
	var out []*metadata.Entity
	for _, e := range t.st.entities {
		if e.Owner == owner {
			out = append(out, e.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID.String() < out[j].ID.String() })
	return out, nil
}

// ============================================================================
// Recycle entries
// ============================================================================

func (t *memoryTx) GetRecycleEntry(id uuid.UUID) (*metadata.RecycleEntry, error) {
	r, ok := t.st.recycle[id]
	if !ok {
		return nil, metadata.NewError(metadata.ErrNotFound, "recycle entry not found", id.String())
	}
	c := *r
	return &c, nil
}

func (t *memoryTx) FindRecycleEntry(originID uuid.UUID) (*metadata.RecycleEntry, error) {
	id, ok := t.st.recycleByOrigin[originID]
	if !ok {
		return nil, metadata.NewError(metadata.ErrNotFound, "recycle entry not found", originID.String())
	}
	return t.GetRecycleEntry(id)
}

func (t *memoryTx) PutRecycleEntry(entry *metadata.RecycleEntry) error {
	if err := t.checkWritable(); err != nil {
		return err
	}
	if entry.ID == uuid.Nil {
		return metadata.NewError(metadata.ErrInvalidArgument, "recycle entry id is required", entry.RecyclePath)
	}
	if old, ok := t.st.recycle[entry.ID]; ok && old.OriginID != uuid.Nil && old.OriginID != entry.OriginID {
		delete(t.st.recycleByOrigin, old.OriginID)
	}
	c := *entry
	t.st.recycle[entry.ID] = &c
	if entry.OriginID != uuid.Nil {
		t.st.recycleByOrigin[entry.OriginID] = entry.ID
	}
	return nil
}

func (t *memoryTx) DeleteRecycleEntry(id uuid.UUID) error {
	if err := t.checkWritable(); err != nil {
		return err
	}
	r, ok := t.st.recycle[id]
	if !ok {
		return metadata.NewError(metadata.ErrNotFound, "recycle entry not found", id.String())
	}
	if r.OriginID != uuid.Nil {
		delete(t.st.recycleByOrigin, r.OriginID)
	}
	delete(t.st.recycle, id)
	return nil
}

func (t *memoryTx) ListRecycleEntries(owner string) ([]*metadata.RecycleEntry, error) {
	var out []*metadata.RecycleEntry
	for _, r := range t.st.recycle {
		if r.Owner == owner && !r.IsRecycleRoot() {
			c := *r
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID.String() < out[j].ID.String() })
	return out, nil
}

// ============================================================================
// Share links and access records
// ============================================================================

func (t *memoryTx) GetShareLink(key string) (*metadata.ShareLink, error) {
	l, ok := t.st.shares[key]
	if !ok {
		return nil, metadata.NewError(metadata.ErrNotFound, "share link not found", key)
	}
	c := *l
	return &c, nil
}

func (t *memoryTx) PutShareLink(link *metadata.ShareLink) error {
	if err := t.checkWritable(); err != nil {
		return err
	}
	if link.Key == "" {
		return metadata.NewError(metadata.ErrInvalidArgument, "share key is required", "")
	}
	c := *link
	t.st.shares[link.Key] = &c
	return nil
}

func (t *memoryTx) DeleteShareLink(key string) error {
	if err := t.checkWritable(); err != nil {
		return err
	}
	if _, ok := t.st.shares[key]; !ok {
		return metadata.NewError(metadata.ErrNotFound, "share link not found", key)
	}
	delete(t.st.shares, key)
	delete(t.st.access, key)
	return nil
}

func (t *memoryTx) filterShareLinks(keep func(*metadata.ShareLink) bool) []*metadata.ShareLink {
	var out []*metadata.ShareLink
	for _, l := range t.st.shares {
		if keep(l) {
			c := *l
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

func (t *memoryTx) ListShareLinks(owner string) ([]*metadata.ShareLink, error) {
	return t.filterShareLinks(func(l *metadata.ShareLink) bool { return l.Owner == owner }), nil
}

func (t *memoryTx) ListShareLinksForFile(fileID uuid.UUID) ([]*metadata.ShareLink, error) {
	return t.filterShareLinks(func(l *metadata.ShareLink) bool { return l.FileID == fileID }), nil
}

func (t *memoryTx) PutAccessRecord(rec *metadata.AccessRecord) error {
	if err := t.checkWritable(); err != nil {
		return err
	}
	if _, ok := t.st.shares[rec.LinkKey]; !ok {
		return metadata.NewError(metadata.ErrNotFound, "share link not found", rec.LinkKey)
	}
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}

	k := accessCopyKey{rec.LinkKey}
	list := t.st.access[rec.LinkKey]
	if !t.copied[k] {
		list = slices.Clone(list)
		t.copied[k] = true
	}
	c := *rec
	t.st.access[rec.LinkKey] = append(list, &c)
	return nil
}

func (t *memoryTx) ListAccessRecords(key string) ([]*metadata.AccessRecord, error) {
	list := t.st.access[key]
	out := make([]*metadata.AccessRecord, 0, len(list))
	for _, r := range list {
		c := *r
		out = append(out, &c)
	}
	return out, nil
}

// ============================================================================
// Accounts and role limits
// ============================================================================

func (t *memoryTx) GetAccount(username string) (*metadata.Account, error) {
	a, ok := t.st.accounts[username]
	if !ok {
		return nil, metadata.NewError(metadata.ErrNotFound, "account not found", username)
	}
	c := *a
	return &c, nil
}

func (t *memoryTx) CreateAccount(acct *metadata.Account) error {
	if err := t.checkWritable(); err != nil {
		return err
	}
	if acct.Username == "" || strings.Contains(acct.Username, ":") {
		return metadata.NewError(metadata.ErrInvalidArgument, "invalid username", acct.Username)
	}
	if _, ok := t.st.accounts[acct.Username]; ok {
		return metadata.NewError(metadata.ErrAlreadyExists, "account already exists", acct.Username)
	}
	c := *acct
	t.st.accounts[acct.Username] = &c
	return nil
}

func (t *memoryTx) ListAccounts() ([]*metadata.Account, error) {
	out := make([]*metadata.Account, 0, len(t.st.accounts))
	for _, a := range t.st.accounts {
		c := *a
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	return out, nil
}

func (t *memoryTx) GetRoleLimits(role string) (metadata.RoleLimits, error) {
	limits := make(metadata.RoleLimits, len(t.st.limits[role]))
	maps.Copy(limits, t.st.limits[role])
	return limits, nil
}

func (t *memoryTx) PutRoleLimit(role, key string, value int64) error {
	if err := t.checkWritable(); err != nil {
		return err
	}
	if role == "" || key == "" || strings.Contains(role, ":") {
		return metadata.NewError(metadata.ErrInvalidArgument, "invalid role limit", role+"/"+key)
	}

	k := limitCopyKey{role}
	limits := t.st.limits[role]
	if !t.copied[k] {
		limits = maps.Clone(limits)
		if limits == nil {
			limits = make(metadata.RoleLimits)
		}
		t.copied[k] = true
	}
	limits[key] = value
	t.st.limits[role] = limits
	return nil
}

func sortIDs(ids []uuid.UUID) {
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })
}
