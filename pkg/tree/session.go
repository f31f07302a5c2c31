package tree

import (
	"maps"
	"sync"

	"github.com/google/uuid"
)

// TermUsed is the session term caching the user's consumed bytes.
const TermUsed = "used"

// Session is the per-login view of an account: its roots and the terms
// (role limits plus the used counter) cached at login.
//
// Thread Safety:
// Terms are guarded by a mutex; a session may be shared by concurrent
// requests of the same user.
type Session struct {
	Username      string
	Role          string
	RootID        uuid.UUID
	RecycleRootID uuid.UUID

	mu    sync.Mutex
	terms map[string]int64
}

// NewSession builds a session. terms is copied.
func NewSession(username, role string, rootID, recycleRootID uuid.UUID, terms map[string]int64) *Session {
	t := make(map[string]int64, len(terms)+1)
	maps.Copy(t, terms)
	return &Session{
		Username:      username,
		Role:          role,
		RootID:        rootID,
		RecycleRootID: recycleRootID,
		terms:         t,
	}
}

// Term returns the value of key and whether it is set.
func (s *Session) Term(key string) (int64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.terms[key]
	return v, ok
}

// Terms returns a copy of all terms.
func (s *Session) Terms() map[string]int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return maps.Clone(s.terms)
}

// Used returns the cached used counter.
func (s *Session) Used() int64 {
	v, _ := s.Term(TermUsed)
	return v
}

// AddUsed adjusts the cached used counter by delta.
func (s *Session) AddUsed(delta int64) {
	s.mu.Lock()
	s.terms[TermUsed] += delta
	s.mu.Unlock()
}
