package tree

import (
	"fmt"

	"github.com/marmos91/dittodisk/pkg/store/metadata"
)

// Guard admits uploads against the session's storage limit.
type Guard struct{}

// Admit rejects incoming bytes that would push used past the "storage"
// term. A session without a storage term is denied. Admit never mutates
// the session; the caller adds the bytes once the upload commits.
func (Guard) Admit(sess *Session, incoming int64) error {
	if incoming < 0 {
		return metadata.NewError(metadata.ErrInvalidArgument, "negative size", "")
	}

	limit, ok := sess.Term(metadata.LimitStorage)
	if !ok {
		return metadata.NewError(metadata.ErrQuotaExceeded, "no storage limit for role "+sess.Role, "")
	}

	used := sess.Used()
	if incoming > limit-used {
		return metadata.NewError(metadata.ErrQuotaExceeded,
			fmt.Sprintf("storage limit reached: used %d + incoming %d > limit %d", used, incoming, limit), "")
	}
	return nil
}
