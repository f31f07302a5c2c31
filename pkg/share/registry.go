// Package share issues and resolves expiring share links to single files.
//
// A link is addressed by a short random key. Holders may present either the
// raw key or the signed token returned at issuance; anything longer than a
// raw key is treated as signed and verified before lookup. Unknown keys and
// forged tokens resolve to ErrNotFound, while links that exist but expired
// or whose file was recycled resolve to ErrGone, so clients can tell a bad
// link from a lapsed one.
package share

import (
	"cmp"
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/marmos91/dittodisk/internal/logger"
	"github.com/marmos91/dittodisk/internal/ratelimiter"
	"github.com/marmos91/dittodisk/pkg/metrics"
	"github.com/marmos91/dittodisk/pkg/store/metadata"
	"github.com/marmos91/dittodisk/pkg/tree"
)

const (
	// DefaultValidity is how long a new link stays valid.
	DefaultValidity = 7 * 24 * time.Hour

	// DefaultKeyBytes is the random key length in bytes (hex doubles it).
	DefaultKeyBytes = 3

	// MaxSummaryLength bounds the owner's link description.
	MaxSummaryLength = 100

	issueAttempts = 32
)

// Config configures a Registry.
type Config struct {
	// Secret keys token signatures. Required.
	Secret []byte

	// Validity is the lifetime of new links (default: 168h)
	Validity time.Duration

	// KeyBytes is the random key length (default: 3)
	KeyBytes int

	// RateLimit throttles Resolve per caller origin (default: unlimited)
	RateLimit ratelimiter.Config

	// Metrics records issuance and resolution outcomes (default: no-op)
	Metrics metrics.ShareMetrics

	// Clock overrides time.Now in tests
	Clock func() time.Time
}

// Accessor identifies who resolves a link. Username is set for
// authenticated callers, RemoteAddr otherwise.
type Accessor struct {
	Username   string
	RemoteAddr string
}

func (a Accessor) origin() string {
	if a.Username != "" {
		return "user:" + a.Username
	}
	return "addr:" + a.RemoteAddr
}

// Resolution is a successfully resolved link.
type Resolution struct {
	Link *metadata.ShareLink
	File *metadata.Entity
}

// Patch updates a link. Nil fields are left unchanged.
type Patch struct {
	// ValidDays restarts the validity window at now + ValidDays days
	ValidDays *int

	Summary *string
}

// Registry manages share links.
//
// Thread Safety: Safe for concurrent use.
type Registry struct {
	store    metadata.MetadataStore
	signer   *Signer
	validity time.Duration
	keyBytes int
	limiter  *ratelimiter.Keyed
	metrics  metrics.ShareMetrics
	now      func() time.Time
}

// NewRegistry creates a registry over store.
func NewRegistry(store metadata.MetadataStore, cfg Config) (*Registry, error) {
	if len(cfg.Secret) == 0 {
		return nil, errors.New("share: secret is required")
	}
	if cfg.Validity <= 0 {
		cfg.Validity = DefaultValidity
	}
	if cfg.KeyBytes <= 0 {
		cfg.KeyBytes = DefaultKeyBytes
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.NewNoopShareMetrics()
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	return &Registry{
		store:    store,
		signer:   NewSigner(cfg.Secret),
		validity: cfg.Validity,
		keyBytes: cfg.KeyBytes,
		limiter:  ratelimiter.New(cfg.RateLimit),
		metrics:  cfg.Metrics,
		now:      cfg.Clock,
	}, nil
}

// KeyLength returns the length of a raw key in characters.
func (r *Registry) KeyLength() int {
	return 2 * r.keyBytes
}

func (r *Registry) newKey() (string, error) {
	b := make([]byte, r.keyBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate share key: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// Issue creates a link to fileID, retrying key generation until the key is
// unused.
func (r *Registry) Issue(ctx context.Context, sess *tree.Session, fileID uuid.UUID) (*metadata.ShareLink, error) {
	var link *metadata.ShareLink
	err := r.store.Update(ctx, func(tx metadata.Tx) error {
		file, err := tx.GetEntity(fileID)
		if err != nil {
			return err
		}
		if file.Owner != sess.Username || file.Deleted {
			return metadata.NewError(metadata.ErrNotFound, "file not found", fileID.String())
		}
		if file.IsFolder() {
			return metadata.NewError(metadata.ErrInvalidArgument, "only files can be shared", file.Path)
		}

		for range issueAttempts {
			key, err := r.newKey()
			if err != nil {
				return err
			}
			if _, err := tx.GetShareLink(key); err == nil {
				continue
			} else if !metadata.IsCode(err, metadata.ErrNotFound) {
				return err
			}

			now := r.now()
			link = &metadata.ShareLink{
				Key:       key,
				Signature: r.signer.Sign(key),
				FileID:    file.ID,
				Owner:     sess.Username,
				ExpiresAt: now.Add(r.validity),
				CreatedAt: now,
				UpdatedAt: now,
			}
			return tx.PutShareLink(link)
		}
		return metadata.NewError(metadata.ErrAlreadyExists, "no free share key", "")
	})
	if err != nil {
		return nil, err
	}

	r.metrics.RecordIssued()
	logger.Debug("share: %s issued %s", sess.Username, link.Key)
	return link, nil
}

// Resolve looks up token and records the access.
func (r *Registry) Resolve(ctx context.Context, token string, who Accessor) (res *Resolution, err error) {
	defer func() {
		r.metrics.RecordResolution(outcome(err))
	}()

	if token == "" {
		return nil, metadata.NewError(metadata.ErrInvalidArgument, "empty share token", "")
	}
	if !r.limiter.Allow(who.origin()) {
		return nil, metadata.NewError(metadata.ErrThrottled, "too many share lookups", who.origin())
	}

	key := token
	if len(token) > r.KeyLength() {
		if key, err = r.signer.Unsign(token); err != nil {
			return nil, metadata.NewError(metadata.ErrNotFound, "share link not found", "")
		}
	}

	err = r.store.Update(ctx, func(tx metadata.Tx) error {
		link, err := tx.GetShareLink(key)
		if err != nil {
			return err
		}
		file, err := tx.GetEntity(link.FileID)
		if metadata.IsCode(err, metadata.ErrNotFound) {
			return metadata.NewError(metadata.ErrGone, "shared file no longer exists", key)
		}
		if err != nil {
			return err
		}

		now := r.now()
		if link.Expired(now) || file.Deleted {
			return metadata.NewError(metadata.ErrGone, "share link expired", key)
		}

		if err := tx.PutAccessRecord(&metadata.AccessRecord{
			LinkKey:    key,
			Username:   who.Username,
			RemoteAddr: remoteAddr(who),
			AccessedAt: now,
		}); err != nil {
			return err
		}

		res = &Resolution{Link: link, File: file}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

func remoteAddr(who Accessor) string {
	if who.Username != "" {
		return ""
	}
	return who.RemoteAddr
}

func outcome(err error) string {
	switch {
	case err == nil:
		return metrics.ShareResolved
	case metadata.IsCode(err, metadata.ErrGone):
		return metrics.ShareGone
	case metadata.IsCode(err, metadata.ErrThrottled):
		return metrics.ShareThrottled
	default:
		return metrics.ShareNotFound
	}
}

// loadOwned returns key if it belongs to sess and its file is live.
func loadOwned(tx metadata.Tx, sess *tree.Session, key string) (*metadata.ShareLink, error) {
	link, err := tx.GetShareLink(key)
	if err != nil {
		return nil, err
	}
	if link.Owner != sess.Username {
		return nil, metadata.NewError(metadata.ErrNotFound, "share link not found", key)
	}
	file, err := tx.GetEntity(link.FileID)
	if err != nil {
		return nil, err
	}
	if file.Deleted {
		return nil, metadata.NewError(metadata.ErrNotFound, "share link not found", key)
	}
	return link, nil
}

// List returns the user's links whose file is live, newest first.
func (r *Registry) List(ctx context.Context, sess *tree.Session) ([]*metadata.ShareLink, error) {
	var out []*metadata.ShareLink
	err := r.store.View(ctx, func(tx metadata.Tx) error {
		links, err := tx.ListShareLinks(sess.Username)
		if err != nil {
			return err
		}
		for _, link := range links {
			file, err := tx.GetEntity(link.FileID)
			if err != nil {
				return err
			}
			if !file.Deleted {
				out = append(out, link)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	slices.SortStableFunc(out, func(a, b *metadata.ShareLink) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.Key, b.Key)
	})
	return out, nil
}

// Update applies patch to the link key.
func (r *Registry) Update(ctx context.Context, sess *tree.Session, key string, patch Patch) (*metadata.ShareLink, error) {
	if patch.ValidDays != nil && *patch.ValidDays <= 0 {
		return nil, metadata.NewError(metadata.ErrInvalidArgument, "validity must be at least one day", key)
	}
	if patch.Summary != nil && len(*patch.Summary) > MaxSummaryLength {
		return nil, metadata.NewError(metadata.ErrInvalidArgument,
			fmt.Sprintf("summary exceeds %d bytes", MaxSummaryLength), key)
	}

	var link *metadata.ShareLink
	err := r.store.Update(ctx, func(tx metadata.Tx) error {
		var err error
		if link, err = loadOwned(tx, sess, key); err != nil {
			return err
		}
		now := r.now()
		if patch.ValidDays != nil {
			link.ExpiresAt = now.Add(time.Duration(*patch.ValidDays) * 24 * time.Hour)
		}
		if patch.Summary != nil {
			link.Summary = *patch.Summary
		}
		link.UpdatedAt = now
		return tx.PutShareLink(link)
	})
	if err != nil {
		return nil, err
	}
	return link, nil
}

// Remove deletes the listed links the user owns and returns how many were
// removed. Keys that are unknown or foreign are skipped.
func (r *Registry) Remove(ctx context.Context, sess *tree.Session, keys []string) (int, error) {
	if len(keys) == 0 {
		return 0, metadata.NewError(metadata.ErrInvalidArgument, "no share keys given", "")
	}

	removed := 0
	err := r.store.Update(ctx, func(tx metadata.Tx) error {
		removed = 0
		for _, key := range keys {
			if _, err := loadOwned(tx, sess, key); err != nil {
				if metadata.IsCode(err, metadata.ErrNotFound) {
					continue
				}
				return err
			}
			if err := tx.DeleteShareLink(key); err != nil {
				return err
			}
			removed++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return removed, nil
}

// Accesses returns the access log of one of the user's links.
func (r *Registry) Accesses(ctx context.Context, sess *tree.Session, key string) ([]*metadata.AccessRecord, error) {
	var out []*metadata.AccessRecord
	err := r.store.View(ctx, func(tx metadata.Tx) error {
		if _, err := loadOwned(tx, sess, key); err != nil {
			return err
		}
		var err error
		out, err = tx.ListAccessRecords(key)
		return err
	})
	return out, err
}
