// Package claims resolves concurrent claim attempts on a collectible.
// The sole correctness mechanism is one conditional update against the
// store; no application-level lock exists, so the at-most-one-winner
// guarantee holds across server processes, not just goroutines.
package claims

import (
	"context"
	"errors"
	"log"
	"time"

	"citypulse.live/internal/auditlog"
	"citypulse.live/internal/metrics"
	"citypulse.live/internal/store"
)

// Loser reasons. Diagnostic only, for user messaging; never consulted
// for correctness.
const (
	ReasonAlreadyClaimed = "already_claimed"
	ReasonExpired        = "expired"
	ReasonNotFound       = "not_found"
)

type Result struct {
	Granted     bool
	Reason      string
	Collectible *store.Collectible
}

type Resolver struct {
	st    store.Store
	log   *log.Logger
	audit *auditlog.Writer
	met   *metrics.Metrics
	now   func() time.Time
}

func NewResolver(st store.Store, logger *log.Logger, audit *auditlog.Writer, met *metrics.Metrics) *Resolver {
	return &Resolver{st: st, log: logger, audit: audit, met: met, now: time.Now}
}

// Attempt issues the atomic conditional update:
//
//	claimed_by unset AND is_active AND expires_at > now
//	  -> set claimed_by = claimantID, is_active = false
//
// A matched update is the only code path that can ever grant a given
// collectible. Retrying is safe: the condition is write-once, so a
// retried attempt by the original loser fails again.
func (r *Resolver) Attempt(ctx context.Context, collectibleID, claimantID string) (Result, error) {
	now := r.now()
	active := true
	inactive := false

	c, err := r.st.UpdateCollectible(ctx, collectibleID,
		store.CollectibleCond{Unclaimed: true, Active: &active, ExpiresAfter: &now},
		store.CollectibleSet{ClaimedBy: &claimantID, ClaimedAt: &now, Active: &inactive},
	)
	if err != nil {
		return Result{}, err
	}

	if c != nil {
		r.met.ClaimsGranted.Inc()
		if err := r.st.AddInventory(ctx, store.InventoryItem{
			UserID:        claimantID,
			CollectibleID: c.ID,
			EventID:       c.EventID,
			ClaimedAt:     now,
		}); err != nil {
			// The grant already committed; inventory is bookkeeping.
			r.log.Printf("inventory write for %s: %v", claimantID, err)
		}
		if err := r.audit.Write(auditlog.Entry{
			Kind: auditlog.KindClaimGranted, CollectibleID: c.ID,
			EventID: c.EventID, UserID: claimantID, Rarity: c.Rarity,
		}); err != nil {
			r.log.Printf("audit write: %v", err)
		}
		return Result{Granted: true, Collectible: c}, nil
	}

	reason := r.classify(ctx, collectibleID, now)
	r.met.ClaimsDenied.WithLabelValues(reason).Inc()
	if err := r.audit.Write(auditlog.Entry{
		Kind: auditlog.KindClaimDenied, CollectibleID: collectibleID,
		UserID: claimantID, Reason: reason,
	}); err != nil {
		r.log.Printf("audit write: %v", err)
	}
	return Result{Granted: false, Reason: reason}, nil
}

// classify does a best-effort secondary read to explain a lost claim.
func (r *Resolver) classify(ctx context.Context, collectibleID string, now time.Time) string {
	c, err := r.st.GetCollectible(ctx, collectibleID)
	if errors.Is(err, store.ErrNotFound) {
		return ReasonNotFound
	}
	if err != nil {
		// The attempt already lost; the read only refines the message.
		return ReasonNotFound
	}
	switch {
	case c.ClaimedBy != "":
		return ReasonAlreadyClaimed
	case !c.ExpiresAt.After(now), !c.Active:
		return ReasonExpired
	default:
		// Raced with a concurrent writer between update and read.
		return ReasonAlreadyClaimed
	}
}

// Inventory lists a user's granted claims, most recent first.
func (r *Resolver) Inventory(ctx context.Context, userID string) ([]store.InventoryItem, error) {
	return r.st.Inventory(ctx, userID)
}
