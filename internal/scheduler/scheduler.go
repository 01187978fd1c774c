// Package scheduler runs the two recurring lifecycle duties: dropping
// new collectibles into active events and sweeping expired ones. Both
// duties go through the store's conditional update, so the sweep can
// never touch a collectible a claim already deactivated, and vice
// versa: whichever conditional update lands first makes the other a
// no-op.
package scheduler

import (
	"context"
	"log"
	"math"
	"math/rand"
	"sync"
	"time"

	"citypulse.live/internal/auditlog"
	"citypulse.live/internal/metrics"
	"citypulse.live/internal/protocol"
	"citypulse.live/internal/registry"
	"citypulse.live/internal/store"
)

const sweepBatch = 500

type Scheduler struct {
	st    store.Store
	reg   *registry.Registry
	log   *log.Logger
	audit *auditlog.Writer
	met   *metrics.Metrics

	tune       DropTuning
	dropEvery  time.Duration
	sweepEvery time.Duration

	rng *rand.Rand // drop duty only; single goroutine
	now func() time.Time
}

func New(st store.Store, reg *registry.Registry, logger *log.Logger, audit *auditlog.Writer, met *metrics.Metrics,
	tune DropTuning, dropEvery, sweepEvery time.Duration) *Scheduler {
	return &Scheduler{
		st:         st,
		reg:        reg,
		log:        logger,
		audit:      audit,
		met:        met,
		tune:       tune,
		dropEvery:  dropEvery,
		sweepEvery: sweepEvery,
		rng:        rand.New(rand.NewSource(time.Now().UnixNano())),
		now:        time.Now,
	}
}

// Run drives both duties until ctx is cancelled. Each duty has its own
// ticker and goroutine: a slow or failing cycle of one never delays or
// crashes the other, and a failed cycle is logged and skipped; the
// next tick proceeds on schedule.
func (s *Scheduler) Run(ctx context.Context) {
	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		t := time.NewTicker(s.dropEvery)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				if n, err := s.DropOnce(ctx); err != nil {
					s.log.Printf("drop duty: %v", err)
				} else if n > 0 {
					s.log.Printf("dropped %d collectible(s)", n)
				}
			}
		}
	}()

	go func() {
		defer wg.Done()
		t := time.NewTicker(s.sweepEvery)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				if n, err := s.SweepOnce(ctx); err != nil {
					s.log.Printf("sweep duty: %v", err)
				} else if n > 0 {
					s.log.Printf("expired %d collectible(s)", n)
				}
			}
		}
	}()

	wg.Wait()
}

// DropOnce runs one drop cycle: for each active event with enough
// participants, roll the drop chance and create a rarity-weighted
// collectible near the event's location, then notify the event room.
func (s *Scheduler) DropOnce(ctx context.Context) (int, error) {
	events, err := s.st.ActiveEvents(ctx, s.tune.MinParticipants)
	if err != nil {
		return 0, err
	}

	dropped := 0
	for _, ev := range events {
		if s.rng.Float64() >= s.tune.DropChance {
			continue
		}
		c, err := s.dropInto(ctx, ev)
		if err != nil {
			// Keep going; other events' drops are independent.
			s.log.Printf("drop into event %s: %v", ev.ID, err)
			continue
		}
		dropped++
		s.met.Drops.Inc()
		if err := s.audit.Write(auditlog.Entry{
			Kind: auditlog.KindDrop, CollectibleID: c.ID, EventID: ev.ID, Rarity: c.Rarity,
		}); err != nil {
			s.log.Printf("audit write: %v", err)
		}

		s.reg.BroadcastRoom(ev.ID, protocol.CollectibleDropMsg{
			Type: protocol.TypeCollectibleDrop,
			Collectible: protocol.CollectibleInfo{
				ID:          c.ID,
				EventID:     c.EventID,
				Name:        c.Name,
				Rarity:      c.Rarity,
				Score:       c.Score,
				Coordinates: [2]float64{c.Location.Lng, c.Location.Lat},
				ExpiresAt:   c.ExpiresAt,
			},
			ExpiresIn: s.tune.LifetimeSec,
			Timestamp: s.now(),
		})
	}
	return dropped, nil
}

func (s *Scheduler) dropInto(ctx context.Context, ev store.Event) (store.Collectible, error) {
	tier := s.tune.pick(s.rng.Intn(s.tune.totalWeight()))
	now := s.now()

	c := store.Collectible{
		EventID:   ev.ID,
		Name:      tier.Name,
		Rarity:    tier.Tier,
		Score:     tier.Score,
		Location:  s.jitter(ev.Location),
		DroppedAt: now,
		ExpiresAt: now.Add(time.Duration(s.tune.LifetimeSec) * time.Second),
		Active:    true,
	}
	id, err := s.st.InsertCollectible(ctx, c)
	if err != nil {
		return store.Collectible{}, err
	}
	c.ID = id
	return c, nil
}

// jitter places the drop uniformly within JitterMeters of the center.
func (s *Scheduler) jitter(p store.Point) store.Point {
	if s.tune.JitterMeters <= 0 {
		return p
	}
	d := s.tune.JitterMeters * math.Sqrt(s.rng.Float64())
	theta := s.rng.Float64() * 2 * math.Pi
	return store.OffsetMeters(p, d*math.Cos(theta), d*math.Sin(theta))
}

// SweepOnce deactivates every collectible whose expiry has passed. The
// condition is is_active AND expires_at <= now. It does not require
// claimed_by unset, and it still cannot touch an already-claimed
// record, because the winning claim set is_active to false in the same
// indivisible write that recorded the claimant.
func (s *Scheduler) SweepOnce(ctx context.Context) (int, error) {
	now := s.now()
	cands, err := s.st.ExpiredActiveCollectibles(ctx, now, sweepBatch)
	if err != nil {
		return 0, err
	}

	active := true
	inactive := false
	expired := 0
	for _, c := range cands {
		got, err := s.st.UpdateCollectible(ctx, c.ID,
			store.CollectibleCond{Active: &active, ExpiredBy: &now},
			store.CollectibleSet{Active: &inactive},
		)
		if err != nil {
			return expired, err
		}
		if got == nil {
			// A claim landed between the listing and this update.
			continue
		}
		expired++
		s.met.Expired.Inc()
		if err := s.audit.Write(auditlog.Entry{
			Kind: auditlog.KindExpire, CollectibleID: c.ID, EventID: c.EventID, Rarity: c.Rarity,
		}); err != nil {
			s.log.Printf("audit write: %v", err)
		}
	}
	return expired, nil
}
