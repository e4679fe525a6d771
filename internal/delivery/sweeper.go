package delivery

import (
	"context"
	"log"
	"math/rand"
	"time"

	"github.com/ignite/newsletter-engine/internal/idempotency"
	"github.com/ignite/newsletter-engine/internal/pkg/distlock"
)

const (
	// DefaultSweepInterval is the base time between sweep cycles.
	DefaultSweepInterval = 24 * time.Hour

	// sweepJitterMax desynchronizes sweep cycles across instances.
	sweepJitterMax = 1 * time.Hour

	// DefaultIdempotencyWindow is how long completed idempotency records
	// are kept for replay.
	DefaultIdempotencyWindow = 48 * time.Hour

	// DefaultIssueWindow is how long delivered issue content is kept.
	DefaultIssueWindow = 7 * 24 * time.Hour
)

// Sweeper periodically removes expired idempotency records and old
// newsletter issues. Cleanup is best-effort: failures are logged and the
// next cycle tries again. It runs in its own goroutine and never touches
// the delivery worker's loop.
type Sweeper struct {
	delivery          *Store
	idem              *idempotency.Store
	lock              distlock.Lock
	interval          time.Duration
	idempotencyWindow time.Duration
	issueWindow       time.Duration
	rng               *rand.Rand
}

// NewSweeper creates a retention sweeper. lock may be nil; when present,
// instances that fail to acquire it skip the cycle instead of running
// duplicate DELETE scans (the deletes themselves are concurrency-safe).
func NewSweeper(deliveryStore *Store, idemStore *idempotency.Store, lock distlock.Lock,
	interval, idempotencyWindow, issueWindow time.Duration) *Sweeper {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	if idempotencyWindow <= 0 {
		idempotencyWindow = DefaultIdempotencyWindow
	}
	if issueWindow <= 0 {
		issueWindow = DefaultIssueWindow
	}
	return &Sweeper{
		delivery:          deliveryStore,
		idem:              idemStore,
		lock:              lock,
		interval:          interval,
		idempotencyWindow: idempotencyWindow,
		issueWindow:       issueWindow,
		rng:               rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Run executes the sweep loop until ctx is cancelled. The first sweep runs
// immediately; each subsequent cycle waits the base interval plus up to an
// hour of random jitter.
func (s *Sweeper) Run(ctx context.Context) {
	log.Printf("[RetentionSweeper] Starting (interval=%s, idempotency_window=%s, issue_window=%s)",
		s.interval, s.idempotencyWindow, s.issueWindow)

	for {
		s.Sweep(ctx)

		jitter := time.Duration(s.rng.Int63n(int64(sweepJitterMax)))
		timer := time.NewTimer(s.interval + jitter)
		select {
		case <-ctx.Done():
			timer.Stop()
			log.Println("[RetentionSweeper] Stopping")
			return
		case <-timer.C:
		}
	}
}

// Sweep runs one cleanup cycle.
func (s *Sweeper) Sweep(ctx context.Context) {
	if s.lock != nil {
		acquired, err := s.lock.Acquire(ctx)
		if err != nil {
			log.Printf("[RetentionSweeper] Lock error, skipping cycle: %v", err)
			return
		}
		if !acquired {
			log.Println("[RetentionSweeper] Another instance is sweeping, skipping cycle")
			return
		}
		defer s.lock.Release(ctx)
	}

	start := time.Now()

	if deleted, err := s.idem.DeleteRecordsOlderThan(ctx, s.idempotencyWindow); err != nil {
		log.Printf("[RetentionSweeper] Idempotency cleanup failed: %v", err)
	} else if deleted > 0 {
		log.Printf("[RetentionSweeper] Removed %d expired idempotency records", deleted)
	}

	if deleted, err := s.delivery.DeleteIssuesOlderThan(ctx, s.issueWindow); err != nil {
		log.Printf("[RetentionSweeper] Issue cleanup failed: %v", err)
	} else if deleted > 0 {
		log.Printf("[RetentionSweeper] Removed %d old newsletter issues", deleted)
	}

	log.Printf("[RetentionSweeper] Cycle completed in %s", time.Since(start).Round(time.Millisecond))
}
