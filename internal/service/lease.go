package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"lesson-notes-sync/internal/clock"
	"lesson-notes-sync/internal/repository"
)

// LeaseKeeper holds the editor lease of one lesson for one owner and renews
// it every third of its ttl.
type LeaseKeeper struct {
	mu sync.Mutex

	repo     repository.LeaseRepository
	lessonID string
	ownerID  string
	ttl      time.Duration
	clock    clock.Clock

	timer    clock.Timer
	held     bool
	lost     chan struct{}
	lostOnce sync.Once
}

func NewLeaseKeeper(repo repository.LeaseRepository, lessonID, ownerID string, ttl time.Duration, clk clock.Clock) *LeaseKeeper {
	if clk == nil {
		clk = clock.New()
	}
	return &LeaseKeeper{
		repo:     repo,
		lessonID: lessonID,
		ownerID:  ownerID,
		ttl:      ttl,
		clock:    clk,
		lost:     make(chan struct{}),
	}
}

func (k *LeaseKeeper) Acquire(ctx context.Context) error {
	lease, err := k.repo.Acquire(ctx, k.lessonID, k.ownerID, k.ttl)
	if err != nil {
		return fmt.Errorf("failed to acquire editor lease for %s: %w", k.lessonID, err)
	}

	k.mu.Lock()
	defer k.mu.Unlock()

	k.held = true
	k.scheduleLocked()
	log.Printf("[Lease] %s holds %s until %s", k.ownerID, k.lessonID, lease.ExpiresAt.Format(time.RFC3339))
	return nil
}

func (k *LeaseKeeper) scheduleLocked() {
	k.timer = k.clock.AfterFunc(k.ttl/3, k.renew)
}

func (k *LeaseKeeper) renew() {
	k.mu.Lock()
	if !k.held {
		k.mu.Unlock()
		return
	}
	k.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), k.ttl/3)
	err := k.repo.Renew(ctx, k.lessonID, k.ownerID, k.ttl)
	cancel()

	k.mu.Lock()
	defer k.mu.Unlock()

	if !k.held {
		return
	}
	if errors.Is(err, repository.ErrLeaseLost) {
		log.Printf("[Lease] %s lost the lease on %s", k.ownerID, k.lessonID)
		k.held = false
		k.lostOnce.Do(func() { close(k.lost) })
		return
	}
	if err != nil {
		log.Printf("[Lease] renew for %s failed, retrying: %v", k.lessonID, err)
	}
	k.scheduleLocked()
}

// Lost is closed when a renewal finds the lease taken by someone else.
func (k *LeaseKeeper) Lost() <-chan struct{} {
	return k.lost
}

func (k *LeaseKeeper) Held() bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.held
}

func (k *LeaseKeeper) Release(ctx context.Context) error {
	k.mu.Lock()
	if k.timer != nil {
		k.timer.Stop()
		k.timer = nil
	}
	wasHeld := k.held
	k.held = false
	k.mu.Unlock()

	if !wasHeld {
		return nil
	}
	if err := k.repo.Release(ctx, k.lessonID, k.ownerID); err != nil {
		return fmt.Errorf("failed to release editor lease for %s: %w", k.lessonID, err)
	}
	return nil
}
