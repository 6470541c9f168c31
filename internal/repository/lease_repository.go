package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"lesson-notes-sync/internal/clock"
	"lesson-notes-sync/internal/domain"
)

var ErrLeaseHeld = errors.New("editor lease held by another owner")
var ErrLeaseLost = errors.New("editor lease no longer owned")

type LeaseRepository interface {
	Acquire(ctx context.Context, lessonID, ownerID string, ttl time.Duration) (*domain.EditorLease, error)
	Renew(ctx context.Context, lessonID, ownerID string, ttl time.Duration) error
	Release(ctx context.Context, lessonID, ownerID string) error
	Get(ctx context.Context, lessonID string) (*domain.EditorLease, error)
}

type leaseRepository struct {
	db    *sql.DB
	clock clock.Clock
}

func NewLeaseRepository(db *sql.DB, clk clock.Clock) LeaseRepository {
	if clk == nil {
		clk = clock.New()
	}
	return &leaseRepository{db: db, clock: clk}
}

// Acquire claims the lease when it is free, expired, or already ours.
func (r *leaseRepository) Acquire(ctx context.Context, lessonID, ownerID string, ttl time.Duration) (*domain.EditorLease, error) {
	now := r.clock.Now()
	expiresAt := now.Add(ttl)

	res, err := r.db.ExecContext(ctx, `
		INSERT INTO editor_lease (lesson_id, owner_id, expires_at) VALUES (?, ?, ?)
		ON CONFLICT(lesson_id) DO UPDATE SET
			owner_id = excluded.owner_id,
			expires_at = excluded.expires_at
		WHERE editor_lease.owner_id = excluded.owner_id OR editor_lease.expires_at <= ?`,
		lessonID, ownerID, expiresAt.UnixNano(), now.UnixNano(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire lease: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to acquire lease: %w", err)
	}
	if n == 0 {
		return nil, ErrLeaseHeld
	}

	return &domain.EditorLease{LessonID: lessonID, OwnerID: ownerID, ExpiresAt: expiresAt}, nil
}

func (r *leaseRepository) Renew(ctx context.Context, lessonID, ownerID string, ttl time.Duration) error {
	now := r.clock.Now()

	res, err := r.db.ExecContext(ctx, `
		UPDATE editor_lease SET expires_at = ?
		WHERE lesson_id = ? AND owner_id = ? AND expires_at > ?`,
		now.Add(ttl).UnixNano(), lessonID, ownerID, now.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to renew lease: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to renew lease: %w", err)
	}
	if n == 0 {
		return ErrLeaseLost
	}

	return nil
}

func (r *leaseRepository) Release(ctx context.Context, lessonID, ownerID string) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM editor_lease WHERE lesson_id = ? AND owner_id = ?`, lessonID, ownerID)
	if err != nil {
		return fmt.Errorf("failed to release lease: %w", err)
	}
	return nil
}

func (r *leaseRepository) Get(ctx context.Context, lessonID string) (*domain.EditorLease, error) {
	var (
		lease     domain.EditorLease
		expiresAt int64
	)
	err := r.db.QueryRowContext(ctx,
		`SELECT lesson_id, owner_id, expires_at FROM editor_lease WHERE lesson_id = ?`, lessonID,
	).Scan(&lease.LessonID, &lease.OwnerID, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find lease: %w", err)
	}

	lease.ExpiresAt = time.Unix(0, expiresAt).UTC()
	return &lease, nil
}
