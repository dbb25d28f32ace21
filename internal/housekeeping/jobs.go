package housekeeping

import (
	"context"
	"fmt"
	"time"
)

type outboxPruner interface {
	DeletePublishedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

type cartPruner interface {
	DeleteIdleBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

type cutoffJob struct {
	name   string
	keep   time.Duration
	now    func() time.Time
	delete func(ctx context.Context, cutoff time.Time) (int64, error)
}

func (j *cutoffJob) Name() string { return j.name }

func (j *cutoffJob) Run(ctx context.Context) (int64, error) {
	cutoff := j.now().UTC().Add(-j.keep)
	n, err := j.delete(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("%s before %s: %w", j.name, cutoff.Format(time.RFC3339), err)
	}
	return n, nil
}

func days(n int) time.Duration { return time.Duration(n) * 24 * time.Hour }

// NewOutboxRetentionJob drops outbox rows published more than retentionDays ago.
// Unpublished and parked rows are kept for inspection.
func NewOutboxRetentionJob(repo outboxPruner, retentionDays int) (Job, error) {
	if repo == nil {
		return nil, fmt.Errorf("outbox repository required")
	}
	if retentionDays <= 0 {
		return nil, fmt.Errorf("outbox retention must be positive, got %d days", retentionDays)
	}
	return &cutoffJob{
		name:   "outbox-retention",
		keep:   days(retentionDays),
		now:    time.Now,
		delete: repo.DeletePublishedBefore,
	}, nil
}

// NewIdleCartJob removes cart lines nobody touched for idleDays.
func NewIdleCartJob(repo cartPruner, idleDays int) (Job, error) {
	if repo == nil {
		return nil, fmt.Errorf("cart repository required")
	}
	if idleDays <= 0 {
		return nil, fmt.Errorf("cart idle window must be positive, got %d days", idleDays)
	}
	return &cutoffJob{
		name:   "idle-carts",
		keep:   days(idleDays),
		now:    time.Now,
		delete: repo.DeleteIdleBefore,
	}, nil
}
