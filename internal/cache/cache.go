package cache

import (
	"context"
	"time"
)

// AssignmentCache remembers which supervisor serves a pincode.
type AssignmentCache interface {
	Get(ctx context.Context, pincode string) (string, bool, error)
	Set(ctx context.Context, pincode string, supervisorID string, ttl time.Duration) error
	Delete(ctx context.Context, pincode string) error
}

type NoopAssignmentCache struct{}

func (NoopAssignmentCache) Get(_ context.Context, _ string) (string, bool, error) {
	return "", false, nil
}

func (NoopAssignmentCache) Set(_ context.Context, _ string, _ string, _ time.Duration) error {
	return nil
}

func (NoopAssignmentCache) Delete(_ context.Context, _ string) error {
	return nil
}
