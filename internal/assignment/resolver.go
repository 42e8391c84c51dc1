// Package assignment resolves which supervisor owns a pincode, with a read-through cache in front
// of the repository.
package assignment

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"channelhub/backend/internal/apperr"
	"channelhub/backend/internal/cache"
	"channelhub/backend/internal/logging"
	"channelhub/backend/internal/store"
)

const defaultTTL = 5 * time.Minute

type Resolver struct {
	repo     store.Repository
	cache    cache.AssignmentCache
	cacheTTL time.Duration
	logger   *zap.Logger
}

func NewResolver(repo store.Repository, cacheStore cache.AssignmentCache, cacheTTL time.Duration, logger *zap.Logger) *Resolver {
	if cacheStore == nil {
		cacheStore = cache.NoopAssignmentCache{}
	}
	if cacheTTL <= 0 {
		cacheTTL = defaultTTL
	}

	return &Resolver{
		repo:     repo,
		cache:    cacheStore,
		cacheTTL: cacheTTL,
		logger:   logging.Or(logger),
	}
}

// ResolveSupervisor returns the supervisor assigned to pincode. Cache failures fall through to the
// repository; they are never reported to the caller.
func (r *Resolver) ResolveSupervisor(ctx context.Context, pincode string) (string, error) {
	pincode = strings.TrimSpace(pincode)
	if pincode == "" {
		return "", apperr.New(apperr.InvalidInput, "pincode", "pincode is required")
	}

	if supervisorID, ok, err := r.cache.Get(ctx, pincode); err == nil && ok {
		return supervisorID, nil
	} else if err != nil {
		r.logger.Warn("assignment cache read failed", zap.String("pincode", pincode), zap.Error(err))
	}

	var supervisorID string
	err := r.repo.View(ctx, func(tx store.Tx) error {
		var err error
		supervisorID, err = tx.GetPincodeAssignment(ctx, pincode)
		return err
	})
	if errors.Is(err, store.ErrNotFound) {
		return "", apperr.New(apperr.NotFound, pincode, "no supervisor assigned to pincode %s", pincode)
	}
	if err != nil {
		return "", err
	}

	if err := r.cache.Set(ctx, pincode, supervisorID, r.cacheTTL); err != nil {
		r.logger.Warn("assignment cache write failed", zap.String("pincode", pincode), zap.Error(err))
	}
	return supervisorID, nil
}

// Invalidate drops the cached entry so the next lookup reads the repository.
func (r *Resolver) Invalidate(ctx context.Context, pincode string) {
	if err := r.cache.Delete(ctx, strings.TrimSpace(pincode)); err != nil {
		r.logger.Warn("assignment cache delete failed", zap.String("pincode", pincode), zap.Error(err))
	}
}
