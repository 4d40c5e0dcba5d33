package services

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/mcfletch/fitting/application/ports"
	"github.com/mcfletch/fitting/domain/core/aggregates"
	"github.com/mcfletch/fitting/domain/core/valueobjects"
	"github.com/mcfletch/fitting/pkg/extensions"
	"github.com/mcfletch/fitting/pkg/observability"
)

// TraversalService answers reachability queries over the fitting graph.
// Queries run against a snapshot of the store, so a traversal racing a
// mutation observes either the pre- or post-mutation assembly, never a
// partial one. Snapshots are cached per fitting type and flushed through
// the cache invalidation hook whenever topology changes.
type TraversalService struct {
	repo    ports.FittingRepository
	cache   ports.Cache
	tracer  *observability.Tracer
	metrics *observability.Metrics
	logger  *zap.Logger

	snapshotTTL int // seconds
}

// NewTraversalService creates a new traversal service
func NewTraversalService(
	repo ports.FittingRepository,
	cache ports.Cache,
	tracer *observability.Tracer,
	metrics *observability.Metrics,
	logger *zap.Logger,
	snapshotTTL int,
) *TraversalService {
	return &TraversalService{
		repo:        repo,
		cache:       cache,
		tracer:      tracer,
		metrics:     metrics,
		logger:      logger,
		snapshotTTL: snapshotTTL,
	}
}

// BindInvalidation registers the snapshot flush on the cache invalidation
// hook so mutations made through the fitting service clear stale snapshots
func (s *TraversalService) BindInvalidation(hooks *extensions.HookManager) {
	hooks.Register(extensions.HookCacheInvalidation, func(ctx context.Context, _ interface{}) error {
		return s.cache.Clear(ctx)
	})
}

// Ancestors returns every element from which the origin is reachable by
// one or more hops through fittings of the matching type, sorted. The
// origin itself is never included and unknown origins yield an empty set.
func (s *TraversalService) Ancestors(ctx context.Context, originID valueobjects.ElementID, fittingType valueobjects.FittingType) ([]valueobjects.ElementID, error) {
	start := time.Now()

	var result []valueobjects.ElementID
	err := s.tracer.TraceFunction(ctx, "traversal.ancestors", func(ctx context.Context) error {
		pipeline, err := s.snapshot(ctx, fittingType)
		if err != nil {
			return err
		}
		result = pipeline.Ancestors(originID, fittingType)
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.metrics.RecordDuration(ctx, "TraversalLatency", time.Since(start))
	s.logger.Debug("Computed ancestors",
		zap.String("origin", originID.String()),
		zap.Int64("type", fittingType.Value()),
		zap.Int("count", len(result)),
	)

	return result, nil
}

// Descendants returns every element reachable from the origin by one or
// more hops through fittings of the matching type, sorted. The origin
// itself is never included and unknown origins yield an empty set.
func (s *TraversalService) Descendants(ctx context.Context, originID valueobjects.ElementID, fittingType valueobjects.FittingType) ([]valueobjects.ElementID, error) {
	start := time.Now()

	var result []valueobjects.ElementID
	err := s.tracer.TraceFunction(ctx, "traversal.descendants", func(ctx context.Context) error {
		pipeline, err := s.snapshot(ctx, fittingType)
		if err != nil {
			return err
		}
		result = pipeline.Descendants(originID, fittingType)
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.metrics.RecordDuration(ctx, "TraversalLatency", time.Since(start))
	s.logger.Debug("Computed descendants",
		zap.String("origin", originID.String()),
		zap.Int64("type", fittingType.Value()),
		zap.Int("count", len(result)),
	)

	return result, nil
}

// Path returns a shortest downstream path from start to end through
// fittings of the matching type, including both endpoints. An unreachable
// end yields an empty path, not an error.
func (s *TraversalService) Path(ctx context.Context, startID, endID valueobjects.ElementID, fittingType valueobjects.FittingType) ([]valueobjects.ElementID, error) {
	result := []valueobjects.ElementID{}
	err := s.tracer.TraceFunction(ctx, "traversal.path", func(ctx context.Context) error {
		pipeline, err := s.snapshot(ctx, fittingType)
		if err != nil {
			return err
		}

		if path, found := pipeline.Path(startID, endID, fittingType); found {
			result = path
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

// snapshot loads the pipeline for a fitting type, preferring a cached copy
func (s *TraversalService) snapshot(ctx context.Context, fittingType valueobjects.FittingType) (*aggregates.Pipeline, error) {
	key := "pipeline:" + fittingType.String()

	if cached, ok := s.cache.Get(ctx, key); ok {
		if pipeline, ok := cached.(*aggregates.Pipeline); ok {
			return pipeline, nil
		}
	}

	start := time.Now()
	fittings, err := s.repo.List(ctx, fittingType)
	if err != nil {
		return nil, fmt.Errorf("failed to load fittings for traversal: %w", err)
	}

	pipeline := aggregates.ReconstructPipeline(fittings)
	if err := s.cache.Set(ctx, key, pipeline, s.snapshotTTL); err != nil {
		s.logger.Warn("Failed to cache traversal snapshot", zap.Error(err))
	}

	s.logger.Debug("Rebuilt traversal snapshot",
		zap.String("key", key),
		zap.Int("fittings", pipeline.FittingCount()),
		zap.Duration("elapsed", time.Since(start)),
	)

	return pipeline, nil
}
