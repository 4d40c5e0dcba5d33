package memory

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/mcfletch/fitting/domain/core/aggregates"
	"github.com/mcfletch/fitting/domain/core/entities"
	"github.com/mcfletch/fitting/domain/core/valueobjects"
	pkgerrors "github.com/mcfletch/fitting/pkg/errors"
)

// FittingStore is the in-memory implementation of the fitting repository.
// A single RWMutex guards the pipeline aggregate, so batch mutations are
// atomic with respect to readers while disjoint reads run concurrently.
// Every read hands out copies; internal entities never escape the lock.
type FittingStore struct {
	mu       sync.RWMutex
	pipeline *aggregates.Pipeline
	logger   *zap.Logger
}

// NewFittingStore creates an empty in-memory store
func NewFittingStore(logger *zap.Logger) *FittingStore {
	return &FittingStore{
		pipeline: aggregates.NewPipeline(),
		logger:   logger,
	}
}

// Save persists a new fitting, rejecting a duplicate triple
func (s *FittingStore) Save(ctx context.Context, fitting *entities.Fitting) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.pipeline.AddFitting(clone(fitting)); err != nil {
		return err
	}

	s.logger.Debug("Stored fitting",
		zap.String("source", fitting.SourceID().String()),
		zap.String("target", fitting.TargetID().String()),
		zap.Int64("type", fitting.Type().Value()),
	)
	return nil
}

// Get retrieves the fitting with the exact triple
func (s *FittingStore) Get(ctx context.Context, sourceID, targetID valueobjects.ElementID, fittingType valueobjects.FittingType) (*entities.Fitting, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	fitting, exists := s.pipeline.Get(sourceID, targetID, fittingType)
	if !exists {
		return nil, pkgerrors.NewFittingNotFoundError(sourceID.String(), targetID.String(), fittingType.Value())
	}
	return clone(fitting), nil
}

// Delete removes every fitting from source to target whose type matches
func (s *FittingStore) Delete(ctx context.Context, sourceID, targetID valueobjects.ElementID, fittingType valueobjects.FittingType) ([]*entities.Fitting, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.pipeline.Disconnect(sourceID, targetID, fittingType), nil
}

// DeleteByElement removes every fitting of the matching type touching the
// element, in both directions
func (s *FittingStore) DeleteByElement(ctx context.Context, elementID valueobjects.ElementID, fittingType valueobjects.FittingType) ([]*entities.Fitting, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.pipeline.Detach(elementID, fittingType), nil
}

// ReplaceSinks reconciles the outgoing fittings of source against the
// desired set under the write lock, so readers observe the old assembly or
// the new one and nothing in between
func (s *FittingStore) ReplaceSinks(ctx context.Context, sourceID valueobjects.ElementID, fittingType valueobjects.FittingType, desired []*entities.Fitting, clear bool) (*aggregates.ReplacePlan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current := s.pipeline.SinkFittings(sourceID, fittingType)
	plan := aggregates.PlanSinkReplacement(current, desired)
	if !clear {
		plan.Delete = []*entities.Fitting{}
	}

	if err := s.apply(plan); err != nil {
		return nil, err
	}
	plan.Keep = cloneAll(plan.Keep)
	return plan, nil
}

// ReplaceSources reconciles the incoming fittings of target against the
// desired set, mirroring ReplaceSinks
func (s *FittingStore) ReplaceSources(ctx context.Context, targetID valueobjects.ElementID, fittingType valueobjects.FittingType, desired []*entities.Fitting, clear bool) (*aggregates.ReplacePlan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current := s.pipeline.SourceFittings(targetID, fittingType)
	plan := aggregates.PlanSourceReplacement(current, desired)
	if !clear {
		plan.Delete = []*entities.Fitting{}
	}

	if err := s.apply(plan); err != nil {
		return nil, err
	}
	plan.Keep = cloneAll(plan.Keep)
	return plan, nil
}

// UpdateName persists the fitting's current display name
func (s *FittingStore) UpdateName(ctx context.Context, fitting *entities.Fitting) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := s.pipeline.Disconnect(fitting.SourceID(), fitting.TargetID(), fitting.Type())
	if len(removed) == 0 {
		return pkgerrors.NewFittingNotFoundError(
			fitting.SourceID().String(),
			fitting.TargetID().String(),
			fitting.Type().Value(),
		)
	}

	return s.pipeline.AddFitting(clone(fitting))
}

// Sources retrieves the fittings entering the element whose type matches
func (s *FittingStore) Sources(ctx context.Context, elementID valueobjects.ElementID, fittingType valueobjects.FittingType) ([]*entities.Fitting, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return cloneAll(s.pipeline.SourceFittings(elementID, fittingType)), nil
}

// Sinks retrieves the fittings leaving the element whose type matches
func (s *FittingStore) Sinks(ctx context.Context, elementID valueobjects.ElementID, fittingType valueobjects.FittingType) ([]*entities.Fitting, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return cloneAll(s.pipeline.SinkFittings(elementID, fittingType)), nil
}

// List retrieves every fitting whose type matches
func (s *FittingStore) List(ctx context.Context, fittingType valueobjects.FittingType) ([]*entities.Fitting, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if fittingType.IsAny() {
		return cloneAll(s.pipeline.Fittings()), nil
	}

	result := []*entities.Fitting{}
	for _, f := range s.pipeline.Fittings() {
		if fittingType.Matches(f.Type()) {
			result = append(result, clone(f))
		}
	}
	return result, nil
}

// apply executes a replace plan against the pipeline. Must hold the write
// lock.
func (s *FittingStore) apply(plan *aggregates.ReplacePlan) error {
	for _, f := range plan.Delete {
		s.pipeline.Disconnect(f.SourceID(), f.TargetID(), f.Type())
	}
	for _, f := range plan.Insert {
		if err := s.pipeline.AddFitting(clone(f)); err != nil {
			return err
		}
	}

	s.logger.Debug("Applied replace plan",
		zap.Int("inserted", len(plan.Insert)),
		zap.Int("deleted", len(plan.Delete)),
		zap.Int("kept", len(plan.Keep)),
	)
	return nil
}

func clone(f *entities.Fitting) *entities.Fitting {
	return entities.ReconstructFitting(f.ID(), f.SourceID(), f.TargetID(), f.Type(), f.Name(), f.CreatedAt())
}

func cloneAll(fittings []*entities.Fitting) []*entities.Fitting {
	result := make([]*entities.Fitting, len(fittings))
	for i, f := range fittings {
		result[i] = clone(f)
	}
	return result
}
