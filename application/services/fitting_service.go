package services

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/mcfletch/fitting/application/ports"
	"github.com/mcfletch/fitting/domain/core/aggregates"
	"github.com/mcfletch/fitting/domain/core/entities"
	"github.com/mcfletch/fitting/domain/core/validators"
	"github.com/mcfletch/fitting/domain/core/valueobjects"
	"github.com/mcfletch/fitting/domain/events"
	pkgerrors "github.com/mcfletch/fitting/pkg/errors"
	"github.com/mcfletch/fitting/pkg/extensions"
	"github.com/mcfletch/fitting/pkg/observability"
)

// FittingService provides the edge store operations: connecting, querying,
// and reassembling the fittings between elements. All mutations validate
// before touching the repository, publish domain events after it, and run
// lifecycle hooks around it.
type FittingService struct {
	repo      ports.FittingRepository
	validator *validators.FittingValidator
	publisher ports.EventPublisher
	hooks     *extensions.HookManager
	metrics   *observability.Metrics
	logger    *zap.Logger
}

// NewFittingService creates a new fitting service
func NewFittingService(
	repo ports.FittingRepository,
	validator *validators.FittingValidator,
	publisher ports.EventPublisher,
	hooks *extensions.HookManager,
	metrics *observability.Metrics,
	logger *zap.Logger,
) *FittingService {
	return &FittingService{
		repo:      repo,
		validator: validator,
		publisher: publisher,
		hooks:     hooks,
		metrics:   metrics,
		logger:    logger,
	}
}

// Connect creates a single fitting from source to target. It fails on a
// self-loop, a blank identifier, the reserved wildcard type, or a duplicate
// triple; callers needing idempotent connects use PipeTo instead.
func (s *FittingService) Connect(ctx context.Context, sourceID, targetID valueobjects.ElementID, fittingType valueobjects.FittingType, name string) (*entities.Fitting, error) {
	if err := s.validator.ValidateFitting(sourceID, targetID, fittingType, name); err != nil {
		return nil, err
	}

	data := &extensions.HookData{
		EntityType: "fitting",
		Operation:  "connect",
		Metadata: map[string]interface{}{
			"source_id":    sourceID.String(),
			"target_id":    targetID.String(),
			"fitting_type": fittingType.Value(),
		},
	}
	if err := s.hooks.Execute(ctx, extensions.HookBeforeFittingCreate, data); err != nil {
		return nil, fmt.Errorf("before-create hook rejected fitting: %w", err)
	}

	fitting, err := entities.NewFitting(sourceID, targetID, fittingType, name)
	if err != nil {
		return nil, err
	}

	if err := s.repo.Save(ctx, fitting); err != nil {
		return nil, fmt.Errorf("failed to save fitting: %w", err)
	}

	s.publishEvents(ctx, fitting.GetUncommittedEvents())
	fitting.MarkEventsAsCommitted()
	s.invalidateTraversals(ctx, "connect")

	data.EntityID = fitting.ID()
	data.After = fitting
	s.hooks.ExecuteAsync(ctx, extensions.HookAfterFittingCreate, data)
	s.metrics.RecordCount(ctx, "FittingsCreated", 1)

	s.logger.Info("Fitting created",
		zap.String("fittingID", fitting.ID()),
		zap.String("source", sourceID.String()),
		zap.String("target", targetID.String()),
		zap.Int64("type", fittingType.Value()),
	)

	return fitting, nil
}

// Disconnect removes the fittings from source to target matching the type,
// which may be the wildcard. Absent fittings are a no-op, not an error.
// Returns the number removed.
func (s *FittingService) Disconnect(ctx context.Context, sourceID, targetID valueobjects.ElementID, fittingType valueobjects.FittingType) (int, error) {
	data := &extensions.HookData{
		EntityType: "fitting",
		Operation:  "disconnect",
		Metadata: map[string]interface{}{
			"source_id":    sourceID.String(),
			"target_id":    targetID.String(),
			"fitting_type": fittingType.Value(),
		},
	}
	if err := s.hooks.Execute(ctx, extensions.HookBeforeFittingDelete, data); err != nil {
		return 0, fmt.Errorf("before-delete hook rejected disconnect: %w", err)
	}

	removed, err := s.repo.Delete(ctx, sourceID, targetID, fittingType)
	if err != nil {
		return 0, fmt.Errorf("failed to disconnect: %w", err)
	}
	if len(removed) == 0 {
		return 0, nil
	}

	s.publishEvents(ctx, deletionEvents(removed))
	s.invalidateTraversals(ctx, "disconnect")

	s.hooks.ExecuteAsync(ctx, extensions.HookAfterFittingDelete, data)
	s.metrics.RecordCount(ctx, "FittingsDeleted", float64(len(removed)))

	s.logger.Info("Fittings disconnected",
		zap.String("source", sourceID.String()),
		zap.String("target", targetID.String()),
		zap.Int("removed", len(removed)),
	)

	return len(removed), nil
}

// Sources returns the sorted set of elements flowing into the element
// through fittings of the matching type. An unknown element yields an empty
// set, not an error.
func (s *FittingService) Sources(ctx context.Context, elementID valueobjects.ElementID, fittingType valueobjects.FittingType) ([]valueobjects.ElementID, error) {
	fittings, err := s.repo.Sources(ctx, elementID, fittingType)
	if err != nil {
		return nil, fmt.Errorf("failed to load sources: %w", err)
	}
	return uniqueEnds(fittings, func(f *entities.Fitting) valueobjects.ElementID {
		return f.SourceID()
	}), nil
}

// Sinks returns the sorted set of elements the element flows into through
// fittings of the matching type. An unknown element yields an empty set,
// not an error.
func (s *FittingService) Sinks(ctx context.Context, elementID valueobjects.ElementID, fittingType valueobjects.FittingType) ([]valueobjects.ElementID, error) {
	fittings, err := s.repo.Sinks(ctx, elementID, fittingType)
	if err != nil {
		return nil, fmt.Errorf("failed to load sinks: %w", err)
	}
	return uniqueEnds(fittings, func(f *entities.Fitting) valueobjects.ElementID {
		return f.TargetID()
	}), nil
}

// PipeTo connects source to every element of sinks with one fitting type.
// With clear true the existing outgoing set of that type is replaced
// atomically: surviving fittings keep their name and creation time, absent
// ones are removed, missing ones are created. With clear false existing
// fittings are left untouched and duplicates are skipped without error.
// Validation covers the whole batch before anything mutates. Returns the
// fittings now connecting source to the requested sinks.
func (s *FittingService) PipeTo(ctx context.Context, sourceID valueobjects.ElementID, sinks []valueobjects.ElementID, fittingType valueobjects.FittingType, clear bool, name string) ([]*entities.Fitting, error) {
	start := time.Now()

	if err := s.validator.ValidatePipe(sourceID, sinks, fittingType, name); err != nil {
		return nil, err
	}

	desired, err := s.buildFittings(sourceID, sinks, fittingType, name, false)
	if err != nil {
		return nil, err
	}

	data := &extensions.HookData{
		EntityType: "element",
		EntityID:   sourceID.String(),
		Operation:  "pipe_to",
		Metadata: map[string]interface{}{
			"fitting_type": fittingType.Value(),
			"clear":        clear,
			"requested":    len(sinks),
		},
	}
	if err := s.hooks.Execute(ctx, extensions.HookBeforeReplace, data); err != nil {
		return nil, fmt.Errorf("before-replace hook rejected pipe: %w", err)
	}

	plan, err := s.repo.ReplaceSinks(ctx, sourceID, fittingType, desired, clear)
	if err != nil {
		return nil, fmt.Errorf("failed to replace sinks: %w", err)
	}

	summary := events.NewSinksReplaced(sourceID, fittingType, len(plan.Insert), len(plan.Delete), len(plan.Keep), time.Now())
	s.publishReplace(ctx, plan, summary)
	s.invalidateTraversals(ctx, "pipe_to")

	s.hooks.ExecuteAsync(ctx, extensions.HookAfterReplace, data)
	s.metrics.RecordCount(ctx, "FittingsCreated", float64(len(plan.Insert)))
	s.metrics.RecordCount(ctx, "FittingsDeleted", float64(len(plan.Delete)))
	s.metrics.RecordDuration(ctx, "PipeLatency", time.Since(start))

	s.logger.Info("Piped element to sinks",
		zap.String("source", sourceID.String()),
		zap.Int64("type", fittingType.Value()),
		zap.Bool("clear", clear),
		zap.Int("added", len(plan.Insert)),
		zap.Int("removed", len(plan.Delete)),
		zap.Int("kept", len(plan.Keep)),
	)

	return connectedFittings(plan), nil
}

// PipeFrom connects every element of sources to target with one fitting
// type, mirroring PipeTo on the incoming side. Returns the fittings now
// connecting the requested sources to target.
func (s *FittingService) PipeFrom(ctx context.Context, targetID valueobjects.ElementID, sources []valueobjects.ElementID, fittingType valueobjects.FittingType, clear bool, name string) ([]*entities.Fitting, error) {
	start := time.Now()

	if err := s.validator.ValidatePipe(targetID, sources, fittingType, name); err != nil {
		return nil, err
	}

	desired, err := s.buildFittings(targetID, sources, fittingType, name, true)
	if err != nil {
		return nil, err
	}

	data := &extensions.HookData{
		EntityType: "element",
		EntityID:   targetID.String(),
		Operation:  "pipe_from",
		Metadata: map[string]interface{}{
			"fitting_type": fittingType.Value(),
			"clear":        clear,
			"requested":    len(sources),
		},
	}
	if err := s.hooks.Execute(ctx, extensions.HookBeforeReplace, data); err != nil {
		return nil, fmt.Errorf("before-replace hook rejected pipe: %w", err)
	}

	plan, err := s.repo.ReplaceSources(ctx, targetID, fittingType, desired, clear)
	if err != nil {
		return nil, fmt.Errorf("failed to replace sources: %w", err)
	}

	summary := events.NewSourcesReplaced(targetID, fittingType, len(plan.Insert), len(plan.Delete), len(plan.Keep), time.Now())
	s.publishReplace(ctx, plan, summary)
	s.invalidateTraversals(ctx, "pipe_from")

	s.hooks.ExecuteAsync(ctx, extensions.HookAfterReplace, data)
	s.metrics.RecordCount(ctx, "FittingsCreated", float64(len(plan.Insert)))
	s.metrics.RecordCount(ctx, "FittingsDeleted", float64(len(plan.Delete)))
	s.metrics.RecordDuration(ctx, "PipeLatency", time.Since(start))

	s.logger.Info("Piped sources into element",
		zap.String("target", targetID.String()),
		zap.Int64("type", fittingType.Value()),
		zap.Bool("clear", clear),
		zap.Int("added", len(plan.Insert)),
		zap.Int("removed", len(plan.Delete)),
		zap.Int("kept", len(plan.Keep)),
	)

	return connectedFittings(plan), nil
}

// Detach removes every fitting of the matching type touching the element,
// in both directions. Returns the number removed.
func (s *FittingService) Detach(ctx context.Context, elementID valueobjects.ElementID, fittingType valueobjects.FittingType) (int, error) {
	data := &extensions.HookData{
		EntityType: "element",
		EntityID:   elementID.String(),
		Operation:  "detach",
		Metadata: map[string]interface{}{
			"fitting_type": fittingType.Value(),
		},
	}
	if err := s.hooks.Execute(ctx, extensions.HookBeforeFittingDelete, data); err != nil {
		return 0, fmt.Errorf("before-delete hook rejected detach: %w", err)
	}

	removed, err := s.repo.DeleteByElement(ctx, elementID, fittingType)
	if err != nil {
		return 0, fmt.Errorf("failed to detach element: %w", err)
	}
	if len(removed) == 0 {
		return 0, nil
	}

	evts := deletionEvents(removed)
	evts = append(evts, events.NewElementDetached(elementID, fittingType, len(removed), time.Now()))
	s.publishEvents(ctx, evts)
	s.invalidateTraversals(ctx, "detach")

	s.hooks.ExecuteAsync(ctx, extensions.HookAfterFittingDelete, data)
	s.metrics.RecordCount(ctx, "FittingsDeleted", float64(len(removed)))

	s.logger.Info("Element detached",
		zap.String("element", elementID.String()),
		zap.Int64("type", fittingType.Value()),
		zap.Int("removed", len(removed)),
	)

	return len(removed), nil
}

// RemoveElement cascades an element deletion through the store: every
// fitting referencing the element, of any type, in either direction, is
// removed. Embedding systems call this when the element's owner deletes it
// so no dangling references survive. Returns the number removed.
func (s *FittingService) RemoveElement(ctx context.Context, elementID valueobjects.ElementID) (int, error) {
	data := &extensions.HookData{
		EntityType: "element",
		EntityID:   elementID.String(),
		Operation:  "remove_element",
	}
	if err := s.hooks.Execute(ctx, extensions.HookBeforeElementRemove, data); err != nil {
		return 0, fmt.Errorf("before-remove hook rejected element removal: %w", err)
	}

	removed, err := s.repo.DeleteByElement(ctx, elementID, valueobjects.TypeAny)
	if err != nil {
		return 0, fmt.Errorf("failed to remove element: %w", err)
	}

	if len(removed) > 0 {
		evts := deletionEvents(removed)
		evts = append(evts, events.NewElementRemoved(elementID, len(removed), time.Now()))
		s.publishEvents(ctx, evts)
		s.invalidateTraversals(ctx, "remove_element")
		s.metrics.RecordCount(ctx, "FittingsDeleted", float64(len(removed)))
	}

	s.hooks.ExecuteAsync(ctx, extensions.HookAfterElementRemove, data)

	s.logger.Info("Element removed from assembly",
		zap.String("element", elementID.String()),
		zap.Int("removed", len(removed)),
	)

	return len(removed), nil
}

// Relabel changes the display name of the fitting with the exact triple.
// The name is the only mutable attribute of a stored fitting.
func (s *FittingService) Relabel(ctx context.Context, sourceID, targetID valueobjects.ElementID, fittingType valueobjects.FittingType, name string) (*entities.Fitting, error) {
	if fittingType.IsAny() {
		return nil, pkgerrors.NewReservedTypeError()
	}

	if err := s.validator.ValidateName(name); err != nil {
		return nil, err
	}

	fitting, err := s.repo.Get(ctx, sourceID, targetID, fittingType)
	if err != nil {
		return nil, err
	}

	fitting.Rename(name)
	if err := s.repo.UpdateName(ctx, fitting); err != nil {
		return nil, fmt.Errorf("failed to persist fitting name: %w", err)
	}

	s.publishEvents(ctx, fitting.GetUncommittedEvents())
	fitting.MarkEventsAsCommitted()

	s.hooks.ExecuteAsync(ctx, extensions.HookAfterFittingRename, &extensions.HookData{
		EntityType: "fitting",
		EntityID:   fitting.ID(),
		Operation:  "relabel",
		After:      fitting,
	})

	s.logger.Info("Fitting relabeled",
		zap.String("fittingID", fitting.ID()),
		zap.String("name", name),
	)

	return fitting, nil
}

// Get retrieves the fitting with the exact triple
func (s *FittingService) Get(ctx context.Context, sourceID, targetID valueobjects.ElementID, fittingType valueobjects.FittingType) (*entities.Fitting, error) {
	return s.repo.Get(ctx, sourceID, targetID, fittingType)
}

// List returns every fitting whose type matches, sorted for deterministic
// iteration
func (s *FittingService) List(ctx context.Context, fittingType valueobjects.FittingType) ([]*entities.Fitting, error) {
	fittings, err := s.repo.List(ctx, fittingType)
	if err != nil {
		return nil, fmt.Errorf("failed to list fittings: %w", err)
	}
	return fittings, nil
}

// Mapping returns every source element mapped to its sorted sinks through
// fittings of the matching type
func (s *FittingService) Mapping(ctx context.Context, fittingType valueobjects.FittingType) (map[valueobjects.ElementID][]valueobjects.ElementID, error) {
	fittings, err := s.repo.List(ctx, fittingType)
	if err != nil {
		return nil, fmt.Errorf("failed to list fittings: %w", err)
	}
	return aggregates.ReconstructPipeline(fittings).Mapping(fittingType), nil
}

// buildFittings constructs the desired fittings for a pipe operation,
// skipping duplicate ends. reverse false builds element->end, reverse true
// builds end->element.
func (s *FittingService) buildFittings(elementID valueobjects.ElementID, ends []valueobjects.ElementID, fittingType valueobjects.FittingType, name string, reverse bool) ([]*entities.Fitting, error) {
	desired := make([]*entities.Fitting, 0, len(ends))
	seen := make(map[valueobjects.ElementID]struct{}, len(ends))

	for _, end := range ends {
		if _, dup := seen[end]; dup {
			continue // duplicates in the request are skipped, not errors
		}
		seen[end] = struct{}{}

		var fitting *entities.Fitting
		var err error
		if reverse {
			fitting, err = entities.NewFitting(end, elementID, fittingType, name)
		} else {
			fitting, err = entities.NewFitting(elementID, end, fittingType, name)
		}
		if err != nil {
			return nil, err
		}
		desired = append(desired, fitting)
	}

	return desired, nil
}

// publishReplace publishes the events for an applied replace plan: creation
// events carried by the inserted fittings, deletion events for the removed
// ones, and the summary event.
func (s *FittingService) publishReplace(ctx context.Context, plan *aggregates.ReplacePlan, summary events.DomainEvent) {
	evts := []events.DomainEvent{}
	for _, f := range plan.Insert {
		evts = append(evts, f.GetUncommittedEvents()...)
		f.MarkEventsAsCommitted()
	}
	evts = append(evts, deletionEvents(plan.Delete)...)
	evts = append(evts, summary)
	s.publishEvents(ctx, evts)
}

// publishEvents sends events without failing the operation that raised them
func (s *FittingService) publishEvents(ctx context.Context, evts []events.DomainEvent) {
	if len(evts) == 0 {
		return
	}
	if err := s.publisher.PublishBatch(ctx, evts); err != nil {
		s.logger.Warn("Failed to publish domain events",
			zap.Error(err),
			zap.Int("count", len(evts)),
		)
	}
}

// invalidateTraversals flushes traversal snapshots after a topology change
func (s *FittingService) invalidateTraversals(ctx context.Context, operation string) {
	err := s.hooks.Execute(ctx, extensions.HookCacheInvalidation, &extensions.HookData{
		EntityType: "pipeline",
		Operation:  operation,
	})
	if err != nil {
		s.logger.Warn("Cache invalidation hook failed", zap.Error(err))
	}
}

// connectedFittings flattens an applied replace plan into the fittings now
// present: the survivors plus the inserts, sorted by source, type, target.
func connectedFittings(plan *aggregates.ReplacePlan) []*entities.Fitting {
	connected := make([]*entities.Fitting, 0, len(plan.Keep)+len(plan.Insert))
	connected = append(connected, plan.Keep...)
	connected = append(connected, plan.Insert...)
	sort.Slice(connected, func(i, j int) bool {
		a, b := connected[i], connected[j]
		if a.SourceID() != b.SourceID() {
			return a.SourceID().String() < b.SourceID().String()
		}
		if a.Type() != b.Type() {
			return a.Type().Value() < b.Type().Value()
		}
		return a.TargetID().String() < b.TargetID().String()
	})
	return connected
}

// deletionEvents builds FittingDeleted events for removed fittings
func deletionEvents(removed []*entities.Fitting) []events.DomainEvent {
	now := time.Now()
	evts := make([]events.DomainEvent, 0, len(removed))
	for _, f := range removed {
		evts = append(evts, events.NewFittingDeleted(f.ID(), f.SourceID(), f.TargetID(), f.Type(), now))
	}
	return evts
}

// uniqueEnds collapses fittings to the sorted set of elements on one end
func uniqueEnds(fittings []*entities.Fitting, end func(*entities.Fitting) valueobjects.ElementID) []valueobjects.ElementID {
	set := make(map[valueobjects.ElementID]struct{}, len(fittings))
	for _, f := range fittings {
		set[end(f)] = struct{}{}
	}

	result := make([]valueobjects.ElementID, 0, len(set))
	for id := range set {
		result = append(result, id)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].String() < result[j].String()
	})
	return result
}
