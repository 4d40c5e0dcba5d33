package services

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mcfletch/fitting/domain/core/validators"
	"github.com/mcfletch/fitting/domain/core/valueobjects"
	"github.com/mcfletch/fitting/domain/events"
	"github.com/mcfletch/fitting/infrastructure/persistence/memory"
	pkgerrors "github.com/mcfletch/fitting/pkg/errors"
	"github.com/mcfletch/fitting/pkg/extensions"
)

// eventRecorder captures published events for assertions
type eventRecorder struct {
	mu     sync.Mutex
	events []events.DomainEvent
}

func (r *eventRecorder) Publish(ctx context.Context, event events.DomainEvent) error {
	return r.PublishBatch(ctx, []events.DomainEvent{event})
}

func (r *eventRecorder) PublishBatch(ctx context.Context, evts []events.DomainEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evts...)
	return nil
}

func (r *eventRecorder) eventTypes() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	types := make([]string, len(r.events))
	for i, e := range r.events {
		types[i] = e.GetEventType()
	}
	return types
}

func (r *eventRecorder) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}

func newTestService(t *testing.T) (*FittingService, *memory.FittingStore, *eventRecorder, *extensions.HookManager) {
	t.Helper()
	repo := memory.NewFittingStore(zap.NewNop())
	recorder := &eventRecorder{}
	hooks := extensions.NewHookManager()
	svc := NewFittingService(repo, validators.NewFittingValidator(), recorder, hooks, nil, zap.NewNop())
	return svc, repo, recorder, hooks
}

func mustID(t *testing.T, raw string) valueobjects.ElementID {
	t.Helper()
	id, err := valueobjects.NewElementID(raw)
	require.NoError(t, err)
	return id
}

func mustIDs(t *testing.T, raws ...string) []valueobjects.ElementID {
	t.Helper()
	result := make([]valueobjects.ElementID, len(raws))
	for i, raw := range raws {
		result[i] = mustID(t, raw)
	}
	return result
}

func TestFittingService_Connect(t *testing.T) {
	svc, _, recorder, _ := newTestService(t)
	ctx := context.Background()

	fitting, err := svc.Connect(ctx, mustID(t, "boiler"), mustID(t, "turbine"), valueobjects.TypeDefault, "steam")
	require.NoError(t, err)
	require.NotNil(t, fitting)
	assert.Equal(t, "steam", fitting.Name())
	assert.Empty(t, fitting.GetUncommittedEvents(), "events are committed after publishing")

	stored, err := svc.Get(ctx, mustID(t, "boiler"), mustID(t, "turbine"), valueobjects.TypeDefault)
	require.NoError(t, err)
	assert.Equal(t, fitting.ID(), stored.ID())

	assert.Equal(t, []string{"fitting.created"}, recorder.eventTypes())
}

func TestFittingService_Connect_Rejections(t *testing.T) {
	svc, _, recorder, _ := newTestService(t)
	ctx := context.Background()
	boiler := mustID(t, "boiler")
	turbine := mustID(t, "turbine")

	t.Run("self loop", func(t *testing.T) {
		_, err := svc.Connect(ctx, boiler, boiler, valueobjects.TypeDefault, "")
		require.Error(t, err)
		assert.True(t, errors.Is(err, pkgerrors.ErrSelfReferentialFitting))
	})

	t.Run("reserved wildcard type", func(t *testing.T) {
		_, err := svc.Connect(ctx, boiler, turbine, valueobjects.TypeAny, "")
		require.Error(t, err)
		assert.True(t, errors.Is(err, pkgerrors.ErrReservedFittingType))
	})

	t.Run("blank source", func(t *testing.T) {
		_, err := svc.Connect(ctx, valueobjects.ElementID{}, turbine, valueobjects.TypeDefault, "")
		require.Error(t, err)
		assert.True(t, errors.Is(err, pkgerrors.ErrBlankElementID))
	})

	t.Run("duplicate triple", func(t *testing.T) {
		_, err := svc.Connect(ctx, boiler, turbine, valueobjects.TypeDefault, "")
		require.NoError(t, err)

		_, err = svc.Connect(ctx, boiler, turbine, valueobjects.TypeDefault, "second")
		require.Error(t, err)
		assert.True(t, pkgerrors.IsDuplicateFitting(err))
	})

	t.Run("same pair under another type is allowed", func(t *testing.T) {
		_, err := svc.Connect(ctx, boiler, turbine, valueobjects.NewFittingType(2), "")
		assert.NoError(t, err)
	})

	// Only the two successful connects published
	assert.Equal(t, []string{"fitting.created", "fitting.created"}, recorder.eventTypes())
}

func TestFittingService_Connect_BeforeHookRejects(t *testing.T) {
	svc, _, _, hooks := newTestService(t)
	ctx := context.Background()
	rejection := errors.New("element is locked")

	hooks.Register(extensions.HookBeforeFittingCreate, func(ctx context.Context, data interface{}) error {
		return rejection
	})

	_, err := svc.Connect(ctx, mustID(t, "a"), mustID(t, "b"), valueobjects.TypeDefault, "")
	require.Error(t, err)
	assert.True(t, errors.Is(err, rejection))

	_, err = svc.Get(ctx, mustID(t, "a"), mustID(t, "b"), valueobjects.TypeDefault)
	assert.True(t, pkgerrors.IsNotFound(err), "nothing was stored")
}

func TestFittingService_Disconnect(t *testing.T) {
	svc, _, recorder, _ := newTestService(t)
	ctx := context.Background()
	a, b := mustID(t, "a"), mustID(t, "b")

	_, err := svc.Connect(ctx, a, b, valueobjects.TypeDefault, "")
	require.NoError(t, err)
	_, err = svc.Connect(ctx, a, b, valueobjects.NewFittingType(2), "")
	require.NoError(t, err)
	recorder.reset()

	t.Run("absent pair is a no-op", func(t *testing.T) {
		count, err := svc.Disconnect(ctx, mustID(t, "x"), mustID(t, "y"), valueobjects.TypeAny)
		require.NoError(t, err)
		assert.Zero(t, count)
		assert.Empty(t, recorder.eventTypes())
	})

	t.Run("concrete type removes one", func(t *testing.T) {
		count, err := svc.Disconnect(ctx, a, b, valueobjects.TypeDefault)
		require.NoError(t, err)
		assert.Equal(t, 1, count)
		assert.Equal(t, []string{"fitting.deleted"}, recorder.eventTypes())
	})

	t.Run("wildcard removes the remaining types", func(t *testing.T) {
		recorder.reset()
		count, err := svc.Disconnect(ctx, a, b, valueobjects.TypeAny)
		require.NoError(t, err)
		assert.Equal(t, 1, count)

		sinks, err := svc.Sinks(ctx, a, valueobjects.TypeAny)
		require.NoError(t, err)
		assert.Empty(t, sinks)
	})
}

func TestFittingService_SourcesAndSinks(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Connect(ctx, mustID(t, "a"), mustID(t, "hub"), valueobjects.TypeDefault, "")
	require.NoError(t, err)
	_, err = svc.Connect(ctx, mustID(t, "b"), mustID(t, "hub"), valueobjects.TypeDefault, "")
	require.NoError(t, err)
	_, err = svc.Connect(ctx, mustID(t, "b"), mustID(t, "hub"), valueobjects.NewFittingType(2), "")
	require.NoError(t, err)
	_, err = svc.Connect(ctx, mustID(t, "hub"), mustID(t, "out"), valueobjects.TypeDefault, "")
	require.NoError(t, err)

	sources, err := svc.Sources(ctx, mustID(t, "hub"), valueobjects.TypeAny)
	require.NoError(t, err)
	assert.Equal(t, mustIDs(t, "a", "b"), sources, "distinct and sorted despite b connecting twice")

	sources, err = svc.Sources(ctx, mustID(t, "hub"), valueobjects.NewFittingType(2))
	require.NoError(t, err)
	assert.Equal(t, mustIDs(t, "b"), sources)

	sinks, err := svc.Sinks(ctx, mustID(t, "hub"), valueobjects.TypeAny)
	require.NoError(t, err)
	assert.Equal(t, mustIDs(t, "out"), sinks)

	empty, err := svc.Sinks(ctx, mustID(t, "ghost"), valueobjects.TypeAny)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestFittingService_PipeTo(t *testing.T) {
	ctx := context.Background()

	t.Run("creates the full set", func(t *testing.T) {
		svc, _, recorder, _ := newTestService(t)

		connected, err := svc.PipeTo(ctx, mustID(t, "hub"), mustIDs(t, "b", "a"), valueobjects.TypeDefault, false, "feed")
		require.NoError(t, err)
		require.Len(t, connected, 2)
		assert.Equal(t, "a", connected[0].TargetID().String())
		assert.Equal(t, "b", connected[1].TargetID().String())

		types := recorder.eventTypes()
		assert.Equal(t, []string{"fitting.created", "fitting.created", "element.sinks_replaced"}, types)
	})

	t.Run("duplicates in the request collapse", func(t *testing.T) {
		svc, _, _, _ := newTestService(t)

		connected, err := svc.PipeTo(ctx, mustID(t, "hub"), mustIDs(t, "a", "a", "b"), valueobjects.TypeDefault, false, "")
		require.NoError(t, err)
		assert.Len(t, connected, 2)
	})

	t.Run("existing fittings are kept silently without clear", func(t *testing.T) {
		svc, _, recorder, _ := newTestService(t)

		original, err := svc.Connect(ctx, mustID(t, "hub"), mustID(t, "a"), valueobjects.TypeDefault, "original")
		require.NoError(t, err)
		recorder.reset()

		connected, err := svc.PipeTo(ctx, mustID(t, "hub"), mustIDs(t, "a", "b"), valueobjects.TypeDefault, false, "batch")
		require.NoError(t, err)
		require.Len(t, connected, 2)

		// The surviving fitting keeps its identity and name
		assert.Equal(t, original.ID(), connected[0].ID())
		assert.Equal(t, "original", connected[0].Name())
		assert.Equal(t, "batch", connected[1].Name())

		assert.Equal(t, []string{"fitting.created", "element.sinks_replaced"}, recorder.eventTypes())
	})

	t.Run("clear reconciles to exactly the requested set", func(t *testing.T) {
		svc, _, recorder, _ := newTestService(t)

		_, err := svc.PipeTo(ctx, mustID(t, "hub"), mustIDs(t, "a", "b"), valueobjects.TypeDefault, false, "")
		require.NoError(t, err)
		recorder.reset()

		connected, err := svc.PipeTo(ctx, mustID(t, "hub"), mustIDs(t, "b", "c"), valueobjects.TypeDefault, true, "")
		require.NoError(t, err)
		require.Len(t, connected, 2)
		assert.Equal(t, "b", connected[0].TargetID().String())
		assert.Equal(t, "c", connected[1].TargetID().String())

		sinks, err := svc.Sinks(ctx, mustID(t, "hub"), valueobjects.TypeDefault)
		require.NoError(t, err)
		assert.Equal(t, mustIDs(t, "b", "c"), sinks)

		assert.Equal(t, []string{"fitting.created", "fitting.deleted", "element.sinks_replaced"}, recorder.eventTypes())
	})

	t.Run("clear with empty set removes all outgoing of that type", func(t *testing.T) {
		svc, _, _, _ := newTestService(t)

		_, err := svc.PipeTo(ctx, mustID(t, "hub"), mustIDs(t, "a", "b"), valueobjects.TypeDefault, false, "")
		require.NoError(t, err)
		_, err = svc.Connect(ctx, mustID(t, "hub"), mustID(t, "c"), valueobjects.NewFittingType(2), "")
		require.NoError(t, err)

		connected, err := svc.PipeTo(ctx, mustID(t, "hub"), nil, valueobjects.TypeDefault, true, "")
		require.NoError(t, err)
		assert.Empty(t, connected)

		sinks, err := svc.Sinks(ctx, mustID(t, "hub"), valueobjects.TypeDefault)
		require.NoError(t, err)
		assert.Empty(t, sinks)

		other, err := svc.Sinks(ctx, mustID(t, "hub"), valueobjects.NewFittingType(2))
		require.NoError(t, err)
		assert.Equal(t, mustIDs(t, "c"), other, "other types untouched")
	})

	t.Run("clear scoped to one type leaves other types alone", func(t *testing.T) {
		svc, _, _, _ := newTestService(t)

		_, err := svc.Connect(ctx, mustID(t, "hub"), mustID(t, "a"), valueobjects.NewFittingType(2), "")
		require.NoError(t, err)

		_, err = svc.PipeTo(ctx, mustID(t, "hub"), mustIDs(t, "b"), valueobjects.TypeDefault, true, "")
		require.NoError(t, err)

		all, err := svc.Sinks(ctx, mustID(t, "hub"), valueobjects.TypeAny)
		require.NoError(t, err)
		assert.Equal(t, mustIDs(t, "a", "b"), all)
	})
}

func TestFittingService_PipeTo_ValidationAbortsWholeBatch(t *testing.T) {
	svc, _, recorder, _ := newTestService(t)
	ctx := context.Background()
	hub := mustID(t, "hub")

	t.Run("self loop in batch", func(t *testing.T) {
		_, err := svc.PipeTo(ctx, hub, mustIDs(t, "a", "hub", "b"), valueobjects.TypeDefault, false, "")
		require.Error(t, err)
		assert.True(t, errors.Is(err, pkgerrors.ErrSelfReferentialFitting))
	})

	t.Run("reserved type", func(t *testing.T) {
		_, err := svc.PipeTo(ctx, hub, mustIDs(t, "a"), valueobjects.TypeAny, false, "")
		require.Error(t, err)
		assert.True(t, errors.Is(err, pkgerrors.ErrReservedFittingType))
	})

	// No partial writes from the rejected batches
	sinks, err := svc.Sinks(ctx, hub, valueobjects.TypeAny)
	require.NoError(t, err)
	assert.Empty(t, sinks)
	assert.Empty(t, recorder.eventTypes())
}

func TestFittingService_PipeFrom(t *testing.T) {
	svc, _, recorder, _ := newTestService(t)
	ctx := context.Background()

	connected, err := svc.PipeFrom(ctx, mustID(t, "tank"), mustIDs(t, "well", "river"), valueobjects.TypeDefault, false, "")
	require.NoError(t, err)
	require.Len(t, connected, 2)
	assert.Equal(t, "river", connected[0].SourceID().String())
	assert.Equal(t, "well", connected[1].SourceID().String())

	sources, err := svc.Sources(ctx, mustID(t, "tank"), valueobjects.TypeDefault)
	require.NoError(t, err)
	assert.Equal(t, mustIDs(t, "river", "well"), sources)

	assert.Equal(t, []string{"fitting.created", "fitting.created", "element.sources_replaced"}, recorder.eventTypes())

	// Reconcile the incoming side down to one source
	recorder.reset()
	connected, err = svc.PipeFrom(ctx, mustID(t, "tank"), mustIDs(t, "well"), valueobjects.TypeDefault, true, "")
	require.NoError(t, err)
	require.Len(t, connected, 1)
	assert.Equal(t, "well", connected[0].SourceID().String())

	sources, err = svc.Sources(ctx, mustID(t, "tank"), valueobjects.TypeDefault)
	require.NoError(t, err)
	assert.Equal(t, mustIDs(t, "well"), sources)
}

func TestFittingService_Detach(t *testing.T) {
	svc, _, recorder, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Connect(ctx, mustID(t, "in"), mustID(t, "hub"), valueobjects.TypeDefault, "")
	require.NoError(t, err)
	_, err = svc.Connect(ctx, mustID(t, "hub"), mustID(t, "out"), valueobjects.TypeDefault, "")
	require.NoError(t, err)
	_, err = svc.Connect(ctx, mustID(t, "hub"), mustID(t, "drain"), valueobjects.NewFittingType(2), "")
	require.NoError(t, err)
	recorder.reset()

	count, err := svc.Detach(ctx, mustID(t, "hub"), valueobjects.TypeDefault)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
	assert.Equal(t, []string{"fitting.deleted", "fitting.deleted", "element.detached"}, recorder.eventTypes())

	remaining, err := svc.Sinks(ctx, mustID(t, "hub"), valueobjects.TypeAny)
	require.NoError(t, err)
	assert.Equal(t, mustIDs(t, "drain"), remaining)

	t.Run("unknown element detaches nothing", func(t *testing.T) {
		recorder.reset()
		count, err := svc.Detach(ctx, mustID(t, "ghost"), valueobjects.TypeAny)
		require.NoError(t, err)
		assert.Zero(t, count)
		assert.Empty(t, recorder.eventTypes())
	})
}

func TestFittingService_RemoveElement(t *testing.T) {
	svc, _, recorder, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Connect(ctx, mustID(t, "a"), mustID(t, "hub"), valueobjects.TypeDefault, "")
	require.NoError(t, err)
	_, err = svc.Connect(ctx, mustID(t, "hub"), mustID(t, "b"), valueobjects.NewFittingType(2), "")
	require.NoError(t, err)
	_, err = svc.Connect(ctx, mustID(t, "a"), mustID(t, "b"), valueobjects.TypeDefault, "")
	require.NoError(t, err)
	recorder.reset()

	count, err := svc.RemoveElement(ctx, mustID(t, "hub"))
	require.NoError(t, err)
	assert.Equal(t, 2, count)
	assert.Equal(t, []string{"fitting.deleted", "fitting.deleted", "element.removed"}, recorder.eventTypes())

	// The unrelated fitting survives
	remaining, err := svc.List(ctx, valueobjects.TypeAny)
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	assert.Equal(t, "a", remaining[0].SourceID().String())
	assert.Equal(t, "b", remaining[0].TargetID().String())
}

func TestFittingService_Relabel(t *testing.T) {
	svc, _, recorder, _ := newTestService(t)
	ctx := context.Background()
	a, b := mustID(t, "a"), mustID(t, "b")

	original, err := svc.Connect(ctx, a, b, valueobjects.TypeDefault, "old label")
	require.NoError(t, err)
	recorder.reset()

	relabeled, err := svc.Relabel(ctx, a, b, valueobjects.TypeDefault, "new label")
	require.NoError(t, err)
	assert.Equal(t, "new label", relabeled.Name())
	assert.Equal(t, original.ID(), relabeled.ID())
	assert.Equal(t, []string{"fitting.renamed"}, recorder.eventTypes())

	stored, err := svc.Get(ctx, a, b, valueobjects.TypeDefault)
	require.NoError(t, err)
	assert.Equal(t, "new label", stored.Name())

	t.Run("absent triple", func(t *testing.T) {
		_, err := svc.Relabel(ctx, a, b, valueobjects.NewFittingType(9), "any")
		require.Error(t, err)
		assert.True(t, pkgerrors.IsNotFound(err))
	})

	t.Run("wildcard type is rejected", func(t *testing.T) {
		_, err := svc.Relabel(ctx, a, b, valueobjects.TypeAny, "any")
		require.Error(t, err)
		assert.True(t, errors.Is(err, pkgerrors.ErrReservedFittingType))
	})
}

func TestFittingService_ListAndMapping(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.PipeTo(ctx, mustID(t, "a"), mustIDs(t, "b", "c"), valueobjects.TypeDefault, false, "")
	require.NoError(t, err)
	_, err = svc.Connect(ctx, mustID(t, "b"), mustID(t, "c"), valueobjects.NewFittingType(2), "")
	require.NoError(t, err)

	all, err := svc.List(ctx, valueobjects.TypeAny)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	typed, err := svc.List(ctx, valueobjects.NewFittingType(2))
	require.NoError(t, err)
	require.Len(t, typed, 1)
	assert.Equal(t, "b", typed[0].SourceID().String())

	mapping, err := svc.Mapping(ctx, valueobjects.TypeDefault)
	require.NoError(t, err)
	require.Len(t, mapping, 1)
	assert.Equal(t, mustIDs(t, "b", "c"), mapping[mustID(t, "a")])
}

func TestFittingService_BeforeDeleteHookBlocksDisconnect(t *testing.T) {
	svc, _, _, hooks := newTestService(t)
	ctx := context.Background()
	a, b := mustID(t, "a"), mustID(t, "b")

	_, err := svc.Connect(ctx, a, b, valueobjects.TypeDefault, "")
	require.NoError(t, err)

	rejection := errors.New("fitting is pinned")
	hooks.Register(extensions.HookBeforeFittingDelete, func(ctx context.Context, data interface{}) error {
		return rejection
	})

	_, err = svc.Disconnect(ctx, a, b, valueobjects.TypeDefault)
	require.Error(t, err)
	assert.True(t, errors.Is(err, rejection))

	stored, err := svc.Get(ctx, a, b, valueobjects.TypeDefault)
	require.NoError(t, err)
	assert.NotNil(t, stored, "the fitting survives a rejected disconnect")
}
