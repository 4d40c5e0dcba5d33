package integration

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcfletch/fitting/domain/core/valueobjects"
	"github.com/mcfletch/fitting/domain/events"
	"github.com/mcfletch/fitting/infrastructure/config"
	"github.com/mcfletch/fitting/infrastructure/di"
	"github.com/mcfletch/fitting/pkg/extensions"
)

// countingHandler subscribes to one event type and counts deliveries
type countingHandler struct {
	mu      sync.Mutex
	accepts string
	seen    int
}

func (h *countingHandler) Handle(ctx context.Context, event events.DomainEvent) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.seen++
	return nil
}

func (h *countingHandler) CanHandle(eventType string) bool {
	return h.accepts == eventType
}

func (h *countingHandler) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.seen
}

func testConfig() *config.Config {
	return &config.Config{
		Environment:   "test",
		StorageDriver: config.StorageMemory,
		AWSRegion:     "us-west-2",
		CacheTTL:      60,
		LogLevel:      "error",
	}
}

func newContainer(t *testing.T, cfg *config.Config) *di.Container {
	t.Helper()
	require.NoError(t, cfg.Validate())

	container, err := di.InitializeContainer(context.Background(), cfg)
	require.NoError(t, err)
	return container
}

func elementID(t *testing.T, raw string) valueobjects.ElementID {
	t.Helper()
	id, err := valueobjects.NewElementID(raw)
	require.NoError(t, err)
	return id
}

func elementIDs(t *testing.T, raws ...string) []valueobjects.ElementID {
	t.Helper()
	result := make([]valueobjects.ElementID, len(raws))
	for i, raw := range raws {
		result[i] = elementID(t, raw)
	}
	return result
}

// TestPipeAssemblyLifecycle drives a small processing line through the fully
// wired container: pipe, connect, traverse, rewire, and tear down, with the
// in-process event bus observing every step.
func TestPipeAssemblyLifecycle(t *testing.T) {
	container := newContainer(t, testConfig())
	ctx := context.Background()

	created := &countingHandler{accepts: "fitting.created"}
	deleted := &countingHandler{accepts: "fitting.deleted"}
	require.NoError(t, container.EventBus.Subscribe("fitting.created", created))
	require.NoError(t, container.EventBus.Subscribe("fitting.deleted", deleted))

	intake := elementID(t, "intake")
	tank := elementID(t, "tank")

	// Fan the intake out to both filters in one call
	connected, err := container.Fittings.PipeTo(ctx, intake, elementIDs(t, "filter-a", "filter-b"), valueobjects.TypeDefault, false, "raw feed")
	require.NoError(t, err)
	assert.Len(t, connected, 2)

	// Join both filters into the tank
	_, err = container.Fittings.Connect(ctx, elementID(t, "filter-a"), tank, valueobjects.TypeDefault, "")
	require.NoError(t, err)
	_, err = container.Fittings.Connect(ctx, elementID(t, "filter-b"), tank, valueobjects.TypeDefault, "")
	require.NoError(t, err)

	// Traversals see the whole line
	descendants, err := container.Traversals.Descendants(ctx, intake, valueobjects.TypeAny)
	require.NoError(t, err)
	assert.Equal(t, elementIDs(t, "filter-a", "filter-b", "tank"), descendants)

	path, err := container.Traversals.Path(ctx, intake, tank, valueobjects.TypeDefault)
	require.NoError(t, err)
	require.Len(t, path, 3)
	assert.Equal(t, intake, path[0])
	assert.Equal(t, tank, path[2])

	// Rewiring through the service flushes the traversal snapshot
	_, err = container.Fittings.PipeTo(ctx, intake, elementIDs(t, "filter-a"), valueobjects.TypeDefault, true, "")
	require.NoError(t, err)

	descendants, err = container.Traversals.Descendants(ctx, intake, valueobjects.TypeAny)
	require.NoError(t, err)
	assert.Equal(t, elementIDs(t, "filter-a", "tank"), descendants,
		"filter-b is off the intake line but still feeds the tank")

	// Tearing out the tank cascades to every fitting touching it
	removed, err := container.Fittings.RemoveElement(ctx, tank)
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	assert.Equal(t, 4, created.count())
	assert.Equal(t, 3, deleted.count())
}

// TestHooksGuardMutations registers a veto hook through the container and
// verifies it blocks the write.
func TestHooksGuardMutations(t *testing.T) {
	container := newContainer(t, testConfig())
	ctx := context.Background()

	container.Hooks.Register(extensions.HookBeforeFittingCreate, func(ctx context.Context, data interface{}) error {
		return context.Canceled
	})

	_, err := container.Fittings.Connect(ctx, elementID(t, "a"), elementID(t, "b"), valueobjects.TypeDefault, "")
	require.Error(t, err)

	fittings, err := container.Fittings.List(ctx, valueobjects.TypeAny)
	require.NoError(t, err)
	assert.Empty(t, fittings, "vetoed connect stored nothing")
}

// TestSQLiteDriverThroughContainer runs the lifecycle against the sqlite
// store selected by configuration.
func TestSQLiteDriverThroughContainer(t *testing.T) {
	cfg := testConfig()
	cfg.StorageDriver = config.StorageSQLite
	cfg.SQLitePath = filepath.Join(t.TempDir(), "fittings.db")

	container := newContainer(t, cfg)
	ctx := context.Background()

	_, err := container.Fittings.Connect(ctx, elementID(t, "boiler"), elementID(t, "turbine"), valueobjects.TypeDefault, "steam")
	require.NoError(t, err)
	_, err = container.Fittings.Connect(ctx, elementID(t, "turbine"), elementID(t, "condenser"), valueobjects.TypeDefault, "")
	require.NoError(t, err)

	descendants, err := container.Traversals.Descendants(ctx, elementID(t, "boiler"), valueobjects.TypeDefault)
	require.NoError(t, err)
	assert.Equal(t, elementIDs(t, "condenser", "turbine"), descendants)

	relabeled, err := container.Fittings.Relabel(ctx, elementID(t, "boiler"), elementID(t, "turbine"), valueobjects.TypeDefault, "main steam line")
	require.NoError(t, err)
	assert.Equal(t, "main steam line", relabeled.Name())

	stored, err := container.Fittings.Get(ctx, elementID(t, "boiler"), elementID(t, "turbine"), valueobjects.TypeDefault)
	require.NoError(t, err)
	assert.Equal(t, "main steam line", stored.Name())

	count, err := container.Fittings.Detach(ctx, elementID(t, "turbine"), valueobjects.TypeAny)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	remaining, err := container.Fittings.List(ctx, valueobjects.TypeAny)
	require.NoError(t, err)
	assert.Empty(t, remaining)
}
