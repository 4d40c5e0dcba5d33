package extensions

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHookManager_ExecuteRunsInRegistrationOrder(t *testing.T) {
	m := NewHookManager()
	var order []string

	m.Register(HookBeforeFittingCreate, func(ctx context.Context, data interface{}) error {
		order = append(order, "first")
		return nil
	})
	m.Register(HookBeforeFittingCreate, func(ctx context.Context, data interface{}) error {
		order = append(order, "second")
		return nil
	})

	require.NoError(t, m.Execute(context.Background(), HookBeforeFittingCreate, nil))
	assert.Equal(t, []string{"first", "second"}, order)
}

func TestHookManager_ExecutePassesData(t *testing.T) {
	m := NewHookManager()
	var received *HookData

	m.Register(HookAfterFittingCreate, func(ctx context.Context, data interface{}) error {
		received = data.(*HookData)
		return nil
	})

	payload := &HookData{
		EntityType: "fitting",
		EntityID:   "fit-1",
		Operation:  "connect",
		Metadata:   map[string]interface{}{"fitting_type": int64(3)},
	}
	require.NoError(t, m.Execute(context.Background(), HookAfterFittingCreate, payload))

	require.NotNil(t, received)
	assert.Equal(t, "connect", received.Operation)
	assert.Equal(t, int64(3), received.Metadata["fitting_type"])
}

func TestHookManager_ExecuteStopsAtFirstFailure(t *testing.T) {
	m := NewHookManager()
	reject := errors.New("quota exceeded")
	var ranAfterFailure bool

	m.Register(HookBeforeReplace, func(ctx context.Context, data interface{}) error {
		return reject
	})
	m.Register(HookBeforeReplace, func(ctx context.Context, data interface{}) error {
		ranAfterFailure = true
		return nil
	})

	err := m.Execute(context.Background(), HookBeforeReplace, nil)

	require.Error(t, err)
	assert.True(t, errors.Is(err, reject))
	assert.False(t, ranAfterFailure, "later hooks are skipped once one fails")
}

func TestHookManager_ExecuteWithoutHooksIsNoop(t *testing.T) {
	m := NewHookManager()
	assert.NoError(t, m.Execute(context.Background(), HookCacheInvalidation, nil))
}

func TestHookManager_ExecuteAsync(t *testing.T) {
	m := NewHookManager()
	var wg sync.WaitGroup
	wg.Add(2)

	var mu sync.Mutex
	calls := 0
	hook := func(ctx context.Context, data interface{}) error {
		mu.Lock()
		calls++
		mu.Unlock()
		wg.Done()
		return nil
	}
	m.Register(HookAfterFittingDelete, hook)
	m.Register(HookAfterFittingDelete, hook)

	m.ExecuteAsync(context.Background(), HookAfterFittingDelete, nil)

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("async hooks did not run")
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 2, calls)
}

func TestHookManager_Clear(t *testing.T) {
	m := NewHookManager()
	var calls int
	hook := func(ctx context.Context, data interface{}) error {
		calls++
		return nil
	}

	m.Register(HookBeforeFittingDelete, hook)
	m.Register(HookBeforeElementRemove, hook)

	m.Clear(HookBeforeFittingDelete)
	require.NoError(t, m.Execute(context.Background(), HookBeforeFittingDelete, nil))
	require.NoError(t, m.Execute(context.Background(), HookBeforeElementRemove, nil))
	assert.Equal(t, 1, calls, "only the surviving hook point fires")

	m.ClearAll()
	require.NoError(t, m.Execute(context.Background(), HookBeforeElementRemove, nil))
	assert.Equal(t, 1, calls)
}

func TestHookManager_PointsAreIndependent(t *testing.T) {
	m := NewHookManager()
	var fired []HookPoint

	for _, point := range []HookPoint{HookBeforeFittingCreate, HookAfterReplace} {
		p := point
		m.Register(p, func(ctx context.Context, data interface{}) error {
			fired = append(fired, p)
			return nil
		})
	}

	require.NoError(t, m.Execute(context.Background(), HookAfterReplace, nil))
	assert.Equal(t, []HookPoint{HookAfterReplace}, fired)
}
