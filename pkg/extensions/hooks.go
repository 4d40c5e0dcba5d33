package extensions

import (
	"context"
	"fmt"
	"sync"
)

// HookPoint represents a point in the application where hooks can be registered
type HookPoint string

const (
	// Fitting lifecycle hooks
	HookBeforeFittingCreate HookPoint = "before_fitting_create"
	HookAfterFittingCreate  HookPoint = "after_fitting_create"
	HookBeforeFittingDelete HookPoint = "before_fitting_delete"
	HookAfterFittingDelete  HookPoint = "after_fitting_delete"
	HookAfterFittingRename  HookPoint = "after_fitting_rename"

	// Element lifecycle hooks; remove fires once per cascading removal
	HookBeforeElementRemove HookPoint = "before_element_remove"
	HookAfterElementRemove  HookPoint = "after_element_remove"

	// Pipe assembly hooks
	HookBeforeReplace HookPoint = "before_replace"
	HookAfterReplace  HookPoint = "after_replace"

	// Cache operations
	HookCacheInvalidation HookPoint = "cache_invalidation"
)

// Hook represents a function that can be executed at a hook point
type Hook func(ctx context.Context, data interface{}) error

// HookManager manages hooks for extension points
type HookManager struct {
	hooks map[HookPoint][]Hook
	mu    sync.RWMutex
}

// NewHookManager creates a new hook manager
func NewHookManager() *HookManager {
	return &HookManager{
		hooks: make(map[HookPoint][]Hook),
	}
}

// Register registers a hook for a specific hook point
func (m *HookManager) Register(point HookPoint, hook Hook) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.hooks[point] == nil {
		m.hooks[point] = []Hook{}
	}
	m.hooks[point] = append(m.hooks[point], hook)
}

// Execute executes all hooks for a specific hook point
func (m *HookManager) Execute(ctx context.Context, point HookPoint, data interface{}) error {
	m.mu.RLock()
	hooks := m.hooks[point]
	m.mu.RUnlock()

	for i, hook := range hooks {
		if err := hook(ctx, data); err != nil {
			return fmt.Errorf("hook %d at %s failed: %w", i, point, err)
		}
	}

	return nil
}

// ExecuteAsync executes hooks asynchronously
func (m *HookManager) ExecuteAsync(ctx context.Context, point HookPoint, data interface{}) {
	m.mu.RLock()
	hooks := m.hooks[point]
	m.mu.RUnlock()

	for _, hook := range hooks {
		go func(h Hook) {
			_ = h(ctx, data) // Ignore errors in async execution
		}(hook)
	}
}

// Clear removes all hooks for a specific hook point
func (m *HookManager) Clear(point HookPoint) {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.hooks, point)
}

// ClearAll removes all registered hooks
func (m *HookManager) ClearAll() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.hooks = make(map[HookPoint][]Hook)
}

// HookData represents data passed to hooks
type HookData struct {
	EntityType string                 `json:"entity_type"`
	EntityID   string                 `json:"entity_id"`
	Operation  string                 `json:"operation"`
	Before     interface{}            `json:"before,omitempty"`
	After      interface{}            `json:"after,omitempty"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
}
