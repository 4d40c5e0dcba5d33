package ports

import (
	"context"

	"github.com/mcfletch/fitting/domain/core/aggregates"
	"github.com/mcfletch/fitting/domain/core/entities"
	"github.com/mcfletch/fitting/domain/core/valueobjects"
	"github.com/mcfletch/fitting/domain/events"
)

// FittingRepository defines the interface for fitting persistence
// This is a port in hexagonal architecture - the domain doesn't know about
// the implementation. Query methods treat the wildcard type as "any", and
// mutating batch methods are atomic: concurrent readers observe either the
// state before the call or the state after it, never a partial write.
type FittingRepository interface {
	// Save persists a new fitting, rejecting a duplicate triple
	Save(ctx context.Context, fitting *entities.Fitting) error

	// Get retrieves the fitting with the exact triple
	Get(ctx context.Context, sourceID, targetID valueobjects.ElementID, fittingType valueobjects.FittingType) (*entities.Fitting, error)

	// Delete removes every fitting from source to target whose type matches.
	// Returns the removed fittings; an unknown pair removes nothing.
	Delete(ctx context.Context, sourceID, targetID valueobjects.ElementID, fittingType valueobjects.FittingType) ([]*entities.Fitting, error)

	// DeleteByElement removes every fitting of the matching type touching
	// the element, in both directions. Returns the removed fittings.
	DeleteByElement(ctx context.Context, elementID valueobjects.ElementID, fittingType valueobjects.FittingType) ([]*entities.Fitting, error)

	// ReplaceSinks reconciles the outgoing fittings of source against the
	// desired set in one atomic write. Surviving fittings keep their name
	// and creation time; with clear false nothing is deleted. Returns the
	// applied plan.
	ReplaceSinks(ctx context.Context, sourceID valueobjects.ElementID, fittingType valueobjects.FittingType, desired []*entities.Fitting, clear bool) (*aggregates.ReplacePlan, error)

	// ReplaceSources reconciles the incoming fittings of target against the
	// desired set in one atomic write, mirroring ReplaceSinks.
	ReplaceSources(ctx context.Context, targetID valueobjects.ElementID, fittingType valueobjects.FittingType, desired []*entities.Fitting, clear bool) (*aggregates.ReplacePlan, error)

	// UpdateName persists the fitting's current display name
	UpdateName(ctx context.Context, fitting *entities.Fitting) error

	// Sources retrieves the fittings entering the element whose type matches
	Sources(ctx context.Context, elementID valueobjects.ElementID, fittingType valueobjects.FittingType) ([]*entities.Fitting, error)

	// Sinks retrieves the fittings leaving the element whose type matches
	Sinks(ctx context.Context, elementID valueobjects.ElementID, fittingType valueobjects.FittingType) ([]*entities.Fitting, error)

	// List retrieves every fitting whose type matches
	List(ctx context.Context, fittingType valueobjects.FittingType) ([]*entities.Fitting, error)
}

// EventPublisher defines the interface for publishing domain events
type EventPublisher interface {
	// Publish sends a single event
	Publish(ctx context.Context, event events.DomainEvent) error

	// PublishBatch sends multiple events
	PublishBatch(ctx context.Context, events []events.DomainEvent) error
}

// EventBus defines the interface for publishing and subscribing to domain events
type EventBus interface {
	EventPublisher

	// Subscribe registers a handler for an event type
	Subscribe(eventType string, handler EventHandler) error

	// Unsubscribe removes a handler
	Unsubscribe(eventType string, handler EventHandler) error
}

// EventHandler defines the interface for handling domain events
type EventHandler interface {
	// Handle processes an event
	Handle(ctx context.Context, event events.DomainEvent) error

	// CanHandle checks if this handler can process the event
	CanHandle(eventType string) bool
}

// Cache defines the interface for caching
type Cache interface {
	// Get retrieves a value from cache
	Get(ctx context.Context, key string) (interface{}, bool)

	// Set stores a value in cache with TTL in seconds
	Set(ctx context.Context, key string, value interface{}, ttl int) error

	// Delete removes a value from cache
	Delete(ctx context.Context, key string) error

	// Clear removes all values from cache
	Clear(ctx context.Context) error
}
