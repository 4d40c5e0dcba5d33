// Package messaging provides event publishing infrastructure: an AWS
// EventBridge publisher for deployed environments and an in-process
// dispatcher for local and embedded use.
package messaging

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/mcfletch/fitting/application/ports"
	"github.com/mcfletch/fitting/domain/events"
)

// Dispatcher is an in-process event bus. Events are delivered synchronously
// to the handlers subscribed to their type; a failing handler is logged and
// does not block delivery to the others.
type Dispatcher struct {
	mu       sync.RWMutex
	handlers map[string][]ports.EventHandler
	logger   *zap.Logger
}

// NewDispatcher creates an empty in-process event bus
func NewDispatcher(logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		handlers: make(map[string][]ports.EventHandler),
		logger:   logger,
	}
}

// Publish delivers a single event to its subscribers
func (d *Dispatcher) Publish(ctx context.Context, event events.DomainEvent) error {
	d.mu.RLock()
	subscribers := make([]ports.EventHandler, len(d.handlers[event.GetEventType()]))
	copy(subscribers, d.handlers[event.GetEventType()])
	d.mu.RUnlock()

	for _, handler := range subscribers {
		if !handler.CanHandle(event.GetEventType()) {
			continue
		}
		if err := handler.Handle(ctx, event); err != nil {
			d.logger.Warn("Event handler failed",
				zap.Error(err),
				zap.String("eventType", event.GetEventType()),
				zap.String("aggregateID", event.GetAggregateID()),
			)
		}
	}
	return nil
}

// PublishBatch delivers multiple events in order
func (d *Dispatcher) PublishBatch(ctx context.Context, domainEvents []events.DomainEvent) error {
	for _, event := range domainEvents {
		if err := d.Publish(ctx, event); err != nil {
			return err
		}
	}
	return nil
}

// Subscribe registers a handler for an event type
func (d *Dispatcher) Subscribe(eventType string, handler ports.EventHandler) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.handlers[eventType] = append(d.handlers[eventType], handler)
	d.logger.Debug("Handler subscribed", zap.String("eventType", eventType))
	return nil
}

// Unsubscribe removes a previously registered handler
func (d *Dispatcher) Unsubscribe(eventType string, handler ports.EventHandler) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	subscribers := d.handlers[eventType]
	for i, h := range subscribers {
		if h == handler {
			d.handlers[eventType] = append(subscribers[:i], subscribers[i+1:]...)
			return nil
		}
	}
	return nil
}
