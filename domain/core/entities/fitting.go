package entities

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/mcfletch/fitting/domain/core/valueobjects"
	"github.com/mcfletch/fitting/domain/events"
	pkgerrors "github.com/mcfletch/fitting/pkg/errors"
)

// Fitting is the main entity: a typed, directed connection between a source
// element and a target element. Uniqueness is carried by the
// (source, target, type) triple; the id exists for storage identity only.
type Fitting struct {
	// Private fields ensure encapsulation
	id          string
	sourceID    valueobjects.ElementID
	targetID    valueobjects.ElementID
	fittingType valueobjects.FittingType
	name        string
	createdAt   time.Time

	// Domain events that occurred during this entity's lifetime
	events []events.DomainEvent
}

// FittingKey is the comparable uniqueness key of a fitting, usable as a map key
type FittingKey struct {
	SourceID string
	TargetID string
	Type     int64
}

// NewFitting creates a fitting with full business rule validation
func NewFitting(sourceID, targetID valueobjects.ElementID, fittingType valueobjects.FittingType, name string) (*Fitting, error) {
	if sourceID.IsZero() {
		return nil, pkgerrors.NewBlankElementIDError("source")
	}

	if targetID.IsZero() {
		return nil, pkgerrors.NewBlankElementIDError("target")
	}

	if sourceID.Equals(targetID) {
		return nil, pkgerrors.NewSelfLoopError(sourceID.String())
	}

	if fittingType.IsAny() {
		return nil, pkgerrors.NewReservedTypeError()
	}

	now := time.Now()
	fitting := &Fitting{
		id:          uuid.New().String(),
		sourceID:    sourceID,
		targetID:    targetID,
		fittingType: fittingType,
		name:        name,
		createdAt:   now,
		events:      []events.DomainEvent{},
	}

	fitting.addEvent(events.NewFittingCreated(
		fitting.id,
		sourceID,
		targetID,
		fittingType,
		name,
		now,
	))

	return fitting, nil
}

// ReconstructFitting rebuilds a fitting from repository data with preserved
// identity and timestamps. Stored rows are trusted and raise no events.
func ReconstructFitting(
	id string,
	sourceID, targetID valueobjects.ElementID,
	fittingType valueobjects.FittingType,
	name string,
	createdAt time.Time,
) *Fitting {
	return &Fitting{
		id:          id,
		sourceID:    sourceID,
		targetID:    targetID,
		fittingType: fittingType,
		name:        name,
		createdAt:   createdAt,
		events:      []events.DomainEvent{},
	}
}

// ID returns the fitting's storage identifier
func (f *Fitting) ID() string {
	return f.id
}

// SourceID returns the element the fitting flows from
func (f *Fitting) SourceID() valueobjects.ElementID {
	return f.sourceID
}

// TargetID returns the element the fitting flows into
func (f *Fitting) TargetID() valueobjects.ElementID {
	return f.targetID
}

// Type returns the fitting's type tag
func (f *Fitting) Type() valueobjects.FittingType {
	return f.fittingType
}

// Name returns the optional display name
func (f *Fitting) Name() string {
	return f.name
}

// CreatedAt returns when the fitting was created
func (f *Fitting) CreatedAt() time.Time {
	return f.createdAt
}

// Key returns the uniqueness key of the fitting
func (f *Fitting) Key() FittingKey {
	return FittingKey{
		SourceID: f.sourceID.String(),
		TargetID: f.targetID.String(),
		Type:     f.fittingType.Value(),
	}
}

// Touches reports whether the fitting references the element on either end
func (f *Fitting) Touches(elementID valueobjects.ElementID) bool {
	return f.sourceID.Equals(elementID) || f.targetID.Equals(elementID)
}

// Rename changes the fitting's display name
func (f *Fitting) Rename(name string) {
	if name == f.name {
		return // No change needed
	}

	oldName := f.name
	f.name = name

	f.addEvent(events.NewFittingRenamed(
		f.id,
		f.sourceID,
		f.targetID,
		f.fittingType,
		oldName,
		name,
		time.Now(),
	))
}

// MarshalJSON implements json.Marshaler
func (f *Fitting) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		ID        string                   `json:"id"`
		SourceID  valueobjects.ElementID   `json:"source_id"`
		TargetID  valueobjects.ElementID   `json:"target_id"`
		Type      valueobjects.FittingType `json:"fitting_type"`
		Name      string                   `json:"name,omitempty"`
		CreatedAt time.Time                `json:"created_at"`
	}{
		ID:        f.id,
		SourceID:  f.sourceID,
		TargetID:  f.targetID,
		Type:      f.fittingType,
		Name:      f.name,
		CreatedAt: f.createdAt,
	})
}

// GetUncommittedEvents returns all uncommitted domain events
func (f *Fitting) GetUncommittedEvents() []events.DomainEvent {
	return f.events
}

// MarkEventsAsCommitted clears the uncommitted events
func (f *Fitting) MarkEventsAsCommitted() {
	f.events = []events.DomainEvent{}
}

// addEvent adds a domain event to the uncommitted list
func (f *Fitting) addEvent(event events.DomainEvent) {
	f.events = append(f.events, event)
}
