package events

import (
	"time"

	"github.com/mcfletch/fitting/domain/core/valueobjects"
)

// Fitting Events

// FittingCreated is raised when a fitting is stored between two elements
type FittingCreated struct {
	BaseEvent
	FittingID string                   `json:"fitting_id"`
	SourceID  valueobjects.ElementID   `json:"source_id"`
	TargetID  valueobjects.ElementID   `json:"target_id"`
	Type      valueobjects.FittingType `json:"fitting_type"`
	Name      string                   `json:"name,omitempty"`
}

// NewFittingCreated creates a FittingCreated event
func NewFittingCreated(fittingID string, sourceID, targetID valueobjects.ElementID, fittingType valueobjects.FittingType, name string, timestamp time.Time) FittingCreated {
	return FittingCreated{
		BaseEvent: BaseEvent{
			AggregateID: sourceID.String(),
			EventType:   "fitting.created",
			Timestamp:   timestamp,
			Version:     1,
		},
		FittingID: fittingID,
		SourceID:  sourceID,
		TargetID:  targetID,
		Type:      fittingType,
		Name:      name,
	}
}

// FittingDeleted is raised when a stored fitting is removed
type FittingDeleted struct {
	BaseEvent
	FittingID string                   `json:"fitting_id"`
	SourceID  valueobjects.ElementID   `json:"source_id"`
	TargetID  valueobjects.ElementID   `json:"target_id"`
	Type      valueobjects.FittingType `json:"fitting_type"`
}

// NewFittingDeleted creates a FittingDeleted event
func NewFittingDeleted(fittingID string, sourceID, targetID valueobjects.ElementID, fittingType valueobjects.FittingType, timestamp time.Time) FittingDeleted {
	return FittingDeleted{
		BaseEvent: BaseEvent{
			AggregateID: sourceID.String(),
			EventType:   "fitting.deleted",
			Timestamp:   timestamp,
			Version:     1,
		},
		FittingID: fittingID,
		SourceID:  sourceID,
		TargetID:  targetID,
		Type:      fittingType,
	}
}

// FittingRenamed is raised when a fitting's display name changes
type FittingRenamed struct {
	BaseEvent
	FittingID string                   `json:"fitting_id"`
	SourceID  valueobjects.ElementID   `json:"source_id"`
	TargetID  valueobjects.ElementID   `json:"target_id"`
	Type      valueobjects.FittingType `json:"fitting_type"`
	OldName   string                   `json:"old_name"`
	NewName   string                   `json:"new_name"`
}

// NewFittingRenamed creates a FittingRenamed event
func NewFittingRenamed(fittingID string, sourceID, targetID valueobjects.ElementID, fittingType valueobjects.FittingType, oldName, newName string, timestamp time.Time) FittingRenamed {
	return FittingRenamed{
		BaseEvent: BaseEvent{
			AggregateID: sourceID.String(),
			EventType:   "fitting.renamed",
			Timestamp:   timestamp,
			Version:     1,
		},
		FittingID: fittingID,
		SourceID:  sourceID,
		TargetID:  targetID,
		Type:      fittingType,
		OldName:   oldName,
		NewName:   newName,
	}
}

// Element Events

// ElementDetached is raised when every fitting of one type touching an
// element has been removed, in both directions
type ElementDetached struct {
	BaseEvent
	ElementID valueobjects.ElementID   `json:"element_id"`
	Type      valueobjects.FittingType `json:"fitting_type"`
	Removed   int                      `json:"removed"`
}

// NewElementDetached creates an ElementDetached event
func NewElementDetached(elementID valueobjects.ElementID, fittingType valueobjects.FittingType, removed int, timestamp time.Time) ElementDetached {
	return ElementDetached{
		BaseEvent: BaseEvent{
			AggregateID: elementID.String(),
			EventType:   "element.detached",
			Timestamp:   timestamp,
			Version:     1,
		},
		ElementID: elementID,
		Type:      fittingType,
		Removed:   removed,
	}
}

// ElementRemoved is raised when an element leaves the assembly and every
// fitting referencing it, of any type, has been removed
type ElementRemoved struct {
	BaseEvent
	ElementID valueobjects.ElementID `json:"element_id"`
	Removed   int                    `json:"removed"`
}

// NewElementRemoved creates an ElementRemoved event
func NewElementRemoved(elementID valueobjects.ElementID, removed int, timestamp time.Time) ElementRemoved {
	return ElementRemoved{
		BaseEvent: BaseEvent{
			AggregateID: elementID.String(),
			EventType:   "element.removed",
			Timestamp:   timestamp,
			Version:     1,
		},
		ElementID: elementID,
		Removed:   removed,
	}
}

// Pipe Assembly Events

// SinksReplaced is raised when a pipe operation rewrites the outgoing
// fittings of an element
type SinksReplaced struct {
	BaseEvent
	SourceID valueobjects.ElementID   `json:"source_id"`
	Type     valueobjects.FittingType `json:"fitting_type"`
	Added    int                      `json:"added"`
	Removed  int                      `json:"removed"`
	Kept     int                      `json:"kept"`
}

// NewSinksReplaced creates a SinksReplaced event
func NewSinksReplaced(sourceID valueobjects.ElementID, fittingType valueobjects.FittingType, added, removed, kept int, timestamp time.Time) SinksReplaced {
	return SinksReplaced{
		BaseEvent: BaseEvent{
			AggregateID: sourceID.String(),
			EventType:   "element.sinks_replaced",
			Timestamp:   timestamp,
			Version:     1,
		},
		SourceID: sourceID,
		Type:     fittingType,
		Added:    added,
		Removed:  removed,
		Kept:     kept,
	}
}

// SourcesReplaced is raised when a pipe operation rewrites the incoming
// fittings of an element
type SourcesReplaced struct {
	BaseEvent
	TargetID valueobjects.ElementID   `json:"target_id"`
	Type     valueobjects.FittingType `json:"fitting_type"`
	Added    int                      `json:"added"`
	Removed  int                      `json:"removed"`
	Kept     int                      `json:"kept"`
}

// NewSourcesReplaced creates a SourcesReplaced event
func NewSourcesReplaced(targetID valueobjects.ElementID, fittingType valueobjects.FittingType, added, removed, kept int, timestamp time.Time) SourcesReplaced {
	return SourcesReplaced{
		BaseEvent: BaseEvent{
			AggregateID: targetID.String(),
			EventType:   "element.sources_replaced",
			Timestamp:   timestamp,
			Version:     1,
		},
		TargetID: targetID,
		Type:     fittingType,
		Added:    added,
		Removed:  removed,
		Kept:     kept,
	}
}
