package valueobjects

import (
	"encoding/json"
	"strings"

	pkgerrors "github.com/mcfletch/fitting/pkg/errors"
)

// ElementID is a value object identifying a connectable element.
// Identifiers are opaque: the store never interprets them beyond equality,
// so any non-blank string is acceptable.
type ElementID struct {
	value string
}

// NewElementID creates an ElementID from a raw identifier
func NewElementID(raw string) (ElementID, error) {
	if strings.TrimSpace(raw) == "" {
		return ElementID{}, pkgerrors.NewBlankElementIDError("element_id")
	}
	return ElementID{value: raw}, nil
}

// String returns the raw identifier
func (id ElementID) String() string {
	return id.value
}

// Equals checks if two ElementIDs are equal
func (id ElementID) Equals(other ElementID) bool {
	return id.value == other.value
}

// IsZero checks if the ElementID is the zero value
func (id ElementID) IsZero() bool {
	return id.value == ""
}

// MarshalText implements encoding.TextMarshaler so ElementID can key JSON maps
func (id ElementID) MarshalText() ([]byte, error) {
	return []byte(id.value), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (id *ElementID) UnmarshalText(data []byte) error {
	parsed, err := NewElementID(string(data))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// MarshalJSON implements json.Marshaler
func (id ElementID) MarshalJSON() ([]byte, error) {
	return json.Marshal(id.value)
}

// UnmarshalJSON implements json.Unmarshaler
func (id *ElementID) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		return nil
	}
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed, err := NewElementID(raw)
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}
