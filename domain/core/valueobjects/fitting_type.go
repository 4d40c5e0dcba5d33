package valueobjects

import (
	"math"
	"strconv"
)

// FittingType labels the kind of connection a fitting represents. Values are
// opaque tags: the store compares them for equality and never interprets them.
type FittingType int64

const (
	// TypeDefault is assumed when an operation does not name a type
	TypeDefault FittingType = 1

	// TypeAny is the reserved wildcard matching every type. Queries and
	// detach operations accept it; storing a fitting with it is rejected.
	TypeAny FittingType = math.MinInt64
)

// NewFittingType creates a FittingType from a raw tag value
func NewFittingType(value int64) FittingType {
	return FittingType(value)
}

// Value returns the raw tag value
func (t FittingType) Value() int64 {
	return int64(t)
}

// IsDefault checks whether this is the default type
func (t FittingType) IsDefault() bool {
	return t == TypeDefault
}

// IsAny checks whether this is the reserved wildcard
func (t FittingType) IsAny() bool {
	return t == TypeAny
}

// Matches reports whether a stored type satisfies this type as a filter
func (t FittingType) Matches(other FittingType) bool {
	return t == TypeAny || t == other
}

// String returns the decimal representation of the tag
func (t FittingType) String() string {
	if t == TypeAny {
		return "any"
	}
	return strconv.FormatInt(int64(t), 10)
}
