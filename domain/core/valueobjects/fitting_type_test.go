package valueobjects

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewFittingType(t *testing.T) {
	assert.Equal(t, int64(5), NewFittingType(5).Value())
	assert.Equal(t, int64(-12), NewFittingType(-12).Value())
	assert.Equal(t, TypeDefault, NewFittingType(1))
}

func TestFittingType_Reserved(t *testing.T) {
	assert.True(t, TypeAny.IsAny())
	assert.False(t, TypeDefault.IsAny())
	assert.False(t, NewFittingType(0).IsAny())

	// The wildcard occupies the far end of the tag space so every other
	// value stays usable.
	assert.Equal(t, int64(math.MinInt64), TypeAny.Value())
	assert.False(t, NewFittingType(math.MinInt64+1).IsAny())
}

func TestFittingType_IsDefault(t *testing.T) {
	assert.True(t, TypeDefault.IsDefault())
	assert.True(t, NewFittingType(1).IsDefault())
	assert.False(t, NewFittingType(2).IsDefault())
	assert.False(t, TypeAny.IsDefault())
}

func TestFittingType_Matches(t *testing.T) {
	tests := []struct {
		name   string
		filter FittingType
		stored FittingType
		want   bool
	}{
		{
			name:   "wildcard matches default",
			filter: TypeAny,
			stored: TypeDefault,
			want:   true,
		},
		{
			name:   "wildcard matches negative tag",
			filter: TypeAny,
			stored: NewFittingType(-7),
			want:   true,
		},
		{
			name:   "concrete matches itself",
			filter: NewFittingType(5),
			stored: NewFittingType(5),
			want:   true,
		},
		{
			name:   "concrete rejects other tag",
			filter: NewFittingType(5),
			stored: NewFittingType(6),
			want:   false,
		},
		{
			name:   "zero is an ordinary tag",
			filter: NewFittingType(0),
			stored: NewFittingType(0),
			want:   true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.filter.Matches(tt.stored))
		})
	}
}

func TestFittingType_String(t *testing.T) {
	assert.Equal(t, "1", TypeDefault.String())
	assert.Equal(t, "42", NewFittingType(42).String())
	assert.Equal(t, "-3", NewFittingType(-3).String())
	assert.Equal(t, "any", TypeAny.String())
}
