package validators

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcfletch/fitting/domain/core/valueobjects"
	pkgerrors "github.com/mcfletch/fitting/pkg/errors"
)

func element(t *testing.T, raw string) valueobjects.ElementID {
	t.Helper()
	id, err := valueobjects.NewElementID(raw)
	require.NoError(t, err)
	return id
}

func TestFittingValidator_ValidateFitting(t *testing.T) {
	v := NewFittingValidator()
	boiler := element(t, "boiler")
	turbine := element(t, "turbine")

	tests := []struct {
		name     string
		source   valueobjects.ElementID
		target   valueobjects.ElementID
		ftype    valueobjects.FittingType
		label    string
		sentinel *pkgerrors.DomainError
	}{
		{
			name:   "valid fitting",
			source: boiler,
			target: turbine,
			ftype:  valueobjects.TypeDefault,
			label:  "steam",
		},
		{
			name:   "valid without name",
			source: boiler,
			target: turbine,
			ftype:  valueobjects.NewFittingType(12),
		},
		{
			name:     "self loop",
			source:   boiler,
			target:   boiler,
			ftype:    valueobjects.TypeDefault,
			sentinel: pkgerrors.ErrSelfReferentialFitting,
		},
		{
			name:     "zero source",
			source:   valueobjects.ElementID{},
			target:   turbine,
			ftype:    valueobjects.TypeDefault,
			sentinel: pkgerrors.ErrBlankElementID,
		},
		{
			name:     "zero target",
			source:   boiler,
			target:   valueobjects.ElementID{},
			ftype:    valueobjects.TypeDefault,
			sentinel: pkgerrors.ErrBlankElementID,
		},
		{
			name:     "reserved type",
			source:   boiler,
			target:   turbine,
			ftype:    valueobjects.TypeAny,
			sentinel: pkgerrors.ErrReservedFittingType,
		},
		{
			name:     "name too long",
			source:   boiler,
			target:   turbine,
			ftype:    valueobjects.TypeDefault,
			label:    strings.Repeat("x", 256),
			sentinel: nil, // generic validation error, checked below
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.ValidateFitting(tt.source, tt.target, tt.ftype, tt.label)

			if tt.name == "valid fitting" || tt.name == "valid without name" {
				assert.NoError(t, err)
				return
			}

			require.Error(t, err)
			if tt.sentinel != nil {
				assert.True(t, errors.Is(err, tt.sentinel), "expected %v in %v", tt.sentinel.Code, err)
			}
			assert.True(t, pkgerrors.IsInvalidFitting(err))
		})
	}
}

func TestFittingValidator_ValidateFittingAggregatesProblems(t *testing.T) {
	v := NewFittingValidator()

	// A blank source and a reserved type are both reported in one pass
	err := v.ValidateFitting(valueobjects.ElementID{}, element(t, "turbine"), valueobjects.TypeAny, "")
	require.Error(t, err)

	var ve *pkgerrors.ValidationErrors
	require.True(t, errors.As(err, &ve))
	assert.Len(t, ve.Errors, 2)
	assert.True(t, errors.Is(err, pkgerrors.ErrBlankElementID))
	assert.True(t, errors.Is(err, pkgerrors.ErrReservedFittingType))
}

func TestFittingValidator_ValidatePipe(t *testing.T) {
	v := NewFittingValidator()
	hub := element(t, "hub")

	t.Run("valid batch", func(t *testing.T) {
		err := v.ValidatePipe(hub, []valueobjects.ElementID{element(t, "a"), element(t, "b")}, valueobjects.TypeDefault, "feed")
		assert.NoError(t, err)
	})

	t.Run("empty replacement set is valid", func(t *testing.T) {
		err := v.ValidatePipe(hub, nil, valueobjects.TypeDefault, "")
		assert.NoError(t, err)
	})

	t.Run("duplicate ends are not an error", func(t *testing.T) {
		err := v.ValidatePipe(hub, []valueobjects.ElementID{element(t, "a"), element(t, "a")}, valueobjects.TypeDefault, "")
		assert.NoError(t, err)
	})

	t.Run("self loop anywhere in the batch rejects the whole batch", func(t *testing.T) {
		err := v.ValidatePipe(hub, []valueobjects.ElementID{element(t, "a"), hub, element(t, "b")}, valueobjects.TypeDefault, "")
		require.Error(t, err)
		assert.True(t, errors.Is(err, pkgerrors.ErrSelfReferentialFitting))
	})

	t.Run("zero end in the batch", func(t *testing.T) {
		err := v.ValidatePipe(hub, []valueobjects.ElementID{element(t, "a"), {}}, valueobjects.TypeDefault, "")
		require.Error(t, err)
		assert.True(t, errors.Is(err, pkgerrors.ErrBlankElementID))
	})

	t.Run("zero element", func(t *testing.T) {
		err := v.ValidatePipe(valueobjects.ElementID{}, []valueobjects.ElementID{element(t, "a")}, valueobjects.TypeDefault, "")
		require.Error(t, err)
		assert.True(t, errors.Is(err, pkgerrors.ErrBlankElementID))
	})

	t.Run("reserved type", func(t *testing.T) {
		err := v.ValidatePipe(hub, []valueobjects.ElementID{element(t, "a")}, valueobjects.TypeAny, "")
		require.Error(t, err)
		assert.True(t, errors.Is(err, pkgerrors.ErrReservedFittingType))
	})

	t.Run("several problems reported together", func(t *testing.T) {
		err := v.ValidatePipe(hub, []valueobjects.ElementID{hub, {}}, valueobjects.TypeAny, "")
		require.Error(t, err)

		var ve *pkgerrors.ValidationErrors
		require.True(t, errors.As(err, &ve))
		assert.GreaterOrEqual(t, len(ve.Errors), 3)
	})
}

func TestFittingValidator_ValidateName(t *testing.T) {
	v := NewFittingValidator()

	assert.NoError(t, v.ValidateName(""))
	assert.NoError(t, v.ValidateName("return line"))
	assert.NoError(t, v.ValidateName(strings.Repeat("x", 255)))

	err := v.ValidateName(strings.Repeat("x", 256))
	require.Error(t, err)
	assert.True(t, pkgerrors.IsValidationFailure(err))
	assert.Contains(t, err.Error(), "maximum length")
}
