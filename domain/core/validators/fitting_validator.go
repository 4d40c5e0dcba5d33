package validators

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/mcfletch/fitting/domain/core/valueobjects"
	"github.com/mcfletch/fitting/pkg/errors"
)

// FittingValidator validates fitting-related domain rules before any
// mutation reaches a store
type FittingValidator struct {
	validate      *validator.Validate
	nameMaxLength int
}

// connectInput mirrors the raw connect arguments for struct-level validation
type connectInput struct {
	SourceID string `validate:"required,notblank"`
	TargetID string `validate:"required,notblank,nefield=SourceID"`
	Name     string `validate:"omitempty,max=255"`
}

// pipeInput mirrors the raw bulk pipe arguments
type pipeInput struct {
	Element string   `validate:"required,notblank"`
	Ends    []string `validate:"dive,required,notblank"`
	Name    string   `validate:"omitempty,max=255"`
}

// NewFittingValidator creates a new fitting validator with default rules
func NewFittingValidator() *FittingValidator {
	v := validator.New()

	// required accepts whitespace-only strings; blank means trimmed-empty
	_ = v.RegisterValidation("notblank", func(fl validator.FieldLevel) bool {
		return strings.TrimSpace(fl.Field().String()) != ""
	})

	return &FittingValidator{
		validate:      v,
		nameMaxLength: 255,
	}
}

// ValidateFitting validates a single fitting creation
func (v *FittingValidator) ValidateFitting(sourceID, targetID valueobjects.ElementID, fittingType valueobjects.FittingType, name string) error {
	validationErrors := errors.NewValidationErrors()

	input := connectInput{
		SourceID: sourceID.String(),
		TargetID: targetID.String(),
		Name:     name,
	}

	if err := v.validate.Struct(input); err != nil {
		if fieldErrors, ok := err.(validator.ValidationErrors); ok {
			for _, fe := range fieldErrors {
				validationErrors.AddError(v.fieldError(fe, input.SourceID))
			}
		} else {
			validationErrors.Add("input", err.Error())
		}
	}

	if fittingType.IsAny() {
		validationErrors.AddError(errors.NewReservedTypeError())
	}

	return validationErrors.ErrorOrNil()
}

// ValidatePipe validates a bulk pipe operation: the shared element, the
// replacement set, the type, and the name. Every problem is reported so the
// caller can reject the whole batch before mutating anything.
func (v *FittingValidator) ValidatePipe(element valueobjects.ElementID, ends []valueobjects.ElementID, fittingType valueobjects.FittingType, name string) error {
	validationErrors := errors.NewValidationErrors()

	input := pipeInput{
		Element: element.String(),
		Ends:    make([]string, len(ends)),
		Name:    name,
	}
	for i, end := range ends {
		input.Ends[i] = end.String()
	}

	if err := v.validate.Struct(input); err != nil {
		if fieldErrors, ok := err.(validator.ValidationErrors); ok {
			for _, fe := range fieldErrors {
				validationErrors.AddError(v.fieldError(fe, input.Element))
			}
		} else {
			validationErrors.Add("input", err.Error())
		}
	}

	if fittingType.IsAny() {
		validationErrors.AddError(errors.NewReservedTypeError())
	}

	for i, end := range ends {
		if end.Equals(element) {
			validationErrors.AddError(
				errors.NewSelfLoopError(element.String()).WithDetail("index", i),
			)
		}
	}

	return validationErrors.ErrorOrNil()
}

// ValidateName validates a fitting display name on its own
func (v *FittingValidator) ValidateName(name string) error {
	if err := v.validate.Var(name, "omitempty,max=255"); err != nil {
		return errors.NewValidationError(
			fmt.Sprintf("name exceeds maximum length of %d characters", v.nameMaxLength),
		).WithDetail("field", "name")
	}
	return nil
}

// fieldError translates a struct validation failure into a domain error
func (v *FittingValidator) fieldError(fe validator.FieldError, sourceID string) *errors.DomainError {
	field := fieldName(fe.Field())

	switch fe.Tag() {
	case "nefield":
		return errors.NewSelfLoopError(sourceID)
	case "required", "notblank":
		return errors.NewBlankElementIDError(field)
	case "max":
		return errors.NewValidationError(
			fmt.Sprintf("%s exceeds maximum length of %s characters", field, fe.Param()),
		).WithDetail("field", field)
	default:
		return errors.NewValidationError(
			fmt.Sprintf("%s failed validation on %s", field, fe.Tag()),
		).WithDetail("field", field)
	}
}

// fieldName maps struct field names to the wire-level names callers see
func fieldName(field string) string {
	switch {
	case field == "SourceID":
		return "source"
	case field == "TargetID":
		return "target"
	case strings.HasPrefix(field, "Ends"):
		return strings.ToLower(field)
	default:
		return strings.ToLower(field)
	}
}
