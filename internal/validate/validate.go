// Package validate wraps struct validation so request payloads are rejected
// before any network call is made.
package validate

import (
	"github.com/go-playground/validator/v10"
)

// Validator provides methods for struct validation using the underlying
// validator library.
type Validator struct {
	cli *validator.Validate
}

// Error represents one failed validation of a struct field.
type Error struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// New initializes and returns a new Validator.
func New() *Validator {
	return &Validator{
		cli: validator.New(validator.WithRequiredStructEnabled()),
	}
}

// Struct validates s and returns one Error per failing field.
func (v *Validator) Struct(s interface{}) []Error {
	err := v.cli.Struct(s)
	if err == nil {
		return nil
	}

	errs := make([]Error, 0)
	for _, fe := range err.(validator.ValidationErrors) {
		errs = append(errs, Error{
			Field:   fe.StructField(),
			Message: fe.Error(),
		})
	}
	return errs
}
