package handler

import (
	"github.com/go-playground/validator/v10"

	"github.com/stripaudio/api/internal/service"
)

// NewValidator returns a validator with the "jobid" tag registered.
func NewValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("jobid", func(fl validator.FieldLevel) bool {
		return service.ValidateJobID(fl.Field().String()) == nil
	})
	return v
}

// formatValidationErrors formats validator errors for response
func formatValidationErrors(err error) interface{} {
	if validationErrors, ok := err.(validator.ValidationErrors); ok {
		errors := make(map[string]string)
		for _, e := range validationErrors {
			field := e.Field()
			if field == "" {
				field = "id"
			}
			errors[field] = e.Tag()
		}
		return errors
	}
	return nil
}
