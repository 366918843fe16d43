package validator

import "github.com/go-playground/validator/v10"

func registerFn(tag string, fn func(fl validator.FieldLevel) bool) func(v *validator.Validate) {
	return func(v *validator.Validate) {
		_ = v.RegisterValidation(tag, fn)
	}
}

// NewInstallValidationRules are the rules used by installation submissions
// and database connectivity tests.
func NewInstallValidationRules() []ValidationRule {
	return []ValidationRule{
		{
			Rule: registerFn("db_identifier", identifierValidator),
		},
		{
			Rule: registerFn("abs_path", absPathValidator),
		},
	}
}

// NewInstallValidator returns a validator with the installation rules
// registered.
func NewInstallValidator() *Validator {
	v := NewValidator()
	v.Register(NewInstallValidationRules()...)
	return v
}
