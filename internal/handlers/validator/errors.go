package validator

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
)

type ErrInvalidField struct {
	error
	Fields map[string]string
}

func NewErrInvalidField(fields map[string]string) *ErrInvalidField {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s %s", k, fields[k]))
	}
	return &ErrInvalidField{error: fmt.Errorf("invalid configuration: %s", strings.Join(parts, "; ")), Fields: fields}
}

func toFieldError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	fields := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		fields[fieldPath(fe)] = describe(fe)
	}
	return NewErrInvalidField(fields)
}

// fieldPath drops the root struct name: "InstallConfig.database.db_name"
// becomes "database.db_name".
func fieldPath(fe validator.FieldError) string {
	ns := fe.Namespace()
	if i := strings.Index(ns, "."); i >= 0 {
		return ns[i+1:]
	}
	return ns
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "email":
		return "must be a valid email address"
	case "db_identifier":
		return "must start with a letter or underscore and contain only letters, digits and underscores"
	case "abs_path":
		return "must be an absolute path"
	case "min":
		return fmt.Sprintf("must be at least %s", fe.Param())
	case "max":
		return fmt.Sprintf("must be at most %s", fe.Param())
	case "hostname_rfc1123|ip", "fqdn|hostname_rfc1123":
		return "must be a valid host name"
	default:
		return fmt.Sprintf("failed the %q check", fe.Tag())
	}
}
