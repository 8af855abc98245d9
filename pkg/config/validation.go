package config

import (
	"reflect"

	sserr "github.com/StricklySoft/stricklysoft-claims/pkg/errors"
)

// Validator is implemented by config structs with cross-field rules. It
// runs after required-field checks pass. Errors that are not already
// *sserr.Error are classified as CodeValidation.
type Validator interface {
	Validate() error
}

func validate(cfg any, rv reflect.Value) error {
	if err := validateRequired(rv, ""); err != nil {
		return err
	}
	v, ok := cfg.(Validator)
	if !ok {
		return nil
	}
	if err := v.Validate(); err != nil {
		if _, typed := sserr.AsError(err); typed {
			return err
		}
		return sserr.Wrap(err, sserr.CodeValidation, "config: validation failed")
	}
	return nil
}

func validateRequired(rv reflect.Value, path string) error {
	rt := rv.Type()
	for i := 0; i < rt.NumField(); i++ {
		field, sf := rv.Field(i), rt.Field(i)
		if !field.CanSet() {
			continue
		}
		name := sf.Name
		if path != "" {
			name = path + "." + sf.Name
		}
		if field.Kind() == reflect.Struct && sf.Type != durationType {
			if err := validateRequired(field, name); err != nil {
				return err
			}
			continue
		}
		if sf.Tag.Get("required") == "true" && field.IsZero() {
			return sserr.Newf(sserr.CodeValidationRequired,
				"config: required field %q is empty", name)
		}
	}
	return nil
}
