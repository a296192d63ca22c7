package signaling

import (
	"errors"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"cececho/pkg/types"
)

var validate *validator.Validate

const identTag = "ident"

func init() {
	validate = validator.New()

	// Report JSON field names instead of Go struct names.
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	_ = validate.RegisterValidation(identTag, func(fl validator.FieldLevel) bool {
		return types.IsValidUserID(fl.Field().String())
	})
}

// validatePayload reports the first failing field as a VALIDATION error.
func validatePayload(p Payload) error {
	err := validate.Struct(p)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return types.WrapError(types.CodeValidation, "Invalid payload for "+p.Event(), err)
	}
	fe := fieldErrs[0]
	switch fe.Tag() {
	case "required":
		return types.WrapError(types.CodeValidation, fe.Field()+" is required", err)
	case "oneof":
		return types.WrapError(types.CodeValidation, fe.Field()+" must be one of: "+fe.Param(), err)
	default:
		return types.WrapError(types.CodeValidation, fe.Field()+" is invalid", err)
	}
}
