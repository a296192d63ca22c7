package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"

	"cececho/internal/logging"
	"cececho/pkg/types"
)

const maxBodyBytes = 1 << 20

type dataResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data"`
}

type errorResponse struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Code    types.ErrorCode `json:"code,omitempty"`
}

func respondJSON(w http.ResponseWriter, status int, body interface{}) {
	data, err := json.Marshal(body)
	if err != nil {
		logging.Error().Err(err).Msg("Failed to marshal JSON response")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(data); err != nil {
		logging.Debug().Err(err).Msg("Failed to write JSON response")
	}
}

func respondData(w http.ResponseWriter, status int, data interface{}) {
	respondJSON(w, status, dataResponse{Success: true, Data: data})
}

// FUNCTIONAL DISCOVERY: Consistent error response format, status derived from the error code
func respondError(w http.ResponseWriter, err error) {
	code := types.CodeOf(err)
	status := statusFor(code)
	if status >= http.StatusInternalServerError {
		logging.Error().Err(err).Msg("REST request failed")
	}
	respondJSON(w, status, errorResponse{Message: types.MessageOf(err), Code: code})
}

func statusFor(code types.ErrorCode) int {
	switch code {
	case types.CodeValidation:
		return http.StatusBadRequest
	case types.CodeForbidden:
		return http.StatusForbidden
	case types.CodeNotFound:
		return http.StatusNotFound
	case types.CodeConflict:
		return http.StatusConflict
	case types.CodeRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	_ = v.RegisterValidation("ident", func(fl validator.FieldLevel) bool {
		return types.IsValidUserID(fl.Field().String())
	})
	return v
}

// decodeBody reads a JSON body into dst and validates it.
func decodeBody(r *http.Request, dst interface{}) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
	if err != nil {
		return types.NewError(types.CodeValidation, "Failed to read request body")
	}
	if len(body) > maxBodyBytes {
		return types.NewError(types.CodeValidation, "Request body too large")
	}
	if len(body) == 0 {
		body = []byte("{}")
	}
	if err := json.Unmarshal(body, dst); err != nil {
		return types.NewError(types.CodeValidation, "Invalid JSON")
	}

	if err := validate.Struct(dst); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			return types.WrapError(types.CodeValidation, fieldMessage(fieldErrs[0]), err)
		}
		return types.ValidationError(err)
	}
	return nil
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", fe.Field())
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", fe.Field(), fe.Param())
	case "max":
		return fmt.Sprintf("%s is too long", fe.Field())
	default:
		return fmt.Sprintf("%s is invalid", fe.Field())
	}
}
