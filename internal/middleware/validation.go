package middleware

import (
	"fmt"
	"net/http"
	"reflect"
	"strings"
	"unicode"

	"github.com/go-chi/render"
	"github.com/go-playground/validator/v10"

	apperrors "licensegate/internal/errors"
)

// maxBodySize caps JSON request bodies
const maxBodySize = 64 * 1024

// RequestValidator decodes JSON bodies and checks their struct tags
type RequestValidator struct {
	validate *validator.Validate
}

// NewRequestValidator creates a validator that reports JSON field names
// and knows the "hardwareid" rule
func NewRequestValidator() *RequestValidator {
	v := validator.New(validator.WithRequiredStructEnabled())

	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	_ = v.RegisterValidation("hardwareid", isHardwareID)

	return &RequestValidator{validate: v}
}

// Decode reads r's JSON body into dst and validates it. Malformed JSON is a
// validation AppError; failed rules come back as validator.ValidationErrors.
func (rv *RequestValidator) Decode(r *http.Request, dst interface{}) error {
	r.Body = http.MaxBytesReader(nil, r.Body, maxBodySize)
	if err := render.DecodeJSON(r.Body, dst); err != nil {
		return apperrors.NewValidationError("request body is not valid JSON", err)
	}
	return rv.Struct(dst)
}

// Struct validates an already populated struct
func (rv *RequestValidator) Struct(v interface{}) error {
	if err := rv.validate.Struct(v); err != nil {
		if _, ok := err.(validator.ValidationErrors); ok {
			return err
		}
		return apperrors.NewValidationError(fmt.Sprintf("cannot validate %T", v), err)
	}
	return nil
}

// isHardwareID accepts printable ids without whitespace up to 128 chars
func isHardwareID(fl validator.FieldLevel) bool {
	s := fl.Field().String()
	if s == "" || len(s) > 128 {
		return false
	}
	for _, r := range s {
		if unicode.IsSpace(r) || !unicode.IsPrint(r) {
			return false
		}
	}
	return true
}
