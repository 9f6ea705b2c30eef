package httpx

import (
	"errors"
	"net/http"

	"github.com/go-playground/validator/v10"
)

// Sentinel errors for handlers outside a domain package.
var (
	ErrNotFound   = errors.New("resource not found")
	ErrValidation = errors.New("validation failed")
)

// FieldErrors flattens validator failures into field -> tag messages.
func FieldErrors(err error) map[string]string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return nil
	}
	out := make(map[string]string, len(verrs))
	for _, fieldErr := range verrs {
		out[fieldErr.Field()] = fieldErr.Tag()
	}
	return out
}

// ValidationProblem responds 400 with per-field errors when err came from
// the validator, or with err's message otherwise.
func ValidationProblem(w http.ResponseWriter, err error) {
	p := ProblemDetail{Status: http.StatusBadRequest, Title: "Validation Failed"}
	if fields := FieldErrors(err); fields != nil {
		p.Errors = fields
	} else if err != nil {
		p.Detail = err.Error()
	}
	WriteProblem(w, p)
}

// RespondError maps the package sentinels to HTTP responses using RFC7807.
func RespondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, ErrValidation):
		ValidationProblem(w, err)
	default:
		Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}
