package http

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/greirson/gthanks-sub001/internal/app"
	"github.com/greirson/gthanks-sub001/internal/identity"
	"github.com/greirson/gthanks-sub001/internal/visibility"
)

const (
	capabilityTokenHeader = "X-Reservation-Token"
	maxBodyBytes          = 64 << 10
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// decodeBody reads a JSON body into dst and validates it. An empty body is accepted when
// allowEmpty is set. It writes the error response itself and reports whether to continue.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any, allowEmpty bool) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil && !(allowEmpty && errors.Is(err, io.EOF)) {
		writeError(w, http.StatusBadRequest, codeInvalidRequestBody, "invalid request body")
		return false
	}

	if err := validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			writeErrorResponse(w, http.StatusBadRequest, errorResponse{
				Error: fe.Field() + " failed " + fe.Tag() + " check",
				Code:  codeValidationFailed,
				Field: fe.Field(),
			})
			return false
		}
		writeError(w, http.StatusBadRequest, codeInvalidRequestBody, "invalid request body")
		return false
	}
	return true
}

func authFrom(r *http.Request) app.ReservationAuth {
	return app.ReservationAuth{
		Actor:           identity.ActorFrom(r.Context()),
		CapabilityToken: strings.TrimSpace(r.Header.Get(capabilityTokenHeader)),
	}
}

func viewerFrom(r *http.Request) visibility.Viewer {
	auth := authFrom(r)
	return visibility.Viewer{Actor: auth.Actor, CapabilityToken: auth.CapabilityToken}
}
