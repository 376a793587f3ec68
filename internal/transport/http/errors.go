package http

import (
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"strconv"

	"github.com/greirson/gthanks-sub001/internal/domain"
)

const (
	codeMethodNotAllowed    = "method_not_allowed"
	codeNotFound            = "not_found"
	codeInvalidRequestBody  = "invalid_request_body"
	codeValidationFailed    = "validation_failed"
	codeItemNotFound        = "item_not_found"
	codeReservationNotFound = "reservation_not_found"
	codeItemAlreadyReserved = "item_already_reserved"
	codeAuthRequired        = "authentication_required"
	codeInvalidToken        = "invalid_token"
	codeNotClaimant         = "not_claimant"
	codeOwnerSelfClaim      = "owner_self_claim"
	codeForbidden           = "forbidden"
	codeRateLimited         = "rate_limited"
	codeUnavailable         = "unavailable"
	codeInternalError       = "internal_error"
)

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
	Field string `json:"field,omitempty"`
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeErrorResponse(w, status, errorResponse{Error: msg, Code: code})
}

func writeErrorResponse(w http.ResponseWriter, status int, resp errorResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	payload, err := json.Marshal(resp)
	if err != nil {
		_, _ = w.Write([]byte(`{"error":"internal error","code":"internal_error"}`))
		return
	}
	_, _ = w.Write(payload)
}

// writeServiceError maps a service error onto a status and code. Internal errors never leak
// their cause; the service has already logged it.
func writeServiceError(w http.ResponseWriter, err error) {
	var (
		verr *domain.ValidationError
		rle  *domain.RateLimitExceededError
	)
	switch {
	case errors.As(err, &verr):
		writeErrorResponse(w, http.StatusBadRequest, errorResponse{Error: verr.Error(), Code: codeValidationFailed, Field: verr.Field})
	case errors.As(err, &rle):
		w.Header().Set("Retry-After", retryAfterSeconds(rle))
		writeError(w, http.StatusTooManyRequests, codeRateLimited, rle.Error())
	case errors.Is(err, domain.ErrItemNotFound):
		writeError(w, http.StatusNotFound, codeItemNotFound, err.Error())
	case errors.Is(err, domain.ErrReservationNotFound):
		writeError(w, http.StatusNotFound, codeReservationNotFound, err.Error())
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, codeNotFound, err.Error())
	case errors.Is(err, domain.ErrItemAlreadyReserved):
		writeError(w, http.StatusConflict, codeItemAlreadyReserved, err.Error())
	case errors.Is(err, domain.ErrAuthRequired):
		w.Header().Set("WWW-Authenticate", "Bearer")
		writeError(w, http.StatusUnauthorized, codeAuthRequired, err.Error())
	case errors.Is(err, domain.ErrNotClaimant):
		writeError(w, http.StatusForbidden, codeNotClaimant, err.Error())
	case errors.Is(err, domain.ErrOwnerSelfClaim):
		writeError(w, http.StatusForbidden, codeOwnerSelfClaim, err.Error())
	case errors.Is(err, domain.ErrForbidden):
		writeError(w, http.StatusForbidden, codeForbidden, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, codeInternalError, "internal error")
	}
}

func retryAfterSeconds(rle *domain.RateLimitExceededError) string {
	secs := int(math.Ceil(rle.RetryAfter.Seconds()))
	if secs < 1 {
		secs = 1
	}
	return strconv.Itoa(secs)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
