package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"betledger/service"

	"github.com/go-chi/chi/v5"
	log "github.com/sirupsen/logrus"
)

type requesterKey struct{}

// ErrorBody is the JSON shape of every failed response
type ErrorBody struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

type errorResponse struct {
	Error ErrorBody `json:"error"`
}

// partialSettlementResponse is returned with 207 when some payouts failed
type partialSettlementResponse struct {
	Results         any       `json:"results"`
	Error           ErrorBody `json:"error"`
	ResolvedWinners []int64   `json:"resolvedWinners"`
	FailedWinners   []int64   `json:"failedWinners"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.WithError(err).Warn("Failed to encode response")
	}
}

// statusFor maps an error kind to its HTTP status
func statusFor(kind service.ErrorKind) int {
	switch kind {
	case service.KindNotFound:
		return http.StatusNotFound
	case service.KindInvalidState, service.KindAlreadyStaked, service.KindResultsNotAvailable:
		return http.StatusConflict
	case service.KindExpired:
		return http.StatusGone
	case service.KindUnauthorized:
		return http.StatusForbidden
	case service.KindInsufficientFunds:
		return http.StatusPaymentRequired
	case service.KindValidation:
		return http.StatusBadRequest
	case service.KindUnavailable:
		return http.StatusServiceUnavailable
	case service.KindPartialSettlement:
		return http.StatusMultiStatus
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	kind := service.KindOf(err)
	status := statusFor(kind)
	message := err.Error()
	if status == http.StatusInternalServerError {
		log.WithError(err).Error("Unhandled error in HTTP handler")
		message = "internal error"
	}
	writeJSON(w, status, errorResponse{Error: ErrorBody{Kind: string(kind), Message: message}})
}

func badRequest(w http.ResponseWriter, format string, args ...any) {
	writeJSON(w, http.StatusBadRequest, errorResponse{Error: ErrorBody{
		Kind:    string(service.KindValidation),
		Message: fmt.Sprintf(format, args...),
	}})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		badRequest(w, "invalid JSON body: %v", err)
		return false
	}
	return true
}

func pathID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	raw := chi.URLParam(r, name)
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		badRequest(w, "invalid %s %q", name, raw)
		return 0, false
	}
	return id, true
}

func queryLimit(r *http.Request, fallback int) int {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return fallback
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 {
		return fallback
	}
	return limit
}

// requireRequester rejects requests without a numeric requester header
func requireRequester(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := r.Header.Get(RequesterHeader)
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id <= 0 {
			writeJSON(w, http.StatusUnauthorized, errorResponse{Error: ErrorBody{
				Kind:    string(service.KindUnauthorized),
				Message: fmt.Sprintf("missing or invalid %s header", RequesterHeader),
			}})
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requesterKey{}, id)))
	})
}

func requester(r *http.Request) int64 {
	id, _ := r.Context().Value(requesterKey{}).(int64)
	return id
}

func asPartial(err error) (*service.PartialSettlementFailure, bool) {
	var partial *service.PartialSettlementFailure
	ok := errors.As(err, &partial)
	return partial, ok
}
