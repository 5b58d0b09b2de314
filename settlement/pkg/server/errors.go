package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/getsentry/sentry-go"
	"github.com/samu-project/rewards/settlement/pkg/dberror"
	"github.com/samu-project/rewards/settlement/pkg/rewards"
)

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

type requestError struct {
	err error
}

func (e *requestError) Error() string { return e.err.Error() }
func (e *requestError) Unwrap() error { return e.err }

func badRequest(err error) error { return &requestError{err: err} }

// statusFor maps a settlement error to its HTTP status.
func statusFor(r *http.Request, e *rewards.Error) int {
	switch e {
	case rewards.ErrUnauthorized:
		return http.StatusForbidden
	case rewards.ErrRecordNotFound:
		return http.StatusNotFound
	case rewards.ErrAccountNotFound:
		if r.Method == http.MethodGet {
			return http.StatusNotFound
		}
		return http.StatusUnprocessableEntity
	case rewards.ErrConfigLocked, rewards.ErrRecordExists, rewards.ErrAlreadyInitialized,
		rewards.ErrNotInitialized, rewards.ErrConflict:
		return http.StatusConflict
	case rewards.ErrInsufficientFunds:
		return http.StatusUnprocessableEntity
	}
	switch e.Kind {
	case rewards.KindConfiguration, rewards.KindInput:
		return http.StatusBadRequest
	case rewards.KindReconciliation:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var reqErr *requestError
	if errors.As(err, &reqErr) {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "BadRequest", Message: reqErr.Error()})
		return
	}

	if e, ok := rewards.AsError(err); ok {
		status := statusFor(r, e)
		if status >= http.StatusInternalServerError {
			s.log.Error("server: settlement failed", "path", r.URL.Path, "code", e.Code, "error", err)
			sentry.CaptureException(err)
		}
		writeJSON(w, status, errorResponse{Error: e.Code, Message: err.Error()})
		return
	}

	if dberror.IsTransient(err) {
		s.log.Warn("server: database unavailable", "path", r.URL.Path, "error", err)
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "Unavailable", Message: dberror.UserMessage(err)})
		return
	}

	s.log.Error("server: internal error", "path", r.URL.Path, "error", err)
	sentry.CaptureException(err)
	writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "Internal", Message: "An unexpected error occurred. Please try again."})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return badRequest(err)
	}
	return nil
}
