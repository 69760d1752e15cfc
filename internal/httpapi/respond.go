package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"rusunawa.app/internal/auth"
	"rusunawa.app/internal/obs"
)

const maxBodyBytes = 1 << 20

// envelope is the body of every API response.
type envelope struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func respond(w http.ResponseWriter, code int, message string, data any) {
	writeJSON(w, code, envelope{Success: true, Message: message, Data: data})
}

func writeError(w http.ResponseWriter, code int, message string) {
	writeJSON(w, code, envelope{Success: false, Message: message})
}

// fail maps domain errors onto HTTP statuses. Internal details are exposed
// only in development.
func (a *API) fail(w http.ResponseWriter, r *http.Request, err error) {
	var verr *auth.ValidationError
	var tooLarge *http.MaxBytesError
	switch {
	case errors.As(err, &verr):
		writeJSON(w, http.StatusBadRequest, envelope{
			Message: "validation failed",
			Data:    map[string]any{"fields": verr.Fields},
			Error:   verr.Error(),
		})
	case errors.As(err, &tooLarge):
		writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
	case errors.Is(err, auth.ErrTokenExpired):
		writeError(w, http.StatusUnauthorized, "token expired")
	case errors.Is(err, auth.ErrTokenRevoked):
		writeError(w, http.StatusUnauthorized, "token revoked")
	case errors.Is(err, auth.ErrTokenMalformed):
		writeError(w, http.StatusUnauthorized, "invalid token")
	case errors.Is(err, auth.ErrUnauthorized):
		writeError(w, http.StatusUnauthorized, auth.Message(err))
	case errors.Is(err, auth.ErrAccountDisabled):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, auth.ErrForbidden):
		writeError(w, http.StatusForbidden, auth.Message(err))
	case errors.Is(err, auth.ErrNotFound):
		writeError(w, http.StatusNotFound, auth.Message(err))
	case errors.Is(err, auth.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, auth.Message(err))
	case errors.Is(err, auth.ErrConflict):
		writeError(w, http.StatusConflict, auth.Message(err))
	default:
		obs.Error("request_failed", err, map[string]any{
			"request_id": RequestIDFromContext(r.Context()),
			"method":     r.Method,
			"path":       r.URL.Path,
		})
		body := envelope{Message: "internal server error"}
		if a.development {
			body.Error = err.Error()
		}
		writeJSON(w, http.StatusInternalServerError, body)
	}
}

// badRequest wraps a decoding problem so fail reports it as 400.
func badRequest(err error) error {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return err
	}
	return &requestError{msg: err.Error()}
}

type requestError struct{ msg string }

func (e *requestError) Error() string { return e.msg }

func (e *requestError) Is(target error) bool { return target == auth.ErrInvalidInput }

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	reader := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	defer reader.Close()
	dec := json.NewDecoder(reader)
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return badRequest(errors.New("request body is required"))
		}
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return badRequest(errors.New("request body is not valid JSON"))
		}
		var syntaxErr *json.SyntaxError
		var typeErr *json.UnmarshalTypeError
		switch {
		case errors.As(err, &syntaxErr):
			return badRequest(errors.New("request body is not valid JSON"))
		case errors.As(err, &typeErr):
			return badRequest(errors.New(typeErr.Field + " has an invalid type"))
		}
		return badRequest(err)
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return badRequest(errors.New("unexpected data after JSON body"))
		}
		return badRequest(err)
	}
	return nil
}

// listFilter reads page, limit and search. Out of range values are clamped;
// values that are not integers are rejected.
func listFilter(r *http.Request) (auth.ListFilter, error) {
	q := r.URL.Query()
	page, err := parseIntParam(q.Get("page"), "page")
	if err != nil {
		return auth.ListFilter{}, err
	}
	limit, err := parseIntParam(q.Get("limit"), "limit")
	if err != nil {
		return auth.ListFilter{}, err
	}
	return auth.ListFilter{Page: page, Limit: limit, Search: q.Get("search")}.Normalize(), nil
}

func parseIntParam(raw, name string) (int, error) {
	if strings.TrimSpace(raw) == "" {
		return 0, nil
	}
	val, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, badRequest(errors.New(name + " must be an integer"))
	}
	return val, nil
}
