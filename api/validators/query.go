package validators

import (
	"net/http"
	"slices"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	pkgerrors "github.com/tidecrate/storefront/pkg/errors"
)

func queryValue(r *http.Request, key string) string {
	return strings.TrimSpace(r.URL.Query().Get(key))
}

func badParam(key, msg string, extra map[string]any) error {
	details := map[string]any{"field": key}
	for k, v := range extra {
		details[k] = v
	}
	return pkgerrors.New(pkgerrors.CodeValidation, msg).WithDetails(details)
}

// ParseQueryInt reads an optional integer query parameter bounded by [lo, hi].
func ParseQueryInt(r *http.Request, key string, fallback, lo, hi int) (int, error) {
	raw := queryValue(r, key)
	if raw == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, badParam(key, key+" must be a whole number", nil)
	}
	if n < lo || n > hi {
		return 0, badParam(key, key+" out of range", map[string]any{"min": lo, "max": hi})
	}
	return n, nil
}

// QueryOneOf reads an optional, case-insensitive query parameter that must be
// one of allowed. Absent parameters return "".
func QueryOneOf(r *http.Request, key string, allowed ...string) (string, error) {
	raw := strings.ToLower(queryValue(r, key))
	if raw == "" || slices.Contains(allowed, raw) {
		return raw, nil
	}
	return "", badParam(key, key+" must be one of "+strings.Join(allowed, ", "), nil)
}

// ParseQuery applies parse to an optional query parameter, typically one of
// the enums.ParseX helpers. A missing parameter yields nil.
func ParseQuery[T any](r *http.Request, key string, parse func(string) (T, error)) (*T, error) {
	raw := queryValue(r, key)
	if raw == "" {
		return nil, nil
	}
	v, err := parse(raw)
	if err != nil {
		return nil, badParam(key, "invalid "+key+" filter", map[string]any{"value": raw})
	}
	return &v, nil
}

// ParseUUIDParam reads a chi URL parameter as a UUID.
func ParseUUIDParam(r *http.Request, key string) (uuid.UUID, error) {
	id, err := uuid.Parse(strings.TrimSpace(chi.URLParam(r, key)))
	if err != nil {
		return uuid.Nil, badParam(key, "invalid identifier", nil)
	}
	return id, nil
}
