package http

import (
	"net/http"
	"strconv"
	"strings"

	"tally/internal/core"
)

// pathID extracts a positive integer path value registered as {id} (or
// another name) in the route pattern.
func pathID(r *http.Request, name string) (int64, error) {
	raw := r.PathValue(name)
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, core.Validationf(name, "must be a positive integer")
	}
	return id, nil
}

// queryDate parses an optional YYYY-MM-DD query parameter, returning fallback
// when absent.
func queryDate(r *http.Request, name string, fallback core.Date) (core.Date, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return fallback, nil
	}
	d, err := core.ParseDate(raw)
	if err != nil {
		return core.Date{}, core.Validationf(name, "must be a date in YYYY-MM-DD format")
	}
	return d, nil
}

// queryInt64 parses an optional positive integer query parameter.
func queryInt64(r *http.Request, name string) (*int64, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || v <= 0 {
		return nil, core.Validationf(name, "must be a positive integer")
	}
	return &v, nil
}

// queryInt parses an optional integer query parameter with a default.
func queryInt(r *http.Request, name string, fallback int) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return 0, core.Validationf(name, "must be a non-negative integer")
	}
	return v, nil
}

// queryBool parses an optional boolean query parameter.
func queryBool(r *http.Request, name string) bool {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return false
	}
	v, err := strconv.ParseBool(raw)
	return err == nil && v
}

// queryCurrency normalizes an optional 3-letter currency code parameter.
func queryCurrency(r *http.Request, name, fallback string) (string, error) {
	raw := strings.ToUpper(strings.TrimSpace(r.URL.Query().Get(name)))
	if raw == "" {
		return fallback, nil
	}
	if len(raw) != 3 {
		return "", core.Validationf(name, "must be a 3-letter code")
	}
	return raw, nil
}
