package utils

import (
	"encoding/json"
	"net/http"
	"strconv"
)

// JSONError writes a JSON error response with the given status code and
// message. It ensures the Content-Type is set to application/json.
func JSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// JSONWrite writes the provided value as JSON with the given status code.
func JSONWrite(w http.ResponseWriter, status int, v interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	if status != 0 {
		w.WriteHeader(status)
	}
	return json.NewEncoder(w).Encode(v)
}

// QueryInt parses an integer query parameter, returning def when the
// parameter is absent or malformed. Values below min are clamped to min,
// values above max to max (max <= 0 disables the upper clamp).
func QueryInt(r *http.Request, name string, def, min, max int) int {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	if n < min {
		return min
	}
	if max > 0 && n > max {
		return max
	}
	return n
}
