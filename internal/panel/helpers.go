package panel

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/weft-run/weft/pkg/schema"
)

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeDomainError maps a typed domain error onto an HTTP status.
func writeDomainError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	if werr, ok := schema.AsError(err); ok {
		switch werr.Code {
		case schema.ErrCodeNotFound:
			status = http.StatusNotFound
		case schema.ErrCodeValidation:
			status = http.StatusBadRequest
		case schema.ErrCodeInvalidTransition, schema.ErrCodeCheckpointRejected, schema.ErrCodeConflict:
			status = http.StatusConflict
		}
	}
	writeError(w, status, err.Error())
}

func writeMermaid(w http.ResponseWriter, text string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte(text))
}

// queryInt extracts an integer query param with a default value.
func queryInt(r *http.Request, key string, def int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}
