package health

import (
	"bytes"
	"log/slog"
	"net/http"

	polyguard "github.com/ai8future/polyguard"
	"github.com/ai8future/polyguard/internal/jsoncodec"
)

// response is the JSON envelope returned by the health handler.
type response struct {
	Status  string   `json:"status"`
	Version string   `json:"version"`
	Checks  []Result `json:"checks"`
}

// Handler returns an http.Handler that runs all registered checks via All.
// It responds with 200 when every check passes and 503 when any check fails.
// The body is {"status":"healthy"|"unhealthy","version":...,"checks":[...]}.
func Handler(checks map[string]Check) http.Handler {
	polyguard.AssertVersionChecked()
	run := All(checks)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		results, err := run(r.Context())

		status := "healthy"
		code := http.StatusOK
		if err != nil {
			status = "unhealthy"
			code = http.StatusServiceUnavailable
		}

		var buf bytes.Buffer
		if encErr := jsoncodec.Encode(&buf, response{
			Status:  status,
			Version: polyguard.Version,
			Checks:  results,
		}); encErr != nil {
			slog.ErrorContext(r.Context(), "health: failed to encode response", "error", encErr)
			http.Error(w, `{"status":"error"}`, http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", "no-store")
		w.WriteHeader(code)
		w.Write(buf.Bytes())
	})
}
