// Package httpkit provides the HTTP middleware chain and response helpers
// shared by every polyguard endpoint.
package httpkit

import (
	"log/slog"
	"net/http"

	"github.com/ai8future/polyguard/errors"
	"github.com/ai8future/polyguard/internal/jsoncodec"
)

// JSON writes v as an application/json response with the given status code.
func JSON(w http.ResponseWriter, r *http.Request, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := jsoncodec.Encode(w, v); err != nil {
		slog.ErrorContext(r.Context(), "httpkit: failed to encode response", "error", err)
	}
}

// JSONProblem writes err as an RFC 9457 problem. A request ID in the
// request context becomes the request_id member.
func JSONProblem(w http.ResponseWriter, r *http.Request, err *errors.ServiceError) {
	errors.WriteProblem(w, r, err, RequestIDFrom(r.Context()))
}

// NotFound and MethodNotAllowed render router misses as problems.
func NotFound(w http.ResponseWriter, r *http.Request) {
	JSONProblem(w, r, errors.NotFound.New("no route for "+r.URL.Path))
}

func MethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	JSONProblem(w, r, errors.MethodNotAllowed.New(r.Method+" is not supported on "+r.URL.Path))
}
