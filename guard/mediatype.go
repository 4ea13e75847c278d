package guard

import (
	"mime"
	"net/http"

	"github.com/ai8future/polyguard/errors"
)

// JSONContentType rejects requests that carry a body with anything other
// than an application/json media type (parameters such as charset are
// ignored). Requests without a body pass through.
func JSONContentType(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !hasBody(r) {
			next.ServeHTTP(w, r)
			return
		}
		ct := r.Header.Get("Content-Type")
		mt, _, err := mime.ParseMediaType(ct)
		if err != nil || mt != "application/json" {
			writeProblem(w, r, errors.UnsupportedMediaType.New(
				"expected Content-Type application/json, got "+quoteOrNone(ct)))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func hasBody(r *http.Request) bool {
	switch r.Method {
	case http.MethodPost, http.MethodPut, http.MethodPatch:
		return true
	}
	return r.ContentLength > 0
}

func quoteOrNone(s string) string {
	if s == "" {
		return "none"
	}
	return `"` + s + `"`
}
