package guard

import (
	"fmt"
	"net/http"

	"github.com/ai8future/polyguard/errors"
)

// MaxBody returns middleware that rejects requests whose declared length
// exceeds maxBytes with 413 Payload Too Large. Bodies without a declared
// length are capped with http.MaxBytesReader, which fails the decoder
// instead.
func MaxBody(maxBytes int64) func(http.Handler) http.Handler {
	if maxBytes <= 0 {
		panic("guard: MaxBody requires a positive limit")
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.ContentLength > maxBytes {
				writeProblem(w, r, errors.PayloadTooLarge.New(
					fmt.Sprintf("request body exceeds %d bytes", maxBytes)))
				return
			}
			if r.Body != nil {
				r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			}
			next.ServeHTTP(w, r)
		})
	}
}
