// Package guard holds request admission middleware for the deployment
// routers: body size limits, request deadlines and media type checks.
// Rejections are written as RFC 9457 problems.
package guard

import (
	"net/http"

	"github.com/ai8future/polyguard/errors"
	"github.com/ai8future/polyguard/httpkit"
)

func writeProblem(w http.ResponseWriter, r *http.Request, svcErr *errors.ServiceError) {
	httpkit.JSONProblem(w, r, svcErr)
}
