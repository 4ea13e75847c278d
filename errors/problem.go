package errors

import (
	"log/slog"
	"net/http"

	"github.com/ai8future/polyguard/internal/jsoncodec"
)

// TypeBaseURI prefixes every problem type.
const TypeBaseURI = "https://polyguard.ai8future.com/problems/"

// ContentType is the media type of problem responses.
const ContentType = "application/problem+json"

// ProblemDetail is an RFC 9457 problem. Extensions are written as top-level
// members.
type ProblemDetail struct {
	Type       string         `json:"type"`
	Title      string         `json:"title"`
	Status     int            `json:"status"`
	Detail     string         `json:"detail"`
	Instance   string         `json:"instance,omitempty"`
	Extensions map[string]any `json:"-"`
}

// MarshalJSON flattens Extensions into the object. Extensions cannot
// override the standard members.
func (pd ProblemDetail) MarshalJSON() ([]byte, error) {
	m := make(map[string]any, len(pd.Extensions)+5)
	for k, v := range pd.Extensions {
		m[k] = v
	}
	m["type"] = pd.Type
	m["title"] = pd.Title
	m["status"] = pd.Status
	m["detail"] = pd.Detail
	if pd.Instance != "" {
		m["instance"] = pd.Instance
	} else {
		delete(m, "instance")
	}
	return jsoncodec.Marshal(m)
}

// ProblemDetail renders e for r. The instance is the request path.
func (e *ServiceError) ProblemDetail(r *http.Request) ProblemDetail {
	k := e.Kind
	if k.Status == 0 {
		k = Internal
	}
	title := k.Title
	if title == "" {
		title = http.StatusText(k.Status)
	}
	slug := k.Slug
	if slug == "" {
		slug = "unknown"
	}
	pd := ProblemDetail{
		Type:   TypeBaseURI + slug,
		Title:  title,
		Status: k.Status,
		Detail: e.Message,
	}
	if r != nil && r.URL != nil {
		pd.Instance = r.URL.Path
	}
	if len(e.Members) > 0 {
		pd.Extensions = make(map[string]any, len(e.Members))
		for key, v := range e.Members {
			pd.Extensions[key] = v
		}
	}
	return pd
}

// WriteProblem writes err as an application/problem+json response. Errors
// without a ServiceError in their chain become 500s. An empty requestID is
// omitted.
func WriteProblem(w http.ResponseWriter, r *http.Request, err error, requestID string) {
	pd := FromError(err).ProblemDetail(r)
	if requestID != "" {
		if pd.Extensions == nil {
			pd.Extensions = make(map[string]any, 1)
		}
		pd.Extensions["request_id"] = requestID
	}

	w.Header().Set("Content-Type", ContentType)
	w.WriteHeader(pd.Status)

	if encErr := jsoncodec.Encode(w, pd); encErr != nil {
		slog.ErrorContext(r.Context(), "errors: failed to encode problem detail", "error", encErr)
	}
}
