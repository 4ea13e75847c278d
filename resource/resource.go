// Package resource implements the per-deployment vehicle endpoint: it
// accepts polymorphic vehicle documents, resolves them through the
// deployment's type validator, and stores what it accepts.
package resource

import (
	"context"
	stderrors "errors"
	"io"
	"log/slog"
	"net/http"
	"reflect"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ai8future/polyguard/audit"
	"github.com/ai8future/polyguard/errors"
	"github.com/ai8future/polyguard/flagz"
	"github.com/ai8future/polyguard/httpkit"
	"github.com/ai8future/polyguard/internal/ids"
	"github.com/ai8future/polyguard/internal/jsoncodec"
	"github.com/ai8future/polyguard/metrics"
	"github.com/ai8future/polyguard/otel"
	"github.com/ai8future/polyguard/polytype"
	"github.com/ai8future/polyguard/secval"
	"github.com/ai8future/polyguard/store"
	"github.com/ai8future/polyguard/vehicles"
)

// Paths mounted under the deployment prefix.
const (
	PostPath     = "/test/post"
	VehiclesPath = "/test/vehicles"
)

// List limits.
const (
	DefaultListLimit = 100
	MaxListLimit     = 1000
)

// AuditTimeout bounds a single audit publish.
const AuditTimeout = 2 * time.Second

// Store is the persistence the handler needs.
type Store interface {
	Save(ctx context.Context, r store.Record) (store.Record, error)
	Get(ctx context.Context, deployment, id string) (store.Record, error)
	List(ctx context.Context, deployment string, limit int) ([]store.Record, error)
}

// Config wires a Handler. Codec, Store and Deployment are required; the
// rest fall back to defaults.
type Config struct {
	Deployment string
	Codec      *polytype.Codec
	Store      Store
	Scanner    *secval.Scanner
	Audit      audit.Sink
	Metrics    *metrics.Recorder
	Logger     *slog.Logger
	// Flags gates auditing of accepted posts (flagz.AuditAccepted). Nil
	// audits rejections only.
	Flags *flagz.Flags
}

// Handler serves one deployment.
type Handler struct {
	deployment string
	codec      *polytype.Codec
	store      Store
	scanner    *secval.Scanner
	audit      audit.Sink
	metrics    *metrics.Recorder
	logger     *slog.Logger
	flags      *flagz.Flags
}

// New returns a Handler for cfg.
func New(cfg Config) *Handler {
	h := &Handler{
		deployment: cfg.Deployment,
		codec:      cfg.Codec,
		store:      cfg.Store,
		scanner:    cfg.Scanner,
		audit:      cfg.Audit,
		metrics:    cfg.Metrics,
		logger:     cfg.Logger,
		flags:      cfg.Flags,
	}
	if h.scanner == nil {
		h.scanner = secval.NewScanner()
	}
	if h.logger == nil {
		h.logger = slog.Default()
	}
	if h.audit == nil {
		h.audit = audit.LogSink{Logger: h.logger}
	}
	return h
}

// Routes returns the deployment's routes, relative to its mount point.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.NotFound(httpkit.NotFound)
	r.MethodNotAllowed(httpkit.MethodNotAllowed)
	r.Post(PostPath, h.Post)
	r.Get(VehiclesPath, h.List)
	r.Get(VehiclesPath+"/{id}", h.Get)
	return r
}

// View is the JSON representation of a stored vehicle. Vehicle is the
// polymorphic encoding, type property included.
type View struct {
	ID        string               `json:"id"`
	TypeID    string               `json:"type_id"`
	Label     string               `json:"label"`
	CreatedAt time.Time            `json:"created_at"`
	Vehicle   jsoncodec.RawMessage `json:"vehicle"`
}

// Post resolves the body into a PolymorphicType and stores it.
func (h *Handler) Post(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	body, err := io.ReadAll(r.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if stderrors.As(err, &tooLarge) {
			httpkit.JSONProblem(w, r, errors.PayloadTooLarge.New(err.Error()))
			return
		}
		httpkit.JSONProblem(w, r, errors.Validation.New("reading request body: "+err.Error()))
		return
	}

	if err := h.scanner.Validate(body); err != nil {
		h.recordResolution(ctx, metrics.OutcomeInvalid, "")
		httpkit.JSONProblem(w, r, errors.Validation.Wrap(err, err.Error()))
		return
	}

	var payload vehicles.PolymorphicType
	if err := h.codec.Decode(body, &payload); err != nil {
		h.rejectDecode(w, r, body, err)
		return
	}
	if payload.Vehicle == nil {
		h.recordResolution(ctx, metrics.OutcomeInvalid, "")
		httpkit.JSONProblem(w, r, errors.Validation.New("vehicle is required").With("path", "vehicle"))
		return
	}

	typeID := polytype.TypeName(reflect.TypeOf(payload.Vehicle))
	h.recordResolution(ctx, metrics.OutcomeAllowed, typeID)

	encoded, err := h.codec.Marshal(payload)
	if err != nil {
		httpkit.JSONProblem(w, r, errors.Internal.Wrap(err, "encoding vehicle"))
		return
	}
	rec, err := h.store.Save(ctx, store.Record{
		Deployment: h.deployment,
		TypeID:     typeID,
		Label:      payload.Vehicle.Label(),
		Body:       encoded,
	})
	if err != nil {
		h.logger.ErrorContext(ctx, "saving vehicle failed", "type_id", typeID, "error", err)
		httpkit.JSONProblem(w, r, errors.Dependency.Wrap(err, "vehicle store unavailable"))
		return
	}

	view, err := viewOf(rec)
	if err != nil {
		httpkit.JSONProblem(w, r, errors.Internal.Wrap(err, "rendering vehicle"))
		return
	}
	h.logger.InfoContext(ctx, "vehicle accepted", "id", rec.ID, "type_id", typeID)
	if h.flags.EnabledFor(ctx, flagz.AuditAccepted, httpkit.RequestIDFrom(ctx)) {
		ev := audit.NewEvent(body)
		ev.Outcome = audit.OutcomeAccepted
		ev.BaseType = polytype.TypeName(reflect.TypeFor[vehicles.Vehicle]())
		ev.TypeID = typeID
		ev.Validator = h.codec.Validator().Name()
		h.publish(ctx, ev)
	}
	w.Header().Set("Location", "/"+h.deployment+VehiclesPath+"/"+rec.ID)
	httpkit.JSON(w, r, http.StatusCreated, view)
}

// rejectDecode answers a failed Decode. Resolution failures are audited.
func (h *Handler) rejectDecode(w http.ResponseWriter, r *http.Request, body []byte, err error) {
	ctx := r.Context()
	var rerr *polytype.ResolutionError
	if !stderrors.As(err, &rerr) {
		h.recordResolution(ctx, metrics.OutcomeInvalid, "")
		httpkit.JSONProblem(w, r, errors.Validation.Wrap(err, "malformed request body: "+err.Error()))
		return
	}

	outcome, kind := metrics.OutcomeInvalid, errors.Validation
	switch {
	case polytype.IsDenied(err):
		outcome, kind = metrics.OutcomeDenied, errors.ResolutionDenied
	case stderrors.Is(err, polytype.ErrUnknownTypeID):
		outcome = metrics.OutcomeUnknown
	}
	h.recordResolution(ctx, outcome, rerr.TypeID)

	details := map[string]any{
		"base_type": rerr.BaseType,
		"validator": rerr.Validator,
	}
	if rerr.TypeID != "" {
		details["type_id"] = rerr.TypeID
	}
	if rerr.Path != "" {
		details["path"] = rerr.Path
	}
	ev := audit.NewEvent(body)
	if outcome != metrics.OutcomeDenied {
		ev.Outcome = audit.OutcomeRejected
	}
	ev.BaseType = rerr.BaseType
	ev.TypeID = rerr.TypeID
	ev.Validator = rerr.Validator
	if rerr.Err != nil {
		ev.Reason = rerr.Err.Error()
	}
	h.publish(ctx, ev)
	httpkit.JSONProblem(w, r, kind.Wrap(err, rerr.Error()).WithMembers(details))
}

// publish sends ev on a context detached from the request so a client
// disconnect cannot drop it. Failures are only logged.
func (h *Handler) publish(ctx context.Context, ev audit.Event) {
	ev.Deployment = h.deployment
	ev.RequestID = httpkit.RequestIDFrom(ctx)

	pubCtx, cancel := context.WithTimeout(otel.DetachContext(ctx), AuditTimeout)
	defer cancel()
	if err := h.audit.Publish(pubCtx, ev); err != nil {
		h.logger.ErrorContext(ctx, "audit publish failed", "audit_id", ev.ID, "error", err)
	}
}

// Get returns one stored vehicle.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !ids.Valid(id) {
		httpkit.JSONProblem(w, r, errors.NotFound.New("no vehicle "+strconv.Quote(id)))
		return
	}
	rec, err := h.store.Get(r.Context(), h.deployment, id)
	if stderrors.Is(err, store.ErrNotFound) {
		httpkit.JSONProblem(w, r, errors.NotFound.New("no vehicle "+strconv.Quote(id)))
		return
	}
	if err != nil {
		httpkit.JSONProblem(w, r, errors.Dependency.Wrap(err, "vehicle store unavailable"))
		return
	}
	view, err := viewOf(rec)
	if err != nil {
		httpkit.JSONProblem(w, r, errors.Internal.Wrap(err, "rendering vehicle"))
		return
	}
	httpkit.JSON(w, r, http.StatusOK, view)
}

// List returns the deployment's vehicles, newest first. The optional limit
// query parameter defaults to DefaultListLimit and is capped at
// MaxListLimit.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	limit := DefaultListLimit
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 {
			httpkit.JSONProblem(w, r, errors.Validation.New("limit must be a positive integer").With("limit", s))
			return
		}
		limit = min(n, MaxListLimit)
	}
	recs, err := h.store.List(r.Context(), h.deployment, limit)
	if err != nil {
		httpkit.JSONProblem(w, r, errors.Dependency.Wrap(err, "vehicle store unavailable"))
		return
	}
	views := make([]View, 0, len(recs))
	for _, rec := range recs {
		v, err := viewOf(rec)
		if err != nil {
			httpkit.JSONProblem(w, r, errors.Internal.Wrap(err, "rendering vehicle"))
			return
		}
		views = append(views, v)
	}
	httpkit.JSON(w, r, http.StatusOK, map[string]any{
		"deployment": h.deployment,
		"vehicles":   views,
	})
}

func (h *Handler) recordResolution(ctx context.Context, outcome, typeID string) {
	if h.metrics != nil {
		h.metrics.RecordResolution(ctx, h.deployment, outcome, typeID)
	}
}

func viewOf(rec store.Record) (View, error) {
	var envelope struct {
		Vehicle jsoncodec.RawMessage `json:"vehicle"`
	}
	if err := jsoncodec.Unmarshal(rec.Body, &envelope); err != nil {
		return View{}, err
	}
	return View{
		ID:        rec.ID,
		TypeID:    rec.TypeID,
		Label:     rec.Label,
		CreatedAt: rec.CreatedAt,
		Vehicle:   envelope.Vehicle,
	}, nil
}
