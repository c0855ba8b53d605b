package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/gyaneshwarpardhi/vitalsync/internal/config"
	"github.com/gyaneshwarpardhi/vitalsync/internal/event"
	"github.com/gyaneshwarpardhi/vitalsync/internal/ingest"
	"github.com/gyaneshwarpardhi/vitalsync/internal/metrics"
	"github.com/gyaneshwarpardhi/vitalsync/internal/store"
)

// readyQueueLimit is the queue utilization above which /readyz reports overload.
const readyQueueLimit = 0.8

// Handler holds all HTTP handler dependencies.
type Handler struct {
	eng    *ingest.Engine
	store  store.Store
	loader *config.Loader
	log    *slog.Logger
	router *mux.Router
}

// New creates an HTTP handler and registers all routes. Limits and webhook
// rules are read from loader on every request, so reloads apply at once.
func New(eng *ingest.Engine, st store.Store, loader *config.Loader, log *slog.Logger) http.Handler {
	if log == nil {
		log = slog.Default()
	}
	h := &Handler{eng: eng, store: st, loader: loader, log: log, router: mux.NewRouter()}

	r := h.router
	r.HandleFunc("/v1/telemetry", h.ingestTelemetry).Methods(http.MethodPost)
	r.HandleFunc("/v1/telemetry/batch", h.ingestBatch).Methods(http.MethodPost)
	r.HandleFunc("/webhooks/{source}", h.webhook).Methods(http.MethodPost)
	r.HandleFunc("/v1/summary", h.summary).Methods(http.MethodGet)
	r.HandleFunc("/v1/config/reload", h.reloadConfig).Methods(http.MethodPost)
	r.HandleFunc("/healthz", h.healthz).Methods(http.MethodGet)
	r.HandleFunc("/readyz", h.readyz).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	// Outside the router so unmatched paths and 405s are logged too.
	return requestIDMiddleware(loggingMiddleware(log, r)(r))
}

// readBody reads the request body up to server.max_body_bytes. It writes
// the error response itself and returns false on failure.
func (h *Handler) readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	limit := h.loader.Config().Server.MaxBodyBytes
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, limit))
	if err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			writeError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("body exceeds %d bytes", limit))
			return nil, false
		}
		writeError(w, http.StatusBadRequest, fmt.Sprintf("read body: %s", err))
		return nil, false
	}
	if len(bytes.TrimSpace(body)) == 0 {
		writeError(w, http.StatusBadRequest, "request body is empty")
		return nil, false
	}
	return body, true
}

// POST /v1/telemetry — synchronous ingestion of one device or canonical payload.
// The source comes from ?source= or the body's "source" field.
func (h *Handler) ingestTelemetry(w http.ResponseWriter, r *http.Request) {
	body, ok := h.readBody(w, r)
	if !ok {
		return
	}
	source := r.URL.Query().Get("source")
	if source == "" {
		var probe struct {
			Source string `json:"source"`
		}
		_ = json.Unmarshal(body, &probe)
		source = probe.Source
	}
	if source == "" {
		writeError(w, http.StatusBadRequest, "source is required (query parameter or body field)")
		return
	}

	out, err := h.eng.ProcessSync(r.Context(), ingest.NewDelivery(source, body, ingest.OriginDirect))
	writeOutcome(w, out, err)
}

type batchItem struct {
	Source  string          `json:"source"`
	Payload json.RawMessage `json:"payload"`
}

// POST /v1/telemetry/batch — async batch ingestion.
func (h *Handler) ingestBatch(w http.ResponseWriter, r *http.Request) {
	body, ok := h.readBody(w, r)
	if !ok {
		return
	}
	var items []batchItem
	if err := json.Unmarshal(body, &items); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %s", err))
		return
	}
	maxBatch := h.loader.Config().Server.MaxBatchSize
	if len(items) == 0 {
		writeError(w, http.StatusBadRequest, "batch must contain at least one item")
		return
	}
	if len(items) > maxBatch {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("batch size %d exceeds max %d", len(items), maxBatch))
		return
	}

	jobID := uuid.NewString()
	queued := 0
	for _, it := range items {
		if it.Source == "" || len(it.Payload) == 0 {
			continue
		}
		if h.eng.ProcessAsync(ingest.NewDelivery(it.Source, it.Payload, ingest.OriginDirect)) {
			queued++
		}
	}
	h.log.Info("batch queued", "job_id", jobID, "total", len(items), "queued", queued, "request_id", requestID(r.Context()))

	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"job_id":   jobID,
		"total":    len(items),
		"queued":   queued,
		"rejected": len(items) - queued,
	})
}

// POST /webhooks/{source} — vendor webhook. {source} may be a short alias.
func (h *Handler) webhook(w http.ResponseWriter, r *http.Request) {
	raw := mux.Vars(r)["source"]
	src, ok := event.ParseSource(raw)
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Sprintf("unknown source %q", raw))
		return
	}
	for _, name := range h.requiredHeaders(src) {
		if strings.TrimSpace(r.Header.Get(name)) == "" {
			writeError(w, http.StatusUnauthorized, fmt.Sprintf("missing %s header", name))
			return
		}
	}
	body, ok := h.readBody(w, r)
	if !ok {
		return
	}

	out, err := h.eng.ProcessSync(r.Context(), ingest.NewDelivery(string(src), body, ingest.OriginWebhook))
	writeOutcome(w, out, err)
}

func (h *Handler) requiredHeaders(src event.Source) []string {
	var names []string
	for key, wh := range h.loader.Config().Webhooks {
		if s, ok := event.ParseSource(key); ok && s == src {
			names = append(names, wh.RequiredHeaders...)
		}
	}
	return names
}

type summaryResponse struct {
	Kind   event.Kind        `json:"kind"`
	From   string            `json:"from,omitempty"`
	To     string            `json:"to,omitempty"`
	UserID string            `json:"user,omitempty"`
	Days   []store.DayBucket `json:"days"`
}

// GET /v1/summary?kind=&from=&to=[&user=] — events grouped by UTC day.
func (h *Handler) summary(w http.ResponseWriter, r *http.Request) {
	qs := r.URL.Query()
	kind, ok := event.ParseKind(qs.Get("kind"))
	if !ok {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("kind must be one of %v", event.Kinds()))
		return
	}
	from, err := parseBound(qs.Get("from"))
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("from: %s", err))
		return
	}
	to, err := parseBound(qs.Get("to"))
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("to: %s", err))
		return
	}
	if !from.IsZero() && !to.IsZero() && !from.Before(to) {
		writeError(w, http.StatusBadRequest, "from must be before to")
		return
	}

	days, err := h.store.Query(r.Context(), store.Query{Kind: kind, From: from, To: to, UserID: qs.Get("user")})
	if err != nil {
		h.log.Error("summary query failed", "err", err, "request_id", requestID(r.Context()))
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: err.Error(), Retryable: true})
		return
	}
	if days == nil {
		days = []store.DayBucket{}
	}
	resp := summaryResponse{Kind: kind, UserID: qs.Get("user"), Days: days}
	if !from.IsZero() {
		resp.From = from.Format(time.RFC3339)
	}
	if !to.IsZero() {
		resp.To = to.Format(time.RFC3339)
	}
	writeJSON(w, http.StatusOK, resp)
}

// parseBound accepts RFC 3339 instants and YYYY-MM-DD dates (midnight UTC).
func parseBound(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t.UTC(), nil
	}
	t, err := time.ParseInLocation(time.DateOnly, s, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("%q is neither RFC 3339 nor YYYY-MM-DD", s)
	}
	return t, nil
}

// POST /v1/config/reload — re-read the config file from disk.
func (h *Handler) reloadConfig(w http.ResponseWriter, r *http.Request) {
	cfg, err := h.loader.Reload()
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"reloaded":  true,
		"version":   cfg.Version,
		"poll_jobs": len(cfg.Poll),
	})
}

// GET /healthz — always 200 (liveness probe).
func (h *Handler) healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// GET /readyz — 503 if the ingest queue is >80% full or the store is unreachable.
func (h *Handler) readyz(w http.ResponseWriter, r *http.Request) {
	util := h.eng.QueueUtilization()
	metrics.QueueUtilization.Set(util)
	if util > readyQueueLimit {
		writeJSON(w, http.StatusServiceUnavailable, map[string]interface{}{
			"status":            "overloaded",
			"queue_utilization": util,
		})
		return
	}
	if err := h.store.Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]interface{}{
			"status":            "store_unavailable",
			"error":             err.Error(),
			"queue_utilization": util,
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":            "ready",
		"queue_utilization": util,
	})
}
