package graphqlhttp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/i2y/apicomposer/internal/metric"
	"github.com/i2y/apicomposer/internal/usecase"
	wire "github.com/i2y/apicomposer/pkg/shared/graphqlhttp"
)

// DefaultPath is where the GraphQL endpoint is mounted.
const DefaultPath = "/graphql"

const maxBodyBytes = 1 << 20

// Request outcomes used as the metric label.
const (
	outcomeOK       = "ok"
	outcomePartial  = "partial"
	outcomeRejected = "rejected"
)

// Executor runs GraphQL requests. *usecase.ExecuteGraphQLUseCase satisfies it.
type Executor interface {
	Execute(ctx context.Context, req wire.Request, header http.Header) (*wire.Response, error)
	ExecuteQuery(ctx context.Context, req wire.Request, header http.Header) (*wire.Response, error)
}

// Handler serves GraphQL over HTTP on top of the supergraph.
type Handler struct {
	executor Executor
	hooks    usecase.SpanHooks
	metrics  *metric.Metrics
	logger   *slog.Logger
}

// NewHandler creates a new Handler. hooks and metrics may be nil.
func NewHandler(executor Executor, hooks usecase.SpanHooks, metrics *metric.Metrics, logger *slog.Logger) *Handler {
	return &Handler{
		executor: executor,
		hooks:    hooks,
		metrics:  metrics,
		logger:   logger.With("component", "graphql_handler"),
	}
}

// AddTo registers GET and POST on path.
func (h *Handler) AddTo(r *mux.Router, path string) {
	r.Methods(http.MethodPost).Path(path).HandlerFunc(h.handlePost)
	r.Methods(http.MethodGet).Path(path).HandlerFunc(h.handleGet)
}

func (h *Handler) handlePost(w http.ResponseWriter, r *http.Request) {
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil || mediaType != "application/json" {
		h.reject(w, http.StatusUnsupportedMediaType, wire.ErrorList{
			wire.NewError(wire.CodeBadRequest, "Content-Type must be application/json"),
		})
		return
	}
	var req wire.Request
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		h.logger.Debug("Failed to decode GraphQL request body", slog.Any("error", err))
		h.reject(w, http.StatusBadRequest, wire.ErrorList{
			wire.NewError(wire.CodeBadRequest, fmt.Sprintf("invalid request body: %v", err)),
		})
		return
	}
	resp, err := h.executor.Execute(h.context(r), req, r.Header)
	h.respond(w, resp, err)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	req := wire.Request{
		Query:         query.Get("query"),
		OperationName: query.Get("operationName"),
	}
	if raw := query.Get("variables"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &req.Variables); err != nil {
			h.reject(w, http.StatusBadRequest, wire.ErrorList{
				wire.NewError(wire.CodeBadRequest, fmt.Sprintf("invalid variables: %v", err)),
			})
			return
		}
	}
	resp, err := h.executor.ExecuteQuery(h.context(r), req, r.Header)
	if errors.Is(err, usecase.ErrMutationNotAllowed) {
		w.Header().Set("Allow", http.MethodPost)
		h.reject(w, http.StatusMethodNotAllowed, wire.ErrorList{wire.NewError(wire.CodeBadRequest, err.Error())})
		return
	}
	h.respond(w, resp, err)
}

func (h *Handler) context(r *http.Request) context.Context {
	if h.hooks == nil {
		return r.Context()
	}
	return h.hooks.Extract(r.Context(), r.Header)
}

func (h *Handler) respond(w http.ResponseWriter, resp *wire.Response, err error) {
	if err != nil {
		var list wire.ErrorList
		if !errors.As(err, &list) {
			h.logger.Error("GraphQL execution failed", slog.Any("error", err))
			list = wire.ErrorList{wire.NewError(wire.CodeSubgraphFailed, err.Error())}
		}
		h.reject(w, http.StatusBadRequest, list)
		return
	}
	outcome := outcomeOK
	if len(resp.Errors) > 0 {
		outcome = outcomePartial
	}
	h.metrics.RecordGraphQLRequest(outcome)
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) reject(w http.ResponseWriter, status int, list wire.ErrorList) {
	h.metrics.RecordGraphQLRequest(outcomeRejected)
	writeJSON(w, status, wire.Response{Errors: list})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
