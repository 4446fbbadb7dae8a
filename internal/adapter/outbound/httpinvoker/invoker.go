package httpinvoker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/i2y/apicomposer/internal/usecase"
	"github.com/i2y/apicomposer/pkg/shared/graphqlhttp"
)

// forwardedHeaders are copied from the inbound GraphQL request to every subgraph request.
var forwardedHeaders = []string{"Authorization", "Cookie", "X-Request-Id", "Accept-Language"}

// maxErrorBody bounds how much of a failed response ends up in the error message.
const maxErrorBody = 512

// Invoker implements the usecase.SubgraphInvoker and usecase.OriginProber interfaces using standard net/http.
type Invoker struct {
	client *http.Client
	hooks  usecase.SpanHooks
	logger *slog.Logger
}

// New creates a new HTTP Invoker. hooks may be nil.
func New(client *http.Client, hooks usecase.SpanHooks, logger *slog.Logger) *Invoker {
	if client == nil {
		client = http.DefaultClient
	}
	return &Invoker{
		client: client,
		hooks:  hooks,
		logger: logger.With("component", "http_invoker"),
	}
}

// Invoke posts a GraphQL request to a subgraph endpoint and decodes the GraphQL response.
// A non-2xx status is an error unless the body still is a GraphQL response.
func (i *Invoker) Invoke(ctx context.Context, endpoint string, gqlReq graphqlhttp.Request, header http.Header) (*graphqlhttp.Response, error) {
	log := i.logger.With(slog.String("endpoint", endpoint))

	payload, err := json.Marshal(gqlReq)
	if err != nil {
		log.Error("Failed to marshal GraphQL request", slog.Any("error", err))
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		log.Error("Failed to create HTTP request", slog.Any("error", err))
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/graphql-response+json, application/json")
	for _, key := range forwardedHeaders {
		if value := header.Get(key); value != "" {
			req.Header.Set(key, value)
		}
	}

	statusCode := 0
	if i.hooks != nil {
		spanCtx, span, propagation := i.hooks.StartClientSpan(ctx, endpoint, http.MethodPost)
		req = req.WithContext(spanCtx)
		for key, values := range propagation {
			req.Header[key] = values
		}
		defer func() { i.hooks.EndClientSpan(span, statusCode, err) }()
	}

	log.Debug("Executing subgraph request", slog.String("operation", gqlReq.OperationName))
	resp, err := i.client.Do(req)
	if err != nil {
		log.Error("Subgraph request failed", slog.Any("error", err))
		return nil, fmt.Errorf("request execution failed: %w", err)
	}
	defer resp.Body.Close()
	statusCode = resp.StatusCode
	log = log.With(slog.Int("status_code", resp.StatusCode))

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		log.Error("Failed to read response body", slog.Any("error", err))
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	var result graphqlhttp.Response
	decodeErr := json.Unmarshal(body, &result)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if decodeErr == nil && (result.Data != nil || len(result.Errors) > 0) {
			log.Warn("Subgraph answered with error status and a GraphQL body")
			return &result, nil
		}
		log.Warn("Received non-success status code", slog.String("response_body", truncate(body)))
		err = fmt.Errorf("HTTP %d: %s", resp.StatusCode, truncate(body))
		return nil, err
	}
	if decodeErr != nil {
		log.Warn("Failed to unmarshal GraphQL response", slog.Any("error", decodeErr))
		err = fmt.Errorf("invalid GraphQL response: %w", decodeErr)
		return nil, err
	}
	return &result, nil
}

// Probe reports whether origin answers HTTP at all. Any status code counts as reachable.
func (i *Invoker) Probe(ctx context.Context, origin string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, origin, nil)
	if err != nil {
		return fmt.Errorf("failed to create probe request for %s: %w", origin, err)
	}
	resp, err := i.client.Do(req)
	if err != nil {
		i.logger.Debug("Origin probe failed", slog.String("origin", origin), slog.Any("error", err))
		return fmt.Errorf("origin %s unreachable: %w", origin, err)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	return nil
}

func truncate(body []byte) string {
	s := strings.TrimSpace(string(body))
	if len(s) > maxErrorBody {
		return s[:maxErrorBody] + "..."
	}
	return s
}
