package graphql

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/i2y/apicomposer/internal/domain"
)

// SDLFetcher downloads the schema of a subgraph from its composition endpoint.
type SDLFetcher struct {
	httpClient *http.Client
	logger     *slog.Logger
}

// NewSDLFetcher creates a new SDLFetcher.
func NewSDLFetcher(client *http.Client, logger *slog.Logger) *SDLFetcher {
	if client == nil {
		client = http.DefaultClient
	}
	return &SDLFetcher{
		httpClient: client,
		logger:     logger.With("component", "graphql_fetcher"),
	}
}

// serviceSDLQuery is sent when the composition endpoint only speaks GraphQL.
const serviceSDLQuery = `{"query":"{ _service { sdl } }"}`

// FetchSDL returns the SDL served at the subgraph's compose endpoint.
// The endpoint may answer with raw SDL, {"sdl": "..."} or a GraphQL
// result of the form {"data": {"_service": {"sdl": "..."}}}.
func (f *SDLFetcher) FetchSDL(ctx context.Context, server domain.SubgraphServer) (string, error) {
	src := server.ComposeURL()
	log := f.logger.With(slog.String("source", src))

	body, status, err := f.get(ctx, src)
	if err == nil && status == http.StatusMethodNotAllowed {
		body, status, err = f.post(ctx, src)
	}
	if err != nil {
		log.Warn("Failed to fetch subgraph schema", slog.Any("error", err))
		return "", fmt.Errorf("failed to fetch subgraph schema from %s: %w", src, err)
	}
	if status != http.StatusOK {
		log.Warn("Received non-OK status code from subgraph", slog.Int("status_code", status))
		return "", fmt.Errorf("failed to fetch subgraph schema from %s: status %d", src, status)
	}

	sdl, err := extractSDL(body)
	if err != nil {
		return "", fmt.Errorf("invalid subgraph schema from %s: %w", src, err)
	}
	log.Debug("Fetched subgraph schema", slog.Int("bytes", len(sdl)))
	return sdl, nil
}

func (f *SDLFetcher) get(ctx context.Context, src string) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json, application/graphql, text/plain")
	return f.do(req)
}

func (f *SDLFetcher) post(ctx context.Context, src string) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, src, bytes.NewBufferString(serviceSDLQuery))
	if err != nil {
		return nil, 0, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	return f.do(req)
}

func (f *SDLFetcher) do(req *http.Request) ([]byte, int, error) {
	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("failed to read response body: %w", err)
	}
	return body, resp.StatusCode, nil
}

func extractSDL(body []byte) (string, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return "", fmt.Errorf("empty schema")
	}
	if trimmed[0] != '{' || !json.Valid(trimmed) {
		return string(trimmed), nil
	}

	var payload struct {
		SDL  string `json:"sdl"`
		Data struct {
			Service struct {
				SDL string `json:"sdl"`
			} `json:"_service"`
		} `json:"data"`
	}
	if err := json.Unmarshal(trimmed, &payload); err != nil {
		return "", fmt.Errorf("failed to decode schema payload: %w", err)
	}
	switch {
	case strings.TrimSpace(payload.SDL) != "":
		return payload.SDL, nil
	case strings.TrimSpace(payload.Data.Service.SDL) != "":
		return payload.Data.Service.SDL, nil
	default:
		return "", fmt.Errorf("schema payload carries no sdl")
	}
}
