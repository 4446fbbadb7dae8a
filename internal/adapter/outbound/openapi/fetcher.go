package openapi

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strings"

	"github.com/i2y/apicomposer/internal/domain"

	"github.com/getkin/kin-openapi/openapi3"
)

// FileReader reads a file-backed document. Paths may use any scheme the reader understands.
type FileReader func(ctx context.Context, path string) ([]byte, error)

// SchemaFetcher implements the usecase.SchemaFetcher interface for OpenAPI schemas.
type SchemaFetcher struct {
	httpClient *http.Client
	headers    map[string]string
	readFile   FileReader
	logger     *slog.Logger
}

// NewSchemaFetcher creates a new OpenAPI SchemaFetcher.
// The headers are sent with every document request (e.g. an API key shared by the upstreams).
// A nil readFile reads from the local filesystem.
func NewSchemaFetcher(client *http.Client, headers map[string]string, readFile FileReader, logger *slog.Logger) *SchemaFetcher {
	if client == nil {
		client = http.DefaultClient
	}
	if readFile == nil {
		readFile = func(_ context.Context, path string) ([]byte, error) {
			return os.ReadFile(path)
		}
	}
	return &SchemaFetcher{
		httpClient: client,
		headers:    headers,
		readFile:   readFile,
		logger:     logger.With("component", "openapi_fetcher"),
	}
}

// Fetch loads the OpenAPI document of a service from its URL or its local file.
func (f *SchemaFetcher) Fetch(ctx context.Context, service domain.ServiceDescriptor) (domain.APISchema, error) {
	if service.OpenAPI == nil {
		return domain.APISchema{}, fmt.Errorf("service %s has no openapi facet", service.ID)
	}

	var (
		rawData []byte
		source  string
		err     error
	)
	switch {
	case service.OpenAPI.URL != "":
		source, err = ResolveDocumentURL(service.Origin, service.OpenAPI.URL)
		if err != nil {
			return domain.APISchema{}, fmt.Errorf("service %s: %w", service.ID, err)
		}
		rawData, err = f.fetchURL(ctx, source)
	case service.OpenAPI.File != "":
		source = service.OpenAPI.File
		rawData, err = f.readDocumentFile(ctx, source)
	default:
		source, err = f.discover(ctx, service.Origin)
		if err == nil {
			rawData, err = f.fetchURL(ctx, source)
		}
	}
	if err != nil {
		return domain.APISchema{}, fmt.Errorf("service %s: %w", service.ID, err)
	}

	log := f.logger.With(slog.String("service", service.ID), slog.String("source", source))

	loader := &openapi3.Loader{Context: ctx, IsExternalRefsAllowed: true}
	doc, err := loader.LoadFromData(rawData)
	if err != nil {
		log.Error("Failed to parse OpenAPI schema data", slog.Any("error", err))
		return domain.APISchema{}, fmt.Errorf("failed to parse OpenAPI schema from %s: %w", source, err)
	}

	if validateErr := doc.Validate(ctx); validateErr != nil {
		log.Warn("OpenAPI schema validation failed", slog.Any("validation_error", validateErr))
	}

	log.Debug("Successfully fetched and parsed OpenAPI schema", slog.Int("paths", doc.Paths.Len()))
	return domain.APISchema{
		ServiceID:  service.ID,
		Source:     source,
		Type:       domain.SchemaTypeOpenAPI,
		RawData:    rawData,
		ParsedData: doc,
	}, nil
}

func (f *SchemaFetcher) fetchURL(ctx context.Context, src string) ([]byte, error) {
	log := f.logger.With(slog.String("source", src))
	log.Debug("Fetching from URL")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src, nil)
	if err != nil {
		log.Error("Failed to create HTTP request", slog.Any("error", err))
		return nil, fmt.Errorf("failed to create request for %s: %w", src, err)
	}
	req.Header.Set("Accept", "application/json, application/yaml;q=0.9, */*;q=0.8")
	for key, value := range f.headers {
		req.Header.Set(key, value)
	}

	resp, err := f.httpClient.Do(req)
	if err != nil {
		log.Warn("Failed to fetch schema from URL", slog.Any("error", err))
		return nil, fmt.Errorf("failed to fetch schema from URL %s: %w", src, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		log.Warn("Received non-OK status code from URL", slog.String("status", resp.Status), slog.Int("status_code", resp.StatusCode))
		return nil, fmt.Errorf("failed to fetch schema from URL %s: status %s", src, resp.Status)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		log.Error("Failed to read response body from URL", slog.Any("error", err))
		return nil, fmt.Errorf("failed to read response body from %s: %w", src, err)
	}
	return body, nil
}

func (f *SchemaFetcher) readDocumentFile(ctx context.Context, path string) ([]byte, error) {
	data, err := f.readFile(ctx, path)
	if err != nil {
		f.logger.Error("Failed to read schema from file", slog.String("path", path), slog.Any("error", err))
		return nil, fmt.Errorf("failed to read schema from file %s: %w", path, err)
	}
	return data, nil
}

// ResolveDocumentURL resolves a document URL against the service origin.
// Absolute URLs are returned unchanged.
func ResolveDocumentURL(origin, docURL string) (string, error) {
	u, err := url.Parse(docURL)
	if err != nil {
		return "", fmt.Errorf("invalid openapi url %q: %w", docURL, err)
	}
	if u.IsAbs() {
		return docURL, nil
	}
	base, err := url.Parse(origin)
	if err != nil || base.Scheme == "" || base.Host == "" {
		return "", fmt.Errorf("cannot resolve relative openapi url %q against origin %q", docURL, origin)
	}
	base.Path = strings.TrimRight(base.Path, "/") + "/" + strings.TrimLeft(u.Path, "/")
	base.RawQuery = u.RawQuery
	return base.String(), nil
}
