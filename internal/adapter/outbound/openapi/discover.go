package openapi

import (
	"context"
	"fmt"
	"log/slog"
	"mime"
	"net/http"
	"strings"
	"time"
)

// Well-known document locations, tried in order when a service declares
// an openapi facet with neither url nor file.
var wellKnownDocumentPaths = []string{
	"/documentation/json",
	"/openapi.json",
	"/docs/openapi.json",
	"/swagger.json",
	"/v3/api-docs",
	"/api-docs",
	"/api/openapi.json",
	"/swagger/v1/swagger.json",
}

const discoveryProbeTimeout = 5 * time.Second

// discover probes the well-known document locations below origin and returns
// the first one answering 200 with a JSON body.
func (f *SchemaFetcher) discover(ctx context.Context, origin string) (string, error) {
	log := f.logger.With(slog.String("origin", origin))
	for _, path := range wellKnownDocumentPaths {
		candidate, err := ResolveDocumentURL(origin, path)
		if err != nil {
			return "", err
		}
		ok, err := f.probeDocument(ctx, candidate)
		if err != nil {
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			log.Debug("Discovery probe failed", slog.String("url", candidate), slog.Any("error", err))
			continue
		}
		if ok {
			log.Info("Discovered OpenAPI document", slog.String("url", candidate))
			return candidate, nil
		}
	}
	return "", fmt.Errorf("no OpenAPI document found below %s", origin)
}

func (f *SchemaFetcher) probeDocument(ctx context.Context, candidate string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, discoveryProbeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, candidate, nil)
	if err != nil {
		return false, err
	}
	req.Header.Set("Accept", "application/json, application/vnd.oai.openapi+json")
	for key, value := range f.headers {
		req.Header.Set(key, value)
	}
	resp, err := f.httpClient.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false, nil
	}
	mediaType, _, err := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if err != nil {
		return false, nil
	}
	return mediaType == "application/json" || strings.HasSuffix(mediaType, "+json"), nil
}
