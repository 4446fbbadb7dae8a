package adminhttp

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/gorilla/mux"
	"gopkg.in/yaml.v3"
)

// Documentation serves the composed OpenAPI document on the public listener.
// Both encodings are rendered once, the document never changes after boot.
type Documentation struct {
	jsonBody []byte
	yamlBody []byte
}

// NewDocumentation renders doc.
func NewDocumentation(doc *openapi3.T, logger *slog.Logger) (*Documentation, error) {
	jsonBody, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to encode composed document: %w", err)
	}
	yamlBody, err := toYAML(jsonBody)
	if err != nil {
		return nil, fmt.Errorf("failed to encode composed document as YAML: %w", err)
	}
	logger.With("component", "documentation").Info("Composed document ready",
		slog.Int("paths", doc.Paths.Len()),
		slog.Int("bytes", len(jsonBody)),
	)
	return &Documentation{jsonBody: jsonBody, yamlBody: yamlBody}, nil
}

// AddTo registers /documentation/json and /documentation/yaml.
func (d *Documentation) AddTo(r *mux.Router) {
	r.Methods(http.MethodGet, http.MethodHead).Path("/documentation/json").HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		_, _ = w.Write(d.jsonBody)
	})
	r.Methods(http.MethodGet, http.MethodHead).Path("/documentation/yaml").HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/x-yaml")
		_, _ = w.Write(d.yamlBody)
	})
}

// toYAML re-encodes a JSON document as block-style YAML, keeping the key order.
func toYAML(jsonBody []byte) ([]byte, error) {
	var node yaml.Node
	if err := yaml.Unmarshal(jsonBody, &node); err != nil {
		return nil, err
	}
	resetStyle(&node)
	return yaml.Marshal(&node)
}

func resetStyle(node *yaml.Node) {
	node.Style = 0
	for _, child := range node.Content {
		resetStyle(child)
	}
}
