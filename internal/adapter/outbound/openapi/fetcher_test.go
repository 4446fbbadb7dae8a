package openapi_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/i2y/apicomposer/internal/adapter/outbound/openapi"
	"github.com/i2y/apicomposer/internal/domain"
)

func TestSchemaFetcher_Fetch(t *testing.T) {
	var gotKey string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("X-Api-Key")
		switch r.URL.Path {
		case "/documentation/json":
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(booksDoc))
		case "/openapi.json":
			w.Header().Set("Content-Type", "text/html")
			_, _ = w.Write([]byte("<html></html>"))
		default:
			http.NotFound(w, r)
		}
	}))
	defer upstream.Close()

	empty := httptest.NewServer(http.NotFoundHandler())
	defer empty.Close()

	filePath := writeFile(t, "books.json", booksDoc)

	tests := []struct {
		name        string
		service     domain.ServiceDescriptor
		readFile    openapi.FileReader
		wantSource  string
		expectError bool
	}{
		{
			name:       "Relative URL",
			service:    domain.ServiceDescriptor{ID: "books", Origin: upstream.URL, OpenAPI: &domain.OpenAPIFacet{URL: "/documentation/json"}},
			wantSource: upstream.URL + "/documentation/json",
		},
		{
			name:       "Local file",
			service:    domain.ServiceDescriptor{ID: "books", OpenAPI: &domain.OpenAPIFacet{File: filePath}},
			wantSource: filePath,
		},
		{
			name:    "Injected reader",
			service: domain.ServiceDescriptor{ID: "books", OpenAPI: &domain.OpenAPIFacet{File: "github://acme/apis/books.json"}},
			readFile: func(_ context.Context, path string) ([]byte, error) {
				assert.Equal(t, "github://acme/apis/books.json", path)
				return []byte(booksDoc), nil
			},
			wantSource: "github://acme/apis/books.json",
		},
		{
			name:       "Discovered document",
			service:    domain.ServiceDescriptor{ID: "books", Origin: upstream.URL, OpenAPI: &domain.OpenAPIFacet{}},
			wantSource: upstream.URL + "/documentation/json",
		},
		{
			name:        "Nothing to discover",
			service:     domain.ServiceDescriptor{ID: "books", Origin: empty.URL, OpenAPI: &domain.OpenAPIFacet{}},
			expectError: true,
		},
		{
			name:        "Upstream 404",
			service:     domain.ServiceDescriptor{ID: "books", Origin: upstream.URL, OpenAPI: &domain.OpenAPIFacet{URL: "/missing.json"}},
			expectError: true,
		},
		{
			name:        "No openapi facet",
			service:     domain.ServiceDescriptor{ID: "books", Origin: upstream.URL},
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fetcher := openapi.NewSchemaFetcher(nil, map[string]string{"X-Api-Key": "secret"}, tt.readFile, newTestLogger())

			schema, err := fetcher.Fetch(context.Background(), tt.service)
			if tt.expectError {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "books", schema.ServiceID)
			assert.Equal(t, domain.SchemaTypeOpenAPI, schema.Type)
			assert.Equal(t, tt.wantSource, schema.Source)
			doc, ok := schema.ParsedData.(*openapi3.T)
			require.True(t, ok)
			assert.NotNil(t, doc.Paths.Find("/books"))
		})
	}

	assert.Equal(t, "secret", gotKey)
}

func TestResolveDocumentURL(t *testing.T) {
	tests := []struct {
		origin, docURL, want string
		expectError          bool
	}{
		{origin: "http://books:3000", docURL: "/documentation/json", want: "http://books:3000/documentation/json"},
		{origin: "http://books:3000/api/", docURL: "openapi.json?v=2", want: "http://books:3000/api/openapi.json?v=2"},
		{origin: "http://books:3000", docURL: "https://cdn.example.com/books.json", want: "https://cdn.example.com/books.json"},
		{origin: "", docURL: "/openapi.json", expectError: true},
	}

	for _, tt := range tests {
		t.Run(tt.docURL, func(t *testing.T) {
			got, err := openapi.ResolveDocumentURL(tt.origin, tt.docURL)
			if tt.expectError {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
