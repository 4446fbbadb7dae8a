package graphql_test

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/i2y/apicomposer/internal/adapter/outbound/graphql"
	"github.com/i2y/apicomposer/internal/domain"
)

const booksSDL = `
extend schema @link(url: "https://specs.apollo.dev/federation/v2.0", import: ["@key"])

type Book @key(fields: "id") {
  id: ID!
  title: String
}

type Query {
  books: [Book]
  book(id: ID!): Book
  _service: _Service!
}

type _Service {
  sdl: String
}

type Mutation {
  addBook(title: String!): Book
}
`

const authorsSDL = `
type Author {
  id: ID!
  name: String
}

type Book @key(fields: "id") {
  id: ID!
  author: Author
  title: String @deprecated(reason: "use name")
}

schema {
  query: RootQuery
}

type RootQuery {
  authors: [Author]
  books: [Book]
}
`

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func subgraph(name, sdl string) graphql.Subgraph {
	return graphql.Subgraph{
		Config: domain.SubgraphConfig{Name: name, Server: domain.SubgraphServer{Host: "http://" + name, GraphQLEndpoint: "/graphql"}},
		SDL:    sdl,
	}
}

func TestMerge(t *testing.T) {
	supergraph, err := graphql.Merge([]graphql.Subgraph{subgraph("books", booksSDL), subgraph("authors", authorsSDL)})
	require.NoError(t, err)

	assert.Equal(t, map[string]string{"books": "books", "book": "books", "authors": "authors"}, supergraph.Resolvers["Query"])
	assert.Equal(t, map[string]string{"addBook": "books"}, supergraph.Resolvers["Mutation"])
	require.Len(t, supergraph.Subgraphs, 2)

	sdl := supergraph.SDL
	assert.Contains(t, sdl, "type Author")
	assert.Contains(t, sdl, "author: Author")
	assert.NotContains(t, sdl, "_Service")
	assert.NotContains(t, sdl, "_service")
	assert.NotContains(t, sdl, "@key")
	assert.NotContains(t, sdl, "RootQuery")
	assert.Less(t, strings.Index(sdl, "type Author"), strings.Index(sdl, "type Book"))

	// first definition of Book.title wins, so the deprecation from authors is dropped
	assert.NotContains(t, sdl, "use name")
}

func TestMerge_Deterministic(t *testing.T) {
	a, err := graphql.Merge([]graphql.Subgraph{subgraph("books", booksSDL), subgraph("authors", authorsSDL)})
	require.NoError(t, err)
	b, err := graphql.Merge([]graphql.Subgraph{subgraph("books", booksSDL), subgraph("authors", authorsSDL)})
	require.NoError(t, err)
	assert.True(t, a.Equal(b))
}

func TestMerge_Invalid(t *testing.T) {
	tests := []struct {
		name string
		sdl  string
	}{
		{name: "syntax", sdl: "type Query {"},
		{name: "undefined type", sdl: "type Query { a: Missing }"},
		{name: "no query", sdl: "type Mutation { a: String }"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := graphql.Merge([]graphql.Subgraph{subgraph("x", tt.sdl)})
			assert.Error(t, err)
		})
	}
}

func TestSubgraphConfigs(t *testing.T) {
	services := []domain.ServiceDescriptor{
		{ID: "books", Origin: "http://books", GraphQL: &domain.GraphQLFacet{}},
		{ID: "local", Origin: "http://local", GraphQL: &domain.GraphQLFacet{File: "schema.graphql"}},
		{ID: "rest", Origin: "http://rest", OpenAPI: &domain.OpenAPIFacet{URL: "/openapi.json"}},
		{ID: "custom", Origin: "http://custom", GraphQL: &domain.GraphQLFacet{Host: "http://gql", GraphQLEndpoint: "/q", ComposeEndpoint: "/sdl"}},
	}

	configs := graphql.SubgraphConfigs(services)
	require.Len(t, configs, 2)
	assert.Equal(t, domain.SubgraphServer{
		Host:            "http://books",
		GraphQLEndpoint: domain.DefaultGraphQLEndpoint,
		ComposeEndpoint: domain.DefaultComposeEndpoint,
	}, configs[0].Server)
	assert.Equal(t, "custom", configs[1].Name)
	assert.Equal(t, "http://gql/q", configs[1].Server.GraphQLURL())
	assert.Equal(t, "http://gql/sdl", configs[1].Server.ComposeURL())
}

func TestComposer_Compose(t *testing.T) {
	books := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, domain.DefaultComposeEndpoint, r.URL.Path)
		_, _ = io.WriteString(w, booksSDL)
	}))
	defer books.Close()
	down := httptest.NewServer(http.NotFoundHandler())
	down.Close()

	composer := graphql.NewComposer(graphql.NewSDLFetcher(books.Client(), newTestLogger()), newTestLogger())
	supergraph := composer.Compose(context.Background(), []domain.ServiceDescriptor{
		{ID: "books", Origin: books.URL, GraphQL: &domain.GraphQLFacet{}},
		{ID: "down", Origin: down.URL, GraphQL: &domain.GraphQLFacet{}},
	})

	assert.False(t, supergraph.IsPlaceholder())
	assert.Contains(t, supergraph.SDL, "books: [Book]")
	require.Len(t, supergraph.Subgraphs, 1)
	assert.Equal(t, "books", supergraph.Subgraphs[0].Name)
}

func TestComposer_Compose_Placeholder(t *testing.T) {
	down := httptest.NewServer(http.NotFoundHandler())
	down.Close()
	broken := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "type Query { a: Missing }")
	}))
	defer broken.Close()

	composer := graphql.NewComposer(graphql.NewSDLFetcher(nil, newTestLogger()), newTestLogger())

	tests := []struct {
		name     string
		services []domain.ServiceDescriptor
	}{
		{name: "no graphql services"},
		{name: "unreachable", services: []domain.ServiceDescriptor{{ID: "down", Origin: down.URL, GraphQL: &domain.GraphQLFacet{}}}},
		{name: "composition fails", services: []domain.ServiceDescriptor{{ID: "broken", Origin: broken.URL, GraphQL: &domain.GraphQLFacet{}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			supergraph := composer.Compose(context.Background(), tt.services)
			assert.Equal(t, "Query { _info: String }", supergraph.SDL)
			assert.True(t, supergraph.IsPlaceholder())
		})
	}
}
