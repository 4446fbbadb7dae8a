package domain

import (
	"time"

	"github.com/getkin/kin-openapi/openapi3"
)

// SchemaType defines the type of an upstream API schema.
type SchemaType string

const (
	SchemaTypeOpenAPI SchemaType = "openapi"
	SchemaTypeGraphQL SchemaType = "graphql"
)

// APISchema represents a fetched API schema before composition.
// It holds the raw data and metadata about its origin and type.
type APISchema struct {
	// ServiceID is the descriptor the schema belongs to.
	ServiceID string
	// Source indicates where the schema came from (URL or file path).
	Source string
	// Type specifies the kind of schema.
	Type SchemaType
	// RawData holds the unprocessed schema content as served by the upstream.
	RawData []byte
	// ParsedData holds the schema parsed into a library-specific representation.
	// For OpenAPI this is *openapi3.T, for GraphQL the subgraph SDL string.
	ParsedData interface{}
}

// OpenAPIDoc returns the parsed OpenAPI document, or nil if the schema is not OpenAPI.
func (s APISchema) OpenAPIDoc() *openapi3.T {
	doc, _ := s.ParsedData.(*openapi3.T)
	return doc
}

// ComposedDocument is the merged OpenAPI artifact together with the route table
// built alongside it. It is immutable once composition returns.
type ComposedDocument struct {
	Doc    *openapi3.T
	Routes RouteMapping
}

// RouteMapping maps a composed path template to the upstream that owns it.
type RouteMapping map[string]Route

// Route is the request-time view of one composed path.
type Route struct {
	ServiceID string
	Origin    string
	// Prefix is the service-level prefix the path was mounted under.
	Prefix string
	// OriginalPath is the path template as declared by the upstream.
	OriginalPath string
	// Alias is the mounted template when it differs structurally from OriginalPath.
	Alias string
	// Operations maps an upper-case HTTP method to its per-operation settings.
	Operations map[string]RouteOperation
	// Hidden routes are served but left out of the published document.
	Hidden bool
}

// RouteOperation holds the per-method settings of a composed route.
type RouteOperation struct {
	OperationID string
	// Rename rewrites the keys of the JSON payload of responses with RenameStatus.
	Rename       *RenameSpec
	RenameStatus int
}

// Supergraph is the merged GraphQL schema plus the root field routing table.
type Supergraph struct {
	SDL string
	// Resolvers maps an operation type ("Query", "Mutation") and root field name to
	// the subgraph that resolves it. An empty subgraph name is resolved by the gateway itself.
	Resolvers map[string]map[string]string
	Subgraphs []SubgraphConfig
}

// PlaceholderSDL is served when no subgraph could be composed.
const PlaceholderSDL = "Query { _info: String }"

// PlaceholderInfo is the value returned for the placeholder _info field.
const PlaceholderInfo = "apicomposer"

// PlaceholderSupergraph keeps the gateway servable while every GraphQL upstream is down.
func PlaceholderSupergraph() Supergraph {
	return Supergraph{
		SDL: PlaceholderSDL,
		Resolvers: map[string]map[string]string{
			"Query": {"_info": ""},
		},
	}
}

// IsPlaceholder reports whether the supergraph is the fallback placeholder.
func (s Supergraph) IsPlaceholder() bool {
	return s.SDL == PlaceholderSDL
}

// Equal compares two supergraphs for drift purposes. Only the SDL is compared.
func (s Supergraph) Equal(other Supergraph) bool {
	return s.SDL == other.SDL
}

// SubgraphConfig is the input of the supergraph composition for one service.
type SubgraphConfig struct {
	Name     string
	Server   SubgraphServer
	Entities map[string]EntityConfig
}

// SubgraphServer locates the endpoints of a subgraph.
type SubgraphServer struct {
	Host            string
	ComposeEndpoint string
	GraphQLEndpoint string
}

// GraphQLURL returns the absolute URL queries are sent to.
func (s SubgraphServer) GraphQLURL() string {
	return joinURL(s.Host, s.GraphQLEndpoint)
}

// ComposeURL returns the absolute URL the subgraph SDL is fetched from.
func (s SubgraphServer) ComposeURL() string {
	return joinURL(s.Host, s.ComposeEndpoint)
}

// DriftKind tells which kind of schema drifted.
type DriftKind string

const (
	DriftOpenAPI DriftKind = "openapi"
	DriftGraphQL DriftKind = "graphql"
)

// TopologyChanged is emitted once by the drift watcher when an upstream schema changed.
type TopologyChanged struct {
	ServiceID string
	Kind      DriftKind
}

// SchemaSnapshot is the last successfully fetched OpenAPI document of a service,
// kept in canonical JSON form (maps, slices, float64, string, bool, nil) for drift comparison.
type SchemaSnapshot struct {
	ServiceID string
	Document  interface{}
	FetchedAt time.Time
}
