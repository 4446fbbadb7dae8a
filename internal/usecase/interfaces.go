package usecase

import (
	"context"
	"errors"
	"net/http"

	"go.opentelemetry.io/otel/trace"

	"github.com/i2y/apicomposer/internal/domain"
	"github.com/i2y/apicomposer/pkg/shared/graphqlhttp"
)

// Standard errors returned by use cases and adapters.
var (
	ErrSnapshotNotFound    = errors.New("schema snapshot not found")
	ErrNoFetchableServices = errors.New("no fetchable services")
	ErrCompositionFailed   = errors.New("openapi composition failed")
	ErrNoSubgraph          = errors.New("no subgraph resolves field")
	ErrMutationNotAllowed  = errors.New("mutations are only accepted over POST")
)

// --- Schema Source Related ---

// SchemaFetcher fetches the OpenAPI document of one service, from its URL or its file.
type SchemaFetcher interface {
	Fetch(ctx context.Context, service domain.ServiceDescriptor) (domain.APISchema, error)
}

// ServiceSchema pairs a descriptor with the document fetched for it.
type ServiceSchema struct {
	Service domain.ServiceDescriptor
	Schema  domain.APISchema
}

// DocumentComposer merges per-service OpenAPI documents into one document.
type DocumentComposer interface {
	Compose(inputs []ServiceSchema) (*domain.ComposedDocument, error)
}

// SupergraphComposer builds the supergraph out of the live GraphQL services.
// It never fails: when nothing composes it returns the placeholder supergraph.
type SupergraphComposer interface {
	Compose(ctx context.Context, services []domain.ServiceDescriptor) domain.Supergraph
}

// --- Snapshots ---

// SnapshotRepository stores the last successfully fetched schema per service.
// Implementations could range from in-memory stores to persistent databases.
type SnapshotRepository interface {
	// SaveOpenAPI replaces the snapshot of one service.
	SaveOpenAPI(ctx context.Context, snapshot domain.SchemaSnapshot) error
	// FindOpenAPI returns ErrSnapshotNotFound when the service was never fetched successfully.
	FindOpenAPI(ctx context.Context, serviceID string) (*domain.SchemaSnapshot, error)
	SaveSupergraph(ctx context.Context, supergraph domain.Supergraph) error
	FindSupergraph(ctx context.Context) (*domain.Supergraph, error)
}

// --- Request Forwarding Related ---

// SubgraphInvoker sends a GraphQL request to one subgraph.
type SubgraphInvoker interface {
	Invoke(ctx context.Context, endpoint string, req graphqlhttp.Request, header http.Header) (*graphqlhttp.Response, error)
}

// OriginProber checks whether an upstream origin answers HTTP at all.
type OriginProber interface {
	Probe(ctx context.Context, origin string) error
}

// SpanHooks is the telemetry boundary of the dispatcher. It only starts and ends
// client spans; storage and export belong to the tracing SDK.
type SpanHooks interface {
	// Extract returns ctx carrying the trace context found in inbound request headers.
	Extract(ctx context.Context, header http.Header) context.Context
	// StartClientSpan starts a child span of the span active in ctx, if any.
	// The returned headers carry the propagation fields (traceparent) for the outbound call.
	StartClientSpan(ctx context.Context, rawURL, method string) (context.Context, trace.Span, http.Header)
	// EndClientSpan records the upstream status (0 when no response arrived) and ends the span.
	EndClientSpan(span trace.Span, statusCode int, err error)
}

// --- GraphQL Execution Related ---

// SubgraphFetch is one subgraph request of a query plan.
type SubgraphFetch struct {
	Subgraph string
	Endpoint string
	Request  graphqlhttp.Request
	// ResponseKeys are the root response keys the fetch resolves.
	ResponseKeys []string
}

// QueryPlan splits an operation into subgraph requests and root fields the gateway answers itself.
type QueryPlan struct {
	// Sequential is set for mutations: fetches must run one after the other, in order.
	Sequential bool
	Fetches    []SubgraphFetch
	// Local holds the values of root fields resolved without any subgraph, by response key.
	Local map[string]interface{}
}

// QueryPlanner plans operations against the supergraph. Request errors are
// returned as a graphqlhttp.ErrorList.
type QueryPlanner interface {
	Plan(req graphqlhttp.Request) (*QueryPlan, error)
}

// --- Observability ---

// DriftRecorder counts drift checks. *metric.Metrics satisfies it.
type DriftRecorder interface {
	RecordDriftCheck(kind, result string)
}

// HealthRecorder tracks upstream reachability. *metric.Metrics satisfies it.
type HealthRecorder interface {
	RecordUpstreamHealth(service string, up bool)
}
