package usecase_test

import (
	"context"
	"io"
	"log/slog"
	"net/http"

	"github.com/stretchr/testify/mock"

	"github.com/i2y/apicomposer/internal/domain"
	"github.com/i2y/apicomposer/internal/usecase"
	"github.com/i2y/apicomposer/pkg/shared/graphqlhttp"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

// MockSchemaFetcher is a mock implementation of the SchemaFetcher interface.
type MockSchemaFetcher struct {
	mock.Mock
}

func (m *MockSchemaFetcher) Fetch(ctx context.Context, service domain.ServiceDescriptor) (domain.APISchema, error) {
	args := m.Called(ctx, service.ID)
	return args.Get(0).(domain.APISchema), args.Error(1)
}

// MockDocumentComposer is a mock implementation of the DocumentComposer interface.
type MockDocumentComposer struct {
	mock.Mock
}

func (m *MockDocumentComposer) Compose(inputs []usecase.ServiceSchema) (*domain.ComposedDocument, error) {
	args := m.Called(inputs)
	doc, _ := args.Get(0).(*domain.ComposedDocument)
	return doc, args.Error(1)
}

// MockSupergraphComposer is a mock implementation of the SupergraphComposer interface.
type MockSupergraphComposer struct {
	mock.Mock
}

func (m *MockSupergraphComposer) Compose(ctx context.Context, services []domain.ServiceDescriptor) domain.Supergraph {
	args := m.Called(ctx, services)
	return args.Get(0).(domain.Supergraph)
}

// MockSnapshotRepository is a mock implementation of the SnapshotRepository interface.
type MockSnapshotRepository struct {
	mock.Mock
}

func (m *MockSnapshotRepository) SaveOpenAPI(ctx context.Context, snapshot domain.SchemaSnapshot) error {
	args := m.Called(ctx, snapshot)
	return args.Error(0)
}

func (m *MockSnapshotRepository) FindOpenAPI(ctx context.Context, serviceID string) (*domain.SchemaSnapshot, error) {
	args := m.Called(ctx, serviceID)
	snap, _ := args.Get(0).(*domain.SchemaSnapshot)
	return snap, args.Error(1)
}

func (m *MockSnapshotRepository) SaveSupergraph(ctx context.Context, supergraph domain.Supergraph) error {
	args := m.Called(ctx, supergraph)
	return args.Error(0)
}

func (m *MockSnapshotRepository) FindSupergraph(ctx context.Context) (*domain.Supergraph, error) {
	args := m.Called(ctx)
	sg, _ := args.Get(0).(*domain.Supergraph)
	return sg, args.Error(1)
}

// MockSubgraphInvoker is a mock implementation of the SubgraphInvoker interface.
type MockSubgraphInvoker struct {
	mock.Mock
}

func (m *MockSubgraphInvoker) Invoke(ctx context.Context, endpoint string, req graphqlhttp.Request, header http.Header) (*graphqlhttp.Response, error) {
	args := m.Called(ctx, endpoint, req, header)
	resp, _ := args.Get(0).(*graphqlhttp.Response)
	return resp, args.Error(1)
}

// MockQueryPlanner is a mock implementation of the QueryPlanner interface.
type MockQueryPlanner struct {
	mock.Mock
}

func (m *MockQueryPlanner) Plan(req graphqlhttp.Request) (*usecase.QueryPlan, error) {
	args := m.Called(req)
	plan, _ := args.Get(0).(*usecase.QueryPlan)
	return plan, args.Error(1)
}

// MockOriginProber is a mock implementation of the OriginProber interface.
type MockOriginProber struct {
	mock.Mock
}

func (m *MockOriginProber) Probe(ctx context.Context, origin string) error {
	args := m.Called(ctx, origin)
	return args.Error(0)
}

// MockRecorder implements DriftRecorder and HealthRecorder.
type MockRecorder struct {
	mock.Mock
}

func (m *MockRecorder) RecordDriftCheck(kind, result string) {
	m.Called(kind, result)
}

func (m *MockRecorder) RecordUpstreamHealth(service string, up bool) {
	m.Called(service, up)
}
