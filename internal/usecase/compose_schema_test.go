package usecase_test

import (
	"context"
	"errors"
	"testing"

	"github.com/hashicorp/go-multierror"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/i2y/apicomposer/internal/domain"
	"github.com/i2y/apicomposer/internal/usecase"
)

func openapiService(id string) domain.ServiceDescriptor {
	return domain.ServiceDescriptor{
		ID:      id,
		Origin:  "http://" + id,
		OpenAPI: &domain.OpenAPIFacet{URL: "/openapi.json"},
	}
}

func parsedSchema(id string, paths ...string) domain.APISchema {
	p := map[string]interface{}{}
	for _, path := range paths {
		p[path] = map[string]interface{}{"get": map[string]interface{}{}}
	}
	return domain.APISchema{
		ServiceID:  id,
		Type:       domain.SchemaTypeOpenAPI,
		ParsedData: map[string]interface{}{"openapi": "3.0.3", "paths": p},
	}
}

func inputIDs(inputs []usecase.ServiceSchema) []string {
	ids := make([]string, 0, len(inputs))
	for _, in := range inputs {
		ids = append(ids, in.Service.ID)
	}
	return ids
}

func TestComposeSchemaUseCase_Execute(t *testing.T) {
	services := []domain.ServiceDescriptor{
		openapiService("api1"),
		openapiService("api2"),
		openapiService("api3"),
		{ID: "gql", Origin: "http://gql", GraphQL: &domain.GraphQLFacet{}},
	}
	supergraph := domain.Supergraph{SDL: "type Query {\n  books: [String]\n}\n"}
	composed := &domain.ComposedDocument{Routes: domain.RouteMapping{}}
	unreachable := errors.New("connection refused")

	tests := []struct {
		name         string
		mockSetup    func(*MockSchemaFetcher, *MockDocumentComposer)
		wantDoc      bool
		wantServices []string
		wantFailed   int
		wantCompErr  bool
	}{
		{
			name: "Success - all services composed",
			mockSetup: func(fetcher *MockSchemaFetcher, composer *MockDocumentComposer) {
				fetcher.On("Fetch", mock.Anything, "api1").Return(parsedSchema("api1", "/a"), nil).Once()
				fetcher.On("Fetch", mock.Anything, "api2").Return(parsedSchema("api2", "/b"), nil).Once()
				fetcher.On("Fetch", mock.Anything, "api3").Return(parsedSchema("api3", "/c"), nil).Once()
				composer.On("Compose", mock.MatchedBy(func(in []usecase.ServiceSchema) bool {
					return assert.ObjectsAreEqual([]string{"api1", "api2", "api3"}, inputIDs(in))
				})).Return(composed, nil).Once()
			},
			wantDoc:      true,
			wantServices: []string{"api1", "api2", "api3"},
		},
		{
			name: "Partial - one of three unreachable",
			mockSetup: func(fetcher *MockSchemaFetcher, composer *MockDocumentComposer) {
				fetcher.On("Fetch", mock.Anything, "api1").Return(parsedSchema("api1", "/a"), nil).Once()
				fetcher.On("Fetch", mock.Anything, "api2").Return(domain.APISchema{}, unreachable).Once()
				fetcher.On("Fetch", mock.Anything, "api3").Return(parsedSchema("api3", "/c"), nil).Once()
				composer.On("Compose", mock.MatchedBy(func(in []usecase.ServiceSchema) bool {
					return assert.ObjectsAreEqual([]string{"api1", "api3"}, inputIDs(in))
				})).Return(composed, nil).Once()
			},
			wantDoc:      true,
			wantServices: []string{"api1", "api3"},
			wantFailed:   1,
		},
		{
			name: "Failure - composition rejected",
			mockSetup: func(fetcher *MockSchemaFetcher, composer *MockDocumentComposer) {
				fetcher.On("Fetch", mock.Anything, mock.Anything).Return(parsedSchema("x", "/same"), nil).Times(3)
				composer.On("Compose", mock.Anything).Return(nil, usecase.ErrCompositionFailed).Once()
			},
			wantCompErr: true,
		},
		{
			name: "Partial - nothing reachable still composes an empty document",
			mockSetup: func(fetcher *MockSchemaFetcher, composer *MockDocumentComposer) {
				fetcher.On("Fetch", mock.Anything, mock.Anything).Return(domain.APISchema{}, unreachable).Times(3)
				composer.On("Compose", mock.MatchedBy(func(in []usecase.ServiceSchema) bool {
					return len(in) == 0
				})).Return(composed, nil).Once()
			},
			wantDoc:    true,
			wantFailed: 3,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fetcher := new(MockSchemaFetcher)
			composer := new(MockDocumentComposer)
			supergraphs := new(MockSupergraphComposer)
			repo := new(MockSnapshotRepository)
			tt.mockSetup(fetcher, composer)
			supergraphs.On("Compose", mock.Anything, services).Return(supergraph).Once()
			repo.On("SaveOpenAPI", mock.Anything, mock.Anything).Return(nil)
			repo.On("SaveSupergraph", mock.Anything, supergraph).Return(nil).Once()

			uc := usecase.NewComposeSchemaUseCase(services, fetcher, composer, supergraphs, repo, newTestLogger())
			result, err := uc.Execute(context.Background())
			require.NoError(t, err)

			assert.Equal(t, tt.wantDoc, result.Document != nil)
			assert.Equal(t, tt.wantServices, result.ComposedServices)
			assert.Equal(t, tt.wantFailed, result.FailedServices())
			if tt.wantFailed > 0 {
				var merr *multierror.Error
				require.ErrorAs(t, result.FetchErrors, &merr)
				assert.ErrorIs(t, result.FetchErrors, unreachable)
			} else {
				assert.NoError(t, result.FetchErrors)
			}
			if tt.wantCompErr {
				assert.ErrorIs(t, result.CompositionErr, usecase.ErrCompositionFailed)
			}
			assert.Equal(t, supergraph, result.Supergraph)

			repo.AssertNumberOfCalls(t, "SaveOpenAPI", 3-tt.wantFailed)
			fetcher.AssertExpectations(t)
			composer.AssertExpectations(t)
			supergraphs.AssertExpectations(t)
			repo.AssertExpectations(t)
		})
	}
}

func TestComposeSchemaUseCase_Execute_Canceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	fetcher := new(MockSchemaFetcher)
	fetcher.On("Fetch", mock.Anything, "api1").Return(domain.APISchema{}, context.Canceled)

	uc := usecase.NewComposeSchemaUseCase(
		[]domain.ServiceDescriptor{openapiService("api1")},
		fetcher, new(MockDocumentComposer), new(MockSupergraphComposer), new(MockSnapshotRepository), newTestLogger(),
	)
	_, err := uc.Execute(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestCanonicalDocument(t *testing.T) {
	doc, err := usecase.CanonicalDocument(domain.APISchema{
		ServiceID:  "api1",
		ParsedData: struct{ Version int }{Version: 3},
	})
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{"Version": 3.0}, doc)

	_, err = usecase.CanonicalDocument(domain.APISchema{ServiceID: "api1"})
	assert.Error(t, err)
}
