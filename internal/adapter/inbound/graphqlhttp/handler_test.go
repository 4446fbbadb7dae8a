package graphqlhttp_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/i2y/apicomposer/internal/adapter/inbound/graphqlhttp"
	"github.com/i2y/apicomposer/internal/adapter/outbound/graphql"
	"github.com/i2y/apicomposer/internal/adapter/outbound/httpinvoker"
	"github.com/i2y/apicomposer/internal/domain"
	"github.com/i2y/apicomposer/internal/metric"
	"github.com/i2y/apicomposer/internal/usecase"
	wire "github.com/i2y/apicomposer/pkg/shared/graphqlhttp"
)

const booksSDL = `
type Query {
  books: [String]
}

type Mutation {
  addBook(title: String!): String
}
`

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newGateway(t *testing.T, supergraph domain.Supergraph) (*httptest.Server, *metric.Metrics) {
	t.Helper()
	planner, err := graphql.NewPlanner(supergraph)
	require.NoError(t, err)
	invoker := httpinvoker.New(http.DefaultClient, nil, newTestLogger())
	metrics := metric.NewMetrics()
	h := graphqlhttp.NewHandler(usecase.NewExecuteGraphQLUseCase(planner, invoker, newTestLogger()), nil, metrics, newTestLogger())

	r := mux.NewRouter()
	h.AddTo(r, graphqlhttp.DefaultPath)
	server := httptest.NewServer(r)
	t.Cleanup(server.Close)
	return server, metrics
}

func decode(t *testing.T, resp *http.Response) wire.Response {
	t.Helper()
	defer resp.Body.Close()
	var out wire.Response
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func TestHandler_Placeholder(t *testing.T) {
	gw, metrics := newGateway(t, domain.PlaceholderSupergraph())

	tests := []struct {
		name       string
		send       func() (*http.Response, error)
		wantStatus int
		wantData   map[string]interface{}
		wantCode   string
	}{
		{
			name: "POST placeholder field",
			send: func() (*http.Response, error) {
				return http.Post(gw.URL+"/graphql", "application/json", strings.NewReader(`{"query":"{ _info }"}`))
			},
			wantStatus: http.StatusOK,
			wantData:   map[string]interface{}{"_info": domain.PlaceholderInfo},
		},
		{
			name: "GET typename",
			send: func() (*http.Response, error) {
				return http.Get(gw.URL + "/graphql?query=" + url.QueryEscape("{ kind: __typename }"))
			},
			wantStatus: http.StatusOK,
			wantData:   map[string]interface{}{"kind": "Query"},
		},
		{
			name: "Unknown field",
			send: func() (*http.Response, error) {
				return http.Post(gw.URL+"/graphql", "application/json", strings.NewReader(`{"query":"{ books }"}`))
			},
			wantStatus: http.StatusBadRequest,
			wantCode:   wire.CodeValidationFailed,
		},
		{
			name: "Invalid JSON",
			send: func() (*http.Response, error) {
				return http.Post(gw.URL+"/graphql", "application/json", strings.NewReader(`{"query":`))
			},
			wantStatus: http.StatusBadRequest,
			wantCode:   wire.CodeBadRequest,
		},
		{
			name: "Wrong content type",
			send: func() (*http.Response, error) {
				return http.Post(gw.URL+"/graphql", "text/plain", strings.NewReader(`{ _info }`))
			},
			wantStatus: http.StatusUnsupportedMediaType,
			wantCode:   wire.CodeBadRequest,
		},
		{
			name: "Invalid variables",
			send: func() (*http.Response, error) {
				return http.Get(gw.URL + "/graphql?query=%7B_info%7D&variables=nope")
			},
			wantStatus: http.StatusBadRequest,
			wantCode:   wire.CodeBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := tt.send()
			require.NoError(t, err)
			assert.Equal(t, tt.wantStatus, resp.StatusCode)
			assert.Equal(t, "application/json; charset=utf-8", resp.Header.Get("Content-Type"))
			body := decode(t, resp)
			if tt.wantCode != "" {
				require.NotEmpty(t, body.Errors)
				assert.Equal(t, tt.wantCode, body.Errors[0].Extensions["code"])
				return
			}
			assert.Empty(t, body.Errors)
			assert.Equal(t, tt.wantData, body.Data)
		})
	}

	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.GraphQLRequests.WithLabelValues("ok")))
	assert.Equal(t, 4.0, testutil.ToFloat64(metrics.GraphQLRequests.WithLabelValues("rejected")))
}

func TestHandler_Subgraph(t *testing.T) {
	var received wire.Request
	subgraph := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		w.Header().Set("Content-Type", "application/json")
		if strings.Contains(received.Query, "addBook") {
			_, _ = w.Write([]byte(`{"data":{"addBook":"ok"}}`))
			return
		}
		_, _ = w.Write([]byte(`{"data":{"books":["Dune"]}}`))
	}))
	defer subgraph.Close()

	supergraph, err := graphql.Merge([]graphql.Subgraph{{
		Config: domain.SubgraphConfig{
			Name:   "books",
			Server: domain.SubgraphServer{Host: subgraph.URL, GraphQLEndpoint: "/graphql"},
		},
		SDL: booksSDL,
	}})
	require.NoError(t, err)
	gw, _ := newGateway(t, supergraph)

	t.Run("Query routed to the subgraph", func(t *testing.T) {
		resp, err := http.Post(gw.URL+"/graphql", "application/json",
			strings.NewReader(`{"query":"query Shelf { books __typename }","operationName":"Shelf"}`))
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		body := decode(t, resp)
		assert.Equal(t, map[string]interface{}{"books": []interface{}{"Dune"}, "__typename": "Query"}, body.Data)
		assert.Equal(t, "Shelf", received.OperationName)
		assert.NotContains(t, received.Query, "__typename")
	})

	t.Run("Mutation over POST", func(t *testing.T) {
		resp, err := http.Post(gw.URL+"/graphql", "application/json",
			strings.NewReader(`{"query":"mutation($t: String!) { addBook(title: $t) }","variables":{"t":"Emma"}}`))
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, map[string]interface{}{"addBook": "ok"}, decode(t, resp).Data)
		assert.Equal(t, map[string]interface{}{"t": "Emma"}, received.Variables)
	})

	t.Run("Mutation over GET", func(t *testing.T) {
		resp, err := http.Get(gw.URL + "/graphql?query=" + url.QueryEscape(`mutation { addBook(title: "x") }`))
		require.NoError(t, err)
		assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
		assert.Equal(t, http.MethodPost, resp.Header.Get("Allow"))
		resp.Body.Close()
	})
}

type failingExecutor struct{ err error }

func (f failingExecutor) Execute(context.Context, wire.Request, http.Header) (*wire.Response, error) {
	return nil, f.err
}

func (f failingExecutor) ExecuteQuery(context.Context, wire.Request, http.Header) (*wire.Response, error) {
	return nil, f.err
}

func TestHandler_UnexpectedError(t *testing.T) {
	h := graphqlhttp.NewHandler(failingExecutor{err: context.Canceled}, nil, nil, newTestLogger())
	r := mux.NewRouter()
	h.AddTo(r, "/gql")

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/gql?query=%7B_info%7D", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), wire.CodeSubgraphFailed)
}
