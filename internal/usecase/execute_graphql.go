package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"golang.org/x/sync/errgroup"

	"github.com/i2y/apicomposer/pkg/shared/graphqlhttp"
)

// ExecuteGraphQLUseCase answers a GraphQL request by sending each root field to the
// subgraph owning it and merging the subgraph responses.
type ExecuteGraphQLUseCase struct {
	planner QueryPlanner
	invoker SubgraphInvoker
	logger  *slog.Logger
}

// NewExecuteGraphQLUseCase creates a new ExecuteGraphQLUseCase.
func NewExecuteGraphQLUseCase(planner QueryPlanner, invoker SubgraphInvoker, logger *slog.Logger) *ExecuteGraphQLUseCase {
	return &ExecuteGraphQLUseCase{
		planner: planner,
		invoker: invoker,
		logger:  logger.With("usecase", "ExecuteGraphQL"),
	}
}

type fetchResult struct {
	resp *graphqlhttp.Response
	err  error
}

// Execute plans and runs req. Request errors (parse, validation, unsupported features)
// are returned as a graphqlhttp.ErrorList before any subgraph is called. Subgraph
// failures never fail the call: they null the affected fields and add an error entry.
func (uc *ExecuteGraphQLUseCase) Execute(ctx context.Context, req graphqlhttp.Request, header http.Header) (*graphqlhttp.Response, error) {
	return uc.execute(ctx, req, header, false)
}

// ExecuteQuery is Execute for safe transports (GET): mutations are rejected with ErrMutationNotAllowed.
func (uc *ExecuteGraphQLUseCase) ExecuteQuery(ctx context.Context, req graphqlhttp.Request, header http.Header) (*graphqlhttp.Response, error) {
	return uc.execute(ctx, req, header, true)
}

func (uc *ExecuteGraphQLUseCase) execute(ctx context.Context, req graphqlhttp.Request, header http.Header, readOnly bool) (*graphqlhttp.Response, error) {
	plan, err := uc.planner.Plan(req)
	if err != nil {
		uc.logger.Debug("GraphQL request rejected", slog.Any("error", err))
		return nil, err
	}
	if readOnly && plan.Sequential {
		return nil, ErrMutationNotAllowed
	}

	results := make([]fetchResult, len(plan.Fetches))
	if plan.Sequential {
		for i, fetch := range plan.Fetches {
			resp, err := uc.invoker.Invoke(ctx, fetch.Endpoint, fetch.Request, header)
			results[i] = fetchResult{resp: resp, err: err}
		}
	} else {
		g, gctx := errgroup.WithContext(ctx)
		for i, fetch := range plan.Fetches {
			g.Go(func() error {
				resp, err := uc.invoker.Invoke(gctx, fetch.Endpoint, fetch.Request, header)
				results[i] = fetchResult{resp: resp, err: err}
				return nil
			})
		}
		_ = g.Wait()
	}

	out := &graphqlhttp.Response{Data: make(map[string]interface{}, len(plan.Local))}
	for key, value := range plan.Local {
		out.Data[key] = value
	}
	for i, fetch := range plan.Fetches {
		res := results[i]
		if res.err != nil {
			uc.logger.Warn("Subgraph request failed",
				slog.String("subgraph", fetch.Subgraph),
				slog.String("endpoint", fetch.Endpoint),
				slog.Any("error", res.err),
			)
			for _, key := range fetch.ResponseKeys {
				out.Data[key] = nil
				entry := graphqlhttp.NewError(graphqlhttp.CodeSubgraphFailed,
					fmt.Sprintf("subgraph %s: request failed: %v", fetch.Subgraph, res.err))
				entry.Path = []interface{}{key}
				out.Errors = append(out.Errors, entry)
			}
			continue
		}
		if res.resp == nil {
			res.resp = &graphqlhttp.Response{}
		}
		for _, key := range fetch.ResponseKeys {
			out.Data[key] = res.resp.Data[key]
		}
		out.Errors = append(out.Errors, res.resp.Errors...)
	}
	return out, nil
}
