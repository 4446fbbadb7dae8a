package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"golang.org/x/sync/errgroup"

	"github.com/i2y/apicomposer/internal/domain"
)

// maxConcurrentFetches bounds the schema fetches running at boot.
const maxConcurrentFetches = 8

// CompositionResult is everything built at boot from the descriptor table.
type CompositionResult struct {
	// Document is nil when the OpenAPI composition failed as a whole.
	Document *domain.ComposedDocument
	// ComposedServices lists the ids of the OpenAPI services whose documents were merged.
	ComposedServices []string
	// FetchErrors aggregates the per-service fetch failures, nil when every fetch succeeded.
	FetchErrors error
	// CompositionErr is set when the merger rejected the document set (e.g. a duplicate path).
	CompositionErr error
	Supergraph     domain.Supergraph
}

// FailedServices returns how many OpenAPI services could not be fetched.
func (r *CompositionResult) FailedServices() int {
	if merr, ok := r.FetchErrors.(*multierror.Error); ok {
		return merr.Len()
	}
	if r.FetchErrors != nil {
		return 1
	}
	return 0
}

// ComposeSchemaUseCase fetches every upstream schema and builds the composed artifacts.
type ComposeSchemaUseCase struct {
	services    []domain.ServiceDescriptor
	fetcher     SchemaFetcher
	composer    DocumentComposer
	supergraphs SupergraphComposer
	snapshots   SnapshotRepository
	now         func() time.Time
	logger      *slog.Logger
}

// NewComposeSchemaUseCase creates a new ComposeSchemaUseCase.
func NewComposeSchemaUseCase(
	services []domain.ServiceDescriptor,
	fetcher SchemaFetcher,
	composer DocumentComposer,
	supergraphs SupergraphComposer,
	snapshots SnapshotRepository,
	logger *slog.Logger,
) *ComposeSchemaUseCase {
	return &ComposeSchemaUseCase{
		services:    services,
		fetcher:     fetcher,
		composer:    composer,
		supergraphs: supergraphs,
		snapshots:   snapshots,
		now:         time.Now,
		logger:      logger.With("usecase", "ComposeSchema"),
	}
}

// Execute fetches all OpenAPI documents concurrently, merges the reachable ones, composes
// the supergraph and records a snapshot of everything fetched. A service whose schema cannot
// be fetched is logged and left out; it never fails the whole composition.
// An error is only returned when ctx is done.
func (uc *ComposeSchemaUseCase) Execute(ctx context.Context) (*CompositionResult, error) {
	uc.logger.Info("Starting schema composition", slog.Int("services", len(uc.services)))

	var openapiServices []domain.ServiceDescriptor
	for _, s := range uc.services {
		if s.OpenAPI != nil {
			openapiServices = append(openapiServices, s)
		}
	}

	fetched := make([]*ServiceSchema, len(openapiServices))
	var (
		mu       sync.Mutex
		fetchErr *multierror.Error
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentFetches)
	for i, service := range openapiServices {
		g.Go(func() error {
			log := uc.logger.With(slog.String("service", service.ID))
			schema, err := uc.fetcher.Fetch(gctx, service)
			if err != nil {
				log.Warn("Failed to fetch schema, service skipped", slog.Any("error", err))
				mu.Lock()
				fetchErr = multierror.Append(fetchErr, fmt.Errorf("service %s: %w", service.ID, err))
				mu.Unlock()
				return nil
			}
			if err := uc.saveSnapshot(gctx, service.ID, schema); err != nil {
				log.Warn("Failed to save schema snapshot", slog.Any("error", err))
			}
			fetched[i] = &ServiceSchema{Service: service, Schema: schema}
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	result := &CompositionResult{FetchErrors: fetchErr.ErrorOrNil()}
	var inputs []ServiceSchema
	for _, in := range fetched {
		if in != nil {
			inputs = append(inputs, *in)
			result.ComposedServices = append(result.ComposedServices, in.Service.ID)
		}
	}

	if len(openapiServices) > 0 {
		doc, err := uc.composer.Compose(inputs)
		if err != nil {
			uc.logger.Error("OpenAPI composition failed, documentation skipped", slog.Any("error", err))
			result.CompositionErr = err
			result.ComposedServices = nil
		} else {
			result.Document = doc
			uc.logger.Info("OpenAPI composition completed",
				slog.Int("composed", len(inputs)),
				slog.Int("failed", result.FailedServices()),
			)
		}
	}

	result.Supergraph = uc.supergraphs.Compose(ctx, uc.services)
	if err := uc.snapshots.SaveSupergraph(ctx, result.Supergraph); err != nil {
		uc.logger.Warn("Failed to save supergraph snapshot", slog.Any("error", err))
	}
	uc.logger.Info("Schema composition finished", slog.Bool("placeholder_supergraph", result.Supergraph.IsPlaceholder()))
	return result, nil
}

func (uc *ComposeSchemaUseCase) saveSnapshot(ctx context.Context, serviceID string, schema domain.APISchema) error {
	doc, err := CanonicalDocument(schema)
	if err != nil {
		return err
	}
	return uc.snapshots.SaveOpenAPI(ctx, domain.SchemaSnapshot{ServiceID: serviceID, Document: doc, FetchedAt: uc.now()})
}

// CanonicalDocument returns the parsed document of schema as a plain JSON tree,
// the form snapshots are compared in.
func CanonicalDocument(schema domain.APISchema) (interface{}, error) {
	source := schema.ParsedData
	if source == nil {
		return nil, fmt.Errorf("schema of service %s is not parsed", schema.ServiceID)
	}
	data, err := json.Marshal(source)
	if err != nil {
		return nil, fmt.Errorf("failed to encode schema of service %s: %w", schema.ServiceID, err)
	}
	var doc interface{}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to decode schema of service %s: %w", schema.ServiceID, err)
	}
	return doc, nil
}
