package memrepo

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/i2y/apicomposer/internal/domain"
	"github.com/i2y/apicomposer/internal/usecase"
)

// InMemorySnapshotRepository provides an in-memory implementation of the SnapshotRepository.
// NOTE: Snapshots are not persistent; they are rebuilt from the upstreams on every start.
type InMemorySnapshotRepository struct {
	mu         sync.RWMutex
	openapi    map[string]domain.SchemaSnapshot // Map service id to its last OpenAPI snapshot
	supergraph *domain.Supergraph
	logger     *slog.Logger
}

// NewInMemorySnapshotRepository creates a new in-memory repository.
func NewInMemorySnapshotRepository(logger *slog.Logger) *InMemorySnapshotRepository {
	return &InMemorySnapshotRepository{
		openapi: make(map[string]domain.SchemaSnapshot),
		logger:  logger.With("component", "mem_repo"),
	}
}

// SaveOpenAPI replaces the snapshot of one service.
func (r *InMemorySnapshotRepository) SaveOpenAPI(ctx context.Context, snapshot domain.SchemaSnapshot) error {
	if snapshot.ServiceID == "" {
		r.logger.Error("Refusing to save snapshot without service id")
		return fmt.Errorf("save failed: snapshot has no service id")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.openapi[snapshot.ServiceID] = snapshot
	r.logger.Debug("Saved OpenAPI snapshot", slog.String("service", snapshot.ServiceID), slog.Int("total_snapshots", len(r.openapi)))
	return nil
}

// FindOpenAPI retrieves the last OpenAPI snapshot of a service.
func (r *InMemorySnapshotRepository) FindOpenAPI(ctx context.Context, serviceID string) (*domain.SchemaSnapshot, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	snapshot, ok := r.openapi[serviceID]
	if !ok {
		r.logger.Debug("OpenAPI snapshot not found", slog.String("service", serviceID))
		return nil, usecase.ErrSnapshotNotFound
	}
	return &snapshot, nil
}

// SaveSupergraph replaces the supergraph snapshot.
func (r *InMemorySnapshotRepository) SaveSupergraph(ctx context.Context, supergraph domain.Supergraph) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.supergraph = &supergraph
	r.logger.Debug("Saved supergraph snapshot", slog.Bool("placeholder", supergraph.IsPlaceholder()))
	return nil
}

// FindSupergraph retrieves the supergraph snapshot.
func (r *InMemorySnapshotRepository) FindSupergraph(ctx context.Context) (*domain.Supergraph, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.supergraph == nil {
		return nil, usecase.ErrSnapshotNotFound
	}
	supergraph := *r.supergraph
	return &supergraph, nil
}
