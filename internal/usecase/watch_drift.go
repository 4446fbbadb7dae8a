package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/i2y/apicomposer/internal/domain"
)

// Drift check outcomes, as reported to the DriftRecorder.
const (
	driftUnchanged = "unchanged"
	driftChanged   = "changed"
	driftError     = "error"
)

// DriftWatcher polls the upstream schemas and emits a single TopologyChanged event
// the first time one of them differs from the snapshot taken at boot.
type DriftWatcher struct {
	services    []domain.ServiceDescriptor
	interval    time.Duration
	fetcher     SchemaFetcher
	supergraphs SupergraphComposer
	snapshots   SnapshotRepository
	recorder    DriftRecorder
	logger      *slog.Logger

	changes chan domain.TopologyChanged
	checkMu sync.Mutex

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	emitted bool
}

// NewDriftWatcher creates a watcher. recorder may be nil.
func NewDriftWatcher(
	services []domain.ServiceDescriptor,
	interval time.Duration,
	fetcher SchemaFetcher,
	supergraphs SupergraphComposer,
	snapshots SnapshotRepository,
	recorder DriftRecorder,
	logger *slog.Logger,
) *DriftWatcher {
	return &DriftWatcher{
		services:    services,
		interval:    interval,
		fetcher:     fetcher,
		supergraphs: supergraphs,
		snapshots:   snapshots,
		recorder:    recorder,
		logger:      logger.With("usecase", "WatchDrift"),
		changes:     make(chan domain.TopologyChanged, 1),
	}
}

// Enabled reports whether polling makes sense: a positive interval and at least one fetchable service.
func (w *DriftWatcher) Enabled() bool {
	if w.interval <= 0 {
		return false
	}
	for _, s := range w.services {
		if s.IsFetchable() {
			return true
		}
	}
	return false
}

// Changes delivers at most one event for the lifetime of the watcher.
func (w *DriftWatcher) Changes() <-chan domain.TopologyChanged {
	return w.changes
}

// Start launches the polling goroutine. It returns false, and starts nothing, when the
// watcher is disabled or already running.
func (w *DriftWatcher) Start(ctx context.Context) bool {
	if !w.Enabled() {
		w.logger.Info("Drift watcher disabled", slog.Duration("interval", w.interval))
		return false
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.cancel != nil || w.emitted {
		return false
	}
	ctx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.done = make(chan struct{})
	go w.run(ctx, w.done)
	w.logger.Info("Drift watcher started", slog.Duration("interval", w.interval))
	return true
}

// Stop cancels the polling goroutine and waits for it to exit. It is safe to call more than once.
func (w *DriftWatcher) Stop() {
	w.mu.Lock()
	cancel, done := w.cancel, w.done
	w.cancel, w.done = nil, nil
	w.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (w *DriftWatcher) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			changed, err := w.check(ctx)
			if err != nil {
				w.logger.Warn("Drift check aborted", slog.Any("error", err))
			}
			if changed {
				return
			}
		}
	}
}

// CheckNow runs one drift check immediately and reports whether a change was detected.
// A detected change is emitted on Changes and stops the polling goroutine.
func (w *DriftWatcher) CheckNow(ctx context.Context) (bool, error) {
	changed, err := w.check(ctx)
	if changed {
		w.mu.Lock()
		cancel := w.cancel
		w.mu.Unlock()
		if cancel != nil {
			cancel()
		}
	}
	return changed, err
}

func (w *DriftWatcher) check(ctx context.Context) (bool, error) {
	w.checkMu.Lock()
	defer w.checkMu.Unlock()

	if w.hasEmitted() {
		return true, nil
	}

	for _, service := range w.services {
		if !service.HasOpenAPIURL() {
			continue
		}
		if err := ctx.Err(); err != nil {
			return false, err
		}
		if w.openAPIChanged(ctx, service) {
			w.emit(domain.TopologyChanged{ServiceID: service.ID, Kind: domain.DriftOpenAPI})
			return true, nil
		}
	}

	if !w.hasGraphQL() {
		return false, nil
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}
	changed, err := w.supergraphChanged(ctx)
	if err != nil {
		w.record(domain.DriftGraphQL, driftError)
		return false, err
	}
	if changed {
		w.emit(domain.TopologyChanged{Kind: domain.DriftGraphQL})
		return true, nil
	}
	return false, nil
}

func (w *DriftWatcher) openAPIChanged(ctx context.Context, service domain.ServiceDescriptor) bool {
	log := w.logger.With(slog.String("service", service.ID))
	schema, err := w.fetcher.Fetch(ctx, service)
	if err != nil {
		log.Warn("Failed to fetch schema during drift check", slog.Any("error", err))
		w.record(domain.DriftOpenAPI, driftError)
		return false
	}
	current, err := CanonicalDocument(schema)
	if err != nil {
		log.Warn("Failed to canonicalize schema during drift check", slog.Any("error", err))
		w.record(domain.DriftOpenAPI, driftError)
		return false
	}

	snapshot, err := w.snapshots.FindOpenAPI(ctx, service.ID)
	switch {
	case errors.Is(err, ErrSnapshotNotFound):
		log.Info("Service reachable for the first time, topology changed")
		w.record(domain.DriftOpenAPI, driftChanged)
		return true
	case err != nil:
		log.Warn("Failed to load snapshot during drift check", slog.Any("error", err))
		w.record(domain.DriftOpenAPI, driftError)
		return false
	}

	if !cmp.Equal(snapshot.Document, current) {
		log.Info("OpenAPI schema changed", slog.String("diff", cmp.Diff(snapshot.Document, current)))
		w.record(domain.DriftOpenAPI, driftChanged)
		return true
	}
	w.record(domain.DriftOpenAPI, driftUnchanged)
	return false
}

// supergraphChanged recomposes the supergraph. A recomposition missing any live subgraph is
// treated like a fetch failure, since it reflects an outage rather than a schema change.
func (w *DriftWatcher) supergraphChanged(ctx context.Context) (bool, error) {
	current := w.supergraphs.Compose(ctx, w.services)
	live := 0
	for _, s := range w.services {
		if s.HasLiveGraphQL() {
			live++
		}
	}
	if len(current.Subgraphs) < live {
		w.logger.Warn("Supergraph recomposition incomplete, skipping comparison",
			slog.Int("composed", len(current.Subgraphs)),
			slog.Int("configured", live),
		)
		w.record(domain.DriftGraphQL, driftError)
		return false, nil
	}

	previous, err := w.snapshots.FindSupergraph(ctx)
	if errors.Is(err, ErrSnapshotNotFound) {
		if err := w.snapshots.SaveSupergraph(ctx, current); err != nil {
			return false, fmt.Errorf("failed to save supergraph snapshot: %w", err)
		}
		w.record(domain.DriftGraphQL, driftUnchanged)
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to load supergraph snapshot: %w", err)
	}
	if !previous.Equal(current) {
		w.logger.Info("GraphQL supergraph changed")
		w.record(domain.DriftGraphQL, driftChanged)
		return true, nil
	}
	w.record(domain.DriftGraphQL, driftUnchanged)
	return false, nil
}

func (w *DriftWatcher) hasGraphQL() bool {
	for _, s := range w.services {
		if s.GraphQL != nil {
			return true
		}
	}
	return false
}

func (w *DriftWatcher) hasEmitted() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.emitted
}

func (w *DriftWatcher) emit(evt domain.TopologyChanged) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.emitted {
		return
	}
	w.emitted = true
	w.changes <- evt
	w.logger.Info("Topology changed",
		slog.String("service", evt.ServiceID),
		slog.String("kind", string(evt.Kind)),
	)
}

func (w *DriftWatcher) record(kind domain.DriftKind, result string) {
	if w.recorder != nil {
		w.recorder.RecordDriftCheck(string(kind), result)
	}
}
