package usecase

import (
	"context"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/i2y/apicomposer/internal/domain"
)

// HealthReport is the result of one probe round.
type HealthReport struct {
	Healthy bool `json:"healthy"`
	// Services maps a service id to "up" or to the probe error.
	Services map[string]string `json:"services"`
}

// HealthUseCase checks that every upstream origin answers HTTP.
type HealthUseCase struct {
	services []domain.ServiceDescriptor
	prober   OriginProber
	recorder HealthRecorder
	logger   *slog.Logger
}

// NewHealthUseCase creates a new HealthUseCase. recorder may be nil.
func NewHealthUseCase(services []domain.ServiceDescriptor, prober OriginProber, recorder HealthRecorder, logger *slog.Logger) *HealthUseCase {
	return &HealthUseCase{
		services: services,
		prober:   prober,
		recorder: recorder,
		logger:   logger.With("usecase", "Health"),
	}
}

// Execute probes all origins concurrently. Services without an origin are skipped.
func (uc *HealthUseCase) Execute(ctx context.Context) HealthReport {
	report := HealthReport{Healthy: true, Services: make(map[string]string)}
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentFetches)
	for _, service := range uc.services {
		origin := probeOrigin(service)
		if origin == "" {
			continue
		}
		g.Go(func() error {
			err := uc.prober.Probe(gctx, origin)
			if uc.recorder != nil {
				uc.recorder.RecordUpstreamHealth(service.ID, err == nil)
			}
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				uc.logger.Warn("Upstream unreachable",
					slog.String("service", service.ID),
					slog.String("origin", origin),
					slog.Any("error", err),
				)
				report.Healthy = false
				report.Services[service.ID] = err.Error()
				return nil
			}
			report.Services[service.ID] = "up"
			return nil
		})
	}
	_ = g.Wait()
	return report
}

func probeOrigin(service domain.ServiceDescriptor) string {
	if service.Origin != "" {
		return service.Origin
	}
	if service.GraphQL != nil {
		return service.GraphQL.Host
	}
	return ""
}
