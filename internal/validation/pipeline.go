// Package validation decides whether an announced descriptor may enter the registry.
package validation

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/MrSnakeDoc/discovery/internal/domain"
	"github.com/MrSnakeDoc/discovery/internal/logger"
)

// Stage is one named check. Stages run in order and the first failure wins.
type Stage struct {
	Name  string
	Check func(ctx context.Context, d *domain.Descriptor) error
}

type Pipeline struct {
	stages []Stage
	logger logger.Logger
}

// New returns the standard pipeline: shape, health, schema, docs.
func New(prober Prober, log logger.Logger) *Pipeline {
	return NewPipeline(log,
		Stage{Name: "shape", Check: checkShape},
		Stage{Name: "health", Check: checkHealth(prober)},
		Stage{Name: "schema", Check: checkOptional(prober, func(d *domain.Descriptor) string { return d.SchemaRoute })},
		Stage{Name: "docs", Check: checkOptional(prober, func(d *domain.Descriptor) string { return d.DocsPath })},
	)
}

func NewPipeline(log logger.Logger, stages ...Stage) *Pipeline {
	return &Pipeline{stages: stages, logger: log}
}

// Validate runs every stage against d. The returned error wraps
// domain.ErrValidationFailed and names the failing stage.
func (p *Pipeline) Validate(ctx context.Context, d *domain.Descriptor) error {
	if d == nil {
		return fmt.Errorf("%w: missing descriptor", domain.ErrValidationFailed)
	}

	start := time.Now()
	for _, s := range p.stages {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := s.Check(ctx, d); err != nil {
			p.logger.Info("descriptor rejected",
				logger.String("stage", s.Name),
				logger.String("type", d.Type),
				logger.String("endpoint", d.Endpoint),
				logger.Error(err))
			return fmt.Errorf("%w: %s: %v", domain.ErrValidationFailed, s.Name, err)
		}
	}

	p.logger.Debug("descriptor validated",
		logger.String("type", d.Type),
		logger.String("endpoint", d.Endpoint),
		logger.Duration("took", time.Since(start)))
	return nil
}

var (
	errMissingType   = errors.New("type is required")
	errBadEndpoint   = errors.New("endpoint must be an absolute http(s) url")
	errMissingHealth = errors.New("healthCheckRoute is required")
)

func checkShape(_ context.Context, d *domain.Descriptor) error {
	if strings.TrimSpace(d.Type) == "" {
		return errMissingType
	}
	u, err := url.Parse(d.Endpoint)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return errBadEndpoint
	}
	return nil
}

func checkHealth(prober Prober) func(context.Context, *domain.Descriptor) error {
	return func(ctx context.Context, d *domain.Descriptor) error {
		if strings.TrimSpace(d.HealthCheckRoute) == "" {
			return errMissingHealth
		}
		return prober.Probe(ctx, Resolve(d.Endpoint, d.HealthCheckRoute))
	}
}

func checkOptional(prober Prober, route func(*domain.Descriptor) string) func(context.Context, *domain.Descriptor) error {
	return func(ctx context.Context, d *domain.Descriptor) error {
		r := strings.TrimSpace(route(d))
		if r == "" {
			return nil
		}
		return prober.Probe(ctx, Resolve(d.Endpoint, r))
	}
}

// Resolve joins a route onto an endpoint with exactly one slash between them.
func Resolve(endpoint, route string) string {
	return strings.TrimRight(endpoint, "/") + "/" + strings.TrimLeft(route, "/")
}
