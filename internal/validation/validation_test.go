package validation

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/MrSnakeDoc/discovery/internal/domain"
	"github.com/MrSnakeDoc/discovery/internal/logger"
)

func newService(t *testing.T, routes map[string]int) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		status, ok := routes[r.URL.Path]
		if !ok {
			status = http.StatusNotFound
		}
		w.WriteHeader(status)
	}))
	t.Cleanup(srv.Close)
	return srv, &hits
}

func TestResolve(t *testing.T) {
	tests := []struct {
		endpoint, route, want string
	}{
		{"http://a:1", "/health", "http://a:1/health"},
		{"http://a:1/", "health", "http://a:1/health"},
		{"http://a:1/", "/health", "http://a:1/health"},
		{"http://a:1/api", "/v1/docs", "http://a:1/api/v1/docs"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			require.Equal(t, tt.want, Resolve(tt.endpoint, tt.route))
		})
	}
}

func TestPipeline(t *testing.T) {
	srv, _ := newService(t, map[string]int{
		"/health": http.StatusOK,
		"/schema": http.StatusOK,
		"/docs":   http.StatusNoContent,
		"/broken": http.StatusInternalServerError,
	})

	tests := []struct {
		name      string
		d         domain.Descriptor
		wantStage string
	}{
		{
			name: "healthy with optional routes",
			d: domain.Descriptor{Type: "Foo", Endpoint: srv.URL, HealthCheckRoute: "/health",
				SchemaRoute: "/schema", DocsPath: "/docs"},
		},
		{
			name: "health only",
			d:    domain.Descriptor{Type: "Foo", Endpoint: srv.URL, HealthCheckRoute: "/health"},
		},
		{
			name:      "missing type",
			d:         domain.Descriptor{Endpoint: srv.URL, HealthCheckRoute: "/health"},
			wantStage: "shape",
		},
		{
			name:      "relative endpoint",
			d:         domain.Descriptor{Type: "Foo", Endpoint: "foo:80", HealthCheckRoute: "/health"},
			wantStage: "shape",
		},
		{
			name:      "missing health route",
			d:         domain.Descriptor{Type: "Foo", Endpoint: srv.URL},
			wantStage: "health",
		},
		{
			name:      "unhealthy",
			d:         domain.Descriptor{Type: "Foo", Endpoint: srv.URL, HealthCheckRoute: "/broken"},
			wantStage: "health",
		},
		{
			name:      "schema missing",
			d:         domain.Descriptor{Type: "Foo", Endpoint: srv.URL, HealthCheckRoute: "/health", SchemaRoute: "/nope"},
			wantStage: "schema",
		},
		{
			name:      "docs broken",
			d:         domain.Descriptor{Type: "Foo", Endpoint: srv.URL, HealthCheckRoute: "/health", DocsPath: "/broken"},
			wantStage: "docs",
		},
	}

	p := New(NewHTTPProber(time.Second, 0, logger.Nop()), logger.Nop())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := p.Validate(context.Background(), &tt.d)
			if tt.wantStage == "" {
				require.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, domain.ErrValidationFailed)
			require.True(t, strings.Contains(err.Error(), tt.wantStage+":"), err.Error())
			require.Equal(t, domain.CodeValidationFailed, domain.CodeOf(err))
		})
	}
}

func TestPipelineUnreachable(t *testing.T) {
	srv, _ := newService(t, nil)
	endpoint := srv.URL
	srv.Close()

	p := New(NewHTTPProber(200*time.Millisecond, 0, logger.Nop()), logger.Nop())
	err := p.Validate(context.Background(), &domain.Descriptor{
		Type: "Foo", Endpoint: endpoint, HealthCheckRoute: "/health",
	})
	require.ErrorIs(t, err, domain.ErrValidationFailed)
}

func TestPipelineStopsAtFirstFailure(t *testing.T) {
	var ran []string
	stage := func(name string, err error) Stage {
		return Stage{Name: name, Check: func(context.Context, *domain.Descriptor) error {
			ran = append(ran, name)
			return err
		}}
	}

	p := NewPipeline(logger.Nop(),
		stage("a", nil),
		stage("b", errors.New("boom")),
		stage("c", nil),
	)
	err := p.Validate(context.Background(), &domain.Descriptor{})
	require.ErrorIs(t, err, domain.ErrValidationFailed)
	require.Equal(t, []string{"a", "b"}, ran)
}

func TestPipelineNilDescriptor(t *testing.T) {
	p := NewPipeline(logger.Nop())
	require.ErrorIs(t, p.Validate(context.Background(), nil), domain.ErrValidationFailed)
}

func TestProberCachesSuccess(t *testing.T) {
	srv, hits := newService(t, map[string]int{"/health": http.StatusOK})
	p := NewHTTPProber(time.Second, time.Minute, logger.Nop())
	url := srv.URL + "/health"

	require.NoError(t, p.Probe(context.Background(), url))
	require.NoError(t, p.Probe(context.Background(), url))
	require.Equal(t, int32(1), hits.Load())

	p.Forget(url)
	require.NoError(t, p.Probe(context.Background(), url))
	require.Equal(t, int32(2), hits.Load())
}

func TestUncachedPipelineNoticesServiceGoingDown(t *testing.T) {
	var healthy atomic.Bool
	healthy.Store(true)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if healthy.Load() {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	p := New(NewHTTPProber(time.Second, 0, logger.Nop()), logger.Nop())
	d := &domain.Descriptor{Type: "Foo", Endpoint: srv.URL, HealthCheckRoute: "/health"}

	require.NoError(t, p.Validate(context.Background(), d))
	healthy.Store(false)
	err := p.Validate(context.Background(), d)
	require.ErrorIs(t, err, domain.ErrValidationFailed)
	require.Contains(t, err.Error(), "health")
}

func TestProberDoesNotCacheFailure(t *testing.T) {
	srv, hits := newService(t, map[string]int{"/health": http.StatusServiceUnavailable})
	p := NewHTTPProber(time.Second, time.Minute, logger.Nop())
	url := srv.URL + "/health"

	require.Error(t, p.Probe(context.Background(), url))
	require.Error(t, p.Probe(context.Background(), url))
	require.Equal(t, int32(2), hits.Load())
}

func TestProberRespectsTimeout(t *testing.T) {
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(2 * time.Second):
		case <-r.Context().Done():
		}
	}))
	defer slow.Close()

	p := NewHTTPProber(50*time.Millisecond, 0, logger.Nop())
	start := time.Now()
	require.Error(t, p.Probe(context.Background(), slow.URL))
	require.Less(t, time.Since(start), time.Second)
}
