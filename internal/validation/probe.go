package validation

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/MrSnakeDoc/discovery/internal/logger"
	"github.com/MrSnakeDoc/discovery/internal/utils"
)

// Prober checks that a URL answers.
type Prober interface {
	Probe(ctx context.Context, url string) error
}

// HTTPProber issues a GET and accepts any 2xx answer. Successful URLs are
// remembered for a while so a service reconnecting in a loop is not probed
// on every attempt.
type HTTPProber struct {
	client  *http.Client
	timeout time.Duration
	ok      *cache.Cache
	logger  logger.Logger
}

// NewHTTPProber builds a prober. A cacheTTL <= 0 disables the success cache.
func NewHTTPProber(timeout, cacheTTL time.Duration, log logger.Logger) *HTTPProber {
	p := &HTTPProber{
		timeout: timeout,
		logger:  log,
		client: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
					return (&net.Dialer{
						Timeout:   timeout,
						KeepAlive: 0,
					}).DialContext(ctx, network, addr)
				},
				TLSHandshakeTimeout: timeout,
				DisableKeepAlives:   true,
			},
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				// A redirect answer counts as the service's own reply.
				return http.ErrUseLastResponse
			},
		},
	}
	if cacheTTL > 0 {
		p.ok = cache.New(cacheTTL, 2*cacheTTL)
	}
	return p
}

func (p *HTTPProber) Probe(ctx context.Context, url string) error {
	if p.ok != nil {
		if _, hit := p.ok.Get(url); hit {
			return nil
		}
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	start := time.Now()
	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("GET %s: %w", url, err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		utils.Close(resp.Body)
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("GET %s: unexpected status %d", url, resp.StatusCode)
	}

	p.logger.Debug("probe ok",
		logger.String("url", url),
		logger.Int("status", resp.StatusCode),
		logger.Duration("took", time.Since(start)))

	if p.ok != nil {
		p.ok.SetDefault(url, struct{}{})
	}
	return nil
}

// Forget drops url from the success cache.
func (p *HTTPProber) Forget(url string) {
	if p.ok != nil {
		p.ok.Delete(url)
	}
}
