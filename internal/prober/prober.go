package prober

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/angeloszaimis/edge-latency-proxy/internal/candidate"
)

const (
	DefaultPath        = "/cdn-cgi/trace"
	DefaultTimeout     = 8 * time.Second
	DefaultConcurrency = 32

	// Only the headers are timed; a little of the body is read so the
	// connection can go back to the pool.
	maxDrain = 4 << 10
)

type Options struct {
	Path        string
	Timeout     time.Duration
	Concurrency int
}

type Prober struct {
	client      *http.Client
	path        string
	timeout     time.Duration
	concurrency int
	logger      *slog.Logger
}

// New builds a Prober sending requests through rt, which must dial the URL
// host while presenting the request Host as TLS server name.
func New(rt http.RoundTripper, opts Options, logger *slog.Logger) *Prober {
	if opts.Path == "" {
		opts.Path = DefaultPath
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Concurrency < 1 {
		opts.Concurrency = DefaultConcurrency
	}

	return &Prober{
		client: &http.Client{
			Transport: rt,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		path:        opts.Path,
		timeout:     opts.Timeout,
		concurrency: opts.Concurrency,
		logger:      logger.With(slog.String("component", "prober")),
	}
}

// Probe measures every candidate in pool against target and returns once all
// of them settled. results[i] always belongs to pool.Addresses()[i].
func (p *Prober) Probe(ctx context.Context, pool candidate.Pool, target string) []Result {
	addresses := pool.Addresses()
	results := make([]Result, len(addresses))

	// A round is worth finishing even if the triggering request goes away,
	// the winner is cached for the next one.
	roundCtx := context.WithoutCancel(ctx)

	var g errgroup.Group
	g.SetLimit(p.concurrency)

	for i, address := range addresses {
		g.Go(func() error {
			results[i] = p.probeOne(roundCtx, address, target)
			return nil
		})
	}

	_ = g.Wait()

	return results
}

func (p *Prober) probeOne(ctx context.Context, address, target string) Result {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "https://"+address+p.path, nil)
	if err != nil {
		return failed(address, fmt.Errorf("build probe request: %w", err))
	}
	req.Host = target

	start := time.Now()
	res, err := p.client.Do(req)
	if err != nil {
		p.logger.Debug("Probe failed",
			slog.String("address", address),
			slog.String("target", target),
			slog.Any("err", err))
		return failed(address, err)
	}
	latency := time.Since(start)

	_, _ = io.Copy(io.Discard, io.LimitReader(res.Body, maxDrain))
	res.Body.Close()

	p.logger.Debug("Probe succeeded",
		slog.String("address", address),
		slog.String("target", target),
		slog.Int("status", res.StatusCode),
		slog.Duration("latency", latency))

	return Result{Address: address, Latency: latency}
}
