package forwarder

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httputil"
	"strings"
)

const (
	RedirectFollow = "follow"
	RedirectManual = "manual"

	DefaultMaxRedirects = 10

	failureBody = "proxy request failed"
)

var ErrTooManyRedirects = errors.New("too many redirects")

type Options struct {
	Redirect     string
	MaxRedirects int
}

type Forwarder struct {
	transport    http.RoundTripper
	follow       bool
	maxRedirects int
	logger       *slog.Logger
}

// New returns a Forwarder sending requests through rt. rt dials the URL host
// and must use the request Host as TLS server name.
func New(rt http.RoundTripper, opts Options, logger *slog.Logger) *Forwarder {
	if opts.MaxRedirects <= 0 {
		opts.MaxRedirects = DefaultMaxRedirects
	}

	return &Forwarder{
		transport:    rt,
		follow:       opts.Redirect != RedirectManual,
		maxRedirects: opts.MaxRedirects,
		logger:       logger.With(slog.String("component", "forwarder")),
	}
}

// Forward proxies r to address as target and writes the upstream response to
// w. When the upstream cannot be reached it writes 502 Bad Gateway and
// returns the transport error.
func (f *Forwarder) Forward(w http.ResponseWriter, r *http.Request, address, target string) error {
	var proxyErr error

	proxy := &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.Out.URL.Scheme = "https"
			pr.Out.URL.Host = address
			pr.Out.Host = target
			pr.Out.RequestURI = ""
			restoreForwardedHeaders(pr)
		},
		Transport: f.roundTripper(address, target),
		ErrorLog:  slog.NewLogLogger(f.logger.Handler(), slog.LevelWarn),
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			proxyErr = err
			f.logger.Warn("Forwarding failed",
				slog.String("address", address),
				slog.String("target", target),
				slog.String("path", r.URL.Path),
				slog.Any("err", err))

			w.Header().Set("Content-Type", "text/plain; charset=utf-8")
			w.WriteHeader(http.StatusBadGateway)
			_, _ = io.WriteString(w, failureBody)
		},
	}

	proxy.ServeHTTP(w, r)

	if proxyErr != nil {
		return fmt.Errorf("forward to %s: %w", address, proxyErr)
	}
	return nil
}

// restoreForwardedHeaders undoes ReverseProxy's removal of X-Forwarded-*
// so the upstream sees the client's headers unchanged.
func restoreForwardedHeaders(pr *httputil.ProxyRequest) {
	for _, name := range []string{"X-Forwarded-For", "X-Forwarded-Host", "X-Forwarded-Proto", "Forwarded"} {
		if values, ok := pr.In.Header[name]; ok {
			pr.Out.Header[name] = values
		}
	}
}

func (f *Forwarder) roundTripper(address, target string) http.RoundTripper {
	if !f.follow {
		return f.transport
	}

	return &redirectFollower{
		client: &http.Client{
			Transport:     f.transport,
			CheckRedirect: f.checkRedirect(address, target),
		},
	}
}

// checkRedirect keeps redirects that point back at the target (or the
// chosen address itself) pinned to the chosen address.
func (f *Forwarder) checkRedirect(address, target string) func(*http.Request, []*http.Request) error {
	return func(req *http.Request, via []*http.Request) error {
		if len(via) >= f.maxRedirects {
			return fmt.Errorf("%w: stopped after %d", ErrTooManyRedirects, len(via))
		}

		if req.URL.Scheme == "https" && (req.URL.Host == address || sameHost(req.URL.Host, target)) {
			req.URL.Host = address
			req.Host = target
		}
		return nil
	}
}

func sameHost(hostport, host string) bool {
	if h, port, err := net.SplitHostPort(hostport); err == nil {
		return port == "443" && strings.EqualFold(h, host)
	}
	return strings.EqualFold(hostport, host)
}

type redirectFollower struct {
	client *http.Client
}

func (t *redirectFollower) RoundTrip(req *http.Request) (*http.Response, error) {
	return t.client.Do(req)
}
