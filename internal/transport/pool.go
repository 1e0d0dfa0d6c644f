package transport

import (
	"crypto/tls"
	"net"
	"net/http"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

type Options struct {
	Size                  int
	IdleConnTimeout       time.Duration
	ResponseHeaderTimeout time.Duration
	DialTimeout           time.Duration
	// TLSConfig is cloned for every transport; ServerName is always
	// overwritten with the request's target host.
	TLSConfig *tls.Config
}

type key struct {
	address    string
	serverName string
}

// Pool is an http.RoundTripper safe for concurrent use.
type Pool struct {
	mutex      sync.Mutex
	transports *lru.Cache[key, *http.Transport]
	opts       Options
}

func New(opts Options) (*Pool, error) {
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = 5 * time.Second
	}

	transports, err := lru.NewWithEvict(opts.Size, func(_ key, t *http.Transport) {
		t.CloseIdleConnections()
	})
	if err != nil {
		return nil, err
	}

	return &Pool{
		transports: transports,
		opts:       opts,
	}, nil
}

// RoundTrip dials req.URL.Host and uses the request Host (or, when unset,
// the URL host name) as TLS server name.
func (p *Pool) RoundTrip(req *http.Request) (*http.Response, error) {
	return p.transportFor(req.URL.Host, serverName(req)).RoundTrip(req)
}

func (p *Pool) Len() int {
	return p.transports.Len()
}

func (p *Pool) CloseIdleConnections() {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	for _, t := range p.transports.Values() {
		t.CloseIdleConnections()
	}
}

func (p *Pool) transportFor(address, name string) *http.Transport {
	k := key{address: address, serverName: name}

	p.mutex.Lock()
	defer p.mutex.Unlock()

	if t, ok := p.transports.Get(k); ok {
		return t
	}

	t := p.newTransport(name)
	p.transports.Add(k, t)
	return t
}

func (p *Pool) newTransport(name string) *http.Transport {
	var tlsConfig *tls.Config
	if p.opts.TLSConfig != nil {
		tlsConfig = p.opts.TLSConfig.Clone()
	} else {
		tlsConfig = &tls.Config{}
	}
	tlsConfig.ServerName = name
	if tlsConfig.MinVersion == 0 {
		tlsConfig.MinVersion = tls.VersionTLS12
	}

	dialer := &net.Dialer{
		Timeout:   p.opts.DialTimeout,
		KeepAlive: 30 * time.Second,
	}

	return &http.Transport{
		// Candidates are dialed directly; an environment proxy would
		// defeat the latency measurement.
		Proxy:                 nil,
		DialContext:           dialer.DialContext,
		TLSClientConfig:       tlsConfig,
		ForceAttemptHTTP2:     true,
		MaxIdleConnsPerHost:   16,
		IdleConnTimeout:       p.opts.IdleConnTimeout,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: p.opts.ResponseHeaderTimeout,
		ExpectContinueTimeout: 1 * time.Second,
	}
}

func serverName(req *http.Request) string {
	host := req.Host
	if host == "" {
		return req.URL.Hostname()
	}
	if h, _, err := net.SplitHostPort(host); err == nil {
		return h
	}
	return host
}
