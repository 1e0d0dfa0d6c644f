package handler_test

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/angeloszaimis/edge-latency-proxy/internal/handler"
	"github.com/angeloszaimis/edge-latency-proxy/internal/loadbalancer"
	"github.com/angeloszaimis/edge-latency-proxy/internal/metrics"
	"github.com/angeloszaimis/edge-latency-proxy/internal/resolver"
	"github.com/angeloszaimis/edge-latency-proxy/internal/selector"
	"github.com/angeloszaimis/edge-latency-proxy/pkg/logger"
)

type choice struct {
	client string
	target string
}

type fakeBalancer struct {
	decision loadbalancer.Decision
	err      error
	calls    []choice
}

func (f *fakeBalancer) Choose(_ context.Context, client, target string) (loadbalancer.Decision, error) {
	f.calls = append(f.calls, choice{client: client, target: target})
	return f.decision, f.err
}

type forwardCall struct {
	address string
	target  string
	path    string
}

type fakeForwarder struct {
	status int
	err    error
	calls  []forwardCall
}

func (f *fakeForwarder) Forward(w http.ResponseWriter, r *http.Request, address, target string) error {
	f.calls = append(f.calls, forwardCall{address: address, target: target, path: r.URL.Path})
	if f.err != nil {
		w.WriteHeader(http.StatusBadGateway)
		return f.err
	}
	w.WriteHeader(f.status)
	fmt.Fprint(w, "upstream body")
	return nil
}

type recordingEmitter struct {
	mutex  sync.Mutex
	events []metrics.MetricEvent
}

func (r *recordingEmitter) Emit(event metrics.MetricEvent) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.events = append(r.events, event)
}

func (r *recordingEmitter) types() []metrics.EventType {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	out := make([]metrics.EventType, len(r.events))
	for i, e := range r.events {
		out[i] = e.Type
	}
	return out
}

var _ = Describe("ProxyHandler", func() {
	var (
		h       *handler.ProxyHandler
		bal     *fakeBalancer
		fwd     *fakeForwarder
		events  *recordingEmitter
		targets *resolver.TargetResolver
	)

	BeforeEach(func() {
		targets = resolver.New(map[string]string{"cf.2xnz.qzz.io": "example.com"}, "default.target.com")
		bal = &fakeBalancer{decision: loadbalancer.Decision{Address: "198.41.209.3:443", LatencyMs: 20}}
		fwd = &fakeForwarder{status: http.StatusOK}
		events = &recordingEmitter{}
		h = handler.NewProxyHandler(logger.Discard(), targets, bal, fwd, events, handler.Options{})
	})

	serve := func(req *http.Request) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	Describe("ServeHTTP", func() {
		It("should forward to the chosen address as the mapped target", func() {
			req := httptest.NewRequest(http.MethodGet, "http://cf.2xnz.qzz.io/page", nil)
			req.Header.Set("CF-Connecting-IP", "203.0.113.7")

			rec := serve(req)

			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(rec.Body.String()).To(Equal("upstream body"))
			Expect(bal.calls).To(Equal([]choice{{client: "203.0.113.7", target: "example.com"}}))
			Expect(fwd.calls).To(Equal([]forwardCall{{address: "198.41.209.3:443", target: "example.com", path: "/page"}}))
		})

		It("should use the default target for an unmapped host", func() {
			serve(httptest.NewRequest(http.MethodGet, "http://unmapped.example.org/", nil))

			Expect(bal.calls).To(HaveLen(1))
			Expect(bal.calls[0].target).To(Equal("default.target.com"))
			Expect(fwd.calls[0].target).To(Equal("default.target.com"))
		})

		It("should prefer the host override header", func() {
			req := httptest.NewRequest(http.MethodGet, "http://proxy.internal/", nil)
			req.Header.Set("X-Forwarded-Host", "CF.2xnz.qzz.io, proxy.internal")

			serve(req)

			Expect(bal.calls[0].target).To(Equal("example.com"))
		})

		It("should fall back to the unknown client identity", func() {
			serve(httptest.NewRequest(http.MethodGet, "http://cf.2xnz.qzz.io/", nil))

			Expect(bal.calls[0].client).To(Equal(handler.UnknownClient))
		})

		It("should honour configured header names", func() {
			h = handler.NewProxyHandler(logger.Discard(), targets, bal, fwd, events, handler.Options{
				ClientHeader: "True-Client-IP",
				HostHeader:   "X-Original-Host",
			})
			req := httptest.NewRequest(http.MethodGet, "http://proxy.internal/", nil)
			req.Header.Set("True-Client-IP", "198.51.100.4")
			req.Header.Set("X-Original-Host", "cf.2xnz.qzz.io")
			req.Header.Set("CF-Connecting-IP", "203.0.113.7")

			serve(req)

			Expect(bal.calls[0]).To(Equal(choice{client: "198.51.100.4", target: "example.com"}))
		})

		It("should set diagnostic headers", func() {
			rec := serve(httptest.NewRequest(http.MethodGet, "http://cf.2xnz.qzz.io/", nil))

			Expect(rec.Header().Get(handler.HeaderUpstream)).To(Equal("198.41.209.3:443"))
			Expect(rec.Header().Get(handler.HeaderCache)).To(Equal("MISS"))
			Expect(rec.Header().Get(handler.HeaderRequestID)).NotTo(BeEmpty())
		})

		It("should report cache hits", func() {
			bal.decision.Cached = true
			rec := serve(httptest.NewRequest(http.MethodGet, "http://cf.2xnz.qzz.io/", nil))

			Expect(rec.Header().Get(handler.HeaderCache)).To(Equal("HIT"))
		})

		It("should keep an inbound request id", func() {
			req := httptest.NewRequest(http.MethodGet, "http://cf.2xnz.qzz.io/", nil)
			req.Header.Set(handler.HeaderRequestID, "abc-123")

			rec := serve(req)

			Expect(rec.Header().Get(handler.HeaderRequestID)).To(Equal("abc-123"))
		})

		Context("when no candidate is viable", func() {
			BeforeEach(func() {
				bal.err = fmt.Errorf("choose upstream for example.com: %w", selector.ErrNoViableCandidate)
			})

			It("should answer 502 without forwarding", func() {
				rec := serve(httptest.NewRequest(http.MethodGet, "http://cf.2xnz.qzz.io/", nil))

				Expect(rec.Code).To(Equal(http.StatusBadGateway))
				Expect(rec.Body.String()).To(Equal("no viable upstream"))
				Expect(rec.Header().Get(handler.HeaderUpstream)).To(BeEmpty())
				Expect(fwd.calls).To(BeEmpty())
			})
		})

		Context("when forwarding fails", func() {
			BeforeEach(func() {
				fwd.err = errors.New("connection reset")
			})

			It("should record the failure", func() {
				rec := serve(httptest.NewRequest(http.MethodGet, "http://cf.2xnz.qzz.io/", nil))

				Expect(rec.Code).To(Equal(http.StatusBadGateway))
				Expect(events.types()).To(ContainElement(metrics.EventForwardFailed))
				Expect(events.types()).NotTo(ContainElement(metrics.EventResponseCompleted))
			})
		})

		It("should emit request and response events", func() {
			fwd.status = http.StatusTeapot
			serve(httptest.NewRequest(http.MethodGet, "http://cf.2xnz.qzz.io/", nil))

			Expect(events.types()).To(Equal([]metrics.EventType{
				metrics.EventRequestReceived,
				metrics.EventResponseCompleted,
			}))
			Expect(events.events[1].StatusCode).To(Equal(http.StatusTeapot))
			Expect(events.events[1].Address).To(Equal("198.41.209.3:443"))
		})
	})
})
