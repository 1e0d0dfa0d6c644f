package forwarder_test

import (
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/angeloszaimis/edge-latency-proxy/internal/forwarder"
	"github.com/angeloszaimis/edge-latency-proxy/internal/transport"
	"github.com/angeloszaimis/edge-latency-proxy/pkg/logger"
)

type echo struct {
	Method        string `json:"method"`
	Host          string `json:"host"`
	SNI           string `json:"sni"`
	Path          string `json:"path"`
	Query         string `json:"query"`
	Body          string `json:"body"`
	Custom        string `json:"custom"`
	ForwardedFor  string `json:"forwarded_for"`
	Authorization string `json:"authorization"`
}

var _ = Describe("Forwarder", func() {
	var (
		upstream *httptest.Server
		address  string
		pool     *transport.Pool
	)

	BeforeEach(func() {
		mux := http.NewServeMux()
		mux.HandleFunc("/echo", func(w http.ResponseWriter, r *http.Request) {
			body, _ := io.ReadAll(r.Body)
			w.Header().Set("X-Upstream", "yes")
			w.WriteHeader(http.StatusCreated)
			json.NewEncoder(w).Encode(echo{
				Method:        r.Method,
				Host:          r.Host,
				SNI:           r.TLS.ServerName,
				Path:          r.URL.Path,
				Query:         r.URL.RawQuery,
				Body:          string(body),
				Custom:        r.Header.Get("X-Custom"),
				ForwardedFor:  r.Header.Get("X-Forwarded-For"),
				Authorization: r.Header.Get("Authorization"),
			})
		})
		mux.HandleFunc("/old", func(w http.ResponseWriter, r *http.Request) {
			http.Redirect(w, r, "/echo", http.StatusFound)
		})
		mux.HandleFunc("/absolute", func(w http.ResponseWriter, r *http.Request) {
			http.Redirect(w, r, "https://example.com/echo", http.StatusMovedPermanently)
		})
		mux.HandleFunc("/loop", func(w http.ResponseWriter, r *http.Request) {
			http.Redirect(w, r, "/loop", http.StatusFound)
		})

		upstream = httptest.NewTLSServer(mux)
		address = strings.TrimPrefix(upstream.URL, "https://")

		roots := x509.NewCertPool()
		roots.AddCert(upstream.Certificate())

		var err error
		pool, err = transport.New(transport.Options{
			Size:      4,
			TLSConfig: &tls.Config{RootCAs: roots},
		})
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		pool.CloseIdleConnections()
		upstream.Close()
	})

	decode := func(rec *httptest.ResponseRecorder) echo {
		var e echo
		Expect(json.Unmarshal(rec.Body.Bytes(), &e)).To(Succeed())
		return e
	}

	Describe("Forward", func() {
		It("should relay the request with the target as virtual host", func() {
			fwd := forwarder.New(pool, forwarder.Options{}, logger.Discard())

			req := httptest.NewRequest(http.MethodPost, "http://cf.2xnz.qzz.io/echo?q=1&r=two", strings.NewReader("payload"))
			req.Header.Set("X-Custom", "kept")
			req.Header.Set("X-Forwarded-For", "203.0.113.9")
			req.Header.Set("Authorization", "Bearer token")
			rec := httptest.NewRecorder()

			Expect(fwd.Forward(rec, req, address, "example.com")).To(Succeed())

			Expect(rec.Code).To(Equal(http.StatusCreated))
			Expect(rec.Header().Get("X-Upstream")).To(Equal("yes"))

			e := decode(rec)
			Expect(e.Method).To(Equal(http.MethodPost))
			Expect(e.Host).To(Equal("example.com"))
			Expect(e.SNI).To(Equal("example.com"))
			Expect(e.Path).To(Equal("/echo"))
			Expect(e.Query).To(Equal("q=1&r=two"))
			Expect(e.Body).To(Equal("payload"))
			Expect(e.Custom).To(Equal("kept"))
			Expect(e.ForwardedFor).To(Equal("203.0.113.9"))
			Expect(e.Authorization).To(Equal("Bearer token"))
		})

		It("should answer 502 when the address is unreachable", func() {
			l, err := net.Listen("tcp", "127.0.0.1:0")
			Expect(err).NotTo(HaveOccurred())
			dead := l.Addr().String()
			l.Close()

			fwd := forwarder.New(pool, forwarder.Options{}, logger.Discard())
			rec := httptest.NewRecorder()

			err = fwd.Forward(rec, httptest.NewRequest(http.MethodGet, "/echo", nil), dead, "example.com")
			Expect(err).To(HaveOccurred())
			Expect(rec.Code).To(Equal(http.StatusBadGateway))
			Expect(rec.Body.String()).To(Equal("proxy request failed"))
		})

		Context("when following redirects", func() {
			var fwd *forwarder.Forwarder

			BeforeEach(func() {
				fwd = forwarder.New(pool, forwarder.Options{Redirect: forwarder.RedirectFollow}, logger.Discard())
			})

			It("should follow a relative redirect on the chosen address", func() {
				rec := httptest.NewRecorder()
				Expect(fwd.Forward(rec, httptest.NewRequest(http.MethodGet, "/old", nil), address, "example.com")).To(Succeed())

				Expect(rec.Code).To(Equal(http.StatusCreated))
				Expect(decode(rec).Host).To(Equal("example.com"))
			})

			It("should pin an absolute redirect to the target onto the chosen address", func() {
				rec := httptest.NewRecorder()
				Expect(fwd.Forward(rec, httptest.NewRequest(http.MethodGet, "/absolute", nil), address, "example.com")).To(Succeed())

				Expect(rec.Code).To(Equal(http.StatusCreated))
				e := decode(rec)
				Expect(e.Host).To(Equal("example.com"))
				Expect(e.Path).To(Equal("/echo"))
			})

			It("should give up on a redirect loop", func() {
				rec := httptest.NewRecorder()
				err := fwd.Forward(rec, httptest.NewRequest(http.MethodGet, "/loop", nil), address, "example.com")

				Expect(err).To(MatchError(ContainSubstring("too many redirects")))
				Expect(rec.Code).To(Equal(http.StatusBadGateway))
			})
		})

		Context("with manual redirects", func() {
			It("should relay the redirect as-is", func() {
				fwd := forwarder.New(pool, forwarder.Options{Redirect: forwarder.RedirectManual}, logger.Discard())
				rec := httptest.NewRecorder()

				Expect(fwd.Forward(rec, httptest.NewRequest(http.MethodGet, "/old", nil), address, "example.com")).To(Succeed())
				Expect(rec.Code).To(Equal(http.StatusFound))
				Expect(rec.Header().Get("Location")).To(Equal("/echo"))
			})
		})
	})
})
