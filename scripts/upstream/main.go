// Upstream simulates a set of candidate edges for manual testing of the
// proxy. Each listener serves TLS with a certificate valid for example.com
// and answers after a configurable delay.
//
// Usage:
//
//	go run ./scripts/upstream -base-port 9441 -delays 80ms,fail,20ms
//
// The example above listens on 127.0.0.1:9441 (80ms) and 127.0.0.1:9443
// (20ms); "fail" reserves 9442 without listening. Point the proxy at them
// with probe.insecure_skip_verify enabled:
//
//	CANDIDATES=127.0.0.1:9441,127.0.0.1:9442,127.0.0.1:9443 \
//	PROBE_INSECURE_SKIP_VERIFY=true HOSTS_DEFAULT=example.com go run ./cmd
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/google/uuid"
)

type echo struct {
	ID       string              `json:"id"`
	Edge     string              `json:"edge"`
	Method   string              `json:"method"`
	Host     string              `json:"host"`
	SNI      string              `json:"sni"`
	Path     string              `json:"path"`
	Query    string              `json:"query,omitempty"`
	BodySize int                 `json:"body_size"`
	Headers  map[string][]string `json:"headers"`
}

func main() {
	basePort := flag.Int("base-port", 9441, "first port to listen on")
	delays := flag.String("delays", "80ms,fail,20ms", "comma separated per-edge delay, or fail")
	flag.Parse()

	var servers []*httptest.Server

	for i, raw := range strings.Split(*delays, ",") {
		addr := fmt.Sprintf("127.0.0.1:%d", *basePort+i)
		raw = strings.TrimSpace(raw)

		if raw == "fail" {
			log.Printf("edge %s: down", addr)
			continue
		}

		delay, err := time.ParseDuration(raw)
		if err != nil {
			log.Fatalf("edge %s: bad delay %q: %v", addr, raw, err)
		}

		l, err := net.Listen("tcp", addr)
		if err != nil {
			log.Fatalf("edge %s: listen: %v", addr, err)
		}

		srv := httptest.NewUnstartedServer(edgeHandler(addr, delay))
		srv.Listener.Close()
		srv.Listener = l
		srv.EnableHTTP2 = true
		srv.StartTLS()
		servers = append(servers, srv)

		log.Printf("edge %s: delay %v", addr, delay)
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt)
	<-stop

	for _, srv := range servers {
		srv.Close()
	}
}

func edgeHandler(addr string, delay time.Duration) http.Handler {
	mux := http.NewServeMux()

	// Mimics the plain-text trace endpoint the proxy probes.
	mux.HandleFunc("/cdn-cgi/trace", func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(delay)

		w.Header().Set("Content-Type", "text/plain")
		fmt.Fprintf(w, "fl=%s\nh=%s\nip=%s\nts=%.3f\nvisit_scheme=https\nhttp=%s\n",
			addr, r.Host, r.RemoteAddr, float64(time.Now().UnixMilli())/1000, r.Proto)
	})

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(delay)

		body, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}

		resp := echo{
			ID:       uuid.NewString(),
			Edge:     addr,
			Method:   r.Method,
			Host:     r.Host,
			SNI:      r.TLS.ServerName,
			Path:     r.URL.Path,
			Query:    r.URL.RawQuery,
			BodySize: len(body),
			Headers:  r.Header,
		}

		log.Printf("edge %s: %s %s host=%s sni=%s", addr, r.Method, r.URL.Path, r.Host, r.TLS.ServerName)

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	})

	return mux
}
