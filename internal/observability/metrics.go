package observability

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsServer exposes the Prometheus scrape endpoint on its own listener so
// it is never reachable through the public API port.
type MetricsServer struct {
	server *http.Server
}

// NewMetricsServer serves the provider's registry at path. A nil provider, or
// one with metrics disabled, yields a server that answers 404 everywhere.
func NewMetricsServer(port int, path string, provider *Provider) *MetricsServer {
	mux := http.NewServeMux()
	if g := provider.Gatherer(); g != nil {
		mux.Handle(path, promhttp.HandlerFor(g, promhttp.HandlerOpts{
			EnableOpenMetrics: true,
			ErrorLog:          slog.NewLogLogger(slog.Default().Handler(), slog.LevelError),
		}))
	}

	return &MetricsServer{
		server: &http.Server{
			Addr:    net.JoinHostPort("", strconv.Itoa(port)),
			Handler: mux,
		},
	}
}

// Handler returns the scrape mux.
func (ms *MetricsServer) Handler() http.Handler {
	return ms.server.Handler
}

// Start blocks serving metrics. It returns http.ErrServerClosed after Shutdown.
func (ms *MetricsServer) Start() error {
	slog.Info("Starting metrics server", "addr", ms.server.Addr)
	return ms.server.ListenAndServe()
}

func (ms *MetricsServer) Shutdown(ctx context.Context) error {
	return ms.server.Shutdown(ctx)
}
