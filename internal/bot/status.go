package bot

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"guildwarden/internal/config"
	"guildwarden/internal/handler"
	"guildwarden/internal/logger"
	"guildwarden/internal/reversal"
)

// StatusServer serves the debug page and the Prometheus metrics.
type StatusServer struct {
	server *http.Server
}

// Start blocks until the server stops.
func (s *StatusServer) Start() error {
	logger.Infof("Starting status server on %s", s.server.Addr)
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *StatusServer) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// NewStatusServer builds the mux; scheduler may be nil.
func NewStatusServer(cfg config.ServerConfig, scheduler *reversal.Scheduler) *StatusServer {
	mux := http.NewServeMux()

	if cfg.DebugPath != "" {
		mux.HandleFunc(cfg.DebugPath, func(w http.ResponseWriter, r *http.Request) {
			logger.Debugf("Debug endpoint accessed: %s %s", r.Method, r.URL.Path)
			w.Header().Set("Content-Type", "text/plain; charset=utf-8")
			w.WriteHeader(http.StatusOK)
			w.Write([]byte(debugText(scheduler)))
		})
	}

	if cfg.MetricsPath != "" {
		mux.Handle(cfg.MetricsPath, promhttp.Handler())
	}

	return &StatusServer{
		server: &http.Server{
			Addr:    cfg.Listen,
			Handler: mux,
		},
	}
}

func debugText(scheduler *reversal.Scheduler) string {
	var b strings.Builder
	b.WriteString("GuildWarden is running\n")
	b.WriteString(handler.GetDetailedStatus())
	b.WriteString("\n")

	if scheduler == nil {
		return b.String()
	}
	pending := scheduler.Pending()
	b.WriteString(fmt.Sprintf("\nPending reversals: %d\n", len(pending)))
	for _, p := range pending {
		b.WriteString(fmt.Sprintf("%s at %s\n", p.Key, p.FireAt.Format("2006-01-02 15:04:05")))
	}
	return b.String()
}
