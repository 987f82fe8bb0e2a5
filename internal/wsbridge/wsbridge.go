// Package wsbridge optionally mirrors a session's broadcast bus to
// browser-based dashboards over WebSocket, additive to (never a
// replacement for) the Unix-socket IPC protocol. It is read-only: it
// subscribes to the same broadcast a Subscribe IPC client would clone
// and never mutates session or driver state.
package wsbridge

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/qorvex/qorvex-host/internal/session"
	apphealth "github.com/qorvex/qorvex-host/pkg/health"
	"github.com/qorvex/qorvex-host/pkg/log"
	"github.com/qorvex/qorvex-host/pkg/tracing"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Bridge serves /events (WebSocket), /healthz, and /metrics over a
// dedicated HTTP listener, fed by sess's broadcast bus.
type Bridge struct {
	logger  log.Logger
	session *session.Session
	metrics http.Handler

	checks []apphealth.DetailedCheck

	server *http.Server
}

// New constructs a Bridge mirroring sess's events. metricsHandler may be
// nil to omit /metrics. All three routes run behind request-logging and
// tracing middleware, same as the rest of this daemon's observability
// surfaces.
func New(logger log.Logger, sess *session.Session, metricsHandler http.Handler) *Bridge {
	b := &Bridge{logger: logger, session: sess, metrics: metricsHandler}

	mux := http.NewServeMux()
	mux.HandleFunc("/events", b.handleEvents)
	mux.HandleFunc("/healthz", b.handleHealthz)
	if metricsHandler != nil {
		mux.Handle("/metrics", metricsHandler)
	}

	var handler http.Handler = mux
	handler = tracing.Middleware(handler)
	handler = log.HTTPMiddleware(logger)(handler)

	b.server = &http.Server{Handler: handler}
	return b
}

// SetChecks installs the health checks handleHealthz aggregates on every
// request.
func (b *Bridge) SetChecks(checks ...apphealth.DetailedCheck) {
	b.checks = checks
}

// Serve binds addr and runs until the context is cancelled or Shutdown
// is called directly.
func (b *Bridge) Serve(ctx context.Context, addr string) error {
	b.server.Addr = addr
	errCh := make(chan error, 1)
	go func() { errCh <- b.server.ListenAndServe() }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return b.server.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}

// Shutdown gracefully stops the HTTP listener.
func (b *Bridge) Shutdown(ctx context.Context) error {
	return b.server.Shutdown(ctx)
}

// healthzResponse is the JSON body written by handleHealthz.
type healthzResponse struct {
	Status string             `json:"status"`
	Checks []apphealth.Result `json:"checks,omitempty"`
}

func (b *Bridge) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if len(b.checks) == 0 {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(healthzResponse{Status: string(apphealth.StatusHealthy)})
		return
	}

	overall, results := apphealth.Aggregate(r.Context(), b.checks)

	w.Header().Set("Content-Type", "application/json")
	if overall == apphealth.StatusUnhealthy {
		w.WriteHeader(http.StatusServiceUnavailable)
	} else {
		w.WriteHeader(http.StatusOK)
	}
	json.NewEncoder(w).Encode(healthzResponse{Status: string(overall), Checks: results})
}

// handleEvents upgrades the connection and streams session.Event values
// as JSON text frames until the client disconnects or the subscriber
// lags past the broadcast's capacity.
func (b *Bridge) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		b.logger.Warn().Err(err).Msg("wsbridge: upgrade failed")
		return
	}
	defer conn.Close()

	sub := b.session.Subscribe()
	defer b.session.Unsubscribe(sub)

	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	// Drain (and discard) client reads on their own goroutine purely to
	// keep the pong handler firing; this bridge accepts no client input.
	go func() {
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case ev, ok := <-sub.Events():
			if !ok {
				return
			}
			payload, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
			if sub.TryLagged() {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
