package supervisor

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"
)

type statusResponse struct {
	Status        string            `json:"status"`
	UptimeSeconds int64             `json:"uptime_seconds"`
	Services      map[string]string `json:"services"`
}

// statusServer serves health, readiness and metrics endpoints.
type statusServer struct {
	supervisor *Supervisor
	log        *slog.Logger
	startedAt  time.Time
	server     *http.Server
	listener   net.Listener
	done       chan struct{}
}

func startStatusServer(ctx context.Context, address string, s *Supervisor, log *slog.Logger) (*statusServer, error) {
	var lc net.ListenConfig
	listener, err := lc.Listen(ctx, "tcp", address)
	if err != nil {
		return nil, err
	}

	st := &statusServer{
		supervisor: s,
		log:        log.With("component", "supervisor.status"),
		startedAt:  time.Now().UTC(),
		listener:   listener,
		done:       make(chan struct{}),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", st.handleHealth)
	mux.HandleFunc("/readyz", st.handleReady)
	mux.Handle("/metrics", s.Metrics().Handler())

	st.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		defer close(st.done)
		if err := st.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			st.log.Error("Status server failed", "error", err)
		}
	}()

	st.log.Info("Status server started", "address", listener.Addr().String())
	return st, nil
}

func (st *statusServer) Addr() net.Addr {
	return st.listener.Addr()
}

func (st *statusServer) Shutdown(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	err := st.server.Shutdown(shutdownCtx)
	<-st.done
	return err
}

func (st *statusServer) handleHealth(w http.ResponseWriter, _ *http.Request) {
	st.respondStatus(w, http.StatusOK, "ok")
}

func (st *statusServer) handleReady(w http.ResponseWriter, _ *http.Request) {
	statusCode := http.StatusOK
	status := "ready"
	if !st.isReady() {
		statusCode = http.StatusServiceUnavailable
		status = "not_ready"
	}

	st.respondStatus(w, statusCode, status)
}

func (st *statusServer) respondStatus(w http.ResponseWriter, statusCode int, status string) {
	services := make(map[string]string)
	for name, state := range st.supervisor.States() {
		services[name] = state.String()
	}

	payload := statusResponse{
		Status:        status,
		UptimeSeconds: int64(time.Since(st.startedAt).Seconds()),
		Services:      services,
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		st.log.Error("Failed to write status response", "error", err)
	}
}

// isReady is true only while every handle is being polled by the supervision loop.
func (st *statusServer) isReady() bool {
	states := st.supervisor.States()
	if len(states) == 0 {
		return false
	}

	for _, state := range states {
		if state != StateRunning {
			return false
		}
	}

	return true
}
