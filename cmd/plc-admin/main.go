// Command plc-admin is a monitoring sidecar for a plc-server process: it
// dials the network endpoint like any other client (via pkg/plcclient),
// polls a configured watch-list of keys, and exposes the result as an
// HTTP health/metrics/state surface for operators — grounded on
// cmd/api/main.go's gorilla/mux router setup and health-check handler
// shape. Configuration (target URL, bind address, poll interval, watch
// keys) comes from internal/plcconfig's AdminConfig, the same
// YAML-plus-env-override story cmd/plc-server uses, rather than a
// second, parallel set of hand-rolled env lookups.
package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mujin/goplc/internal/plcconfig"
	"github.com/mujin/goplc/pkg/plcclient"
)

var (
	targetReachable = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "plc_admin_target_reachable",
		Help: "1 if the last poll of the monitored plc-server succeeded, 0 otherwise.",
	})
	lastPollAge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "plc_admin_last_poll_age_seconds",
		Help: "Seconds since the last successful poll of the monitored plc-server.",
	})
)

type snapshot struct {
	mu        sync.Mutex
	values    map[string]string
	lastErr   error
	lastPoll  time.Time
	succeeded bool
}

func (s *snapshot) update(values map[string]string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastPoll = time.Now()
	s.lastErr = err
	s.succeeded = err == nil
	if err == nil {
		s.values = values
	}
}

func (s *snapshot) get() (map[string]string, error, time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.values, s.lastErr, s.lastPoll, s.succeeded
}

func main() {
	cfg := plcconfig.Get()
	target := cfg.Admin.Target
	addr := cfg.Admin.Addr
	pollInterval := cfg.AdminPollInterval()
	watchKeys := cfg.Admin.WatchKeyList()

	client := plcclient.NewClient(plcclient.Config{URL: target})
	defer client.Close()

	snap := &snapshot{}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go pollLoop(ctx, client, watchKeys, pollInterval, snap)

	router := mux.NewRouter()
	router.HandleFunc("/healthz", healthzHandler(snap, pollInterval)).Methods("GET")
	router.HandleFunc("/state", stateHandler(snap)).Methods("GET")
	router.Handle("/metrics", promhttp.Handler()).Methods("GET")

	server := &http.Server{Addr: addr, Handler: router}

	go func() {
		slog.Info("plc-admin listening", "addr", addr, "target", target)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("plc-admin server failed", "error", err)
			os.Exit(1)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	slog.Info("plc-admin shutting down")
	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	server.Shutdown(shutdownCtx)
}

func pollLoop(ctx context.Context, client *plcclient.Client, keys []string, interval time.Duration, snap *snapshot) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			reqCtx, cancel := context.WithTimeout(ctx, interval)
			values, err := client.ReadKeys(reqCtx, keys)
			cancel()

			if err != nil {
				targetReachable.Set(0)
				snap.update(nil, err)
				continue
			}

			targetReachable.Set(1)
			rendered := make(map[string]string, len(values))
			for k, v := range values {
				rendered[k] = v.String()
			}
			snap.update(rendered, nil)
		}
	}
}

func healthzHandler(snap *snapshot, pollInterval time.Duration) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		_, err, lastPoll, succeeded := snap.get()
		age := time.Since(lastPoll)
		lastPollAge.Set(age.Seconds())

		status := "healthy"
		code := http.StatusOK
		if lastPoll.IsZero() || !succeeded || age > pollInterval*3 {
			status = "unhealthy"
			code = http.StatusServiceUnavailable
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		resp := map[string]any{
			"status":        status,
			"last_poll_age": age.String(),
		}
		if err != nil {
			resp["last_error"] = err.Error()
		}
		json.NewEncoder(w).Encode(resp)
	}
}

func stateHandler(snap *snapshot) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		values, err, lastPoll, _ := snap.get()
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"values":     values,
			"last_poll":  lastPoll,
			"last_error": errString(err),
		})
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

