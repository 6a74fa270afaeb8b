// Command diffd serves branch diff computations over HTTP. It wires the
// Neo4j path reader, the SQLite checkpoint tracker, and the diff
// coordinator behind a small JSON API.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/plexgraph/plexgraph/engine/coordinator"
	"github.com/plexgraph/plexgraph/engine/diff"
	"github.com/plexgraph/plexgraph/engine/schema"
	"github.com/plexgraph/plexgraph/pkg/config"
	"github.com/plexgraph/plexgraph/pkg/metrics"
	"github.com/plexgraph/plexgraph/pkg/mid"
	"github.com/plexgraph/plexgraph/pkg/reader"
	"github.com/plexgraph/plexgraph/pkg/tracker"
)

func main() {
	if err := run(); err != nil {
		slog.Error("diffd exited", "error", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "", "path to YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel(cfg.LogLevel),
	}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	driver, err := neo4j.NewDriverWithContext(cfg.Neo4j.URI,
		neo4j.BasicAuth(cfg.Neo4j.Username, cfg.Neo4j.Password, ""))
	if err != nil {
		return fmt.Errorf("neo4j driver: %w", err)
	}
	defer driver.Close(context.Background())

	kinds, err := schema.LoadFile(cfg.SchemaPath)
	if err != nil {
		return err
	}

	store, err := tracker.Open(cfg.TrackerPath)
	if err != nil {
		return err
	}
	defer store.Close()

	graph := reader.New(driver, reader.WithRateLimit(cfg.Neo4j.QPS, cfg.Neo4j.Burst))
	reg := metrics.New()
	svc := coordinator.New(graph, schema.NewStaticProvider(kinds), store, graph, graph, logger, reg)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ok")
	})
	mux.Handle("GET /metrics", reg.Handler())
	mux.HandleFunc("POST /v1/diff/update", handleUpdate(svc))
	mux.HandleFunc("POST /v1/diff/timeframe", handleTimeframe(svc))
	mux.HandleFunc("GET /v1/diff", handleGet(store))

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           mid.Chain(mux, mid.Recover(logger), mid.Logger(logger), mid.OTel("diffd")),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("diffd listening", "addr", cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func logLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

type updateRequest struct {
	Base   string `json:"base"`
	Branch string `json:"branch"`
}

func handleUpdate(svc *coordinator.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req updateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Base == "" || req.Branch == "" {
			http.Error(w, "base and branch are required", http.StatusBadRequest)
			return
		}
		pair, err := svc.UpdateBranchDiff(r.Context(), req.Base, req.Branch)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, pair)
	}
}

type timeframeRequest struct {
	Base   string    `json:"base"`
	Branch string    `json:"branch"`
	Name   string    `json:"name"`
	From   time.Time `json:"from"`
	To     time.Time `json:"to"`
}

func handleTimeframe(svc *coordinator.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req timeframeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Base == "" || req.Branch == "" || req.Name == "" {
			http.Error(w, "base, branch, and name are required", http.StatusBadRequest)
			return
		}
		pair, err := svc.CreateOrUpdateTimeframeDiff(r.Context(), req.Base, req.Branch, req.From, req.To, req.Name)
		if err != nil {
			status := http.StatusInternalServerError
			if req.To.Before(req.From) {
				status = http.StatusBadRequest
			}
			http.Error(w, err.Error(), status)
			return
		}
		writeJSON(w, pair)
	}
}

// diffResponse is what GET /v1/diff returns: the enriched pair only,
// without the raw accumulation the coordinator keeps for combining.
type diffResponse struct {
	Pair       *diff.CalculatedPair `json:"pair"`
	Checkpoint time.Time            `json:"checkpoint"`
}

func handleGet(store coordinator.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		base := r.URL.Query().Get("base")
		branch := r.URL.Query().Get("branch")
		if base == "" || branch == "" {
			http.Error(w, "base and branch are required", http.StatusBadRequest)
			return
		}

		var (
			sd    *coordinator.StoredDiff
			found bool
			err   error
		)
		if name := r.URL.Query().Get("name"); name != "" {
			sd, found, err = store.LoadNamed(r.Context(), base, branch, name)
		} else {
			sd, found, err = store.LoadTracked(r.Context(), base, branch)
		}
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		if !found {
			http.Error(w, "diff not found", http.StatusNotFound)
			return
		}
		writeJSON(w, diffResponse{Pair: sd.Pair, Checkpoint: sd.Checkpoint})
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encode response", "error", err)
	}
}
