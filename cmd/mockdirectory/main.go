package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/caarlos0/env/v11"

	"teamcards/internal/domain"
	"teamcards/internal/platform/server"
)

type settings struct {
	Addr string `env:"DIRECTORY_ADDR" envDefault:":8082"`

	// Latency knobs make the pending window observable.
	LatencyBase   time.Duration `env:"LATENCY_BASE" envDefault:"0s"`
	LatencyJitter time.Duration `env:"LATENCY_JITTER" envDefault:"0s"`
}

// Seeded profiles, keyed by identity ID. u-carla deliberately has none.
var profiles = map[string]domain.Profile{
	"u-ana": {
		IdentityKey:     "u-ana",
		DisplayName:     "Ana Paula Souza",
		RoleTitle:       "Diretora de Operações",
		IsAdministrator: true,
		Department:      "Govtech",
		Email:           "ana@tecnocomp.com",
		Phone:           "+55 11 4000-1000",
		Site:            "tecnocomp.com",
	},
	"u-bruno": {
		IdentityKey: "u-bruno",
		DisplayName: "Bruno Lima",
		RoleTitle:   "Analista de Sistemas",
		Department:  "Projetos",
		Email:       "bruno@tecnocomp.com",
	},
}

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	var cfg settings
	if err := env.Parse(&cfg); err != nil {
		slog.Error("parsing settings", "error", err)
		os.Exit(1)
	}

	slog.Info("mock directory starting", "addr", cfg.Addr,
		"latency_base", cfg.LatencyBase, "latency_jitter", cfg.LatencyJitter, "profiles", len(profiles))

	mux := http.NewServeMux()
	mux.HandleFunc("GET /profiles/{id}", func(w http.ResponseWriter, r *http.Request) {
		simulateWork(cfg.LatencyBase, cfg.LatencyJitter)
		p, ok := profiles[r.PathValue("id")]
		if !ok {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusNotFound)
			json.NewEncoder(w).Encode(domain.ErrorResponse{Error: "not_found", Message: "no profile for identity"})
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(p)
	})

	// Health check
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"status": "ok", "service": "mock-directory"})
	})

	srv := server.New(cfg.Addr, mux, logger)
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := srv.Run(ctx); err != nil {
		slog.Error("server error", "error", err)
	}
}

// simulateWork sleeps for base + random(0, jitter) to mimic real directory latency.
func simulateWork(base, jitter time.Duration) {
	if base == 0 && jitter == 0 {
		return
	}
	delay := base
	if jitter > 0 {
		delay += time.Duration(rand.Int64N(int64(jitter)))
	}
	time.Sleep(delay)
}
