package main

import (
	"encoding/json"
	"net/http"

	"github.com/rs/cors"
	"github.com/rs/zerolog/log"

	"github.com/reelroom/sync/internal/gateway"
)

func setupServer(config *Config, service *gateway.Service) *http.Server {
	mux := http.NewServeMux()

	// Setup CORS middleware
	c := cors.New(cors.Options{
		AllowedMethods: []string{
			http.MethodHead,
			http.MethodGet,
			http.MethodPost,
		},
		AllowedOrigins: []string{"*"},
		AllowedHeaders: []string{"*"},
	})

	service.RegisterRoutes(mux)
	setupSyncConfig(mux, config)
	setupHealthCheck(mux)

	return &http.Server{
		Addr:    config.serverAddr(),
		Handler: c.Handler(mux),
	}
}

// setupSyncConfig serves the reconciliation tunables so every participant
// in a deployment runs with the same thresholds.
func setupSyncConfig(mux *http.ServeMux, config *Config) {
	mux.HandleFunc("/sync/config", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(config.syncTuning()); err != nil {
			log.Error().Err(err).Msg("failed to write sync config response")
		}
	})
}

func setupHealthCheck(mux *http.ServeMux) {
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte("OK")); err != nil {
			log.Error().Err(err).Msg("failed to write health check response")
		}
	})
}
