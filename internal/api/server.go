// Package api exposes the read-only block ledger endpoints over HTTP.
package api

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/cors"

	"github.com/liftedinit/credledger/internal/config"
	"github.com/liftedinit/credledger/internal/ledger"
)

// NewRouter wires the /v1 routes. Every /v1 route requires a bearer token signed with secret.
func NewRouter(store ledger.Backend, secret []byte, reg prometheus.Registerer) *mux.Router {
	blocks := NewBlocksHandler(store)
	metrics := NewHTTPMetrics(reg)

	router := mux.NewRouter().StrictSlash(true)
	router.Use(RequestIDMiddleware, LoggingMiddleware, metrics.Middleware)

	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
	}).Methods(http.MethodGet)

	v1 := router.PathPrefix("/v1").Subrouter()
	v1.Use(AuthMiddleware(secret))
	v1.HandleFunc("/blocks/find", blocks.FindBlocks).Methods(http.MethodGet)
	v1.HandleFunc("/blocks/get-blocks-quantity/{collection}/{collectionId}", blocks.GetBlocksQuantity).Methods(http.MethodGet)
	v1.HandleFunc("/blocks/check-blocks/{collection}/{collectionId}", blocks.CheckBlocks).Methods(http.MethodGet)

	router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "Cannot "+r.Method+" "+r.URL.Path)
	})
	router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "Cannot "+r.Method+" "+r.URL.Path)
	})

	return router
}

// NewServer returns an HTTP server initialized with the API handler.
func NewServer(cfg config.ServeConfig, store ledger.Backend, reg prometheus.Registerer) *http.Server {
	router := NewRouter(store, []byte(cfg.Secret), reg)

	origins := cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	c := cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedHeaders: []string{"*"},
		AllowedMethods: []string{
			http.MethodGet,
			http.MethodOptions,
			http.MethodHead},
	})

	readTimeout, writeTimeout := cfg.ReadTimeout, cfg.WriteTimeout
	if readTimeout == 0 {
		readTimeout = 15 * time.Second
	}
	if writeTimeout == 0 {
		writeTimeout = 15 * time.Second
	}

	return &http.Server{
		Addr:         cfg.Addr,
		Handler:      c.Handler(router),
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
		IdleTimeout:  60 * time.Second,
	}
}
