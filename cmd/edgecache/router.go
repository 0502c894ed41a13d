package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/Sternrassler/edge-cache/pkg/engine"
	"github.com/Sternrassler/edge-cache/pkg/metrics"
)

// controlPrefix is reserved for the proxy's own endpoints.
const controlPrefix = "/_edgecache"

// maxMessageBytes bounds control message bodies.
const maxMessageBytes = 4 << 10

// newRouter mounts the control endpoints and hands everything else to the
// engine.
func newRouter(e *engine.Engine) http.Handler {
	r := chi.NewRouter()

	r.Route(controlPrefix, func(r chi.Router) {
		r.Get("/health", healthHandler)
		r.Get("/ready", readyHandler(e))
		r.Handle("/metrics", metrics.Handler())
		r.Post("/message", messageHandler(e))
	})

	r.NotFound(e.ServeHTTP)

	return r
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, "OK")
}

func readyHandler(e *engine.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if err := e.Ready(ctx); err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, "READY")
	}
}

func messageHandler(e *engine.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var msg engine.Message
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxMessageBytes)).Decode(&msg); err != nil {
			http.Error(w, "invalid message: "+err.Error(), http.StatusBadRequest)
			return
		}

		err := e.HandleMessage(r.Context(), msg)
		switch {
		case errors.Is(err, engine.ErrUnknownMessage):
			http.Error(w, err.Error(), http.StatusBadRequest)
		case err != nil:
			log.Error().Err(err).Str("type", string(msg.Type)).Msg("Control message failed")
			http.Error(w, err.Error(), http.StatusInternalServerError)
		default:
			w.WriteHeader(http.StatusNoContent)
		}
	}
}
