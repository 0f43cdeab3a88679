// Package admin serves a small HTTP API for inspecting a running proxy's cache.
package admin

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"

	"github.com/always-cache/forward-proxy/cache"
)

type admin struct {
	cache cache.Provider
}

// NewHandler returns the admin API for the given cache.
//
//	GET  /healthz   liveness
//	GET  /stats     cache occupancy and counters
//	GET  /entries   stored entries in eviction order
//	POST /renumber  compact the cache clock
func NewHandler(provider cache.Provider, logger zerolog.Logger) http.Handler {
	a := &admin{cache: provider}

	r := chi.NewRouter()
	r.Use(hlog.NewHandler(logger))
	r.Use(hlog.RequestIDHandler("req_id", "Request-Id"))
	r.Use(hlog.AccessHandler(func(r *http.Request, status, size int, duration time.Duration) {
		hlog.FromRequest(r).Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", status).
			Int("size", size).
			Dur("duration", duration).
			Msg("Admin request")
	}))
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.Write([]byte("ok"))
	})
	r.Get("/stats", a.stats)
	r.Get("/entries", a.entries)
	r.Post("/renumber", a.renumber)

	return r
}

func (a *admin) stats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, a.cache.Stats())
}

func (a *admin) entries(w http.ResponseWriter, r *http.Request) {
	entries, err := a.cache.Entries()
	if err != nil {
		hlog.FromRequest(r).Error().Err(err).Msg("Could not list cache entries")
		http.Error(w, "could not list entries", http.StatusInternalServerError)
		return
	}
	if entries == nil {
		entries = []cache.EntryInfo{}
	}
	writeJSON(w, r, entries)
}

func (a *admin) renumber(w http.ResponseWriter, r *http.Request) {
	if err := a.cache.Renumber(); err != nil {
		hlog.FromRequest(r).Error().Err(err).Msg("Could not renumber cache clock")
		http.Error(w, "could not renumber", http.StatusInternalServerError)
		return
	}
	hlog.FromRequest(r).Info().Msg("Renumbered cache clock on request")
	writeJSON(w, r, a.cache.Stats())
}

func writeJSON(w http.ResponseWriter, r *http.Request, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		hlog.FromRequest(r).Warn().Err(err).Msg("Could not write response")
	}
}
