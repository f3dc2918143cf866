// MIT License
//
// Copyright (c) 2023 kache.io
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.

// Package api exposes the demo server's debug/version/invalidation HTTP
// surface. It carries no cache semantics of its own; it is thin plumbing
// in front of a cache.Cache and, optionally, an invalidate.Broadcaster.
package api

import (
	"fmt"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/kacheio/freshcache/pkg/cache"
	"github.com/kacheio/freshcache/pkg/config"
	"github.com/kacheio/freshcache/pkg/invalidate"
	"github.com/kacheio/freshcache/pkg/utils/version"
	"github.com/rs/zerolog/log"
)

// API is the root API structure.
type API struct {
	// config is the API configuration.
	config config.API

	// router is the root Router; routes below config.GetPrefix() are
	// registered through sub.
	router *mux.Router
	sub    *mux.Router

	// filter restricts access to the IPs in config.ACL, if any.
	filter *IPFilter
}

// New creates a new API. Every route registered through RegisterRoute
// lives under cfg.GetPrefix() ("/api" by default).
func New(cfg config.API) (*API, error) {
	filter, err := NewIPFilter(cfg.ACL)
	if err != nil {
		return nil, fmt.Errorf("api: %w", err)
	}

	router := mux.NewRouter()
	a := &API{
		config: cfg,
		router: router,
		sub:    router.PathPrefix(cfg.GetPrefix()).Subrouter(),
		filter: filter,
	}
	a.createRoutes()

	if cfg.Debug {
		DebugHandler{}.Append(a.router)
	}

	return a, nil
}

// Run starts the API server.
func (a *API) Run() {
	port := fmt.Sprintf(":%d", a.config.Port)
	log.Debug().Str("port", port).Str("prefix", a.config.GetPrefix()).Msg("starting API server")

	if err := http.ListenAndServe(port, a); err != nil {
		log.Fatal().Err(err).Msg("starting API server")
	}
}

// ServeHTTP serves the API requests.
func (a *API) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	a.router.ServeHTTP(w, r)
}

// RegisterRoute registers a new handler at path, relative to
// config.GetPrefix(), behind the configured IP filter.
func (a *API) RegisterRoute(method string, path string, handler http.HandlerFunc) {
	a.sub.HandleFunc(path, a.filter.Wrap(handler)).Methods(method)
}

// RegisterCache wires up the cache-management endpoints for c: a
// whole-id invalidation endpoint, and (if present) the cluster
// invalidation broadcaster's remote-apply endpoint.
func (a *API) RegisterCache(c *cache.Cache, broadcaster *invalidate.Broadcaster) {
	// DELETE <prefix>/cache/keys?id=... invalidates a single id locally,
	// broadcasting to cluster peers if a Broadcaster is wired in.
	a.RegisterRoute(http.MethodDelete, "/cache/keys", func(w http.ResponseWriter, r *http.Request) {
		id := r.URL.Query().Get("id")
		if id == "" {
			http.Error(w, "missing id query parameter", http.StatusBadRequest)
			return
		}
		if err := c.Invalidate(r.Context(), id); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})

	if broadcaster == nil {
		return
	}

	// DELETE <prefix>/cache/keys/remote?id=... applies an invalidation
	// received from a cluster peer, without re-broadcasting it.
	a.RegisterRoute(http.MethodDelete, "/cache/keys/remote", func(w http.ResponseWriter, r *http.Request) {
		id := r.URL.Query().Get("id")
		if id == "" {
			http.Error(w, "missing id query parameter", http.StatusBadRequest)
			return
		}
		if err := broadcaster.ApplyRemote(r.Context(), id); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})
}

func (a *API) createRoutes() {
	a.RegisterRoute(http.MethodGet, "/version", version.Handler)
}
