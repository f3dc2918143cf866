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

package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/gorilla/mux"
	"github.com/kacheio/freshcache/pkg/api"
	"github.com/kacheio/freshcache/pkg/cache"
	"github.com/kacheio/freshcache/pkg/config"
	"github.com/kacheio/freshcache/pkg/diag"
	"github.com/kacheio/freshcache/pkg/invalidate"
	"github.com/kacheio/freshcache/pkg/produce"
	"github.com/kacheio/freshcache/pkg/store"
	"github.com/kacheio/freshcache/pkg/utils/logger"
	"github.com/kacheio/freshcache/pkg/utils/version"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
)

const (
	configFileName = "freshcache.yml"

	configFileOption          = "config.file"
	configAutoReloadOption    = "config.auto-reload"
	configWatchIntervalOption = "config.watch-interval"

	versionOption = "version"
	versionUsage  = "Print application version and exit."
)

func main() {
	// Cleanup all flags registered via init() methods of 3rd-party libraries.
	flag.CommandLine = flag.NewFlagSet(os.Args[0], flag.ExitOnError)

	var printVersion bool
	flag.BoolVar(&printVersion, versionOption, false, versionUsage)

	var configAutoReload bool
	flag.BoolVar(&configAutoReload, configAutoReloadOption, false, "")

	var configWatchInterval time.Duration
	flag.DurationVar(&configWatchInterval, configWatchIntervalOption, 10*time.Second, "")

	var configFile string
	flag.StringVar(&configFile, configFileOption, configFileName, "")

	flag.Parse()

	if printVersion {
		_, _ = fmt.Fprintln(os.Stdout, version.Print("FreshCache"))
		return
	}

	ldr, err := config.NewLoader(configFile, configAutoReload, configWatchInterval)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "error loading config from %s: %v\n", configFile, err)
		os.Exit(1)
	}

	cfg := ldr.Config()

	if err := cfg.Validate(); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "error validating config:\n%v\n", err)
		os.Exit(1)
	}

	logger.InitLogger(cfg.Log)

	log.Info().Msg("FreshCache is starting")
	log.Info().Str("config", configFile).Msg("FreshCache initializing application")

	if err := run(ldr); err != nil {
		log.Fatal().Err(err).Msg("running application")
	}
}

// run wires a Store, a Cache, a single-producer Wrapper, and the debug
// API around cfg, the same way the teacher's kache.New wires a Provider
// around a proxy. Unlike the teacher's reverse proxy, freshcached has no
// intrinsic notion of what it is caching, so it fronts an example
// producer that simply echoes its request id back as a body - real
// integrations supply their own produce.Func.
func run(ldr *config.Loader) error {
	cfg := ldr.Config()

	backend, err := store.New(cfg.Store)
	if err != nil {
		return fmt.Errorf("creating store backend: %w", err)
	}

	c := cache.New(backend, cache.Options{
		OnGetAfterClose:   cfg.Cache.GetPolicy(),
		OnStoreAfterClose: cfg.Cache.StorePolicy(),
	})

	diagnostics := diag.Default()
	diagnostics.Subscribe(diag.MetricsSubscriber(prometheus.DefaultRegisterer))
	diagnostics.Subscribe(func(evt diag.Event) {
		log.Debug().Str("cache", evt.CacheName).Str("id", evt.CacheKey).
			Str("outcome", string(evt.Outcome)).Msg("cache outcome")
	})

	wrapper := produce.NewWrapper(c, exampleProducer, produce.Config{
		CacheName:          cfg.Producer.CacheName,
		CollapseWindow:     cfg.Producer.CollapseWindow,
		OnCacheReadFailure: cfg.Producer.ReadFailurePolicy(),
		Diagnostics:        diagnostics,
	})

	var broadcaster *invalidate.Broadcaster
	if cfg.Invalidate.Discovery != "" {
		conn, err := invalidate.NewConnection(cfg.Invalidate)
		if err != nil {
			return fmt.Errorf("creating invalidate connection: %w", err)
		}
		broadcaster = invalidate.NewBroadcaster(c, conn, cfg.Invalidate.PortName)
		defer conn.Close()
	}

	if cfg.API == nil {
		cfg.API = &config.API{Port: 1338}
	}
	a, err := api.New(*cfg.API)
	if err != nil {
		return fmt.Errorf("creating API: %w", err)
	}
	a.RegisterCache(c, broadcaster)

	// GET <prefix>/demo/{id} exercises the wrapper end-to-end: a cache
	// hit/miss/SWR decision followed by exampleProducer on miss.
	a.RegisterRoute(http.MethodGet, "/demo/{id}", func(w http.ResponseWriter, r *http.Request) {
		id := mux.Vars(r)["id"]
		entry, err := wrapper.Get(r.Context(), cache.Request{ID: id})
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadGateway)
			return
		}
		_, _ = w.Write(entry.Content)
	})

	if ldr.AutoReload() {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		if err := ldr.Watch(ctx); err != nil {
			return fmt.Errorf("watching config: %w", err)
		}
	}

	a.Run()
	return nil
}

// exampleProducer is the stand-in origin for the demo binary: a real
// embedder replaces it with a produce.Func that performs the actual
// work (an upstream fetch, a database query, ...) being cached.
func exampleProducer(_ context.Context, req cache.Request) (produce.Result, error) {
	return produce.Result{
		Content: []byte("freshcache: " + req.ID),
	}, nil
}
