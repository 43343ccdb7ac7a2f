// Copyright (c) 2023-2024 Canonical Ltd
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

// Command rndcd is a standalone RNDC control-channel server: it does not
// speak BIND's actual reconfiguration logic, but accepts and authenticates
// RNDC sessions and dispatches commands to a pluggable handler, useful for
// fronting non-BIND services with BIND's own control protocol and tooling.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"

	"go.isc.org/rndc/internal/paths"
	"go.isc.org/rndc/internal/rndcconf"
	"go.isc.org/rndc/internal/rndcserver"
	"go.isc.org/rndc/internal/zonecheck"
)

func setupLogger(level rndcconf.LogLevel) {
	consoleWriter := zerolog.ConsoleWriter{Out: os.Stdout, NoColor: true}
	consoleWriter.PartsOrder = []string{
		zerolog.LevelFieldName,
		zerolog.CallerFieldName,
		zerolog.MessageFieldName,
	}
	log.Logger = zerolog.New(consoleWriter).With().Timestamp().Logger()

	ll, err := zerolog.ParseLevel(string(level))
	if err != nil || ll == zerolog.NoLevel {
		ll = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(ll)
}

func serveMetrics(addr string, collectors []prometheus.Collector) error {
	registry := prometheus.NewRegistry()
	for _, c := range collectors {
		if err := registry.Register(c); err != nil {
			return fmt.Errorf("registering metrics: %w", err)
		}
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return srv.ListenAndServe()
}

func run() int {
	var configPath, zoneCheckDNS string
	flag.StringVar(&configPath, "c", paths.DefaultDaemonConfig(), "path to rndcd.yaml")
	flag.StringVar(&zoneCheckDNS, "zone-check-dns", "", "nameserver (host:port) to confirm retransfer serials against; disabled if empty")
	flag.Parse()

	cfg, err := rndcconf.LoadDaemonConfig(afero.NewOsFs(), configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "rndcd: %s\n", err)
		return 1
	}

	setupLogger(cfg.Logging.Level)

	handler := rndcserver.DefaultHandler
	if zoneCheckDNS != "" {
		handler = rndcserver.WithZoneCheck(handler, zonecheck.NewChecker(zoneCheckDNS))
		log.Info().Str("dns_server", zoneCheckDNS).Msg("rndcd: retransfer serials will be verified against live DNS")
	}

	srv, err := rndcserver.New(rndcserver.Options{
		Keys:           cfg.Keys,
		Handler:        handler,
		SessionTimeout: cfg.HandlerConfig.Timeout,
	})
	if err != nil {
		log.Error().Err(err).Msg("rndcd: failed to initialize server")
		return 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	fatal := make(chan error, 2)

	go func() {
		if err := srv.ListenAndServe(ctx, cfg.ListenAddr); err != nil {
			fatal <- fmt.Errorf("rndc listener: %w", err)
		}
	}()

	if cfg.Metrics.Enabled {
		go func() {
			if err := serveMetrics(cfg.Metrics.Addr, srv.Collectors()); err != nil {
				fatal <- fmt.Errorf("metrics listener: %w", err)
			}
		}()
	}

	log.Info().Str("addr", cfg.ListenAddr).Msg("rndcd started")

	sigs := make(chan os.Signal, 2)
	signal.Notify(sigs, syscall.SIGTERM, syscall.SIGINT)

	select {
	case err := <-fatal:
		log.Error().Err(err).Msg("rndcd: fatal error")
		return 1
	case <-sigs:
		log.Info().Msg("rndcd: shutting down")
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer stopCancel()
		if err := srv.Stop(stopCtx); err != nil {
			log.Warn().Err(err).Msg("rndcd: error during shutdown")
		}
		return 0
	}
}

func main() {
	os.Exit(run())
}
