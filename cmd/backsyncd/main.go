// Command backsyncd is a forwarding proxy that queues requests it cannot
// deliver and replays them when the upstream becomes reachable again.
//
// Configuration comes from a YAML file (--config), BACKSYNC_* environment
// variables and flags. A minimal config:
//
//	listen_address: 127.0.0.1:8080
//	store:
//	  backend: sqlite
//	  sqlite_path: /var/lib/backsync/backsync.db
//	connectivity:
//	  mode: probe
//	  probe_url: https://api.example.com/health
//	routes:
//	  - name: orders
//	    prefix: /orders
//	    upstream: https://api.example.com/orders
//
// A request whose upstream cannot be reached is answered with 202 Accepted
// and a Backsync-Entry-Id header. Once replayed, its response is available
// at GET /_backsync/responses/{id} with the id path-escaped.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
)

var version = "development"

func main() {
	os.Exit(realMain(os.Args[1:]))
}

func realMain(args []string) int {
	fs := newFlagSet()
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return 0
		}

		return 2
	}

	if showVersion, _ := fs.GetBool("version"); showVersion {
		fmt.Println(version)
		return 0
	}

	cfg, err := loadConfig(fs)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	log, err := newLogger(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.WithFields(logrus.Fields{
		"version": version,
		"store":   cfg.Store.Backend,
		"routes":  len(cfg.Routes),
	}).Info("starting backsyncd")

	d, err := newDaemon(ctx, cfg, log)
	if err != nil {
		log.WithError(err).Error("startup failed")
		return 1
	}
	defer d.close()

	if err := d.run(ctx); err != nil {
		log.WithError(err).Error("server failed")
		return 1
	}
	log.Info("stopped")

	return 0
}

func newLogger(cfg *Config) (*logrus.Logger, error) {
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.LogLevel, err)
	}

	log := logrus.New()
	log.SetLevel(level)
	if cfg.LogFormat == "json" {
		log.SetFormatter(&logrus.JSONFormatter{})
	}

	return log, nil
}
