// Command gproxy starts the multi-tenant LLM reverse proxy: it loads
// bootstrap configuration, opens storage, inflates the first snapshot,
// and serves the downstream and admin HTTP surfaces until signalled to
// stop. Grounded on the teacher's cmd/server/main.go (flag parsing,
// logrus/gin wiring) and sdk/cliproxy/service.go's Run/Shutdown
// lifecycle, generalized from "auth-file watcher" to "storage seed-file
// watcher" for C4's reload.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	log "github.com/sirupsen/logrus"

	"github.com/dfft546/gproxy/internal/authtable"
	"github.com/dfft546/gproxy/internal/config"
	"github.com/dfft546/gproxy/internal/engine"
	"github.com/dfft546/gproxy/internal/events"
	"github.com/dfft546/gproxy/internal/httpclient"
	"github.com/dfft546/gproxy/internal/logging"
	"github.com/dfft546/gproxy/internal/model"
	"github.com/dfft546/gproxy/internal/provider"
	"github.com/dfft546/gproxy/internal/router"
	"github.com/dfft546/gproxy/internal/snapshot"
	"github.com/dfft546/gproxy/internal/storage"
	"github.com/dfft546/gproxy/internal/storage/bolt"
	"github.com/dfft546/gproxy/internal/storage/memory"
)

func main() {
	var configPath string
	var logDir string
	flag.StringVar(&configPath, "config", "config.yaml", "Configuration file path")
	flag.StringVar(&logDir, "log-dir", "", "Directory for rotated log files (empty: stdout only)")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "gproxy: %v\n", err)
		os.Exit(1)
	}

	logging.Setup(logging.Options{LogDir: logDir, Debug: cfg.Debug})
	log.Info("gproxy starting")

	store, err := openStore(cfg.DSN)
	if err != nil {
		log.Fatalf("gproxy: open storage: %v", err)
	}
	defer store.Close()

	seedGlobalConfig(store, cfg)

	snapStore := snapshot.NewStore(nil)
	if err := router.ReloadSnapshot(context.Background(), router.Deps{Store: store, Snapshots: snapStore}); err != nil {
		log.Fatalf("gproxy: initial snapshot load: %v", err)
	}

	registry := provider.NewRegistry()
	httpPool := httpclient.NewPool()
	hub := events.New()
	eng := engine.New(snapStore, registry, httpPool, hub, store)

	snap := snapStore.Current()
	adminAuth := authtable.NewAdminAuthenticator(firstNonEmpty(snap.Config.AdminKey, cfg.AdminKey))

	deps := router.Deps{
		Engine:    eng,
		Snapshots: snapStore,
		AdminAuth: adminAuth,
		Store:     store,
		Hub:       hub,
	}
	r := router.New(deps)

	host := firstNonEmpty(snap.Config.Host, cfg.Host)
	port := snap.Config.Port
	if port == 0 {
		port = cfg.Port
	}
	addr := fmt.Sprintf("%s:%d", host, port)

	srv := &http.Server{Addr: addr, Handler: r}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	stopWatch := make(chan struct{})
	if cfg.DSN != "" {
		go watchSeed(ctx, cfg.DSN, deps, stopWatch)
	} else {
		close(stopWatch)
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Infof("gproxy listening on %s", addr)
		if errServe := srv.ListenAndServe(); errServe != nil && !errors.Is(errServe, http.ErrServerClosed) {
			serverErr <- errServe
			return
		}
		serverErr <- nil
	}()

	select {
	case <-ctx.Done():
		log.Info("gproxy shutting down")
	case errServe := <-serverErr:
		if errServe != nil {
			log.Errorf("gproxy server error: %v", errServe)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Errorf("gproxy: shutdown: %v", err)
	}
	<-stopWatch
}

// openStore picks bbolt when a DSN is configured, the in-memory store
// otherwise (spec §6.4/§6.5's "values in storage take precedence once
// loaded" assumes *some* store exists even before the first admin write).
func openStore(dsn string) (storage.Store, error) {
	if dsn == "" {
		return memory.New(), nil
	}
	return bolt.Open(dsn)
}

// seedGlobalConfig writes the bootstrap config into storage the first
// time the proxy runs against an empty store, so GetGlobalConfig never
// returns a zero value once storage exists (spec §6.5: "all are
// fallbacks; values in storage take precedence once loaded").
func seedGlobalConfig(store storage.Store, cfg *config.Config) {
	ctx := context.Background()
	existing, err := store.GetGlobalConfig(ctx)
	if err == nil && existing.Port != 0 {
		return
	}
	_ = store.UpsertGlobalConfig(ctx, model.GlobalConfig{
		Host:                 cfg.Host,
		Port:                 cfg.Port,
		AdminKey:             cfg.AdminKey,
		OutboundProxyURL:     cfg.ProxyURL,
		DSN:                  cfg.DSN,
		EventRedactSensitive: cfg.EventRedactSensitive,
	})
}

// watchSeed reloads the snapshot whenever the bbolt DSN file changes on
// disk out from under this process (an operator-driven external edit,
// or a second proxy instance sharing the same file). Narrowed from the
// teacher's config+auth-dir watcher to the one file C4's reload actually
// depends on.
func watchSeed(ctx context.Context, dsn string, deps router.Deps, done chan<- struct{}) {
	defer close(done)
	w, err := fsnotify.NewWatcher()
	if err != nil {
		log.Warnf("gproxy: seed watcher disabled: %v", err)
		return
	}
	defer w.Close()
	if err := w.Add(dsn); err != nil {
		log.Warnf("gproxy: watch %s: %v", dsn, err)
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if err := router.ReloadSnapshot(ctx, deps); err != nil {
				log.Warnf("gproxy: reload after %s: %v", ev, err)
			}
		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			log.Warnf("gproxy: watcher error: %v", err)
		}
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
