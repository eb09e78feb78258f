package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tunevault/tunevault/internal/api"
	"github.com/tunevault/tunevault/internal/config"
	"github.com/tunevault/tunevault/internal/db"
	"github.com/tunevault/tunevault/internal/fingerprint"
	"github.com/tunevault/tunevault/internal/jobs"
	"github.com/tunevault/tunevault/internal/library"
	"github.com/tunevault/tunevault/internal/matching"
	"github.com/tunevault/tunevault/internal/scheduler"
	"github.com/tunevault/tunevault/internal/session"
	"github.com/tunevault/tunevault/internal/status"
	"github.com/tunevault/tunevault/internal/store"
	"github.com/tunevault/tunevault/internal/version"
	"github.com/tunevault/tunevault/internal/watcher"
)

func main() {
	ver := version.Load()
	role := "server"
	if config.IsWorker() {
		role = "worker"
	}
	log.Printf("TuneVault %s starting (%s)...", ver.Version, role)

	cfg := config.Load()

	database, err := db.Connect(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("database connection failed: %v", err)
	}
	defer database.Close()

	if err := db.Migrate(database); err != nil {
		log.Fatalf("migration failed: %v", err)
	}

	cfg.MergeFromDB(database)
	log.Printf("watching %d inbox folder(s), duplicate action=%s", len(cfg.Inboxes), cfg.DuplicateAction)

	fp, err := fingerprint.New(cfg)
	if err != nil {
		log.Fatalf("fingerprinter init failed: %v", err)
	}
	st := store.New(database)
	lib := library.Open(database, cfg.MusicDir)
	source := matching.NewMusicBrainz()
	notifier := status.NewRedisNotifier(cfg.RedisAddr)
	defer notifier.Close()

	runner := session.NewRunner(st, lib, fp, source, cfg)

	queue := jobs.NewQueue(cfg)
	jobs.RegisterHandlers(queue, runner, notifier)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := queue.Start(ctx); err != nil {
		log.Fatalf("queue start failed: %v", err)
	}
	defer queue.Stop()

	// Worker processes only drain the queues; the HTTP surface, the
	// inbox watcher and the rescan schedule belong to the server.
	if config.IsWorker() {
		waitForSignal()
		log.Println("worker shutting down...")
		return
	}

	dispatcher := jobs.NewDispatcher(queue, st, notifier)
	srv := api.NewServer(cfg, dispatcher, st, lib, fp)

	sub := status.NewSubscriber(cfg.RedisAddr, srv.WSHub())
	defer sub.Close()
	go func() {
		if err := sub.Run(ctx); err != nil && ctx.Err() == nil {
			log.Printf("status subscriber stopped: %v", err)
		}
	}()

	w, err := watcher.New(cfg, fp, st, dispatcher, notifier)
	if err != nil {
		log.Fatalf("watcher init failed: %v", err)
	}
	if err := w.Start(); err != nil {
		log.Fatalf("watcher start failed: %v", err)
	}
	defer w.Stop()

	sched, err := scheduler.New(cfg.RescanCron, w.Rescan)
	if err != nil {
		log.Fatalf("bad rescan schedule %q: %v", cfg.RescanCron, err)
	}
	sched.Start()
	defer sched.Stop()

	go func() {
		if err := srv.Start(); err != nil {
			log.Fatalf("server error: %v", err)
		}
	}()

	waitForSignal()

	log.Println("shutting down...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	srv.Shutdown(shutdownCtx)
}

func waitForSignal() {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
}
