package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"chronicle/internal/auth"
	"chronicle/internal/config"
	"chronicle/internal/db"
	httpx "chronicle/internal/http"
	"chronicle/internal/jobs"
	"chronicle/internal/journal"
	"chronicle/internal/ticket"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}

	gdb, err := db.Connect(cfg.DatabaseURL)
	if err != nil {
		log.Fatal(err)
	}
	if err := db.AutoMigrateAndIndexes(gdb); err != nil {
		log.Fatal(err)
	}

	registry := journal.NewRegistry()
	if err := registry.Register(ticket.JournalDescriptor()); err != nil {
		log.Fatal(err)
	}

	journalSvc := &journal.Service{
		DB:       gdb,
		Registry: registry,
		Locker:   &journal.AdvisoryLocker{DB: gdb},
		Events:   &jobs.ReplacePublisher{DB: gdb},
		Window:   cfg.AggregationWindow(),
	}
	ticketSvc := &ticket.Service{DB: gdb, Journals: journalSvc}

	jwtSvc := auth.NewJWT(cfg.JWTSecret, cfg.JWTTTL)
	r := httpx.NewRouter(cfg, gdb, jwtSvc, ticketSvc)

	// worker
	jobsRepo := &jobs.Repo{DB: gdb}
	worker := &jobs.Worker{ID: "worker-1", Repo: jobsRepo, DB: gdb}

	ctx, cancel := context.WithCancel(context.Background())
	go worker.Run(ctx)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Printf("listening on %s\n", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal(err)
		}
	}()

	// graceful shutdown
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	<-ch

	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = srv.Shutdown(shutdownCtx)
}
