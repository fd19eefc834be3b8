package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"naskah/config"
	"naskah/config/database"
	"naskah/internal/collab"
	docHandler "naskah/internal/document"
	"naskah/internal/document/repository"
	"naskah/internal/document/service"
	"naskah/internal/presence"
	"naskah/pkg/logger"
	"naskah/router"
	"naskah/socket"

	"golang.org/x/sync/errgroup"
)

// backend is a document store that also keeps comments.
type backend interface {
	repository.Store
	repository.CommentStore
}

func openStore(ctx context.Context, cfg *config.Config) (backend, func(), error) {
	switch cfg.StoreDriver {
	case config.DriverMemory:
		logger.Sugar.Warn("Using in-memory store; documents are lost on restart")
		return repository.NewMemoryStore(), func() {}, nil
	case config.DriverBadger:
		s, err := repository.OpenBadgerStore(cfg.BadgerPath)
		if err != nil {
			return nil, nil, err
		}
		return s, func() {
			if err := s.Close(); err != nil {
				logger.Sugar.Errorf("Failed to close badger: %v", err)
			}
		}, nil
	default:
		db, err := database.Connect(ctx, cfg.DSN())
		if err != nil {
			return nil, nil, err
		}
		if err := database.EnsureSchema(ctx, db); err != nil {
			db.Close()
			return nil, nil, err
		}
		return repository.NewDocumentRepository(db), func() { db.Close() }, nil
	}
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.Init("info")
		logger.Sugar.Fatalf("Invalid configuration: %v", err)
	}
	logger.Init(cfg.LogLevel)
	defer logger.Log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		logger.Sugar.Fatalf("Failed to open %s store: %v", cfg.StoreDriver, err)
	}
	defer closeStore()

	hub := socket.NewHub(cfg.AllowedOrigin)
	coord := collab.New(store, store, presence.New(),
		collab.WithNotifier(hub),
		collab.WithEditTimeout(cfg.EditTimeout),
	)
	h := docHandler.NewDocumentHandler(service.NewDocumentService(store, coord))

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router.Setup(h, hub, coord, router.Options{JWTSecret: cfg.JWTSecret, AllowedOrigin: cfg.AllowedOrigin}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		hub.Run(gctx)
		return nil
	})
	g.Go(func() error {
		logger.Sugar.Infof("Go Backend listening on %s (store: %s)", cfg.HTTPAddr, cfg.StoreDriver)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		logger.Sugar.Info("Shutting down")
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Sugar.Errorf("Server stopped: %v", err)
	}
}
