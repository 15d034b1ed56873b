package main

import (
	"context"
	"errors"
	"flag"
	"log"
	oshttp "net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"gutorka/internal/auth"
	"gutorka/internal/chat"
	"gutorka/internal/commands"
	"gutorka/internal/config"
	"gutorka/internal/directory"
	"gutorka/internal/filestore"
	"gutorka/internal/http"
	"gutorka/internal/push"
	"gutorka/internal/service"
	"gutorka/internal/storage"
	"gutorka/internal/ws"

	"golang.org/x/sync/errgroup"
)

func run(ctx context.Context) error {
	issueToken := flag.String("issue-token", "", "Directory user id to issue a session token for (requires a running server)")
	flag.Parse()

	cfg, err := config.Load(*issueToken != "")
	if err != nil {
		return err
	}

	if *issueToken != "" {
		return commands.IssueToken(*issueToken, cfg)
	}

	store, err := storage.NewBboltStorage(cfg.DBFile)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	files, err := filestore.NewLocalFileStore(cfg.UploadsPath)
	if err != nil {
		return err
	}

	sessions := auth.NewSessions(ctx, store, cfg.TokenExpiry)
	dir := directory.NewClient(cfg.DirectoryURL, cfg.DirectoryKey)
	repo := chat.NewRepository(store, dir, files)

	pushSender := push.NewSender(cfg.VAPIDContact, cfg.VAPIDPublicKey, cfg.VAPIDPrivateKey)
	registry := ws.NewRegistry()
	hub := ws.NewHub(registry, repo, store, pushSender)

	svc := service.New(repo, store, hub)

	adminServer := http.NewAdminServer(sessions, registry, cfg.AdminAddr)
	apiServer := http.NewAPIServer(sessions, svc, repo, store, hub, cfg.APIAddr, cfg.MaxUploadSize)

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		err := adminServer.Start()
		if err != nil && err != oshttp.ErrServerClosed {
			return err
		}
		return nil
	})

	g.Go(func() error {
		err := apiServer.Start()
		if err != nil && err != oshttp.ErrServerClosed {
			return err
		}
		return nil
	})

	// Wait for context cancellation (signal)
	g.Go(func() error {
		<-gCtx.Done()
		log.Println("Shutting down servers...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := adminServer.Shutdown(shutdownCtx); err != nil {
			log.Printf("Admin server shutdown error: %v", err)
		}
		if err := apiServer.Shutdown(shutdownCtx); err != nil {
			log.Printf("API server shutdown error: %v", err)
		}
		return nil
	})

	return g.Wait()
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("Application error: %v", err)
	}
}
