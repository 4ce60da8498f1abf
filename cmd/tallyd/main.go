// Command tallyd is the tally server daemon.
// It opens the task and account databases, connects the change bus and
// serves the HTTP API until interrupted.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/GoCodeAlone/tally/config"
	"github.com/GoCodeAlone/tally/internal/app"
	"github.com/GoCodeAlone/tally/internal/version"
	"github.com/GoCodeAlone/tally/server"
)

var (
	configPath = flag.String("config", "", "path to YAML config file (defaults are used when empty)")
	envFile    = flag.String("env", ".env", "dotenv file with TALLY_* overrides")
)

func main() {
	flag.Parse()

	if err := config.LoadDotEnv(*envFile); err != nil {
		log.Fatalf("Failed to load env: %v", err)
	}
	cfg := config.DefaultConfig()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			log.Fatalf("Failed to load config %s: %v", *configPath, err)
		}
		cfg = loaded
	}
	if err := cfg.ApplyEnv(); err != nil {
		log.Fatalf("Invalid environment: %v", err)
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.SlogLevel(),
	}))
	logger.Info("starting tallyd",
		"version", version.Version,
		"commit", version.Commit,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.Open(ctx, cfg, logger)
	if err != nil {
		log.Fatalf("Failed to open backend: %v", err)
	}
	defer a.Close() //nolint:errcheck

	srv := server.New(*cfg, version.Version, logger)
	srv.SetAuth(a.Auth)
	srv.SetDocuments(a.Docs)

	fmt.Printf("tally server running on %s\n", cfg.Server.Addr)
	fmt.Println("Version: " + version.String())

	g, gctx := errgroup.WithContext(ctx)
	g.Go(srv.Start)
	g.Go(func() error {
		<-gctx.Done()
		fmt.Println("Shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Stop(shutdownCtx)
	})
	if err := g.Wait(); err != nil {
		logger.Error("server stopped", "error", err)
		os.Exit(1)
	}
	fmt.Println("Shutdown complete")
}
