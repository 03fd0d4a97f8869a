package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/agl-services/applaunchd/internal/infrastructure/config"
	"github.com/agl-services/applaunchd/internal/server"
)

func main() {
	catalog := flag.String("catalog", "", "Path to the application catalog (overrides $APPLAUNCHD_CATALOG_PATH)")
	busName := flag.String("bus-name", "", "Well-known bus name to claim (overrides $APPLAUNCHD_BUS_NAME)")
	dev := flag.Bool("dev", false, "Enable development logging")
	flag.Parse()

	cfg := config.LoadOrDefault()
	if *catalog != "" {
		cfg.Catalog.Path = *catalog
	}
	if *busName != "" {
		cfg.Bus.Name = *busName
	}
	if *dev {
		cfg.Logging.Development = true
	}

	srv, err := server.New(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := srv.Run(ctx); err != nil {
		log.Fatalf("Server error: %v", err)
	}
}
