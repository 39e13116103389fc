package main

import (
	"context"
	"log"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/joho/godotenv"

	"agentbus/internal/app"
	"agentbus/pkg/config"
	"agentbus/pkg/logger"
)

func main() {
	_ = godotenv.Load(".env")

	addrVal, dbVal, cfgVal, setFlags := config.ParseCommandFlags()

	cfgPath := cfgVal
	if !setFlags["config"] {
		if p := os.Getenv("AGENTBUS_CONFIG"); p != "" {
			cfgPath = p
		}
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	// Flags win over env and file values.
	if setFlags["addr"] {
		host, port, err := net.SplitHostPort(addrVal)
		if err != nil {
			log.Fatalf("invalid -addr %q: %v", addrVal, err)
		}
		p, err := strconv.Atoi(port)
		if err != nil {
			log.Fatalf("invalid -addr port %q: %v", port, err)
		}
		cfg.Server.Address = host
		cfg.Server.Port = p
	}
	if setFlags["db"] {
		cfg.Storage.DBPath = dbVal
	}

	logger.Init(cfg.Logging.Level)

	a, err := app.New(cfg)
	if err != nil {
		log.Fatalf("startup failed: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := a.Run(ctx); err != nil {
		logger.Error("server_failed", "error", err)
		a.Close()
		os.Exit(1)
	}
	a.Close()
}
