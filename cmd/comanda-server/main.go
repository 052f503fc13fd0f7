// Copyright (c) 2025 La Comanda Ops
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	_ "github.com/mattn/go-sqlite3"

	"github.com/la-comanda/internal/changefeed"
	"github.com/la-comanda/internal/config"
	"github.com/la-comanda/internal/logger"
	"github.com/la-comanda/internal/notify"
	"github.com/la-comanda/internal/server"
	"github.com/la-comanda/internal/store"
)

var (
	httpPort = flag.Int("http-port", 8080, "HTTP server port")
	dbPath   = flag.String("db-path", "./comanda.db", "SQLite database path")
	logFile  = flag.String("log-file", "", "Optional log file path")
)

func main() {
	flag.Parse()

	// .env is optional; environment wins either way.
	if err := godotenv.Load(); err != nil {
		logger.Debugf("No .env file loaded: %v", err)
	}

	if _, err := logger.Init(*logFile); err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	db, err := sql.Open("sqlite3", *dbPath)
	if err != nil {
		logger.Fatalf("failed to open sqlite database: %v", err)
	}
	defer db.Close()

	ctx := context.Background()
	redisClient, err := config.NewRedisClient(ctx)
	if err != nil {
		// The change feed rides on Redis; without it there is nothing
		// to notify kitchens with.
		logger.Fatalf("failed to connect to Redis: %v", err)
	}
	defer redisClient.Close()

	publisher := changefeed.NewPublisher(redisClient)
	orders, err := store.NewOrderStore(db, publisher)
	if err != nil {
		logger.Fatalf("failed to initialize order store: %v", err)
	}

	hub := notify.NewHub(changefeed.NewRedisChangeSource(redisClient))

	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", *httpPort),
		Handler: server.NewServer(hub, orders).Handler(),
	}

	go func() {
		logger.Printf("Comanda server listening on :%d", *httpPort)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("HTTP server failed: %v", err)
		}
	}()

	// Graceful shutdown: stop accepting connections, let in-flight
	// writes finish, then cancel the remaining watchers.
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	logger.Printf("Received signal %v, shutting down...", sig)

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("HTTP shutdown error: %v", err)
	}
	hub.Close()

	logger.Printf("Comanda server stopped")
}
