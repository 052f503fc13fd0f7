// Copyright (c) 2025 La Comanda Ops
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gen2brain/beeep"

	"github.com/la-comanda/internal/display"
	"github.com/la-comanda/internal/logger"
	"github.com/la-comanda/internal/notify"
)

var (
	configPath = flag.String("config", "", "Path to config file (default: ~/.la-comanda/config.yaml)")
	serverAddr = flag.String("server", "", "Comanda server address (overrides config)")
	tenantID   = flag.String("restaurante", "", "Restaurante ID to subscribe to (overrides config)")
	logFile    = flag.String("log-file", "", "Optional log file path")
)

func main() {
	flag.Parse()

	if _, err := logger.Init(*logFile); err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	path := *configPath
	if path == "" {
		defaultPath, err := display.DefaultConfigPath()
		if err != nil {
			logger.Fatalf("Failed to resolve config path: %v", err)
		}
		path = defaultPath
	}

	config, err := display.LoadConfig(path)
	if err != nil {
		logger.Fatalf("Failed to load config: %v", err)
	}
	display.ApplyCLIFlags(config, *serverAddr, *tenantID)

	if config.RestauranteID == "" {
		logger.Fatalf("No restaurante configured; set restaurante_id in %s or pass -restaurante", path)
	}

	logger.Printf("Kitchen display %s starting", config.DisplayID)
	logger.Printf("  Server: %s", config.Server.Address)
	logger.Printf("  Restaurante: %s", config.RestauranteID)

	var mu sync.Mutex
	reconnector := newReconnector(config)
	if err := reconnector.Connect(); err != nil {
		logger.Errorf("Initial connection failed: %v (will keep retrying)", err)
	}

	// Tenant or server switches in the config file swap the connection
	// without a restart.
	watcher, err := display.NewConfigWatcher(path, func(updated *display.Config) {
		display.ApplyCLIFlags(updated, *serverAddr, *tenantID)
		if updated.RestauranteID == "" {
			logger.Warnf("Reloaded config has no restaurante_id, keeping current connection")
			return
		}

		mu.Lock()
		defer mu.Unlock()
		if updated.Server.Address == config.Server.Address && updated.RestauranteID == config.RestauranteID {
			return
		}
		logger.Printf("Switching to restaurante %s at %s", updated.RestauranteID, updated.Server.Address)
		reconnector.Disconnect()
		config = updated
		reconnector = newReconnector(config)
		if err := reconnector.Connect(); err != nil {
			logger.Errorf("Connection after config reload failed: %v", err)
		}
	})
	if err != nil {
		logger.Warnf("Config watching disabled: %v", err)
	} else {
		defer watcher.Stop()
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	logger.Printf("Received signal %v, shutting down...", sig)

	mu.Lock()
	reconnector.Disconnect()
	mu.Unlock()
}

func newReconnector(config *display.Config) *display.Reconnector {
	delay := time.Duration(config.ReconnectDelaySeconds) * time.Second
	r := display.NewReconnector(config.Server.Address, config.RestauranteID, delay)

	alerts := config.DesktopAlerts
	r.OnNewOrder(func(order notify.Order) {
		logger.Printf("New order %s for table %s (%d items)", order.ID, order.TableID, len(order.Items))
		if alerts {
			title := "Nueva comanda"
			body := fmt.Sprintf("Mesa %s: %d platos", order.TableID, len(order.Items))
			if err := beeep.Notify(title, body, ""); err != nil {
				logger.Debugf("Desktop notification failed: %v", err)
			}
		}
	})
	r.OnStateChange(func(state display.State) {
		switch state {
		case display.StateConnected:
			logger.Printf("Connected to order stream")
		case display.StateConnecting:
			logger.Printf("Connecting to order stream...")
		case display.StateDisconnected:
			logger.Warnf("Order stream disconnected, reconnecting...")
		}
	})
	return r
}
