// Copyright (c) 2025 La Comanda Ops
package display

import (
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/spf13/viper"
)

// Config holds the kitchen display client configuration
type Config struct {
	DisplayID             string       `mapstructure:"display_id"`
	Server                ServerConfig `mapstructure:"server"`
	RestauranteID         string       `mapstructure:"restaurante_id"`
	ReconnectDelaySeconds int          `mapstructure:"reconnect_delay_seconds"`
	DesktopAlerts         bool         `mapstructure:"desktop_alerts"`
}

// ServerConfig holds comanda server connection settings
type ServerConfig struct {
	Address string `mapstructure:"address"`
}

// DefaultConfigPath returns the config file location used when no path
// is given on the command line.
func DefaultConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".la-comanda", "config.yaml"), nil
}

// LoadConfig loads configuration from file and environment. A missing
// config file is generated with defaults, and a missing display_id is
// generated and persisted so the display keeps its identity across
// restarts.
func LoadConfig(configPath string) (*Config, error) {
	if configPath == "" {
		path, err := DefaultConfigPath()
		if err != nil {
			return nil, err
		}
		configPath = path
	}

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		if err := generateDefaultConfig(configPath); err != nil {
			return nil, fmt.Errorf("failed to generate default config: %w", err)
		}
		log.Printf("Created default config at %s", configPath)
	}

	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")

	v.SetDefault("server.address", "http://localhost:8080")
	v.SetDefault("reconnect_delay_seconds", 5)
	v.SetDefault("desktop_alerts", true)

	v.SetEnvPrefix("COMANDA")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if config.Server.Address == "" {
		config.Server.Address = "http://localhost:8080"
	}

	// Generate display_id if missing and save it back
	if config.DisplayID == "" {
		config.DisplayID = uuid.New().String()
		v.Set("display_id", config.DisplayID)
		if err := v.WriteConfigAs(configPath); err != nil {
			log.Printf("Warning: Failed to save display_id to config file: %v", err)
		} else {
			log.Printf("Generated new display ID: %s", config.DisplayID)
		}
	}

	return &config, nil
}

// generateDefaultConfig creates a default configuration file
func generateDefaultConfig(configFile string) error {
	defaultConfig := `# La Comanda kitchen display configuration
# display_id will be auto-generated on first run

server:
  address: "http://localhost:8080"  # comanda server address

restaurante_id: ""  # tenant to subscribe to (required)

reconnect_delay_seconds: 5  # wait between reconnect attempts

desktop_alerts: true  # show a desktop notification on new orders
`

	if err := os.MkdirAll(filepath.Dir(configFile), 0755); err != nil {
		return err
	}
	return os.WriteFile(configFile, []byte(defaultConfig), 0644)
}

// ApplyCLIFlags applies command-line flags to override config values
func ApplyCLIFlags(config *Config, serverAddr, restauranteID string) {
	if serverAddr != "" {
		config.Server.Address = serverAddr
	}
	if restauranteID != "" {
		config.RestauranteID = restauranteID
	}
}
