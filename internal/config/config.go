package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/JohnImril/hellgate-ws/internal/constants"
)

// LobbyServer holds all configuration for the lobby relay process: the
// public gateway, the internal room host, the internal directory listener
// and the directory's persistence backend.
type LobbyServer struct {
	// Logging
	LogLevel string `yaml:"log_level"` // debug, info, warn or error

	// Public gateway listener
	GatewayBindAddress string `yaml:"gateway_bind_address"`
	GatewayPort        int    `yaml:"gateway_port"`

	// Internal room host listener
	RoomBindAddress string `yaml:"room_bind_address"`
	RoomPort        int    `yaml:"room_port"`

	// Internal directory listener
	DirectoryBindAddress string `yaml:"directory_bind_address"`
	DirectoryPort        int    `yaml:"directory_port"`

	// Endpoints the gateway dials. Default to the in-process listeners;
	// point them elsewhere to split the roles across hosts.
	RoomEndpoint      string `yaml:"room_endpoint"`
	DirectoryEndpoint string `yaml:"directory_endpoint"`

	// Bridge timing
	ConnectTimeout time.Duration `yaml:"connect_timeout"` // sniff-to-bridge deadline (default: 15s)
	DialTimeout    time.Duration `yaml:"dial_timeout"`    // room leg handshake deadline (default: 10s)

	// Write queue / timeouts
	WriteTimeout  time.Duration `yaml:"write_timeout"`   // per-write deadline (default: 5s)
	SendQueueSize int           `yaml:"send_queue_size"` // per-client outbox capacity (default: 256)

	// Storage
	Storage StorageConfig `yaml:"storage"`
}

// StorageConfig selects the directory's persistence backend.
type StorageConfig struct {
	Driver   string         `yaml:"driver"` // postgres or memory
	Database DatabaseConfig `yaml:"database"`
}

// DatabaseConfig holds PostgreSQL connection parameters.
type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	DBName   string `yaml:"dbname"`
	SSLMode  string `yaml:"sslmode"`
}

// DSN returns the PostgreSQL connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.DBName, d.SSLMode,
	)
}

// DefaultLobbyServer returns LobbyServer config with sensible defaults.
func DefaultLobbyServer() LobbyServer {
	return LobbyServer{
		LogLevel:             "info",
		GatewayBindAddress:   "0.0.0.0",
		GatewayPort:          8080,
		RoomBindAddress:      "127.0.0.1",
		RoomPort:             8081,
		DirectoryBindAddress: "127.0.0.1",
		DirectoryPort:        8082,
		RoomEndpoint:         "ws://127.0.0.1:8081",
		DirectoryEndpoint:    "http://127.0.0.1:8082",
		ConnectTimeout:       constants.ConnectTimeout,
		DialTimeout:          constants.BridgeDialTimeout,
		WriteTimeout:         constants.WriteTimeout,
		SendQueueSize:        constants.SendQueueSize,
		Storage: StorageConfig{
			Driver: "postgres",
			Database: DatabaseConfig{
				Host:     "127.0.0.1",
				Port:     5432,
				User:     "hellgate",
				Password: "hellgate",
				DBName:   "hellgate",
				SSLMode:  "disable",
			},
		},
	}
}

// LoadLobbyServer loads lobby server config from a YAML file.
// If the file doesn't exist, returns defaults.
func LoadLobbyServer(path string) (LobbyServer, error) {
	cfg := DefaultLobbyServer()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("reading config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing config %s: %w", path, err)
	}

	return cfg, nil
}
