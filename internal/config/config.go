// Package config loads exchange configuration from a YAML file with
// environment-variable overrides, in the same viper-based shape as
// config.Load elsewhere in the retrieval set, adapted to this exchange's
// settings instead of a market maker's.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config is the top-level exchange configuration.
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Storage     StorageConfig     `mapstructure:"storage"`
	Identity    IdentityConfig    `mapstructure:"identity"`
	Instruments []InstrumentConfig `mapstructure:"instruments"`
	Logging     LoggingConfig     `mapstructure:"logging"`
}

// ServerConfig controls the REST/WebSocket listener.
type ServerConfig struct {
	ListenAddr     string        `mapstructure:"listen_addr"`
	AllowedOrigins []string      `mapstructure:"allowed_origins"`
	ShutdownGrace  time.Duration `mapstructure:"shutdown_grace"`
}

// StorageConfig selects and configures the persistence backend.
type StorageConfig struct {
	// Driver is "pebble" or "memory". Validate rejects any other value,
	// including an empty one, and a "pebble" driver with an empty Path.
	Driver string `mapstructure:"driver"`
	Path   string `mapstructure:"path"`
}

// IdentityConfig binds the EIP-712 domain orders and cancels are signed
// under.
type IdentityConfig struct {
	DomainName        string `mapstructure:"domain_name"`
	DomainVersion     string `mapstructure:"domain_version"`
	ChainID           int64  `mapstructure:"chain_id"`
	VerifyingContract string `mapstructure:"verifying_contract"`
}

// InstrumentConfig seeds the instrument registry at startup.
type InstrumentConfig struct {
	Symbol   string `mapstructure:"symbol"`
	Base     string `mapstructure:"base"`
	Quote    string `mapstructure:"quote"`
	TickSize string `mapstructure:"tick_size"`
	LotSize  string `mapstructure:"lot_size"`
}

// LoggingConfig holds the zap logger settings. cmd/exchanged reads File as
// the log path; Level is not read, and the logger always logs at info level.
type LoggingConfig struct {
	Level string `mapstructure:"level"`
	File  string `mapstructure:"file"`
}

// Default returns the devnet configuration: one BTC/USDT instrument, an
// in-memory store, and a local listen address.
func Default() Config {
	return Config{
		Server: ServerConfig{
			ListenAddr:     ":8080",
			AllowedOrigins: []string{"http://localhost:3000"},
			ShutdownGrace:  5 * time.Second,
		},
		Storage: StorageConfig{Driver: "memory"},
		Identity: IdentityConfig{
			DomainName: "ClobExchange", DomainVersion: "1", ChainID: 1,
		},
		Instruments: []InstrumentConfig{
			{Symbol: "BTC/USDT", Base: "BTC", Quote: "USDT", TickSize: "0.01", LotSize: "0.0001"},
		},
		Logging: LoggingConfig{Level: "info"},
	}
}

// Load reads configuration from a YAML file (path may be empty, in which
// case only defaults and environment overrides apply) and layers EXCHANGE_*
// environment variables and a .env file on top, the same override order as
// params.LoadFromEnv: ENV > .env file > file > defaults.
func Load(path string) (Config, error) {
	cfg := Default()

	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix("EXCHANGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return cfg, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := v.Unmarshal(&cfg); err != nil {
			return cfg, fmt.Errorf("config: unmarshal %s: %w", path, err)
		}
	}

	if addr := v.GetString("server.listen_addr"); addr != "" {
		cfg.Server.ListenAddr = addr
	}
	if driver := v.GetString("storage.driver"); driver != "" {
		cfg.Storage.Driver = driver
	}
	if dbPath := v.GetString("storage.path"); dbPath != "" {
		cfg.Storage.Path = dbPath
	}

	return cfg, nil
}

// Validate checks invariants Load cannot enforce by itself.
func (c *Config) Validate() error {
	if c.Server.ListenAddr == "" {
		return fmt.Errorf("config: server.listen_addr is required")
	}
	switch c.Storage.Driver {
	case "memory", "pebble":
	default:
		return fmt.Errorf("config: storage.driver must be \"memory\" or \"pebble\", got %q", c.Storage.Driver)
	}
	if c.Storage.Driver == "pebble" && c.Storage.Path == "" {
		return fmt.Errorf("config: storage.path is required when storage.driver is \"pebble\"")
	}
	if len(c.Instruments) == 0 {
		return fmt.Errorf("config: at least one instrument must be configured")
	}
	for _, i := range c.Instruments {
		if i.Symbol == "" || i.Base == "" || i.Quote == "" {
			return fmt.Errorf("config: instrument entry missing symbol/base/quote: %+v", i)
		}
	}
	return nil
}
