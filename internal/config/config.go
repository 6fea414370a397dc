package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"github.com/openrally/lobby-backend/internal/garage"
	"github.com/openrally/lobby-backend/internal/protocol"
)

// Config holds everything the server reads from the environment.
type Config struct {
	Addr           string   `env:"LOBBY_ADDR" envDefault:":8080"`
	LogLevel       string   `env:"LOBBY_LOG_LEVEL" envDefault:"info"`
	Cars           []string `env:"LOBBY_CARS" envSeparator:","`
	OriginPatterns []string `env:"LOBBY_ORIGINS" envSeparator:","`
}

// Load reads .env if present, then the process environment.
func Load() (Config, error) {
	_ = godotenv.Load() // optional, dev convenience

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}

// Catalog resolves the configured car list, falling back to the stock
// garage.
func (c Config) Catalog() []protocol.Car {
	if len(c.Cars) == 0 {
		return garage.DefaultCatalog
	}
	out := make([]protocol.Car, len(c.Cars))
	for i, name := range c.Cars {
		out[i] = protocol.Car(name)
	}
	return out
}
