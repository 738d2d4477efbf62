// cmd/client/config.go
package main

import (
	"fmt"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config is read from the environment, with an optional .env file on top.
type Config struct {
	RPCURL     string `env:"RPC_URL" envDefault:"ws://127.0.0.1:9944"`
	SeedPhrase string `env:"SEED_PHRASE"`
	StorePath  string `env:"STORE_PATH" envDefault:"tictactoe.db"`
	RedisAddr  string `env:"REDIS_ADDR"`
	LogLevel   string `env:"LOG_LEVEL" envDefault:"info"`
}

// LoadConfig reads .env when present, then parses the environment.
func LoadConfig() (Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}
