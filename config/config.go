package config

import (
	"flag"
	"fmt"
	"log"
	"os"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	Server struct {
		HTTPAddr  string  `yaml:"http_addr"`
		LogLevel  string  `yaml:"log_level"`
		LogFormat string  `yaml:"log_format"`
		RateLimit float64 `yaml:"rate_limit"`
		RateBurst int     `yaml:"rate_burst"`
	} `yaml:"server"`

	Queue struct {
		// Backend selects the job queue: memory or redis
		Backend       string `yaml:"backend"`
		MaxAttempts   int    `yaml:"max_attempts"`
		BackoffBaseMS int    `yaml:"backoff_base_ms"`
		Concurrency   int    `yaml:"concurrency"`
	} `yaml:"queue"`

	Store struct {
		// Backend selects the order store: memory or pebble
		Backend string `yaml:"backend"`
		Path    string `yaml:"path"`
	} `yaml:"store"`

	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
	} `yaml:"redis"`

	Kafka struct {
		Enabled    bool   `yaml:"enabled"`
		BrokerAddr string `yaml:"broker_addr"`
		Topic      string `yaml:"topic"`
	} `yaml:"kafka"`

	Pipeline struct {
		// ApplyFeeToOutput deducts the venue fee from amountOut
		ApplyFeeToOutput bool `yaml:"apply_fee_to_output"`
	} `yaml:"pipeline"`

	Otel struct {
		Enabled  bool   `yaml:"enabled"`
		Endpoint string `yaml:"endpoint"`
	} `yaml:"otel"`
}

// Default configuration values
var (
	configFile  = flag.String("config", "", "Path to config file (YAML)")
	httpPort    = flag.Int("http_port", 8080, "The HTTP server port")
	logLevel    = flag.String("log_level", "info", "Log level: debug, info, warn, error")
	logFormat   = flag.String("log_format", "pretty", "Log format: json, pretty")
	concurrency = flag.Int("concurrency", 10, "Worker pool size")
)

// LoadConfig loads the configuration from command line flags and optionally from a config file
func LoadConfig() (*Config, error) {
	flag.Parse()

	config := &Config{}
	config.Server.HTTPAddr = fmt.Sprintf(":%d", *httpPort)
	config.Server.LogLevel = *logLevel
	config.Server.LogFormat = *logFormat
	config.Server.RateLimit = 50
	config.Server.RateBurst = 100
	config.Queue.Backend = "memory"
	config.Queue.MaxAttempts = 3
	config.Queue.BackoffBaseMS = 2000
	config.Queue.Concurrency = *concurrency
	config.Store.Backend = "memory"
	config.Store.Path = "data/orders"
	config.Redis.Addr = "localhost:6379"
	config.Kafka.BrokerAddr = "localhost:9092"
	config.Kafka.Topic = "swap-settlements"
	config.Otel.Endpoint = "localhost:4317"

	if *configFile != "" {
		yamlFile, err := os.ReadFile(*configFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}

		if err := yaml.Unmarshal(yamlFile, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}

		log.Printf("Loaded configuration from %s", *configFile)
	}

	if err := validate(config); err != nil {
		return nil, err
	}
	return config, nil
}

func validate(config *Config) error {
	switch config.Queue.Backend {
	case "memory", "redis":
	default:
		return fmt.Errorf("unknown queue backend %q", config.Queue.Backend)
	}
	switch config.Store.Backend {
	case "memory", "pebble":
	default:
		return fmt.Errorf("unknown store backend %q", config.Store.Backend)
	}
	if config.Queue.MaxAttempts < 1 {
		return fmt.Errorf("queue.max_attempts must be at least 1")
	}
	if config.Queue.Concurrency < 1 {
		return fmt.Errorf("queue.concurrency must be at least 1")
	}
	return nil
}
