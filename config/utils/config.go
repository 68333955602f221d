// Package config provides utilities to load environment variables & set config structs, it includes app, logger, db, redis, amqp, prometheus, http server and swarm component settings.
package config

import (
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/crabzie/swarm-coordinator/internal/core/domain"
	"github.com/crabzie/swarm-coordinator/internal/core/service/consensus"
	"github.com/crabzie/swarm-coordinator/internal/core/service/coordinator"
	"github.com/crabzie/swarm-coordinator/internal/core/service/healing"
	"github.com/crabzie/swarm-coordinator/internal/core/service/network"
	"github.com/crabzie/swarm-coordinator/internal/core/service/optimizer"
	"github.com/spf13/viper"
	"go.uber.org/zap/zapcore"
)

// AppConfig contains environment variables for the application, infrastructure and every swarm component
type (
	AppConfig struct {
		App         *App               `mapstructure:"app"`
		Redis       *Redis             `mapstructure:"redis"`
		Logger      *Logger            `mapstructure:"logger"`
		DB          *DB                `mapstructure:"db"`
		AMQP        *AMQP              `mapstructure:"amqp"`
		Prometheus  *Prometheus        `mapstructure:"prometheus"`
		HTTP        *HTTP              `mapstructure:"http"`
		Node        *Node              `mapstructure:"node"`
		Optimizer   optimizer.Config   `mapstructure:"optimizer"`
		Network     network.Config     `mapstructure:"network"`
		Consensus   consensus.Config   `mapstructure:"consensus"`
		Coordinator coordinator.Config `mapstructure:"coordinator"`
		Healing     healing.Config     `mapstructure:"healing"`
	}

	// App contains all the environment variables for the application
	App struct {
		Name  string `mapstructure:"name"`
		Env   string `mapstructure:"env"`
		Owner string `mapstructure:"owner"`
	}

	// Redis contains all the environment variables for the cache service
	Redis struct {
		Host         string `mapstructure:"host"`
		Port         string `mapstructure:"port"`
		Addr         string `mapstructure:"addr"`
		Password     string `mapstructure:"password"`
		HeartbeatTTL string `mapstructure:"heartbeatTTL"`
	}

	// DB contains all the environment variables for the database
	DB struct {
		Connection string `mapstructure:"connection"`
		Database   string `mapstructure:"database"`
		Host       string `mapstructure:"host"`
		Port       string `mapstructure:"port"`
		User       string `mapstructure:"user"`
		Password   string `mapstructure:"password"`
		Name       string `mapstructure:"name"`
		MaxConns   int32  `mapstructure:"maxConns"` // 0 uses the pool default of 4
	}

	// AMQP contains the broker settings for events and the peer transport
	AMQP struct {
		URL            string `mapstructure:"url"`
		EventsExchange string `mapstructure:"eventsExchange"`
		PeerExchange   string `mapstructure:"peerExchange"`
	}

	// Prometheus contains the query endpoint used as a component metrics source
	Prometheus struct {
		URL string `mapstructure:"url"`
	}

	// HTTP contains the API server settings
	HTTP struct {
		Addr string `mapstructure:"addr"`
	}

	// Node describes the local swarm member
	Node struct {
		ID            string            `mapstructure:"id"`
		Domains       []string          `mapstructure:"domains"`
		Skills        []string          `mapstructure:"skills"`
		MaxComplexity int               `mapstructure:"maxComplexity"`
		MaxParallel   int               `mapstructure:"maxParallel"`
		KeyFile       string            `mapstructure:"keyFile"`
		DataDir       string            `mapstructure:"dataDir"`
		Checkpoints   string            `mapstructure:"checkpoints"` // bolt or postgres
		PeerKeys      map[string]string `mapstructure:"peerKeys"`    // Validator id to base64 public key
	}

	// Logger contains all the environment variables for the logger
	Logger struct {
		Level             string                `mapstructure:"level"`
		Development       bool                  `mapstructure:"development"`
		DisableStacktrace bool                  `mapstructure:"disableStacktrace"`
		Encoding          string                `mapstructure:"encoding"`
		EncoderConfig     zapcore.EncoderConfig `mapstructure:"encoderConfig"`
	}
)

// addZapEncoderConfig fills encoder config with zapcore types
func addZapEncoderConfig(cfg *zapcore.EncoderConfig) {
	cfg.EncodeLevel = zapcore.CapitalLevelEncoder
	cfg.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.EncodeDuration = zapcore.SecondsDurationEncoder
	cfg.EncodeCaller = zapcore.ShortCallerEncoder
	cfg.EncodeName = func(s string, pae zapcore.PrimitiveArrayEncoder) {
		pae.AppendString("[" + s + "]")
	}
}

// Defaults returns a config with every component section at its documented defaults
func Defaults() *AppConfig {
	return &AppConfig{
		App:         &App{Name: "swarm-coordinator", Env: "development"},
		Redis:       &Redis{Addr: "localhost:6379", HeartbeatTTL: "30s"},
		Logger:      &Logger{Level: "info", Encoding: "json"},
		DB:          &DB{Connection: "postgres"},
		AMQP:        &AMQP{EventsExchange: "swarm.events", PeerExchange: "swarm.peers"},
		Prometheus:  &Prometheus{},
		HTTP:        &HTTP{Addr: ":8080"},
		Node:        &Node{MaxComplexity: 10, MaxParallel: 4, DataDir: "data", Checkpoints: "bolt"},
		Optimizer:   optimizer.DefaultConfig(),
		Network:     network.DefaultConfig(),
		Consensus:   consensus.DefaultConfig(),
		Coordinator: coordinator.DefaultConfig(),
		Healing:     healing.DefaultConfig(),
	}
}

// Validate checks every component section
func (c *AppConfig) Validate() error {
	var node error
	if c.Node != nil && c.Node.Checkpoints != "bolt" && c.Node.Checkpoints != "postgres" {
		node = fmt.Errorf("%w: node.checkpoints must be bolt or postgres, got %q", domain.ErrInvalidConfig, c.Node.Checkpoints)
	}
	return errors.Join(
		node,
		c.Optimizer.Validate(),
		c.Network.Validate(),
		c.Consensus.Validate(),
		c.Coordinator.Validate(),
		c.Healing.Validate(),
	)
}

// Load reads config.yaml from the given paths, applies env overrides on top
// of the defaults and validates the result.
func Load(paths ...string) (*AppConfig, error) {
	v := viper.GetViper()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	for _, p := range paths {
		v.AddConfigPath(p)
	}

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	bindings := map[string]string{
		"app.name":       "APP_NAME",
		"db.host":        "PG_HOST",
		"db.port":        "PG_PORT",
		"db.user":        "PG_USER",
		"db.password":    "PG_PASS",
		"db.name":        "PG_DB",
		"redis.addr":     "REDIS_ADDR",
		"redis.password": "REDIS_PASSWORD",
		"amqp.url":       "MQ_URL",
		"node.id":        "NODE_ID",
		"prometheus.url": "PROMETHEUS_URL",
		"http.addr":      "HTTP_ADDR",
	}
	for key, env := range bindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("bind %s: %w", env, err)
		}
	}

	config := Defaults()
	if err := v.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("unable to decode into struct: %w", err)
	}
	addZapEncoderConfig(&config.Logger.EncoderConfig)

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// New creates a new AppConfig instance from ./config.yaml or /etc/secrets/config.yaml
func New() *AppConfig {
	config, err := Load(".", "/etc/secrets/")
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	return config
}
