// Package config loads the orchestrator's ambient configuration: ports,
// file paths, and notification settings. Grounded in the teacher's
// cmd/cliaimonitor/main.go flag-parsing convention and
// internal/server/server.go's loadNotificationConfig (YAML with a
// log-and-continue fallback rather than a fatal error on a missing
// optional file).
package config

import (
	"flag"
	"fmt"
	"log"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the process-wide configuration, assembled from flags with
// YAML-file overrides for the optional notification section.
type Config struct {
	HTTPPort   int
	NATSPort   int
	RosterPath string
	DBPath     string
	PIDPath    string
	Notify     NotifyConfig
}

// NotifyConfig is the optional desktop-notification section.
type NotifyConfig struct {
	Enabled      bool   `yaml:"enabled"`
	AppID        string `yaml:"app_id"`
	DashboardURL string `yaml:"dashboard_url"`
}

// Load parses command-line flags and, if present, a notification
// config file layered on top.
func Load(args []string) (*Config, error) {
	fs := flag.NewFlagSet("orchestrator", flag.ContinueOnError)
	httpPort := fs.Int("port", 3001, "HTTP server port")
	natsPort := fs.Int("nats-port", 4222, "embedded NATS port")
	rosterPath := fs.String("roster", "configs/roster.yaml", "agent roster file")
	dbPath := fs.String("db", "data/orchestrator.db", "SQLite database path")
	pidPath := fs.String("pid-file", "data/orchestrator.pid", "single-instance PID file path")
	notifyConfigPath := fs.String("notify-config", "configs/notify.yaml", "notification config file")

	if err := fs.Parse(args); err != nil {
		return nil, fmt.Errorf("parse flags: %w", err)
	}

	cfg := &Config{
		HTTPPort:   *httpPort,
		NATSPort:   *natsPort,
		RosterPath: *rosterPath,
		DBPath:     *dbPath,
		PIDPath:    *pidPath,
	}
	cfg.Notify = loadNotifyConfig(*notifyConfigPath)
	return cfg, nil
}

func loadNotifyConfig(path string) NotifyConfig {
	data, err := os.ReadFile(path)
	if err != nil {
		log.Printf("[CONFIG] notify config not found at %s, notifications disabled", path)
		return NotifyConfig{}
	}

	var cfg NotifyConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		log.Printf("[CONFIG] failed to parse notify config: %v", err)
		return NotifyConfig{}
	}
	return cfg
}
