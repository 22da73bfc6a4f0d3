// Copyright 2025 Quintet
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config loads the governor's deployment configuration from an
// optional YAML file with environment-variable overrides, 12-Factor
// style: the file carries defaults, the environment wins.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the governor's deployment configuration
type Config struct {
	// ListenAddr is the HTTP bind address, e.g. ":8084"
	ListenAddr string `yaml:"listen_addr"`

	// DatabaseURL enables the durable Postgres policy store when set;
	// empty runs memory-only (development and tests)
	DatabaseURL string `yaml:"database_url"`

	// RedisURL enables audit stream fan-out when set
	RedisURL string `yaml:"redis_url"`

	// AuditStream is the Redis stream name for audit fan-out
	AuditStream string `yaml:"audit_stream"`

	// JWTSecret verifies governance-actor bearer tokens; empty disables
	// token verification (development only)
	JWTSecret string `yaml:"jwt_secret"`

	// CORSOrigins lists allowed origins for the API
	CORSOrigins []string `yaml:"cors_origins"`

	// RootTeamID names the single root team created at bootstrap
	RootTeamID string `yaml:"root_team_id"`

	// AuditQueueSize bounds the async decision-audit queue
	AuditQueueSize int `yaml:"audit_queue_size"`
}

// Defaults returns the built-in configuration
func Defaults() *Config {
	return &Config{
		ListenAddr:     ":8084",
		AuditStream:    "quintet:audit",
		CORSOrigins:    []string{"*"},
		RootTeamID:     "team-root",
		AuditQueueSize: 10000,
	}
}

// Load reads the YAML file at path (skipped when path is empty or the
// file does not exist) and applies environment overrides on top
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	cfg.applyEnv()

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("QUINTET_LISTEN_ADDR"); v != "" {
		c.ListenAddr = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		c.DatabaseURL = v
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		c.RedisURL = v
	}
	if v := os.Getenv("QUINTET_AUDIT_STREAM"); v != "" {
		c.AuditStream = v
	}
	if v := os.Getenv("QUINTET_JWT_SECRET"); v != "" {
		c.JWTSecret = v
	}
	if v := os.Getenv("QUINTET_CORS_ORIGINS"); v != "" {
		parts := strings.Split(v, ",")
		origins := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				origins = append(origins, p)
			}
		}
		c.CORSOrigins = origins
	}
	if v := os.Getenv("QUINTET_ROOT_TEAM_ID"); v != "" {
		c.RootTeamID = v
	}
	if v := os.Getenv("QUINTET_AUDIT_QUEUE_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.AuditQueueSize = n
		}
	}
}

func (c *Config) validate() error {
	if c.ListenAddr == "" {
		return fmt.Errorf("listen_addr cannot be empty")
	}
	if c.RootTeamID == "" {
		return fmt.Errorf("root_team_id cannot be empty")
	}
	if c.AuditQueueSize <= 0 {
		return fmt.Errorf("audit_queue_size must be positive, got %d", c.AuditQueueSize)
	}
	return nil
}
