// SPDX-License-Identifier: AGPL-3.0
// Copyright 2026 Relaymesh Authors
//
// Licensed under the GNU Affero General Public License v3.0 (AGPL-3.0) (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.gnu.org/licenses/agpl-3.0.en.html
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config loads service configuration. Defaults are overridden
// by an optional YAML file, then by environment variables (a .env
// file is honored when present).
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the full service configuration.
type Config struct {
	ServerHost string `yaml:"server_host"`
	ServerPort int    `yaml:"server_port"`

	MaxAgents          int `yaml:"max_agents"`
	MaxConnections     int `yaml:"max_connections"`
	RateLimitPerMinute int `yaml:"rate_limit_per_minute"`
	MaxMessageSize     int `yaml:"max_message_size"`

	HITLEnabled        bool `yaml:"hitl_enabled"`
	HITLTimeoutSeconds int  `yaml:"hitl_timeout_seconds"`

	FRLEnabled             bool    `yaml:"frl_enabled"`
	FRLAggregationInterval int     `yaml:"frl_aggregation_interval"`
	FRLDPEpsilon           float64 `yaml:"frl_dp_epsilon"`

	StorageBackend string `yaml:"storage_backend"`
	StoragePath    string `yaml:"storage_path"`

	LogLevel string `yaml:"log_level"`
	LogFile  string `yaml:"log_file"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		ServerHost:             "0.0.0.0",
		ServerPort:             8080,
		MaxAgents:              1000,
		MaxConnections:         5000,
		RateLimitPerMinute:     100,
		MaxMessageSize:         1048576,
		HITLEnabled:            false,
		HITLTimeoutSeconds:     300,
		FRLEnabled:             false,
		FRLAggregationInterval: 60,
		FRLDPEpsilon:           1.0,
		StorageBackend:         "memory",
		StoragePath:            "./data",
		LogLevel:               "info",
	}
}

// Load builds the configuration: defaults, then the YAML file at
// yamlPath (ignored when empty or absent), then environment
// variables.
func Load(yamlPath string) (Config, error) {
	// Missing .env files are fine; explicit ones surface errors below.
	_ = godotenv.Load()

	cfg := Default()

	if yamlPath != "" {
		data, err := os.ReadFile(yamlPath)
		if err != nil && !os.IsNotExist(err) {
			return cfg, fmt.Errorf("read config file: %w", err)
		}
		if err == nil {
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return cfg, fmt.Errorf("parse config file %s: %w", yamlPath, err)
			}
		}
	}

	applyEnv(&cfg)
	return cfg, cfg.Validate()
}

func applyEnv(cfg *Config) {
	envString("SERVER_HOST", &cfg.ServerHost)
	envInt("SERVER_PORT", &cfg.ServerPort)
	envInt("MAX_AGENTS", &cfg.MaxAgents)
	envInt("MAX_CONNECTIONS", &cfg.MaxConnections)
	envInt("RATE_LIMIT_PER_MINUTE", &cfg.RateLimitPerMinute)
	envInt("MAX_MESSAGE_SIZE", &cfg.MaxMessageSize)
	envBool("HITL_ENABLED", &cfg.HITLEnabled)
	envInt("HITL_TIMEOUT_SECONDS", &cfg.HITLTimeoutSeconds)
	envBool("FRL_ENABLED", &cfg.FRLEnabled)
	envInt("FRL_AGGREGATION_INTERVAL", &cfg.FRLAggregationInterval)
	envFloat("FRL_DP_EPSILON", &cfg.FRLDPEpsilon)
	envString("STORAGE_BACKEND", &cfg.StorageBackend)
	envString("STORAGE_PATH", &cfg.StoragePath)
	envString("LOG_LEVEL", &cfg.LogLevel)
	envString("LOG_FILE", &cfg.LogFile)
}

// Validate rejects configurations the server cannot start with.
func (c Config) Validate() error {
	if c.ServerPort < 1 || c.ServerPort > 65535 {
		return fmt.Errorf("server_port %d out of range", c.ServerPort)
	}
	if c.MaxAgents < 0 {
		return fmt.Errorf("max_agents must be >= 0")
	}
	if c.HITLTimeoutSeconds < 0 {
		return fmt.Errorf("hitl_timeout_seconds must be >= 0")
	}
	if c.FRLDPEpsilon < 0 {
		return fmt.Errorf("frl_dp_epsilon must be >= 0")
	}
	switch c.StorageBackend {
	case "memory", "file", "sqlite":
	default:
		return fmt.Errorf("unknown storage_backend %q", c.StorageBackend)
	}
	return nil
}

// Addr returns the host:port the server binds.
func (c Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.ServerHost, c.ServerPort)
}

// HITLTimeout returns the approval deadline; zero means no deadline.
func (c Config) HITLTimeout() time.Duration {
	return time.Duration(c.HITLTimeoutSeconds) * time.Second
}

// FRLInterval returns the aggregation cadence.
func (c Config) FRLInterval() time.Duration {
	return time.Duration(c.FRLAggregationInterval) * time.Second
}

func envString(key string, out *string) {
	if v := os.Getenv(key); v != "" {
		*out = v
	}
}

func envInt(key string, out *int) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*out = n
		}
	}
}

func envFloat(key string, out *float64) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*out = f
		}
	}
}

func envBool(key string, out *bool) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*out = b
		}
	}
}
