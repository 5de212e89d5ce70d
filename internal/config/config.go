// SPDX-License-Identifier: AGPL-3.0-or-later
// gb28181-sipgw - GB/T 28181 SIP signaling gateway
// Copyright (C) 2026 gb28181-sipgw contributors
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.

// Package config loads gateway configuration from the environment, with an
// optional YAML file overlay, behind a process-wide singleton.
package config

import (
	"crypto/sha256"
	"os"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/crypto/pbkdf2"
	"gopkg.in/yaml.v3"
	"k8s.io/klog/v2"
)

// StoreDriver selects the Registry's persistence backend.
type StoreDriver string

const (
	// StoreDriverMemory is the in-memory, process-local Registry backend.
	StoreDriverMemory StoreDriver = "memory"
	// StoreDriverRedis shares Registry state across processes via Redis.
	StoreDriverRedis StoreDriver = "redis"
	// StoreDriverSQL persists Registry state to a SQLite database.
	StoreDriverSQL StoreDriver = "sql"
)

// Redis configures the optional Redis-backed Store and PubSub fan-out.
type Redis struct {
	Enabled  bool
	Host     string
	Port     int
	Password string
}

// SQL configures the optional SQLite-backed Store.
type SQL struct {
	DSN string
}

// SIP configures the signaling engine itself.
type SIP struct {
	Host                 string
	Port                 int
	MyIP                 string
	Domain               string
	ID                   string
	Password             string
	Algorithm            string
	Nonce                string
	Realm                string
	SocketRecvBufferSize int
	StreamTimeoutSeconds int
	DeviceTimeoutSeconds int
	MaxMessageBytes      int
}

// HTTP configures the operator control plane.
type HTTP struct {
	Bind                string
	Port                int
	BearerToken         string
	CORSHosts           []string
	RateLimitPerMinute  uint
}

// Metrics configures the Prometheus/OTel observability surface.
type Metrics struct {
	Enabled      bool
	Bind         string
	Port         int
	OTLPEndpoint string
}

// MediaAllocator configures the outbound client to the external media-port
// allocator service.
type MediaAllocator struct {
	BaseURL string
	Timeout time.Duration
}

// Config stores the complete gateway configuration.
type Config struct {
	Debug        bool
	Secret       []byte
	StoreEngine  StoreDriver
	Redis        Redis
	SQL          SQL
	SIP          SIP
	HTTP         HTTP
	Metrics      Metrics
	MediaAllocator MediaAllocator
}

var currentConfig atomic.Value //nolint:gochecknoglobals
var isInit atomic.Bool         //nolint:gochecknoglobals
var loaded atomic.Bool         //nolint:gochecknoglobals

func envInt(key string, def int) int {
	v, err := strconv.Atoi(os.Getenv(key))
	if err != nil {
		return def
	}
	return v
}

func envUint(key string, def uint) uint {
	v, err := strconv.ParseUint(os.Getenv(key), 10, 32)
	if err != nil {
		return def
	}
	return uint(v)
}

func envBool(key string) bool {
	return os.Getenv(key) != ""
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func loadConfig() Config {
	cfg := Config{
		Debug:       envBool("DEBUG"),
		StoreEngine: StoreDriver(envOr("STORE_ENGINE", string(StoreDriverMemory))),
		Redis: Redis{
			Enabled:  envBool("REDIS_ENABLED"),
			Host:     envOr("REDIS_HOST", "localhost"),
			Port:     envInt("REDIS_PORT", 6379),
			Password: os.Getenv("REDIS_PASSWORD"),
		},
		SQL: SQL{
			DSN: envOr("SQL_DSN", "gateway.sqlite3"),
		},
		SIP: SIP{
			Host:                 envOr("SIP_HOST", "0.0.0.0"),
			Port:                 envInt("SIP_PORT", 5060),
			MyIP:                 os.Getenv("SIP_MY_IP"),
			Domain:               envOr("SIP_DOMAIN", "3402000000"),
			ID:                   envOr("SIP_ID", "34020000002000000001"),
			Password:             envOr("SIP_PASSWORD", "d383cf85b0e8ce0b"),
			Algorithm:            envOr("SIP_ALGORITHM", "md5"),
			Nonce:                envOr("SIP_NONCE", "f89d0eaccaf1c90453e2f84688ec800f05"),
			Realm:                envOr("SIP_REALM", "gbt@future_oriented.com"),
			SocketRecvBufferSize: envInt("SIP_SOCKET_RECV_BUFFER_SIZE", 65535),
			StreamTimeoutSeconds: envInt("SIP_STREAM_TIMEOUT_SECONDS", 180),
			DeviceTimeoutSeconds: envInt("SIP_DEVICE_TIMEOUT_SECONDS", 300),
			MaxMessageBytes:      envInt("SIP_MAX_MESSAGE_BYTES", 65536),
		},
		HTTP: HTTP{
			Bind:               envOr("HTTP_BIND", "0.0.0.0"),
			Port:               envInt("HTTP_PORT", 8080),
			BearerToken:        os.Getenv("HTTP_BEARER_TOKEN"),
			RateLimitPerMinute: envUint("HTTP_RATE_LIMIT_PER_MINUTE", 120),
		},
		Metrics: Metrics{
			Enabled:      envBool("METRICS_ENABLED"),
			Bind:         envOr("METRICS_BIND", "0.0.0.0"),
			Port:         envInt("METRICS_PORT", 9090),
			OTLPEndpoint: os.Getenv("OTLP_ENDPOINT"),
		},
		MediaAllocator: MediaAllocator{
			BaseURL: envOr("MEDIA_ALLOCATOR_URL", "http://localhost:9000"),
			Timeout: 5 * time.Second,
		},
	}

	corsHosts := os.Getenv("HTTP_CORS_HOSTS")
	if corsHosts == "" {
		cfg.HTTP.CORSHosts = []string{
			"http://localhost:" + strconv.Itoa(cfg.HTTP.Port),
		}
	} else {
		cfg.HTTP.CORSHosts = strings.Split(corsHosts, ",")
	}

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		overlayFromFile(&cfg, path)
	}

	strSecret := os.Getenv("SECRET")
	if strSecret == "" {
		strSecret = "secret"
		klog.Warning("SECRET not set, using INSECURE default")
	}
	salt := envOr("PASSWORD_SALT", "salt")
	const iterations = 4096
	const keyLen = 32
	cfg.Secret = pbkdf2.Key([]byte(strSecret), []byte(salt), iterations, keyLen, sha256.New)

	if cfg.HTTP.BearerToken == "" {
		klog.Warning("HTTP_BEARER_TOKEN not set, control plane auth is disabled")
	}

	if cfg.Debug {
		klog.Infof("Config: %+v", cfg)
	}

	return cfg
}

// overlayFromFile reads an optional YAML file and merges any fields the
// operator set over the environment-derived defaults. Missing or malformed
// files are logged and otherwise ignored.
func overlayFromFile(cfg *Config, path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		klog.Warningf("Failed to read config file %s: %s", path, err)
		return
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		klog.Warningf("Failed to parse config file %s: %s", path, err)
	}
}

// GetConfig returns the current configuration, loading it from the
// environment on first call.
func GetConfig() *Config {
	lastInit := isInit.Swap(true)
	if !lastInit {
		currentConfig.Store(loadConfig())
		loaded.Store(true)
	}
	for !loaded.Load() {
		const loadDelay = 100 * time.Millisecond
		time.Sleep(loadDelay)
	}

	cfg, ok := currentConfig.Load().(Config)
	if !ok {
		klog.Fatal("Failed to load config")
	}
	return &cfg
}
