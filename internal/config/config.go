/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Database backend selection.
type DatabaseBackend string

const (
	DatabasePostgres DatabaseBackend = "postgres"
	DatabaseMySQL    DatabaseBackend = "mysql"
	DatabaseSQLite   DatabaseBackend = "sqlite"
)

// Config covers process level configuration read from environment variables.
type Config struct {
	Environment  string
	PlaylistPath string
	HTTPBind     string
	HTTPPort     int
	MetricsBind  string

	// Playout settings passed through to the controller.
	TransitionDuration time.Duration
	CloseGrace         time.Duration
	OutputWidth        int
	OutputHeight       int
	SampleRate         int
	Channels           int

	// History persistence. DSN empty disables the play log.
	DBBackend DatabaseBackend
	DBDSN     string

	JWTSigningKey string

	// Media staging for s3:// playlist entries.
	MediaCacheDir     string
	S3AccessKeyID     string
	S3SecretAccessKey string
	S3Region          string
	S3Bucket          string
	S3Endpoint        string // For S3-compatible services (MinIO, Spaces, etc.)
	S3UsePathStyle    bool   // Required for MinIO

	// Tracing configuration
	TracingEnabled    bool
	OTLPEndpoint      string
	TracingSampleRate float64

	// Event bridges. Empty address disables the bridge.
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	NATSURL       string
	InstanceID    string

	// WHIP ingest gateway.
	WHIPEnabled bool
	WHIPBind    string
	WHIPPort    int
	WHIPSTUNURL string
}

// Load reads environment variables, applies defaults, and validates the result.
func Load() (*Config, error) {
	cfg := &Config{
		Environment:  getEnv("GRIMNIR_SWITCH_ENV", "development"),
		PlaylistPath: getEnv("GRIMNIR_SWITCH_PLAYLIST", "playlist.yaml"),
		HTTPBind:     getEnv("GRIMNIR_SWITCH_HTTP_BIND", "0.0.0.0"),
		HTTPPort:     getEnvInt("GRIMNIR_SWITCH_HTTP_PORT", 8080),
		MetricsBind:  getEnv("GRIMNIR_SWITCH_METRICS_BIND", "127.0.0.1:9000"),

		TransitionDuration: time.Duration(getEnvInt("GRIMNIR_SWITCH_TRANSITION_MS", 300)) * time.Millisecond,
		CloseGrace:         time.Duration(getEnvInt("GRIMNIR_SWITCH_CLOSE_GRACE_MS", 1000)) * time.Millisecond,
		OutputWidth:        getEnvInt("GRIMNIR_SWITCH_OUTPUT_WIDTH", 640),
		OutputHeight:       getEnvInt("GRIMNIR_SWITCH_OUTPUT_HEIGHT", 480),
		SampleRate:         getEnvInt("GRIMNIR_SWITCH_SAMPLE_RATE", 48000),
		Channels:           getEnvInt("GRIMNIR_SWITCH_CHANNELS", 2),

		DBBackend: DatabaseBackend(getEnv("GRIMNIR_SWITCH_DB_BACKEND", string(DatabaseSQLite))),
		DBDSN:     getEnv("GRIMNIR_SWITCH_DB_DSN", ""),

		JWTSigningKey: getEnv("GRIMNIR_SWITCH_JWT_SIGNING_KEY", ""),

		MediaCacheDir:     getEnv("GRIMNIR_SWITCH_MEDIA_CACHE_DIR", "./cache"),
		S3AccessKeyID:     getEnvAny([]string{"GRIMNIR_SWITCH_S3_ACCESS_KEY_ID", "AWS_ACCESS_KEY_ID"}, ""),
		S3SecretAccessKey: getEnvAny([]string{"GRIMNIR_SWITCH_S3_SECRET_ACCESS_KEY", "AWS_SECRET_ACCESS_KEY"}, ""),
		S3Region:          getEnvAny([]string{"GRIMNIR_SWITCH_S3_REGION", "AWS_REGION"}, "us-east-1"),
		S3Bucket:          getEnv("GRIMNIR_SWITCH_S3_BUCKET", ""),
		S3Endpoint:        getEnv("GRIMNIR_SWITCH_S3_ENDPOINT", ""),
		S3UsePathStyle:    getEnvBool("GRIMNIR_SWITCH_S3_USE_PATH_STYLE", false),

		TracingEnabled:    getEnvBool("GRIMNIR_SWITCH_TRACING_ENABLED", false),
		OTLPEndpoint:      getEnv("GRIMNIR_SWITCH_OTLP_ENDPOINT", "localhost:4317"),
		TracingSampleRate: getEnvFloat("GRIMNIR_SWITCH_TRACING_SAMPLE_RATE", 1.0),

		RedisAddr:     getEnv("GRIMNIR_SWITCH_REDIS_ADDR", ""),
		RedisPassword: getEnv("GRIMNIR_SWITCH_REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("GRIMNIR_SWITCH_REDIS_DB", 0),
		NATSURL:       getEnv("GRIMNIR_SWITCH_NATS_URL", ""),
		InstanceID:    getEnv("GRIMNIR_SWITCH_INSTANCE_ID", ""),

		WHIPEnabled: getEnvBool("GRIMNIR_SWITCH_WHIP_ENABLED", false),
		WHIPBind:    getEnv("GRIMNIR_SWITCH_WHIP_BIND", "0.0.0.0"),
		WHIPPort:    getEnvInt("GRIMNIR_SWITCH_WHIP_PORT", 8089),
		WHIPSTUNURL: getEnv("GRIMNIR_SWITCH_WHIP_STUN_URL", "stun:stun.l.google.com:19302"),
	}

	if cfg.DBBackend != DatabasePostgres && cfg.DBBackend != DatabaseMySQL && cfg.DBBackend != DatabaseSQLite {
		return nil, fmt.Errorf("unsupported database backend %q", cfg.DBBackend)
	}

	if cfg.TransitionDuration <= 0 {
		return nil, fmt.Errorf("GRIMNIR_SWITCH_TRANSITION_MS must be positive")
	}

	if cfg.CloseGrace <= 0 {
		return nil, fmt.Errorf("GRIMNIR_SWITCH_CLOSE_GRACE_MS must be positive")
	}

	if strings.EqualFold(cfg.Environment, "production") && cfg.JWTSigningKey == "" {
		return nil, fmt.Errorf("GRIMNIR_SWITCH_JWT_SIGNING_KEY must be set in production")
	}

	return cfg, nil
}

func getEnv(key, def string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return def
}

// getEnvAny returns the first non-empty environment variable value from keys, or def if none set.
func getEnvAny(keys []string, def string) string {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return def
}

func getEnvInt(key string, def int) int {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.Atoi(val); err == nil {
			return parsed
		}
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		v = strings.ToLower(strings.TrimSpace(v))
		switch v {
		case "true", "1", "yes":
			return true
		case "false", "0", "no":
			return false
		}
	}
	return def
}

func getEnvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if parsed, err := strconv.ParseFloat(v, 64); err == nil {
			return parsed
		}
	}
	return def
}
