// Package config provides configuration for the stream service.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds stream service configuration.
type Config struct {
	// Service
	ServiceName string
	Port        string
	LogLevel    string

	// Kafka ingress
	KafkaBrokers      []string
	ConsumerGroup     string
	FleetTopic        string
	TacticalTopic     string
	MeshActivityTopic string
	MeshHostTopic     string

	// Kafka outbound
	OutboundTopic       string
	OutboundCompression string
	OutboundRetries     int
	OutboundTimeout     time.Duration

	// ClickHouse durable log
	ClickHouseHosts    []string
	ClickHouseDatabase string
	ClickHouseTable    string
	ClickHouseUser     string
	ClickHousePassword string
	ClickHouseTimeout  time.Duration
	ClickHouseCompress string

	// Redis context cache
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	CacheTimeout  time.Duration

	// Event type mapping
	EventTypeOverlayPath string

	// Stream join
	JoinWindow        time.Duration
	JoinSweepInterval time.Duration
}

// Load loads configuration from environment variables.
func Load() *Config {
	return &Config{
		// Service
		ServiceName: getEnv("SERVICE_NAME", "stream"),
		Port:        getEnv("PORT", "8094"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),

		// Kafka ingress
		KafkaBrokers:      strings.Split(getEnv("KAFKA_BROKERS", "localhost:9092"), ","),
		ConsumerGroup:     getEnv("KAFKA_CONSUMER_GROUP", "stream-service"),
		FleetTopic:        getEnv("KAFKA_FLEET_TOPIC", "cdc.fleet.activities"),
		TacticalTopic:     getEnv("KAFKA_TACTICAL_TOPIC", "cdc.tactical.history"),
		MeshActivityTopic: getEnv("KAFKA_MESH_ACTIVITY_TOPIC", "cdc.mesh.events"),
		MeshHostTopic:     getEnv("KAFKA_MESH_HOST_TOPIC", "cdc.mesh.hostevents"),

		// Kafka outbound
		OutboundTopic:       getEnv("KAFKA_OUTBOUND_TOPIC", "events.unified"),
		OutboundCompression: getEnv("KAFKA_OUTBOUND_COMPRESSION", "snappy"),
		OutboundRetries:     getEnvInt("KAFKA_OUTBOUND_RETRIES", 3),
		OutboundTimeout:     getEnvDuration("KAFKA_OUTBOUND_TIMEOUT", "10s"),

		// ClickHouse durable log
		ClickHouseHosts:    strings.Split(getEnv("CLICKHOUSE_HOSTS", "localhost:9000"), ","),
		ClickHouseDatabase: getEnv("CLICKHOUSE_DATABASE", "openframe"),
		ClickHouseTable:    getEnv("CLICKHOUSE_TABLE", "unified_events"),
		ClickHouseUser:     getEnv("CLICKHOUSE_USER", "default"),
		ClickHousePassword: getEnv("CLICKHOUSE_PASSWORD", ""),
		ClickHouseTimeout:  getEnvDuration("CLICKHOUSE_TIMEOUT", "10s"),
		ClickHouseCompress: getEnv("CLICKHOUSE_COMPRESSION", "lz4"),

		// Redis context cache
		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),
		CacheTimeout:  getEnvDuration("CACHE_TIMEOUT", "2s"),

		// Event type mapping
		EventTypeOverlayPath: getEnv("EVENT_TYPE_OVERLAY", ""),

		// Stream join
		JoinWindow:        getEnvDuration("JOIN_WINDOW", "5s"),
		JoinSweepInterval: getEnvDuration("JOIN_SWEEP_INTERVAL", "1s"),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvDuration(key, defaultValue string) time.Duration {
	value := getEnv(key, defaultValue)
	d, err := time.ParseDuration(value)
	if err != nil {
		d, _ = time.ParseDuration(defaultValue)
	}
	return d
}
