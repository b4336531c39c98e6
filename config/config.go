package config

import (
	"fmt"
	"os"

	"go.yaml.in/yaml/v4"
)

type Config struct {
	API        APIConfig        `yaml:"api"`
	TokenStore TokenStoreConfig `yaml:"token_store"`
	Kafka      KafkaConfig      `yaml:"kafka"`
	Redis      RedisConfig      `yaml:"redis"`
	Shipper    ShipperConfig    `yaml:"shipper"`
}

type APIConfig struct {
	BaseURL        string `yaml:"base_url"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

type TokenStoreConfig struct {
	Backend   string `yaml:"backend"` // "file" | "redis"
	Dir       string `yaml:"dir"`
	Namespace string `yaml:"namespace"`
}

// KafkaConfig is optional; an empty host disables checkpoint telemetry.
type KafkaConfig struct {
	Host                string `yaml:"host"`
	Port                int    `yaml:"port"`
	CheckpointTopicName string `yaml:"checkpoint_topic_name"`
}

// RedisConfig is optional; an empty host disables the order cache.
type RedisConfig struct {
	Host                 string `yaml:"host"`
	Port                 int    `yaml:"port"`
	OrderCacheTTLSeconds int    `yaml:"order_cache_ttl_seconds"`
}

type ShipperConfig struct {
	ControlHTTPAddr         string `yaml:"control_http_addr"`
	LogLevel                string `yaml:"log_level"`
	TrackingIntervalSeconds int    `yaml:"tracking_interval_seconds"`
	SwaggerPath             string `yaml:"swagger_path"`
	LoginAttemptsPerMinute  int    `yaml:"login_attempts_per_minute"`

	LocationSource            string  `yaml:"location_source"` // "fake" | "nmea"
	LocationPermissionGranted bool    `yaml:"location_permission_granted"`
	NMEAPath                  string  `yaml:"nmea_path"`
	NMEABaudRate              int     `yaml:"nmea_baud_rate"`
	FakeStartLat              float64 `yaml:"fake_start_lat"`
	FakeStartLng              float64 `yaml:"fake_start_lng"`
}

func LoadConfig(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	err = yaml.Unmarshal(data, &config)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal YAML: %w", err)
	}

	return &config, nil
}
