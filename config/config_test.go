package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "cfg.yaml")
	require.NoError(t, os.WriteFile(p, []byte(`
api:
  base_url: "http://10.0.2.2:5221"
  timeout_seconds: 15
token_store:
  backend: "file"
  dir: "/var/lib/shipper"
kafka:
  host: "localhost"
  port: 9092
  checkpoint_topic_name: "shipper.checkpoints"
redis:
  host: "localhost"
  port: 6379
  order_cache_ttl_seconds: 30
shipper:
  control_http_addr: ":8090"
  tracking_interval_seconds: 120
  location_source: "nmea"
  nmea_path: "/dev/ttyUSB0"
  nmea_baud_rate: 9600
  location_permission_granted: true
`), 0o600))

	cfg, err := LoadConfig(p)
	require.NoError(t, err)
	require.Equal(t, "http://10.0.2.2:5221", cfg.API.BaseURL)
	require.Equal(t, "file", cfg.TokenStore.Backend)
	require.Empty(t, cfg.TokenStore.Namespace)
	require.Equal(t, "shipper.checkpoints", cfg.Kafka.CheckpointTopicName)
	require.Equal(t, 30, cfg.Redis.OrderCacheTTLSeconds)
	require.Equal(t, ":8090", cfg.Shipper.ControlHTTPAddr)
	require.Equal(t, 9600, cfg.Shipper.NMEABaudRate)
	require.True(t, cfg.Shipper.LocationPermissionGranted)
}

func TestLoadConfig_Errors(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)

	p := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(p, []byte("api: [unclosed"), 0o600))
	_, err = LoadConfig(p)
	require.Error(t, err)
}
