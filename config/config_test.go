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
database:
  host: "localhost"
  port: 5432
  username: "u"
  password: "p"
  name: "db"
kafka:
  host: "localhost"
  port: 9092
  cycle_collected_topic_name: "postavka.cycle.collected"
redis:
  host: "localhost"
  port: 6379
telegram:
  bot_token: "123:abc"
postavkabox:
  kafka_consumer_group: "postavka-notifier"
  current_state_ttl_seconds: 86400
  instances:
    - "Loc1"
    - "Loc2"
  portal_mode: "fake"
  slot_policy: "exact"
  collector_poll_interval_seconds: 60
  dispatch_rate_per_second: 25
  collector_http_addr: ":8081"
  notifier_http_addr: ":8082"
`), 0o600))

	cfg, err := LoadConfig(p)
	require.NoError(t, err)
	require.Equal(t, "u", cfg.Database.Username)
	require.Equal(t, "postavka.cycle.collected", cfg.Kafka.CycleCollectedTopicName)
	require.Equal(t, 6379, cfg.Redis.Port)
	require.Equal(t, "123:abc", cfg.Telegram.BotToken)
	require.Equal(t, []string{"Loc1", "Loc2"}, cfg.PostavkaBox.Instances)
	require.Equal(t, "fake", cfg.PostavkaBox.PortalMode)
	require.Equal(t, 25, cfg.PostavkaBox.DispatchRatePerSecond)
	require.Equal(t, ":8081", cfg.PostavkaBox.CollectorHTTPAddr)
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}
