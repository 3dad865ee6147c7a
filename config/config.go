package config

import (
	"fmt"
	"os"

	"go.yaml.in/yaml/v4"
)

type Config struct {
	Database    DatabaseConfig    `yaml:"database"`
	Kafka       KafkaConfig       `yaml:"kafka"`
	Redis       RedisConfig       `yaml:"redis"`
	Telegram    TelegramConfig    `yaml:"telegram"`
	PostavkaBox PostavkaBoxConfig `yaml:"postavkabox"`
}

type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	DBName   string `yaml:"name"`
	SSLMode  string `yaml:"ssl_mode"`
}

type KafkaConfig struct {
	Host                    string `yaml:"host"`
	Port                    int    `yaml:"port"`
	CycleCollectedTopicName string `yaml:"cycle_collected_topic_name"`
}

type RedisConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

type TelegramConfig struct {
	// Пустой токен переключает notifier на dry-run транспорт (лог вместо отправки).
	BotToken string `yaml:"bot_token"`
}

type PostavkaBoxConfig struct {
	KafkaConsumerGroup     string `yaml:"kafka_consumer_group"`
	CurrentStateTTLSeconds int    `yaml:"current_state_ttl_seconds"`

	// Инстансы порталов ПВЗ, опрашиваемые коллектором. Снапшот на старте:
	// изменение списка требует рестарта.
	Instances []string `yaml:"instances"`

	// "http" — живые порталы, "fake" — детерминированный источник для стендов.
	PortalMode     string `yaml:"portal_mode"`
	PortalBaseURL  string `yaml:"portal_base_url"` // шаблон с %s вместо инстанса
	PortalUsername string `yaml:"portal_username"`
	PortalPassword string `yaml:"portal_password"`

	CollectorPollIntervalSeconds int `yaml:"collector_poll_interval_seconds"`
	CollectorConcurrency         int `yaml:"collector_concurrency"`
	CollectorFetchTimeoutSeconds int `yaml:"collector_fetch_timeout_seconds"`
	CollectorCycleBudgetSeconds  int `yaml:"collector_cycle_budget_seconds"`

	// exact | window
	SlotPolicy string `yaml:"slot_policy"`

	DispatchWorkers           int `yaml:"dispatch_workers"`
	DispatchQueueSize         int `yaml:"dispatch_queue_size"`
	DispatchMaxAttempts       int `yaml:"dispatch_max_attempts"`
	DispatchBaseBackoffMillis int `yaml:"dispatch_base_backoff_millis"`
	DispatchRatePerSecond     int `yaml:"dispatch_rate_per_second"`

	CollectorHTTPAddr string `yaml:"collector_http_addr"`
	NotifierHTTPAddr  string `yaml:"notifier_http_addr"`
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
