package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/BearBump/PostavkaBox/config"
	"github.com/BearBump/PostavkaBox/internal/broker/kafka"
	"github.com/BearBump/PostavkaBox/internal/cache/rediscache"
	"github.com/BearBump/PostavkaBox/internal/services/dispatch"
	"github.com/BearBump/PostavkaBox/internal/services/grouper"
	"github.com/BearBump/PostavkaBox/internal/services/matcher"
	"github.com/BearBump/PostavkaBox/internal/services/postavki"
	"github.com/BearBump/PostavkaBox/internal/storage/pgpostavki"
	"github.com/BearBump/PostavkaBox/internal/transport/telegram"
)

type notifierApp struct {
	ctx        context.Context
	cancel     context.CancelFunc
	opts       notifierOpts
	svc        *postavki.Service
	dispatcher *dispatch.Dispatcher
	consumer   *kafka.Consumer
	closeDB    func()
}

func mustBootstrapNotifier() *notifierApp {
	cfgPath := os.Getenv("configPath")
	if cfgPath == "" {
		panic("configPath env var is required")
	}

	cfg, err := config.LoadConfig(cfgPath)
	if err != nil {
		panic(fmt.Sprintf("ошибка парсинга конфига, %v", err))
	}

	logger := slog.Default()

	httpAddr := cfg.PostavkaBox.NotifierHTTPAddr
	if httpAddr == "" {
		httpAddr = ":8082"
	}
	consumerGroup := cfg.PostavkaBox.KafkaConsumerGroup
	if consumerGroup == "" {
		consumerGroup = "postavka-notifier"
	}
	topic := cfg.Kafka.CycleCollectedTopicName
	if topic == "" {
		topic = "postavka.cycle.collected"
	}

	cacheTTL := time.Duration(cfg.PostavkaBox.CurrentStateTTLSeconds) * time.Second
	if cacheTTL <= 0 {
		cacheTTL = 24 * time.Hour
	}

	sslMode := cfg.Database.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	connString := fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		cfg.Database.Username, cfg.Database.Password, cfg.Database.Host, cfg.Database.Port, cfg.Database.DBName, sslMode)
	st := mustOpenPostgresWithRetry(connString, 60*time.Second)

	redisAddr := fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port)
	rc := rediscache.New(redisAddr)
	rl := rediscache.NewRateLimiter(redisAddr)

	var transport telegram.Transport
	if cfg.Telegram.BotToken != "" {
		bot, err := telegram.NewBot(cfg.Telegram.BotToken, logger)
		if err != nil {
			panic(fmt.Sprintf("telegram bot init: %v", err))
		}
		transport = bot
	} else {
		logger.Warn("telegram bot token is empty, notifications go to the log")
		transport = &telegram.LogTransport{Logger: logger}
	}

	dispatcher := dispatch.New(transport, rl, dispatch.Config{
		Workers:       cfg.PostavkaBox.DispatchWorkers,
		QueueSize:     cfg.PostavkaBox.DispatchQueueSize,
		MaxAttempts:   cfg.PostavkaBox.DispatchMaxAttempts,
		BaseBackoff:   time.Duration(cfg.PostavkaBox.DispatchBaseBackoffMillis) * time.Millisecond,
		RatePerSecond: int64(cfg.PostavkaBox.DispatchRatePerSecond),
	}, logger)

	svc := postavki.New(
		st,
		grouper.New(st),
		matcher.New(cfg.PostavkaBox.SlotPolicy),
		dispatcher,
		rc,
		cacheTTL,
		logger,
	)

	brokers := []string{fmt.Sprintf("%s:%d", cfg.Kafka.Host, cfg.Kafka.Port)}
	consumer := kafka.NewConsumer(brokers, topic, consumerGroup)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	return &notifierApp{
		ctx:    ctx,
		cancel: cancel,
		opts: notifierOpts{
			httpAddr:      httpAddr,
			topic:         topic,
			consumerGroup: consumerGroup,
		},
		svc:        svc,
		dispatcher: dispatcher,
		consumer:   consumer,
		closeDB:    st.Close,
	}
}

func mustOpenPostgresWithRetry(connString string, wait time.Duration) *pgpostavki.Storage {
	deadline := time.Now().Add(wait)
	var lastErr error
	for time.Now().Before(deadline) {
		st, err := pgpostavki.New(connString)
		if err == nil {
			return st
		}
		lastErr = err
		time.Sleep(1 * time.Second)
	}
	panic(fmt.Sprintf("postgres is not ready after %s: %v", wait, lastErr))
}

func (a *notifierApp) Close() {
	if a.cancel != nil {
		a.cancel()
	}
	if a.consumer != nil {
		_ = a.consumer.Close()
	}
	if a.closeDB != nil {
		a.closeDB()
	}
}

func (a *notifierApp) Run() error {
	return runNotifier(a.ctx, a.opts, a.svc, a.dispatcher, a.consumer)
}
