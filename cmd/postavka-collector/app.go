package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/BearBump/PostavkaBox/config"
	"github.com/BearBump/PostavkaBox/internal/broker/kafka"
	"github.com/BearBump/PostavkaBox/internal/integrations/pvsportal"
	"github.com/BearBump/PostavkaBox/internal/integrations/pvsportal/fake"
	"github.com/BearBump/PostavkaBox/internal/integrations/pvsportal/portalhttp"
	"github.com/BearBump/PostavkaBox/internal/services/collector"
)

type collectorFactories struct {
	newProducer func(cfg *config.Config) collector.Producer
	newSource   func(cfg *config.Config) pvsportal.Client
}

func defaultCollectorFactories() collectorFactories {
	return collectorFactories{
		newProducer: func(cfg *config.Config) collector.Producer {
			topic := cfg.Kafka.CycleCollectedTopicName
			if topic == "" {
				topic = "postavka.cycle.collected"
			}
			brokers := []string{fmt.Sprintf("%s:%d", cfg.Kafka.Host, cfg.Kafka.Port)}
			return kafka.NewProducer(brokers, topic)
		},
		newSource: func(cfg *config.Config) pvsportal.Client {
			// Живые порталы только при mode=http с заданным base_url,
			// иначе — локальный fake.
			if cfg.PostavkaBox.PortalMode == "http" && cfg.PostavkaBox.PortalBaseURL != "" {
				return portalhttp.New(
					cfg.PostavkaBox.PortalBaseURL,
					cfg.PostavkaBox.PortalUsername,
					cfg.PostavkaBox.PortalPassword,
				)
			}
			return fake.New()
		},
	}
}

func RunCollector(ctx context.Context, cfg *config.Config, f collectorFactories) error {
	pollInterval := time.Duration(cfg.PostavkaBox.CollectorPollIntervalSeconds) * time.Second
	if pollInterval <= 0 {
		pollInterval = 60 * time.Second
	}
	concurrency := cfg.PostavkaBox.CollectorConcurrency
	if concurrency <= 0 {
		concurrency = 5
	}
	fetchTimeout := time.Duration(cfg.PostavkaBox.CollectorFetchTimeoutSeconds) * time.Second
	if fetchTimeout <= 0 {
		fetchTimeout = 20 * time.Second
	}
	cycleBudget := time.Duration(cfg.PostavkaBox.CollectorCycleBudgetSeconds) * time.Second
	if cycleBudget <= 0 {
		cycleBudget = 5 * time.Minute
	}

	if len(cfg.PostavkaBox.Instances) == 0 {
		slog.Warn("no pvs instances configured, collector will idle")
	}

	producer := f.newProducer(cfg)
	source := f.newSource(cfg)

	c := collector.New(source, producer, cfg.PostavkaBox.Instances).
		WithSettings(pollInterval, concurrency, fetchTimeout, cycleBudget)

	httpErrCh := make(chan error, 1)
	go func() {
		httpErrCh <- runCollectorHTTPServer(ctx, collectorHTTPOpts{
			httpAddr:  cfg.PostavkaBox.CollectorHTTPAddr,
			collector: c,
			cfg:       cfg,
		})
	}()

	err := c.Run(ctx)
	<-httpErrCh
	return err
}
