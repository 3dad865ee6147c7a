package collector

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/BearBump/PostavkaBox/internal/broker/messages"
	"github.com/BearBump/PostavkaBox/internal/integrations/pvsportal"
	"github.com/pkg/errors"
)

type Producer interface {
	Publish(ctx context.Context, key, value []byte) error
}

// Collector опрашивает инстансы порталов ПВЗ по расписанию и публикует
// результат каждого инстанса отдельным сообщением. Сбой одного инстанса
// не трогает остальные: ошибка уезжает в то же сообщение как failed-исход.
type Collector struct {
	source   pvsportal.Client
	producer Producer

	instances []string

	pollInterval   time.Duration
	concurrency    int
	fetchTimeout   time.Duration
	cycleBudget    time.Duration
	publishRetries int

	triggerCh chan struct{}

	startedAtUnixNano   int64
	lastCycleUnixNano   atomic.Int64
	lastTriggerUnixNano atomic.Int64
	totalCycles         atomic.Int64
	totalCollected      atomic.Int64
	totalSourceErrors   atomic.Int64
	totalPublishErrors  atomic.Int64
	inFlight            atomic.Int64
	lastErrorMu         sync.Mutex
	lastError           string
}

func New(source pvsportal.Client, producer Producer, instances []string) *Collector {
	return &Collector{
		source:       source,
		producer:     producer,
		instances:    instances,
		pollInterval:   60 * time.Second,
		concurrency:    5,
		fetchTimeout:   20 * time.Second,
		cycleBudget:    5 * time.Minute,
		publishRetries: 10,
		triggerCh:      make(chan struct{}, 1),

		startedAtUnixNano: time.Now().UTC().UnixNano(),
	}
}

func (c *Collector) WithSettings(pollInterval time.Duration, concurrency int, fetchTimeout, cycleBudget time.Duration) *Collector {
	if pollInterval > 0 {
		c.pollInterval = pollInterval
	}
	if concurrency > 0 {
		c.concurrency = concurrency
	}
	if fetchTimeout > 0 {
		c.fetchTimeout = fetchTimeout
	}
	if cycleBudget > 0 {
		c.cycleBudget = cycleBudget
	}
	return c
}

// Trigger forces an immediate collect cycle (best-effort, non-blocking).
func (c *Collector) Trigger() {
	c.lastTriggerUnixNano.Store(time.Now().UTC().UnixNano())
	select {
	case c.triggerCh <- struct{}{}:
	default:
	}
}

type Stats struct {
	StartedAt          time.Time  `json:"startedAt"`
	LastCycleAt        *time.Time `json:"lastCycleAt,omitempty"`
	LastTriggerAt      *time.Time `json:"lastTriggerAt,omitempty"`
	Instances          int        `json:"instances"`
	TotalCycles        int64      `json:"totalCycles"`
	TotalCollected     int64      `json:"totalCollected"`
	TotalSourceErrors  int64      `json:"totalSourceErrors"`
	TotalPublishErrors int64      `json:"totalPublishErrors"`
	InFlight           int64      `json:"inFlight"`
	LastError          string     `json:"lastError,omitempty"`
}

func (c *Collector) Stats() Stats {
	st := Stats{
		StartedAt:          time.Unix(0, c.startedAtUnixNano).UTC(),
		Instances:          len(c.instances),
		TotalCycles:        c.totalCycles.Load(),
		TotalCollected:     c.totalCollected.Load(),
		TotalSourceErrors:  c.totalSourceErrors.Load(),
		TotalPublishErrors: c.totalPublishErrors.Load(),
		InFlight:           c.inFlight.Load(),
	}
	if n := c.lastCycleUnixNano.Load(); n > 0 {
		t := time.Unix(0, n).UTC()
		st.LastCycleAt = &t
	}
	if n := c.lastTriggerUnixNano.Load(); n > 0 {
		t := time.Unix(0, n).UTC()
		st.LastTriggerAt = &t
	}
	c.lastErrorMu.Lock()
	st.LastError = c.lastError
	c.lastErrorMu.Unlock()
	return st
}

func (c *Collector) Run(ctx context.Context) error {
	t := time.NewTicker(c.pollInterval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			c.runCycle(ctx)
		case <-c.triggerCh:
			c.runCycle(ctx)
		}
	}
}

// runCycle опрашивает все инстансы в пределах бюджета цикла. Бюджет
// страхует от зависшего портала: недоопрошенные инстансы доберёт
// следующий цикл.
func (c *Collector) runCycle(ctx context.Context) {
	now := time.Now().UTC()
	c.lastCycleUnixNano.Store(now.UnixNano())
	c.totalCycles.Add(1)

	cycleCtx, cancel := context.WithTimeout(ctx, c.cycleBudget)
	defer cancel()

	var ok, failed atomic.Int64
	sem := make(chan struct{}, c.concurrency)
	var wg sync.WaitGroup
	for i, inst := range c.instances {
		select {
		case <-cycleCtx.Done():
		case sem <- struct{}{}:
		}
		if cycleCtx.Err() != nil {
			slog.Warn("collect cycle budget exhausted", "skipped", len(c.instances)-i)
			break
		}
		wg.Add(1)
		instance := inst
		c.inFlight.Add(1)
		go func() {
			defer func() {
				c.inFlight.Add(-1)
				<-sem
				wg.Done()
			}()
			fetched, err := c.collectOne(cycleCtx, instance)
			if fetched {
				ok.Add(1)
			} else {
				failed.Add(1)
			}
			if err != nil {
				c.lastErrorMu.Lock()
				c.lastError = err.Error()
				c.lastErrorMu.Unlock()
				slog.Error("collect instance", "instance", instance, "error", err.Error())
			}
		}()
	}
	wg.Wait()

	slog.Info("collect cycle done",
		"instances", len(c.instances),
		"ok", ok.Load(), "failed", failed.Load(),
		"took", time.Since(now).String())
}

func (c *Collector) collectOne(ctx context.Context, instance string) (bool, error) {
	now := time.Now().UTC()

	fetchCtx, cancel := context.WithTimeout(ctx, c.fetchTimeout)
	records, err := c.source.FetchShipments(fetchCtx, instance)
	cancel()

	fetched := err == nil

	msg := messages.CycleCollected{
		Instance:    instance,
		CollectedAt: now,
	}
	if err != nil {
		c.totalSourceErrors.Add(1)
		msg.Outcome = messages.CycleOutcomeFailed
		msg.ErrorKind = string(pvsportal.KindOf(err))
		e := err.Error()
		msg.Error = &e
		slog.Warn("portal fetch failed",
			"instance", instance, "kind", msg.ErrorKind, "error", e)
	} else {
		c.totalCollected.Add(int64(len(records)))
		msg.Outcome = messages.CycleOutcomeSuccess
		msg.Records = messages.FromRawShipments(records)
	}

	b, err := json.Marshal(msg)
	if err != nil {
		return fetched, errors.Wrap(err, "marshal kafka msg")
	}

	// Kafka может быть не готова сразу после старта docker compose.
	// Для устойчивости делаем небольшой retry.
	var pubErr error
	for i := 0; i < c.publishRetries; i++ {
		if err := c.producer.Publish(ctx, []byte(instance), b); err == nil {
			pubErr = nil
			break
		} else {
			pubErr = err
			time.Sleep(time.Duration(150*(i+1)) * time.Millisecond)
		}
	}
	if pubErr != nil {
		c.totalPublishErrors.Add(1)
		return fetched, errors.Wrap(pubErr, "publish cycle")
	}
	return fetched, nil
}
