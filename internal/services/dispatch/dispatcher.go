package dispatch

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/BearBump/PostavkaBox/internal/cache/rediscache"
	"github.com/BearBump/PostavkaBox/internal/transport/telegram"
)

// RateLimiter — секундное окно, общее на все реплики notifier'а.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int64, window time.Duration) (bool, int64, error)
}

type Config struct {
	Workers       int
	QueueSize     int
	MaxAttempts   int
	BaseBackoff   time.Duration
	RatePerSecond int64
	RateKeyPrefix string
}

func (c *Config) withDefaults() {
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 256
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 5
	}
	if c.BaseBackoff <= 0 {
		c.BaseBackoff = 500 * time.Millisecond
	}
	if c.RatePerSecond <= 0 {
		c.RatePerSecond = 25
	}
	if c.RateKeyPrefix == "" {
		c.RateKeyPrefix = "rl:tg"
	}
}

// Job — одно уведомление одному получателю.
type Job struct {
	ChatID   int64
	Text     string
	PvsName  string
	ReportID string
}

type Stats struct {
	Sent    uint64 `json:"sent"`
	Failed  uint64 `json:"failed"`
	Retried uint64 `json:"retried"`
	Queued  int    `json:"queued"`
}

// Dispatcher раздаёт уведомления пулу воркеров через ограниченную очередь.
// Полная очередь тормозит Enqueue — backpressure уходит вверх по конвейеру
// вместо потери сообщений. Сбой одного получателя не трогает остальных.
type Dispatcher struct {
	transport telegram.Transport
	limiter   RateLimiter
	cfg       Config
	logger    *slog.Logger

	jobs chan Job
	wg   sync.WaitGroup

	sent    atomic.Uint64
	failed  atomic.Uint64
	retried atomic.Uint64
}

func New(transport telegram.Transport, limiter RateLimiter, cfg Config, logger *slog.Logger) *Dispatcher {
	cfg.withDefaults()
	return &Dispatcher{
		transport: transport,
		limiter:   limiter,
		cfg:       cfg,
		logger:    logger,
		jobs:      make(chan Job, cfg.QueueSize),
	}
}

// Run запускает воркеров и блокируется до отмены ctx. Уже взятые в работу
// сообщения довозятся, очередь после отмены не вычитывается.
func (d *Dispatcher) Run(ctx context.Context) {
	for i := 0; i < d.cfg.Workers; i++ {
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case job := <-d.jobs:
					d.deliver(ctx, job)
				}
			}
		}()
	}
	<-ctx.Done()
	d.wg.Wait()
}

// Enqueue ставит уведомление в очередь, блокируясь при заполнении.
func (d *Dispatcher) Enqueue(ctx context.Context, job Job) error {
	select {
	case d.jobs <- job:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dispatcher) Stats() Stats {
	return Stats{
		Sent:    d.sent.Load(),
		Failed:  d.failed.Load(),
		Retried: d.retried.Load(),
		Queued:  len(d.jobs),
	}
}

func (d *Dispatcher) deliver(ctx context.Context, job Job) {
	for attempt := 1; attempt <= d.cfg.MaxAttempts; attempt++ {
		if err := d.waitToken(ctx); err != nil {
			return
		}

		err := d.transport.Send(ctx, job.ChatID, job.Text)
		if err == nil {
			d.sent.Add(1)
			return
		}
		if telegram.IsPermanent(err) {
			d.failed.Add(1)
			d.logger.Warn("notification undeliverable",
				"chat_id", job.ChatID, "pvs", job.PvsName, "report_id", job.ReportID, "error", err)
			return
		}

		if attempt == d.cfg.MaxAttempts {
			break
		}
		d.retried.Add(1)

		backoff := d.cfg.BaseBackoff << (attempt - 1)
		if hint := telegram.RetryAfterOf(err); hint > backoff {
			backoff = hint
		}
		if !sleepCtx(ctx, backoff) {
			return
		}
	}

	d.failed.Add(1)
	d.logger.Error("notification dropped after retries",
		"chat_id", job.ChatID, "pvs", job.PvsName, "report_id", job.ReportID, "attempts", d.cfg.MaxAttempts)
}

// waitToken крутится, пока секундное окно не даст слот. Ошибка Redis не
// останавливает доставку: лимитер — предохранитель, а не точный счётчик.
func (d *Dispatcher) waitToken(ctx context.Context) error {
	for {
		key := rediscache.SecondKey(d.cfg.RateKeyPrefix, time.Now())
		allowed, _, err := d.limiter.Allow(ctx, key, d.cfg.RatePerSecond, 2*time.Second)
		if err != nil {
			d.logger.Warn("rate limiter unavailable, sending anyway", "error", err)
			return nil
		}
		if allowed {
			return nil
		}
		if !sleepCtx(ctx, 50*time.Millisecond) {
			return ctx.Err()
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
