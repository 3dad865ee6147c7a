package postavki

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/BearBump/PostavkaBox/internal/broker/messages"
	"github.com/BearBump/PostavkaBox/internal/cache"
	"github.com/BearBump/PostavkaBox/internal/models"
	"github.com/BearBump/PostavkaBox/internal/services/dispatch"
	"github.com/BearBump/PostavkaBox/internal/services/grouper"
	"github.com/BearBump/PostavkaBox/internal/services/matcher"
	"github.com/pkg/errors"
)

type Repository interface {
	Upsert(ctx context.Context, in *models.Postavka) (models.UpsertOutcome, error)
	ListSubscriptionsByLocation(ctx context.Context, locationName string) ([]models.Subscription, error)
	ListWhitelist(ctx context.Context) (map[int64]struct{}, error)
}

type Enqueuer interface {
	Enqueue(ctx context.Context, job dispatch.Job) error
}

// Service — notifier-сторона конвейера: сообщение коллектора превращается в
// апсерты и, для реально изменившихся поставок, в уведомления подписчикам.
type Service struct {
	repo       Repository
	grouper    *grouper.Grouper
	matcher    *matcher.Matcher
	dispatcher Enqueuer
	cache      cache.BytesCache
	cacheTTL   time.Duration
	logger     *slog.Logger
}

func New(repo Repository, g *grouper.Grouper, m *matcher.Matcher, d Enqueuer, c cache.BytesCache, cacheTTL time.Duration, logger *slog.Logger) *Service {
	if cacheTTL <= 0 {
		cacheTTL = 24 * time.Hour
	}
	return &Service{
		repo:       repo,
		grouper:    g,
		matcher:    m,
		dispatcher: d,
		cache:      c,
		cacheTTL:   cacheTTL,
		logger:     logger,
	}
}

// ApplyCycleMessage обрабатывает одно kafka-сообщение коллектора.
// Возврат ошибки означает инфраструктурный сбой: offset не коммитится и
// сообщение будет повторено (апсерты идемпотентны, это безопасно).
// Битые записи и rejected-апсерты ошибкой не считаются.
func (s *Service) ApplyCycleMessage(ctx context.Context, value []byte) error {
	var msg messages.CycleCollected
	if err := json.Unmarshal(value, &msg); err != nil {
		// Мусор в топике повтором не лечится.
		s.logger.Error("drop unparseable cycle message", "error", err)
		return nil
	}

	if msg.Outcome == messages.CycleOutcomeFailed {
		errText := ""
		if msg.Error != nil {
			errText = *msg.Error
		}
		s.logger.Warn("cycle failed upstream, nothing to apply",
			"instance", msg.Instance, "kind", msg.ErrorKind, "error", errText)
		return nil
	}

	entities, malformed, err := s.grouper.GroupAndIndex(ctx, messages.ToRawShipments(msg.Records))
	if err != nil {
		return errors.Wrap(err, "group cycle records")
	}
	for _, merr := range malformed {
		s.logger.Warn("skip malformed record", "instance", msg.Instance, "error", merr)
	}
	if len(entities) == 0 {
		return nil
	}

	whitelist, err := s.repo.ListWhitelist(ctx)
	if err != nil {
		return errors.Wrap(err, "load whitelist")
	}
	subsByLocation := make(map[string][]models.Subscription)

	for _, p := range entities {
		out, err := s.repo.Upsert(ctx, p)
		if err != nil {
			return errors.Wrap(err, "upsert postavka")
		}
		if out.Result == models.UpsertRejected {
			s.logger.Warn("upsert rejected",
				"pvs", p.PvsName, "report_id", p.ReportID, "reason", out.RejectReason)
			continue
		}
		if !out.Changed {
			continue
		}

		s.cacheCurrent(ctx, out.Postavka)

		subs, ok := subsByLocation[p.PvsName]
		if !ok {
			subs, err = s.repo.ListSubscriptionsByLocation(ctx, p.PvsName)
			if err != nil {
				return errors.Wrap(err, "load subscriptions")
			}
			subsByLocation[p.PvsName] = subs
		}

		recipients := s.matcher.Match(out.Postavka, matcher.Snapshot{
			Subscriptions: subs,
			Whitelist:     whitelist,
		})
		if len(recipients) == 0 {
			continue
		}

		text := FormatReport(out.Postavka)
		for _, chatID := range recipients {
			job := dispatch.Job{
				ChatID:   chatID,
				Text:     text,
				PvsName:  p.PvsName,
				ReportID: p.ReportID,
			}
			if err := s.dispatcher.Enqueue(ctx, job); err != nil {
				return errors.Wrap(err, "enqueue notification")
			}
		}
		s.logger.Info("notifications enqueued",
			"pvs", p.PvsName, "report_id", p.ReportID,
			"result", string(out.Result), "recipients", len(recipients))
	}
	return nil
}

// cacheCurrent держит актуальное состояние поставки под рукой для ops-ручек.
// Ошибка кэша не роняет обработку.
func (s *Service) cacheCurrent(ctx context.Context, p *models.Postavka) {
	if s.cache == nil {
		return
	}
	b, err := json.Marshal(p)
	if err != nil {
		return
	}
	key := currentKey(p.PvsName, p.ReportID)
	if err := s.cache.Set(ctx, key, b, s.cacheTTL); err != nil {
		s.logger.Warn("cache current state", "key", key, "error", err)
	}
}

// CurrentState отдаёт закэшированный JSON поставки для ops-ручки notifier'а.
func (s *Service) CurrentState(ctx context.Context, pvsName, reportID string) ([]byte, bool, error) {
	if s.cache == nil {
		return nil, false, nil
	}
	return s.cache.Get(ctx, currentKey(pvsName, reportID))
}

func currentKey(pvsName, reportID string) string {
	return "postavka:" + pvsName + "|" + reportID + ":current"
}

// FormatReport собирает текст уведомления об одной поставке.
func FormatReport(p *models.Postavka) string {
	var b strings.Builder
	fmt.Fprintf(&b, "📍 Location: %s\n", p.PvsName)
	fmt.Fprintf(&b, "Shipment #%d\n", p.GroupIndex+1)
	fmt.Fprintf(&b, "Date: %s\n", p.DeliveryDate.Format("2006-01-02"))
	fmt.Fprintf(&b, "Unload started: %s\n", fmtOptTime(p.UnloadStartedAt))
	fmt.Fprintf(&b, "Closed at: %s\n", fmtOptTime(p.ClosedAt))
	fmt.Fprintf(&b, "❗Unload duration: %s\n", fmtDuration(p.UnloadDurationSeconds))
	fmt.Fprintf(&b, "Status: %s\n", capitalize(p.Status))
	fmt.Fprintf(&b, "Boxes: %d\n", p.BoxesCount)
	fmt.Fprintf(&b, "Sent: %d\n", p.Sent)
	fmt.Fprintf(&b, "Received: %d\n", p.Received)
	fmt.Fprintf(&b, "Excess: %d", p.Excess)
	return b.String()
}

func fmtOptTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.Format("2006-01-02 15:04:05")
}

func fmtDuration(seconds *int64) string {
	var s int64
	if seconds != nil {
		s = *seconds
	}
	return fmt.Sprintf("%d:%02d:%02d", s/3600, s%3600/60, s%60)
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
