package grouper

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/BearBump/PostavkaBox/internal/integrations/pvsportal"
	"github.com/BearBump/PostavkaBox/internal/models"
	"github.com/pkg/errors"
)

const (
	timeLayout = "2006-01-02 15:04:05"
	dateLayout = "2006-01-02"
)

// IndexSource — lookup уже назначенных индексов в авторитетном сторадже.
// Группер не имеет права пересчитывать индексы в памяти: только
// дораздавать новые поверх сохранённых, иначе они поплывут между циклами.
type IndexSource interface {
	GroupIndexes(ctx context.Context, pvsName string, deliveryDate time.Time) (map[string]int, int, error)
}

// MalformedRecordError — одна битая строка. Батч при этом не роняется.
type MalformedRecordError struct {
	PvsName  string
	ReportID string
	Reason   string
}

func (e *MalformedRecordError) Error() string {
	return fmt.Sprintf("malformed record (pvs=%q, report=%q): %s", e.PvsName, e.ReportID, e.Reason)
}

type Grouper struct {
	idx IndexSource
}

func New(idx IndexSource) *Grouper {
	return &Grouper{idx: idx}
}

// GroupAndIndex валидирует сырые строки, собирает их в группы
// (pvs_name, delivery_date) и назначает group_index: уже сохранённые записи
// оставляют свой индекс, новые получают следующие по порядку created_at
// (тай-брейк — report_id). Битые строки возвращаются отдельным срезом
// ошибок и не мешают остальным.
func (g *Grouper) GroupAndIndex(ctx context.Context, recs []pvsportal.RawShipment) ([]*models.Postavka, []error, error) {
	var malformed []error
	groups := make(map[string][]*models.Postavka)
	var order []string

	for _, rec := range recs {
		p, err := normalize(rec)
		if err != nil {
			malformed = append(malformed, err)
			continue
		}
		k := p.PvsName + "|" + p.DeliveryDate.Format(dateLayout)
		if _, ok := groups[k]; !ok {
			order = append(order, k)
		}
		groups[k] = append(groups[k], p)
	}

	var out []*models.Postavka
	for _, k := range order {
		group := groups[k]
		sort.Slice(group, func(i, j int) bool {
			if !group[i].CreatedAt.Equal(group[j].CreatedAt) {
				return group[i].CreatedAt.Before(group[j].CreatedAt)
			}
			return group[i].ReportID < group[j].ReportID
		})

		assigned, maxIdx, err := g.idx.GroupIndexes(ctx, group[0].PvsName, group[0].DeliveryDate)
		if err != nil {
			return nil, malformed, errors.Wrap(err, "group index lookup")
		}

		next := maxIdx + 1
		for _, p := range group {
			if idx, ok := assigned[p.ReportID]; ok {
				p.GroupIndex = idx
				continue
			}
			p.GroupIndex = next
			next++
		}
		out = append(out, group...)
	}
	return out, malformed, nil
}

func normalize(rec pvsportal.RawShipment) (*models.Postavka, error) {
	reportID := strings.TrimSpace(rec.ReportID)
	pvsName := strings.TrimSpace(rec.PvsName)
	if reportID == "" {
		return nil, &MalformedRecordError{PvsName: pvsName, Reason: "empty report_id"}
	}
	if pvsName == "" {
		return nil, &MalformedRecordError{ReportID: reportID, Reason: "empty pvs_name"}
	}

	createdAt, err := time.Parse(timeLayout, strings.TrimSpace(rec.CreatedAt))
	if err != nil {
		return nil, &MalformedRecordError{PvsName: pvsName, ReportID: reportID, Reason: "bad created_at: " + rec.CreatedAt}
	}
	createdAt = createdAt.UTC()

	deliveryDate := createdAt.Truncate(24 * time.Hour)
	if d := strings.TrimSpace(rec.DeliveryDate); d != "" {
		deliveryDate, err = time.Parse(dateLayout, d)
		if err != nil {
			return nil, &MalformedRecordError{PvsName: pvsName, ReportID: reportID, Reason: "bad delivery_date: " + rec.DeliveryDate}
		}
	}

	unloadStartedAt, err := parseOptionalTime(rec.UnloadStartedAt)
	if err != nil {
		return nil, &MalformedRecordError{PvsName: pvsName, ReportID: reportID, Reason: "bad unload_started_at: " + rec.UnloadStartedAt}
	}
	closedAt, err := parseOptionalTime(rec.ClosedAt)
	if err != nil {
		return nil, &MalformedRecordError{PvsName: pvsName, ReportID: reportID, Reason: "bad closed_at: " + rec.ClosedAt}
	}

	sent, err := parseCount(rec.Sent)
	if err != nil {
		return nil, &MalformedRecordError{PvsName: pvsName, ReportID: reportID, Reason: "bad sent: " + rec.Sent}
	}
	received, err := parseCount(rec.Received)
	if err != nil {
		return nil, &MalformedRecordError{PvsName: pvsName, ReportID: reportID, Reason: "bad received: " + rec.Received}
	}
	excess, err := parseCount(rec.Excess)
	if err != nil {
		return nil, &MalformedRecordError{PvsName: pvsName, ReportID: reportID, Reason: "bad excess: " + rec.Excess}
	}
	boxes, err := parseCount(rec.BoxesCount)
	if err != nil {
		return nil, &MalformedRecordError{PvsName: pvsName, ReportID: reportID, Reason: "bad boxes_count: " + rec.BoxesCount}
	}

	return &models.Postavka{
		ReportID:        reportID,
		PvsName:         pvsName,
		DeliveryDate:    deliveryDate,
		CreatedAt:       createdAt,
		UnloadStartedAt: unloadStartedAt,
		ClosedAt:        closedAt,
		Status:          normalizeStatus(rec.Status),
		Sent:            sent,
		Received:        received,
		Excess:          excess,
		BoxesCount:      boxes,
	}, nil
}

// Старые порталы отдают pending/in_progress, новые — created/unloading.
func normalizeStatus(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "created", "pending":
		return models.PostavkaStatusCreated
	case "unloading", "in_progress":
		return models.PostavkaStatusUnloading
	case "closed":
		return models.PostavkaStatusClosed
	default:
		return models.PostavkaStatusUnknown
	}
}

func parseOptionalTime(raw string) (*time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" || raw == "-" {
		return nil, nil
	}
	t, err := time.Parse(timeLayout, raw)
	if err != nil {
		return nil, err
	}
	u := t.UTC()
	return &u, nil
}

func parseCount(raw string) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" || raw == "-" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, err
	}
	if n < 0 {
		return 0, fmt.Errorf("negative count %d", n)
	}
	return n, nil
}
