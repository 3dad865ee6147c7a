package fake

import (
	"context"
	"fmt"
	"hash/fnv"
	"time"

	"github.com/BearBump/PostavkaBox/internal/integrations/pvsportal"
)

// FakeClient — детерминированная заглушка портала ПВЗ для локального запуска
// и тестов. По хэшу инстанса генерирует пару поставок за сегодня; часть
// инстансов "падает" с Unreachable, чтобы проверять изоляцию цикла.
type FakeClient struct {
	failEvery uint32
}

func New() *FakeClient { return &FakeClient{} }

// WithFailures включает отказ каждого n-го инстанса (по хэшу).
func (f *FakeClient) WithFailures(n int) *FakeClient {
	if n > 0 {
		f.failEvery = uint32(n)
	}
	return f
}

func (f *FakeClient) FetchShipments(ctx context.Context, instance string) ([]pvsportal.RawShipment, error) {
	if err := ctx.Err(); err != nil {
		return nil, pvsportal.NewSourceError(pvsportal.ErrTimeout, instance, err)
	}

	h := fnv.New32a()
	_, _ = h.Write([]byte(instance))
	v := h.Sum32()

	if f.failEvery > 0 && v%f.failEvery == 0 {
		return nil, pvsportal.NewSourceError(pvsportal.ErrUnreachable, instance, fmt.Errorf("fake: instance down"))
	}

	now := time.Now().UTC()
	day := now.Format("2006-01-02")
	first := now.Add(-2 * time.Hour)
	second := now.Add(-30 * time.Minute)

	out := []pvsportal.RawShipment{
		{
			ReportID:        fmt.Sprintf("R-%s-1", instance),
			PvsName:         instance,
			DeliveryDate:    day,
			CreatedAt:       first.Format("2006-01-02 15:04:05"),
			UnloadStartedAt: first.Add(10 * time.Minute).Format("2006-01-02 15:04:05"),
			ClosedAt:        first.Add(40 * time.Minute).Format("2006-01-02 15:04:05"),
			Status:          "closed",
			Sent:            "10",
			Received:        "10",
			Excess:          "0",
			BoxesCount:      "3",
		},
		{
			ReportID:        fmt.Sprintf("R-%s-2", instance),
			PvsName:         instance,
			DeliveryDate:    day,
			CreatedAt:       second.Format("2006-01-02 15:04:05"),
			UnloadStartedAt: "-",
			ClosedAt:        "-",
			Status:          "created",
			Sent:            "7",
			Received:        "0",
			Excess:          "0",
			BoxesCount:      "2",
		},
	}
	return out, nil
}
