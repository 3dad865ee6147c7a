package main

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"testing"
	"time"

	"github.com/BearBump/PostavkaBox/internal/broker/messages"
	"github.com/BearBump/PostavkaBox/internal/models"
	"github.com/BearBump/PostavkaBox/internal/services/dispatch"
	"github.com/BearBump/PostavkaBox/internal/services/grouper"
	"github.com/BearBump/PostavkaBox/internal/services/matcher"
	"github.com/BearBump/PostavkaBox/internal/services/postavki"
	"github.com/stretchr/testify/require"
)

// nopRepo — минимальный репозиторий: всё создаётся, подписок нет.
type nopRepo struct{}

func (nopRepo) Upsert(_ context.Context, in *models.Postavka) (models.UpsertOutcome, error) {
	cp := *in
	return models.UpsertOutcome{Result: models.UpsertCreated, Changed: true, Postavka: &cp}, nil
}

func (nopRepo) GroupIndexes(context.Context, string, time.Time) (map[string]int, int, error) {
	return map[string]int{}, -1, nil
}

func (nopRepo) ListSubscriptionsByLocation(context.Context, string) ([]models.Subscription, error) {
	return nil, nil
}

func (nopRepo) ListWhitelist(context.Context) (map[int64]struct{}, error) {
	return map[int64]struct{}{}, nil
}

type nopTransport struct{}

func (nopTransport) Send(context.Context, int64, string) error { return nil }

type allowAll struct{}

func (allowAll) Allow(context.Context, string, int64, time.Duration) (bool, int64, error) {
	return true, 1, nil
}

// oneShotConsumer отдаёт одно сообщение и блокируется до отмены контекста.
type oneShotConsumer struct {
	value    []byte
	consumed chan struct{}
}

func (c *oneShotConsumer) Consume(ctx context.Context, handler func(key, value []byte) error) error {
	if err := handler([]byte("Loc1"), c.value); err != nil {
		return err
	}
	close(c.consumed)
	<-ctx.Done()
	return ctx.Err()
}

func testService(t *testing.T) (*postavki.Service, *dispatch.Dispatcher) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	d := dispatch.New(nopTransport{}, allowAll{}, dispatch.Config{Workers: 1}, logger)
	svc := postavki.New(nopRepo{}, grouper.New(nopRepo{}), matcher.New(matcher.PolicyExact), d, nil, time.Hour, logger)
	return svc, d
}

func TestRunNotifier_ConsumesAndServesStats(t *testing.T) {
	svc, d := testService(t)

	msg, err := json.Marshal(messages.CycleCollected{
		Instance: "Loc1",
		Outcome:  messages.CycleOutcomeSuccess,
		Records: []messages.RawShipment{{
			ReportID:     "R1",
			PvsName:      "Loc1",
			DeliveryDate: "2025-09-01",
			CreatedAt:    "2025-09-01 10:00:00",
			Status:       "created",
		}},
	})
	require.NoError(t, err)
	consumer := &oneShotConsumer{value: msg, consumed: make(chan struct{})}

	ctx, cancel := context.WithCancel(context.Background())
	addrCh := make(chan string, 1)
	done := make(chan error, 1)
	go func() {
		done <- runNotifier(ctx, notifierOpts{
			httpAddr: "127.0.0.1:0",
			onListen: func(a string) { addrCh <- a },
		}, svc, d, consumer)
	}()

	var addr string
	select {
	case addr = <-addrCh:
	case <-time.After(5 * time.Second):
		t.Fatal("notifier did not start")
	}

	select {
	case <-consumer.consumed:
	case <-time.After(5 * time.Second):
		t.Fatal("message was not consumed")
	}

	resp, err := http.Get("http://" + addr + "/stats")
	require.NoError(t, err)
	var stats dispatch.Stats
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&stats))
	resp.Body.Close()

	// кэш не подключён — ручка честно отвечает 404
	resp, err = http.Get("http://" + addr + "/postavki/current?pvs=Loc1&report=R1")
	require.NoError(t, err)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()

	resp, err = http.Get("http://" + addr + "/healthz")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.JSONEq(t, `{"status":"ok"}`, string(body))

	cancel()
	require.ErrorIs(t, <-done, context.Canceled)
}

func TestRunNotifier_BadAddr(t *testing.T) {
	svc, d := testService(t)
	consumer := &oneShotConsumer{value: []byte("{}"), consumed: make(chan struct{})}
	err := runNotifier(context.Background(), notifierOpts{httpAddr: "256.0.0.1:99999"}, svc, d, consumer)
	require.Error(t, err)
}
