package collector

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/BearBump/PostavkaBox/internal/broker/messages"
	"github.com/BearBump/PostavkaBox/internal/integrations/pvsportal"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	mu      sync.Mutex
	fetches map[string]int
	fail    map[string]error
	slow    map[string]time.Duration
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		fetches: make(map[string]int),
		fail:    make(map[string]error),
		slow:    make(map[string]time.Duration),
	}
}

func (f *fakeSource) FetchShipments(ctx context.Context, instance string) ([]pvsportal.RawShipment, error) {
	f.mu.Lock()
	f.fetches[instance]++
	delay := f.slow[instance]
	err := f.fail[instance]
	f.mu.Unlock()

	if delay > 0 {
		select {
		case <-ctx.Done():
			return nil, pvsportal.NewSourceError(pvsportal.ErrTimeout, instance, ctx.Err())
		case <-time.After(delay):
		}
	}
	if err != nil {
		return nil, err
	}
	return []pvsportal.RawShipment{{
		ReportID:  "R-" + instance,
		PvsName:   instance,
		CreatedAt: "2025-09-01 10:00:00",
		Status:    "created",
	}}, nil
}

type fakeProducer struct {
	mu        sync.Mutex
	published []messages.CycleCollected
	err       error
}

func (f *fakeProducer) Publish(_ context.Context, key, value []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	var msg messages.CycleCollected
	if err := json.Unmarshal(value, &msg); err != nil {
		return err
	}
	if msg.Instance != string(key) {
		return errors.New("message key must be the instance")
	}
	f.published = append(f.published, msg)
	return nil
}

func (f *fakeProducer) byInstance() map[string]messages.CycleCollected {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]messages.CycleCollected, len(f.published))
	for _, m := range f.published {
		out[m.Instance] = m
	}
	return out
}

func TestCollector_CycleCollectsAllInstances(t *testing.T) {
	src := newFakeSource()
	prod := &fakeProducer{}
	c := New(src, prod, []string{"loc1", "loc2", "loc3"}).
		WithSettings(time.Hour, 2, time.Second, time.Minute)

	c.runCycle(context.Background())

	got := prod.byInstance()
	require.Len(t, got, 3)
	for _, inst := range []string{"loc1", "loc2", "loc3"} {
		msg := got[inst]
		require.Equal(t, messages.CycleOutcomeSuccess, msg.Outcome)
		require.Len(t, msg.Records, 1)
		require.Equal(t, "R-"+inst, msg.Records[0].ReportID)
	}
	require.Equal(t, int64(3), c.Stats().TotalCollected)
}

func TestCollector_FailureIsolatedPerInstance(t *testing.T) {
	src := newFakeSource()
	src.fail["loc2"] = pvsportal.NewSourceError(pvsportal.ErrAuthFailure, "loc2", errors.New("401"))
	prod := &fakeProducer{}
	c := New(src, prod, []string{"loc1", "loc2", "loc3"}).
		WithSettings(time.Hour, 3, time.Second, time.Minute)

	c.runCycle(context.Background())

	got := prod.byInstance()
	require.Len(t, got, 3)
	require.Equal(t, messages.CycleOutcomeSuccess, got["loc1"].Outcome)
	require.Equal(t, messages.CycleOutcomeSuccess, got["loc3"].Outcome)

	failed := got["loc2"]
	require.Equal(t, messages.CycleOutcomeFailed, failed.Outcome)
	require.Equal(t, string(pvsportal.ErrAuthFailure), failed.ErrorKind)
	require.NotNil(t, failed.Error)
	require.Empty(t, failed.Records)

	require.Equal(t, int64(1), c.Stats().TotalSourceErrors)
	require.Equal(t, int64(2), c.Stats().TotalCollected)
}

func TestCollector_SlowInstanceHitsFetchTimeout(t *testing.T) {
	src := newFakeSource()
	src.slow["loc1"] = time.Second
	prod := &fakeProducer{}
	c := New(src, prod, []string{"loc1", "loc2"}).
		WithSettings(time.Hour, 2, 20*time.Millisecond, time.Minute)

	c.runCycle(context.Background())

	got := prod.byInstance()
	require.Equal(t, messages.CycleOutcomeFailed, got["loc1"].Outcome)
	require.Equal(t, string(pvsportal.ErrTimeout), got["loc1"].ErrorKind)
	require.Equal(t, messages.CycleOutcomeSuccess, got["loc2"].Outcome)
}

func TestCollector_TriggerForcesCycle(t *testing.T) {
	src := newFakeSource()
	prod := &fakeProducer{}
	c := New(src, prod, []string{"loc1"}).
		WithSettings(time.Hour, 1, time.Second, time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	c.Trigger()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if len(prod.byInstance()) == 1 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	require.Len(t, prod.byInstance(), 1)
	require.NotNil(t, c.Stats().LastTriggerAt)

	cancel()
	require.ErrorIs(t, <-done, context.Canceled)
}

func TestCollector_PublishErrorCounted(t *testing.T) {
	src := newFakeSource()
	prod := &fakeProducer{err: errors.New("kafka down")}
	c := New(src, prod, []string{"loc1"}).
		WithSettings(time.Hour, 1, time.Second, time.Minute)
	c.publishRetries = 2

	c.runCycle(context.Background())
	require.Equal(t, int64(1), c.Stats().TotalPublishErrors)
	require.Contains(t, c.Stats().LastError, "kafka down")
}
