// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package bus

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ManuGH/framegate/internal/metrics"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func getCounterValue(t *testing.T, counter prometheus.Counter) float64 {
	t.Helper()
	metric := &dto.Metric{}
	require.NoError(t, counter.Write(metric))
	return metric.GetCounter().GetValue()
}

func TestMemoryBus_DeliversToAllSubscribers(t *testing.T) {
	b := NewMemoryBus()
	a, err := b.Subscribe(context.Background(), "vision.streams.s1")
	require.NoError(t, err)
	c, err := b.Subscribe(context.Background(), "vision.streams.s1")
	require.NoError(t, err)
	other, err := b.Subscribe(context.Background(), "vision.streams.s2")
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close(); _ = c.Close(); _ = other.Close() })

	require.NoError(t, b.Publish(context.Background(), "vision.streams.s1", []byte(`{"n":1}`)))

	assert.Equal(t, []byte(`{"n":1}`), <-a.C())
	assert.Equal(t, []byte(`{"n":1}`), <-c.C())
	select {
	case msg := <-other.C():
		t.Fatalf("unexpected message on other topic: %s", msg)
	default:
	}
}

func TestMemoryBus_FullSubscriberDropsInsteadOfBlocking(t *testing.T) {
	b := NewMemoryBus()
	sub, err := b.Subscribe(context.Background(), "topic")
	require.NoError(t, err)
	t.Cleanup(func() { _ = sub.Close() })

	for i := 0; i < cap(sub.C()); i++ {
		require.NoError(t, b.Publish(context.Background(), "topic", []byte("msg")))
	}

	before := getCounterValue(t, metrics.BusDroppedTotal.WithLabelValues("topic", "subscriber_full"))

	done := make(chan error, 1)
	go func() { done <- b.Publish(context.Background(), "topic", []byte("overflow")) }()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a full subscriber")
	}

	after := getCounterValue(t, metrics.BusDroppedTotal.WithLabelValues("topic", "subscriber_full"))
	assert.Equal(t, before+1, after)
}

func TestMemoryBus_CancelledContext(t *testing.T) {
	b := NewMemoryBus()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	before := getCounterValue(t, metrics.BusDroppedTotal.WithLabelValues("topic", "canceled"))
	err := b.Publish(ctx, "topic", []byte("x"))
	require.ErrorIs(t, err, context.Canceled)
	assert.Greater(t, getCounterValue(t, metrics.BusDroppedTotal.WithLabelValues("topic", "canceled")), before)
}

func TestMemoryBus_RejectsNilContext(t *testing.T) {
	b := NewMemoryBus()
	//nolint:staticcheck // nil context is the case under test
	err := b.Publish(nil, "topic", []byte("msg"))
	require.Error(t, err)
	require.Contains(t, err.Error(), "context is nil")
}

func TestMemoryBus_CloseIsIdempotentAndRaceFree(t *testing.T) {
	b := NewMemoryBus()
	var wg sync.WaitGroup
	stop := make(chan struct{})

	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
				_ = b.Publish(context.Background(), "topic", []byte("x"))
			}
		}
	}()

	for i := 0; i < 100; i++ {
		sub, err := b.Subscribe(context.Background(), "topic")
		require.NoError(t, err)
		require.NoError(t, sub.Close())
		require.NoError(t, sub.Close())
	}
	close(stop)
	wg.Wait()
	assert.Equal(t, 0, b.Subscribers("topic"))
}

type errPublisher struct{ err error }

func (e errPublisher) Publish(context.Context, string, []byte) error { return e.err }

func TestFanout_JoinsErrors(t *testing.T) {
	mem := NewMemoryBus()
	sub, err := mem.Subscribe(context.Background(), "t")
	require.NoError(t, err)
	defer sub.Close()

	boom := errors.New("boom")
	f := Fanout{errPublisher{boom}, mem}
	err = f.Publish(context.Background(), "t", []byte("p"))
	require.ErrorIs(t, err, boom)
	assert.Equal(t, []byte("p"), <-sub.C())

	assert.NoError(t, Fanout{mem}.Publish(context.Background(), "t", []byte("q")))
}
