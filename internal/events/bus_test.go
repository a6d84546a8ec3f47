package events

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func receive(t *testing.T, ch <-chan Event) Event {
	t.Helper()
	select {
	case evt, ok := <-ch:
		require.True(t, ok, "event channel closed unexpectedly")
		return evt
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}
	return Event{}
}

func TestBusDelivers(t *testing.T) {
	defer goleak.VerifyNone(t)

	bus := NewBus(nil)
	defer bus.Stop()

	_, created := bus.Subscribe(TypeGiveawayCreated)
	_, claimed := bus.Subscribe(TypePrizeClaimed)

	bus.Publish(NewEvent(TypeGiveawayCreated, time.Now(), GiveawayCreated{GiveawayID: 1, Creator: "GALICE"}))

	evt := receive(t, created)
	assert.Equal(t, TypeGiveawayCreated, evt.Type)
	assert.NotEmpty(t, evt.ID)
	data, ok := evt.Data.(GiveawayCreated)
	require.True(t, ok, "unexpected payload %T", evt.Data)
	assert.Equal(t, uint64(1), data.GiveawayID)

	select {
	case evt := <-claimed:
		t.Fatalf("unexpected event on other type: %+v", evt)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestBusMultipleSubscribers(t *testing.T) {
	defer goleak.VerifyNone(t)

	bus := NewBus(nil)
	defer bus.Stop()

	_, a := bus.Subscribe(TypePrizeClaimed)
	_, b := bus.Subscribe(TypePrizeClaimed)
	bus.Publish(NewEvent(TypePrizeClaimed, time.Now(), PrizeClaimed{GiveawayID: 3}))

	assert.Equal(t, TypePrizeClaimed, receive(t, a).Type)
	assert.Equal(t, TypePrizeClaimed, receive(t, b).Type)
}

func TestBusUnsubscribeClosesChannel(t *testing.T) {
	defer goleak.VerifyNone(t)

	bus := NewBus(nil)
	defer bus.Stop()

	id, ch := bus.Subscribe(TypeGiveawayEnded)
	bus.Unsubscribe(TypeGiveawayEnded, id)

	_, ok := <-ch
	assert.False(t, ok)
}

type failingSubscriber struct {
	mu     sync.Mutex
	closed bool
}

func (f *failingSubscriber) Deliver(Event) error { return errors.New("connection reset") }

func (f *failingSubscriber) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
}

func (f *failingSubscriber) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func TestBusRemovesFailingSubscriber(t *testing.T) {
	defer goleak.VerifyNone(t)

	reg := prometheus.NewRegistry()
	bus := NewBus(reg)
	defer bus.Stop()

	sub := &failingSubscriber{}
	bus.RegisterSubscriber(TypeGiveawayCreated, sub)
	bus.Publish(NewEvent(TypeGiveawayCreated, time.Now(), GiveawayCreated{GiveawayID: 9}))

	require.Eventually(t, sub.isClosed, time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool {
		return testutil.ToFloat64(bus.metrics.dropped.WithLabelValues(string(TypeGiveawayCreated))) == 1
	}, time.Second, 10*time.Millisecond)
}

func TestBusStopClosesSubscribers(t *testing.T) {
	defer goleak.VerifyNone(t)

	bus := NewBus(nil)
	_, ch := bus.Subscribe(TypeGiveawayCreated)
	bus.Stop()
	bus.Stop()

	_, ok := <-ch
	assert.False(t, ok)

	// Publishing after Stop is a silent no-op.
	bus.Publish(NewEvent(TypeGiveawayCreated, time.Now(), nil))
}
