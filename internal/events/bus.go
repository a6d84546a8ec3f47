package events

import (
	"errors"
	"fmt"
	"sync"

	"github.com/google/logger"
	"github.com/prometheus/client_golang/prometheus"
)

const (
	SubscriberQueueSize = 20
	AsyncQueueSize      = 1000
	AsyncWorkerPoolSize = 4
)

// ErrSubscriberFull is returned by a subscriber that cannot keep up. The
// event is dropped for that subscriber only.
var ErrSubscriberFull = errors.New("subscriber queue full")

type SubscriberID int

// Subscriber receives events from the Bus. Close must be idempotent.
type Subscriber interface {
	Deliver(Event) error
	Close()
}

type channelSubscriber struct {
	mu     sync.RWMutex
	ch     chan Event
	closed bool
}

func (c *channelSubscriber) Deliver(evt Event) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return nil
	}
	select {
	case c.ch <- evt:
		return nil
	default:
		return ErrSubscriberFull
	}
}

func (c *channelSubscriber) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.ch)
}

// Bus fans events out to subscribers from a small worker pool, so Publish
// never waits on a slow observer.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[EventType]map[SubscriberID]Subscriber
	lastID      SubscriberID
	metrics     *busMetrics

	queue    chan Event
	wg       sync.WaitGroup
	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewBus starts the delivery workers. promRegistry may be nil.
func NewBus(promRegistry prometheus.Registerer) *Bus {
	b := &Bus{
		subscribers: make(map[EventType]map[SubscriberID]Subscriber),
		queue:       make(chan Event, AsyncQueueSize),
		stopCh:      make(chan struct{}),
	}
	if promRegistry != nil {
		b.metrics = newBusMetrics(promRegistry)
	}
	for range AsyncWorkerPoolSize {
		b.wg.Add(1)
		go b.worker()
	}
	return b
}

func (b *Bus) worker() {
	defer b.wg.Done()
	for {
		select {
		case <-b.stopCh:
			return
		case evt := <-b.queue:
			b.deliver(evt)
		}
	}
}

// Subscribe returns a channel receiving events of eventType.
func (b *Bus) Subscribe(eventType EventType) (SubscriberID, <-chan Event) {
	sub := &channelSubscriber{ch: make(chan Event, SubscriberQueueSize)}
	id := b.RegisterSubscriber(eventType, sub)
	return id, sub.ch
}

// RegisterSubscriber adds a custom subscriber, such as a websocket stream.
func (b *Bus) RegisterSubscriber(eventType EventType, sub Subscriber) SubscriberID {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lastID++
	if _, ok := b.subscribers[eventType]; !ok {
		b.subscribers[eventType] = make(map[SubscriberID]Subscriber)
	}
	b.subscribers[eventType][b.lastID] = sub
	if b.metrics != nil {
		b.metrics.subscribers.WithLabelValues(string(eventType)).Inc()
	}
	return b.lastID
}

// Unsubscribe removes and closes a subscriber.
func (b *Bus) Unsubscribe(eventType EventType, id SubscriberID) {
	b.mu.Lock()
	var sub Subscriber
	if subs, ok := b.subscribers[eventType]; ok {
		if s, ok := subs[id]; ok {
			sub = s
			delete(subs, id)
			if len(subs) == 0 {
				delete(b.subscribers, eventType)
			}
			if b.metrics != nil {
				b.metrics.subscribers.WithLabelValues(string(eventType)).Dec()
			}
		}
	}
	b.mu.Unlock()
	if sub != nil {
		sub.Close()
	}
}

// Publish enqueues evt for delivery. When the queue is full the event is
// dropped and counted.
func (b *Bus) Publish(evt Event) {
	select {
	case <-b.stopCh:
		return
	default:
	}
	select {
	case b.queue <- evt:
	default:
		logger.Warningf("event queue full, dropping %s %s", evt.Type, evt.ID)
		if b.metrics != nil {
			b.metrics.dropped.WithLabelValues(string(evt.Type)).Inc()
		}
	}
}

func (b *Bus) deliver(evt Event) {
	b.mu.RLock()
	type item struct {
		id  SubscriberID
		sub Subscriber
	}
	subs := make([]item, 0, len(b.subscribers[evt.Type]))
	for id, sub := range b.subscribers[evt.Type] {
		subs = append(subs, item{id: id, sub: sub})
	}
	b.mu.RUnlock()

	for _, it := range subs {
		err := safeDeliver(it.sub, evt)
		if err == nil {
			continue
		}
		if b.metrics != nil {
			b.metrics.dropped.WithLabelValues(string(evt.Type)).Inc()
		}
		if errors.Is(err, ErrSubscriberFull) {
			logger.Warningf("subscriber %d too slow, dropped %s", it.id, evt.Type)
			continue
		}
		logger.Warningf("subscriber %d failed, removing: %v", it.id, err)
		b.Unsubscribe(evt.Type, it.id)
	}
	if b.metrics != nil {
		b.metrics.published.WithLabelValues(string(evt.Type)).Inc()
	}
}

func safeDeliver(sub Subscriber, evt Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("subscriber panic: %v", r)
		}
	}()
	return sub.Deliver(evt)
}

// Stop halts the workers and closes every subscriber. Queued events that
// were not yet delivered are discarded.
func (b *Bus) Stop() {
	b.stopOnce.Do(func() {
		close(b.stopCh)
		b.wg.Wait()

		b.mu.Lock()
		all := b.subscribers
		b.subscribers = make(map[EventType]map[SubscriberID]Subscriber)
		b.mu.Unlock()
		for _, subs := range all {
			for _, sub := range subs {
				sub.Close()
			}
		}
		if b.metrics != nil {
			b.metrics.subscribers.Reset()
		}
	})
}

type busMetrics struct {
	published   *prometheus.CounterVec
	dropped     *prometheus.CounterVec
	subscribers *prometheus.GaugeVec
}

func newBusMetrics(reg prometheus.Registerer) *busMetrics {
	m := &busMetrics{
		published: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "giveaway_events_published_total",
			Help: "Events delivered to subscribers, by type.",
		}, []string{"type"}),
		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "giveaway_events_dropped_total",
			Help: "Events dropped because of a full queue or a failing subscriber.",
		}, []string{"type"}),
		subscribers: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "giveaway_event_subscribers",
			Help: "Registered subscribers, by type.",
		}, []string{"type"}),
	}
	reg.MustRegister(m.published, m.dropped, m.subscribers)
	return m
}
