package service

import (
	"sync"

	"chatstream/internal/constants"
	"chatstream/internal/metrics"
	"chatstream/internal/models"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Subscriber is one connected viewer's event feed. Events arrive on a
// buffered channel; if the viewer cannot drain it fast enough, newer
// events are dropped for that subscriber only.
type Subscriber struct {
	id     string
	events chan models.Event
}

// ID returns the subscriber's opaque identifier, used in logs and metrics.
func (s *Subscriber) ID() string {
	return s.id
}

// Events is the feed the viewer reads from. It is closed on unsubscribe.
func (s *Subscriber) Events() <-chan models.Event {
	return s.events
}

// FanoutBus broadcasts ingestion results to every connected viewer. It is
// an explicitly owned instance injected into its users; there is no
// process-wide registry. Publish never blocks on a subscriber: a full
// buffer means that subscriber misses the event. There is no persistence,
// no replay, no acknowledgement, and no per-subscriber filtering.
type FanoutBus struct {
	mu          sync.RWMutex
	subscribers map[*Subscriber]struct{}
	bufferSize  int
	logger      *logrus.Logger
}

func NewFanoutBus(bufferSize int, logger *logrus.Logger) *FanoutBus {
	if bufferSize <= 0 {
		bufferSize = constants.DefaultSubscriberBufferSize
	}
	return &FanoutBus{
		subscribers: make(map[*Subscriber]struct{}),
		bufferSize:  bufferSize,
		logger:      logger,
	}
}

// Subscribe registers a new viewer and returns its event feed.
func (b *FanoutBus) Subscribe() *Subscriber {
	sub := &Subscriber{
		id:     uuid.NewString(),
		events: make(chan models.Event, b.bufferSize),
	}

	b.mu.Lock()
	b.subscribers[sub] = struct{}{}
	count := len(b.subscribers)
	b.mu.Unlock()

	metrics.SetGauge("fanout_subscribers", float64(count), nil, "Currently connected subscribers")
	b.logger.WithField(LogFieldSubscriberID, sub.id).Debug("Subscriber joined")
	return sub
}

// Unsubscribe removes the viewer and closes its feed. Safe to call once
// per subscriber; events published afterwards are simply missed.
func (b *FanoutBus) Unsubscribe(sub *Subscriber) {
	b.mu.Lock()
	_, present := b.subscribers[sub]
	if present {
		delete(b.subscribers, sub)
		// Sends only happen under the read lock, so closing here cannot
		// race a publish.
		close(sub.events)
	}
	count := len(b.subscribers)
	b.mu.Unlock()

	if present {
		metrics.SetGauge("fanout_subscribers", float64(count), nil, "Currently connected subscribers")
		b.logger.WithField(LogFieldSubscriberID, sub.id).Debug("Subscriber left")
	}
}

// Publish delivers event to every current subscriber independently. A slow
// or congested subscriber never blocks the publisher or its peers.
func (b *FanoutBus) Publish(event models.Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for sub := range b.subscribers {
		select {
		case sub.events <- event:
		default:
			metrics.IncrementCounter("fanout_dropped_total", map[string]string{
				"event": event.Type,
			}, "Events dropped due to a full subscriber buffer")
			b.logger.WithFields(logrus.Fields{
				LogFieldSubscriberID: sub.id,
				LogFieldEvent:        event.Type,
			}).Warn("Subscriber buffer full, event dropped")
		}
	}
}

// SubscriberCount reports how many viewers are currently connected.
func (b *FanoutBus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// Close disconnects every subscriber. The bus remains usable for Publish
// calls, which then reach nobody.
func (b *FanoutBus) Close() {
	b.mu.Lock()
	for sub := range b.subscribers {
		delete(b.subscribers, sub)
		close(sub.events)
	}
	b.mu.Unlock()

	metrics.SetGauge("fanout_subscribers", 0, nil, "Currently connected subscribers")
	b.logger.Debug("Fanout bus closed")
}
