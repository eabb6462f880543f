package broadcast

import (
	"sync"

	"abuseflow/internal/constants"
	"abuseflow/internal/logger"
	"abuseflow/pkg/metrics"
	"abuseflow/pkg/models"
)

// Broadcaster fans ticket events out to live subscribers. Publish never
// blocks: a subscriber whose buffer is full loses its oldest event, so one
// slow consumer cannot stall the pipeline or its peers.
type Broadcaster struct {
	logger logger.Logger
	buffer int

	mu          sync.RWMutex
	subscribers map[int]chan models.TicketEvent
	nextID      int
	closed      bool
}

func NewBroadcaster(buffer int, log logger.Logger) *Broadcaster {
	if buffer <= 0 {
		buffer = constants.DefaultSubscriberBuffer
	}
	return &Broadcaster{
		logger:      log,
		buffer:      buffer,
		subscribers: make(map[int]chan models.TicketEvent),
	}
}

// Subscribe registers a new consumer and returns its event channel along with
// an unsubscribe function. The channel is closed on unsubscribe or shutdown.
func (b *Broadcaster) Subscribe() (<-chan models.TicketEvent, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		ch := make(chan models.TicketEvent)
		close(ch)
		return ch, func() {}
	}

	id := b.nextID
	b.nextID++
	ch := make(chan models.TicketEvent, b.buffer)
	b.subscribers[id] = ch
	metrics.BroadcastSubscribers.Set(float64(len(b.subscribers)))

	return ch, func() { b.unsubscribe(id) }
}

func (b *Broadcaster) unsubscribe(id int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch, ok := b.subscribers[id]
	if !ok {
		return
	}
	delete(b.subscribers, id)
	close(ch)
	metrics.BroadcastSubscribers.Set(float64(len(b.subscribers)))
}

// Publish delivers the event to every subscriber without blocking. When a
// buffer is full the oldest queued event is evicted to make room.
func (b *Broadcaster) Publish(event models.TicketEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return
	}

	for _, ch := range b.subscribers {
		select {
		case ch <- event:
			continue
		default:
		}

		// Buffer full: drop the oldest, then deliver. A concurrent reader may
		// drain the channel between the two selects, which is fine.
		select {
		case <-ch:
			metrics.BroadcastDroppedTotal.Inc()
		default:
		}
		select {
		case ch <- event:
		default:
			metrics.BroadcastDroppedTotal.Inc()
		}
	}
}

// SubscriberCount reports the number of live subscribers.
func (b *Broadcaster) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// Close shuts the broadcaster down and closes all subscriber channels.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subscribers {
		delete(b.subscribers, id)
		close(ch)
	}
	metrics.BroadcastSubscribers.Set(0)
}
