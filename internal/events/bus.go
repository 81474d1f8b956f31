// Package events implements the push channel for lifecycle events.
// Delivery is best-effort fan-out: a slow subscriber loses events rather
// than stalling producers.
package events

import (
	"sync"
	"time"

	"github.com/crateseek/crateseek/internal/logger"
)

// Channel is a logical event namespace.
type Channel string

const (
	ChannelQueue     Channel = "queue"
	ChannelDownloads Channel = "downloads"
	ChannelJobs      Channel = "jobs"
)

// Event names per channel.
const (
	QueueItemAdded    = "queue:item:added"
	QueueItemUpdated  = "queue:item:updated"
	QueueStatsUpdated = "queue:stats:updated"

	DownloadTaskCreated      = "download:task:created"
	DownloadTaskUpdated      = "download:task:updated"
	DownloadProgress         = "download:progress"
	DownloadStatsUpdated     = "download:stats:updated"
	DownloadPendingSelection = "download:pending_selection"
	DownloadSelectionExpired = "download:selection_expired"

	JobStarted   = "job:started"
	JobProgress  = "job:progress"
	JobCompleted = "job:completed"
	JobFailed    = "job:failed"
	JobCancelled = "job:cancelled"
)

// Event is one delivered notification.
type Event struct {
	Channel Channel     `json:"channel"`
	Name    string      `json:"name"`
	Payload interface{} `json:"payload,omitempty"`
	At      time.Time   `json:"at"`
}

// subscriberBuffer bounds how far a consumer may lag before it starts
// losing events.
const subscriberBuffer = 64

type subscriber struct {
	id int
	ch chan Event
}

// Bus fans events out to per-channel subscribers.
type Bus struct {
	mu     sync.RWMutex
	subs   map[Channel][]*subscriber
	nextID int
	log    *logger.Logger
}

func NewBus(log *logger.Logger) *Bus {
	return &Bus{
		subs: make(map[Channel][]*subscriber),
		log:  log.WithComponent("events"),
	}
}

// Subscribe returns a receive channel for one namespace and a function
// that detaches it. After unsubscribe the channel is closed and any
// undelivered events are dropped.
func (b *Bus) Subscribe(ch Channel) (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	sub := &subscriber{id: b.nextID, ch: make(chan Event, subscriberBuffer)}
	b.subs[ch] = append(b.subs[ch], sub)

	unsubscribe := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		list := b.subs[ch]
		for i, s := range list {
			if s.id == sub.id {
				b.subs[ch] = append(list[:i], list[i+1:]...)
				close(s.ch)
				return
			}
		}
	}
	return sub.ch, unsubscribe
}

// Publish delivers to every subscriber of the channel without blocking.
// Events for a single producer arrive in emission order; a full
// subscriber buffer drops the event for that subscriber only.
func (b *Bus) Publish(ch Channel, name string, payload interface{}) {
	ev := Event{
		Channel: ch,
		Name:    name,
		Payload: payload,
		At:      time.Now().UTC(),
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, sub := range b.subs[ch] {
		select {
		case sub.ch <- ev:
		default:
			b.log.Debug("dropping event for slow subscriber", "channel", ch, "event", name)
		}
	}
}

// SubscriberCount reports attached consumers for one channel.
func (b *Bus) SubscriberCount(ch Channel) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[ch])
}
