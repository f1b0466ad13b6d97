package task

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Update types pushed to subscribers
const (
	UpdateStatus = "status_update"
	UpdateFinal  = "status_final"
)

// Update is one progress message delivered to subscribers.
type Update struct {
	Type     string    `json:"type"`
	TaskID   uuid.UUID `json:"taskId"`
	State    State     `json:"state"`
	Progress int       `json:"progress"`
	Message  string    `json:"message"`
}

// Subscription is a subscriber's view of the broadcast. Its channel is
// closed when the subscriber is removed, either by Unsubscribe or because it
// fell too far behind.
type Subscription struct {
	id      uint64
	updates chan Update
	once    sync.Once
}

// Updates returns the channel on which updates are delivered.
func (s *Subscription) Updates() <-chan Update {
	return s.updates
}

func (s *Subscription) close() {
	s.once.Do(func() { close(s.updates) })
}

// BroadcasterConfig holds configuration for the broadcaster
type BroadcasterConfig struct {
	// Interval between two broadcasts
	Interval time.Duration

	// BufferSize is the number of undelivered updates a subscriber may hold
	// before it is dropped
	BufferSize int
}

// DefaultBroadcasterConfig returns a BroadcasterConfig with reasonable defaults
func DefaultBroadcasterConfig() BroadcasterConfig {
	return BroadcasterConfig{
		Interval:   time.Second,
		BufferSize: 64,
	}
}

// Broadcaster periodically pushes the progress of every processing task to
// all subscribers. A single loop performs all deliveries and never blocks on
// a subscriber; one whose buffer is full is dropped.
type Broadcaster struct {
	registry *Registry
	config   BroadcasterConfig
	logger   *slog.Logger

	mu     sync.Mutex
	subs   map[uint64]*Subscription
	nextID uint64

	// active holds the ids reported as processing on the previous tick
	active map[uuid.UUID]struct{}
}

// NewBroadcaster creates a broadcaster reading from registry.
func NewBroadcaster(registry *Registry, config BroadcasterConfig, logger *slog.Logger) *Broadcaster {
	if config.Interval <= 0 {
		config.Interval = time.Second
	}
	if config.BufferSize <= 0 {
		config.BufferSize = 1
	}
	return &Broadcaster{
		registry: registry,
		config:   config,
		logger:   logger.With("component", "progress_broadcaster"),
		subs:     make(map[uint64]*Subscription),
		active:   make(map[uuid.UUID]struct{}),
	}
}

// Subscribe registers a new subscriber.
func (b *Broadcaster) Subscribe() *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	sub := &Subscription{
		id:      b.nextID,
		updates: make(chan Update, b.config.BufferSize),
	}
	b.subs[sub.id] = sub

	b.logger.Debug("subscriber added", "subscriber_id", sub.id, "subscriber_count", len(b.subs))
	return sub
}

// Unsubscribe removes the subscriber. It is safe to call more than once and
// after the subscriber has been dropped.
func (b *Broadcaster) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.subs[sub.id]; ok {
		delete(b.subs, sub.id)
		b.logger.Debug("subscriber removed", "subscriber_id", sub.id, "subscriber_count", len(b.subs))
	}
	sub.close()
}

// SubscriberCount reports the number of registered subscribers.
func (b *Broadcaster) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Run broadcasts every Interval until ctx is done, then closes all
// subscriptions. It always returns nil.
func (b *Broadcaster) Run(ctx context.Context) error {
	ticker := time.NewTicker(b.config.Interval)
	defer ticker.Stop()

	b.logger.Info("progress broadcaster started", "interval", b.config.Interval)

	for {
		select {
		case <-ctx.Done():
			b.closeAll()
			b.logger.Info("progress broadcaster stopped")
			return nil
		case <-ticker.C:
			b.tick()
		}
	}
}

// tick builds one round of updates and delivers it.
func (b *Broadcaster) tick() {
	processing := b.registry.ListByState(StateProcessing)

	updates := make([]Update, 0, len(processing))
	current := make(map[uuid.UUID]struct{}, len(processing))
	for _, rec := range processing {
		current[rec.ID] = struct{}{}
		updates = append(updates, newUpdate(UpdateStatus, rec))
	}

	// Tasks that left processing since the previous tick get one final update.
	for id := range b.active {
		if _, still := current[id]; still {
			continue
		}
		rec, err := b.registry.Get(id)
		if err != nil {
			continue
		}
		if rec.State.IsTerminal() {
			updates = append(updates, newUpdate(UpdateFinal, rec))
		}
	}
	b.active = current

	if len(updates) > 0 {
		b.deliver(updates)
	}
}

// deliver sends the updates to every subscriber without blocking.
func (b *Broadcaster) deliver(updates []Update) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for id, sub := range b.subs {
		for _, u := range updates {
			select {
			case sub.updates <- u:
				continue
			default:
			}

			delete(b.subs, id)
			sub.close()
			b.logger.Warn("dropping slow subscriber",
				"subscriber_id", id,
				"buffer_size", cap(sub.updates),
				"subscriber_count", len(b.subs))
			break
		}
	}
}

func (b *Broadcaster) closeAll() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for id, sub := range b.subs {
		delete(b.subs, id)
		sub.close()
	}
}

func newUpdate(kind string, rec Record) Update {
	return Update{
		Type:     kind,
		TaskID:   rec.ID,
		State:    rec.State,
		Progress: rec.Progress,
		Message:  rec.Message,
	}
}
