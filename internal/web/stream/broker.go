package stream

import (
	"context"
	"database/sql"
	"strconv"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/conduit-lang/collections/internal/orm/entity"
	"github.com/conduit-lang/collections/internal/orm/hooks"
)

// Change is the payload of a write event.
type Change struct {
	Kind         string        `json:"kind"`
	CollectionID entity.UUID   `json:"collection_id,omitempty"`
	ModelID      entity.UUID   `json:"model_id,omitempty"`
	RelationID   entity.UUID   `json:"relation_id,omitempty"`
	Created      bool          `json:"created,omitempty"`
	Changed      []string      `json:"changed,omitempty"`
	Deleted      []entity.UUID `json:"deleted,omitempty"`
}

type subscriber struct {
	ch chan Event
}

// Broker fans events out to the subscribers of a topic. Publishing never
// blocks: a subscriber whose buffer is full misses the event.
type Broker struct {
	mu     sync.RWMutex
	topics map[string]map[*subscriber]struct{}
	buffer int
	seq    atomic.Uint64
	closed bool
	logger *zap.Logger
}

// NewBroker creates a broker with a per-subscriber buffer.
func NewBroker(buffer int, logger *zap.Logger) *Broker {
	if buffer <= 0 {
		buffer = 64
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Broker{topics: make(map[string]map[*subscriber]struct{}), buffer: buffer, logger: logger}
}

// Subscribe registers for events on topic. The channel is closed by the
// returned cancel func or when the broker closes.
func (b *Broker) Subscribe(topic string) (<-chan Event, func()) {
	sub := &subscriber{ch: make(chan Event, b.buffer)}
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(sub.ch)
		return sub.ch, func() {}
	}
	if b.topics[topic] == nil {
		b.topics[topic] = make(map[*subscriber]struct{})
	}
	b.topics[topic][sub] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	return sub.ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if _, ok := b.topics[topic][sub]; !ok {
				return
			}
			delete(b.topics[topic], sub)
			if len(b.topics[topic]) == 0 {
				delete(b.topics, topic)
			}
			close(sub.ch)
		})
	}
}

// Subscribers returns the number of subscribers on topic.
func (b *Broker) Subscribers(topic string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.topics[topic])
}

// Publish delivers ev to every subscriber of topic and assigns it the next
// sequence id.
func (b *Broker) Publish(topic string, ev Event) {
	ev.ID = strconv.FormatUint(b.seq.Add(1), 10)
	b.mu.RLock()
	defer b.mu.RUnlock()
	for sub := range b.topics[topic] {
		select {
		case sub.ch <- ev:
		default:
			b.logger.Warn("dropped event for slow subscriber", zap.String("topic", topic), zap.String("event", ev.Name))
		}
	}
}

// Close disconnects every subscriber.
func (b *Broker) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for topic, subs := range b.topics {
		for sub := range subs {
			close(sub.ch)
		}
		delete(b.topics, topic)
	}
}

// Hook publishes committed writes on the topic of their project.
func (b *Broker) Hook() hooks.HookFunc {
	return func(_ context.Context, _ *sql.Tx, ev *hooks.Event) error {
		c := Change{
			Kind:         ev.Kind.String(),
			CollectionID: ev.CollectionID,
			Created:      ev.Created,
			Changed:      ev.Changed,
			Deleted:      ev.Deleted,
		}
		if ev.Model != nil {
			c.ModelID = ev.Model.ModelID
		}
		if ev.Relation != nil {
			c.RelationID = ev.Relation.RelationID
		}
		b.Publish(string(ev.ProjectID), Event{Name: c.Kind, Data: c})
		return nil
	}
}

// Register attaches the broker to every write event of e as an async hook.
func (b *Broker) Register(e *hooks.Executor) {
	for _, kind := range []hooks.Kind{
		hooks.CollectionSaved, hooks.CollectionDeleted,
		hooks.ModelSaved, hooks.ModelDeleted,
		hooks.RelationLinked, hooks.RelationUnlinked,
	} {
		e.Register(kind, &hooks.Hook{Name: "stream", Kind: kind, Fn: b.Hook(), Async: true})
	}
}
