// Package brokertest provides in-memory broker implementations for tests.
package brokertest

import (
	"context"
	"sync"

	"github.com/cuongbtq/powrelay/shared/broker"
)

// Message is an in-memory delivery
type Message struct {
	Offset int
	Data   []byte
}

// Body returns the raw payload
func (m *Message) Body() []byte {
	return m.Data
}

// Topic is an append-only log. Every spawned consumer reads it from the first message,
// like a fresh consumer group with earliest offset reset.
type Topic struct {
	mu       sync.Mutex
	messages [][]byte
	changed  chan struct{}
	closed   bool
	spawned  []*Consumer
	// ProduceErr, when set, fails every Produce call
	ProduceErr error
	// SpawnErr, when set, fails every Spawn call
	SpawnErr error
}

// NewTopic creates an empty topic
func NewTopic() *Topic {
	return &Topic{changed: make(chan struct{})}
}

// Produce appends the encoded message
func (t *Topic) Produce(_ context.Context, message any) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.ProduceErr != nil {
		return t.ProduceErr
	}
	if t.closed {
		return broker.ErrDisconnected
	}

	data, err := broker.Encode(message)
	if err != nil {
		return err
	}

	t.messages = append(t.messages, data)
	close(t.changed)
	t.changed = make(chan struct{})
	return nil
}

// Close marks the topic closed. Further produces fail and drained consumers
// report ErrDisconnected.
func (t *Topic) Close(context.Context) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	t.closed = true
	close(t.changed)
}

// Messages returns a copy of everything produced so far
func (t *Topic) Messages() [][]byte {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([][]byte, len(t.messages))
	copy(out, t.messages)
	return out
}

// Spawn opens a consumer positioned at the first message
func (t *Topic) Spawn(context.Context) (broker.Consumer, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.SpawnErr != nil {
		return nil, t.SpawnErr
	}

	consumer := &Consumer{topic: t, done: make(chan struct{})}
	t.spawned = append(t.spawned, consumer)
	return consumer, nil
}

// Consumers returns every consumer spawned so far
func (t *Topic) Consumers() []*Consumer {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]*Consumer(nil), t.spawned...)
}

// Consumer reads a Topic sequentially
type Consumer struct {
	topic *Topic

	mu        sync.Mutex
	offset    int
	commits   []int
	rejects   []int
	done      chan struct{}
	closeOnce sync.Once
}

// Fetch blocks until the next message, ctx cancellation, or Close
func (c *Consumer) Fetch(ctx context.Context) (broker.Delivery, error) {
	for {
		c.mu.Lock()
		offset := c.offset
		c.mu.Unlock()

		c.topic.mu.Lock()
		if offset < len(c.topic.messages) {
			data := c.topic.messages[offset]
			c.topic.mu.Unlock()

			c.mu.Lock()
			c.offset++
			c.mu.Unlock()
			return &Message{Offset: offset, Data: data}, nil
		}
		changed, closed := c.topic.changed, c.topic.closed
		c.topic.mu.Unlock()

		if closed {
			return nil, broker.ErrDisconnected
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-c.done:
			return nil, broker.ErrDisconnected
		case <-changed:
		}
	}
}

// Commit records the acknowledged offset
func (c *Consumer) Commit(_ context.Context, delivery broker.Delivery) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.commits = append(c.commits, delivery.(*Message).Offset)
	return nil
}

// Reject records the rejected offset
func (c *Consumer) Reject(_ context.Context, delivery broker.Delivery) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rejects = append(c.rejects, delivery.(*Message).Offset)
	return nil
}

// Close wakes any blocked Fetch with ErrDisconnected
func (c *Consumer) Close(context.Context) {
	c.closeOnce.Do(func() { close(c.done) })
}

// Commits returns the committed offsets in order
func (c *Consumer) Commits() []int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]int(nil), c.commits...)
}

// Rejects returns the rejected offsets in order
func (c *Consumer) Rejects() []int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]int(nil), c.rejects...)
}

// Closed reports whether Close was called
func (c *Consumer) Closed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// Scripted returns a consumer that yields bodies in order, then reports ErrDisconnected
func Scripted(bodies ...[]byte) *Consumer {
	topic := NewTopic()
	for _, body := range bodies {
		topic.messages = append(topic.messages, body)
	}
	topic.closed = true

	consumer := &Consumer{topic: topic, done: make(chan struct{})}
	return consumer
}
