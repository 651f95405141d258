// Package sse fans out server-sent events to subscribers grouped by topic.
package sse

import (
	"context"
)

// Hub serializes every change to the topic table through Run, so callers
// never touch the map directly. Subscribers own their channels; the hub only
// sends to them and drops messages for clients that are not reading.
type Hub struct {
	topics map[string]map[chan []byte]struct{}

	subscribe   chan subscription
	unsubscribe chan subscription
	publish     chan topicMessage
	done        chan struct{}
}

type subscription struct {
	ch    chan []byte
	topic string
}

type topicMessage struct {
	topic string
	msg   []byte
}

// NewHub returns a hub; call Run before publishing.
func NewHub() *Hub {
	return &Hub{
		topics:      make(map[string]map[chan []byte]struct{}),
		subscribe:   make(chan subscription),
		unsubscribe: make(chan subscription),
		publish:     make(chan topicMessage, 100),
		done:        make(chan struct{}),
	}
}

// Run processes subscriptions and publications until ctx is done.
func (h *Hub) Run(ctx context.Context) error {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			return nil
		case s := <-h.subscribe:
			subs, ok := h.topics[s.topic]
			if !ok {
				subs = make(map[chan []byte]struct{})
				h.topics[s.topic] = subs
			}
			subs[s.ch] = struct{}{}
		case s := <-h.unsubscribe:
			if subs, ok := h.topics[s.topic]; ok {
				delete(subs, s.ch)
				if len(subs) == 0 {
					delete(h.topics, s.topic)
				}
			}
		case tm := <-h.publish:
			for ch := range h.topics[tm.topic] {
				select {
				case ch <- tm.msg:
				default:
				}
			}
		}
	}
}

// Publish queues msg for every subscriber of topic. It is a no-op once the
// hub has stopped.
func (h *Hub) Publish(topic string, msg []byte) {
	select {
	case h.publish <- topicMessage{topic: topic, msg: msg}:
	case <-h.done:
	}
}

// Subscribe registers ch for topic. It reports false if the hub has stopped.
func (h *Hub) Subscribe(ch chan []byte, topic string) bool {
	select {
	case h.subscribe <- subscription{ch: ch, topic: topic}:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) Unsubscribe(ch chan []byte, topic string) {
	select {
	case h.unsubscribe <- subscription{ch: ch, topic: topic}:
	case <-h.done:
	}
}
