package domain

import (
	"context"
	"log/slog"
	"sync"
)

//go:generate go tool mockgen -destination=./mocks/pubsub_mock.go -package=mocks . PubSub

type Topic string

// SessionTopic はセッション宛の配送トピックです。
func SessionTopic(id SessionID) Topic {
	return Topic("session:" + id.String())
}

type Message struct {
	SessionID SessionID
	Data      []byte
}

// PubSub はルームからセッションへの送出イベントを配送します。
type PubSub interface {
	Publish(ctx context.Context, topic Topic, msg Message)
	Subscribe(topic Topic) <-chan Message
	Unsubscribe(topic Topic, ch <-chan Message)
}

const subscriberBuffer = 256

// SimplePubSub はプロセス内のトピック配送です。購読者が詰まっている場合は破棄します。
type SimplePubSub struct {
	mu   sync.RWMutex
	subs map[Topic][]chan Message
}

var _ PubSub = (*SimplePubSub)(nil)

func NewSimplePubSub() *SimplePubSub {
	return &SimplePubSub{
		subs: make(map[Topic][]chan Message),
	}
}

func (p *SimplePubSub) Publish(ctx context.Context, topic Topic, msg Message) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, ch := range p.subs[topic] {
		select {
		case ch <- msg:
		default:
			slog.WarnContext(ctx, "pubsub: subscriber full, message dropped", "topic", topic)
		}
	}
}

func (p *SimplePubSub) Subscribe(topic Topic) <-chan Message {
	ch := make(chan Message, subscriberBuffer)
	p.mu.Lock()
	p.subs[topic] = append(p.subs[topic], ch)
	p.mu.Unlock()
	return ch
}

func (p *SimplePubSub) Unsubscribe(topic Topic, ch <-chan Message) {
	p.mu.Lock()
	defer p.mu.Unlock()
	subs := p.subs[topic]
	for i, c := range subs {
		if c == ch {
			close(c)
			subs = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	if len(subs) == 0 {
		delete(p.subs, topic)
		return
	}
	p.subs[topic] = subs
}
