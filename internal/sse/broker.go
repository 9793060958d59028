package sse

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	redisclient "github.com/stayline/whatsapp-bridge-go/internal/redis"
	"github.com/stayline/whatsapp-bridge-go/internal/session"
)

const (
	HeartbeatInterval = 30 * time.Second

	publishTimeout = 5 * time.Second
)

type Event struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

type Client struct {
	Events chan Event
	Done   chan struct{}
}

// Broker fans session events out to SSE clients. Events travel through
// Redis pub/sub so every replica's clients see them, wherever the session
// manager happens to run.
type Broker struct {
	redis     *redisclient.Client
	sessionID string
	clients   map[*Client]bool
	mu        sync.RWMutex
	ctx       context.Context
	cancel    context.CancelFunc
}

func NewBroker(redisClient *redisclient.Client, sessionID string) *Broker {
	ctx, cancel := context.WithCancel(context.Background())
	b := &Broker{
		redis:     redisClient,
		sessionID: sessionID,
		clients:   make(map[*Client]bool),
		ctx:       ctx,
		cancel:    cancel,
	}
	go b.subscribeToRedis()
	return b
}

func (b *Broker) Subscribe() *Client {
	client := &Client{
		Events: make(chan Event, 100),
		Done:   make(chan struct{}),
	}

	b.mu.Lock()
	b.clients[client] = true
	clientCount := len(b.clients)
	b.mu.Unlock()

	log.Info().
		Int("clientCount", clientCount).
		Msg("sse client subscribed")

	return client
}

func (b *Broker) Unsubscribe(client *Client) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.clients[client]; !ok {
		return
	}
	delete(b.clients, client)
	close(client.Done)

	log.Info().
		Int("clientCount", len(b.clients)).
		Msg("sse client unsubscribed")
}

func (b *Broker) Publish(ctx context.Context, event Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}

	channel := redisclient.EventChannel(b.sessionID)
	return b.redis.Publish(ctx, channel, data).Err()
}

// Notify implements the session manager's notifier. The manager publishes
// from its dispatch path, so failures are logged rather than returned.
func (b *Broker) Notify(event session.Event) {
	data, err := json.Marshal(event.Data)
	if err != nil {
		log.Error().Err(err).Str("type", event.Type).Msg("failed to marshal session event")
		return
	}

	ctx, cancel := context.WithTimeout(b.ctx, publishTimeout)
	defer cancel()

	if err := b.Publish(ctx, Event{Type: event.Type, Data: data}); err != nil {
		log.Error().Err(err).Str("type", event.Type).Msg("failed to publish session event")
	}
}

func (b *Broker) subscribeToRedis() {
	channel := redisclient.EventChannel(b.sessionID)
	pubsub := b.redis.Subscribe(b.ctx, channel)
	defer pubsub.Close()

	log.Debug().
		Str("channel", channel).
		Msg("redis pubsub subscribed")

	ch := pubsub.Channel()

	for {
		select {
		case <-b.ctx.Done():
			return

		case msg, ok := <-ch:
			if !ok {
				return
			}

			var event Event
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				log.Error().Err(err).Msg("failed to unmarshal event")
				continue
			}

			b.broadcast(event)
		}
	}
}

func (b *Broker) broadcast(event Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for client := range b.clients {
		select {
		case client.Events <- event:
		default:
			log.Warn().
				Str("type", event.Type).
				Msg("client event buffer full, dropping event")
		}
	}
}

func (b *Broker) Close() {
	b.cancel()

	b.mu.Lock()
	defer b.mu.Unlock()

	for client := range b.clients {
		close(client.Done)
	}
	b.clients = make(map[*Client]bool)
}

func (b *Broker) ClientCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}
