package stream

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/Az1mzhan/bt-ass-3/internal/metrics"
	"github.com/Az1mzhan/bt-ass-3/internal/walk"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const redisChannel = "geo:samples"

type Message struct {
	Seq     uint64
	Stream  string
	Payload []byte
}

type Client struct {
	ID   string
	Send chan Message
}

type Hub struct {
	redis   *redis.Client
	log     zerolog.Logger
	clients map[*Client]struct{}
	mu      sync.RWMutex
	closed  bool
	cancel  context.CancelFunc
	done    chan struct{}
}

func NewHub(redisClient *redis.Client, log zerolog.Logger) (*Hub, error) {
	h := &Hub{
		redis:   redisClient,
		log:     log.With().Str("component", "hub").Logger(),
		clients: map[*Client]struct{}{},
		done:    make(chan struct{}),
	}

	if redisClient == nil {
		close(h.done)
		return h, nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel

	pubsub := redisClient.Subscribe(ctx, redisChannel)
	confirmCtx, confirmCancel := context.WithTimeout(ctx, 5*time.Second)
	defer confirmCancel()
	if _, err := pubsub.Receive(confirmCtx); err != nil {
		cancel()
		_ = pubsub.Close()
		return nil, err
	}

	go h.subscribeRedis(ctx, pubsub)
	return h, nil
}

func (h *Hub) Register() *Client {
	client := &Client{
		ID:   uuid.NewString(),
		Send: make(chan Message, 64),
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		close(client.Send)
		return client
	}
	h.clients[client] = struct{}{}
	metrics.StreamSubscribers.Inc()
	return client
}

func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[client]; !ok {
		return
	}
	delete(h.clients, client)
	close(client.Send)
	metrics.StreamSubscribers.Dec()
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Broadcast delivers a sample to every subscriber, dropping it for any
// subscriber whose queue is full.
func (h *Hub) Broadcast(sample walk.Sample) {
	payload, err := json.Marshal(sample)
	if err != nil {
		h.log.Error().Err(err).Msg("encode sample")
		return
	}

	if h.redis != nil {
		if err := h.redis.Publish(context.Background(), redisChannel, payload).Err(); err != nil {
			h.log.Error().Err(err).Uint64("seq", sample.Seq).Msg("redis publish")
		}
		return
	}

	h.deliver(Message{Seq: sample.Seq, Stream: sample.Stream, Payload: payload})
}

func (h *Hub) deliver(msg Message) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for client := range h.clients {
		select {
		case client.Send <- msg:
		default:
			h.log.Debug().Str("client", client.ID).Uint64("seq", msg.Seq).Msg("subscriber queue full, sample dropped")
		}
	}
}

func (h *Hub) subscribeRedis(ctx context.Context, pubsub *redis.PubSub) {
	defer close(h.done)
	defer pubsub.Close()

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var sample walk.Sample
			if err := json.Unmarshal([]byte(msg.Payload), &sample); err != nil {
				h.log.Warn().Err(err).Msg("malformed sample on redis channel")
				continue
			}
			h.deliver(Message{Seq: sample.Seq, Stream: sample.Stream, Payload: []byte(msg.Payload)})
		}
	}
}

func (h *Hub) Close() {
	if h.cancel != nil {
		h.cancel()
	}
	<-h.done

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for client := range h.clients {
		close(client.Send)
		delete(h.clients, client)
		metrics.StreamSubscribers.Dec()
	}
}
