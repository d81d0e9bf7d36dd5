package stream

import (
	"context"
	"strings"
	"sync"

	"backend-orienteering/internal/log"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	channelPrefix  = "runs:"
	channelSuffix  = ":progress"
	channelPattern = channelPrefix + "*" + channelSuffix
)

// Hub fans run progress out to websocket clients keyed by user id. With a
// Redis client every broadcast goes through pub/sub so all instances see it.
type Hub struct {
	redis   *redis.Client
	logger  *zap.Logger
	clients map[string]map[*Client]struct{}
	mu      sync.RWMutex
	cancel  context.CancelFunc
	ready   chan struct{}
}

type Client struct {
	UserID string
	Send   chan []byte
}

func NewHub(redisClient *redis.Client, logger *zap.Logger) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	h := &Hub{
		redis:   redisClient,
		logger:  log.OrNop(logger),
		clients: map[string]map[*Client]struct{}{},
		cancel:  cancel,
		ready:   make(chan struct{}),
	}

	if redisClient != nil {
		go h.subscribeRedis(ctx)
	} else {
		close(h.ready)
	}
	return h
}

func (h *Hub) Register(userID string) *Client {
	client := &Client{
		UserID: userID,
		Send:   make(chan []byte, 64),
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.clients[userID] == nil {
		h.clients[userID] = map[*Client]struct{}{}
	}
	h.clients[userID][client] = struct{}{}
	return client
}

func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	userClients, ok := h.clients[client.UserID]
	if !ok {
		return
	}
	if _, ok := userClients[client]; !ok {
		return
	}
	delete(userClients, client)
	if len(userClients) == 0 {
		delete(h.clients, client.UserID)
	}
	close(client.Send)
}

// Broadcast delivers payload to the user's clients. Slow clients drop messages.
func (h *Hub) Broadcast(ctx context.Context, userID string, payload []byte) error {
	if h.redis == nil {
		h.deliver(userID, payload)
		return nil
	}
	if err := h.redis.Publish(ctx, redisChannel(userID), payload).Err(); err != nil {
		h.logger.Warn("redis publish failed, delivering locally", zap.String("user_id", userID), zap.Error(err))
		h.deliver(userID, payload)
		return err
	}
	return nil
}

// Ready is closed once the hub listens for progress published by other instances.
func (h *Hub) Ready() <-chan struct{} { return h.ready }

func (h *Hub) Close() {
	h.cancel()
}

func (h *Hub) deliver(userID string, payload []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for client := range h.clients[userID] {
		select {
		case client.Send <- payload:
		default:
		}
	}
}

func (h *Hub) subscribeRedis(ctx context.Context) {
	pubsub := h.redis.PSubscribe(ctx, channelPattern)
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		h.logger.Error("redis subscribe failed", zap.Error(err))
		close(h.ready)
		return
	}
	close(h.ready)

	msgs := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-msgs:
			if !ok {
				return
			}
			userID := userIDFromChannel(msg.Channel)
			if userID == "" {
				continue
			}
			h.deliver(userID, []byte(msg.Payload))
		}
	}
}

func redisChannel(userID string) string {
	return channelPrefix + userID + channelSuffix
}

func userIDFromChannel(ch string) string {
	// runs:{user}:progress
	if len(ch) <= len(channelPrefix)+len(channelSuffix) ||
		!strings.HasPrefix(ch, channelPrefix) || !strings.HasSuffix(ch, channelSuffix) {
		return ""
	}
	return ch[len(channelPrefix) : len(ch)-len(channelSuffix)]
}
