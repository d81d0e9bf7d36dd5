package settings

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"backend-orienteering/internal/log"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Accuracy is the GPS accuracy level chosen by the user. It determines how
// close a runner must get to a control point for it to count.
type Accuracy string

const (
	AccuracyHigh   Accuracy = "high"
	AccuracyMedium Accuracy = "medium"
	AccuracyLow    Accuracy = "low"
)

var ErrUnknownAccuracy = errors.New("unknown gps accuracy level")

func ParseAccuracy(s string) (Accuracy, error) {
	switch a := Accuracy(strings.ToLower(strings.TrimSpace(s))); a {
	case AccuracyHigh, AccuracyMedium, AccuracyLow:
		return a, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownAccuracy, s)
}

// RadiusMeters is the checkpoint visit radius for the accuracy level.
func (a Accuracy) RadiusMeters() int {
	switch a {
	case AccuracyMedium:
		return 25
	case AccuracyLow:
		return 50
	default:
		return 10
	}
}

// RadiusProvider supplies the current checkpoint visit radius.
type RadiusProvider interface {
	VisitRadius(ctx context.Context) int
}

// Static always returns the same radius.
type Static int

func (s Static) VisitRadius(context.Context) int { return int(s) }

const changesChannel = "settings:%d:changed"

// Store keeps per-user settings in Redis and publishes every change, so
// running trackers and the sync engine observe the latest radius.
type Store struct {
	rdb      *redis.Client
	userID   int64
	fallback Accuracy
	logger   *zap.Logger
}

func NewStore(rdb *redis.Client, userID int64, fallback Accuracy, logger *zap.Logger) *Store {
	if _, err := ParseAccuracy(string(fallback)); err != nil {
		fallback = AccuracyHigh
	}
	return &Store{rdb: rdb, userID: userID, fallback: fallback, logger: log.OrNop(logger)}
}

func (s *Store) accuracyKey() string {
	return "settings:" + strconv.FormatInt(s.userID, 10) + ":gps_accuracy"
}

func (s *Store) channel() string {
	return fmt.Sprintf(changesChannel, s.userID)
}

// Accuracy returns the stored level, or the fallback when Redis is
// unavailable or holds no valid value.
func (s *Store) Accuracy(ctx context.Context) Accuracy {
	if s.rdb == nil {
		return s.fallback
	}
	val, err := s.rdb.Get(ctx, s.accuracyKey()).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			s.logger.Warn("reading gps accuracy failed", zap.Int64("user_id", s.userID), zap.Error(err))
		}
		return s.fallback
	}
	a, err := ParseAccuracy(val)
	if err != nil {
		return s.fallback
	}
	return a
}

func (s *Store) VisitRadius(ctx context.Context) int {
	return s.Accuracy(ctx).RadiusMeters()
}

func (s *Store) SetAccuracy(ctx context.Context, a Accuracy) error {
	if _, err := ParseAccuracy(string(a)); err != nil {
		return err
	}
	if s.rdb == nil {
		return errors.New("settings store has no redis client")
	}
	if err := s.rdb.Set(ctx, s.accuracyKey(), string(a), 0).Err(); err != nil {
		return fmt.Errorf("store gps accuracy: %w", err)
	}
	if err := s.rdb.Publish(ctx, s.channel(), string(a)).Err(); err != nil {
		s.logger.Warn("publishing settings change failed", zap.Error(err))
	}
	return nil
}

// Watch emits the current radius and then every change until ctx is done.
func (s *Store) Watch(ctx context.Context) <-chan int {
	out := make(chan int, 1)
	out <- s.VisitRadius(ctx)
	if s.rdb == nil {
		go func() {
			<-ctx.Done()
			close(out)
		}()
		return out
	}

	pubsub := s.rdb.Subscribe(ctx, s.channel())
	go func() {
		defer close(out)
		defer pubsub.Close()
		msgs := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				a, err := ParseAccuracy(msg.Payload)
				if err != nil {
					continue
				}
				select {
				case out <- a.RadiusMeters():
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out
}

// Provider hands out per-user settings stores over a shared client.
type Provider struct {
	rdb      *redis.Client
	fallback Accuracy
	logger   *zap.Logger
}

func NewProvider(rdb *redis.Client, fallback Accuracy, logger *zap.Logger) *Provider {
	return &Provider{rdb: rdb, fallback: fallback, logger: logger}
}

func (p *Provider) For(userID int64) *Store {
	return NewStore(p.rdb, userID, p.fallback, p.logger)
}
