package worker

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"legalease/internal/logger"
	"legalease/internal/models"
	"legalease/internal/redis"
)

const (
	redisInvalidateChannel = "legalease:worker:invalidate"
	redisHistoryTTL        = 24 * time.Hour
)

type invalidateMessage struct {
	SessionID string `json:"session_id"`
}

// stateRedis is safe to call on a nil receiver; every method is then a no-op.
type stateRedis struct {
	client *redis.Client
	log    logger.Logger

	mu     sync.Mutex
	pubsub *goredis.PubSub
}

func newStateCache(client *redis.Client, log logger.Logger) *stateRedis {
	return &stateRedis{client: client, log: log}
}

func historyKey(sessionID string) string {
	return "legalease:history:" + sessionID
}

// startListener redis listener using sub chan
func (r *stateRedis) startListener(handler func(invalidateMessage)) {
	if r == nil || r.client == nil || handler == nil {
		return
	}
	raw := r.client.Raw()
	if raw == nil {
		return
	}
	pubsub := raw.Subscribe(context.Background(), redisInvalidateChannel)
	r.mu.Lock()
	r.pubsub = pubsub
	r.mu.Unlock()
	go func() {
		for msg := range pubsub.Channel() {
			var inv invalidateMessage
			if err := json.Unmarshal([]byte(msg.Payload), &inv); err != nil {
				r.log.Warn("worker invalidation decode failed", logger.Error(err))
				continue
			}
			handler(inv)
		}
	}()
}

// stopListener closes the subscription, which ends the listener goroutine.
func (r *stateRedis) stopListener() {
	if r == nil {
		return
	}
	r.mu.Lock()
	pubsub := r.pubsub
	r.pubsub = nil
	r.mu.Unlock()
	if pubsub == nil {
		return
	}
	if err := pubsub.Close(); err != nil {
		r.log.Warn("worker invalidation listener close failed", logger.Error(err))
	}
}

// publishInvalidation broadcast invalidate msg
func (r *stateRedis) publishInvalidation(msg invalidateMessage) {
	if r == nil || r.client == nil {
		return
	}
	raw := r.client.Raw()
	if raw == nil {
		return
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		r.log.Warn("worker invalidation marshal failed", logger.Error(err))
		return
	}
	if err := raw.Publish(context.Background(), redisInvalidateChannel, payload).Err(); err != nil {
		r.log.Warn("worker publish invalidation failed", logger.Error(err))
	}
}

func (r *stateRedis) cacheHistory(sessionID string, history []models.Turn) {
	if r == nil || r.client == nil || sessionID == "" {
		return
	}
	data, err := json.Marshal(history)
	if err != nil {
		r.log.Warn("worker rdb history marshal failed", logger.Error(err))
		return
	}
	if err := r.client.Set(context.Background(), historyKey(sessionID), data, redisHistoryTTL); err != nil {
		r.log.Warn("worker rdb history failed", logger.Error(err))
	}
}

func (r *stateRedis) loadHistory(sessionID string) ([]models.Turn, bool) {
	if r == nil || r.client == nil || sessionID == "" {
		return nil, false
	}
	raw, err := r.client.Get(context.Background(), historyKey(sessionID))
	if err != nil {
		if !errors.Is(err, redis.ErrCacheMiss) {
			r.log.Warn("worker load history rdb failed", logger.Error(err))
		}
		return nil, false
	}
	var history []models.Turn
	if err := json.Unmarshal([]byte(raw), &history); err != nil {
		r.log.Warn("worker decode history rdb failed", logger.Error(err))
		return nil, false
	}
	return history, true
}

func (r *stateRedis) invalidateHistory(sessionID string) {
	if r == nil || r.client == nil || sessionID == "" {
		return
	}
	if err := r.client.Del(context.Background(), historyKey(sessionID)); err != nil && !errors.Is(err, redis.ErrCacheMiss) {
		r.log.Warn("worker invalidate history rdb failed", logger.Error(err))
	}
}
