package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"polyquiz-service/internal/domain"
	"polyquiz-service/internal/game"
)

// QuestionCache caches generated question sets in Redis so that repeated
// lobbies on a hot topic do not hammer the generator (or the question bank).
// Cache misses are collapsed through singleflight.
type QuestionCache struct {
	client *redis.Client
	source game.QuestionSource
	ttl    time.Duration
	sf     singleflight.Group
	rnd    *rand.Rand
}

func NewQuestionCache(client *redis.Client, source game.QuestionSource, ttl time.Duration) *QuestionCache {
	return &QuestionCache{
		client: client,
		source: source,
		ttl:    ttl,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (c *QuestionCache) Questions(ctx context.Context, topic string, count int, difficulty string) ([]domain.Question, error) {
	key := questionSetKey(topic, count, difficulty)

	if questions, err := c.read(ctx, key); err == nil {
		return questions, nil
	}

	result, err, _ := c.sf.Do(key, func() (interface{}, error) {
		// Re-check in case another goroutine filled the cache.
		if questions, err := c.read(ctx, key); err == nil {
			return questions, nil
		}

		questions, err := c.source.Questions(ctx, topic, count, difficulty)
		if err != nil {
			return nil, err
		}

		data, err := json.Marshal(questions)
		if err != nil {
			return nil, fmt.Errorf("marshal question set: %w", err)
		}
		_ = c.client.Set(ctx, key, data, c.ttlWithJitter()).Err()

		return questions, nil
	})
	if err != nil {
		return nil, err
	}
	return result.([]domain.Question), nil
}

func (c *QuestionCache) read(ctx context.Context, key string) ([]domain.Question, error) {
	data, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("read question cache: %w", err)
		}
		return nil, err
	}
	var questions []domain.Question
	if err := json.Unmarshal(data, &questions); err != nil {
		return nil, fmt.Errorf("unmarshal question set: %w", err)
	}
	if len(questions) == 0 {
		return nil, redis.Nil
	}
	return questions, nil
}

func questionSetKey(topic string, count int, difficulty string) string {
	return fmt.Sprintf("questions:%s:%s:%d", topic, difficulty, count)
}

func (c *QuestionCache) ttlWithJitter() time.Duration {
	if c.ttl <= 0 {
		return 0
	}
	// up to 10% jitter to spread expirations
	jitterMax := int64(c.ttl) / 10
	return c.ttl + time.Duration(c.rnd.Int63n(jitterMax+1))
}
