package speech

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/dkeye/syncroom/internal/domain"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

func ConnectRedis(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		PoolSize:     20,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	log.Info().Str("module", "speech.cache").Str("addr", addr).Msg("redis connection established")
	return rdb, nil
}

// CachedTranslator memoizes translations in Redis. Cache failures fall
// through to the wrapped translator.
type CachedTranslator struct {
	next domain.Translator
	rdb  *redis.Client
	ttl  time.Duration
}

var _ domain.Translator = (*CachedTranslator)(nil)

func NewCachedTranslator(next domain.Translator, rdb *redis.Client, ttl time.Duration) *CachedTranslator {
	return &CachedTranslator{next: next, rdb: rdb, ttl: ttl}
}

func (c *CachedTranslator) Translate(ctx context.Context, text, from, to string) (string, error) {
	key := cacheKey(text, from, to)
	hit, err := c.rdb.Get(ctx, key).Result()
	switch {
	case err == nil:
		return hit, nil
	case !errors.Is(err, redis.Nil):
		log.Warn().Err(err).Str("module", "speech.cache").Msg("cache read failed")
	}

	out, err := c.next.Translate(ctx, text, from, to)
	if err != nil {
		return "", err
	}
	if err := c.rdb.Set(ctx, key, out, c.ttl).Err(); err != nil {
		log.Warn().Err(err).Str("module", "speech.cache").Msg("cache write failed")
	}
	return out, nil
}

func cacheKey(text, from, to string) string {
	h := sha256.Sum256([]byte(text))
	return fmt.Sprintf("syncroom:tr:%s:%s:%s", domain.BaseLanguage(from), domain.BaseLanguage(to), hex.EncodeToString(h[:16]))
}
