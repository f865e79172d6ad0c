package pipeline

import (
	"container/list"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/coverbot/policyqa/types"
)

// CacheConfig configures the two-tier answer cache.
type CacheConfig struct {
	Enabled bool          `json:"enabled" yaml:"enabled"`
	Size    int           `json:"size" yaml:"size"`
	TTL     time.Duration `json:"ttl" yaml:"ttl"`
	// RedisAddr enables the shared Redis tier when non-empty. The local
	// in-process tier always runs; Redis makes hits survive restarts and
	// spread across replicas.
	RedisAddr     string        `json:"redis_addr" yaml:"redis_addr"`
	RedisPassword string        `json:"redis_password" yaml:"redis_password"`
	RedisDB       int           `json:"redis_db" yaml:"redis_db"`
	RedisTimeout  time.Duration `json:"redis_timeout" yaml:"redis_timeout"`
}

// DefaultCacheConfig returns the default cache configuration.
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{
		Enabled:      true,
		Size:         512,
		TTL:          15 * time.Minute,
		RedisTimeout: 2 * time.Second,
	}
}

// cacheKey identifies an answer by the normalized question and its declared
// domain.
func cacheKey(text string, domain types.Domain) string {
	sum := sha256.Sum256([]byte(types.NormalizedText(text) + "|" + string(domain)))
	return hex.EncodeToString(sum[:])
}

type cacheItem struct {
	key     string
	resp    types.Response
	expires time.Time
}

// AnswerCache is an LRU of verified responses with an optional Redis tier.
// Redis failures degrade to local-only operation; they never fail a request.
type AnswerCache struct {
	cfg    CacheConfig
	logger *zap.Logger

	mu    sync.Mutex
	ll    *list.List
	items map[string]*list.Element

	rdb *redis.Client
}

// NewAnswerCache creates the cache. A nil return means caching is disabled.
func NewAnswerCache(cfg CacheConfig, logger *zap.Logger) *AnswerCache {
	if !cfg.Enabled {
		return nil
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Size <= 0 {
		cfg.Size = 512
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 15 * time.Minute
	}
	if cfg.RedisTimeout <= 0 {
		cfg.RedisTimeout = 2 * time.Second
	}

	c := &AnswerCache{
		cfg:    cfg,
		logger: logger.With(zap.String("component", "answer_cache")),
		ll:     list.New(),
		items:  make(map[string]*list.Element),
	}
	if cfg.RedisAddr != "" {
		c.rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
	}
	return c
}

// Get returns the cached response for key, consulting the local tier first
// and promoting Redis hits into it.
func (c *AnswerCache) Get(ctx context.Context, key string) (*types.Response, bool) {
	if c == nil {
		return nil, false
	}

	c.mu.Lock()
	if el, ok := c.items[key]; ok {
		item := el.Value.(*cacheItem)
		if time.Now().Before(item.expires) {
			c.ll.MoveToFront(el)
			resp := item.resp
			c.mu.Unlock()
			return &resp, true
		}
		c.ll.Remove(el)
		delete(c.items, key)
	}
	c.mu.Unlock()

	if c.rdb == nil {
		return nil, false
	}
	callCtx, cancel := context.WithTimeout(ctx, c.cfg.RedisTimeout)
	defer cancel()

	raw, err := c.rdb.Get(callCtx, redisKey(key)).Bytes()
	if err != nil {
		if err != redis.Nil {
			c.logger.Warn("redis get failed", zap.Error(err))
		}
		return nil, false
	}
	var resp types.Response
	if err := json.Unmarshal(raw, &resp); err != nil {
		c.logger.Warn("corrupt cache entry dropped", zap.Error(err))
		return nil, false
	}
	c.setLocal(key, resp)
	return &resp, true
}

// Set stores a response in both tiers.
func (c *AnswerCache) Set(ctx context.Context, key string, resp types.Response) {
	if c == nil {
		return
	}
	c.setLocal(key, resp)

	if c.rdb == nil {
		return
	}
	raw, err := json.Marshal(resp)
	if err != nil {
		return
	}
	callCtx, cancel := context.WithTimeout(ctx, c.cfg.RedisTimeout)
	defer cancel()
	if err := c.rdb.Set(callCtx, redisKey(key), raw, c.cfg.TTL).Err(); err != nil {
		c.logger.Warn("redis set failed", zap.Error(err))
	}
}

func (c *AnswerCache) setLocal(key string, resp types.Response) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.items[key]; ok {
		el.Value.(*cacheItem).resp = resp
		el.Value.(*cacheItem).expires = time.Now().Add(c.cfg.TTL)
		c.ll.MoveToFront(el)
		return
	}
	el := c.ll.PushFront(&cacheItem{key: key, resp: resp, expires: time.Now().Add(c.cfg.TTL)})
	c.items[key] = el

	for c.ll.Len() > c.cfg.Size {
		oldest := c.ll.Back()
		c.ll.Remove(oldest)
		delete(c.items, oldest.Value.(*cacheItem).key)
	}
}

// Len reports the local-tier entry count.
func (c *AnswerCache) Len() int {
	if c == nil {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ll.Len()
}

// Close releases the Redis connection.
func (c *AnswerCache) Close() error {
	if c == nil || c.rdb == nil {
		return nil
	}
	return c.rdb.Close()
}

func redisKey(key string) string {
	return "policyqa:answer:" + key
}
