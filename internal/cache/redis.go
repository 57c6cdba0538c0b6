package cache

import (
	"context"
	"crypto/sha256"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/transitlive/transitlive_core/internal/models"
)

var (
	client     *redis.Client
	clientOnce sync.Once
	clientErr  error
)

const lockPollInterval = 100 * time.Millisecond

// Config holds Redis configuration
type Config struct {
	Enabled  bool
	Host     string
	Port     int
	Password string
	DB       int
	TLS      bool
	TTL      time.Duration
	MutexTTL time.Duration
}

// LoadConfigFromEnv loads Redis configuration from environment variables
func LoadConfigFromEnv() *Config {
	port, _ := strconv.Atoi(getEnv("REDIS_PORT", "6379"))
	db, _ := strconv.Atoi(getEnv("REDIS_DB", "0"))
	ttl, _ := time.ParseDuration(getEnv("CACHE_TTL", "10m"))
	mutexTTL, _ := time.ParseDuration(getEnv("CACHE_MUTEX_TTL", "5s"))

	return &Config{
		Enabled:  getEnv("REDIS_ENABLED", "true") == "true",
		Host:     getEnv("REDIS_HOST", "localhost"),
		Port:     port,
		Password: getEnv("REDIS_PASSWORD", ""),
		DB:       db,
		TLS:      getEnv("REDIS_TLS_ENABLED", "false") == "true",
		TTL:      ttl,
		MutexTTL: mutexTTL,
	}
}

// Options converts the config into go-redis options
func (c *Config) Options() *redis.Options {
	opts := &redis.Options{
		Addr:         fmt.Sprintf("%s:%d", c.Host, c.Port),
		Password:     c.Password,
		DB:           c.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
		MinIdleConns: 2,
	}
	// managed Redis offerings usually require TLS
	if c.TLS {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	return opts
}

// GetClient returns the global Redis client (singleton pattern)
func GetClient() (*redis.Client, error) {
	clientOnce.Do(func() {
		config := LoadConfigFromEnv()
		if !config.Enabled {
			clientErr = errors.New("redis disabled by REDIS_ENABLED")
			return
		}

		client = redis.NewClient(config.Options())

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := client.Ping(ctx).Err(); err != nil {
			clientErr = fmt.Errorf("failed to connect to Redis: %w", err)
			return
		}
	})

	return client, clientErr
}

// Close closes the Redis client
func Close() {
	if client != nil {
		client.Close()
	}
}

// Client is the subset of go-redis commands the cache and rate limiter use
type Client interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
	Exists(ctx context.Context, keys ...string) *redis.IntCmd
	Incr(ctx context.Context, key string) *redis.IntCmd
	Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd
	Ping(ctx context.Context) *redis.StatusCmd
}

// ItineraryKey generates a cache key for an itinerary query. The network
// version is part of the key so an import invalidates every entry.
func ItineraryKey(version int64, fromLat, fromLon, toLat, toLon float64) string {
	data := fmt.Sprintf("%.6f,%.6f,%.6f,%.6f", fromLat, fromLon, toLat, toLon)
	hash := sha256.Sum256([]byte(data))
	return fmt.Sprintf("itinerary:v%d:%x", version, hash[:8])
}

// LockKey generates a mutex lock key
func LockKey(key string) string {
	return fmt.Sprintf("lock:%s", key)
}

// Metrics receives hit/miss notifications
type Metrics interface {
	CacheLookup(hit bool)
}

// ItineraryCache stores planning results in Redis and lets a single caller
// compute a missing entry while concurrent callers wait for it.
type ItineraryCache struct {
	rdb      Client
	ttl      time.Duration
	mutexTTL time.Duration
	metrics  Metrics
	logger   *slog.Logger
}

func NewItineraryCache(rdb Client, cfg *Config, m Metrics, logger *slog.Logger) *ItineraryCache {
	if logger == nil {
		logger = slog.Default()
	}
	return &ItineraryCache{
		rdb:      rdb,
		ttl:      cfg.TTL,
		mutexTTL: cfg.MutexTTL,
		metrics:  m,
		logger:   logger,
	}
}

// Get retrieves a cached itinerary; nil without error on a miss
func (c *ItineraryCache) Get(ctx context.Context, key string) (*models.ItineraryResult, error) {
	data, err := c.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var result models.ItineraryResult
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal cached itinerary: %w", err)
	}
	return &result, nil
}

// Set caches an itinerary
func (c *ItineraryCache) Set(ctx context.Context, key string, result *models.ItineraryResult) error {
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to marshal itinerary: %w", err)
	}
	return c.rdb.Set(ctx, key, data, c.ttl).Err()
}

// AcquireLock attempts to acquire a distributed lock.
// Returns true if lock was acquired, false if already locked.
func (c *ItineraryCache) AcquireLock(ctx context.Context, key string) (bool, error) {
	return c.rdb.SetNX(ctx, LockKey(key), "1", c.mutexTTL).Result()
}

// ReleaseLock releases a distributed lock
func (c *ItineraryCache) ReleaseLock(ctx context.Context, key string) error {
	return c.rdb.Del(ctx, LockKey(key)).Err()
}

// WaitForLock waits for the lock holder to finish and returns what it cached
func (c *ItineraryCache) WaitForLock(ctx context.Context, key string) (*models.ItineraryResult, error) {
	deadline := time.Now().Add(c.mutexTTL)
	for time.Now().Before(deadline) {
		exists, err := c.rdb.Exists(ctx, LockKey(key)).Result()
		if err != nil {
			return nil, err
		}
		if exists == 0 {
			return c.Get(ctx, key)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(lockPollInterval):
		}
	}
	return nil, fmt.Errorf("timeout waiting for lock")
}

// Fetch returns the cached itinerary for key or computes and stores it.
// Redis failures degrade to computing directly.
func (c *ItineraryCache) Fetch(ctx context.Context, key string, compute func(context.Context) (*models.ItineraryResult, error)) (*models.ItineraryResult, error) {
	cached, err := c.Get(ctx, key)
	if err != nil {
		c.logger.Warn("itinerary cache read failed", slog.String("key", key), slog.String("error", err.Error()))
		return compute(ctx)
	}
	if cached != nil {
		c.observe(true)
		return cached, nil
	}
	c.observe(false)

	locked, err := c.AcquireLock(ctx, key)
	if err != nil {
		c.logger.Warn("itinerary cache lock failed", slog.String("key", key), slog.String("error", err.Error()))
		return compute(ctx)
	}

	if !locked {
		result, err := c.WaitForLock(ctx, key)
		if err == nil && result != nil {
			return result, nil
		}
		return compute(ctx)
	}
	defer func() {
		if err := c.ReleaseLock(context.WithoutCancel(ctx), key); err != nil {
			c.logger.Warn("itinerary cache unlock failed", slog.String("key", key), slog.String("error", err.Error()))
		}
	}()

	result, err := compute(ctx)
	if err != nil {
		return nil, err
	}
	if err := c.Set(ctx, key, result); err != nil {
		c.logger.Warn("itinerary cache write failed", slog.String("key", key), slog.String("error", err.Error()))
	}
	return result, nil
}

func (c *ItineraryCache) observe(hit bool) {
	if c.metrics != nil {
		c.metrics.CacheLookup(hit)
	}
}

// HealthCheck pings Redis
func (c *ItineraryCache) HealthCheck(ctx context.Context) error {
	if err := c.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
