package history

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/pilot-net/cachet-agent/pkg/types"
)

// RedisRecorder keeps a capped list of results per component and a hash of
// the latest result of every component.
//
// Keys:
//
//	<prefix>:results:<component id>  LIST, newest first
//	<prefix>:latest                  HASH component id -> result
type RedisRecorder struct {
	client     *redis.Client
	prefix     string
	maxEntries int
	logger     *slog.Logger
}

// NewRedisRecorder connects to redisURL and checks the connection.
func NewRedisRecorder(ctx context.Context, redisURL, prefix string, maxEntries int, logger *slog.Logger) (*RedisRecorder, error) {
	if logger == nil {
		logger = slog.Default()
	}
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	logger.Info("history store connected", "backend", "redis", "addr", opts.Addr)
	return newRedisRecorder(client, prefix, maxEntries, logger), nil
}

func newRedisRecorder(client *redis.Client, prefix string, maxEntries int, logger *slog.Logger) *RedisRecorder {
	if prefix == "" {
		prefix = "cachet-agent"
	}
	return &RedisRecorder{
		client:     client,
		prefix:     prefix,
		maxEntries: maxEntries,
		logger:     logger,
	}
}

func (r *RedisRecorder) resultsKey(componentID int) string {
	return r.prefix + ":results:" + strconv.Itoa(componentID)
}

func (r *RedisRecorder) latestKey() string {
	return r.prefix + ":latest"
}

// Record pushes the result and trims the list in one pipeline.
func (r *RedisRecorder) Record(ctx context.Context, res types.CheckResult) error {
	data, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("failed to marshal result: %w", err)
	}

	key := r.resultsKey(res.ComponentID)
	pipe := r.client.TxPipeline()
	pipe.LPush(ctx, key, data)
	if r.maxEntries > 0 {
		pipe.LTrim(ctx, key, 0, int64(r.maxEntries-1))
	}
	pipe.HSet(ctx, r.latestKey(), strconv.Itoa(res.ComponentID), data)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to record result in redis: %w", err)
	}
	return nil
}

// Recent returns up to limit results for the component, newest first.
func (r *RedisRecorder) Recent(ctx context.Context, componentID int, limit int) ([]types.CheckResult, error) {
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit - 1)
	}

	values, err := r.client.LRange(ctx, r.resultsKey(componentID), 0, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read results from redis: %w", err)
	}
	return decodeResults(values, r.logger), nil
}

// Latest returns the newest result of every component.
func (r *RedisRecorder) Latest(ctx context.Context) ([]types.CheckResult, error) {
	values, err := r.client.HVals(ctx, r.latestKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read latest results from redis: %w", err)
	}
	return decodeResults(values, r.logger), nil
}

func (r *RedisRecorder) Backend() string { return "redis" }

func (r *RedisRecorder) Close() error {
	return r.client.Close()
}

// decodeResults skips entries that do not decode.
func decodeResults(values []string, logger *slog.Logger) []types.CheckResult {
	out := make([]types.CheckResult, 0, len(values))
	for _, v := range values {
		var res types.CheckResult
		if err := json.Unmarshal([]byte(v), &res); err != nil {
			logger.Warn("failed to unmarshal check result", "error", err)
			continue
		}
		out = append(out, res)
	}
	return out
}
