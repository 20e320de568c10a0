package store

import (
	"context"
	"fmt"
	"strconv"
	"time"

	redis "github.com/redis/go-redis/v9"

	"github.com/livinlefevreloca/tally/internal/metric"
)

const defaultKeyPrefix = "tally:"

// Hash fields of a metric key
const (
	fieldGroup     = "group"
	fieldName      = "name"
	fieldSource    = "source"
	fieldQuery     = "query"
	fieldValue     = "last_value"
	fieldUpdatedAt = "last_updated_at"
	fieldError     = "last_error"
)

// RedisStore keeps the metric order in a list and each metric in a hash:
//
//	<prefix>metrics         LIST  of ids
//	<prefix>metric:<id>     HASH  group, name, source, query, last_value, ...
type RedisStore struct {
	client redis.UniversalClient
	prefix string
}

// OpenRedisStore connects to Redis and verifies the connection
func OpenRedisStore(ctx context.Context, cfg RedisConfig) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return NewRedisStore(client, cfg.KeyPrefix), nil
}

// NewRedisStore wraps an existing client
func NewRedisStore(client redis.UniversalClient, prefix string) *RedisStore {
	if prefix == "" {
		prefix = defaultKeyPrefix
	}
	return &RedisStore{client: client, prefix: prefix}
}

// Close releases the client
func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) listKey() string {
	return s.prefix + "metrics"
}

func (s *RedisStore) metricKey(id string) string {
	return s.prefix + "metric:" + id
}

// LoadAll returns the metrics in list order. Ids without a hash and
// repeated ids are skipped.
func (s *RedisStore) LoadAll(ctx context.Context) ([]metric.Definition, error) {
	ids, err := s.client.LRange(ctx, s.listKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("load metric ids: %w", err)
	}

	cmds := make([]*redis.MapStringStringCmd, len(ids))
	_, err = s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, id := range ids {
			cmds[i] = pipe.HGetAll(ctx, s.metricKey(id))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("load metrics: %w", err)
	}

	defs := make([]metric.Definition, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))
	for i, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}

		fields := cmds[i].Val()
		if len(fields) == 0 {
			continue
		}
		def, err := decodeMetric(id, fields)
		if err != nil {
			return nil, err
		}
		defs = append(defs, def)
	}
	return defs, nil
}

// PersistValue records a successful refresh and clears the stored error
func (s *RedisStore) PersistValue(ctx context.Context, id string, value float64, at time.Time) error {
	key := s.metricKey(id)
	if err := s.requireMetric(ctx, id); err != nil {
		return err
	}

	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key,
			fieldValue, strconv.FormatFloat(value, 'g', -1, 64),
			fieldUpdatedAt, at.UTC().Format(time.RFC3339Nano),
		)
		pipe.HDel(ctx, key, fieldError)
		return nil
	})
	if err != nil {
		return fmt.Errorf("persist metric %s: %w", id, err)
	}
	return nil
}

// PersistFailure records the last error without touching the stored value
func (s *RedisStore) PersistFailure(ctx context.Context, id string, message string, at time.Time) error {
	if err := s.requireMetric(ctx, id); err != nil {
		return err
	}
	if err := s.client.HSet(ctx, s.metricKey(id), fieldError, message).Err(); err != nil {
		return fmt.Errorf("persist failure %s: %w", id, err)
	}
	return nil
}

// Import appends definitions to the store, keeping their order. An id
// already present is overwritten and moved to its new position.
func (s *RedisStore) Import(ctx context.Context, defs []metric.Definition) error {
	if err := checkUniqueIDs(defs); err != nil {
		return err
	}
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, def := range defs {
			pipe.HSet(ctx, s.metricKey(def.ID), encodeMetric(def))
			pipe.LRem(ctx, s.listKey(), 0, def.ID)
			pipe.RPush(ctx, s.listKey(), def.ID)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("import metrics: %w", err)
	}
	return nil
}

func (s *RedisStore) requireMetric(ctx context.Context, id string) error {
	n, err := s.client.Exists(ctx, s.metricKey(id)).Result()
	if err != nil {
		return fmt.Errorf("lookup metric %s: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrMetricNotFound, id)
	}
	return nil
}

func encodeMetric(def metric.Definition) map[string]any {
	fields := map[string]any{
		fieldGroup:  def.DisplayGroup,
		fieldName:   def.DisplayName,
		fieldSource: string(def.SourceType),
		fieldQuery:  def.QueryText,
	}
	if def.LastValue != nil {
		fields[fieldValue] = strconv.FormatFloat(*def.LastValue, 'g', -1, 64)
	}
	if def.LastUpdatedAt != nil {
		fields[fieldUpdatedAt] = def.LastUpdatedAt.UTC().Format(time.RFC3339Nano)
	}
	if def.LastError != "" {
		fields[fieldError] = def.LastError
	}
	return fields
}

func decodeMetric(id string, fields map[string]string) (metric.Definition, error) {
	def := metric.Definition{
		ID:           id,
		DisplayGroup: fields[fieldGroup],
		DisplayName:  fields[fieldName],
		SourceType:   metric.SourceType(fields[fieldSource]),
		QueryText:    fields[fieldQuery],
		LastError:    fields[fieldError],
	}

	if raw, ok := fields[fieldValue]; ok && raw != "" {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return def, fmt.Errorf("metric %s: invalid %s %q: %w", id, fieldValue, raw, err)
		}
		def.LastValue = &v
	}
	if raw, ok := fields[fieldUpdatedAt]; ok && raw != "" {
		ts, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return def, fmt.Errorf("metric %s: invalid %s %q: %w", id, fieldUpdatedAt, raw, err)
		}
		def.LastUpdatedAt = &ts
	}
	return def, nil
}
