package archive

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/wehubfusion/Weaver/pkg/workflow"
)

// DefaultRedisPrefix namespaces every key written by RedisStore.
const DefaultRedisPrefix = "weaver"

// RedisStore keeps each record as a JSON string and indexes the records of a
// workflow in a sorted set scored by start time.
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	logger *zap.Logger
}

// RedisOption configures a RedisStore.
type RedisOption func(*RedisStore)

// WithRedisPrefix sets the key prefix.
func WithRedisPrefix(prefix string) RedisOption {
	return func(s *RedisStore) {
		if prefix != "" {
			s.prefix = prefix
		}
	}
}

// WithRedisTTL expires records after ttl. Zero keeps them forever.
func WithRedisTTL(ttl time.Duration) RedisOption {
	return func(s *RedisStore) {
		s.ttl = ttl
	}
}

// WithRedisLogger sets the logger.
func WithRedisLogger(logger *zap.Logger) RedisOption {
	return func(s *RedisStore) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewRedisStore creates a store on an existing client.
func NewRedisStore(client *redis.Client, opts ...RedisOption) *RedisStore {
	s := &RedisStore{
		client: client,
		prefix: DefaultRedisPrefix,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *RedisStore) recordKey(workflowID, executionID string) string {
	return fmt.Sprintf("%s:execution:%s:%s", s.prefix, workflowID, executionID)
}

func (s *RedisStore) indexKey(workflowID string) string {
	return fmt.Sprintf("%s:executions:%s", s.prefix, workflowID)
}

func score(record *workflow.WorkflowExecution) float64 {
	t, err := time.Parse(time.RFC3339Nano, record.StartedAt)
	if err != nil {
		return 0
	}
	return float64(t.UnixMilli())
}

func (s *RedisStore) Save(ctx context.Context, record *workflow.WorkflowExecution) error {
	if err := validate(record); err != nil {
		return err
	}
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.recordKey(record.WorkflowID, record.ID), data, s.ttl)
		pipe.ZAdd(ctx, s.indexKey(record.WorkflowID), redis.Z{
			Score:  score(record),
			Member: record.ID,
		})
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to save execution %s: %w", record.ID, err)
	}

	s.logger.Debug("saved execution",
		zap.String("workflow_id", record.WorkflowID),
		zap.String("execution_id", record.ID))
	return nil
}

func (s *RedisStore) Get(ctx context.Context, workflowID, executionID string) (*workflow.WorkflowExecution, error) {
	data, err := s.client.Get(ctx, s.recordKey(workflowID, executionID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, notFound(workflowID, executionID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load execution %s: %w", executionID, err)
	}
	return decode(data)
}

func (s *RedisStore) List(ctx context.Context, workflowID string) ([]*workflow.WorkflowExecution, error) {
	ids, err := s.client.ZRevRange(ctx, s.indexKey(workflowID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list executions of %s: %w", workflowID, err)
	}
	if len(ids) == 0 {
		return []*workflow.WorkflowExecution{}, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.recordKey(workflowID, id)
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load executions of %s: %w", workflowID, err)
	}

	out := make([]*workflow.WorkflowExecution, 0, len(values))
	var stale []interface{}
	for i, v := range values {
		str, ok := v.(string)
		if !ok {
			stale = append(stale, ids[i])
			continue
		}
		rec, err := decode([]byte(str))
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if len(stale) > 0 {
		if err := s.client.ZRem(ctx, s.indexKey(workflowID), stale...).Err(); err != nil {
			s.logger.Warn("failed to prune expired executions", zap.String("workflow_id", workflowID), zap.Error(err))
		}
	}
	sortNewestFirst(out)
	return out, nil
}

var _ Store = (*RedisStore)(nil)
