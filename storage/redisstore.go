package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"photoproc/task"

	"github.com/redis/go-redis/v9"
)

// maxTxRetries bounds optimistic transaction retries when a watched key changes.
const maxTxRetries = 50

// RedisStore keeps each task as a JSON document, its archive under a separate key,
// and finished task IDs in a sorted set scored by end time.
type RedisStore struct {
	client *redis.Client
	prefix string
}

func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "photoproc"
	}
	return &RedisStore{client: client, prefix: prefix}
}

// OpenRedis connects to addr and verifies the connection.
func OpenRedis(ctx context.Context, addr, password string, db int) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return NewRedisStore(client, ""), nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) taskKey(id string) string   { return s.prefix + ":task:" + id }
func (s *RedisStore) resultKey(id string) string { return s.prefix + ":task:" + id + ":result" }
func (s *RedisStore) endedKey() string           { return s.prefix + ":tasks:ended" }

func (s *RedisStore) Create(ctx context.Context, t *task.Task) error {
	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("failed to encode task: %w", err)
	}
	if err := s.client.Set(ctx, s.taskKey(t.ID), data, 0).Err(); err != nil {
		return fmt.Errorf("failed to save task: %w", err)
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, id string) (*task.Task, error) {
	return s.load(ctx, s.client, id)
}

// load reads a task through c, which is either the client or a watching transaction.
func (s *RedisStore) load(ctx context.Context, c redis.Cmdable, id string) (*task.Task, error) {
	raw, err := c.Get(ctx, s.taskKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, task.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read task: %w", err)
	}
	var t task.Task
	if err := json.Unmarshal(raw, &t); err != nil {
		return nil, fmt.Errorf("failed to decode task: %w", err)
	}
	return &t, nil
}

func (s *RedisStore) GetResult(ctx context.Context, id string) ([]byte, error) {
	data, err := s.client.Get(ctx, s.resultKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		exists, err := s.client.Exists(ctx, s.taskKey(id)).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to check task: %w", err)
		}
		if exists == 0 {
			return nil, task.ErrNotFound
		}
		return nil, task.ErrResultMissing
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read task result: %w", err)
	}
	return data, nil
}

func (s *RedisStore) Update(ctx context.Context, id string, u task.Update) error {
	return s.mutate(ctx, id, func(t *task.Task) error {
		return t.Apply(u)
	}, nil)
}

func (s *RedisStore) SetResult(ctx context.Context, id string, result []byte, term task.Terminal) error {
	return s.mutate(ctx, id, func(t *task.Task) error {
		return t.Complete(term)
	}, func(pipe redis.Pipeliner, t *task.Task) {
		pipe.Set(ctx, s.resultKey(id), result, 0)
		pipe.ZAdd(ctx, s.endedKey(), redis.Z{Score: float64(t.EndTime.UnixMilli()), Member: id})
	})
}

func (s *RedisStore) SetError(ctx context.Context, id string, msg string, term task.Terminal) error {
	return s.mutate(ctx, id, func(t *task.Task) error {
		return t.Fail(msg, term)
	}, func(pipe redis.Pipeliner, t *task.Task) {
		pipe.ZAdd(ctx, s.endedKey(), redis.Z{Score: float64(t.EndTime.UnixMilli()), Member: id})
	})
}

// mutate applies fn to the stored task inside a WATCH/MULTI transaction and retries
// when another writer got there first. extra queues additional commands in the same MULTI.
func (s *RedisStore) mutate(ctx context.Context, id string, fn func(t *task.Task) error, extra func(pipe redis.Pipeliner, t *task.Task)) error {
	key := s.taskKey(id)
	txf := func(tx *redis.Tx) error {
		t, err := s.load(ctx, tx, id)
		if err != nil {
			return err
		}
		if err := fn(t); err != nil {
			return err
		}
		data, err := json.Marshal(t)
		if err != nil {
			return fmt.Errorf("failed to encode task: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, 0)
			if extra != nil {
				extra(pipe, t)
			}
			return nil
		})
		return err
	}

	for i := 0; i < maxTxRetries; i++ {
		err := s.client.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
	return fmt.Errorf("task %s: too many concurrent writers", id)
}

func (s *RedisStore) Delete(ctx context.Context, id string) error {
	var del *redis.IntCmd
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		del = pipe.Del(ctx, s.taskKey(id))
		pipe.Del(ctx, s.resultKey(id))
		pipe.ZRem(ctx, s.endedKey(), id)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to delete task: %w", err)
	}
	if del.Val() == 0 {
		return task.ErrNotFound
	}
	return nil
}

func (s *RedisStore) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	ids, err := s.client.ZRangeByScore(ctx, s.endedKey(), &redis.ZRangeBy{
		Min: "-inf",
		Max: "(" + strconv.FormatInt(cutoff.UnixMilli(), 10),
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to list expired tasks: %w", err)
	}

	deleted := 0
	for _, id := range ids {
		switch err := s.Delete(ctx, id); {
		case err == nil:
			deleted++
		case errors.Is(err, task.ErrNotFound):
		default:
			return deleted, err
		}
	}
	return deleted, nil
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
