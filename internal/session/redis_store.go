package session

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"time"

	"churn-calc/internal/common/errors"

	"github.com/redis/go-redis/v9"
)

const (
	DefaultKeyPrefix = "churncalc:session:"

	maxUpdateAttempts = 5
)

// RedisStore keeps each session as a JSON value with a sliding TTL.
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	now    func() time.Time
}

func NewRedisStore(client *redis.Client, prefix string, ttl time.Duration) *RedisStore {
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	return &RedisStore{
		client: client,
		prefix: prefix,
		ttl:    ttl,
		now:    time.Now,
	}
}

func (r *RedisStore) key(id string) string {
	return r.prefix + id
}

func (r *RedisStore) Create(ctx context.Context) (*State, error) {
	s := New(r.now())
	payload, err := json.Marshal(s)
	if err != nil {
		return nil, errors.NewSessionStoreFailedError("create", err)
	}

	ok, err := r.client.SetNX(ctx, r.key(s.ID), payload, r.ttl).Result()
	if err != nil {
		return nil, errors.NewSessionStoreFailedError("create", err)
	}
	if !ok {
		return nil, errors.NewSessionStoreFailedError("create", fmt.Errorf("session %s already exists", s.ID))
	}
	return s, nil
}

func (r *RedisStore) Load(ctx context.Context, id string) (*State, error) {
	data, err := r.client.Get(ctx, r.key(id)).Bytes()
	if stderrors.Is(err, redis.Nil) {
		return nil, errors.NewSessionNotFoundError(id)
	}
	if err != nil {
		return nil, errors.NewSessionStoreFailedError("load", err)
	}

	var s State
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, errors.NewSessionStoreFailedError("load", fmt.Errorf("decode session: %w", err))
	}
	return &s, nil
}

// Update uses WATCH so concurrent writers (the API and its background
// narrative and lead jobs) never overwrite each other.
func (r *RedisStore) Update(ctx context.Context, id string, actions ...Action) (*State, error) {
	key := r.key(id)
	var updated State

	txf := func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if stderrors.Is(err, redis.Nil) {
			return errors.NewSessionNotFoundError(id)
		}
		if err != nil {
			return err
		}

		var current State
		if err := json.Unmarshal(data, &current); err != nil {
			return fmt.Errorf("decode session: %w", err)
		}

		next, err := ReduceAll(current, actions...)
		if err != nil {
			return err
		}
		next.UpdatedAt = r.now().UTC()

		payload, err := json.Marshal(next)
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, payload, r.ttl)
			return nil
		})
		if err == nil {
			updated = next
		}
		return err
	}

	for attempt := 0; attempt < maxUpdateAttempts; attempt++ {
		err := r.client.Watch(ctx, txf, key)
		if err == nil {
			return &updated, nil
		}
		if stderrors.Is(err, redis.TxFailedErr) {
			continue
		}
		var stdErr *errors.StandardError
		if stderrors.As(err, &stdErr) {
			return nil, stdErr
		}
		return nil, errors.NewSessionStoreFailedError("update", err)
	}

	return nil, errors.NewSessionStoreFailedError("update", fmt.Errorf("session %s changed concurrently %d times", id, maxUpdateAttempts))
}

func (r *RedisStore) Delete(ctx context.Context, id string) error {
	n, err := r.client.Del(ctx, r.key(id)).Result()
	if err != nil {
		return errors.NewSessionStoreFailedError("delete", err)
	}
	if n == 0 {
		return errors.NewSessionNotFoundError(id)
	}
	return nil
}

func (r *RedisStore) Ping(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return errors.NewSessionStoreFailedError("ping", err)
	}
	return nil
}
