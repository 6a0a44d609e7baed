package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ivlev/stopcast/internal/scenario"
)

// Redis stores records as JSON values.
// Keys: scenario:<id> => JSON(Record)
// Sorted set for listing: scenarios (score: createdAt unix)
type Redis struct {
	client *redis.Client
}

const redisIndexKey = "scenarios"

func OpenRedis(ctx context.Context, addr, password string, db int) (*Redis, error) {
	client := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	pingCtx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis connection: %w", err)
	}
	return NewRedis(client), nil
}

func NewRedis(client *redis.Client) *Redis {
	return &Redis{client: client}
}

func (r *Redis) key(id string) string { return "scenario:" + id }

func (r *Redis) Get(ctx context.Context, id string) (*scenario.Record, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	return r.get(ctx, r.client, id)
}

// getter is satisfied by both *redis.Client and *redis.Tx.
type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func (r *Redis) get(ctx context.Context, c getter, id string) (*scenario.Record, error) {
	val, err := c.Get(ctx, r.key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var rec scenario.Record
	if err := json.Unmarshal(val, &rec); err != nil {
		return nil, fmt.Errorf("decode scenario %s: %w", id, err)
	}
	return &rec, nil
}

func (r *Redis) List(ctx context.Context) ([]*scenario.Record, error) {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	ids, err := r.client.ZRevRange(ctx, redisIndexKey, 0, -1).Result()
	if err != nil {
		return nil, err
	}
	recs := make([]*scenario.Record, 0, len(ids))
	for _, id := range ids {
		rec, err := r.get(ctx, r.client, id)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	sortRecords(recs)
	return recs, nil
}

func (r *Redis) Save(ctx context.Context, rec *scenario.Record) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	b, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	id := rec.Scenario.ID
	pipe := r.client.TxPipeline()
	pipe.Set(ctx, r.key(id), b, 0)
	pipe.ZAdd(ctx, redisIndexKey, redis.Z{Score: float64(rec.CreatedAt.Unix()), Member: id})
	_, err = pipe.Exec(ctx)
	return err
}

// UpdateStatus is a read-modify-write under WATCH, retried when the key
// changes concurrently.
func (r *Redis) UpdateStatus(ctx context.Context, id string, status scenario.Status, videoPath string) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	key := r.key(id)
	update := func(tx *redis.Tx) error {
		rec, err := r.get(ctx, tx, id)
		if err != nil {
			return err
		}
		rec.VideoStatus = status
		rec.VideoPath = videoPath
		rec.UpdatedAt = time.Now().UTC()
		b, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, b, 0)
			return nil
		})
		return err
	}

	for attempt := 0; attempt < 3; attempt++ {
		err := r.client.Watch(ctx, update, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
	return fmt.Errorf("update status of %s: %w", id, redis.TxFailedErr)
}

func (r *Redis) Delete(ctx context.Context, id string) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	pipe := r.client.TxPipeline()
	del := pipe.Del(ctx, r.key(id))
	pipe.ZRem(ctx, redisIndexKey, id)
	if _, err := pipe.Exec(ctx); err != nil {
		return err
	}
	if del.Val() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *Redis) Close(ctx context.Context) error {
	return r.client.Close()
}
