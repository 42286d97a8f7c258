package cache

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Hash and list helpers. Members go through the same codec as plain values.

// HGet returns one field of the hash at key, ErrNotFound when key or field is absent
func (r *RedisCache) HGet(ctx context.Context, key, field string) (interface{}, error) {
	client, err := r.conn()
	if err != nil {
		return nil, err
	}

	raw, err := client.HGet(ctx, key, field).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, r.commandError(ctx, client, "hget", err)
	}
	return decodeValue(r.codec, raw), nil
}

// HSet sets one field of the hash at key and reports whether the field is new
func (r *RedisCache) HSet(ctx context.Context, key, field string, value interface{}) (bool, error) {
	client, err := r.conn()
	if err != nil {
		return false, err
	}

	data, err := encodeValue(r.codec, value)
	if err != nil {
		return false, fmt.Errorf("failed to marshal value: %w", err)
	}

	n, err := client.HSet(ctx, key, field, data).Result()
	if err != nil {
		return false, r.commandError(ctx, client, "hset", err)
	}
	return n > 0, nil
}

// HGetAll returns every field of the hash at key; an absent key yields an empty map
func (r *RedisCache) HGetAll(ctx context.Context, key string) (map[string]interface{}, error) {
	client, err := r.conn()
	if err != nil {
		return nil, err
	}

	fields, err := client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, r.commandError(ctx, client, "hgetall", err)
	}

	out := make(map[string]interface{}, len(fields))
	for f, raw := range fields {
		out[f] = decodeValue(r.codec, []byte(raw))
	}
	return out, nil
}

// HDel removes fields from the hash at key and returns how many existed
func (r *RedisCache) HDel(ctx context.Context, key string, fields ...string) (int64, error) {
	client, err := r.conn()
	if err != nil {
		return 0, err
	}

	n, err := client.HDel(ctx, key, fields...).Result()
	if err != nil {
		return 0, r.commandError(ctx, client, "hdel", err)
	}
	return n, nil
}

// LPush prepends values to the list at key and returns the new length
func (r *RedisCache) LPush(ctx context.Context, key string, values ...interface{}) (int64, error) {
	return r.push(ctx, "lpush", key, values)
}

// RPush appends values to the list at key and returns the new length
func (r *RedisCache) RPush(ctx context.Context, key string, values ...interface{}) (int64, error) {
	return r.push(ctx, "rpush", key, values)
}

func (r *RedisCache) push(ctx context.Context, op, key string, values []interface{}) (int64, error) {
	client, err := r.conn()
	if err != nil {
		return 0, err
	}

	encoded := make([]interface{}, 0, len(values))
	for _, v := range values {
		data, err := encodeValue(r.codec, v)
		if err != nil {
			return 0, fmt.Errorf("failed to marshal value: %w", err)
		}
		encoded = append(encoded, data)
	}

	var n int64
	if op == "lpush" {
		n, err = client.LPush(ctx, key, encoded...).Result()
	} else {
		n, err = client.RPush(ctx, key, encoded...).Result()
	}
	if err != nil {
		return 0, r.commandError(ctx, client, op, err)
	}
	return n, nil
}

// LPop removes and returns the first element, ErrNotFound on an empty list
func (r *RedisCache) LPop(ctx context.Context, key string) (interface{}, error) {
	return r.pop(ctx, "lpop", key)
}

// RPop removes and returns the last element, ErrNotFound on an empty list
func (r *RedisCache) RPop(ctx context.Context, key string) (interface{}, error) {
	return r.pop(ctx, "rpop", key)
}

func (r *RedisCache) pop(ctx context.Context, op, key string) (interface{}, error) {
	client, err := r.conn()
	if err != nil {
		return nil, err
	}

	var cmd *redis.StringCmd
	if op == "lpop" {
		cmd = client.LPop(ctx, key)
	} else {
		cmd = client.RPop(ctx, key)
	}

	raw, err := cmd.Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, r.commandError(ctx, client, op, err)
	}
	return decodeValue(r.codec, raw), nil
}

// LRange returns elements start..stop inclusive; negative indexes count from the tail
func (r *RedisCache) LRange(ctx context.Context, key string, start, stop int64) ([]interface{}, error) {
	client, err := r.conn()
	if err != nil {
		return nil, err
	}

	items, err := client.LRange(ctx, key, start, stop).Result()
	if err != nil {
		return nil, r.commandError(ctx, client, "lrange", err)
	}

	out := make([]interface{}, 0, len(items))
	for _, raw := range items {
		out = append(out, decodeValue(r.codec, []byte(raw)))
	}
	return out, nil
}
