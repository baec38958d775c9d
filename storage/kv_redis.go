// SPDX-License-Identifier: ice License 1.0

package storage

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/hashicorp/go-multierror"
	"github.com/redis/go-redis/v9"
)

const (
	redisKeyPrefix = "relay:"
)

type redisKV struct {
	client *redis.Client
}

func newRedisKV(ctx context.Context, url string) (*redisKV, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid redis url %q", url)
	}
	client := redis.NewClient(opts)
	if err = client.Ping(ctx).Err(); err != nil {
		return nil, multierror.Append(errors.Wrapf(err, "failed to ping redis at %v", opts.Addr), client.Close()).ErrorOrNil()
	}

	return &redisKV{client: client}, nil
}

func (r *redisKV) Get(ctx context.Context, key string) ([]byte, error) {
	val, err := r.client.Get(ctx, redisKeyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, errKeyNotFound
	}

	return val, errors.Wrapf(err, "failed to read %v", key)
}

func (r *redisKV) Put(ctx context.Context, key string, value []byte) error {
	return errors.Wrapf(r.client.Set(ctx, redisKeyPrefix+key, value, 0).Err(), "failed to write %v", key)
}

func (r *redisKV) Close() error {
	return errors.Wrap(r.client.Close(), "failed to close redis client")
}
