package redisx

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

func New(addr string) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	})
}

// FirstSeen marks service/id as processed and reports whether this call was
// the first to do so.
func FirstSeen(ctx context.Context, rdb *redis.Client, service, id string) (bool, error) {
	ok, err := rdb.SetNX(ctx, fmt.Sprintf(KeyDedup, service, id), "1", TTLDedup).Result()
	if err != nil {
		return false, fmt.Errorf("dedup %s/%s: %w", service, id, err)
	}
	return ok, nil
}

var ErrInProgress = errors.New("request with this idempotency key is in progress")

const pendingMarker = "pending"

// Idempotency remembers responses of create requests by client key.
type Idempotency struct {
	rdb *redis.Client
}

func NewIdempotency(rdb *redis.Client) *Idempotency { return &Idempotency{rdb: rdb} }

// Claim reserves key. It returns the stored response when the key already
// completed, ErrInProgress when another request holds it, and (nil, nil)
// when the caller now owns it.
func (i *Idempotency) Claim(ctx context.Context, key string) ([]byte, error) {
	k := fmt.Sprintf(KeyIdemProductCreate, key)
	ok, err := i.rdb.SetNX(ctx, k, pendingMarker, TTLIdempotency).Result()
	if err != nil {
		return nil, fmt.Errorf("idempotency claim: %w", err)
	}
	if ok {
		return nil, nil
	}
	v, err := i.rdb.Get(ctx, k).Bytes()
	switch {
	case errors.Is(err, redis.Nil):
		// expired between SETNX and GET
		return i.Claim(ctx, key)
	case err != nil:
		return nil, fmt.Errorf("idempotency lookup: %w", err)
	case string(v) == pendingMarker:
		return nil, ErrInProgress
	}
	return v, nil
}

// Complete stores the response for a claimed key.
func (i *Idempotency) Complete(ctx context.Context, key string, response []byte) error {
	return i.rdb.Set(ctx, fmt.Sprintf(KeyIdemProductCreate, key), response, TTLIdempotency).Err()
}

// Release drops a claim after a failed request so the client may retry.
func (i *Idempotency) Release(ctx context.Context, key string) error {
	return i.rdb.Del(ctx, fmt.Sprintf(KeyIdemProductCreate, key)).Err()
}

// Dedup binds FirstSeen to one consumer service.
type Dedup struct {
	rdb     *redis.Client
	service string
}

func NewDedup(rdb *redis.Client, service string) *Dedup {
	return &Dedup{rdb: rdb, service: service}
}

func (d *Dedup) FirstSeen(ctx context.Context, id string) (bool, error) {
	return FirstSeen(ctx, d.rdb, d.service, id)
}
