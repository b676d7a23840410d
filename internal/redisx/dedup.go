package redisx

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// Deduper remembers which messages a consumer already applied.
// Claim before applying, Release when applying failed so redelivery can retry.
type Deduper struct {
	Redis    *redis.Client
	Consumer string
}

func (d *Deduper) key(id string) string { return fmt.Sprintf(KeyDedup, d.Consumer, id) }

// Claim returns false when id was already claimed.
func (d *Deduper) Claim(ctx context.Context, id string) (bool, error) {
	ok, err := d.Redis.SetNX(ctx, d.key(id), 1, TTLDedup).Result()
	if err != nil {
		return false, errors.Wrapf(err, "claim %s", id)
	}
	return ok, nil
}

func (d *Deduper) Release(ctx context.Context, id string) error {
	return errors.Wrapf(d.Redis.Del(ctx, d.key(id)).Err(), "release %s", id)
}
