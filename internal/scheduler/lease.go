package scheduler

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// releaseScript deletes the lease only when this holder still owns it.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Lease is a single-holder Redis lock taken with SET NX PX. It expires on
// its own when the holder dies mid-sweep.
type Lease struct {
	client redis.Cmdable
	key    string
	ttl    time.Duration
	token  string
}

func NewLease(client redis.Cmdable, key string, ttl time.Duration) *Lease {
	return &Lease{client: client, key: key, ttl: ttl, token: uuid.NewString()}
}

func (l *Lease) Acquire(ctx context.Context) (bool, error) {
	return l.client.SetNX(ctx, l.key, l.token, l.ttl).Result()
}

func (l *Lease) Release(ctx context.Context) error {
	return releaseScript.Run(ctx, l.client, []string{l.key}, l.token).Err()
}
