package admission

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"voice-receptionist/pkg/utils"
)

// RedisGate shares the sliding window across instances through a Redis sorted
// set per agent.
type RedisGate struct {
	rdb    redis.Scripter
	limit  int
	window time.Duration
	prefix string

	now       func() time.Time
	newMember func() string
}

func NewRedisGate(rdb redis.Scripter, limit int, window time.Duration) *RedisGate {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if window <= 0 {
		window = DefaultWindow
	}
	return &RedisGate{
		rdb:       rdb,
		limit:     limit,
		window:    window,
		prefix:    "admission:agent:",
		now:       time.Now,
		newMember: uuid.NewString,
	}
}

func (g *RedisGate) Allow(ctx context.Context, agentID string) (bool, error) {
	return utils.AdmitSlidingWindow(ctx, g.rdb, g.prefix+agentID, g.limit, g.window, g.now(), g.newMember())
}
