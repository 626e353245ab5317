package services

import (
	"context"
	"fmt"
	"time"

	"vpn-billing-api/pkg/logging"

	"github.com/redis/go-redis/v9"
)

// ReplayGuard deduplicates webhook deliveries across processes with a
// SETNX-claimed redis key per delivery.
type ReplayGuard struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewReplayGuard creates the guard. Claims expire after 24 hours.
func NewReplayGuard(rdb *redis.Client) *ReplayGuard {
	return &ReplayGuard{
		rdb: rdb,
		ttl: 24 * time.Hour,
	}
}

// FirstDelivery reports whether this provider event id is seen for the
// first time. On redis failure it errs open and lets the delivery through:
// settlement itself is idempotent, the guard only saves work.
func (g *ReplayGuard) FirstDelivery(ctx context.Context, provider, eventID string) bool {
	if g == nil || g.rdb == nil || eventID == "" {
		return true
	}

	key := fmt.Sprintf("webhook:seen:%s:%s", provider, eventID)
	ok, err := g.rdb.SetNX(ctx, key, 1, g.ttl).Result()
	if err != nil {
		logging.Warnf("Replay guard unavailable for %s/%s: %v", provider, eventID, err)
		return true
	}
	if !ok {
		logging.Infof("Replay detected: %s delivery %s already processed", provider, eventID)
	}
	return ok
}
