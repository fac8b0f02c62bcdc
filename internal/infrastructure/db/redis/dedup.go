package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/99minutos/portal-auth/internal/core/ports"
)

const dedupTTL = 10 * time.Minute

// DedupChecker provides idempotency checks for audited auth transitions.
// Key format: audit:dedup:<user_id>:<event>:<session_id>:<unix_timestamp>
type DedupChecker struct {
	client *redis.Client
}

// NewDedupChecker creates a DedupChecker wrapping the given Redis client.
func NewDedupChecker(client *redis.Client) *DedupChecker {
	return &DedupChecker{client: client}
}

// IsDuplicate reports whether this exact transition has already been recorded.
func (d *DedupChecker) IsDuplicate(ctx context.Context, in ports.AuthEventInput) (bool, error) {
	n, err := d.client.Exists(ctx, dedupKey(in)).Result()
	if err != nil {
		return false, fmt.Errorf("dedup check: %w", err)
	}
	return n > 0, nil
}

// Mark records that this transition has been recorded (expires after dedupTTL).
func (d *DedupChecker) Mark(ctx context.Context, in ports.AuthEventInput) error {
	return d.client.Set(ctx, dedupKey(in), "1", dedupTTL).Err()
}

// dedupKey identifies a transition. The timestamp is truncated to the second
// so a notification and an immediate re-check of the same session collapse.
func dedupKey(in ports.AuthEventInput) string {
	return fmt.Sprintf("audit:dedup:%s:%s:%s:%d", in.UserID, in.Event, in.SessionID, in.Timestamp.Unix())
}
