package backend

import (
	"context"
	"errors"
	"time"

	"github.com/99minutos/portal-auth/internal/core/domain"
)

const defaultRefreshTick = 30 * time.Second

// RunAutoRefresh refreshes the session shortly before it expires. It blocks
// until ctx is cancelled.
func (c *Client) RunAutoRefresh(ctx context.Context, tick time.Duration) {
	if tick <= 0 {
		tick = defaultRefreshTick
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.refreshIfDue(ctx)
		}
	}
}

func (c *Client) refreshIfDue(ctx context.Context) {
	session := c.Session()
	if session == nil || session.RefreshToken == "" {
		return
	}
	if !session.ExpiresWithin(c.now(), c.cfg.RefreshMargin) {
		return
	}

	if _, err := c.RefreshSession(ctx); err != nil {
		if errors.Is(err, domain.ErrSessionExpired) || errors.Is(err, context.Canceled) {
			return
		}
		c.log.Warn().Err(err).Msg("background token refresh failed")
	}
}
