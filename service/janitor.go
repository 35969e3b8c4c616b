package service

import (
	"context"
	"errors"
	"time"

	"github.com/layer-3/tokenward/core"
)

// PurgeExpired removes expired sessions and blacklist entries. Both stores
// are attempted even when the first one fails.
func (s *AuthService) PurgeExpired(ctx context.Context) (core.PurgeResult, error) {
	now := s.now()
	var res core.PurgeResult

	sessionsErr := s.withStore(ctx, "purge sessions", func(ctx context.Context) error {
		var err error
		res.Sessions, err = s.sessions.PurgeExpired(ctx, now)
		return err
	})
	blacklistErr := s.withStore(ctx, "purge blacklist", func(ctx context.Context) error {
		var err error
		res.Blacklist, err = s.blacklist.PurgeExpired(ctx, now)
		return err
	})

	s.metrics.Purged(ctx, "sessions", res.Sessions)
	s.metrics.Purged(ctx, "blacklist", res.Blacklist)

	if err := errors.Join(sessionsErr, blacklistErr); err != nil {
		return res, unavailable(err)
	}
	return res, nil
}

// RunJanitor purges expired records every interval until ctx is done
func (s *AuthService) RunJanitor(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.log.Info(ctx, "janitor started", "interval", interval.String())
	for {
		select {
		case <-ctx.Done():
			s.log.Info(context.WithoutCancel(ctx), "janitor stopped")
			return
		case <-ticker.C:
			res, err := s.PurgeExpired(ctx)
			if err != nil {
				s.log.Warn(ctx, "purge failed", "error", err)
			}
			s.log.Info(ctx, "purged expired records", "sessions", res.Sessions, "blacklist", res.Blacklist)
		}
	}
}
