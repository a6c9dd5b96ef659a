package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/FilipeAphrody/estate-auth/internal/domain"
	"github.com/FilipeAphrody/estate-auth/internal/metrics"
)

// CleanupResult counts the rows removed by one sweep.
type CleanupResult struct {
	InvalidatedTokens    int64
	ExpiredRefreshTokens int64
	RevokedRefreshTokens int64
}

// CleanupUsecase periodically drops ledger entries that can no longer matter.
type CleanupUsecase struct {
	ledger   domain.InvalidatedTokenRepository
	refresh  domain.RefreshTokenRepository
	interval time.Duration
	now      func() time.Time
}

func NewCleanupUsecase(ledger domain.InvalidatedTokenRepository, refresh domain.RefreshTokenRepository, interval time.Duration) *CleanupUsecase {
	return &CleanupUsecase{ledger: ledger, refresh: refresh, interval: interval, now: time.Now}
}

// Sweep runs the three purges. A failing step does not stop the others;
// their errors are joined.
func (c *CleanupUsecase) Sweep(ctx context.Context) (CleanupResult, error) {
	now := c.now()
	var (
		res  CleanupResult
		errs []error
		err  error
	)

	if res.InvalidatedTokens, err = c.ledger.PurgeExpiredInvalidatedTokens(ctx, now); err != nil {
		errs = append(errs, fmt.Errorf("purge invalidated tokens: %w", err))
	}
	if res.ExpiredRefreshTokens, err = c.refresh.PurgeExpiredRefreshTokens(ctx, now); err != nil {
		errs = append(errs, fmt.Errorf("purge expired refresh tokens: %w", err))
	}
	if res.RevokedRefreshTokens, err = c.refresh.PurgeRevokedRefreshTokens(ctx); err != nil {
		errs = append(errs, fmt.Errorf("purge revoked refresh tokens: %w", err))
	}

	metrics.RecordCleanup(res.InvalidatedTokens, res.ExpiredRefreshTokens, res.RevokedRefreshTokens, now)
	return res, errors.Join(errs...)
}

// Run sweeps once at start and then every interval until ctx is done.
func (c *CleanupUsecase) Run(ctx context.Context) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		c.sweepAndLog(ctx)

		select {
		case <-ctx.Done():
			log.Info().Msg("token cleanup stopped")
			return
		case <-ticker.C:
		}
	}
}

func (c *CleanupUsecase) sweepAndLog(ctx context.Context) {
	res, err := c.Sweep(ctx)
	if err != nil {
		log.Error().Err(err).Msg("token cleanup failed")
	}
	log.Info().
		Int64("invalidated_tokens", res.InvalidatedTokens).
		Int64("expired_refresh_tokens", res.ExpiredRefreshTokens).
		Int64("revoked_refresh_tokens", res.RevokedRefreshTokens).
		Msg("token cleanup completed")
}
