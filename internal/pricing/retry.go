package pricing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/cryptotax/internal/domain"
)

// retry calls fn with a fixed pause between attempts. Not-found answers
// are final and are not retried. The last source error stays in the chain.
func (r *Resolver) retry(ctx context.Context, what string, fn func(ctx context.Context) (float64, error)) (float64, error) {
	attempts := r.opts.RetryAttempts
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		price, err := fn(ctx)
		if err == nil {
			return price, nil
		}
		lastErr = err
		if errors.Is(err, domain.ErrNotFound) || attempt == attempts {
			break
		}

		r.logger.WarnContext(ctx, "price source failed, retrying",
			slog.String("asset", what),
			slog.Int("attempt", attempt),
			slog.Int("max_attempts", attempts),
			slog.String("error", err.Error()),
		)
		if err := r.sleep(ctx, r.opts.RetryWait); err != nil {
			return 0, fmt.Errorf("pricing: %s: %w", what, err)
		}
	}
	return 0, fmt.Errorf("%w: %s: %w", domain.ErrPriceUnavailable, what, lastErr)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
