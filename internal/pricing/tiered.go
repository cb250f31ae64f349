package pricing

import (
	"context"
	"log/slog"

	"github.com/alanyoungcy/cryptotax/internal/domain"
)

// Tiered chains price stores from fastest to most durable. A hit in a
// slower layer is copied into the faster ones. Failures of any layer but
// the last are logged and skipped.
type Tiered struct {
	layers []domain.PriceStore
	logger *slog.Logger
}

// NewTiered creates a Tiered store. The last layer is the store of record.
func NewTiered(logger *slog.Logger, layers ...domain.PriceStore) *Tiered {
	return &Tiered{
		layers: layers,
		logger: logger.With(slog.String("component", "price_memo")),
	}
}

// Lookup implements domain.PriceStore.
func (t *Tiered) Lookup(ctx context.Context, key domain.PriceKey) (float64, bool, error) {
	last := len(t.layers) - 1
	for i, layer := range t.layers {
		price, ok, err := layer.Lookup(ctx, key)
		if err != nil {
			if i == last {
				return 0, false, err
			}
			t.logger.WarnContext(ctx, "price memo layer lookup failed",
				slog.Int("layer", i),
				slog.String("key", key.String()),
				slog.String("error", err.Error()),
			)
			continue
		}
		if !ok {
			continue
		}
		for j := 0; j < i; j++ {
			if err := t.layers[j].Save(ctx, key, price); err != nil {
				t.logger.WarnContext(ctx, "price memo backfill failed",
					slog.Int("layer", j),
					slog.String("key", key.String()),
					slog.String("error", err.Error()),
				)
			}
		}
		return price, true, nil
	}
	return 0, false, nil
}

// Save implements domain.PriceStore. The store of record is written first.
func (t *Tiered) Save(ctx context.Context, key domain.PriceKey, price float64) error {
	last := len(t.layers) - 1
	for i := last; i >= 0; i-- {
		if err := t.layers[i].Save(ctx, key, price); err != nil {
			if i == last {
				return err
			}
			t.logger.WarnContext(ctx, "price memo layer save failed",
				slog.Int("layer", i),
				slog.String("key", key.String()),
				slog.String("error", err.Error()),
			)
		}
	}
	return nil
}

var _ domain.PriceStore = (*Tiered)(nil)
