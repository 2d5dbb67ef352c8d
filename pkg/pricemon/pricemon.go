package pricemon

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/xrpl-tracker/pkg/analyzer"
	"github.com/xrpl-tracker/pkg/db"
	"github.com/xrpl-tracker/pkg/xrpl"
)

const (
	interTokenWait = 5 * time.Second
	activeCutoff   = 24 * time.Hour
)

// maxPriceHysteresis keeps the high-water log line from churning on noise: a
// new high is only announced once it beats the old mark by 5%.
var maxPriceHysteresis = decimal.NewFromFloat(1.05)

// Monitor samples order-book prices for recently active tokens and maintains
// each token's current price and high-water mark.
type Monitor struct {
	store  db.Store
	client *xrpl.Client

	interval     time.Duration
	minLiquidity float64
}

func New(store db.Store, client *xrpl.Client, interval time.Duration, minLiquidity float64) *Monitor {
	if interval <= 0 {
		interval = 2 * time.Minute
	}
	return &Monitor{store: store, client: client, interval: interval, minLiquidity: minLiquidity}
}

// Run polls prices on the configured interval until the context ends.
func (m *Monitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			m.sweep(ctx)
		}
	}
}

func (m *Monitor) sweep(ctx context.Context) {
	tokens, err := m.store.GetActiveTokens(time.Now().Add(-activeCutoff))
	if err != nil {
		log.Error().Err(err).Msg("active token query failed")
		return
	}

	for i, t := range tokens {
		if ctx.Err() != nil {
			return
		}
		if m.minLiquidity > 0 && t.Liquidity < m.minLiquidity {
			continue
		}
		if err := m.sample(ctx, t); err != nil {
			log.Debug().Err(err).Str("token", t.Token.Key()).Msg("price check failed")
		}
		// Spread requests out so a long token list does not burst the
		// server.
		if i < len(tokens)-1 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(interTokenWait):
			}
		}
	}
}

func (m *Monitor) sample(ctx context.Context, t db.TokenState) error {
	offers, err := m.client.BookOffers(ctx, t.Token, 1)
	if err != nil {
		return err
	}
	if len(offers) == 0 {
		return nil
	}

	price, ok := analyzer.OfferPrice(offers[0])
	if !ok {
		return nil
	}

	if err := m.store.RecordPriceSample(db.PriceSample{
		Token:     t.Token,
		Price:     price,
		Liquidity: t.Liquidity,
		Timestamp: time.Now().UTC(),
	}); err != nil {
		return err
	}
	if err := m.store.UpdateCurrentPrice(t.Token, price); err != nil {
		return err
	}
	return m.updateMax(t.Token, price)
}

// updateMax advances the high-water mark so it never trails the current
// price. Highs are only announced once they clear the hysteresis margin.
func (m *Monitor) updateMax(token xrpl.TokenID, price decimal.Decimal) error {
	max, err := m.store.GetMaxPrice(token)
	if err != nil {
		return err
	}
	if price.LessThanOrEqual(max) {
		return nil
	}
	if !max.IsZero() && price.GreaterThanOrEqual(max.Mul(maxPriceHysteresis)) {
		log.Info().
			Str("token", token.Key()).
			Str("price", price.String()).
			Str("previous_max", max.String()).
			Msg("📈 new price high")
	}
	return m.store.UpdateMaxPrice(token, price)
}
