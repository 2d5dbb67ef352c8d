package analyzer

import (
	"context"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"github.com/xrpl-tracker/pkg/db"
	"github.com/xrpl-tracker/pkg/xrpl"
)

const (
	analyzeInterval = 5 * time.Minute
	batchSize       = 10
	historyLimit    = 20

	// Analyses go stale after a day; stale tokens re-enter the queue.
	reanalyzeAfter = 24 * time.Hour

	// lsfGlobalFreeze on the issuer account.
	globalFreezeFlag = 0x00100000

	baseThrottle = 250 * time.Millisecond
	maxThrottle  = 60 * time.Second
)

// Analyzer enriches observed tokens in the background: issuer history,
// creator, freeze state, holder count, liquidity, and an initial price sample.
type Analyzer struct {
	store  db.Store
	client *xrpl.Client

	maxTokenAge  time.Duration
	minLiquidity float64

	limiter *rate.Limiter
	// throttle adapts to server pushback: doubled when throttled, halved
	// back toward base on success. Each analyzer owns its own state.
	throttle time.Duration
}

func New(store db.Store, client *xrpl.Client, maxTokenAge time.Duration, minLiquidity float64) *Analyzer {
	return &Analyzer{
		store:        store,
		client:       client,
		maxTokenAge:  maxTokenAge,
		minLiquidity: minLiquidity,
		limiter:      rate.NewLimiter(rate.Limit(4), 4),
		throttle:     baseThrottle,
	}
}

// Run drains the analysis queue in batches until the context ends.
func (a *Analyzer) Run(ctx context.Context) error {
	ticker := time.NewTicker(analyzeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			a.runBatch(ctx)
		}
	}
}

func (a *Analyzer) runBatch(ctx context.Context) {
	tokens, err := a.store.GetUnanalyzedTokens(time.Now().Add(-reanalyzeAfter), batchSize)
	if err != nil {
		log.Error().Err(err).Msg("analysis queue query failed")
		return
	}
	if len(tokens) == 0 {
		return
	}

	log.Debug().Int("batch", len(tokens)).Msg("🔬 analyzing tokens")
	for _, t := range tokens {
		if ctx.Err() != nil {
			return
		}

		// Tokens that aged out while queued are expired, not analyzed.
		if a.maxTokenAge > 0 && a.tokenAge(ctx, t) > a.maxTokenAge {
			if err := a.store.MarkTokenTooOld(t.Token); err != nil {
				log.Warn().Err(err).Str("token", t.Token.Key()).Msg("expire failed")
			}
			continue
		}

		if err := a.store.MarkTokenPending(t.Token); err != nil {
			log.Warn().Err(err).Str("token", t.Token.Key()).Msg("mark pending failed")
		}
		if err := a.analyze(ctx, t.Token); err != nil {
			log.Warn().Err(err).Str("token", t.Token.Key()).Msg("analysis failed")
		}
	}
}

// tokenAge measures from the ledger close time of the discovery transaction.
// The wall-clock first_seen is the fallback when the hash is missing or the
// lookup fails.
func (a *Analyzer) tokenAge(ctx context.Context, t db.TokenState) time.Duration {
	if t.FirstSeenTx != "" && t.FirstSeenTx != "unknown" {
		res, err := query(a, ctx, func() (*xrpl.TxResult, error) {
			return a.client.Tx(ctx, t.FirstSeenTx)
		})
		if err == nil && !res.Date.IsZero() {
			return time.Since(res.Date)
		}
		if err != nil {
			log.Debug().Err(err).Str("token", t.Token.Key()).Msg("discovery tx lookup failed")
		}
	}
	return time.Since(t.FirstSeen)
}

func (a *Analyzer) analyze(ctx context.Context, token xrpl.TokenID) error {
	history, err := query(a, ctx, func() ([]xrpl.AccountTxEntry, error) {
		return a.client.AccountTx(ctx, token.Issuer, historyLimit)
	})
	if err != nil {
		return err
	}

	analysis := db.TokenAnalysis{Token: token}
	for _, e := range history {
		if !e.Validated || !e.Succeeded {
			continue
		}
		// History is newest first; the last surviving entry approximates
		// the account's origin.
		analysis.Creator = e.Account
		analysis.CreatedAt = e.Date
		if e.TransactionType == "AccountSet" && e.Flags&globalFreezeFlag != 0 {
			analysis.FrozenByIssuer = true
		}
	}

	lines, err := query(a, ctx, func() ([]xrpl.TrustLine, error) {
		return a.client.AccountLines(ctx, token.Issuer)
	})
	if err != nil {
		return err
	}
	for _, l := range lines {
		if l.Currency == token.Currency && l.Balance != "0" && l.Balance != "" {
			analysis.HolderCount++
		}
	}

	obligations, err := query(a, ctx, func() (map[string]string, error) {
		return a.client.GatewayBalances(ctx, token.Issuer)
	})
	if err != nil {
		return err
	}
	if raw, ok := obligations[token.Currency]; ok {
		if v, err := strconv.ParseFloat(raw, 64); err == nil {
			analysis.Liquidity = v
		}
	}

	if err := a.store.UpsertTokenAnalysis(analysis); err != nil {
		return err
	}

	if err := a.samplePrice(ctx, token, analysis.Liquidity); err != nil {
		log.Debug().Err(err).Str("token", token.Key()).Msg("initial price sample failed")
	}

	log.Info().
		Str("token", token.Key()).
		Str("creator", analysis.Creator).
		Int("holders", analysis.HolderCount).
		Float64("liquidity", analysis.Liquidity).
		Bool("frozen", analysis.FrozenByIssuer).
		Msg("🔬 token analyzed")
	return nil
}

// samplePrice records the best-ask price from the order book.
func (a *Analyzer) samplePrice(ctx context.Context, token xrpl.TokenID, liquidity float64) error {
	offers, err := query(a, ctx, func() ([]xrpl.BookOffer, error) {
		return a.client.BookOffers(ctx, token, 1)
	})
	if err != nil {
		return err
	}
	if len(offers) == 0 {
		return nil
	}

	price, ok := OfferPrice(offers[0])
	if !ok {
		return nil
	}

	if err := a.store.RecordPriceSample(db.PriceSample{
		Token:     token,
		Price:     price,
		Liquidity: liquidity,
		Timestamp: time.Now().UTC(),
	}); err != nil {
		return err
	}
	return a.store.UpdateCurrentPrice(token, price)
}

// OfferPrice converts an ask to XRP per token: drops/1e6 divided by the token
// amount the seller wants.
func OfferPrice(o xrpl.BookOffer) (decimal.Decimal, bool) {
	pays, err := decimal.NewFromString(o.TakerPaysValue)
	if err != nil || pays.IsZero() {
		return decimal.Zero, false
	}
	gets := decimal.NewFromInt(o.TakerGetsDrops).Div(decimal.NewFromInt(1_000_000))
	return gets.Div(pays), true
}

// query wraps one ledger call with the rate limiter and adaptive throttle.
func query[T any](a *Analyzer, ctx context.Context, fn func() (T, error)) (T, error) {
	var zero T
	if err := a.limiter.Wait(ctx); err != nil {
		return zero, err
	}
	if a.throttle > baseThrottle {
		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-time.After(a.throttle):
		}
	}

	out, err := fn()
	if err != nil {
		if xrpl.IsRateLimited(err) {
			a.backOff()
		}
		return zero, err
	}
	a.recover()
	return out, nil
}

func (a *Analyzer) backOff() {
	a.throttle *= 2
	if a.throttle > maxThrottle {
		a.throttle = maxThrottle
	}
	log.Warn().Dur("throttle", a.throttle).Msg("⏳ server throttling, backing off")
}

func (a *Analyzer) recover() {
	if a.throttle <= baseThrottle {
		return
	}
	a.throttle /= 2
	if a.throttle < baseThrottle {
		a.throttle = baseThrottle
	}
}
