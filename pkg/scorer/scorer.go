package scorer

import (
	"context"
	"fmt"
	"math"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/xrpl-tracker/pkg/db"
)

const (
	scoreInterval = 1 * time.Hour
	activeWindow  = 30 * 24 * time.Hour

	// A wallet counts as an early adopter on a token when it was among the
	// first earlyAdopterMax wallets to open a trust line.
	earlyAdopterMax = 10
	minROI          = 2.0
	minTrustLines   = 5
	entryBuyWindow  = 3

	// Interval spread is normalized against one week of hours.
	consistencyNorm = 168.0

	alphaThreshold = 7.0
	alphaFileLimit = 100
	alphaHeader    = "PUBLIC_ADDRESS,SCORE"
)

// Scorer rates wallets on how early and how profitably they enter tokens, and
// publishes the top performers to the alpha file.
type Scorer struct {
	store     db.Store
	alphaFile string
}

func New(store db.Store, alphaFile string) *Scorer {
	return &Scorer{store: store, alphaFile: alphaFile}
}

// Run rescoring on the hourly cycle until the context ends.
func (s *Scorer) Run(ctx context.Context) error {
	ticker := time.NewTicker(scoreInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := s.ScoreAll(); err != nil {
				log.Error().Err(err).Msg("scoring cycle failed")
			}
		}
	}
}

// ScoreAll rescores every recently active wallet and rewrites the alpha file.
func (s *Scorer) ScoreAll() error {
	wallets, err := s.store.GetActiveWallets(time.Now().Add(-activeWindow))
	if err != nil {
		return fmt.Errorf("active wallets: %w", err)
	}

	scored := 0
	now := time.Now().UTC()
	for _, w := range wallets {
		score, ok, err := s.Score(w.Address)
		if err != nil {
			log.Warn().Err(err).Str("wallet", w.Address).Msg("score failed")
			continue
		}
		if !ok {
			continue
		}
		if err := s.store.UpdateWalletAlphaScore(w.Address, score, now); err != nil {
			log.Warn().Err(err).Str("wallet", w.Address).Msg("score update failed")
			continue
		}
		scored++
	}

	log.Info().Int("wallets", len(wallets)).Int("scored", scored).Msg("🏆 scoring cycle complete")
	return s.WriteAlphaFile()
}

// Score computes a wallet's alpha score in [0, 10]. Wallets with fewer than
// minTrustLines opened trust lines report ok=false and are left unscored.
func (s *Scorer) Score(wallet string) (float64, bool, error) {
	lines, err := s.store.GetWalletTrustLines(wallet)
	if err != nil {
		return 0, false, err
	}

	// First open per token; removals do not count as adoption.
	firstOpen := map[string]db.TrustLineRow{}
	opens := 0
	for _, l := range lines {
		if l.IsRemoval {
			continue
		}
		opens++
		key := l.Token.Key()
		if prev, ok := firstOpen[key]; !ok || l.Timestamp.Before(prev.Timestamp) {
			firstOpen[key] = l
		}
	}
	if opens < minTrustLines {
		return 0, false, nil
	}

	trades, err := s.store.GetWalletTrades(wallet)
	if err != nil {
		return 0, false, err
	}

	early := 0
	wins := 0
	for _, open := range firstOpen {
		before, err := s.store.CountTrustLinesBefore(open.Token, open.Timestamp)
		if err != nil {
			return 0, false, err
		}
		// Position in the adoption order is 1-based.
		if before+1 <= earlyAdopterMax {
			early++
		}

		win, err := s.tokenWins(wallet, open.Token.Key(), trades)
		if err != nil {
			return 0, false, err
		}
		if win {
			wins++
		}
	}

	tokens := float64(len(firstOpen))
	earlyRate := float64(early) / tokens
	successRate := float64(wins) / tokens
	consistency := lineConsistency(lines)

	score := 4*earlyRate + 4*successRate + 2*consistency
	if score > 10 {
		score = 10
	}
	return score, true, nil
}

// tokenWins reports whether the wallet's position on a token reached the ROI
// bar: (max_price - entry_price) / entry_price >= minROI, with the entry price
// averaged over the wallet's first three buys. Tokens with no usable entry
// price never count as wins.
func (s *Scorer) tokenWins(wallet, tokenKey string, trades []db.TradeRow) (bool, error) {
	var buys []db.TradeRow
	for _, t := range trades {
		if t.Buyer == wallet && t.Token.Key() == tokenKey {
			buys = append(buys, t)
		}
	}
	if len(buys) == 0 {
		return false, nil
	}
	sort.Slice(buys, func(i, j int) bool { return buys[i].Timestamp.Before(buys[j].Timestamp) })
	if len(buys) > entryBuyWindow {
		buys = buys[:entryBuyWindow]
	}

	entry, err := s.entryPrice(buys)
	if err != nil || entry.IsZero() {
		return false, err
	}
	maxPrice, err := s.store.GetMaxPrice(buys[0].Token)
	if err != nil {
		return false, err
	}

	roi := maxPrice.Sub(entry).Div(entry)
	return roi.GreaterThanOrEqual(decimal.NewFromFloat(minROI)), nil
}

// entryPrice averages the price at each buy, taken as the earliest sample at
// or after the buy. Buys with no sample are left out of the average.
func (s *Scorer) entryPrice(buys []db.TradeRow) (decimal.Decimal, error) {
	history, err := s.store.GetPriceHistory(buys[0].Token, 500)
	if err != nil {
		return decimal.Zero, err
	}

	sum := decimal.Zero
	found := 0
	for _, buy := range buys {
		// History is newest first; walk backwards for the oldest sample
		// that is not before the buy.
		for i := len(history) - 1; i >= 0; i-- {
			if !history[i].Timestamp.Before(buy.Timestamp) {
				sum = sum.Add(history[i].Price)
				found++
				break
			}
		}
	}
	if found == 0 {
		return decimal.Zero, nil
	}
	return sum.Div(decimal.NewFromInt(int64(found))), nil
}

// lineConsistency maps the spread of gaps between consecutive trust-line
// events to [0, 1]: tight, regular activity scores high; a standard deviation
// of a week or more scores zero.
func lineConsistency(lines []db.TrustLineRow) float64 {
	if len(lines) < 2 {
		return 0
	}
	sorted := make([]db.TrustLineRow, len(lines))
	copy(sorted, lines)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Timestamp.Before(sorted[j].Timestamp) })

	intervals := make([]float64, 0, len(sorted)-1)
	for i := 1; i < len(sorted); i++ {
		intervals = append(intervals, sorted[i].Timestamp.Sub(sorted[i-1].Timestamp).Hours())
	}

	mean := 0.0
	for _, v := range intervals {
		mean += v
	}
	mean /= float64(len(intervals))

	variance := 0.0
	for _, v := range intervals {
		variance += (v - mean) * (v - mean)
	}
	variance /= float64(len(intervals))
	sigma := math.Sqrt(variance)

	return 1 - math.Min(sigma/consistencyNorm, 1)
}

// WriteAlphaFile publishes wallets at or above the alpha threshold as
// "ADDRESS,SCORE" rows under a CSV header, best first.
func (s *Scorer) WriteAlphaFile() error {
	if s.alphaFile == "" {
		return nil
	}
	top, err := s.store.GetTopAlphaWallets(alphaThreshold, alphaFileLimit)
	if err != nil {
		return fmt.Errorf("top wallets: %w", err)
	}

	var b strings.Builder
	b.WriteString(alphaHeader + "\n")
	for _, w := range top {
		fmt.Fprintf(&b, "%s,%.2f\n", w.Address, w.AlphaScore)
	}

	tmp := s.alphaFile + ".tmp"
	if err := os.WriteFile(tmp, []byte(b.String()), 0644); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.alphaFile); err != nil {
		return err
	}

	log.Debug().Int("wallets", len(top)).Str("file", s.alphaFile).Msg("alpha file written")
	return nil
}
