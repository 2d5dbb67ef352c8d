package scorer

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xrpl-tracker/pkg/db"
	"github.com/xrpl-tracker/pkg/xrpl"
)

func testStore(t *testing.T) db.Store {
	t.Helper()
	s, err := db.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func token(i int) xrpl.TokenID {
	return xrpl.TokenID{Currency: "MEM", Issuer: fmt.Sprintf("rIssuer%d", i)}
}

// seedHourlyLines opens one trust line per token at exact hourly intervals,
// so the consistency component is exactly 1.
func seedHourlyLines(t *testing.T, s db.Store, wallet string, n int, start time.Time) {
	t.Helper()
	for i := 0; i < n; i++ {
		_, err := s.RecordTrustLine(&xrpl.TrustSetEvent{
			Token: token(i), Wallet: wallet, Limit: "5000",
			TxHash:    fmt.Sprintf("%s-TL%d", wallet, i),
			Timestamp: start.Add(time.Duration(i) * time.Hour),
		})
		require.NoError(t, err)
	}
}

func TestScoreNeedsMinimumTrustLines(t *testing.T) {
	s := testStore(t)
	sc := New(s, "")

	seedHourlyLines(t, s, "rThin", minTrustLines-1, time.Now().UTC().Add(-24*time.Hour))

	_, ok, err := sc.Score("rThin")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestScoreEarlyConsistentWallet(t *testing.T) {
	s := testStore(t)
	sc := New(s, "")

	// First adopter on five tokens, hourly cadence. No buys, so the
	// success component contributes nothing.
	seedHourlyLines(t, s, "rAlpha", 5, time.Now().UTC().Add(-24*time.Hour))

	score, ok, err := sc.Score("rAlpha")
	require.NoError(t, err)
	require.True(t, ok)
	// 4*1.0 (early) + 4*0 (success) + 2*1.0 (consistency)
	assert.InDelta(t, 6.0, score, 1e-9)
}

func TestScoreCountsSuccessfulTokens(t *testing.T) {
	s := testStore(t)
	sc := New(s, "")
	start := time.Now().UTC().Add(-24 * time.Hour)

	seedHourlyLines(t, s, "rAlpha", 5, start)

	// One buy on the first token at 0.001, peak 0.003: ROI exactly 2.0,
	// right at the bar.
	_, err := s.RecordTrade(&xrpl.PaymentEvent{
		Token: token(0), Buyer: "rAlpha", Seller: "rSeller",
		Value:           decimal.NewFromInt(2000),
		DeliveredAmount: decimal.NewFromInt(2000),
		TxHash:          "BUY1",
		Timestamp:       start,
	})
	require.NoError(t, err)
	require.NoError(t, s.RecordPriceSample(db.PriceSample{
		Token: token(0), Price: decimal.RequireFromString("0.001"), Timestamp: start,
	}))
	require.NoError(t, s.UpdateMaxPrice(token(0), decimal.RequireFromString("0.003")))

	score, ok, err := sc.Score("rAlpha")
	require.NoError(t, err)
	require.True(t, ok)
	// 4*1.0 (early) + 4*0.2 (1 of 5 tokens won) + 2*1.0 (consistency)
	assert.InDelta(t, 6.8, score, 1e-9)
}

func TestEntryPriceAveragesFirstBuys(t *testing.T) {
	s := testStore(t)
	sc := New(s, "")
	start := time.Now().UTC().Add(-24 * time.Hour)

	// Samples at 0.001 and 0.003 bracket the two buys: entry = 0.002.
	require.NoError(t, s.RecordPriceSample(db.PriceSample{
		Token: token(0), Price: decimal.RequireFromString("0.001"), Timestamp: start,
	}))
	require.NoError(t, s.RecordPriceSample(db.PriceSample{
		Token: token(0), Price: decimal.RequireFromString("0.003"), Timestamp: start.Add(time.Hour),
	}))

	buys := []db.TradeRow{
		{Token: token(0), Buyer: "rAlpha", Timestamp: start},
		{Token: token(0), Buyer: "rAlpha", Timestamp: start.Add(time.Hour)},
	}
	entry, err := sc.entryPrice(buys)
	require.NoError(t, err)
	assert.Equal(t, "0.002", entry.String())
}

func TestScoreLateAdopter(t *testing.T) {
	s := testStore(t)
	sc := New(s, "")
	start := time.Now().UTC().Add(-48 * time.Hour)

	// Crowd every token with early wallets first.
	for i := 0; i < 5; i++ {
		for j := 0; j < earlyAdopterMax; j++ {
			_, err := s.RecordTrustLine(&xrpl.TrustSetEvent{
				Token: token(i), Wallet: fmt.Sprintf("rCrowd%d", j), Limit: "1",
				TxHash:    fmt.Sprintf("C%d-%d", i, j),
				Timestamp: start.Add(time.Duration(j) * time.Minute),
			})
			require.NoError(t, err)
		}
	}

	seedHourlyLines(t, s, "rLate", 5, start.Add(time.Hour))

	score, ok, err := sc.Score("rLate")
	require.NoError(t, err)
	require.True(t, ok)
	// 4*0 (position 11 on every token) + 4*0 (no buys) + 2*1.0
	assert.InDelta(t, 2.0, score, 1e-9)
}

func TestLineConsistency(t *testing.T) {
	base := time.Now().UTC()
	regular := make([]db.TrustLineRow, 5)
	for i := range regular {
		regular[i] = db.TrustLineRow{Timestamp: base.Add(time.Duration(i) * time.Hour)}
	}
	assert.InDelta(t, 1.0, lineConsistency(regular), 1e-9)

	// Wildly spread intervals bottom out at zero.
	erratic := []db.TrustLineRow{
		{Timestamp: base},
		{Timestamp: base.Add(time.Hour)},
		{Timestamp: base.Add(1000 * time.Hour)},
	}
	assert.InDelta(t, 0.0, lineConsistency(erratic), 0.01)

	assert.Equal(t, 0.0, lineConsistency(nil))
	assert.Equal(t, 0.0, lineConsistency(regular[:1]))
}

func TestWriteAlphaFile(t *testing.T) {
	s := testStore(t)
	alphaFile := filepath.Join(t.TempDir(), "alpha.txt")
	sc := New(s, alphaFile)
	now := time.Now().UTC()

	require.NoError(t, s.UpdateWalletAlphaScore("rHigh", 9.5, now))
	require.NoError(t, s.UpdateWalletAlphaScore("rMid", 7.0, now))
	require.NoError(t, s.UpdateWalletAlphaScore("rLow", 4.0, now))

	require.NoError(t, sc.WriteAlphaFile())

	raw, err := os.ReadFile(alphaFile)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(raw)), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "PUBLIC_ADDRESS,SCORE", lines[0])
	assert.Equal(t, "rHigh,9.50", lines[1])
	assert.Equal(t, "rMid,7.00", lines[2])
}

func TestScoreAllWritesFile(t *testing.T) {
	s := testStore(t)
	alphaFile := filepath.Join(t.TempDir(), "alpha.txt")
	sc := New(s, alphaFile)

	seedHourlyLines(t, s, "rAlpha", 5, time.Now().UTC().Add(-12*time.Hour))

	require.NoError(t, sc.ScoreAll())

	// The file exists even when nobody clears the threshold.
	raw, err := os.ReadFile(alphaFile)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(raw), "PUBLIC_ADDRESS,SCORE"))

	wallets, err := s.GetTopAlphaWallets(0, 10)
	require.NoError(t, err)
	require.NotEmpty(t, wallets)
}
