package controller

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xrpl-tracker/pkg/db"
	"github.com/xrpl-tracker/pkg/tracker"
	"github.com/xrpl-tracker/pkg/xrpl"
)

func testController(t *testing.T) *Controller {
	s, err := db.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	trk := tracker.New(s, tracker.Options{MinTrustLines: 3, MaxTokenAge: time.Hour})
	return &Controller{store: s, tracker: trk, debugMode: true}
}

func TestStatusKeepsLatestError(t *testing.T) {
	c := testController(t)

	st := c.Status()
	assert.False(t, st.Running)
	assert.Empty(t, st.LastError)
	assert.True(t, st.DebugMode)
	assert.False(t, st.TestMode)

	c.noteError(errors.New("submit rejected: tecUNFUNDED"))
	c.noteError(errors.New("validation wait: timeout"))
	c.noteTx("TrustSet MEM:rIssuer1 by rWallet")

	st = c.Status()
	assert.Equal(t, "validation wait: timeout", st.LastError)
	assert.Equal(t, "TrustSet MEM:rIssuer1 by rWallet", st.LastTransactionSummary)
}

func TestStatusReflectsDailyCounters(t *testing.T) {
	c := testController(t)

	require.NoError(t, c.tracker.HandleTrustSet(&xrpl.TrustSetEvent{
		Token:     xrpl.TokenID{Currency: "MEM", Issuer: "rIssuer1"},
		Wallet:    "rWallet",
		Limit:     "1000",
		TxHash:    "TL1",
		Timestamp: time.Now().UTC(),
	}))

	st := c.Status()
	assert.Equal(t, int64(1), st.TrustLinesToday)
	assert.Equal(t, int64(0), st.TransactionsToday)
}
