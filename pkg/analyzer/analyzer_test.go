package analyzer

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xrpl-tracker/pkg/db"
	"github.com/xrpl-tracker/pkg/xrpl"
)

func TestOfferPrice(t *testing.T) {
	// 2 XRP (2,000,000 drops) buys 4000 tokens: 0.0005 XRP per token.
	p, ok := OfferPrice(xrpl.BookOffer{TakerGetsDrops: 2_000_000, TakerPaysValue: "4000"})
	require.True(t, ok)
	assert.Equal(t, "0.0005", p.String())
}

func TestOfferPriceRejectsBadInput(t *testing.T) {
	_, ok := OfferPrice(xrpl.BookOffer{TakerGetsDrops: 1_000_000, TakerPaysValue: "0"})
	assert.False(t, ok)

	_, ok = OfferPrice(xrpl.BookOffer{TakerGetsDrops: 1_000_000, TakerPaysValue: "garbage"})
	assert.False(t, ok)
}

// fakeTxServer answers every tx command with the same ledger date.
func fakeTxServer(t *testing.T, dateSecs int64) (string, func()) {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			var req map[string]interface{}
			if err := conn.ReadJSON(&req); err != nil {
				return
			}
			conn.WriteJSON(map[string]interface{}{
				"id": req["id"], "type": "response", "status": "success",
				"result": map[string]interface{}{
					"hash": "DISC1", "validated": true, "date": dateSecs,
					"meta": map[string]interface{}{"TransactionResult": "tesSUCCESS"},
				},
			})
		}
	}))
	return "ws" + strings.TrimPrefix(srv.URL, "http"), srv.Close
}

func TestTokenAgeUsesLedgerDate(t *testing.T) {
	// Ledger says the token is three hours old even though the store only
	// just saw it.
	closed := time.Now().UTC().Add(-3 * time.Hour)
	rippleSecs := int64(closed.Sub(time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)).Seconds())

	url, done := fakeTxServer(t, rippleSecs)
	defer done()
	client := xrpl.NewClient(url)
	defer client.Close()

	a := New(nil, client, 12*time.Hour, 0)
	state := db.TokenState{
		Token:       xrpl.TokenID{Currency: "MEM", Issuer: "rI"},
		FirstSeen:   time.Now().UTC(),
		FirstSeenTx: "DISC1",
	}

	age := a.tokenAge(context.Background(), state)
	assert.InDelta(t, (3 * time.Hour).Seconds(), age.Seconds(), 60)

	// Without a discovery hash the wall clock decides.
	state.FirstSeenTx = ""
	assert.Less(t, a.tokenAge(context.Background(), state).Seconds(), 60.0)
}

func TestThrottleDoublesAndCaps(t *testing.T) {
	a := New(nil, nil, 12*time.Hour, 0)
	require.Equal(t, baseThrottle, a.throttle)

	a.backOff()
	assert.Equal(t, 2*baseThrottle, a.throttle)
	a.backOff()
	assert.Equal(t, 4*baseThrottle, a.throttle)

	a.throttle = maxThrottle
	a.backOff()
	assert.Equal(t, maxThrottle, a.throttle)
}

func TestThrottleRecoversToBase(t *testing.T) {
	a := New(nil, nil, 12*time.Hour, 0)
	a.throttle = 4 * baseThrottle

	a.recover()
	assert.Equal(t, 2*baseThrottle, a.throttle)
	a.recover()
	assert.Equal(t, baseThrottle, a.throttle)
	a.recover()
	assert.Equal(t, baseThrottle, a.throttle)
}

func TestQueryAdjustsThrottle(t *testing.T) {
	a := New(nil, nil, 12*time.Hour, 0)

	_, err := query(a, context.Background(), func() (int, error) {
		return 0, &xrpl.RPCError{Command: "account_tx", Code: "slowDown"}
	})
	require.Error(t, err)
	assert.Equal(t, 2*baseThrottle, a.throttle)

	// A non-throttling error leaves the backoff state alone.
	_, err = query(a, context.Background(), func() (int, error) {
		return 0, &xrpl.RPCError{Command: "tx", Code: "txnNotFound"}
	})
	require.Error(t, err)
	assert.Equal(t, 2*baseThrottle, a.throttle)

	out, err := query(a, context.Background(), func() (int, error) { return 7, nil })
	require.NoError(t, err)
	assert.Equal(t, 7, out)
	assert.Equal(t, baseThrottle, a.throttle)
}
