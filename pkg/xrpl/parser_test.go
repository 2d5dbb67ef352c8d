package xrpl

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTrustSet(t *testing.T) {
	p := NewParser(1000)
	raw := []byte(`{
		"type": "transaction",
		"validated": true,
		"transaction": {
			"TransactionType": "TrustSet",
			"Account": "rTargetWallet111111111111111111111",
			"LimitAmount": {"currency": "MEME", "issuer": "rIssuer11111111111111111111111111", "value": "5000"},
			"hash": "ABC123",
			"date": 700000000
		}
	}`)

	ev := p.Parse(raw)
	require.Equal(t, KindTrustSet, ev.Kind)
	require.NotNil(t, ev.TrustSet)
	assert.Equal(t, "MEME", ev.TrustSet.Token.Currency)
	assert.Equal(t, "rIssuer11111111111111111111111111", ev.TrustSet.Token.Issuer)
	assert.Equal(t, "rTargetWallet111111111111111111111", ev.TrustSet.Wallet)
	assert.Equal(t, "5000", ev.TrustSet.Limit)
	assert.Equal(t, "ABC123", ev.TrustSet.TxHash)
	assert.False(t, ev.TrustSet.IsRemoval)
	assert.Equal(t, RippleTime(700000000), ev.TrustSet.Timestamp)
}

func TestParseTrustSetRemoval(t *testing.T) {
	p := NewParser(1000)
	raw := []byte(`{
		"validated": true,
		"transaction": {
			"TransactionType": "TrustSet",
			"Account": "rWallet",
			"LimitAmount": {"currency": "MEME", "issuer": "rIssuer", "value": "0"},
			"hash": "DEF456"
		}
	}`)

	ev := p.Parse(raw)
	require.Equal(t, KindTrustSet, ev.Kind)
	assert.True(t, ev.TrustSet.IsRemoval)
}

func TestParseTrustSetTxJSONKey(t *testing.T) {
	// Newer servers put the payload under tx_json and the hash at top level.
	p := NewParser(1000)
	raw := []byte(`{
		"validated": true,
		"hash": "TOPLEVEL",
		"tx_json": {
			"TransactionType": "TrustSet",
			"Account": "rWallet",
			"LimitAmount": {"currency": "MEME", "issuer": "rIssuer", "value": "100"}
		}
	}`)

	ev := p.Parse(raw)
	require.Equal(t, KindTrustSet, ev.Kind)
	assert.Equal(t, "TOPLEVEL", ev.TrustSet.TxHash)
}

func TestParseTrustSetMissingFields(t *testing.T) {
	p := NewParser(1000)
	for name, raw := range map[string]string{
		"no limit":      `{"validated":true,"transaction":{"TransactionType":"TrustSet","Account":"rW"}}`,
		"scalar limit":  `{"validated":true,"transaction":{"TransactionType":"TrustSet","Account":"rW","LimitAmount":"100"}}`,
		"no issuer":     `{"validated":true,"transaction":{"TransactionType":"TrustSet","Account":"rW","LimitAmount":{"currency":"MEME","value":"1"}}}`,
		"no account":    `{"validated":true,"transaction":{"TransactionType":"TrustSet","LimitAmount":{"currency":"MEME","issuer":"rI","value":"1"}}}`,
	} {
		ev := p.Parse([]byte(raw))
		assert.Equal(t, KindOther, ev.Kind, name)
	}
}

func TestParsePayment(t *testing.T) {
	p := NewParser(1000)
	raw := []byte(`{
		"validated": true,
		"transaction": {
			"TransactionType": "Payment",
			"Account": "rSeller",
			"Destination": "rBuyer",
			"Amount": {"currency": "MEME", "issuer": "rIssuer", "value": "2500"},
			"hash": "PAY1",
			"date": 700000100
		},
		"meta": {"TransactionResult": "tesSUCCESS", "delivered_amount": {"currency": "MEME", "issuer": "rIssuer", "value": "2400"}}
	}`)

	ev := p.Parse(raw)
	require.Equal(t, KindPayment, ev.Kind)
	require.NotNil(t, ev.Payment)
	assert.Equal(t, "rBuyer", ev.Payment.Buyer)
	assert.Equal(t, "rSeller", ev.Payment.Seller)
	assert.Equal(t, "2500", ev.Payment.Value.String())
	assert.Equal(t, "2400", ev.Payment.DeliveredAmount.String())
}

func TestParsePaymentBelowMinVolume(t *testing.T) {
	p := NewParser(1000)
	raw := []byte(`{
		"validated": true,
		"transaction": {
			"TransactionType": "Payment",
			"Account": "rSeller",
			"Destination": "rBuyer",
			"Amount": {"currency": "MEME", "issuer": "rIssuer", "value": "999.99"},
			"hash": "SMALL"
		}
	}`)
	assert.Equal(t, KindOther, p.Parse(raw).Kind)

	// Exactly at the threshold passes.
	raw = []byte(`{
		"validated": true,
		"transaction": {
			"TransactionType": "Payment",
			"Account": "rSeller",
			"Destination": "rBuyer",
			"Amount": {"currency": "MEME", "issuer": "rIssuer", "value": "1000"},
			"hash": "EXACT"
		}
	}`)
	assert.Equal(t, KindPayment, p.Parse(raw).Kind)
}

func TestParsePaymentNativeIsNotTrade(t *testing.T) {
	p := NewParser(0)
	raw := []byte(`{
		"validated": true,
		"transaction": {
			"TransactionType": "Payment",
			"Account": "rSeller",
			"Destination": "rBuyer",
			"Amount": "1000000",
			"hash": "XRP1"
		}
	}`)
	assert.Equal(t, KindOther, p.Parse(raw).Kind)
}

func TestParsePaymentBadAmount(t *testing.T) {
	p := NewParser(0)
	raw := []byte(`{
		"validated": true,
		"transaction": {
			"TransactionType": "Payment",
			"Account": "rSeller",
			"Destination": "rBuyer",
			"Amount": {"currency": "MEME", "issuer": "rIssuer", "value": "not-a-number"},
			"hash": "BAD"
		}
	}`)
	assert.Equal(t, KindError, p.Parse(raw).Kind)
}

func TestParseUnvalidated(t *testing.T) {
	p := NewParser(0)
	raw := []byte(`{"validated": false, "transaction": {"TransactionType": "TrustSet"}}`)
	assert.Equal(t, KindUnvalidated, p.Parse(raw).Kind)
}

func TestParseGarbage(t *testing.T) {
	p := NewParser(0)
	assert.Equal(t, KindError, p.Parse([]byte(`{not json`)).Kind)
}

func TestParseOtherTransactionTypes(t *testing.T) {
	p := NewParser(0)
	raw := []byte(`{"validated": true, "transaction": {"TransactionType": "OfferCreate", "Account": "rX"}}`)
	assert.Equal(t, KindOther, p.Parse(raw).Kind)
}

func TestParseMissingHashFallsBackToUnknown(t *testing.T) {
	p := NewParser(0)
	raw := []byte(`{
		"validated": true,
		"transaction": {
			"TransactionType": "TrustSet",
			"Account": "rW",
			"LimitAmount": {"currency": "MEME", "issuer": "rI", "value": "1"}
		}
	}`)
	ev := p.Parse(raw)
	require.Equal(t, KindTrustSet, ev.Kind)
	assert.Equal(t, "unknown", ev.TrustSet.TxHash)
}

func TestParseMissingDateUsesNow(t *testing.T) {
	p := NewParser(0)
	before := time.Now().UTC().Add(-time.Second)
	raw := []byte(`{
		"validated": true,
		"transaction": {
			"TransactionType": "TrustSet",
			"Account": "rW",
			"LimitAmount": {"currency": "MEME", "issuer": "rI", "value": "1"},
			"hash": "H"
		}
	}`)
	ev := p.Parse(raw)
	require.Equal(t, KindTrustSet, ev.Kind)
	assert.True(t, ev.TrustSet.Timestamp.After(before))
}

func TestParseFailedTransactionIsOther(t *testing.T) {
	p := NewParser(0)
	raw := []byte(`{
		"validated": true,
		"transaction": {
			"TransactionType": "TrustSet",
			"Account": "rW",
			"LimitAmount": {"currency": "MEME", "issuer": "rI", "value": "1"},
			"hash": "FAIL1"
		},
		"meta": {"TransactionResult": "tecPATH_DRY"}
	}`)
	assert.Equal(t, KindOther, p.Parse(raw).Kind)

	// The same frame with a clean result classifies normally.
	raw = []byte(`{
		"validated": true,
		"transaction": {
			"TransactionType": "TrustSet",
			"Account": "rW",
			"LimitAmount": {"currency": "MEME", "issuer": "rI", "value": "1"},
			"hash": "OK1"
		},
		"meta": {"TransactionResult": "tesSUCCESS"}
	}`)
	assert.Equal(t, KindTrustSet, p.Parse(raw).Kind)
}

func TestRippleTime(t *testing.T) {
	assert.Equal(t, time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC), RippleTime(0))
	assert.Equal(t, time.Date(2000, 1, 1, 0, 1, 0, 0, time.UTC), RippleTime(60))
}
