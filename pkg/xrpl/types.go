package xrpl

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// TokenID identifies an issued token: the (currency, issuer) pair is the
// primary key for all per-token state.
type TokenID struct {
	Currency string `json:"currency"`
	Issuer   string `json:"issuer"`
}

func (t TokenID) Key() string {
	return fmt.Sprintf("%s:%s", t.Currency, t.Issuer)
}

func (t TokenID) String() string { return t.Key() }

// rippleEpoch is 2000-01-01T00:00:00Z; ledger `date` fields count seconds
// from it, not from the Unix epoch.
var rippleEpoch = time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)

// RippleTime converts a ledger date (seconds since 2000-01-01 UTC) to wall
// time. All internal timestamps are wall-clock UTC; conversion happens at the
// transport boundary and nowhere else.
func RippleTime(secs int64) time.Time {
	return rippleEpoch.Add(time.Duration(secs) * time.Second)
}

// TrustSetEvent is an established or removed trust line.
type TrustSetEvent struct {
	Token     TokenID   `json:"token"`
	Wallet    string    `json:"wallet"`
	Limit     string    `json:"limit"`
	TxHash    string    `json:"tx_hash"`
	Timestamp time.Time `json:"timestamp"`
	IsRemoval bool      `json:"is_removal"`
}

// PaymentEvent is a token-denominated payment above the configured minimum.
type PaymentEvent struct {
	Token           TokenID         `json:"token"`
	Buyer           string          `json:"buyer"`
	Seller          string          `json:"seller"`
	Value           decimal.Decimal `json:"value"`
	DeliveredAmount decimal.Decimal `json:"delivered_amount"`
	TxHash          string          `json:"tx_hash"`
	Timestamp       time.Time       `json:"timestamp"`
}

// EventKind tags the parse result. Downstream code dispatches on the tag and
// never re-inspects raw frames.
type EventKind int

const (
	KindOther EventKind = iota
	KindTrustSet
	KindPayment
	KindUnvalidated
	KindError
)

func (k EventKind) String() string {
	switch k {
	case KindTrustSet:
		return "TrustSet"
	case KindPayment:
		return "Payment"
	case KindUnvalidated:
		return "Unvalidated"
	case KindError:
		return "Error"
	default:
		return "Other"
	}
}

// Event is the tagged variant produced by the parser. Exactly one of TrustSet
// and Payment is non-nil, matching the kind.
type Event struct {
	Kind     EventKind
	TrustSet *TrustSetEvent
	Payment  *PaymentEvent
}
