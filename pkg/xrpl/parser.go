package xrpl

import (
	"encoding/json"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// amount is either a token amount object or a scalar drops string (native
// XRP). Scalar payments are not token trades and classify as Other.
type amount struct {
	Currency string `json:"currency"`
	Issuer   string `json:"issuer"`
	Value    string `json:"value"`

	scalar bool
}

func (a *amount) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		a.scalar = true
		a.Value = s
		return nil
	}
	type obj amount
	var o obj
	if err := json.Unmarshal(data, &o); err != nil {
		return err
	}
	*a = amount(o)
	return nil
}

type rawTx struct {
	TransactionType string          `json:"TransactionType"`
	Account         string          `json:"Account"`
	Destination     string          `json:"Destination"`
	Hash            string          `json:"hash"`
	LimitAmount     *amount         `json:"LimitAmount"`
	Amount          *amount         `json:"Amount"`
	Date            int64           `json:"date"`
	Flags           uint32          `json:"Flags"`
	Meta            json.RawMessage `json:"-"`
}

type rawMeta struct {
	TransactionResult string  `json:"TransactionResult"`
	DeliveredAmount   *amount `json:"delivered_amount"`
}

// frame is a streamed transaction message. Newer server versions carry the
// payload under tx_json; older ones under transaction. The parser normalizes
// here so downstream code never looks up alternate keys.
type frame struct {
	Type        string   `json:"type"`
	Validated   bool     `json:"validated"`
	Hash        string   `json:"hash"`
	Transaction *rawTx   `json:"transaction"`
	TxJSON      *rawTx   `json:"tx_json"`
	Meta        *rawMeta `json:"meta"`
}

// Parser classifies raw ledger frames into typed events. Payments below
// MinTradeVolume are treated as noise and classify as Other.
type Parser struct {
	MinTradeVolume decimal.Decimal
}

func NewParser(minTradeVolume float64) *Parser {
	return &Parser{MinTradeVolume: decimal.NewFromFloat(minTradeVolume)}
}

// Parse classifies a single frame. Structural failures return KindError after
// a debug log; the caller continues with the next frame.
func (p *Parser) Parse(raw []byte) Event {
	var f frame
	if err := json.Unmarshal(raw, &f); err != nil {
		log.Debug().Err(err).Msg("unparseable frame")
		return Event{Kind: KindError}
	}

	if !f.Validated {
		return Event{Kind: KindUnvalidated}
	}
	// Failed transactions reach the stream too; only tesSUCCESS mutates
	// state.
	if f.failed() {
		return Event{Kind: KindOther}
	}

	tx := f.Transaction
	if tx == nil {
		tx = f.TxJSON
	}
	if tx == nil {
		return Event{Kind: KindOther}
	}
	if tx.Hash == "" {
		tx.Hash = f.Hash
	}

	switch tx.TransactionType {
	case "TrustSet":
		return p.parseTrustSet(tx)
	case "Payment":
		return p.parsePayment(tx, f.Meta)
	default:
		return Event{Kind: KindOther}
	}
}

func (p *Parser) parseTrustSet(tx *rawTx) Event {
	la := tx.LimitAmount
	if la == nil || la.scalar || la.Currency == "" || la.Issuer == "" || la.Value == "" || tx.Account == "" {
		return Event{Kind: KindOther}
	}
	return Event{
		Kind: KindTrustSet,
		TrustSet: &TrustSetEvent{
			Token:     TokenID{Currency: la.Currency, Issuer: la.Issuer},
			Wallet:    tx.Account,
			Limit:     la.Value,
			TxHash:    txHashOrUnknown(tx),
			Timestamp: eventTime(tx),
			IsRemoval: la.Value == "0",
		},
	}
}

func (p *Parser) parsePayment(tx *rawTx, meta *rawMeta) Event {
	amt := tx.Amount
	if amt == nil || amt.scalar {
		// Native XRP payment, not a token trade.
		return Event{Kind: KindOther}
	}
	if amt.Currency == "" || amt.Issuer == "" || tx.Account == "" || tx.Destination == "" {
		return Event{Kind: KindOther}
	}

	value, err := decimal.NewFromString(amt.Value)
	if err != nil {
		log.Debug().Str("value", amt.Value).Msg("bad payment amount")
		return Event{Kind: KindError}
	}
	if value.LessThan(p.MinTradeVolume) {
		return Event{Kind: KindOther}
	}

	delivered := value
	if meta != nil && meta.DeliveredAmount != nil && !meta.DeliveredAmount.scalar {
		if d, err := decimal.NewFromString(meta.DeliveredAmount.Value); err == nil {
			delivered = d
		}
	}

	return Event{
		Kind: KindPayment,
		Payment: &PaymentEvent{
			Token:           TokenID{Currency: amt.Currency, Issuer: amt.Issuer},
			Buyer:           tx.Destination,
			Seller:          tx.Account,
			Value:           value,
			DeliveredAmount: delivered,
			TxHash:          txHashOrUnknown(tx),
			Timestamp:       eventTime(tx),
		},
	}
}

func (f *frame) failed() bool {
	return f.Meta != nil && f.Meta.TransactionResult != "" && f.Meta.TransactionResult != "tesSUCCESS"
}

func txHashOrUnknown(tx *rawTx) string {
	if tx.Hash == "" {
		return "unknown"
	}
	return tx.Hash
}

func eventTime(tx *rawTx) time.Time {
	if tx.Date > 0 {
		return RippleTime(tx.Date)
	}
	return time.Now().UTC()
}
