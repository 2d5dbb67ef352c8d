package db

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/xrpl-tracker/pkg/xrpl"
)

// Token lifecycle statuses. too_old is terminal: once a token ages out it is
// never analyzed or re-activated again.
const (
	StatusActive   = "active"
	StatusPending  = "pending_analysis"
	StatusAnalyzed = "analyzed"
	StatusTooOld   = "too_old"
)

type TrustLineRow struct {
	ID        int64        `json:"id"`
	Token     xrpl.TokenID `json:"token"`
	Wallet    string       `json:"wallet"`
	Limit     string       `json:"limit"`
	TxHash    string       `json:"tx_hash"`
	Timestamp time.Time    `json:"timestamp"`
	IsRemoval bool         `json:"is_removal"`
}

type TradeRow struct {
	ID        int64           `json:"id"`
	Token     xrpl.TokenID    `json:"token"`
	Buyer     string          `json:"buyer"`
	Seller    string          `json:"seller"`
	Value     decimal.Decimal `json:"value"`
	Delivered decimal.Decimal `json:"delivered"`
	TxHash    string          `json:"tx_hash"`
	Timestamp time.Time       `json:"timestamp"`
}

// TokenState is the per-token aggregate row, enriched by the analyzer.
type TokenState struct {
	Token          xrpl.TokenID `json:"token"`
	Status         string       `json:"status"`
	FirstSeen      time.Time    `json:"first_seen"`
	FirstSeenTx    string       `json:"first_seen_tx"`
	LastActivity   time.Time    `json:"last_activity"`
	TrustLineCount int          `json:"trust_line_count"`
	TradeCount     int          `json:"trade_count"`

	// Analyzer enrichment.
	Creator        string     `json:"creator,omitempty"`
	CreatedAt      *time.Time `json:"created_at,omitempty"`
	FrozenByIssuer bool       `json:"frozen_by_issuer"`
	HolderCount    int        `json:"holder_count"`
	Liquidity      float64    `json:"liquidity"`
	AnalyzedAt     *time.Time `json:"analyzed_at,omitempty"`

	CurrentPrice decimal.Decimal `json:"current_price"`
	MaxPrice     decimal.Decimal `json:"max_price"`
}

// TokenAnalysis is what the analyzer writes back after enriching a token.
type TokenAnalysis struct {
	Token          xrpl.TokenID
	Creator        string
	CreatedAt      time.Time
	FrozenByIssuer bool
	HolderCount    int
	Liquidity      float64
}

type PriceSample struct {
	Token     xrpl.TokenID    `json:"token"`
	Price     decimal.Decimal `json:"price"`
	Liquidity float64         `json:"liquidity"`
	Timestamp time.Time       `json:"timestamp"`
}

type WalletState struct {
	Address      string     `json:"address"`
	FirstSeen    time.Time  `json:"first_seen"`
	LastActivity time.Time  `json:"last_activity"`
	AlphaScore   float64    `json:"alpha_score"`
	ScoredAt     *time.Time `json:"scored_at,omitempty"`
}
