package db

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/xrpl-tracker/pkg/xrpl"
)

const schema = `
CREATE TABLE IF NOT EXISTS trustlines (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    currency TEXT NOT NULL,
    issuer TEXT NOT NULL,
    wallet TEXT NOT NULL,
    line_limit TEXT NOT NULL,
    tx_hash TEXT NOT NULL,
    timestamp TIMESTAMP NOT NULL,
    is_removal BOOLEAN DEFAULT FALSE,
    UNIQUE(tx_hash, wallet, currency, issuer)
);

CREATE TABLE IF NOT EXISTS trades (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    currency TEXT NOT NULL,
    issuer TEXT NOT NULL,
    buyer TEXT NOT NULL,
    seller TEXT NOT NULL,
    value TEXT NOT NULL,
    delivered TEXT NOT NULL,
    tx_hash TEXT NOT NULL,
    timestamp TIMESTAMP NOT NULL,
    UNIQUE(tx_hash)
);

CREATE TABLE IF NOT EXISTS token_state (
    currency TEXT NOT NULL,
    issuer TEXT NOT NULL,
    status TEXT NOT NULL DEFAULT 'active',
    first_seen TIMESTAMP NOT NULL,
    first_seen_tx TEXT NOT NULL DEFAULT '',
    last_activity TIMESTAMP NOT NULL,
    trust_line_count INTEGER DEFAULT 0,
    trade_count INTEGER DEFAULT 0,
    creator TEXT,
    created_at TIMESTAMP,
    frozen_by_issuer BOOLEAN DEFAULT FALSE,
    holder_count INTEGER DEFAULT 0,
    liquidity REAL DEFAULT 0,
    current_price TEXT DEFAULT '0',
    max_price TEXT DEFAULT '0',
    analyzed_at TIMESTAMP,
    PRIMARY KEY(currency, issuer)
);

CREATE TABLE IF NOT EXISTS price_samples (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    currency TEXT NOT NULL,
    issuer TEXT NOT NULL,
    price TEXT NOT NULL,
    liquidity REAL DEFAULT 0,
    timestamp TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS wallet_state (
    address TEXT PRIMARY KEY,
    first_seen TIMESTAMP NOT NULL,
    last_activity TIMESTAMP NOT NULL,
    alpha_score REAL DEFAULT 0,
    scored_at TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_trustline_token ON trustlines(currency, issuer);
CREATE INDEX IF NOT EXISTS idx_trustline_wallet ON trustlines(wallet);
CREATE INDEX IF NOT EXISTS idx_trade_token ON trades(currency, issuer);
CREATE INDEX IF NOT EXISTS idx_trade_buyer ON trades(buyer);
CREATE INDEX IF NOT EXISTS idx_trade_time ON trades(timestamp);
CREATE INDEX IF NOT EXISTS idx_token_status ON token_state(status);
CREATE INDEX IF NOT EXISTS idx_token_activity ON token_state(last_activity);
CREATE INDEX IF NOT EXISTS idx_price_token ON price_samples(currency, issuer, timestamp);
CREATE INDEX IF NOT EXISTS idx_wallet_activity ON wallet_state(last_activity);
CREATE INDEX IF NOT EXISTS idx_wallet_score ON wallet_state(alpha_score);
`

// Store is the persistence port the pipeline writes through. The production
// implementation is SQLite; tests open it on a throwaway file.
type Store interface {
	RecordTrustLine(ev *xrpl.TrustSetEvent) (bool, error)
	RecordTrade(ev *xrpl.PaymentEvent) (bool, error)

	GetToken(token xrpl.TokenID) (*TokenState, error)
	GetActiveTokens(cutoff time.Time) ([]TokenState, error)
	GetUnanalyzedTokens(staleBefore time.Time, limit int) ([]TokenState, error)
	MarkTokenPending(token xrpl.TokenID) error
	MarkTokenTooOld(token xrpl.TokenID) error
	IsTokenTooOld(token xrpl.TokenID) (bool, error)
	UpsertTokenAnalysis(a TokenAnalysis) error

	RecordPriceSample(s PriceSample) error
	UpdateCurrentPrice(token xrpl.TokenID, price decimal.Decimal) error
	UpdateMaxPrice(token xrpl.TokenID, price decimal.Decimal) error
	GetMaxPrice(token xrpl.TokenID) (decimal.Decimal, error)
	GetPriceHistory(token xrpl.TokenID, limit int) ([]PriceSample, error)

	GetActiveWallets(since time.Time) ([]WalletState, error)
	CountTrustLinesBefore(token xrpl.TokenID, before time.Time) (int, error)
	GetWalletTrustLines(wallet string) ([]TrustLineRow, error)
	GetWalletTrades(wallet string) ([]TradeRow, error)
	UpdateWalletAlphaScore(address string, score float64, at time.Time) error
	GetTopAlphaWallets(minScore float64, limit int) ([]WalletState, error)

	GetTrustLinePosition(wallet string, token xrpl.TokenID) (*TrustLineRow, error)

	Stats() (*Stats, error)
	Close() error
}

// Stats is the aggregate snapshot served by the dashboard.
type Stats struct {
	Tokens       int `json:"tokens"`
	ActiveTokens int `json:"active_tokens"`
	TooOldTokens int `json:"too_old_tokens"`
	TrustLines   int `json:"trust_lines"`
	Trades       int `json:"trades"`
	Wallets      int `json:"wallets"`
}

type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("init schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// ---- Ingest ----

// RecordTrustLine persists one trust line event. The bool reports whether the
// row was new; replayed events dedup on (tx_hash, wallet, currency, issuer).
func (s *SQLiteStore) RecordTrustLine(ev *xrpl.TrustSetEvent) (bool, error) {
	res, err := s.db.Exec(`
		INSERT OR IGNORE INTO trustlines (currency, issuer, wallet, line_limit, tx_hash, timestamp, is_removal)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		ev.Token.Currency, ev.Token.Issuer, ev.Wallet, ev.Limit, ev.TxHash, ev.Timestamp, ev.IsRemoval)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 0 {
		return false, nil
	}

	if err := s.touchToken(ev.Token, ev.TxHash, ev.Timestamp, !ev.IsRemoval, false); err != nil {
		return true, err
	}
	return true, s.touchWallet(ev.Wallet, ev.Timestamp)
}

// RecordTrade persists one token trade, deduping on tx_hash. Events missing
// either party are rejected rather than stored.
func (s *SQLiteStore) RecordTrade(ev *xrpl.PaymentEvent) (bool, error) {
	if ev.Buyer == "" || ev.Seller == "" {
		return false, nil
	}
	res, err := s.db.Exec(`
		INSERT OR IGNORE INTO trades (currency, issuer, buyer, seller, value, delivered, tx_hash, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.Token.Currency, ev.Token.Issuer, ev.Buyer, ev.Seller,
		ev.Value.String(), ev.DeliveredAmount.String(), ev.TxHash, ev.Timestamp)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 0 {
		return false, nil
	}

	if err := s.touchToken(ev.Token, ev.TxHash, ev.Timestamp, false, true); err != nil {
		return true, err
	}
	if err := s.touchWallet(ev.Buyer, ev.Timestamp); err != nil {
		return true, err
	}
	return true, s.touchWallet(ev.Seller, ev.Timestamp)
}

// touchToken upserts the aggregate row. The discovery hash is written once on
// insert and never replaced. A too_old token keeps its status and its counters
// stop: later events still move last_activity but are not counted.
func (s *SQLiteStore) touchToken(token xrpl.TokenID, txHash string, at time.Time, trustLine, trade bool) error {
	tlInc, trInc := 0, 0
	if trustLine {
		tlInc = 1
	}
	if trade {
		trInc = 1
	}
	_, err := s.db.Exec(`
		INSERT INTO token_state (currency, issuer, status, first_seen, first_seen_tx, last_activity, trust_line_count, trade_count)
		VALUES (?, ?, 'active', ?, ?, ?, ?, ?)
		ON CONFLICT(currency, issuer) DO UPDATE SET
			last_activity = MAX(token_state.last_activity, excluded.last_activity),
			trust_line_count = token_state.trust_line_count +
				CASE WHEN token_state.status = 'too_old' THEN 0 ELSE excluded.trust_line_count END,
			trade_count = token_state.trade_count +
				CASE WHEN token_state.status = 'too_old' THEN 0 ELSE excluded.trade_count END`,
		token.Currency, token.Issuer, at, txHash, at, tlInc, trInc)
	return err
}

func (s *SQLiteStore) touchWallet(address string, at time.Time) error {
	_, err := s.db.Exec(`
		INSERT INTO wallet_state (address, first_seen, last_activity)
		VALUES (?, ?, ?)
		ON CONFLICT(address) DO UPDATE SET
			last_activity = MAX(wallet_state.last_activity, excluded.last_activity)`,
		address, at, at)
	return err
}

// ---- Tokens ----

const tokenCols = `currency, issuer, status, first_seen, COALESCE(first_seen_tx,''), last_activity,
	trust_line_count, trade_count,
	COALESCE(creator,''), created_at, frozen_by_issuer, holder_count, liquidity,
	COALESCE(current_price,'0'), COALESCE(max_price,'0'), analyzed_at`

func scanToken(scan func(dest ...interface{}) error) (*TokenState, error) {
	var t TokenState
	var current, max string
	if err := scan(&t.Token.Currency, &t.Token.Issuer, &t.Status, &t.FirstSeen, &t.FirstSeenTx,
		&t.LastActivity, &t.TrustLineCount, &t.TradeCount, &t.Creator, &t.CreatedAt, &t.FrozenByIssuer,
		&t.HolderCount, &t.Liquidity, &current, &max, &t.AnalyzedAt); err != nil {
		return nil, err
	}
	t.CurrentPrice, _ = decimal.NewFromString(current)
	t.MaxPrice, _ = decimal.NewFromString(max)
	return &t, nil
}

func (s *SQLiteStore) GetToken(token xrpl.TokenID) (*TokenState, error) {
	row := s.db.QueryRow(
		`SELECT `+tokenCols+` FROM token_state WHERE currency=? AND issuer=?`,
		token.Currency, token.Issuer)
	t, err := scanToken(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return t, err
}

// GetActiveTokens returns non-expired tokens with activity at or after cutoff.
func (s *SQLiteStore) GetActiveTokens(cutoff time.Time) ([]TokenState, error) {
	rows, err := s.db.Query(
		`SELECT `+tokenCols+` FROM token_state
		 WHERE status != ? AND last_activity >= ?
		 ORDER BY last_activity DESC`,
		StatusTooOld, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectTokens(rows)
}

// GetUnanalyzedTokens returns tokens awaiting enrichment, oldest first. A
// token re-enters the queue once its last analysis predates staleBefore.
func (s *SQLiteStore) GetUnanalyzedTokens(staleBefore time.Time, limit int) ([]TokenState, error) {
	rows, err := s.db.Query(
		`SELECT `+tokenCols+` FROM token_state
		 WHERE status != ? AND (analyzed_at IS NULL OR analyzed_at < ?)
		 ORDER BY first_seen ASC LIMIT ?`,
		StatusTooOld, staleBefore, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectTokens(rows)
}

func collectTokens(rows *sql.Rows) ([]TokenState, error) {
	var tokens []TokenState
	for rows.Next() {
		t, err := scanToken(rows.Scan)
		if err != nil {
			continue
		}
		tokens = append(tokens, *t)
	}
	return tokens, rows.Err()
}

func (s *SQLiteStore) MarkTokenPending(token xrpl.TokenID) error {
	_, err := s.db.Exec(
		`UPDATE token_state SET status=? WHERE currency=? AND issuer=? AND status != ?`,
		StatusPending, token.Currency, token.Issuer, StatusTooOld)
	return err
}

// MarkTokenTooOld expires a token. The status is terminal.
func (s *SQLiteStore) MarkTokenTooOld(token xrpl.TokenID) error {
	_, err := s.db.Exec(
		`UPDATE token_state SET status=? WHERE currency=? AND issuer=?`,
		StatusTooOld, token.Currency, token.Issuer)
	return err
}

func (s *SQLiteStore) IsTokenTooOld(token xrpl.TokenID) (bool, error) {
	var status string
	err := s.db.QueryRow(
		`SELECT status FROM token_state WHERE currency=? AND issuer=?`,
		token.Currency, token.Issuer).Scan(&status)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return status == StatusTooOld, nil
}

// UpsertTokenAnalysis writes enrichment results. Tokens that expired while in
// the analysis queue stay too_old.
func (s *SQLiteStore) UpsertTokenAnalysis(a TokenAnalysis) error {
	_, err := s.db.Exec(`
		UPDATE token_state SET
			creator = ?,
			created_at = ?,
			frozen_by_issuer = ?,
			holder_count = ?,
			liquidity = ?,
			analyzed_at = CURRENT_TIMESTAMP,
			status = CASE WHEN status = ? THEN status ELSE ? END
		WHERE currency=? AND issuer=?`,
		a.Creator, a.CreatedAt, a.FrozenByIssuer, a.HolderCount, a.Liquidity,
		StatusTooOld, StatusAnalyzed, a.Token.Currency, a.Token.Issuer)
	return err
}

// ---- Prices ----

func (s *SQLiteStore) RecordPriceSample(p PriceSample) error {
	_, err := s.db.Exec(`
		INSERT INTO price_samples (currency, issuer, price, liquidity, timestamp)
		VALUES (?, ?, ?, ?, ?)`,
		p.Token.Currency, p.Token.Issuer, p.Price.String(), p.Liquidity, p.Timestamp)
	return err
}

func (s *SQLiteStore) UpdateCurrentPrice(token xrpl.TokenID, price decimal.Decimal) error {
	_, err := s.db.Exec(
		`UPDATE token_state SET current_price=? WHERE currency=? AND issuer=?`,
		price.String(), token.Currency, token.Issuer)
	return err
}

func (s *SQLiteStore) UpdateMaxPrice(token xrpl.TokenID, price decimal.Decimal) error {
	_, err := s.db.Exec(
		`UPDATE token_state SET max_price=? WHERE currency=? AND issuer=?`,
		price.String(), token.Currency, token.Issuer)
	return err
}

func (s *SQLiteStore) GetMaxPrice(token xrpl.TokenID) (decimal.Decimal, error) {
	var raw string
	err := s.db.QueryRow(
		`SELECT COALESCE(max_price,'0') FROM token_state WHERE currency=? AND issuer=?`,
		token.Currency, token.Issuer).Scan(&raw)
	if err == sql.ErrNoRows {
		return decimal.Zero, nil
	}
	if err != nil {
		return decimal.Zero, err
	}
	return decimal.NewFromString(raw)
}

// GetPriceHistory returns the most recent samples, newest first.
func (s *SQLiteStore) GetPriceHistory(token xrpl.TokenID, limit int) ([]PriceSample, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.Query(`
		SELECT currency, issuer, price, liquidity, timestamp FROM price_samples
		WHERE currency=? AND issuer=? ORDER BY timestamp DESC LIMIT ?`,
		token.Currency, token.Issuer, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var samples []PriceSample
	for rows.Next() {
		var p PriceSample
		var raw string
		if err := rows.Scan(&p.Token.Currency, &p.Token.Issuer, &raw, &p.Liquidity, &p.Timestamp); err != nil {
			continue
		}
		p.Price, _ = decimal.NewFromString(raw)
		samples = append(samples, p)
	}
	return samples, rows.Err()
}

// ---- Wallets ----

func (s *SQLiteStore) GetActiveWallets(since time.Time) ([]WalletState, error) {
	rows, err := s.db.Query(`
		SELECT address, first_seen, last_activity, alpha_score, scored_at
		FROM wallet_state WHERE last_activity >= ? ORDER BY last_activity DESC`, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectWallets(rows)
}

// CountTrustLinesBefore reports how many wallets set a line on the token
// strictly before the given time. Used to rank early adopters.
func (s *SQLiteStore) CountTrustLinesBefore(token xrpl.TokenID, before time.Time) (int, error) {
	var n int
	err := s.db.QueryRow(`
		SELECT COUNT(DISTINCT wallet) FROM trustlines
		WHERE currency=? AND issuer=? AND is_removal=FALSE AND timestamp < ?`,
		token.Currency, token.Issuer, before).Scan(&n)
	return n, err
}

func (s *SQLiteStore) GetWalletTrustLines(wallet string) ([]TrustLineRow, error) {
	rows, err := s.db.Query(`
		SELECT id, currency, issuer, wallet, line_limit, tx_hash, timestamp, is_removal
		FROM trustlines WHERE wallet=? ORDER BY timestamp ASC`, wallet)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var lines []TrustLineRow
	for rows.Next() {
		var l TrustLineRow
		if err := rows.Scan(&l.ID, &l.Token.Currency, &l.Token.Issuer, &l.Wallet,
			&l.Limit, &l.TxHash, &l.Timestamp, &l.IsRemoval); err != nil {
			continue
		}
		lines = append(lines, l)
	}
	return lines, rows.Err()
}

func (s *SQLiteStore) GetWalletTrades(wallet string) ([]TradeRow, error) {
	rows, err := s.db.Query(`
		SELECT id, currency, issuer, buyer, seller, value, delivered, tx_hash, timestamp
		FROM trades WHERE buyer=? OR seller=? ORDER BY timestamp ASC`, wallet, wallet)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var trades []TradeRow
	for rows.Next() {
		var t TradeRow
		var value, delivered string
		if err := rows.Scan(&t.ID, &t.Token.Currency, &t.Token.Issuer, &t.Buyer, &t.Seller,
			&value, &delivered, &t.TxHash, &t.Timestamp); err != nil {
			continue
		}
		t.Value, _ = decimal.NewFromString(value)
		t.Delivered, _ = decimal.NewFromString(delivered)
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

func (s *SQLiteStore) UpdateWalletAlphaScore(address string, score float64, at time.Time) error {
	_, err := s.db.Exec(`
		INSERT INTO wallet_state (address, first_seen, last_activity, alpha_score, scored_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(address) DO UPDATE SET
			alpha_score = excluded.alpha_score,
			scored_at = excluded.scored_at`,
		address, at, at, score, at)
	return err
}

// GetTopAlphaWallets returns wallets scoring at or above minScore, best first.
func (s *SQLiteStore) GetTopAlphaWallets(minScore float64, limit int) ([]WalletState, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.Query(`
		SELECT address, first_seen, last_activity, alpha_score, scored_at
		FROM wallet_state WHERE alpha_score >= ?
		ORDER BY alpha_score DESC LIMIT ?`, minScore, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectWallets(rows)
}

func collectWallets(rows *sql.Rows) ([]WalletState, error) {
	var wallets []WalletState
	for rows.Next() {
		var w WalletState
		if err := rows.Scan(&w.Address, &w.FirstSeen, &w.LastActivity, &w.AlphaScore, &w.ScoredAt); err != nil {
			continue
		}
		wallets = append(wallets, w)
	}
	return wallets, rows.Err()
}

// ---- Positions ----

// GetTrustLinePosition returns the most recent trust line a wallet holds on a
// token, or nil when the line was never set or last removed.
func (s *SQLiteStore) GetTrustLinePosition(wallet string, token xrpl.TokenID) (*TrustLineRow, error) {
	var l TrustLineRow
	err := s.db.QueryRow(`
		SELECT id, currency, issuer, wallet, line_limit, tx_hash, timestamp, is_removal
		FROM trustlines WHERE wallet=? AND currency=? AND issuer=?
		ORDER BY timestamp DESC, id DESC LIMIT 1`,
		wallet, token.Currency, token.Issuer).
		Scan(&l.ID, &l.Token.Currency, &l.Token.Issuer, &l.Wallet,
			&l.Limit, &l.TxHash, &l.Timestamp, &l.IsRemoval)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if l.IsRemoval {
		return nil, nil
	}
	return &l, nil
}

// ---- Stats ----

func (s *SQLiteStore) Stats() (*Stats, error) {
	var st Stats
	row := s.db.QueryRow(`
		SELECT
			(SELECT COUNT(*) FROM token_state),
			(SELECT COUNT(*) FROM token_state WHERE status != ?),
			(SELECT COUNT(*) FROM token_state WHERE status = ?),
			(SELECT COUNT(*) FROM trustlines),
			(SELECT COUNT(*) FROM trades),
			(SELECT COUNT(*) FROM wallet_state)`,
		StatusTooOld, StatusTooOld)
	if err := row.Scan(&st.Tokens, &st.ActiveTokens, &st.TooOldTokens, &st.TrustLines, &st.Trades, &st.Wallets); err != nil {
		return nil, err
	}
	return &st, nil
}
