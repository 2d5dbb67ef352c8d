package tracker

import (
	"context"
	"encoding/json"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/xrpl-tracker/pkg/db"
	"github.com/xrpl-tracker/pkg/xrpl"
)

const statusReportInterval = 5 * time.Minute

// TokenInfo is the in-memory aggregate for one token.
type TokenInfo struct {
	Token        xrpl.TokenID    `json:"token"`
	FirstSeen    time.Time       `json:"first_seen"`
	LastActivity time.Time       `json:"last_activity"`
	TrustLines   map[string]bool `json:"trust_lines"`
	TradeCount   int             `json:"trade_count"`
	TotalVolume  decimal.Decimal `json:"total_volume"`
	Hot          bool            `json:"hot"`
	TooOld       bool            `json:"too_old"`
}

// Tracker keeps the live per-token state fed by the stream. Hot status
// latches: once a token crosses the trust line threshold it stays hot even if
// wallets later remove their lines.
type Tracker struct {
	store         db.Store
	minTrustLines int
	maxTokenAge   time.Duration
	dataFile      string
	saveInterval  time.Duration
	onHot         func(xrpl.TokenID)

	mu     sync.RWMutex
	tokens map[string]*TokenInfo
	hot    map[string]bool

	trustLinesToday int64
	tradesToday     int64
}

type Options struct {
	MinTrustLines int
	MaxTokenAge   time.Duration
	DataFile      string
	SaveInterval  time.Duration
	// OnHot fires once per token, when it first crosses the threshold.
	OnHot func(xrpl.TokenID)
}

func New(store db.Store, opts Options) *Tracker {
	if opts.MinTrustLines < 1 {
		opts.MinTrustLines = 5
	}
	return &Tracker{
		store:         store,
		minTrustLines: opts.MinTrustLines,
		maxTokenAge:   opts.MaxTokenAge,
		dataFile:      opts.DataFile,
		saveInterval:  opts.SaveInterval,
		onHot:         opts.OnHot,
		tokens:        make(map[string]*TokenInfo),
		hot:           make(map[string]bool),
	}
}

// HandleTrustSet folds one trust line event into the token state. Replayed
// events are ignored via the store's dedup.
func (t *Tracker) HandleTrustSet(ev *xrpl.TrustSetEvent) error {
	fresh, err := t.store.RecordTrustLine(ev)
	if err != nil {
		return err
	}
	if !fresh {
		return nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	info := t.token(ev.Token, ev.Timestamp)
	info.LastActivity = ev.Timestamp

	// Filtered tokens take no part in counting or hot evaluation.
	if t.expireLocked(info, ev.Timestamp) {
		return nil
	}

	if ev.IsRemoval {
		delete(info.TrustLines, ev.Wallet)
	} else {
		info.TrustLines[ev.Wallet] = true
		t.trustLinesToday++
	}

	if !info.Hot && len(info.TrustLines) >= t.minTrustLines {
		info.Hot = true
		t.hot[info.Token.Key()] = true
		log.Info().
			Str("token", info.Token.Key()).
			Int("trust_lines", len(info.TrustLines)).
			Msg("🔥 token crossed trust line threshold")
		if t.onHot != nil {
			go t.onHot(info.Token)
		}
	}
	return nil
}

// HandlePayment folds one trade into the token state.
func (t *Tracker) HandlePayment(ev *xrpl.PaymentEvent) error {
	fresh, err := t.store.RecordTrade(ev)
	if err != nil {
		return err
	}
	if !fresh {
		return nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	info := t.token(ev.Token, ev.Timestamp)
	info.LastActivity = ev.Timestamp

	if t.expireLocked(info, ev.Timestamp) {
		return nil
	}

	info.TradeCount++
	info.TotalVolume = info.TotalVolume.Add(ev.Value)
	t.tradesToday++
	return nil
}

func (t *Tracker) token(id xrpl.TokenID, seen time.Time) *TokenInfo {
	key := id.Key()
	info, ok := t.tokens[key]
	if !ok {
		info = &TokenInfo{
			Token:       id,
			FirstSeen:   seen,
			TrustLines:  make(map[string]bool),
			TotalVolume: decimal.Zero,
		}
		// A token the store already expired re-enters memory filtered, so
		// a restart never resurrects it.
		if old, err := t.store.IsTokenTooOld(id); err != nil {
			log.Warn().Err(err).Str("token", key).Msg("expiry lookup failed")
		} else if old {
			info.TooOld = true
		}
		t.tokens[key] = info
		log.Debug().Str("token", key).Bool("filtered", info.TooOld).Msg("new token observed")
	}
	return info
}

// expireLocked marks a token too old once it passes the age limit. The state
// is terminal and expired tokens drop out of snapshots and hot evaluation.
func (t *Tracker) expireLocked(info *TokenInfo, now time.Time) bool {
	if info.TooOld {
		return true
	}
	if t.maxTokenAge <= 0 || now.Sub(info.FirstSeen) <= t.maxTokenAge {
		return false
	}
	info.TooOld = true
	delete(t.hot, info.Token.Key())
	if err := t.store.MarkTokenTooOld(info.Token); err != nil {
		log.Warn().Err(err).Str("token", info.Token.Key()).Msg("failed to expire token")
	}
	log.Debug().Str("token", info.Token.Key()).Msg("token aged out")
	return true
}

// IsHot reports whether a token has (ever) crossed the threshold.
func (t *Tracker) IsHot(id xrpl.TokenID) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.hot[id.Key()]
}

// HotTokens returns the latched hot set, sorted for stable output.
func (t *Tracker) HotTokens() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	keys := make([]string, 0, len(t.hot))
	for k := range t.hot {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Tokens returns a copy of all live (non-expired) token aggregates.
func (t *Tracker) Tokens() []TokenInfo {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]TokenInfo, 0, len(t.tokens))
	for _, info := range t.tokens {
		if info.TooOld {
			continue
		}
		cp := *info
		cp.TrustLines = make(map[string]bool, len(info.TrustLines))
		for w := range info.TrustLines {
			cp.TrustLines[w] = true
		}
		out = append(out, cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Token.Key() < out[j].Token.Key() })
	return out
}

// Status is the live counter block reported periodically and served by the
// dashboard.
type Status struct {
	TotalTokens     int   `json:"total_tokens"`
	HotTokens       int   `json:"hot_tokens"`
	ExpiredTokens   int   `json:"expired_tokens"`
	TrustLinesToday int64 `json:"trust_lines_today"`
	TradesToday     int64 `json:"trades_today"`
}

func (t *Tracker) Status() Status {
	t.mu.RLock()
	defer t.mu.RUnlock()
	expired := 0
	for _, info := range t.tokens {
		if info.TooOld {
			expired++
		}
	}
	return Status{
		TotalTokens:     len(t.tokens),
		HotTokens:       len(t.hot),
		ExpiredTokens:   expired,
		TrustLinesToday: t.trustLinesToday,
		TradesToday:     t.tradesToday,
	}
}

// ResetDailyCounters zeroes the per-day counters; the controller calls this at
// midnight.
func (t *Tracker) ResetDailyCounters() {
	t.mu.Lock()
	t.trustLinesToday = 0
	t.tradesToday = 0
	t.mu.Unlock()
	log.Info().Msg("🕛 daily counters reset")
}

// ---- Snapshots ----

type snapshotToken struct {
	Currency    string   `json:"currency"`
	Issuer      string   `json:"issuer"`
	FirstSeen   time.Time `json:"first_seen"`
	TrustLines  []string `json:"trust_lines"`
	TradeCount  int      `json:"trade_count"`
	TotalVolume string   `json:"total_volume"`
	Hot         bool     `json:"hot"`
}

type snapshot struct {
	Timestamp time.Time                `json:"timestamp"`
	Tokens    map[string]snapshotToken `json:"tokens"`
	HotTokens []string                 `json:"hot_tokens"`
}

// Save writes the live state to the data file. Expired tokens are excluded so
// a restore never resurrects them.
func (t *Tracker) Save() error {
	if t.dataFile == "" {
		return nil
	}

	t.mu.RLock()
	snap := snapshot{
		Timestamp: time.Now().UTC(),
		Tokens:    make(map[string]snapshotToken, len(t.tokens)),
	}
	for key, info := range t.tokens {
		if info.TooOld {
			continue
		}
		wallets := make([]string, 0, len(info.TrustLines))
		for w := range info.TrustLines {
			wallets = append(wallets, w)
		}
		sort.Strings(wallets)
		snap.Tokens[key] = snapshotToken{
			Currency:    info.Token.Currency,
			Issuer:      info.Token.Issuer,
			FirstSeen:   info.FirstSeen,
			TrustLines:  wallets,
			TradeCount:  info.TradeCount,
			TotalVolume: info.TotalVolume.String(),
			Hot:         info.Hot,
		}
	}
	for k := range t.hot {
		snap.HotTokens = append(snap.HotTokens, k)
	}
	sort.Strings(snap.HotTokens)
	t.mu.RUnlock()

	raw, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return err
	}

	tmp := t.dataFile + ".tmp"
	if err := os.WriteFile(tmp, raw, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, t.dataFile)
}

// Restore loads state from the data file. A missing file is a clean start.
func (t *Tracker) Restore() error {
	if t.dataFile == "" {
		return nil
	}
	raw, err := os.ReadFile(t.dataFile)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	var snap snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	for key, st := range snap.Tokens {
		vol, err := decimal.NewFromString(st.TotalVolume)
		if err != nil {
			vol = decimal.Zero
		}
		info := &TokenInfo{
			Token:        xrpl.TokenID{Currency: st.Currency, Issuer: st.Issuer},
			FirstSeen:    st.FirstSeen,
			LastActivity: snap.Timestamp,
			TrustLines:   make(map[string]bool, len(st.TrustLines)),
			TradeCount:   st.TradeCount,
			TotalVolume:  vol,
			Hot:          st.Hot,
		}
		for _, w := range st.TrustLines {
			info.TrustLines[w] = true
		}
		t.tokens[key] = info
	}
	for _, k := range snap.HotTokens {
		t.hot[k] = true
	}

	log.Info().
		Int("tokens", len(snap.Tokens)).
		Int("hot", len(snap.HotTokens)).
		Time("saved_at", snap.Timestamp).
		Msg("💾 restored token state")
	return nil
}

// Run drives the periodic snapshot and status report until the context ends.
// A final snapshot is written on shutdown.
func (t *Tracker) Run(ctx context.Context) error {
	interval := t.saveInterval
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	saveTicker := time.NewTicker(interval)
	defer saveTicker.Stop()
	statusTicker := time.NewTicker(statusReportInterval)
	defer statusTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			if err := t.Save(); err != nil {
				log.Warn().Err(err).Msg("final snapshot failed")
			}
			return ctx.Err()
		case <-saveTicker.C:
			if err := t.Save(); err != nil {
				log.Warn().Err(err).Msg("snapshot failed")
			}
		case <-statusTicker.C:
			st := t.Status()
			log.Info().
				Int("tokens", st.TotalTokens).
				Int("hot", st.HotTokens).
				Int("expired", st.ExpiredTokens).
				Int64("trust_lines_today", st.TrustLinesToday).
				Int64("trades_today", st.TradesToday).
				Msg("📊 tracker status")
		}
	}
}
