package follower

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/xrpl-tracker/pkg/config"
	"github.com/xrpl-tracker/pkg/db"
	"github.com/xrpl-tracker/pkg/xrpl"
)

const (
	baseFeeDrops    = 12
	validatePoll    = 2 * time.Second
	validateTimeout = 60 * time.Second
)

// Follower mirrors the target wallet's trust lines onto its own account. When
// the target opens a line on a token, the follower opens one too, with the
// limit clamped into the configured range.
type Follower struct {
	client *xrpl.Client
	wallet *xrpl.Wallet
	store  db.Store

	target         string
	minLimit       decimal.Decimal
	maxLimit       decimal.Decimal
	purchaseAmount decimal.Decimal
	sendMaxDrops   int64
	autoPurchase   bool
	testMode       bool

	mu       sync.Mutex
	inFlight map[string]bool
}

func New(client *xrpl.Client, wallet *xrpl.Wallet, store db.Store, cfg *config.Config, testMode bool) (*Follower, error) {
	purchase, err := decimal.NewFromString(cfg.Trading.InitialPurchaseAmount)
	if err != nil {
		return nil, fmt.Errorf("initial_purchase_amount: %w", err)
	}
	sendMax, err := decimal.NewFromString(cfg.Trading.SendMaxXRP)
	if err != nil {
		return nil, fmt.Errorf("send_max_native: %w", err)
	}
	slippage, err := decimal.NewFromString(cfg.Trading.SlippagePercent)
	if err != nil {
		return nil, fmt.Errorf("slippage_percent: %w", err)
	}

	// Headroom for the payment includes the slippage allowance.
	factor := decimal.NewFromInt(1).Add(slippage.Div(decimal.NewFromInt(100)))
	drops := sendMax.Mul(factor).Mul(decimal.NewFromInt(1_000_000)).IntPart()

	return &Follower{
		client:         client,
		wallet:         wallet,
		store:          store,
		target:         cfg.Wallets.TargetWallet,
		minLimit:       decimal.NewFromInt(cfg.Trading.MinTrustLineAmount),
		maxLimit:       decimal.NewFromInt(cfg.Trading.MaxTrustLineAmount),
		purchaseAmount: purchase,
		sendMaxDrops:   drops,
		autoPurchase:   cfg.Trading.AutoPurchaseOnTrust,
		testMode:       testMode,
		inFlight:       make(map[string]bool),
	}, nil
}

// Address returns the follower's own classic address.
func (f *Follower) Address() string {
	return f.wallet.ClassicAddress
}

// HandleTrustSet mirrors a trust line if it came from the target wallet.
// Removals are not mirrored; the follower keeps its positions. The returned
// error is the submission failure, if any; skips return nil.
func (f *Follower) HandleTrustSet(ctx context.Context, ev *xrpl.TrustSetEvent) error {
	if ev.Wallet != f.target || ev.IsRemoval {
		return nil
	}

	key := ev.Token.Key()
	f.mu.Lock()
	if f.inFlight[key] {
		f.mu.Unlock()
		log.Debug().Str("token", key).Msg("mirror already in flight")
		return nil
	}
	f.inFlight[key] = true
	f.mu.Unlock()

	defer func() {
		f.mu.Lock()
		delete(f.inFlight, key)
		f.mu.Unlock()
	}()

	pos, err := f.store.GetTrustLinePosition(f.wallet.ClassicAddress, ev.Token)
	if err != nil {
		log.Error().Err(err).Str("token", key).Msg("position lookup failed")
		return err
	}
	if pos != nil {
		log.Debug().Str("token", key).Msg("trust line already held")
		return nil
	}

	limit := f.clampLimit(ev.Limit)
	if err := f.mirror(ctx, ev.Token, limit); err != nil {
		log.Error().Err(err).Str("token", key).Msg("❌ trust line mirror failed")
		return err
	}

	if f.autoPurchase {
		if err := f.purchase(ctx, ev.Token); err != nil {
			log.Error().Err(err).Str("token", key).Msg("❌ initial purchase failed")
			return err
		}
	}
	return nil
}

// clampLimit pulls the target's limit into [min, max]. Unparseable limits use
// the minimum.
func (f *Follower) clampLimit(raw string) decimal.Decimal {
	limit, err := decimal.NewFromString(raw)
	if err != nil {
		return f.minLimit
	}
	if limit.LessThan(f.minLimit) {
		return f.minLimit
	}
	if limit.GreaterThan(f.maxLimit) {
		return f.maxLimit
	}
	return limit
}

func (f *Follower) mirror(ctx context.Context, token xrpl.TokenID, limit decimal.Decimal) error {
	log.Info().
		Str("token", token.Key()).
		Str("limit", limit.String()).
		Bool("test_mode", f.testMode).
		Msg("🪞 mirroring trust line")

	if f.testMode {
		return nil
	}

	info, err := f.client.AccountInfo(ctx, f.wallet.ClassicAddress)
	if err != nil {
		return fmt.Errorf("account_info: %w", err)
	}

	tx := &xrpl.TrustSetTx{
		Account:     f.wallet.ClassicAddress,
		Sequence:    info.Sequence,
		Fee:         baseFeeDrops,
		LimitAmount: xrpl.IssuedAmount(token, limit),
	}
	blob, hash, err := xrpl.SignTrustSet(tx, f.wallet)
	if err != nil {
		return fmt.Errorf("sign: %w", err)
	}
	return f.submitAndWait(ctx, blob, hash, "TrustSet", token)
}

func (f *Follower) purchase(ctx context.Context, token xrpl.TokenID) error {
	log.Info().
		Str("token", token.Key()).
		Str("amount", f.purchaseAmount.String()).
		Bool("test_mode", f.testMode).
		Msg("🛒 submitting initial purchase")

	if f.testMode {
		return nil
	}

	info, err := f.client.AccountInfo(ctx, f.wallet.ClassicAddress)
	if err != nil {
		return fmt.Errorf("account_info: %w", err)
	}

	sendMax := xrpl.NativeAmount(f.sendMaxDrops)
	tx := &xrpl.PaymentTx{
		Account:     f.wallet.ClassicAddress,
		Destination: f.wallet.ClassicAddress,
		Sequence:    info.Sequence,
		Fee:         baseFeeDrops,
		Amount:      xrpl.IssuedAmount(token, f.purchaseAmount),
		SendMax:     &sendMax,
	}
	blob, hash, err := xrpl.SignPayment(tx, f.wallet)
	if err != nil {
		return fmt.Errorf("sign: %w", err)
	}
	return f.submitAndWait(ctx, blob, hash, "Payment", token)
}

func (f *Follower) submitAndWait(ctx context.Context, blob, hash, kind string, token xrpl.TokenID) error {
	res, err := f.client.Submit(ctx, blob)
	if err != nil {
		return fmt.Errorf("submit: %w", err)
	}
	if !res.Accepted {
		return fmt.Errorf("submit rejected: %s", res.EngineResult)
	}

	waitCtx, cancel := context.WithTimeout(ctx, validateTimeout)
	defer cancel()
	final, err := f.client.WaitValidated(waitCtx, hash, validatePoll)
	if err != nil {
		return fmt.Errorf("validation wait: %w", err)
	}
	if final.Result != "tesSUCCESS" {
		return fmt.Errorf("validated with result %s", final.Result)
	}

	log.Info().
		Str("type", kind).
		Str("token", token.Key()).
		Str("hash", hash).
		Msg("✅ transaction validated")
	return nil
}
