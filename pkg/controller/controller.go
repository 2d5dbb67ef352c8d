package controller

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/xrpl-tracker/pkg/analyzer"
	"github.com/xrpl-tracker/pkg/config"
	"github.com/xrpl-tracker/pkg/dashboard"
	"github.com/xrpl-tracker/pkg/db"
	"github.com/xrpl-tracker/pkg/follower"
	"github.com/xrpl-tracker/pkg/pricemon"
	"github.com/xrpl-tracker/pkg/scorer"
	"github.com/xrpl-tracker/pkg/tracker"
	"github.com/xrpl-tracker/pkg/xrpl"
)

const shutdownGrace = 10 * time.Second

// Controller owns the full pipeline: the subscription stream feeding the
// parser, the tracker and follower consuming events, and the background
// analyzer, price monitor, scorer, and dashboard.
type Controller struct {
	cfg      *config.Config
	store    db.Store
	parser   *xrpl.Parser
	stream   *xrpl.StreamingMonitor
	client   *xrpl.Client
	tracker  *tracker.Tracker
	follower *follower.Follower
	analyzer *analyzer.Analyzer
	pricemon *pricemon.Monitor
	scorer   *scorer.Scorer
	dash     *dashboard.Server
	cron     *cron.Cron

	debugMode bool
	testMode  bool

	mu        sync.Mutex
	running   bool
	startedAt time.Time
	lastError string
	lastTx    string
}

func New(cfg *config.Config, debugMode, testMode bool) (*Controller, error) {
	store, err := db.NewSQLiteStore(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	wallet, err := xrpl.WalletFromSeed(cfg.Wallets.FollowerSeed)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("follower wallet: %w", err)
	}
	log.Info().Str("address", wallet.ClassicAddress).Msg("follower wallet loaded")

	client := xrpl.NewClient(cfg.Network.WebsocketURL)

	trk := tracker.New(store, tracker.Options{
		MinTrustLines: cfg.Monitoring.MinTrustLines,
		MaxTokenAge:   time.Duration(cfg.Analytics.MaxTokenAgeHours) * time.Hour,
		DataFile:      cfg.Monitoring.DataFile,
		SaveInterval:  cfg.SaveInterval(),
		OnHot: func(token xrpl.TokenID) {
			// Hot tokens jump the analysis queue.
			if err := store.MarkTokenPending(token); err != nil {
				log.Warn().Err(err).Str("token", token.Key()).Msg("queue hot token failed")
			}
		},
	})

	fol, err := follower.New(client, wallet, store, cfg, testMode)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("follower: %w", err)
	}

	c := &Controller{
		cfg:      cfg,
		store:    store,
		parser:   xrpl.NewParser(cfg.Monitoring.MinTradeVolume),
		client:   client,
		tracker:  trk,
		follower: fol,
		analyzer: analyzer.New(store, client, time.Duration(cfg.Analytics.MaxTokenAgeHours)*time.Hour, cfg.Analytics.MinLiquidity),
		pricemon: pricemon.New(store, client, cfg.PriceCheckInterval(), cfg.Analytics.MinLiquidity),
		scorer:    scorer.New(store, cfg.Analytics.AlphaFile),
		cron:      cron.New(),
		debugMode: debugMode,
		testMode:  testMode,
	}

	c.dash = dashboard.New(store, trk, cfg.DashboardPort)
	return c, nil
}

// Run starts every component and blocks until one fails or the context is
// canceled. Shutdown waits up to the grace period for components to stop.
func (c *Controller) Run(ctx context.Context) error {
	if err := c.tracker.Restore(); err != nil {
		log.Warn().Err(err).Msg("snapshot restore failed, starting fresh")
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	c.mu.Lock()
	c.running = true
	c.startedAt = time.Now().UTC()
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.running = false
		c.mu.Unlock()
	}()

	// Frames flow: stream -> parser -> tracker/follower.
	handler := func(raw []byte) { c.handleFrame(runCtx, raw) }
	c.stream = xrpl.NewStreamingMonitor(xrpl.StreamConfig{
		URL:                  c.cfg.Network.WebsocketURL,
		Accounts:             []string{c.cfg.Wallets.TargetWallet},
		Streams:              []string{"transactions"},
		MaxReconnectAttempts: c.cfg.Network.MaxReconnectAttempts,
		ReconnectDelay:       c.cfg.ReconnectDelay(),
	}, handler)
	c.dash.ConnectedFn = c.stream.Connected
	c.dash.StatusFn = func() interface{} { return c.Status() }

	if _, err := c.cron.AddFunc("0 0 * * *", c.tracker.ResetDailyCounters); err != nil {
		return fmt.Errorf("schedule daily rollover: %w", err)
	}
	c.cron.Start()

	g, gCtx := errgroup.WithContext(runCtx)
	g.Go(func() error { return c.stream.Run(gCtx) })
	g.Go(func() error { return c.tracker.Run(gCtx) })
	g.Go(func() error { return c.analyzer.Run(gCtx) })
	g.Go(func() error { return c.pricemon.Run(gCtx) })
	g.Go(func() error { return c.scorer.Run(gCtx) })
	g.Go(func() error { return c.dash.Run(gCtx) })

	log.Info().
		Str("target", c.cfg.Wallets.TargetWallet).
		Bool("test_mode", c.testMode).
		Msg("🚀 pipeline started")

	err := waitWithGrace(g, gCtx)

	cronCtx := c.cron.Stop()
	select {
	case <-cronCtx.Done():
	case <-time.After(shutdownGrace):
	}

	c.client.Close()
	if closeErr := c.store.Close(); closeErr != nil {
		log.Warn().Err(closeErr).Msg("store close failed")
	}

	if err == context.Canceled {
		return nil
	}
	if err != nil {
		c.noteError(err)
	}
	return err
}

// waitWithGrace waits for the group; once the group context ends, components
// get the grace period to unwind before we stop waiting on them.
func waitWithGrace(g *errgroup.Group, ctx context.Context) error {
	done := make(chan error, 1)
	go func() { done <- g.Wait() }()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
	}

	select {
	case err := <-done:
		return err
	case <-time.After(shutdownGrace):
		log.Warn().Msg("shutdown grace period expired")
		return ctx.Err()
	}
}

func (c *Controller) handleFrame(ctx context.Context, raw []byte) {
	ev := c.parser.Parse(raw)
	switch ev.Kind {
	case xrpl.KindTrustSet:
		c.noteTx(fmt.Sprintf("TrustSet %s by %s", ev.TrustSet.Token.Key(), ev.TrustSet.Wallet))
		if err := c.tracker.HandleTrustSet(ev.TrustSet); err != nil {
			c.noteError(err)
			log.Error().Err(err).Str("token", ev.TrustSet.Token.Key()).Msg("trust line ingest failed")
		}
		go func() {
			if err := c.follower.HandleTrustSet(ctx, ev.TrustSet); err != nil {
				c.noteError(err)
			}
		}()
	case xrpl.KindPayment:
		c.noteTx(fmt.Sprintf("Payment %s by %s", ev.Payment.Token.Key(), ev.Payment.Buyer))
		if err := c.tracker.HandlePayment(ev.Payment); err != nil {
			c.noteError(err)
			log.Error().Err(err).Str("token", ev.Payment.Token.Key()).Msg("trade ingest failed")
		}
	}
}

// noteError keeps the single most recent error for the status document.
func (c *Controller) noteError(err error) {
	c.mu.Lock()
	c.lastError = err.Error()
	c.mu.Unlock()
}

func (c *Controller) noteTx(summary string) {
	c.mu.Lock()
	c.lastTx = summary
	c.mu.Unlock()
}

// Status is the controller's observability document.
type Status struct {
	Running                bool      `json:"running"`
	StartedAt              time.Time `json:"started_at"`
	LastError              string    `json:"last_error"`
	TrustLinesToday        int64     `json:"trust_lines_today"`
	TransactionsToday      int64     `json:"transactions_today"`
	LastTransactionSummary string    `json:"last_transaction_summary"`
	DebugMode              bool      `json:"debug_mode"`
	TestMode               bool      `json:"test_mode"`
}

// Status snapshots the live pipeline state, pulling the daily counters from
// the tracker.
func (c *Controller) Status() Status {
	trk := c.tracker.Status()
	c.mu.Lock()
	defer c.mu.Unlock()
	return Status{
		Running:                c.running,
		StartedAt:              c.startedAt,
		LastError:              c.lastError,
		TrustLinesToday:        trk.TrustLinesToday,
		TransactionsToday:      trk.TradesToday,
		LastTransactionSummary: c.lastTx,
		DebugMode:              c.debugMode,
		TestMode:               c.testMode,
	}
}
