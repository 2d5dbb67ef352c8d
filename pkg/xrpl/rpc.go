package xrpl

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/gorilla/websocket"
)

const rpcCallTimeout = 30 * time.Second

// Client is a request/response ledger client over its own websocket, separate
// from the subscription stream so queries never contend with streamed frames.
type Client struct {
	url string

	mu      sync.Mutex
	conn    *websocket.Conn
	nextID  int64
	pending map[int64]chan json.RawMessage
	closed  bool
}

func NewClient(url string) *Client {
	return &Client{
		url:     url,
		pending: make(map[int64]chan json.RawMessage),
	}
}

// Close tears down the connection and fails all in-flight calls.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	for id, ch := range c.pending {
		close(ch)
		delete(c.pending, id)
	}
}

func (c *Client) ensureConn(ctx context.Context) (*websocket.Conn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, fmt.Errorf("client closed")
	}
	if c.conn != nil {
		return c.conn, nil
	}

	dialer := websocket.Dialer{HandshakeTimeout: 15 * time.Second}
	conn, _, err := dialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", c.url, err)
	}
	c.conn = conn
	go c.readLoop(conn)
	return conn, nil
}

func (c *Client) readLoop(conn *websocket.Conn) {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			c.dropConn(conn)
			return
		}
		var head struct {
			ID int64 `json:"id"`
		}
		if err := json.Unmarshal(raw, &head); err != nil || head.ID == 0 {
			continue
		}
		c.mu.Lock()
		ch, ok := c.pending[head.ID]
		if ok {
			delete(c.pending, head.ID)
		}
		c.mu.Unlock()
		if ok {
			ch <- raw
		}
	}
}

func (c *Client) dropConn(conn *websocket.Conn) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == conn {
		c.conn = nil
	}
	conn.Close()
	for id, ch := range c.pending {
		close(ch)
		delete(c.pending, id)
	}
}

// call sends one command and waits for the id-matched response.
func (c *Client) call(ctx context.Context, command string, params map[string]interface{}) (json.RawMessage, error) {
	ctx, cancel := context.WithTimeout(ctx, rpcCallTimeout)
	defer cancel()

	conn, err := c.ensureConn(ctx)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.nextID++
	id := c.nextID
	ch := make(chan json.RawMessage, 1)
	c.pending[id] = ch

	req := map[string]interface{}{"id": id, "command": command}
	for k, v := range params {
		req[k] = v
	}
	conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	err = conn.WriteJSON(req)
	c.mu.Unlock()

	if err != nil {
		c.dropConn(conn)
		return nil, fmt.Errorf("%s: write: %w", command, err)
	}

	select {
	case <-ctx.Done():
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return nil, fmt.Errorf("%s: %w", command, ctx.Err())
	case raw, ok := <-ch:
		if !ok {
			return nil, fmt.Errorf("%s: connection lost", command)
		}
		return parseResult(command, raw)
	}
}

func parseResult(command string, raw json.RawMessage) (json.RawMessage, error) {
	var resp struct {
		Status       string          `json:"status"`
		Error        string          `json:"error"`
		ErrorMessage string          `json:"error_message"`
		Result       json.RawMessage `json:"result"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("%s: decode: %w", command, err)
	}
	if resp.Status != "success" {
		msg := resp.ErrorMessage
		if msg == "" {
			msg = resp.Error
		}
		return nil, &RPCError{Command: command, Code: resp.Error, Message: msg}
	}
	return resp.Result, nil
}

// RPCError is a server-side rejection of a command.
type RPCError struct {
	Command string
	Code    string
	Message string
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("%s: %s (%s)", e.Command, e.Message, e.Code)
}

// IsRateLimited reports whether an error is the server throttling us.
func IsRateLimited(err error) bool {
	var rpcErr *RPCError
	if !errors.As(err, &rpcErr) {
		return false
	}
	return rpcErr.Code == "slowDown" || rpcErr.Code == "tooBusy"
}

// TxResult is the validation state of a submitted or observed transaction.
// Date is the ledger close time, zero when the server omits it.
type TxResult struct {
	Hash      string `json:"hash"`
	Validated bool   `json:"validated"`
	Result    string
	Date      time.Time
}

// Tx fetches a transaction by hash.
func (c *Client) Tx(ctx context.Context, hash string) (*TxResult, error) {
	raw, err := c.call(ctx, "tx", map[string]interface{}{"transaction": hash})
	if err != nil {
		return nil, err
	}
	var out struct {
		Hash      string `json:"hash"`
		Validated bool   `json:"validated"`
		Date      int64  `json:"date"`
		Meta      struct {
			TransactionResult string `json:"TransactionResult"`
		} `json:"meta"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("tx: decode result: %w", err)
	}
	res := &TxResult{Hash: out.Hash, Validated: out.Validated, Result: out.Meta.TransactionResult}
	if out.Date > 0 {
		res.Date = RippleTime(out.Date)
	}
	return res, nil
}

// AccountTxEntry is one history row from account_tx.
type AccountTxEntry struct {
	Account         string
	TransactionType string
	Hash            string
	Date            time.Time
	Flags           uint32
	Validated       bool
	Succeeded       bool
}

// AccountTx fetches the most recent transactions touching an account,
// newest first.
func (c *Client) AccountTx(ctx context.Context, account string, limit int) ([]AccountTxEntry, error) {
	if limit <= 0 {
		limit = 20
	}
	raw, err := c.call(ctx, "account_tx", map[string]interface{}{
		"account":          account,
		"limit":            limit,
		"ledger_index_min": -1,
		"ledger_index_max": -1,
	})
	if err != nil {
		return nil, err
	}

	var out struct {
		Transactions []struct {
			Validated bool `json:"validated"`
			Tx        *struct {
				Account         string `json:"Account"`
				TransactionType string `json:"TransactionType"`
				Hash            string `json:"hash"`
				Date            int64  `json:"date"`
				Flags           uint32 `json:"Flags"`
			} `json:"tx"`
			TxJSON *struct {
				Account         string `json:"Account"`
				TransactionType string `json:"TransactionType"`
				Hash            string `json:"hash"`
				Date            int64  `json:"date"`
				Flags           uint32 `json:"Flags"`
			} `json:"tx_json"`
			Hash string `json:"hash"`
			Meta struct {
				TransactionResult string `json:"TransactionResult"`
			} `json:"meta"`
		} `json:"transactions"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("account_tx: decode result: %w", err)
	}

	entries := make([]AccountTxEntry, 0, len(out.Transactions))
	for _, t := range out.Transactions {
		tx := t.Tx
		if tx == nil {
			tx = t.TxJSON
		}
		if tx == nil {
			continue
		}
		hash := tx.Hash
		if hash == "" {
			hash = t.Hash
		}
		entries = append(entries, AccountTxEntry{
			Account:         tx.Account,
			TransactionType: tx.TransactionType,
			Hash:            hash,
			Date:            RippleTime(tx.Date),
			Flags:           tx.Flags,
			Validated:       t.Validated,
			Succeeded:       t.Meta.TransactionResult == "tesSUCCESS",
		})
	}
	return entries, nil
}

// BookOffer is one ask from the order book: TakerGets in XRP drops,
// TakerPays in the issued token.
type BookOffer struct {
	TakerGetsDrops int64
	TakerPaysValue string
}

// BookOffers fetches asks selling the token for XRP, best first.
func (c *Client) BookOffers(ctx context.Context, token TokenID, limit int) ([]BookOffer, error) {
	if limit <= 0 {
		limit = 10
	}
	raw, err := c.call(ctx, "book_offers", map[string]interface{}{
		"taker_gets": map[string]string{"currency": "XRP"},
		"taker_pays": map[string]string{"currency": token.Currency, "issuer": token.Issuer},
		"limit":      limit,
	})
	if err != nil {
		return nil, err
	}

	var out struct {
		Offers []struct {
			TakerGets json.RawMessage `json:"TakerGets"`
			TakerPays json.RawMessage `json:"TakerPays"`
		} `json:"offers"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("book_offers: decode result: %w", err)
	}

	offers := make([]BookOffer, 0, len(out.Offers))
	for _, o := range out.Offers {
		var drops string
		if err := json.Unmarshal(o.TakerGets, &drops); err != nil {
			// TakerGets should be native; skip malformed entries.
			continue
		}
		var pays amount
		if err := json.Unmarshal(o.TakerPays, &pays); err != nil || pays.scalar {
			continue
		}
		var dropsInt int64
		if _, err := fmt.Sscan(drops, &dropsInt); err != nil {
			continue
		}
		offers = append(offers, BookOffer{TakerGetsDrops: dropsInt, TakerPaysValue: pays.Value})
	}
	return offers, nil
}

// TrustLine is one row from account_lines.
type TrustLine struct {
	Account  string `json:"account"`
	Currency string `json:"currency"`
	Balance  string `json:"balance"`
	Limit    string `json:"limit"`
}

// AccountLines fetches the trust lines held by an account.
func (c *Client) AccountLines(ctx context.Context, account string) ([]TrustLine, error) {
	raw, err := c.call(ctx, "account_lines", map[string]interface{}{"account": account})
	if err != nil {
		return nil, err
	}
	var out struct {
		Lines []TrustLine `json:"lines"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("account_lines: decode result: %w", err)
	}
	return out.Lines, nil
}

// GatewayBalances reports the total obligations an issuer has outstanding,
// keyed by currency code.
func (c *Client) GatewayBalances(ctx context.Context, issuer string) (map[string]string, error) {
	raw, err := c.call(ctx, "gateway_balances", map[string]interface{}{"account": issuer})
	if err != nil {
		return nil, err
	}
	var out struct {
		Obligations map[string]string `json:"obligations"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("gateway_balances: decode result: %w", err)
	}
	return out.Obligations, nil
}

// AccountInfo is the subset of account_info the follower needs for sequence
// numbers and fee headroom.
type AccountInfo struct {
	Sequence uint32
	Balance  string
}

func (c *Client) AccountInfo(ctx context.Context, account string) (*AccountInfo, error) {
	raw, err := c.call(ctx, "account_info", map[string]interface{}{
		"account":      account,
		"ledger_index": "current",
	})
	if err != nil {
		return nil, err
	}
	var out struct {
		AccountData struct {
			Sequence uint32 `json:"Sequence"`
			Balance  string `json:"Balance"`
		} `json:"account_data"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("account_info: decode result: %w", err)
	}
	return &AccountInfo{Sequence: out.AccountData.Sequence, Balance: out.AccountData.Balance}, nil
}

// SubmitResult is the preliminary engine verdict for a submitted blob.
type SubmitResult struct {
	EngineResult string
	Accepted     bool
}

// Submit pushes a signed transaction blob to the network. The result is
// preliminary; validation is confirmed by polling Tx.
func (c *Client) Submit(ctx context.Context, blob string) (*SubmitResult, error) {
	raw, err := c.call(ctx, "submit", map[string]interface{}{"tx_blob": blob})
	if err != nil {
		return nil, err
	}
	var out struct {
		EngineResult string `json:"engine_result"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("submit: decode result: %w", err)
	}
	accepted := out.EngineResult == "tesSUCCESS" || out.EngineResult == "terQUEUED"
	if !accepted {
		log.Debug().Str("engine_result", out.EngineResult).Msg("submit not accepted")
	}
	return &SubmitResult{EngineResult: out.EngineResult, Accepted: accepted}, nil
}

// WaitValidated polls tx until the transaction validates or the context ends.
func (c *Client) WaitValidated(ctx context.Context, hash string, interval time.Duration) (*TxResult, error) {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
			res, err := c.Tx(ctx, hash)
			if err != nil {
				var rpcErr *RPCError
				if errors.As(err, &rpcErr) && rpcErr.Code == "txnNotFound" {
					continue
				}
				return nil, err
			}
			if res.Validated {
				return res, nil
			}
		}
	}
}
