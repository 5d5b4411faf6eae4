package chain

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/crypto/blake2b"

	"github.com/sarna320/scalp/internal/domain"
)

const (
	methodSubscribeHeads = "chain_subscribeNewHeads"
	methodGetHeader      = "chain_getHeader"
	methodBlockEvents    = "chain_getBlockEvents"
	methodDynamicInfo    = "subnetInfo_getDynamicInfo"
	methodSubmitWatch    = "author_submitAndWatchExtrinsic"

	writeTimeout = 10 * time.Second

	// Mortal era for submitted extrinsics, anchored two blocks back so the
	// node accepts them even when our head lags slightly.
	eraPeriod    = 4
	eraAnchorLag = 2
)

// SubstrateClient speaks JSON-RPC 2.0 to a chain node over a single
// websocket: request/response calls correlated by id, server pushes routed by
// subscription id.
type SubstrateClient struct {
	endpoints []string
	log       *zap.Logger

	conn     *websocket.Conn
	writeMu  sync.Mutex // gorilla allows one concurrent writer
	mu       sync.Mutex // guards pending, subs
	nextID   uint64
	pending  map[uint64]chan rpcResponse
	subs     map[string]chan json.RawMessage
	done     chan struct{}
	lastHead atomic.Int64
}

type rpcRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      uint64        `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
}

type rpcResponse struct {
	ID     *uint64         `json:"id"`
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
	Method string          `json:"method"`
	Params *struct {
		Subscription string          `json:"subscription"`
		Result       json.RawMessage `json:"result"`
	} `json:"params"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

func NewSubstrateClient(endpoint string, fallbacks []string, log *zap.Logger) *SubstrateClient {
	return &SubstrateClient{
		endpoints: append([]string{endpoint}, fallbacks...),
		log:       log,
		pending:   make(map[uint64]chan rpcResponse),
		subs:      make(map[string]chan json.RawMessage),
		done:      make(chan struct{}),
	}
}

// Connect dials the first reachable endpoint and starts the read loop.
func (c *SubstrateClient) Connect(ctx context.Context) error {
	var lastErr error
	for _, url := range c.endpoints {
		conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
		if err != nil {
			c.log.Warn("endpoint unreachable", zap.String("url", url), zap.Error(err))
			lastErr = err
			continue
		}
		c.conn = conn
		go c.readLoop()
		c.log.Info("connected to chain", zap.String("url", url))
		return nil
	}
	return fmt.Errorf("no reachable endpoint: %w", lastErr)
}

func (c *SubstrateClient) Close() error {
	close(c.done)
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

func (c *SubstrateClient) readLoop() {
	defer func() {
		c.mu.Lock()
		for _, ch := range c.subs {
			close(ch)
		}
		c.subs = make(map[string]chan json.RawMessage)
		c.mu.Unlock()
	}()

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			select {
			case <-c.done:
			default:
				c.log.Error("chain connection lost", zap.Error(err))
			}
			return
		}

		var resp rpcResponse
		if err := json.Unmarshal(data, &resp); err != nil {
			c.log.Warn("unparseable rpc message", zap.Error(err))
			continue
		}

		switch {
		case resp.ID != nil:
			c.mu.Lock()
			ch, ok := c.pending[*resp.ID]
			delete(c.pending, *resp.ID)
			c.mu.Unlock()
			if ok {
				ch <- resp
			}
		case resp.Params != nil:
			c.mu.Lock()
			ch, ok := c.subs[resp.Params.Subscription]
			c.mu.Unlock()
			if ok {
				select {
				case ch <- resp.Params.Result:
				default:
					c.log.Warn("subscription consumer lagging, dropping update",
						zap.String("sub", resp.Params.Subscription))
				}
			}
		}
	}
}

// call performs one request/response round trip.
func (c *SubstrateClient) call(ctx context.Context, method string, params ...interface{}) (json.RawMessage, error) {
	if params == nil {
		params = []interface{}{}
	}
	ch := make(chan rpcResponse, 1)

	c.mu.Lock()
	c.nextID++
	id := c.nextID
	c.pending[id] = ch
	c.mu.Unlock()

	req := rpcRequest{JSONRPC: "2.0", ID: id, Method: method, Params: params}
	c.writeMu.Lock()
	c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	err := c.conn.WriteJSON(req)
	c.writeMu.Unlock()
	if err != nil {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return nil, err
	}

	select {
	case <-ctx.Done():
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return nil, ctx.Err()
	case resp := <-ch:
		if resp.Error != nil {
			return nil, resp.Error
		}
		return resp.Result, nil
	}
}

// subscribe performs a subscription call and registers a channel for its
// pushes. The caller owns unsubscription via the returned id.
func (c *SubstrateClient) subscribe(ctx context.Context, method string, params ...interface{}) (string, chan json.RawMessage, error) {
	result, err := c.call(ctx, method, params...)
	if err != nil {
		return "", nil, err
	}
	var subID string
	if err := json.Unmarshal(result, &subID); err != nil {
		return "", nil, fmt.Errorf("bad subscription id: %w", err)
	}

	ch := make(chan json.RawMessage, 64)
	c.mu.Lock()
	c.subs[subID] = ch
	c.mu.Unlock()
	return subID, ch, nil
}

func (c *SubstrateClient) unsubscribe(subID string) {
	c.mu.Lock()
	delete(c.subs, subID)
	c.mu.Unlock()
}

// blockHeader is the head notification payload.
type blockHeader struct {
	Number string `json:"number"` // hex
	Hash   string `json:"hash"`
}

// SubscribeBlocks streams new heads in height order. The returned channel
// closes when ctx ends or the connection drops.
func (c *SubstrateClient) SubscribeBlocks(ctx context.Context) (<-chan domain.Block, error) {
	subID, raw, err := c.subscribe(ctx, methodSubscribeHeads)
	if err != nil {
		return nil, err
	}

	out := make(chan domain.Block)
	go func() {
		defer close(out)
		defer c.unsubscribe(subID)
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-raw:
				if !ok {
					return
				}
				var header blockHeader
				if err := json.Unmarshal(msg, &header); err != nil {
					c.log.Warn("bad head notification", zap.Error(err))
					continue
				}
				number, err := parseHexUint(header.Number)
				if err != nil {
					c.log.Warn("bad head number", zap.String("number", header.Number), zap.Error(err))
					continue
				}
				c.lastHead.Store(number)
				select {
				case out <- domain.Block{Number: number, Hash: header.Hash}:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

// dynamicInfo is the subnet pool snapshot served by the node.
type dynamicInfo struct {
	NetUID     int   `json:"netuid"`
	AlphaInRao int64 `json:"alpha_in"`
	TaoInRao   int64 `json:"tao_in"`
}

func (c *SubstrateClient) GetPoolReserves(ctx context.Context, netuid int) (*domain.PoolReserves, error) {
	result, err := c.call(ctx, methodDynamicInfo, netuid)
	if err != nil {
		return nil, err
	}
	var info dynamicInfo
	if err := json.Unmarshal(result, &info); err != nil {
		return nil, fmt.Errorf("bad dynamic info: %w", err)
	}
	return &domain.PoolReserves{NetUID: netuid, AlphaInRao: info.AlphaInRao, TaoInRao: info.TaoInRao}, nil
}

// GetPrice derives the spot price from pool reserves.
func (c *SubstrateClient) GetPrice(ctx context.Context, netuid int) (decimal.Decimal, error) {
	reserves, err := c.GetPoolReserves(ctx, netuid)
	if err != nil {
		return decimal.Zero, err
	}
	if reserves.AlphaInRao <= 0 {
		return decimal.Zero, fmt.Errorf("subnet %d pool is empty", netuid)
	}
	return decimal.NewFromInt(reserves.TaoInRao).Div(decimal.NewFromInt(reserves.AlphaInRao)), nil
}

// stakeCall is the runtime call encoded into an extrinsic.
type stakeCall struct {
	Pallet string                 `json:"pallet"`
	Method string                 `json:"method"`
	Args   map[string]interface{} `json:"args"`
}

type extrinsicPayload struct {
	Call    stakeCall `json:"call"`
	Address string    `json:"address"`
	Era     struct {
		Period  int64 `json:"period"`
		Current int64 `json:"current"`
	} `json:"era"`
}

type signedExtrinsic struct {
	Payload   extrinsicPayload `json:"payload"`
	Signature string           `json:"signature"`
}

// SubmitOrder signs the order, submits it and watches its status until it is
// included in a block. The caller bounds the wait through ctx; a deadline
// surfaces as context.DeadlineExceeded so the engine classifies it as a
// timeout.
func (c *SubstrateClient) SubmitOrder(ctx context.Context, order *domain.OrderRequest, signer domain.Signer) (*domain.ExtrinsicReceipt, error) {
	method := "add_stake_limit"
	amountArg := "amount_staked"
	if order.Kind == domain.TxUnstake {
		method = "remove_stake_limit"
		amountArg = "amount_unstaked"
	}

	payload := extrinsicPayload{
		Call: stakeCall{
			Pallet: "SubtensorModule",
			Method: method,
			Args: map[string]interface{}{
				"hotkey":        order.Hotkey,
				"netuid":        order.NetUID,
				amountArg:       order.AmountRao,
				"limit_price":   order.LimitPriceRao,
				"allow_partial": order.AllowPartial,
			},
		},
		Address: signer.Address(),
	}
	payload.Era.Period = eraPeriod
	if head := c.lastHead.Load(); head > eraAnchorLag {
		payload.Era.Current = head - eraAnchorLag
	}

	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	sig, err := signer.Sign(payloadBytes)
	if err != nil {
		return nil, fmt.Errorf("sign extrinsic: %w", err)
	}

	extBytes, err := json.Marshal(signedExtrinsic{Payload: payload, Signature: hex.EncodeToString(sig)})
	if err != nil {
		return nil, err
	}
	extHex := "0x" + hex.EncodeToString(extBytes)
	hash := blake2b.Sum256(extBytes)
	extHash := "0x" + hex.EncodeToString(hash[:])

	subID, statuses, err := c.subscribe(ctx, methodSubmitWatch, extHex)
	if err != nil {
		return nil, err
	}
	defer c.unsubscribe(subID)

	blockHash, err := c.awaitInclusion(ctx, statuses)
	if err != nil {
		return nil, err
	}

	events, err := c.call(ctx, methodBlockEvents, blockHash)
	if err != nil {
		return nil, fmt.Errorf("fetch block events: %w", err)
	}
	number, err := c.headerNumber(ctx, blockHash)
	if err != nil {
		return nil, err
	}

	receipt := &domain.ExtrinsicReceipt{
		ExtrinsicHash: extHash,
		BlockHash:     blockHash,
		BlockNumber:   number,
		Success:       true,
		RawEvents:     events,
	}
	if msg, failed := extrinsicFailure(events); failed {
		receipt.Success = false
		receipt.DispatchError = msg
	}
	return receipt, nil
}

// awaitInclusion drains extrinsic status updates until inBlock or a terminal
// failure.
func (c *SubstrateClient) awaitInclusion(ctx context.Context, statuses chan json.RawMessage) (string, error) {
	for {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case msg, ok := <-statuses:
			if !ok {
				return "", errors.New("status subscription closed before inclusion")
			}
			var status map[string]json.RawMessage
			if err := json.Unmarshal(msg, &status); err != nil {
				// Plain string statuses like "ready" and "broadcast".
				continue
			}
			if raw, ok := status["inBlock"]; ok {
				var blockHash string
				if err := json.Unmarshal(raw, &blockHash); err != nil {
					return "", fmt.Errorf("bad inBlock status: %w", err)
				}
				return blockHash, nil
			}
			for _, terminal := range []string{"invalid", "dropped", "usurped"} {
				if _, ok := status[terminal]; ok {
					return "", fmt.Errorf("extrinsic %s", terminal)
				}
			}
		}
	}
}

func (c *SubstrateClient) headerNumber(ctx context.Context, blockHash string) (int64, error) {
	result, err := c.call(ctx, methodGetHeader, blockHash)
	if err != nil {
		return 0, err
	}
	var header blockHeader
	if err := json.Unmarshal(result, &header); err != nil {
		return 0, fmt.Errorf("bad header: %w", err)
	}
	return parseHexUint(header.Number)
}

// extrinsicFailure scans block events for an ExtrinsicFailed entry.
func extrinsicFailure(events json.RawMessage) (string, bool) {
	var entries []struct {
		Event struct {
			EventID    string            `json:"event_id"`
			Attributes []json.RawMessage `json:"attributes"`
		} `json:"event"`
	}
	if err := json.Unmarshal(events, &entries); err != nil {
		return "", false
	}
	for _, e := range entries {
		if e.Event.EventID != "ExtrinsicFailed" {
			continue
		}
		if len(e.Event.Attributes) > 0 {
			var msg string
			if json.Unmarshal(e.Event.Attributes[0], &msg) == nil {
				return msg, true
			}
			return string(e.Event.Attributes[0]), true
		}
		return "ExtrinsicFailed", true
	}
	return "", false
}

func parseHexUint(s string) (int64, error) {
	s = strings.TrimPrefix(s, "0x")
	return strconv.ParseInt(s, 16, 64)
}
