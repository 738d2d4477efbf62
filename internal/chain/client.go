// internal/chain/client.go
package chain

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/sirupsen/logrus"
)

// RPC method names exposed by the node.
const (
	methodPlayerGame         = "ticTacToe_playerGame"
	methodQueueMembership    = "ticTacToe_queueMembership"
	methodAccountInfo        = "system_account"
	methodSubmitWatch        = "author_submitAndWatchAction"
	methodSubmitUnwatch      = "author_unwatchAction"
	methodSubscribeHeads     = "chain_subscribeNewHeads"
	methodUnsubscribeHeads   = "chain_unsubscribeNewHeads"
	methodSubscribeFinalized = "chain_subscribeFinalizedHeads"
	methodUnsubscribeFinal   = "chain_unsubscribeFinalizedHeads"
	methodSubscribeEvents    = "ticTacToe_subscribeEvents"
	methodUnsubscribeEvents  = "ticTacToe_unsubscribeEvents"
	methodSystemChain        = "system_chain"
	methodSystemVersion      = "system_version"
)

const callTimeout = 30 * time.Second

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      uint64 `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// rpcMessage covers both call responses (ID set) and subscription
// notifications (Method set, Params carrying the payload).
type rpcMessage struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      *uint64         `json:"id,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  *struct {
		Subscription string          `json:"subscription"`
		Result       json.RawMessage `json:"result"`
	} `json:"params,omitempty"`
}

type pendingCall struct {
	result json.RawMessage
	err    error
	done   chan struct{}
}

// notification is one subscription payload queued for dispatch.
type notification struct {
	subID string
	raw   json.RawMessage
}

// Client is a JSON-RPC 2.0 websocket client implementing Gateway. One reader
// goroutine correlates responses by id; subscription notifications are queued
// and delivered from a separate dispatch goroutine, so a handler may issue
// gateway calls without starving the reader of the response frames those
// calls wait on.
type Client struct {
	conn *websocket.Conn
	log  *logrus.Logger

	mu     sync.Mutex
	nextID uint64
	calls  map[uint64]*pendingCall
	subs   map[string]func(json.RawMessage)
	closed bool
	done   chan struct{}

	queueMu   sync.Mutex
	queueCond *sync.Cond
	queue     []notification
	quit      bool
}

// Dial connects to a node's websocket RPC endpoint.
func Dial(ctx context.Context, url string, log *logrus.Logger) (*Client, error) {
	if log == nil {
		log = logrus.New()
	}
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %v", ErrTransport, url, err)
	}
	conn.SetReadLimit(1 << 20)

	c := &Client{
		conn:  conn,
		log:   log,
		calls: make(map[uint64]*pendingCall),
		subs:  make(map[string]func(json.RawMessage)),
		done:  make(chan struct{}),
	}
	c.queueCond = sync.NewCond(&c.queueMu)
	go c.readLoop()
	go c.dispatchLoop()
	log.WithField("url", url).Info("connected to chain")
	return c, nil
}

// Close tears down the connection and fails all in-flight calls.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	for _, call := range c.calls {
		call.err = fmt.Errorf("%w: connection closed", ErrTransport)
		close(call.done)
	}
	c.calls = make(map[uint64]*pendingCall)
	c.subs = make(map[string]func(json.RawMessage))
	c.mu.Unlock()

	c.queueMu.Lock()
	c.quit = true
	c.queueMu.Unlock()
	c.queueCond.Signal()

	close(c.done)
	return c.conn.Close(websocket.StatusNormalClosure, "client closed")
}

// ChainInfo returns the node's chain name and version.
func (c *Client) ChainInfo(ctx context.Context) (name, version string, err error) {
	if err := c.call(ctx, methodSystemChain, nil, &name); err != nil {
		return "", "", err
	}
	if err := c.call(ctx, methodSystemVersion, nil, &version); err != nil {
		return "", "", err
	}
	return name, version, nil
}

// ActiveGame implements Gateway.
func (c *Client) ActiveGame(ctx context.Context, identity string) (uint32, *GameRecord, error) {
	var raw json.RawMessage
	if err := c.call(ctx, methodPlayerGame, []any{identity}, &raw); err != nil {
		return 0, nil, err
	}
	if len(raw) == 0 || string(raw) == "null" {
		return 0, nil, nil
	}
	var wire wireActiveGame
	if err := json.Unmarshal(raw, &wire); err != nil {
		return 0, nil, fmt.Errorf("%w: decode active game: %v", ErrTransport, err)
	}
	rec, err := decodeGameRecord(wire.Game)
	if err != nil {
		return 0, nil, fmt.Errorf("%w: decode active game: %v", ErrTransport, err)
	}
	return wire.ID, rec, nil
}

// AccountInfo implements Gateway.
func (c *Client) AccountInfo(ctx context.Context, identity string) (AccountInfo, error) {
	var wire wireAccountInfo
	if err := c.call(ctx, methodAccountInfo, []any{identity}, &wire); err != nil {
		return AccountInfo{}, err
	}
	return AccountInfo{
		Free:     wire.Free,
		Reserved: wire.Reserved,
		Frozen:   wire.Frozen,
		Nonce:    wire.Nonce,
	}, nil
}

// Submit implements Gateway. Status notifications are decoded and forwarded
// until the caller cancels or the node stops the stream.
func (c *Client) Submit(ctx context.Context, action ActionDescriptor, cred Credential, onStatus StatusFunc) (CancelFunc, error) {
	params := []any{action.Call, action.Args, hex.EncodeToString(cred)}
	return c.subscribe(ctx, methodSubmitWatch, methodSubmitUnwatch, params, func(raw json.RawMessage) {
		up, err := decodeSubmissionUpdate(raw)
		if err != nil {
			c.log.WithError(err).Warn("bad submission status notification")
			return
		}
		onStatus(up)
	})
}

// SubscribeNewHeads implements Gateway.
func (c *Client) SubscribeNewHeads(ctx context.Context, fn HeaderFunc) (CancelFunc, error) {
	return c.subscribeHeaders(ctx, methodSubscribeHeads, methodUnsubscribeHeads, fn)
}

// SubscribeFinalizedHeads implements Gateway.
func (c *Client) SubscribeFinalizedHeads(ctx context.Context, fn HeaderFunc) (CancelFunc, error) {
	return c.subscribeHeaders(ctx, methodSubscribeFinalized, methodUnsubscribeFinal, fn)
}

func (c *Client) subscribeHeaders(ctx context.Context, subMethod, unsubMethod string, fn HeaderFunc) (CancelFunc, error) {
	return c.subscribe(ctx, subMethod, unsubMethod, nil, func(raw json.RawMessage) {
		var wire wireHeader
		if err := json.Unmarshal(raw, &wire); err != nil {
			c.log.WithError(err).Warn("bad header notification")
			return
		}
		fn(Header{Number: wire.Number, Hash: wire.Hash})
	})
}

// SubscribeEvents implements Gateway.
func (c *Client) SubscribeEvents(ctx context.Context, fn EventFunc) (CancelFunc, error) {
	return c.subscribe(ctx, methodSubscribeEvents, methodUnsubscribeEvents, nil, func(raw json.RawMessage) {
		ev, err := decodeEvent(raw)
		if err != nil {
			c.log.WithError(err).Warn("bad event notification")
			return
		}
		fn(ev)
	})
}

// QueueMembership implements Gateway.
func (c *Client) QueueMembership(ctx context.Context, identity string) (bool, error) {
	var queued bool
	if err := c.call(ctx, methodQueueMembership, []any{identity}, &queued); err != nil {
		return false, err
	}
	return queued, nil
}

// call performs one request/response round trip, decoding the result into
// out when non-nil.
func (c *Client) call(ctx context.Context, method string, params []any, out any) error {
	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	if params == nil {
		params = []any{}
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return fmt.Errorf("%w: connection closed", ErrTransport)
	}
	c.nextID++
	id := c.nextID
	pending := &pendingCall{done: make(chan struct{})}
	c.calls[id] = pending
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.calls, id)
		c.mu.Unlock()
	}()

	payload, err := json.Marshal(rpcRequest{JSONRPC: "2.0", ID: id, Method: method, Params: params})
	if err != nil {
		return fmt.Errorf("%w: marshal %s: %v", ErrTransport, method, err)
	}
	if err := c.conn.Write(ctx, websocket.MessageText, payload); err != nil {
		return fmt.Errorf("%w: write %s: %v", ErrTransport, method, err)
	}

	select {
	case <-ctx.Done():
		return fmt.Errorf("%w: %s: %v", ErrTransport, method, ctx.Err())
	case <-pending.done:
	}
	if pending.err != nil {
		return pending.err
	}
	if out != nil {
		if err := json.Unmarshal(pending.result, out); err != nil {
			return fmt.Errorf("%w: decode %s result: %v", ErrTransport, method, err)
		}
	}
	return nil
}

// subscribe issues a subscription call and routes its notifications to
// handler until the returned cancel func runs. Cancel is exactly-once: later
// calls are no-ops.
func (c *Client) subscribe(ctx context.Context, subMethod, unsubMethod string, params []any, handler func(json.RawMessage)) (CancelFunc, error) {
	var subID string
	if err := c.call(ctx, subMethod, params, &subID); err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.subs[subID] = handler
	c.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			c.mu.Lock()
			_, known := c.subs[subID]
			delete(c.subs, subID)
			closed := c.closed
			c.mu.Unlock()
			if !known || closed {
				return
			}
			unsubCtx, unsubCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer unsubCancel()
			if err := c.call(unsubCtx, unsubMethod, []any{subID}, nil); err != nil {
				c.log.WithError(err).WithField("sub", subID).Warn("unsubscribe failed")
			}
		})
	}
	return cancel, nil
}

// readLoop dispatches incoming frames until the connection dies.
func (c *Client) readLoop() {
	ctx := context.Background()
	for {
		_, data, err := c.conn.Read(ctx)
		if err != nil {
			select {
			case <-c.done:
			default:
				c.log.WithError(err).Warn("chain connection lost")
				_ = c.Close()
			}
			return
		}

		var msg rpcMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			c.log.WithError(err).Warn("bad rpc frame")
			continue
		}

		switch {
		case msg.ID != nil:
			c.mu.Lock()
			pending, ok := c.calls[*msg.ID]
			if ok {
				delete(c.calls, *msg.ID)
			}
			c.mu.Unlock()
			if !ok {
				continue
			}
			if msg.Error != nil {
				pending.err = fmt.Errorf("%w: %v", ErrTransport, msg.Error)
			} else {
				pending.result = msg.Result
			}
			close(pending.done)

		case msg.Params != nil:
			c.queueMu.Lock()
			c.queue = append(c.queue, notification{
				subID: msg.Params.Subscription,
				raw:   msg.Params.Result,
			})
			c.queueMu.Unlock()
			c.queueCond.Signal()
		}
	}
}

// dispatchLoop drains queued notifications in arrival order. Handlers run
// here, off the reader goroutine. The subscription lookup happens at delivery
// time, so a cancelled subscription gets nothing further.
func (c *Client) dispatchLoop() {
	for {
		c.queueMu.Lock()
		for len(c.queue) == 0 && !c.quit {
			c.queueCond.Wait()
		}
		if len(c.queue) == 0 {
			c.queueMu.Unlock()
			return
		}
		n := c.queue[0]
		c.queue = c.queue[1:]
		c.queueMu.Unlock()

		c.mu.Lock()
		handler := c.subs[n.subID]
		c.mu.Unlock()
		if handler != nil {
			handler(n.raw)
		}
	}
}
