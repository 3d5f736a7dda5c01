/*
Package rpc layers request/response correlation, notifications and a
connection-status stream on top of a broker.Session. It mints
transaction ids, demultiplexes inbound responses against a pending-
request table, and enforces per-call timeouts with a background
reaper.
*/
package rpc

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"go.bryk.io/mqtt-rpc/broker"
	"go.bryk.io/mqtt-rpc/envelope"
	"go.bryk.io/mqtt-rpc/errors"
	"go.bryk.io/mqtt-rpc/topic"
)

// defaultReapInterval is how often the background reaper scans the
// pending table for expired deadlines.
const defaultReapInterval = 100 * time.Millisecond

// Client correlates outbound requests with inbound responses over a
// single broker.Session.
type Client struct {
	session *broker.Session
	topics  *topic.Builder
	qos     byte

	pending *pendingTable

	reapInterval time.Duration
	reaperStop   chan struct{}
	reaperDone   chan struct{}

	msgMu sync.RWMutex
	msgH  func(topic string, payload []byte)

	statusMu   sync.Mutex
	statusSubs []chan broker.State

	startOnce sync.Once
	stopOnce  sync.Once
}

// NewClient wraps an existing, already-configured broker.Session. The
// session is not connected by NewClient — callers drive Session.Connect
// themselves; Start wires up the response subscription and reaper.
func NewClient(session *broker.Session, topics *topic.Builder, qos byte) *Client {
	c := &Client{
		session:      session,
		topics:       topics,
		qos:          qos,
		pending:      newPendingTable(),
		reapInterval: defaultReapInterval,
	}
	session.SetMessageHandler(c.dispatch)
	session.SetConnectionCallback(c.onStateChange)
	return c
}

// Start subscribes to the response wildcard pattern and starts the
// reaper goroutine. crossMethod selects the `#` wildcard variant
// instead of single-segment `+`.
func (c *Client) Start(crossMethod bool) error {
	pattern := c.topics.WildcardSubscription(crossMethod)
	if err := c.session.Subscribe(pattern, c.qos); err != nil {
		return &Error{Kind: KindSubscribeError, Cause: err}
	}
	c.startOnce.Do(func() {
		c.reaperStop = make(chan struct{})
		c.reaperDone = make(chan struct{})
		go c.reapLoop()
	})
	return nil
}

// Stop halts the reaper goroutine. It does not touch the underlying
// session — callers close that separately.
func (c *Client) Stop() {
	c.stopOnce.Do(func() {
		if c.reaperStop != nil {
			close(c.reaperStop)
			<-c.reaperDone
		}
	})
}

// CallAsync encodes req, registers a pending entry, and publishes on
// the request topic, returning immediately. cb is invoked exactly
// once, from the reaper or from the response demultiplexer — never
// from CallAsync itself, except for the req.TimeoutMS == 0 boundary
// case which fails immediately.
func (c *Client) CallAsync(req envelope.Request, cb func(Outcome)) (string, error) {
	if req.Method == "" || req.Service == "" {
		return "", &Error{Kind: KindConfigError, Message: "method and service are required"}
	}
	if req.TransactionID == "" {
		req.TransactionID = envelope.NewTransactionID()
	}
	if req.Authority == "" {
		req.Authority = envelope.User
	}
	if req.TimeoutMS <= 0 {
		if cb != nil {
			cb(Outcome{Kind: OutcomeTimeout})
		}
		return req.TransactionID, nil
	}

	reqTopic, err := c.topics.Request(req.Method, req.Service, req.TransactionID)
	if err != nil {
		return "", &Error{Kind: KindConfigError, Cause: err}
	}

	payload, err := envelope.EncodeRequest(req)
	if err != nil {
		return "", &Error{Kind: KindEncodeError, Cause: err}
	}

	entry := &pendingRequest{
		txID:     req.TransactionID,
		complete: cb,
		deadline: time.Now().Add(time.Duration(req.TimeoutMS) * time.Millisecond),
	}
	c.pending.insert(entry)

	if err := c.session.Publish(reqTopic, c.qos, payload); err != nil {
		c.pending.remove(req.TransactionID)
		kind := KindPublishError
		if errors.Is(err, broker.ErrNotConnected) {
			kind = KindNotConnected
		}
		return "", &Error{Kind: kind, Cause: err}
	}
	c.session.IncRequestsSent()
	return req.TransactionID, nil
}

// CallSync blocks until req's outcome is available, ctx is cancelled,
// or the effective timeout (max of req.TimeoutMS and timeoutMS)
// elapses. It is CallAsync plus a channel-backed callback — there is
// exactly one completion code path shared by both entry points.
func (c *Client) CallSync(ctx context.Context, req envelope.Request, timeoutMS int64) (Outcome, error) {
	if timeoutMS > req.TimeoutMS {
		req.TimeoutMS = timeoutMS
	}

	done := make(chan Outcome, 1)
	_, err := c.CallAsync(req, func(o Outcome) {
		select {
		case done <- o:
		default:
		}
	})
	if err != nil {
		return Outcome{}, err
	}

	select {
	case o := <-done:
		switch o.Kind {
		case OutcomeTimeout:
			return o, &Error{Kind: KindTimeout}
		case OutcomeFailure:
			return o, &Error{Kind: KindRemoteError, Code: o.Code, Message: o.Message}
		default:
			return o, nil
		}
	case <-ctx.Done():
		return Outcome{}, ctx.Err()
	}
}

// SendNotification publishes a fire-and-forget notification; no
// pending entry is created.
func (c *Client) SendNotification(method, service string, authority envelope.Authority, params json.RawMessage) error {
	n := envelope.Notification{Method: method, Service: service, Authority: authority, Params: params}
	payload, err := envelope.EncodeNotification(n)
	if err != nil {
		return &Error{Kind: KindEncodeError, Cause: err}
	}
	t, err := c.topics.Notification(method, service)
	if err != nil {
		return &Error{Kind: KindConfigError, Cause: err}
	}
	if err := c.session.Publish(t, c.qos, payload); err != nil {
		kind := KindPublishError
		if errors.Is(err, broker.ErrNotConnected) {
			kind = KindNotConnected
		}
		return &Error{Kind: kind, Cause: err}
	}
	c.session.IncNotificationsSent()
	return nil
}

// PublishRaw passes a payload through to the underlying session
// without any envelope interpretation.
func (c *Client) PublishRaw(topicStr string, payload []byte) error {
	if err := c.session.Publish(topicStr, c.qos, payload); err != nil {
		kind := KindPublishError
		if errors.Is(err, broker.ErrNotConnected) {
			kind = KindNotConnected
		}
		return &Error{Kind: kind, Cause: err}
	}
	return nil
}

// Subscribe passes through to the session's subscription set.
func (c *Client) Subscribe(topicStr string) error {
	if err := c.session.Subscribe(topicStr, c.qos); err != nil {
		return &Error{Kind: KindSubscribeError, Cause: err}
	}
	return nil
}

// Unsubscribe passes through to the session.
func (c *Client) Unsubscribe(topicStr string) error {
	return c.session.Unsubscribe(topicStr)
}

// SetMessageHandler sets the handler invoked for inbound messages that
// are not recognizable responses (no live pending entry for the
// decoded transaction id).
func (c *Client) SetMessageHandler(f func(topic string, payload []byte)) {
	c.msgMu.Lock()
	c.msgH = f
	c.msgMu.Unlock()
}

// ConnectionStatus returns a channel delivering every state transition
// of the underlying session. The channel is buffered; slow consumers
// may miss intermediate states but never block the session.
func (c *Client) ConnectionStatus() <-chan broker.State {
	ch := make(chan broker.State, 8)
	c.statusMu.Lock()
	c.statusSubs = append(c.statusSubs, ch)
	c.statusMu.Unlock()
	return ch
}

func (c *Client) onStateChange(st broker.State) {
	c.statusMu.Lock()
	subs := make([]chan broker.State, len(c.statusSubs))
	copy(subs, c.statusSubs)
	c.statusMu.Unlock()
	for _, ch := range subs {
		select {
		case ch <- st:
		default:
		}
	}
}

// dispatch classifies every inbound message by topic shape. Messages
// matching the response suffix with a live pending entry complete that
// entry exactly once; everything else is forwarded to the user
// message handler.
func (c *Client) dispatch(topicStr string, payload []byte) {
	_, _, txID, kind, err := c.topics.Parse(topicStr)
	if err == nil && kind == topic.KindResponse {
		if complete := c.pending.removeAndComplete(txID); complete != nil {
			c.deliverResponse(complete, payload)
			return
		}
	}

	c.msgMu.RLock()
	h := c.msgH
	c.msgMu.RUnlock()
	if h != nil {
		h(topicStr, payload)
	}
}

func (c *Client) deliverResponse(complete func(Outcome), payload []byte) {
	resp, err := envelope.DecodeResponse(payload)
	if err != nil {
		complete(Outcome{Kind: OutcomeFailure, Message: err.Error()})
		return
	}
	c.session.IncResponsesReceived()
	if resp.Success {
		complete(Outcome{Kind: OutcomeSuccess, Result: resp.Result})
		return
	}
	complete(Outcome{Kind: OutcomeFailure, Code: resp.ErrorCode, Message: resp.ErrorMessage})
}

func (c *Client) reapLoop() {
	defer close(c.reaperDone)
	ticker := time.NewTicker(c.reapInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.reaperStop:
			return
		case <-ticker.C:
			for _, complete := range c.pending.reapExpired(time.Now()) {
				if complete != nil {
					complete(Outcome{Kind: OutcomeTimeout})
				}
			}
		}
	}
}
