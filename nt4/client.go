package nt4

import (
	"cmp"
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"log/slog"
	"maps"
	"math/rand/v2"
	"net"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/c360/ntscope/errors"
	"github.com/c360/ntscope/health"
	"github.com/c360/ntscope/metric"
)

// Callbacks receive protocol events. All of them run on the client's single
// processing goroutine, in arrival order, so they must not block for long.
// Nil callbacks are skipped.
type Callbacks struct {
	OnAnnounce   func(Topic)
	OnUnannounce func(Topic)
	OnValue      func(topic Topic, timestamp int64, value any)
	OnProperties func(Topic)
	OnConnect    func()
	OnDisconnect func()
}

// Option configures a Client
type Option func(*Client)

// WithLogger sets the client logger
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithMetrics registers client metrics with registry
func WithMetrics(registry *metric.MetricsRegistry) Option {
	return func(c *Client) { c.registry = registry }
}

// WithName sets the instance name used in logs, metrics and health
func WithName(name string) Option {
	return func(c *Client) {
		if name != "" {
			c.name = name
		}
	}
}

// WithClock replaces the wall clock used for client timestamps
func WithClock(now func() time.Time) Option {
	return func(c *Client) {
		if now != nil {
			c.now = now
		}
	}
}

type eventKind int

const (
	evConnected eventKind = iota
	evDisconnected
	evText
	evBinary
)

type event struct {
	kind eventKind
	conn *websocket.Conn
	data []byte
	err  error
}

// Client is an NT4 websocket client. It keeps one connection to the server,
// reconnecting after a fixed delay for as long as it runs, and re-sends its
// publications and subscriptions on every new connection.
type Client struct {
	cfg       Config
	callbacks Callbacks
	name      string
	logger    *slog.Logger
	registry  *metric.MetricsRegistry
	metrics   *clientMetrics
	now       func() time.Time
	dialer    *websocket.Dialer

	mu            sync.Mutex
	conn          *websocket.Conn
	announced     map[int64]Topic
	publishes     map[string]Topic
	subscriptions map[int64]Subscription
	uidBase       int64
	nextUID       int64
	lastErr       error

	// writeMu serializes frame writes on the connection
	writeMu sync.Mutex

	offset     atomic.Int64
	rtt        atomic.Int64
	synced     atomic.Bool
	connected  atomic.Bool
	reconnects atomic.Int64
	samples    atomic.Int64
	errCount   atomic.Int64

	events      chan event
	warnLimiter *rate.Limiter

	lifecycleMu sync.Mutex
	started     atomic.Bool
	cancel      context.CancelFunc
	wg          sync.WaitGroup
	startTime   time.Time
}

// NewClient validates cfg and creates a stopped client.
func NewClient(cfg Config, callbacks Callbacks, opts ...Option) (*Client, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "Client", "NewClient", "validate config")
	}

	c := &Client{
		cfg:           cfg,
		callbacks:     callbacks,
		name:          cfg.AppName,
		logger:        slog.Default(),
		now:           time.Now,
		announced:     make(map[int64]Topic),
		publishes:     make(map[string]Topic),
		subscriptions: make(map[int64]Subscription),
		uidBase:       rand.Int64N(1 << 20),
		events:        make(chan event, cfg.QueueSize),
		warnLimiter:   rate.NewLimiter(rate.Every(5*time.Second), 1),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("component", "nt4", "client", c.name)
	c.dialer = &websocket.Dialer{
		HandshakeTimeout: cfg.HandshakeTimeout,
		Subprotocols:     Subprotocols,
	}
	c.metrics = newMetrics(c.registry, c.serviceName(), c.name, c.logger)
	return c, nil
}

func (c *Client) serviceName() string {
	return "nt4." + c.name
}

// Name returns the instance name
func (c *Client) Name() string {
	return c.name
}

// Start begins connecting in the background. Connection failures are not
// returned; the client keeps retrying until Stop.
func (c *Client) Start(ctx context.Context) error {
	c.lifecycleMu.Lock()
	defer c.lifecycleMu.Unlock()

	if c.started.Load() {
		return errors.WrapInvalid(errors.ErrAlreadyStarted, "Client", "Start", "check started state")
	}

	clientCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	c.wg.Add(3)
	go c.processEvents(clientCtx)
	go c.connectLoop(clientCtx)
	go c.timeSyncLoop(clientCtx)

	c.startTime = c.now()
	c.started.Store(true)
	c.logger.Info("nt4 client started", "url", c.cfg.URL())
	return nil
}

// Stop closes the connection and waits up to timeout for the client's
// goroutines to exit.
func (c *Client) Stop(timeout time.Duration) error {
	c.lifecycleMu.Lock()
	defer c.lifecycleMu.Unlock()

	if !c.started.Load() {
		return nil
	}
	c.cancel()

	doneCh := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(doneCh)
	}()

	select {
	case <-doneCh:
	case <-time.After(timeout):
		return errors.WrapTransient(
			fmt.Errorf("shutdown timeout after %v", timeout),
			"Client", "Stop", "wait for goroutines")
	}

	for len(c.events) > 0 {
		<-c.events
	}
	c.mu.Lock()
	c.conn = nil
	c.announced = make(map[int64]Topic)
	c.mu.Unlock()
	c.connected.Store(false)
	c.synced.Store(false)
	c.metrics.setConnected(false)

	if c.registry != nil {
		c.registry.UnregisterService(c.serviceName())
	}
	c.started.Store(false)
	c.logger.Info("nt4 client stopped")
	return nil
}

// connectLoop dials the server, reads until the connection drops, then
// waits ReconnectDelay and dials again.
func (c *Client) connectLoop(ctx context.Context) {
	defer c.wg.Done()

	first := true
	for {
		if ctx.Err() != nil {
			return
		}
		if !first {
			c.reconnects.Add(1)
			c.metrics.reconnect()
		}
		first = false

		conn, _, err := c.dialer.DialContext(ctx, c.cfg.URL(), nil)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			err = connError(err)
			c.setLastErr(err)
			c.logger.Debug("nt4 dial failed", "url", c.cfg.URL(), "error", err)
			if !c.sleep(ctx, c.cfg.ReconnectDelay) {
				return
			}
			continue
		}

		c.logger.Info("nt4 connected", "url", c.cfg.URL(), "subprotocol", conn.Subprotocol())
		if !c.enqueue(ctx, event{kind: evConnected, conn: conn}) {
			_ = conn.Close()
			return
		}

		stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
		err = c.readLoop(ctx, conn)
		stop()
		_ = conn.Close()

		if ctx.Err() == nil {
			err = connError(err)
			c.setLastErr(err)
		}
		c.enqueue(ctx, event{kind: evDisconnected, conn: conn, err: err})
		if !c.sleep(ctx, c.cfg.ReconnectDelay) {
			return
		}
	}
}

// connError classifies a dial or read failure as a timeout or a lost
// connection. Both are transient.
func connError(err error) error {
	var ne net.Error
	if stderrors.Is(err, context.DeadlineExceeded) || (stderrors.As(err, &ne) && ne.Timeout()) {
		return fmt.Errorf("%w: %v", errors.ErrConnectionTimeout, err)
	}
	return fmt.Errorf("%w: %v", errors.ErrConnectionLost, err)
}

// readLoop forwards frames to the processor until the connection fails.
func (c *Client) readLoop(ctx context.Context, conn *websocket.Conn) error {
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		var ev event
		switch msgType {
		case websocket.TextMessage:
			ev = event{kind: evText, conn: conn, data: data}
			c.metrics.received("text")
		case websocket.BinaryMessage:
			ev = event{kind: evBinary, conn: conn, data: data}
			c.metrics.received("binary")
		default:
			continue
		}
		if !c.enqueue(ctx, ev) {
			return ctx.Err()
		}
	}
}

// enqueue blocks while the queue is full so a slow consumer applies
// backpressure to the socket instead of losing frames.
func (c *Client) enqueue(ctx context.Context, ev event) bool {
	select {
	case c.events <- ev:
		c.metrics.queue(len(c.events))
		return true
	case <-ctx.Done():
		return false
	}
}

func (c *Client) sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// processEvents is the only goroutine that touches topic state and runs
// callbacks.
func (c *Client) processEvents(ctx context.Context) {
	defer c.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-c.events:
			c.metrics.queue(len(c.events))
			switch ev.kind {
			case evConnected:
				c.handleConnected(ev.conn)
			case evDisconnected:
				c.handleDisconnected(ev.conn, ev.err)
			case evText:
				c.handleText(ev.data)
			case evBinary:
				c.handleBinary(ev.data)
			}
		}
	}
}

func (c *Client) handleConnected(conn *websocket.Conn) {
	// Publications and subscriptions registered after this snapshot see
	// c.conn and send themselves, so each is sent exactly once.
	c.mu.Lock()
	c.conn = conn
	pubs := slices.SortedFunc(maps.Values(c.publishes), func(a, b Topic) int {
		return cmp.Compare(a.PubUID, b.PubUID)
	})
	subs := make([]Subscription, 0, len(c.subscriptions))
	for _, uid := range slices.Sorted(maps.Keys(c.subscriptions)) {
		subs = append(subs, c.subscriptions[uid])
	}
	c.mu.Unlock()

	c.connected.Store(true)
	c.metrics.setConnected(true)

	for _, p := range pubs {
		c.sendPublish(conn, p)
	}
	for _, s := range subs {
		c.sendText(conn, methodSubscribe, s)
	}
	c.sendTimeSync(conn)

	if c.callbacks.OnConnect != nil {
		c.callbacks.OnConnect()
	}
}

func (c *Client) handleDisconnected(conn *websocket.Conn, err error) {
	c.mu.Lock()
	if c.conn != conn {
		c.mu.Unlock()
		return
	}
	c.conn = nil
	c.announced = make(map[int64]Topic)
	c.mu.Unlock()

	c.connected.Store(false)
	c.synced.Store(false)
	c.metrics.setConnected(false)
	c.logger.Info("nt4 disconnected", "error", err)

	if c.callbacks.OnDisconnect != nil {
		c.callbacks.OnDisconnect()
	}
}

func (c *Client) handleText(data []byte) {
	msgs, err := decodeText(data)
	if err != nil {
		c.drop("malformed_text", err)
		return
	}

	for _, msg := range msgs {
		switch msg.Method {
		case methodAnnounce:
			p, err := decodeAnnounce(msg.Params)
			if err != nil {
				c.drop("malformed_text", err)
				continue
			}
			topic := Topic{Name: p.Name, Type: p.Type, ID: p.ID, Properties: p.Properties}
			if p.PubUID != nil {
				topic.PubUID = *p.PubUID
			}
			c.mu.Lock()
			c.announced[p.ID] = topic
			c.mu.Unlock()
			if c.callbacks.OnAnnounce != nil {
				c.callbacks.OnAnnounce(topic.clone())
			}

		case methodUnannounce:
			p, err := decodeUnannounce(msg.Params)
			if err != nil {
				c.drop("malformed_text", err)
				continue
			}
			c.mu.Lock()
			topic, ok := c.announced[p.ID]
			delete(c.announced, p.ID)
			c.mu.Unlock()
			if !ok {
				topic = Topic{Name: p.Name, ID: p.ID}
			}
			if c.callbacks.OnUnannounce != nil {
				c.callbacks.OnUnannounce(topic)
			}

		case methodProperties:
			var p propertiesParams
			if err := json.Unmarshal(msg.Params, &p); err != nil {
				c.drop("malformed_text", err)
				continue
			}
			topic, ok := c.applyProperties(p.Name, p.Update)
			if ok && c.callbacks.OnProperties != nil {
				c.callbacks.OnProperties(topic)
			}

		default:
			c.logger.Debug("nt4 ignoring text message", "method", msg.Method)
		}
	}
}

// applyProperties merges update into the announced topic called name. A
// null value removes the property.
func (c *Client) applyProperties(name string, update Properties) (Topic, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for id, topic := range c.announced {
		if topic.Name != name {
			continue
		}
		topic = topic.clone()
		if topic.Properties == nil {
			topic.Properties = make(Properties, len(update))
		}
		for k, v := range update {
			if v == nil {
				delete(topic.Properties, k)
			} else {
				topic.Properties[k] = v
			}
		}
		c.announced[id] = topic
		return topic.clone(), true
	}
	return Topic{}, false
}

func (c *Client) handleBinary(data []byte) {
	samples, errs := decodeSamples(data)
	for _, err := range errs {
		c.drop("malformed_binary", err)
	}
	for _, s := range samples {
		if s.ID == timeSyncID {
			c.handleTimeSync(s)
			continue
		}

		c.mu.Lock()
		topic, ok := c.announced[s.ID]
		c.mu.Unlock()
		if !ok {
			c.metrics.dropped("unknown_topic")
			continue
		}

		c.samples.Add(1)
		if c.callbacks.OnValue != nil {
			c.callbacks.OnValue(topic, s.Timestamp, s.Value)
		}
	}
}

func (c *Client) handleTimeSync(s sample) {
	sent, ok := s.Value.(int64)
	if !ok {
		c.metrics.dropped("malformed_binary")
		return
	}
	c.applyTimeSync(sent, c.ClientTime(), s.Timestamp)
}

// applyTimeSync updates the clock estimate from one echoed sync frame: the
// server stamped serverTime halfway through the round trip from sent to
// received.
func (c *Client) applyTimeSync(sent, received, serverTime int64) {
	rtt := received - sent
	offset := serverTime + rtt/2 - received

	c.offset.Store(offset)
	c.rtt.Store(rtt)
	c.synced.Store(true)
	c.metrics.clock(offset, rtt)
}

func (c *Client) drop(reason string, err error) {
	c.errCount.Add(1)
	c.metrics.dropped(reason)
	if c.warnLimiter.Allow() {
		c.logger.Warn("nt4 dropped malformed message", "reason", reason, "error", err)
	}
}

// timeSyncLoop re-measures the clock offset while connected.
func (c *Client) timeSyncLoop(ctx context.Context) {
	defer c.wg.Done()

	ticker := time.NewTicker(c.cfg.TimeSyncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if conn := c.currentConn(); conn != nil {
				c.sendTimeSync(conn)
			}
		}
	}
}

func (c *Client) currentConn() *websocket.Conn {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn
}

func (c *Client) sendTimeSync(conn *websocket.Conn) {
	data, err := encodeSample(sample{
		ID:        timeSyncID,
		Timestamp: 0,
		TypeIndex: TypeInt,
		Value:     c.ClientTime(),
	})
	if err != nil {
		c.logger.Error("nt4 encode time sync failed", "error", err)
		return
	}
	if err := c.write(conn, websocket.BinaryMessage, data); err != nil {
		c.logger.Debug("nt4 time sync send failed", "error", err)
	}
}

func (c *Client) sendPublish(conn *websocket.Conn, t Topic) {
	c.sendText(conn, methodPublish, publishParams{
		Name:       t.Name,
		PubUID:     t.PubUID,
		Type:       t.Type,
		Properties: nonNil(t.Properties),
	})
}

func (c *Client) sendText(conn *websocket.Conn, method string, params any) {
	data, err := encodeText(method, params)
	if err != nil {
		c.logger.Error("nt4 encode failed", "method", method, "error", err)
		return
	}
	if err := c.write(conn, websocket.TextMessage, data); err != nil {
		// the next connection re-sends registered state
		c.logger.Debug("nt4 send failed", "method", method, "error", err)
	}
}

func (c *Client) write(conn *websocket.Conn, msgType int, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout)); err != nil {
		return errors.WrapTransient(err, "Client", "write", "set write deadline")
	}
	if err := conn.WriteMessage(msgType, data); err != nil {
		return errors.WrapTransient(err, "Client", "write", "write frame")
	}
	return nil
}

func (c *Client) allocUID() int64 {
	c.nextUID++
	return c.uidBase + c.nextUID
}

// Publish registers this client as a publisher of name. Publishing an
// already published name returns the existing topic unchanged.
func (c *Client) Publish(name, typ string, props Properties) Topic {
	c.mu.Lock()
	if t, ok := c.publishes[name]; ok {
		c.mu.Unlock()
		return t.clone()
	}
	t := Topic{Name: name, Type: typ, PubUID: c.allocUID(), Properties: cloneProperties(props)}
	c.publishes[name] = t
	conn := c.conn
	c.mu.Unlock()

	if conn != nil {
		c.sendPublish(conn, t)
	}
	return t.clone()
}

// Unpublish withdraws a publication. Unknown names are ignored.
func (c *Client) Unpublish(name string) {
	c.mu.Lock()
	t, ok := c.publishes[name]
	delete(c.publishes, name)
	conn := c.conn
	c.mu.Unlock()

	if ok && conn != nil {
		c.sendText(conn, methodUnpublish, unpublishParams{PubUID: t.PubUID})
	}
}

// SetProperties updates properties of a topic. Published topics keep the
// update so it survives reconnection.
func (c *Client) SetProperties(name string, update Properties) {
	c.mu.Lock()
	if t, ok := c.publishes[name]; ok {
		t = t.clone()
		if t.Properties == nil {
			t.Properties = make(Properties, len(update))
		}
		for k, v := range update {
			if v == nil {
				delete(t.Properties, k)
			} else {
				t.Properties[k] = v
			}
		}
		c.publishes[name] = t
	}
	conn := c.conn
	c.mu.Unlock()

	if conn != nil {
		c.sendText(conn, methodSetProperties, propertiesParams{Name: name, Update: nonNil(update)})
	}
}

// Subscribe requests announcements and values for topics and returns the
// subscription uid.
func (c *Client) Subscribe(topics []string, opts SubscriptionOptions) int64 {
	c.mu.Lock()
	sub := Subscription{
		UID:     c.allocUID(),
		Topics:  slices.Clone(topics),
		Options: opts,
	}
	c.subscriptions[sub.UID] = sub
	conn := c.conn
	c.mu.Unlock()

	if conn != nil {
		c.sendText(conn, methodSubscribe, sub)
	}
	return sub.UID
}

// Unsubscribe cancels a subscription. Unknown uids are ignored.
func (c *Client) Unsubscribe(uid int64) {
	c.mu.Lock()
	_, ok := c.subscriptions[uid]
	delete(c.subscriptions, uid)
	conn := c.conn
	c.mu.Unlock()

	if ok && conn != nil {
		c.sendText(conn, methodUnsubscribe, unsubscribeParams{SubUID: uid})
	}
}

// AddSample sends one value of a published topic. A zero timestamp is
// replaced by the current server time.
func (c *Client) AddSample(name string, timestamp int64, value any) error {
	c.mu.Lock()
	t, ok := c.publishes[name]
	conn := c.conn
	c.mu.Unlock()

	if !ok {
		return errors.WrapInvalid(fmt.Errorf("%w: %s", errors.ErrUnknownTopic, name),
			"Client", "AddSample", "look up publication")
	}
	if conn == nil {
		return errors.WrapTransient(errors.ErrNoConnection, "Client", "AddSample", "check connection")
	}
	if timestamp == 0 {
		timestamp = c.ServerTime()
	}

	data, err := encodeSample(sample{ID: t.PubUID, Timestamp: timestamp, TypeIndex: TypeIndex(t.Type), Value: value})
	if err != nil {
		return errors.WrapInvalid(err, "Client", "AddSample", "encode sample")
	}
	return c.write(conn, websocket.BinaryMessage, data)
}

// ClientTime is the local clock in microseconds since the Unix epoch.
func (c *Client) ClientTime() int64 {
	return c.now().UnixMicro()
}

// ServerTime is the estimated server clock in microseconds.
func (c *Client) ServerTime() int64 {
	return c.ClientTime() + c.offset.Load()
}

// Offset returns the current server minus client clock estimate.
func (c *Client) Offset() int64 {
	return c.offset.Load()
}

// Connected reports whether a server connection is open
func (c *Client) Connected() bool {
	return c.connected.Load()
}

// Synced reports whether a time sync has completed on this connection
func (c *Client) Synced() bool {
	return c.synced.Load()
}

// Topics returns the currently announced topics sorted by name.
func (c *Client) Topics() []Topic {
	c.mu.Lock()
	out := make([]Topic, 0, len(c.announced))
	for _, t := range c.announced {
		out = append(out, t.clone())
	}
	c.mu.Unlock()

	slices.SortFunc(out, func(a, b Topic) int {
		return cmp.Or(cmp.Compare(a.Name, b.Name), cmp.Compare(a.ID, b.ID))
	})
	return out
}

func (c *Client) setLastErr(err error) {
	if err == nil {
		return
	}
	c.mu.Lock()
	c.lastErr = err
	c.mu.Unlock()
}

// Health reports healthy while connected and synced, degraded while
// connected but unsynced, and unhealthy otherwise.
func (c *Client) Health() health.Status {
	var status health.Status
	switch {
	case c.Connected() && c.Synced():
		status = health.NewHealthy(c.serviceName(), "connected to "+c.cfg.URL())
	case c.Connected():
		status = health.NewDegraded(c.serviceName(), "connected, waiting for time sync")
	default:
		c.mu.Lock()
		err := c.lastErr
		c.mu.Unlock()
		if err == nil {
			err = errors.ErrNoConnection
		}
		status = health.FromError(c.serviceName(), err)
		if status.IsHealthy() {
			status = health.NewUnhealthy(c.serviceName(), "not connected")
		}
	}

	var uptime time.Duration
	if c.started.Load() {
		uptime = c.now().Sub(c.startTime)
	}
	return status.WithMetrics(&health.Metrics{
		Uptime:          uptime,
		ErrorCount:      int(c.errCount.Load()),
		Reconnects:      c.reconnects.Load(),
		SamplesReceived: c.samples.Load(),
	})
}

func nonNil(p Properties) Properties {
	if p == nil {
		return Properties{}
	}
	return p
}
