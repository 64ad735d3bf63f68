package websocket

import (
	"fmt"
	"net/url"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"github.com/raihanakbr/dialogue-session-client/internal/errx"
	"github.com/raihanakbr/dialogue-session-client/internal/logx"
)

// Transport owns the single persistent connection to the session server.
// Sends never fail: frames are written immediately when connected and
// queued otherwise; the queue drains in FIFO order on every (re)connect.
type Transport struct {
	ID string

	opts     Options
	dialer   WebsocketDialer
	schedule Scheduler
	metrics  *Metrics
	log      zerolog.Logger

	mu          sync.Mutex
	status      Status
	conn        Conn
	gen         uint64
	pending     [][]byte
	attempts    int
	cancelRetry func()
	closed      bool
	exhausted   bool

	onMessage   func([]byte)
	onStatus    func(Status)
	onExhausted func(error)
}

// Option customizes Transport construction for tests and alternate runtimes.
type Option func(*Transport)

func WithScheduler(s Scheduler) Option {
	return func(t *Transport) {
		if s != nil {
			t.schedule = s
		}
	}
}

func WithMetrics(m *Metrics) Option {
	return func(t *Transport) {
		if m != nil {
			t.metrics = m
		}
	}
}

func WithID(id string) Option {
	return func(t *Transport) {
		if id != "" {
			t.ID = id
		}
	}
}

// NewTransport creates a disconnected transport. Call Connect to open it.
func NewTransport(opts Options, dialer WebsocketDialer, options ...Option) *Transport {
	if dialer == nil {
		dialer = GorillaDialer{}
	}
	t := &Transport{
		ID:       ulid.Make().String(),
		opts:     opts.withDefaults(),
		dialer:   dialer,
		schedule: afterFunc,
		status:   Disconnected,
		log:      logx.Component("transport"),
	}
	for _, o := range options {
		o(t)
	}
	if t.metrics == nil {
		t.metrics = NewMetrics(nil)
	}
	return t
}

// OnMessage registers the single inbound frame handler, detaching any
// previous one. The handler runs on the reader goroutine.
func (t *Transport) OnMessage(h func([]byte)) {
	t.mu.Lock()
	t.onMessage = h
	t.mu.Unlock()
}

// OnStatus registers the single status observer.
func (t *Transport) OnStatus(h func(Status)) {
	t.mu.Lock()
	t.onStatus = h
	t.mu.Unlock()
}

// OnExhausted registers the observer for the terminal ConnectionExhausted
// condition.
func (t *Transport) OnExhausted(h func(error)) {
	t.mu.Lock()
	t.onExhausted = h
	t.mu.Unlock()
}

func (t *Transport) Status() Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status
}

// Pending returns the number of frames waiting for a connection.
func (t *Transport) Pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}

// Connect starts connecting in the background. It is a no-op while
// connecting or connected. After exhaustion an explicit Connect starts a
// fresh retry budget.
func (t *Transport) Connect() {
	t.mu.Lock()
	if t.status != Disconnected {
		t.mu.Unlock()
		return
	}
	t.closed = false
	if t.exhausted {
		t.exhausted = false
		t.attempts = 0
	}
	t.stopRetryLocked()
	t.status = Connecting
	t.mu.Unlock()

	t.notifyStatus(Connecting)
	go t.dial()
}

// Send transmits frame or queues it until the next connection.
func (t *Transport) Send(frame []byte) {
	t.mu.Lock()
	if t.status != Connected || t.conn == nil {
		t.pending = append(t.pending, frame)
		depth := len(t.pending)
		t.mu.Unlock()

		t.metrics.framesQueued.Inc()
		t.metrics.pendingDepth.Set(float64(depth))
		t.log.Debug().Int("pending", depth).Msg("Queued frame while offline")
		return
	}

	err := t.conn.WriteMessage(websocket.TextMessage, frame)
	if err == nil {
		t.mu.Unlock()
		t.metrics.framesSent.Inc()
		return
	}

	t.pending = append([][]byte{frame}, t.pending...)
	depth := len(t.pending)
	torn := t.teardownLocked(t.gen)
	t.mu.Unlock()

	t.metrics.framesRequeued.Inc()
	t.metrics.pendingDepth.Set(float64(depth))
	t.log.Warn().Err(err).Msg("Write failed; frame requeued at head")
	if torn {
		t.notifyStatus(Disconnected)
		t.scheduleReconnect(errx.Transport("send", err))
	}
}

// Close drops the connection and stops reconnecting. Queued frames are kept.
func (t *Transport) Close() {
	t.mu.Lock()
	t.closed = true
	t.stopRetryLocked()
	changed := t.status != Disconnected
	if t.conn != nil {
		t.conn.Close()
		t.conn = nil
	}
	t.gen++
	t.status = Disconnected
	t.mu.Unlock()

	if changed {
		t.notifyStatus(Disconnected)
	}
	t.log.Info().Str("id", t.ID).Msg("Transport closed")
}

func (t *Transport) url() string {
	u, err := url.Parse(t.opts.URL)
	if err != nil {
		return t.opts.URL
	}
	q := u.Query()
	q.Set(ClientIDParam, t.ID)
	u.RawQuery = q.Encode()
	return u.String()
}

func (t *Transport) dial() {
	target := t.url()
	t.log.Debug().Str("url", target).Msg("Dialing session server")
	conn, _, err := t.dialer.Dial(target, t.opts.Header)

	t.mu.Lock()
	if t.closed || t.status != Connecting {
		t.mu.Unlock()
		if conn != nil {
			conn.Close()
		}
		return
	}
	if err != nil {
		t.status = Disconnected
		t.mu.Unlock()

		t.log.Warn().Err(err).Msg("Connect failed")
		t.notifyStatus(Disconnected)
		t.scheduleReconnect(errx.Transport("dial", err))
		return
	}

	t.conn = conn
	t.gen++
	gen := t.gen
	t.attempts = 0

	drained, flushErr := t.flushLocked()
	depth := len(t.pending)
	if flushErr != nil {
		t.teardownLocked(gen)
		t.mu.Unlock()

		t.metrics.framesSent.Add(float64(drained))
		t.metrics.pendingDepth.Set(float64(depth))
		t.log.Warn().Err(flushErr).Int("drained", drained).Msg("Drain failed; reconnecting")
		t.notifyStatus(Disconnected)
		t.scheduleReconnect(errx.Transport("drain", flushErr))
		return
	}
	t.status = Connected
	t.mu.Unlock()

	t.metrics.framesSent.Add(float64(drained))
	t.metrics.pendingDepth.Set(0)
	t.log.Info().Str("id", t.ID).Int("drained", drained).Msg("Connected to session server")
	t.notifyStatus(Connected)

	go t.readLoop(conn, gen)
}

// flushLocked writes queued frames in order. A failed frame stays at the head.
func (t *Transport) flushLocked() (int, error) {
	n := 0
	for len(t.pending) > 0 {
		if err := t.conn.WriteMessage(websocket.TextMessage, t.pending[0]); err != nil {
			return n, err
		}
		t.pending[0] = nil
		t.pending = t.pending[1:]
		n++
	}
	t.pending = nil
	return n, nil
}

func (t *Transport) readLoop(conn Conn, gen uint64) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			t.mu.Lock()
			torn := t.teardownLocked(gen)
			closed := t.closed
			t.mu.Unlock()

			if torn {
				t.log.Warn().Err(err).Msg("Connection lost")
				t.notifyStatus(Disconnected)
				if !closed {
					t.scheduleReconnect(errx.Transport("read", err))
				}
			}
			return
		}

		t.metrics.framesReceived.Inc()
		t.mu.Lock()
		h := t.onMessage
		t.mu.Unlock()
		if h != nil {
			h(data)
		}
	}
}

// teardownLocked drops the connection of generation gen. It reports false
// when that connection is already gone.
func (t *Transport) teardownLocked(gen uint64) bool {
	if t.conn == nil || t.gen != gen {
		return false
	}
	t.conn.Close()
	t.conn = nil
	t.status = Disconnected
	return true
}

func (t *Transport) scheduleReconnect(cause error) {
	t.mu.Lock()
	if t.closed || t.status != Disconnected || t.cancelRetry != nil || t.exhausted {
		t.mu.Unlock()
		return
	}
	if t.attempts >= t.opts.MaxAttempts {
		t.exhausted = true
		h := t.onExhausted
		attempts := t.attempts
		t.mu.Unlock()

		err := errx.New(errx.KindConnectionExhausted, "reconnect",
			fmt.Sprintf("gave up after %d attempts", attempts), cause)
		t.metrics.exhausted.Inc()
		t.log.Error().Err(err).Msg("Reconnect attempts exhausted; reload required")
		if h != nil {
			h(err)
		}
		return
	}
	t.attempts++
	attempt := t.attempts
	delay := t.opts.Delay(attempt)
	t.cancelRetry = t.schedule(delay, t.retry)
	t.mu.Unlock()

	t.metrics.reconnectAttempts.Inc()
	t.log.Info().Int("attempt", attempt).Int("max", t.opts.MaxAttempts).Dur("delay", delay).Msg("Reconnect scheduled")
}

func (t *Transport) retry() {
	t.mu.Lock()
	t.cancelRetry = nil
	if t.closed || t.status != Disconnected {
		t.mu.Unlock()
		return
	}
	t.status = Connecting
	t.mu.Unlock()

	t.notifyStatus(Connecting)
	t.dial()
}

func (t *Transport) stopRetryLocked() {
	if t.cancelRetry != nil {
		t.cancelRetry()
		t.cancelRetry = nil
	}
}

func (t *Transport) notifyStatus(s Status) {
	t.mu.Lock()
	h := t.onStatus
	t.mu.Unlock()
	if h != nil {
		h(s)
	}
}
