package websocket

import (
	"math"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

// Status is the connection state. Only the Transport changes it.
type Status string

const (
	Disconnected Status = "disconnected"
	Connecting   Status = "connecting"
	Connected    Status = "connected"
)

// Conn is the subset of *websocket.Conn the transport uses.
type Conn interface {
	ReadMessage() (int, []byte, error)
	WriteMessage(int, []byte) error
	Close() error
}

type WebsocketDialer interface {
	Dial(string, http.Header) (Conn, *http.Response, error)
}

// GorillaDialer adapts a gorilla dialer to WebsocketDialer.
type GorillaDialer struct {
	Dialer *websocket.Dialer
}

func (d GorillaDialer) Dial(urlStr string, header http.Header) (Conn, *http.Response, error) {
	dialer := d.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	conn, resp, err := dialer.Dial(urlStr, header)
	if err != nil {
		return nil, resp, err
	}
	return conn, resp, nil
}

// Scheduler runs f once after d and returns a cancel func. It must not call
// f synchronously.
type Scheduler func(d time.Duration, f func()) (cancel func())

func afterFunc(d time.Duration, f func()) func() {
	t := time.AfterFunc(d, f)
	return func() { t.Stop() }
}

// Options configures a Transport.
type Options struct {
	URL          string
	Header       http.Header
	BaseDelay    time.Duration
	GrowthFactor float64
	MaxAttempts  int
}

func (o Options) withDefaults() Options {
	if o.BaseDelay <= 0 {
		o.BaseDelay = DefaultBaseDelay
	}
	if o.GrowthFactor < 1 {
		o.GrowthFactor = DefaultGrowthFactor
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = DefaultMaxAttempts
	}
	return o
}

// Delay returns the wait before retry attempt n (1-based):
// BaseDelay * GrowthFactor^(n-1).
func (o Options) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	return time.Duration(float64(o.BaseDelay) * math.Pow(o.GrowthFactor, float64(attempt-1)))
}
