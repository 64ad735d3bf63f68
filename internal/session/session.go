// Package session owns every orchestration component and serializes the
// events that drive them (socket frames, media callbacks, timers and user
// commands) on a single goroutine. Components never see concurrent calls.
package session

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/raihanakbr/dialogue-session-client/internal/config"
	"github.com/raihanakbr/dialogue-session-client/internal/errx"
	"github.com/raihanakbr/dialogue-session-client/internal/files"
	"github.com/raihanakbr/dialogue-session-client/internal/logx"
	"github.com/raihanakbr/dialogue-session-client/internal/playback"
	"github.com/raihanakbr/dialogue-session-client/internal/protocol"
	"github.com/raihanakbr/dialogue-session-client/internal/router"
	"github.com/raihanakbr/dialogue-session-client/internal/websocket"
	"github.com/raihanakbr/dialogue-session-client/internal/workflow"
)

// ErrClosed is returned by commands issued after Run has returned.
var ErrClosed = errors.New("session client is closed")

const (
	eventBuffer = 256
	maxNotices  = 20
)

// Options replaces collaborators, mainly for tests. Zero values select the
// production implementations.
type Options struct {
	Dialer      websocket.WebsocketDialer
	Scheduler   websocket.Scheduler
	NewPlayer   func(events playback.Events) (playback.Player, error)
	HTTPClient  *http.Client
	MediaOutput io.Writer
	Registry    *prometheus.Registry
}

// Notice is a user-facing failure message.
type Notice struct {
	Kind    errx.Kind `json:"kind"`
	Message string    `json:"message"`
	At      time.Time `json:"at"`
}

type Client struct {
	transport *websocket.Transport
	router    *router.Router
	workflow  *workflow.Machine
	queue     *playback.Queue
	player    playback.Player
	files     *files.Registry
	uploader  *files.Uploader
	registry  *prometheus.Registry
	log       zerolog.Logger

	events chan func()
	quit   chan struct{}

	notices  []Notice
	dirty    bool
	onUpdate func(Snapshot)
}

func New(cfg *config.Config, opts Options) (*Client, error) {
	reg := opts.Registry
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	c := &Client{
		registry: reg,
		log:      logx.Component("session"),
		events:   make(chan func(), eventBuffer),
		quit:     make(chan struct{}),
	}

	c.transport = websocket.NewTransport(websocket.Options{
		URL:          cfg.SessionURL,
		BaseDelay:    cfg.Reconnect.BaseDelay,
		GrowthFactor: cfg.Reconnect.GrowthFactor,
		MaxAttempts:  cfg.Reconnect.MaxAttempts,
	}, opts.Dialer,
		websocket.WithScheduler(opts.Scheduler),
		websocket.WithMetrics(websocket.NewMetrics(reg)),
	)

	var err error
	if opts.NewPlayer != nil {
		c.player, err = opts.NewPlayer(playerEvents{c})
	} else {
		c.player, err = playback.NewHTTPPlayer(playback.HTTPPlayerConfig{
			BaseURL:  cfg.MediaBaseURL,
			Client:   opts.HTTPClient,
			Bitrate:  cfg.Playback.Bitrate,
			CacheTTL: cfg.Playback.CacheTTL,
			Output:   opts.MediaOutput,
		}, playerEvents{c})
	}
	if err != nil {
		return nil, err
	}

	c.files = files.NewRegistry()
	c.uploader = files.NewUploader(files.UploaderConfig{
		URL:               cfg.UploadURL,
		MaxBytes:          cfg.Upload.MaxBytes,
		AllowedExtensions: cfg.Upload.AllowedExtensions,
		Timeout:           cfg.Upload.Timeout,
		Client:            opts.HTTPClient,
	})
	c.workflow = workflow.NewMachine(c.transport, c.files)
	c.queue = playback.NewQueue(c.player, cfg.Playback.AutoPlay, reg)
	c.router = router.New(c.workflow, c.queue, c.files, c.reportError, reg)

	c.workflow.OnChange(func(workflow.State) { c.dirty = true })
	c.queue.OnChange(func() { c.dirty = true })
	c.files.OnChange(func() { c.dirty = true })

	c.transport.OnMessage(func(raw []byte) {
		c.post(func() { c.router.Dispatch(raw) })
	})
	c.transport.OnStatus(func(websocket.Status) {
		c.post(func() { c.dirty = true })
	})
	c.transport.OnExhausted(func(err error) {
		c.post(func() {
			c.notify(errx.KindConnectionExhausted, "Connection lost. Reload to reconnect.")
			c.workflow.Fail(err)
		})
	})
	return c, nil
}

// OnUpdate registers the single observer of state changes. It runs on the
// event loop after each event that changed something and must not call
// back into the client synchronously.
func (c *Client) OnUpdate(fn func(Snapshot)) {
	c.post(func() {
		c.onUpdate = fn
		c.dirty = true
	})
}

// ID is the connection id sent to the server.
func (c *Client) ID() string {
	return c.transport.ID
}

// Registry exposes the metrics registry.
func (c *Client) Registry() *prometheus.Registry {
	return c.registry
}

// Run connects and processes events until ctx is cancelled.
func (c *Client) Run(ctx context.Context) error {
	c.log.Info().Str("id", c.transport.ID).Msg("Session loop started")
	c.transport.Connect()

	for {
		select {
		case <-ctx.Done():
			close(c.quit)
			c.transport.Close()
			c.player.Stop()
			c.log.Info().Msg("Session loop stopped")
			return ctx.Err()
		case fn := <-c.events:
			fn()
			c.publish()
		}
	}
}

// Reconnect starts a fresh connection attempt, typically after exhaustion.
func (c *Client) Reconnect() {
	c.transport.Connect()
}

// post hands fn to the event loop. Events posted after shutdown are dropped.
func (c *Client) post(fn func()) {
	select {
	case c.events <- fn:
	case <-c.quit:
	}
}

// call runs fn on the event loop and waits for its result.
func (c *Client) call(fn func() error) error {
	errc := make(chan error, 1)
	select {
	case c.events <- func() { errc <- fn() }:
	case <-c.quit:
		return ErrClosed
	}
	select {
	case err := <-errc:
		return err
	case <-c.quit:
		return ErrClosed
	}
}

func (c *Client) publish() {
	if !c.dirty {
		return
	}
	c.dirty = false
	if c.onUpdate != nil {
		c.onUpdate(c.snapshot())
	}
}

// reportError handles error envelopes from the router. Errors tagged for
// an abandoned session or an earlier request are dropped.
func (c *Client) reportError(env protocol.Envelope) {
	if !c.workflow.Accepts(env.SessionID, env.RequestID) {
		c.log.Warn().Str("session", env.SessionID).Str("request", env.RequestID).
			Str("error", env.Error).Msg("Error for an earlier session dropped")
		return
	}
	err := errx.New(errx.KindWorkflow, string(env.Kind), env.Error, nil)
	c.notify(errx.KindWorkflow, env.Error)
	c.workflow.Fail(err)
}

func (c *Client) notify(kind errx.Kind, message string) {
	c.notices = append(c.notices, Notice{Kind: kind, Message: message, At: time.Now()})
	if len(c.notices) > maxNotices {
		c.notices = c.notices[len(c.notices)-maxNotices:]
	}
	c.dirty = true
}

// playerEvents moves media callbacks onto the event loop.
type playerEvents struct {
	c *Client
}

func (e playerEvents) Ended(tok playback.Token) {
	e.c.post(func() { e.c.queue.Ended(tok) })
}

func (e playerEvents) Failed(tok playback.Token, err error) {
	e.c.post(func() { e.c.queue.Failed(tok, err) })
}

func (e playerEvents) Tick(tok playback.Token, elapsed, total time.Duration) {
	e.c.post(func() {
		e.c.queue.Tick(tok, elapsed, total)
		e.c.dirty = true
	})
}
