package playback

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/rs/zerolog"

	"github.com/raihanakbr/dialogue-session-client/internal/logx"
)

// Player plays one segment at a time. Completion, failure and progress are
// reported asynchronously through Events, tagged with the Token given to
// Play. A synchronous error from Play means the segment never started.
type Player interface {
	Play(tok Token, seg Segment) error
	Preload(seg Segment)
	Pause()
	Resume()
	Stop()
	Release(seg Segment)
}

// Events receives player callbacks. Implementations must hand them to the
// session's event loop rather than mutate the queue directly.
type Events interface {
	Ended(tok Token)
	Failed(tok Token, err error)
	Tick(tok Token, elapsed, total time.Duration)
}

// HTTPPlayer fetches segment media from the static audio endpoint and plays
// it against a clock derived from the media size and bitrate. Fetched media
// is kept in a TTL cache so a preloaded segment starts without a round trip.
type HTTPPlayer struct {
	base     *url.URL
	client   *http.Client
	media    *cache.Cache
	bitrate  int
	interval time.Duration
	output   io.Writer
	events   Events
	log      zerolog.Logger

	mu     sync.Mutex
	active *activePlay
}

type activePlay struct {
	tok    Token
	cancel context.CancelFunc
	paused bool
}

type HTTPPlayerConfig struct {
	BaseURL string
	Client  *http.Client
	// Bitrate in bits per second, used to derive segment duration.
	Bitrate  int
	CacheTTL time.Duration
	// Interval between progress ticks.
	Interval time.Duration
	// Output receives the raw media of each segment as it starts; nil discards.
	Output io.Writer
}

func NewHTTPPlayer(cfg HTTPPlayerConfig, events Events) (*HTTPPlayer, error) {
	base, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid media base URL: %w", err)
	}
	if cfg.Client == nil {
		cfg.Client = &http.Client{Timeout: 30 * time.Second}
	}
	if cfg.Bitrate <= 0 {
		cfg.Bitrate = 128000
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = time.Hour
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 250 * time.Millisecond
	}
	return &HTTPPlayer{
		base:     base,
		client:   cfg.Client,
		media:    cache.New(cfg.CacheTTL, 10*time.Minute),
		bitrate:  cfg.Bitrate,
		interval: cfg.Interval,
		output:   cfg.Output,
		events:   events,
		log:      logx.Component("player"),
	}, nil
}

// Resolve turns a media reference into an absolute URL.
func (p *HTTPPlayer) Resolve(ref string) (string, error) {
	u, err := url.Parse(ref)
	if err != nil {
		return "", err
	}
	return p.base.ResolveReference(u).String(), nil
}

// Duration is the playback length of n bytes at the configured bitrate.
func (p *HTTPPlayer) Duration(n int) time.Duration {
	return time.Duration(int64(n) * 8 * int64(time.Second) / int64(p.bitrate))
}

func (p *HTTPPlayer) Play(tok Token, seg Segment) error {
	target, err := p.Resolve(seg.MediaRef)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	play := &activePlay{tok: tok, cancel: cancel}

	p.mu.Lock()
	if p.active != nil {
		p.active.cancel()
	}
	p.active = play
	p.mu.Unlock()

	go p.run(ctx, play, target)
	return nil
}

func (p *HTTPPlayer) run(ctx context.Context, play *activePlay, target string) {
	data, err := p.fetch(ctx, target)
	if err != nil {
		if ctx.Err() == nil {
			p.events.Failed(play.tok, err)
		}
		return
	}
	if p.output != nil {
		if _, err := p.output.Write(data); err != nil {
			p.log.Warn().Err(err).Msg("Media output write failed")
		}
	}

	total := p.Duration(len(data))
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	var elapsed time.Duration
	for elapsed < total {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.mu.Lock()
			paused := play.paused
			p.mu.Unlock()
			if paused {
				continue
			}
			elapsed += p.interval
			if elapsed > total {
				elapsed = total
			}
			p.events.Tick(play.tok, elapsed, total)
		}
	}
	if ctx.Err() == nil {
		p.events.Ended(play.tok)
	}
}

func (p *HTTPPlayer) fetch(ctx context.Context, target string) ([]byte, error) {
	if cached, ok := p.media.Get(target); ok {
		return cached.([]byte), nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch media: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to fetch media: %s", resp.Status)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read media: %w", err)
	}
	p.media.Set(target, data, cache.DefaultExpiration)
	return data, nil
}

// Preload fetches media in the background so the next segment starts
// immediately.
func (p *HTTPPlayer) Preload(seg Segment) {
	target, err := p.Resolve(seg.MediaRef)
	if err != nil {
		return
	}
	if _, ok := p.media.Get(target); ok {
		return
	}
	go func() {
		if _, err := p.fetch(context.Background(), target); err != nil {
			p.log.Debug().Err(err).Str("url", target).Msg("Preload failed")
		}
	}()
}

func (p *HTTPPlayer) Pause() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.active != nil {
		p.active.paused = true
	}
}

func (p *HTTPPlayer) Resume() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.active != nil {
		p.active.paused = false
	}
}

func (p *HTTPPlayer) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.active != nil {
		p.active.cancel()
		p.active = nil
	}
}

// Release drops the cached media of a finished segment.
func (p *HTTPPlayer) Release(seg Segment) {
	if target, err := p.Resolve(seg.MediaRef); err == nil {
		p.media.Delete(target)
	}
}
