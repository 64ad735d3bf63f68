// Package playback sequences streamed dialogue segments through a media
// player, one at a time and in arrival order.
package playback

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"github.com/raihanakbr/dialogue-session-client/internal/errx"
	"github.com/raihanakbr/dialogue-session-client/internal/logx"
	"github.com/raihanakbr/dialogue-session-client/internal/protocol"
)

// Segment is immutable once enqueued. Index is its arrival position.
type Segment struct {
	Index    int    `json:"index"`
	ID       string `json:"id,omitempty"`
	Speaker  string `json:"speaker"`
	Text     string `json:"text"`
	MediaRef string `json:"mediaRef"`
}

// Token ties player events to one play request; stale tokens are ignored.
type Token struct {
	Epoch uint64
	Index int
}

type State string

const (
	Idle     State = "idle"
	Playing  State = "playing"
	Paused   State = "paused"
	Waiting  State = "waiting"
	Finished State = "finished"
)

type Progress struct {
	Index   int           `json:"index"`
	Elapsed time.Duration `json:"elapsed"`
	Total   time.Duration `json:"total"`
}

type Queue struct {
	player   Player
	autoPlay bool
	log      zerolog.Logger

	segments        []Segment
	seen            map[string]bool
	cursor          int
	releasedThrough int
	state           State
	pausedAtEdge    bool
	complete        bool
	epoch           uint64
	progress        Progress
	onChange        func()

	played *prometheus.CounterVec
}

// NewQueue creates an idle queue. With autoPlay the first arriving segment
// starts playback; otherwise it is only buffered until PlayAll.
func NewQueue(player Player, autoPlay bool, reg prometheus.Registerer) *Queue {
	return &Queue{
		player:          player,
		autoPlay:        autoPlay,
		log:             logx.Component("playback"),
		seen:            map[string]bool{},
		cursor:          -1,
		releasedThrough: -1,
		state:           Idle,
		played: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "session_playback_segments_total",
			Help: "Segments finished, by outcome",
		}, []string{"outcome"}),
	}
}

// OnChange registers the single observer of queue changes.
func (q *Queue) OnChange(fn func()) {
	q.onChange = fn
}

func (q *Queue) State() State       { return q.state }
func (q *Queue) Cursor() int        { return q.cursor }
func (q *Queue) Epoch() uint64      { return q.epoch }
func (q *Queue) Len() int           { return len(q.segments) }
func (q *Queue) Complete() bool     { return q.complete }
func (q *Queue) Progress() Progress { return q.progress }

// History returns every segment in arrival order, played or not.
func (q *Queue) History() []Segment {
	return append([]Segment(nil), q.segments...)
}

// Enqueue appends a segment. It returns false for a retransmission: a
// segment whose id, or media reference when it has no id, was already
// enqueued since the last reset.
func (q *Queue) Enqueue(p protocol.DialogueSegment) bool {
	if key := dedupKey(p); key != "" {
		if q.seen[key] {
			return false
		}
		q.seen[key] = true
	}
	seg := Segment{
		Index:    len(q.segments),
		ID:       p.ID,
		Speaker:  p.Speaker,
		Text:     p.Text,
		MediaRef: p.MediaRef,
	}
	q.segments = append(q.segments, seg)

	switch q.state {
	case Idle:
		if q.autoPlay {
			q.advance()
		} else if seg.Index == 0 {
			q.player.Preload(seg)
		}
	case Waiting:
		q.advance()
	case Playing, Paused:
		if seg.Index == q.cursor+1 {
			q.player.Preload(seg)
		}
	case Finished:
		q.log.Warn().Int("index", seg.Index).Msg("Segment arrived after completion")
	}
	q.changed()
	return true
}

// PlayAll starts from the first segment, or resumes a paused queue. With
// nothing buffered yet it waits for the first arrival.
func (q *Queue) PlayAll() {
	switch q.state {
	case Idle:
		q.advance()
		q.changed()
	case Paused:
		q.Resume()
	}
}

func (q *Queue) Pause() {
	switch q.state {
	case Playing:
		q.player.Pause()
		q.pausedAtEdge = false
	case Waiting:
		q.pausedAtEdge = true
	default:
		return
	}
	q.state = Paused
	q.changed()
}

func (q *Queue) Resume() {
	if q.state != Paused {
		return
	}
	if q.pausedAtEdge {
		q.pausedAtEdge = false
		q.advance()
	} else {
		q.player.Resume()
		q.state = Playing
	}
	q.changed()
}

// MarkComplete records that no more segments will arrive.
func (q *Queue) MarkComplete() {
	q.complete = true
	if q.state == Waiting {
		q.state = Finished
		q.log.Info().Int("segments", len(q.segments)).Msg("Playback finished")
	}
	q.changed()
}

// Reset stops playback, releases all media and empties the queue. Events
// from before the reset are ignored afterwards.
func (q *Queue) Reset() {
	q.player.Stop()
	for i := q.releasedThrough + 1; i < len(q.segments); i++ {
		q.player.Release(q.segments[i])
	}
	q.segments = nil
	q.seen = map[string]bool{}
	q.cursor = -1
	q.releasedThrough = -1
	q.state = Idle
	q.pausedAtEdge = false
	q.complete = false
	q.progress = Progress{}
	q.epoch++
	q.changed()
}

// Ended handles natural completion of the active segment.
func (q *Queue) Ended(tok Token) {
	if !q.current(tok) {
		return
	}
	q.played.WithLabelValues("ended").Inc()
	q.release()
	q.advance()
	q.changed()
}

// Failed skips past a segment that could not be played.
func (q *Queue) Failed(tok Token, err error) {
	if !q.current(tok) {
		return
	}
	q.played.WithLabelValues("failed").Inc()
	q.log.Warn().Err(errx.Playback(q.segments[tok.Index].MediaRef, err)).Int("index", tok.Index).Msg("Skipping segment")
	q.release()
	q.advance()
	q.changed()
}

// Tick records playback progress of the active segment.
func (q *Queue) Tick(tok Token, elapsed, total time.Duration) {
	if !q.current(tok) {
		return
	}
	q.progress = Progress{Index: tok.Index, Elapsed: elapsed, Total: total}
}

func (q *Queue) current(tok Token) bool {
	return tok.Epoch == q.epoch && tok.Index == q.cursor && (q.state == Playing || q.state == Paused && !q.pausedAtEdge)
}

// advance moves to the next segment, skipping any that fail to start.
func (q *Queue) advance() {
	for {
		next := q.cursor + 1
		if next >= len(q.segments) {
			if q.complete {
				q.state = Finished
				q.log.Info().Int("segments", len(q.segments)).Msg("Playback finished")
			} else {
				q.state = Waiting
			}
			return
		}

		q.cursor = next
		seg := q.segments[next]
		q.progress = Progress{Index: next}
		if err := q.player.Play(Token{Epoch: q.epoch, Index: next}, seg); err != nil {
			q.played.WithLabelValues("failed").Inc()
			q.log.Warn().Err(errx.Playback(seg.MediaRef, err)).Int("index", next).Msg("Skipping segment")
			q.release()
			continue
		}
		q.state = Playing
		if next+1 < len(q.segments) {
			q.player.Preload(q.segments[next+1])
		}
		return
	}
}

func (q *Queue) release() {
	if q.cursor > q.releasedThrough {
		q.player.Release(q.segments[q.cursor])
		q.releasedThrough = q.cursor
	}
}

func dedupKey(p protocol.DialogueSegment) string {
	switch {
	case p.ID != "":
		return "id:" + p.ID
	case p.MediaRef != "":
		return "media:" + p.MediaRef
	}
	return ""
}

func (q *Queue) changed() {
	if q.onChange != nil {
		q.onChange()
	}
}
