package playback

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raihanakbr/dialogue-session-client/internal/protocol"
)

type fakePlayer struct {
	plays     []Token
	preloads  []int
	releases  []int
	failStart map[int]bool
	paused    bool
	stops     int
}

func (p *fakePlayer) Play(tok Token, seg Segment) error {
	p.plays = append(p.plays, tok)
	if p.failStart[seg.Index] {
		return errors.New("unsupported codec")
	}
	return nil
}

func (p *fakePlayer) Preload(seg Segment) { p.preloads = append(p.preloads, seg.Index) }
func (p *fakePlayer) Pause()              { p.paused = true }
func (p *fakePlayer) Resume()             { p.paused = false }
func (p *fakePlayer) Stop()               { p.stops++ }
func (p *fakePlayer) Release(seg Segment) { p.releases = append(p.releases, seg.Index) }

func (p *fakePlayer) last() Token { return p.plays[len(p.plays)-1] }

func (p *fakePlayer) playedIndexes() []int {
	out := make([]int, 0, len(p.plays))
	for _, tok := range p.plays {
		out = append(out, tok.Index)
	}
	return out
}

func seg(id string) protocol.DialogueSegment {
	return protocol.DialogueSegment{ID: id, Speaker: "Host", Text: "line " + id, MediaRef: id + ".mp3"}
}

func TestNaturalEndAdvancesByOne(t *testing.T) {
	p := &fakePlayer{}
	q := NewQueue(p, true, nil)

	for i := 0; i < 3; i++ {
		require.True(t, q.Enqueue(seg(fmt.Sprint(i))))
	}
	assert.Equal(t, 0, q.Cursor())
	assert.Equal(t, Playing, q.State())

	for want := 1; want < 3; want++ {
		q.Ended(p.last())
		assert.Equal(t, want, q.Cursor())
	}
	q.Ended(p.last())
	assert.Equal(t, 2, q.Cursor())
	assert.Equal(t, Waiting, q.State())

	q.MarkComplete()
	assert.Equal(t, Finished, q.State())
	assert.Equal(t, []int{0, 1, 2}, p.playedIndexes())
	assert.Equal(t, []int{0, 1, 2}, p.releases)
	assert.Len(t, q.History(), 3, "transcripts outlive media")
}

func TestBufferingWaitResumesOnArrival(t *testing.T) {
	p := &fakePlayer{}
	q := NewQueue(p, true, nil)

	q.Enqueue(seg("a"))
	q.Ended(p.last())
	assert.Equal(t, Waiting, q.State())

	q.Enqueue(seg("b"))
	assert.Equal(t, Playing, q.State())
	assert.Equal(t, 1, q.Cursor())
	assert.Equal(t, []int{0, 1}, p.playedIndexes())
}

func TestFailureSkipsForward(t *testing.T) {
	p := &fakePlayer{failStart: map[int]bool{1: true}}
	q := NewQueue(p, true, nil)
	for _, id := range []string{"a", "b", "c", "d"} {
		q.Enqueue(seg(id))
	}

	q.Failed(p.last(), errors.New("decode error"))
	assert.Equal(t, 2, q.Cursor(), "async failure on 0, sync failure on 1")
	assert.Equal(t, Playing, q.State())

	q.Ended(p.last())
	assert.Equal(t, 3, q.Cursor())
	assert.Equal(t, []int{0, 1, 2, 3}, p.playedIndexes())
}

func TestStaleEventsAreIgnored(t *testing.T) {
	p := &fakePlayer{}
	q := NewQueue(p, true, nil)
	q.Enqueue(seg("a"))
	q.Enqueue(seg("b"))
	first := p.last()

	q.Ended(first)
	q.Ended(first)
	assert.Equal(t, 1, q.Cursor(), "duplicate ended for segment 0")

	q.Reset()
	q.Enqueue(seg("c"))
	q.Ended(Token{Epoch: first.Epoch, Index: 0})
	assert.Equal(t, 0, q.Cursor(), "ended from before reset")
	assert.Equal(t, Playing, q.State())
}

func TestRetransmittedSegmentsAreDropped(t *testing.T) {
	p := &fakePlayer{}
	q := NewQueue(p, true, nil)

	assert.True(t, q.Enqueue(seg("1")))
	assert.False(t, q.Enqueue(seg("1")))
	assert.True(t, q.Enqueue(protocol.DialogueSegment{Speaker: "Guest", MediaRef: "x.mp3"}))
	assert.False(t, q.Enqueue(protocol.DialogueSegment{Speaker: "Guest", MediaRef: "x.mp3"}), "id-less segments dedupe by media reference")
	assert.True(t, q.Enqueue(protocol.DialogueSegment{Speaker: "Guest", Text: "no media"}))
	assert.True(t, q.Enqueue(protocol.DialogueSegment{Speaker: "Guest", Text: "no media"}), "nothing to key on")
	assert.Equal(t, 4, q.Len())
}

func TestPauseResume(t *testing.T) {
	p := &fakePlayer{}
	q := NewQueue(p, true, nil)
	q.Enqueue(seg("a"))

	q.Pause()
	assert.Equal(t, Paused, q.State())
	assert.True(t, p.paused)
	q.Resume()
	assert.Equal(t, Playing, q.State())
	assert.False(t, p.paused)

	q.Ended(p.last())
	require.Equal(t, Waiting, q.State())
	q.Pause()
	q.Enqueue(seg("b"))
	assert.Equal(t, Paused, q.State(), "paused at the boundary stays paused")
	assert.Equal(t, 0, q.Cursor())

	q.Resume()
	assert.Equal(t, Playing, q.State())
	assert.Equal(t, 1, q.Cursor())
}

func TestManualPlayAll(t *testing.T) {
	p := &fakePlayer{}
	q := NewQueue(p, false, nil)

	q.Enqueue(seg("a"))
	q.Enqueue(seg("b"))
	assert.Equal(t, Idle, q.State())
	assert.Equal(t, -1, q.Cursor())
	assert.Equal(t, []int{0}, p.preloads)
	assert.Empty(t, p.plays)

	q.PlayAll()
	assert.Equal(t, Playing, q.State())
	assert.Equal(t, 0, q.Cursor())
	assert.Equal(t, []int{0, 1}, p.preloads)
}

func TestPlayAllBeforeFirstSegmentWaits(t *testing.T) {
	p := &fakePlayer{}
	q := NewQueue(p, false, nil)
	q.PlayAll()
	assert.Equal(t, Waiting, q.State())

	q.Enqueue(seg("a"))
	assert.Equal(t, Playing, q.State())
	assert.Equal(t, 0, q.Cursor())
}

func TestTickTracksActiveSegmentOnly(t *testing.T) {
	p := &fakePlayer{}
	q := NewQueue(p, true, nil)
	q.Enqueue(seg("a"))
	tok := p.last()

	q.Tick(tok, time.Second, 3*time.Second)
	assert.Equal(t, Progress{Index: 0, Elapsed: time.Second, Total: 3 * time.Second}, q.Progress())

	q.Tick(Token{Epoch: tok.Epoch, Index: 5}, 2*time.Second, 3*time.Second)
	assert.Equal(t, time.Second, q.Progress().Elapsed)
}

func TestResetIsIdempotent(t *testing.T) {
	p := &fakePlayer{}
	q := NewQueue(p, true, nil)
	q.Enqueue(seg("a"))
	q.Enqueue(seg("b"))
	q.Enqueue(seg("c"))
	q.Ended(p.last())

	q.Reset()
	assert.Equal(t, []int{0, 1, 2}, p.releases, "unplayed media released too")
	q.Reset()

	assert.Equal(t, Idle, q.State())
	assert.Equal(t, -1, q.Cursor())
	assert.Equal(t, 0, q.Len())
	assert.False(t, q.Complete())
	assert.Equal(t, Progress{}, q.Progress())
	assert.Equal(t, []int{0, 1, 2}, p.releases)
	assert.True(t, q.Enqueue(seg("a")), "ids are forgotten after reset")
}
