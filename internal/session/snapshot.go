package session

import (
	"github.com/raihanakbr/dialogue-session-client/internal/files"
	"github.com/raihanakbr/dialogue-session-client/internal/playback"
	"github.com/raihanakbr/dialogue-session-client/internal/websocket"
	"github.com/raihanakbr/dialogue-session-client/internal/workflow"
)

// Snapshot is a read-only copy of the client state for presentation.
type Snapshot struct {
	ConnectionID string             `json:"connectionId"`
	Connection   websocket.Status   `json:"connection"`
	Pending      int                `json:"pending"`
	Session      workflow.Session   `json:"session"`
	Epoch        uint64             `json:"epoch"`
	LastError    string             `json:"lastError,omitempty"`
	Playback     PlaybackStatus     `json:"playback"`
	Transcript   []playback.Segment `json:"transcript"`
	Files        []files.Record     `json:"files"`
	ActiveFile   string             `json:"activeFile,omitempty"`
	Notices      []Notice           `json:"notices,omitempty"`
}

type PlaybackStatus struct {
	State    playback.State    `json:"state"`
	Cursor   int               `json:"cursor"`
	Segments int               `json:"segments"`
	Complete bool              `json:"complete"`
	Progress playback.Progress `json:"progress"`
}

// Snapshot reads the current state through the event loop.
func (c *Client) Snapshot() (Snapshot, error) {
	var s Snapshot
	err := c.call(func() error {
		s = c.snapshot()
		return nil
	})
	return s, err
}

func (c *Client) snapshot() Snapshot {
	s := Snapshot{
		ConnectionID: c.transport.ID,
		Connection:   c.transport.Status(),
		Pending:      c.transport.Pending(),
		Session:      c.workflow.Session(),
		Epoch:        c.workflow.Epoch(),
		Playback: PlaybackStatus{
			State:    c.queue.State(),
			Cursor:   c.queue.Cursor(),
			Segments: c.queue.Len(),
			Complete: c.queue.Complete(),
			Progress: c.queue.Progress(),
		},
		Transcript: c.queue.History(),
		Files:      c.files.List(),
		Notices:    append([]Notice(nil), c.notices...),
	}
	if err := c.workflow.LastError(); err != nil {
		s.LastError = err.Error()
	}
	if rec, ok := c.files.Active(); ok {
		s.ActiveFile = rec.FileID
	}
	return s
}

// Settled reports whether the workflow has finished and nothing is left to
// play.
func (s Snapshot) Settled() bool {
	switch s.Session.Stage {
	case workflow.Failed:
		return true
	case workflow.Complete:
		return s.Playback.State == playback.Finished || s.Playback.Segments == 0
	}
	return false
}
