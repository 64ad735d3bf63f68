// Package render turns a session snapshot into terminal text.
package render

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/raihanakbr/dialogue-session-client/internal/playback"
	"github.com/raihanakbr/dialogue-session-client/internal/session"
	"github.com/raihanakbr/dialogue-session-client/internal/websocket"
	"github.com/raihanakbr/dialogue-session-client/internal/workflow"
)

var (
	titleStyle      = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#5B8DEF"))
	labelStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("#A0AEC0"))
	okStyle         = lipgloss.NewStyle().Foreground(lipgloss.Color("#4CAF50")).Bold(true)
	warnStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("#F7B801")).Bold(true)
	errorStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF6B6B")).Bold(true)
	speakerStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#CCCCCC")).Bold(true)
	activeLineStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#4CAF50"))
	mutedStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("#999999"))
)

// View renders s. It has no side effects.
func View(s session.Snapshot) string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("Dialogue session"))
	b.WriteString("\n")
	line(&b, "connection", connection(s))
	line(&b, "stage", stage(s.Session.Stage))
	if s.Session.Topic != "" {
		line(&b, "topic", s.Session.Topic)
	}
	if s.Session.ID != "" {
		line(&b, "session", s.Session.ID)
	}
	if s.LastError != "" {
		line(&b, "error", errorStyle.Render(s.LastError))
	}
	line(&b, "playback", playbackStatus(s.Playback))

	if len(s.Files) > 0 {
		b.WriteString("\n")
		b.WriteString(titleStyle.Render("Files"))
		b.WriteString("\n")
		for _, f := range s.Files {
			marker := "  "
			if f.FileID == s.ActiveFile {
				marker = okStyle.Render("* ")
			}
			state := mutedStyle.Render("processing")
			if f.Processed {
				state = okStyle.Render("ready")
			}
			fmt.Fprintf(&b, "%s%s (%d bytes) %s\n", marker, f.DisplayName, f.SizeBytes, state)
		}
	}

	if len(s.Transcript) > 0 {
		b.WriteString("\n")
		b.WriteString(titleStyle.Render("Transcript"))
		b.WriteString("\n")
		for _, seg := range s.Transcript {
			text := seg.Text
			if seg.Index == s.Playback.Cursor && s.Playback.State == playback.Playing {
				text = activeLineStyle.Render(text)
			} else if seg.Index > s.Playback.Cursor {
				text = mutedStyle.Render(text)
			}
			fmt.Fprintf(&b, "%s %s\n", speakerStyle.Render(seg.Speaker+":"), text)
		}
	}

	for _, n := range s.Notices {
		b.WriteString(warnStyle.Render("! " + n.Message))
		b.WriteString("\n")
	}
	return b.String()
}

func line(b *strings.Builder, label, value string) {
	fmt.Fprintf(b, "%s %s\n", labelStyle.Render(fmt.Sprintf("%-10s", label)), value)
}

func connection(s session.Snapshot) string {
	switch s.Connection {
	case websocket.Connected:
		return okStyle.Render(string(s.Connection))
	case websocket.Connecting:
		return warnStyle.Render(string(s.Connection))
	}
	text := string(s.Connection)
	if s.Pending > 0 {
		text = fmt.Sprintf("%s, %d queued", text, s.Pending)
	}
	return errorStyle.Render(text)
}

func stage(st workflow.State) string {
	switch st {
	case workflow.Failed:
		return errorStyle.Render(string(st))
	case workflow.Complete:
		return okStyle.Render(string(st))
	case workflow.Idle:
		return mutedStyle.Render(string(st))
	}
	return warnStyle.Render(string(st))
}

func playbackStatus(p session.PlaybackStatus) string {
	if p.Segments == 0 {
		return mutedStyle.Render(string(p.State))
	}
	text := fmt.Sprintf("%s %d/%d", p.State, p.Cursor+1, p.Segments)
	if p.Progress.Total > 0 {
		text += fmt.Sprintf(" %s/%s", clock(p.Progress.Elapsed), clock(p.Progress.Total))
	}
	if p.State == playback.Waiting {
		text += " (buffering)"
	}
	return text
}

func clock(d time.Duration) string {
	d = d.Round(time.Second)
	return fmt.Sprintf("%d:%02d", int(d.Minutes()), int(d.Seconds())%60)
}
