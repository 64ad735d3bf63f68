package session

import (
	"context"

	"github.com/raihanakbr/dialogue-session-client/internal/files"
	"github.com/raihanakbr/dialogue-session-client/internal/protocol"
)

// StartSession begins a new workflow for topic, discarding the previous
// session's playback.
func (c *Client) StartSession(topic string) error {
	return c.call(func() error {
		if err := c.workflow.StartSession(topic); err != nil {
			return err
		}
		c.queue.Reset()
		c.notices = nil
		return nil
	})
}

func (c *Client) SubmitSurvey(responses protocol.Responses) error {
	return c.call(func() error {
		return c.workflow.SubmitSurvey(responses)
	})
}

func (c *Client) GenerateDialogue() error {
	return c.call(c.workflow.GenerateDialogue)
}

func (c *Client) PlayAll() error {
	return c.call(func() error {
		c.queue.PlayAll()
		return nil
	})
}

func (c *Client) Pause() error {
	return c.call(func() error {
		c.queue.Pause()
		return nil
	})
}

func (c *Client) Resume() error {
	return c.call(func() error {
		c.queue.Resume()
		return nil
	})
}

// Reset abandons the current workflow and playback. File records survive.
func (c *Client) Reset() error {
	return c.call(func() error {
		c.workflow.Reset()
		c.queue.Reset()
		c.notices = nil
		c.dirty = true
		return nil
	})
}

// UploadFile uploads a local file, registers it and requests processing.
// The upload itself runs on the caller's goroutine.
func (c *Client) UploadFile(ctx context.Context, path string) (files.Record, error) {
	rec, err := c.uploader.UploadFile(ctx, path)
	if err != nil {
		c.log.Warn().Err(err).Str("path", path).Msg("Upload failed")
		return files.Record{}, err
	}
	err = c.call(func() error {
		if err := c.files.AddOrUpdate(rec); err != nil {
			return err
		}
		return c.processFile(rec.FileID)
	})
	return rec, err
}

// ProcessFile asks the server to (re)extract context from an uploaded file.
func (c *Client) ProcessFile(fileID string) error {
	return c.call(func() error {
		return c.processFile(fileID)
	})
}

func (c *Client) processFile(fileID string) error {
	rec, ok := c.files.Get(fileID)
	if !ok {
		return files.ErrUnknownFile
	}
	path := rec.FilePath
	if path == "" {
		path = rec.FileID
	}
	frame, err := protocol.Encode(protocol.KindFileProcess, protocol.FileProcess{FilePath: path})
	if err != nil {
		return err
	}
	c.transport.Send(frame)
	return nil
}

// SetActiveFile selects the file whose context accompanies dialogue
// generation; an empty id clears it.
func (c *Client) SetActiveFile(fileID string) error {
	return c.call(func() error {
		return c.files.SetActive(fileID)
	})
}

// RemoveFile deletes the file on the server and forgets it locally.
func (c *Client) RemoveFile(ctx context.Context, fileID string) error {
	if err := c.uploader.Delete(ctx, fileID); err != nil {
		return err
	}
	return c.call(func() error {
		c.files.Remove(fileID)
		return nil
	})
}
