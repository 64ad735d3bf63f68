// Package files tracks uploaded documents and which one currently supplies
// generation context.
package files

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/raihanakbr/dialogue-session-client/internal/logx"
	"github.com/raihanakbr/dialogue-session-client/internal/protocol"
)

var ErrUnknownFile = errors.New("unknown file")

// Record is keyed by the server-assigned FileID.
type Record struct {
	FileID      string                `json:"fileId" validate:"required"`
	DisplayName string                `json:"displayName" validate:"required"`
	SizeBytes   int64                 `json:"sizeBytes" validate:"gte=0"`
	FilePath    string                `json:"filePath,omitempty"`
	Processed   bool                  `json:"processed"`
	Context     *protocol.FileContext `json:"context,omitempty"`
}

// Registry holds at most one active record.
type Registry struct {
	records  map[string]*Record
	order    []string
	active   string
	log      zerolog.Logger
	onChange func()
}

func NewRegistry() *Registry {
	return &Registry{
		records: map[string]*Record{},
		log:     logx.Component("files"),
	}
}

func (r *Registry) OnChange(fn func()) {
	r.onChange = fn
}

// AddOrUpdate inserts rec or refreshes an existing record's metadata. An
// update never clears processing state already learned from the server.
func (r *Registry) AddOrUpdate(rec Record) error {
	if rec.FileID == "" {
		return fmt.Errorf("%w: empty file id", ErrUnknownFile)
	}
	existing, ok := r.records[rec.FileID]
	if !ok {
		stored := rec
		r.records[rec.FileID] = &stored
		r.order = append(r.order, rec.FileID)
		r.log.Debug().Str("file", rec.FileID).Str("name", rec.DisplayName).Msg("File registered")
		r.changed()
		return nil
	}

	existing.DisplayName = rec.DisplayName
	existing.SizeBytes = rec.SizeBytes
	if rec.FilePath != "" {
		existing.FilePath = rec.FilePath
	}
	if rec.Processed {
		existing.Processed = true
		existing.Context = rec.Context
	}
	r.changed()
	return nil
}

// SetActive selects fileID; an empty id clears the selection.
func (r *Registry) SetActive(fileID string) error {
	if fileID != "" {
		if _, ok := r.records[fileID]; !ok {
			return fmt.Errorf("%w: %s", ErrUnknownFile, fileID)
		}
	}
	r.active = fileID
	r.changed()
	return nil
}

// Active returns the selected record.
func (r *Registry) Active() (Record, bool) {
	if r.active == "" {
		return Record{}, false
	}
	return *r.records[r.active], true
}

// ActiveContext returns the active record's context, or nil when nothing is
// active or the active file is not processed yet.
func (r *Registry) ActiveContext() *protocol.FileContext {
	rec, ok := r.Active()
	if !ok || !rec.Processed || rec.Context == nil {
		return nil
	}
	ctx := *rec.Context
	return &ctx
}

// MarkProcessed attaches the server-derived context. Without explicit
// content the context is a reference the server resolves by id.
func (r *Registry) MarkProcessed(fileID, content string) error {
	rec, ok := r.records[fileID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownFile, fileID)
	}
	rec.Processed = true
	rec.Context = &protocol.FileContext{FileID: fileID, Content: content}
	r.log.Info().Str("file", fileID).Msg("File processed")
	r.changed()
	return nil
}

// Remove deletes a record, clearing the selection if it was active.
func (r *Registry) Remove(fileID string) bool {
	if _, ok := r.records[fileID]; !ok {
		return false
	}
	delete(r.records, fileID)
	for i, id := range r.order {
		if id == fileID {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	if r.active == fileID {
		r.active = ""
	}
	r.changed()
	return true
}

func (r *Registry) Get(fileID string) (Record, bool) {
	rec, ok := r.records[fileID]
	if !ok {
		return Record{}, false
	}
	return *rec, true
}

// List returns records in registration order.
func (r *Registry) List() []Record {
	out := make([]Record, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, *r.records[id])
	}
	return out
}

func (r *Registry) changed() {
	if r.onChange != nil {
		r.onChange()
	}
}
