package files

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raihanakbr/dialogue-session-client/internal/protocol"
)

func TestActiveContextRequiresProcessedFile(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.AddOrUpdate(Record{FileID: "f-1", DisplayName: "notes.txt", SizeBytes: 42}))

	assert.Nil(t, r.ActiveContext(), "nothing active")
	require.NoError(t, r.SetActive("f-1"))
	assert.Nil(t, r.ActiveContext(), "active but unprocessed")

	require.NoError(t, r.MarkProcessed("f-1", "carbon markets summary"))
	assert.Equal(t, &protocol.FileContext{FileID: "f-1", Content: "carbon markets summary"}, r.ActiveContext())
}

func TestMarkProcessedWithoutContentUsesReference(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.AddOrUpdate(Record{FileID: "f-1", DisplayName: "notes.txt"}))
	require.NoError(t, r.SetActive("f-1"))
	require.NoError(t, r.MarkProcessed("f-1", ""))

	assert.Equal(t, &protocol.FileContext{FileID: "f-1"}, r.ActiveContext())
}

func TestAtMostOneActive(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.AddOrUpdate(Record{FileID: "a", DisplayName: "a.txt"}))
	require.NoError(t, r.AddOrUpdate(Record{FileID: "b", DisplayName: "b.txt"}))

	require.NoError(t, r.SetActive("a"))
	require.NoError(t, r.SetActive("b"))
	active, ok := r.Active()
	require.True(t, ok)
	assert.Equal(t, "b", active.FileID)

	assert.ErrorIs(t, r.SetActive("missing"), ErrUnknownFile)
	active, _ = r.Active()
	assert.Equal(t, "b", active.FileID, "failed selection keeps the previous one")

	require.NoError(t, r.SetActive(""))
	_, ok = r.Active()
	assert.False(t, ok)
}

func TestUpdateKeepsProcessingState(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.AddOrUpdate(Record{FileID: "f-1", DisplayName: "draft.txt", SizeBytes: 10}))
	require.NoError(t, r.MarkProcessed("f-1", "ctx"))

	require.NoError(t, r.AddOrUpdate(Record{FileID: "f-1", DisplayName: "final.txt", SizeBytes: 20}))
	rec, ok := r.Get("f-1")
	require.True(t, ok)
	assert.Equal(t, "final.txt", rec.DisplayName)
	assert.Equal(t, int64(20), rec.SizeBytes)
	assert.True(t, rec.Processed)
	assert.Len(t, r.List(), 1)
}

func TestRemoveClearsActive(t *testing.T) {
	r := NewRegistry()
	changes := 0
	r.OnChange(func() { changes++ })
	require.NoError(t, r.AddOrUpdate(Record{FileID: "a", DisplayName: "a.txt"}))
	require.NoError(t, r.AddOrUpdate(Record{FileID: "b", DisplayName: "b.txt"}))
	require.NoError(t, r.SetActive("a"))

	assert.True(t, r.Remove("a"))
	assert.False(t, r.Remove("a"))
	_, ok := r.Active()
	assert.False(t, ok)
	assert.Equal(t, []Record{{FileID: "b", DisplayName: "b.txt"}}, r.List())
	assert.Equal(t, 4, changes)
}

func TestMarkProcessedUnknownFile(t *testing.T) {
	r := NewRegistry()
	assert.ErrorIs(t, r.MarkProcessed("ghost", "x"), ErrUnknownFile)
	assert.ErrorIs(t, r.AddOrUpdate(Record{DisplayName: "x.txt"}), ErrUnknownFile)
}
