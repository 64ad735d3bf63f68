package session

import (
	"encoding/json"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Handler serves the read-only debug API.
func (c *Client) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/session", c.GetSessionHandler)
	mux.HandleFunc("/api/transcripts", c.GetTranscriptsHandler)
	mux.Handle("/metrics", promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{}))
	return mux
}

// GetSessionHandler returns the full client snapshot.
func (c *Client) GetSessionHandler(w http.ResponseWriter, r *http.Request) {
	snap, ok := c.lookup(w, r)
	if !ok {
		return
	}
	c.writeJSON(w, snap)
}

// GetTranscriptsHandler returns only the dialogue transcript history.
func (c *Client) GetTranscriptsHandler(w http.ResponseWriter, r *http.Request) {
	snap, ok := c.lookup(w, r)
	if !ok {
		return
	}
	response := map[string]interface{}{
		"connection_id": snap.ConnectionID,
		"transcripts":   snap.Transcript,
		"count":         len(snap.Transcript),
	}
	c.writeJSON(w, response)
}

func (c *Client) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		c.log.Debug().Err(err).Msg("Failed to write debug response")
	}
}

// lookup checks the method and the optional connection_id parameter, then
// reads a snapshot.
func (c *Client) lookup(w http.ResponseWriter, r *http.Request) (Snapshot, bool) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return Snapshot{}, false
	}
	if id := r.URL.Query().Get("connection_id"); id != "" && id != c.transport.ID {
		http.Error(w, "Session not found", http.StatusNotFound)
		return Snapshot{}, false
	}
	snap, err := c.Snapshot()
	if err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return Snapshot{}, false
	}
	return snap, true
}
