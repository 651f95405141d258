package sse

import (
	"fmt"
	"net/http"
	"time"
)

const keepAliveInterval = 15 * time.Second

// Stream writes messages published on topic to w as SSE "data" frames until
// the request context ends. initial, when non-nil, is sent first so late
// subscribers see the current state.
func (h *Hub) Stream(w http.ResponseWriter, r *http.Request, topic string, initial []byte) error {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return fmt.Errorf("sse: streaming unsupported")
	}

	msgCh := make(chan []byte, 16)
	if !h.Subscribe(msgCh, topic) {
		return fmt.Errorf("sse: hub stopped")
	}
	defer h.Unsubscribe(msgCh, topic)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	fmt.Fprint(w, ": connected\n\n")
	if initial != nil {
		fmt.Fprintf(w, "data: %s\n\n", initial)
	}
	flusher.Flush()

	ticker := time.NewTicker(keepAliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return nil
		case <-h.done:
			return nil
		case <-ticker.C:
			fmt.Fprint(w, ": ping\n\n")
			flusher.Flush()
		case msg := <-msgCh:
			fmt.Fprintf(w, "data: %s\n\n", msg)
			flusher.Flush()
		}
	}
}
