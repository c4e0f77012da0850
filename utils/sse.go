package utils

import (
	"bytes"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/gorilla/websocket"

	"fleetd/common"
)

// SSELineWriter turns a byte stream into one SSE event per completed line.
// Partial lines stay buffered until their newline arrives, so interleaved
// writers on the same response never split a line.
type SSELineWriter struct {
	mu      sync.Mutex
	w       http.ResponseWriter
	fl      http.Flusher
	event   string // "stdout" | "stderr"
	pending []byte
}

func NewSSELineWriter(w http.ResponseWriter, fl http.Flusher, event string) *SSELineWriter {
	return &SSELineWriter{w: w, fl: fl, event: event}
}

// Write implements io.Writer.
func (s *SSELineWriter) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = append(s.pending, p...)
	for {
		nl := bytes.IndexByte(s.pending, '\n')
		if nl < 0 {
			return len(p), nil
		}
		s.emit(string(s.pending[:nl]))
		s.pending = s.pending[nl+1:]
	}
}

func (s *SSELineWriter) emit(line string) {
	fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", s.event, line)
	if s.fl != nil {
		s.fl.Flush()
	}
}

// Keepalive emits an SSE comment. Comments carry no event data but put
// real bytes on the wire, which is what stops idle proxies from dropping
// the stream.
func (s *SSELineWriter) Keepalive() {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, _ = s.w.Write([]byte(": keepalive\n\n"))
	if s.fl != nil {
		s.fl.Flush()
	}
}

// WriteSSEHeader prepares the response for an event stream. The second
// return is false when the writer cannot flush, which makes streaming
// pointless.
func WriteSSEHeader(w http.ResponseWriter) (http.Flusher, bool) {
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-store")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no") // nginx: stream, don't buffer
	fl, ok := w.(http.Flusher)
	return fl, ok
}

// WSUpgrader accepts same-origin requests, the configured UI origin and
// local dev servers.
var WSUpgrader = websocket.Upgrader{
	ReadBufferSize:  32 * 1024,
	WriteBufferSize: 32 * 1024,
	CheckOrigin:     allowedWSOrigin,
}

func allowedWSOrigin(r *http.Request) bool {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		return true
	}
	if ui := strings.TrimSpace(common.Env("FLEETD_UI_ORIGIN", "")); ui != "" && origin == ui {
		return true
	}
	return strings.HasPrefix(origin, "http://localhost:") ||
		strings.HasPrefix(origin, "http://127.0.0.1:")
}
