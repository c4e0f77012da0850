package utils

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSSELineWriterBuffersPartialLines(t *testing.T) {
	rec := httptest.NewRecorder()
	w := NewSSELineWriter(rec, rec, "stdout")

	_, _ = w.Write([]byte("first "))
	assert.Empty(t, rec.Body.String()) // no newline, nothing emitted yet

	_, _ = w.Write([]byte("half\nsecond\ntrail"))
	assert.Equal(t, "event: stdout\ndata: first half\n\nevent: stdout\ndata: second\n\n", rec.Body.String())

	_, _ = w.Write([]byte("ing\n"))
	assert.Contains(t, rec.Body.String(), "data: trailing\n\n")
}

func TestSSELineWriterKeepaliveEmitsComment(t *testing.T) {
	rec := httptest.NewRecorder()
	w := NewSSELineWriter(rec, rec, "stdout")

	w.Keepalive()
	assert.Equal(t, ": keepalive\n\n", rec.Body.String())
	assert.True(t, rec.Flushed)
}

func TestWriteSSEHeader(t *testing.T) {
	rec := httptest.NewRecorder()
	fl, ok := WriteSSEHeader(rec)
	assert.True(t, ok)
	assert.NotNil(t, fl)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.Equal(t, "no", rec.Header().Get("X-Accel-Buffering"))
}
