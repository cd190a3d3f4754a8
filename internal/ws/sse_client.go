package ws

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

// sseEventName tags every frame so EventSource clients can addEventListener.
const sseEventName = "deployment"

// SSEClient is a Server-Sent Events subscriber.
type SSEClient struct {
	mu      sync.Mutex
	w       io.Writer
	rc      *http.ResponseController
	flusher http.Flusher
	log     *slog.Logger
	seq     uint64
	closed  bool
}

// NewSSEClient wraps an HTTP response stream.
func NewSSEClient(w io.Writer, flusher http.Flusher, logger *slog.Logger) *SSEClient {
	c := &SSEClient{w: w, flusher: flusher, log: logger}
	if rw, ok := w.(http.ResponseWriter); ok {
		c.rc = http.NewResponseController(rw)
	}
	return c
}

// Send writes payload as one numbered event. Multi-line payloads are split
// across data fields.
func (c *SSEClient) Send(payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return io.EOF
	}
	c.seq++
	var frame bytes.Buffer
	fmt.Fprintf(&frame, "id: %d\nevent: %s\n", c.seq, sseEventName)
	for _, line := range bytes.Split(payload, []byte("\n")) {
		fmt.Fprintf(&frame, "data: %s\n", line)
	}
	frame.WriteByte('\n')
	return c.write(frame.Bytes())
}

// Heartbeat writes a comment frame.
func (c *SSEClient) Heartbeat() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return io.EOF
	}
	return c.write([]byte(": ping\n\n"))
}

func (c *SSEClient) write(frame []byte) error {
	if c.rc != nil {
		if err := c.rc.SetWriteDeadline(time.Now().Add(writeWait)); err != nil && !errors.Is(err, http.ErrNotSupported) {
			c.log.Debug("sse write deadline unavailable", "error", err)
		}
	}
	if _, err := c.w.Write(frame); err != nil {
		c.closed = true
		c.log.Warn("sse write failed", "error", err)
		return err
	}
	c.flusher.Flush()
	return nil
}

// Close stops further writes.
func (c *SSEClient) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
}
