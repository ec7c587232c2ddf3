package realtime

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"time"
)

var (
	// ErrStreamClosed is returned when sending to a stream that has been closed.
	ErrStreamClosed = errors.New("stream closed")
	// ErrSlowConsumer is returned when a stream's buffer is full.
	ErrSlowConsumer = errors.New("stream buffer full")
)

// DefaultStreamBuffer is the number of frames a stream queues before it is
// treated as broken.
const DefaultStreamBuffer = 64

// Stream is the Handle for one Server-Sent Events connection. Producers call
// Send from any goroutine; only Serve writes to the connection.
type Stream struct {
	frames chan []byte
	done   chan struct{}
	once   sync.Once
}

// NewStream creates a stream with room for buffer queued frames.
func NewStream(buffer int) *Stream {
	if buffer <= 0 {
		buffer = DefaultStreamBuffer
	}
	return &Stream{
		frames: make(chan []byte, buffer),
		done:   make(chan struct{}),
	}
}

// Send queues a frame without blocking.
func (s *Stream) Send(frame []byte) error {
	select {
	case <-s.done:
		return ErrStreamClosed
	default:
	}

	select {
	case s.frames <- frame:
		return nil
	case <-s.done:
		return ErrStreamClosed
	default:
		return ErrSlowConsumer
	}
}

// Close stops the stream. Serve returns shortly after.
func (s *Stream) Close() {
	s.once.Do(func() {
		close(s.done)
	})
}

// Done is closed once the stream has been closed.
func (s *Stream) Done() <-chan struct{} {
	return s.done
}

// Serve writes queued frames to w, calling flush after each write, and emits
// a comment line every heartbeat interval. It returns nil when ctx ends or the
// stream is closed, and the write error if the client went away.
func (s *Stream) Serve(ctx context.Context, w io.Writer, flush func() error, heartbeat time.Duration) error {
	var tick <-chan time.Time
	if heartbeat > 0 {
		ticker := time.NewTicker(heartbeat)
		defer ticker.Stop()
		tick = ticker.C
	}

	write := func(b []byte) error {
		if _, err := w.Write(b); err != nil {
			return err
		}
		if flush != nil {
			return flush()
		}
		return nil
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-s.done:
			return nil
		case frame := <-s.frames:
			if err := write(frame); err != nil {
				s.Close()
				return err
			}
		case <-tick:
			if err := write(heartbeatFrame); err != nil {
				s.Close()
				return err
			}
		}
	}
}

var heartbeatFrame = []byte(": ping\n\n")

// EncodeFrame renders one event in text/event-stream format. Empty id or
// event are omitted; multi-line data is split across data fields.
func EncodeFrame(event, id string, data []byte) []byte {
	var buf bytes.Buffer
	if id != "" {
		buf.WriteString("id: ")
		buf.WriteString(id)
		buf.WriteByte('\n')
	}
	if event != "" {
		buf.WriteString("event: ")
		buf.WriteString(event)
		buf.WriteByte('\n')
	}
	for _, line := range bytes.Split(data, []byte("\n")) {
		buf.WriteString("data: ")
		buf.Write(line)
		buf.WriteByte('\n')
	}
	buf.WriteByte('\n')
	return buf.Bytes()
}
