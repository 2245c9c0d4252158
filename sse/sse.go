package sse

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// Event names the daemon emits. Clients must tolerate names outside
// this set; the wire format is open-ended.
const (
	EventOutput = "output"
	EventDone   = "done"
	EventPing   = "ping"
)

// Event is one named frame received from or written to a stream.
type Event struct {
	Name string
	Data json.RawMessage
}

// Writer writes events to an http.ResponseWriter as a text/event-stream
// response, flushing after each frame so frames are delivered as they
// are produced.
type Writer struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

// NewWriter prepares w for streaming and returns a Writer. It returns
// an error if the underlying ResponseWriter cannot flush, since an
// unflushable stream would buffer indefinitely.
func NewWriter(w http.ResponseWriter) (*Writer, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("response writer does not support flushing")
	}
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()
	return &Writer{w: w, flusher: flusher}, nil
}

// WriteEvent encodes payload as JSON and writes one frame.
func (w *Writer) WriteEvent(name string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encoding %s payload: %w", name, err)
	}
	if _, err := fmt.Fprintf(w.w, "event: %s\ndata: %s\n\n", name, data); err != nil {
		return fmt.Errorf("writing %s frame: %w", name, err)
	}
	w.flusher.Flush()
	return nil
}

// Stream is the client half: it decodes frames off an open response
// body and delivers them over Events in arrival order. When the channel
// closes, Err reports whether the stream ended abnormally.
type Stream struct {
	log    *zap.SugaredLogger
	body   io.ReadCloser
	cancel func()

	events    chan Event
	done      chan struct{}
	closeOnce sync.Once

	err error // written by the reader goroutine before closing events
}

// Open issues the request and starts decoding the response as an event
// stream. Method and body are caller-chosen; endpoints that trigger
// work server-side are typically POSTs. The returned stream is live
// until the connection closes or ctx is canceled.
func Open(ctx context.Context, client *http.Client, method, url string, body io.Reader, log *zap.SugaredLogger) (*Stream, error) {
	ctx, cancel := context.WithCancel(ctx)
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("building stream request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := client.Do(req)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("opening stream: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		cancel()
		return nil, fmt.Errorf("opening stream: unexpected status %s", resp.Status)
	}

	s := &Stream{
		log:    log,
		body:   resp.Body,
		cancel: cancel,
		events: make(chan Event),
		done:   make(chan struct{}),
	}
	go s.read()
	return s, nil
}

// Events returns the channel of decoded frames. It is closed when the
// stream ends, normally or not.
func (s *Stream) Events() <-chan Event {
	return s.events
}

// Err reports the terminal error, if any. Valid only after Events is
// closed. A nil error means the server closed the stream normally.
func (s *Stream) Err() error {
	return s.err
}

// Close tears the connection down. Pending events are discarded, even
// when nothing ever consumes the channel; the reader goroutine must
// not outlive a closed stream.
func (s *Stream) Close() {
	s.closeOnce.Do(func() { close(s.done) })
	s.cancel()
}

func (s *Stream) read() {
	defer close(s.events)
	defer s.body.Close()

	scanner := bufio.NewScanner(s.body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var name string
	var data []byte
	for scanner.Scan() {
		line := scanner.Bytes()
		switch {
		case len(bytes.TrimSpace(line)) == 0:
			// blank line terminates a frame
			if name != "" || data != nil {
				s.dispatch(name, data)
			}
			name, data = "", nil
		case bytes.HasPrefix(line, []byte("event:")):
			name = strings.TrimSpace(string(line[len("event:"):]))
		case bytes.HasPrefix(line, []byte("data:")):
			d := bytes.TrimSpace(line[len("data:"):])
			// multiple data lines in one frame join with a newline
			if data != nil {
				data = append(data, '\n')
			}
			data = append(data, d...)
		default:
			// comment or unknown field, skip
		}
	}
	if name != "" || data != nil {
		s.dispatch(name, data)
	}

	if err := scanner.Err(); err != nil {
		s.log.Debugf("stream read error: %s", err)
		s.err = err
	}
}

func (s *Stream) dispatch(name string, data []byte) {
	if len(data) == 0 || data[0] != '{' || !json.Valid(data) {
		// one bad frame must not end the observation
		s.log.Debugw("dropping malformed frame", "Event", name, "Data", string(data))
		return
	}
	select {
	case s.events <- Event{Name: name, Data: json.RawMessage(data)}:
	case <-s.done:
	}
}
