package daemon

import (
	"sync"

	"go.uber.org/zap"
)

// consoleEvent is one unit fanned out to subscribers: either an output
// line or the terminal exit code.
type consoleEvent struct {
	name string
	line string
	code int
}

// consoleHub buffers the managed process's output and fans live events
// out to stream subscribers. The buffer is capped; a late subscriber
// replays whatever history is still held, then follows live.
type consoleHub struct {
	log *zap.SugaredLogger
	cap int

	mut         sync.Mutex
	buffer      []string
	subscribers map[chan consoleEvent]struct{}
	active      bool
	exitCode    *int
}

func newConsoleHub(log *zap.SugaredLogger, bufferCap int) *consoleHub {
	return &consoleHub{
		log:         log.Named("console_hub"),
		cap:         bufferCap,
		subscribers: map[chan consoleEvent]struct{}{},
	}
}

// Reset discards buffered history and marks the process active. Called
// when a new process starts; existing subscribers keep their streams
// and observe the new run from its first line.
func (h *consoleHub) Reset() {
	h.mut.Lock()
	defer h.mut.Unlock()
	h.buffer = nil
	h.active = true
	h.exitCode = nil
}

// PushLine appends a line to the buffer and fans it out.
func (h *consoleHub) PushLine(line string) {
	h.mut.Lock()
	defer h.mut.Unlock()
	h.buffer = append(h.buffer, line)
	if len(h.buffer) > h.cap {
		h.buffer = h.buffer[len(h.buffer)-h.cap:]
	}
	h.fanout(consoleEvent{name: "output", line: line})
}

// PushDone records the exit code and fans it out.
func (h *consoleHub) PushDone(code int) {
	h.mut.Lock()
	defer h.mut.Unlock()
	h.active = false
	h.exitCode = &code
	h.fanout(consoleEvent{name: "done", code: code})
}

// fanout must be called with the mutex held. A subscriber that cannot
// keep up loses events rather than blocking the process pump.
func (h *consoleHub) fanout(ev consoleEvent) {
	for ch := range h.subscribers {
		select {
		case ch <- ev:
		default:
			h.log.Debugw("dropping event for slow subscriber", "Event", ev.name)
		}
	}
}

// Subscribe registers a new subscriber and returns the history snapshot
// it should replay first, the terminal code if the process has already
// exited, and the live channel.
func (h *consoleHub) Subscribe() (history []string, exited *int, ch chan consoleEvent) {
	h.mut.Lock()
	defer h.mut.Unlock()
	ch = make(chan consoleEvent, 256)
	h.subscribers[ch] = struct{}{}
	history = append([]string(nil), h.buffer...)
	if !h.active && h.exitCode != nil {
		code := *h.exitCode
		exited = &code
	}
	return history, exited, ch
}

// Unsubscribe removes a subscriber. Its channel is not closed; the
// subscriber simply stops receiving.
func (h *consoleHub) Unsubscribe(ch chan consoleEvent) {
	h.mut.Lock()
	defer h.mut.Unlock()
	delete(h.subscribers, ch)
}

// History returns a copy of the buffered lines.
func (h *consoleHub) History() []string {
	h.mut.Lock()
	defer h.mut.Unlock()
	return append([]string(nil), h.buffer...)
}
