package console

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/emberworks/consoled/sse"
)

// State is the session lifecycle position.
type State int

const (
	StateIdle State = iota
	StateRunning
	StateSettled
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateSettled:
		return "settled"
	default:
		return "unknown"
	}
}

// Synthetic transcript lines appended by the controller itself.
const (
	lineSuccess   = "[manager] Completed successfully."
	lineFailure   = "[manager] Failed (exit code %d). Try again."
	lineConnError = "[manager] Connection error."
)

// EventStream is the stream consumed by a session. *sse.Stream
// satisfies it; tests substitute fakes.
type EventStream interface {
	Events() <-chan sse.Event
	Err() error
	Close()
}

// OpenStreamFunc opens the observation stream for a new session.
type OpenStreamFunc func(ctx context.Context) (EventStream, error)

// SendFunc delivers one command string (terminator included) to the
// managed process's input.
type SendFunc func(ctx context.Context, command string) error

// Controller runs sessions. All session state lives here, serialized
// by one mutex; the stream's reader goroutine and user actions never
// observe a half-applied transition.
type Controller struct {
	log *zap.SugaredLogger

	send         SendFunc
	openURL      func(url string) error
	onTranscript func(lines []string)
	onSettled    func(code *int)
	onInvalidate func()

	mut            sync.Mutex
	state          State
	sessionID      string
	lines          []string
	terminalStatus *int
	authURL        string
	urlOpened      bool
	inFlight       bool
	stream         EventStream
}

type ControllerOption func(c *Controller)

// WithSender sets the command delivery function, typically
// Client.SendCommand.
func WithSender(f SendFunc) ControllerOption {
	return func(c *Controller) {
		c.send = f
	}
}

// WithURLOpener sets the external-open capability handed the sign-in
// URL. Best effort: its error is swallowed.
func WithURLOpener(f func(url string) error) ControllerOption {
	return func(c *Controller) {
		c.openURL = f
	}
}

// WithTranscriptObserver registers the observer called with the full
// transcript snapshot after every appended line.
func WithTranscriptObserver(f func(lines []string)) ControllerOption {
	return func(c *Controller) {
		c.onTranscript = f
	}
}

// WithSettledObserver registers a callback invoked when the session
// settles; code is nil for a transport failure.
func WithSettledObserver(f func(code *int)) ControllerOption {
	return func(c *Controller) {
		c.onSettled = f
	}
}

// WithInvalidate registers the follow-up invoked once when a session
// completes with exit code 0, e.g. Client.InvalidateStatus.
func WithInvalidate(f func()) ControllerOption {
	return func(c *Controller) {
		c.onInvalidate = f
	}
}

func NewController(log *zap.SugaredLogger, opts ...ControllerOption) *Controller {
	c := &Controller{
		log:   log.Named("session"),
		state: StateIdle,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Start begins a fresh session: prior transcript, terminal status, and
// the one-shot flag are discarded, then the stream is opened. If the
// stream cannot be opened the session settles immediately with a
// connection-error line, and the error is returned so the caller can
// log it.
func (c *Controller) Start(ctx context.Context, open OpenStreamFunc) error {
	c.mut.Lock()
	if c.stream != nil {
		c.stream.Close()
		c.stream = nil
	}
	id := uuid.NewString()
	c.sessionID = id
	c.state = StateRunning
	c.lines = nil
	c.terminalStatus = nil
	c.authURL = ""
	c.urlOpened = false
	c.inFlight = false
	c.mut.Unlock()

	stream, err := open(ctx)
	if err != nil {
		c.log.Debugf("opening stream: %s", err)
		c.settleTransport(id)
		return err
	}

	c.mut.Lock()
	if c.sessionID != id {
		// superseded while dialing
		c.mut.Unlock()
		stream.Close()
		return nil
	}
	c.stream = stream
	c.mut.Unlock()

	go c.consume(id, stream)
	return nil
}

// consume is the single reader for one session's stream. Events arrive
// in order on one goroutine, so appends and URL scans always see a
// prefix-consistent transcript.
func (c *Controller) consume(id string, stream EventStream) {
	for ev := range stream.Events() {
		c.handleEvent(id, ev)
	}
	if err := stream.Err(); err != nil {
		c.log.Debugf("stream ended: %s", err)
	}
	// a stream that ends without a done frame is a transport failure
	c.settleTransport(id)
}

type outputPayload struct {
	Line *string `json:"line"`
}

type donePayload struct {
	Code *int `json:"code"`
}

func (c *Controller) handleEvent(id string, ev sse.Event) {
	switch ev.Name {
	case sse.EventOutput:
		var p outputPayload
		if err := json.Unmarshal(ev.Data, &p); err != nil || p.Line == nil {
			c.log.Debugw("dropping malformed output payload", "Data", string(ev.Data))
			return
		}
		c.appendLine(id, *p.Line)
	case sse.EventDone:
		var p donePayload
		if err := json.Unmarshal(ev.Data, &p); err != nil || p.Code == nil {
			c.log.Debugw("dropping malformed done payload", "Data", string(ev.Data))
			return
		}
		c.settleDone(id, *p.Code)
	default:
		// ping and anything the daemon grows later
	}
}

// appendLine appends one line for session id, notifies the observer
// with the full snapshot, and runs the one-shot URL scan.
func (c *Controller) appendLine(id, line string) {
	c.mut.Lock()
	if c.sessionID != id {
		c.mut.Unlock()
		return
	}
	c.lines = append(c.lines, line)
	snapshot := append([]string(nil), c.lines...)
	var foundURL string
	if !c.urlOpened {
		if url, ok := extractAuthURL(snapshot); ok {
			c.urlOpened = true
			c.authURL = url
			foundURL = url
		}
	}
	c.mut.Unlock()

	if foundURL != "" && c.openURL != nil {
		if err := c.openURL(foundURL); err != nil {
			// best effort; the URL stays visible in the transcript
			c.log.Debugf("opening %s: %s", foundURL, err)
		}
	}
	if c.onTranscript != nil {
		c.onTranscript(snapshot)
	}
}

func (c *Controller) settleDone(id string, code int) {
	c.mut.Lock()
	if c.sessionID != id || c.state != StateRunning {
		c.mut.Unlock()
		return
	}
	c.state = StateSettled
	codeCopy := code
	c.terminalStatus = &codeCopy
	if code == 0 {
		c.lines = append(c.lines, lineSuccess)
	} else {
		c.lines = append(c.lines, fmt.Sprintf(lineFailure, code))
	}
	snapshot := append([]string(nil), c.lines...)
	c.mut.Unlock()

	if c.onTranscript != nil {
		c.onTranscript(snapshot)
	}
	if code == 0 && c.onInvalidate != nil {
		c.onInvalidate()
	}
	if c.onSettled != nil {
		c.onSettled(&codeCopy)
	}
}

func (c *Controller) settleTransport(id string) {
	c.mut.Lock()
	if c.sessionID != id || c.state != StateRunning {
		c.mut.Unlock()
		return
	}
	c.state = StateSettled
	c.lines = append(c.lines, lineConnError)
	snapshot := append([]string(nil), c.lines...)
	c.mut.Unlock()

	if c.onTranscript != nil {
		c.onTranscript(snapshot)
	}
	if c.onSettled != nil {
		c.onSettled(nil)
	}
}

// State returns the current lifecycle state.
func (c *Controller) State() State {
	c.mut.Lock()
	defer c.mut.Unlock()
	return c.state
}

// Running reports whether the session is still observing.
func (c *Controller) Running() bool {
	return c.State() == StateRunning
}

// Lines returns a copy of the transcript so far.
func (c *Controller) Lines() []string {
	c.mut.Lock()
	defer c.mut.Unlock()
	return append([]string(nil), c.lines...)
}

// TerminalStatus returns the exit code delivered by the done frame,
// if the session settled with one.
func (c *Controller) TerminalStatus() (int, bool) {
	c.mut.Lock()
	defer c.mut.Unlock()
	if c.terminalStatus == nil {
		return 0, false
	}
	return *c.terminalStatus, true
}

// AuthURL returns the extracted sign-in URL, if one was found this
// session.
func (c *Controller) AuthURL() (string, bool) {
	c.mut.Lock()
	defer c.mut.Unlock()
	return c.authURL, c.authURL != ""
}
