// Package daemon is the consoled manager process: it supervises the
// managed server, buffers its console output, and exposes the HTTP API
// that clients stream from and send commands through.
package daemon

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"github.com/julienschmidt/httprouter"
	"go.uber.org/zap"

	"github.com/emberworks/consoled/config"
	"github.com/emberworks/consoled/internal/gameport"
	"github.com/emberworks/consoled/proc"
	"github.com/emberworks/consoled/sse"
)

const pingInterval = 30 * time.Second

// Daemon serves the console bridge API for one managed server root.
type Daemon struct {
	log *zap.SugaredLogger
	cfg *config.Config

	runner *proc.Runner
	hub    *consoleHub
	lock   *flock.Flock

	httpServer *http.Server
	listener   net.Listener

	mut      sync.Mutex
	gamePort int
	closed   chan struct{}
}

type Option func(d *Daemon)

func WithLogger(l *zap.Logger) Option {
	return func(d *Daemon) {
		d.log = l.Named("daemon").Sugar()
	}
}

// New constructs a daemon from cfg. Run must be called to serve.
func New(cfg *config.Config, opts ...Option) (*Daemon, error) {
	logger, err := zap.NewProduction()
	if err != nil {
		return nil, fmt.Errorf("building logger: %w", err)
	}
	d := &Daemon{
		log:    logger.Named("daemon").Sugar(),
		cfg:    cfg,
		closed: make(chan struct{}),
	}
	for _, o := range opts {
		o(d)
	}
	d.runner = proc.NewRunner(d.log)
	d.hub = newConsoleHub(d.log, cfg.Console.BufferLines)
	return d, nil
}

// Run acquires the root-dir lock, binds the listen address, and serves
// until Stop is called. Only one daemon may manage a root dir at a
// time; a second Run against the same root fails fast.
func (d *Daemon) Run() error {
	if err := os.MkdirAll(d.cfg.RootDir, 0o755); err != nil {
		return fmt.Errorf("creating root dir: %w", err)
	}
	d.lock = flock.New(filepath.Join(d.cfg.RootDir, "consoled.lock"))
	locked, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquiring root lock: %w", err)
	}
	if !locked {
		return fmt.Errorf("another consoled is already managing %s", d.cfg.RootDir)
	}

	listener, err := net.Listen("tcp", d.cfg.ListenAddr)
	if err != nil {
		d.lock.Unlock()
		return fmt.Errorf("listening on %s: %w", d.cfg.ListenAddr, err)
	}
	d.mut.Lock()
	d.listener = listener
	d.mut.Unlock()

	router := httprouter.New()
	router.POST("/server/start", d.startServer)
	router.POST("/server/stop", d.stopServer)
	router.POST("/server/command", d.command)
	router.GET("/server/status", d.status)
	router.GET("/server/console", d.console)
	router.GET("/server/attach", d.attach)
	router.POST("/auth/refresh", d.authRefresh)

	server := &http.Server{Handler: router}
	d.httpServer = server

	d.log.Infow("daemon listening", "Addr", listener.Addr().String())
	err = server.Serve(listener)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Addr returns the bound listen address, useful when the configured
// port is 0.
func (d *Daemon) Addr() string {
	d.mut.Lock()
	defer d.mut.Unlock()
	if d.listener == nil {
		return ""
	}
	return d.listener.Addr().String()
}

// Stop shuts the HTTP server down and releases the root lock. The
// managed process, if running, is asked to stop first.
func (d *Daemon) Stop() error {
	close(d.closed)
	d.runner.Stop(d.cfg.Server.StopCommand, d.cfg.Server.StopGrace())
	var err error
	if d.httpServer != nil {
		err = d.httpServer.Close()
	}
	if d.lock != nil {
		if unlockErr := d.lock.Unlock(); err == nil {
			err = unlockErr
		}
	}
	return err
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"ok": false, "error": msg})
}

func (d *Daemon) startServer(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	if d.runner.Running() {
		writeErr(w, http.StatusConflict, "server is already running")
		return
	}
	if d.cfg.Server.Command == "" {
		writeErr(w, http.StatusBadRequest, "no server command configured")
		return
	}

	gamePort := d.cfg.Server.GamePort
	if gamePort == 0 {
		p, err := gameport.PickFree()
		if err != nil {
			writeErr(w, http.StatusInternalServerError, fmt.Sprintf("picking game port: %s", err))
			return
		}
		gamePort = p
	}
	d.mut.Lock()
	d.gamePort = gamePort
	d.mut.Unlock()

	d.hub.Reset()
	env := append([]string(nil), d.cfg.Server.Env...)
	env = append(env, fmt.Sprintf("GAME_PORT=%d", gamePort))
	err := d.runner.Start(d.cfg.RootDir, d.cfg.Server.Command, d.cfg.Server.Args, env, proc.Callbacks{
		OnLine: d.hub.PushLine,
		OnExit: d.hub.PushDone,
	})
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "game_port": gamePort})
}

func (d *Daemon) stopServer(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	d.runner.Stop(d.cfg.Server.StopCommand, d.cfg.Server.StopGrace())
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

type commandRequest struct {
	Command string `json:"command"`
}

// command writes the given text to the managed process's stdin. The
// client sends the trailing terminator itself; nothing is appended.
func (d *Daemon) command(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var req commandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, http.StatusBadRequest, "command must be a JSON object with a command string")
		return
	}
	if !d.runner.Running() {
		writeErr(w, http.StatusConflict, "server is not running")
		return
	}
	if err := d.runner.SendInput(req.Command); err != nil {
		d.log.Debugf("command write failed: %s", err)
		writeErr(w, http.StatusInternalServerError, "failed to send command")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

// console streams the buffered history followed by live output as
// server-sent events, ending with a done frame when the process exits.
func (d *Daemon) console(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	sw, err := sse.NewWriter(w)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	history, exited, ch := d.hub.Subscribe()
	defer d.hub.Unsubscribe(ch)

	for _, line := range history {
		if err := sw.WriteEvent(sse.EventOutput, map[string]any{"line": line}); err != nil {
			return
		}
	}
	if exited != nil {
		_ = sw.WriteEvent(sse.EventDone, map[string]any{"code": *exited})
		return
	}

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case <-d.closed:
			return
		case <-ticker.C:
			if err := sw.WriteEvent(sse.EventPing, map[string]any{}); err != nil {
				return
			}
		case ev := <-ch:
			switch ev.name {
			case "output":
				if err := sw.WriteEvent(sse.EventOutput, map[string]any{"line": ev.line}); err != nil {
					return
				}
			case "done":
				_ = sw.WriteEvent(sse.EventDone, map[string]any{"code": ev.code})
				return
			}
		}
	}
}

// authRefresh deletes the stored credentials and runs the auth helper,
// streaming its output so the client can surface the sign-in URL. The
// whole run is scoped to this request.
func (d *Daemon) authRefresh(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	if d.cfg.Auth.Command == "" {
		writeErr(w, http.StatusBadRequest, "no auth helper configured")
		return
	}
	sw, err := sse.NewWriter(w)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	creds := filepath.Join(d.cfg.RootDir, d.cfg.Auth.CredentialsFile)
	if _, statErr := os.Stat(creds); statErr == nil {
		if err := os.Remove(creds); err != nil {
			_ = sw.WriteEvent(sse.EventOutput, map[string]any{"line": fmt.Sprintf("[manager] Could not delete credentials: %s", err)})
			_ = sw.WriteEvent(sse.EventDone, map[string]any{"code": 1})
			return
		}
		_ = sw.WriteEvent(sse.EventOutput, map[string]any{"line": "[manager] Credentials deleted. Opening sign-in..."})
	}

	// finished unblocks the helper's callbacks once this handler is
	// gone, so an abandoned refresh cannot wedge the output pump; the
	// deferred Stop reaps the helper itself.
	finished := make(chan struct{})
	defer close(finished)

	lines := make(chan string, 128)
	done := make(chan int, 1)
	helper := proc.NewRunner(d.log)
	defer helper.Stop("", 0)
	err = helper.Start(d.cfg.RootDir, d.cfg.Auth.Command, d.cfg.Auth.Args, nil, proc.Callbacks{
		OnLine: func(line string) {
			select {
			case lines <- line:
			case <-finished:
			}
		},
		OnExit: func(code int) { done <- code },
	})
	if err != nil {
		// Start failures already pushed an error line and -1 exit
		// through the callbacks; drain them below like any other run.
		d.log.Debugf("auth helper start failed: %s", err)
	}

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			if err := sw.WriteEvent(sse.EventPing, map[string]any{}); err != nil {
				return
			}
		case line := <-lines:
			if err := sw.WriteEvent(sse.EventOutput, map[string]any{"line": line}); err != nil {
				return
			}
		case code := <-done:
			// flush any output that raced ahead of the exit signal
			for {
				select {
				case line := <-lines:
					if err := sw.WriteEvent(sse.EventOutput, map[string]any{"line": line}); err != nil {
						return
					}
					continue
				default:
				}
				break
			}
			_ = sw.WriteEvent(sse.EventDone, map[string]any{"code": code})
			return
		}
	}
}
