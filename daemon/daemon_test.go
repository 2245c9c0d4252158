package daemon

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/emberworks/consoled/config"
	"github.com/emberworks/consoled/console"
	"github.com/emberworks/consoled/sse"
)

func testConfig(t *testing.T) *config.Config {
	return &config.Config{
		ListenAddr: "127.0.0.1:0",
		RootDir:    t.TempDir(),
		Server: config.ServerConfig{
			StopCommand:      "stop",
			StopGraceSeconds: 5,
		},
		Auth: config.AuthConfig{
			CredentialsFile: ".downloader-credentials.json",
		},
		Console: config.ConsoleConfig{BufferLines: 2000},
	}
}

func startDaemon(t *testing.T, cfg *config.Config) (*Daemon, string) {
	logger, err := zap.NewDevelopment()
	require.NoError(t, err)
	d, err := New(cfg, WithLogger(logger))
	require.NoError(t, err)

	go func() {
		if err := d.Run(); err != nil {
			t.Logf("daemon run: %s", err)
		}
	}()
	t.Cleanup(func() { d.Stop() })

	require.Eventually(t, func() bool { return d.Addr() != "" }, 5*time.Second, 10*time.Millisecond)
	return d, "http://" + d.Addr()
}

func newTestClient(t *testing.T, baseURL string) *console.Client {
	l, err := zap.NewDevelopment()
	require.NoError(t, err)
	return console.NewClient(l.Sugar(), baseURL)
}

// collectStream reads the stream to completion, returning output lines
// and the terminal code.
func collectStream(t *testing.T, stream console.EventStream) ([]string, int) {
	var lines []string
	for ev := range stream.Events() {
		switch ev.Name {
		case sse.EventOutput:
			var p struct {
				Line string `json:"line"`
			}
			require.NoError(t, json.Unmarshal(ev.Data, &p))
			lines = append(lines, p.Line)
		case sse.EventDone:
			var p struct {
				Code int `json:"code"`
			}
			require.NoError(t, json.Unmarshal(ev.Data, &p))
			return lines, p.Code
		}
	}
	t.Fatalf("stream ended without a done frame: %s", stream.Err())
	return nil, 0
}

func TestConsoleStreamEndToEnd(t *testing.T) {
	cfg := testConfig(t)
	cfg.Server.Command = "sh"
	cfg.Server.Args = []string{"-c", "echo hello; echo world"}
	_, baseURL := startDaemon(t, cfg)
	client := newTestClient(t, baseURL)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, client.StartServer(ctx))

	stream, err := client.OpenConsole(ctx)
	require.NoError(t, err)
	lines, code := collectStream(t, stream)
	assert.Equal(t, []string{"hello", "world"}, lines)
	assert.Equal(t, 0, code)
}

func TestCommandReachesProcessStdin(t *testing.T) {
	cfg := testConfig(t)
	cfg.Server.Command = "sh"
	cfg.Server.Args = []string{"-c", "read x; echo got $x"}
	_, baseURL := startDaemon(t, cfg)
	client := newTestClient(t, baseURL)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, client.StartServer(ctx))
	require.NoError(t, client.SendCommand(ctx, "ping\n"))

	stream, err := client.OpenConsole(ctx)
	require.NoError(t, err)
	lines, code := collectStream(t, stream)
	assert.Contains(t, lines, "got ping")
	assert.Equal(t, 0, code)
}

func TestCommandRejectedWhenNotRunning(t *testing.T) {
	cfg := testConfig(t)
	_, baseURL := startDaemon(t, cfg)
	client := newTestClient(t, baseURL)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err := client.SendCommand(ctx, "ping\n")
	require.Error(t, err)
}

func TestStartRejectedWhileRunning(t *testing.T) {
	cfg := testConfig(t)
	cfg.Server.Command = "sh"
	cfg.Server.Args = []string{"-c", "read x"}
	d, baseURL := startDaemon(t, cfg)
	client := newTestClient(t, baseURL)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, client.StartServer(ctx))
	require.Error(t, client.StartServer(ctx))

	d.runner.Stop("", time.Second)
}

func TestAuthRefreshStreamsHelperOutput(t *testing.T) {
	cfg := testConfig(t)
	cfg.Auth.Command = "sh"
	cfg.Auth.Args = []string{"-c", "echo Visit: https://auth.example/x"}
	creds := filepath.Join(cfg.RootDir, cfg.Auth.CredentialsFile)
	require.NoError(t, os.WriteFile(creds, []byte("{}"), 0o644))

	_, baseURL := startDaemon(t, cfg)
	client := newTestClient(t, baseURL)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	stream, err := client.OpenAuthRefresh(ctx)
	require.NoError(t, err)
	lines, code := collectStream(t, stream)

	assert.Equal(t, 0, code)
	assert.Contains(t, lines, "Visit: https://auth.example/x")
	assert.NoFileExists(t, creds)
}

func TestAuthRefreshReapsHelperWhenClientDisconnects(t *testing.T) {
	cfg := testConfig(t)
	cfg.Auth.Command = "sh"
	cfg.Auth.Args = []string{"-c", "echo $$; while :; do echo tick; sleep 0.05; done"}
	_, baseURL := startDaemon(t, cfg)
	client := newTestClient(t, baseURL)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	stream, err := client.OpenAuthRefresh(ctx)
	require.NoError(t, err)

	// the first numeric line is the helper's pid
	var pid int
	for ev := range stream.Events() {
		if ev.Name != sse.EventOutput {
			continue
		}
		var p struct {
			Line string `json:"line"`
		}
		require.NoError(t, json.Unmarshal(ev.Data, &p))
		if n, err := strconv.Atoi(strings.TrimSpace(p.Line)); err == nil {
			pid = n
			break
		}
	}
	require.NotZero(t, pid)

	cancel()
	require.Eventually(t, func() bool {
		return syscall.Kill(pid, 0) != nil
	}, 10*time.Second, 50*time.Millisecond, "helper should be killed after the client goes away")
}

func TestStatusReflectsIdleDaemon(t *testing.T) {
	cfg := testConfig(t)
	_, baseURL := startDaemon(t, cfg)
	client := newTestClient(t, baseURL)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	st, err := client.Status(ctx)
	require.NoError(t, err)
	assert.False(t, st.Running)
	assert.Zero(t, st.PID)
}

func TestSecondDaemonOnSameRootIsRefused(t *testing.T) {
	cfg := testConfig(t)
	startDaemon(t, cfg)

	logger, err := zap.NewDevelopment()
	require.NoError(t, err)
	second, err := New(&config.Config{
		ListenAddr: "127.0.0.1:0",
		RootDir:    cfg.RootDir,
		Console:    config.ConsoleConfig{BufferLines: 10},
	}, WithLogger(logger))
	require.NoError(t, err)

	err = second.Run()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already managing")
}
