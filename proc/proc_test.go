package proc

import (
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestRunner(t *testing.T) *Runner {
	l, err := zap.NewDevelopment()
	require.NoError(t, err)
	return NewRunner(l.Sugar())
}

func collect() (Callbacks, <-chan string, <-chan int) {
	lines := make(chan string, 128)
	exits := make(chan int, 1)
	return Callbacks{
		OnLine: func(line string) { lines <- line },
		OnExit: func(code int) { exits <- code },
	}, lines, exits
}

func waitExit(t *testing.T, exits <-chan int) int {
	select {
	case code := <-exits:
		return code
	case <-time.After(10 * time.Second):
		t.Fatal("timed out waiting for exit")
		return 0
	}
}

func TestRunnerStreamsLinesInOrder(t *testing.T) {
	r := newTestRunner(t)
	cb, lines, exits := collect()

	err := r.Start(t.TempDir(), "sh", []string{"-c", "echo one; echo two; echo three"}, nil, cb)
	require.NoError(t, err)

	assert.Equal(t, 0, waitExit(t, exits))
	n := len(lines)
	var got []string
	for i := 0; i < n; i++ {
		got = append(got, <-lines)
	}
	assert.Equal(t, []string{"one", "two", "three"}, got)
	assert.False(t, r.Running())

	code, ok := r.LastExitCode()
	require.True(t, ok)
	assert.Equal(t, 0, code)
}

func TestRunnerReportsNonZeroExit(t *testing.T) {
	r := newTestRunner(t)
	cb, _, exits := collect()

	err := r.Start(t.TempDir(), "sh", []string{"-c", "exit 3"}, nil, cb)
	require.NoError(t, err)
	assert.Equal(t, 3, waitExit(t, exits))
}

func TestRunnerSendInput(t *testing.T) {
	r := newTestRunner(t)
	cb, lines, exits := collect()

	err := r.Start(t.TempDir(), "sh", []string{"-c", "read x; echo got $x"}, nil, cb)
	require.NoError(t, err)

	require.NoError(t, r.SendInput("hello\n"))
	assert.Equal(t, 0, waitExit(t, exits))
	assert.Equal(t, "got hello", <-lines)
}

func TestRunnerRejectsInputWhenStopped(t *testing.T) {
	r := newTestRunner(t)
	require.Error(t, r.SendInput("hello\n"))
}

func TestRunnerRejectsDoubleStart(t *testing.T) {
	r := newTestRunner(t)
	cb, _, exits := collect()

	err := r.Start(t.TempDir(), "sh", []string{"-c", "read x"}, nil, cb)
	require.NoError(t, err)

	err = r.Start(t.TempDir(), "sh", []string{"-c", "true"}, nil, Callbacks{})
	require.Error(t, err)

	require.NoError(t, r.SendInput("\n"))
	waitExit(t, exits)
}

func TestRunnerSignal(t *testing.T) {
	r := newTestRunner(t)
	cb, _, exits := collect()

	err := r.Start(t.TempDir(), "sh", []string{"-c", "read x"}, nil, cb)
	require.NoError(t, err)

	require.NoError(t, r.Signal(syscall.SIGTERM))
	assert.NotEqual(t, 0, waitExit(t, exits))
	require.Error(t, r.Signal(syscall.SIGTERM))
}

func TestRunnerStartFailureReportsThroughCallbacks(t *testing.T) {
	r := newTestRunner(t)
	cb, lines, exits := collect()

	err := r.Start(t.TempDir(), "definitely-not-a-real-binary", nil, nil, cb)
	require.Error(t, err)
	assert.Equal(t, -1, waitExit(t, exits))
	assert.Contains(t, <-lines, "Failed to start")
	assert.False(t, r.Running())
}
