package taskexec

import (
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeSink struct {
	mu     sync.Mutex
	chunks []string
}

func (s *fakeSink) WriteLog(chunk string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chunks = append(s.chunks, chunk)
}

func (s *fakeSink) all() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return strings.Join(s.chunks, "")
}

func TestRunCapturesOutputAndExitCode(t *testing.T) {
	shell, flag := DefaultShell()
	sink := &fakeSink{}
	task := &Task{Dir: t.TempDir(), Sink: sink}
	task.Run(shell, flag, "echo hi")

	result := task.Result()
	require.NotNil(t, result.ReturnCode)
	require.Equal(t, 0, *result.ReturnCode)
	require.Contains(t, result.Logs, "hi")
	require.Contains(t, sink.all(), "hi")
	require.True(t, task.Done())
}

func TestRunCapturesNonZeroExit(t *testing.T) {
	shell, flag := DefaultShell()
	task := &Task{Dir: t.TempDir()}
	task.Run(shell, flag, "exit 3")

	result := task.Result()
	require.NotNil(t, result.ReturnCode)
	require.Equal(t, 3, *result.ReturnCode)
}

func TestEnvPropagation(t *testing.T) {
	shell, flag := DefaultShell()
	task := &Task{
		Dir: t.TempDir(),
		Env: Env{
			Project:      "P1234567",
			ProjectBuild: "B00000000001",
			TaskIndex:    0,
			TaskName:     "a",
			TaskCommand:  "echo $BOXCI_COMMIT_SHORT $BOXCI_TAG",
			Commit:       "c0ffee0123456789",
			Branch:       "master",
			Tag:          "v1.0.0",
			AgentName:    "agent-x",
		},
	}
	task.Run(shell, flag, "echo $BOXCI_COMMIT_SHORT-$BOXCI_TAG")

	result := task.Result()
	require.Equal(t, "c0ffee0-v1.0.0\n", result.Logs)
}

func TestTagOmittedWhenEmpty(t *testing.T) {
	env := Env{Commit: "abcdefg123"}
	vars := env.vars()
	for _, v := range vars {
		require.False(t, strings.HasPrefix(v, "BOXCI_TAG="), "BOXCI_TAG should be absent: %v", vars)
	}
}

func TestCancelKillsLongRunningTask(t *testing.T) {
	shell, flag := DefaultShell()
	task := &Task{Dir: t.TempDir()}

	done := make(chan struct{})
	go func() {
		task.Run(shell, flag, "sleep 30")
		close(done)
	}()

	time.Sleep(100 * time.Millisecond)
	task.Cancel()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("cancelled task did not exit promptly")
	}

	result := task.Result()
	require.True(t, result.Cancelled)
	require.Nil(t, result.ReturnCode)
}

func TestCancelAfterCompletionIsNoOp(t *testing.T) {
	shell, flag := DefaultShell()
	task := &Task{Dir: t.TempDir()}
	task.Run(shell, flag, "echo done")

	task.Cancel()
	result := task.Result()
	require.NotNil(t, result.ReturnCode)
	require.False(t, result.Cancelled)
}

func TestSpawnFailureIsCapturedAsError(t *testing.T) {
	task := &Task{Dir: t.TempDir()}
	task.Run("/nonexistent/shell/binary", "-c", "echo hi")

	result := task.Result()
	require.Error(t, result.ErrorRunningCmd)
	require.NotNil(t, result.ReturnCode)
	require.Equal(t, 1, *result.ReturnCode)
}
