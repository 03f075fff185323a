//go:build unix

package debugger

import (
	"context"
	"os"
	"os/exec"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestController(t *testing.T, cfg Config, pid int, policy ResponsePolicy, out *LockedBuffer) *Controller {
	t.Helper()

	c, err := NewController(cfg, pid, ControllerOptions{Policy: policy, Output: out})
	require.NoError(t, err)
	t.Cleanup(func() { assert.NoError(t, c.Close()) })
	return c
}

func TestControllerAttachLazily(t *testing.T) {
	t.Parallel()

	cfg := testChannelConfig(t)
	c := newTestController(t, cfg, testPID, nil, &LockedBuffer{})
	assert.False(t, c.Attach())
	received, err := c.Poll()
	assert.False(t, received)
	assert.NoError(t, err)

	target, err := NewTargetChannel(cfg, testPID, nil)
	require.NoError(t, err)
	defer func() { assert.NoError(t, target.Close()) }()
	assert.True(t, c.Attach())
	assert.NotEmpty(t, c.SessionID())
}

func TestControllerSessionID(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	cfg.HistoryDir = t.TempDir()
	c, err := NewController(cfg, 7, ControllerOptions{SessionID: "nightly-run"})
	require.NoError(t, err)
	assert.Equal(t, "nightly-run", c.SessionID())
	require.NoError(t, c.Handle(FunctionExitedMessage("main")))
	require.NoError(t, c.Close())

	sessions, err := ListSessions(cfg.HistoryDir)
	require.NoError(t, err)
	assert.Equal(t, []string{"nightly-run"}, sessions)
}

func TestControllerSession(t *testing.T) {
	t.Parallel()

	cfg := testChannelConfig(t)
	target, err := NewTargetChannel(cfg, testPID, nil)
	require.NoError(t, err)
	defer func() { assert.NoError(t, target.Close()) }()

	script, err := ParseScript("eval:x + 1,n")
	require.NoError(t, err)
	out := &LockedBuffer{}
	c := newTestController(t, cfg, testPID, script, out)

	for _, msg := range []DebuggerMessage{
		FunctionEnteredMessage("main", "main.rs", 1),
		VariableChangedMessage("x", "i32", "5", false),
		AsyncTaskCreatedMessage("fetch", 1, nil),
		BreakpointHitMessage("main.rs", 3, 0, "main"),
	} {
		require.NoError(t, target.QueueMessage(msg))
	}

	received, err := c.Poll()
	require.NoError(t, err)
	require.True(t, received)
	resp, err := target.WaitForResponse()
	require.NoError(t, err)
	assert.Equal(t, EvaluateResponse("x + 1"), resp)

	// the target stays paused and answers the evaluation
	require.NoError(t, target.QueueMessage(ExpressionResultMessage("x + 1", "6")))
	require.NoError(t, target.Flush())
	received, err = c.Poll()
	require.NoError(t, err)
	require.True(t, received)
	resp, err = target.WaitForResponse()
	require.NoError(t, err)
	assert.Equal(t, StepOverResponse(), resp)
	assert.Equal(t, 0, script.Remaining())

	point, ok := c.LastPoint()
	require.True(t, ok)
	assert.Equal(t, uint32(3), point.Line)
	assert.Equal(t, []string{"x: i32 = 5"}, c.VariableLines())
	assert.Contains(t, c.TaskTree(), "└─ Task 1 (fetch): Created")
	assert.Len(t, c.Tasks(), 1)
	assert.Equal(t, 5, c.History().Len())

	trace := out.String()
	assert.Contains(t, trace, "entered main at main.rs:1")
	assert.Contains(t, trace, "breakpoint hit at main.rs:3 in main")
	assert.Contains(t, trace, "x + 1 = 6")

	report, err := c.Report()
	require.NoError(t, err)
	assert.Equal(t, c.SessionID(), report.SessionID)
	assert.Equal(t, testPID, report.TargetPID)
	assert.Equal(t, 5, report.EventCount)
	assert.Equal(t, 1, report.EventCounts["BreakpointHit"])
	assert.Equal(t, 1, report.PauseCount)
	assert.Equal(t, map[string]int{"main.rs:3": 1}, report.BreakpointHits)
	assert.Equal(t, 1, report.TaskCount)
	assert.Equal(t, map[string]int{"Created": 1}, report.TaskStates)
	assert.Equal(t, []string{"x"}, report.Variables)
	assert.Empty(t, report.ExitError)
}

func TestControllerMirrorsVariables(t *testing.T) {
	t.Parallel()

	out := &LockedBuffer{}
	c := newTestController(t, testChannelConfig(t), testPID, nil, out)

	for _, msg := range []DebuggerMessage{
		VariableChangedMessage("count", "i32", "1", true),
		FunctionEnteredMessage("inner", "lib.rs", 10),
		VariableChangedMessage("count", "String", `"inner"`, false),
		FunctionExitedMessage("inner"),
		VariableChangedMessage("count", "i32", "2", true),
		AsyncTaskCreatedMessage("job", 7, nil),
		AsyncTaskStateChangedMessage(7, TaskCreated, TaskRunning),
	} {
		require.NoError(t, c.Handle(msg))
	}

	assert.Equal(t, []string{"mut count: i32 = 2"}, c.VariableLines())
	tasks := c.Tasks()
	require.Len(t, tasks, 1)
	assert.Equal(t, TaskRunning, tasks[0].State)
	assert.Contains(t, out.String(), "exited inner")
}

func TestControllerDecideWithoutChannel(t *testing.T) {
	t.Parallel()

	c := newTestController(t, testChannelConfig(t), testPID, nil, &LockedBuffer{})
	err := c.Handle(BreakpointHitMessage("a.rs", 1, 0, "f"))
	assert.ErrorIs(t, err, ErrChannelClosed)
}

func TestControllerRunTargetExit(t *testing.T) {
	t.Parallel()

	bin, err := exec.LookPath("true")
	if err != nil {
		t.Skip("true not available")
	}
	cfg := testChannelConfig(t)
	cmd := exec.Command(bin)
	require.NoError(t, cmd.Start())
	c := newTestController(t, cfg, cmd.Process.Pid, nil, &LockedBuffer{})

	require.NoError(t, c.Run(context.Background(), cmd))
	report, err := c.Report()
	require.NoError(t, err)
	assert.Equal(t, 0, report.EventCount)
	assert.GreaterOrEqual(t, report.DurationMs, int64(0))
}

func TestControllerRunCancelKillsTarget(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping process test in short mode")
	}
	t.Parallel()

	bin, err := exec.LookPath("sleep")
	if err != nil {
		t.Skip("sleep not available")
	}
	cfg := testChannelConfig(t)
	cmd := exec.Command(bin, "30")
	require.NoError(t, cmd.Start())
	c := newTestController(t, cfg, cmd.Process.Pid, nil, &LockedBuffer{})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	start := time.Now()
	err = c.Run(ctx, cmd)
	assert.Error(t, err)
	assert.Less(t, time.Since(start), 10*time.Second)

	report, err := c.Report()
	require.NoError(t, err)
	assert.NotEmpty(t, report.ExitError)
}

func TestControllerDetachRemovesSegments(t *testing.T) {
	t.Parallel()

	cfg := testChannelConfig(t)
	msgPath, respPath := SegmentPaths(cfg.SegmentDir, testPID)
	for _, path := range []string{msgPath, respPath} {
		require.NoError(t, os.WriteFile(path, make([]byte, 64), 0600))
	}

	c, err := NewController(cfg, testPID, ControllerOptions{})
	require.NoError(t, err)
	require.NoError(t, c.Close())
	require.NoError(t, c.Close())
	for _, path := range []string{msgPath, respPath} {
		_, err := os.Stat(path)
		assert.True(t, os.IsNotExist(err), path)
	}
}
