//go:build unix

package debugger

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newLocalRuntime(t *testing.T, mutate func(*Config)) *Runtime {
	t.Helper()

	cfg := DefaultConfig()
	cfg.SegmentDir = t.TempDir()
	if mutate != nil {
		mutate(&cfg)
	}
	rt, err := NewRuntime(cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { assert.NoError(t, rt.Shutdown()) })
	return rt
}

func TestRuntimeDisabledLocalState(t *testing.T) {
	t.Parallel()

	rt := newLocalRuntime(t, nil)
	assert.False(t, rt.Enabled())
	assert.Nil(t, rt.Channel())
	assert.Equal(t, StateRunning, rt.State())

	guard := rt.EnterFunction("compute")
	rt.RegisterVariable("x", "i32", "5", true)
	rt.RegisterValue("name", "dbug", false)
	stack := rt.CallStack()
	require.Len(t, stack, 1)
	assert.Equal(t, "compute", stack[0].Function)

	assert.Equal(t, "6", rt.Evaluate("x + 1").String())
	assert.Equal(t, `"dbug"`, rt.Evaluate("name").String())
	assert.ElementsMatch(t, []string{"x", "name"}, rt.ChangedVariables())
	assert.Empty(t, rt.ChangedVariables())

	require.NoError(t, rt.UpdateVariable("x", Integer(9)))
	v, ok := rt.Variable("x")
	require.True(t, ok)
	assert.Equal(t, Integer(9), v.Value)
	assert.Equal(t, Integer(5), v.PreviousValue)
	assert.ErrorIs(t, rt.UpdateVariable("missing", Integer(1)), ErrVariableNotFound)

	rendered, ok := rt.VisualizeVariable("x")
	require.True(t, ok)
	assert.Contains(t, rendered, "9")

	// no controller, so the pause resumes at once
	rt.BreakPoint("src/main.rs", 12, 4)
	assert.Equal(t, StateRunning, rt.State())
	point, ok := rt.CurrentPoint()
	require.True(t, ok)
	assert.Equal(t, "compute", point.Function)
	assert.Equal(t, uint32(12), point.Line)

	guard.Exit()
	guard.Exit()
	assert.Empty(t, rt.CallStack())
	assert.Empty(t, rt.Variables())
	_, ok = rt.Variable("x")
	assert.False(t, ok)
}

func TestRuntimeScopedShadowing(t *testing.T) {
	t.Parallel()

	rt := newLocalRuntime(t, nil)
	rt.RegisterVariable("x", "i32", "1", false)
	inner := rt.EnterFunction("inner")
	rt.RegisterVariable("x", "String", `"shadow"`, false)
	assert.Equal(t, `"shadow"`, rt.Evaluate("x").String())
	inner.Exit()

	assert.Equal(t, "1", rt.Evaluate("x").String())
	vars := rt.Variables()
	require.Len(t, vars, 1)
	assert.Equal(t, "i32", vars[0].TypeName)
}

func TestRuntimeConfiguredBreakpoints(t *testing.T) {
	t.Parallel()

	rt := newLocalRuntime(t, func(cfg *Config) {
		cfg.BreakOnDebugPoints = false
		cfg.Breakpoints = []BreakpointConfig{
			{File: "src/lib.rs", Line: 20, Condition: "count > 2"},
		}
		cfg.Watches = []string{"count * 2"}
	})

	rt.RegisterVariable("count", "i32", "1", true)
	rt.BreakPoint("src/lib.rs", 20, 0)
	require.NoError(t, rt.UpdateVariable("count", Integer(3)))
	rt.BreakPoint("src/lib.rs", 20, 0)
	rt.BreakPoint("src/other.rs", 1, 0)

	bps := rt.Breakpoints().Breakpoints()
	require.Len(t, bps, 1)
	assert.Equal(t, uint64(2), bps[0].HitCount)

	watches := rt.UpdateWatches()
	require.Len(t, watches, 1)
	assert.Equal(t, "6", watches[0].LastValue)
	id := rt.AddWatch("count")
	assert.NotZero(t, id)
}

func TestRuntimeInvalidConfig(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	cfg.MaxBatchSize = 0
	_, err := NewRuntime(cfg, nil)
	assert.Error(t, err)

	cfg = DefaultConfig()
	cfg.Breakpoints = []BreakpointConfig{{File: "a.rs", Line: 1, Condition: "x +"}}
	_, err = NewRuntime(cfg, nil)
	assert.Error(t, err)
}

func TestRuntimeAsyncTasks(t *testing.T) {
	t.Parallel()

	rt := newLocalRuntime(t, nil)
	ctx, parent := rt.StartAsync(context.Background(), "main_task")
	_, child := rt.StartAsync(ctx, "fetch")
	assert.Greater(t, child.TaskID(), parent.TaskID())

	task, ok := rt.Tasks().Get(child.TaskID())
	require.True(t, ok)
	assert.Equal(t, TaskRunning, task.State)
	require.NotNil(t, task.ParentID)
	assert.Equal(t, parent.TaskID(), *task.ParentID)

	child.Exit()
	parent.Exit()
	task, _ = rt.Tasks().Get(child.TaskID())
	assert.Equal(t, TaskCompleted, task.State)

	tree := rt.Tasks().VisualizeTree()
	assert.Contains(t, tree, "└─ Task 1 (main_task): Completed")
	assert.Contains(t, tree, "  └─ Task 2 (fetch): Completed")
}

func TestRuntimeAsyncGuardPanic(t *testing.T) {
	t.Parallel()

	rt := newLocalRuntime(t, nil)
	var id TaskID
	assert.PanicsWithValue(t, "boom", func() {
		_, guard := rt.StartAsync(context.Background(), "worker")
		id = guard.TaskID()
		defer guard.Exit()
		panic("boom")
	})
	task, ok := rt.Tasks().Get(id)
	require.True(t, ok)
	assert.Equal(t, TaskCancelled, task.State)
}

func TestRuntimeEnterAsyncFunctionParent(t *testing.T) {
	t.Parallel()

	rt := newLocalRuntime(t, nil)
	ctx, root := rt.GenerateAsyncTaskID(context.Background())
	rt.EnterAsyncFunction(ctx, "root", root).Exit()

	childCtx, child := rt.GenerateAsyncTaskID(ctx)
	guard := rt.EnterAsyncFunction(childCtx, "child", child)
	defer guard.Exit()

	task, ok := rt.Tasks().Get(child)
	require.True(t, ok)
	require.NotNil(t, task.ParentID)
	assert.Equal(t, root, *task.ParentID)
}

func TestRuntimeShutdown(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	cfg.SegmentDir = t.TempDir()
	rt, err := NewRuntime(cfg, nil)
	require.NoError(t, err)

	require.NoError(t, rt.Shutdown())
	assert.Equal(t, StateCompleted, rt.State())
	assert.NoError(t, rt.Shutdown())

	rt.BreakPoint("a.rs", 1, 0)
	assert.Equal(t, StateCompleted, rt.State())
}

func TestRuntimePauseConversation(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	cfg.Enabled = true
	cfg.SegmentDir = t.TempDir()
	cfg.FlushInterval = time.Hour
	cfg.PollInterval = time.Millisecond
	cfg.DrainWait = time.Second
	rt, err := NewRuntime(cfg, nil)
	require.NoError(t, err)
	require.True(t, rt.Enabled())
	controller, err := OpenControllerChannel(cfg, os.Getpid(), nil)
	require.NoError(t, err)
	defer func() {
		assert.NoError(t, controller.Close())
		assert.NoError(t, rt.Shutdown())
	}()

	rt.RegisterVariable("x", "i32", "5", true)
	done := make(chan struct{})
	go func() {
		defer close(done)
		rt.BreakPoint("src/main.rs", 7, 0)
	}()

	receiveUntil := func(kind MessageKind) []DebuggerMessage {
		var got []DebuggerMessage
		require.Eventually(t, func() bool {
			got = append(got, controller.ReceiveMessages()...)
			return len(got) > 0 && got[len(got)-1].Kind == kind
		}, 5*time.Second, time.Millisecond)
		return got
	}

	msgs := receiveUntil(MsgBreakpointHit)
	require.Len(t, msgs, 2)
	assert.Equal(t, VariableChangedMessage("x", "i32", "5", true), msgs[0])
	assert.Equal(t, "src/main.rs", msgs[1].File)
	assert.Equal(t, uint32(7), msgs[1].Line)
	assert.Equal(t, StatePaused, rt.State())

	require.NoError(t, controller.SendResponse(EvaluateResponse("x + 1")))
	msgs = receiveUntil(MsgExpressionResult)
	assert.Equal(t, ExpressionResultMessage("x + 1", "6"), msgs[len(msgs)-1])

	require.NoError(t, controller.SendResponse(ContinueResponse()))
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		require.FailNow(t, "breakpoint did not resume")
	}
	assert.Equal(t, StateRunning, rt.State())
}
