package debugger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startedFlow(t *testing.T) *FlowController {
	t.Helper()

	f := NewFlowController()
	require.True(t, f.Start())
	return f
}

func TestFlowControllerLifecycle(t *testing.T) {
	t.Parallel()

	f := NewFlowController()
	assert.Equal(t, StateNotRunning, f.State())
	assert.Equal(t, ActionStop, f.Action())

	require.True(t, f.Start())
	assert.Equal(t, StateRunning, f.State())
	assert.Equal(t, ActionContinue, f.Action())
	assert.False(t, f.Start())

	require.True(t, f.Pause())
	assert.Equal(t, StatePaused, f.State())
	assert.False(t, f.Pause())

	require.True(t, f.Resume(ActionContinue))
	assert.Equal(t, StateRunning, f.State())

	f.Complete()
	assert.Equal(t, StateCompleted, f.State())
	assert.False(t, f.Resume(ActionContinue))
	assert.Equal(t, StateCompleted, f.State())
}

func TestFlowControllerError(t *testing.T) {
	t.Parallel()

	f := startedFlow(t)
	f.Error("boom")
	assert.Equal(t, StateError, f.State())
	assert.Equal(t, "boom", f.ErrorMessage())
	assert.False(t, f.Resume(ActionStepInto))
}

func TestFlowControllerStop(t *testing.T) {
	t.Parallel()

	f := startedFlow(t)
	f.EnterFunction("main", "main.go", 1)
	f.UpdateExecutionPoint("main.go", 2, 0)
	require.True(t, f.Resume(ActionStop))

	assert.Equal(t, StateNotRunning, f.State())
	assert.Equal(t, ActionStop, f.Action())
	assert.Equal(t, 0, f.CallStack().Depth())
	_, ok := f.CurrentPoint()
	assert.False(t, ok)
	assert.True(t, f.Start())
}

func TestFlowControllerExecutionPoint(t *testing.T) {
	t.Parallel()

	f := startedFlow(t)
	f.EnterFunction("main", "main.go", 1)
	f.EnterFunction("helper", "main.go", 10)
	point := f.UpdateExecutionPoint("main.go", 12, 4)
	assert.Equal(t, ExecutionPoint{File: "main.go", Line: 12, Column: 4, Function: "helper", StackDepth: 2}, point)
	assert.Equal(t, "main.go:12:4 in helper", point.String())

	current, ok := f.CurrentPoint()
	require.True(t, ok)
	assert.Equal(t, point, current)
	assert.Equal(t, StateRunning, f.State())
}

func TestFlowControllerStepInto(t *testing.T) {
	t.Parallel()

	t.Run("pauses_on_entry", func(t *testing.T) {
		f := startedFlow(t)
		f.UpdateExecutionPoint("main.go", 1, 0)
		require.True(t, f.Pause())
		require.True(t, f.Resume(ActionStepInto))
		f.EnterFunction("callee", "main.go", 20)
		assert.Equal(t, StatePaused, f.State())
	})
	t.Run("pauses_on_next_location", func(t *testing.T) {
		f := startedFlow(t)
		f.UpdateExecutionPoint("main.go", 1, 0)
		require.True(t, f.Pause())
		require.True(t, f.Resume(ActionStepInto))
		f.UpdateExecutionPoint("main.go", 2, 0)
		assert.Equal(t, StatePaused, f.State())
	})
}

func TestFlowControllerStepOver(t *testing.T) {
	t.Parallel()

	t.Run("pauses_at_same_depth", func(t *testing.T) {
		f := startedFlow(t)
		f.EnterFunction("main", "main.go", 1)
		f.UpdateExecutionPoint("main.go", 3, 0)
		require.True(t, f.Pause())
		require.True(t, f.Resume(ActionStepOver))

		f.UpdateExecutionPoint("main.go", 4, 0)
		assert.Equal(t, StatePaused, f.State())
		point, ok := f.CurrentPoint()
		require.True(t, ok)
		assert.Equal(t, 1, point.StackDepth)
	})
	t.Run("pauses_at_deeper_depth", func(t *testing.T) {
		f := startedFlow(t)
		f.EnterFunction("main", "a.go", 1)
		f.UpdateExecutionPoint("a.go", 2, 0)
		require.True(t, f.Pause())
		require.True(t, f.Resume(ActionStepOver))

		f.EnterFunction("callee", "a.go", 10)
		assert.Equal(t, StateRunning, f.State(), "entry alone does not complete a step over")
		f.UpdateExecutionPoint("a.go", 11, 0)
		assert.Equal(t, StatePaused, f.State())
		point, ok := f.CurrentPoint()
		require.True(t, ok)
		assert.Equal(t, "callee", point.Function)
		assert.Equal(t, 2, point.StackDepth)
	})
}

func TestFlowControllerStepLoopLine(t *testing.T) {
	t.Parallel()

	for name, action := range map[string]FlowAction{
		"step_over": ActionStepOver,
		"step_into": ActionStepInto,
	} {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			f := startedFlow(t)
			f.EnterFunction("main", "loop.go", 1)
			f.UpdateExecutionPoint("loop.go", 5, 0)
			require.True(t, f.Pause())
			require.True(t, f.Resume(action))

			f.UpdateExecutionPoint("loop.go", 5, 0)
			assert.Equal(t, StatePaused, f.State())

			require.True(t, f.Resume(action))
			assert.Equal(t, StateRunning, f.State())
			f.UpdateExecutionPoint("loop.go", 5, 0)
			assert.Equal(t, StatePaused, f.State())
		})
	}
}

func TestFlowControllerStepOut(t *testing.T) {
	t.Parallel()

	t.Run("pauses_after_return", func(t *testing.T) {
		f := startedFlow(t)
		f.EnterFunction("main", "main.go", 1)
		f.EnterFunction("inner", "main.go", 10)
		f.EnterFunction("leaf", "main.go", 30)
		_, _ = f.ExitFunction()
		require.True(t, f.Pause())
		require.True(t, f.Resume(ActionStepOut))

		f.EnterFunction("leaf", "main.go", 30)
		_, _ = f.ExitFunction()
		assert.Equal(t, StateRunning, f.State())
		_, _ = f.ExitFunction()
		assert.Equal(t, StatePaused, f.State())
		assert.Equal(t, ActionContinue, f.Action())
	})
	t.Run("empty_stack_continues", func(t *testing.T) {
		f := startedFlow(t)
		require.True(t, f.Pause())
		require.True(t, f.Resume(ActionStepOut))
		assert.Equal(t, ActionContinue, f.Action())
	})
}

func TestFlowControllerRunToCursor(t *testing.T) {
	t.Parallel()

	t.Run("reaches_cursor", func(t *testing.T) {
		f := startedFlow(t)
		require.True(t, f.RunToCursor("src/a.go", 5))
		assert.Equal(t, ActionRunToCursor, f.Action())
		f.UpdateExecutionPoint("/work/src/a.go", 4, 0)
		assert.Equal(t, StateRunning, f.State())
		f.UpdateExecutionPoint("/work/src/a.go", 5, 0)
		assert.Equal(t, StatePaused, f.State())
		assert.Equal(t, ActionContinue, f.Action())
	})
	t.Run("without_cursor", func(t *testing.T) {
		f := startedFlow(t)
		require.True(t, f.Resume(ActionRunToCursor))
		assert.Equal(t, ActionContinue, f.Action())
	})
}

func TestFlowControllerExitEmptyStack(t *testing.T) {
	t.Parallel()

	f := startedFlow(t)
	_, ok := f.ExitFunction()
	assert.False(t, ok)
}

func TestCallStack(t *testing.T) {
	t.Parallel()

	var s CallStack
	_, ok := s.Current()
	assert.False(t, ok)

	s.Push(StackFrame{Function: "main"})
	s.Push(StackFrame{Function: "run"})
	assert.Equal(t, 2, s.Depth())
	cur, ok := s.Current()
	require.True(t, ok)
	assert.Equal(t, "run", cur.Function)

	frames := s.Frames()
	require.Len(t, frames, 2)
	assert.Equal(t, "main", frames[0].Function)
	frames[0].Function = "changed"
	assert.Equal(t, "main", s.Frames()[0].Function)

	frame, ok := s.Pop()
	require.True(t, ok)
	assert.Equal(t, "run", frame.Function)
	s.Clear()
	_, ok = s.Pop()
	assert.False(t, ok)
}

func TestFlowEnumStrings(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "Paused", StatePaused.String())
	assert.Equal(t, "ExecutionState(9)", ExecutionState(9).String())
	assert.Equal(t, "RunToCursor", ActionRunToCursor.String())
	assert.Equal(t, "FlowAction(9)", FlowAction(9).String())
}
