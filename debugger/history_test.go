package debugger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventHistoryRecords(t *testing.T) {
	t.Parallel()

	h, err := OpenEventHistory("", "session-a")
	require.NoError(t, err)
	defer func() { assert.NoError(t, h.Close()) }()

	msgs := []DebuggerMessage{
		FunctionEnteredMessage("main", "main.rs", 1),
		VariableChangedMessage("x", "i32", "1", true),
		BreakpointHitMessage("main.rs", 2, 0, "main"),
	}
	for _, msg := range msgs {
		require.NoError(t, h.Append(msg))
	}
	assert.Equal(t, 3, h.Len())

	records, err := h.Records()
	require.NoError(t, err)
	require.Len(t, records, 3)
	for i, rec := range records {
		assert.Equal(t, uint64(i+1), rec.Seq)
		assert.Equal(t, msgs[i], rec.Message)
		assert.False(t, rec.At.IsZero())
	}
}

func TestEventHistorySharedStore(t *testing.T) {
	t.Parallel()

	store := NewMemStorage()
	a := NewEventHistory(KeyPrefixStorage(store, "a"))
	b := NewEventHistory(KeyPrefixStorage(store, "b"))
	require.NoError(t, a.Append(FunctionExitedMessage("f")))
	require.NoError(t, b.Append(FunctionExitedMessage("g")))
	require.NoError(t, b.Append(FunctionExitedMessage("h")))
	assert.NoError(t, a.Close())

	records, err := b.Records()
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "g", records[0].Message.Function)

	// closing a history over a shared store leaves the store open
	records, err = a.Records()
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

func TestListSessions(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	for _, session := range []string{"beta", "alpha"} {
		h, err := OpenEventHistory(dir, session)
		require.NoError(t, err)
		require.NoError(t, h.Append(FunctionExitedMessage("main")))
		require.NoError(t, h.Append(FunctionExitedMessage("main")))
		require.NoError(t, h.Close())
	}

	sessions, err := ListSessions(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{"alpha", "beta"}, sessions)

	h, err := OpenEventHistory(dir, "beta")
	require.NoError(t, err)
	defer func() { assert.NoError(t, h.Close()) }()
	records, err := h.Records()
	require.NoError(t, err)
	assert.Len(t, records, 2)
}

func TestReplayTasks(t *testing.T) {
	t.Parallel()

	parent := TaskID(1)
	msgs := []DebuggerMessage{
		AsyncTaskCreatedMessage("main", 1, nil),
		AsyncTaskCreatedMessage("fetch", 2, &parent),
		AsyncTaskStateChangedMessage(2, TaskCreated, TaskRunning),
		AsyncTaskStateChangedMessage(2, TaskRunning, TaskCompleted),
		{Kind: MsgAsyncTaskStateChanged, TaskID: 1, NewState: "Bogus"},
		FunctionExitedMessage("main"),
	}
	records := make([]HistoryRecord, len(msgs))
	for i, msg := range msgs {
		records[i] = HistoryRecord{Seq: uint64(i + 1), Message: msg}
	}

	tasks := ReplayTasks(records)
	require.Equal(t, 2, tasks.Len())
	task, ok := tasks.Get(2)
	require.True(t, ok)
	assert.Equal(t, TaskCompleted, task.State)
	require.NotNil(t, task.ParentID)
	assert.Equal(t, parent, *task.ParentID)
	task, _ = tasks.Get(1)
	assert.Equal(t, TaskCreated, task.State)
}
