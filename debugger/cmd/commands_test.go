package cmd

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bahdotsh/dbug/debugger"
)

func executeRoot(t *testing.T, args ...string) (string, error) {
	t.Helper()

	root := NewRootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestRootCommandTree(t *testing.T) {
	t.Parallel()

	root := NewRootCommand()
	var names []string
	for _, c := range root.Commands() {
		names = append(names, c.Name())
	}
	assert.Subset(t, names, []string{"run", "report", "sessions", "events", "tasks"})

	_, err := executeRoot(t, "run")
	assert.Error(t, err)
	_, err = executeRoot(t, "events")
	assert.Error(t, err)
}

func TestHistoryCommands(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	history, err := debugger.OpenEventHistory(dir, "session-1")
	require.NoError(t, err)
	parent := debugger.TaskID(1)
	for _, msg := range []debugger.DebuggerMessage{
		debugger.FunctionEnteredMessage("main", "main.rs", 1),
		debugger.AsyncTaskCreatedMessage("main", 1, nil),
		debugger.AsyncTaskCreatedMessage("fetch", 2, &parent),
	} {
		require.NoError(t, history.Append(msg))
	}
	require.NoError(t, history.Close())

	out, err := executeRoot(t, "sessions", "--history-dir", dir)
	require.NoError(t, err)
	assert.Equal(t, "session-1\n", out)

	out, err = executeRoot(t, "events", "session-1", "--history-dir", dir)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 3)
	assert.Contains(t, lines[0], "entered main at main.rs:1")

	out, err = executeRoot(t, "tasks", "session-1", "--history-dir", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "Async Task Tree:")
	assert.Contains(t, out, "  └─ Task 2 (fetch): Created")

	_, err = executeRoot(t, "sessions")
	assert.ErrorContains(t, err, "--history-dir required")
}

func TestReportCommand(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	jsonPath := filepath.Join(dir, "report.json")
	report := debugger.SessionReport{
		SessionID:   "abc",
		EventCount:  3,
		EventCounts: map[string]int{"FunctionEntered": 2, "BreakpointHit": 1},
		PauseCount:  1,
		TaskCount:   1,
		TaskStates:  map[string]int{"Completed": 1},
	}
	require.NoError(t, report.WriteToFile(jsonPath))

	chartPath := filepath.Join(dir, "report.svg")
	out, err := executeRoot(t, "report", "--json", jsonPath, "--charts", chartPath)
	require.NoError(t, err)
	assert.Contains(t, out, "Report file wrote: "+chartPath)
	assert.FileExists(t, chartPath)

	_, err = executeRoot(t, "report", "--json", jsonPath)
	assert.Error(t, err)
}
