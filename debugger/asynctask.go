package debugger

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-analyze/bulk"
	"github.com/vmihailenco/msgpack/v5"
	"go.uber.org/zap"
)

// TaskID identifies an asynchronous unit of work. Zero is never issued.
type TaskID = uint64

// TaskState is the lifecycle state of an async task.
type TaskState uint8

const (
	TaskCreated TaskState = iota
	TaskRunning
	TaskWaiting
	TaskCompleted
	TaskCancelled
)

var taskStateNames = [...]string{"Created", "Running", "Waiting", "Completed", "Cancelled"}

func (s TaskState) String() string {
	if int(s) < len(taskStateNames) {
		return taskStateNames[s]
	}
	return "TaskState(" + strconv.Itoa(int(s)) + ")"
}

// Terminal reports whether no further transitions are expected.
func (s TaskState) Terminal() bool {
	return s == TaskCompleted || s == TaskCancelled
}

// ParseTaskState reverses TaskState.String.
func ParseTaskState(s string) (TaskState, bool) {
	for i, name := range taskStateNames {
		if name == s {
			return TaskState(i), true
		}
	}
	return TaskCreated, false
}

// AsyncTaskInfo is the registry record of one task.
type AsyncTaskInfo struct {
	ID           TaskID    `msgpack:"id"`
	FunctionName string    `msgpack:"fn"`
	CreatedAt    time.Time `msgpack:"ca"`
	State        TaskState `msgpack:"st"`
	ParentID     *TaskID   `msgpack:"p,omitempty"`
	FinishedAt   time.Time `msgpack:"fa,omitempty"` // set on the transition to a terminal state
}

// Elapsed is the time since creation, or the lifetime of a finished task.
func (t AsyncTaskInfo) Elapsed() time.Duration {
	if !t.FinishedAt.IsZero() {
		return t.FinishedAt.Sub(t.CreatedAt)
	}
	return time.Since(t.CreatedAt)
}

// TaskContext identifies the task a unit of work belongs to. It travels with the work in a
// context.Context and must be handed on wherever the work resumes.
type TaskContext struct {
	ID       TaskID
	ParentID *TaskID
}

type taskContextKey struct{}

// WithTask returns ctx carrying tc.
func WithTask(ctx context.Context, tc TaskContext) context.Context {
	return context.WithValue(ctx, taskContextKey{}, tc)
}

// TaskFromContext returns the task carried by ctx.
func TaskFromContext(ctx context.Context) (TaskContext, bool) {
	if ctx == nil {
		return TaskContext{}, false
	}
	tc, ok := ctx.Value(taskContextKey{}).(TaskContext)
	return tc, ok
}

// TaskNotifier receives task lifecycle events, normally forwarding them to the controller.
type TaskNotifier interface {
	TaskCreated(info AsyncTaskInfo)
	TaskStateChanged(id TaskID, old, new TaskState)
}

// TaskRegistryOptions configures a TaskRegistry.
type TaskRegistryOptions struct {
	Notifier TaskNotifier
	// Archive receives terminal tasks evicted once more than MaxRetained are held; nil keeps
	// every task live.
	Archive     Storage
	MaxRetained int
	Logger      *zap.Logger
}

// TaskRegistry is the process wide table of async tasks.
type TaskRegistry struct {
	nextID atomic.Uint64

	mu       sync.RWMutex
	tasks    map[TaskID]*AsyncTaskInfo
	terminal int

	notifier    TaskNotifier
	archive     Storage
	maxRetained int
	log         *zap.Logger
}

func NewTaskRegistry(opts TaskRegistryOptions) *TaskRegistry {
	return &TaskRegistry{
		tasks:       make(map[TaskID]*AsyncTaskInfo),
		notifier:    opts.Notifier,
		archive:     opts.Archive,
		maxRetained: opts.MaxRetained,
		log:         loggerOrNop(opts.Logger),
	}
}

// SetNotifier replaces the lifecycle event receiver.
func (r *TaskRegistry) SetNotifier(n TaskNotifier) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notifier = n
}

// GenerateTaskID issues a new id and returns a context carrying it as the current task. The
// task carried by ctx, if any, becomes the parent.
func (r *TaskRegistry) GenerateTaskID(ctx context.Context) (context.Context, TaskID) {
	id := r.nextID.Add(1)
	tc := TaskContext{ID: id}
	if parent, ok := TaskFromContext(ctx); ok {
		pid := parent.ID
		tc.ParentID = &pid
	}
	if ctx == nil {
		ctx = context.Background()
	}
	return WithTask(ctx, tc), id
}

// Register records a task in the Created state. Registering a known id is a no-op and a task
// cannot be its own parent.
func (r *TaskRegistry) Register(name string, id TaskID, parentID *TaskID) bool {
	if parentID != nil && *parentID == id {
		parentID = nil
	}
	info := &AsyncTaskInfo{ID: id, FunctionName: name, CreatedAt: time.Now(), State: TaskCreated}
	if parentID != nil {
		pid := *parentID
		info.ParentID = &pid
	}

	r.mu.Lock()
	if _, exists := r.tasks[id]; exists {
		r.mu.Unlock()
		return false
	}
	r.tasks[id] = info
	notifier := r.notifier
	snapshot := *info
	r.mu.Unlock()

	if notifier != nil {
		notifier.TaskCreated(snapshot)
	}
	return true
}

// UpdateState transitions a task. Unknown ids are ignored since tasks may originate from code
// that is not instrumented.
func (r *TaskRegistry) UpdateState(id TaskID, state TaskState) bool {
	r.mu.Lock()
	task, ok := r.tasks[id]
	if !ok || task.State == state {
		r.mu.Unlock()
		return ok
	}
	old := task.State
	task.State = state
	if state.Terminal() && !old.Terminal() {
		task.FinishedAt = time.Now()
		r.terminal++
	} else if !state.Terminal() && old.Terminal() {
		task.FinishedAt = time.Time{}
		r.terminal--
	}
	r.evictLocked()
	notifier := r.notifier
	r.mu.Unlock()

	if notifier != nil {
		notifier.TaskStateChanged(id, old, state)
	}
	return true
}

// Complete marks a task Completed.
func (r *TaskRegistry) Complete(id TaskID) bool {
	return r.UpdateState(id, TaskCompleted)
}

// Get returns a live task.
func (r *TaskRegistry) Get(id TaskID) (AsyncTaskInfo, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if task, ok := r.tasks[id]; ok {
		return *task, true
	}
	return AsyncTaskInfo{}, false
}

// Lookup returns a live task, falling back to the archive.
func (r *TaskRegistry) Lookup(id TaskID) (AsyncTaskInfo, bool, error) {
	if task, ok := r.Get(id); ok {
		return task, true, nil
	} else if r.archive == nil {
		return AsyncTaskInfo{}, false, nil
	}
	blob, ok, err := r.archive.LoadState(archiveKey(id))
	if err != nil || !ok {
		return AsyncTaskInfo{}, false, err
	}
	task, err := decodeArchivedTask(blob)
	return task, err == nil, err
}

// Tasks returns the live tasks ordered by id.
func (r *TaskRegistry) Tasks() []AsyncTaskInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]AsyncTaskInfo, 0, len(r.tasks))
	for _, task := range r.tasks {
		result = append(result, *task)
	}
	slices.SortFunc(result, func(a, b AsyncTaskInfo) int {
		return cmp.Compare(a.ID, b.ID)
	})
	return result
}

func (r *TaskRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tasks)
}

// evictLocked archives the oldest finished tasks while more than maxRetained finished tasks are
// live. Failures keep the task live.
func (r *TaskRegistry) evictLocked() {
	if r.archive == nil || r.maxRetained <= 0 || r.terminal <= r.maxRetained {
		return
	}
	finished := make([]*AsyncTaskInfo, 0, r.terminal)
	for _, task := range r.tasks {
		if task.State.Terminal() {
			finished = append(finished, task)
		}
	}
	slices.SortFunc(finished, func(a, b *AsyncTaskInfo) int {
		if c := a.FinishedAt.Compare(b.FinishedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	for _, task := range finished[:len(finished)-r.maxRetained] {
		blob, err := encodeArchivedTask(*task)
		if err == nil {
			err = r.archive.SaveState(archiveKey(task.ID), blob)
		}
		if err != nil {
			r.log.Warn("archive async task failed", zap.Uint64("task", task.ID), zap.Error(err))
			return
		}
		delete(r.tasks, task.ID)
		r.terminal--
	}
}

// ArchivedTasks returns the tasks moved to the archive, ordered by id.
func (r *TaskRegistry) ArchivedTasks() ([]AsyncTaskInfo, error) {
	if r.archive == nil {
		return nil, nil
	}
	keys, err := r.archive.ListKeys()
	if err != nil {
		return nil, err
	}
	result := make([]AsyncTaskInfo, 0, len(keys))
	for _, key := range keys {
		blob, ok, err := r.archive.LoadState(key)
		if err != nil {
			return result, err
		} else if !ok {
			continue
		}
		task, err := decodeArchivedTask(blob)
		if err != nil {
			return result, err
		}
		result = append(result, task)
	}
	return result, nil
}

// Close releases the archive.
func (r *TaskRegistry) Close() error {
	if r.archive == nil {
		return nil
	}
	return r.archive.Close()
}

// archiveKey zero pads ids so archive keys list in id order.
func archiveKey(id TaskID) string {
	return fmt.Sprintf("%020d", id)
}

func encodeArchivedTask(task AsyncTaskInfo) ([]byte, error) {
	raw, err := msgpack.Marshal(&task)
	if err != nil {
		return nil, newError(KindSerialization, "archive task", "", err)
	}
	return ZstdCompress(nil, raw)
}

func decodeArchivedTask(blob []byte) (AsyncTaskInfo, error) {
	var task AsyncTaskInfo
	raw, err := ZstdDecompress(nil, blob)
	if err != nil {
		return task, newError(KindSerialization, "load archived task", "", err)
	}
	if err := msgpack.Unmarshal(raw, &task); err != nil {
		return task, newError(KindSerialization, "load archived task", "", err)
	}
	return task, nil
}

// VisualizeTree renders the live tasks as a tree, parents before children and siblings by id.
// Tasks whose parent is not live are shown as roots; tasks caught in a parent cycle are shown
// once each after the rooted trees.
func (r *TaskRegistry) VisualizeTree() string {
	return RenderTaskTree(r.Tasks())
}

// RenderTaskTree renders tasks in the VisualizeTree format.
func RenderTaskTree(tasks []AsyncTaskInfo) string {
	slices.SortFunc(tasks, func(a, b AsyncTaskInfo) int {
		return cmp.Compare(a.ID, b.ID)
	})
	known := make(map[TaskID]bool, len(tasks))
	for _, t := range tasks {
		known[t.ID] = true
	}
	// children grouped under their parent id, roots under 0
	tree := bulk.SliceToGroupsBy(func(t AsyncTaskInfo) TaskID {
		if t.ParentID == nil || !known[*t.ParentID] {
			return 0
		}
		return *t.ParentID
	}, tasks)

	var sb strings.Builder
	sb.WriteString("Async Task Tree:\n")
	visited := make(map[TaskID]bool, len(tasks))
	for _, root := range tree[0] {
		writeTaskNode(&sb, tree, visited, root, 0)
	}
	for _, t := range tasks {
		if !visited[t.ID] {
			writeTaskNode(&sb, tree, visited, t, 0)
		}
	}
	return sb.String()
}

func writeTaskNode(sb *strings.Builder, tree map[TaskID][]AsyncTaskInfo, visited map[TaskID]bool, task AsyncTaskInfo, depth int) {
	if visited[task.ID] {
		return
	}
	visited[task.ID] = true
	sb.WriteString(strings.Repeat("  ", depth))
	sb.WriteString(fmt.Sprintf("└─ Task %d (%s): %s [%s]\n",
		task.ID, task.FunctionName, task.State, task.Elapsed().Round(time.Millisecond)))
	for _, child := range tree[task.ID] {
		writeTaskNode(sb, tree, visited, child, depth+1)
	}
}
