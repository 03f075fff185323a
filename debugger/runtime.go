package debugger

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// Runtime is the target side of a debugging session. It owns the flow controller, breakpoint and
// watch registry and variable registry of the session, and shares the channel, task registry and
// evaluator for the lifetime of the process. All methods are safe for concurrent use; failures
// while notifying the controller are logged and never surface to instrumented code.
type Runtime struct {
	cfg     Config
	log     *zap.Logger
	channel *Channel // nil when debugging is not enabled
	tasks   *TaskRegistry
	eval    *Evaluator

	mu          sync.Mutex // guards flow and variables
	flow        *FlowController
	breakpoints *BreakpointRegistry
	variables   *VariableRegistry
	shutdown    bool

	pauseMu sync.Mutex // one pause conversation at a time
}

// NewRuntime builds a Runtime from cfg. The shared memory channel is only created when
// cfg.Enabled is set; otherwise every entry point only updates local state.
func NewRuntime(cfg Config, logger *zap.Logger) (*Runtime, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger = loggerOrNop(logger)
	eval, err := NewEvaluator(cfg.ExprCacheSize)
	if err != nil {
		return nil, err
	}
	r := &Runtime{
		cfg:         cfg,
		log:         logger,
		eval:        eval,
		flow:        NewFlowController(),
		breakpoints: NewBreakpointRegistry(eval),
		variables:   NewVariableRegistry(),
	}

	var archive Storage
	if cfg.MaxRetainedTasks > 0 {
		if archive, err = OpenStorage(cfg.ArchiveDir); err != nil {
			eval.Close()
			return nil, err
		}
	}
	r.tasks = NewTaskRegistry(TaskRegistryOptions{
		Notifier:    r,
		Archive:     archive,
		MaxRetained: cfg.MaxRetainedTasks,
		Logger:      logger,
	})

	if _, err := r.breakpoints.AddConfigured(cfg.Breakpoints); err != nil {
		eval.Close()
		return nil, errors.Join(err, r.tasks.Close())
	}
	for _, expr := range cfg.Watches {
		r.breakpoints.Watches().Add(expr)
	}

	if cfg.Enabled {
		if r.channel, err = NewTargetChannel(cfg, os.Getpid(), logger); err != nil {
			eval.Close()
			return nil, errors.Join(err, r.tasks.Close())
		}
	}
	r.flow.Start()
	return r, nil
}

// Enabled reports whether events are sent to a controller.
func (r *Runtime) Enabled() bool {
	return r.channel != nil
}

func (r *Runtime) Config() Config {
	return r.cfg
}

// Channel returns the target channel, nil when debugging is not enabled.
func (r *Runtime) Channel() *Channel {
	return r.channel
}

func (r *Runtime) Tasks() *TaskRegistry {
	return r.tasks
}

func (r *Runtime) Breakpoints() *BreakpointRegistry {
	return r.breakpoints
}

func (r *Runtime) Evaluator() *Evaluator {
	return r.eval
}

// send queues msg for the controller, logging failures.
func (r *Runtime) send(msg DebuggerMessage) {
	if r.channel == nil {
		return
	}
	if err := r.channel.QueueMessage(msg); err != nil {
		r.log.Warn("notify controller failed", zap.Stringer("kind", msg.Kind), zap.Error(err))
	}
}

// TaskCreated forwards a task registration to the controller.
func (r *Runtime) TaskCreated(info AsyncTaskInfo) {
	r.send(AsyncTaskCreatedMessage(info.FunctionName, info.ID, info.ParentID))
}

// TaskStateChanged forwards a task transition to the controller.
func (r *Runtime) TaskStateChanged(id TaskID, old, new TaskState) {
	r.send(AsyncTaskStateChangedMessage(id, old, new))
}

// FrameGuard notifies the exit of a function entered with EnterFunction.
type FrameGuard struct {
	r    *Runtime
	name string
	once sync.Once
}

// Exit notifies the function exit. It is meant to be deferred so it runs on every return path,
// including panics; calls after the first are ignored.
func (g *FrameGuard) Exit() {
	if g == nil {
		return
	}
	g.once.Do(func() {
		g.r.ExitFunction(g.name)
	})
}

// EnterFunction records entry into the named function at the caller's location and returns the
// guard that records its exit.
func (r *Runtime) EnterFunction(name string) *FrameGuard {
	file, line, _ := callerLocation(2)
	return r.enterFunction(name, file, line)
}

func (r *Runtime) enterFunction(name, file string, line uint32) *FrameGuard {
	r.mu.Lock()
	r.flow.EnterFunction(name, file, line)
	r.variables.EnterScope()
	r.mu.Unlock()

	r.send(FunctionEnteredMessage(name, file, line))
	return &FrameGuard{r: r, name: name}
}

// ExitFunction records the exit of the innermost function, dropping the variables of its scope.
func (r *Runtime) ExitFunction(name string) {
	r.mu.Lock()
	frame, ok := r.flow.ExitFunction()
	r.variables.ExitScope()
	r.mu.Unlock()

	if ok && frame.Function != name {
		r.log.Debug("unbalanced function exit", zap.String("exited", name), zap.String("frame", frame.Function))
	}
	r.send(FunctionExitedMessage(name))
}

// BreakPoint handles a debug point reached by instrumented code and blocks while the controller
// holds execution paused. A location with registered breakpoints pauses when one of them triggers;
// any other location pauses when BreakOnDebugPoints is set. A pending step also pauses here.
func (r *Runtime) BreakPoint(file string, line, column uint32) {
	_, _, fn := callerLocation(2)
	r.breakPoint(file, line, column, fn, 0)
}

// AsyncBreakPoint is BreakPoint for code running in the task carried by ctx. The task is marked
// Waiting while paused.
func (r *Runtime) AsyncBreakPoint(ctx context.Context, file string, line, column uint32) {
	_, _, fn := callerLocation(2)
	var id TaskID
	if tc, ok := TaskFromContext(ctx); ok {
		id = tc.ID
	}
	r.breakPoint(file, line, column, fn, id)
}

func (r *Runtime) breakPoint(file string, line, column uint32, callerFn string, taskID TaskID) {
	r.mu.Lock()
	if r.shutdown {
		r.mu.Unlock()
		return
	}
	point := r.flow.UpdateExecutionPoint(file, line, column)
	if point.Function == "" {
		point.Function = callerFn
	}
	pause := r.flow.State() == StatePaused
	if r.breakpoints.HasBreakpointAt(file, line, column) {
		vars := r.variables.Snapshot()
		pause = r.breakpoints.ShouldBreakAt(file, line, column, vars) || pause
	} else if r.cfg.BreakOnDebugPoints {
		pause = true
	}
	if pause {
		r.flow.Pause()
	}
	r.mu.Unlock()

	if !pause {
		return
	} else if r.channel == nil {
		r.resume(ActionContinue)
		return
	}

	if taskID != 0 {
		r.tasks.UpdateState(taskID, TaskWaiting)
		r.pause(AsyncBreakPointMessage(file, line, column, taskID))
		r.tasks.UpdateState(taskID, TaskRunning)
	} else {
		r.pause(BreakpointHitMessage(file, line, column, point.Function))
	}
}

// pause reports changed watches, sends the pausing event and serves controller responses until
// one resumes execution. A response timeout resumes with Continue.
func (r *Runtime) pause(event DebuggerMessage) {
	r.pauseMu.Lock()
	defer r.pauseMu.Unlock()

	for _, w := range r.UpdateWatches() {
		if w.Enabled && w.HasChanged {
			r.send(ExpressionResultMessage(w.Expression, w.LastValue))
			r.breakpoints.Watches().Acknowledge(w.ID)
		}
	}
	r.send(event)

	for {
		resp, err := r.channel.WaitForResponse()
		if err != nil {
			r.log.Warn("no controller response, continuing", zap.Stringer("event", event), zap.Error(err))
			resp = ContinueResponse()
		}
		if resp.Action == RespEvaluate {
			r.send(ExpressionResultMessage(resp.Expression, r.Evaluate(resp.Expression).String()))
			continue
		}
		action, ok := resp.FlowAction()
		if !ok {
			r.log.Warn("unknown controller response", zap.Stringer("response", resp))
		}
		r.resume(action)
		return
	}
}

func (r *Runtime) resume(action FlowAction) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.flow.Resume(action)
}

// RunToCursor resumes a paused session until the given line is reached.
func (r *Runtime) RunToCursor(file string, line uint32) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.flow.RunToCursor(file, line)
}

// RegisterVariable declares a variable in the current scope from its textual representation
// and reports it to the controller.
func (r *Runtime) RegisterVariable(name, typeName, valueRepr string, isMutable bool) {
	r.declare(name, typeName, ParseValueRepr(typeName, valueRepr), isMutable)
}

// RegisterValue declares a variable in the current scope from a live Go value.
func (r *Runtime) RegisterValue(name string, value any, isMutable bool) {
	r.declare(name, CaptureTypeName(value), CaptureValue(value), isMutable)
}

func (r *Runtime) declare(name, typeName string, value VariableValue, isMutable bool) {
	r.mu.Lock()
	prev, existed := r.variables.Get(name)
	unchanged := existed && prev.ScopeLevel == r.variables.Scope() && ValuesEqual(prev.Value, value)
	r.variables.Declare(name, typeName, value, isMutable)
	r.mu.Unlock()

	if !unchanged {
		r.send(VariableChangedMessage(name, typeName, FormatValue(value, r.cfg.DisplayDepth), isMutable))
	}
}

// UpdateVariable assigns a new value to a visible variable. Assigning an equal value sends nothing.
func (r *Runtime) UpdateVariable(name string, value VariableValue) error {
	r.mu.Lock()
	v, ok := r.variables.Get(name)
	if !ok {
		r.mu.Unlock()
		return ErrVariableNotFound.WithOp("update variable " + name)
	}
	changed := !ValuesEqual(v.Value, value)
	typeName, isMutable := v.TypeName, v.IsMutable
	err := r.variables.Update(name, value)
	r.mu.Unlock()

	if err == nil && changed {
		r.send(VariableChangedMessage(name, typeName, FormatValue(value, r.cfg.DisplayDepth), isMutable))
	}
	return err
}

// Variable returns a copy of the innermost visible binding of name.
func (r *Runtime) Variable(name string) (Variable, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if v, ok := r.variables.Get(name); ok {
		return *v, true
	}
	return Variable{}, false
}

// Variables returns copies of the visible variables ordered by name.
func (r *Runtime) Variables() []Variable {
	r.mu.Lock()
	defer r.mu.Unlock()

	all := r.variables.All()
	result := make([]Variable, len(all))
	for i, v := range all {
		result[i] = *v
	}
	return result
}

// ChangedVariables returns the names of variables changed since the previous call.
func (r *Runtime) ChangedVariables() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	changed := r.variables.ChangedVariables()
	names := make([]string, len(changed))
	for i, v := range changed {
		names[i] = v.Name
	}
	return names
}

// VisualizeVariable returns the detailed rendering of a visible variable.
func (r *Runtime) VisualizeVariable(name string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.variables.Visualize(name)
}

// Evaluate evaluates expr against the visible variables.
func (r *Runtime) Evaluate(expr string) EvalResult {
	r.mu.Lock()
	vars := r.variables.Snapshot()
	r.mu.Unlock()
	return r.eval.Evaluate(expr, vars)
}

// AddWatch registers a watch expression and returns its id.
func (r *Runtime) AddWatch(expr string) uint64 {
	return r.breakpoints.Watches().Add(expr)
}

// UpdateWatches re-evaluates the watches against the visible variables.
func (r *Runtime) UpdateWatches() []WatchExpression {
	r.mu.Lock()
	vars := r.variables.Snapshot()
	r.mu.Unlock()
	return r.breakpoints.Watches().Update(vars)
}

func (r *Runtime) State() ExecutionState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.flow.State()
}

// CurrentPoint returns the last reached debug point.
func (r *Runtime) CurrentPoint() (ExecutionPoint, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.flow.CurrentPoint()
}

// CallStack returns the active frames, outermost first.
func (r *Runtime) CallStack() []StackFrame {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.flow.CallStack().Frames()
}

// GenerateAsyncTaskID issues a task id and returns ctx carrying it as the current task.
func (r *Runtime) GenerateAsyncTaskID(ctx context.Context) (context.Context, TaskID) {
	return r.tasks.GenerateTaskID(ctx)
}

// AsyncGuard notifies the exit of an async function entered with EnterAsyncFunction.
type AsyncGuard struct {
	r    *Runtime
	name string
	id   TaskID
	once sync.Once
}

func (g *AsyncGuard) TaskID() TaskID {
	return g.id
}

// Exit completes the task. It must be deferred directly: when the function is panicking the
// task is marked Cancelled instead and the panic continues.
func (g *AsyncGuard) Exit() {
	if g == nil {
		return
	}
	if p := recover(); p != nil {
		g.once.Do(func() {
			g.r.send(AsyncFunctionExitedMessage(g.name, g.id))
			g.r.tasks.UpdateState(g.id, TaskCancelled)
		})
		panic(p)
	}
	g.once.Do(func() {
		g.r.ExitAsyncFunction(g.name, g.id)
	})
}

// EnterAsyncFunction registers the task id as a Running unit of work. The parent is taken from
// ctx: the parent of id when ctx carries id itself, otherwise the task ctx carries.
func (r *Runtime) EnterAsyncFunction(ctx context.Context, name string, id TaskID) *AsyncGuard {
	var parent *TaskID
	if tc, ok := TaskFromContext(ctx); ok {
		if tc.ID == id {
			parent = tc.ParentID
		} else {
			pid := tc.ID
			parent = &pid
		}
	}
	r.send(AsyncFunctionEnteredMessage(name, id))
	r.tasks.Register(name, id, parent)
	r.tasks.UpdateState(id, TaskRunning)
	return &AsyncGuard{r: r, name: name, id: id}
}

// StartAsync issues a task id for a new unit of work and enters it, returning the context to
// hand to that work.
func (r *Runtime) StartAsync(ctx context.Context, name string) (context.Context, *AsyncGuard) {
	ctx, id := r.GenerateAsyncTaskID(ctx)
	return ctx, r.EnterAsyncFunction(ctx, name, id)
}

// ExitAsyncFunction marks the task Completed.
func (r *Runtime) ExitAsyncFunction(name string, id TaskID) {
	r.send(AsyncFunctionExitedMessage(name, id))
	r.tasks.Complete(id)
}

// Shutdown completes the session and releases the channel and task archive. Entry points called
// afterwards only update local state.
func (r *Runtime) Shutdown() error {
	r.mu.Lock()
	if r.shutdown {
		r.mu.Unlock()
		return nil
	}
	r.shutdown = true
	r.flow.Complete()
	r.mu.Unlock()

	var errs []error
	if r.channel != nil {
		errs = append(errs, r.channel.Close())
	}
	errs = append(errs, r.tasks.Close())
	r.eval.Close()
	return errors.Join(errs...)
}

// callerLocation returns the file, line and short function name skip frames above it.
func callerLocation(skip int) (string, uint32, string) {
	pc, file, line, ok := runtime.Caller(skip)
	if !ok {
		return "unknown", 0, "unknown"
	}
	fn := "unknown"
	if f := runtime.FuncForPC(pc); f != nil {
		fn = f.Name()
		if i := strings.LastIndexByte(fn, '/'); i >= 0 {
			fn = fn[i+1:]
		}
	}
	return filepath.ToSlash(file), uint32(line), fn
}
