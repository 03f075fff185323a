package debugger

import (
	"slices"
	"strconv"
)

// ExecutionState is the lifecycle state of the debugged program.
type ExecutionState uint8

const (
	StateNotRunning ExecutionState = iota
	StateRunning
	StatePaused
	StateCompleted
	StateError
)

func (s ExecutionState) String() string {
	switch s {
	case StateNotRunning:
		return "NotRunning"
	case StateRunning:
		return "Running"
	case StatePaused:
		return "Paused"
	case StateCompleted:
		return "Completed"
	case StateError:
		return "Error"
	default:
		return "ExecutionState(" + strconv.Itoa(int(s)) + ")"
	}
}

func (s ExecutionState) terminal() bool {
	return s == StateCompleted || s == StateError
}

// FlowAction is how execution proceeds once resumed.
type FlowAction uint8

const (
	ActionContinue FlowAction = iota
	ActionStepOver
	ActionStepInto
	ActionStepOut
	ActionRunToCursor
	ActionStop
)

func (a FlowAction) String() string {
	switch a {
	case ActionContinue:
		return "Continue"
	case ActionStepOver:
		return "StepOver"
	case ActionStepInto:
		return "StepInto"
	case ActionStepOut:
		return "StepOut"
	case ActionRunToCursor:
		return "RunToCursor"
	case ActionStop:
		return "Stop"
	default:
		return "FlowAction(" + strconv.Itoa(int(a)) + ")"
	}
}

// ExecutionPoint is a source location reached by the program. StackDepth is the call stack
// length at the moment the point was captured.
type ExecutionPoint struct {
	File       string
	Line       uint32
	Column     uint32
	Function   string
	StackDepth int
}

func (p ExecutionPoint) String() string {
	s := p.File + ":" + strconv.FormatUint(uint64(p.Line), 10) + ":" + strconv.FormatUint(uint64(p.Column), 10)
	if p.Function != "" {
		s += " in " + p.Function
	}
	return s
}

// StackFrame is one active function call.
type StackFrame struct {
	Function  string
	File      string
	Line      uint32
	Variables []string
}

// CallStack is the ordered list of active frames, innermost last.
type CallStack struct {
	frames []StackFrame
}

func (s *CallStack) Push(frame StackFrame) {
	s.frames = append(s.frames, frame)
}

// Pop removes and returns the innermost frame.
func (s *CallStack) Pop() (StackFrame, bool) {
	if len(s.frames) == 0 {
		return StackFrame{}, false
	}
	frame := s.frames[len(s.frames)-1]
	s.frames = s.frames[:len(s.frames)-1]
	return frame, true
}

// Current returns the innermost frame.
func (s *CallStack) Current() (*StackFrame, bool) {
	if len(s.frames) == 0 {
		return nil, false
	}
	return &s.frames[len(s.frames)-1], true
}

// Frames returns a copy of the frames, outermost first.
func (s *CallStack) Frames() []StackFrame {
	return slices.Clone(s.frames)
}

func (s *CallStack) Depth() int {
	return len(s.frames)
}

func (s *CallStack) Clear() {
	s.frames = s.frames[:0]
}

type cursor struct {
	file string
	line uint32
}

// FlowController is the execution state machine of a session. It decides when execution
// pauses; applying the pause (waiting on the controller) is left to the caller.
type FlowController struct {
	state  ExecutionState
	action FlowAction
	stack  CallStack
	point  *ExecutionPoint

	stepDepth int // call depth a step out was issued from
	cursor    *cursor
	errMsg    string
}

func NewFlowController() *FlowController {
	return &FlowController{state: StateNotRunning, action: ActionStop}
}

// Start begins running with Continue and an empty call stack. Only valid from NotRunning or
// Paused; returns false otherwise.
func (f *FlowController) Start() bool {
	if f.state != StateNotRunning && f.state != StatePaused {
		return false
	}
	f.state = StateRunning
	f.action = ActionContinue
	f.stack.Clear()
	f.cursor = nil
	return true
}

// Pause stops a running program at the current point.
func (f *FlowController) Pause() bool {
	if f.state != StateRunning {
		return false
	}
	f.state = StatePaused
	return true
}

// Resume applies a controller decision. Resuming a finished program is a no-op, stepping out of
// an empty call stack degrades to Continue and RunToCursor without a cursor degrades to Continue.
func (f *FlowController) Resume(action FlowAction) bool {
	if f.state.terminal() {
		return false
	}
	if action == ActionStop {
		f.Stop()
		return true
	}
	if action == ActionStepOut && f.stack.Depth() == 0 {
		action = ActionContinue
	}
	if action == ActionRunToCursor && f.cursor == nil {
		action = ActionContinue
	}
	if action != ActionRunToCursor {
		f.cursor = nil
	}
	f.state = StateRunning
	f.action = action
	f.stepDepth = f.stack.Depth()
	return true
}

// RunToCursor resumes until the given line is reached.
func (f *FlowController) RunToCursor(file string, line uint32) bool {
	f.cursor = &cursor{file: file, line: line}
	return f.Resume(ActionRunToCursor)
}

// Stop ends the run, clearing the call stack and current point.
func (f *FlowController) Stop() {
	f.state = StateNotRunning
	f.action = ActionStop
	f.stack.Clear()
	f.point = nil
	f.cursor = nil
}

// Complete marks a normal end of the program.
func (f *FlowController) Complete() {
	f.state = StateCompleted
	f.action = ActionStop
}

// Error marks an abnormal end of the program.
func (f *FlowController) Error(msg string) {
	f.state = StateError
	f.action = ActionStop
	f.errMsg = msg
}

// EnterFunction pushes a frame. Stepping into pauses on entry.
func (f *FlowController) EnterFunction(function, file string, line uint32) {
	f.stack.Push(StackFrame{Function: function, File: file, Line: line})
	if f.state == StateRunning && f.action == ActionStepInto {
		f.state = StatePaused
	}
}

// ExitFunction pops the innermost frame. Stepping out pauses once the frame the step was issued
// from returns, then the action resets to Continue.
func (f *FlowController) ExitFunction() (StackFrame, bool) {
	frame, ok := f.stack.Pop()
	if !ok {
		return frame, false
	}
	if f.state == StateRunning && f.action == ActionStepOut && f.stack.Depth() < f.stepDepth {
		f.state = StatePaused
		f.action = ActionContinue
	}
	return frame, true
}

// UpdateExecutionPoint records a reached location, stamped with the current function and
// stack depth, and completes any pending step that the location satisfies. Every location
// reached after a resume is a new one, so step over and step into pause on it at any depth.
func (f *FlowController) UpdateExecutionPoint(file string, line, column uint32) ExecutionPoint {
	point := ExecutionPoint{File: file, Line: line, Column: column, StackDepth: f.stack.Depth()}
	if frame, ok := f.stack.Current(); ok {
		point.Function = frame.Function
	}
	f.point = &point

	if f.state != StateRunning {
		return point
	}
	switch f.action {
	case ActionStepInto, ActionStepOver:
		f.state = StatePaused
	case ActionRunToCursor:
		if f.cursor != nil && f.cursor.line == line && sameSourceFile(f.cursor.file, file) {
			f.state = StatePaused
			f.action = ActionContinue
			f.cursor = nil
		}
	}
	return point
}

func (f *FlowController) State() ExecutionState {
	return f.state
}

func (f *FlowController) Action() FlowAction {
	return f.action
}

// CurrentPoint returns the last recorded execution point.
func (f *FlowController) CurrentPoint() (ExecutionPoint, bool) {
	if f.point == nil {
		return ExecutionPoint{}, false
	}
	return *f.point, true
}

func (f *FlowController) CallStack() *CallStack {
	return &f.stack
}

// ErrorMessage returns the message recorded by Error.
func (f *FlowController) ErrorMessage() string {
	return f.errMsg
}
