package debugger

import (
	"strconv"
)

// MessageKind identifies the variant carried by a DebuggerMessage.
type MessageKind uint8

const (
	MsgBreakpointHit MessageKind = iota + 1
	MsgFunctionEntered
	MsgFunctionExited
	MsgVariableChanged
	MsgExpressionResult
	MsgAsyncTaskCreated
	MsgAsyncTaskStateChanged
	MsgAsyncFunctionEntered
	MsgAsyncFunctionExited
	MsgAsyncBreakPoint
	MsgBatch
)

var messageKindNames = map[MessageKind]string{
	MsgBreakpointHit:         "BreakpointHit",
	MsgFunctionEntered:       "FunctionEntered",
	MsgFunctionExited:        "FunctionExited",
	MsgVariableChanged:       "VariableChanged",
	MsgExpressionResult:      "ExpressionResult",
	MsgAsyncTaskCreated:      "AsyncTaskCreated",
	MsgAsyncTaskStateChanged: "AsyncTaskStateChanged",
	MsgAsyncFunctionEntered:  "AsyncFunctionEntered",
	MsgAsyncFunctionExited:   "AsyncFunctionExited",
	MsgAsyncBreakPoint:       "AsyncBreakPoint",
	MsgBatch:                 "BatchedMessages",
}

func (k MessageKind) String() string {
	if name, ok := messageKindNames[k]; ok {
		return name
	}
	return "MessageKind(" + strconv.Itoa(int(k)) + ")"
}

// DebuggerMessage is an event sent from the target to the controller. Only the fields relevant
// to Kind are set; Function also carries the function name of the async variants.
type DebuggerMessage struct {
	Kind MessageKind `msgpack:"k"`

	File     string `msgpack:"f,omitempty"`
	Line     uint32 `msgpack:"l,omitempty"`
	Column   uint32 `msgpack:"c,omitempty"`
	Function string `msgpack:"fn,omitempty"`

	Name     string `msgpack:"n,omitempty"`
	TypeName string `msgpack:"t,omitempty"`
	Value    string `msgpack:"v,omitempty"`
	Mutable  bool   `msgpack:"mu,omitempty"`

	Expression string `msgpack:"e,omitempty"`
	Result     string `msgpack:"r,omitempty"`

	TaskID   TaskID  `msgpack:"id,omitempty"`
	ParentID *TaskID `msgpack:"p,omitempty"`
	OldState string  `msgpack:"os,omitempty"`
	NewState string  `msgpack:"ns,omitempty"`

	Batch []DebuggerMessage `msgpack:"b,omitempty"`
}

func BreakpointHitMessage(file string, line, column uint32, function string) DebuggerMessage {
	return DebuggerMessage{Kind: MsgBreakpointHit, File: file, Line: line, Column: column, Function: function}
}

func FunctionEnteredMessage(function, file string, line uint32) DebuggerMessage {
	return DebuggerMessage{Kind: MsgFunctionEntered, Function: function, File: file, Line: line}
}

func FunctionExitedMessage(function string) DebuggerMessage {
	return DebuggerMessage{Kind: MsgFunctionExited, Function: function}
}

func VariableChangedMessage(name, typeName, value string, mutable bool) DebuggerMessage {
	return DebuggerMessage{Kind: MsgVariableChanged, Name: name, TypeName: typeName, Value: value, Mutable: mutable}
}

func ExpressionResultMessage(expression, result string) DebuggerMessage {
	return DebuggerMessage{Kind: MsgExpressionResult, Expression: expression, Result: result}
}

func AsyncTaskCreatedMessage(function string, id TaskID, parentID *TaskID) DebuggerMessage {
	msg := DebuggerMessage{Kind: MsgAsyncTaskCreated, Function: function, TaskID: id}
	if parentID != nil {
		pid := *parentID
		msg.ParentID = &pid
	}
	return msg
}

func AsyncTaskStateChangedMessage(id TaskID, old, new TaskState) DebuggerMessage {
	return DebuggerMessage{Kind: MsgAsyncTaskStateChanged, TaskID: id, OldState: old.String(), NewState: new.String()}
}

func AsyncFunctionEnteredMessage(function string, id TaskID) DebuggerMessage {
	return DebuggerMessage{Kind: MsgAsyncFunctionEntered, Function: function, TaskID: id}
}

func AsyncFunctionExitedMessage(function string, id TaskID) DebuggerMessage {
	return DebuggerMessage{Kind: MsgAsyncFunctionExited, Function: function, TaskID: id}
}

func AsyncBreakPointMessage(file string, line, column uint32, id TaskID) DebuggerMessage {
	return DebuggerMessage{Kind: MsgAsyncBreakPoint, File: file, Line: line, Column: column, TaskID: id}
}

// BatchMessage wraps messages in order. A single message is returned unwrapped.
func BatchMessage(msgs []DebuggerMessage) DebuggerMessage {
	if len(msgs) == 1 {
		return msgs[0]
	}
	return DebuggerMessage{Kind: MsgBatch, Batch: msgs}
}

// Flatten returns the message itself, or the batched messages in order, recursively.
func (m DebuggerMessage) Flatten() []DebuggerMessage {
	if m.Kind != MsgBatch {
		return []DebuggerMessage{m}
	}
	result := make([]DebuggerMessage, 0, len(m.Batch))
	for _, inner := range m.Batch {
		result = append(result, inner.Flatten()...)
	}
	return result
}

// pausing reports whether the target waits for a response after sending the message.
func (m DebuggerMessage) pausing() bool {
	return m.Kind == MsgBreakpointHit || m.Kind == MsgAsyncBreakPoint
}

func (m DebuggerMessage) String() string {
	switch m.Kind {
	case MsgBreakpointHit:
		return "breakpoint hit at " + location(m.File, m.Line, m.Column) + " in " + m.Function
	case MsgFunctionEntered:
		return "entered " + m.Function + " at " + location(m.File, m.Line, 0)
	case MsgFunctionExited:
		return "exited " + m.Function
	case MsgVariableChanged:
		prefix := ""
		if m.Mutable {
			prefix = "mut "
		}
		return prefix + m.Name + ": " + m.TypeName + " = " + m.Value
	case MsgExpressionResult:
		return m.Expression + " = " + m.Result
	case MsgAsyncTaskCreated:
		s := "task " + strconv.FormatUint(m.TaskID, 10) + " created (" + m.Function + ")"
		if m.ParentID != nil {
			s += " parent " + strconv.FormatUint(*m.ParentID, 10)
		}
		return s
	case MsgAsyncTaskStateChanged:
		return "task " + strconv.FormatUint(m.TaskID, 10) + ": " + m.OldState + " -> " + m.NewState
	case MsgAsyncFunctionEntered:
		return "task " + strconv.FormatUint(m.TaskID, 10) + " entered " + m.Function
	case MsgAsyncFunctionExited:
		return "task " + strconv.FormatUint(m.TaskID, 10) + " exited " + m.Function
	case MsgAsyncBreakPoint:
		return "async breakpoint at " + location(m.File, m.Line, m.Column) + " in task " + strconv.FormatUint(m.TaskID, 10)
	case MsgBatch:
		return "batch of " + strconv.Itoa(len(m.Batch))
	}
	return m.Kind.String()
}

func location(file string, line, column uint32) string {
	s := file + ":" + strconv.FormatUint(uint64(line), 10)
	if column != 0 {
		s += ":" + strconv.FormatUint(uint64(column), 10)
	}
	return s
}

// ResponseAction is the controller decision carried by a DebuggerResponse.
type ResponseAction uint8

const (
	RespContinue ResponseAction = iota + 1
	RespStepOver
	RespStepInto
	RespStepOut
	RespEvaluate
)

func (a ResponseAction) String() string {
	switch a {
	case RespContinue:
		return "Continue"
	case RespStepOver:
		return "StepOver"
	case RespStepInto:
		return "StepInto"
	case RespStepOut:
		return "StepOut"
	case RespEvaluate:
		return "Evaluate"
	}
	return "ResponseAction(" + strconv.Itoa(int(a)) + ")"
}

// DebuggerResponse is a command sent from the controller back to a paused target.
type DebuggerResponse struct {
	Action     ResponseAction `msgpack:"a"`
	Expression string         `msgpack:"e,omitempty"` // RespEvaluate only
}

func ContinueResponse() DebuggerResponse { return DebuggerResponse{Action: RespContinue} }
func StepOverResponse() DebuggerResponse { return DebuggerResponse{Action: RespStepOver} }
func StepIntoResponse() DebuggerResponse { return DebuggerResponse{Action: RespStepInto} }
func StepOutResponse() DebuggerResponse  { return DebuggerResponse{Action: RespStepOut} }

func EvaluateResponse(expr string) DebuggerResponse {
	return DebuggerResponse{Action: RespEvaluate, Expression: expr}
}

// FlowAction maps a stepping response onto the flow controller. Evaluate has no flow action.
func (r DebuggerResponse) FlowAction() (FlowAction, bool) {
	switch r.Action {
	case RespContinue:
		return ActionContinue, true
	case RespStepOver:
		return ActionStepOver, true
	case RespStepInto:
		return ActionStepInto, true
	case RespStepOut:
		return ActionStepOut, true
	}
	return ActionContinue, false
}

func (r DebuggerResponse) String() string {
	if r.Action == RespEvaluate {
		return "Evaluate(" + r.Expression + ")"
	}
	return r.Action.String()
}
