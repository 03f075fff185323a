package debugger

import (
	"bufio"
	"fmt"
	"io"
	"strings"
	"sync"
)

// SessionView is the controller state offered to a ResponsePolicy.
type SessionView interface {
	TaskTree() string
	VariableLines() []string
	LastPoint() (ExecutionPoint, bool)
}

// ResponsePolicy decides how a paused target proceeds.
type ResponsePolicy interface {
	Decide(view SessionView, event DebuggerMessage) (DebuggerResponse, error)
}

// ContinuePolicy resumes every pause, tracing the session without interaction.
type ContinuePolicy struct{}

func (ContinuePolicy) Decide(SessionView, DebuggerMessage) (DebuggerResponse, error) {
	return ContinueResponse(), nil
}

// ScriptPolicy answers pauses from a fixed list of responses, then continues.
type ScriptPolicy struct {
	mu    sync.Mutex
	steps []DebuggerResponse
}

// ParseScript parses a comma separated list of commands: continue (c), next (n), step (s),
// out (o) and eval:<expr>.
func ParseScript(script string) (*ScriptPolicy, error) {
	p := &ScriptPolicy{}
	if strings.TrimSpace(script) == "" {
		return p, nil
	}
	for _, part := range strings.Split(script, ",") {
		part = strings.TrimSpace(part)
		if expr, ok := strings.CutPrefix(part, "eval:"); ok {
			p.steps = append(p.steps, EvaluateResponse(strings.TrimSpace(expr)))
			continue
		}
		resp, ok := parseStepCommand(part)
		if !ok {
			return nil, newError(KindSession, "parse script", "unknown command "+part, nil)
		}
		p.steps = append(p.steps, resp)
	}
	return p, nil
}

func parseStepCommand(cmd string) (DebuggerResponse, bool) {
	switch cmd {
	case "c", "continue":
		return ContinueResponse(), true
	case "n", "next":
		return StepOverResponse(), true
	case "s", "step":
		return StepIntoResponse(), true
	case "o", "out":
		return StepOutResponse(), true
	}
	return DebuggerResponse{}, false
}

func (p *ScriptPolicy) Decide(SessionView, DebuggerMessage) (DebuggerResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.steps) == 0 {
		return ContinueResponse(), nil
	}
	resp := p.steps[0]
	p.steps = p.steps[1:]
	return resp, nil
}

// Remaining returns the number of unused scripted responses.
func (p *ScriptPolicy) Remaining() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.steps)
}

const promptHelp = `commands:
  c, continue     resume execution
  n, next         step over
  s, step         step into
  o, out          step out
  p <expr>        evaluate an expression in the target
  vars            list variables
  tasks           show the async task tree
  where           show the current location
  help            show this help`

// PromptPolicy reads commands interactively. End of input continues.
type PromptPolicy struct {
	in  *bufio.Scanner
	out io.Writer
}

func NewPromptPolicy(in io.Reader, out io.Writer) *PromptPolicy {
	return &PromptPolicy{in: bufio.NewScanner(in), out: out}
}

func (p *PromptPolicy) Decide(view SessionView, _ DebuggerMessage) (DebuggerResponse, error) {
	for {
		_, _ = fmt.Fprint(p.out, "(dbug) ")
		if !p.in.Scan() {
			if err := p.in.Err(); err != nil {
				return ContinueResponse(), newError(KindSession, "read command", "", err)
			}
			return ContinueResponse(), nil
		}
		line := strings.TrimSpace(p.in.Text())
		cmd, arg, _ := strings.Cut(line, " ")
		if resp, ok := parseStepCommand(cmd); ok {
			return resp, nil
		}
		switch cmd {
		case "":
		case "p", "print":
			if arg = strings.TrimSpace(arg); arg == "" {
				_, _ = fmt.Fprintln(p.out, "usage: p <expr>")
				continue
			}
			return EvaluateResponse(arg), nil
		case "vars":
			lines := view.VariableLines()
			if len(lines) == 0 {
				_, _ = fmt.Fprintln(p.out, "no variables")
			}
			for _, l := range lines {
				_, _ = fmt.Fprintln(p.out, limitStringLines(l, 12, true))
			}
		case "tasks":
			_, _ = fmt.Fprint(p.out, view.TaskTree())
		case "where":
			if point, ok := view.LastPoint(); ok {
				_, _ = fmt.Fprintln(p.out, point)
			} else {
				_, _ = fmt.Fprintln(p.out, "no location")
			}
		case "help", "h", "?":
			_, _ = fmt.Fprintln(p.out, promptHelp)
		default:
			_, _ = fmt.Fprintf(p.out, "unknown command %q, try help\n", cmd)
		}
	}
}

// limitStringLines keeps the first (head) or last count lines of s.
func limitStringLines(s string, count int, head bool) string {
	lines := strings.Split(s, "\n")
	if len(lines) <= count {
		return s
	}
	if head {
		lines = append(lines[:count], "...")
	} else {
		lines = append([]string{"..."}, lines[len(lines)-count:]...)
	}
	return strings.Join(lines, "\n")
}
