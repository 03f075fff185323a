package debugger

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Controller is the controller side of a session: it receives the target's events, mirrors the
// target state and answers pauses through a ResponsePolicy.
type Controller struct {
	cfg       Config
	log       *zap.Logger
	sessionID string
	pid       int
	policy    ResponsePolicy
	out       io.Writer
	stderr    *LockedBuffer
	history   *EventHistory

	channel *Channel

	mu             sync.Mutex
	started        time.Time
	finished       time.Time
	tasks          *TaskRegistry
	variables      *VariableRegistry
	lastPoint      *ExecutionPoint
	evalPending    *DebuggerMessage // pausing event awaiting the result of an evaluation
	breakpointHits map[string]int
	pauses         int
	exitErr        error

	detachOnce sync.Once
	detachErr  error
	closeOnce  sync.Once
	closeErr   error
}

// ControllerOptions configures a Controller.
type ControllerOptions struct {
	Policy  ResponsePolicy // defaults to ContinuePolicy
	Output  io.Writer      // trace of received events, defaults to io.Discard
	History *EventHistory  // defaults to an in-memory history
	Logger  *zap.Logger
	// SessionID keys the event history, a random uuid when empty.
	SessionID string
	// Stderr collects the target's error output; its tail is kept in the report.
	Stderr *LockedBuffer
}

// NewController prepares a controller for the target with the given pid. The channel is opened
// once the target creates its segments.
func NewController(cfg Config, pid int, opts ControllerOptions) (*Controller, error) {
	sessionID := opts.SessionID
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	history := opts.History
	if history == nil {
		var err error
		if history, err = OpenEventHistory(cfg.HistoryDir, sessionID); err != nil {
			return nil, err
		}
	}
	policy := opts.Policy
	if policy == nil {
		policy = ContinuePolicy{}
	}
	out := opts.Output
	if out == nil {
		out = io.Discard
	}
	logger := loggerOrNop(opts.Logger).With(zap.String("session", sessionID))
	return &Controller{
		cfg:            cfg,
		log:            logger,
		sessionID:      sessionID,
		pid:            pid,
		policy:         policy,
		out:            out,
		stderr:         opts.Stderr,
		history:        history,
		started:        time.Now(),
		tasks:          NewTaskRegistry(TaskRegistryOptions{Logger: logger}),
		variables:      NewVariableRegistry(),
		breakpointHits: make(map[string]int),
	}, nil
}

func (c *Controller) SessionID() string {
	return c.sessionID
}

func (c *Controller) History() *EventHistory {
	return c.history
}

// Attach opens the channel to the target, reporting false while the segments do not exist yet.
func (c *Controller) Attach() bool {
	if c.channel != nil {
		return true
	}
	ch, err := OpenControllerChannel(c.cfg, c.pid, c.log)
	if err != nil {
		return false
	}
	c.channel = ch
	c.log.Info("attached to target", zap.Int("pid", c.pid))
	return true
}

// Poll handles the next frame sent by the target, reporting whether one was available.
func (c *Controller) Poll() (bool, error) {
	if !c.Attach() {
		return false, nil
	}
	msgs := c.channel.ReceiveMessages()
	if len(msgs) == 0 {
		return false, nil
	}
	var errs []error
	for _, msg := range msgs {
		errs = append(errs, c.Handle(msg))
	}
	return true, errors.Join(errs...)
}

// Handle records one event, updates the mirrored state and answers pauses.
func (c *Controller) Handle(msg DebuggerMessage) error {
	if err := c.history.Append(msg); err != nil {
		c.log.Warn("record history failed", zap.Error(err))
	}
	_, _ = fmt.Fprintln(c.out, msg)

	c.mu.Lock()
	switch msg.Kind {
	case MsgFunctionEntered:
		c.variables.EnterScope()
		c.lastPoint = &ExecutionPoint{File: msg.File, Line: msg.Line, Function: msg.Function}
	case MsgFunctionExited:
		c.variables.ExitScope()
	case MsgVariableChanged:
		v := c.variables.Declare(msg.Name, msg.TypeName, ParseValueRepr(msg.TypeName, msg.Value), msg.Mutable)
		if v.ChangeStatus == Modified || v.ChangeStatus == ChildModified {
			if diff := v.Diff(); diff != "" {
				_, _ = fmt.Fprint(c.out, diff)
			}
		}
	case MsgAsyncTaskCreated, MsgAsyncTaskStateChanged:
		applyTaskEvent(c.tasks, msg)
	case MsgBreakpointHit, MsgAsyncBreakPoint:
		c.lastPoint = &ExecutionPoint{File: msg.File, Line: msg.Line, Column: msg.Column, Function: msg.Function}
		c.breakpointHits[location(msg.File, msg.Line, msg.Column)]++
		c.pauses++
	}
	var paused *DebuggerMessage
	if msg.pausing() {
		paused = &msg
	} else if msg.Kind == MsgExpressionResult && c.evalPending != nil {
		// the target stays paused after answering an evaluation
		paused, c.evalPending = c.evalPending, nil
	}
	c.mu.Unlock()

	if paused != nil {
		return c.decide(*paused)
	}
	return nil
}

// decide consults the policy for a paused target and sends its response.
func (c *Controller) decide(event DebuggerMessage) error {
	resp, err := c.policy.Decide(c, event)
	if err != nil {
		c.log.Warn("policy failed, continuing", zap.Error(err))
		resp = ContinueResponse()
	}
	if resp.Action == RespEvaluate {
		c.mu.Lock()
		c.evalPending = &event
		c.mu.Unlock()
	}

	if c.channel == nil {
		return ErrChannelClosed.WithOp("send response")
	}
	return c.channel.SendResponse(resp)
}

// TaskTree renders the mirrored async tasks.
func (c *Controller) TaskTree() string {
	return c.tasks.VisualizeTree()
}

// Tasks returns the mirrored async tasks.
func (c *Controller) Tasks() []AsyncTaskInfo {
	return c.tasks.Tasks()
}

// VariableLines renders the mirrored variables, one per line.
func (c *Controller) VariableLines() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	all := c.variables.All()
	lines := make([]string, len(all))
	for i, v := range all {
		prefix := ""
		if v.IsMutable {
			prefix = "mut "
		}
		lines[i] = prefix + v.Name + ": " + v.TypeName + " = " + FormatValue(v.Value, c.cfg.DisplayDepth)
	}
	return lines
}

// LastPoint returns the last location reported by the target.
func (c *Controller) LastPoint() (ExecutionPoint, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.lastPoint == nil {
		return ExecutionPoint{}, false
	}
	return *c.lastPoint, true
}

// Run pumps events until the target process exits, then drains what it left behind and releases
// the channel. Cancelling ctx kills the target. The history stays readable until Close.
func (c *Controller) Run(ctx context.Context, target *exec.Cmd) error {
	g, gctx := errgroup.WithContext(ctx)
	exited := make(chan struct{})

	g.Go(func() error {
		defer close(exited)
		err := target.Wait()
		c.mu.Lock()
		c.exitErr = err
		c.mu.Unlock()
		return nil
	})
	g.Go(func() error {
		select {
		case <-exited:
		case <-gctx.Done():
			if err := target.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
				c.log.Warn("kill target failed", zap.Error(err))
			}
		}
		return nil
	})
	g.Go(func() error {
		ticker := time.NewTicker(c.cfg.PollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return gctx.Err()
			case <-exited:
				return c.drain()
			case <-ticker.C:
				for {
					received, err := c.Poll()
					if err != nil {
						c.log.Warn("handle event failed", zap.Error(err))
					}
					if !received {
						break
					}
				}
			}
		}
	})

	err := g.Wait()
	c.mu.Lock()
	c.finished = time.Now()
	exitErr := c.exitErr
	c.mu.Unlock()
	return errors.Join(err, c.detach(), exitErr)
}

// drain handles frames still in the segment after the target exited.
func (c *Controller) drain() error {
	for {
		received, err := c.Poll()
		if err != nil {
			c.log.Warn("handle event failed", zap.Error(err))
		}
		if !received {
			return nil
		}
	}
}

// detach closes the channel and removes segments a crashed target left behind.
func (c *Controller) detach() error {
	c.detachOnce.Do(func() {
		var errs []error
		if c.channel != nil {
			errs = append(errs, c.channel.Close())
		}
		msgPath, respPath := SegmentPaths(c.cfg.SegmentDir, c.pid)
		for _, path := range []string{msgPath, respPath} {
			if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
				errs = append(errs, err)
			}
		}
		c.detachErr = errors.Join(errs...)
	})
	return c.detachErr
}

// Close releases the channel and the history.
func (c *Controller) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = errors.Join(c.detach(), c.history.Close())
	})
	return c.closeErr
}
