package debugger

import (
	"errors"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Channel is one end of the shared memory transport between the target and the controller. The
// target side queues events and waits for responses; the controller side receives events and
// sends responses.
type Channel struct {
	cfg    Config
	log    *zap.Logger
	pid    int
	target bool

	out *segment // written by this side
	in  *segment // read by this side

	mu        sync.Mutex
	queue     []DebuggerMessage
	lastFlush time.Time

	inFlight atomic.Bool
	waitMu   sync.Mutex
	closed   atomic.Bool
	flushes  atomic.Uint64
}

// NewTargetChannel creates both segments for the given target pid.
func NewTargetChannel(cfg Config, pid int, logger *zap.Logger) (*Channel, error) {
	msgPath, respPath := SegmentPaths(cfg.SegmentDir, pid)
	if cfg.SegmentDir != "" {
		if err := os.MkdirAll(cfg.SegmentDir, 0700); err != nil {
			return nil, newError(KindIO, "create segment dir", cfg.SegmentDir, err)
		}
	}
	out, err := createSegment(msgPath, cfg.SegmentSize)
	if err != nil {
		return nil, err
	}
	in, err := createSegment(respPath, cfg.SegmentSize)
	if err != nil {
		return nil, errors.Join(err, out.close(true))
	}
	return &Channel{
		cfg:       cfg,
		log:       loggerOrNop(logger).With(zap.String("side", "target"), zap.Int("pid", pid)),
		pid:       pid,
		target:    true,
		out:       out,
		in:        in,
		lastFlush: time.Now(),
	}, nil
}

// OpenControllerChannel maps the segments created by the target with the given pid.
func OpenControllerChannel(cfg Config, pid int, logger *zap.Logger) (*Channel, error) {
	msgPath, respPath := SegmentPaths(cfg.SegmentDir, pid)
	in, err := openSegment(msgPath)
	if err != nil {
		return nil, err
	}
	out, err := openSegment(respPath)
	if err != nil {
		return nil, errors.Join(err, in.close(false))
	}
	return &Channel{
		cfg:       cfg,
		log:       loggerOrNop(logger).With(zap.String("side", "controller"), zap.Int("pid", pid)),
		pid:       pid,
		out:       out,
		in:        in,
		lastFlush: time.Now(),
	}, nil
}

// WaitForSegments polls until the target with the given pid has created its segments.
func WaitForSegments(cfg Config, pid int, timeout time.Duration) error {
	msgPath, respPath := SegmentPaths(cfg.SegmentDir, pid)
	deadline := time.Now().Add(timeout)
	for {
		_, err1 := os.Stat(msgPath)
		_, err2 := os.Stat(respPath)
		if err1 == nil && err2 == nil {
			return nil
		} else if time.Now().After(deadline) {
			return ErrResponseTimeout.WithOp("wait for segments").WithCause(errors.Join(err1, err2))
		}
		time.Sleep(cfg.PollInterval)
	}
}

func (c *Channel) PID() int {
	return c.pid
}

// Closed reports whether Close was called.
func (c *Channel) Closed() bool {
	return c.closed.Load()
}

// Flushes returns the number of frames written to the outbound segment.
func (c *Channel) Flushes() uint64 {
	return c.flushes.Load()
}

// Pending returns the number of queued messages.
func (c *Channel) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.queue)
}

// QueueMessage appends msg to the outbound queue, flushing when the batch is full, the message is
// a breakpoint hit, or the flush interval elapsed. Queuing on a closed channel is a no-op.
func (c *Channel) QueueMessage(msg DebuggerMessage) error {
	if c.closed.Load() {
		return nil
	}
	c.mu.Lock()
	c.queue = append(c.queue, msg)
	flush := len(c.queue) >= c.cfg.MaxBatchSize ||
		msg.pausing() ||
		time.Since(c.lastFlush) >= c.cfg.FlushInterval
	c.mu.Unlock()

	if flush {
		return c.Flush()
	}
	return nil
}

// Flush writes all queued messages as one frame, batched when more than one is pending. A flush
// started while another is in flight returns immediately, leaving the messages queued.
func (c *Channel) Flush() error {
	if !c.inFlight.CompareAndSwap(false, true) {
		return nil
	}
	defer c.inFlight.Store(false)

	c.mu.Lock()
	pending := c.queue
	c.queue = nil
	c.lastFlush = time.Now()
	c.mu.Unlock()
	if len(pending) == 0 || c.out == nil {
		return nil
	}

	frame, err := encodeFrame(BatchMessage(pending), c.cfg.CompressThreshold)
	if err == nil && len(frame)+1 > c.out.size() {
		err = ErrPayloadTooLarge.WithOp("flush")
	}
	if err != nil {
		c.log.Error("dropping unsendable messages", zap.Int("count", len(pending)),
			zap.Stringers("messages", pending), zap.Error(err))
		return err
	}

	c.awaitDrain()
	if err := c.out.write(frame); err != nil {
		return err
	}
	c.flushes.Add(1)
	c.log.Debug("flushed", zap.Int("messages", len(pending)), zap.Int("bytes", len(frame)))
	return nil
}

// awaitDrain gives the reader a bounded chance to consume the previous frame.
func (c *Channel) awaitDrain() {
	if c.out.empty() || c.cfg.DrainWait <= 0 {
		return
	}
	deadline := time.Now().Add(c.cfg.DrainWait)
	for !c.out.empty() && time.Now().Before(deadline) {
		time.Sleep(min(c.cfg.PollInterval, c.cfg.DrainWait))
	}
	if !c.out.empty() {
		c.log.Debug("overwriting unread frame")
	}
}

// flushAll flushes until the queue is empty, waiting out flushes running on other goroutines.
func (c *Channel) flushAll(deadline time.Time) error {
	for {
		if err := c.Flush(); err != nil {
			return err
		} else if c.Pending() == 0 {
			return nil
		} else if time.Now().After(deadline) {
			return ErrResponseTimeout.WithOp("flush")
		}
		time.Sleep(c.cfg.PollInterval)
	}
}

// WaitForResponse flushes pending output, then polls the inbound segment until a response
// arrives or the response timeout elapses. Waits are serialized; each response is consumed once.
func (c *Channel) WaitForResponse() (DebuggerResponse, error) {
	if c.closed.Load() {
		return DebuggerResponse{}, ErrChannelClosed.WithOp("wait_for_response")
	}
	c.waitMu.Lock()
	defer c.waitMu.Unlock()

	deadline := time.Now().Add(c.cfg.ResponseTimeout)
	if err := c.flushAll(deadline); err != nil {
		return DebuggerResponse{}, err
	}
	for {
		var resp DebuggerResponse
		if c.receive(&resp) {
			return resp, nil
		} else if time.Now().After(deadline) {
			return DebuggerResponse{}, ErrResponseTimeout.WithOp("wait_for_response")
		} else if c.closed.Load() {
			return DebuggerResponse{}, ErrChannelClosed.WithOp("wait_for_response")
		}
		time.Sleep(c.cfg.PollInterval)
	}
}

// receive decodes and clears a complete inbound frame. Incomplete or undecodable frames are
// left in place as not yet written.
func (c *Channel) receive(v any) bool {
	if c.in == nil {
		return false
	}
	frame, ok := c.in.read()
	if !ok {
		return false
	}
	if err := decodeFrame(frame, v); err != nil {
		c.log.Debug("incomplete frame", zap.Error(err))
		return false
	}
	c.in.clear()
	return true
}

// ReceiveMessages returns the next inbound event frame flattened in order, or nil when no
// complete frame is available.
func (c *Channel) ReceiveMessages() []DebuggerMessage {
	if c.closed.Load() {
		return nil
	}
	c.waitMu.Lock()
	defer c.waitMu.Unlock()

	var msg DebuggerMessage
	if !c.receive(&msg) {
		return nil
	}
	return msg.Flatten()
}

// SendResponse writes a response for the target, replacing an unread previous response.
func (c *Channel) SendResponse(resp DebuggerResponse) error {
	if c.closed.Load() {
		return ErrChannelClosed.WithOp("send response")
	}
	frame, err := encodeFrame(resp, c.cfg.CompressThreshold)
	if err != nil {
		return err
	}
	c.acquireWriter()
	defer c.inFlight.Store(false)
	if c.out == nil {
		return ErrChannelClosed.WithOp("send response")
	}
	c.awaitDrain()
	if err := c.out.write(frame); err != nil {
		return err
	}
	c.flushes.Add(1)
	return nil
}

// acquireWriter takes the in-flight flag, waiting out a flush in progress.
func (c *Channel) acquireWriter() {
	for !c.inFlight.CompareAndSwap(false, true) {
		time.Sleep(time.Millisecond)
	}
}

// Close flushes remaining output and releases the segments. Further sends are no-ops. The target
// side removes the segment files.
func (c *Channel) Close() error {
	if c.closed.Load() {
		return nil
	}
	var errs []error
	if c.target {
		errs = append(errs, c.flushAll(time.Now().Add(c.cfg.DrainWait)))
	}
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	c.waitMu.Lock()
	defer c.waitMu.Unlock()
	c.acquireWriter()
	defer c.inFlight.Store(false)

	errs = append(errs, c.out.close(c.target), c.in.close(c.target))
	c.out, c.in = nil, nil
	return errors.Join(errs...)
}
