package debugger

import (
	"cmp"
	"fmt"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-analyze/bulk"
)

// HitCountOp selects how a HitCountCondition compares against the hit count.
type HitCountOp uint8

const (
	HitEquals HitCountOp = iota
	HitGreaterThan
	HitMultiple
)

// HitCountCondition is met based on how many times a breakpoint location was reached.
type HitCountCondition struct {
	Op HitCountOp
	N  uint64
}

func HitCountEquals(n uint64) HitCountCondition      { return HitCountCondition{Op: HitEquals, N: n} }
func HitCountGreaterThan(n uint64) HitCountCondition { return HitCountCondition{Op: HitGreaterThan, N: n} }
func HitCountMultiple(n uint64) HitCountCondition    { return HitCountCondition{Op: HitMultiple, N: n} }

// IsMet reports whether the condition holds for the given hit count. Multiple(0) never holds.
func (c HitCountCondition) IsMet(hits uint64) bool {
	switch c.Op {
	case HitEquals:
		return hits == c.N
	case HitGreaterThan:
		return hits > c.N
	case HitMultiple:
		return c.N != 0 && hits%c.N == 0
	}
	return false
}

func (c HitCountCondition) String() string {
	switch c.Op {
	case HitGreaterThan:
		return ">" + strconv.FormatUint(c.N, 10)
	case HitMultiple:
		return "%" + strconv.FormatUint(c.N, 10)
	default:
		return "==" + strconv.FormatUint(c.N, 10)
	}
}

// ParseHitCountCondition parses "==N" (or "N"), ">N" and "%N".
func ParseHitCountCondition(s string) (HitCountCondition, error) {
	s = strings.TrimSpace(s)
	op := HitEquals
	switch {
	case strings.HasPrefix(s, "=="):
		s = s[2:]
	case strings.HasPrefix(s, "="):
		s = s[1:]
	case strings.HasPrefix(s, ">"):
		op, s = HitGreaterThan, s[1:]
	case strings.HasPrefix(s, "%"):
		op, s = HitMultiple, s[1:]
	}
	n, err := strconv.ParseUint(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return HitCountCondition{}, newError(KindSession, "parse hit count", s, err)
	}
	return HitCountCondition{Op: op, N: n}, nil
}

// ConditionMode selects which checks a breakpoint applies when reached.
type ConditionMode uint8

const (
	ConditionAlways ConditionMode = iota
	ConditionExpression
	ConditionHitCount
	ConditionCombined
)

func (m ConditionMode) String() string {
	switch m {
	case ConditionAlways:
		return "always"
	case ConditionExpression:
		return "expression"
	case ConditionHitCount:
		return "hit-count"
	case ConditionCombined:
		return "combined"
	default:
		return "unknown"
	}
}

// BreakpointCondition decides whether a reached breakpoint pauses execution.
type BreakpointCondition struct {
	Mode       ConditionMode
	Expression string            // ConditionExpression and ConditionCombined
	HitCount   HitCountCondition // ConditionHitCount and ConditionCombined
}

func Always() BreakpointCondition {
	return BreakpointCondition{Mode: ConditionAlways}
}

func WhenExpression(expr string) BreakpointCondition {
	return BreakpointCondition{Mode: ConditionExpression, Expression: expr}
}

func WhenHitCount(c HitCountCondition) BreakpointCondition {
	return BreakpointCondition{Mode: ConditionHitCount, HitCount: c}
}

func WhenBoth(expr string, c HitCountCondition) BreakpointCondition {
	return BreakpointCondition{Mode: ConditionCombined, Expression: expr, HitCount: c}
}

// NewBreakpointCondition picks the mode from which of the two parts are provided.
func NewBreakpointCondition(expr string, hitCount *HitCountCondition) BreakpointCondition {
	switch {
	case expr != "" && hitCount != nil:
		return WhenBoth(expr, *hitCount)
	case expr != "":
		return WhenExpression(expr)
	case hitCount != nil:
		return WhenHitCount(*hitCount)
	}
	return Always()
}

func (c BreakpointCondition) String() string {
	switch c.Mode {
	case ConditionExpression:
		return "if " + c.Expression
	case ConditionHitCount:
		return "hit " + c.HitCount.String()
	case ConditionCombined:
		return "if " + c.Expression + " && hit " + c.HitCount.String()
	}
	return "always"
}

// Breakpoint is a location that may pause execution when reached.
type Breakpoint struct {
	ID        uint64
	File      string
	Line      uint32
	Column    uint32 // 0 matches any column on the line
	Enabled   bool
	Condition BreakpointCondition
	HitCount  uint64
	CreatedAt time.Time
	LastHit   time.Time // zero until first reached
}

func (b *Breakpoint) String() string {
	loc := b.File + ":" + strconv.FormatUint(uint64(b.Line), 10)
	if b.Column != 0 {
		loc += ":" + strconv.FormatUint(uint64(b.Column), 10)
	}
	return fmt.Sprintf("#%d %s (%s, hits %d)", b.ID, loc, b.Condition, b.HitCount)
}

func (b *Breakpoint) matches(file string, line, column uint32) bool {
	return b.Line == line && (b.Column == 0 || b.Column == column) && sameSourceFile(b.File, file)
}

// sameSourceFile matches identical paths, or a relative breakpoint path against the tail of an
// absolute one.
func sameSourceFile(bpFile, file string) bool {
	if bpFile == file {
		return true
	}
	bpFile, file = filepath.ToSlash(bpFile), filepath.ToSlash(file)
	return strings.HasSuffix(file, "/"+strings.TrimPrefix(bpFile, "./")) ||
		strings.HasSuffix(bpFile, "/"+strings.TrimPrefix(file, "./"))
}

// shouldTrigger evaluates the condition after the hit count was incremented for this reach.
func (b *Breakpoint) shouldTrigger(eval *Evaluator, vars map[string]VariableValue) bool {
	switch b.Condition.Mode {
	case ConditionAlways:
		return true
	case ConditionExpression:
		return eval.EvaluateCondition(b.Condition.Expression, vars)
	case ConditionHitCount:
		return b.Condition.HitCount.IsMet(b.HitCount)
	case ConditionCombined:
		return b.Condition.HitCount.IsMet(b.HitCount) && eval.EvaluateCondition(b.Condition.Expression, vars)
	}
	return false
}

// BreakpointRegistry holds the breakpoints and watch expressions of a session.
type BreakpointRegistry struct {
	mu     sync.RWMutex
	eval   *Evaluator
	nextID uint64

	breakpoints map[uint64]*Breakpoint
	byLine      map[uint32][]*Breakpoint // ordered by id

	watches *WatchList
}

// NewBreakpointRegistry returns an empty registry evaluating conditions with eval.
func NewBreakpointRegistry(eval *Evaluator) *BreakpointRegistry {
	return &BreakpointRegistry{
		eval:        eval,
		nextID:      1,
		breakpoints: make(map[uint64]*Breakpoint),
		byLine:      make(map[uint32][]*Breakpoint),
		watches:     newWatchList(eval),
	}
}

func (r *BreakpointRegistry) allocateID() uint64 {
	id := r.nextID
	r.nextID++
	return id
}

// AddBreakpoint registers an enabled breakpoint and returns its id.
func (r *BreakpointRegistry) AddBreakpoint(file string, line, column uint32, cond BreakpointCondition) uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	bp := &Breakpoint{
		ID:        r.allocateID(),
		File:      file,
		Line:      line,
		Column:    column,
		Enabled:   true,
		Condition: cond,
		CreatedAt: time.Now(),
	}
	r.breakpoints[bp.ID] = bp
	r.byLine[line] = append(r.byLine[line], bp)
	return bp.ID
}

// AddConfigured registers breakpoints described by configuration.
func (r *BreakpointRegistry) AddConfigured(configs []BreakpointConfig) ([]uint64, error) {
	ids := make([]uint64, 0, len(configs))
	for _, bc := range configs {
		var hitCount *HitCountCondition
		if bc.HitCount != "" {
			c, err := ParseHitCountCondition(bc.HitCount)
			if err != nil {
				return ids, err
			}
			hitCount = &c
		}
		if bc.Condition != "" {
			if err := r.eval.Validate(bc.Condition); err != nil {
				return ids, err
			}
		}
		id := r.AddBreakpoint(bc.File, bc.Line, bc.Column, NewBreakpointCondition(bc.Condition, hitCount))
		if bc.Disabled {
			r.SetEnabled(id, false)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// RemoveBreakpoint deletes a breakpoint, reporting whether it existed.
func (r *BreakpointRegistry) RemoveBreakpoint(id uint64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	bp, ok := r.breakpoints[id]
	if !ok {
		return false
	}
	delete(r.breakpoints, id)
	remaining := bulk.SliceFilterInPlace(func(b *Breakpoint) bool {
		return b.ID != id
	}, r.byLine[bp.Line])
	if len(remaining) == 0 {
		delete(r.byLine, bp.Line)
	} else {
		r.byLine[bp.Line] = remaining
	}
	return true
}

// SetEnabled toggles a breakpoint, reporting whether it exists.
func (r *BreakpointRegistry) SetEnabled(id uint64, enabled bool) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if bp, ok := r.breakpoints[id]; ok {
		bp.Enabled = enabled
		return true
	}
	return false
}

// Breakpoint returns a copy of the breakpoint with the given id.
func (r *BreakpointRegistry) Breakpoint(id uint64) (Breakpoint, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if bp, ok := r.breakpoints[id]; ok {
		return *bp, true
	}
	return Breakpoint{}, false
}

// Breakpoints returns copies of all breakpoints ordered by id.
func (r *BreakpointRegistry) Breakpoints() []Breakpoint {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]Breakpoint, 0, len(r.breakpoints))
	for _, bp := range r.breakpoints {
		result = append(result, *bp)
	}
	slices.SortFunc(result, func(a, b Breakpoint) int {
		return cmp.Compare(a.ID, b.ID)
	})
	return result
}

// HasBreakpointAt reports whether any enabled breakpoint covers the location.
func (r *BreakpointRegistry) HasBreakpointAt(file string, line, column uint32) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, bp := range r.byLine[line] {
		if bp.Enabled && bp.matches(file, line, column) {
			return true
		}
	}
	return false
}

// ShouldBreakAt records a reach of the location and reports whether execution should pause.
// Every enabled breakpoint at the location has its hit count incremented, whether or not its
// condition holds; the result is true when at least one condition holds.
func (r *BreakpointRegistry) ShouldBreakAt(file string, line, column uint32, vars map[string]VariableValue) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	var pause bool
	for _, bp := range r.byLine[line] {
		if !bp.Enabled || !bp.matches(file, line, column) {
			continue
		}
		bp.HitCount++
		bp.LastHit = now
		if !pause && bp.shouldTrigger(r.eval, vars) {
			pause = true
		}
	}
	return pause
}

// Watches returns the watch list evaluated alongside the breakpoints.
func (r *BreakpointRegistry) Watches() *WatchList {
	return r.watches
}
