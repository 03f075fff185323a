package debugger

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/pmezard/go-difflib/difflib"
)

// ChangeStatus tracks how a variable changed since its status was last reset.
type ChangeStatus uint8

const (
	Unchanged ChangeStatus = iota
	New
	Modified
	ChildModified
)

func (s ChangeStatus) String() string {
	switch s {
	case Unchanged:
		return "Unchanged"
	case New:
		return "New"
	case Modified:
		return "Modified"
	case ChildModified:
		return "ChildModified"
	default:
		return "ChangeStatus(" + strconv.Itoa(int(s)) + ")"
	}
}

// Variable is one binding observed in the debugged program.
type Variable struct {
	Name          string
	TypeName      string
	Value         VariableValue
	ScopeLevel    uint32
	IsMutable     bool
	PreviousValue VariableValue // nil until the first update
	ChangeStatus  ChangeStatus
	LastUpdated   time.Time
}

// NewVariable creates a variable in the New state.
func NewVariable(name, typeName string, value VariableValue, scopeLevel uint32, isMutable bool) *Variable {
	return &Variable{
		Name:         name,
		TypeName:     typeName,
		Value:        value,
		ScopeLevel:   scopeLevel,
		IsMutable:    isMutable,
		ChangeStatus: New,
		LastUpdated:  time.Now(),
	}
}

// UpdateValue records the current value as previous and stores the new one. A composite value
// replaced by one of the same shape is reported as ChildModified.
func (v *Variable) UpdateValue(value VariableValue) {
	v.PreviousValue = v.Value
	v.Value = value
	if isComposite(value) && sameShape(v.PreviousValue, value) {
		v.ChangeStatus = ChildModified
	} else {
		v.ChangeStatus = Modified
	}
	v.LastUpdated = time.Now()
}

func sameShape(a, b VariableValue) bool {
	return fmt.Sprintf("%T", a) == fmt.Sprintf("%T", b)
}

func (v *Variable) ResetChangeStatus() {
	v.ChangeStatus = Unchanged
}

func (v *Variable) HasChanged() bool {
	return v.ChangeStatus != Unchanged
}

func (v *Variable) TimeSinceUpdate() time.Duration {
	return time.Since(v.LastUpdated)
}

// Diff returns a unified diff between the previous and current rendering, or an empty string
// when there is no previous value or nothing differs.
func (v *Variable) Diff() string {
	if v.PreviousValue == nil {
		return ""
	}
	prev := valueLines(v.PreviousValue)
	curr := valueLines(v.Value)
	diff := difflib.UnifiedDiff{
		A:        prev,
		B:        curr,
		FromFile: v.Name + " (previous)",
		ToFile:   v.Name + " (current)",
		Context:  1,
	}
	text, err := difflib.GetUnifiedDiffString(diff)
	if err != nil {
		return fmt.Sprintf("\t%s\n!=\n\t%s\n", v.PreviousValue, v.Value)
	}
	return text
}

// valueLines renders each direct child of a composite on its own line so diffs stay local.
func valueLines(v VariableValue) []string {
	var lines []string
	add := func(prefix string, child VariableValue) {
		lines = append(lines, prefix+FormatValue(child, MaxDisplayDepth-1)+"\n")
	}
	switch tv := v.(type) {
	case Array:
		for i, e := range tv {
			add("["+strconv.Itoa(i)+"]: ", e)
		}
	case Vec:
		lines = append(lines, fmt.Sprintf("len: %d, capacity: %d\n", tv.Length, tv.Capacity))
		for i, e := range tv.Elements {
			add("["+strconv.Itoa(i)+"]: ", e)
		}
	case Struct:
		for _, f := range tv {
			add(f.Name+": ", f.Value)
		}
	case HashMap:
		lines = append(lines, fmt.Sprintf("size: %d, capacity: %d\n", tv.Size, tv.Capacity))
		for _, e := range tv.Entries {
			add(FormatValue(e.Key, MaxDisplayDepth-1)+": ", e.Value)
		}
	case Complex:
		lines = append(lines, tv.TypeName+"{ "+tv.Summary+" }\n")
		for _, f := range tv.Fields {
			add(f.Name+": ", f.Value)
		}
		for i, e := range tv.Children {
			add("["+strconv.Itoa(i)+"]: ", e)
		}
	default:
		lines = append(lines, FormatValue(v, MaxDisplayDepth)+"\n")
	}
	return lines
}

// VariableRegistry holds the variables visible in the current execution scope. A name declared
// in a deeper scope shadows the outer binding until that scope exits.
type VariableRegistry struct {
	bindings     map[string][]*Variable // innermost binding last
	currentScope uint32
	changed      []string
	visualizer   *TypeVisualizer
}

func NewVariableRegistry() *VariableRegistry {
	return &VariableRegistry{
		bindings:   make(map[string][]*Variable),
		visualizer: NewTypeVisualizer(),
	}
}

// Register adds variable, replacing a binding of the same name declared at the same scope.
func (r *VariableRegistry) Register(variable *Variable) {
	stack := r.bindings[variable.Name]
	if n := len(stack); n > 0 && stack[n-1].ScopeLevel == variable.ScopeLevel {
		stack[n-1] = variable
	} else {
		r.bindings[variable.Name] = append(stack, variable)
	}
	r.changed = append(r.changed, variable.Name)
}

// Declare registers name at the current scope. Redeclaring an existing binding of the same
// scope updates it in place so change tracking is kept.
func (r *VariableRegistry) Declare(name, typeName string, value VariableValue, isMutable bool) *Variable {
	if v, ok := r.Get(name); ok && v.ScopeLevel == r.currentScope {
		v.TypeName = typeName
		v.IsMutable = isMutable
		if !ValuesEqual(v.Value, value) {
			v.UpdateValue(value)
			r.changed = append(r.changed, name)
		}
		return v
	}
	v := NewVariable(name, typeName, value, r.currentScope, isMutable)
	r.Register(v)
	return v
}

// Get returns the innermost visible binding of name.
func (r *VariableRegistry) Get(name string) (*Variable, bool) {
	stack := r.bindings[name]
	if len(stack) == 0 {
		return nil, false
	}
	return stack[len(stack)-1], true
}

// Update changes the value of an existing binding. Assigning an equal value is not a change.
func (r *VariableRegistry) Update(name string, value VariableValue) error {
	v, ok := r.Get(name)
	if !ok {
		return ErrVariableNotFound.WithOp("update variable " + name)
	}
	if !ValuesEqual(v.Value, value) {
		v.UpdateValue(value)
		r.changed = append(r.changed, name)
	}
	return nil
}

func (r *VariableRegistry) EnterScope() {
	r.currentScope++
}

// ExitScope drops every binding declared at the current scope level or deeper.
func (r *VariableRegistry) ExitScope() {
	for name, stack := range r.bindings {
		kept := stack[:0]
		for _, v := range stack {
			if v.ScopeLevel < r.currentScope {
				kept = append(kept, v)
			}
		}
		if len(kept) == 0 {
			delete(r.bindings, name)
		} else {
			clear(stack[len(kept):])
			r.bindings[name] = kept
		}
	}
	if r.currentScope > 0 {
		r.currentScope--
	}
}

func (r *VariableRegistry) Scope() uint32 {
	return r.currentScope
}

// All returns the visible bindings ordered by name.
func (r *VariableRegistry) All() []*Variable {
	result := make([]*Variable, 0, len(r.bindings))
	for _, stack := range r.bindings {
		result = append(result, stack[len(stack)-1])
	}
	slices.SortFunc(result, func(a, b *Variable) int {
		return strings.Compare(a.Name, b.Name)
	})
	return result
}

// Snapshot returns the visible values keyed by name, the input the evaluator works against.
func (r *VariableRegistry) Snapshot() map[string]VariableValue {
	snap := make(map[string]VariableValue, len(r.bindings))
	for name, stack := range r.bindings {
		snap[name] = stack[len(stack)-1].Value
	}
	return snap
}

// ChangedVariables returns the bindings changed since the previous call, in change order
// without duplicates, and clears the change list.
func (r *VariableRegistry) ChangedVariables() []*Variable {
	seen := make(map[string]bool, len(r.changed))
	var result []*Variable
	for _, name := range r.changed {
		if seen[name] {
			continue
		}
		seen[name] = true
		if v, ok := r.Get(name); ok {
			result = append(result, v)
		}
	}
	r.changed = r.changed[:0]
	return result
}

// ResetChangeStatus marks every visible binding Unchanged.
func (r *VariableRegistry) ResetChangeStatus() {
	for _, stack := range r.bindings {
		for _, v := range stack {
			v.ResetChangeStatus()
		}
	}
	r.changed = r.changed[:0]
}

// Visualize returns the detailed rendering of a visible variable.
func (r *VariableRegistry) Visualize(name string) (string, bool) {
	v, ok := r.Get(name)
	if !ok {
		return "", false
	}
	return r.visualizer.Detailed(v), true
}
