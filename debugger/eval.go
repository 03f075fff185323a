package debugger

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/dgraph-io/ristretto/v2"
)

// EvaluationFailed is the result text of an expression that cannot be parsed or evaluated.
const EvaluationFailed = "evaluation failed"

// placeholderError carries a descriptive result for a well formed expression that has no value,
// such as a division by zero. It is reported as text, never as a failure.
type placeholderError struct {
	text string
}

func (e *placeholderError) Error() string {
	return e.text
}

var errNotEvaluable = errors.New(EvaluationFailed)

// EvalResult is the outcome of evaluating an expression.
type EvalResult struct {
	Value       VariableValue // nil unless the expression produced a value
	Placeholder string        // set when the expression has a descriptive non-value result
	Failed      bool
}

// String renders the result the way watches and the controller display it.
func (r EvalResult) String() string {
	switch {
	case r.Failed:
		return EvaluationFailed
	case r.Placeholder != "":
		return r.Placeholder
	}
	return FormatValue(r.Value, MaxDisplayDepth)
}

// Truthy coerces the result to a condition outcome. Failures and placeholders are false.
func (r EvalResult) Truthy() bool {
	if r.Failed || r.Placeholder != "" {
		return false
	}
	return Truthy(r.Value)
}

// Truthy applies condition coercion: booleans as-is, numbers when non-zero and not NaN,
// strings and collections when non-empty, options when present, null never.
func Truthy(v VariableValue) bool {
	switch tv := v.(type) {
	case Boolean:
		return bool(tv)
	case Integer:
		return tv != 0
	case Float:
		return tv != 0 && !math.IsNaN(float64(tv))
	case Char:
		return tv != 0
	case String:
		return tv != ""
	case Array:
		return len(tv) > 0
	case Struct:
		return len(tv) > 0
	case Vec:
		return tv.Length > 0 || len(tv.Elements) > 0
	case HashMap:
		return tv.Size > 0 || len(tv.Entries) > 0
	case Option:
		return tv.Value != nil
	case Reference:
		return Truthy(tv.Target)
	case Complex:
		return true
	}
	return false
}

// Evaluator interprets expressions against a variable snapshot. Parsed expressions are kept in a
// bounded cache, so repeated breakpoint conditions and watches are parsed once.
type Evaluator struct {
	cache *ristretto.Cache[string, exprNode]
}

// NewEvaluator returns an evaluator caching up to cacheSize parsed expressions; zero disables
// the cache.
func NewEvaluator(cacheSize int) (*Evaluator, error) {
	if cacheSize <= 0 {
		return &Evaluator{}, nil
	}
	cache, err := ristretto.NewCache(&ristretto.Config[string, exprNode]{
		NumCounters:        int64(cacheSize) * 10,
		MaxCost:            int64(cacheSize),
		BufferItems:        64,
		IgnoreInternalCost: true,
	})
	if err != nil {
		return nil, fmt.Errorf("expression cache: %w", err)
	}
	return &Evaluator{cache: cache}, nil
}

// Close releases the parse cache.
func (e *Evaluator) Close() {
	if e.cache != nil {
		e.cache.Close()
	}
}

func (e *Evaluator) parse(expr string) (exprNode, error) {
	key := strings.TrimSpace(expr)
	if e.cache != nil {
		if node, ok := e.cache.Get(key); ok {
			return node, nil
		}
	}
	node, err := parseExpr(key)
	if err != nil {
		return nil, err
	}
	if e.cache != nil {
		e.cache.Set(key, node, 1)
	}
	return node, nil
}

// Validate reports whether expr parses.
func (e *Evaluator) Validate(expr string) error {
	if _, err := e.parse(expr); err != nil {
		return newError(KindVariableInspection, "parse expression", expr, err)
	}
	return nil
}

// Evaluate interprets expr against vars. It never returns an error: unparseable or ill typed
// expressions produce a Failed result.
func (e *Evaluator) Evaluate(expr string, vars map[string]VariableValue) EvalResult {
	node, err := e.parse(expr)
	if err != nil {
		return EvalResult{Failed: true}
	}
	v, err := evalNode(node, vars)
	if err != nil {
		var ph *placeholderError
		if errors.As(err, &ph) {
			return EvalResult{Placeholder: ph.text}
		}
		return EvalResult{Failed: true}
	}
	return EvalResult{Value: v}
}

// EvaluateCondition evaluates expr and coerces it to a boolean, false on any failure.
func (e *Evaluator) EvaluateCondition(expr string, vars map[string]VariableValue) bool {
	return e.Evaluate(expr, vars).Truthy()
}

func evalNode(node exprNode, vars map[string]VariableValue) (VariableValue, error) {
	switch n := node.(type) {
	case literalNode:
		return n.value, nil
	case identNode:
		v, ok := vars[n.name]
		if !ok {
			return nil, errNotEvaluable
		}
		return v, nil
	case memberNode:
		base, err := evalNode(n.base, vars)
		if err != nil {
			return nil, err
		}
		var fields []Field
		switch bv := deref(base).(type) {
		case Struct:
			fields = bv
		case Complex:
			fields = bv.Fields
		default:
			return nil, errNotEvaluable
		}
		if v, ok := lookupField(fields, n.field); ok {
			return v, nil
		}
		return nil, errNotEvaluable
	case indexNode:
		base, err := evalNode(n.base, vars)
		if err != nil {
			return nil, err
		}
		var elements []VariableValue
		switch bv := deref(base).(type) {
		case Array:
			elements = bv
		case Vec:
			elements = bv.Elements
		default:
			return nil, errNotEvaluable
		}
		if n.index < 0 || n.index >= int64(len(elements)) {
			return nil, &placeholderError{text: fmt.Sprintf("<index %d out of range for length %d>", n.index, len(elements))}
		}
		return elements[n.index], nil
	case unaryNode:
		operand, err := evalNode(n.operand, vars)
		if err != nil {
			return nil, err
		}
		if n.op == "!" {
			return Boolean(!Truthy(operand)), nil
		}
		f, ok := numeric(operand)
		if !ok {
			return nil, errNotEvaluable
		}
		return Float(-f), nil
	case binaryNode:
		return evalBinary(n, vars)
	}
	return nil, errNotEvaluable
}

func evalBinary(n binaryNode, vars map[string]VariableValue) (VariableValue, error) {
	left, err := evalNode(n.left, vars)
	if err != nil {
		return nil, err
	}
	switch n.op {
	case "&&":
		if !Truthy(left) {
			return Boolean(false), nil
		}
		right, err := evalNode(n.right, vars)
		if err != nil {
			return nil, err
		}
		return Boolean(Truthy(right)), nil
	case "||":
		if Truthy(left) {
			return Boolean(true), nil
		}
		right, err := evalNode(n.right, vars)
		if err != nil {
			return nil, err
		}
		return Boolean(Truthy(right)), nil
	}

	right, err := evalNode(n.right, vars)
	if err != nil {
		return nil, err
	}
	left, right = deref(left), deref(right)

	switch n.op {
	case "==", "!=", "<", ">", "<=", ">=":
		c, ok := compareValues(left, right, n.op == "==" || n.op == "!=")
		if !ok {
			return nil, errNotEvaluable
		}
		switch n.op {
		case "==":
			return Boolean(c == 0), nil
		case "!=":
			return Boolean(c != 0), nil
		case "<":
			return Boolean(c < 0), nil
		case ">":
			return Boolean(c > 0), nil
		case "<=":
			return Boolean(c <= 0), nil
		default:
			return Boolean(c >= 0), nil
		}
	}

	lf, lok := numeric(left)
	rf, rok := numeric(right)
	if !lok || !rok {
		return nil, errNotEvaluable
	}
	switch n.op {
	case "+":
		return Float(lf + rf), nil
	case "-":
		return Float(lf - rf), nil
	case "*":
		return Float(lf * rf), nil
	case "/":
		if rf == 0 {
			return nil, &placeholderError{text: "<division by zero>"}
		}
		return Float(lf / rf), nil
	case "%":
		if rf == 0 {
			return nil, &placeholderError{text: "<modulo by zero>"}
		}
		return Float(math.Mod(lf, rf)), nil
	}
	return nil, errNotEvaluable
}

// compareValues orders two values. Numbers compare numerically, strings lexicographically; null
// and other values only support equality.
func compareValues(a, b VariableValue, equalityOnly bool) (int, bool) {
	if as, ok := a.(String); ok {
		bs, ok := b.(String)
		if !ok {
			return 0, false
		}
		return strings.Compare(string(as), string(bs)), true
	}
	if af, ok := numeric(a); ok {
		bf, ok := numeric(b)
		if !ok {
			return 0, false
		}
		switch {
		case af < bf:
			return -1, true
		case af > bf:
			return 1, true
		case af == bf:
			return 0, true
		}
		// NaN is unordered and unequal to everything
		return 1, equalityOnly
	}
	if !equalityOnly {
		return 0, false
	}
	if ValuesEqual(a, b) {
		return 0, true
	}
	return 1, true
}

// numeric coerces Integer, Float, Boolean and Char to float64.
func numeric(v VariableValue) (float64, bool) {
	switch tv := v.(type) {
	case Integer:
		return float64(tv), true
	case Float:
		return float64(tv), true
	case Boolean:
		if tv {
			return 1, true
		}
		return 0, true
	case Char:
		return float64(tv), true
	}
	return 0, false
}

func deref(v VariableValue) VariableValue {
	for {
		ref, ok := v.(Reference)
		if !ok {
			return v
		}
		v = ref.Target
	}
}
