package debugger

import (
	"math"
	"strconv"
	"strings"
)

// MaxDisplayDepth is the default nesting depth rendered by VariableValue.String.
const MaxDisplayDepth = 3

// collectionPreview is how many children a collection shows before summarizing the remainder,
// used only when the collection is longer than collectionPreview+2.
const collectionPreview = 10

// VariableValue is the closed set of value shapes the debugger can display and evaluate.
// The implementations are Integer, Float, Boolean, String, Char, Array, Struct, Option,
// Reference, Null, Vec, HashMap and Complex.
type VariableValue interface {
	// String renders the value capped at MaxDisplayDepth.
	String() string
	isVariableValue()
}

type (
	Integer int64
	Float   float64
	Boolean bool
	String  string
	Char    rune
	Array   []VariableValue
	// Struct holds named fields in declaration order.
	Struct []Field
	Null   struct{}
)

// Field is a named member of a Struct or Complex value.
type Field struct {
	Name  string
	Value VariableValue
}

// Option is present when Value is non-nil.
type Option struct {
	Value VariableValue
}

// Reference points at another value.
type Reference struct {
	Target VariableValue
}

// Vec is a growable sequence with its runtime length and capacity.
type Vec struct {
	Elements []VariableValue
	Length   int
	Capacity int
}

// MapEntry is one key/value pair of a HashMap.
type MapEntry struct {
	Key   VariableValue
	Value VariableValue
}

// HashMap is an associative container with its runtime size and capacity.
type HashMap struct {
	Entries  []MapEntry
	Size     int
	Capacity int
}

// Complex is a summarized user defined or library structure. Children is nil when the
// structure has no element list.
type Complex struct {
	TypeName string
	Summary  string
	Fields   []Field
	Children []VariableValue
}

func (Integer) isVariableValue()   {}
func (Float) isVariableValue()     {}
func (Boolean) isVariableValue()   {}
func (String) isVariableValue()    {}
func (Char) isVariableValue()      {}
func (Array) isVariableValue()     {}
func (Struct) isVariableValue()    {}
func (Null) isVariableValue()      {}
func (Option) isVariableValue()    {}
func (Reference) isVariableValue() {}
func (Vec) isVariableValue()       {}
func (HashMap) isVariableValue()   {}
func (Complex) isVariableValue()   {}

func (v Integer) String() string   { return FormatValue(v, MaxDisplayDepth) }
func (v Float) String() string     { return FormatValue(v, MaxDisplayDepth) }
func (v Boolean) String() string   { return FormatValue(v, MaxDisplayDepth) }
func (v String) String() string    { return FormatValue(v, MaxDisplayDepth) }
func (v Char) String() string      { return FormatValue(v, MaxDisplayDepth) }
func (v Array) String() string     { return FormatValue(v, MaxDisplayDepth) }
func (v Struct) String() string    { return FormatValue(v, MaxDisplayDepth) }
func (v Null) String() string      { return FormatValue(v, MaxDisplayDepth) }
func (v Option) String() string    { return FormatValue(v, MaxDisplayDepth) }
func (v Reference) String() string { return FormatValue(v, MaxDisplayDepth) }
func (v Vec) String() string       { return FormatValue(v, MaxDisplayDepth) }
func (v HashMap) String() string   { return FormatValue(v, MaxDisplayDepth) }
func (v Complex) String() string   { return FormatValue(v, MaxDisplayDepth) }

// Some wraps v as a present Option.
func Some(v VariableValue) Option {
	return Option{Value: v}
}

// None returns an absent Option.
func None() Option {
	return Option{}
}

// NewVec builds a Vec whose length matches the element count.
func NewVec(elements []VariableValue, capacity int) Vec {
	return Vec{Elements: elements, Length: len(elements), Capacity: max(capacity, len(elements))}
}

// NewHashMap builds a HashMap whose size matches the entry count.
func NewHashMap(entries []MapEntry, capacity int) HashMap {
	return HashMap{Entries: entries, Size: len(entries), Capacity: max(capacity, len(entries))}
}

// Lookup returns the named field of a Struct.
func (s Struct) Lookup(name string) (VariableValue, bool) {
	return lookupField(s, name)
}

func lookupField(fields []Field, name string) (VariableValue, bool) {
	for _, f := range fields {
		if f.Name == name {
			return f.Value, true
		}
	}
	return nil, false
}

// FormatValue renders v, replacing anything nested deeper than maxDepth with a truncation marker.
func FormatValue(v VariableValue, maxDepth int) string {
	var sb strings.Builder
	writeValue(&sb, v, 0, maxDepth)
	return sb.String()
}

func writeValue(sb *strings.Builder, v VariableValue, depth, maxDepth int) {
	if depth > maxDepth {
		sb.WriteString("...")
		return
	}

	switch tv := v.(type) {
	case nil:
		sb.WriteString("null")
	case Integer:
		sb.WriteString(strconv.FormatInt(int64(tv), 10))
	case Float:
		sb.WriteString(formatFloat(float64(tv)))
	case Boolean:
		sb.WriteString(strconv.FormatBool(bool(tv)))
	case String:
		sb.WriteByte('"')
		sb.WriteString(string(tv))
		sb.WriteByte('"')
	case Char:
		sb.WriteByte('\'')
		sb.WriteRune(rune(tv))
		sb.WriteByte('\'')
	case Null:
		sb.WriteString("null")
	case Array:
		sb.WriteByte('[')
		if len(tv) > 0 && depth == maxDepth {
			sb.WriteString("...(" + strconv.Itoa(len(tv)) + ")")
		} else {
			for i, e := range tv {
				if i > 0 {
					sb.WriteString(", ")
				}
				writeValue(sb, e, depth+1, maxDepth)
			}
		}
		sb.WriteByte(']')
	case Struct:
		sb.WriteByte('{')
		if len(tv) > 0 && depth == maxDepth {
			sb.WriteString("...(" + strconv.Itoa(len(tv)) + ")")
		} else {
			writeFields(sb, tv, depth, maxDepth)
		}
		sb.WriteByte('}')
	case Option:
		if tv.Value == nil {
			sb.WriteString("None")
			return
		}
		sb.WriteString("Some(")
		writeValue(sb, tv.Value, depth+1, maxDepth)
		sb.WriteByte(')')
	case Reference:
		sb.WriteByte('&')
		writeValue(sb, tv.Target, depth+1, maxDepth)
	case Complex:
		sb.WriteString(tv.TypeName + "{ " + tv.Summary + " }")
		if depth >= maxDepth {
			return
		}
		if len(tv.Fields) > 0 {
			sb.WriteString(" {")
			writeFields(sb, tv.Fields, depth, maxDepth)
			sb.WriteByte('}')
		}
		if len(tv.Children) > 0 {
			sb.WriteString(" [")
			writeElements(sb, tv.Children, depth, maxDepth)
			sb.WriteByte(']')
		}
	case Vec:
		sb.WriteString("Vec (len: " + strconv.Itoa(tv.Length) + ", capacity: " + strconv.Itoa(tv.Capacity) + ") [")
		if depth < maxDepth {
			writeElements(sb, tv.Elements, depth, maxDepth)
		} else {
			sb.WriteString("...")
		}
		sb.WriteByte(']')
	case HashMap:
		sb.WriteString("HashMap (size: " + strconv.Itoa(tv.Size) + ", capacity: " + strconv.Itoa(tv.Capacity) + ") {")
		if depth < maxDepth {
			for i, e := range tv.Entries {
				if i > 0 {
					sb.WriteString(", ")
				}
				if i >= collectionPreview && len(tv.Entries) > collectionPreview+2 {
					sb.WriteString("... (" + strconv.Itoa(len(tv.Entries)-i) + " more)")
					break
				}
				writeValue(sb, e.Key, depth+1, maxDepth)
				sb.WriteString(": ")
				writeValue(sb, e.Value, depth+1, maxDepth)
			}
		} else {
			sb.WriteString("...")
		}
		sb.WriteByte('}')
	}
}

func writeFields(sb *strings.Builder, fields []Field, depth, maxDepth int) {
	for i, f := range fields {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(f.Name)
		sb.WriteString(": ")
		writeValue(sb, f.Value, depth+1, maxDepth)
	}
}

func writeElements(sb *strings.Builder, elements []VariableValue, depth, maxDepth int) {
	for i, e := range elements {
		if i > 0 {
			sb.WriteString(", ")
		}
		if i >= collectionPreview && len(elements) > collectionPreview+2 {
			sb.WriteString("... (" + strconv.Itoa(len(elements)-i) + " more)")
			break
		}
		writeValue(sb, e, depth+1, maxDepth)
	}
}

func formatFloat(f float64) string {
	switch {
	case math.IsNaN(f):
		return "NaN"
	case math.IsInf(f, 1):
		return "inf"
	case math.IsInf(f, -1):
		return "-inf"
	}
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// ValuesEqual reports whether two values have the same shape and content.
func ValuesEqual(a, b VariableValue) bool {
	switch av := a.(type) {
	case nil:
		return b == nil
	case Integer, Boolean, String, Char, Null:
		return a == b
	case Float:
		bv, ok := b.(Float)
		if !ok {
			return false
		}
		if math.IsNaN(float64(av)) || math.IsNaN(float64(bv)) {
			return math.IsNaN(float64(av)) && math.IsNaN(float64(bv))
		}
		return av == bv
	case Array:
		bv, ok := b.(Array)
		return ok && elementsEqual(av, bv)
	case Struct:
		bv, ok := b.(Struct)
		return ok && fieldsEqual(av, bv)
	case Option:
		bv, ok := b.(Option)
		return ok && ValuesEqual(av.Value, bv.Value)
	case Reference:
		bv, ok := b.(Reference)
		return ok && ValuesEqual(av.Target, bv.Target)
	case Vec:
		bv, ok := b.(Vec)
		return ok && av.Length == bv.Length && av.Capacity == bv.Capacity && elementsEqual(av.Elements, bv.Elements)
	case HashMap:
		bv, ok := b.(HashMap)
		if !ok || av.Size != bv.Size || av.Capacity != bv.Capacity || len(av.Entries) != len(bv.Entries) {
			return false
		}
		for i := range av.Entries {
			if !ValuesEqual(av.Entries[i].Key, bv.Entries[i].Key) ||
				!ValuesEqual(av.Entries[i].Value, bv.Entries[i].Value) {
				return false
			}
		}
		return true
	case Complex:
		bv, ok := b.(Complex)
		return ok && av.TypeName == bv.TypeName && av.Summary == bv.Summary &&
			fieldsEqual(av.Fields, bv.Fields) && (av.Children == nil) == (bv.Children == nil) &&
			elementsEqual(av.Children, bv.Children)
	}
	return false
}

func elementsEqual(a, b []VariableValue) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !ValuesEqual(a[i], b[i]) {
			return false
		}
	}
	return true
}

func fieldsEqual(a, b []Field) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].Name != b[i].Name || !ValuesEqual(a[i].Value, b[i].Value) {
			return false
		}
	}
	return true
}

// isComposite reports whether the value has children that can change independently.
func isComposite(v VariableValue) bool {
	switch v.(type) {
	case Array, Struct, Vec, HashMap, Complex:
		return true
	}
	return false
}

// ParseValueRepr converts the textual representation handed over by instrumented code into a
// VariableValue. Representations that do not parse are kept as a String.
func ParseValueRepr(typeName, repr string) VariableValue {
	s := strings.TrimSpace(repr)
	switch typeName {
	case "String", "string", "&str", "str":
		if uq, err := strconv.Unquote(s); err == nil {
			return String(uq)
		}
		return String(repr)
	}
	if v, ok := parseReprValue(s); ok {
		return v
	}
	return String(repr)
}

func parseReprValue(s string) (VariableValue, bool) {
	switch s {
	case "":
		return nil, false
	case "null", "nil", "<nil>", "()":
		return Null{}, true
	case "None":
		return None(), true
	case "true":
		return Boolean(true), true
	case "false":
		return Boolean(false), true
	}
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return Integer(i), true
	}
	if looksNumeric(s) {
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return Float(f), true
		}
	}
	switch {
	case len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"':
		if uq, err := strconv.Unquote(s); err == nil {
			return String(uq), true
		}
		return String(s[1 : len(s)-1]), true
	case len(s) >= 3 && s[0] == '\'' && s[len(s)-1] == '\'':
		if uq, _, _, err := strconv.UnquoteChar(s[1:len(s)-1], '\''); err == nil {
			return Char(uq), true
		}
	case strings.HasPrefix(s, "Some(") && strings.HasSuffix(s, ")"):
		if inner, ok := parseReprValue(strings.TrimSpace(s[5 : len(s)-1])); ok {
			return Some(inner), true
		}
	case strings.HasPrefix(s, "&"):
		if inner, ok := parseReprValue(strings.TrimSpace(s[1:])); ok {
			return Reference{Target: inner}, true
		}
	case s[0] == '[' && s[len(s)-1] == ']':
		parts := splitTopLevel(s[1:len(s)-1], ',')
		arr := make(Array, 0, len(parts))
		for _, p := range parts {
			e, ok := parseReprValue(p)
			if !ok {
				e = String(p)
			}
			arr = append(arr, e)
		}
		return arr, true
	case s[len(s)-1] == '}':
		open := strings.IndexByte(s, '{')
		if open < 0 {
			return nil, false
		}
		parts := splitTopLevel(s[open+1:len(s)-1], ',')
		fields := make(Struct, 0, len(parts))
		for _, p := range parts {
			name, val, found := strings.Cut(p, ":")
			if !found {
				return nil, false
			}
			fv, ok := parseReprValue(strings.TrimSpace(val))
			if !ok {
				fv = String(strings.TrimSpace(val))
			}
			fields = append(fields, Field{Name: strings.TrimSpace(name), Value: fv})
		}
		return fields, true
	}
	return nil, false
}

func looksNumeric(s string) bool {
	for i, c := range s {
		if (c < '0' || c > '9') && c != '.' && c != 'e' && c != 'E' && !(i == 0 && (c == '-' || c == '+')) &&
			!((c == '-' || c == '+') && i > 0 && (s[i-1] == 'e' || s[i-1] == 'E')) {
			return false
		}
	}
	return true
}

// splitTopLevel splits s on sep, ignoring separators nested inside brackets or quotes.
func splitTopLevel(s string, sep byte) []string {
	var parts []string
	var depth int
	var quote byte
	start := 0
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case quote != 0:
			if c == '\\' {
				i++
			} else if c == quote {
				quote = 0
			}
		case c == '"' || c == '\'':
			quote = c
		case c == '[' || c == '{' || c == '(':
			depth++
		case c == ']' || c == '}' || c == ')':
			depth--
		case c == sep && depth == 0:
			parts = append(parts, strings.TrimSpace(s[start:i]))
			start = i + 1
		}
	}
	if tail := strings.TrimSpace(s[start:]); tail != "" || len(parts) > 0 {
		parts = append(parts, tail)
	}
	return parts
}
