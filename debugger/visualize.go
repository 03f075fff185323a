package debugger

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
)

// maxCompositeDepth bounds Composite rendering.
const maxCompositeDepth = 5

// VisualizerFunc renders a variable, reporting false when the value is not a shape it handles.
type VisualizerFunc func(v *Variable) (string, bool)

// TypeVisualizer maps type names to custom renderings.
type TypeVisualizer struct {
	mu          sync.RWMutex
	visualizers map[string]VisualizerFunc
}

// NewTypeVisualizer returns a registry preloaded with the Vec, Option, Result, String and
// HashMap visualizers.
func NewTypeVisualizer() *TypeVisualizer {
	tv := &TypeVisualizer{visualizers: make(map[string]VisualizerFunc)}
	tv.Register("Vec", visualizeVec)
	tv.Register("Option", visualizeOption)
	tv.Register("Result", visualizeResult)
	tv.Register("String", visualizeString)
	tv.Register("HashMap", visualizeHashMap)
	return tv
}

func (t *TypeVisualizer) Register(typeName string, fn VisualizerFunc) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.visualizers[typeName] = fn
}

func (t *TypeVisualizer) Has(typeName string) bool {
	_, ok := t.lookup(typeName)
	return ok
}

func (t *TypeVisualizer) lookup(typeName string) (VisualizerFunc, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if fn, ok := t.visualizers[typeName]; ok {
		return fn, true
	}
	fn, ok := t.visualizers[baseTypeName(typeName)]
	return fn, ok
}

// baseTypeName reduces generic and Go type spellings to the registry key, e.g.
// "Vec<i32>" and "[]int" to "Vec", "map[string]int" to "HashMap".
func baseTypeName(typeName string) string {
	switch {
	case strings.HasPrefix(typeName, "[]"):
		return "Vec"
	case strings.HasPrefix(typeName, "map["):
		return "HashMap"
	case typeName == "string":
		return "String"
	}
	if i := strings.IndexAny(typeName, "<["); i > 0 {
		typeName = typeName[:i]
	}
	if i := strings.LastIndex(typeName, "::"); i >= 0 {
		typeName = typeName[i+2:]
	}
	return typeName
}

// Visualize renders v with the visualizer registered for its type.
func (t *TypeVisualizer) Visualize(v *Variable) (string, bool) {
	fn, ok := t.lookup(v.TypeName)
	if !ok {
		return "", false
	}
	return fn(v)
}

// Composite renders v through its registered visualizer, falling back to a field or element
// listing for structured values.
func (t *TypeVisualizer) Composite(typeName string, v *Variable, depth int) string {
	if depth > maxCompositeDepth {
		return typeName + "... (max depth reached)"
	}
	if s, ok := t.Visualize(v); ok {
		return s
	}

	var sb strings.Builder
	switch tv := v.Value.(type) {
	case Struct:
		sb.WriteString(typeName + " {")
		for _, f := range tv {
			sb.WriteString("\n  " + f.Name + ": " + f.Value.String())
		}
		sb.WriteString("\n}")
	case Complex:
		sb.WriteString(typeName + " {" + tv.Summary + "}")
		if len(tv.Fields) > 0 {
			sb.WriteString("\nFields:")
			for _, f := range tv.Fields {
				sb.WriteString("\n  " + f.Name + ": " + f.Value.String())
			}
		}
		writeIndexedPreview(&sb, "\nElements:", "\n  ", tv.Children, "elements")
	default:
		sb.WriteString(typeName + " = " + FormatValue(v.Value, MaxDisplayDepth))
	}
	return sb.String()
}

// Detailed renders the one line summary of v followed by shape specific detail lines.
func (t *TypeVisualizer) Detailed(v *Variable) string {
	var sb strings.Builder
	sb.WriteString(v.Name + ": " + v.TypeName + " = " + FormatValue(v.Value, MaxDisplayDepth))

	switch tv := v.Value.(type) {
	case Vec:
		sb.WriteString("\n  Length: " + strconv.Itoa(tv.Length))
		sb.WriteString("\n  Capacity: " + strconv.Itoa(tv.Capacity))
		writeIndexedPreview(&sb, "\n  Elements:", "\n    ", tv.Elements, "elements")
	case HashMap:
		sb.WriteString("\n  Size: " + strconv.Itoa(tv.Size))
		sb.WriteString("\n  Capacity: " + strconv.Itoa(tv.Capacity))
		writeEntryPreview(&sb, "\n  Entries:", "\n    ", tv.Entries)
	case Struct:
		if len(tv) > 0 {
			sb.WriteString("\n  Fields:")
			for _, f := range tv {
				sb.WriteString("\n    " + f.Name + ": " + f.Value.String())
			}
		}
	case Complex:
		sb.WriteString("\n  Type: " + tv.TypeName)
		sb.WriteString("\n  Summary: " + tv.Summary)
		if len(tv.Fields) > 0 {
			sb.WriteString("\n  Fields:")
			for _, f := range tv.Fields {
				sb.WriteString("\n    " + f.Name + ": " + f.Value.String())
			}
		}
		writeIndexedPreview(&sb, "\n  Elements:", "\n    ", tv.Children, "elements")
	case Option:
		if tv.Value != nil {
			sb.WriteString("\n  Contains value:\n    " + tv.Value.String())
		} else {
			sb.WriteString("\n  Contains no value (None)")
		}
	case Reference:
		sb.WriteString("\n  Reference to:\n    " + FormatValue(tv.Target, MaxDisplayDepth))
	case Array:
		sb.WriteString("\n  Length: " + strconv.Itoa(len(tv)))
		writeIndexedPreview(&sb, "\n  Elements:", "\n    ", tv, "elements")
	}
	return sb.String()
}

func writeIndexedPreview(sb *strings.Builder, header, indent string, elements []VariableValue, noun string) {
	if len(elements) == 0 {
		return
	}
	sb.WriteString(header)
	for i, e := range elements[:min(len(elements), collectionPreview)] {
		sb.WriteString(indent + "[" + strconv.Itoa(i) + "]: " + FormatValue(e, MaxDisplayDepth))
	}
	if len(elements) > collectionPreview {
		sb.WriteString(fmt.Sprintf("%s... and %d more %s", indent, len(elements)-collectionPreview, noun))
	}
}

func writeEntryPreview(sb *strings.Builder, header, indent string, entries []MapEntry) {
	if len(entries) == 0 {
		return
	}
	sb.WriteString(header)
	for i, e := range entries[:min(len(entries), collectionPreview)] {
		sb.WriteString(fmt.Sprintf("%s%d: %s => %s", indent, i, e.Key, e.Value))
	}
	if len(entries) > collectionPreview {
		sb.WriteString(fmt.Sprintf("%s... and %d more entries", indent, len(entries)-collectionPreview))
	}
}

func visualizeVec(v *Variable) (string, bool) {
	var elements []VariableValue
	var length, capacity int
	switch tv := v.Value.(type) {
	case Vec:
		elements, length, capacity = tv.Elements, tv.Length, tv.Capacity
	case Array:
		elements, length, capacity = tv, len(tv), len(tv)
	default:
		return "", false
	}
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Vec<_> (length: %d, capacity: %d)", length, capacity))
	writeIndexedPreview(&sb, "\nContents:", "\n  ", elements, "elements")
	return sb.String(), true
}

func visualizeOption(v *Variable) (string, bool) {
	opt, ok := v.Value.(Option)
	if !ok {
		return "", false
	} else if opt.Value == nil {
		return "None", true
	}
	return "Some(" + opt.Value.String() + ")", true
}

func visualizeResult(v *Variable) (string, bool) {
	var fields []Field
	switch tv := v.Value.(type) {
	case Complex:
		fields = tv.Fields
	case Struct:
		fields = tv
	default:
		return "", false
	}
	if ok, found := lookupField(fields, "Ok"); found {
		return "Ok(" + FormatValue(ok, MaxDisplayDepth) + ")", true
	} else if e, found := lookupField(fields, "Err"); found {
		return "Err(" + FormatValue(e, MaxDisplayDepth) + ")", true
	}
	return "", false
}

func visualizeString(v *Variable) (string, bool) {
	s, ok := v.Value.(String)
	if !ok {
		return "", false
	}
	var sb strings.Builder
	sb.WriteString("String (length: " + strconv.Itoa(len(s)) + ")")
	if len(s) == 0 {
		return sb.String(), true
	}
	sb.WriteString("\nContents: \"" + string(s) + "\"")
	var header bool
	for i, c := range []rune(string(s)) {
		if c >= ' ' && c <= '~' {
			continue
		}
		if !header {
			header = true
			sb.WriteString("\nSpecial characters:")
		}
		sb.WriteString(fmt.Sprintf("\n  [%d]: %q (Unicode: U+%04X)", i, c, c))
	}
	return sb.String(), true
}

func visualizeHashMap(v *Variable) (string, bool) {
	m, ok := v.Value.(HashMap)
	if !ok {
		return "", false
	}
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("HashMap (size: %d, capacity: %d)", m.Size, m.Capacity))
	writeEntryPreview(&sb, "\nEntries:", "\n  ", m.Entries)
	return sb.String(), true
}
