package debugger

import (
	"cmp"
	"fmt"
	"math"
	"reflect"
	"slices"
	"strconv"
	"unicode/utf8"
	"unsafe"
)

const (
	captureMaxDepth   = 16
	captureMaxLen     = 256  // elements kept per slice, array or map
	captureMaxStrSize = 1024 // bytes kept per string
)

// CaptureValue converts a live Go value into a VariableValue. Pointers become references,
// slices become Vec, maps become HashMap with sorted keys, and structs keep unexported fields.
// Cycles, excessive nesting and oversized strings are replaced with markers.
func CaptureValue(v any) VariableValue {
	c := capturer{visited: make(map[uintptr]string)}
	return c.capture(reflect.ValueOf(v), 0, "")
}

// CaptureTypeName returns the Go type name reported alongside a captured value.
func CaptureTypeName(v any) string {
	if v == nil {
		return "nil"
	}
	return reflect.TypeOf(v).String()
}

type capturer struct {
	visited map[uintptr]string
}

func limitCapturedString(s string) string {
	if len(s) > captureMaxStrSize {
		cut := captureMaxStrSize
		for cut > 0 && !utf8.RuneStart(s[cut]) {
			cut--
		}
		s = s[:cut] + "…(" + strconv.Itoa(len(s)-cut) + " more)"
	}
	return s
}

func (c *capturer) capture(v reflect.Value, depth int, path string) VariableValue {
	for v.IsValid() && v.Kind() == reflect.Interface {
		if v.IsNil() {
			return Null{}
		}
		v = v.Elem()
	}
	if !v.IsValid() {
		return Null{}
	} else if depth >= captureMaxDepth {
		return String("<max-depth>")
	}

	switch v.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan:
		if v.IsNil() {
			if v.Kind() == reflect.Pointer {
				return Null{}
			}
			return captureNilContainer(v)
		}
		if v.Kind() != reflect.Func && v.Kind() != reflect.Chan {
			addr := v.Pointer()
			// slices sharing a backing array with a parent are not cycles, only pointers and maps are
			if v.Kind() != reflect.Slice {
				if seen, ok := c.visited[addr]; ok {
					return String("<cycle:" + seen + ">")
				}
				c.visited[addr] = path
				defer delete(c.visited, addr)
			}
		}
	}

	switch v.Kind() {
	case reflect.Bool:
		return Boolean(v.Bool())
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return Integer(v.Int())
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		if u := v.Uint(); u <= math.MaxInt64 {
			return Integer(int64(u))
		} else {
			return Float(float64(u))
		}
	case reflect.Float32, reflect.Float64:
		return Float(v.Float())
	case reflect.Complex64, reflect.Complex128:
		return String(fmt.Sprint(v.Complex()))
	case reflect.String:
		return String(limitCapturedString(v.String()))
	case reflect.Pointer:
		return Reference{Target: c.capture(v.Elem(), depth+1, path)}
	case reflect.Slice:
		if v.Type().Elem().Kind() == reflect.Uint8 && utf8.Valid(v.Bytes()) {
			return String(limitCapturedString(string(v.Bytes())))
		}
		return Vec{Elements: c.captureElements(v, depth, path), Length: v.Len(), Capacity: v.Cap()}
	case reflect.Array:
		return Array(c.captureElements(v, depth, path))
	case reflect.Map:
		return c.captureMap(v, depth, path)
	case reflect.Struct:
		return c.captureStruct(v, depth, path)
	case reflect.Func:
		return String("<func>")
	case reflect.Chan:
		return String("<chan>")
	default:
		return String(limitCapturedString(fmt.Sprint(v.Interface())))
	}
}

func captureNilContainer(v reflect.Value) VariableValue {
	switch v.Kind() {
	case reflect.Slice:
		return Vec{}
	case reflect.Map:
		return HashMap{}
	}
	return Null{}
}

func (c *capturer) captureElements(v reflect.Value, depth int, path string) []VariableValue {
	n := min(v.Len(), captureMaxLen)
	elements := make([]VariableValue, n)
	for i := 0; i < n; i++ {
		elements[i] = c.capture(v.Index(i), depth+1, path+"["+strconv.Itoa(i)+"]")
	}
	return elements
}

func (c *capturer) captureMap(v reflect.Value, depth int, path string) VariableValue {
	keys := v.MapKeys()
	slices.SortFunc(keys, compareReflectValue)
	n := min(len(keys), captureMaxLen)
	entries := make([]MapEntry, n)
	for i, k := range keys[:n] {
		keyPath := path + "[" + fmt.Sprint(k.Interface()) + "]"
		entries[i] = MapEntry{
			Key:   c.capture(k, depth+1, keyPath),
			Value: c.capture(v.MapIndex(k), depth+1, keyPath),
		}
	}
	return HashMap{Entries: entries, Size: len(keys), Capacity: len(keys)}
}

func (c *capturer) captureStruct(v reflect.Value, depth int, path string) VariableValue {
	vType := v.Type()
	if !v.CanAddr() {
		tmp := reflect.New(vType).Elem()
		tmp.Set(v)
		v = tmp
	}
	fields := make(Struct, vType.NumField())
	for i := range fields {
		sf := vType.Field(i)
		fv := v.Field(i)
		if !fv.CanInterface() {
			fv = reflect.NewAt(fv.Type(), unsafe.Pointer(fv.UnsafeAddr())).Elem()
		}
		fieldPath := sf.Name
		if path != "" {
			fieldPath = path + "." + sf.Name
		}
		fields[i] = Field{Name: sf.Name, Value: c.capture(fv, depth+1, fieldPath)}
	}
	return fields
}

// compareReflectValue orders map keys of the same type so captured maps render deterministically.
func compareReflectValue(a, b reflect.Value) int {
	switch a.Kind() {
	case reflect.String:
		return cmp.Compare(a.String(), b.String())
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return cmp.Compare(a.Int(), b.Int())
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return cmp.Compare(a.Uint(), b.Uint())
	case reflect.Float32, reflect.Float64:
		return cmp.Compare(a.Float(), b.Float())
	case reflect.Bool:
		return cmp.Compare(boolRank(a.Bool()), boolRank(b.Bool()))
	case reflect.Pointer, reflect.UnsafePointer, reflect.Chan:
		return cmp.Compare(a.Pointer(), b.Pointer())
	case reflect.Array:
		for i := 0; i < a.Len(); i++ {
			if r := compareReflectValue(a.Index(i), b.Index(i)); r != 0 {
				return r
			}
		}
		return 0
	case reflect.Struct:
		for i := 0; i < a.NumField(); i++ {
			if r := compareReflectValue(a.Field(i), b.Field(i)); r != 0 {
				return r
			}
		}
		return 0
	case reflect.Interface:
		switch {
		case a.IsNil() && b.IsNil():
			return 0
		case a.IsNil():
			return -1
		case b.IsNil():
			return 1
		case a.Elem().Type() != b.Elem().Type():
			return cmp.Compare(a.Elem().Type().String(), b.Elem().Type().String())
		}
		return compareReflectValue(a.Elem(), b.Elem())
	default:
		return cmp.Compare(fmt.Sprint(a.Interface()), fmt.Sprint(b.Interface()))
	}
}

func boolRank(b bool) int {
	if b {
		return 1
	}
	return 0
}
