package debugger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBaseTypeName(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		"Vec<i32>":                        "Vec",
		"[]int":                           "Vec",
		"map[string]int":                  "HashMap",
		"string":                          "String",
		"std::collections::HashMap<K, V>": "HashMap",
		"Option<String>":                  "Option",
		"Point":                           "Point",
	}
	for input, expect := range tests {
		assert.Equal(t, expect, baseTypeName(input), input)
	}
}

func TestTypeVisualizerBuiltins(t *testing.T) {
	t.Parallel()
	tv := NewTypeVisualizer()

	t.Run("vec", func(t *testing.T) {
		s, ok := tv.Visualize(NewVariable("v", "Vec<i32>", NewVec([]VariableValue{Integer(1), Integer(2)}, 4), 0, false))
		require.True(t, ok)
		assert.Equal(t, "Vec<_> (length: 2, capacity: 4)\nContents:\n  [0]: 1\n  [1]: 2", s)
	})
	t.Run("option", func(t *testing.T) {
		s, ok := tv.Visualize(NewVariable("o", "Option<i32>", Some(Integer(1)), 0, false))
		require.True(t, ok)
		assert.Equal(t, "Some(1)", s)

		s, ok = tv.Visualize(NewVariable("o", "Option<i32>", None(), 0, false))
		require.True(t, ok)
		assert.Equal(t, "None", s)
	})
	t.Run("result", func(t *testing.T) {
		s, ok := tv.Visualize(NewVariable("r", "Result<i32, E>", Struct{{Name: "Err", Value: String("bad")}}, 0, false))
		require.True(t, ok)
		assert.Equal(t, `Err("bad")`, s)
	})
	t.Run("string", func(t *testing.T) {
		s, ok := tv.Visualize(NewVariable("s", "String", String("a\n"), 0, false))
		require.True(t, ok)
		assert.Contains(t, s, "String (length: 2)")
		assert.Contains(t, s, "Special characters:")
		assert.Contains(t, s, "U+000A")
	})
	t.Run("hashmap", func(t *testing.T) {
		m := NewHashMap([]MapEntry{{Key: String("k"), Value: Integer(1)}}, 8)
		s, ok := tv.Visualize(NewVariable("m", "HashMap<String, i32>", m, 0, false))
		require.True(t, ok)
		assert.Equal(t, "HashMap (size: 1, capacity: 8)\nEntries:\n  0: \"k\" => 1", s)
	})
	t.Run("shape_mismatch", func(t *testing.T) {
		_, ok := tv.Visualize(NewVariable("v", "Vec<i32>", Integer(1), 0, false))
		assert.False(t, ok)
	})
	t.Run("unregistered", func(t *testing.T) {
		assert.False(t, tv.Has("Point"))
		_, ok := tv.Visualize(NewVariable("p", "Point", Struct{}, 0, false))
		assert.False(t, ok)
	})
}

func TestTypeVisualizerRegister(t *testing.T) {
	t.Parallel()

	tv := NewTypeVisualizer()
	tv.Register("Point", func(v *Variable) (string, bool) {
		return "point!", true
	})
	assert.True(t, tv.Has("Point"))
	s, ok := tv.Visualize(NewVariable("p", "Point", Struct{}, 0, false))
	require.True(t, ok)
	assert.Equal(t, "point!", s)
}

func TestTypeVisualizerComposite(t *testing.T) {
	t.Parallel()

	tv := NewTypeVisualizer()
	p := NewVariable("p", "Point", Struct{{Name: "x", Value: Integer(1)}}, 0, false)
	assert.Equal(t, "Point {\n  x: 1\n}", tv.Composite("Point", p, 0))
	assert.Equal(t, "Point... (max depth reached)", tv.Composite("Point", p, maxCompositeDepth+1))

	n := NewVariable("n", "i32", Integer(3), 0, false)
	assert.Equal(t, "i32 = 3", tv.Composite("i32", n, 0))
}

func TestTypeVisualizerDetailed(t *testing.T) {
	t.Parallel()

	tv := NewTypeVisualizer()
	v := NewVariable("v", "Vec<i32>", NewVec([]VariableValue{Integer(1), Integer(2)}, 4), 0, false)
	assert.Equal(t, "v: Vec<i32> = Vec (len: 2, capacity: 4) [1, 2]\n  Length: 2\n  Capacity: 4\n  Elements:\n    [0]: 1\n    [1]: 2",
		tv.Detailed(v))

	o := NewVariable("o", "Option<i32>", None(), 0, false)
	assert.Equal(t, "o: Option<i32> = None\n  Contains no value (None)", tv.Detailed(o))

	elements := make([]VariableValue, 12)
	for i := range elements {
		elements[i] = Integer(i)
	}
	a := NewVariable("a", "[i32; 12]", Array(elements), 0, false)
	assert.Contains(t, tv.Detailed(a), "... and 2 more elements")
}
