package debugger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVariableUpdateValue(t *testing.T) {
	t.Parallel()

	t.Run("scalar", func(t *testing.T) {
		v := NewVariable("x", "i32", Integer(1), 0, true)
		assert.Equal(t, New, v.ChangeStatus)
		assert.Nil(t, v.PreviousValue)

		v.UpdateValue(Integer(2))
		assert.Equal(t, Modified, v.ChangeStatus)
		assert.Equal(t, Integer(1), v.PreviousValue)
		assert.Equal(t, Integer(2), v.Value)
		assert.True(t, v.HasChanged())

		v.ResetChangeStatus()
		assert.False(t, v.HasChanged())
	})
	t.Run("composite_same_shape", func(t *testing.T) {
		v := NewVariable("a", "[i32; 2]", Array{Integer(1), Integer(2)}, 0, true)
		v.UpdateValue(Array{Integer(1), Integer(3)})
		assert.Equal(t, ChildModified, v.ChangeStatus)
	})
	t.Run("composite_new_shape", func(t *testing.T) {
		v := NewVariable("a", "any", Integer(1), 0, true)
		v.UpdateValue(Array{Integer(1)})
		assert.Equal(t, Modified, v.ChangeStatus)
	})
}

func TestVariableDiff(t *testing.T) {
	t.Parallel()

	v := NewVariable("x", "i32", Integer(1), 0, true)
	assert.Empty(t, v.Diff())

	v.UpdateValue(Integer(2))
	diff := v.Diff()
	assert.Contains(t, diff, "--- x (previous)")
	assert.Contains(t, diff, "+++ x (current)")
	assert.Contains(t, diff, "-1\n")
	assert.Contains(t, diff, "+2\n")

	s := NewVariable("p", "Point", Struct{{Name: "x", Value: Integer(1)}, {Name: "y", Value: Integer(2)}}, 0, true)
	s.UpdateValue(Struct{{Name: "x", Value: Integer(1)}, {Name: "y", Value: Integer(5)}})
	diff = s.Diff()
	assert.Contains(t, diff, "-y: 2\n")
	assert.Contains(t, diff, "+y: 5\n")
	assert.NotContains(t, diff, "-x: 1")
}

func TestVariableRegistryShadowing(t *testing.T) {
	t.Parallel()

	r := NewVariableRegistry()
	r.Declare("x", "i32", Integer(1), false)
	r.EnterScope()
	assert.Equal(t, uint32(1), r.Scope())
	r.Declare("x", "i32", Integer(2), false)
	r.Declare("y", "i32", Integer(3), false)

	x, ok := r.Get("x")
	require.True(t, ok)
	assert.Equal(t, Integer(2), x.Value)
	assert.Equal(t, uint32(1), x.ScopeLevel)

	r.ExitScope()
	x, ok = r.Get("x")
	require.True(t, ok)
	assert.Equal(t, Integer(1), x.Value)
	_, ok = r.Get("y")
	assert.False(t, ok)
	assert.Equal(t, uint32(0), r.Scope())

	r.ExitScope() // no scope to leave
	assert.Equal(t, uint32(0), r.Scope())
}

func TestVariableRegistryDeclareSameScope(t *testing.T) {
	t.Parallel()

	r := NewVariableRegistry()
	first := r.Declare("x", "i32", Integer(1), true)
	r.ChangedVariables()

	again := r.Declare("x", "i32", Integer(1), true)
	assert.Same(t, first, again)
	assert.Empty(t, r.ChangedVariables())

	again = r.Declare("x", "i32", Integer(4), true)
	assert.Same(t, first, again)
	assert.Equal(t, Modified, again.ChangeStatus)
	changed := r.ChangedVariables()
	require.Len(t, changed, 1)
	assert.Equal(t, "x", changed[0].Name)
}

func TestVariableRegistryUpdate(t *testing.T) {
	t.Parallel()

	r := NewVariableRegistry()
	assert.ErrorIs(t, r.Update("missing", Integer(1)), ErrVariableNotFound)

	r.Declare("b", "i32", Integer(1), true)
	r.Declare("a", "i32", Integer(1), true)
	require.NoError(t, r.Update("b", Integer(2)))
	require.NoError(t, r.Update("b", Integer(3)))

	changed := r.ChangedVariables()
	require.Len(t, changed, 2)
	assert.Equal(t, "b", changed[0].Name)
	assert.Equal(t, "a", changed[1].Name)
	assert.Empty(t, r.ChangedVariables())

	require.NoError(t, r.Update("a", Integer(1))) // equal value
	assert.Empty(t, r.ChangedVariables())
}

func TestVariableRegistryQueries(t *testing.T) {
	t.Parallel()

	r := NewVariableRegistry()
	r.Declare("z", "i32", Integer(26), false)
	r.Declare("a", "String", String("first"), false)

	all := r.All()
	require.Len(t, all, 2)
	assert.Equal(t, "a", all[0].Name)
	assert.Equal(t, "z", all[1].Name)

	assert.Equal(t, map[string]VariableValue{"a": String("first"), "z": Integer(26)}, r.Snapshot())

	r.ResetChangeStatus()
	for _, v := range r.All() {
		assert.False(t, v.HasChanged())
	}

	text, ok := r.Visualize("a")
	require.True(t, ok)
	assert.Equal(t, `a: String = "first"`, text)
	_, ok = r.Visualize("missing")
	assert.False(t, ok)
}

func TestChangeStatusString(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "ChildModified", ChildModified.String())
	assert.Equal(t, "ChangeStatus(9)", ChangeStatus(9).String())
}
