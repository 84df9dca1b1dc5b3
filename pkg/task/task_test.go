package task

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aescanero/canvas/pkg/canvas"
	"github.com/aescanero/canvas/pkg/domain"
)

func addHandler(_ *Context, args []any, kwargs map[string]any) (any, error) {
	xy, err := Floats(args, kwargs, "x", "y")
	if err != nil {
		return nil, err
	}
	return xy[0] + xy[1], nil
}

func TestRegistry_RegisterResolve(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register("add", addHandler))

	def, err := r.Resolve("add")
	require.NoError(t, err)
	assert.Equal(t, "add", def.Name)
	assert.Equal(t, UnwrapAll, def.Unwrap)

	err = r.Register("add", addHandler)
	assert.ErrorIs(t, err, domain.ErrDuplicateTask)

	_, err = r.Resolve("missing")
	assert.ErrorIs(t, err, domain.ErrUnknownTask)
	assert.False(t, r.Has("missing"))
}

func TestRegistry_Options(t *testing.T) {
	r := NewRegistry()
	r.MustRegister("sum", addHandler, WithUnwrap(UnwrapNone), WithMaxRetries(2))
	r.MustRegister("b", addHandler)

	def, err := r.Resolve("sum")
	require.NoError(t, err)
	assert.Equal(t, UnwrapNone, def.Unwrap)
	assert.Equal(t, 2, def.MaxRetries)
	assert.Equal(t, []string{"b", "sum"}, r.Names())

	assert.Panics(t, func() { r.MustRegister("b", addHandler) })
	assert.Error(t, r.Register("", addHandler))
	assert.Error(t, r.Register("nil", nil))
}

// The three accepted call shapes must reach add(x, y) identically.
func TestAdapt_CallShapes(t *testing.T) {
	tests := map[string]struct {
		args   []any
		kwargs map[string]any
	}{
		"sequence":   {args: []any{[]any{3, 4}}},
		"mapping":    {args: []any{map[string]any{"x": 3, "y": 4}}},
		"positional": {args: []any{3, 4}},
		"keywords":   {kwargs: map[string]any{"x": 3, "y": 4}},
		"mixed":      {args: []any{3}, kwargs: map[string]any{"y": 4}},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			args, kwargs := Adapt(UnwrapAll, tt.args, tt.kwargs)
			got, err := addHandler(nil, args, kwargs)
			require.NoError(t, err)
			assert.Equal(t, 7.0, got)

			bound, err := Bind(args, kwargs, "x", "y")
			require.NoError(t, err)
			assert.Equal(t, []any{3, 4}, bound)
		})
	}
}

func TestAdapt_Policies(t *testing.T) {
	list := []any{[]any{1, 2}}
	mapping := []any{map[string]any{"a": 1}}

	args, _ := Adapt(UnwrapNone, list, nil)
	assert.Equal(t, list, args)

	args, _ = Adapt(UnwrapMapping, list, nil)
	assert.Equal(t, list, args)

	_, kwargs := Adapt(UnwrapSequence, mapping, nil)
	assert.Empty(t, kwargs)

	args, _ = Adapt(UnwrapSequence, list, nil)
	assert.Equal(t, []any{1, 2}, args)

	// kwargs present: no unwrapping
	args, kwargs = Adapt(UnwrapAll, list, map[string]any{"k": 1})
	assert.Equal(t, list, args)
	assert.Equal(t, map[string]any{"k": 1}, kwargs)
}

func TestAdapt_DoesNotAlias(t *testing.T) {
	inner := []any{1, 2}
	args, _ := Adapt(UnwrapAll, []any{inner}, nil)
	args[0] = 99
	assert.Equal(t, 1, inner[0])
}

func TestBind_Errors(t *testing.T) {
	_, err := Bind([]any{1, 2, 3}, nil, "x", "y")
	assertKind(t, err, domain.KindTypeError)

	_, err = Bind([]any{1}, nil, "x", "y")
	assertKind(t, err, domain.KindTypeError)

	_, err = Bind([]any{1}, map[string]any{"x": 2}, "x", "y")
	assertKind(t, err, domain.KindTypeError)

	_, err = Bind(nil, map[string]any{"z": 2}, "x")
	assertKind(t, err, domain.KindTypeError)
}

func assertKind(t *testing.T, err error, kind string) {
	t.Helper()
	var te *domain.TaskError
	require.True(t, errors.As(err, &te), "expected TaskError, got %v", err)
	assert.Equal(t, kind, te.Kind)
}

func TestNumbers(t *testing.T) {
	f, err := Float("2.5")
	require.NoError(t, err)
	assert.Equal(t, 2.5, f)

	n, err := Int(4.0)
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	_, err = Int(4.5)
	assert.Error(t, err)
	_, err = Float([]any{})
	assert.Error(t, err)

	_, err = List("nope")
	assert.Error(t, err)
}

func TestContext_ReplaceOnce(t *testing.T) {
	tc := NewContext(context.Background(), "id-1", "fanout", 0, nil)
	assert.Nil(t, tc.Replacement())

	g := canvas.NewGroup(canvas.Sig("double_number", 1))
	require.NoError(t, tc.Replace(g))
	assert.ErrorIs(t, tc.Replace(g), domain.ErrAlreadyReplaced)
	assert.Equal(t, canvas.KindGroup, tc.Replacement().Kind())

	assert.Error(t, NewContext(context.Background(), "id-2", "x", 0, nil).Replace(canvas.Sig("")))
}
