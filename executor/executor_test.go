package executor

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/molsim/suite-runner/gating"
	"github.com/molsim/suite-runner/types"
)

func TestRegistryExecute(t *testing.T) {
	reg := NewRegistry()
	ran := false
	require.NoError(t, reg.Register("a.py", func(ctx context.Context, sc *Scope) error {
		ran = true
		return nil
	}))
	require.NoError(t, reg.Register("b.py", func(ctx context.Context, sc *Scope) error {
		return types.Skip("no lammps")
	}))

	sc := NewScope(nil, gating.New())
	require.NoError(t, reg.Execute(context.Background(), "a.py", sc))
	assert.True(t, ran)

	err := reg.Execute(context.Background(), "b.py", sc)
	var skip *types.SkipError
	require.True(t, errors.As(err, &skip))
	assert.Equal(t, "no lammps", skip.Reason)
}

func TestRegistryUnknownTest(t *testing.T) {
	reg := NewRegistry()
	err := reg.Execute(context.Background(), "ghost.py", NewScope(nil, gating.New()))
	require.ErrorContains(t, err, `unknown test "ghost.py"`)
}

func TestRegistryDuplicate(t *testing.T) {
	reg := NewRegistry()
	fn := func(ctx context.Context, sc *Scope) error { return nil }
	require.NoError(t, reg.Register("a.py", fn))
	require.Error(t, reg.Register("a.py", fn))
}

func TestScopeOutput(t *testing.T) {
	var buf bytes.Buffer
	sc := NewScope(&buf, gating.New())
	_, err := sc.Output.Write([]byte("hello"))
	require.NoError(t, err)
	assert.Equal(t, "hello", buf.String())

	// A nil writer falls back to discard.
	sc = NewScope(nil, gating.New())
	_, err = sc.Output.Write([]byte("dropped"))
	require.NoError(t, err)
}

func TestRecorder(t *testing.T) {
	rec := NewRecorder()
	rec.Warn(CategoryUser, "one")
	rec.Warn(CategoryDeprecation, "two")

	assert.Equal(t, 2, rec.Len())
	assert.True(t, rec.CategorySince(0, CategoryDeprecation))
	assert.False(t, rec.CategorySince(2, CategoryDeprecation))

	ws := rec.Warnings()
	require.Len(t, ws, 2)
	assert.Equal(t, "one", ws[0].Message)
}

func TestStrictPolicy(t *testing.T) {
	policy := DefaultStrictPolicy()

	// Exempt categories never violate.
	assert.Nil(t, policy.Violation([]Warning{
		{Category: CategoryPendingDeprecation, Message: "old"},
		{Category: CategoryResource, Message: "leaky"},
		{Category: CategoryExperimental, Message: "new"},
	}))

	// Known third-party patterns are exempt regardless of category.
	assert.Nil(t, policy.Violation([]Warning{
		{Category: CategoryDeprecation, Message: "Using or importing the ABCs from x is deprecated"},
	}))

	v := policy.Violation([]Warning{
		{Category: CategoryPendingDeprecation, Message: "ignored"},
		{Category: CategoryUser, Message: "trouble"},
	})
	require.NotNil(t, v)
	assert.Equal(t, "trouble", v.Message)
}

func TestMustPanic(t *testing.T) {
	v := MustPanic(func() { panic("boom") })
	assert.Equal(t, "boom", v)

	// A body that fails to panic is an assertion failure.
	defer func() {
		r := recover()
		fail, ok := r.(*types.FailError)
		require.True(t, ok)
		assert.Equal(t, "failed to fail", fail.Msg)
	}()
	MustPanic(func() {})
	t.Fatal("unreachable")
}

func TestMustPanicMatch(t *testing.T) {
	MustPanicMatch(func() { panic("expected") }, func(v any) bool {
		return v == "expected"
	})

	defer func() {
		assert.Equal(t, "unexpected", recover())
	}()
	MustPanicMatch(func() { panic("unexpected") }, func(v any) bool { return false })
	t.Fatal("unreachable")
}

func TestMustWarn(t *testing.T) {
	sc := NewScope(nil, gating.New())
	MustWarn(sc, CategoryDeprecation, func() {
		sc.Warnf(CategoryDeprecation, "going away")
	})

	defer func() {
		r := recover()
		fail, ok := r.(*types.FailError)
		require.True(t, ok)
		assert.Contains(t, fail.Msg, "failed to warn")
	}()
	MustWarn(sc, CategoryDeprecation, func() {})
	t.Fatal("unreachable")
}

func TestNoWarn(t *testing.T) {
	sc := NewScope(nil, gating.New())
	NoWarn(sc, func() {
		sc.Warnf(CategoryUser, "suppressed")
	})
	assert.Zero(t, sc.Warnings.Len())

	sc.Warnf(CategoryUser, "recorded")
	assert.Equal(t, 1, sc.Warnings.Len())
}
