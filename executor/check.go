package executor

import (
	"github.com/molsim/suite-runner/types"
)

// Scoped assertion combinators for test bodies. Each runs its body and
// enforces a post-condition no matter how the body exits; a violated
// post-condition surfaces as an assertion failure.

// MustPanic asserts that fn panics and returns the recovered value. A body
// that completes normally is itself a failure.
func MustPanic(fn func()) (recovered any) {
	defer func() {
		recovered = recover()
		if recovered == nil {
			panic(types.Failf("failed to fail"))
		}
	}()
	fn()
	return nil
}

// MustPanicMatch is MustPanic with a predicate on the recovered value. A
// panic the predicate rejects is re-raised unchanged.
func MustPanicMatch(fn func(), match func(recovered any) bool) {
	v := MustPanic(fn)
	if !match(v) {
		panic(v)
	}
}

// MustWarn asserts that fn records at least one warning of the given
// category on the scope. If fn panics, the original panic wins.
func MustWarn(sc *Scope, category WarningCategory, fn func()) {
	mark := sc.Warnings.Len()
	defer func() {
		warned := sc.Warnings.CategorySince(mark, category)
		if r := recover(); r != nil {
			panic(r)
		}
		if !warned {
			panic(types.Failf("failed to warn: %s", category))
		}
	}()
	fn()
}

// NoWarn runs fn with warning recording suppressed.
func NoWarn(sc *Scope, fn func()) {
	sc.Warnings.mute()
	defer sc.Warnings.unmute()
	fn()
}
