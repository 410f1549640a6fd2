package util

import "fmt"

// Assertf panics with a formatted message if cond is false. Lazy args (functions
// of signature func() any) are only evaluated when the assertion actually fires.
func Assertf(cond bool, format string, args ...any) {
	if !cond {
		panic(fmt.Sprintf("assertion failed: "+format, EvalLazyArgs(args...)...))
	}
}

// AssertNoError panics if err != nil.
func AssertNoError(err error, prefix ...string) {
	if err == nil {
		return
	}
	pref := "error"
	if len(prefix) > 0 {
		pref = prefix[0]
	}
	panic(fmt.Sprintf("%s: %v", pref, err))
}

// AssertMustError panics if err == nil, i.e. an error was expected but didn't occur.
func AssertMustError(err error) {
	if err == nil {
		panic("AssertMustError: error expected")
	}
}

// EvalLazyArgs evaluates any func() any argument, leaving the rest untouched.
// This lets call sites defer the cost of building a diagnostic message until
// the assertion or trace actually fires.
func EvalLazyArgs(args ...any) []any {
	ret := make([]any, len(args))
	for i, a := range args {
		if fn, ok := a.(func() any); ok {
			ret[i] = fn()
		} else {
			ret[i] = a
		}
	}
	return ret
}

// KeysSorted returns the keys of m sorted with less.
func KeysSorted[K comparable, V any](m map[K]V, less func(k1, k2 K) bool) []K {
	ret := make([]K, 0, len(m))
	for k := range m {
		ret = append(ret, k)
	}
	sortSlice(ret, less)
	return ret
}

func sortSlice[K any](s []K, less func(a, b K) bool) {
	// simple insertion sort: these key lists are small (config/peer sets), O(n^2) is fine
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && less(s[j], s[j-1]); j-- {
			s[j], s[j-1] = s[j-1], s[j]
		}
	}
}
