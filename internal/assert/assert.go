// Package assert provides invariant checks that are only active in debug builds.
//
// Build with -tags ctdebug to turn violated invariants into panics. Release
// builds compile the checks away and callers fall back to clamping.
package assert

import "fmt"

// That panics with the formatted message when Enabled and cond is false.
func That(cond bool, format string, args ...any) {
	if Enabled && !cond {
		panic(fmt.Sprintf("assertion failed: "+format, args...))
	}
}
