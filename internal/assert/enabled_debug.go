//go:build ctdebug

package assert

// Enabled reports whether invariant checks panic.
const Enabled = true
