//go:build vmdebug

package vm

import "fmt"

// assertf panics on a violated family contract. Only compiled in with
// -tags vmdebug; release builds keep the hot path free of these checks.
func assertf(cond bool, format string, args ...any) {
	if !cond {
		panic(fmt.Sprintf("vm contract violation: "+format, args...))
	}
}
