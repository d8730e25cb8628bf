//go:build !vmdebug

package vm

// assertf is a no-op in normal builds. Build with -tags vmdebug to check
// family contracts at guard and operation boundaries during development.
func assertf(cond bool, format string, args ...any) {}
