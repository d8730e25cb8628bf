package vm

import "testing"

// newTestRegistry builds and finalizes a default registry, applying an
// optional tuning hook before finalization.
func newTestRegistry(t *testing.T, tune func(*Registry)) *Registry {
	t.Helper()
	reg, err := NewDefaultRegistry()
	if err != nil {
		t.Fatalf("NewDefaultRegistry: %v", err)
	}
	if tune != nil {
		tune(reg)
	}
	reg.Finalize()
	return reg
}

// newTestInterp creates an interpreter with a fresh heap and global table.
func newTestInterp(t *testing.T, reg *Registry, opts ...InterpOption) *Interp {
	t.Helper()
	in, err := NewInterp(reg, NewHeap(), NewGlobalTable(), opts...)
	if err != nil {
		t.Fatalf("NewInterp: %v", err)
	}
	return in
}

// buildAndQuicken assembles a code object and quickens it for reg.
func buildAndQuicken(t *testing.T, reg *Registry, b *CodeBuilder) *Code {
	t.Helper()
	c := b.Build()
	if err := c.Quicken(reg); err != nil {
		t.Fatalf("Quicken: %v", err)
	}
	return c
}

// loadGlobalCode builds: LOAD_GLOBAL name; RETURN
func loadGlobalCode(t *testing.T, reg *Registry, name string) *Code {
	t.Helper()
	b := NewCodeBuilder()
	b.Emit(OpLoadGlobal, b.Name(name))
	b.Emit(OpReturn, 0)
	return buildAndQuicken(t, reg, b)
}

// binaryGlobalsCode builds: LOAD_GLOBAL a; LOAD_GLOBAL b; BINARY_OP op; RETURN
func binaryGlobalsCode(t *testing.T, reg *Registry, op BinOp) *Code {
	t.Helper()
	b := NewCodeBuilder()
	b.Emit(OpLoadGlobal, b.Name("a"))
	b.Emit(OpLoadGlobal, b.Name("b"))
	b.Emit(OpBinaryOp, uint32(op))
	b.Emit(OpReturn, 0)
	return buildAndQuicken(t, reg, b)
}

// mustRun executes a code object and fails the test on error.
func mustRun(t *testing.T, in *Interp, c *Code) Value {
	t.Helper()
	v, err := in.Run(c)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	return v
}
