package main

import (
	"github.com/donBarbos/cpython/vm"
)

// buildDemo assembles the built-in demo program:
//
//	acc = 0
//	i = n
//	while i > 0 { acc = acc + o.step + g; i = i - 1 }
//	return acc
//
// It touches every adaptive family: global loads, an attribute load and
// binary arithmetic inside the loop.
func buildDemo() *vm.Code {
	b := vm.NewCodeBuilder()
	const (
		acc = 0
		i   = 1
	)
	b.Locals(2)

	b.Emit(vm.OpLoadConst, b.Const(vm.MakeSmallInt(0)))
	b.Emit(vm.OpStoreFast, acc)
	b.Emit(vm.OpLoadGlobal, b.Name("n"))
	b.Emit(vm.OpStoreFast, i)

	top := b.Len()
	b.Emit(vm.OpLoadFast, i)
	b.Emit(vm.OpLoadConst, b.Const(vm.MakeSmallInt(0)))
	b.Emit(vm.OpCompareOp, uint32(vm.CmpLe))
	exit := b.Emit(vm.OpJumpIfFalse, 0)
	done := b.Emit(vm.OpJump, 0)
	b.SetArg(exit, uint32(b.Len()))

	b.Emit(vm.OpLoadFast, acc)
	b.Emit(vm.OpLoadGlobal, b.Name("o"))
	b.Emit(vm.OpLoadAttr, b.Name("step"))
	b.Emit(vm.OpBinaryOp, uint32(vm.BinAdd))
	b.Emit(vm.OpLoadGlobal, b.Name("g"))
	b.Emit(vm.OpBinaryOp, uint32(vm.BinAdd))
	b.Emit(vm.OpStoreFast, acc)
	b.Emit(vm.OpLoadFast, i)
	b.Emit(vm.OpLoadConst, b.Const(vm.MakeSmallInt(1)))
	b.Emit(vm.OpBinaryOp, uint32(vm.BinSub))
	b.Emit(vm.OpStoreFast, i)
	b.Emit(vm.OpJump, uint32(top))

	b.SetArg(done, uint32(b.Len()))
	b.Emit(vm.OpLoadFast, acc)
	b.Emit(vm.OpReturn, 0)
	return b.Build()
}

// seedDemoGlobals populates the heap and globals the demo expects.
func seedDemoGlobals(in *vm.Interp, n int64) {
	shape := in.Heap.NewShape("step")
	in.Globals.Define("o", in.Heap.NewObject(shape, vm.MakeSmallInt(2)))
	in.Globals.Define("g", vm.MakeSmallInt(1))
	in.Globals.Define("n", vm.MakeSmallInt(n))
}
