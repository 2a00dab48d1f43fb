// Copyright 2024 Richard Kelsey. All rights reserved.
// See file LICENSE for notices and license.

package roots

import (
	"testing"

	"go/types"

	"github.com/stretchr/testify/require"

	"github.com/s48/gclower/ir"
)

func TestClassifyPool(t *testing.T) {
	for _, size := range []int{1, 8, 9, 100, 2032} {
		offset, osize := classifyPool(size)
		require.LessOrEqual(t, 0, offset, "size %d", size)
		require.LessOrEqual(t, size, osize, "size %d", size)
	}
	// Pool offsets grow with the size class.
	smallOffset, _ := classifyPool(8)
	largeOffset, _ := classifyPool(2000)
	require.Less(t, smallOffset, largeOffset)
	// Too big for any pool.
	offset, _ := classifyPool(4096)
	require.Negative(t, offset)
}

func TestLowerPoolAllocation(t *testing.T) {
	fx := makeFixture(t)
	threadPtr := fx.rt.AllocObj.Args[0].Typ
	slotPtr := ir.MakePointer(fx.rt.TrackedPtr, ir.Untracked)
	fn := fx.mod.AddFunction(ir.MakeFunction("allocSmall",
		nil, threadPtr, fx.rt.TrackedPtr, slotPtr))
	entry := fn.MakeBlock("entry")
	alloc := ir.MakeCall(fx.rt.AllocObj, fx.rt.TrackedPtr,
		fn.Args[0], ir.MakeIntConstant(16, fx.rt.Size), fn.Args[1])
	entry.Append(alloc)
	sink := ir.MakeStore(alloc, fn.Args[2])
	entry.Append(sink)
	fx.ret(entry)

	runPass(fx, fn)

	offset, osize := classifyPool(16)
	var poolCall *ir.CallInstrT
	var tagStore *ir.StoreInstrT
	for _, instr := range entry.Instrs {
		switch instr := instr.(type) {
		case *ir.CallInstrT:
			require.NotEqual(t, ir.ValueT(fx.rt.AllocObj), instr.Callee)
			if instr.CalledFunction() == fx.rt.PoolAlloc {
				poolCall = instr
			}
		case *ir.StoreInstrT:
			if instr.HasFlag(ir.TagStore) {
				tagStore = instr
			}
		}
	}
	require.NotNil(t, poolCall)
	require.Equal(t, int64(offset), ir.ConstantInt(poolCall.Args[1]))
	require.Equal(t, int64(osize), ir.ConstantInt(poolCall.Args[2]))
	// The tag goes through a derived pointer one word below the
	// object.
	require.NotNil(t, tagStore)
	require.Equal(t, ir.ValueT(fn.Args[1]), tagStore.Value)
	// The allocation's uses now see the pool call.
	require.Equal(t, ir.ValueT(poolCall), sink.Value)
}

func TestLowerBigAllocation(t *testing.T) {
	fx := makeFixture(t)
	threadPtr := fx.rt.AllocObj.Args[0].Typ
	slotPtr := ir.MakePointer(fx.rt.TrackedPtr, ir.Untracked)
	fn := fx.mod.AddFunction(ir.MakeFunction("allocBig",
		nil, threadPtr, fx.rt.TrackedPtr, slotPtr))
	entry := fn.MakeBlock("entry")
	alloc := ir.MakeCall(fx.rt.AllocObj, fx.rt.TrackedPtr,
		fn.Args[0], ir.MakeIntConstant(4096, fx.rt.Size), fn.Args[1])
	entry.Append(alloc)
	sink := ir.MakeStore(alloc, fn.Args[2])
	entry.Append(sink)
	fx.ret(entry)

	runPass(fx, fn)

	bigCall, isCall := sink.Value.(*ir.CallInstrT)
	require.True(t, isCall)
	require.Equal(t, ir.ValueT(fx.rt.BigAlloc), bigCall.Callee)
	// The runtime wants the object size plus the tag word.
	require.Equal(t, int64(4096+wordSize), ir.ConstantInt(bigCall.Args[1]))
}

func TestLowerPointerFromObjref(t *testing.T) {
	fx := makeFixture(t)
	fn := fx.mod.AddFunction(ir.MakeFunction("coerce", nil, fx.rt.TrackedPtr))
	entry := fn.MakeBlock("entry")
	coerce := ir.MakeCall(fx.rt.PointerFromObjref, types.Typ[types.Int64], fn.Args[0])
	entry.Append(coerce)
	entry.Append(ir.MakeReturn(coerce))

	runPass(fx, fn)

	ret := entry.Terminator().(*ir.ReturnInstrT)
	cast, isCast := ret.Value.(*ir.CastInstrT)
	require.True(t, isCast)
	require.Equal(t, ir.PtrToInt, cast.Kind)
	require.Equal(t, ir.ValueT(fn.Args[0]), cast.X)
	for _, instr := range entry.Instrs {
		require.NotEqual(t, ir.InstrT(coerce), instr)
	}
}

func TestFlushRemoved(t *testing.T) {
	fx := makeFixture(t)
	fn := fx.mod.AddFunction(ir.MakeFunction("flush", nil))
	entry := fn.MakeBlock("entry")
	entry.Append(ir.MakeCall(fx.rt.Flush, nil))
	fx.ret(entry)

	runPass(fx, fn)
	require.Len(t, entry.Instrs, 1) // just the return
}

func TestLowerVarargsCall(t *testing.T) {
	fx := makeFixture(t)
	dispatch := fx.mod.DeclareFunction("dispatch", fx.rt.TrackedPtr)
	fn := fx.mod.AddFunction(ir.MakeFunction("varargs",
		nil, fx.rt.TrackedPtr, fx.rt.TrackedPtr, fx.rt.TrackedPtr))
	entry := fn.MakeBlock("entry")
	call := ir.MakeCall(dispatch, fx.rt.TrackedPtr,
		fn.Args[0], fn.Args[1], fn.Args[2])
	call.Conv = ir.VarargsFConv
	entry.Append(call)
	fx.ret(entry)

	runPass(fx, fn)

	var argsFrame *ir.AllocaInstrT
	var newCall *ir.CallInstrT
	spills := 0
	for _, instr := range entry.Instrs {
		switch instr := instr.(type) {
		case *ir.AllocaInstrT:
			argsFrame = instr
		case *ir.CallInstrT:
			newCall = instr
		case *ir.StoreInstrT:
			spills += 1
		}
	}
	// The F convention keeps the first argument in place and spills
	// the other two into the shared array.
	require.NotNil(t, argsFrame)
	require.Equal(t, 2, argsFrame.Count)
	require.Equal(t, 2, spills)
	require.NotNil(t, newCall)
	require.Equal(t, ir.DefaultConv, newCall.Conv)
	require.Len(t, newCall.Args, 3)
	require.Equal(t, ir.ValueT(fn.Args[0]), newCall.Args[0])
	require.Equal(t, ir.ValueT(argsFrame), newCall.Args[1])
	require.Equal(t, int64(2), ir.ConstantInt(newCall.Args[2]))
}

func TestVarargsWithNoArrayArgs(t *testing.T) {
	fx := makeFixture(t)
	dispatch := fx.mod.DeclareFunction("dispatch0", fx.rt.TrackedPtr)
	fn := fx.mod.AddFunction(ir.MakeFunction("varargs0", nil, fx.rt.TrackedPtr))
	entry := fn.MakeBlock("entry")
	call := ir.MakeCall(dispatch, fx.rt.TrackedPtr, fn.Args[0])
	call.Conv = ir.VarargsFConv
	entry.Append(call)
	fx.ret(entry)

	runPass(fx, fn)

	var newCall *ir.CallInstrT
	for _, instr := range entry.Instrs {
		// The unused spill array is dropped again.
		_, isAlloca := instr.(*ir.AllocaInstrT)
		require.False(t, isAlloca)
		if call, isCall := instr.(*ir.CallInstrT); isCall {
			newCall = call
		}
	}
	require.NotNil(t, newCall)
	require.Len(t, newCall.Args, 3)
	null, isConstant := newCall.Args[1].(*ir.ConstantT)
	require.True(t, isConstant)
	require.Nil(t, null.Value)
	require.Equal(t, int64(0), ir.ConstantInt(newCall.Args[2]))
}
