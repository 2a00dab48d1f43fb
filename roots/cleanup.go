// Copyright 2024 Richard Kelsey. All rights reserved.
// See file LICENSE for notices and license.

// Final IR cleanup: lower the pseudo-intrinsics the front end left
// for us and rewrite variadic-pointer dispatches onto an argument
// array.  This runs even for functions with no GC activity.

package roots

import (
	"fmt"

	"github.com/s48/gclower/ir"
)

const wordSize = 8

// Pool size classes and the layout of the pool table in the thread
// state record.  The runtime fixes these; the classifier only picks
// the first class an object fits in.

var poolSizes = []int{
	8, 16, 24, 32, 40, 48, 56, 64,
	80, 96, 112, 128, 160, 192, 224, 256,
	320, 384, 448, 512, 640, 768, 896, 1024,
	1296, 1648, 2032,
}

const (
	poolTableOffset = 16 // word offset of the pool table
	poolEntryWords  = 6  // words per pool record
)

// Returns the thread-state offset and object size of the pool that
// serves 'size' bytes, or a negative offset if the object is too big
// for any pool.

func classifyPool(size int) (int, int) {
	for i, osize := range poolSizes {
		if size <= osize {
			return poolTableOffset + i*poolEntryWords, osize
		}
	}
	return -1, 0
}

//----------------------------------------------------------------

func cleanup(rt *ir.RuntimeT, fn *ir.FunctionT) {
	// The shared spill array for variadic-pointer dispatches.  Sized
	// after the fact; dropped if no call needed it.
	var argsFrame *ir.AllocaInstrT
	maxFrameArgs := 0
	if rt.TrackedPtr != nil {
		argsFrame = ir.MakeAlloca(rt.TrackedPtr, 0)
		argsFrame.Name = "argframe"
		fn.Entry().InsertAtFront(argsFrame)
	}
	calls := []*ir.CallInstrT{}
	for _, block := range fn.Blocks {
		for _, instr := range block.Instrs {
			if call, isCall := instr.(*ir.CallInstrT); isCall {
				calls = append(calls, call)
			}
		}
	}
	for _, call := range calls {
		callee := call.CalledFunction()
		switch {
		case callee != nil && callee == rt.Flush:
			ir.RemoveInstr(call)
		case callee != nil && callee == rt.PointerFromObjref:
			lowerPointerFromObjref(fn, call)
		case callee != nil && callee == rt.AllocObj:
			lowerAllocObj(rt, fn, call)
		case call.Conv != ir.DefaultConv:
			nframeargs := lowerVarargsCall(rt, fn, call, argsFrame)
			if maxFrameArgs < nframeargs {
				maxFrameArgs = nframeargs
			}
		}
	}
	if argsFrame != nil {
		if maxFrameArgs == 0 {
			ir.RemoveInstr(argsFrame)
		} else {
			argsFrame.Count = maxFrameArgs
		}
	}
}

// The coercion from a tracked pointer to a raw integer is just a
// ptrtoint once roots are in place.

func lowerPointerFromObjref(fn *ir.FunctionT, call *ir.CallInstrT) {
	ptr := ir.MakeCast(ir.PtrToInt, call.Args[0], call.Type())
	ptr.Name = call.Name
	ir.InsertBefore(call, ptr)
	ir.ReplaceAllUses(fn, call, ptr)
	ir.RemoveInstr(call)
}

// Object allocation splits by size: small objects come from the
// per-thread pools, everything else from the big-object allocator.
// Either way the type tag is stored through a derived pointer just
// below the object.

func lowerAllocObj(rt *ir.RuntimeT, fn *ir.FunctionT, call *ir.CallInstrT) {
	if len(call.Args) != 3 {
		panic(fmt.Sprintf("allocation call with %d arguments: %s", len(call.Args), call))
	}
	size := int(ir.ConstantInt(call.Args[1]))
	offset, osize := classifyPool(size)
	var newCall *ir.CallInstrT
	if offset < 0 {
		newCall = ir.MakeCall(rt.BigAlloc, rt.TrackedPtr, call.Args[0],
			ir.MakeIntConstant(int64(size+wordSize), rt.Size))
	} else {
		newCall = ir.MakeCall(rt.PoolAlloc, rt.TrackedPtr, call.Args[0],
			ir.MakeIntConstant(int64(offset), rt.Int32),
			ir.MakeIntConstant(int64(osize), rt.Int32))
	}
	newCall.Name = call.Name
	ir.InsertBefore(call, newCall)
	derived := ir.MakeAddrSpaceCast(newCall, rt.DerivedPtr)
	ir.InsertBefore(call, derived)
	tagSlot := ir.MakeBitCast(derived, ir.MakePointer(rt.TrackedPtr, ir.Derived))
	ir.InsertBefore(call, tagSlot)
	tagAddr := ir.MakeGep(tagSlot, ir.MakePointer(rt.TrackedPtr, ir.Derived),
		ir.MakeIntConstant(-1, rt.Size))
	ir.InsertBefore(call, tagAddr)
	tagStore := ir.MakeStore(call.Args[2], tagAddr)
	tagStore.SetFlag(ir.TagStore)
	ir.InsertBefore(call, tagStore)
	ir.ReplaceAllUses(fn, call, newCall)
	ir.RemoveInstr(call)
}

// A variadic-pointer dispatch passes its arguments in a stack array:
// the arguments are spilled (they are all rooted already, so plain
// stores suffice) and the call becomes callee(array, nargs), with
// the first argument kept in a register for the F variant.

func lowerVarargsCall(rt *ir.RuntimeT, fn *ir.FunctionT, call *ir.CallInstrT,
	argsFrame *ir.AllocaInstrT) int {

	if argsFrame == nil {
		panic(fmt.Sprintf("variadic-pointer call with no runtime declared: %s", call))
	}
	args := call.Args
	newArgs := []ir.ValueT{}
	if call.Conv == ir.VarargsFConv {
		newArgs = append(newArgs, args[0])
		args = args[1:]
	}
	for slot, arg := range args {
		gep := ir.MakeGep(argsFrame, rt.SlotPtr,
			ir.MakeIntConstant(int64(slot), rt.Int32))
		ir.InsertBefore(call, gep)
		ir.InsertBefore(call, ir.MakeStore(arg, gep))
	}
	if len(args) == 0 {
		newArgs = append(newArgs, ir.MakeNullPointer(rt.SlotPtr))
	} else {
		newArgs = append(newArgs, argsFrame)
	}
	newArgs = append(newArgs, ir.MakeIntConstant(int64(len(args)), rt.Int32))
	newCall := ir.MakeCall(call.Callee, call.Type(), newArgs...)
	newCall.Name = call.Name
	ir.InsertBefore(call, newCall)
	ir.ReplaceAllUses(fn, call, newCall)
	ir.RemoveInstr(call)
	return len(args)
}
