// Copyright 2024 Richard Kelsey. All rights reserved.
// See file LICENSE for notices and license.

// Build sample functions and run the root-lowering pass over them.
//  --func <name>   Only print the named sample (the pass runs over all).
//  --log           Trace the pass's phases to stderr.

package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"go/types"

	"github.com/nikandfor/tlog"

	"github.com/s48/gclower/ir"
	"github.com/s48/gclower/roots"
)

func main() {
	sampleName := flag.String("func", "", "sample function")
	logging := flag.Bool("log", false, "trace the pass")
	flag.Parse()

	ctx := context.Background()
	if *logging {
		logger := tlog.New(tlog.NewConsoleWriter(os.Stderr, tlog.LstdFlags))
		span := logger.Start("driver")
		defer span.Finish()
		ctx = tlog.ContextWithSpan(ctx, span)
	}

	mod := ir.MakeModule("samples")
	rt := declareRuntime(mod)
	samples := buildSamples(mod, rt)

	before := map[string]string{}
	for _, fn := range samples {
		before[fn.Name] = ir.FunctionString(fn)
	}
	if err := roots.RunModule(ctx, mod); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
	for _, fn := range samples {
		if *sampleName != "" && *sampleName != fn.Name {
			continue
		}
		fmt.Printf("======== %s ========\n", fn.Name)
		fmt.Print(before[fn.Name])
		fmt.Printf("-------- lowered --------\n")
		ir.Print(fn)
	}
}

type runtimeT struct {
	threadStates *ir.FunctionT
	gcrt         *ir.FunctionT
	allocObj     *ir.FunctionT
	trackedPtr   *ir.PointerT
	untrackedPtr *ir.PointerT
}

func declareRuntime(mod *ir.ModuleT) *runtimeT {
	rt := &runtimeT{}
	rt.untrackedPtr = ir.MakePointer(types.Typ[types.Int8], ir.Untracked)
	rt.trackedPtr = ir.MakePointer(ir.Object, ir.Tracked)
	rt.threadStates = mod.DeclareFunction(ir.ThreadStatesName, rt.untrackedPtr)
	rt.allocObj = mod.DeclareFunction(ir.AllocObjName, rt.trackedPtr,
		rt.untrackedPtr, types.Typ[types.Int64], rt.trackedPtr)
	mod.DeclareFunction(ir.FlushName, nil)
	mod.DeclareFunction(ir.PointerFromObjrefName, types.Typ[types.Int64], rt.trackedPtr)
	rt.gcrt = mod.DeclareFunction("gcrt", nil)
	return rt
}

func buildSamples(mod *ir.ModuleT, rt *runtimeT) []*ir.FunctionT {
	return []*ir.FunctionT{
		straightLine(mod, rt),
		diamond(mod, rt),
		allocation(mod, rt),
	}
}

// Define a tracked value, cross a safepoint, use it.

func straightLine(mod *ir.ModuleT, rt *runtimeT) *ir.FunctionT {
	fn := mod.AddFunction(ir.MakeFunction("straightLine", nil, rt.untrackedPtr))
	entry := fn.MakeBlock("entry")
	entry.Append(ir.MakeCall(rt.threadStates, rt.untrackedPtr))
	value := ir.MakeAddrSpaceCast(fn.Args[0], rt.trackedPtr)
	entry.Append(value)
	entry.Append(ir.MakeCall(rt.gcrt, nil))
	entry.Append(ir.MakeCall(mod.Lookup(ir.PointerFromObjrefName),
		types.Typ[types.Int64], value))
	entry.Append(ir.MakeReturn(nil))
	return fn
}

// Two tracked defs merging in a phi that is live over a safepoint.

func diamond(mod *ir.ModuleT, rt *runtimeT) *ir.FunctionT {
	fn := mod.AddFunction(ir.MakeFunction("diamond", nil,
		rt.untrackedPtr, rt.untrackedPtr, types.Typ[types.Bool]))
	entry := fn.MakeBlock("entry")
	left := fn.MakeBlock("left")
	right := fn.MakeBlock("right")
	merge := fn.MakeBlock("merge")
	entry.Append(ir.MakeCall(rt.threadStates, rt.untrackedPtr))
	entry.Append(ir.MakeBranch(fn.Args[2], left, right))
	leftValue := ir.MakeAddrSpaceCast(fn.Args[0], rt.trackedPtr)
	left.Append(leftValue)
	left.Append(ir.MakeJump(merge))
	rightValue := ir.MakeAddrSpaceCast(fn.Args[1], rt.trackedPtr)
	right.Append(rightValue)
	right.Append(ir.MakeJump(merge))
	phi := ir.MakePhi(rt.trackedPtr,
		[]ir.ValueT{leftValue, rightValue}, []*ir.BlockT{left, right})
	merge.Append(phi)
	merge.Append(ir.MakeCall(rt.gcrt, nil))
	merge.Append(ir.MakeCall(mod.Lookup(ir.PointerFromObjrefName),
		types.Typ[types.Int64], phi))
	merge.Append(ir.MakeReturn(nil))
	return fn
}

// An allocation that cleanup lowers to the pool allocator.

func allocation(mod *ir.ModuleT, rt *runtimeT) *ir.FunctionT {
	slotPtr := ir.MakePointer(rt.trackedPtr, ir.Untracked)
	fn := mod.AddFunction(ir.MakeFunction("allocation", nil,
		rt.untrackedPtr, rt.trackedPtr, slotPtr))
	entry := fn.MakeBlock("entry")
	entry.Append(ir.MakeCall(rt.threadStates, rt.untrackedPtr))
	alloc := ir.MakeCall(rt.allocObj, rt.trackedPtr,
		fn.Args[0], ir.MakeIntConstant(32, types.Typ[types.Int64]), fn.Args[1])
	entry.Append(alloc)
	entry.Append(ir.MakeStore(alloc, fn.Args[2]))
	entry.Append(ir.MakeReturn(nil))
	return fn
}
