// Copyright 2024 Richard Kelsey. All rights reserved.
// See file LICENSE for notices and license.

// The pass driver.  Each function is processed independently:
// numbering and the local scan, the dataflow, coloring, frame
// materialization, and finally cleanup.  A function that never talks
// to the GC (no thread-state call in its entry block) only gets the
// cleanup phase.

package roots

import (
	"context"

	"github.com/nikandfor/errors"
	"github.com/nikandfor/tlog"

	"github.com/s48/gclower/ir"
	"github.com/s48/gclower/util"
)

func RunModule(ctx context.Context, mod *ir.ModuleT) error {
	tr, ctx := tlog.SpawnFromContextAndWrap(ctx, "late gc lowering", "module", mod.Name)
	defer tr.Finish()
	rt, err := mod.DiscoverRuntime()
	if err != nil {
		return errors.Wrap(err, "module %v", mod.Name)
	}
	for _, fn := range functionsLeavesFirst(mod) {
		RunFunction(ctx, rt, fn)
	}
	return nil
}

func RunFunction(ctx context.Context, rt *ir.RuntimeT, fn *ir.FunctionT) {
	if fn.IsDeclaration() {
		return
	}
	tr, _ := tlog.SpawnFromContextAndWrap(ctx, "gc roots", "func", fn.Name)
	defer tr.Finish()
	fn.ComputeFlow()
	threadStates := findThreadStates(rt, fn)
	if threadStates == nil {
		cleanup(rt, fn)
		return
	}
	state := makeState(fn, rt, tr)
	state.threadStates = threadStates
	state.localScan()
	state.computeLiveness()
	state.placeRoots(state.colorRoots())
	cleanup(rt, fn)
	ir.CheckFunction(fn)
}

// The thread-state getter call, which the code generator puts in the
// entry block of any function with GC activity.

func findThreadStates(rt *ir.RuntimeT, fn *ir.FunctionT) *ir.CallInstrT {
	if rt.ThreadStates == nil {
		return nil
	}
	for _, instr := range fn.Entry().Instrs {
		if call, isCall := instr.(*ir.CallInstrT); isCall {
			if call.CalledFunction() == rt.ThreadStates {
				return call
			}
		}
	}
	return nil
}

// Callees before callers, so that any later interprocedural shrinking
// of the contract sees finished leaves.  Mutually recursive functions
// come out in component order, which is as good as any.

func functionsLeavesFirst(mod *ir.ModuleT) []*ir.FunctionT {
	bodies := []*ir.FunctionT{}
	for _, fn := range mod.Funcs {
		if !fn.IsDeclaration() {
			bodies = append(bodies, fn)
		}
	}
	callees := func(fn *ir.FunctionT) []*ir.FunctionT {
		found := util.NewSet[*ir.FunctionT]()
		result := []*ir.FunctionT{}
		for _, block := range fn.Blocks {
			for _, instr := range block.Instrs {
				call, isCall := instr.(*ir.CallInstrT)
				if !isCall {
					continue
				}
				callee := call.CalledFunction()
				if callee != nil && !callee.IsDeclaration() && !found.Contains(callee) {
					found.Add(callee)
					result = append(result, callee)
				}
			}
		}
		return result
	}
	components := util.StronglyConnectedComponents(bodies, callees)
	result := []*ir.FunctionT{}
	for i := len(components) - 1; 0 <= i; i-- {
		result = append(result, components[i]...)
	}
	return result
}
