// Copyright 2024 Richard Kelsey. All rights reserved.
// See file LICENSE for notices and license.

// Shared scaffolding: a module with the runtime contract declared
// and shorthands for the IR shapes the tests keep building.

package roots

import (
	"context"
	"testing"

	"go/types"

	"github.com/nikandfor/tlog"
	"github.com/stretchr/testify/require"

	"github.com/s48/gclower/ir"
)

type fixtureT struct {
	mod    *ir.ModuleT
	rt     *ir.RuntimeT
	gcrt   *ir.FunctionT // a safepointing runtime helper
	setjmp *ir.FunctionT
}

func makeFixture(t *testing.T) *fixtureT {
	mod := ir.MakeModule("test")
	threadPtr := ir.MakePointer(types.Typ[types.Int8], ir.Untracked)
	mod.DeclareFunction(ir.ThreadStatesName, threadPtr)
	tracked := ir.MakePointer(ir.Object, ir.Tracked)
	mod.DeclareFunction(ir.AllocObjName, tracked,
		threadPtr, types.Typ[types.Int64], tracked)
	mod.DeclareFunction(ir.FlushName, nil)
	mod.DeclareFunction(ir.PointerFromObjrefName, types.Typ[types.Int64], tracked)
	gcrt := mod.DeclareFunction("gcrt", nil)
	setjmp := mod.DeclareFunction("sigsetjmp", types.Typ[types.Int32])
	rt, err := mod.DiscoverRuntime()
	require.NoError(t, err)
	return &fixtureT{mod: mod, rt: rt, gcrt: gcrt, setjmp: setjmp}
}

// A function whose entry block starts with the thread-state call.

func (fx *fixtureT) gcFunction(name string, argTypes ...types.Type) (*ir.FunctionT, *ir.BlockT, *ir.CallInstrT) {
	fn := fx.mod.AddFunction(ir.MakeFunction(name, nil, argTypes...))
	entry := fn.MakeBlock("entry")
	threadStates := ir.MakeCall(fx.rt.ThreadStates, fx.rt.ThreadStates.Result)
	entry.Append(threadStates)
	return fn, entry, threadStates
}

// A def with no uses and no safepoint: a cast of an untracked
// pointer into the tracked space.

func (fx *fixtureT) trackedDef(block *ir.BlockT, from ir.ValueT) *ir.CastInstrT {
	cast := ir.MakeAddrSpaceCast(from, fx.rt.TrackedPtr)
	block.Append(cast)
	return cast
}

func (fx *fixtureT) safepoint(block *ir.BlockT) *ir.CallInstrT {
	call := ir.MakeCall(fx.gcrt, nil)
	block.Append(call)
	return call
}

// A use that is not itself a safepoint.

func (fx *fixtureT) use(block *ir.BlockT, value ir.ValueT) *ir.CallInstrT {
	call := ir.MakeCall(fx.rt.PointerFromObjref, types.Typ[types.Int64], value)
	block.Append(call)
	return call
}

func (fx *fixtureT) ret(block *ir.BlockT) {
	block.Append(ir.MakeReturn(nil))
}

// Run the front half of the pass: numbering, scan, dataflow, live
// sets.  Tests poke at the returned state directly.

func (fx *fixtureT) analyze(fn *ir.FunctionT, threadStates *ir.CallInstrT) *stateT {
	fn.ComputeFlow()
	state := makeState(fn, fx.rt, tlog.Span{})
	state.threadStates = threadStates
	state.localScan()
	state.computeLiveness()
	return state
}

func runPass(fx *fixtureT, fn *ir.FunctionT) {
	RunFunction(context.Background(), fx.rt, fn)
}

//----------------------------------------------------------------
// Inspection helpers.

// All stores into frame slots, keyed by slot number.

func frameStores(fn *ir.FunctionT, frame *ir.AllocaInstrT) map[int][]*ir.StoreInstrT {
	stores := map[int][]*ir.StoreInstrT{}
	for _, block := range fn.Blocks {
		for _, instr := range block.Instrs {
			store, isStore := instr.(*ir.StoreInstrT)
			if !isStore {
				continue
			}
			gep, isGep := store.To.(*ir.GepInstrT)
			if !isGep || gep.Base != frame {
				continue
			}
			slot := int(ir.ConstantInt(gep.Offsets[0]))
			stores[slot] = append(stores[slot], store)
		}
	}
	return stores
}

func findFrame(t *testing.T, fn *ir.FunctionT) *ir.AllocaInstrT {
	var frame *ir.AllocaInstrT
	for _, instr := range fn.Entry().Instrs {
		alloca, isAlloca := instr.(*ir.AllocaInstrT)
		if isAlloca && alloca.HasFlag(ir.FrameSlot) {
			require.Nil(t, frame, "two frames in %s", fn.Name)
			frame = alloca
		}
	}
	return frame
}

// Count the publish stores (frame into the chain head) and the
// restore stores before returns.

func pushAndPopCounts(fn *ir.FunctionT, frame *ir.AllocaInstrT) (int, int) {
	pushes := 0
	pops := 0
	for _, block := range fn.Blocks {
		for _, instr := range block.Instrs {
			store, isStore := instr.(*ir.StoreInstrT)
			if !isStore {
				continue
			}
			gep, isGep := store.To.(*ir.GepInstrT)
			if !isGep || gep.Name != "pgcstack" {
				continue
			}
			if store.Value == frame {
				pushes += 1
			} else {
				pops += 1
			}
		}
	}
	return pushes, pops
}
