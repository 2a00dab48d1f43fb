// Copyright 2024 Richard Kelsey. All rights reserved.
// See file LICENSE for notices and license.

// The local scan: one backward walk over each block, recording defs,
// uses, and safepoints, and numbering every value of GC interest
// along the way.  Everything downstream works on the per-block
// bitsets built here.

package roots

import (
	"fmt"

	"github.com/willf/bitset"

	"github.com/s48/gclower/ir"
)

func (state *stateT) localScan() {
	for _, block := range state.fn.Blocks {
		bs := state.blockState(block)
		// Walk backwards by position, not by a saved index: lifting
		// inserts instructions below the cursor and those must be
		// scanned too.
		for i := len(block.Instrs) - 1; 0 <= i; {
			rawInstr := block.Instrs[i]
			switch instr := rawInstr.(type) {
			case *ir.CallInstrT:
				state.scanCall(bs, instr)
			case *ir.LoadInstrT:
				state.scanLoad(bs, instr)
			case *ir.SelectInstrT:
				state.scanSelect(bs, instr)
			case *ir.PhiInstrT:
				state.scanPhi(bs, instr)
			case *ir.StoreInstrT:
				state.noteOperandUses(bs, instr, bs.upExposedUsesUnrooted)
			case *ir.ReturnInstrT:
				state.noteOperandUses(bs, instr, bs.upExposedUsesUnrooted)
			case *ir.CastInstrT:
				if instr.Kind == ir.AddrSpaceCast && ir.ValueAddrSpace(instr) == ir.Tracked {
					state.maybeNoteDef(bs, instr, noRefinement)
				}
			case *ir.AllocaInstrT:
				state.scanAlloca(instr)
			}
			i = rawInstr.Index() - 1
		}
		// Seed the dataflow.
		bs.liveIn = bs.upExposedUses.Union(bs.upExposedUsesUnrooted)
		bs.unrootedOut = bs.downExposedUnrooted.Clone()
	}
}

//----------------------------------------------------------------
// Instruction kinds.

func (state *stateT) scanCall(bs *blockStateT, call *ir.CallInstrT) {
	callee := call.CalledFunction()
	if callee != nil && callee.Intrinsic {
		return
	}
	state.maybeNoteDef(bs, call, noRefinement)
	state.noteOperandUses(bs, call, bs.upExposedUses)
	for _, arg := range call.Args {
		if ir.IsUnionRep(arg.Type()) {
			state.noteUse(bs, arg, bs.upExposedUses)
		}
	}
	if call.CanReturnTwice {
		state.returnsTwice = append(state.returnsTwice, call)
	}
	// Runtime helpers known not to reach a safepoint.
	if callee != nil &&
		(callee == state.rt.PointerFromObjref || callee.Name == "memcmp") {
		return
	}
	state.noteSafepoint(bs, call)
}

func (state *stateT) scanLoad(bs *blockStateT, load *ir.LoadInstrT) {
	refined := noRefinement
	if load.HasFlag(ir.ImmutableLoad) && ir.IsSpecialPtr(load.From.Type()) {
		// Loads from immutable fields stay valid as long as the
		// object loaded from is rooted, so uses of the result refine
		// to uses of the source.
		refined = state.number(load.From)
	} else if ir.IsSpecialPtr(load.Type()) && looksLikeFrameRef(load.From) {
		// Loads from an argument array; the caller keeps those alive.
		refined = CallerRooted
	}
	state.maybeNoteDef(bs, load, refined)
	state.noteOperandUses(bs, load, bs.upExposedUsesUnrooted)
}

func (state *stateT) scanSelect(bs *blockStateT, sel *ir.SelectInstrT) {
	if !ir.IsSpecialPtr(sel.Type()) {
		return
	}
	if ir.ValueAddrSpace(sel) != ir.Tracked {
		// A select of derived pointers needs a lifted select for the
		// root; the original is not itself a def.
		if _, found := state.allPtrIds[sel]; !found {
			state.liftSelect(sel)
		}
	} else {
		state.maybeNoteDef(bs, sel, noRefinement)
		state.noteOperandUses(bs, sel, bs.upExposedUsesUnrooted)
	}
}

func (state *stateT) scanPhi(bs *blockStateT, phi *ir.PhiInstrT) {
	if !ir.IsSpecialPtr(phi.Type()) {
		return
	}
	if ir.ValueAddrSpace(phi) != ir.Tracked {
		if _, found := state.allPtrIds[phi]; !found {
			state.liftPhi(phi)
		}
	} else {
		state.maybeNoteDef(bs, phi, noRefinement)
		// The incomings are uses on the incoming edges, which for
		// the dataflow means the outgoing side of each predecessor.
		for i, incoming := range phi.Incoming {
			incomingBS := state.blockState(phi.Blocks[i])
			state.noteUse(incomingBS, incoming, incomingBS.phiOuts)
		}
	}
}

func (state *stateT) scanAlloca(alloca *ir.AllocaInstrT) {
	allocated, isPointer := alloca.Allocated.(*ir.PointerT)
	if isPointer && allocated.Space == ir.Tracked && !alloca.IsArrayAllocation() {
		state.allocas = append(state.allocas, alloca)
	}
}

//----------------------------------------------------------------
// Defs, uses, and safepoints.

func (state *stateT) maybeNoteDef(bs *blockStateT, def ir.InstrT, refined int) {
	typ := def.Type()
	switch {
	case ir.IsSpecialPtr(typ):
		if ir.ValueAddrSpace(def) != ir.Tracked {
			panic(fmt.Sprintf("def of GC interest, but not tracked: %s", def))
		}
	case ir.IsUnionRep(typ):
		// Union returns carry their pointer in field zero; the whole
		// aggregate gets the one number.
	case ir.IsSpecialPtrVec(typ):
		for _, id := range state.numberVector(def) {
			state.noteDef(bs, id)
			if refined != noRefinement {
				state.refinements[id] = refined
			}
		}
		return
	default:
		return
	}
	id := state.number(def)
	state.noteDef(bs, id)
	if refined != noRefinement {
		state.refinements[id] = refined
	}
}

func (state *stateT) noteDef(bs *blockStateT, id int) {
	if id == CallerRooted {
		panic("noting a def of a caller-rooted value")
	}
	if bs.defs.Test(uint(id)) {
		panic(fmt.Sprintf("two defs for %s", state.idValues[id]))
	}
	bs.defs.Set(uint(id))
	bs.upExposedUses.Clear(uint(id))
	bs.upExposedUsesUnrooted.Clear(uint(id))
	if !bs.hasSafepoint {
		bs.downExposedUnrooted.Set(uint(id))
	}
	// The def could be live at any safepoint later in the block,
	// but only if it escapes the block.
	for _, safepoint := range bs.safepoints {
		state.liveIfLiveOut[safepoint] = append(state.liveIfLiveOut[safepoint], id)
	}
}

func (state *stateT) noteUse(bs *blockStateT, value ir.ValueT, uses *bitset.BitSet) {
	if ir.IsConstant(value) {
		return
	}
	if _, isFunction := value.(*ir.FunctionT); isFunction {
		return
	}
	if ir.IsSpecialPtrVec(value.Type()) {
		for _, id := range state.numberVector(value) {
			uses.Set(uint(id))
		}
		return
	}
	id := state.number(value)
	if id == CallerRooted {
		return
	}
	uses.Set(uint(id))
}

func (state *stateT) noteOperandUses(bs *blockStateT, instr ir.InstrT, uses *bitset.BitSet) {
	for _, operand := range instr.Operands() {
		if ir.IsSpecialPtr(operand.Type()) || ir.IsSpecialPtrVec(operand.Type()) {
			state.noteUse(bs, operand, uses)
		}
	}
}

func (state *stateT) noteSafepoint(bs *blockStateT, instr ir.InstrT) {
	state.maxSafepointId += 1
	id := state.maxSafepointId
	state.safepointIds[instr] = id
	state.safepoints = append(state.safepoints, instr)
	// Everything seen so far is about to pass a safepoint and so is
	// rooted from the entry's point of view.
	bs.upExposedUses.InPlaceUnion(bs.upExposedUsesUnrooted)
	bs.upExposedUsesUnrooted.ClearAll()
	state.liveSets = append(state.liveSets, bs.upExposedUses.Clone())
	state.liveIfLiveOut = append(state.liveIfLiveOut, []int{})
	bs.safepoints = append(bs.safepoints, id)
	bs.hasSafepoint = true
}

// A chain of geps bottoming out at an untracked argument.

func looksLikeFrameRef(value ir.ValueT) bool {
	if ir.IsSpecialPtr(value.Type()) {
		return false
	}
	if gep, isGep := value.(*ir.GepInstrT); isGep {
		return looksLikeFrameRef(gep.Base)
	}
	return ir.IsArgument(value)
}
