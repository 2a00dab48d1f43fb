// Copyright 2024 Richard Kelsey. All rights reserved.
// See file LICENSE for notices and license.

// Frame materialization.  The frame is a stack array of canonical
// tracked pointers, chained into the thread's frame list:
//
//   slot 0             root count, shifted left one (the low bit
//                      belongs to the runtime)
//   slot 1             saved previous top of the frame chain
//   2 .. 2+NAllocas-1  unpromoted allocas, one slot each
//   2+NAllocas ..      one slot per color
//
// Stores are sunk to just before the first safepoint that needs the
// value rooted; paths without safepoints pay nothing.

package roots

import (
	"fmt"

	"github.com/willf/bitset"

	"github.com/s48/gclower/ir"
	"github.com/s48/gclower/util"
)

func (state *stateT) placeRoots(coloring coloringT) {
	maxColor := coloring.maxColor()
	if maxColor == NoColor && len(state.allocas) == 0 {
		return
	}
	nroots := maxColor + 1 + len(state.allocas)
	rt := state.rt
	entry := state.fn.Entry()
	frame := ir.MakeAlloca(rt.TrackedPtr, nroots+2)
	frame.Name = "gcframe"
	frame.SetFlag(ir.FrameSlot)
	entry.InsertAtFront(frame)
	state.zeroFrame(frame, nroots+2)
	state.pushFrame(frame, nroots)
	// Unpromoted allocas become their reserved slots.
	slot := 2
	for _, alloca := range state.allocas {
		gep := state.frameSlot(frame, slot)
		ir.InsertAfter(frame, gep)
		slot += 1
		state.stripLifetimeMarkers(alloca)
		ir.ReplaceAllUses(state.fn, alloca, gep)
		ir.RemoveInstr(alloca)
	}
	state.placeFrameStores(coloring, slot, frame)
	for _, block := range state.fn.Blocks {
		if ret, isReturn := block.Terminator().(*ir.ReturnInstrT); isReturn {
			state.popFrame(frame, ret)
		}
	}
}

func (state *stateT) frameSlot(frame *ir.AllocaInstrT, slot int) *ir.GepInstrT {
	gep := ir.MakeGep(frame, state.rt.SlotPtr,
		ir.MakeIntConstant(int64(slot), state.rt.Int32))
	gep.SetFlag(ir.FrameSlot)
	return gep
}

// The collector may scan the frame before any root store has run, so
// every slot starts out null.

func (state *stateT) zeroFrame(frame *ir.AllocaInstrT, size int) {
	pos := ir.InstrT(frame)
	for slot := 0; slot < size; slot++ {
		gep := state.frameSlot(frame, slot)
		ir.InsertAfter(pos, gep)
		store := ir.MakeStore(ir.MakeNullPointer(state.rt.TrackedPtr), gep)
		store.SetFlag(ir.FrameSlot)
		ir.InsertAfter(gep, store)
		pos = store
	}
}

// Publish the frame: write the encoded count, save the old top of
// the chain into slot 1, and make the frame the new top.  This goes
// right after the thread-state getter.

func (state *stateT) pushFrame(frame *ir.AllocaInstrT, nroots int) {
	rt := state.rt
	pos := ir.InstrT(state.threadStates)
	after := func(instr ir.InstrT) {
		ir.InsertAfter(pos, instr)
		pos = instr
	}
	slot0 := state.frameSlot(frame, 0)
	after(slot0)
	countAddr := ir.MakeBitCast(slot0, ir.MakePointer(rt.Size, ir.Untracked))
	after(countAddr)
	countStore := ir.MakeStore(ir.MakeIntConstant(int64(nroots)<<1, rt.Size), countAddr)
	countStore.SetFlag(ir.FrameSlot)
	after(countStore)
	pgcstack := state.pgcstack()
	after(pgcstack)
	previous := ir.MakeLoad(pgcstack, rt.SlotPtr)
	after(previous)
	slot1 := state.frameSlot(frame, 1)
	after(slot1)
	previousAddr := ir.MakeBitCast(slot1, ir.MakePointer(rt.SlotPtr, ir.Untracked))
	after(previousAddr)
	previousStore := ir.MakeStore(previous, previousAddr)
	previousStore.SetFlag(ir.FrameSlot)
	after(previousStore)
	publish := ir.MakeStore(frame, pgcstack)
	publish.SetFlag(ir.FrameSlot)
	after(publish)
}

// Restore the saved chain top just before a return.  Exits that do
// not return (unreachable, rethrow paths) are the runtime's problem.

func (state *stateT) popFrame(frame *ir.AllocaInstrT, ret *ir.ReturnInstrT) {
	rt := state.rt
	slot1 := state.frameSlot(frame, 1)
	ir.InsertBefore(ret, slot1)
	previousAddr := ir.MakeBitCast(slot1, ir.MakePointer(rt.SlotPtr, ir.Untracked))
	ir.InsertBefore(ret, previousAddr)
	previous := ir.MakeLoad(previousAddr, rt.SlotPtr)
	ir.InsertBefore(ret, previous)
	pgcstack := state.pgcstack()
	ir.InsertBefore(ret, pgcstack)
	restore := ir.MakeStore(previous, pgcstack)
	restore.SetFlag(ir.FrameSlot)
	ir.InsertBefore(ret, restore)
}

// The address of the GC-stack head in the thread state record.

func (state *stateT) pgcstack() *ir.GepInstrT {
	gep := ir.MakeGep(state.threadStates,
		ir.MakePointer(state.rt.SlotPtr, ir.Untracked),
		ir.MakeIntConstant(ir.PgcstackOffset, state.rt.Int32))
	gep.Name = "pgcstack"
	return gep
}

//----------------------------------------------------------------
// Store placement.

func (state *stateT) placeFrameStores(coloring coloringT, minColorRoot int, frame *ir.AllocaInstrT) {
	for _, block := range state.fn.Blocks {
		bs := state.blocks[block]
		if !bs.hasSafepoint {
			continue
		}
		lastLive := state.predLastLive(block)
		// bs.safepoints is in reverse program order; walk it
		// backward to visit safepoints in program order.
		for i := len(bs.safepoints) - 1; 0 <= i; i-- {
			idx := bs.safepoints[i]
			nowLive := state.liveSets[idx]
			for _, id := range bitsetMembers(nowLive) {
				if !lastLive.Test(uint(id)) {
					state.placeFrameStore(id, coloring, minColorRoot, frame,
						state.safepoints[idx])
				}
			}
			lastLive = nowLive
		}
	}
}

// What is already rooted when control reaches 'block': the
// intersection, over all paths into the block, of the live set at
// the last safepoint on that path.  Safepoint-free predecessors are
// walked through.

func (state *stateT) predLastLive(block *ir.BlockT) *bitset.BitSet {
	live := bitset.New(8)
	first := true
	visited := util.NewSet[*ir.BlockT]()
	todo := util.StackT[*ir.BlockT]{}
	todo.Push(block)
	for 0 < todo.Len() {
		for _, previous := range todo.Pop().Previous {
			if visited.Contains(previous) {
				continue
			}
			visited.Add(previous)
			pbs := state.blocks[previous]
			if !pbs.hasSafepoint {
				todo.Push(previous)
				continue
			}
			// safepoints[0] is the block's last safepoint.
			lastSet := state.liveSets[pbs.safepoints[0]]
			if first {
				live.InPlaceUnion(lastSet)
				first = false
			} else {
				live.InPlaceIntersection(lastSet)
			}
		}
	}
	return live
}

func (state *stateT) placeFrameStore(id int, coloring coloringT, minColorRoot int,
	frame *ir.AllocaInstrT, pos ir.InstrT) {

	value := state.valueForId(id, pos)
	slot := state.frameSlot(frame, coloring.colors[id]+minColorRoot)
	ir.InsertBefore(pos, slot)
	value = state.maybeExtractUnion(value, pos)
	if value.Type() != state.rt.TrackedPtr {
		if !isTrackedPointer(value) {
			panic(fmt.Sprintf("cannot root %s: not a tracked pointer", value))
		}
		cast := ir.MakeBitCast(value, state.rt.TrackedPtr)
		ir.InsertBefore(pos, cast)
		value = cast
	}
	store := ir.MakeStore(value, slot)
	store.SetFlag(ir.FrameSlot)
	ir.InsertBefore(pos, store)
}

// The canonical value for an identifier, extracting the right lane
// if the canonical value is a vector.

func (state *stateT) valueForId(id int, pos ir.InstrT) ir.ValueT {
	value := state.idValues[id]
	vec, isVector := value.Type().(*ir.VectorT)
	if !isVector {
		return value
	}
	lane := 0
	for i, laneId := range state.vectorIds[value] {
		if laneId == id {
			lane = i
			break
		}
	}
	extract := ir.MakeExtractElement(value,
		ir.MakeIntConstant(int64(lane), state.rt.Int32), vec.Elem)
	ir.InsertBefore(pos, extract)
	return extract
}

// Lifetime markers on an alloca lose their meaning once the alloca
// is a frame slot; find them through any cast or gep chain and
// delete them.

func (state *stateT) stripLifetimeMarkers(value ir.ValueT) {
	markers := []*ir.CallInstrT{}
	var visit func(value ir.ValueT)
	visit = func(value ir.ValueT) {
		for _, user := range ir.Uses(state.fn, value) {
			switch user := user.(type) {
			case *ir.CallInstrT:
				callee := user.CalledFunction()
				if callee != nil && callee.Intrinsic &&
					(callee.Name == "lifetimeStart" || callee.Name == "lifetimeEnd") {
					markers = append(markers, user)
				}
			case *ir.GepInstrT, *ir.CastInstrT:
				visit(user)
			}
		}
	}
	visit(value)
	for _, marker := range markers {
		ir.RemoveInstr(marker)
	}
}
