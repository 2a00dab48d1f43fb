// Copyright 2024 Richard Kelsey. All rights reserved.
// See file LICENSE for notices and license.

// Value numbering.  Every tracked pointer, and every derived view of
// one, folds to a single identifier.  Derived merges (phis and
// selects of derived pointers) get a synthesized merge of their
// bases, because a derived pointer is not something the collector
// can scan.

package roots

import (
	"fmt"

	"github.com/s48/gclower/ir"
)

// Walk backward through the rewrites that preserve the abstract
// pointer: bitcasts, geps, address-space casts that stay inside the
// special spaces, and extraction of a union's pointer field.  The
// walk stops at a load, call, argument, select, phi, constant,
// alloca, or a cast whose operand is in the untracked space.

func (state *stateT) findBase(value ir.ValueT, useCache bool) ir.ValueT {
	current := value
	for {
		if useCache {
			if ir.IsPointer(current.Type()) {
				if _, found := state.allPtrIds[current]; found {
					return current
				}
			} else if _, found := state.vectorIds[current]; found {
				return current
			}
		}
		switch instr := current.(type) {
		case *ir.CastInstrT:
			switch instr.Kind {
			case ir.BitCast:
				current = instr.X
				continue
			case ir.AddrSpaceCast:
				if ir.ValueAddrSpace(instr.X) == ir.Untracked {
					return checkBase(current)
				}
				current = instr.X
				continue
			}
			return checkBase(current)
		case *ir.GepInstrT:
			current = instr.Base
		case *ir.ExtractValueInstrT:
			if !ir.IsUnionRep(instr.Agg.Type()) || instr.Field != 0 {
				return checkBase(current)
			}
			current = instr.Agg
		default:
			return checkBase(current)
		}
	}
}

func checkBase(value ir.ValueT) ir.ValueT {
	switch instr := value.(type) {
	case *ir.LoadInstrT, *ir.CallInstrT, *ir.ArgumentT, *ir.SelectInstrT,
		*ir.PhiInstrT, *ir.ConstantT, *ir.AllocaInstrT,
		*ir.ExtractValueInstrT, *ir.ShuffleVectorInstrT, *ir.InsertElementInstrT:
		// Vector shuffles and inserts are rejected by numberVector.
		return value
	case *ir.CastInstrT:
		if instr.Kind == ir.AddrSpaceCast {
			return value
		}
	}
	panic(fmt.Sprintf("unexpected base kind: %s", value))
}

//----------------------------------------------------------------

func (state *stateT) number(value ir.ValueT) int {
	if !ir.IsSpecialPtr(value.Type()) && !ir.IsUnionRep(value.Type()) {
		panic(fmt.Sprintf("numbering a value of no GC interest: %s", value))
	}
	base := state.findBase(value, true)
	if id, found := state.allPtrIds[base]; found {
		state.allPtrIds[value] = id
		return id
	}
	var id int
	switch instr := base.(type) {
	case *ir.ConstantT, *ir.ArgumentT:
		id = CallerRooted
	case *ir.AllocaInstrT:
		// Allocas live in the untracked space; the frame walker in
		// the runtime scans their reserved slots instead.
		id = CallerRooted
	case *ir.SelectInstrT:
		if ir.ValueAddrSpace(instr) != ir.Tracked {
			id := state.liftSelect(instr)
			state.allPtrIds[value] = id
			return id
		}
		id = state.freshId(base)
	case *ir.PhiInstrT:
		if ir.ValueAddrSpace(instr) != ir.Tracked {
			id := state.liftPhi(instr)
			state.allPtrIds[value] = id
			return id
		}
		id = state.freshId(base)
	case *ir.CastInstrT:
		if ir.ValueAddrSpace(instr) != ir.Tracked {
			id = CallerRooted
		} else {
			id = state.freshId(base)
		}
	case *ir.ExtractValueInstrT:
		if !ir.IsUnionRep(instr.Type()) {
			panic(fmt.Sprintf("cannot number a bare aggregate extract: %s", instr))
		}
		id = state.freshId(base)
	default:
		if !ir.IsUnionRep(base.Type()) && ir.ValueAddrSpace(base) != ir.Tracked {
			panic(fmt.Sprintf("GC-interesting base that is not tracked: %s", base))
		}
		id = state.freshId(base)
	}
	state.ptrIds[base] = id
	state.allPtrIds[base] = id
	state.allPtrIds[value] = id
	return id
}

func (state *stateT) freshId(canonical ir.ValueT) int {
	state.maxPtrId += 1
	state.idValues[state.maxPtrId] = canonical
	return state.maxPtrId
}

//----------------------------------------------------------------
// Lifting.  A merge of derived pointers becomes a parallel merge of
// their bases, in the tracked space, inserted at the original.  Arms
// that have no tracked base contribute a null; the collector ignores
// null roots.

func (state *stateT) liftSelect(sel *ir.SelectInstrT) int {
	thenBase := state.maybeExtractUnion(state.findBase(sel.Then, false), sel)
	elseBase := state.maybeExtractUnion(state.findBase(sel.Else, false), sel)
	if !isTrackedPointer(thenBase) {
		if !isTrackedPointer(elseBase) {
			state.allPtrIds[sel] = CallerRooted
			return CallerRooted
		}
		thenBase = ir.MakeNullPointer(elseBase.Type().(*ir.PointerT))
	}
	if !isTrackedPointer(elseBase) {
		elseBase = ir.MakeNullPointer(thenBase.Type().(*ir.PointerT))
	}
	lifted := ir.MakeSelect(sel.Cond, thenBase, elseBase, thenBase.Type())
	lifted.Name = "gclift"
	ir.InsertBefore(sel, lifted)
	id := state.freshId(lifted)
	state.ptrIds[lifted] = id
	state.allPtrIds[lifted] = id
	state.allPtrIds[sel] = id
	return id
}

func (state *stateT) liftPhi(phi *ir.PhiInstrT) int {
	trackedPtr := state.rt.TrackedPtr
	incoming := make([]ir.ValueT, len(phi.Incoming))
	for i, value := range phi.Incoming {
		base := state.findBase(value, false)
		if !isTrackedPointer(base) {
			base = ir.MakeNullPointer(trackedPtr)
		} else if base.Type() != trackedPtr {
			cast := ir.MakeBitCast(base, trackedPtr)
			ir.InsertBefore(phi.Blocks[i].Terminator(), cast)
			base = cast
		}
		incoming[i] = base
	}
	lifted := ir.MakePhi(trackedPtr, incoming, phi.Blocks)
	lifted.Name = "gclift"
	ir.InsertBefore(phi, lifted)
	id := state.freshId(lifted)
	state.ptrIds[lifted] = id
	state.allPtrIds[lifted] = id
	state.allPtrIds[phi] = id
	return id
}

func (state *stateT) maybeExtractUnion(value ir.ValueT, pos ir.InstrT) ir.ValueT {
	union, isUnion := value.Type().(*ir.UnionT)
	if !isUnion {
		return value
	}
	extract := ir.MakeExtractValue(value, 0, union.Ptr)
	ir.InsertBefore(pos, extract)
	return extract
}

func isTrackedPointer(value ir.ValueT) bool {
	ptr, isPointer := value.Type().(*ir.PointerT)
	return isPointer && ptr.Space == ir.Tracked
}

//----------------------------------------------------------------
// Vectors of pointers get one identifier per lane.  Only loaded
// vectors are numberable; the front end does not emit shuffles or
// element inserts of special pointers, and until it does there is
// nothing to test a lifting against.

func (state *stateT) numberVector(value ir.ValueT) []int {
	if ids, found := state.vectorIds[value]; found {
		return ids
	}
	base := state.findBase(value, true)
	if ids, found := state.vectorIds[base]; found {
		state.vectorIds[value] = ids
		return ids
	}
	switch instr := base.(type) {
	case *ir.ConstantT:
		state.vectorIds[value] = nil
	case *ir.ArgumentT:
		state.vectorIds[value] = nil
	case *ir.AllocaInstrT:
		state.vectorIds[value] = nil
	case *ir.CastInstrT:
		if ir.ValueAddrSpace(instr) == ir.Tracked {
			panic(fmt.Sprintf("cannot number a tracked vector cast: %s", instr))
		}
		state.vectorIds[value] = nil
	case *ir.ShuffleVectorInstrT:
		panic(fmt.Sprintf("shuffle of tracked pointers is not numberable: %s", instr))
	case *ir.InsertElementInstrT:
		panic(fmt.Sprintf("element insert of tracked pointers is not numberable: %s", instr))
	case *ir.LoadInstrT:
		vec := instr.Type().(*ir.VectorT)
		ids := make([]int, vec.Len)
		for i := 0; i < vec.Len; i++ {
			state.maxPtrId += 1
			ids[i] = state.maxPtrId
			state.idValues[state.maxPtrId] = value
		}
		state.vectorIds[base] = ids
		state.vectorIds[value] = ids
	default:
		state.vectorIds[value] = nil
	}
	return state.vectorIds[value]
}
