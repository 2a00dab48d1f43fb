// Copyright 2024 Richard Kelsey. All rights reserved.
// See file LICENSE for notices and license.

// The instruction kinds.  This is the whole set; passes are expected
// to switch exhaustively and panic on anything they do not handle.

package ir

import (
	"fmt"

	"go/types"
)

//----------------------------------------------------------------
// Calls.  The calling convention distinguishes the variadic-pointer
// dispatch forms, which get rewritten to an argument-array call by
// the cleanup phase.

type CallConvT int

const (
	DefaultConv CallConvT = iota
	VarargsConv           // all arguments go in the pointer array
	VarargsFConv          // first argument is passed directly
)

type CallInstrT struct {
	instrBaseT
	Callee         ValueT
	Args           []ValueT
	Conv           CallConvT
	CanReturnTwice bool
}

func (call *CallInstrT) Operands() []ValueT {
	return append([]ValueT{call.Callee}, call.Args...)
}

func (call *CallInstrT) SetOperand(index int, value ValueT) {
	if index == 0 {
		call.Callee = value
	} else {
		call.Args[index-1] = value
	}
}

// The called FunctionT, or nil for indirect calls.

func (call *CallInstrT) CalledFunction() *FunctionT {
	fn, direct := call.Callee.(*FunctionT)
	if direct {
		return fn
	}
	return nil
}

func MakeCall(callee ValueT, typ types.Type, args ...ValueT) *CallInstrT {
	return &CallInstrT{instrBaseT: instrBaseT{Name: "call", Typ: typ},
		Callee: callee,
		Args:   args}
}

//----------------------------------------------------------------

type LoadInstrT struct {
	instrBaseT
	From ValueT
}

func (load *LoadInstrT) Operands() []ValueT { return []ValueT{load.From} }
func (load *LoadInstrT) SetOperand(index int, value ValueT) {
	load.From = value
}

func MakeLoad(from ValueT, typ types.Type) *LoadInstrT {
	return &LoadInstrT{instrBaseT: instrBaseT{Name: "load", Typ: typ}, From: from}
}

type StoreInstrT struct {
	instrBaseT
	Value ValueT
	To    ValueT
}

func (store *StoreInstrT) Operands() []ValueT { return []ValueT{store.Value, store.To} }
func (store *StoreInstrT) SetOperand(index int, value ValueT) {
	if index == 0 {
		store.Value = value
	} else {
		store.To = value
	}
}

func MakeStore(value ValueT, to ValueT) *StoreInstrT {
	return &StoreInstrT{instrBaseT: instrBaseT{Name: "store"}, Value: value, To: to}
}

//----------------------------------------------------------------
// Phis keep their incomings parallel to 'Blocks'; the checker
// verifies the blocks against the actual predecessors.

type PhiInstrT struct {
	instrBaseT
	Incoming []ValueT
	Blocks   []*BlockT
}

func (phi *PhiInstrT) Operands() []ValueT { return phi.Incoming }
func (phi *PhiInstrT) SetOperand(index int, value ValueT) {
	phi.Incoming[index] = value
}

func MakePhi(typ types.Type, incoming []ValueT, blocks []*BlockT) *PhiInstrT {
	if len(incoming) != len(blocks) {
		panic("phi incoming/block count mismatch")
	}
	return &PhiInstrT{instrBaseT: instrBaseT{Name: "phi", Typ: typ},
		Incoming: incoming,
		Blocks:   blocks}
}

type SelectInstrT struct {
	instrBaseT
	Cond ValueT
	Then ValueT
	Else ValueT
}

func (sel *SelectInstrT) Operands() []ValueT { return []ValueT{sel.Cond, sel.Then, sel.Else} }
func (sel *SelectInstrT) SetOperand(index int, value ValueT) {
	switch index {
	case 0:
		sel.Cond = value
	case 1:
		sel.Then = value
	case 2:
		sel.Else = value
	}
}

func MakeSelect(cond ValueT, then ValueT, els ValueT, typ types.Type) *SelectInstrT {
	return &SelectInstrT{instrBaseT: instrBaseT{Name: "select", Typ: typ},
		Cond: cond, Then: then, Else: els}
}

//----------------------------------------------------------------

type CastKindT int

const (
	BitCast CastKindT = iota
	AddrSpaceCast
	PtrToInt
)

func (kind CastKindT) String() string {
	switch kind {
	case BitCast:
		return "bitcast"
	case AddrSpaceCast:
		return "addrspacecast"
	case PtrToInt:
		return "ptrtoint"
	}
	return fmt.Sprintf("cast(%d)", int(kind))
}

type CastInstrT struct {
	instrBaseT
	Kind CastKindT
	X    ValueT
}

func (cast *CastInstrT) Operands() []ValueT { return []ValueT{cast.X} }
func (cast *CastInstrT) SetOperand(index int, value ValueT) {
	cast.X = value
}

func MakeCast(kind CastKindT, x ValueT, typ types.Type) *CastInstrT {
	return &CastInstrT{instrBaseT: instrBaseT{Name: "cast", Typ: typ}, Kind: kind, X: x}
}

func MakeBitCast(x ValueT, typ types.Type) *CastInstrT {
	return MakeCast(BitCast, x, typ)
}

func MakeAddrSpaceCast(x ValueT, typ *PointerT) *CastInstrT {
	return MakeCast(AddrSpaceCast, x, typ)
}

//----------------------------------------------------------------
// Pointer arithmetic.  Offsets are usually integer constants but the
// pass only ever walks through geps, so we don't care.

type GepInstrT struct {
	instrBaseT
	Base    ValueT
	Offsets []ValueT
}

func (gep *GepInstrT) Operands() []ValueT {
	return append([]ValueT{gep.Base}, gep.Offsets...)
}

func (gep *GepInstrT) SetOperand(index int, value ValueT) {
	if index == 0 {
		gep.Base = value
	} else {
		gep.Offsets[index-1] = value
	}
}

func MakeGep(base ValueT, typ types.Type, offsets ...ValueT) *GepInstrT {
	return &GepInstrT{instrBaseT: instrBaseT{Name: "gep", Typ: typ},
		Base: base, Offsets: offsets}
}

//----------------------------------------------------------------

type ExtractValueInstrT struct {
	instrBaseT
	Agg   ValueT
	Field int
}

func (extract *ExtractValueInstrT) Operands() []ValueT { return []ValueT{extract.Agg} }
func (extract *ExtractValueInstrT) SetOperand(index int, value ValueT) {
	extract.Agg = value
}

func MakeExtractValue(agg ValueT, field int, typ types.Type) *ExtractValueInstrT {
	return &ExtractValueInstrT{instrBaseT: instrBaseT{Name: "extract", Typ: typ},
		Agg: agg, Field: field}
}

type ExtractElementInstrT struct {
	instrBaseT
	Vec  ValueT
	Lane ValueT
}

func (extract *ExtractElementInstrT) Operands() []ValueT {
	return []ValueT{extract.Vec, extract.Lane}
}

func (extract *ExtractElementInstrT) SetOperand(index int, value ValueT) {
	if index == 0 {
		extract.Vec = value
	} else {
		extract.Lane = value
	}
}

func MakeExtractElement(vec ValueT, lane ValueT, typ types.Type) *ExtractElementInstrT {
	return &ExtractElementInstrT{instrBaseT: instrBaseT{Name: "lane", Typ: typ},
		Vec: vec, Lane: lane}
}

// These two are in the union so the pass can reject them; the front
// end does not emit shuffles or element inserts of special pointers.

type InsertElementInstrT struct {
	instrBaseT
	Vec  ValueT
	Elem ValueT
	Lane ValueT
}

func (insert *InsertElementInstrT) Operands() []ValueT {
	return []ValueT{insert.Vec, insert.Elem, insert.Lane}
}

func (insert *InsertElementInstrT) SetOperand(index int, value ValueT) {
	switch index {
	case 0:
		insert.Vec = value
	case 1:
		insert.Elem = value
	case 2:
		insert.Lane = value
	}
}

type ShuffleVectorInstrT struct {
	instrBaseT
	X    ValueT
	Y    ValueT
	Mask []int
}

func (shuffle *ShuffleVectorInstrT) Operands() []ValueT {
	return []ValueT{shuffle.X, shuffle.Y}
}

func (shuffle *ShuffleVectorInstrT) SetOperand(index int, value ValueT) {
	if index == 0 {
		shuffle.X = value
	} else {
		shuffle.Y = value
	}
}

//----------------------------------------------------------------

type AllocaInstrT struct {
	instrBaseT
	Allocated types.Type
	Count     int // 1 unless this is an array allocation
}

func (alloca *AllocaInstrT) Operands() []ValueT               { return nil }
func (alloca *AllocaInstrT) SetOperand(index int, value ValueT) {}

func (alloca *AllocaInstrT) IsArrayAllocation() bool { return alloca.Count != 1 }

func MakeAlloca(allocated types.Type, count int) *AllocaInstrT {
	return &AllocaInstrT{
		instrBaseT: instrBaseT{Name: "alloca", Typ: MakePointer(allocated, Untracked)},
		Allocated:  allocated,
		Count:      count}
}

//----------------------------------------------------------------
// Terminators.

type ReturnInstrT struct {
	instrBaseT
	Value ValueT // nil for a bare return
}

func (ret *ReturnInstrT) IsTerminator() bool { return true }
func (ret *ReturnInstrT) Operands() []ValueT {
	if ret.Value == nil {
		return nil
	}
	return []ValueT{ret.Value}
}

func (ret *ReturnInstrT) SetOperand(index int, value ValueT) {
	ret.Value = value
}

func MakeReturn(value ValueT) *ReturnInstrT {
	return &ReturnInstrT{instrBaseT: instrBaseT{Name: "return"}, Value: value}
}

type BranchInstrT struct {
	instrBaseT
	Cond ValueT // nil for an unconditional branch
	Then *BlockT
	Else *BlockT // nil iff Cond is nil
}

func (branch *BranchInstrT) IsTerminator() bool { return true }
func (branch *BranchInstrT) Operands() []ValueT {
	if branch.Cond == nil {
		return nil
	}
	return []ValueT{branch.Cond}
}

func (branch *BranchInstrT) SetOperand(index int, value ValueT) {
	branch.Cond = value
}

func MakeJump(to *BlockT) *BranchInstrT {
	return &BranchInstrT{instrBaseT: instrBaseT{Name: "jump"}, Then: to}
}

func MakeBranch(cond ValueT, then *BlockT, els *BlockT) *BranchInstrT {
	return &BranchInstrT{instrBaseT: instrBaseT{Name: "branch"},
		Cond: cond, Then: then, Else: els}
}

type UnreachableInstrT struct {
	instrBaseT
}

func (unreachable *UnreachableInstrT) IsTerminator() bool { return true }
func (unreachable *UnreachableInstrT) Operands() []ValueT { return nil }
func (unreachable *UnreachableInstrT) SetOperand(index int, value ValueT) {}

func MakeUnreachable() *UnreachableInstrT {
	return &UnreachableInstrT{instrBaseT: instrBaseT{Name: "unreachable"}}
}
