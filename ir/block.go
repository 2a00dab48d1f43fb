// Copyright 2024 Richard Kelsey. All rights reserved.
// See file LICENSE for notices and license.

// Basic blocks and functions, plus the surgery passes use to insert
// and remove instructions.  The control-flow graph lives in the
// terminators; Next and Previous are derived from them and passes
// that only insert or remove non-terminators can keep using the
// cached edges.

package ir

import (
	"fmt"
	"slices"

	"go/types"
)

type BlockT struct {
	Name     string
	Id       int
	Fn       *FunctionT
	Instrs   []InstrT
	Next     []*BlockT
	Previous []*BlockT
}

func (block *BlockT) String() string {
	return fmt.Sprintf("%s_%d", block.Name, block.Id)
}

func (block *BlockT) Terminator() InstrT {
	if len(block.Instrs) == 0 {
		return nil
	}
	last := block.Instrs[len(block.Instrs)-1]
	if !last.IsTerminator() {
		return nil
	}
	return last
}

//----------------------------------------------------------------

type FunctionT struct {
	Name   string
	Args   []*ArgumentT
	Blocks []*BlockT // Blocks[0] is the entry block
	Result types.Type
	Mod    *ModuleT

	// Declarations have no blocks.  Intrinsic declarations (lifetime
	// markers and the like) are never GC uses, defs, or safepoints.
	Intrinsic bool

	nextId int
}

// Functions are values so they can be call operands.

func (fn *FunctionT) Type() types.Type { return fn.Result }
func (fn *FunctionT) String() string   { return "@" + fn.Name }

func (fn *FunctionT) IsDeclaration() bool { return len(fn.Blocks) == 0 }

func (fn *FunctionT) Entry() *BlockT { return fn.Blocks[0] }

func MakeFunction(name string, result types.Type, argTypes ...types.Type) *FunctionT {
	fn := &FunctionT{Name: name, Result: result, nextId: 1}
	for i, typ := range argTypes {
		fn.Args = append(fn.Args,
			&ArgumentT{Name: fmt.Sprintf("arg%d", i), Index: i, Typ: typ, Fn: fn})
	}
	return fn
}

func (fn *FunctionT) MakeBlock(name string) *BlockT {
	block := &BlockT{Name: name, Id: fn.nextId, Fn: fn}
	fn.nextId += 1
	fn.Blocks = append(fn.Blocks, block)
	return block
}

func (fn *FunctionT) ensureId(instr InstrT) {
	idp := instr.idPtr()
	if *idp == 0 {
		*idp = fn.nextId
		fn.nextId += 1
	}
}

//----------------------------------------------------------------
// Instruction surgery.  Indices are kept dense; insertion in the
// middle renumbers the tail of the block.

func (block *BlockT) reindex(from int) {
	for i := from; i < len(block.Instrs); i++ {
		block.Instrs[i].setPosition(block, i)
	}
}

func (block *BlockT) Append(instrs ...InstrT) {
	for _, instr := range instrs {
		if instr.Block() != nil {
			panic(fmt.Sprintf("appending attached instruction %s", instr))
		}
		block.Fn.ensureId(instr)
		block.Instrs = append(block.Instrs, instr)
		instr.setPosition(block, len(block.Instrs)-1)
	}
}

// Insert 'instr' immediately before 'pos' in pos's block.

func InsertBefore(pos InstrT, instr InstrT) {
	block := pos.Block()
	if block == nil {
		panic(fmt.Sprintf("inserting before detached instruction %s", pos))
	}
	block.Fn.ensureId(instr)
	index := pos.Index()
	block.Instrs = slices.Insert(block.Instrs, index, instr)
	block.reindex(index)
}

// Insert 'instr' immediately after 'pos' in pos's block.

func InsertAfter(pos InstrT, instr InstrT) {
	block := pos.Block()
	block.Fn.ensureId(instr)
	index := pos.Index() + 1
	block.Instrs = slices.Insert(block.Instrs, index, instr)
	block.reindex(index)
}

func (block *BlockT) InsertAtFront(instr InstrT) {
	block.Fn.ensureId(instr)
	block.Instrs = slices.Insert(block.Instrs, 0, instr)
	block.reindex(0)
}

func RemoveInstr(instr InstrT) {
	block := instr.Block()
	if block == nil {
		panic(fmt.Sprintf("removing detached instruction %s", instr))
	}
	index := instr.Index()
	block.Instrs = slices.Delete(block.Instrs, index, index+1)
	instr.setPosition(nil, -1)
	block.reindex(index)
}

// Replace every operand use of 'old' in 'fn' with 'new'.  Uses a
// full scan rather than per-value use lists; the function is walked
// in layout order so the result is deterministic.

func ReplaceAllUses(fn *FunctionT, old ValueT, replacement ValueT) {
	for _, block := range fn.Blocks {
		for _, instr := range block.Instrs {
			for i, operand := range instr.Operands() {
				if operand == old {
					instr.SetOperand(i, replacement)
				}
			}
		}
	}
}

// All instructions in 'fn' with 'value' as an operand.

func Uses(fn *FunctionT, value ValueT) []InstrT {
	users := []InstrT{}
	for _, block := range fn.Blocks {
		for _, instr := range block.Instrs {
			for _, operand := range instr.Operands() {
				if operand == value {
					users = append(users, instr)
					break
				}
			}
		}
	}
	return users
}

//----------------------------------------------------------------
// Control flow.  ComputeFlow derives Next/Previous from the
// terminators.  It must be rerun after any terminator change; the
// root-lowering pass never makes one.

func (fn *FunctionT) ComputeFlow() {
	for _, block := range fn.Blocks {
		block.Next = nil
		block.Previous = nil
	}
	for _, block := range fn.Blocks {
		switch terminator := block.Terminator().(type) {
		case *BranchInstrT:
			block.addNext(terminator.Then)
			if terminator.Else != nil {
				block.addNext(terminator.Else)
			}
		case *ReturnInstrT, *UnreachableInstrT:
			// no successors
		case nil:
			panic(fmt.Sprintf("block %s has no terminator", block))
		default:
			panic(fmt.Sprintf("unknown terminator in %s: %s", block, terminator))
		}
	}
}

func (block *BlockT) addNext(next *BlockT) {
	block.Next = append(block.Next, next)
	next.Previous = append(next.Previous, block)
}

// Reverse postorder over Next edges, starting from the entry block.
// Depends only on the block structure, so it is deterministic.

func (fn *FunctionT) ReversePostorder() []*BlockT {
	seen := map[*BlockT]bool{}
	order := []*BlockT{}
	var walk func(block *BlockT)
	walk = func(block *BlockT) {
		seen[block] = true
		for _, next := range block.Next {
			if !seen[next] {
				walk(next)
			}
		}
		order = append(order, block)
	}
	walk(fn.Entry())
	slices.Reverse(order)
	return order
}
