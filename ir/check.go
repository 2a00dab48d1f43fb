// Copyright 2024 Richard Kelsey. All rights reserved.
// See file LICENSE for notices and license.

// Structural checking.  Panics on the first problem found; a broken
// function is a compiler bug, not an input error.

package ir

import (
	"fmt"
)

func CheckFunction(fn *FunctionT) {
	if fn.IsDeclaration() {
		return
	}
	blocks := map[*BlockT]bool{}
	for _, block := range fn.Blocks {
		if block.Fn != fn {
			panic(fmt.Sprintf("block %s belongs to %s, found in %s", block, block.Fn, fn))
		}
		if blocks[block] {
			panic(fmt.Sprintf("block %s appears twice in %s", block, fn))
		}
		blocks[block] = true
	}
	instrs := map[InstrT]bool{}
	for _, block := range fn.Blocks {
		if block.Terminator() == nil {
			Print(fn)
			panic(fmt.Sprintf("block %s has no terminator", block))
		}
		for i, instr := range block.Instrs {
			if instr.Block() != block || instr.Index() != i {
				Print(fn)
				panic(fmt.Sprintf("bad position for %s in %s", instr, block))
			}
			if instr.IsTerminator() && i != len(block.Instrs)-1 {
				Print(fn)
				panic(fmt.Sprintf("terminator %s in the middle of %s", instr, block))
			}
			instrs[instr] = true
		}
	}
	for _, block := range fn.Blocks {
		for _, instr := range block.Instrs {
			checkOperands(fn, block, instr, instrs)
		}
	}
}

func checkOperands(fn *FunctionT, block *BlockT, rawInstr InstrT, instrs map[InstrT]bool) {
	for i, rawOperand := range rawInstr.Operands() {
		if rawOperand == nil {
			Print(fn)
			panic(fmt.Sprintf("operand %d of %s is nil", i, rawInstr))
		}
		switch operand := rawOperand.(type) {
		case *ConstantT, *FunctionT:
			// always in scope
		case *ArgumentT:
			if operand.Fn != fn {
				panic(fmt.Sprintf("%s uses argument %s of %s", rawInstr, operand, operand.Fn))
			}
		case InstrT:
			if !instrs[operand] {
				Print(fn)
				panic(fmt.Sprintf("%s uses %s, which is not attached to %s",
					rawInstr, operand, fn))
			}
		default:
			panic(fmt.Sprintf("unknown operand kind %v", rawOperand))
		}
	}
	if phi, isPhi := rawInstr.(*PhiInstrT); isPhi {
		if len(phi.Incoming) != len(block.Previous) {
			Print(fn)
			panic(fmt.Sprintf("phi %s has %d incomings for %d predecessors",
				phi, len(phi.Incoming), len(block.Previous)))
		}
		for _, incomingBlock := range phi.Blocks {
			found := false
			for _, previous := range block.Previous {
				if previous == incomingBlock {
					found = true
					break
				}
			}
			if !found {
				Print(fn)
				panic(fmt.Sprintf("phi %s names %s, which is not a predecessor of %s",
					phi, incomingBlock, block))
			}
		}
	}
}
