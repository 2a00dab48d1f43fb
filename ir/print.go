// Copyright 2024 Richard Kelsey. All rights reserved.
// See file LICENSE for notices and license.

// Printer for functions and instructions.  The output is LLVM-like
// but makes no attempt at being parseable; it exists for debugging
// and for the test driver.

package ir

import (
	"fmt"
	"io"
	"os"
	"strings"
)

func Print(fn *FunctionT) {
	WriteFunction(os.Stdout, fn)
}

func FunctionString(fn *FunctionT) string {
	var builder strings.Builder
	WriteFunction(&builder, fn)
	return builder.String()
}

func WriteFunction(writer io.Writer, fn *FunctionT) {
	args := make([]string, len(fn.Args))
	for i, arg := range fn.Args {
		args[i] = fmt.Sprintf("%s %s", arg.Typ, arg)
	}
	result := "void"
	if fn.Result != nil {
		result = fn.Result.String()
	}
	fmt.Fprintf(writer, "func %s %s(%s)", result, fn, strings.Join(args, ", "))
	if fn.IsDeclaration() {
		fmt.Fprintf(writer, "\n")
		return
	}
	fmt.Fprintf(writer, " {\n")
	for _, block := range fn.Blocks {
		fmt.Fprintf(writer, "%s:\n", block)
		for _, instr := range block.Instrs {
			fmt.Fprintf(writer, "    %s\n", InstrString(instr))
		}
	}
	fmt.Fprintf(writer, "}\n")
}

func InstrString(rawInstr InstrT) string {
	switch instr := rawInstr.(type) {
	case *CallInstrT:
		args := operandNames(instr.Args)
		if instr.Typ == nil {
			return fmt.Sprintf("call %s(%s)", instr.Callee, args)
		}
		return fmt.Sprintf("%s = call %s %s(%s)", instr, instr.Typ, instr.Callee, args)
	case *LoadInstrT:
		return fmt.Sprintf("%s = load %s, %s", instr, instr.Typ, instr.From)
	case *StoreInstrT:
		return fmt.Sprintf("store %s, %s", instr.Value, instr.To)
	case *PhiInstrT:
		incoming := make([]string, len(instr.Incoming))
		for i, value := range instr.Incoming {
			incoming[i] = fmt.Sprintf("[%s, %s]", value, instr.Blocks[i])
		}
		return fmt.Sprintf("%s = phi %s %s", instr, instr.Typ, strings.Join(incoming, " "))
	case *SelectInstrT:
		return fmt.Sprintf("%s = select %s, %s, %s", instr, instr.Cond, instr.Then, instr.Else)
	case *CastInstrT:
		return fmt.Sprintf("%s = %s %s to %s", instr, instr.Kind, instr.X, instr.Typ)
	case *GepInstrT:
		return fmt.Sprintf("%s = gep %s, %s", instr, instr.Base, operandNames(instr.Offsets))
	case *ExtractValueInstrT:
		return fmt.Sprintf("%s = extractvalue %s, %d", instr, instr.Agg, instr.Field)
	case *ExtractElementInstrT:
		return fmt.Sprintf("%s = extractelement %s, %s", instr, instr.Vec, instr.Lane)
	case *InsertElementInstrT:
		return fmt.Sprintf("%s = insertelement %s, %s, %s", instr, instr.Vec, instr.Elem, instr.Lane)
	case *ShuffleVectorInstrT:
		return fmt.Sprintf("%s = shufflevector %s, %s", instr, instr.X, instr.Y)
	case *AllocaInstrT:
		if instr.IsArrayAllocation() {
			return fmt.Sprintf("%s = alloca [%d x %s]", instr, instr.Count, instr.Allocated)
		}
		return fmt.Sprintf("%s = alloca %s", instr, instr.Allocated)
	case *ReturnInstrT:
		if instr.Value == nil {
			return "return"
		}
		return fmt.Sprintf("return %s", instr.Value)
	case *BranchInstrT:
		if instr.Cond == nil {
			return fmt.Sprintf("jump %s", instr.Then)
		}
		return fmt.Sprintf("branch %s, %s, %s", instr.Cond, instr.Then, instr.Else)
	case *UnreachableInstrT:
		return "unreachable"
	default:
		return fmt.Sprintf("?%s", rawInstr)
	}
}

func operandNames(values []ValueT) string {
	names := make([]string, len(values))
	for i, value := range values {
		names[i] = value.String()
	}
	return strings.Join(names, ", ")
}
