// Package controlflow discovers the forward conditional branches and
// unconditional forward skips that bound straight-line if-blocks in a GCN
// instruction stream. Backward unconditional jumps (loops) are out of
// scope and reported as fatal by the caller.
//
// Grounded on _examples/original_source/src/control_flow.rs.
package controlflow

import (
	"github.com/rekidecomp/reki/internal/asm"
	"github.com/rekidecomp/reki/internal/rekierr"
)

// BranchKind distinguishes the three recognized branch mnemonics.
type BranchKind int

const (
	SCCSet BranchKind = iota
	SCCUnset
	Uncond
)

type jump struct {
	instrIdx int
	kind     BranchKind
	labelIdx int
}

// Map records every recognized branch's destination as a label and every
// jump's (source, kind, label) triple.
type Map struct {
	jumps  []jump
	labels []int
}

// LabelAtInstruction returns the label index whose destination is
// instructionIdx, if one was recorded.
func (m *Map) LabelAtInstruction(instructionIdx int) (int, bool) {
	for i, l := range m.labels {
		if l == instructionIdx {
			return i, true
		}
	}
	return 0, false
}

// BranchAtInstruction returns the branch kind, label index, and resolved
// destination instruction index for a jump originating at instructionIdx.
func (m *Map) BranchAtInstruction(instructionIdx int) (kind BranchKind, labelIdx int, dest int, ok bool) {
	for _, j := range m.jumps {
		if j.instrIdx == instructionIdx {
			return j.kind, j.labelIdx, m.labels[j.labelIdx], true
		}
	}
	return 0, 0, 0, false
}

// BuildMap scans a full instruction stream for s_branch / s_cbranch_scc1 /
// s_cbranch_scc0 and resolves each one's destination.
func BuildMap(instrs []asm.Instruction) (*Map, error) {
	m := &Map{}
	for idx, instr := range instrs {
		var kind BranchKind
		switch instr.Mnemonic {
		case "s_branch":
			kind = Uncond
		case "s_cbranch_scc1":
			kind = SCCSet
		case "s_cbranch_scc0":
			kind = SCCUnset
		default:
			continue
		}

		dest, err := branchDestination(idx, instr.Operands)
		if err != nil {
			return nil, err
		}
		m.labels = append(m.labels, dest)
		m.jumps = append(m.jumps, jump{instrIdx: idx, kind: kind, labelIdx: len(m.labels) - 1})
	}
	return m, nil
}

// branchDestination interprets a branch's sole Lit operand as a signed
// 16-bit offset in instruction units.
func branchDestination(instrIdx int, ops []asm.Operand) (int, error) {
	if len(ops) != 1 || ops[0].Kind() != asm.KindLit {
		return 0, rekierr.New(rekierr.UnknownBranchOperand,
			"branch at instruction %d has unrecognized operands: %v", instrIdx, ops)
	}

	imm := ops[0].Lit()
	if imm <= 32767 {
		return instrIdx + 1 + int(imm), nil
	}
	signed := int64(int16(uint16(imm)))
	return int(int64(instrIdx) + 1 + signed), nil
}
