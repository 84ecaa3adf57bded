package controlflow

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rekidecomp/reki/internal/asm"
)

func instr(mnemonic string, ops ...asm.Operand) asm.Instruction {
	return asm.Instruction{Mnemonic: mnemonic, Operands: ops}
}

func TestBuildMap_ForwardConditional(t *testing.T) {
	instrs := []asm.Instruction{
		instr("s_cmp_lt_i32", asm.SReg(0), asm.Lit(10)),
		instr("s_cbranch_scc1", asm.Lit(2)),
		instr("v_mov_b32_e32", asm.VReg(0), asm.Lit(1)),
		instr("v_mov_b32_e32", asm.VReg(0), asm.Lit(2)),
		instr("s_endpgm"),
	}
	m, err := BuildMap(instrs)
	require.NoError(t, err)

	kind, _, dest, ok := m.BranchAtInstruction(1)
	require.True(t, ok)
	require.Equal(t, SCCSet, kind)
	require.Equal(t, 4, dest) // idx 1 + 1 + 2 = 4

	_, ok = m.LabelAtInstruction(4)
	require.True(t, ok)
}

func TestBuildMap_BackwardUnconditional(t *testing.T) {
	instrs := []asm.Instruction{
		instr("s_branch", asm.Lit(0xfffe)), // -2 as i16
	}
	m, err := BuildMap(instrs)
	require.NoError(t, err)
	_, _, dest, ok := m.BranchAtInstruction(0)
	require.True(t, ok)
	require.Less(t, dest, 0)
}

func TestBranchDestination_UnrecognizedOperandsIsFatal(t *testing.T) {
	instrs := []asm.Instruction{
		instr("s_branch", asm.SReg(0)),
	}
	_, err := BuildMap(instrs)
	require.Error(t, err)
}
