package dataflow

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rekidecomp/reki/internal/asm"
	"github.com/rekidecomp/reki/internal/rekierr"
)

func TestEvalSALUOp_MalformedOperandShapeIsFatalNotSilent(t *testing.T) {
	st := freshState()
	// s_cmp_lt_i32 only recognizes SReg/VReg/Lit operands; an Offset
	// operand here is a structural precondition violation, not a case
	// the heuristic should paper over with a fabricated zero binding.
	err := evalSALUOp(st, "s_cmp_lt_i32", []asm.Operand{asm.SReg(0), asm.OffsetOperand(4)}, nil)
	require.Error(t, err)
	kind, ok := rekierr.KindOf(err)
	require.True(t, ok)
	require.Equal(t, rekierr.UnsupportedMnemonic, kind)
}

func TestEvalVALUOp_MalformedOperandShapeIsFatalNotSilent(t *testing.T) {
	st := freshState()
	err := evalVALUOp(st, "v_mov_b32_e32", []asm.Operand{asm.VReg(0), asm.OffsetOperand(4)}, nil)
	require.Error(t, err)
	kind, ok := rekierr.KindOf(err)
	require.True(t, ok)
	require.Equal(t, rekierr.UnsupportedMnemonic, kind)
}
