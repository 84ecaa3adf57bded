package dataflow

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rekidecomp/reki/internal/asm"
	"github.com/rekidecomp/reki/internal/config"
	"github.com/rekidecomp/reki/internal/controlflow"
	"github.com/rekidecomp/reki/internal/execstate"
	"github.com/rekidecomp/reki/internal/rekierr"
)

func freshState() *execstate.State {
	bindings := []execstate.Binding{{Kind: execstate.BindPtrKernarg}}
	variables := []execstate.VariableKind{}
	return &execstate.State{
		SGPRs:     []execstate.Reg{{BindingIdx: 0, Dword: 0}, {BindingIdx: 0, Dword: 1}},
		Bindings:  &bindings,
		Variables: &variables,
	}
}

func TestAnalyze_SLoadDwordx2ProducesQwordDeref(t *testing.T) {
	// S3: s_load_dwordx2 s[4:5], s[0:1], 0x10 with s0/s1 pre-bound to PtrKernarg.
	st := freshState()
	instrs := []asm.Instruction{
		{Mnemonic: "s_load_dwordx2", Operands: []asm.Operand{asm.SRegs(4, 5), asm.SRegs(0, 1), asm.Lit(0x10)}},
	}
	cfMap, err := controlflow.BuildMap(instrs)
	require.NoError(t, err)

	pgm, err := Analyze(st, instrs, cfMap, nil)
	require.NoError(t, err)
	require.Empty(t, pgm)

	require.Len(t, st.SGPRs, 6)
	newBindingIdx := st.SGPRs[4].BindingIdx
	require.Equal(t, newBindingIdx, st.SGPRs[5].BindingIdx)
	require.Equal(t, uint8(0), st.SGPRs[4].Dword)
	require.Equal(t, uint8(1), st.SGPRs[5].Dword)

	newBinding := (*st.Bindings)[newBindingIdx]
	require.Equal(t, execstate.BindDeref, newBinding.Kind)
	require.Equal(t, 0, newBinding.DerefPtr)
	require.Equal(t, int32(16), newBinding.DerefOffset)
	require.Equal(t, execstate.Qword, newBinding.DerefKind)
}

func TestAnalyze_ForwardConditionalIntroducesJoinVariable(t *testing.T) {
	// s_cmp_lt_i32 s2, s3; s_cbranch_scc1 <fwd>; v0 = 1 (skipped side keeps
	// whatever v0 already was); label: rest of program.
	st := freshState()
	*st.Bindings = append(*st.Bindings,
		execstate.Binding{Kind: execstate.BindU32, U32Val: 1}, // s2
		execstate.Binding{Kind: execstate.BindU32, U32Val: 2}, // s3
	)
	st.SGPRs = append(st.SGPRs,
		execstate.Reg{BindingIdx: 1, Dword: 0}, // s2
		execstate.Reg{BindingIdx: 2, Dword: 0}, // s3
	)
	preBindingLen := len(*st.Bindings)
	st.VGPRs = []execstate.Reg{{BindingIdx: preBindingLen, Dword: 0}} // v0 pre-bound
	*st.Bindings = append(*st.Bindings, execstate.Binding{Kind: execstate.BindU32, U32Val: 0})

	instrs := []asm.Instruction{
		{Mnemonic: "s_cmp_lt_i32", Operands: []asm.Operand{asm.SReg(2), asm.SReg(3)}},
		{Mnemonic: "s_cbranch_scc1", Operands: []asm.Operand{asm.Lit(1)}}, // 1 + 1 + 1 = 3, the s_endpgm
		{Mnemonic: "v_mov_b32_e32", Operands: []asm.Operand{asm.VReg(0), asm.Lit(1)}},
		{Mnemonic: "s_endpgm"},
	}
	cfMap, err := controlflow.BuildMap(instrs)
	require.NoError(t, err)

	pgm, err := Analyze(st, instrs, cfMap, nil)
	require.NoError(t, err)

	var sawJumpIf, sawLabel, sawVarDecl bool
	for _, e := range pgm {
		switch e.Stmt.Kind {
		case StmtJumpIf:
			sawJumpIf = true
			require.False(t, e.Stmt.Cond.IsEql)
		case StmtLabel:
			sawLabel = true
		case StmtVarDecl:
			sawVarDecl = true
		}
	}
	require.True(t, sawJumpIf)
	require.True(t, sawLabel)
	require.True(t, sawVarDecl)
}

func TestAnalyze_UnconditionalBackwardJumpIsFatal(t *testing.T) {
	st := freshState()
	instrs := []asm.Instruction{
		{Mnemonic: "s_branch", Operands: []asm.Operand{asm.Lit(0xfffe)}}, // -2
		{Mnemonic: "s_endpgm"},
	}
	cfMap, err := controlflow.BuildMap(instrs)
	require.NoError(t, err)
	_, err = Analyze(st, instrs, cfMap, nil)
	require.Error(t, err)
	kind, ok := rekierr.KindOf(err)
	require.True(t, ok)
	require.Equal(t, rekierr.BackwardUnconditional, kind)
}

func TestAnalyze_AllowBackwardBranchesEscapeHatchSuppressesTheError(t *testing.T) {
	st := freshState()
	instrs := []asm.Instruction{
		{Mnemonic: "s_branch", Operands: []asm.Operand{asm.Lit(0xfffe)}}, // -2
		{Mnemonic: "s_endpgm"},
	}
	cfMap, err := controlflow.BuildMap(instrs)
	require.NoError(t, err)
	opts := config.Default()
	opts.AllowBackwardBranches = true
	_, err = Analyze(st, instrs, cfMap, &opts)
	require.NoError(t, err)
}

func TestAnalyze_MaxInstructionsGuardRejectsOversizedKernels(t *testing.T) {
	st := freshState()
	instrs := []asm.Instruction{
		{Mnemonic: "s_endpgm"},
		{Mnemonic: "s_endpgm"},
		{Mnemonic: "s_endpgm"},
	}
	cfMap, err := controlflow.BuildMap(instrs)
	require.NoError(t, err)
	opts := config.Default()
	opts.MaxInstructions = 2
	_, err = Analyze(st, instrs, cfMap, &opts)
	require.Error(t, err)
}
