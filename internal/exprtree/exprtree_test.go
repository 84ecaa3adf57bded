package exprtree

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rekidecomp/reki/internal/dataflow"
	"github.com/rekidecomp/reki/internal/execstate"
	"github.com/rekidecomp/reki/internal/kernelargs"
)

func argsWith(names ...string) *kernelargs.KernelArgs {
	note := "\n    Args:\n"
	for i, n := range names {
		note += "      - Name:" + n + "\n"
		note += "        Size:4\n"
		note += "        Align:4\n"
		_ = i
	}
	note += "    CodeProps:\n"
	ka, err := kernelargs.Extract([]byte(note))
	if err != nil {
		panic(err)
	}
	return ka
}

func TestReduce_DwordArgSubstitutesHiddenGlobalOffsetX(t *testing.T) {
	// S6: a Deref{PtrKernarg, offset} that lands on the hidden
	// get_global_offset(0) argument is rendered as a builtin reference,
	// not a named DwordArg.
	args := argsWith("actual_arg", "HiddenGlobalOffsetX")
	bindings := []execstate.Binding{
		{Kind: execstate.BindPtrKernarg},
		{Kind: execstate.BindDeref, DerefPtr: 0, DerefOffset: 4, DerefKind: execstate.Dword},
	}
	program := dataflow.Program{
		{InstrIdx: 1, Stmt: dataflow.Statement{Kind: dataflow.StmtDwordVarAssignment, VarIdx: 0, BindingIdx: 1}},
	}

	stmts, err := Build(args, bindings, program)
	require.NoError(t, err)
	require.Len(t, stmts, 1)
	require.Equal(t, PSAssignment, stmts[0].Kind)
	require.Equal(t, BEBuiltinRef, stmts[0].Expr.Kind)
	require.Equal(t, "get_global_offset(0)", stmts[0].Expr.BuiltinRef)
}

func TestReduce_DwordArgResolvesOrdinaryKernelArgument(t *testing.T) {
	args := argsWith("n", "out")
	bindings := []execstate.Binding{
		{Kind: execstate.BindPtrKernarg},
		{Kind: execstate.BindDeref, DerefPtr: 0, DerefOffset: 4, DerefKind: execstate.Dword},
	}
	program := dataflow.Program{
		{InstrIdx: 1, Stmt: dataflow.Statement{Kind: dataflow.StmtDwordVarAssignment, VarIdx: 0, BindingIdx: 1}},
	}

	stmts, err := Build(args, bindings, program)
	require.NoError(t, err)
	require.Equal(t, BEDwordArg, stmts[0].Expr.Kind)
	require.Equal(t, 1, stmts[0].Expr.ArgIdx)
}

func TestReduce_UnresolvedNonKernargPointerIsRecoverablePlaceholder(t *testing.T) {
	args := argsWith("n")
	bindings := []execstate.Binding{
		{Kind: execstate.BindPtrDispatchPacket},
		{Kind: execstate.BindDeref, DerefPtr: 0, DerefOffset: 0, DerefKind: execstate.Dword},
	}
	program := dataflow.Program{
		{InstrIdx: 1, Stmt: dataflow.Statement{Kind: dataflow.StmtDwordVarAssignment, VarIdx: 0, BindingIdx: 1}},
	}

	stmts, err := Build(args, bindings, program)
	require.NoError(t, err)
	require.Equal(t, BEPlaceholder, stmts[0].Expr.Kind)
}

func TestReduce_ComputedAddTree(t *testing.T) {
	args := argsWith()
	bindings := []execstate.Binding{
		{Kind: execstate.BindU32, U32Val: 1},
		{Kind: execstate.BindU32, U32Val: 2},
		{Kind: execstate.BindComputed, ComputedExpr: execstate.Expr{Op: execstate.OpAdd, A: 0, B: 1}, ComputedKind: execstate.Dword},
	}
	program := dataflow.Program{
		{InstrIdx: 0, Stmt: dataflow.Statement{Kind: dataflow.StmtDwordVarAssignment, VarIdx: 0, BindingIdx: 2}},
	}

	stmts, err := Build(args, bindings, program)
	require.NoError(t, err)
	require.Equal(t, BEAdd, stmts[0].Expr.Kind)
	require.Equal(t, BEU32, stmts[0].Expr.Lhs.Kind)
	require.Equal(t, uint32(1), stmts[0].Expr.Lhs.U32Val)
	require.Equal(t, BEU32, stmts[0].Expr.Rhs.Kind)
	require.Equal(t, uint32(2), stmts[0].Expr.Rhs.U32Val)
}

func TestReduce_DwordElementOfVariableBecomesVariableRef(t *testing.T) {
	args := argsWith()
	bindings := []execstate.Binding{
		{Kind: execstate.BindVariable, VariableIdx: 0},
		{Kind: execstate.BindDwordElement, ElementOf: 0, ElementDword: 1},
	}
	program := dataflow.Program{
		{InstrIdx: 0, Stmt: dataflow.Statement{Kind: dataflow.StmtQwordVarAssignment, VarIdx: 0, BindingIdx: 0}},
		{InstrIdx: 1, Stmt: dataflow.Statement{Kind: dataflow.StmtDwordVarAssignment, VarIdx: 1, BindingIdx: 1}},
	}

	stmts, err := Build(args, bindings, program)
	require.NoError(t, err)
	require.Len(t, stmts, 2)
	require.Equal(t, BEVariable, stmts[1].Expr.Kind)
	require.Equal(t, 0, stmts[1].Expr.VarIdx)
	require.Equal(t, uint8(1), stmts[1].Expr.Dword)
}

func TestReduce_AddHiLoKeepsHighAndLowHalvesDistinct(t *testing.T) {
	args := argsWith()
	bindings := []execstate.Binding{
		{Kind: execstate.BindU32, U32Val: 1}, // hi1
		{Kind: execstate.BindU32, U32Val: 2}, // hi2
		{Kind: execstate.BindU32, U32Val: 3}, // lo1
		{Kind: execstate.BindU32, U32Val: 4}, // lo2
		{Kind: execstate.BindComputed, ComputedExpr: execstate.Expr{Op: execstate.OpAddHiLo, HiOp1: 0, HiOp2: 1, LoOp1: 2, LoOp2: 3}, ComputedKind: execstate.Qword},
	}
	program := dataflow.Program{
		{InstrIdx: 0, Stmt: dataflow.Statement{Kind: dataflow.StmtQwordVarAssignment, VarIdx: 0, BindingIdx: 4}},
	}

	stmts, err := Build(args, bindings, program)
	require.NoError(t, err)
	require.Equal(t, BEAddHiLo, stmts[0].Expr.Kind)
	require.Equal(t, BEAdd, stmts[0].Expr.Lhs.Kind) // hi sum
	require.Equal(t, uint32(1), stmts[0].Expr.Lhs.Lhs.U32Val)
	require.Equal(t, uint32(2), stmts[0].Expr.Lhs.Rhs.U32Val)
	require.Equal(t, BEAdd, stmts[0].Expr.Rhs.Kind) // lo sum
	require.Equal(t, uint32(3), stmts[0].Expr.Rhs.Lhs.U32Val)
	require.Equal(t, uint32(4), stmts[0].Expr.Rhs.Rhs.U32Val)
}

func TestBuild_JumpIfLowersConditionOperands(t *testing.T) {
	args := argsWith()
	bindings := []execstate.Binding{
		{Kind: execstate.BindU32, U32Val: 3},
		{Kind: execstate.BindU32, U32Val: 4},
	}
	program := dataflow.Program{
		{InstrIdx: 0, Stmt: dataflow.Statement{Kind: dataflow.StmtJumpIf, Cond: execstate.Condition{IsEql: false, A: 0, B: 1}, LabelIdx: 0}},
		{InstrIdx: 1, Stmt: dataflow.Statement{Kind: dataflow.StmtLabel, LabelIdx: 0}},
	}

	stmts, err := Build(args, bindings, program)
	require.NoError(t, err)
	require.Len(t, stmts, 2)
	require.Equal(t, PSJumpIf, stmts[0].Kind)
	require.False(t, stmts[0].CondIsEql)
	require.Equal(t, BEU32, stmts[0].CondLhs.Kind)
	require.Equal(t, BEU32, stmts[0].CondRhs.Kind)
	require.Equal(t, PSLabel, stmts[1].Kind)
}
