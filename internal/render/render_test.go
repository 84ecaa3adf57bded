package render

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rekidecomp/reki/internal/exprtree"
	"github.com/rekidecomp/reki/internal/kernelargs"
)

func noteArgs(t *testing.T) *kernelargs.KernelArgs {
	t.Helper()
	note := "\n    Args:\n" +
		"      - Name:n\n" +
		"        Size:4\n" +
		"        Align:4\n" +
		"        TypeName:'int'\n" +
		"      - Name:out\n" +
		"        Size:8\n" +
		"        Align:8\n" +
		"        TypeName:'float*'\n" +
		"      - Name:HiddenGlobalOffsetX\n" +
		"        Size:8\n" +
		"        Align:8\n" +
		"    CodeProps:\n"
	args, err := kernelargs.Extract([]byte(note))
	require.NoError(t, err)
	return args
}

func TestKernel_SignatureOmitsUntypedArgs(t *testing.T) {
	args := noteArgs(t)
	out := Kernel("decompiled", args, nil)
	require.Contains(t, out, "__kernel void decompiled(int n, float* out) {")
}

func TestKernel_RendersAssignmentAndDwordArg(t *testing.T) {
	args := noteArgs(t)
	lhs := exprtree.BoundExpr{Kind: exprtree.BEDwordArg, ArgIdx: 0, Dword: 0}
	stmts := []exprtree.ProgramStatement{
		{Kind: exprtree.PSAssignment, VarIdx: 0, Expr: lhs},
	}
	out := Kernel("decompiled", args, stmts)
	require.True(t, strings.Contains(out, "var_0 = n.dword[0];"))
}

func TestKernel_RendersJumpIfAndLabel(t *testing.T) {
	args := noteArgs(t)
	stmts := []exprtree.ProgramStatement{
		{
			Kind:      exprtree.PSJumpIf,
			CondLhs:   exprtree.BoundExpr{Kind: exprtree.BEU32, U32Val: 1},
			CondRhs:   exprtree.BoundExpr{Kind: exprtree.BEU32, U32Val: 2},
			CondIsEql: false,
			LabelIdx:  3,
		},
		{Kind: exprtree.PSLabel, LabelIdx: 3},
	}
	out := Kernel("decompiled", args, stmts)
	require.Contains(t, out, "if (1u < 2u) goto label_3;")
	require.Contains(t, out, "label_3:")
}

func TestKernel_AddHiLoWeightsHighHalfBy2Pow32(t *testing.T) {
	args := noteArgs(t)
	hi := exprtree.BoundExpr{Kind: exprtree.BEU32, U32Val: 1}
	lo := exprtree.BoundExpr{Kind: exprtree.BEU32, U32Val: 2}
	stmts := []exprtree.ProgramStatement{
		{Kind: exprtree.PSAssignment, VarIdx: 0, Expr: exprtree.BoundExpr{Kind: exprtree.BEAddHiLo, Lhs: &hi, Rhs: &lo}},
	}
	out := Kernel("decompiled", args, stmts)
	require.Contains(t, out, "var_0 = (((uint64_t)(1u) << 32) | (2u));")
}

func TestKernel_PlaceholderExprRendersAsComment(t *testing.T) {
	args := noteArgs(t)
	stmts := []exprtree.ProgramStatement{
		{Kind: exprtree.PSAssignment, VarIdx: 0, Expr: exprtree.BoundExpr{Kind: exprtree.BEPlaceholder}},
	}
	out := Kernel("decompiled", args, stmts)
	require.Contains(t, out, "var_0 = /* expr: Placeholder */;")
}
