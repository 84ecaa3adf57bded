// Package render turns a lowered []exprtree.ProgramStatement into C-ish
// text: a trivially pluggable, swappable emission boundary, the way the
// rest of the pipeline treats C-source emission as just one possible
// downstream collaborator.
//
// Grounded on _examples/original_source/src/codegen.rs and
// src/codegen/transforms.rs, generalized from that prototype's
// single-hardcoded-body stub into a renderer that actually walks the
// statement stream.
package render

import (
	"fmt"
	"strings"

	"github.com/rekidecomp/reki/internal/execstate"
	"github.com/rekidecomp/reki/internal/exprtree"
	"github.com/rekidecomp/reki/internal/kernelargs"
)

// Kernel renders a decompiled kernel's full C-ish source text: a
// `__kernel void <name>(...)` signature built from the kernel's named,
// typed arguments, followed by the body's lowered statements.
func Kernel(name string, args *kernelargs.KernelArgs, stmts []exprtree.ProgramStatement) string {
	var b strings.Builder
	fmt.Fprintf(&b, "__kernel void %s(%s) {\n", name, kernelArgList(args))
	for _, s := range stmts {
		b.WriteString(indent(1))
		b.WriteString(statement(args, s))
		b.WriteString("\n")
	}
	b.WriteString("}\n")
	return b.String()
}

// kernelArgList renders the subset of arguments that carry a known C type
// name; untyped (e.g. hidden, compiler-synthesized) arguments are omitted
// from the signature, matching the original's filter_map over typename.
func kernelArgList(args *kernelargs.KernelArgs) string {
	var parts []string
	for i := 0; i < args.Len(); i++ {
		a := args.At(i)
		if a.TypeName == "" {
			continue
		}
		modifier := ""
		if a.IsConst {
			modifier = "const "
		}
		parts = append(parts, fmt.Sprintf("%s%s %s", modifier, a.TypeName, a.Name))
	}
	return strings.Join(parts, ", ")
}

func indent(depth int) string {
	return strings.Repeat("  ", depth)
}

func statement(args *kernelargs.KernelArgs, s exprtree.ProgramStatement) string {
	switch s.Kind {
	case exprtree.PSAssignment:
		return fmt.Sprintf("var_%d = %s;", s.VarIdx, expr(args, s.Expr))
	case exprtree.PSJumpIf:
		return fmt.Sprintf("if (%s) goto label_%d;", condition(args, s), s.LabelIdx)
	case exprtree.PSJumpUnless:
		return fmt.Sprintf("if (!(%s)) goto label_%d;", condition(args, s), s.LabelIdx)
	case exprtree.PSLabel:
		return fmt.Sprintf("label_%d:", s.LabelIdx)
	case exprtree.PSStore:
		return fmt.Sprintf("*(%s) = %s;", expr(args, s.Addr), expr(args, s.Expr))
	default:
		return "/* unrenderable statement */"
	}
}

func condition(args *kernelargs.KernelArgs, s exprtree.ProgramStatement) string {
	op := "<"
	if s.CondIsEql {
		op = "=="
	}
	return fmt.Sprintf("%s %s %s", expr(args, s.CondLhs), op, expr(args, s.CondRhs))
}

// expr renders a BoundExpr as a C-ish expression. An unresolved pointer
// dereference surfaces as an inline comment rather than aborting emission,
// mirroring ptr_resolution.rs's non-kernarg fallback text.
func expr(args *kernelargs.KernelArgs, e exprtree.BoundExpr) string {
	switch e.Kind {
	case exprtree.BEMul:
		return fmt.Sprintf("(%s * %s)", expr(args, *e.Lhs), expr(args, *e.Rhs))
	case exprtree.BEAdd:
		return fmt.Sprintf("(%s + %s)", expr(args, *e.Lhs), expr(args, *e.Rhs))
	case exprtree.BEAnd:
		return fmt.Sprintf("(%s & %s)", expr(args, *e.Lhs), expr(args, *e.Rhs))
	case exprtree.BEShl:
		return fmt.Sprintf("(%s << %s)", expr(args, *e.Lhs), expr(args, *e.Rhs))
	case exprtree.BEAddHiLo:
		return fmt.Sprintf("(((uint64_t)(%s) << 32) | (%s))", expr(args, *e.Lhs), expr(args, *e.Rhs))
	case exprtree.BECast:
		return fmt.Sprintf("(%s)%s", cTypeName(e.CastKind), expr(args, *e.Source))
	case exprtree.BEI32:
		return fmt.Sprintf("%d", e.I32Val)
	case exprtree.BEU32:
		return fmt.Sprintf("%du", e.U32Val)
	case exprtree.BEInitState:
		return builtinName(e.InitStateBinding)
	case exprtree.BEDwordArg:
		return fmt.Sprintf("%s.dword[%d]", argRef(args, e), e.Dword)
	case exprtree.BEBuiltinRef:
		return e.BuiltinRef
	case exprtree.BEVariable:
		return fmt.Sprintf("var_%d.dword[%d]", e.VarIdx, e.Dword)
	case exprtree.BEPlaceholder:
		return "/* expr: Placeholder */"
	default:
		return "/* expr: unhandled */"
	}
}

func argRef(args *kernelargs.KernelArgs, e exprtree.BoundExpr) string {
	if args != nil && e.ArgIdx >= 0 && e.ArgIdx < args.Len() {
		return args.At(e.ArgIdx).Name
	}
	return fmt.Sprintf("arg_%d", e.ArgIdx)
}

func cTypeName(k execstate.DataKind) string {
	switch k {
	case execstate.Dword:
		return "uint32_t"
	case execstate.Qword:
		return "uint64_t"
	case execstate.DQword:
		return "uint4"
	case execstate.U16:
		return "uint16_t"
	case execstate.I64:
		return "int64_t"
	default:
		return "uint32_t"
	}
}

func builtinName(k execstate.BindingKind) string {
	switch k {
	case execstate.BindWorkitemIdX:
		return "get_local_id(0)"
	case execstate.BindWorkitemIdY:
		return "get_local_id(1)"
	case execstate.BindWorkitemIdZ:
		return "get_local_id(2)"
	case execstate.BindWorkgroupIdX:
		return "get_group_id(0)"
	case execstate.BindWorkgroupIdY:
		return "get_group_id(1)"
	case execstate.BindWorkgroupIdZ:
		return "get_group_id(2)"
	case execstate.BindWorkgroupCountX:
		return "get_num_groups(0)"
	case execstate.BindWorkgroupCountY:
		return "get_num_groups(1)"
	case execstate.BindWorkgroupCountZ:
		return "get_num_groups(2)"
	default:
		return "/* builtin */"
	}
}
