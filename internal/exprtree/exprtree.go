// Package exprtree folds the flat binding DAG a dataflow.Program references
// into a typed BoundExpr tree, resolving kernarg-pointer dereferences to
// named arguments.
//
// Grounded on _examples/original_source/src/expr_tree/mod.rs, with the
// pointer-resolution soft-failure behavior from
// _examples/original_source/src/codegen/ptr_resolution.rs (an
// UnresolvedPointer is recoverable: a Placeholder is emitted and a warning
// logged, rather than aborting the whole lowering pass).
package exprtree

import (
	"github.com/sirupsen/logrus"

	"github.com/rekidecomp/reki/internal/dataflow"
	"github.com/rekidecomp/reki/internal/execstate"
	"github.com/rekidecomp/reki/internal/kernelargs"
	"github.com/rekidecomp/reki/internal/rekierr"
)

// BoundExprKind tags which case of the BoundExpr sum type a value holds.
type BoundExprKind int

const (
	BEMul BoundExprKind = iota
	BEAdd
	BEAnd
	BEShl
	BECast
	BEI32
	BEU32
	BEInitState
	BEDwordArg
	BEBuiltinRef
	BEVariable
	BEPlaceholder
	BEAddHiLo
)

// BoundExpr is a node of the typed expression tree produced by lowering.
type BoundExpr struct {
	Kind BoundExprKind

	Lhs, Rhs *BoundExpr // Mul/Add/And/Shl
	Source   *BoundExpr // Cast
	CastKind execstate.DataKind

	I32Val int32
	U32Val uint32

	InitStateBinding execstate.BindingKind // InitState

	ArgIdx int   // DwordArg
	Dword  uint8 // DwordArg / Variable

	BuiltinRef string // e.g. "get_global_offset(0)", substituting a hidden kernarg

	VarIdx int // Variable
}

// ProgramStatementKind tags which case of the ProgramStatement sum type a
// value holds.
type ProgramStatementKind int

const (
	PSAssignment ProgramStatementKind = iota
	PSJumpIf
	PSJumpUnless
	PSLabel
	PSStore
)

// ProgramStatement is one lowered, tree-shaped statement, ready for
// rendering.
type ProgramStatement struct {
	Kind ProgramStatementKind

	VarIdx int       // Assignment
	Expr   BoundExpr // Assignment / Store (data)

	CondLhs, CondRhs BoundExpr // JumpIf / JumpUnless
	CondIsEql        bool

	LabelIdx int // JumpIf / JumpUnless / Label

	Addr BoundExpr // Store
}

// hiddenArgBuiltin maps the well-known hidden kernel arguments that carry
// the OpenCL global offset to their builtin reference text, the way
// codegen/ptr_resolution.rs's builtin_ptr special-cases exactly these two
// names and passes every other Hidden* argument through unchanged.
var hiddenArgBuiltin = map[string]string{
	"HiddenGlobalOffsetX": "get_global_offset(0)",
	"HiddenGlobalOffsetY": "get_global_offset(1)",
}

// Build walks program in order, reducing each *VarAssignment statement's
// binding to a BoundExpr and lowering JumpIf/JumpUnless/Label/Store
// statements alongside it.
func Build(args *kernelargs.KernelArgs, bindings []execstate.Binding, program dataflow.Program) ([]ProgramStatement, error) {
	varBindings := make(map[int]int) // binding idx -> var idx
	stmts := make([]ProgramStatement, 0, len(program))

	for _, entry := range program {
		switch entry.Stmt.Kind {
		case dataflow.StmtDwordVarAssignment, dataflow.StmtQwordVarAssignment, dataflow.StmtDQwordVarAssignment:
			bindingIdx, varIdx := entry.Stmt.BindingIdx, entry.Stmt.VarIdx
			if bindingIdx < 0 {
				continue // sentinel padding from insertInto, never assigned to
			}
			varBindings[bindingIdx] = varIdx
			expr, err := reduceBindingToExpr(bindingIdx, bindings, varBindings, args)
			if err != nil {
				return nil, err
			}
			stmts = append(stmts, ProgramStatement{Kind: PSAssignment, VarIdx: varIdx, Expr: expr})

		case dataflow.StmtJumpIf, dataflow.StmtJumpUnless:
			lhs, err := reduceBindingToExpr(entry.Stmt.Cond.A, bindings, varBindings, args)
			if err != nil {
				return nil, err
			}
			rhs, err := reduceBindingToExpr(entry.Stmt.Cond.B, bindings, varBindings, args)
			if err != nil {
				return nil, err
			}
			kind := PSJumpIf
			if entry.Stmt.Kind == dataflow.StmtJumpUnless {
				kind = PSJumpUnless
			}
			stmts = append(stmts, ProgramStatement{
				Kind: kind, CondLhs: lhs, CondRhs: rhs, CondIsEql: entry.Stmt.Cond.IsEql, LabelIdx: entry.Stmt.LabelIdx,
			})

		case dataflow.StmtLabel:
			stmts = append(stmts, ProgramStatement{Kind: PSLabel, LabelIdx: entry.Stmt.LabelIdx})

		case dataflow.StmtStore:
			addr, err := reduceBindingToExpr(entry.Stmt.Addr, bindings, varBindings, args)
			if err != nil {
				return nil, err
			}
			data, err := reduceBindingToExpr(entry.Stmt.Data, bindings, varBindings, args)
			if err != nil {
				return nil, err
			}
			stmts = append(stmts, ProgramStatement{Kind: PSStore, Addr: addr, Expr: data})

		case dataflow.StmtVarDecl:
			// Declarations carry no expression content to lower; the
			// assignment statements that follow are what matter.
		}
	}

	return stmts, nil
}

func binOp(kind BoundExprKind, lhs, rhs BoundExpr) BoundExpr {
	l, r := lhs, rhs
	return BoundExpr{Kind: kind, Lhs: &l, Rhs: &r}
}

func reduceBindingToExpr(idx int, bindings []execstate.Binding, vars map[int]int, args *kernelargs.KernelArgs) (BoundExpr, error) {
	if idx < 0 || idx >= len(bindings) {
		return BoundExpr{}, rekierr.New(rekierr.UnsupportedMnemonic, "binding index %d out of range", idx)
	}
	b := bindings[idx]

	switch b.Kind {
	case execstate.BindComputed:
		switch b.ComputedExpr.Op {
		case execstate.OpMul, execstate.OpAdd, execstate.OpAnd, execstate.OpShl:
			lhs, err := reduceBindingToExpr(b.ComputedExpr.A, bindings, vars, args)
			if err != nil {
				return BoundExpr{}, err
			}
			rhs, err := reduceBindingToExpr(b.ComputedExpr.B, bindings, vars, args)
			if err != nil {
				return BoundExpr{}, err
			}
			return binOp(opToBoundExprKind(b.ComputedExpr.Op), lhs, rhs), nil
		case execstate.OpAddHiLo:
			// The 64-bit-add promotion heuristic failed to match, so the
			// high and low halves can only be reassembled as two 32-bit
			// sums; BEAddHiLo keeps them distinct so rendering can weight
			// the high half by 2^32 instead of collapsing into a plain
			// (hi + lo) that would silently drop 32 bits of magnitude.
			hi := binOp(BEAdd, mustReduce(b.ComputedExpr.HiOp1, bindings, vars, args), mustReduce(b.ComputedExpr.HiOp2, bindings, vars, args))
			lo := binOp(BEAdd, mustReduce(b.ComputedExpr.LoOp1, bindings, vars, args), mustReduce(b.ComputedExpr.LoOp2, bindings, vars, args))
			return binOp(BEAddHiLo, hi, lo), nil
		default:
			return BoundExpr{}, rekierr.New(rekierr.UnsupportedMnemonic, "unhandled expr operator: %v", b.ComputedExpr.Op)
		}

	case execstate.BindU32:
		return BoundExpr{Kind: BEU32, U32Val: b.U32Val}, nil

	case execstate.BindI32:
		return BoundExpr{Kind: BEI32, I32Val: b.I32Val}, nil

	case execstate.BindDeref:
		return resolveDereference(bindings, b.DerefPtr, b.DerefOffset, args)

	case execstate.BindCast:
		src, err := reduceBindingToExpr(b.CastSource, bindings, vars, args)
		if err != nil {
			return BoundExpr{}, err
		}
		return BoundExpr{Kind: BECast, Source: &src, CastKind: b.CastKind}, nil

	case execstate.BindDwordElement, execstate.BindQwordElement:
		if varIdx, ok := vars[b.ElementOf]; ok {
			return BoundExpr{Kind: BEVariable, VarIdx: varIdx, Dword: b.ElementDword}, nil
		}
		of := bindings[b.ElementOf]
		if of.Kind == execstate.BindDeref {
			return resolveDereference(bindings, of.DerefPtr, of.DerefOffset+int32(b.ElementDword), args)
		}
		return BoundExpr{}, rekierr.New(rekierr.UnsupportedMnemonic,
			"unable to resolve element #%d of binding %d (kind %v)", b.ElementDword, b.ElementOf, of.Kind)

	case execstate.BindVariable:
		return BoundExpr{Kind: BEVariable, VarIdx: b.VariableIdx, Dword: 0}, nil

	default:
		return BoundExpr{Kind: BEInitState, InitStateBinding: b.Kind}, nil
	}
}

func mustReduce(idx int, bindings []execstate.Binding, vars map[int]int, args *kernelargs.KernelArgs) BoundExpr {
	e, err := reduceBindingToExpr(idx, bindings, vars, args)
	if err != nil {
		return BoundExpr{Kind: BEPlaceholder}
	}
	return e
}

func opToBoundExprKind(op execstate.ExprOp) BoundExprKind {
	switch op {
	case execstate.OpMul:
		return BEMul
	case execstate.OpAdd:
		return BEAdd
	case execstate.OpAnd:
		return BEAnd
	case execstate.OpShl:
		return BEShl
	default:
		return BEPlaceholder
	}
}

// resolveDereference resolves a Deref{ptr, offset} binding to a named
// kernel argument when ptr is the kernarg-segment builtin, substituting
// the two well-known hidden global-offset arguments with a builtin
// reference. Any other pointer target is a recoverable UnresolvedPointer:
// a warning is logged and a Placeholder returned rather than failing the
// whole lowering pass.
func resolveDereference(bindings []execstate.Binding, ptr int, offset int32, args *kernelargs.KernelArgs) (BoundExpr, error) {
	if ptr < 0 || ptr >= len(bindings) {
		logrus.WithField("ptr", ptr).WithField("offset", offset).Warn("unresolved pointer dereference: out-of-range binding")
		return BoundExpr{Kind: BEPlaceholder}, nil
	}

	if bindings[ptr].Kind != execstate.BindPtrKernarg {
		logrus.WithFields(logrus.Fields{
			"binding": ptr,
			"offset":  offset,
		}).Warn("unresolved pointer dereference: not a kernarg-segment pointer")
		return BoundExpr{Kind: BEPlaceholder}, nil
	}

	argIdx, dword, ok := args.FindIdxAndDword(uint32(offset))
	if !ok {
		logrus.WithField("offset", offset).Warn("unresolved pointer dereference: offset not covered by any kernel argument")
		return BoundExpr{Kind: BEPlaceholder}, nil
	}

	if builtin, ok := hiddenArgBuiltin[args.At(argIdx).Name]; ok {
		return BoundExpr{Kind: BEBuiltinRef, BuiltinRef: builtin}, nil
	}
	return BoundExpr{Kind: BEDwordArg, ArgIdx: argIdx, Dword: dword}, nil
}
