// Package dataflow is the symbolic interpreter proper: a per-mnemonic
// transfer-function table (ops.go) and a recursive block evaluator that
// discovers variables at conditional-branch joins by diffing register
// state (eval.go).
//
// Grounded on _examples/original_source/src/data_flow/mod.rs,
// src/data_flow/ops.rs, and src/data_flow/types.rs.
package dataflow

import "github.com/rekidecomp/reki/internal/execstate"

// StatementKind tags which case of the Statement sum type a value holds.
type StatementKind int

const (
	StmtJumpIf StatementKind = iota
	StmtJumpUnless
	StmtStore
	StmtLabel
	StmtVarDecl
	StmtDwordVarAssignment
	StmtQwordVarAssignment
	StmtDQwordVarAssignment
)

// Statement is one emitted program statement.
type Statement struct {
	Kind StatementKind

	Cond     execstate.Condition // JumpIf / JumpUnless
	LabelIdx int                 // JumpIf / JumpUnless / Label

	Addr, Data int              // Store
	StoreKind  execstate.DataKind // Store

	VarIdx       int    // VarDecl / *VarAssignment
	BindingIdx   int    // *VarAssignment
	BindingDword uint8  // *VarAssignment
	VarDword     uint8  // *VarAssignment
}

// Entry pairs a statement with the source instruction index it was
// derived from (statements are inserted at instr_idx+1 or instr_idx+2
// depending on which side of a branch they represent).
type Entry struct {
	InstrIdx int
	Stmt     Statement
}

// Program is the flat, ordered statement stream analysis produces.
type Program []Entry
