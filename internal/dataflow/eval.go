package dataflow

import (
	"github.com/rekidecomp/reki/internal/asm"
	"github.com/rekidecomp/reki/internal/config"
	"github.com/rekidecomp/reki/internal/controlflow"
	"github.com/rekidecomp/reki/internal/execstate"
	"github.com/rekidecomp/reki/internal/rekierr"
)

// Analyze walks a kernel's full instruction stream from a fresh initial
// state, recursing into forward-conditional blocks to discover variables
// at their join points. opts is nil-safe: a nil Options behaves like
// config.Default().
func Analyze(st *execstate.State, instrs []asm.Instruction, cfMap *controlflow.Map, opts *config.Options) (Program, error) {
	o := config.Default()
	if opts != nil {
		o = *opts
	}
	if o.MaxInstructions > 0 && len(instrs) > o.MaxInstructions {
		return nil, rekierr.New(rekierr.UnsupportedMnemonic,
			"kernel has %d instructions, exceeding the configured max of %d", len(instrs), o.MaxInstructions)
	}
	return evalBlock(st, instrs, 0, len(instrs), cfMap, &o)
}

// evalBlock evaluates instructions [start, end) against st, recursing into
// nested forward-conditional blocks and skipping over spans that an
// unconditional forward branch jumps past.
func evalBlock(st *execstate.State, instrs []asm.Instruction, start, end int, cfMap *controlflow.Map, opts *config.Options) (Program, error) {
	var pgm Program

	idx := start
	for idx < end {
		instrIdx := idx

		if labelIdx, ok := cfMap.LabelAtInstruction(instrIdx); ok {
			pgm = append(pgm, Entry{InstrIdx: instrIdx + 1, Stmt: Statement{Kind: StmtLabel, LabelIdx: labelIdx}})
		}

		if kind, labelIdx, dst, ok := cfMap.BranchAtInstruction(instrIdx); ok {
			switch {
			case kind == controlflow.Uncond:
				if dst < instrIdx {
					if !opts.AllowBackwardBranches {
						return nil, rekierr.New(rekierr.BackwardUnconditional,
							"unconditional backward jump from %d to %d", instrIdx, dst)
					}
					// Backward jumps are never modeled as control flow, even
					// when permitted: treat the branch itself as a no-op and
					// keep evaluating straight through, rather than
					// re-entering the loop at its target.
					idx++
					continue
				}
				// Simply skip the instructions jumped over; no goto needed.
				idx = dst
				continue

			case dst > instrIdx:
				// A forward conditional branch wraps a straight-line block:
				// evaluate it against a cloned state, then diff the two
				// states at the join to discover variables.
				stBlock := st.Clone()
				block, err := evalBlock(&stBlock, instrs, instrIdx+1, dst, cfMap, opts)
				if err != nil {
					return nil, err
				}

				declarations, assignedExecuted, assignedSkipped, err := blockVariables(&stBlock, st)
				if err != nil {
					return nil, err
				}

				branchStmt, err := jumpStatement(kind, st.SCC, labelIdx)
				if err != nil {
					return nil, err
				}

				st.SGPRs = stBlock.SGPRs
				st.VGPRs = stBlock.VGPRs

				for _, s := range declarations {
					pgm = append(pgm, Entry{InstrIdx: instrIdx + 1, Stmt: s})
				}
				for _, s := range assignedSkipped {
					pgm = append(pgm, Entry{InstrIdx: instrIdx + 1, Stmt: s})
				}
				pgm = append(pgm, Entry{InstrIdx: instrIdx + 1, Stmt: branchStmt})
				for _, s := range assignedExecuted {
					pgm = append(pgm, Entry{InstrIdx: instrIdx + 2, Stmt: s})
				}
				pgm = append(pgm, block...)

				idx = dst
				continue

			default:
				// Backward conditional branch: emit the jump and continue
				// straight-line evaluation at the next instruction.
				branchStmt, err := jumpStatement(kind, st.SCC, labelIdx)
				if err != nil {
					return nil, err
				}
				pgm = append(pgm, Entry{InstrIdx: instrIdx + 1, Stmt: branchStmt})
				idx++
				continue
			}
		}

		if err := evalGCNInstruction(st, &pgm, instrIdx, instrs[instrIdx], opts); err != nil {
			return nil, err
		}
		idx++
	}

	return pgm, nil
}

func jumpStatement(kind controlflow.BranchKind, scc *execstate.Condition, labelIdx int) (Statement, error) {
	if scc == nil {
		return Statement{}, rekierr.New(rekierr.UnsupportedMnemonic, "conditional branch with no preceding scc-setting comparison")
	}
	switch kind {
	case controlflow.SCCSet:
		return Statement{Kind: StmtJumpIf, Cond: *scc, LabelIdx: labelIdx}, nil
	case controlflow.SCCUnset:
		return Statement{Kind: StmtJumpUnless, Cond: *scc, LabelIdx: labelIdx}, nil
	default:
		return Statement{}, rekierr.New(rekierr.UnsupportedMnemonic, "unhandled branch kind: %v", kind)
	}
}

// blockVariables diffs the executed block's post-state against the
// skipped-block's pre-state register files, introducing a Variable
// binding for every register span that disagrees and producing the
// declarations plus each branch's assignment statements.
func blockVariables(stExecuted, stSkipped *execstate.State) (declarations, assignedExecuted, assignedSkipped []Statement, err error) {
	before := len(*stExecuted.Variables)

	newSGPRs, sgprExec, sgprSkip, err := compareRegsExtractVars(stExecuted.SGPRs, stSkipped.SGPRs, stExecuted)
	if err != nil {
		return nil, nil, nil, err
	}
	newVGPRs, vgprExec, vgprSkip, err := compareRegsExtractVars(stExecuted.VGPRs, stSkipped.VGPRs, stExecuted)
	if err != nil {
		return nil, nil, nil, err
	}

	stExecuted.SGPRs = newSGPRs
	stExecuted.VGPRs = newVGPRs

	assignedExecuted = append(sgprExec, vgprExec...)
	assignedSkipped = append(sgprSkip, vgprSkip...)

	for i := before; i < len(*stExecuted.Variables); i++ {
		declarations = append(declarations, Statement{Kind: StmtVarDecl, VarIdx: i})
	}
	return declarations, assignedExecuted, assignedSkipped, nil
}

// compareRegsExtractVars finds every contiguous run of registers whose
// binding differs between the executed and skipped register files,
// introduces one Variable per run, and returns a copy of the executed
// register file whose slots for that run point at it.
func compareRegsExtractVars(regsExecuted, regsSkipped []execstate.Reg, st *execstate.State) ([]execstate.Reg, []Statement, []Statement, error) {
	newRegs := make([]execstate.Reg, len(regsExecuted))
	copy(newRegs, regsExecuted)

	var executedStmts, skippedStmts []Statement

	minLen := len(regsExecuted)
	if len(regsSkipped) < minLen {
		minLen = len(regsSkipped)
	}

	i := 0
	for i < minLen {
		exec, skip := regsExecuted[i], regsSkipped[i]
		if exec == skip {
			i++
			continue
		}

		execIdx, execLo := exec.BindingIdx, exec.Dword
		execHi := execLo
		j := i
		for j < len(regsExecuted) && regsExecuted[j].BindingIdx == execIdx {
			execHi = regsExecuted[j].Dword
			j++
		}

		skipIdx, skipLo := skip.BindingIdx, skip.Dword
		skipHi := skipLo
		k := i
		for k < len(regsSkipped) && regsSkipped[k].BindingIdx == skipIdx {
			skipHi = regsSkipped[k].Dword
			k++
		}

		execDwords := int(execHi) - int(execLo) + 1
		skipDwords := int(skipHi) - int(skipLo) + 1

		varKind, err := classifyVariable(execDwords, skipDwords)
		if err != nil {
			return nil, nil, nil, err
		}
		varIdx := st.PushVariable(varKind)

		varDwords := execDwords
		if skipDwords > varDwords {
			varDwords = skipDwords
		}
		varBindingIdx := st.PushBinding(execstate.Binding{Kind: execstate.BindVariable, VariableIdx: varIdx})

		end := i + varDwords
		if end > len(regsExecuted) {
			end = len(regsExecuted)
		}
		if stmts, err := createAssignments(regsExecuted[i:end], varIdx); err != nil {
			return nil, nil, nil, err
		} else {
			executedStmts = append(executedStmts, stmts...)
		}

		endSkip := i + varDwords
		if endSkip > len(regsSkipped) {
			endSkip = len(regsSkipped)
		}
		if stmts, err := createAssignments(regsSkipped[i:endSkip], varIdx); err != nil {
			return nil, nil, nil, err
		} else {
			skippedStmts = append(skippedStmts, stmts...)
		}

		for dw := 0; dw < varDwords && i+dw < len(newRegs); dw++ {
			newRegs[i+dw] = execstate.Reg{BindingIdx: varBindingIdx, Dword: uint8(dw)}
		}

		if varDwords > 1 {
			i += varDwords
		} else {
			i++
		}
	}

	return newRegs, executedStmts, skippedStmts, nil
}

func classifyVariable(execDwords, skipDwords int) (execstate.VariableKind, error) {
	switch {
	case execDwords == 1 && skipDwords == 1:
		return execstate.VarDword, nil
	case execDwords == 2 && skipDwords == 2:
		return execstate.VarQword, nil
	case execDwords == 4 && skipDwords == 4:
		return execstate.VarDQword, nil
	case execDwords == skipDwords:
		return 0, rekierr.New(rekierr.VariableSizeMismatch, "%d-word variables are not supported", execDwords)
	case execDwords == 2 && skipDwords == 1:
		return execstate.VarPartialQword, nil
	case execDwords == 4 && skipDwords < 4:
		return execstate.VarPartialDQword, nil
	default:
		return 0, rekierr.New(rekierr.VariableSizeMismatch,
			"unsupported variable size: %d dwords on the executed side, %d dwords on the skipped side", execDwords, skipDwords)
	}
}

// createAssignments splits varRegs into contiguous same-binding runs and
// emits one Dword/Qword/DQword assignment statement per run.
func createAssignments(varRegs []execstate.Reg, varIdx int) ([]Statement, error) {
	var stmts []Statement
	i := 0
	for i < len(varRegs) {
		bindingIdx, bindingDword := varRegs[i].BindingIdx, varRegs[i].Dword
		bindingHiDword := bindingDword
		j := i
		for j < len(varRegs) && varRegs[j].BindingIdx == bindingIdx {
			bindingHiDword = varRegs[j].Dword
			j++
		}
		assignmentDwords := int(bindingHiDword) - int(bindingDword) + 1

		var kind StatementKind
		switch assignmentDwords {
		case 1:
			kind = StmtDwordVarAssignment
		case 2:
			kind = StmtQwordVarAssignment
		case 4:
			kind = StmtDQwordVarAssignment
		default:
			return nil, rekierr.New(rekierr.VariableSizeMismatch, "%d-word variables are not supported", assignmentDwords)
		}

		stmts = append(stmts, Statement{
			Kind: kind, VarIdx: varIdx, BindingIdx: bindingIdx, BindingDword: bindingDword, VarDword: uint8(i),
		})
		i += assignmentDwords
	}
	return stmts, nil
}
