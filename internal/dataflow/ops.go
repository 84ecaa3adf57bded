package dataflow

import (
	"github.com/sirupsen/logrus"

	"github.com/rekidecomp/reki/internal/asm"
	"github.com/rekidecomp/reki/internal/config"
	"github.com/rekidecomp/reki/internal/execstate"
	"github.com/rekidecomp/reki/internal/rekierr"
)

// insertInto writes contents at index in regfile, padding with the sentinel
// Reg{BindingIdx: sentinelBindingIdx} when index is beyond the current
// length, mirroring the insert_into! macro.
const sentinelBindingIdx = -1

func insertInto(regfile *[]execstate.Reg, index int, contents execstate.Reg) {
	if len(*regfile) <= index {
		for len(*regfile) < index {
			*regfile = append(*regfile, execstate.Reg{BindingIdx: sentinelBindingIdx})
		}
		*regfile = append(*regfile, contents)
		return
	}
	(*regfile)[index] = contents
}

// evalGCNInstruction dispatches a single instruction to its transfer
// function, appending any emitted statements to pgm.
func evalGCNInstruction(st *execstate.State, pgm *Program, instrIdx int, instr asm.Instruction, opts *config.Options) error {
	switch {
	case instr.Mnemonic == "s_waitcnt" || instr.Mnemonic == "s_endpgm":
		return nil
	case instr.Mnemonic == "global_store_dword":
		return evalGlobalStoreDword(st, pgm, instrIdx, instr.Operands)
	case hasPrefix(instr.Mnemonic, "s_load"):
		return evalSLoad(st, instr.Mnemonic, instr.Operands)
	case hasPrefix(instr.Mnemonic, "global_load"):
		return evalGlobalLoad(st, instr.Mnemonic, instr.Operands)
	case hasPrefix(instr.Mnemonic, "s_"):
		return evalSALUOp(st, instr.Mnemonic, instr.Operands, opts)
	case hasPrefix(instr.Mnemonic, "v_"):
		return evalVALUOp(st, instr.Mnemonic, instr.Operands, opts)
	default:
		return rekierr.New(rekierr.UnsupportedMnemonic, "operation not supported: %q", instr.Mnemonic)
	}
}

func hasPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && s[:len(prefix)] == prefix
}

func evalGlobalStoreDword(st *execstate.State, pgm *Program, instrIdx int, ops []asm.Operand) error {
	if len(ops) != 3 || ops[0].Kind() != asm.KindVRegs || ops[1].Kind() != asm.KindVReg {
		return nil
	}
	dstLo, dstHi := ops[0].Lo(), ops[0].Hi()
	if dstLo >= len(st.VGPRs) || dstHi >= len(st.VGPRs) {
		return nil
	}
	lo, hi := st.VGPRs[dstLo], st.VGPRs[dstHi]
	if lo.BindingIdx != hi.BindingIdx || lo.Dword != 0 || hi.Dword != 1 {
		return nil
	}
	src := ops[1].Reg()
	if src >= len(st.VGPRs) {
		return nil
	}
	srcReg := st.VGPRs[src]
	*pgm = append(*pgm, Entry{InstrIdx: instrIdx + 1, Stmt: Statement{
		Kind: StmtStore, Addr: lo.BindingIdx, Data: srcReg.BindingIdx, StoreKind: execstate.Dword,
	}})
	return nil
}

func evalGlobalLoad(st *execstate.State, mnemonic string, ops []asm.Operand) error {
	modifier := mnemonic[len("global_load"):]
	var kind execstate.DataKind
	switch modifier {
	case "_ushort":
		kind = execstate.U16
	case "_dword":
		kind = execstate.Dword
	default:
		return rekierr.New(rekierr.UnsupportedMnemonic, "unknown data type modifier %q", modifier)
	}

	if len(ops) < 3 {
		return rekierr.New(rekierr.UnsupportedMnemonic, "cannot resolve load, unrecognized operands %v", ops)
	}
	ptr, err := loadPtrBinding(st, ops[1])
	if err != nil {
		return err
	}

	var offset int32
	if len(ops) == 4 && ops[3].Kind() == asm.KindOffset {
		offset = ops[3].OffsetValue()
	} else if len(ops) != 3 {
		return rekierr.New(rekierr.UnsupportedMnemonic, "cannot resolve load, unrecognized operands %v", ops)
	}

	idx := st.PushBinding(execstate.Binding{Kind: execstate.BindDeref, DerefPtr: ptr, DerefOffset: offset, DerefKind: kind})
	if ops[0].Kind() != asm.KindVReg {
		return rekierr.New(rekierr.UnsupportedMnemonic, "cannot resolve load, unrecognized destination %v", ops[0])
	}
	insertInto(&st.VGPRs, ops[0].Reg(), execstate.Reg{BindingIdx: idx, Dword: 0})
	return nil
}

func evalSLoad(st *execstate.State, mnemonic string, ops []asm.Operand) error {
	if len(ops) != 3 || ops[2].Kind() != asm.KindLit {
		return rekierr.New(rekierr.UnsupportedMnemonic, "received invalid operands in eval_s_load: %v", ops)
	}
	ptr, err := loadPtrBinding(st, ops[1])
	if err != nil {
		return err
	}
	offset := int32(ops[2].Lit())

	switch mnemonic {
	case "s_load_dword":
		if ops[0].Kind() != asm.KindSReg {
			break
		}
		idx := st.PushBinding(execstate.Binding{Kind: execstate.BindDeref, DerefPtr: ptr, DerefOffset: offset, DerefKind: execstate.Dword})
		insertInto(&st.SGPRs, ops[0].Reg(), execstate.Reg{BindingIdx: idx, Dword: 0})
		return nil
	case "s_load_dwordx2":
		if ops[0].Kind() != asm.KindSRegs {
			break
		}
		idx := st.PushBinding(execstate.Binding{Kind: execstate.BindDeref, DerefPtr: ptr, DerefOffset: offset, DerefKind: execstate.Qword})
		for i := 0; i < 2; i++ {
			insertInto(&st.SGPRs, ops[0].Lo()+i, execstate.Reg{BindingIdx: idx, Dword: uint8(i)})
		}
		return nil
	case "s_load_dwordx4":
		if ops[0].Kind() != asm.KindSRegs {
			break
		}
		idx := st.PushBinding(execstate.Binding{Kind: execstate.BindDeref, DerefPtr: ptr, DerefOffset: offset, DerefKind: execstate.DQword})
		for i := 0; i < 4; i++ {
			insertInto(&st.SGPRs, ops[0].Lo()+i, execstate.Reg{BindingIdx: idx, Dword: uint8(i)})
		}
		return nil
	}
	return rekierr.New(rekierr.UnsupportedMnemonic, "operation not supported: %q %v", mnemonic, ops)
}

func evalSALUOp(st *execstate.State, mnemonic string, ops []asm.Operand, opts *config.Options) error {
	switch mnemonic {
	case "s_mul_i32":
		if len(ops) != 3 || ops[0].Kind() != asm.KindSReg || ops[1].Kind() != asm.KindSReg || ops[2].Kind() != asm.KindSReg {
			break
		}
		op1, op2 := st.SGPRs[ops[1].Reg()], st.SGPRs[ops[2].Reg()]
		if op1.Dword != 0 || op2.Dword != 0 {
			return rekierr.New(rekierr.UnsupportedMnemonic, "operation not supported: %q %v", mnemonic, ops)
		}
		idx := st.PushBinding(execstate.Binding{Kind: execstate.BindComputed, ComputedExpr: execstate.Expr{Op: execstate.OpMul, A: op1.BindingIdx, B: op2.BindingIdx}, ComputedKind: execstate.Dword})
		insertInto(&st.SGPRs, ops[0].Reg(), execstate.Reg{BindingIdx: idx, Dword: 0})
		return nil

	case "s_add_i32":
		if len(ops) != 3 || ops[0].Kind() != asm.KindSReg {
			break
		}
		op1, err := operandBindingDw(st, ops[1], "i32")
		if err != nil {
			return err
		}
		op2, err := operandBindingDw(st, ops[2], "i32")
		if err != nil {
			return err
		}
		idx := st.PushBinding(execstate.Binding{Kind: execstate.BindComputed, ComputedExpr: execstate.Expr{Op: execstate.OpAdd, A: op1, B: op2}, ComputedKind: execstate.Dword})
		insertInto(&st.SGPRs, ops[0].Reg(), execstate.Reg{BindingIdx: idx, Dword: 0})
		return nil

	case "s_and_b32":
		if len(ops) != 3 || ops[0].Kind() != asm.KindSReg {
			break
		}
		op, err := operandBindingDw(st, ops[1], "u32")
		if err != nil {
			return err
		}
		mask, err := operandBindingDw(st, ops[2], "u32")
		if err != nil {
			return err
		}
		kind := execstate.Dword
		maskBinding := (*st.Bindings)[mask]
		if maskBinding.Kind == execstate.BindU32 && maskBinding.U32Val == 65535 {
			kind = execstate.U16 // 0xffff is most likely a 32 -> 16 downcast
			if opts != nil && opts.LogHeuristics {
				logrus.WithField("mnemonic", mnemonic).Debug("u16-downcast heuristic fired on s_and_b32 0xffff mask")
			}
		}
		idx := st.PushBinding(execstate.Binding{Kind: execstate.BindComputed, ComputedExpr: execstate.Expr{Op: execstate.OpAnd, A: op, B: mask}, ComputedKind: kind})
		insertInto(&st.SGPRs, ops[0].Reg(), execstate.Reg{BindingIdx: idx, Dword: 0})
		return nil

	case "s_cmp_lt_i32":
		if len(ops) != 2 {
			break
		}
		r1, err := operandReg(st, ops[0], "i32")
		if err != nil {
			return err
		}
		r2, err := operandReg(st, ops[1], "i32")
		if err != nil {
			return err
		}
		if r1.Dword != 0 || r2.Dword != 0 {
			return rekierr.New(rekierr.UnsupportedMnemonic, "unrecognized operands: %v %v", r1, r2)
		}
		st.SCC = &execstate.Condition{IsEql: false, A: r1.BindingIdx, B: r2.BindingIdx}
		return nil

	case "s_cmp_eq_u32":
		if len(ops) != 2 {
			break
		}
		r1, err := operandReg(st, ops[0], "u32")
		if err != nil {
			return err
		}
		r2, err := operandReg(st, ops[1], "u32")
		if err != nil {
			return err
		}
		if r1.Dword != 0 || r2.Dword != 0 {
			return rekierr.New(rekierr.UnsupportedMnemonic, "unrecognized operands: %v %v", r1, r2)
		}
		st.SCC = &execstate.Condition{IsEql: true, A: r1.BindingIdx, B: r2.BindingIdx}
		return nil
	}
	return rekierr.New(rekierr.UnsupportedMnemonic, "operation not supported: %q %v", mnemonic, ops)
}

func evalVALUOp(st *execstate.State, mnemonic string, ops []asm.Operand, opts *config.Options) error {
	switch mnemonic {
	case "v_mov_b32_e32":
		if len(ops) != 2 || ops[0].Kind() != asm.KindVReg {
			break
		}
		contents, err := operandReg(st, ops[1], "u32")
		if err != nil {
			return err
		}
		insertInto(&st.VGPRs, ops[0].Reg(), contents)
		return nil

	case "v_add_u32_e32":
		if len(ops) != 3 || ops[0].Kind() != asm.KindVReg {
			break
		}
		op1, err := operandBindingDw(st, ops[1], "u32")
		if err != nil {
			return err
		}
		op2, err := operandBindingDw(st, ops[2], "u32")
		if err != nil {
			return err
		}
		idx := st.PushBinding(execstate.Binding{Kind: execstate.BindComputed, ComputedExpr: execstate.Expr{Op: execstate.OpAdd, A: op1, B: op2}, ComputedKind: execstate.Dword})
		insertInto(&st.VGPRs, ops[0].Reg(), execstate.Reg{BindingIdx: idx, Dword: 0})
		return nil

	case "v_mul_lo_u32":
		if len(ops) != 3 || ops[0].Kind() != asm.KindVReg {
			break
		}
		op1, err := operandBindingDw(st, ops[1], "u32")
		if err != nil {
			return err
		}
		op2, err := operandBindingDw(st, ops[2], "u32")
		if err != nil {
			return err
		}
		idx := st.PushBinding(execstate.Binding{Kind: execstate.BindComputed, ComputedExpr: execstate.Expr{Op: execstate.OpMul, A: op1, B: op2}, ComputedKind: execstate.Dword})
		insertInto(&st.VGPRs, ops[0].Reg(), execstate.Reg{BindingIdx: idx, Dword: 0})
		return nil

	case "v_ashrrev_i32_e32":
		if len(ops) == 3 && ops[0].Kind() == asm.KindVReg && ops[1].Kind() == asm.KindLit && ops[1].Lit() == 31 && ops[2].Kind() == asm.KindVReg && ops[0].Reg() == ops[2].Reg()+1 {
			src := ops[2].Reg()
			srcReg := st.VGPRs[src]
			idx := st.PushBinding(execstate.Binding{Kind: execstate.BindCast, CastSource: srcReg.BindingIdx, CastKind: execstate.I64})
			for i := 0; i < 2; i++ {
				insertInto(&st.VGPRs, src+i, execstate.Reg{BindingIdx: idx, Dword: uint8(i)})
			}
			if opts != nil && opts.LogHeuristics {
				logrus.WithField("mnemonic", mnemonic).Debug("sign-extension heuristic fired on v_ashrrev_i32_e32 shift-by-31")
			}
			return nil
		}
		return rekierr.New(rekierr.UnsupportedMnemonic, "operation not supported: %q %v", mnemonic, ops)

	case "v_lshlrev_b64":
		if len(ops) != 3 || ops[0].Kind() != asm.KindVRegs || ops[2].Kind() != asm.KindVRegs {
			break
		}
		shift, err := operandBindingDw(st, ops[1], "u32")
		if err != nil {
			return err
		}
		srcLo := ops[2].Lo()
		srcReg := st.VGPRs[srcLo]
		idx := st.PushBinding(execstate.Binding{Kind: execstate.BindComputed, ComputedExpr: execstate.Expr{Op: execstate.OpShl, A: srcReg.BindingIdx, B: shift}, ComputedKind: execstate.Qword})
		dstLo := ops[0].Lo()
		for i := 0; i < 2; i++ {
			insertInto(&st.VGPRs, dstLo+i, execstate.Reg{BindingIdx: idx, Dword: uint8(i)})
		}
		return nil

	case "v_add_co_u32_e32":
		if len(ops) != 4 || ops[0].Kind() != asm.KindVReg || ops[1].Kind() != asm.KindVCC {
			break
		}
		op1, err := operandBindingDw(st, ops[2], "u32")
		if err != nil {
			return err
		}
		op2, err := operandBindingDw(st, ops[3], "u32")
		if err != nil {
			return err
		}
		idx := st.PushBinding(execstate.Binding{Kind: execstate.BindComputed, ComputedExpr: execstate.Expr{Op: execstate.OpAdd, A: op1, B: op2}, ComputedKind: execstate.Dword})
		insertInto(&st.VGPRs, ops[0].Reg(), execstate.Reg{BindingIdx: idx, Dword: 0})
		return nil

	case "v_addc_co_u32_e32":
		return evalAddcCoU32E32(st, ops, opts)

	case "v_mac_f32_e32":
		if len(ops) != 3 || ops[0].Kind() != asm.KindVReg {
			break
		}
		dst := st.VGPRs[ops[0].Reg()]
		op1, err := operandBindingDw(st, ops[1], "f32")
		if err != nil {
			return err
		}
		op2, err := operandBindingDw(st, ops[2], "f32")
		if err != nil {
			return err
		}
		mulIdx := st.PushBinding(execstate.Binding{Kind: execstate.BindComputed, ComputedExpr: execstate.Expr{Op: execstate.OpMul, A: op1, B: op2}, ComputedKind: execstate.Dword})
		addIdx := st.PushBinding(execstate.Binding{Kind: execstate.BindComputed, ComputedExpr: execstate.Expr{Op: execstate.OpAdd, A: dst.BindingIdx, B: mulIdx}, ComputedKind: execstate.Dword})
		insertInto(&st.VGPRs, ops[0].Reg(), execstate.Reg{BindingIdx: addIdx, Dword: 0})
		return nil
	}
	return rekierr.New(rekierr.UnsupportedMnemonic, "operation not supported: %q %v", mnemonic, ops)
}

// evalAddcCoU32E32 handles the 64-bit-add promotion heuristic: a
// v_add_co_u32_e32/v_addc_co_u32_e32 pair rewrites the low dword's binding
// in place to a single Qword Computed node.
func evalAddcCoU32E32(st *execstate.State, ops []asm.Operand, opts *config.Options) error {
	if len(ops) == 5 && ops[1].Kind() == asm.KindVCC && ops[4].Kind() == asm.KindVCC {
		if (ops[2].Kind() == asm.KindLit && ops[2].Lit() == 0) || (ops[3].Kind() == asm.KindLit && ops[3].Lit() == 0) {
			return nil // carry operand is a literal zero: nothing to promote
		}
	}
	if len(ops) != 5 || ops[0].Kind() != asm.KindVReg || ops[1].Kind() != asm.KindVCC || ops[4].Kind() != asm.KindVCC {
		return rekierr.New(rekierr.UnsupportedMnemonic, "operation not supported: v_addc_co_u32_e32 %v", ops)
	}

	dst := ops[0].Reg()
	if dst < 1 {
		return rekierr.New(rekierr.HeuristicFailure, "v_addc_co_u32_e32 destination has no preceding low dword")
	}
	loReg := st.VGPRs[dst-1]
	loIdx := loReg.BindingIdx
	loBinding := (*st.Bindings)[loIdx]

	if ops[2].Kind() != asm.KindVReg || ops[3].Kind() != asm.KindVReg {
		return rekierr.New(rekierr.UnsupportedMnemonic, "unexpected v_addc_co_u32_e32 operands: %v", ops)
	}
	op1Reg := st.VGPRs[ops[2].Reg()]
	op2Reg := st.VGPRs[ops[3].Reg()]

	if loBinding.Kind != execstate.BindComputed || loBinding.ComputedExpr.Op != execstate.OpAdd {
		return rekierr.New(rekierr.HeuristicFailure,
			"64-bit addition heuristic failed; v_addc_co_u32_e32 is not used to add up the high part of a 64-bit int")
	}
	loOp1, loOp2 := loBinding.ComputedExpr.A, loBinding.ComputedExpr.B

	var expr execstate.Expr
	if adcOp1, adcOp2, ok := addcQwordMatchingOperands(st.Bindings, op1Reg, op2Reg, loOp1, loOp2); ok {
		expr = execstate.Expr{Op: execstate.OpAdd, A: adcOp1, B: adcOp2}
	} else {
		hiOp1, err := operandBindingDw(st, ops[2], "u32")
		if err != nil {
			return err
		}
		hiOp2, err := operandBindingDw(st, ops[3], "u32")
		if err != nil {
			return err
		}
		expr = execstate.Expr{Op: execstate.OpAddHiLo, LoOp1: loOp1, LoOp2: loOp2, HiOp1: hiOp1, HiOp2: hiOp2}
	}

	(*st.Bindings)[loIdx] = execstate.Binding{Kind: execstate.BindComputed, ComputedExpr: expr, ComputedKind: execstate.Qword}
	for i := 0; i < 2; i++ {
		insertInto(&st.VGPRs, dst-1+i, execstate.Reg{BindingIdx: loIdx, Dword: uint8(i)})
	}
	if opts != nil && opts.LogHeuristics {
		logrus.WithField("binding", loIdx).Debug("64-bit add promotion heuristic fired on v_addc_co_u32_e32")
	}
	return nil
}

// addcQwordMatchingOperands tries to recover the two qword operands of a
// 64-bit add from the already-known low-dword operands, by matching each
// one against the corresponding high half presented to v_addc_co_u32_e32.
func addcQwordMatchingOperands(bindings *[]execstate.Binding, op1, op2 execstate.Reg, loOp1, loOp2 int) (int, int, bool) {
	match := func(loOp int, hi execstate.Reg) (int, bool) {
		b := (*bindings)[loOp]
		if b.Kind == execstate.BindDwordElement && b.ElementOf == hi.BindingIdx && b.ElementDword+1 == hi.Dword {
			*bindings = append(*bindings, execstate.Binding{Kind: execstate.BindQwordElement, ElementOf: b.ElementOf, ElementDword: b.ElementDword})
			return len(*bindings) - 1, true
		}
		if loOp == hi.BindingIdx && hi.Dword == 1 {
			return loOp, true
		}
		return 0, false
	}

	op1Adc, ok := match(loOp1, op1)
	if !ok {
		op1Adc, ok = match(loOp1, op2)
		if !ok {
			return 0, 0, false
		}
	}
	op2Adc, ok := match(loOp2, op1)
	if !ok {
		op2Adc, ok = match(loOp2, op2)
		if !ok {
			return 0, 0, false
		}
	}
	return op1Adc, op2Adc, true
}

// loadPtrBinding resolves an SRegs/VRegs source operand to the binding it
// points at, requiring the two dwords to name the same binding as dword 0
// and dword 1 of a pointer-shaped value.
func loadPtrBinding(st *execstate.State, source asm.Operand) (int, error) {
	var lo, hi execstate.Reg
	switch source.Kind() {
	case asm.KindSRegs:
		lo, hi = st.SGPRs[source.Lo()], st.SGPRs[source.Hi()]
	case asm.KindVRegs:
		lo, hi = st.VGPRs[source.Lo()], st.VGPRs[source.Hi()]
	default:
		return 0, rekierr.New(rekierr.UnsupportedMnemonic, "cannot resolve load, unrecognized source operand %v", source)
	}
	if lo.BindingIdx == hi.BindingIdx && lo.Dword == 0 && hi.Dword == 1 {
		return lo.BindingIdx, nil
	}
	return 0, rekierr.New(rekierr.HeuristicFailure, "cannot resolve load, got invalid pointer (lo: %v, hi: %v)", lo, hi)
}

// operandReg resolves an operand to a Reg: register operands pass through,
// literal operands push a fresh binding typed by typehint. Any other
// operand shape is a structural violation of the transfer function's
// precondition, not a new mnemonic to learn, and is fatal.
func operandReg(st *execstate.State, op asm.Operand, typehint string) (execstate.Reg, error) {
	switch op.Kind() {
	case asm.KindSReg:
		return st.SGPRs[op.Reg()], nil
	case asm.KindVReg:
		return st.VGPRs[op.Reg()], nil
	case asm.KindLit:
		var idx int
		if typehint == "i32" {
			idx = st.PushBinding(execstate.Binding{Kind: execstate.BindI32, I32Val: int32(op.Lit())})
		} else {
			idx = st.PushBinding(execstate.Binding{Kind: execstate.BindU32, U32Val: op.Lit()})
		}
		return execstate.Reg{BindingIdx: idx, Dword: 0}, nil
	default:
		return execstate.Reg{}, rekierr.New(rekierr.UnsupportedMnemonic, "unrecognized operand shape: %v", op)
	}
}

// operandBindingDw resolves an operand down to a single dword-sized
// binding index, splitting a DQword Deref (or any non-zero dword) off into
// its own DwordElement binding.
func operandBindingDw(st *execstate.State, op asm.Operand, typehint string) (int, error) {
	reg, err := operandReg(st, op, typehint)
	if err != nil {
		return 0, err
	}
	of, dword := reg.BindingIdx, reg.Dword

	if of >= 0 && of < len(*st.Bindings) {
		b := (*st.Bindings)[of]
		if b.Kind == execstate.BindDeref && b.DerefKind == execstate.DQword {
			return st.PushBinding(execstate.Binding{Kind: execstate.BindDwordElement, ElementOf: of, ElementDword: dword}), nil
		}
	}
	if dword == 0 {
		return of, nil
	}
	return st.PushBinding(execstate.Binding{Kind: execstate.BindDwordElement, ElementOf: of, ElementDword: dword}), nil
}
