// Package execstate models the simulated SGPR/VGPR register file and the
// append-only binding arena that symbolic execution writes into.
//
// Grounded on _examples/original_source/src/exec_state.rs (initial-state
// construction) and src/data_flow/types.rs (the authoritative Reg/Binding/
// Variable/Condition/Expr type definitions this package mirrors).
package execstate

import (
	"github.com/rekidecomp/reki/internal/kernelcode"
)

// Reg is a pointer into the binding arena: which binding a register dword
// currently names, and which dword of that binding it refers to.
type Reg struct {
	BindingIdx int
	Dword      uint8
}

// DataKind is the width/shape tag attached to a Deref or Computed binding.
type DataKind int

const (
	Dword DataKind = iota
	Qword
	DQword
	U16
	I64
)

// VariableKind classifies a join-point Variable binding by how many dwords
// it spans and whether the two branches only partially agree.
type VariableKind int

const (
	VarDword VariableKind = iota
	VarQword
	VarDQword
	VarPartialQword
	VarPartialDQword
)

// BindingKind tags which case of the Binding sum type a value holds.
type BindingKind int

const (
	BindU32 BindingKind = iota
	BindI32
	BindDeref
	BindComputed
	BindDwordElement
	BindQwordElement
	BindCast
	BindVariable

	BindPrivateSegmentBuffer
	BindPtrDispatchPacket
	BindPtrQueue
	BindPtrKernarg
	BindDispatchId
	BindFlatScratchInit
	BindWorkgroupCountX
	BindWorkgroupCountY
	BindWorkgroupCountZ
	BindWorkgroupIdX
	BindWorkgroupIdY
	BindWorkgroupIdZ
	BindWorkgroupInfo
	BindPrivateSegmentWavefrontOffset
	BindWorkitemIdX
	BindWorkitemIdY
	BindWorkitemIdZ
)

// ExprOp tags the Computed binding's operator.
type ExprOp int

const (
	OpMul ExprOp = iota
	OpAdd
	OpAnd
	OpShl
	OpAddHiLo
)

// Expr is the operator + operand-binding-indices pair a Computed binding
// carries. AddHiLo additionally carries the four operands of a 64-bit add
// that could not be promoted to a single Qword Computed node.
type Expr struct {
	Op   ExprOp
	A, B int // BindingIdx operands for Mul/Add/And/Shl

	HiOp1, HiOp2, LoOp1, LoOp2 int // BindingIdx operands for AddHiLo
}

// Binding is one entry in the append-only binding arena. Only one field
// group is meaningful, selected by Kind.
type Binding struct {
	Kind BindingKind

	U32Val uint32
	I32Val int32

	DerefPtr    int
	DerefOffset int32
	DerefKind   DataKind

	ComputedExpr Expr
	ComputedKind DataKind

	ElementOf    int
	ElementDword uint8

	CastSource int
	CastKind   DataKind

	VariableIdx int
}

// Condition is a comparison recorded by s_cmp_* / scc / vcc setters.
type Condition struct {
	IsEql bool // false: Lt, true: Eql
	A, B  int  // BindingIdx operands
}

// State is the cheaply-cloneable simulated machine state: register files
// indexed by dword, plus the shared binding and variable arenas.
//
// The binding/variable arenas are passed by pointer and shared across
// clones taken at a conditional branch join; sgprs/vgprs/scc/vcc are
// plain slices/values copied per clone, matching ExecutionState's #[derive(Clone)]
// in the original (a shallow copy, since Vec<Reg> clones are cheap and the
// arena only ever grows, never mutates retroactively except for the single
// 64-bit add-promotion rewrite documented in the dataflow package).
type State struct {
	SGPRs []Reg
	VGPRs []Reg

	Bindings  *[]Binding
	Variables *[]VariableKind

	SCC *Condition
	VCC *Condition
}

// Clone returns a State sharing the same binding/variable arenas but with
// independent register-file slices, the way a conditional branch forks
// execution down each arm.
func (s State) Clone() State {
	sgprs := make([]Reg, len(s.SGPRs))
	copy(sgprs, s.SGPRs)
	vgprs := make([]Reg, len(s.VGPRs))
	copy(vgprs, s.VGPRs)
	return State{
		SGPRs:     sgprs,
		VGPRs:     vgprs,
		Bindings:  s.Bindings,
		Variables: s.Variables,
		SCC:       s.SCC,
		VCC:       s.VCC,
	}
}

// PushBinding appends a binding to the arena and returns its index.
func (s State) PushBinding(b Binding) int {
	*s.Bindings = append(*s.Bindings, b)
	return len(*s.Bindings) - 1
}

// PushVariable appends a variable kind to the arena and returns its index.
func (s State) PushVariable(k VariableKind) int {
	*s.Variables = append(*s.Variables, k)
	return len(*s.Variables) - 1
}

// sgprSpillCap bounds how many SGPRs the grid_workgroup_count_{y,z}
// pair consults before being skipped, per the LLVM AMDHSA SGPR set-up order.
const sgprSpillCap = 16

// bindDword appends a dword-sized builtin binding and pushes one Reg.
func bindDword(bindings *[]Binding, regfile *[]Reg, kind BindingKind) {
	*bindings = append(*bindings, Binding{Kind: kind})
	*regfile = append(*regfile, Reg{BindingIdx: len(*bindings) - 1, Dword: 0})
}

// bindQword appends a qword-sized builtin binding and pushes two Regs
// naming its low and high dword.
func bindQword(bindings *[]Binding, regfile *[]Reg, kind BindingKind) {
	*bindings = append(*bindings, Binding{Kind: kind})
	idx := len(*bindings) - 1
	*regfile = append(*regfile, Reg{BindingIdx: idx, Dword: 0}, Reg{BindingIdx: idx, Dword: 1})
}

// New constructs the initial execution state for a kernel, deriving the
// pushed SGPR/VGPR builtin bindings from the header's enable flags, in the
// exact order specified by the AMDHSA SGPR/VGPR register set-up order
// tables.
func New(header *kernelcode.Header) *State {
	var bindings []Binding
	var variables []VariableKind
	var sgprs []Reg

	cp := header.CodeProps
	pp := header.PgmProps

	if cp.EnableSGPRPrivateSegmentBuffer {
		bindings = append(bindings, Binding{Kind: BindPrivateSegmentBuffer})
		idx := len(bindings) - 1
		for i := uint8(0); i < 4; i++ {
			sgprs = append(sgprs, Reg{BindingIdx: idx, Dword: i})
		}
	}
	if cp.EnableSGPRDispatchPtr {
		bindQword(&bindings, &sgprs, BindPtrDispatchPacket)
	}
	if cp.EnableSGPRQueuePtr {
		bindQword(&bindings, &sgprs, BindPtrQueue)
	}
	if cp.EnableSGPRKernargSegmentPtr {
		bindQword(&bindings, &sgprs, BindPtrKernarg)
	}
	if cp.EnableSGPRDispatchId {
		bindQword(&bindings, &sgprs, BindDispatchId)
	}
	if cp.EnableSGPRFlatScratchInit {
		bindQword(&bindings, &sgprs, BindFlatScratchInit)
	}
	if cp.EnableSGPRGridWorkgroupCountX {
		bindDword(&bindings, &sgprs, BindWorkgroupCountX)
	}
	if cp.EnableSGPRGridWorkgroupCountY && len(sgprs) < sgprSpillCap {
		bindDword(&bindings, &sgprs, BindWorkgroupCountY)
	}
	if cp.EnableSGPRGridWorkgroupCountZ && len(sgprs) < sgprSpillCap {
		bindDword(&bindings, &sgprs, BindWorkgroupCountZ)
	}
	if pp.EnableSGPRWorkgroupIdX {
		bindDword(&bindings, &sgprs, BindWorkgroupIdX)
	}
	if pp.EnableSGPRWorkgroupIdY {
		bindDword(&bindings, &sgprs, BindWorkgroupIdY)
	}
	if pp.EnableSGPRWorkgroupIdZ {
		bindDword(&bindings, &sgprs, BindWorkgroupIdZ)
	}
	if pp.EnableSGPRWorkgroupInfo {
		bindDword(&bindings, &sgprs, BindWorkgroupInfo)
	}
	if pp.EnableSGPRPrivateSegmentWavefrontOffset {
		bindDword(&bindings, &sgprs, BindPrivateSegmentWavefrontOffset)
	}

	var vgprs []Reg
	switch pp.EnableVGPRWorkitemId {
	case kernelcode.WorkItemIdX:
		bindings = append(bindings, Binding{Kind: BindWorkitemIdX})
		vgprs = []Reg{{BindingIdx: len(bindings) - 1, Dword: 0}}
	case kernelcode.WorkItemIdXY:
		bindings = append(bindings, Binding{Kind: BindWorkitemIdX}, Binding{Kind: BindWorkitemIdY})
		vgprs = []Reg{
			{BindingIdx: len(bindings) - 2, Dword: 0},
			{BindingIdx: len(bindings) - 1, Dword: 0},
		}
	default: // WorkItemIdXYZ
		bindings = append(bindings, Binding{Kind: BindWorkitemIdX}, Binding{Kind: BindWorkitemIdY}, Binding{Kind: BindWorkitemIdZ})
		vgprs = []Reg{
			{BindingIdx: len(bindings) - 3, Dword: 0},
			{BindingIdx: len(bindings) - 2, Dword: 0},
			{BindingIdx: len(bindings) - 1, Dword: 0},
		}
	}

	return &State{
		SGPRs:     sgprs,
		VGPRs:     vgprs,
		Bindings:  &bindings,
		Variables: &variables,
	}
}
