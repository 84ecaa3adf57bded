// Package asm models disassembled GCN instructions and their operands.
//
// Grounded on _examples/original_source/src/assembly.rs's Operand::from<&str>
// lexer, generalized per spec.md's §6.2 grammar (adding the Offset operand
// the prototype's assembly.rs draft does not parse for, but which
// data_flow/ops.rs's eval_global_load relies on).
package asm

import (
	"strconv"
	"strings"

	"github.com/rekidecomp/reki/internal/rekierr"
)

// Operand is the tagged union of operand shapes a GCN disassembly listing
// produces after the `<mnemonic> ` prefix is split off.
type Operand struct {
	kind operandKind
	reg  int
	lo   int
	hi   int
	lit  uint32
	off  int32
	text string
}

type operandKind int

const (
	KindSReg operandKind = iota
	KindVReg
	KindSRegs
	KindVRegs
	KindLit
	KindVCC
	KindOffset
	KindKeyseq
)

func (o Operand) Kind() operandKind { return o.kind }
func (o Operand) Reg() int          { return o.reg }
func (o Operand) Lo() int           { return o.lo }
func (o Operand) Hi() int           { return o.hi }
func (o Operand) Lit() uint32       { return o.lit }
func (o Operand) OffsetValue() int32 { return o.off }
func (o Operand) Text() string      { return o.text }

func SReg(n int) Operand           { return Operand{kind: KindSReg, reg: n} }
func VReg(n int) Operand           { return Operand{kind: KindVReg, reg: n} }
func SRegs(lo, hi int) Operand     { return Operand{kind: KindSRegs, lo: lo, hi: hi} }
func VRegs(lo, hi int) Operand     { return Operand{kind: KindVRegs, lo: lo, hi: hi} }
func Lit(v uint32) Operand         { return Operand{kind: KindLit, lit: v} }
func VCC() Operand                 { return Operand{kind: KindVCC} }
func OffsetOperand(v int32) Operand { return Operand{kind: KindOffset, off: v} }
func Keyseq(s string) Operand      { return Operand{kind: KindKeyseq, text: s} }

// ParseOperand lexes one comma-split operand token per spec.md's §6.2
// grammar, the generalization of assembly.rs's Operand::from.
func ParseOperand(s string) (Operand, error) {
	if s == "vcc" {
		return VCC(), nil
	}

	if strings.HasPrefix(s, "offset:") {
		v, err := strconv.ParseInt(s[len("offset:"):], 10, 32)
		if err != nil {
			return Operand{}, rekierr.Wrap(err, rekierr.UnknownBranchOperand, "malformed offset operand %q", s)
		}
		return OffsetOperand(int32(v)), nil
	}

	if len(s) > 2 && s[0:2] == "0x" {
		v, err := strconv.ParseUint(s[2:], 16, 32)
		if err != nil {
			return Operand{}, rekierr.Wrap(err, rekierr.UnknownBranchOperand, "malformed hex literal %q", s)
		}
		return Lit(uint32(v)), nil
	}

	prefix := rune(s[0])

	if prefix >= '0' && prefix <= '9' {
		v, err := strconv.ParseUint(s, 10, 32)
		if err != nil {
			return Operand{}, rekierr.Wrap(err, rekierr.UnknownBranchOperand, "malformed decimal literal %q", s)
		}
		return Lit(uint32(v)), nil
	}

	if prefix != 's' && prefix != 'v' {
		return Keyseq(s), nil
	}

	if n, err := strconv.Atoi(s[1:]); err == nil {
		if prefix == 's' {
			return SReg(n), nil
		}
		return VReg(n), nil
	}

	// Register range: s[lo:hi] / v[lo:hi].
	if len(s) < 4 || s[1] != '[' || s[len(s)-1] != ']' {
		return Keyseq(s), nil
	}
	sides := strings.SplitN(s[2:len(s)-1], ":", 2)
	if len(sides) != 2 {
		return Keyseq(s), nil
	}
	lo, errLo := strconv.Atoi(sides[0])
	hi, errHi := strconv.Atoi(sides[1])
	if errLo != nil || errHi != nil {
		return Keyseq(s), nil
	}
	if prefix == 's' {
		return SRegs(lo, hi), nil
	}
	return VRegs(lo, hi), nil
}

// Instruction is one decoded line of disassembly: a mnemonic plus its
// comma-separated operand list.
type Instruction struct {
	Mnemonic string
	Operands []Operand
}

// ParseInstructionLine splits one plain-text disassembly line (mnemonic
// followed by a space then comma-space-separated operands) into an
// Instruction, mirroring assembly.rs's parse_instruction.
func ParseInstructionLine(line string) (Instruction, error) {
	parts := strings.SplitN(strings.TrimSpace(line), " ", 2)
	mnemonic := parts[0]
	if len(parts) == 1 {
		return Instruction{Mnemonic: mnemonic}, nil
	}

	rawOperands := strings.Split(parts[1], ", ")
	operands := make([]Operand, 0, len(rawOperands))
	for _, raw := range rawOperands {
		op, err := ParseOperand(strings.TrimSpace(raw))
		if err != nil {
			return Instruction{}, err
		}
		operands = append(operands, op)
	}
	return Instruction{Mnemonic: mnemonic, Operands: operands}, nil
}
