// Package kernelcode decodes the 256-byte AMD Kernel Code descriptor: the
// fixed record a gfx9 HSACO prepends to every kernel's machine code, along
// with its two bit-packed flag groups (PGM_RSRC1/2 and code_properties).
//
// Grounded on _examples/original_source/src/kernel_code_object.rs and the
// later src/kernel_meta.rs draft, translating the Rust macro-generated
// bitfield extraction into explicit Go bit-shift code the way
// tetratelabs/wazero's internal/bitpack hand-writes its offset/width
// packing rather than reaching for a bitfield-struct library.
package kernelcode

import (
	"encoding/binary"

	"github.com/rekidecomp/reki/internal/rekierr"
)

// HeaderSize is the fixed size of the AMD Kernel Code descriptor.
const HeaderSize = 256

// FPRoundMode is the AMDGPU floating-point rounding mode enumeration.
// https://llvm.org/docs/AMDGPUUsage.html#amdgpu-amdhsa-floating-point-rounding-mode-enumeration-values-table
type FPRoundMode uint8

const (
	FPRoundNearEven FPRoundMode = iota
	FPRoundPlusInfinity
	FPRoundMinusInfinity
	FPRoundZero
)

func fpRoundModeFrom(v uint8) FPRoundMode {
	switch v {
	case 0:
		return FPRoundNearEven
	case 1:
		return FPRoundPlusInfinity
	case 2:
		return FPRoundMinusInfinity
	default:
		return FPRoundZero
	}
}

// FPDenormMode is the AMDGPU floating-point denormal mode enumeration.
// https://llvm.org/docs/AMDGPUUsage.html#amdgpu-amdhsa-floating-point-denorm-mode-enumeration-values-table
type FPDenormMode uint8

const (
	FPDenormFlushSrcDst FPDenormMode = iota
	FPDenormFlushDst
	FPDenormFlushSrc
	FPDenormFlushNone
)

func fpDenormModeFrom(v uint8) FPDenormMode {
	switch v {
	case 0:
		return FPDenormFlushSrcDst
	case 1:
		return FPDenormFlushDst
	case 2:
		return FPDenormFlushSrc
	default:
		return FPDenormFlushNone
	}
}

// VGPRWorkItemId selects how many dimensions of the work-item ID are
// pre-loaded into VGPRs at kernel entry.
// https://llvm.org/docs/AMDGPUUsage.html#amdgpu-amdhsa-system-vgpr-work-item-id-enumeration-values-table
type VGPRWorkItemId uint8

const (
	WorkItemIdX VGPRWorkItemId = iota
	WorkItemIdXY
	WorkItemIdXYZ
)

func vgprWorkItemIdFrom(v uint8) VGPRWorkItemId {
	switch v {
	case 0:
		return WorkItemIdX
	case 1:
		return WorkItemIdXY
	default:
		return WorkItemIdXYZ
	}
}

// PgmProperties is the bit-packed PGM_RSRC1 (low 32 bits) / PGM_RSRC2 (high
// 32 bits) register pair, compute_pgm_resource_registers in the header.
type PgmProperties struct {
	GranulatedWorkitemVGPRCount uint8
	GranulatedWavefrontSGPRCount uint8
	Priority                     uint8
	FloatRoundMode32             FPRoundMode
	FloatRoundMode1664           FPRoundMode
	FloatDenormMode32            FPDenormMode
	FloatDenormMode1664          FPDenormMode
	IsPriv                       bool
	EnableDX10Clamp              bool
	DebugMode                    bool
	EnableIEEEMode               bool
	Bulky                        bool
	CDbgUser                     bool
	FP16Ovfl                     bool

	EnableSGPRPrivateSegmentWavefrontOffset bool
	UserSGPRCount                           uint8
	EnableTrapHandler                       bool
	EnableSGPRWorkgroupIdX                  bool
	EnableSGPRWorkgroupIdY                  bool
	EnableSGPRWorkgroupIdZ                  bool
	EnableSGPRWorkgroupInfo                 bool
	EnableVGPRWorkitemId                    VGPRWorkItemId
	EnableExceptionAddressWatch             bool
	EnableExceptionMemory                   bool
	GranulatedLDSSize                       uint16

	EnableExceptionIEEE754FPInvalidOperation bool
	EnableExceptionFPDenormalSource          bool
	EnableExceptionIEEE754FPDivisionByZero   bool
	EnableExceptionIEEE754FPOverflow         bool
	EnableExceptionIEEE754FPUnderflow        bool
	EnableExceptionIEEE754FPInexact          bool
	EnableExceptionIntDivideByZero           bool
}

// CodeProperties is the bit-packed code_properties word.
type CodeProperties struct {
	EnableSGPRPrivateSegmentBuffer bool
	EnableSGPRDispatchPtr          bool
	EnableSGPRQueuePtr             bool
	EnableSGPRKernargSegmentPtr    bool
	EnableSGPRDispatchId           bool
	EnableSGPRFlatScratchInit      bool
	EnableSGPRPrivateSegmentSize   bool
	EnableSGPRGridWorkgroupCountX  bool
	EnableSGPRGridWorkgroupCountY  bool
	EnableSGPRGridWorkgroupCountZ  bool
	EnableOrderedAppendGDS         bool
	PrivateElementSize             uint8
	IsPtr64                        bool
	IsDynamicCallstack             bool
	IsDebugSupported               bool
	IsXnackSupported               bool
}

// Header is the decoded AMD Kernel Code descriptor.
type Header struct {
	KernelCodeVersionMajor uint32
	KernelCodeVersionMinor uint32
	MachineKind            uint16
	MachineVersionMajor    uint16
	MachineVersionMinor    uint16
	MachineVersionStepping uint16

	KernelCodeEntryByteOffset    int64
	KernelCodePrefetchByteOffset int64
	KernelCodePrefetchByteSize   uint64

	WorkitemPrivateSegmentByteSize uint32
	WorkgroupGroupSegmentByteSize  uint32
	GDSSegmentByteSize             uint32
	KernargSegmentByteSize         uint64
	WorkgroupFBarrierCount         uint32

	WavefrontSGPRCount uint16
	WorkitemVGPRCount  uint16
	ReservedVGPRFirst  uint16
	ReservedVGPRCount  uint16
	ReservedSGPRFirst  uint16
	ReservedSGPRCount  uint16

	DebugWavefrontPrivateSegmentOffsetSGPR uint16
	DebugPrivateSegmentBufferSGPR          uint16

	KernargSegmentAlignment uint8
	GroupSegmentAlignment   uint8
	PrivateSegmentAlignment uint8
	WavefrontSize           uint8

	CallConvention int32

	RuntimeLoaderKernelSymbol uint64

	PgmProps  PgmProperties
	CodeProps CodeProperties
}

// getBitfield extracts width bits of source starting at bit shift.
func getBitfield(source uint64, shift, width uint) uint64 {
	mask := (uint64(1) << width) - 1
	return (source & (mask << shift)) >> shift
}

func getBitfield32(source uint32, shift, width uint) uint32 {
	mask := (uint32(1) << width) - 1
	return (source & (mask << shift)) >> shift
}

func bitSet64(source uint64, bit uint) bool {
	return getBitfield(source, bit, 1) != 0
}

func bitSet32(source uint32, bit uint) bool {
	return getBitfield32(source, bit, 1) != 0
}

// Decode parses a 256-byte AMD Kernel Code descriptor. Any input whose
// length is not exactly HeaderSize fails with rekierr.MalformedHeader.
func Decode(buf []byte) (*Header, error) {
	if len(buf) != HeaderSize {
		return nil, rekierr.New(rekierr.MalformedHeader,
			"kernel code header must be exactly %d bytes, got %d", HeaderSize, len(buf))
	}

	r := &reader{buf: buf}
	h := &Header{}

	h.KernelCodeVersionMajor = r.u32()
	h.KernelCodeVersionMinor = r.u32()
	h.MachineKind = r.u16()
	h.MachineVersionMajor = r.u16()
	h.MachineVersionMinor = r.u16()
	h.MachineVersionStepping = r.u16()
	h.KernelCodeEntryByteOffset = r.i64()
	h.KernelCodePrefetchByteOffset = r.i64()
	h.KernelCodePrefetchByteSize = r.u64()
	r.skip(8) // reserved

	computePgmResourceRegisters := r.u64()
	codeProperties := r.u32()

	h.WorkitemPrivateSegmentByteSize = r.u32()
	h.WorkgroupGroupSegmentByteSize = r.u32()
	h.GDSSegmentByteSize = r.u32()
	h.KernargSegmentByteSize = r.u64()
	h.WorkgroupFBarrierCount = r.u32()
	h.WavefrontSGPRCount = r.u16()
	h.WorkitemVGPRCount = r.u16()
	h.ReservedVGPRFirst = r.u16()
	h.ReservedVGPRCount = r.u16()
	h.ReservedSGPRFirst = r.u16()
	h.ReservedSGPRCount = r.u16()
	h.DebugWavefrontPrivateSegmentOffsetSGPR = r.u16()
	h.DebugPrivateSegmentBufferSGPR = r.u16()
	h.KernargSegmentAlignment = r.u8()
	h.GroupSegmentAlignment = r.u8()
	h.PrivateSegmentAlignment = r.u8()
	h.WavefrontSize = r.u8()
	h.CallConvention = r.i32()
	r.skip(12) // reserved
	h.RuntimeLoaderKernelSymbol = r.u64()

	if r.err != nil {
		return nil, rekierr.Wrap(r.err, rekierr.MalformedHeader, "reading kernel code header")
	}

	decodePgmProperties(&h.PgmProps, computePgmResourceRegisters)
	decodeCodeProperties(&h.CodeProps, codeProperties)

	return h, nil
}

func decodePgmProperties(p *PgmProperties, regs uint64) {
	p.GranulatedWorkitemVGPRCount = uint8(getBitfield(regs, 0, 6))
	p.GranulatedWavefrontSGPRCount = uint8(getBitfield(regs, 6, 4))
	p.Priority = uint8(getBitfield(regs, 10, 2))
	p.FloatRoundMode32 = fpRoundModeFrom(uint8(getBitfield(regs, 12, 2)))
	p.FloatRoundMode1664 = fpRoundModeFrom(uint8(getBitfield(regs, 14, 2)))
	p.FloatDenormMode32 = fpDenormModeFrom(uint8(getBitfield(regs, 16, 2)))
	p.FloatDenormMode1664 = fpDenormModeFrom(uint8(getBitfield(regs, 18, 2)))
	p.IsPriv = bitSet64(regs, 20)
	p.EnableDX10Clamp = bitSet64(regs, 21)
	p.DebugMode = bitSet64(regs, 22)
	p.EnableIEEEMode = bitSet64(regs, 23)
	p.Bulky = bitSet64(regs, 24)
	p.CDbgUser = bitSet64(regs, 25)
	p.FP16Ovfl = bitSet64(regs, 26)

	p.EnableSGPRPrivateSegmentWavefrontOffset = bitSet64(regs, 32+0)
	p.UserSGPRCount = uint8(getBitfield(regs, 32+1, 5))
	p.EnableTrapHandler = bitSet64(regs, 32+6)
	p.EnableSGPRWorkgroupIdX = bitSet64(regs, 32+7)
	p.EnableSGPRWorkgroupIdY = bitSet64(regs, 32+8)
	p.EnableSGPRWorkgroupIdZ = bitSet64(regs, 32+9)
	p.EnableSGPRWorkgroupInfo = bitSet64(regs, 32+10)
	p.EnableVGPRWorkitemId = vgprWorkItemIdFrom(uint8(getBitfield(regs, 32+11, 2)))
	p.EnableExceptionAddressWatch = bitSet64(regs, 32+13)
	p.EnableExceptionMemory = bitSet64(regs, 32+14)
	p.GranulatedLDSSize = uint16(getBitfield(regs, 32+15, 9))
	p.EnableExceptionIEEE754FPInvalidOperation = bitSet64(regs, 32+24)
	p.EnableExceptionFPDenormalSource = bitSet64(regs, 32+25)
	p.EnableExceptionIEEE754FPDivisionByZero = bitSet64(regs, 32+26)
	p.EnableExceptionIEEE754FPOverflow = bitSet64(regs, 32+27)
	p.EnableExceptionIEEE754FPUnderflow = bitSet64(regs, 32+28)
	p.EnableExceptionIEEE754FPInexact = bitSet64(regs, 32+29)
	p.EnableExceptionIntDivideByZero = bitSet64(regs, 32+30)
}

func decodeCodeProperties(c *CodeProperties, v uint32) {
	c.EnableSGPRPrivateSegmentBuffer = bitSet32(v, 0)
	c.EnableSGPRDispatchPtr = bitSet32(v, 1)
	c.EnableSGPRQueuePtr = bitSet32(v, 2)
	c.EnableSGPRKernargSegmentPtr = bitSet32(v, 3)
	c.EnableSGPRDispatchId = bitSet32(v, 4)
	c.EnableSGPRFlatScratchInit = bitSet32(v, 5)
	c.EnableSGPRPrivateSegmentSize = bitSet32(v, 6)
	c.EnableSGPRGridWorkgroupCountX = bitSet32(v, 7)
	c.EnableSGPRGridWorkgroupCountY = bitSet32(v, 8)
	c.EnableSGPRGridWorkgroupCountZ = bitSet32(v, 9)
	c.EnableOrderedAppendGDS = bitSet32(v, 16)
	c.PrivateElementSize = uint8(getBitfield32(v, 17, 2))
	c.IsPtr64 = bitSet32(v, 19)
	c.IsDynamicCallstack = bitSet32(v, 20)
	c.IsDebugSupported = bitSet32(v, 21)
	c.IsXnackSupported = bitSet32(v, 22)
}

// reader is a tiny little-endian cursor over a fixed byte slice, playing
// the role of Rust's io::Cursor + byteorder::ReadBytesExt<LE> combination
// in the original prototype.
type reader struct {
	buf []byte
	pos int
	err error
}

func (r *reader) take(n int) []byte {
	if r.err != nil || r.pos+n > len(r.buf) {
		if r.err == nil {
			r.err = rekierr.New(rekierr.MalformedHeader, "unexpected end of header at byte %d", r.pos)
		}
		return make([]byte, n)
	}
	b := r.buf[r.pos : r.pos+n]
	r.pos += n
	return b
}

func (r *reader) skip(n int) { r.take(n) }
func (r *reader) u8() uint8  { return r.take(1)[0] }
func (r *reader) u16() uint16 {
	return binary.LittleEndian.Uint16(r.take(2))
}
func (r *reader) u32() uint32 {
	return binary.LittleEndian.Uint32(r.take(4))
}
func (r *reader) u64() uint64 {
	return binary.LittleEndian.Uint64(r.take(8))
}
func (r *reader) i32() int32 { return int32(r.u32()) }
func (r *reader) i64() int64 { return int64(r.u64()) }
