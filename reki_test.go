package reki

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rekidecomp/reki/internal/kernelcode"
)

// buildHeaderBytes constructs a 256-byte AMD Kernel Code header enabling
// only the kernarg-segment-pointer SGPR, matching kernelcode's byte layout.
func buildHeaderBytes(t *testing.T) []byte {
	t.Helper()
	buf := make([]byte, kernelcode.HeaderSize)
	le := binary.LittleEndian
	le.PutUint32(buf[0:4], 1) // kernel_code_version_major
	le.PutUint32(buf[4:8], 1) // kernel_code_version_minor

	var codeProps uint32
	codeProps |= 1 << 3 // enable_sgpr_kernarg_segment_ptr
	le.PutUint32(buf[56:60], codeProps)
	le.PutUint64(buf[72:80], 16) // kernarg_segment_byte_size
	return buf
}

func TestDecompile_SLoadDwordx2KernelRendersNamedArgumentSignature(t *testing.T) {
	header := buildHeaderBytes(t)

	note := []byte("\n    Args:\n" +
		"      - Name:n\n" +
		"        Size:8\n" +
		"        Align:8\n" +
		"        TypeName:'long'\n" +
		"    CodeProps:\n")

	instructions := []string{
		"s_load_dwordx2 s[4:5], s[0:1], 0x0",
		"s_endpgm",
	}

	k, err := Decompile(header, note, instructions, nil)
	require.NoError(t, err)
	require.Equal(t, 1, k.Args.Len())
	require.Equal(t, "n", k.Args.At(0).Name)
	require.Len(t, k.Statements, 0) // no var assignment: s4/s5 are never joined at a branch

	out := RenderC("decompiled", k)
	require.Contains(t, out, "__kernel void decompiled(long n) {")
}

func TestDecompile_RejectsMalformedHeader(t *testing.T) {
	_, err := Decompile(make([]byte, 10), nil, nil, nil)
	require.Error(t, err)
}
