package kernelargs

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func noteFixture(argsBlock string) []byte {
	var b strings.Builder
	b.WriteByte(0) // pre-newline binary note header, discarded
	b.WriteByte('\n')
	b.WriteString("    Name: decompiled\n")
	b.WriteString("    Args:\n")
	b.WriteString(argsBlock)
	b.WriteString("    CodeProps:\n")
	b.WriteString("      Kind: COMPUTE\n")
	return []byte(b.String())
}

func TestExtract_TwoArgsOffsetLayout(t *testing.T) {
	// S2: {Name: a, Size: 8, Align: 8}, {Name: b, Size: 4, Align: 4} -> offsets 0, 8.
	note := noteFixture(strings.Join([]string{
		"      - Name: a\n",
		"        Size: 8\n",
		"        Align: 8\n",
		"      - Name: b\n",
		"        Size: 4\n",
		"        Align: 4\n",
	}, ""))

	args, err := Extract(note)
	require.NoError(t, err)
	require.Equal(t, 2, args.Len())
	require.Equal(t, "a", args.At(0).Name)
	require.Equal(t, uint32(0), args.At(0).Offset)
	require.Equal(t, "b", args.At(1).Name)
	require.Equal(t, uint32(8), args.At(1).Offset)

	idx, dword, ok := args.FindIdxAndDword(0)
	require.True(t, ok)
	require.Equal(t, 0, idx)
	require.Equal(t, uint8(0), dword)

	idx, dword, ok = args.FindIdxAndDword(4)
	require.True(t, ok)
	require.Equal(t, 0, idx)
	require.Equal(t, uint8(2), dword)

	idx, dword, ok = args.FindIdxAndDword(8)
	require.True(t, ok)
	require.Equal(t, 1, idx)
	require.Equal(t, uint8(0), dword)
}

func TestExtract_UnalignedOffsetRoundsUp(t *testing.T) {
	// a: size 4 align 4 -> offset 0, running offset becomes 4.
	// b: size 8 align 8 -> must round 4 up to 8, not stay at 4.
	note := noteFixture(strings.Join([]string{
		"      - Name: a\n",
		"        Size: 4\n",
		"        Align: 4\n",
		"      - Name: b\n",
		"        Size: 8\n",
		"        Align: 8\n",
	}, ""))

	args, err := Extract(note)
	require.NoError(t, err)
	require.Equal(t, uint32(0), args.At(0).Offset)
	require.Equal(t, uint32(8), args.At(1).Offset)
}

func TestExtract_TypeNameAndIsConst(t *testing.T) {
	note := noteFixture(strings.Join([]string{
		"      - Name: buf\n",
		"        Size: 8\n",
		"        Align: 8\n",
		"        TypeName: 'float*'\n",
		"        IsConst:true\n",
	}, ""))

	args, err := Extract(note)
	require.NoError(t, err)
	require.Equal(t, "float*", args.At(0).TypeName)
	require.True(t, args.At(0).IsConst)
}

func TestExtract_FallsBackToValueKind(t *testing.T) {
	note := noteFixture(strings.Join([]string{
		"      - ValueKind: HiddenGlobalOffsetX\n",
		"        Size: 8\n",
		"        Align: 8\n",
	}, ""))

	args, err := Extract(note)
	require.NoError(t, err)
	require.Equal(t, "HiddenGlobalOffsetX", args.At(0).Name)
}

func TestExtract_MissingArgsSectionErrors(t *testing.T) {
	note := []byte("\x00\n    CodeProps:\n      Kind: COMPUTE\n")
	_, err := Extract(note)
	require.Error(t, err)
}
