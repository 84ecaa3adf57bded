// Package kernelargs parses the textual, YAML-like kernel-argument metadata
// carried in a gfx9 HSACO's .note section and computes each argument's byte
// offset within the kernarg segment.
//
// Grounded on _examples/original_source/src/asm/kernel_args.rs, the
// authoritative later draft (superseding the simpler src/kernel_meta.rs).
package kernelargs

import (
	"bytes"
	"strconv"
	"strings"

	"github.com/rekidecomp/reki/internal/rekierr"
)

// KernelArg is one parsed kernel-argument descriptor.
type KernelArg struct {
	Name     string
	Size     uint32
	Offset   uint32
	TypeName string // empty if absent
	IsConst  bool
}

// KernelArgs is the ordered list of a kernel's arguments, in kernarg-segment
// layout order.
type KernelArgs struct {
	args []KernelArg
}

// Len returns the number of arguments.
func (ka *KernelArgs) Len() int { return len(ka.args) }

// At returns the argument at index i.
func (ka *KernelArgs) At(i int) KernelArg { return ka.args[i] }

// All returns the arguments in layout order.
func (ka *KernelArgs) All() []KernelArg {
	out := make([]KernelArg, len(ka.args))
	copy(out, ka.args)
	return out
}

// FindIdxAndDword finds the argument whose span contains atOffset: the
// argument with the largest Offset that is still <= atOffset. The dword
// index within that argument is (atOffset - arg.Offset) / 2, matching the
// original's arithmetic over the argument's own byte offset (not its
// position in the list — the Rust source subtracts the list index here,
// which produces wrong results for any argument after the first; this
// implementation uses the argument's offset field instead).
func (ka *KernelArgs) FindIdxAndDword(atOffset uint32) (idx int, dword uint8, ok bool) {
	found := -1
	for i, a := range ka.args {
		if a.Offset <= atOffset {
			found = i
		}
	}
	if found < 0 {
		return 0, 0, false
	}
	a := ka.args[found]
	return found, uint8((atOffset - a.Offset) / 2), true
}

// rawArg is the unparsed "      - " group of lines for one argument.
type rawArg struct {
	fields []string // each of the form "Key:value", whitespace stripped
}

// Extract parses a .note section's bytes into a KernelArgs list.
//
// The note format: binary bytes up to the first newline (a fixed ELF note
// header the original skips over), then a text block with NUL padding
// stripped, containing a "    Args:" section of "      - " prefixed groups
// terminated by a "    CodeProps:" line.
func Extract(sectionNote []byte) (*KernelArgs, error) {
	nl := bytes.IndexByte(sectionNote, '\n')
	var body []byte
	if nl < 0 {
		body = sectionNote
	} else {
		body = sectionNote[nl+1:]
	}
	body = bytes.ReplaceAll(body, []byte{0}, nil)

	text := string(body)
	lines := strings.Split(text, "\n")

	start := -1
	for i, l := range lines {
		if strings.HasPrefix(l, "    Args:") {
			start = i + 1
			break
		}
	}
	if start < 0 {
		return nil, rekierr.New(rekierr.MetadataParse, "no 'Args:' section found in kernel-args metadata")
	}

	var rawArgs []rawArg
	for _, l := range lines[start:] {
		if strings.HasPrefix(l, "    CodeProps:") {
			break
		}
		if strings.HasPrefix(l, "      - ") {
			rawArgs = append(rawArgs, rawArg{fields: []string{stripSpaces(l[8:])}})
		} else if len(rawArgs) > 0 {
			last := &rawArgs[len(rawArgs)-1]
			last.fields = append(last.fields, stripSpaces(l))
		}
	}

	var offset uint32
	args := make([]KernelArg, 0, len(rawArgs))
	for _, ra := range rawArgs {
		arg, err := parseArg(ra, &offset)
		if err != nil {
			return nil, err
		}
		args = append(args, arg)
	}

	return &KernelArgs{args: args}, nil
}

func stripSpaces(s string) string {
	return strings.ReplaceAll(s, " ", "")
}

func findField(fields []string, prefix string) (string, bool) {
	for _, f := range fields {
		if strings.HasPrefix(f, prefix) {
			return f[len(prefix):], true
		}
	}
	return "", false
}

func parseArg(ra rawArg, runningOffset *uint32) (KernelArg, error) {
	name, ok := findField(ra.fields, "Name:")
	if !ok {
		name, ok = findField(ra.fields, "ValueKind:")
		if !ok {
			return KernelArg{}, rekierr.New(rekierr.MetadataParse, "kernel arg has neither Name nor ValueKind: %v", ra.fields)
		}
	}

	sizeStr, ok := findField(ra.fields, "Size:")
	if !ok {
		return KernelArg{}, rekierr.New(rekierr.MetadataParse, "kernel arg %q missing Size", name)
	}
	size, err := strconv.ParseUint(sizeStr, 10, 32)
	if err != nil {
		return KernelArg{}, rekierr.Wrap(err, rekierr.MetadataParse, "kernel arg %q has malformed Size %q", name, sizeStr)
	}

	alignStr, ok := findField(ra.fields, "Align:")
	if !ok {
		return KernelArg{}, rekierr.New(rekierr.MetadataParse, "kernel arg %q missing Align", name)
	}
	align, err := strconv.ParseUint(alignStr, 10, 32)
	if err != nil {
		return KernelArg{}, rekierr.Wrap(err, rekierr.MetadataParse, "kernel arg %q has malformed Align %q", name, alignStr)
	}

	typeName, _ := findField(ra.fields, "TypeName:")
	typeName = strings.ReplaceAll(typeName, "'", "")

	isConst := false
	for _, f := range ra.fields {
		if f == "IsConst:true" {
			isConst = true
			break
		}
	}

	// Corrected layout invariant: offset = ceil(running_offset, align).
	// The original uses `offset += offset % align; offset += size`, which
	// adds the remainder rather than the distance to the next multiple, so
	// it misaligns whenever the remainder is neither zero nor half of
	// align (running offset 2 with align 8 gives 4). This implementation
	// uses proper ceiling alignment, matching the corrected P2 invariant.
	aligned := alignUp(*runningOffset, uint32(align))
	arg := KernelArg{
		Name:     name,
		Size:     uint32(size),
		Offset:   aligned,
		TypeName: typeName,
		IsConst:  isConst,
	}
	*runningOffset = aligned + uint32(size)
	return arg, nil
}

func alignUp(offset, align uint32) uint32 {
	if align == 0 {
		return offset
	}
	rem := offset % align
	if rem == 0 {
		return offset
	}
	return offset + (align - rem)
}
