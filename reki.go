// Package reki is the public facade over the gfx9 decompiler pipeline:
// kernel-code-header decode, kernel-argument metadata extraction, control-
// flow discovery, symbolic execution, expression-tree lowering, and
// C-ish rendering.
//
// Grounded on _examples/original_source/src/main.rs's driver, generalized
// from a one-shot CLI script into a reusable library entry point the way
// wazero's root package wraps its internal/... subpackages behind a small
// facade (see wazero.go's NewRuntime/Compile surface).
package reki

import (
	"github.com/rekidecomp/reki/internal/asm"
	"github.com/rekidecomp/reki/internal/config"
	"github.com/rekidecomp/reki/internal/controlflow"
	"github.com/rekidecomp/reki/internal/dataflow"
	"github.com/rekidecomp/reki/internal/execstate"
	"github.com/rekidecomp/reki/internal/exprtree"
	"github.com/rekidecomp/reki/internal/kernelargs"
	"github.com/rekidecomp/reki/internal/kernelcode"
	"github.com/rekidecomp/reki/internal/render"
)

// Kernel is a single analyzed kernel: its decoded header, its named
// arguments, and the lowered statement stream ready for rendering.
type Kernel struct {
	Header     *kernelcode.Header
	Args       *kernelargs.KernelArgs
	Statements []exprtree.ProgramStatement

	// State is the final symbolic machine state, retained so callers can
	// inspect the binding/variable arenas a render pass doesn't surface.
	State *execstate.State
}

// Decompile runs the full pipeline over one kernel's raw 256-byte AMD
// Kernel Code header, its ELF .note section bytes, and its plain-text
// instruction listing (one GCN instruction per line), producing a Kernel
// ready to render. opts is nil-safe.
func Decompile(headerBytes, noteBytes []byte, instructionLines []string, opts *config.Options) (*Kernel, error) {
	header, err := kernelcode.Decode(headerBytes)
	if err != nil {
		return nil, err
	}

	args, err := kernelargs.Extract(noteBytes)
	if err != nil {
		return nil, err
	}

	instrs := make([]asm.Instruction, 0, len(instructionLines))
	for _, line := range instructionLines {
		if line == "" {
			continue
		}
		instr, err := asm.ParseInstructionLine(line)
		if err != nil {
			return nil, err
		}
		instrs = append(instrs, instr)
	}

	cfMap, err := controlflow.BuildMap(instrs)
	if err != nil {
		return nil, err
	}

	st := execstate.New(header)
	program, err := dataflow.Analyze(st, instrs, cfMap, opts)
	if err != nil {
		return nil, err
	}

	stmts, err := exprtree.Build(args, *st.Bindings, program)
	if err != nil {
		return nil, err
	}

	return &Kernel{Header: header, Args: args, Statements: stmts, State: st}, nil
}

// RenderC renders k's statement stream as C-ish kernel source, named name.
func RenderC(name string, k *Kernel) string {
	return render.Kernel(name, k.Args, k.Statements)
}
