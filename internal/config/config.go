// Package config holds the analyzer's TOML-loadable knobs.
//
// Grounded on the pack's TOML-backed config conventions (BurntSushi/toml),
// this package's knobs themselves have no single teacher file to port —
// they gate behavior already implemented in internal/dataflow (the
// heuristic log toggle, the instruction-count guard, and the
// backward-branch escape hatch).
package config

import (
	"github.com/BurntSushi/toml"

	"github.com/rekidecomp/reki/internal/rekierr"
)

// Options are the knobs that tune how permissive/verbose analysis is.
type Options struct {
	// MaxInstructions bounds how many instructions a single kernel's
	// .text section may contain before analysis refuses to run, guarding
	// against pathological or malformed input. Zero means unbounded.
	MaxInstructions int `toml:"max_instructions"`

	// LogHeuristics logs each time a heuristic transfer function (64-bit
	// add promotion, sign-extension, U16 downcast) fires, for auditing
	// which kernels relied on them.
	LogHeuristics bool `toml:"log_heuristics"`

	// AllowBackwardBranches disables the fatal BackwardUnconditional
	// check, letting instrumentation tooling run the symbolic interpreter
	// over loop-bearing kernels it otherwise rejects. The backward branch
	// itself is treated as a no-op and skipped rather than followed, so
	// the loop body past the join point is analyzed at most once.
	AllowBackwardBranches bool `toml:"allow_backward_branches"`
}

// Default returns the conservative defaults analysis runs with absent an
// explicit config file: no instruction cap, heuristic logging off, and
// backward branches still fatal.
func Default() Options {
	return Options{
		MaxInstructions:       0,
		LogHeuristics:         false,
		AllowBackwardBranches: false,
	}
}

// Load parses a TOML config file at path, starting from Default() so any
// fields the file omits keep their default value.
func Load(path string) (Options, error) {
	opts := Default()
	if _, err := toml.DecodeFile(path, &opts); err != nil {
		return Options{}, rekierr.Wrap(err, rekierr.MetadataParse, "failed to load config from %q", path)
	}
	return opts, nil
}
