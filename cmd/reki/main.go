// Command reki is a demo CLI: it splits the .text/.note sections out of a
// real HSACO ELF file via the standard library's debug/elf, reads a
// plain-text GCN disassembly listing (the format llvm-objdump -d
// --mcpu=gfx900 produces) from a second file, runs the decompiler pipeline,
// and prints the rendered C-ish kernel source.
//
// Grounded on _examples/original_source/src/main.rs's driver shape, with
// the ELF/disassembly-listing collaborators this repo's core deliberately
// does not own (see DESIGN.md).
package main

import (
	"bufio"
	"debug/elf"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/rekidecomp/reki"
	"github.com/rekidecomp/reki/internal/config"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		logrus.WithError(err).Fatal("reki failed")
	}
}

func newRootCmd() *cobra.Command {
	var (
		configPath  string
		kernelName  string
		headerBytes int
	)

	cmd := &cobra.Command{
		Use:   "reki <compiled.hsaco> <disassembly.txt>",
		Short: "Decompile a gfx9 GCN kernel back to typed, structured C-ish source",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := config.Default()
			if configPath != "" {
				loaded, err := config.Load(configPath)
				if err != nil {
					return err
				}
				opts = loaded
			}

			header, note, err := readHSACOSections(args[0], headerBytes)
			if err != nil {
				return err
			}
			lines, err := readLines(args[1])
			if err != nil {
				return err
			}

			k, err := reki.Decompile(header, note, lines, &opts)
			if err != nil {
				return err
			}
			fmt.Println(reki.RenderC(kernelName, k))
			return nil
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "", "path to a TOML analyzer config file")
	cmd.Flags().StringVar(&kernelName, "kernel-name", "decompiled", "name to give the rendered kernel function")
	cmd.Flags().IntVar(&headerBytes, "header-size", 256, "byte length of the AMD Kernel Code header at the start of .text")

	return cmd
}

// readHSACOSections opens an ELF file and returns the AMD Kernel Code
// header (the first headerSize bytes of .text) and the raw bytes of
// .note, the two sections the decompiler's core needs.
func readHSACOSections(path string, headerSize int) (header, note []byte, err error) {
	f, err := elf.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("opening HSACO ELF file %q: %w", path, err)
	}
	defer f.Close()

	text := f.Section(".text")
	if text == nil {
		return nil, nil, fmt.Errorf("HSACO file %q has no .text section", path)
	}
	textBytes, err := text.Data()
	if err != nil {
		return nil, nil, fmt.Errorf("reading .text section of %q: %w", path, err)
	}
	if len(textBytes) < headerSize {
		return nil, nil, fmt.Errorf(".text section of %q is shorter than the %d-byte kernel code header", path, headerSize)
	}

	noteSection := f.Section(".note")
	if noteSection == nil {
		return nil, nil, fmt.Errorf("HSACO file %q has no .note section", path)
	}
	noteBytes, err := noteSection.Data()
	if err != nil {
		return nil, nil, fmt.Errorf("reading .note section of %q: %w", path, err)
	}

	return textBytes[:headerSize], noteBytes, nil
}

func readLines(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening disassembly listing %q: %w", path, err)
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading disassembly listing %q: %w", path, err)
	}
	return lines, nil
}
