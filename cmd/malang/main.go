// Command malang loads a persisted bytecode image and runs it. It is a
// thin external-collaborator shim over vm.VM/image, useful for demos and
// integration tests; it does not compile source (no lexer/parser/type
// checker exists in this core — see SPEC_FULL.md's Non-goals).
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/antlover26/malang/config"
	"github.com/antlover26/malang/heap"
	"github.com/antlover26/malang/image"
	"github.com/antlover26/malang/runtime"
	"github.com/antlover26/malang/types"
	"github.com/antlover26/malang/vm"
)

func main() {
	verbose := flag.Bool("v", false, "Verbose output")
	manifestDir := flag.String("project", "", "Directory containing malang.toml (GC tuning only; default: none)")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: malang [options] <image-file>\n\n")
		fmt.Fprintf(os.Stderr, "Loads and runs a persisted Malang bytecode image.\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(2)
	}
	imagePath := flag.Arg(0)

	f, err := os.Open(imagePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "malang: %v\n", err)
		os.Exit(1)
	}
	defer f.Close()

	// Primitive type IDs are assigned by declaration order, not carried by
	// name in the image (§6's bound-function records key natives by
	// signature, not a separate primitive-type manifest) — the roster this
	// binary registers against must declare them in the same fixed order
	// runtime.Register expects. See runtime.Resolver's doc comment.
	pt := runtime.PrimitiveTypes{
		Int:    types.ID(0),
		Bool:   types.ID(1),
		Double: types.ID(2),
		Buffer: types.ID(3),
		String: types.ID(4),
		Object: types.ID(5),
	}

	prog, err := image.Read(f, runtime.Resolver(pt))
	if err != nil {
		fmt.Fprintf(os.Stderr, "malang: loading %s: %v\n", imagePath, err)
		os.Exit(1)
	}

	if *verbose {
		fmt.Fprintf(os.Stderr, "malang: loaded %s (%d bytes of code, entry point %d)\n", imagePath, len(prog.Code), prog.EntryPoint)
	}

	gc := heap.New(prog.Types)

	if *manifestDir != "" {
		m, err := config.Load(*manifestDir)
		if err != nil {
			fmt.Fprintf(os.Stderr, "malang: %v\n", err)
			os.Exit(1)
		}
		if m.HasGCTuning() {
			gc.SetThresholds(m.GC.InitialThreshold, m.GC.MinThreshold, m.GC.GrowthFactor)
			if *verbose {
				fmt.Fprintf(os.Stderr, "malang: applied GC tuning from %s\n", m.Dir)
			}
		}
	}

	v := vm.New(prog, gc)
	if err := v.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "malang: %v\n", err)
		os.Exit(1)
	}

	if *verbose {
		fmt.Fprintf(os.Stderr, "malang: ok\n")
	}
}
