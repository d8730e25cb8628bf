// pyadapt CLI - run programs on the adaptive specializing dispatcher.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/tliron/commonlog"

	_ "github.com/tliron/commonlog/simple"

	"github.com/donBarbos/cpython/server"
	"github.com/donBarbos/cpython/tuning"
	"github.com/donBarbos/cpython/vm"
	"github.com/donBarbos/cpython/vm/image"
)

var log = commonlog.GetLogger("pyadapt")

func main() {
	verbose := flag.Bool("v", false, "Verbose output")
	noSpec := flag.Bool("no-spec", false, "Disable adaptive specialization (base semantics only)")
	runs := flag.Int("runs", 20, "Number of times to execute the program")
	loops := flag.Int64("n", 100, "Demo loop iteration count")
	showStats := flag.Bool("stats", false, "Print specialization statistics after the runs")
	disasm := flag.Bool("disasm", false, "Disassemble the program before and after the runs")
	configDir := flag.String("config", ".", "Directory to search for pyadapt.toml")
	traceDB := flag.String("trace-db", "", "SQLite file for specialization event traces (overrides pyadapt.toml)")
	loadImage := flag.String("image", "", "Run code objects from a CBOR image instead of the demo")
	saveImage := flag.String("save-image", "", "Write the program to a CBOR image and exit")
	serveMode := flag.Bool("serve", false, "Start the stats service (Connect, CBOR codec)")
	servePort := flag.Int("port", 4568, "Stats service port (used with --serve)")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: pyadapt [options]\n\n")
		fmt.Fprintf(os.Stderr, "Runs the built-in demo program (or a CBOR image) on the adaptive dispatcher.\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  pyadapt -stats -runs 50        # Run the demo, print counter totals\n")
		fmt.Fprintf(os.Stderr, "  pyadapt -no-spec -stats        # Base-only run for comparison\n")
		fmt.Fprintf(os.Stderr, "  pyadapt -save-image demo.pyi   # Persist the demo program\n")
		fmt.Fprintf(os.Stderr, "  pyadapt -image demo.pyi -stats # Run a persisted program\n")
		fmt.Fprintf(os.Stderr, "  pyadapt -serve -port 8080      # Serve counters while running\n")
	}
	flag.Parse()

	commonlog.Configure(boolToVerbosity(*verbose), nil)

	cfg, err := tuning.FindAndLoad(*configDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading configuration: %v\n", err)
		os.Exit(1)
	}

	reg, err := vm.NewDefaultRegistry()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error building registry: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Apply(reg); err != nil {
		fmt.Fprintf(os.Stderr, "Error applying tuning: %v\n", err)
		os.Exit(1)
	}
	reg.Finalize()

	var opts []vm.InterpOption
	if *noSpec || cfg.Dispatch.Disabled {
		opts = append(opts, vm.WithSpecializationDisabled())
		log.Info("adaptive specialization disabled")
	}
	in, err := vm.NewInterp(reg, vm.NewHeap(), vm.NewGlobalTable(), opts...)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error creating interpreter: %v\n", err)
		os.Exit(1)
	}

	var codes []*vm.Code
	if *loadImage != "" {
		data, err := os.ReadFile(*loadImage)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error reading image: %v\n", err)
			os.Exit(1)
		}
		name, loaded, err := image.Unmarshal(data, reg, in.Heap)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error loading image: %v\n", err)
			os.Exit(1)
		}
		if *verbose {
			fmt.Printf("Loaded image %q (%d code objects, %d bytes)\n", name, len(loaded), len(data))
		}
		codes = loaded
	} else {
		demo := buildDemo()
		if *saveImage != "" {
			data, err := image.Marshal(in.Heap, "demo", demo)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error encoding image: %v\n", err)
				os.Exit(1)
			}
			if err := os.WriteFile(*saveImage, data, 0o644); err != nil {
				fmt.Fprintf(os.Stderr, "Error writing image: %v\n", err)
				os.Exit(1)
			}
			fmt.Printf("Wrote %s (%d bytes)\n", *saveImage, len(data))
			return
		}
		if err := demo.Quicken(reg); err != nil {
			fmt.Fprintf(os.Stderr, "Error quickening demo: %v\n", err)
			os.Exit(1)
		}
		codes = []*vm.Code{demo}
	}
	seedDemoGlobals(in, *loops)

	sink := openSink(cfg, reg, *traceDB)
	if sink != nil {
		defer sink.Close()
		if *verbose {
			fmt.Printf("Tracing specialization events (run %s)\n", sink.RunID())
		}
	}

	if *serveMode {
		go runProgram(in, codes, *runs, *disasm, sink)
		addr := fmt.Sprintf(":%d", *servePort)
		if err := server.New(reg).ListenAndServe(addr); err != nil {
			fmt.Fprintf(os.Stderr, "Stats service error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	runProgram(in, codes, *runs, *disasm, sink)
	if *showStats {
		printStats(reg)
	}
}

// runProgram executes every code object runs times.
func runProgram(in *vm.Interp, codes []*vm.Code, runs int, disasm bool, sink *tuning.Sink) {
	if disasm {
		for _, c := range codes {
			fmt.Println(vm.Disassemble(c))
			fmt.Println()
		}
	}
	start := time.Now()
	var last vm.Value
	for r := 0; r < runs; r++ {
		for _, c := range codes {
			v, err := in.Run(c)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			last = v
		}
		if sink != nil {
			if err := sink.Flush(context.Background()); err != nil {
				log.Errorf("trace flush: %s", err.Error())
			}
		}
	}
	fmt.Printf("Result: %s (%d runs in %s)\n", in.Heap.FormatValue(last), runs, time.Since(start).Round(time.Microsecond))
	if disasm {
		fmt.Println()
		for _, c := range codes {
			fmt.Println(vm.Disassemble(c))
		}
	}
}

// openSink opens the trace sink if a database is configured.
func openSink(cfg *tuning.Config, reg *vm.Registry, override string) *tuning.Sink {
	path := override
	if path == "" && cfg.Trace.Database != "" {
		path = cfg.Trace.Database
		if cfg.Dir != "" && !filepath.IsAbs(path) {
			path = filepath.Join(cfg.Dir, path)
		}
	}
	if path == "" {
		return nil
	}
	sink, err := tuning.NewSink(path, reg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: trace sink unavailable: %v\n", err)
		return nil
	}
	return sink
}

// printStats renders the per-family counter totals.
func printStats(reg *vm.Registry) {
	totals := vm.FamilyTotals(reg, reg.Stats().Snapshot())
	names := make([]string, 0, len(totals))
	for name := range totals {
		names = append(names, name)
	}
	sort.Strings(names)

	fmt.Printf("\n%-14s %10s %10s %10s %10s\n", "family", "hits", "misses", "deferred", "attempted")
	for _, name := range names {
		t := totals[name]
		fmt.Printf("%-14s %10d %10d %10d %10d\n", name,
			t[vm.EventHit], t[vm.EventMiss], t[vm.EventDeferred], t[vm.EventAttempt])
	}
}

func boolToVerbosity(verbose bool) int {
	if verbose {
		return 1
	}
	return 0
}
