// Command lvm loads a module file and runs it to completion, mirroring
// original_source/main.cpp's CLI surface: a module path, a stack size, and
// wall-clock init/execution timing on exit.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/BurntSushi/toml"

	"lvm/internal/module"
	"lvm/internal/module/trace"
	"lvm/internal/vm"
	"lvm/internal/vmlog"
)

// fileConfig is the optional TOML layer loaded via --config before flags
// override it, the same layering chazu-maggie's manifest.Load applies to
// maggie.toml.
type fileConfig struct {
	StackSize uint64 `toml:"stack-size"`
	TraceLog  string `toml:"trace-log"`
	CborTrace string `toml:"cbor-trace"`
}

func loadFileConfig(path string) (fileConfig, error) {
	var cfg fileConfig
	if path == "" {
		return cfg, nil
	}
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, fmt.Errorf("parse error in %s: %w", path, err)
	}
	return cfg, nil
}

func main() {
	configPath := flag.String("config", "", "path to a TOML file supplying defaults for --stack-size/--trace-log/--cbor-trace")
	stackSize := flag.Uint64("stack-size", 1<<20, "bytes reserved for each thread's stack")
	traceLog := flag.String("trace-log", "", "if set, write a per-instruction text trace to this file")
	cborTrace := flag.String("cbor-trace", "", "if set, write a per-instruction CBOR trace stream to this file")
	flag.Parse()

	fileCfg, err := loadFileConfig(*configPath)
	if err != nil {
		log.Fatalf("lvm: %v", err)
	}
	if !isFlagSet("stack-size") && fileCfg.StackSize != 0 {
		*stackSize = fileCfg.StackSize
	}
	if !isFlagSet("trace-log") && fileCfg.TraceLog != "" {
		*traceLog = fileCfg.TraceLog
	}
	if !isFlagSet("cbor-trace") && fileCfg.CborTrace != "" {
		*cborTrace = fileCfg.CborTrace
	}

	if flag.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: lvm [flags] <module-file>")
		flag.PrintDefaults()
		os.Exit(2)
	}
	modPath := flag.Arg(0)

	if *traceLog != "" {
		if err := vmlog.InitFileLogger(*traceLog); err != nil {
			log.Fatalf("lvm: cannot open trace log: %v", err)
		}
	}

	f, err := os.Open(modPath)
	if err != nil {
		log.Fatalf("lvm: %v", err)
	}
	mod, err := module.Decode(f)
	closeErr := f.Close()
	if err != nil {
		log.Fatalf("lvm: cannot decode module: %v", err)
	}
	if closeErr != nil {
		log.Fatalf("lvm: %v", closeErr)
	}

	machine := vm.New(*stackSize)
	if *cborTrace != "" {
		tf, err := os.Create(*cborTrace)
		if err != nil {
			log.Fatalf("lvm: cannot open cbor trace: %v", err)
		}
		defer tf.Close()
		machine.Trace = trace.NewRecorder(tf)
	}

	initStart := time.Now()
	if err := machine.Init(mod); err != nil {
		log.Fatalf("lvm: init failed: %v", err)
	}
	initElapsed := time.Since(initStart)

	log.Printf("session %s: init in %s", machine.SessionID(), initElapsed)

	runStart := time.Now()
	runErr := machine.Run(mod.EntryPoint)
	runElapsed := time.Since(runStart)

	log.Printf("session %s: execution in %s (total %s)", machine.SessionID(), runElapsed, initElapsed+runElapsed)

	if runErr != nil {
		log.Fatalf("lvm: %v", runErr)
	}
}

// isFlagSet reports whether name was explicitly passed on the command line,
// so a --config default only applies where the user left a flag untouched.
func isFlagSet(name string) bool {
	found := false
	flag.Visit(func(f *flag.Flag) {
		if f.Name == name {
			found = true
		}
	})
	return found
}
