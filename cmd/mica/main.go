// Mica CLI - runs and inspects compiled Mica code files.
package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/tliron/commonlog"

	"github.com/mica-lang/mica/codefile"
	"github.com/mica-lang/mica/manifest"
	"github.com/mica-lang/mica/store"
	"github.com/mica-lang/mica/vm"

	_ "github.com/tliron/commonlog/simple"
)

var log = commonlog.GetLogger("mica")

func main() {
	verbose := flag.Bool("v", false, "Verbose output")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: mica [options] <command> [args]\n\n")
		fmt.Fprintf(os.Stderr, "Commands:\n")
		fmt.Fprintf(os.Stderr, "  run <file.mcf>     Execute a compiled code file\n")
		fmt.Fprintf(os.Stderr, "  dis <file.mcf>     Disassemble a compiled code file\n")
		fmt.Fprintf(os.Stderr, "  stats <file.mcf>   Execute and report inline-cache statistics\n")
		fmt.Fprintf(os.Stderr, "  hash <file.mcf>    Print the content hash of a code file\n")
		fmt.Fprintf(os.Stderr, "  store <file.mcf>   Save a code file into the configured store\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	verbosity := 0
	if *verbose {
		verbosity = 1
	}
	commonlog.Configure(verbosity, nil)

	args := flag.Args()
	if len(args) < 2 {
		flag.Usage()
		os.Exit(2)
	}
	command, path := args[0], args[1]

	m, err := manifest.FindAndLoad(filepath.Dir(path))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if m == nil {
		m = manifest.Default()
	} else {
		log.Infof("using manifest in %s", m.Dir)
	}

	code, data, err := loadCodeFile(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	log.Infof("loaded %s (%d bytes, %d instructions)", path, len(data), len(code.Instructions))

	switch command {
	case "run":
		runCode(code, m, false)
	case "stats":
		runCode(code, m, true)
	case "dis":
		fmt.Print(vm.Disassemble(code))
	case "hash":
		fmt.Printf("%x\n", codefile.HashBytes(data))
	case "store":
		storeCode(code, data, m)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", command)
		flag.Usage()
		os.Exit(2)
	}
}

func loadCodeFile(path string) (*vm.CodeObject, []byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, err
	}
	code, err := codefile.Unmarshal(data)
	if err != nil {
		return nil, nil, err
	}
	return code, data, nil
}

func runCode(code *vm.CodeObject, m *manifest.Manifest, withStats bool) {
	engine := vm.NewEngine()
	engine.Memory.SetMaxRecursionDepth(m.Runtime.MaxRecursionDepth)
	engine.SetTrustThreshold(m.Cache.TrustThreshold)
	registerBuiltins(engine)

	globals := vm.NewNamespace()
	result, err := engine.RunCode(code, globals, engine.Builtins)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	if withStats {
		stats := vm.CollectCacheStats(code, m.Cache.TrustThreshold)
		fmt.Print(vm.FormatCacheStats(stats))
	}

	// A small-integer result becomes the process exit code.
	if result.Kind() == vm.KindInt {
		n := result.Value().Int
		result.Release()
		if n >= 0 && n < 126 {
			os.Exit(int(n))
		}
		os.Exit(0)
	}
	result.Release()
}

func storeCode(code *vm.CodeObject, data []byte, m *manifest.Manifest) {
	path := m.StorePath()
	if path == "" {
		fmt.Fprintf(os.Stderr, "Error: no store path configured (set [cache] store-path in mica.toml)\n")
		os.Exit(1)
	}
	s, err := store.Open(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer s.Close()

	hash := codefile.HashBytes(data)
	if err := s.Put(hash, code.Name, data); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("%x\n", hash)
	log.Infof("stored %s in %s", code.Name, path)
}

// registerBuiltins installs the host-provided builtin namespace: a print
// function and the type classes with their core methods.
func registerBuiltins(e *vm.Engine) {
	printFn := &vm.BuiltinMethod{
		Name: "print",
		Fn: func(_ *vm.Engine, _ vm.RcValue, args []vm.RcValue) (vm.RcValue, error) {
			for i, a := range args {
				if i > 0 {
					fmt.Print(" ")
				}
				fmt.Print(a.Value().String())
			}
			fmt.Println()
			return vm.None, nil
		},
	}
	e.Builtins.Set("print", vm.NewRcValue(vm.Value{
		Kind:  vm.KindBoundMethod,
		Bound: &vm.BoundMethod{Receiver: vm.None, Method: printFn},
	}))

	strClass := vm.NewClass("String", nil)
	strClass.DefineMethod("len", &vm.BuiltinMethod{
		Name: "len",
		Fn: func(_ *vm.Engine, recv vm.RcValue, _ []vm.RcValue) (vm.RcValue, error) {
			return vm.IntValue(int64(len(recv.Value().Str))), nil
		},
	})
	e.Classes.Register(strClass)

	tupleClass := vm.NewClass("Tuple", nil)
	tupleClass.DefineMethod("len", &vm.BuiltinMethod{
		Name: "len",
		Fn: func(_ *vm.Engine, recv vm.RcValue, _ []vm.RcValue) (vm.RcValue, error) {
			return vm.IntValue(int64(len(recv.Value().Tuple))), nil
		},
	})
	e.Classes.Register(tupleClass)
}
