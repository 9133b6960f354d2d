package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/stbcvm/stbcvm/bytecode"
	"github.com/stbcvm/stbcvm/config"
	"github.com/stbcvm/stbcvm/debugger"
	"github.com/stbcvm/stbcvm/monitor"
	"github.com/stbcvm/stbcvm/msync"
	"github.com/stbcvm/stbcvm/vm"
)

// Version information - can be overridden at build time with:
// go build -ldflags "-X main.Version=v1.2.3"
var (
	Version = "dev"     // Version number (set by git tag at build time)
	Commit  = "unknown" // Git commit hash
	Date    = "unknown" // Build date
)

// valueApproxBytes is the approximate in-memory footprint of one vm.Value,
// used only for the --stats memory-usage estimate; it is not a wire or
// storage contract.
const valueApproxBytes = 40

func main() {
	var (
		showVersion   = flag.Bool("version", false, "Show version information")
		showVersionV  = flag.Bool("V", false, "Show version information")
		showHelp      = flag.Bool("help", false, "Show help information")
		showHelpH     = flag.Bool("h", false, "Show help information")
		verboseMode   = flag.Bool("verbose", false, "Emit progress lines to standard output")
		verboseModeV  = flag.Bool("v", false, "Emit progress lines to standard output")
		debugMode     = flag.Bool("debug", false, "Enable debug state (breakpoints, single-step API)")
		debugModeD    = flag.Bool("d", false, "Enable debug state (breakpoints, single-step API)")
		tuiMode       = flag.Bool("tui", false, "Use the full-screen TUI debugger instead of the line-oriented REPL")
		statsMode     = flag.Bool("stats", false, "On exit, print statistics, memory usage, and sync status")
		statsModeS    = flag.Bool("s", false, "On exit, print statistics, memory usage, and sync status")
		timeoutSecs   = flag.Float64("timeout", 0, "Total execution-time budget in seconds (0 disables the watchdog)")
		timeoutSecsT  = flag.Float64("t", 0, "Total execution-time budget in seconds (0 disables the watchdog)")
		syncPrimary   = flag.String("sync-primary", "", "Run as primary, bound to this local IP")
		syncPrimaryP  = flag.String("P", "", "Run as primary, bound to this local IP")
		syncSecondary = flag.String("sync-secondary", "", "Run as secondary, bound to this local IP")
		syncSecondaryS = flag.String("S", "", "Run as secondary, bound to this local IP")
		syncPort      = flag.Int("port", 0, "Sync port (default 8888, or the config file's [sync].port)")
		syncPortP     = flag.Int("p", 0, "Sync port (default 8888, or the config file's [sync].port)")
		monitorAddr   = flag.String("monitor", "", "Start the read-only HTTP/WebSocket status monitor on this address")
		configPath    = flag.String("config", "", "Path to a TOML configuration file (default: platform config dir)")
	)
	flag.Usage = printHelp
	flag.Parse()

	if *showVersionV {
		*showVersion = true
	}
	if *showHelpH {
		*showHelp = true
	}
	if *verboseModeV {
		*verboseMode = true
	}
	if *debugModeD {
		*debugMode = true
	}
	if *statsModeS {
		*statsMode = true
	}
	if *timeoutSecsT != 0 {
		*timeoutSecs = *timeoutSecsT
	}
	if *syncPrimaryP != "" {
		*syncPrimary = *syncPrimaryP
	}
	if *syncSecondaryS != "" {
		*syncSecondary = *syncSecondaryS
	}
	if *syncPortP != 0 {
		*syncPort = *syncPortP
	}

	if *showVersion {
		fmt.Printf("stbcvm %s\n", Version)
		if Commit != "unknown" {
			fmt.Printf("Commit: %s\n", Commit)
		}
		if Date != "unknown" {
			fmt.Printf("Built: %s\n", Date)
		}
		os.Exit(0)
	}

	if *showHelp || flag.NArg() == 0 {
		printHelp()
		os.Exit(0)
	}

	bcPath := flag.Arg(0)

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	if *syncPrimary != "" {
		cfg.Sync.Role = "primary"
		cfg.Sync.LocalAddr = *syncPrimary
	} else if *syncSecondary != "" {
		cfg.Sync.Role = "secondary"
		cfg.Sync.LocalAddr = *syncSecondary
	}
	if *syncPort > 0 {
		cfg.Sync.Port = *syncPort
	}

	if *verboseMode {
		fmt.Printf("Loading bytecode file: %s\n", bcPath)
	}

	bcFile, err := os.Open(bcPath) // #nosec G304 -- user-specified bytecode file path
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: file not found: %s\n", bcPath)
		os.Exit(1)
	}
	file, err := bytecode.Read(bcFile)
	_ = bcFile.Close()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Load error: %v\n", err)
		os.Exit(1)
	}
	if err := bytecode.Validate(file); err != nil {
		fmt.Fprintf(os.Stderr, "Validation error: %v\n", err)
		os.Exit(1)
	}

	if *verboseMode {
		fmt.Printf("Loaded %d instructions, %d constants, %d variables, %d functions\n",
			len(file.Instrs), len(file.Consts), len(file.Vars), len(file.Funcs))
	}

	vmCfg := cfg.VMConfig()
	if *timeoutSecs > 0 {
		vmCfg.Timeout = time.Duration(*timeoutSecs * float64(time.Second))
	}

	machine := vm.New(vmCfg)
	machine.Output = os.Stdout
	machine.Load(file)
	if *debugMode {
		machine.SetDebug(true)
	}

	syncCfg, err := cfg.SyncConfig("")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	var engine *msync.Engine
	if syncCfg.Role != msync.RoleStandalone {
		engine = msync.NewEngine(syncCfg)
		engine.AttachFile(file)
		engine.AttachVM(machine)
		if *verboseMode {
			engine.OnRoleChange = func(role msync.Role, state msync.NodeState) {
				fmt.Printf("sync: role=%s state=%s\n", role, state)
			}
		}
		if err := engine.Start(); err != nil {
			fmt.Fprintf(os.Stderr, "Sync error: %v\n", err)
			os.Exit(1)
		}
		if *verboseMode {
			fmt.Printf("Sync engine started: role=%s local=%s:%d peer=%s\n",
				syncCfg.Role, syncCfg.LocalAddr, syncCfg.Port, syncCfg.PeerAddr)
		}
		defer engine.Close()
	}

	var mon *monitor.Server
	if *monitorAddr != "" {
		mon = monitor.NewServer(*monitorAddr, machine, engine)
		if engine != nil {
			prevOnRoleChange := engine.OnRoleChange
			engine.OnRoleChange = func(role msync.Role, state msync.NodeState) {
				if prevOnRoleChange != nil {
					prevOnRoleChange(role, state)
				}
				mon.Tick()
			}
		}
		go func() {
			if err := mon.Start(); err != nil {
				fmt.Fprintf(os.Stderr, "Monitor error: %v\n", err)
			}
		}()
		defer func() {
			shutCtx, shutCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutCancel()
			_ = mon.Shutdown(shutCtx)
		}()
		if *verboseMode {
			fmt.Printf("Monitor listening on http://%s\n", *monitorAddr)
		}
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	var stopOnce sync.Once
	go func() {
		<-sigChan
		stopOnce.Do(machine.Stop)
	}()

	exitCode := 0

	if *debugMode || *tuiMode {
		dbg := debugger.New(machine, file, engine)
		if *tuiMode {
			if err := debugger.NewTUI(dbg).Run(); err != nil {
				fmt.Fprintf(os.Stderr, "TUI error: %v\n", err)
				exitCode = 1
			}
		} else {
			fmt.Println("stbcvm debugger - type 'help' for commands")
			if err := dbg.RunCLI(os.Stdin, os.Stdout); err != nil {
				fmt.Fprintf(os.Stderr, "Debugger error: %v\n", err)
				exitCode = 1
			}
		}
	} else {
		if *verboseMode {
			fmt.Println("Starting execution...")
		}

		ticks := 0
		onTick := func() {
			if engine != nil {
				engine.ProcessSyncMessages()
			}
			ticks++
			if mon != nil && ticks%100 == 0 {
				mon.Tick()
			}
		}

		if err := machine.Execute(onTick); err != nil {
			fmt.Fprintf(os.Stderr, "Runtime error: %v\n", err)
			exitCode = 1
		}
	}

	if *statsMode {
		printStats(machine, engine, vmCfg, file)
	}

	if machine.State() == vm.StateError {
		exitCode = 1
	}
	os.Exit(exitCode)
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFrom(path)
	}
	return config.Load()
}

func printStats(machine *vm.VM, engine *msync.Engine, vmCfg vm.Config, file *bytecode.File) {
	fmt.Println()
	fmt.Println("Statistics:")
	fmt.Printf("  instructions executed: %d\n", machine.Stats.InstructionsExecuted)
	fmt.Printf("  function calls:        %d\n", machine.Stats.FunctionCalls)
	fmt.Printf("  builtin calls:         %d\n", machine.Stats.BuiltinCalls)
	fmt.Printf("  library calls:         %d\n", machine.Stats.LibraryCalls)
	fmt.Printf("  sync operations:       %d\n", machine.Stats.SyncOperations)
	fmt.Printf("  runtime errors:        %d\n", machine.Stats.RuntimeErrors)
	fmt.Printf("  execution time (ms):   %d\n", machine.Stats.ExecutionTimeMS())

	globalsBytes := vmCfg.GlobalCapacity * valueApproxBytes
	localsBytes := vmCfg.LocalCapacity * valueApproxBytes
	constsBytes := 0
	for _, c := range file.Consts {
		switch c.Kind {
		case bytecode.ConstString:
			constsBytes += len(c.String)
		default:
			constsBytes += 8
		}
	}
	fmt.Println("Memory usage (approximate):")
	fmt.Printf("  globals:       %d bytes (%d slots)\n", globalsBytes, vmCfg.GlobalCapacity)
	fmt.Printf("  locals:        %d bytes (%d slots)\n", localsBytes, vmCfg.LocalCapacity)
	fmt.Printf("  constant pool: %d bytes (%d entries)\n", constsBytes, len(file.Consts))

	if engine != nil {
		fmt.Println("Sync status:")
		fmt.Printf("  role=%s state=%s peer_alive=%t registered_vars=%d\n",
			engine.Role(), engine.State(), engine.PeerAlive(), engine.SyncVarCount())
		stats := engine.Stats()
		fmt.Printf("  messages sent=%d received=%d bytes_sent=%d bytes_received=%d\n",
			stats.MessagesSent, stats.MessagesReceived, stats.BytesSent, stats.BytesReceived)
		fmt.Printf("  heartbeats sent=%d received=%d timeouts=%d failovers=%d\n",
			stats.HeartbeatsSent, stats.HeartbeatsReceived, stats.Timeouts, stats.Failovers)
		fmt.Printf("  checkpoints applied=%d sync errors=%d checksum errors=%d\n",
			stats.CheckpointsApplied, stats.SyncErrors, stats.ChecksumErrors)
	}
}

func printHelp() {
	fmt.Printf(`stbcvm %s - Structured Text bytecode VM

Usage: stbcvm [options] <bytecode-file>

Options:
  -h, -help                Show this help message
  -V, -version             Show version information
  -v, -verbose             Emit progress lines to standard output
  -d, -debug                Enable debug state (breakpoints, single-step API)
  -tui                      Use the full-screen TUI debugger
  -s, -stats                On exit, print statistics, memory usage, and sync status
  -t, -timeout SECS         Total execution-time budget in seconds
  -P, -sync-primary IP      Run as primary, bound to this local IP
  -S, -sync-secondary IP    Run as secondary, bound to this local IP
  -p, -port PORT            Sync port (default 8888)
  -monitor ADDR             Start the read-only HTTP/WebSocket status monitor
  -config PATH              Path to a TOML configuration file

Examples:
  stbcvm program.stbc
  stbcvm -v -stats program.stbc
  stbcvm -debug program.stbc
  stbcvm -tui program.stbc
  stbcvm -P 10.0.0.1 -stats program.stbc
  stbcvm -S 10.0.0.2 program.stbc
  stbcvm -monitor 127.0.0.1:9090 program.stbc

Exit codes: 0 on normal termination (HALT or outer RET); nonzero on load,
validation, runtime, or sync error.
`, Version)
}
