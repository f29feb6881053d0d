package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"runtime"
	"runtime/pprof"
	"syscall"
	"time"

	"github.com/adatrace/tracer"
	"github.com/adatrace/tracer/internal/cliconfig"
	"github.com/adatrace/tracer/internal/logging"
)

var version = "dev"

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if len(args) > 0 && (args[0] == "--version" || args[0] == "-version") {
		fmt.Println("adatrace " + version)
		return 0
	}

	cfg, err := cliconfig.Parse(args)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	logConfig := logging.DefaultConfig()
	logger := logging.NewLogger(logConfig)
	logging.SetDefault(logger)

	session, err := adatrace.CreateSession(adatrace.NewSessionConfigFromCLI(cfg, os.Getpid()))
	if err != nil {
		fmt.Fprintf(os.Stderr, "adatrace: %v\n", err)
		return 1
	}

	uninstall := session.InstallSignalHandler()
	defer uninstall()

	installStackDumpHandler(logger)

	if cfg.Duration > 0 {
		if err := session.StartDurationTimer(cfg.Duration); err != nil {
			logger.Warnf("adatrace: duration timer: %v", err)
		}
	}

	exitCode := 0
	switch cfg.Command {
	case "spawn":
		exitCode = runSpawn(session, cfg, logger)
	case "attach":
		logger.Infof("adatrace: attached to target %s, waiting for shutdown", cfg.Target)
		waitForSessionEnd(session)
	default:
		logger.Infof("adatrace: capturing with no target process, waiting for shutdown")
		waitForSessionEnd(session)
	}

	if err := session.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "adatrace: close: %v\n", err)
		if exitCode == 0 {
			exitCode = 1
		}
	}

	return exitCode
}

// runSpawn execs cfg.Target with cfg.Args and the agent env vars a
// hooked child process reads to find its tracer, then blocks until
// either the child exits or the shutdown signal/timer fires.
func runSpawn(session *adatrace.Session, cfg cliconfig.TracerConfig, logger *logging.Logger) int {
	cmd := exec.Command(cfg.Target, cfg.Args...)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.Env = append(os.Environ(), agentEnv(cfg)...)

	if err := cmd.Start(); err != nil {
		logger.Errorf("adatrace: spawn %s: %v", cfg.Target, err)
		return 1
	}

	childDone := make(chan error, 1)
	go func() { childDone <- cmd.Wait() }()

	select {
	case err := <-childDone:
		if err != nil {
			var exitErr *exec.ExitError
			if errors.As(err, &exitErr) {
				return exitErr.ExitCode()
			}
			logger.Errorf("adatrace: target %s: %v", cfg.Target, err)
			return 1
		}
		return 0
	case <-session.ShutdownRequested():
		_ = cmd.Process.Signal(syscall.SIGTERM)
		<-childDone
		return 0
	}
}

func waitForSessionEnd(session *adatrace.Session) {
	<-session.ShutdownRequested()
}

// agentEnv translates the validated --exclude list and the registry
// opt-out into the ADA_EXCLUDE/ADA_DISABLE_REGISTRY variables a hooked
// process's runtime agent reads on startup. --stack-bytes and
// --trigger are not passed to the child.
func agentEnv(cfg cliconfig.TracerConfig) []string {
	var env []string
	if len(cfg.Exclude) > 0 {
		csv := cfg.Exclude[0]
		for _, s := range cfg.Exclude[1:] {
			csv += "," + s
		}
		env = append(env, "ADA_EXCLUDE="+csv)
	}
	if cfg.DisableRegistry {
		env = append(env, "ADA_DISABLE_REGISTRY=1")
	}
	return env
}

// installStackDumpHandler wires SIGUSR1 to a goroutine-stack dump,
// useful for diagnosing a controller that appears to have wedged
// mid-drain.
func installStackDumpHandler(logger *logging.Logger) {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGUSR1)
	go func() {
		for range ch {
			buf := make([]byte, 1<<20)
			n := runtime.Stack(buf, true)
			filename := fmt.Sprintf("adatrace-stacks-%d.txt", time.Now().Unix())
			if f, err := os.Create(filename); err == nil {
				fmt.Fprintf(f, "Process ID: %d\n\n", os.Getpid())
				f.Write(buf[:n])
				fmt.Fprintf(f, "\n\n=== GOROUTINE PROFILE ===\n")
				pprof.Lookup("goroutine").WriteTo(f, 2)
				f.Close()
				logger.Infof("adatrace: stack dump written to %s", filename)
			}
		}
	}()
}
