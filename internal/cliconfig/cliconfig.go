// Package cliconfig parses the tracer controller's command-line
// surface into a validated TracerConfig.
package cliconfig

import (
	"flag"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"time"
)

// TriggerKind distinguishes the three documented --trigger spec forms.
type TriggerKind int

const (
	TriggerSymbol TriggerKind = iota
	TriggerCrash
	TriggerTime
)

// Trigger is one parsed --trigger value.
type Trigger struct {
	Kind     TriggerKind
	Module   string  // set only for TriggerSymbol, optional
	Symbol   string  // set only for TriggerSymbol
	AfterSec float64 // set only for TriggerTime
}

// TracerConfig is the fully parsed and validated CLI surface.
type TracerConfig struct {
	Command string // "spawn", "attach", "" (neither given)
	Target  string // executable path or pid/name, per Command
	Args    []string

	Output          string
	Exclude         []string
	Duration        time.Duration
	PreRollSec      float64
	PostRollSec     float64
	StackBytes      int
	Triggers        []Trigger
	DisableRegistry bool
}

// DefaultOutput is used when --output is not given.
const DefaultOutput = "./traces"

// MaxStackBytes is the upper bound --stack-bytes is clamped to.
const MaxStackBytes = 512

// Parse parses args (typically os.Args[1:]) into a TracerConfig,
// applying ADA_* environment variable fallbacks documented for
// --exclude and the registry opt-out.
func Parse(args []string) (TracerConfig, error) {
	fs := flag.NewFlagSet("adatrace", flag.ContinueOnError)

	var (
		output      = fs.String("output", DefaultOutput, "directory trace output files are written to")
		exclude     = fs.String("exclude", "", "comma-separated list of symbols/modules to exclude")
		durationSec = fs.Float64("duration", 0, "capture duration in seconds (fractional; rounds up to >=1ms); 0 means unbounded")
		preRoll     = fs.Float64("pre-roll-sec", 0, "seconds of detail history to retain before a trigger fires")
		postRoll    = fs.Float64("post-roll-sec", 0, "seconds of detail history to retain after a trigger fires")
		stackBytes  = fs.Int("stack-bytes", 0, "bytes of stack snapshot to capture per trigger, <= 512")
		triggerSpec = fs.String("trigger", "", "trigger spec: symbol=[module::]name | crash | time=<seconds>")
	)

	if len(args) == 0 {
		return TracerConfig{}, fs.Parse(args)
	}

	var command, target string
	var rest []string
	switch args[0] {
	case "spawn", "attach":
		command = args[0]
		if len(args) < 2 {
			return TracerConfig{}, fmt.Errorf("cliconfig: %q requires a target", command)
		}
		target = args[1]
		// flags appear before "--"; anything after it is passed through
		// to the spawned child unparsed.
		tail := args[2:]
		flagArgs := tail
		if idx := indexOf(tail, "--"); idx >= 0 {
			flagArgs = tail[:idx]
			rest = tail[idx+1:]
		}
		if err := fs.Parse(flagArgs); err != nil {
			return TracerConfig{}, err
		}
	default:
		if err := fs.Parse(args); err != nil {
			return TracerConfig{}, err
		}
	}

	cfg := TracerConfig{
		Command:     command,
		Target:      target,
		Args:        rest,
		Output:      *output,
		PreRollSec:  *preRoll,
		PostRollSec: *postRoll,
		StackBytes:  *stackBytes,
	}

	excludeCSV := *exclude
	if excludeCSV == "" {
		excludeCSV = os.Getenv("ADA_EXCLUDE")
	}
	if excludeCSV != "" {
		for _, s := range strings.Split(excludeCSV, ",") {
			if s = strings.TrimSpace(s); s != "" {
				cfg.Exclude = append(cfg.Exclude, s)
			}
		}
	}

	if *durationSec > 0 {
		d := time.Duration(*durationSec * float64(time.Second))
		if d < time.Millisecond {
			d = time.Millisecond
		}
		cfg.Duration = d
	}

	if cfg.StackBytes > MaxStackBytes {
		cfg.StackBytes = MaxStackBytes
	}
	if cfg.StackBytes < 0 {
		cfg.StackBytes = 0
	}

	if _, set := os.LookupEnv("ADA_DISABLE_REGISTRY"); set {
		cfg.DisableRegistry = true
	}

	if *triggerSpec != "" {
		for _, spec := range strings.Split(*triggerSpec, ",") {
			t, err := parseTrigger(spec)
			if err != nil {
				return TracerConfig{}, err
			}
			cfg.Triggers = append(cfg.Triggers, t)
		}
	}

	return cfg, nil
}

func parseTrigger(spec string) (Trigger, error) {
	switch {
	case spec == "crash":
		return Trigger{Kind: TriggerCrash}, nil
	case strings.HasPrefix(spec, "time="):
		secStr := strings.TrimPrefix(spec, "time=")
		sec, err := strconv.ParseFloat(secStr, 64)
		if err != nil || sec <= 0 || math.IsNaN(sec) {
			return Trigger{}, fmt.Errorf("cliconfig: invalid time trigger %q", spec)
		}
		return Trigger{Kind: TriggerTime, AfterSec: sec}, nil
	case strings.HasPrefix(spec, "symbol="):
		name := strings.TrimPrefix(spec, "symbol=")
		if name == "" {
			return Trigger{}, fmt.Errorf("cliconfig: invalid symbol trigger %q", spec)
		}
		if module, sym, ok := strings.Cut(name, "::"); ok {
			return Trigger{Kind: TriggerSymbol, Module: module, Symbol: sym}, nil
		}
		return Trigger{Kind: TriggerSymbol, Symbol: name}, nil
	default:
		return Trigger{}, fmt.Errorf("cliconfig: unrecognized trigger spec %q", spec)
	}
}

func indexOf(ss []string, v string) int {
	for i, s := range ss {
		if s == v {
			return i
		}
	}
	return -1
}
