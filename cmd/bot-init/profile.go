package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
)

// options are the flags passed by the arena launcher, followed by "--" and the bot command.
type options struct {
	noFile  uint64
	nProc   uint64
	fsizeMB uint64
	stackMB uint64
	seccomp string
	argv    []string
}

func parseOptions(args []string, stderr io.Writer) (options, error) {
	var opts options
	fs := flag.NewFlagSet("bot-init", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Uint64Var(&opts.noFile, "nofile", 0, "RLIMIT_NOFILE")
	fs.Uint64Var(&opts.nProc, "nproc", 0, "RLIMIT_NPROC")
	fs.Uint64Var(&opts.fsizeMB, "fsize-mb", 0, "RLIMIT_FSIZE in MiB")
	fs.Uint64Var(&opts.stackMB, "stack-mb", 0, "RLIMIT_STACK in MiB")
	fs.StringVar(&opts.seccomp, "seccomp", "", "seccomp profile (JSON)")
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}
	opts.argv = fs.Args()
	if len(opts.argv) == 0 {
		return options{}, fmt.Errorf("command is required")
	}
	return opts, nil
}

// seccompProfile uses the OCI/docker profile subset shared by both filter backends.
type seccompProfile struct {
	DefaultAction string           `json:"defaultAction"`
	Syscalls      []seccompSyscall `json:"syscalls"`
}

type seccompSyscall struct {
	Names  []string `json:"names"`
	Action string   `json:"action"`
}

type actionKind int

const (
	actAllow actionKind = iota
	actErrno
	actKillProcess
	actKillThread
	actLog
)

func parseAction(action string) (actionKind, error) {
	switch strings.ToUpper(strings.TrimSpace(action)) {
	case "SCMP_ACT_ALLOW":
		return actAllow, nil
	case "SCMP_ACT_ERRNO":
		return actErrno, nil
	case "SCMP_ACT_KILL", "SCMP_ACT_KILL_PROCESS":
		return actKillProcess, nil
	case "SCMP_ACT_KILL_THREAD":
		return actKillThread, nil
	case "SCMP_ACT_LOG":
		return actLog, nil
	default:
		return actKillProcess, fmt.Errorf("unsupported seccomp action: %s", action)
	}
}

func loadProfile(path string) (seccompProfile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return seccompProfile{}, fmt.Errorf("read seccomp profile: %w", err)
	}
	var p seccompProfile
	if err := json.Unmarshal(data, &p); err != nil {
		return seccompProfile{}, fmt.Errorf("parse seccomp profile: %w", err)
	}
	if _, err := parseAction(p.DefaultAction); err != nil {
		return seccompProfile{}, err
	}
	for _, rule := range p.Syscalls {
		if _, err := parseAction(rule.Action); err != nil {
			return seccompProfile{}, err
		}
	}
	return p, nil
}
