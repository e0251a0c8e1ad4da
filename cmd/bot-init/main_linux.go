//go:build linux

// Command bot-init runs inside the sandbox: it applies rlimits and a seccomp filter,
// then execs the bot so the bot keeps the launcher's pid, pipes and process group.
package main

import (
	"fmt"
	"os"
	"os/exec"

	"golang.org/x/sys/unix"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, "bot-init:", err.Error())
		os.Exit(126)
	}
}

func run(args []string) error {
	opts, err := parseOptions(args, os.Stderr)
	if err != nil {
		return err
	}
	if err := applyRlimits(opts); err != nil {
		return err
	}
	cmdPath, err := exec.LookPath(opts.argv[0])
	if err != nil {
		return fmt.Errorf("resolve command: %w", err)
	}
	if opts.seccomp != "" {
		profile, err := loadProfile(opts.seccomp)
		if err != nil {
			return err
		}
		if err := unix.Prctl(unix.PR_SET_NO_NEW_PRIVS, 1, 0, 0, 0); err != nil {
			return fmt.Errorf("set no new privs: %w", err)
		}
		if err := applySeccomp(profile); err != nil {
			return err
		}
	}
	return unix.Exec(cmdPath, opts.argv, os.Environ())
}

func applyRlimits(opts options) error {
	limits := []struct {
		name     string
		resource int
		value    uint64
	}{
		{"nofile", unix.RLIMIT_NOFILE, opts.noFile},
		{"nproc", unix.RLIMIT_NPROC, opts.nProc},
		{"fsize", unix.RLIMIT_FSIZE, opts.fsizeMB * 1024 * 1024},
		{"stack", unix.RLIMIT_STACK, opts.stackMB * 1024 * 1024},
	}
	for _, l := range limits {
		if l.value == 0 {
			continue
		}
		if err := unix.Setrlimit(l.resource, &unix.Rlimit{Cur: l.value, Max: l.value}); err != nil {
			return fmt.Errorf("set rlimit %s: %w", l.name, err)
		}
	}
	return nil
}
