//go:build linux && cgo

package main

import (
	"fmt"

	seccomp "github.com/seccomp/libseccomp-golang"
	"golang.org/x/sys/unix"
)

func scmpAction(kind actionKind) seccomp.ScmpAction {
	switch kind {
	case actAllow:
		return seccomp.ActAllow
	case actErrno:
		return seccomp.ActErrno.SetReturnCode(int16(unix.EPERM))
	case actKillThread:
		return seccomp.ActKillThread
	case actLog:
		return seccomp.ActLog
	default:
		return seccomp.ActKillProcess
	}
}

// applySeccomp loads the profile through libseccomp. Names unknown to this
// architecture are skipped so one profile serves every host.
func applySeccomp(p seccompProfile) error {
	def, _ := parseAction(p.DefaultAction)
	filter, err := seccomp.NewFilter(scmpAction(def))
	if err != nil {
		return fmt.Errorf("create seccomp filter: %w", err)
	}
	defer filter.Release()
	for _, rule := range p.Syscalls {
		kind, _ := parseAction(rule.Action)
		action := scmpAction(kind)
		for _, name := range rule.Names {
			call, err := seccomp.GetSyscallFromName(name)
			if err != nil {
				continue
			}
			if err := filter.AddRule(call, action); err != nil {
				return fmt.Errorf("add seccomp rule %s: %w", name, err)
			}
		}
	}
	if err := filter.Load(); err != nil {
		return fmt.Errorf("load seccomp filter: %w", err)
	}
	return nil
}
