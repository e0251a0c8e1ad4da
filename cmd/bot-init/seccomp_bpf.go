//go:build linux && !cgo

package main

import (
	"fmt"

	seccomp "github.com/elastic/go-seccomp-bpf"
	"golang.org/x/sys/unix"
)

func bpfAction(kind actionKind) seccomp.Action {
	switch kind {
	case actAllow:
		return seccomp.ActionAllow
	case actErrno:
		return seccomp.Action(uint32(seccomp.ActionErrno) | (uint32(unix.EPERM) & 0xffff))
	case actKillThread:
		return seccomp.ActionKillThread
	case actLog:
		return seccomp.ActionLog
	default:
		return seccomp.ActionKillProcess
	}
}

// applySeccomp assembles the profile into BPF without libseccomp, for static builds.
func applySeccomp(p seccompProfile) error {
	def, _ := parseAction(p.DefaultAction)
	policy := seccomp.Policy{DefaultAction: bpfAction(def)}
	for _, rule := range p.Syscalls {
		kind, _ := parseAction(rule.Action)
		policy.Syscalls = append(policy.Syscalls, seccomp.SyscallGroup{
			Action: bpfAction(kind),
			Names:  rule.Names,
		})
	}
	err := seccomp.LoadFilter(seccomp.Filter{
		NoNewPrivs: true,
		Flag:       seccomp.FilterFlagTSync,
		Policy:     policy,
	})
	if err != nil {
		return fmt.Errorf("load seccomp filter: %w", err)
	}
	return nil
}
