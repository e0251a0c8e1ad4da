package main

import (
	"io"
	"os"
	"path/filepath"
	"testing"
)

func TestParseOptions(t *testing.T) {
	t.Parallel()
	opts, err := parseOptions([]string{"-nofile", "64", "-stack-mb", "8", "-seccomp", "/arena-init/p.json", "--", "/runtime/dotnet", "bot.dll", "-x"}, io.Discard)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if opts.noFile != 64 || opts.stackMB != 8 || opts.nProc != 0 || opts.seccomp != "/arena-init/p.json" {
		t.Fatalf("unexpected options %+v", opts)
	}
	if len(opts.argv) != 3 || opts.argv[2] != "-x" {
		t.Fatalf("bot flags must pass through untouched: %v", opts.argv)
	}
	if _, err := parseOptions([]string{"-nofile", "8", "--"}, io.Discard); err == nil {
		t.Fatalf("expected missing command error")
	}
	if _, err := parseOptions([]string{"-nofile", "lots", "--", "bot"}, io.Discard); err == nil {
		t.Fatalf("expected bad number error")
	}
}

func TestLoadProfile(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	tests := []struct {
		name    string
		body    string
		wantErr bool
	}{
		{"valid", `{"defaultAction":"SCMP_ACT_ALLOW","syscalls":[{"names":["ptrace","mount"],"action":"SCMP_ACT_ERRNO"}]}`, false},
		{"bad default", `{"defaultAction":"SCMP_ACT_TRACE"}`, true},
		{"bad rule", `{"defaultAction":"SCMP_ACT_ALLOW","syscalls":[{"names":["x"],"action":"nope"}]}`, true},
		{"bad json", `{`, true},
	}
	for _, tt := range tests {
		path := filepath.Join(dir, tt.name+".json")
		if err := os.WriteFile(path, []byte(tt.body), 0o644); err != nil {
			t.Fatalf("write: %v", err)
		}
		p, err := loadProfile(path)
		if (err != nil) != tt.wantErr {
			t.Fatalf("%s: expected error=%v, got %v", tt.name, tt.wantErr, err)
		}
		if !tt.wantErr && (len(p.Syscalls) != 1 || len(p.Syscalls[0].Names) != 2) {
			t.Fatalf("%s: unexpected profile %+v", tt.name, p)
		}
	}
}

func TestShippedProfileParses(t *testing.T) {
	t.Parallel()
	if _, err := loadProfile(filepath.Join("..", "..", "configs", "seccomp", "bot.json")); err != nil {
		t.Fatalf("shipped profile: %v", err)
	}
}

func TestParseAction(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   string
		want actionKind
	}{
		{"SCMP_ACT_ALLOW", actAllow},
		{"scmp_act_errno", actErrno},
		{"SCMP_ACT_KILL", actKillProcess},
		{"SCMP_ACT_KILL_THREAD", actKillThread},
		{"SCMP_ACT_LOG", actLog},
	}
	for _, tt := range tests {
		got, err := parseAction(tt.in)
		if err != nil || got != tt.want {
			t.Fatalf("%s: expected %d, got %d (%v)", tt.in, tt.want, got, err)
		}
	}
}
