package sandbox

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/shlex"
)

// Expand substitutes {hash}, {dir}, {artifact} and {runtime} in s.
func Expand(s string, vars map[string]string) string {
	pairs := make([]string, 0, len(vars)*2)
	for k, v := range vars {
		pairs = append(pairs, "{"+k+"}", v)
	}
	return strings.NewReplacer(pairs...).Replace(s)
}

// BuildCommand returns the program and arguments for spec under mode.
// In strict mode the program is bubblewrap and the bot command follows "--".
func BuildCommand(cfg Config, mode IsolationMode, spec Spec) (string, []string, error) {
	if spec.Hash == "" || spec.Dir == "" {
		return "", nil, fmt.Errorf("hash and dir are required")
	}
	artifact := spec.ArtifactName
	if artifact == "" {
		artifact = spec.Hash
	}

	dir, runtime, initDir := spec.Dir, cfg.RuntimeDir, filepath.Dir(cfg.InitHelper)
	if mode == ModeStrict {
		dir, runtime, initDir = SandboxWorkDir, SandboxRuntimeDir, SandboxInitDir
	}
	vars := map[string]string{
		"hash":     spec.Hash,
		"dir":      dir,
		"artifact": filepath.Join(dir, artifact),
		"runtime":  runtime,
	}

	argv, err := shlex.Split(cfg.Command)
	if err != nil {
		return "", nil, fmt.Errorf("parse command: %w", err)
	}
	if len(argv) == 0 {
		return "", nil, fmt.Errorf("command is empty")
	}
	for i := range argv {
		argv[i] = Expand(argv[i], vars)
	}

	if cfg.InitHelper != "" {
		argv = append(initArgs(cfg, initDir), argv...)
	}
	if mode != ModeStrict {
		return argv[0], argv[1:], nil
	}
	return cfg.BwrapPath, append(bwrapArgs(cfg, spec.Dir), argv...), nil
}

func initArgs(cfg Config, initDir string) []string {
	args := []string{filepath.Join(initDir, filepath.Base(cfg.InitHelper))}
	rl := cfg.Rlimits
	if rl.NoFile > 0 {
		args = append(args, "-nofile", strconv.FormatUint(rl.NoFile, 10))
	}
	if rl.NProc > 0 {
		args = append(args, "-nproc", strconv.FormatUint(rl.NProc, 10))
	}
	if rl.FSizeMB > 0 {
		args = append(args, "-fsize-mb", strconv.FormatUint(rl.FSizeMB, 10))
	}
	if rl.StackMB > 0 {
		args = append(args, "-stack-mb", strconv.FormatUint(rl.StackMB, 10))
	}
	if cfg.SeccompProfile != "" {
		args = append(args, "-seccomp", filepath.Join(initDir, filepath.Base(cfg.SeccompProfile)))
	}
	return append(args, "--")
}

// bwrapArgs confines the bot: every namespace unshared, a cleared environment,
// read-only system dirs and the scratch dir mounted read-only as the working dir.
func bwrapArgs(cfg Config, hostDir string) []string {
	args := []string{
		"--unshare-all",
		"--die-with-parent",
		"--clearenv",
		"--ro-bind", "/usr", "/usr",
		"--ro-bind-try", "/lib", "/lib",
		"--ro-bind-try", "/lib64", "/lib64",
		"--ro-bind-try", "/bin", "/bin",
		"--proc", "/proc",
		"--dev", "/dev",
		"--tmpfs", "/tmp",
	}
	if cfg.RuntimeDir != "" {
		args = append(args, "--ro-bind", cfg.RuntimeDir, SandboxRuntimeDir)
	}
	for _, p := range cfg.ReadOnlyPaths {
		args = append(args, "--ro-bind", p, p)
	}
	if cfg.InitHelper != "" {
		args = append(args, "--ro-bind", cfg.InitHelper, filepath.Join(SandboxInitDir, filepath.Base(cfg.InitHelper)))
		if cfg.SeccompProfile != "" {
			args = append(args, "--ro-bind", cfg.SeccompProfile, filepath.Join(SandboxInitDir, filepath.Base(cfg.SeccompProfile)))
		}
	}
	args = append(args,
		"--ro-bind", hostDir, SandboxWorkDir,
		"--chdir", SandboxWorkDir,
	)
	// --clearenv leaves the bot with an empty environment; commands use absolute paths.
	return append(args, "--")
}

// unconfinedEnv is the environment for processes launched without bubblewrap.
func unconfinedEnv(cfg Config) []string {
	path := os.Getenv("PATH")
	if cfg.RuntimeDir != "" {
		path = cfg.RuntimeDir + string(os.PathListSeparator) + path
	}
	env := []string{"PATH=" + path, "HOME=" + os.TempDir()}
	return append(env, cfg.Env...)
}
