// Package sandbox launches untrusted bot processes in isolated, resource-bounded environments.
package sandbox

import (
	"context"
	"io"
	"os/exec"

	"botarena/internal/arena/model"
	"botarena/pkg/utils/logger"

	"go.uber.org/zap"
)

// IsolationMode selects how processes are confined.
type IsolationMode string

const (
	// ModeAuto picks Strict when bubblewrap is installed, Unconfined otherwise.
	ModeAuto       IsolationMode = "auto"
	ModeStrict     IsolationMode = "strict"
	ModeUnconfined IsolationMode = "unconfined"
)

// Paths inside the strict sandbox.
const (
	SandboxWorkDir    = "/arena"
	SandboxRuntimeDir = "/runtime"
	SandboxInitDir    = "/arena-init"
)

// Config controls process launch. Command and ArtifactName accept the placeholders
// {hash}, {dir}, {artifact} and {runtime}.
type Config struct {
	Mode      IsolationMode `yaml:"mode" env:"MODE"`
	BwrapPath string        `yaml:"bwrapPath"`

	// Command is a shell-like command line, e.g. "{runtime}/dotnet {artifact}".
	Command string `yaml:"command" env:"COMMAND"`
	// RuntimeDir is bound read-only at /runtime in strict mode.
	RuntimeDir string `yaml:"runtimeDir" env:"RUNTIME_DIR"`
	// Env is added to unconfined launches only; strict bots start with no environment.
	Env []string `yaml:"env"`
	// ReadOnlyPaths are extra host paths bound read-only at the same location.
	ReadOnlyPaths []string `yaml:"readOnlyPaths"`

	// InitHelper is the host path of the bot-init binary; empty disables it.
	InitHelper     string  `yaml:"initHelper"`
	SeccompProfile string  `yaml:"seccompProfile"`
	Rlimits        Rlimits `yaml:"rlimits"`

	// CgroupRoot is a delegated cgroup v2 directory; empty disables resource groups.
	CgroupRoot string `yaml:"cgroupRoot" env:"CGROUP_ROOT"`
	MemoryMB   int64  `yaml:"memoryMB"`
	PIDs       int64  `yaml:"pids"`
}

// Rlimits are applied by the init helper before exec.
type Rlimits struct {
	NoFile  uint64 `yaml:"nofile"`
	NProc   uint64 `yaml:"nproc"`
	FSizeMB uint64 `yaml:"fsizeMB"`
	StackMB uint64 `yaml:"stackMB"`
}

// DefaultConfig returns launch defaults.
func DefaultConfig() Config {
	return Config{
		Mode:      ModeAuto,
		BwrapPath: "bwrap",
		Command:   "{artifact}",
		MemoryMB:  2048,
		PIDs:      256,
		Rlimits:   Rlimits{NoFile: 256, NProc: 256, FSizeMB: 16, StackMB: 64},
	}
}

func (c *Config) applyDefaults() {
	def := DefaultConfig()
	if c.Mode == "" {
		c.Mode = def.Mode
	}
	if c.BwrapPath == "" {
		c.BwrapPath = def.BwrapPath
	}
	if c.Command == "" {
		c.Command = def.Command
	}
	if c.MemoryMB == 0 {
		c.MemoryMB = def.MemoryMB
	}
	if c.PIDs == 0 {
		c.PIDs = def.PIDs
	}
}

// ResolveMode turns ModeAuto into a concrete mode by probing for bubblewrap.
func ResolveMode(ctx context.Context, cfg Config) (IsolationMode, error) {
	switch cfg.Mode {
	case ModeUnconfined:
		logger.Warn(ctx, "sandbox isolation disabled by configuration")
		return ModeUnconfined, nil
	case ModeStrict:
		if _, err := exec.LookPath(cfg.BwrapPath); err != nil {
			return "", err
		}
		return ModeStrict, nil
	default:
		if _, err := exec.LookPath(cfg.BwrapPath); err != nil {
			logger.Warn(ctx, "bubblewrap not found, bots will run UNCONFINED",
				zap.String("bwrap", cfg.BwrapPath), zap.Error(err))
			return ModeUnconfined, nil
		}
		return ModeStrict, nil
	}
}

// Spec identifies one process to launch.
type Spec struct {
	MatchID int64
	Side    model.Side
	Hash    string
	// Dir is the host scratch directory holding the artifact.
	Dir string
	// ArtifactName is the file name of the artifact inside Dir.
	ArtifactName string
}

// Launcher starts sandboxed bot processes.
type Launcher interface {
	Launch(ctx context.Context, spec Spec) (Process, error)
	Mode() IsolationMode
}

// Process is a running bot. Terminate and Release are idempotent.
type Process interface {
	Stdin() io.Writer
	Stdout() io.Reader
	Pid() int
	// Terminate kills the whole process tree and reaps it.
	Terminate(ctx context.Context) error
	// Release frees the resource group; call after Terminate.
	Release(ctx context.Context) error
}
