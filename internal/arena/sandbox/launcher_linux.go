//go:build linux

package sandbox

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	appErr "botarena/pkg/errors"
	"botarena/pkg/utils/logger"

	"go.uber.org/zap"
)

const (
	exitWait       = 5 * time.Second
	removeAttempts = 10
	removeBackoff  = 50 * time.Millisecond
)

type linuxLauncher struct {
	cfg  Config
	mode IsolationMode
}

// NewLauncher resolves the isolation mode and returns a Linux launcher.
func NewLauncher(ctx context.Context, cfg Config) (Launcher, error) {
	cfg.applyDefaults()
	mode, err := ResolveMode(ctx, cfg)
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.SandboxError, "strict isolation requested but %s is unavailable", cfg.BwrapPath)
	}
	if cfg.CgroupRoot == "" {
		logger.Warn(ctx, "no cgroup root configured, bots run without memory and pid limits")
	}
	logger.Info(ctx, "sandbox launcher ready", zap.String("mode", string(mode)), zap.String("cgroup_root", cfg.CgroupRoot))
	return &linuxLauncher{cfg: cfg, mode: mode}, nil
}

func (l *linuxLauncher) Mode() IsolationMode { return l.mode }

func (l *linuxLauncher) Launch(ctx context.Context, spec Spec) (Process, error) {
	name, args, err := BuildCommand(l.cfg, l.mode, spec)
	if err != nil {
		return nil, appErr.Wrap(err, appErr.SandboxStartFailed)
	}

	cgroupPath := ""
	if l.cfg.CgroupRoot != "" {
		cgroupPath, err = createBotCgroup(l.cfg.CgroupRoot, spec.MatchID, spec.Side)
		if err == nil {
			if err = applyCgroupLimits(cgroupPath, l.cfg); err != nil {
				_ = removeCgroup(cgroupPath, 1, 0)
				cgroupPath = ""
			}
		}
		if err != nil {
			logger.Warn(ctx, "cgroup unusable, launching without resource limits",
				zap.String("cgroup_root", l.cfg.CgroupRoot), zap.Error(err))
		}
	}

	stdinR, stdinW, err := os.Pipe()
	if err != nil {
		_ = removeCgroup(cgroupPath, 1, 0)
		return nil, appErr.Wrap(err, appErr.SandboxStartFailed)
	}
	stdoutR, stdoutW, err := os.Pipe()
	if err != nil {
		closeAll(stdinR, stdinW)
		_ = removeCgroup(cgroupPath, 1, 0)
		return nil, appErr.Wrap(err, appErr.SandboxStartFailed)
	}
	stderr := newTailBuffer(defaultTailBytes)

	cmd, err := l.start(ctx, name, args, spec, cgroupPath, stdinR, stdoutW, stderr)
	// The child owns its ends now.
	closeAll(stdinR, stdoutW)
	if err != nil {
		closeAll(stdinW, stdoutR)
		_ = removeCgroup(cgroupPath, 1, 0)
		return nil, appErr.Wrapf(err, appErr.SandboxStartFailed, "start %s", name)
	}

	p := &linuxProcess{
		cmd:    cmd,
		stdin:  stdinW,
		stdout: stdoutR,
		stderr: stderr,
		cgroup: cgroupPath,
		done:   make(chan struct{}),
	}
	go p.reap()
	logger.Debug(ctx, "bot process started", zap.Int("pid", cmd.Process.Pid), zap.String("program", name))
	return p, nil
}

func (l *linuxLauncher) start(ctx context.Context, name string, args []string, spec Spec, cgroupPath string, stdin, stdout *os.File, stderr io.Writer) (*exec.Cmd, error) {
	build := func() *exec.Cmd {
		cmd := exec.Command(name, args...)
		cmd.Dir = spec.Dir
		cmd.Env = unconfinedEnv(l.cfg)
		cmd.Stdin = stdin
		cmd.Stdout = stdout
		cmd.Stderr = stderr
		cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true, Pdeathsig: syscall.SIGKILL}
		return cmd
	}

	if cgroupPath != "" {
		dir, err := os.Open(cgroupPath)
		if err == nil {
			cmd := build()
			cmd.SysProcAttr.UseCgroupFD = true
			cmd.SysProcAttr.CgroupFD = int(dir.Fd())
			err = cmd.Start()
			_ = dir.Close()
			if err == nil {
				return cmd, nil
			}
		}
		logger.Warn(ctx, "clone into cgroup failed, attaching after start", zap.Error(err))
	}

	cmd := build()
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	if cgroupPath != "" {
		if err := addProcessToCgroup(cgroupPath, cmd.Process.Pid); err != nil {
			_ = syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
			_ = cmd.Wait()
			return nil, fmt.Errorf("attach to cgroup: %w", err)
		}
	}
	return cmd, nil
}

type linuxProcess struct {
	cmd    *exec.Cmd
	stdin  *os.File
	stdout *os.File
	stderr *tailBuffer
	cgroup string

	done    chan struct{}
	waitErr error

	termOnce sync.Once
	termErr  error
	relOnce  sync.Once
	relErr   error
}

func (p *linuxProcess) reap() {
	p.waitErr = p.cmd.Wait()
	close(p.done)
}

func (p *linuxProcess) Stdin() io.Writer  { return p.stdin }
func (p *linuxProcess) Stdout() io.Reader { return p.stdout }
func (p *linuxProcess) Pid() int          { return p.cmd.Process.Pid }

// StderrTail returns the last bytes the bot wrote to stderr.
func (p *linuxProcess) StderrTail() string { return p.stderr.String() }

func (p *linuxProcess) Terminate(ctx context.Context) error {
	p.termOnce.Do(func() {
		pid := p.cmd.Process.Pid
		// Negative pid signals the whole process group.
		if err := syscall.Kill(-pid, syscall.SIGKILL); err != nil && err != syscall.ESRCH {
			logger.Warn(ctx, "kill process group failed", zap.Int("pid", pid), zap.Error(err))
		}
		if p.cgroup != "" {
			if err := killCgroup(p.cgroup); err != nil {
				logger.Debug(ctx, "cgroup.kill unavailable", zap.String("cgroup", p.cgroup), zap.Error(err))
			}
		}

		timer := time.NewTimer(exitWait)
		defer timer.Stop()
		select {
		case <-p.done:
		case <-timer.C:
			p.termErr = appErr.Newf(appErr.SandboxError, "process %d did not exit after kill", pid)
		case <-ctx.Done():
			p.termErr = ctx.Err()
		}
		closeAll(p.stdin, p.stdout)

		if wasOomKilled(p.cgroup) {
			logger.Warn(ctx, "bot was OOM killed", zap.Int("pid", pid), zap.Int64("memory_peak_kb", memoryPeakKB(p.cgroup)))
		}
		if tail := p.stderr.String(); tail != "" {
			logger.Debug(ctx, "bot stderr", zap.Int("pid", pid), zap.String("tail", tail))
		}
	})
	return p.termErr
}

func (p *linuxProcess) Release(ctx context.Context) error {
	p.relOnce.Do(func() {
		if p.cgroup == "" {
			return
		}
		if err := removeCgroup(p.cgroup, removeAttempts, removeBackoff); err != nil {
			p.relErr = appErr.Wrapf(err, appErr.SandboxError, "remove cgroup %s", p.cgroup)
			logger.Warn(ctx, "failed to remove cgroup", zap.String("cgroup", p.cgroup), zap.Error(err))
		}
	})
	return p.relErr
}

func closeAll(files ...*os.File) {
	for _, f := range files {
		if f != nil {
			_ = f.Close()
		}
	}
}
