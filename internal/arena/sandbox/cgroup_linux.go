//go:build linux

package sandbox

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"botarena/internal/arena/model"
)

// createBotCgroup makes a leaf group directly under root, which must already delegate
// the memory and pids controllers.
func createBotCgroup(root string, matchID int64, side model.Side) (string, error) {
	if root == "" {
		return "", fmt.Errorf("cgroup root is required")
	}
	path := filepath.Join(root, fmt.Sprintf("match-%d-%s-%d", matchID, side, time.Now().UnixNano()))
	if err := os.Mkdir(path, 0750); err != nil {
		return "", fmt.Errorf("create cgroup: %w", err)
	}
	return path, nil
}

func applyCgroupLimits(cgroupPath string, cfg Config) error {
	pidsValue := "max"
	if cfg.PIDs > 0 {
		pidsValue = strconv.FormatInt(cfg.PIDs, 10)
	}
	if err := writeCgroupValue(cgroupPath, "pids.max", pidsValue); err != nil {
		return err
	}
	if cfg.MemoryMB > 0 {
		bytes := strconv.FormatInt(cfg.MemoryMB*1024*1024, 10)
		if err := writeCgroupValue(cgroupPath, "memory.max", bytes); err != nil {
			return err
		}
		// No swap, so the limit is a hard one.
		_ = writeCgroupValue(cgroupPath, "memory.swap.max", "0")
	}
	return nil
}

func addProcessToCgroup(cgroupPath string, pid int) error {
	if pid <= 0 {
		return fmt.Errorf("invalid pid")
	}
	return writeCgroupValue(cgroupPath, "cgroup.procs", strconv.Itoa(pid))
}

func killCgroup(cgroupPath string) error {
	killPath := filepath.Join(cgroupPath, "cgroup.kill")
	if _, err := os.Stat(killPath); err != nil {
		return err
	}
	return os.WriteFile(killPath, []byte("1"), 0600)
}

// removeCgroup retries rmdir while the kernel finishes tearing down members.
func removeCgroup(cgroupPath string, attempts int, backoff time.Duration) error {
	if cgroupPath == "" {
		return nil
	}
	var err error
	for i := 0; i < attempts; i++ {
		err = os.Remove(cgroupPath)
		if err == nil || os.IsNotExist(err) {
			return nil
		}
		if !errors.Is(err, syscall.EBUSY) {
			return err
		}
		time.Sleep(backoff)
	}
	return err
}

func wasOomKilled(cgroupPath string) bool {
	if cgroupPath == "" {
		return false
	}
	data, err := os.ReadFile(filepath.Join(cgroupPath, "memory.events"))
	if err != nil {
		return false
	}
	for _, line := range strings.Split(string(data), "\n") {
		fields := strings.Fields(line)
		if len(fields) == 2 && fields[0] == "oom_kill" {
			val, _ := strconv.ParseInt(fields[1], 10, 64)
			return val > 0
		}
	}
	return false
}

func memoryPeakKB(cgroupPath string) int64 {
	if cgroupPath == "" {
		return 0
	}
	val, err := readCgroupInt(cgroupPath, "memory.peak")
	if err != nil {
		return 0
	}
	return val / 1024
}

func readCgroupInt(cgroupPath, name string) (int64, error) {
	data, err := os.ReadFile(filepath.Join(cgroupPath, name))
	if err != nil {
		return 0, err
	}
	return strconv.ParseInt(strings.TrimSpace(string(data)), 10, 64)
}

func writeCgroupValue(cgroupPath, name, value string) error {
	return os.WriteFile(filepath.Join(cgroupPath, name), []byte(value), 0640)
}
