//go:build !windows

package executor

import (
	"bytes"
	"os"
	"os/exec"
	"strconv"
	"syscall"
)

// setSysProcAttr places the worker in its own process group so signals
// reach the whole tree, not just the interpreter.
func setSysProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

// terminate sends SIGTERM to the worker's process group.
func terminate(pid int) error {
	return syscall.Kill(-pid, syscall.SIGTERM)
}

// kill sends SIGKILL to the worker's process group.
func kill(pid int) {
	_ = syscall.Kill(-pid, syscall.SIGKILL)
}

// alive probes liveness without reaping. A zombie counts as dead: the
// waiter goroutine owns the reap.
func alive(pid int) bool {
	if pid <= 0 {
		return false
	}
	if isZombie(pid) {
		return false
	}
	return syscall.Kill(pid, 0) == nil
}

// isZombie returns true if /proc/<pid>/status reports state Z (Linux only;
// the file does not exist elsewhere and the check degrades to false).
func isZombie(pid int) bool {
	b, err := os.ReadFile("/proc/" + strconv.Itoa(pid) + "/status")
	if err != nil {
		return false
	}
	return bytes.Contains(b, []byte("State:\tZ"))
}
