//go:build windows

package executor

import (
	"os/exec"
	"syscall"
)

const createNewProcessGroup = 0x00000200

var (
	kernel32             = syscall.NewLazyDLL("kernel32.dll")
	procOpenProcess      = kernel32.NewProc("OpenProcess")
	procTerminateProcess = kernel32.NewProc("TerminateProcess")
	procCloseHandle      = kernel32.NewProc("CloseHandle")
)

const (
	processTerminate        = 0x0001
	processQueryInformation = 0x0400
)

func setSysProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{CreationFlags: createNewProcessGroup}
}

// terminate has no graceful equivalent on Windows; TerminateProcess is
// used for both the graceful and forced paths.
func terminate(pid int) error {
	return terminateProcess(pid)
}

func kill(pid int) {
	_ = terminateProcess(pid)
}

func alive(pid int) bool {
	if pid <= 0 {
		return false
	}
	handle, err := openProcess(processQueryInformation, uint32(pid))
	if err != nil {
		return false
	}
	_ = closeHandle(handle)
	return true
}

func terminateProcess(pid int) error {
	if pid <= 0 {
		return nil
	}
	handle, err := openProcess(processTerminate, uint32(pid))
	if err != nil {
		// cannot open: the process is already gone
		return nil
	}
	defer func() { _ = closeHandle(handle) }()
	ret, _, callErr := procTerminateProcess.Call(uintptr(handle), uintptr(1))
	if ret == 0 {
		return callErr
	}
	return nil
}

func openProcess(access uint32, processID uint32) (syscall.Handle, error) {
	ret, _, err := procOpenProcess.Call(uintptr(access), uintptr(0), uintptr(processID))
	if ret == 0 {
		return 0, err
	}
	return syscall.Handle(ret), nil
}

func closeHandle(handle syscall.Handle) error {
	ret, _, err := procCloseHandle.Call(uintptr(handle))
	if ret == 0 {
		return err
	}
	return nil
}
