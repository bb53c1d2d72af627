package launcher

import (
	"os/exec"
	"syscall"
)

// configureProcess hides the console window for the control-plane child
// and creates a new process group so a force-kill takes the whole tree.
func configureProcess(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		HideWindow:    true,
		CreationFlags: syscall.CREATE_NEW_PROCESS_GROUP,
	}
}
