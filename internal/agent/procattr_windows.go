//go:build windows

package agent

import (
	"os/exec"
	"syscall"
)

// createNoWindow stops the subprocess from opening a console window.
const createNoWindow = 0x08000000

// newAgentCmd builds the agent subprocess command. On Windows agents are
// typically installed as .cmd shims, which only resolve through the shell,
// so the command runs via cmd /C with console window creation suppressed.
func newAgentCmd(command string, args []string) *exec.Cmd {
	cmdArgs := append([]string{"/C", command}, args...)
	cmd := exec.Command("cmd", cmdArgs...)
	cmd.SysProcAttr = &syscall.SysProcAttr{
		HideWindow:    true,
		CreationFlags: createNoWindow,
	}
	return cmd
}
