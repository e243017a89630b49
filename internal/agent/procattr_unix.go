//go:build !windows

package agent

import "os/exec"

// newAgentCmd builds the agent subprocess command. On Unix the command runs
// directly; no process attributes are needed.
func newAgentCmd(command string, args []string) *exec.Cmd {
	return exec.Command(command, args...)
}
