//go:build !windows

package agent

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewAgentCmdRunsCommandDirectly(t *testing.T) {
	cmd := newAgentCmd("claude-code-acp", []string{"--verbose", "--port", "0"})

	require.Equal(t, []string{"claude-code-acp", "--verbose", "--port", "0"}, cmd.Args)
	require.Nil(t, cmd.SysProcAttr)
}
