package agent

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/agentx/agentx/internal/common/config"
)

func TestNeedsNodeRuntime(t *testing.T) {
	cases := []struct {
		name    string
		command string
		want    bool
	}{
		{"js entry point", "/opt/agents/agent.js", true},
		{"ts entry point", "agent.TS", true},
		{"node invocation", "node", true},
		{"node in path", "/usr/local/bin/node", true},
		{"npx invocation", "npx @zed-industries/claude-code-acp", true},
		{"native binary", "/usr/local/bin/gemini", false},
		{"empty command", "", false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := needsNodeRuntime(config.AgentProcessConfig{Command: tc.command})
			assert.Equal(t, tc.want, got)
		})
	}
}
