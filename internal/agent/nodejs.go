package agent

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/agentx/agentx/internal/common/config"
)

// nodeProbeTimeout bounds the runtime version check at startup.
const nodeProbeTimeout = 10 * time.Second

// needsNodeRuntime reports whether the agent command depends on a Node.js
// runtime: a .js/.ts entry point, or a command invoking node or npx.
func needsNodeRuntime(cfg config.AgentProcessConfig) bool {
	command := strings.ToLower(cfg.Command)
	if strings.HasSuffix(command, ".js") || strings.HasSuffix(command, ".ts") {
		return true
	}
	return strings.Contains(command, "node") || strings.Contains(command, "npx")
}

// checkNodeRuntime probes the Node.js runtime the agent will be launched
// with. A custom binary path takes precedence over PATH lookup.
func checkNodeRuntime(ctx context.Context, nodejsPath string) error {
	bin := nodejsPath
	if bin == "" {
		bin = "node"
	}

	if _, err := exec.LookPath(bin); err != nil {
		return fmt.Errorf("node.js runtime not found (%s): %w", bin, err)
	}

	probeCtx, cancel := context.WithTimeout(ctx, nodeProbeTimeout)
	defer cancel()

	out, err := exec.CommandContext(probeCtx, bin, "--version").Output()
	if err != nil {
		return fmt.Errorf("node.js runtime check failed (%s --version): %w", bin, err)
	}

	version := strings.TrimSpace(string(out))
	if !strings.HasPrefix(version, "v") {
		return fmt.Errorf("unexpected node.js version output: %q", version)
	}

	return nil
}
