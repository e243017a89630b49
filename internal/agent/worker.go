package agent

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	acp "github.com/coder/acp-go-sdk"
	"go.uber.org/zap"

	"github.com/agentx/agentx/internal/common/config"
	"github.com/agentx/agentx/internal/common/logger"
	"github.com/agentx/agentx/internal/events/bus"
)

// clientInfo identifies this host in the initialize handshake.
var clientInfo = acp.Implementation{
	Name:    "agentx",
	Version: "0.1.0",
}

// shutdownGrace is how long teardown waits for the subprocess to exit after
// the connection closes before killing it.
const shutdownGrace = 5 * time.Second

// worker owns one agent subprocess and its ACP connection. It is the only
// goroutine that touches either; everything else goes through the mailbox.
type worker struct {
	name        string
	cfg         config.AgentProcessConfig
	proxy       config.ProxyConfig
	bus         bus.EventBus
	permissions *PermissionStore
	logger      *logger.Logger
}

// spawnAgent starts the worker goroutine and waits for the subprocess to
// come up and complete the initialize handshake.
func spawnAgent(ctx context.Context, name string, cfg config.AgentProcessConfig, proxy config.ProxyConfig, eventBus bus.EventBus, permissions *PermissionStore, log *logger.Logger) (*AgentHandle, error) {
	w := &worker{
		name:        name,
		cfg:         cfg,
		proxy:       proxy,
		bus:         eventBus,
		permissions: permissions,
		logger:      log.WithAgent(name),
	}

	h := newAgentHandle(name)
	ready := make(chan error, 1)
	go w.run(h, ready)

	select {
	case err := <-ready:
		if err != nil {
			return nil, fmt.Errorf("failed to start agent %q: %w", name, err)
		}
		return h, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// run is the worker event loop. It signals startup success or failure on
// ready exactly once, then serves the mailbox until shutdown or until the
// connection dies. h.done is closed on the way out.
func (w *worker) run(h *AgentHandle, ready chan<- error) {
	defer close(h.done)

	if needsNodeRuntime(w.cfg) {
		if err := checkNodeRuntime(context.Background(), w.cfg.NodejsPath); err != nil {
			ready <- err
			return
		}
	}

	// NOTE: intentionally not CommandContext; the spawn context must not
	// kill the subprocess once startup completes.
	cmd := newAgentCmd(w.cfg.Command, w.cfg.Args)
	cmd.Env = buildEnv(w.cfg.Env, w.proxy.EnvVars())

	stdin, err := cmd.StdinPipe()
	if err != nil {
		ready <- fmt.Errorf("failed to create stdin pipe: %w", err)
		return
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		ready <- fmt.Errorf("failed to create stdout pipe: %w", err)
		return
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		ready <- fmt.Errorf("failed to create stderr pipe: %w", err)
		return
	}

	if err := cmd.Start(); err != nil {
		ready <- fmt.Errorf("failed to start agent process: %w", err)
		return
	}

	w.logger.Info("agent process started",
		zap.String("command", w.cfg.Command),
		zap.Int("pid", cmd.Process.Pid))

	var exited atomic.Bool
	var wg sync.WaitGroup
	wg.Add(2)
	go w.readStderr(&wg, stderr)
	go w.waitForExit(&wg, cmd, &exited)

	client := NewClient(w.name, w.bus, w.permissions, w.logger)
	conn := acp.NewClientSideConnection(client, stdin, stdout)
	conn.SetLogger(slog.Default().With("component", "acp-conn", "agent", w.name))

	initResp, err := conn.Initialize(context.Background(), acp.InitializeRequest{
		ProtocolVersion: acp.ProtocolVersionNumber,
		ClientInfo:      &clientInfo,
		ClientCapabilities: acp.ClientCapabilities{
			Fs: acp.FileSystemCapability{
				ReadTextFile:  false,
				WriteTextFile: false,
			},
		},
	})
	if err != nil {
		ready <- fmt.Errorf("initialize handshake failed: %w", err)
		w.teardown(stdin, cmd, &exited, &wg)
		return
	}

	h.initResp.Store(&initResp)

	agentName, agentVersion := "unknown", "unknown"
	if initResp.AgentInfo != nil {
		agentName = initResp.AgentInfo.Name
		agentVersion = initResp.AgentInfo.Version
	}
	w.logger.Info("agent initialized",
		zap.String("agent_name", agentName),
		zap.String("agent_version", agentVersion),
		zap.Bool("supports_load_session", initResp.AgentCapabilities.LoadSession))

	ready <- nil

	w.serve(h, conn, &exited)
	w.teardown(stdin, cmd, &exited, &wg)
}

// serve processes mailbox commands until shutdown or connection loss.
func (w *worker) serve(h *AgentHandle, conn *acp.ClientSideConnection, exited *atomic.Bool) {
	for {
		select {
		case cmd := <-h.commands:
			if done := w.handle(conn, exited, cmd); done {
				return
			}
		case <-conn.Done():
			w.logger.Warn("agent connection closed, stopping worker")
			return
		}
	}
}

// handle executes one command. Returns true when the worker should exit.
func (w *worker) handle(conn *acp.ClientSideConnection, exited *atomic.Bool, cmd agentCommand) bool {
	switch c := cmd.(type) {
	case newSessionCmd:
		if exited.Load() {
			c.reply <- result[acp.NewSessionResponse]{err: fmt.Errorf("agent %q: %w", w.name, ErrAgentExited)}
			return false
		}
		resp, err := conn.NewSession(c.ctx, c.req)
		c.reply <- result[acp.NewSessionResponse]{value: resp, err: err}

	case loadSessionCmd:
		resp, err := conn.LoadSession(c.ctx, c.req)
		c.reply <- result[acp.LoadSessionResponse]{value: resp, err: err}

	case promptCmd:
		// Served concurrently so Cancel is not starved while a turn runs.
		go func(c promptCmd) {
			resp, err := conn.Prompt(c.ctx, c.req)
			c.reply <- result[acp.PromptResponse]{value: resp, err: err}
		}(c)

	case cancelCmd:
		err := conn.Cancel(c.ctx, acp.CancelNotification{SessionId: c.sessionID})
		c.reply <- result[struct{}]{err: err}

	case setModeCmd:
		_, err := conn.SetSessionMode(c.ctx, c.req)
		c.reply <- result[struct{}]{err: err}

	case setModelCmd:
		_, err := conn.UnstableSetSessionModel(c.ctx, c.req)
		c.reply <- result[struct{}]{err: err}

	case shutdownCmd:
		c.reply <- result[struct{}]{}
		w.logger.Info("agent worker shutting down")
		return true
	}

	return false
}

// readStderr streams the agent's stderr into the log.
func (w *worker) readStderr(wg *sync.WaitGroup, stderr io.Reader) {
	defer wg.Done()

	scanner := bufio.NewScanner(stderr)
	for scanner.Scan() {
		w.logger.Debug("agent stderr", zap.String("line", scanner.Text()))
	}
	if err := scanner.Err(); err != nil {
		w.logger.Debug("stderr reader error", zap.Error(err))
	}
}

// waitForExit reaps the subprocess and records that it exited.
func (w *worker) waitForExit(wg *sync.WaitGroup, cmd *exec.Cmd, exited *atomic.Bool) {
	defer wg.Done()

	err := cmd.Wait()
	exited.Store(true)

	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			w.logger.Info("agent process exited",
				zap.Int("exit_code", exitErr.ExitCode()))
		} else {
			w.logger.Info("agent process exited with error", zap.Error(err))
		}
	} else {
		w.logger.Info("agent process exited cleanly")
	}
}

// teardown reaps the subprocess, killing it if it does not exit within the
// grace period. Closing stdin ends the connection; ACP agents exit when their
// stdin closes. Failures are logged, never propagated: shutdown always
// succeeds from the caller's perspective.
func (w *worker) teardown(stdin io.Closer, cmd *exec.Cmd, exited *atomic.Bool, wg *sync.WaitGroup) {
	if err := stdin.Close(); err != nil {
		w.logger.Debug("error closing agent stdin", zap.Error(err))
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(shutdownGrace):
		if !exited.Load() && cmd.Process != nil {
			w.logger.Warn("force killing agent process", zap.Int("pid", cmd.Process.Pid))
			if err := cmd.Process.Kill(); err != nil {
				w.logger.Warn("failed to kill agent process", zap.Error(err))
			}
		}
		<-done
	}
}

// buildEnv layers the per-agent environment and proxy variables over the
// host environment. Later entries win for duplicate keys.
func buildEnv(agentEnv, proxyEnv map[string]string) []string {
	env := os.Environ()
	for k, v := range agentEnv {
		env = append(env, k+"="+v)
	}
	for k, v := range proxyEnv {
		env = append(env, k+"="+v)
	}
	return env
}
