// Package main implements a mock agent binary that speaks the ACP JSON-RPC
// protocol over stdin/stdout. It generates simulated responses for manual
// testing of the daemon without a real agent installed.
package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"
)

func main() {
	a := newAgent(os.Stdout)

	scanner := bufio.NewScanner(os.Stdin)
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 10*1024*1024)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var msg rpcMessage
		if err := json.Unmarshal(line, &msg); err != nil {
			continue
		}
		a.dispatch(msg)
	}

	if err := scanner.Err(); err != nil {
		fmt.Fprintf(os.Stderr, "mock-agent: scanner error: %v\n", err)
		os.Exit(1)
	}
}

// rpcMessage is a loosely-typed incoming JSON-RPC message.
type rpcMessage struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      *json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

type agent struct {
	mu  sync.Mutex
	enc *json.Encoder

	sessions  map[string]bool
	cancelled map[string]bool
	nextID    int
}

func newAgent(out *os.File) *agent {
	return &agent{
		enc:       json.NewEncoder(out),
		sessions:  make(map[string]bool),
		cancelled: make(map[string]bool),
	}
}

// write serializes one outgoing message. All writers share the encoder.
func (a *agent) write(v interface{}) {
	a.mu.Lock()
	defer a.mu.Unlock()
	_ = a.enc.Encode(v)
}

func (a *agent) respond(id *json.RawMessage, result interface{}) {
	a.write(map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      id,
		"result":  result,
	})
}

func (a *agent) respondError(id *json.RawMessage, code int, message string) {
	a.write(map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      id,
		"error":   map[string]interface{}{"code": code, "message": message},
	})
}

func (a *agent) dispatch(msg rpcMessage) {
	switch msg.Method {
	case "initialize":
		a.respond(msg.ID, map[string]interface{}{
			"protocolVersion": 1,
			"agentInfo": map[string]interface{}{
				"name":    "mock-agent",
				"version": "0.1.0",
			},
			"agentCapabilities": map[string]interface{}{
				"loadSession": true,
			},
		})

	case "session/new":
		sessionID := a.newSessionID()
		a.mu.Lock()
		a.sessions[sessionID] = true
		a.mu.Unlock()
		a.respond(msg.ID, map[string]interface{}{"sessionId": sessionID})

	case "session/load":
		var params struct {
			SessionID string `json:"sessionId"`
		}
		_ = json.Unmarshal(msg.Params, &params)
		a.mu.Lock()
		a.sessions[params.SessionID] = true
		a.mu.Unlock()
		a.respond(msg.ID, map[string]interface{}{})

	case "session/prompt":
		var params struct {
			SessionID string `json:"sessionId"`
		}
		_ = json.Unmarshal(msg.Params, &params)
		// Served concurrently, like a real agent: the host can still send
		// session/cancel while the turn is in flight.
		go a.runTurn(msg.ID, params.SessionID)

	case "session/cancel":
		var params struct {
			SessionID string `json:"sessionId"`
		}
		_ = json.Unmarshal(msg.Params, &params)
		a.mu.Lock()
		a.cancelled[params.SessionID] = true
		a.mu.Unlock()

	case "session/set_mode", "session/set_model":
		a.respond(msg.ID, map[string]interface{}{})

	default:
		if msg.ID != nil {
			a.respondError(msg.ID, -32601, "method not found: "+msg.Method)
		}
	}
}

func (a *agent) newSessionID() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.nextID++
	return fmt.Sprintf("mock-session-%d-%d", os.Getpid(), a.nextID)
}

// runTurn emits a scripted response: a thought, a tool call that completes,
// and a streamed message, then the prompt result.
func (a *agent) runTurn(id *json.RawMessage, sessionID string) {
	a.mu.Lock()
	a.cancelled[sessionID] = false
	a.mu.Unlock()

	a.notifyUpdate(sessionID, map[string]interface{}{
		"sessionUpdate": "agent_thought_chunk",
		"content":       textBlock("Considering the request."),
	})

	toolCallID := fmt.Sprintf("tool-%d", time.Now().UnixNano())
	a.notifyUpdate(sessionID, map[string]interface{}{
		"sessionUpdate": "tool_call_update",
		"toolCallId":    toolCallID,
		"status":        "in_progress",
		"title":         "Simulated work",
	})

	for _, word := range []string{"This ", "is ", "a ", "mock ", "response."} {
		if a.isCancelled(sessionID) {
			a.respond(id, map[string]interface{}{"stopReason": "cancelled"})
			return
		}
		a.notifyUpdate(sessionID, map[string]interface{}{
			"sessionUpdate": "agent_message_chunk",
			"content":       textBlock(word),
		})
		time.Sleep(50 * time.Millisecond)
	}

	a.notifyUpdate(sessionID, map[string]interface{}{
		"sessionUpdate": "tool_call_update",
		"toolCallId":    toolCallID,
		"status":        "completed",
	})

	a.respond(id, map[string]interface{}{"stopReason": "end_turn"})
}

func (a *agent) isCancelled(sessionID string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cancelled[sessionID]
}

func (a *agent) notifyUpdate(sessionID string, update map[string]interface{}) {
	a.write(map[string]interface{}{
		"jsonrpc": "2.0",
		"method":  "session/update",
		"params": map[string]interface{}{
			"sessionId": sessionID,
			"update":    update,
		},
	})
}

func textBlock(text string) map[string]interface{} {
	return map[string]interface{}{"type": "text", "text": text}
}
