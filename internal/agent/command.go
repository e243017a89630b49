package agent

import (
	"context"

	acp "github.com/coder/acp-go-sdk"
)

// result carries a command reply back to the caller.
type result[T any] struct {
	value T
	err   error
}

// agentCommand is a message on the worker mailbox.
type agentCommand interface {
	commandName() string
}

type newSessionCmd struct {
	ctx   context.Context
	req   acp.NewSessionRequest
	reply chan result[acp.NewSessionResponse]
}

type loadSessionCmd struct {
	ctx   context.Context
	req   acp.LoadSessionRequest
	reply chan result[acp.LoadSessionResponse]
}

type promptCmd struct {
	ctx   context.Context
	req   acp.PromptRequest
	reply chan result[acp.PromptResponse]
}

type cancelCmd struct {
	ctx       context.Context
	sessionID acp.SessionId
	reply     chan result[struct{}]
}

type setModeCmd struct {
	ctx   context.Context
	req   acp.SetSessionModeRequest
	reply chan result[struct{}]
}

type setModelCmd struct {
	ctx   context.Context
	req   acp.UnstableSetSessionModelRequest
	reply chan result[struct{}]
}

type shutdownCmd struct {
	reply chan result[struct{}]
}

func (newSessionCmd) commandName() string  { return "new_session" }
func (loadSessionCmd) commandName() string { return "load_session" }
func (promptCmd) commandName() string      { return "prompt" }
func (cancelCmd) commandName() string      { return "cancel" }
func (setModeCmd) commandName() string     { return "set_session_mode" }
func (setModelCmd) commandName() string    { return "set_session_model" }
func (shutdownCmd) commandName() string    { return "shutdown" }
