package persistence

import (
	"strings"
	"time"

	acp "github.com/coder/acp-go-sdk"
)

// chunkKind identifies which streaming kind the text buffer holds.
type chunkKind int

const (
	chunkNone chunkKind = iota
	chunkUserMessage
	chunkAgentMessage
	chunkAgentThought
)

// toolCallState tracks one in-flight tool call: the timestamp of the first
// update seen for it and the latest update received.
type toolCallState struct {
	firstSeen time.Time
	latest    acp.SessionUpdate
}

// accumulator merges streaming session updates for one session before they
// hit the journal. Text chunks of the same kind concatenate into a single
// record stamped with the first chunk's timestamp; tool-call updates collapse
// to the latest state per tool call ID. At most one streaming kind is
// buffered at a time.
type accumulator struct {
	kind       chunkKind
	text       strings.Builder
	first      acp.SessionUpdate
	firstChunk time.Time

	toolCalls map[string]*toolCallState
	order     []string
}

func newAccumulator() *accumulator {
	return &accumulator{
		toolCalls: make(map[string]*toolCallState),
	}
}

// record is an entry ready to be appended to the journal.
type record struct {
	timestamp time.Time
	update    acp.SessionUpdate
}

// addChunk feeds one streaming text chunk. A kind switch or non-text content
// flushes the buffer first; non-text chunks are returned as immediate
// records.
func (a *accumulator) addChunk(kind chunkKind, update acp.SessionUpdate, content acp.ContentBlock, now time.Time) []record {
	var out []record

	if content.Text == nil {
		// Non-text content is not merged; emit pending text first, then
		// the chunk as-is.
		out = append(out, a.flushChunks()...)
		out = append(out, record{timestamp: now, update: update})
		return out
	}

	if a.kind != chunkNone && a.kind != kind {
		out = append(out, a.flushChunks()...)
	}

	if a.kind == chunkNone {
		a.kind = kind
		a.first = update
		a.firstChunk = now
	}
	a.text.WriteString(content.Text.Text)

	return out
}

// addToolCallUpdate feeds one tool_call_update. Terminal statuses bypass
// accumulation: the update is emitted immediately, stamped with the first
// time this tool call was seen (or now, if never seen). Non-terminal updates
// replace the stored latest state.
func (a *accumulator) addToolCallUpdate(update acp.SessionUpdate, now time.Time) []record {
	tc := update.ToolCallUpdate
	id := string(tc.ToolCallId)

	if tc.Status != nil {
		status := string(*tc.Status)
		if status == "completed" || status == "failed" {
			timestamp := now
			if state, ok := a.toolCalls[id]; ok {
				timestamp = state.firstSeen
				delete(a.toolCalls, id)
				a.dropFromOrder(id)
			}
			return []record{{timestamp: timestamp, update: update}}
		}
	}

	if state, ok := a.toolCalls[id]; ok {
		state.latest = update
	} else {
		a.toolCalls[id] = &toolCallState{firstSeen: now, latest: update}
		a.order = append(a.order, id)
	}

	return nil
}

// flushChunks drains the text buffer only. Pending tool calls stay put.
func (a *accumulator) flushChunks() []record {
	if a.kind == chunkNone {
		return nil
	}

	merged := mergeTextChunk(a.first, a.text.String())
	rec := record{timestamp: a.firstChunk, update: merged}

	a.kind = chunkNone
	a.text.Reset()
	a.first = acp.SessionUpdate{}
	a.firstChunk = time.Time{}

	return []record{rec}
}

// flushAll drains the text buffer and every pending tool-call update, tool
// calls in first-seen order.
func (a *accumulator) flushAll() []record {
	out := a.flushChunks()

	for _, id := range a.order {
		state, ok := a.toolCalls[id]
		if !ok {
			continue
		}
		out = append(out, record{timestamp: state.firstSeen, update: state.latest})
	}
	a.toolCalls = make(map[string]*toolCallState)
	a.order = nil

	return out
}

// pending reports whether the accumulator holds any unflushed state.
func (a *accumulator) pending() bool {
	return a.kind != chunkNone || len(a.toolCalls) > 0
}

func (a *accumulator) dropFromOrder(id string) {
	for i, v := range a.order {
		if v == id {
			a.order = append(a.order[:i], a.order[i+1:]...)
			return
		}
	}
}

// mergeTextChunk rebuilds the first buffered update with the concatenated
// text as its content, preserving the update's kind.
func mergeTextChunk(first acp.SessionUpdate, text string) acp.SessionUpdate {
	switch {
	case first.UserMessageChunk != nil:
		chunk := *first.UserMessageChunk
		chunk.Content = acp.TextBlock(text)
		return acp.SessionUpdate{UserMessageChunk: &chunk}
	case first.AgentMessageChunk != nil:
		chunk := *first.AgentMessageChunk
		chunk.Content = acp.TextBlock(text)
		return acp.SessionUpdate{AgentMessageChunk: &chunk}
	case first.AgentThoughtChunk != nil:
		chunk := *first.AgentThoughtChunk
		chunk.Content = acp.TextBlock(text)
		return acp.SessionUpdate{AgentThoughtChunk: &chunk}
	default:
		return first
	}
}
