// Package persistence stores session transcripts as JSONL journals, one file
// per session. Streaming updates pass through a per-session accumulator so
// the journal holds whole messages instead of individual chunks.
package persistence

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	acp "github.com/coder/acp-go-sdk"
	"go.uber.org/zap"

	"github.com/agentx/agentx/internal/common/logger"
)

// maxLineSize bounds a single journal line when loading.
const maxLineSize = 4 * 1024 * 1024

// PersistedMessage is one journal entry.
type PersistedMessage struct {
	Timestamp time.Time         `json:"timestamp"`
	Update    acp.SessionUpdate `json:"update"`
}

// Service persists session updates to per-session JSONL files under a base
// directory. The mutex guards accumulator state only; file I/O happens
// outside the lock.
type Service struct {
	dir    string
	logger *logger.Logger

	mu           sync.Mutex
	accumulators map[string]*accumulator
}

// NewService creates the journal directory if needed and returns a service.
func NewService(dir string, log *logger.Logger) (*Service, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create journal directory %s: %w", dir, err)
	}

	return &Service{
		dir:          dir,
		logger:       log.WithFields(zap.String("component", "persistence")),
		accumulators: make(map[string]*accumulator),
	}, nil
}

// Dir returns the journal base directory.
func (s *Service) Dir() string {
	return s.dir
}

// SaveUpdate feeds one session update into the journal. Agent message and
// thought chunks accumulate; user message chunks and non-streaming updates
// flush pending text and are written immediately; tool-call updates collapse
// per tool call until a terminal status arrives.
func (s *Service) SaveUpdate(sessionID string, update acp.SessionUpdate) error {
	now := time.Now().UTC()

	s.mu.Lock()
	acc := s.accumulator(sessionID)

	var records []record
	switch {
	case update.UserMessageChunk != nil:
		records = append(records, acc.flushChunks()...)
		records = append(records, record{timestamp: now, update: update})
	case update.AgentMessageChunk != nil:
		records = acc.addChunk(chunkAgentMessage, update, update.AgentMessageChunk.Content, now)
	case update.AgentThoughtChunk != nil:
		records = acc.addChunk(chunkAgentThought, update, update.AgentThoughtChunk.Content, now)
	case update.ToolCallUpdate != nil:
		records = acc.addToolCallUpdate(update, now)
	default:
		records = append(records, acc.flushChunks()...)
		records = append(records, record{timestamp: now, update: update})
	}
	s.mu.Unlock()

	return s.appendRecords(sessionID, records)
}

// FlushSession writes all accumulated state for the session to its journal.
func (s *Service) FlushSession(sessionID string) error {
	s.mu.Lock()
	acc, ok := s.accumulators[sessionID]
	var records []record
	if ok {
		records = acc.flushAll()
	}
	s.mu.Unlock()

	return s.appendRecords(sessionID, records)
}

// LoadMessages returns the persisted messages for a session in order. A
// missing journal yields an empty slice; corrupt lines are skipped with a
// warning.
func (s *Service) LoadMessages(sessionID string) ([]PersistedMessage, error) {
	path, err := s.sessionFile(sessionID)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return []PersistedMessage{}, nil
		}
		return nil, fmt.Errorf("failed to open journal for session %s: %w", sessionID, err)
	}
	defer f.Close()

	var messages []PersistedMessage
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)

	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		var msg PersistedMessage
		if err := json.Unmarshal([]byte(line), &msg); err != nil {
			s.logger.Warn("skipping corrupt journal line",
				zap.String("session_id", sessionID),
				zap.Int("line", lineNo),
				zap.Error(err))
			continue
		}
		messages = append(messages, msg)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read journal for session %s: %w", sessionID, err)
	}

	if messages == nil {
		messages = []PersistedMessage{}
	}
	return messages, nil
}

// DeleteSession flushes and drops the session's accumulator, then removes
// its journal file. A missing file is not an error.
func (s *Service) DeleteSession(sessionID string) error {
	s.mu.Lock()
	acc, ok := s.accumulators[sessionID]
	var records []record
	if ok {
		records = acc.flushAll()
	}
	delete(s.accumulators, sessionID)
	s.mu.Unlock()

	if err := s.appendRecords(sessionID, records); err != nil {
		return err
	}

	path, err := s.sessionFile(sessionID)
	if err != nil {
		return err
	}

	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete journal for session %s: %w", sessionID, err)
	}

	s.logger.Info("deleted session journal", zap.String("session_id", sessionID))
	return nil
}

// ListSessions returns the IDs of all sessions with a journal file.
func (s *Service) ListSessions() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read journal directory: %w", err)
	}

	sessions := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !strings.HasSuffix(name, ".jsonl") {
			continue
		}
		sessions = append(sessions, strings.TrimSuffix(name, ".jsonl"))
	}
	return sessions, nil
}

// SessionFileExists reports whether the session has a journal file.
func (s *Service) SessionFileExists(sessionID string) bool {
	path, err := s.sessionFile(sessionID)
	if err != nil {
		return false
	}
	_, err = os.Stat(path)
	return err == nil
}

// HasPending reports whether the session has unflushed accumulated state.
func (s *Service) HasPending(sessionID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	acc, ok := s.accumulators[sessionID]
	return ok && acc.pending()
}

// accumulator returns the session's accumulator, creating it if needed.
// Callers must hold s.mu.
func (s *Service) accumulator(sessionID string) *accumulator {
	acc, ok := s.accumulators[sessionID]
	if !ok {
		acc = newAccumulator()
		s.accumulators[sessionID] = acc
	}
	return acc
}

// appendRecords writes journal lines for the session.
func (s *Service) appendRecords(sessionID string, records []record) error {
	if len(records) == 0 {
		return nil
	}

	path, err := s.sessionFile(sessionID)
	if err != nil {
		return err
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open journal for session %s: %w", sessionID, err)
	}
	defer f.Close()

	for _, rec := range records {
		line, err := json.Marshal(PersistedMessage{
			Timestamp: rec.timestamp,
			Update:    rec.update,
		})
		if err != nil {
			return fmt.Errorf("failed to encode journal entry: %w", err)
		}
		if _, err := f.Write(append(line, '\n')); err != nil {
			return fmt.Errorf("failed to write journal for session %s: %w", sessionID, err)
		}
	}

	return nil
}

// sessionFile maps a session ID to its journal path, rejecting IDs that
// would escape the journal directory.
func (s *Service) sessionFile(sessionID string) (string, error) {
	if sessionID == "" || sessionID != filepath.Base(sessionID) || strings.HasPrefix(sessionID, ".") {
		return "", fmt.Errorf("invalid session ID: %q", sessionID)
	}
	return filepath.Join(s.dir, sessionID+".jsonl"), nil
}
