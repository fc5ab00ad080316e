// Package session — JSONL event log entry types.
package session

import (
	"encoding/json"
	"fmt"
)

const currentVersion = 1

// EntryType identifies the kind of JSONL line.
type EntryType string

const (
	EntryTypeSession EntryType = "session"
	EntryTypeEvent   EntryType = "event"
)

// Event kinds that Reconstruct folds into messages. The full kind set is
// whatever the agent loop emits; the log stores kinds opaquely.
const (
	KindMessageEnd       = "message_end"
	KindToolExecutionEnd = "tool_execution_end"
	KindAgentEnd         = "agent_end"
)

// ---------------------------------------------------------------------------
// Header (first line of every session file)
// ---------------------------------------------------------------------------

// Header is the first line written to every session file.
type Header struct {
	Type      EntryType `json:"type"`      // "session"
	ID        string    `json:"id"`        // session UUID
	Version   int       `json:"version"`   // format version
	Timestamp string    `json:"timestamp"` // ISO 8601
	CWD       string    `json:"cwd"`       // working directory at creation
}

// ---------------------------------------------------------------------------
// Event
// ---------------------------------------------------------------------------

// Event is one immutable lifecycle record. Ordinals are assigned by the log
// on append, start at 1, and strictly increase within a session. An event is
// never mutated or deleted after a successful append.
type Event struct {
	Type      EntryType       `json:"type"` // "event"
	Ordinal   uint64          `json:"ordinal"`
	Kind      string          `json:"kind"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp string          `json:"timestamp"` // ISO 8601
}

// ---------------------------------------------------------------------------
// Generic line parser
// ---------------------------------------------------------------------------

// ParseLine peeks at the "type" field of a JSONL line and returns the
// strongly-typed entry.
func ParseLine(line []byte) (EntryType, json.RawMessage, error) {
	var probe struct {
		Type EntryType `json:"type"`
	}
	if err := json.Unmarshal(line, &probe); err != nil {
		return "", nil, fmt.Errorf("parse entry type: %w", err)
	}
	return probe.Type, json.RawMessage(line), nil
}
