// Package session manages persistent agent event logs stored as JSONL files.
//
// Each session is one JSONL file:
//   - Line 1: Header (type=session, id, version, cwd, timestamp)
//   - Lines 2+: Event records (one per line), with strictly increasing
//     ordinals starting at 1
//
// The log is append-only: events are never mutated or deleted. Appends
// within one session are serialised; distinct sessions are independent
// files and do not contend.
//
// Usage:
//
//	// Create new session
//	log, _ := session.Create("~/.config/agentloop/sessions", ".")
//
//	// Append events as the loop emits them
//	log.Append(kind, payload)
//
//	// Later: resume
//	log, _ = session.Open("~/.config/agentloop/sessions", sessionID)
//	msgs, _ := log.Reconstruct()
package session

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/calderhq/agentloop/pkg/ai"
)

// Log is an open session event log. Appends are serialised by the mutex; a
// successful Append has been flushed to the file and survives restart.
type Log struct {
	mu      sync.Mutex
	f       *os.File
	w       *bufio.Writer
	id      string
	cwd     string
	dir     string
	nextOrd uint64 // ordinal the next append will receive
}

// ID returns the session's UUID.
func (l *Log) ID() string { return l.id }

// CWD returns the working directory the session was created in.
func (l *Log) CWD() string { return l.cwd }

// FilePath returns the absolute path to the session's JSONL file.
func (l *Log) FilePath() string { return l.f.Name() }

// ---------------------------------------------------------------------------
// Creating and opening logs
// ---------------------------------------------------------------------------

// Create opens a new session file in dir, writes the header, and returns the
// log. cwd is the working directory at session start.
func Create(dir, cwd string) (*Log, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("session: mkdir %s: %w", dir, err)
	}

	id := uuid.New().String()
	name := fmt.Sprintf("%s-%s.jsonl",
		time.Now().UTC().Format("20060102-150405"),
		id[:8],
	)
	path := filepath.Join(dir, name)

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("session: create %s: %w", path, err)
	}

	l := &Log{f: f, w: bufio.NewWriter(f), id: id, cwd: cwd, dir: dir, nextOrd: 1}

	header := Header{
		Type:      EntryTypeSession,
		ID:        id,
		Version:   currentVersion,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		CWD:       cwd,
	}
	if err := l.writeLine(header); err != nil {
		f.Close()
		return nil, err
	}

	return l, nil
}

// Open opens an existing session file by ID prefix (first 8 chars of the
// UUID), replays it to restore the next ordinal, and returns a log ready
// for appending.
func Open(dir, idPrefix string) (*Log, error) {
	path, err := findSessionFile(dir, idPrefix)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("session: read %s: %w", path, err)
	}

	var id, cwd string
	var lastOrd uint64
	for _, line := range splitLines(data) {
		typ, raw, err := ParseLine([]byte(line))
		if err != nil {
			continue
		}
		switch typ {
		case EntryTypeSession:
			var h Header
			if err := json.Unmarshal(raw, &h); err == nil {
				id = h.ID
				cwd = h.CWD
			}
		case EntryTypeEvent:
			var e Event
			if err := json.Unmarshal(raw, &e); err == nil && e.Ordinal > lastOrd {
				lastOrd = e.Ordinal
			}
		}
	}
	if id == "" {
		return nil, fmt.Errorf("session: no header in %s", path)
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("session: open %s for append: %w", path, err)
	}

	return &Log{
		f:       f,
		w:       bufio.NewWriter(f),
		id:      id,
		cwd:     cwd,
		dir:     dir,
		nextOrd: lastOrd + 1,
	}, nil
}

// ---------------------------------------------------------------------------
// Appending events
// ---------------------------------------------------------------------------

// Append assigns the next ordinal, durably records (ordinal, kind, payload,
// timestamp), and returns the assigned ordinal. payload may be nil.
func (l *Log) Append(kind string, payload json.RawMessage) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	ev := Event{
		Type:      EntryTypeEvent,
		Ordinal:   l.nextOrd,
		Kind:      kind,
		Payload:   payload,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	if err := l.writeLine(ev); err != nil {
		return 0, err
	}
	l.nextOrd++
	return ev.Ordinal, nil
}

// AppendMessage is a convenience for the two message-bearing event kinds:
// it serialises msg as the event payload.
func (l *Log) AppendMessage(kind string, msg ai.Message) (uint64, error) {
	raw, err := ai.MarshalMessage(msg)
	if err != nil {
		return 0, fmt.Errorf("session: marshal message: %w", err)
	}
	return l.Append(kind, raw)
}

// Close flushes and closes the session file.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.w.Flush(); err != nil {
		return err
	}
	return l.f.Close()
}

// ---------------------------------------------------------------------------
// Replay / reconstruct
// ---------------------------------------------------------------------------

// Replay returns the session's events in ordinal order.
func (l *Log) Replay() ([]Event, error) {
	l.mu.Lock()
	path := l.f.Name()
	l.mu.Unlock()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("session: read %s: %w", path, err)
	}
	return ParseEvents(data)
}

// Reconstruct folds the event log back into the committed message list:
// every message_end event contributes one message in emission order, and
// every tool_execution_end contributes the tool-result message it carries
// (which the loop emits immediately after the triggering assistant message).
// Other event kinds are not materialised.
func (l *Log) Reconstruct() ([]ai.Message, error) {
	events, err := l.Replay()
	if err != nil {
		return nil, err
	}
	return ReconstructMessages(events)
}

// ParseEvents parses a raw JSONL session file into its events, in file
// order (which is ordinal order for a well-formed log).
func ParseEvents(data []byte) ([]Event, error) {
	var events []Event
	for _, line := range splitLines(data) {
		typ, raw, err := ParseLine([]byte(line))
		if err != nil || typ != EntryTypeEvent {
			continue
		}
		var e Event
		if err := json.Unmarshal(raw, &e); err != nil {
			continue
		}
		events = append(events, e)
	}
	return events, nil
}

// ReconstructMessages folds a replayed event sequence into messages.
func ReconstructMessages(events []Event) ([]ai.Message, error) {
	var msgs []ai.Message
	for _, ev := range events {
		switch ev.Kind {
		case KindMessageEnd, KindToolExecutionEnd:
			if len(ev.Payload) == 0 {
				continue
			}
			msg, err := ai.UnmarshalAnyMessage(ev.Payload)
			if err != nil {
				return nil, fmt.Errorf("session: event %d: %w", ev.Ordinal, err)
			}
			msgs = append(msgs, msg)
		}
	}
	return msgs, nil
}

// ---------------------------------------------------------------------------
// Internal helpers
// ---------------------------------------------------------------------------

func (l *Log) writeLine(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("session: marshal entry: %w", err)
	}
	if _, err := l.w.Write(data); err != nil {
		return fmt.Errorf("session: write: %w", err)
	}
	if err := l.w.WriteByte('\n'); err != nil {
		return fmt.Errorf("session: write newline: %w", err)
	}
	return l.w.Flush()
}

func splitLines(data []byte) []string {
	var out []string
	for _, line := range strings.Split(strings.TrimSpace(string(data)), "\n") {
		if line != "" {
			out = append(out, line)
		}
	}
	return out
}

// findSessionFile locates a session file matching the given ID prefix.
func findSessionFile(dir, idPrefix string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", fmt.Errorf("session: read dir %s: %w", dir, err)
	}
	for _, e := range entries {
		if strings.Contains(e.Name(), idPrefix) && strings.HasSuffix(e.Name(), ".jsonl") {
			return filepath.Join(dir, e.Name()), nil
		}
	}
	return "", fmt.Errorf("session: no session found matching %q in %s", idPrefix, dir)
}
