// Package session — listing and summarising stored sessions.
package session

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// DefaultSessionsDir returns the platform-appropriate directory for session files.
func DefaultSessionsDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "agentloop", "sessions")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "agentloop", "sessions")
}

// ---------------------------------------------------------------------------
// Info — lightweight summary for listing
// ---------------------------------------------------------------------------

// Info is a lightweight summary of a session, used for listing sessions.
type Info struct {
	ID           string    // session UUID (full)
	Path         string    // absolute path to the JSONL file
	CWD          string    // working directory at creation
	Created      time.Time // parsed from the header timestamp
	EventCount   int       // number of event records
	FirstMessage string    // text of the first user message (truncated)
	Completed    bool      // an agent_end event has been recorded
}

// List returns summary info for all sessions in dir, sorted newest-first.
func List(dir string) ([]Info, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("session list: %w", err)
	}

	var infos []Info
	for _, e := range entries {
		if !strings.HasSuffix(e.Name(), ".jsonl") {
			continue
		}
		path := filepath.Join(dir, e.Name())
		info, err := readInfo(path)
		if err != nil {
			continue // skip malformed files
		}
		infos = append(infos, info)
	}

	sort.Slice(infos, func(i, j int) bool {
		return infos[i].Created.After(infos[j].Created)
	})
	return infos, nil
}

func readInfo(path string) (Info, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Info{}, err
	}

	info := Info{Path: path}
	for _, line := range splitLines(data) {
		typ, raw, err := ParseLine([]byte(line))
		if err != nil {
			continue
		}
		switch typ {
		case EntryTypeSession:
			var h Header
			if err := json.Unmarshal(raw, &h); err == nil {
				info.ID = h.ID
				info.CWD = h.CWD
				if t, err := time.Parse(time.RFC3339, h.Timestamp); err == nil {
					info.Created = t
				}
			}
		case EntryTypeEvent:
			info.EventCount++
			var e Event
			if err := json.Unmarshal(raw, &e); err != nil {
				continue
			}
			if e.Kind == KindAgentEnd {
				info.Completed = true
			}
			if info.FirstMessage == "" && e.Kind == KindMessageEnd {
				info.FirstMessage = firstUserText(e.Payload)
			}
		}
	}

	if info.ID == "" {
		return Info{}, fmt.Errorf("no session header in %s", path)
	}
	return info, nil
}

// firstUserText extracts the first text snippet from a message payload when
// the message is a user message.
func firstUserText(payload json.RawMessage) string {
	var probe struct {
		Role    string `json:"role"`
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
	}
	if err := json.Unmarshal(payload, &probe); err != nil || probe.Role != "user" {
		return ""
	}
	for _, c := range probe.Content {
		if c.Type == "text" && c.Text != "" {
			if len(c.Text) > 80 {
				return c.Text[:77] + "..."
			}
			return c.Text
		}
	}
	return ""
}
