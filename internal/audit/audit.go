// Package audit implements the append-only JSONL audit trail every
// dispatched tool call writes to, and the filtered reads the audit_log tool
// exposes back to the agent.
package audit

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Result is the coarse outcome of a dispatched tool call.
type Result string

const (
	ResultSuccess Result = "success"
	ResultDenied  Result = "denied"
	ResultError   Result = "error"
)

// Action is the closed category an entry's Tool falls under. Tool names the
// specific dispatched operation (e.g. "http_request"); Action groups tools
// by the kind of thing they do, for coarse filtering and reporting.
type Action string

const (
	ActionLifecycle Action = "lifecycle" // vault_unlock, vault_lock
	ActionDiscovery Action = "discovery" // credential_list, credential_search, credential_info
	ActionMutate    Action = "mutate"    // credential_store, credential_delete
	ActionProxy     Action = "proxy"     // http_request, ssh_exec, sql_query, send_email
	ActionAudit     Action = "audit"     // audit_log
)

// Entry is one audit record. Detail never carries secret material — callers
// populate it with request shape (host, command, recipient) rather than
// credential contents.
type Entry struct {
	Timestamp      time.Time      `json:"ts"`
	Tool           string         `json:"tool"`
	Action         Action         `json:"action"`
	CredentialID   *uuid.UUID     `json:"credential_id,omitempty"`
	CredentialName *string        `json:"credential_name,omitempty"`
	Result         Result         `json:"result"`
	Detail         map[string]any `json:"detail,omitempty"`
	Error          string         `json:"error,omitempty"`
}

// Log is an append-only JSONL writer/reader bound to a single file path.
type Log struct {
	path string
	mu   sync.Mutex
}

// Open prepares a Log at path, creating the parent directory if needed.
func Open(path string) (*Log, error) {
	path = filepath.Clean(path)
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create audit directory: %w", err)
	}
	return &Log{path: path}, nil
}

// Path returns the audit file's location.
func (l *Log) Path() string { return l.path }

// Append writes one entry as a single JSON line, filling Timestamp if unset.
// A write failure is swallowed to the caller as an error but never blocks
// the tool call that triggered it; callers are expected to log and proceed.
func (l *Log) Append(e Entry) error {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal audit entry: %w", err)
	}
	data = append(data, '\n')

	l.mu.Lock()
	defer l.mu.Unlock()

	lock, err := lockFile(l.path, true)
	if err != nil {
		return fmt.Errorf("lock audit file: %w", err)
	}
	defer lock.unlock()

	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("open audit file: %w", err)
	}
	defer f.Close()
	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("write audit entry: %w", err)
	}
	return f.Sync()
}

// Filter narrows a Query. A nil or zero field is unconstrained. Limit, if
// greater than zero, keeps only the trailing N matching entries.
type Filter struct {
	CredentialID *uuid.UUID
	Since        *time.Time
	Limit        int
}

// Query reads the whole file, applying Filter in order: match
// credential_id, then since, then take the trailing Limit entries. A
// malformed line is skipped rather than failing the whole read, since the
// audit file may be observed mid-append by another process.
func (l *Log) Query(filter Filter) ([]Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	lock, err := lockFile(l.path, false)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("lock audit file: %w", err)
	}
	defer lock.unlock()

	f, err := os.Open(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open audit file: %w", err)
	}
	defer f.Close()

	var out []Entry
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		var e Entry
		if err := json.Unmarshal(line, &e); err != nil {
			continue
		}
		if filter.CredentialID != nil {
			if e.CredentialID == nil || *e.CredentialID != *filter.CredentialID {
				continue
			}
		}
		if filter.Since != nil && e.Timestamp.Before(*filter.Since) {
			continue
		}
		out = append(out, e)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("scan audit file: %w", err)
	}

	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[len(out)-filter.Limit:]
	}
	return out, nil
}
