// Package policy implements per-credential authorization: tool allow-lists,
// glob-pattern checks on URLs/commands/recipients, the SQL write-block, and
// the sliding-window rate limiter.
package policy

import (
	"strings"
	"sync"
	"time"

	"passman/internal/apperr"
)

// Tool names recognized by allowed_tools.
const (
	ToolHTTPRequest = "http_request"
	ToolSSHExec     = "ssh_exec"
	ToolSQLQuery    = "sql_query"
	ToolSendEmail   = "send_email"
)

// RateLimit is the optional sliding-window configuration for a credential.
type RateLimit struct {
	MaxRequests int
	WindowSecs  int
}

// Rule is the per-credential policy document. A nil field means
// unrestricted for that dimension; absence of a Rule entirely is the same
// as a zero-value Rule (fully permissive).
type Rule struct {
	AllowedTools          []string
	HTTPURLPatterns       []string
	SSHCommandPatterns    []string
	SMTPAllowedRecipients []string
	SQLAllowWrite         bool
	RateLimit             *RateLimit
}

func contains(set []string, v string) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}

// toolAllowed checks allowed_tools; an empty/nil list is unrestricted.
func (r Rule) toolAllowed(tool string) bool {
	if len(r.AllowedTools) == 0 {
		return true
	}
	return contains(r.AllowedTools, tool)
}

// Engine evaluates Rule documents and tracks rate-limit state per
// credential. It holds no reference to the vault; callers pass in whether
// the vault is unlocked and whether the credential exists.
type Engine struct {
	mu      sync.Mutex
	windows map[string]*slidingWindow
	now     func() time.Time
}

// New constructs an Engine with real wall-clock time.
func New() *Engine {
	return &Engine{windows: map[string]*slidingWindow{}, now: time.Now}
}

// CheckInput bundles everything an evaluation needs beyond the rule itself.
type CheckInput struct {
	VaultUnlocked  bool
	CredentialID   string
	CredentialSeen bool
	Tool           string

	// Exactly one of the following is populated, matching Tool.
	HTTPURL       string
	SSHCommand    string
	SQLQuery      string
	SMTPAllRecips []string
}

// Evaluate runs the fixed evaluation order from §4.5, short-circuiting on
// the first denial. A rule of nil is treated as fully permissive (after the
// unlocked/exists/tool-allowed checks, which are rule-independent aside
// from AllowedTools).
func (e *Engine) Evaluate(rule Rule, in CheckInput) error {
	if !in.VaultUnlocked {
		return apperr.New(apperr.VaultLocked, "vault is locked")
	}
	if !in.CredentialSeen {
		return apperr.New(apperr.NotFound, "credential not found")
	}
	if !rule.toolAllowed(in.Tool) {
		return apperr.New(apperr.ToolNotPermitted, "tool "+in.Tool+" not permitted for this credential")
	}

	switch in.Tool {
	case ToolHTTPRequest:
		if !matchesAny(rule.HTTPURLPatterns, in.HTTPURL, true) {
			return apperr.New(apperr.PatternDenied, "url does not match an allowed pattern")
		}
	case ToolSSHExec:
		if !matchesAny(rule.SSHCommandPatterns, in.SSHCommand, true) {
			return apperr.New(apperr.PatternDenied, "command does not match an allowed pattern")
		}
	case ToolSQLQuery:
		if isWriteStatement(in.SQLQuery) && !rule.SQLAllowWrite {
			return apperr.New(apperr.WriteBlocked, "write statements are blocked for this credential")
		}
	case ToolSendEmail:
		if len(rule.SMTPAllowedRecipients) > 0 {
			for _, recip := range in.SMTPAllRecips {
				if !matchesAny(rule.SMTPAllowedRecipients, recip, false) {
					return apperr.New(apperr.RecipientDenied, "recipient "+recip+" is not allowed")
				}
			}
		}
	}

	if rule.RateLimit != nil {
		if !e.allow(in.CredentialID, *rule.RateLimit) {
			return apperr.New(apperr.RateLimited, "rate limit exceeded for this credential")
		}
	}
	return nil
}

// matchesAny reports whether v matches any pattern in patterns. An empty
// pattern list means unrestricted (always matches).
func matchesAny(patterns []string, v string, caseSensitive bool) bool {
	if len(patterns) == 0 {
		return true
	}
	candidate := v
	if !caseSensitive {
		candidate = strings.ToLower(v)
	}
	for _, p := range patterns {
		pat := p
		if !caseSensitive {
			pat = strings.ToLower(p)
		}
		if globMatch(pat, candidate) {
			return true
		}
	}
	return false
}

// globMatch implements the fixed pattern language from §4.5: '*' matches
// any run of bytes (including empty), '?' matches exactly one byte, every
// other byte matches literally, and the match is anchored at both ends.
func globMatch(pattern, s string) bool {
	return globMatchBytes([]byte(pattern), []byte(s))
}

func globMatchBytes(pattern, s []byte) bool {
	// Dynamic-programming glob matcher: dp[i][j] means pattern[:i]
	// matches s[:j]. Implemented iteratively to avoid recursion depth
	// concerns on pathological inputs.
	pl, sl := len(pattern), len(s)
	dp := make([][]bool, pl+1)
	for i := range dp {
		dp[i] = make([]bool, sl+1)
	}
	dp[0][0] = true
	for i := 1; i <= pl; i++ {
		if pattern[i-1] == '*' {
			dp[i][0] = dp[i-1][0]
		}
	}
	for i := 1; i <= pl; i++ {
		for j := 1; j <= sl; j++ {
			switch pattern[i-1] {
			case '*':
				dp[i][j] = dp[i-1][j] || dp[i][j-1]
			case '?':
				dp[i][j] = dp[i-1][j-1]
			default:
				dp[i][j] = dp[i-1][j-1] && pattern[i-1] == s[j-1]
			}
		}
	}
	return dp[pl][sl]
}

// IsWriteStatement exposes the SQL write-block prefix check for callers
// outside the engine (the SQL proxy uses it to pick Query vs Exec).
func IsWriteStatement(query string) bool { return isWriteStatement(query) }

// isWriteStatement applies the SQL write-block prefix check: strip leading
// whitespace and line/block comments, then require the remainder to begin
// with SELECT or WITH (case-insensitive) to be treated as read-only. This
// is a documented prefix check, not a SQL parser: a DML statement hidden
// behind a deceptive comment can slip through.
func isWriteStatement(query string) bool {
	q := strings.TrimSpace(query)
	for {
		trimmed := strings.TrimSpace(q)
		switch {
		case strings.HasPrefix(trimmed, "--"):
			idx := strings.IndexByte(trimmed, '\n')
			if idx < 0 {
				q = ""
			} else {
				q = trimmed[idx+1:]
			}
		case strings.HasPrefix(trimmed, "/*"):
			idx := strings.Index(trimmed, "*/")
			if idx < 0 {
				q = ""
			} else {
				q = trimmed[idx+2:]
			}
		default:
			q = trimmed
			goto done
		}
	}
done:
	q = strings.TrimSpace(q)
	upper := strings.ToUpper(q)
	if strings.HasPrefix(upper, "SELECT") || strings.HasPrefix(upper, "WITH") {
		return false
	}
	return true
}

// slidingWindow tracks accepted-request timestamps for one credential
// within the trailing window.
type slidingWindow struct {
	mu         sync.Mutex
	timestamps []time.Time
}

// allow reports whether a new request may proceed under limit, and if so
// records its timestamp. Denied requests do not count against the window.
func (e *Engine) allow(credentialID string, limit RateLimit) bool {
	e.mu.Lock()
	w, ok := e.windows[credentialID]
	if !ok {
		w = &slidingWindow{}
		e.windows[credentialID] = w
	}
	e.mu.Unlock()

	w.mu.Lock()
	defer w.mu.Unlock()

	now := e.now()
	cutoff := now.Add(-time.Duration(limit.WindowSecs) * time.Second)
	kept := w.timestamps[:0]
	for _, ts := range w.timestamps {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	w.timestamps = kept

	if len(w.timestamps) >= limit.MaxRequests {
		return false
	}
	w.timestamps = append(w.timestamps, now)
	return true
}
