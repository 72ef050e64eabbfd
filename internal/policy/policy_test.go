package policy

import (
	"testing"
	"time"

	"passman/internal/apperr"
)

func TestEvaluateVaultLocked(t *testing.T) {
	e := New()
	err := e.Evaluate(Rule{}, CheckInput{VaultUnlocked: false, CredentialSeen: true, Tool: ToolHTTPRequest})
	if !apperr.Is(err, apperr.VaultLocked) {
		t.Fatalf("expected VaultLocked, got %v", err)
	}
}

func TestEvaluateNotFound(t *testing.T) {
	e := New()
	err := e.Evaluate(Rule{}, CheckInput{VaultUnlocked: true, CredentialSeen: false, Tool: ToolHTTPRequest})
	if !apperr.Is(err, apperr.NotFound) {
		t.Fatalf("expected NotFound, got %v", err)
	}
}

func TestEvaluateToolNotPermitted(t *testing.T) {
	e := New()
	rule := Rule{AllowedTools: []string{ToolSSHExec}}
	err := e.Evaluate(rule, CheckInput{VaultUnlocked: true, CredentialSeen: true, Tool: ToolHTTPRequest})
	if !apperr.Is(err, apperr.ToolNotPermitted) {
		t.Fatalf("expected ToolNotPermitted, got %v", err)
	}
}

func TestHTTPURLPattern(t *testing.T) {
	e := New()
	rule := Rule{HTTPURLPatterns: []string{"https://api.github.com/*"}}

	allowed := e.Evaluate(rule, CheckInput{VaultUnlocked: true, CredentialSeen: true, Tool: ToolHTTPRequest, HTTPURL: "https://api.github.com/user"})
	if allowed != nil {
		t.Fatalf("expected allowed url to pass, got %v", allowed)
	}

	denied := e.Evaluate(rule, CheckInput{VaultUnlocked: true, CredentialSeen: true, Tool: ToolHTTPRequest, HTTPURL: "https://evil.example/api"})
	if !apperr.Is(denied, apperr.PatternDenied) {
		t.Fatalf("expected PatternDenied, got %v", denied)
	}
}

func TestSSHCommandPatternCaseSensitive(t *testing.T) {
	e := New()
	rule := Rule{SSHCommandPatterns: []string{"systemctl status *"}}
	err := e.Evaluate(rule, CheckInput{VaultUnlocked: true, CredentialSeen: true, Tool: ToolSSHExec, SSHCommand: "SYSTEMCTL STATUS nginx"})
	if !apperr.Is(err, apperr.PatternDenied) {
		t.Fatalf("expected case-sensitive mismatch to deny, got %v", err)
	}
}

func TestSMTPRecipientCaseInsensitive(t *testing.T) {
	e := New()
	rule := Rule{SMTPAllowedRecipients: []string{"*@example.com"}}
	err := e.Evaluate(rule, CheckInput{
		VaultUnlocked: true, CredentialSeen: true, Tool: ToolSendEmail,
		SMTPAllRecips: []string{"Alice@EXAMPLE.com"},
	})
	if err != nil {
		t.Fatalf("expected case-insensitive recipient match to pass, got %v", err)
	}
}

func TestSQLWriteBlock(t *testing.T) {
	e := New()
	rule := Rule{SQLAllowWrite: false}

	cases := []struct {
		query   string
		blocked bool
	}{
		{"delete from t", true},
		{" select 1", false},
		{"SELECT * FROM users", false},
		{"WITH x AS (SELECT 1) SELECT * FROM x", false},
		{"  -- comment\nUPDATE t SET x=1", true},
		{"/* block comment */ INSERT INTO t VALUES (1)", true},
	}
	for _, tc := range cases {
		err := e.Evaluate(rule, CheckInput{VaultUnlocked: true, CredentialSeen: true, Tool: ToolSQLQuery, SQLQuery: tc.query})
		if tc.blocked && !apperr.Is(err, apperr.WriteBlocked) {
			t.Fatalf("query %q: expected WriteBlocked, got %v", tc.query, err)
		}
		if !tc.blocked && err != nil {
			t.Fatalf("query %q: expected allowed, got %v", tc.query, err)
		}
	}
}

func TestSQLAllowWriteBypassesBlock(t *testing.T) {
	e := New()
	rule := Rule{SQLAllowWrite: true}
	err := e.Evaluate(rule, CheckInput{VaultUnlocked: true, CredentialSeen: true, Tool: ToolSQLQuery, SQLQuery: "delete from t"})
	if err != nil {
		t.Fatalf("expected write allowed, got %v", err)
	}
}

func TestRateLimit(t *testing.T) {
	e := New()
	fakeNow := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	e.now = func() time.Time { return fakeNow }

	rule := Rule{RateLimit: &RateLimit{MaxRequests: 2, WindowSecs: 60}}
	in := CheckInput{VaultUnlocked: true, CredentialSeen: true, Tool: ToolHTTPRequest, CredentialID: "cred-1", HTTPURL: "https://x"}

	if err := e.Evaluate(rule, in); err != nil {
		t.Fatalf("request 1: expected allowed, got %v", err)
	}
	if err := e.Evaluate(rule, in); err != nil {
		t.Fatalf("request 2: expected allowed, got %v", err)
	}
	if err := e.Evaluate(rule, in); !apperr.Is(err, apperr.RateLimited) {
		t.Fatalf("request 3: expected RateLimited, got %v", err)
	}

	fakeNow = fakeNow.Add(61 * time.Second)
	if err := e.Evaluate(rule, in); err != nil {
		t.Fatalf("request after window: expected allowed, got %v", err)
	}
}

func TestRateLimitDeniedRequestsDontCount(t *testing.T) {
	e := New()
	rule := Rule{
		AllowedTools: []string{ToolSSHExec},
		RateLimit:    &RateLimit{MaxRequests: 1, WindowSecs: 60},
	}
	in := CheckInput{VaultUnlocked: true, CredentialSeen: true, Tool: ToolHTTPRequest, CredentialID: "cred-2"}

	for i := 0; i < 5; i++ {
		err := e.Evaluate(rule, in)
		if !apperr.Is(err, apperr.ToolNotPermitted) {
			t.Fatalf("iteration %d: expected ToolNotPermitted before rate limit runs, got %v", i, err)
		}
	}

	permitted := in
	permitted.Tool = ToolSSHExec
	if err := e.Evaluate(rule, permitted); err != nil {
		t.Fatalf("expected first permitted request allowed after denials, got %v", err)
	}
}

func TestGlobMatch(t *testing.T) {
	cases := []struct {
		pattern, s string
		want       bool
	}{
		{"*", "anything", true},
		{"*", "", true},
		{"a?c", "abc", true},
		{"a?c", "ac", false},
		{"https://api.github.com/*", "https://api.github.com/user/repos", true},
		{"https://api.github.com/*", "https://api.github.org/user", false},
		{"exact", "exact", true},
		{"exact", "exactly", false},
	}
	for _, tc := range cases {
		if got := globMatch(tc.pattern, tc.s); got != tc.want {
			t.Fatalf("globMatch(%q, %q) = %v, want %v", tc.pattern, tc.s, got, tc.want)
		}
	}
}
