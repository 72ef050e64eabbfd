package proxy

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/google/uuid"

	"passman/internal/apperr"
	"passman/internal/audit"
	"passman/internal/policy"
	"passman/internal/vault"
)

// fakeSource implements CredentialSource backed by an in-memory map, used
// so proxy tests don't need a full on-disk vault.
type fakeSource struct {
	locked  bool
	records map[uuid.UUID]vault.CredentialRecord
	secrets map[uuid.UUID]vault.SecretPayload
}

func (f *fakeSource) Info(id uuid.UUID) (vault.CredentialRecord, error) {
	r, ok := f.records[id]
	if !ok {
		return vault.CredentialRecord{}, apperr.New(apperr.NotFound, "not found")
	}
	return r, nil
}

func (f *fakeSource) ReadSecret(id uuid.UUID) (vault.CredentialRecord, vault.SecretPayload, error) {
	r, ok := f.records[id]
	if !ok {
		return vault.CredentialRecord{}, vault.SecretPayload{}, apperr.New(apperr.NotFound, "not found")
	}
	return r, f.secrets[id], nil
}

func (f *fakeSource) Locked() bool { return f.locked }

type fakeRules struct{ rule policy.Rule }

func (r fakeRules) RuleFor(uuid.UUID) policy.Rule { return r.rule }

func newTestBase(t *testing.T, kind vault.CredentialKind, fields map[string]string) (Base, uuid.UUID) {
	t.Helper()
	id := uuid.New()
	src := &fakeSource{
		records: map[uuid.UUID]vault.CredentialRecord{id: {ID: id, Kind: kind}},
		secrets: map[uuid.UUID]vault.SecretPayload{id: {Kind: kind, Fields: fields}},
	}
	log, err := audit.Open(filepath.Join(t.TempDir(), "audit.jsonl"))
	if err != nil {
		t.Fatalf("open audit: %v", err)
	}
	return Base{
		Store:  src,
		Policy: policy.New(),
		Rules:  fakeRules{},
		Audit:  log,
	}, id
}

func TestHTTPDoInjectsApiTokenHeader(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	base, id := newTestBase(t, vault.KindApiToken, map[string]string{"token": "sekret-token-1234"})
	p := &HTTPProxy{Base: base}

	resp, err := p.Do(context.Background(), HTTPRequestInput{CredentialID: id, Method: "GET", URL: srv.URL})
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	if resp.Status != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Status)
	}
	if gotAuth != "Bearer sekret-token-1234" {
		t.Fatalf("expected bearer header, got %q", gotAuth)
	}
}

func TestHTTPDoScrubsSecretFromResponseBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("your token is sekret-token-1234 ok"))
	}))
	defer srv.Close()

	base, id := newTestBase(t, vault.KindApiToken, map[string]string{"token": "sekret-token-1234"})
	p := &HTTPProxy{Base: base}

	resp, err := p.Do(context.Background(), HTTPRequestInput{CredentialID: id, Method: "GET", URL: srv.URL})
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	if contains(resp.Body, "sekret-token-1234") {
		t.Fatalf("expected token scrubbed from body, got %q", resp.Body)
	}
}

func TestHTTPDoDeniedByURLPattern(t *testing.T) {
	base, id := newTestBase(t, vault.KindApiToken, map[string]string{"token": "t"})
	base.Rules = fakeRules{rule: policy.Rule{HTTPURLPatterns: []string{"https://allowed.example/*"}}}
	p := &HTTPProxy{Base: base}

	_, err := p.Do(context.Background(), HTTPRequestInput{CredentialID: id, Method: "GET", URL: "https://denied.example/x"})
	if !apperr.Is(err, apperr.PatternDenied) {
		t.Fatalf("expected PatternDenied, got %v", err)
	}
}

func TestHTTPDoBasicAuthForPasswordKind(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	base, id := newTestBase(t, vault.KindPassword, map[string]string{"username": "alice", "password": "hunter2"})
	p := &HTTPProxy{Base: base}

	if _, err := p.Do(context.Background(), HTTPRequestInput{CredentialID: id, Method: "GET", URL: srv.URL}); err != nil {
		t.Fatalf("do: %v", err)
	}
	if gotAuth == "" || gotAuth[:6] != "Basic " {
		t.Fatalf("expected basic auth header, got %q", gotAuth)
	}
}

func contains(s, sub string) bool {
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			return true
		}
	}
	return false
}
