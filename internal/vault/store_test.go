package vault

import (
	"path/filepath"
	"testing"

	"github.com/google/uuid"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "vault.json")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(s.Close)
	return s
}

func TestStoreCreateAndUnlock(t *testing.T) {
	s := newTestStore(t)

	if err := s.Create("correct horse"); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := s.Create("correct horse"); err == nil {
		t.Fatalf("expected second create to fail")
	}

	if _, err := s.Unlock("wrong password"); err == nil {
		t.Fatalf("expected unlock with wrong password to fail")
	}
	if !s.Locked() {
		t.Fatalf("expected store to remain locked after failed unlock")
	}

	count, err := s.Unlock("correct horse")
	if err != nil {
		t.Fatalf("unlock: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected 0 records in a fresh vault, got %d", count)
	}
	if s.Locked() {
		t.Fatalf("expected store to be unlocked")
	}
}

func TestStoreUpsertRequiresUnlock(t *testing.T) {
	s := newTestStore(t)
	if err := s.Create("pw"); err != nil {
		t.Fatalf("create: %v", err)
	}

	in := UpsertInput{
		Name: "prod-db",
		Kind: KindApiToken,
		Secret: SecretPayload{
			Kind:   KindApiToken,
			Fields: map[string]string{"token": "tok-1"},
		},
	}
	if _, err := s.Upsert(in); err == nil {
		t.Fatalf("expected upsert to fail while locked")
	}
}

func TestStoreUpsertReadDeleteRoundTrip(t *testing.T) {
	s := newTestStore(t)
	if err := s.Create("pw"); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := s.Unlock("pw"); err != nil {
		t.Fatalf("unlock: %v", err)
	}

	in := UpsertInput{
		Name:        "prod-db",
		Kind:        KindDatabaseConnection,
		Environment: NewEnvironment("production"),
		Tags:        []string{"db", "prod"},
		Secret: SecretPayload{
			Kind: KindDatabaseConnection,
			Fields: map[string]string{
				"driver": "postgres", "host": "db.internal",
				"database": "app", "username": "app", "password": "s3cret!",
			},
		},
	}
	rec, err := s.Upsert(in)
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if rec.ID == uuid.Nil {
		t.Fatalf("expected generated id")
	}

	gotRec, gotSecret, err := s.ReadSecret(rec.ID)
	if err != nil {
		t.Fatalf("read secret: %v", err)
	}
	if gotRec.Name != "prod-db" {
		t.Fatalf("expected name prod-db, got %q", gotRec.Name)
	}
	if gotSecret.Fields["password"] != "s3cret!" {
		t.Fatalf("expected password s3cret!, got %q", gotSecret.Fields["password"])
	}

	list := s.ListMetadata(nil, "", "")
	if len(list) != 1 {
		t.Fatalf("expected 1 record, got %d", len(list))
	}

	found := s.Search("prod")
	if len(found) != 1 {
		t.Fatalf("expected search to find 1 record, got %d", len(found))
	}

	if err := s.Delete(rec.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, _, err := s.ReadSecret(rec.ID); err == nil {
		t.Fatalf("expected read after delete to fail")
	}
}

func TestStoreUpsertKindMismatchRejected(t *testing.T) {
	s := newTestStore(t)
	if err := s.Create("pw"); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := s.Unlock("pw"); err != nil {
		t.Fatalf("unlock: %v", err)
	}

	in := UpsertInput{
		Name:   "bad",
		Kind:   KindApiToken,
		Secret: SecretPayload{Kind: KindPassword, Fields: map[string]string{"username": "u", "password": "p"}},
	}
	if _, err := s.Upsert(in); err == nil {
		t.Fatalf("expected kind mismatch to be rejected")
	}
}

func TestStoreLockErasesCache(t *testing.T) {
	s := newTestStore(t)
	if err := s.Create("pw"); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := s.Unlock("pw"); err != nil {
		t.Fatalf("unlock: %v", err)
	}
	s.Lock()
	if !s.Locked() {
		t.Fatalf("expected store locked after Lock()")
	}
	if _, _, err := s.ReadSecret(uuid.New()); err != errVaultLockedCache {
		t.Fatalf("expected errVaultLockedCache after lock, got %v", err)
	}
}

func TestStorePersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vault.json")
	s1, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := s1.Create("pw"); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := s1.Unlock("pw"); err != nil {
		t.Fatalf("unlock: %v", err)
	}
	rec, err := s1.Upsert(UpsertInput{
		Name: "token-a", Kind: KindApiToken,
		Secret: SecretPayload{Kind: KindApiToken, Fields: map[string]string{"token": "t"}},
	})
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	s1.Close()

	s2, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	t.Cleanup(s2.Close)
	if _, err := s2.Unlock("pw"); err != nil {
		t.Fatalf("unlock after reopen: %v", err)
	}
	_, secret, err := s2.ReadSecret(rec.ID)
	if err != nil {
		t.Fatalf("read secret after reopen: %v", err)
	}
	if secret.Fields["token"] != "t" {
		t.Fatalf("expected token t, got %q", secret.Fields["token"])
	}
}
