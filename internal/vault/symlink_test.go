package vault

import (
	"os"
	"path/filepath"
	"testing"
)

func TestResolveWriteTargetPassesThroughNonSymlink(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vault.json")
	got, err := resolveWriteTarget(path)
	if err != nil {
		t.Fatalf("resolveWriteTarget: %v", err)
	}
	if got != path {
		t.Fatalf("expected unchanged path, got %q", got)
	}
}

func TestResolveWriteTargetRefusesSymlinkByDefault(t *testing.T) {
	dir := t.TempDir()
	real := filepath.Join(dir, "real.json")
	if err := os.WriteFile(real, []byte("{}"), 0o600); err != nil {
		t.Fatalf("write real file: %v", err)
	}
	link := filepath.Join(dir, "vault.json")
	if err := os.Symlink(real, link); err != nil {
		t.Fatalf("symlink: %v", err)
	}
	if _, err := resolveWriteTarget(link); err == nil {
		t.Fatalf("expected refusal to write through symlink")
	}
}

func TestResolveWriteTargetAllowsSymlinkWithEscapeHatch(t *testing.T) {
	dir := t.TempDir()
	real := filepath.Join(dir, "real.json")
	if err := os.WriteFile(real, []byte("{}"), 0o600); err != nil {
		t.Fatalf("write real file: %v", err)
	}
	link := filepath.Join(dir, "vault.json")
	if err := os.Symlink(real, link); err != nil {
		t.Fatalf("symlink: %v", err)
	}
	t.Setenv("PASSMAN_ALLOW_SYMLINK_VAULT", "1")
	got, err := resolveWriteTarget(link)
	if err != nil {
		t.Fatalf("resolveWriteTarget: %v", err)
	}
	if got != real {
		t.Fatalf("expected resolved real path, got %q", got)
	}
}
