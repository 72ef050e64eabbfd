package proxy

import (
	"strings"
	"testing"

	"passman/internal/vault"
)

func TestBuildDSNPostgresDefaultsPort(t *testing.T) {
	secret := vault.SecretPayload{Fields: map[string]string{
		"driver": "postgres", "host": "db.internal", "database": "app",
		"username": "app", "password": "s3cret",
	}}
	driver, dsn, err := buildDSN(secret)
	if err != nil {
		t.Fatalf("buildDSN: %v", err)
	}
	if driver != "postgres" {
		t.Fatalf("expected postgres driver, got %q", driver)
	}
	if !strings.Contains(dsn, "port=5432") {
		t.Fatalf("expected default port 5432 in dsn, got %q", dsn)
	}
}

func TestBuildDSNMySQLUsesExplicitPort(t *testing.T) {
	secret := vault.SecretPayload{Fields: map[string]string{
		"driver": "mysql", "host": "db.internal", "port": "3307", "database": "app",
		"username": "app", "password": "s3cret",
	}}
	driver, dsn, err := buildDSN(secret)
	if err != nil {
		t.Fatalf("buildDSN: %v", err)
	}
	if driver != "mysql" {
		t.Fatalf("expected mysql driver, got %q", driver)
	}
	if !strings.Contains(dsn, "db.internal:3307") {
		t.Fatalf("expected explicit port honored, got %q", dsn)
	}
}

func TestBuildDSNSqliteUsesDatabaseAsPath(t *testing.T) {
	secret := vault.SecretPayload{Fields: map[string]string{"driver": "sqlite", "database": "/tmp/app.db"}}
	driver, dsn, err := buildDSN(secret)
	if err != nil {
		t.Fatalf("buildDSN: %v", err)
	}
	if driver != "sqlite" || dsn != "/tmp/app.db" {
		t.Fatalf("expected sqlite path passthrough, got %q %q", driver, dsn)
	}
}

func TestBuildDSNUnsupportedDriver(t *testing.T) {
	secret := vault.SecretPayload{Fields: map[string]string{"driver": "oracle"}}
	if _, _, err := buildDSN(secret); err == nil {
		t.Fatalf("expected error for unsupported driver")
	}
}

func TestRewritePlaceholdersPostgres(t *testing.T) {
	got := rewritePlaceholders("postgres", "select * from t where a = ? and b = ?")
	want := "select * from t where a = $1 and b = $2"
	if got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
}

func TestRewritePlaceholdersMySQLUnchanged(t *testing.T) {
	got := rewritePlaceholders("mysql", "select * from t where a = ?")
	if got != "select * from t where a = ?" {
		t.Fatalf("expected unchanged, got %q", got)
	}
}
