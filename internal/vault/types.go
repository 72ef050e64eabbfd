package vault

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// CredentialKind tags the fixed schema a secret payload must follow.
type CredentialKind string

const (
	KindPassword           CredentialKind = "password"
	KindApiToken           CredentialKind = "api_token"
	KindSshKey             CredentialKind = "ssh_key"
	KindSshPassword        CredentialKind = "ssh_password"
	KindDatabaseConnection CredentialKind = "database_connection"
	KindCertificate        CredentialKind = "certificate"
	KindSmtpAccount        CredentialKind = "smtp_account"
	KindCustom             CredentialKind = "custom"
)

// requiredFields lists the secret fields each kind must carry. Custom has no
// fixed schema: any non-empty mapping is accepted.
var requiredFields = map[CredentialKind][]string{
	KindPassword:           {"username", "password"},
	KindApiToken:           {"token"},
	KindSshKey:             {"host", "username", "private_key"},
	KindSshPassword:        {"host", "username", "password"},
	KindDatabaseConnection: {"driver", "host", "database", "username", "password"},
	KindCertificate:        {"cert_pem", "key_pem"},
	KindSmtpAccount:        {"host", "username", "password"},
	KindCustom:             nil,
}

func ValidKind(k CredentialKind) bool {
	_, ok := requiredFields[k]
	return ok
}

// SecretPayload is the decrypted, kind-tagged secret body. Fields is an open
// string map; the kind determines which keys are mandatory.
type SecretPayload struct {
	Kind   CredentialKind    `json:"kind"`
	Fields map[string]string `json:"fields"`
}

// Validate enforces the fixed schema for k (Custom accepts any non-empty map).
func (p SecretPayload) Validate() error {
	if !ValidKind(p.Kind) {
		return fmt.Errorf("unknown credential kind %q", p.Kind)
	}
	if p.Kind == KindCustom {
		if len(p.Fields) == 0 {
			return fmt.Errorf("custom secret requires at least one field")
		}
		return nil
	}
	for _, name := range requiredFields[p.Kind] {
		if strings.TrimSpace(p.Fields[name]) == "" {
			return fmt.Errorf("%s secret missing required field %q", p.Kind, name)
		}
	}
	return nil
}

// Environment is either a well-known tag or an arbitrary custom string.
type Environment struct {
	Tag    string `json:"tag"`
	Custom string `json:"custom,omitempty"`
}

var wellKnownEnvironments = map[string]bool{
	"local": true, "development": true, "staging": true, "production": true,
}

func NewEnvironment(s string) Environment {
	s = strings.TrimSpace(s)
	if wellKnownEnvironments[s] {
		return Environment{Tag: s}
	}
	return Environment{Tag: "custom", Custom: s}
}

func (e Environment) String() string {
	if e.Tag == "custom" {
		return e.Custom
	}
	return e.Tag
}

// CredentialRecord is the plaintext-metadata half of a stored credential; the
// secret body lives only as Ciphertext until decrypted by the secret cache.
type CredentialRecord struct {
	ID          uuid.UUID      `json:"id"`
	Name        string         `json:"name"`
	Kind        CredentialKind `json:"kind"`
	Environment Environment    `json:"environment"`
	Tags        []string       `json:"tags,omitempty"`
	Notes       string         `json:"notes,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
	Nonce       []byte         `json:"nonce"`
	Ciphertext  []byte         `json:"ciphertext"`
}

func (r CredentialRecord) HasTag(tag string) bool {
	for _, t := range r.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// KDFParams are the Argon2id cost parameters used to derive the vault key.
type KDFParams struct {
	MemoryKiB   uint32 `json:"memory_kib"`
	Iterations  uint32 `json:"iterations"`
	Parallelism uint8  `json:"parallelism"`
	KeyLen      uint32 `json:"key_len"`
}

// DefaultKDFParams matches the parameters fixed by the vault format: 64 MiB,
// 3 iterations, 4 lanes, 32-byte output.
func DefaultKDFParams() KDFParams {
	return KDFParams{MemoryKiB: 64 * 1024, Iterations: 3, Parallelism: 4, KeyLen: 32}
}

// File is the on-disk vault document (§3 "Vault file"). Only per-record
// Ciphertext is encrypted; everything else is plaintext metadata.
type File struct {
	Version    int                `json:"version"`
	KDFSalt    []byte             `json:"kdf_salt"`
	KDFParams  KDFParams          `json:"kdf_params"`
	Verifier   []byte             `json:"verifier"`
	VerifierNC []byte             `json:"verifier_nonce"`
	Records    []CredentialRecord `json:"records"`
}

const CurrentVaultVersion = 1

func (f *File) find(id uuid.UUID) int {
	for i := range f.Records {
		if f.Records[i].ID == id {
			return i
		}
	}
	return -1
}

// normalizeSearch lowercases and trims a query for case-insensitive matching.
func normalizeSearch(q string) string {
	return strings.ToLower(strings.TrimSpace(q))
}

// matchesSearch reports whether q is a substring of r's name, tags, or notes.
func matchesSearch(r CredentialRecord, q string) bool {
	if q == "" {
		return true
	}
	if strings.Contains(strings.ToLower(r.Name), q) {
		return true
	}
	if strings.Contains(strings.ToLower(r.Notes), q) {
		return true
	}
	for _, t := range r.Tags {
		if strings.Contains(strings.ToLower(t), q) {
			return true
		}
	}
	return false
}

// sortedMetadata returns a stable, name-ordered copy for listing endpoints.
func sortedMetadata(records []CredentialRecord) []CredentialRecord {
	out := make([]CredentialRecord, len(records))
	copy(out, records)
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return out
}
