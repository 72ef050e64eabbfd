// Package vault implements the encrypted credential store: on-disk format,
// key derivation, per-record authenticated encryption, concurrent-access
// discipline, and the in-memory secret cache's lifecycle.
package vault

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Store owns the persistent form of the vault: the plaintext metadata and
// per-record ciphertext on disk, guarded by both an in-process
// readers/writer lock (the vault state domain) and an OS advisory file lock
// (the file domain, taken after the process lock in that fixed order).
type Store struct {
	path string

	mu    sync.RWMutex
	file  File
	cache *SecretCache

	watcher   *fileWatcher
	onReload  func(error)
	closeOnce sync.Once
}

// Open prepares a Store bound to path without requiring the file to exist
// yet (Create populates it). If the file is already present it is loaded so
// ListMetadata works before unlock.
func Open(path string) (*Store, error) {
	path = filepath.Clean(path)
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create vault directory: %w", err)
	}
	s := &Store{path: path}
	if _, err := os.Stat(path); err == nil {
		if err := s.reload(); err != nil {
			return nil, err
		}
	}
	w, err := newFileWatcher(path, s.handleExternalChange)
	if err != nil {
		// A missing watcher is not fatal: the vault still works without
		// cross-process reload, it just won't pick up concurrent edits
		// until the next explicit operation touches the file.
		w = nil
	}
	s.watcher = w
	return s, nil
}

// Close stops the background watcher. Safe to call more than once.
func (s *Store) Close() {
	s.closeOnce.Do(func() {
		if s.watcher != nil {
			s.watcher.stop()
		}
	})
}

// Exists reports whether the vault file is present on disk.
func (s *Store) Exists() bool {
	_, err := os.Stat(s.path)
	return err == nil
}

// Path returns the vault file's configured location.
func (s *Store) Path() string { return s.path }

// Locked reports whether the vault currently has no live key installed.
func (s *Store) Locked() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cache == nil || !s.cache.Unlocked()
}

// Create initializes a brand-new vault file at path, deriving a key from
// password and sealing the verifier record. It fails if a vault already
// exists at this path.
func (s *Store) Create(password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Exists() {
		return fmt.Errorf("vault already exists at %s", s.path)
	}
	salt, err := NewSalt()
	if err != nil {
		return err
	}
	params := DefaultKDFParams()
	key := DeriveKey(password, salt, params)
	defer key.Zero()

	nonce, ct, err := sealVerifier(key)
	if err != nil {
		return err
	}
	s.file = File{
		Version:    CurrentVaultVersion,
		KDFSalt:    salt,
		KDFParams:  params,
		Verifier:   ct,
		VerifierNC: nonce,
		Records:    nil,
	}
	return s.saveLocked()
}

// Unlock derives the key from password and the stored salt/KDF params,
// attempts to decrypt the verifier, and on success installs the key in the
// secret cache. Wrong password and a corrupted verifier are indistinguishable.
func (s *Store) Unlock(password string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.file.Verifier) == 0 {
		if err := s.reloadLocked(); err != nil {
			return 0, err
		}
	}
	key := DeriveKey(password, s.file.KDFSalt, s.file.KDFParams)
	if err := openVerifier(key, s.file.VerifierNC, s.file.Verifier); err != nil {
		key.Zero()
		return 0, err
	}
	s.cache = newSecretCache(key)
	return len(s.file.Records), nil
}

// Lock erases the derived key and every cached secret. Idempotent.
func (s *Store) Lock() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cache != nil {
		s.cache.erase()
		s.cache = nil
	}
}

// ListMetadata returns all record metadata (no unlock required), optionally
// filtered by kind, environment tag, or membership in a tag set.
func (s *Store) ListMetadata(kind *CredentialKind, environment string, tag string) []CredentialRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := sortedMetadata(s.file.Records)
	filtered := out[:0:0]
	for _, r := range out {
		if kind != nil && r.Kind != *kind {
			continue
		}
		if environment != "" && r.Environment.String() != environment {
			continue
		}
		if tag != "" && !r.HasTag(tag) {
			continue
		}
		filtered = append(filtered, r)
	}
	return filtered
}

// Search does a case-insensitive substring match over name, tags, and notes.
func (s *Store) Search(query string) []CredentialRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	q := normalizeSearch(query)
	var out []CredentialRecord
	for _, r := range sortedMetadata(s.file.Records) {
		if matchesSearch(r, q) {
			out = append(out, r)
		}
	}
	return out
}

// Info returns metadata for a single id.
func (s *Store) Info(id uuid.UUID) (CredentialRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	idx := s.file.find(id)
	if idx < 0 {
		return CredentialRecord{}, fmt.Errorf("credential %s not found", id)
	}
	return s.file.Records[idx], nil
}

// ReadSecret decrypts and returns the secret for id. It requires the vault
// to be unlocked.
func (s *Store) ReadSecret(id uuid.UUID) (CredentialRecord, SecretPayload, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.cache == nil {
		return CredentialRecord{}, SecretPayload{}, errVaultLockedCache
	}
	idx := s.file.find(id)
	if idx < 0 {
		return CredentialRecord{}, SecretPayload{}, fmt.Errorf("credential %s not found", id)
	}
	rec := s.file.Records[idx]
	payload, err := s.cache.get(rec)
	if err != nil {
		return CredentialRecord{}, SecretPayload{}, err
	}
	return rec, payload, nil
}

// UpsertInput describes a new or replacement credential.
type UpsertInput struct {
	ID          uuid.UUID // zero value => create a new record
	Name        string
	Kind        CredentialKind
	Environment Environment
	Tags        []string
	Notes       string
	Secret      SecretPayload
}

// Upsert creates or replaces a credential record. A fresh nonce is always
// generated for the re-encrypted secret; reusing a (key, nonce) pair is
// never attempted.
func (s *Store) Upsert(in UpsertInput) (CredentialRecord, error) {
	if in.Kind != in.Secret.Kind {
		return CredentialRecord{}, fmt.Errorf("kind mismatch: record is %s, secret is %s", in.Kind, in.Secret.Kind)
	}
	if err := in.Secret.Validate(); err != nil {
		return CredentialRecord{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cache == nil {
		return CredentialRecord{}, errVaultLockedCache
	}

	now := time.Now().UTC()
	rec := CredentialRecord{
		ID:          in.ID,
		Name:        in.Name,
		Kind:        in.Kind,
		Environment: in.Environment,
		Tags:        append([]string(nil), in.Tags...),
		Notes:       in.Notes,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	idx := -1
	if rec.ID != uuid.Nil {
		idx = s.file.find(rec.ID)
	}
	if idx >= 0 {
		rec.CreatedAt = s.file.Records[idx].CreatedAt
	} else {
		rec.ID = uuid.New()
	}

	nonce, ct, err := sealSecret(s.cache.key, rec, in.Secret)
	if err != nil {
		return CredentialRecord{}, err
	}
	rec.Nonce = nonce
	rec.Ciphertext = ct

	if idx >= 0 {
		s.file.Records[idx] = rec
	} else {
		s.file.Records = append(s.file.Records, rec)
	}
	if err := s.saveLocked(); err != nil {
		return CredentialRecord{}, err
	}
	s.cache.put(rec.ID, in.Secret)
	return rec, nil
}

// Delete removes a record by id.
func (s *Store) Delete(id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := s.file.find(id)
	if idx < 0 {
		return fmt.Errorf("credential %s not found", id)
	}
	s.file.Records = append(s.file.Records[:idx], s.file.Records[idx+1:]...)
	if err := s.saveLocked(); err != nil {
		return err
	}
	if s.cache != nil {
		s.cache.forget(id)
	}
	return nil
}

// reload re-reads the file from disk into memory. Called on Open (vault
// need not be unlocked to refresh metadata) and by the watcher.
func (s *Store) reload() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reloadLocked()
}

func (s *Store) reloadLocked() error {
	lock, err := lockFile(s.path, false)
	if err != nil {
		return fmt.Errorf("lock vault file for read: %w", err)
	}
	defer lock.unlock()

	data, err := readFileScoped(s.path)
	if err != nil {
		return fmt.Errorf("read vault file: %w", err)
	}
	var f File
	if err := json.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("parse vault file: %w", err)
	}
	s.file = f
	return nil
}

// saveLocked serializes the in-memory document and atomically replaces the
// vault file: write to a sibling temp file, fsync, then rename.
func (s *Store) saveLocked() error {
	lock, err := lockFile(s.path, true)
	if err != nil {
		return fmt.Errorf("lock vault file for write: %w", err)
	}
	defer lock.unlock()

	data, err := json.Marshal(s.file)
	if err != nil {
		return fmt.Errorf("marshal vault file: %w", err)
	}
	return writeFileAtomic(s.path, data, 0o600)
}

// handleExternalChange is invoked by the watcher when the file changes on
// disk, including after this process's own saves. It reloads only if the
// vault is currently unlocked;
// lock state is independent of file contents. A reload that fails
// authentication transitions the vault to locked and surfaces an error via
// onReload, if set.
func (s *Store) handleExternalChange() {
	s.mu.Lock()
	unlocked := s.cache != nil && s.cache.Unlocked()
	var key *Key
	if unlocked {
		key = s.cache.key
	}
	s.mu.Unlock()
	if !unlocked {
		return
	}

	if err := s.reload(); err != nil {
		s.Lock()
		if s.onReload != nil {
			s.onReload(err)
		}
		return
	}

	s.mu.Lock()
	verifyErr := openVerifier(key, s.file.VerifierNC, s.file.Verifier)
	s.mu.Unlock()
	if verifyErr != nil {
		s.Lock()
		if s.onReload != nil {
			s.onReload(fmt.Errorf("vault reload: %w", verifyErr))
		}
	}
}

// OnReloadError registers a callback invoked whenever a watcher-triggered
// reload fails authentication and locks the vault.
func (s *Store) OnReloadError(fn func(error)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onReload = fn
}

func writeFileAtomic(path string, contents []byte, mode os.FileMode) error {
	target, err := resolveWriteTarget(path)
	if err != nil {
		return err
	}
	path = target
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".vault.tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)
	if err := tmp.Chmod(mode); err != nil {
		_ = tmp.Close()
		return err
	}
	if _, err := tmp.Write(contents); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
