package vault

import (
	"sync"

	"github.com/google/uuid"
)

// SecretCache holds the derived key and a lazily populated mapping from
// credential id to decrypted secret. It is the only component permitted to
// return clear secret material, and only to in-process callers (protocol
// proxies) for the duration of one operation.
type SecretCache struct {
	mu      sync.RWMutex
	key     *Key
	secrets map[uuid.UUID]SecretPayload
}

func newSecretCache(key *Key) *SecretCache {
	return &SecretCache{key: key, secrets: map[uuid.UUID]SecretPayload{}}
}

// Unlocked reports whether this cache still holds a live key.
func (c *SecretCache) Unlocked() bool {
	if c == nil {
		return false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.key != nil
}

// get returns the decrypted secret for rec, decrypting and memoizing on
// first access.
func (c *SecretCache) get(rec CredentialRecord) (SecretPayload, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.key == nil {
		return SecretPayload{}, errVaultLockedCache
	}
	if cached, ok := c.secrets[rec.ID]; ok {
		return cached, nil
	}
	payload, err := openSecret(c.key, rec)
	if err != nil {
		return SecretPayload{}, err
	}
	c.secrets[rec.ID] = payload
	return payload, nil
}

// put installs secret for id directly, used right after a store/upsert so a
// subsequent read doesn't need to re-derive from ciphertext.
func (c *SecretCache) put(id uuid.UUID, payload SecretPayload) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.key == nil {
		return
	}
	c.secrets[id] = payload
}

// forget drops a single cached secret, called after delete.
func (c *SecretCache) forget(id uuid.UUID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.secrets, id)
}

// allSecretValues flattens every cached secret field into a slice of
// strings. Nothing in this module calls it: the proxies' optional
// Base.Secrets scrubbing hook is not wired to it.
func (c *SecretCache) allSecretValues() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []string
	for _, payload := range c.secrets {
		for _, v := range payload.Fields {
			out = append(out, v)
		}
	}
	return out
}

// erase zeroes the key and drops every cached secret. Called by Store.Lock
// (an explicit lock, or a failed watcher-triggered reload); there is no
// idle-timeout or process-exit lock.
func (c *SecretCache) erase() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.key != nil {
		c.key.Zero()
		c.key = nil
	}
	for id, payload := range c.secrets {
		for k := range payload.Fields {
			payload.Fields[k] = ""
		}
		delete(c.secrets, id)
	}
	c.secrets = map[uuid.UUID]SecretPayload{}
}

var errVaultLockedCache = vaultLockedErr("vault is locked")

type vaultLockedErr string

func (e vaultLockedErr) Error() string { return string(e) }
