package vault

import (
	"crypto/rand"
	"encoding/json"
	"fmt"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"
)

// VerifierAD is the fixed associated data bound to the verifier ciphertext.
const VerifierAD = "passman-vault-verifier-v1"

const verifierPlaintext = "passman-verifier-ok"

// Key is the 256-bit derived vault key. It overwrites its own storage on
// Zero so a released key cannot be recovered from a stale buffer.
type Key struct {
	buf [chacha20poly1305.KeySize]byte
}

func newKey(raw []byte) *Key {
	k := &Key{}
	copy(k.buf[:], raw)
	return k
}

func (k *Key) bytes() []byte { return k.buf[:] }

// Zero overwrites the key material. Safe to call more than once.
func (k *Key) Zero() {
	if k == nil {
		return
	}
	for i := range k.buf {
		k.buf[i] = 0
	}
}

// IsZero reports whether every byte of the key buffer is zero, used by tests
// to confirm Zero actually erased the key.
func (k *Key) IsZero() bool {
	if k == nil {
		return true
	}
	for _, b := range k.buf {
		if b != 0 {
			return false
		}
	}
	return true
}

// DeriveKey runs Argon2id over password with the vault-wide salt and cost
// parameters, producing the 256-bit symmetric vault key.
func DeriveKey(password string, salt []byte, params KDFParams) *Key {
	raw := argon2.IDKey([]byte(password), salt, params.Iterations, params.MemoryKiB, params.Parallelism, params.KeyLen)
	defer zeroBytes(raw)
	return newKey(raw)
}

// NewSalt returns a fresh 128-bit random salt, suitable as a vault's
// kdf_salt (generated once, for the life of the vault).
func NewSalt() ([]byte, error) {
	return randomBytes(16)
}

// NewNonce returns a fresh 96-bit random nonce. Nonces are never reused
// across re-encryptions of the same record: a fresh nonce is generated on
// every save.
func NewNonce() ([]byte, error) {
	return randomBytes(chacha20poly1305.NonceSize)
}

func randomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil, fmt.Errorf("read random bytes: %w", err)
	}
	return b, nil
}

func zeroBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

// seal authenticates and encrypts plaintext under key, nonce, and aad.
func seal(key *Key, nonce, aad, plaintext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(key.bytes())
	if err != nil {
		return nil, fmt.Errorf("init aead: %w", err)
	}
	if len(nonce) != aead.NonceSize() {
		return nil, fmt.Errorf("nonce must be %d bytes, got %d", aead.NonceSize(), len(nonce))
	}
	return aead.Seal(nil, nonce, plaintext, aad), nil
}

// open authenticates and decrypts ciphertext. Any tag mismatch is a hard
// failure indistinguishable from a wrong password.
func open(key *Key, nonce, aad, ciphertext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(key.bytes())
	if err != nil {
		return nil, fmt.Errorf("init aead: %w", err)
	}
	plain, err := aead.Open(nil, nonce, ciphertext, aad)
	if err != nil {
		return nil, fmt.Errorf("incorrect password or corrupted vault")
	}
	return plain, nil
}

// recordAD is the associated data bound to a credential record: id ∥ kind.
func recordAD(rec CredentialRecord) []byte {
	return append([]byte(rec.ID.String()+"|"), []byte(rec.Kind)...)
}

// sealSecret encrypts payload for rec, returning a fresh nonce and ciphertext.
func sealSecret(key *Key, rec CredentialRecord, payload SecretPayload) (nonce, ciphertext []byte, err error) {
	nonce, err = NewNonce()
	if err != nil {
		return nil, nil, err
	}
	plain, err := json.Marshal(payload)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal secret payload: %w", err)
	}
	defer zeroBytes(plain)
	ct, err := seal(key, nonce, recordAD(rec), plain)
	if err != nil {
		return nil, nil, err
	}
	return nonce, ct, nil
}

// openSecret decrypts rec's ciphertext and parses the secret payload.
func openSecret(key *Key, rec CredentialRecord) (SecretPayload, error) {
	plain, err := open(key, rec.Nonce, recordAD(rec), rec.Ciphertext)
	if err != nil {
		return SecretPayload{}, err
	}
	defer zeroBytes(plain)
	var payload SecretPayload
	if err := json.Unmarshal(plain, &payload); err != nil {
		return SecretPayload{}, fmt.Errorf("decode secret payload: %w", err)
	}
	if payload.Kind != rec.Kind {
		return SecretPayload{}, fmt.Errorf("kind mismatch: record is %s, payload is %s", rec.Kind, payload.Kind)
	}
	return payload, nil
}

// sealVerifier encrypts the fixed verifier plaintext, used to detect a wrong
// password before any record is touched.
func sealVerifier(key *Key) (nonce, ciphertext []byte, err error) {
	nonce, err = NewNonce()
	if err != nil {
		return nil, nil, err
	}
	ct, err := seal(key, nonce, []byte(VerifierAD), []byte(verifierPlaintext))
	if err != nil {
		return nil, nil, err
	}
	return nonce, ct, nil
}

// openVerifier decrypts the verifier ciphertext and confirms it matches the
// known plaintext. Failure here and failure from tag-mismatch are
// deliberately identical to the caller.
func openVerifier(key *Key, nonce, ciphertext []byte) error {
	plain, err := open(key, nonce, []byte(VerifierAD), ciphertext)
	if err != nil {
		return err
	}
	if string(plain) != verifierPlaintext {
		return fmt.Errorf("incorrect password or corrupted vault")
	}
	return nil
}
