// Package proxy implements the four protocol proxies: each borrows a
// decrypted secret from the vault's cache for the duration of one
// operation, talks to an external protocol collaborator, sanitizes the
// result, and appends an audit line.
package proxy

import (
	"context"
	"time"

	"github.com/google/uuid"

	"passman/internal/apperr"
	"passman/internal/audit"
	"passman/internal/policy"
	"passman/internal/vault"
)

// Default per-protocol timeouts (§5).
const (
	DefaultHTTPTimeout = 30 * time.Second
	DefaultSSHTimeout  = 60 * time.Second
	DefaultSQLTimeout  = 30 * time.Second
	DefaultSMTPTimeout = 60 * time.Second
)

// CredentialSource is the subset of *vault.Store a proxy needs: metadata
// lookup and secret decryption, never persistence.
type CredentialSource interface {
	Info(id uuid.UUID) (vault.CredentialRecord, error)
	ReadSecret(id uuid.UUID) (vault.CredentialRecord, vault.SecretPayload, error)
	Locked() bool
}

// PolicyRules resolves the policy.Rule attached to a credential. The
// credential store itself does not carry rules (§3 PolicyRule is a
// separate, optional document); a deployment may keep one in its config or
// default to a permissive Rule when none is configured.
type PolicyRules interface {
	RuleFor(credentialID uuid.UUID) policy.Rule
}

// Base bundles the collaborators every proxy needs. Each proxy embeds Base
// and adds its own protocol-specific dial/execute logic.
type Base struct {
	Store   CredentialSource
	Policy  *policy.Engine
	Rules   PolicyRules
	Audit   *audit.Log
	Secrets func() []string // extra secrets to scrub beyond the invoked credential's own, optional hardening hook
}

// checkAndFetch runs the policy evaluation for tool against credentialID
// and, on success, returns the decrypted secret payload. It is the common
// prologue shared by every proxy's Do/Exec/Query entry point.
func (b Base) checkAndFetch(ctx context.Context, credentialID uuid.UUID, tool string, extra policy.CheckInput) (vault.CredentialRecord, vault.SecretPayload, error) {
	unlocked := !b.Store.Locked()
	rec, infoErr := b.Store.Info(credentialID)
	seen := infoErr == nil

	rule := policy.Rule{}
	if seen && b.Rules != nil {
		rule = b.Rules.RuleFor(credentialID)
	}

	in := extra
	in.VaultUnlocked = unlocked
	in.CredentialSeen = seen
	in.Tool = tool
	in.CredentialID = credentialID.String()

	if err := b.Policy.Evaluate(rule, in); err != nil {
		return rec, vault.SecretPayload{}, err
	}

	_, secret, err := b.Store.ReadSecret(credentialID)
	if err != nil {
		return rec, vault.SecretPayload{}, apperr.Wrap(apperr.Internal, "decrypt credential", err)
	}
	return rec, secret, nil
}

// secretValues flattens a payload's field values for sanitizer input,
// optionally widened by Base.Secrets if the hardening hook is configured.
func (b Base) secretValues(payload vault.SecretPayload) []string {
	out := make([]string, 0, len(payload.Fields))
	for _, v := range payload.Fields {
		out = append(out, v)
	}
	if b.Secrets != nil {
		out = append(out, b.Secrets()...)
	}
	return out
}

// logAudit appends one audit entry, never allowing an audit failure to mask
// the real result of the proxy call. Every proxy call is Action=proxy;
// credentialName is the resolved record name, empty when the credential
// could not be looked up (e.g. an unknown id).
func (b Base) logAudit(credentialID uuid.UUID, credentialName, tool string, result audit.Result, detail map[string]any, errMsg string) {
	if b.Audit == nil {
		return
	}
	id := credentialID
	_ = b.Audit.Append(audit.Entry{
		Tool:           tool,
		Action:         audit.ActionProxy,
		CredentialID:   &id,
		CredentialName: namePtr(credentialName),
		Result:         result,
		Detail:         detail,
		Error:          errMsg,
	})
}

func namePtr(name string) *string {
	if name == "" {
		return nil
	}
	return &name
}

func errorClass(err error) string {
	var e *apperr.Error
	if apperr.As(err, &e) {
		return string(e.Category)
	}
	return string(apperr.Internal)
}
