// Package dispatch implements the tool dispatcher (§4.8): a thin routing
// layer mapping tool names to core vault/policy/proxy operations. It defines
// the input/output shapes and enforces the "vault unlocked" precondition for
// every tool other than vault_unlock, vault_lock, and vault_status. tools.go
// registers these handlers on an MCP server; the transport that carries the
// calls (line-delimited JSON over stdio, set up in cmd/passman) is a separate
// collaborator.
package dispatch

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"passman/internal/apperr"
	"passman/internal/audit"
	"passman/internal/config"
	"passman/internal/policy"
	"passman/internal/proxy"
	"passman/internal/vault"
)

// configRules adapts a config.Config (rules keyed by credential name) to
// proxy.PolicyRules (rules looked up by credential id), resolving the name
// through the vault's metadata on every call so edits to either document
// take effect without a restart.
type configRules struct {
	store *vault.Store
	cfg   func() config.Config
}

func (r configRules) RuleFor(id uuid.UUID) policy.Rule {
	rec, err := r.store.Info(id)
	if err != nil {
		return policy.Rule{}
	}
	return r.cfg().PolicyRuleFor(rec.Name)
}

// Dispatcher bundles the vault store and protocol proxies behind the tool
// surface from §6. It holds no transport-specific state.
type Dispatcher struct {
	Vault  *vault.Store
	Audit  *audit.Log
	Policy *policy.Engine

	HTTP *proxy.HTTPProxy
	SSH  *proxy.SSHProxy
	SQL  *proxy.SQLProxy
	SMTP *proxy.SMTPProxy
}

// New wires a Dispatcher from its collaborators. cfg is re-read on every
// policy lookup so config.Save takes effect without restarting the process.
func New(store *vault.Store, log *audit.Log, cfg func() config.Config) *Dispatcher {
	engine := policy.New()
	rules := configRules{store: store, cfg: cfg}
	base := proxy.Base{Store: store, Policy: engine, Rules: rules, Audit: log}
	return &Dispatcher{
		Vault:  store,
		Audit:  log,
		Policy: engine,
		HTTP:   &proxy.HTTPProxy{Base: base},
		SSH:    &proxy.SSHProxy{Base: base},
		SQL:    &proxy.SQLProxy{Base: base},
		SMTP:   &proxy.SMTPProxy{Base: base},
	}
}

func errorClass(err error) string {
	var e *apperr.Error
	if apperr.As(err, &e) {
		return string(e.Category)
	}
	return string(apperr.Internal)
}

func requireUnlocked(store *vault.Store) error {
	if store.Locked() {
		return apperr.New(apperr.VaultLocked, "vault is locked")
	}
	return nil
}

// logLifecycle appends a non-secret audit entry for tools that bypass the
// proxy layer's own Base.logAudit (vault lifecycle, discovery, storage).
// credentialName is resolved by the caller (typically via d.Vault.Info)
// and may be empty when the credential is unknown or not applicable.
func (d *Dispatcher) logLifecycle(tool string, action audit.Action, credentialID *uuid.UUID, credentialName string, result audit.Result, detail map[string]any, errMsg string) {
	if d.Audit == nil {
		return
	}
	_ = d.Audit.Append(audit.Entry{
		Tool:           tool,
		Action:         action,
		CredentialID:   credentialID,
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

// nameFor resolves a credential's name for audit logging, tolerating an
// unknown id (the entry is still written, just without a name).
func (d *Dispatcher) nameFor(id uuid.UUID) string {
	rec, err := d.Vault.Info(id)
	if err != nil {
		return ""
	}
	return rec.Name
}

// CredentialMetadata is the non-secret half of a credential, returned by
// every discovery and storage tool.
type CredentialMetadata struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Kind        string   `json:"kind"`
	Environment string   `json:"environment"`
	Tags        []string `json:"tags,omitempty"`
	Notes       string   `json:"notes,omitempty"`
	CreatedAt   string   `json:"created_at"`
	UpdatedAt   string   `json:"updated_at"`
}

func toMetadata(r vault.CredentialRecord) CredentialMetadata {
	return CredentialMetadata{
		ID:          r.ID.String(),
		Name:        r.Name,
		Kind:        string(r.Kind),
		Environment: r.Environment.String(),
		Tags:        r.Tags,
		Notes:       r.Notes,
		CreatedAt:   r.CreatedAt.Format(time.RFC3339),
		UpdatedAt:   r.UpdatedAt.Format(time.RFC3339),
	}
}

// --- vault_unlock ---

type VaultUnlockInput struct {
	Password string `json:"password"`
}

type VaultUnlockOutput struct {
	Success         bool `json:"success"`
	CredentialCount int  `json:"credential_count"`
}

func (d *Dispatcher) VaultUnlock(in VaultUnlockInput) (VaultUnlockOutput, error) {
	if !d.Vault.Exists() {
		err := apperr.New(apperr.VaultMissing, "no vault exists at the configured path")
		d.logLifecycle("vault_unlock", audit.ActionLifecycle, nil, "", audit.ResultError, nil, errorClass(err))
		return VaultUnlockOutput{}, err
	}
	count, err := d.Vault.Unlock(in.Password)
	if err != nil {
		wrapped := apperr.Wrap(apperr.InvalidPassword, "incorrect password or corrupted vault", err)
		d.logLifecycle("vault_unlock", audit.ActionLifecycle, nil, "", audit.ResultError, nil, errorClass(wrapped))
		return VaultUnlockOutput{}, wrapped
	}
	d.logLifecycle("vault_unlock", audit.ActionLifecycle, nil, "", audit.ResultSuccess, map[string]any{"credential_count": count}, "")
	return VaultUnlockOutput{Success: true, CredentialCount: count}, nil
}

// --- vault_lock ---

type VaultLockOutput struct {
	Success bool `json:"success"`
}

func (d *Dispatcher) VaultLock() VaultLockOutput {
	d.Vault.Lock()
	d.logLifecycle("vault_lock", audit.ActionLifecycle, nil, "", audit.ResultSuccess, nil, "")
	return VaultLockOutput{Success: true}
}

// --- vault_status ---

type VaultStatusOutput struct {
	Exists          bool     `json:"exists"`
	Locked          bool     `json:"locked"`
	CredentialCount *int     `json:"credential_count,omitempty"`
	Environments    []string `json:"environments,omitempty"`
}

func (d *Dispatcher) VaultStatus() VaultStatusOutput {
	exists := d.Vault.Exists()
	locked := d.Vault.Locked()
	out := VaultStatusOutput{Exists: exists, Locked: locked}
	if !exists {
		return out
	}
	records := d.Vault.ListMetadata(nil, "", "")
	count := len(records)
	out.CredentialCount = &count
	seen := map[string]bool{}
	for _, r := range records {
		env := r.Environment.String()
		if !seen[env] {
			seen[env] = true
			out.Environments = append(out.Environments, env)
		}
	}
	return out
}

// --- credential_list ---

type CredentialListInput struct {
	Kind        string `json:"kind,omitempty"`
	Environment string `json:"environment,omitempty"`
	Tag         string `json:"tag,omitempty"`
}

func (d *Dispatcher) CredentialList(in CredentialListInput) ([]CredentialMetadata, error) {
	if err := requireUnlocked(d.Vault); err != nil {
		return nil, err
	}
	var kindPtr *vault.CredentialKind
	if in.Kind != "" {
		k := vault.CredentialKind(in.Kind)
		kindPtr = &k
	}
	records := d.Vault.ListMetadata(kindPtr, in.Environment, in.Tag)
	out := make([]CredentialMetadata, len(records))
	for i, r := range records {
		out[i] = toMetadata(r)
	}
	d.logLifecycle("credential_list", audit.ActionDiscovery, nil, "", audit.ResultSuccess, map[string]any{"count": len(out)}, "")
	return out, nil
}

// --- credential_search ---

type CredentialSearchInput struct {
	Query string `json:"query"`
}

func (d *Dispatcher) CredentialSearch(in CredentialSearchInput) ([]CredentialMetadata, error) {
	if err := requireUnlocked(d.Vault); err != nil {
		return nil, err
	}
	records := d.Vault.Search(in.Query)
	out := make([]CredentialMetadata, len(records))
	for i, r := range records {
		out[i] = toMetadata(r)
	}
	d.logLifecycle("credential_search", audit.ActionDiscovery, nil, "", audit.ResultSuccess, map[string]any{"count": len(out)}, "")
	return out, nil
}

// --- credential_info ---

type CredentialInfoInput struct {
	ID string `json:"id"`
}

func (d *Dispatcher) CredentialInfo(in CredentialInfoInput) (CredentialMetadata, error) {
	if err := requireUnlocked(d.Vault); err != nil {
		return CredentialMetadata{}, err
	}
	id, err := uuid.Parse(in.ID)
	if err != nil {
		return CredentialMetadata{}, apperr.New(apperr.NotFound, "malformed credential id")
	}
	rec, err := d.Vault.Info(id)
	if err != nil {
		wrapped := apperr.Wrap(apperr.NotFound, "credential not found", err)
		d.logLifecycle("credential_info", audit.ActionDiscovery, &id, "", audit.ResultError, nil, errorClass(wrapped))
		return CredentialMetadata{}, wrapped
	}
	d.logLifecycle("credential_info", audit.ActionDiscovery, &id, rec.Name, audit.ResultSuccess, nil, "")
	return toMetadata(rec), nil
}

// --- credential_store ---

type CredentialStoreInput struct {
	ID          string            `json:"id,omitempty"`
	Name        string            `json:"name"`
	Kind        string            `json:"kind"`
	Environment string            `json:"environment"`
	Secret      map[string]string `json:"secret"`
	Tags        []string          `json:"tags,omitempty"`
	Notes       string            `json:"notes,omitempty"`
}

type CredentialStoreOutput struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

func (d *Dispatcher) CredentialStore(in CredentialStoreInput) (CredentialStoreOutput, error) {
	if err := requireUnlocked(d.Vault); err != nil {
		return CredentialStoreOutput{}, err
	}
	kind := vault.CredentialKind(in.Kind)
	if !vault.ValidKind(kind) {
		return CredentialStoreOutput{}, apperr.New(apperr.KindMismatch, "unknown credential kind "+in.Kind)
	}
	var id uuid.UUID
	if strings.TrimSpace(in.ID) != "" {
		parsed, err := uuid.Parse(in.ID)
		if err != nil {
			return CredentialStoreOutput{}, apperr.New(apperr.NotFound, "malformed credential id")
		}
		id = parsed
	}
	rec, err := d.Vault.Upsert(vault.UpsertInput{
		ID:          id,
		Name:        in.Name,
		Kind:        kind,
		Environment: vault.NewEnvironment(in.Environment),
		Tags:        in.Tags,
		Notes:       in.Notes,
		Secret:      vault.SecretPayload{Kind: kind, Fields: in.Secret},
	})
	if err != nil {
		wrapped := apperr.Wrap(apperr.KindMismatch, "credential rejected", err)
		d.logLifecycle("credential_store", audit.ActionMutate, nil, in.Name, audit.ResultError, map[string]any{"name": in.Name}, errorClass(wrapped))
		return CredentialStoreOutput{}, wrapped
	}
	d.logLifecycle("credential_store", audit.ActionMutate, &rec.ID, rec.Name, audit.ResultSuccess, map[string]any{"name": rec.Name, "kind": string(rec.Kind)}, "")
	return CredentialStoreOutput{ID: rec.ID.String(), Name: rec.Name}, nil
}

// --- credential_delete ---

type CredentialDeleteInput struct {
	ID      string `json:"id"`
	Confirm bool   `json:"confirm"`
}

type CredentialDeleteOutput struct {
	Success bool `json:"success"`
}

func (d *Dispatcher) CredentialDelete(in CredentialDeleteInput) (CredentialDeleteOutput, error) {
	if err := requireUnlocked(d.Vault); err != nil {
		return CredentialDeleteOutput{}, err
	}
	if !in.Confirm {
		return CredentialDeleteOutput{}, apperr.New(apperr.Internal, "confirm must be true to delete a credential")
	}
	id, err := uuid.Parse(in.ID)
	if err != nil {
		return CredentialDeleteOutput{}, apperr.New(apperr.NotFound, "malformed credential id")
	}
	name := d.nameFor(id)
	if err := d.Vault.Delete(id); err != nil {
		wrapped := apperr.Wrap(apperr.NotFound, "credential not found", err)
		d.logLifecycle("credential_delete", audit.ActionMutate, &id, name, audit.ResultError, nil, errorClass(wrapped))
		return CredentialDeleteOutput{}, wrapped
	}
	d.logLifecycle("credential_delete", audit.ActionMutate, &id, name, audit.ResultSuccess, nil, "")
	return CredentialDeleteOutput{Success: true}, nil
}

// --- audit_log ---

type AuditLogInput struct {
	CredentialID string `json:"credential_id,omitempty"`
	Limit        int    `json:"limit,omitempty"`
	Since        string `json:"since,omitempty"`
}

func (d *Dispatcher) AuditLog(in AuditLogInput) ([]audit.Entry, error) {
	if err := requireUnlocked(d.Vault); err != nil {
		return nil, err
	}
	filter := audit.Filter{Limit: in.Limit}
	if in.CredentialID != "" {
		id, err := uuid.Parse(in.CredentialID)
		if err != nil {
			return nil, apperr.New(apperr.NotFound, "malformed credential id")
		}
		filter.CredentialID = &id
	}
	if in.Since != "" {
		since, err := time.Parse(time.RFC3339, in.Since)
		if err != nil {
			return nil, apperr.Wrap(apperr.Internal, "since must be RFC3339", err)
		}
		filter.Since = &since
	}
	entries, err := d.Audit.Query(filter)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "read audit log", err)
	}
	// audit_log reads are themselves an auditable operation (§4.4).
	var name string
	if filter.CredentialID != nil {
		name = d.nameFor(*filter.CredentialID)
	}
	d.logLifecycle("audit_log", audit.ActionAudit, filter.CredentialID, name, audit.ResultSuccess, map[string]any{"returned": len(entries)}, "")
	return entries, nil
}
