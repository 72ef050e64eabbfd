package dispatch

import (
	"context"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"passman/internal/audit"
)

// AuditLogOutput wraps the array output shape for the audit_log tool; the
// MCP tool-call surface requires a struct result, so the bare []audit.Entry
// from Dispatcher.AuditLog is wrapped here rather than in the core handler.
type AuditLogOutput struct {
	Entries []audit.Entry `json:"entries"`
}

type credentialListOutput struct {
	Credentials []CredentialMetadata `json:"credentials"`
}

// Register attaches every tool in the §6 surface to server, grounded on the
// mcp.AddTool(server, &mcp.Tool{...}, handler) pattern.
func (d *Dispatcher) Register(server *mcp.Server) {
	mcp.AddTool(server, &mcp.Tool{
		Name:        "vault_unlock",
		Description: "Derive the vault key from a password and unlock the credential store.",
	}, func(_ context.Context, _ *mcp.CallToolRequest, in VaultUnlockInput) (*mcp.CallToolResult, VaultUnlockOutput, error) {
		out, err := d.VaultUnlock(in)
		return nil, out, err
	})

	mcp.AddTool(server, &mcp.Tool{
		Name:        "vault_lock",
		Description: "Erase the derived key and every cached secret.",
	}, func(_ context.Context, _ *mcp.CallToolRequest, _ struct{}) (*mcp.CallToolResult, VaultLockOutput, error) {
		return nil, d.VaultLock(), nil
	})

	mcp.AddTool(server, &mcp.Tool{
		Name:        "vault_status",
		Description: "Report whether a vault file exists, whether it is locked, and coarse inventory counts.",
	}, func(_ context.Context, _ *mcp.CallToolRequest, _ struct{}) (*mcp.CallToolResult, VaultStatusOutput, error) {
		return nil, d.VaultStatus(), nil
	})

	mcp.AddTool(server, &mcp.Tool{
		Name:        "credential_list",
		Description: "List credential metadata, optionally filtered by kind, environment, or tag.",
	}, func(_ context.Context, _ *mcp.CallToolRequest, in CredentialListInput) (*mcp.CallToolResult, credentialListOutput, error) {
		list, err := d.CredentialList(in)
		return nil, credentialListOutput{Credentials: list}, err
	})

	mcp.AddTool(server, &mcp.Tool{
		Name:        "credential_search",
		Description: "Case-insensitive substring search over credential name, tags, and notes.",
	}, func(_ context.Context, _ *mcp.CallToolRequest, in CredentialSearchInput) (*mcp.CallToolResult, credentialListOutput, error) {
		list, err := d.CredentialSearch(in)
		return nil, credentialListOutput{Credentials: list}, err
	})

	mcp.AddTool(server, &mcp.Tool{
		Name:        "credential_info",
		Description: "Return metadata for a single credential by id.",
	}, func(_ context.Context, _ *mcp.CallToolRequest, in CredentialInfoInput) (*mcp.CallToolResult, CredentialMetadata, error) {
		out, err := d.CredentialInfo(in)
		return nil, out, err
	})

	mcp.AddTool(server, &mcp.Tool{
		Name:        "credential_store",
		Description: "Create a new credential, or replace an existing one when id is supplied.",
	}, func(_ context.Context, _ *mcp.CallToolRequest, in CredentialStoreInput) (*mcp.CallToolResult, CredentialStoreOutput, error) {
		out, err := d.CredentialStore(in)
		return nil, out, err
	})

	mcp.AddTool(server, &mcp.Tool{
		Name:        "credential_delete",
		Description: "Permanently remove a credential. Requires confirm: true.",
	}, func(_ context.Context, _ *mcp.CallToolRequest, in CredentialDeleteInput) (*mcp.CallToolResult, CredentialDeleteOutput, error) {
		out, err := d.CredentialDelete(in)
		return nil, out, err
	})

	mcp.AddTool(server, &mcp.Tool{
		Name:        "http_request",
		Description: "Issue an HTTP request with a stored credential injected as a header, basic auth, or client certificate.",
	}, func(ctx context.Context, _ *mcp.CallToolRequest, in HTTPRequestInput) (*mcp.CallToolResult, HTTPRequestOutput, error) {
		out, err := d.HTTPRequest(ctx, in)
		return nil, out, err
	})

	mcp.AddTool(server, &mcp.Tool{
		Name:        "ssh_exec",
		Description: "Run a single non-interactive command over SSH using a stored key or password credential.",
	}, func(ctx context.Context, _ *mcp.CallToolRequest, in SSHExecInput) (*mcp.CallToolResult, SSHExecOutput, error) {
		out, err := d.SSHExec(ctx, in)
		return nil, out, err
	})

	mcp.AddTool(server, &mcp.Tool{
		Name:        "sql_query",
		Description: "Run a query against a stored database connection credential. Writes are blocked unless the policy allows them.",
	}, func(ctx context.Context, _ *mcp.CallToolRequest, in SQLQueryInput) (*mcp.CallToolResult, SQLQueryOutput, error) {
		out, err := d.SQLQuery(ctx, in)
		return nil, out, err
	})

	mcp.AddTool(server, &mcp.Tool{
		Name:        "send_email",
		Description: "Send one email through a stored SMTP account credential.",
	}, func(ctx context.Context, _ *mcp.CallToolRequest, in SendEmailInput) (*mcp.CallToolResult, SendEmailOutput, error) {
		out, err := d.SendEmail(ctx, in)
		return nil, out, err
	})

	mcp.AddTool(server, &mcp.Tool{
		Name:        "audit_log",
		Description: "Read the append-only audit trail, optionally filtered by credential, time, and count.",
	}, func(_ context.Context, _ *mcp.CallToolRequest, in AuditLogInput) (*mcp.CallToolResult, AuditLogOutput, error) {
		entries, err := d.AuditLog(in)
		return nil, AuditLogOutput{Entries: entries}, err
	})
}
