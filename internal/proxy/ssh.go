package proxy

import (
	"bytes"
	"context"
	"net"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/ssh"

	"passman/internal/apperr"
	"passman/internal/audit"
	"passman/internal/policy"
	"passman/internal/sanitize"
	"passman/internal/vault"
)

// SSHProxy executes a single non-interactive remote command using a stored
// SshKey or SshPassword credential.
type SSHProxy struct {
	Base
	Timeout time.Duration
}

// SSHExecInput mirrors the ssh_exec tool input.
type SSHExecInput struct {
	CredentialID uuid.UUID
	Command      string
}

// SSHExecResponse mirrors the ssh_exec tool output.
type SSHExecResponse struct {
	ExitCode int    `json:"exit_code"`
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
}

// Exec opens a session, runs in.Command once, and closes.
func (p *SSHProxy) Exec(ctx context.Context, in SSHExecInput) (SSHExecResponse, error) {
	rec, secret, err := p.checkAndFetch(ctx, in.CredentialID, policy.ToolSSHExec, policy.CheckInput{SSHCommand: in.Command})
	if err != nil {
		p.logAudit(in.CredentialID, rec.Name, policy.ToolSSHExec, audit.ResultDenied, nil, errorClass(err))
		return SSHExecResponse{}, err
	}

	timeout := p.Timeout
	if timeout <= 0 {
		timeout = DefaultSSHTimeout
	}
	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	client, host, err := dialSSH(execCtx, rec, secret)
	if err != nil {
		p.logAudit(in.CredentialID, rec.Name, policy.ToolSSHExec, audit.ResultError, map[string]any{"host": host}, errorClass(err))
		return SSHExecResponse{}, err
	}
	defer client.Close()

	done := make(chan struct{})
	go func() {
		select {
		case <-execCtx.Done():
			_ = client.Close()
		case <-done:
		}
	}()
	defer close(done)

	session, sessErr := client.NewSession()
	if sessErr != nil {
		p.logAudit(in.CredentialID, rec.Name, policy.ToolSSHExec, audit.ResultError, map[string]any{"host": host}, "open session")
		return SSHExecResponse{}, apperr.Wrap(apperr.ProtocolError, "open ssh session", sessErr)
	}
	defer session.Close()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	runErr := session.Run(in.Command)
	exitCode := 0
	if runErr != nil {
		if exitErr, ok := runErr.(*ssh.ExitError); ok {
			exitCode = exitErr.ExitStatus()
		} else {
			if execCtx.Err() != nil {
				p.logAudit(in.CredentialID, rec.Name, policy.ToolSSHExec, audit.ResultError, map[string]any{"host": host}, "timeout")
				return SSHExecResponse{}, apperr.New(apperr.Timeout, "ssh command timed out")
			}
			sanitized := sanitize.String(runErr.Error(), p.secretValues(secret))
			p.logAudit(in.CredentialID, rec.Name, policy.ToolSSHExec, audit.ResultError, map[string]any{"host": host}, sanitized)
			return SSHExecResponse{}, apperr.New(apperr.ProtocolError, sanitized)
		}
	}

	secrets := p.secretValues(secret)
	out := SSHExecResponse{
		ExitCode: exitCode,
		Stdout:   sanitize.String(stdout.String(), secrets),
		Stderr:   sanitize.String(stderr.String(), secrets),
	}
	p.logAudit(in.CredentialID, rec.Name, policy.ToolSSHExec, audit.ResultSuccess, map[string]any{"host": host, "exit_code": exitCode}, "")
	return out, nil
}

func dialSSH(ctx context.Context, rec vault.CredentialRecord, secret vault.SecretPayload) (*ssh.Client, string, error) {
	host := secret.Fields["host"]
	port := secret.Fields["port"]
	if port == "" {
		port = "22"
	}
	user := secret.Fields["username"]
	if user == "" {
		return nil, host, apperr.New(apperr.KindMismatch, "ssh credential missing username")
	}

	var auth []ssh.AuthMethod
	switch rec.Kind {
	case vault.KindSshKey:
		signer, err := parseSSHSigner(secret.Fields["private_key"], secret.Fields["passphrase"])
		if err != nil {
			return nil, host, apperr.Wrap(apperr.KindMismatch, "parse ssh private key", err)
		}
		auth = []ssh.AuthMethod{ssh.PublicKeys(signer)}
	case vault.KindSshPassword:
		auth = []ssh.AuthMethod{ssh.Password(secret.Fields["password"])}
	default:
		return nil, host, apperr.New(apperr.KindMismatch, "credential kind "+string(rec.Kind)+" cannot be used for ssh_exec")
	}

	config := &ssh.ClientConfig{
		User:            user,
		Auth:            auth,
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         10 * time.Second,
	}

	addr := net.JoinHostPort(host, port)
	dialer := net.Dialer{}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, host, apperr.Wrap(apperr.ProtocolError, "dial ssh host", err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}
	clientConn, chans, reqs, err := ssh.NewClientConn(conn, addr, config)
	if err != nil {
		_ = conn.Close()
		return nil, host, apperr.Wrap(apperr.ProtocolError, "ssh handshake", err)
	}
	return ssh.NewClient(clientConn, chans, reqs), host, nil
}

func parseSSHSigner(privateKey, passphrase string) (ssh.Signer, error) {
	if passphrase != "" {
		return ssh.ParsePrivateKeyWithPassphrase([]byte(privateKey), []byte(passphrase))
	}
	return ssh.ParsePrivateKey([]byte(privateKey))
}
