package proxy

import (
	"context"
	"crypto/tls"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	gomail "gopkg.in/gomail.v2"

	"passman/internal/apperr"
	"passman/internal/audit"
	"passman/internal/policy"
	"passman/internal/sanitize"
	"passman/internal/vault"
)

// SMTPProxy delivers one message through a stored SmtpAccount credential.
type SMTPProxy struct {
	Base
	Timeout time.Duration
}

// SMTPEncryption selects the transport security mode for an SMTP session.
type SMTPEncryption string

const (
	SMTPNone     SMTPEncryption = "none"
	SMTPStartTLS SMTPEncryption = "start_tls"
	SMTPTLS      SMTPEncryption = "tls"
)

// SendEmailInput mirrors the send_email tool input.
type SendEmailInput struct {
	CredentialID uuid.UUID
	To           []string
	Cc           []string
	Bcc          []string
	Subject      string
	Body         string
}

// SendEmailResponse mirrors the send_email tool output.
type SendEmailResponse struct {
	Success   bool   `json:"success"`
	MessageID string `json:"message_id,omitempty"`
}

// Send delivers in as a single message using the credential's server,
// authentication, and encryption mode.
func (p *SMTPProxy) Send(ctx context.Context, in SendEmailInput) (SendEmailResponse, error) {
	allRecipients := append(append(append([]string{}, in.To...), in.Cc...), in.Bcc...)
	rec, secret, err := p.checkAndFetch(ctx, in.CredentialID, policy.ToolSendEmail, policy.CheckInput{SMTPAllRecips: allRecipients})
	if err != nil {
		p.logAudit(in.CredentialID, rec.Name, policy.ToolSendEmail, audit.ResultDenied, map[string]any{"recipient_count": len(allRecipients)}, errorClass(err))
		return SendEmailResponse{}, err
	}
	if rec.Kind != vault.KindSmtpAccount {
		err := apperr.New(apperr.KindMismatch, "credential kind "+string(rec.Kind)+" cannot be used for send_email")
		p.logAudit(in.CredentialID, rec.Name, policy.ToolSendEmail, audit.ResultError, nil, errorClass(err))
		return SendEmailResponse{}, err
	}

	host := secret.Fields["host"]
	port, err := smtpPort(secret.Fields["port"])
	if err != nil {
		p.logAudit(in.CredentialID, rec.Name, policy.ToolSendEmail, audit.ResultError, map[string]any{"host": host}, errorClass(err))
		return SendEmailResponse{}, err
	}
	encryption := SMTPEncryption(strings.ToLower(secret.Fields["encryption"]))
	if encryption == "" {
		encryption = SMTPStartTLS
	}

	m := gomail.NewMessage()
	m.SetHeader("From", secret.Fields["username"])
	m.SetHeader("To", in.To...)
	if len(in.Cc) > 0 {
		m.SetHeader("Cc", in.Cc...)
	}
	if len(in.Bcc) > 0 {
		m.SetHeader("Bcc", in.Bcc...)
	}
	m.SetHeader("Subject", in.Subject)
	m.SetBody("text/plain", in.Body)

	dialer := gomail.NewDialer(host, port, secret.Fields["username"], secret.Fields["password"])
	switch encryption {
	case SMTPNone:
		dialer.SSL = false
		dialer.TLSConfig = nil
	case SMTPTLS:
		dialer.SSL = true
		dialer.TLSConfig = &tls.Config{ServerName: host}
	default: // start_tls is gomail's default opportunistic behavior
		dialer.TLSConfig = &tls.Config{ServerName: host}
	}

	timeout := p.Timeout
	if timeout <= 0 {
		timeout = DefaultSMTPTimeout
	}
	sendCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	errCh := make(chan error, 1)
	go func() { errCh <- dialer.DialAndSend(m) }()

	select {
	case sendErr := <-errCh:
		if sendErr != nil {
			class := apperr.ProtocolError
			sanitized := sanitize.String(sendErr.Error(), p.secretValues(secret))
			p.logAudit(in.CredentialID, rec.Name, policy.ToolSendEmail, audit.ResultError, map[string]any{"host": host, "recipient_count": len(allRecipients)}, sanitized)
			return SendEmailResponse{}, apperr.New(class, sanitized)
		}
		p.logAudit(in.CredentialID, rec.Name, policy.ToolSendEmail, audit.ResultSuccess, map[string]any{"host": host, "recipient_count": len(allRecipients)}, "")
		return SendEmailResponse{Success: true}, nil
	case <-sendCtx.Done():
		p.logAudit(in.CredentialID, rec.Name, policy.ToolSendEmail, audit.ResultError, map[string]any{"host": host}, "timeout")
		return SendEmailResponse{}, apperr.New(apperr.Timeout, "smtp send timed out")
	}
}

func smtpPort(raw string) (int, error) {
	if raw == "" {
		return 587, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, apperr.Wrap(apperr.KindMismatch, "invalid smtp port", err)
	}
	return n, nil
}
