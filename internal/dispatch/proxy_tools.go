package dispatch

import (
	"context"

	"github.com/google/uuid"

	"passman/internal/apperr"
	"passman/internal/proxy"
)

func parseCredentialID(raw string) (uuid.UUID, error) {
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, apperr.New(apperr.NotFound, "malformed credential id")
	}
	return id, nil
}

// --- http_request ---

type HTTPRequestInput struct {
	CredentialID string            `json:"credential_id"`
	Method       string            `json:"method"`
	URL          string            `json:"url"`
	Headers      map[string]string `json:"headers,omitempty"`
	Body         string            `json:"body,omitempty"`
}

type HTTPRequestOutput struct {
	Status  int                 `json:"status"`
	Headers map[string][]string `json:"headers"`
	Body    string              `json:"body"`
}

func (d *Dispatcher) HTTPRequest(ctx context.Context, in HTTPRequestInput) (HTTPRequestOutput, error) {
	id, err := parseCredentialID(in.CredentialID)
	if err != nil {
		return HTTPRequestOutput{}, err
	}
	resp, err := d.HTTP.Do(ctx, proxy.HTTPRequestInput{
		CredentialID: id,
		Method:       in.Method,
		URL:          in.URL,
		Headers:      in.Headers,
		Body:         in.Body,
	})
	if err != nil {
		return HTTPRequestOutput{}, err
	}
	return HTTPRequestOutput{Status: resp.Status, Headers: resp.Headers, Body: resp.Body}, nil
}

// --- ssh_exec ---

type SSHExecInput struct {
	CredentialID string `json:"credential_id"`
	Command      string `json:"command"`
}

type SSHExecOutput struct {
	ExitCode int    `json:"exit_code"`
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
}

func (d *Dispatcher) SSHExec(ctx context.Context, in SSHExecInput) (SSHExecOutput, error) {
	id, err := parseCredentialID(in.CredentialID)
	if err != nil {
		return SSHExecOutput{}, err
	}
	resp, err := d.SSH.Exec(ctx, proxy.SSHExecInput{CredentialID: id, Command: in.Command})
	if err != nil {
		return SSHExecOutput{}, err
	}
	return SSHExecOutput{ExitCode: resp.ExitCode, Stdout: resp.Stdout, Stderr: resp.Stderr}, nil
}

// --- sql_query ---

type SQLQueryInput struct {
	CredentialID string `json:"credential_id"`
	Query        string `json:"query"`
	Params       []any  `json:"params,omitempty"`
}

type SQLQueryOutput struct {
	Columns      []string `json:"columns,omitempty"`
	Rows         [][]any  `json:"rows,omitempty"`
	RowsAffected int64    `json:"rows_affected"`
}

func (d *Dispatcher) SQLQuery(ctx context.Context, in SQLQueryInput) (SQLQueryOutput, error) {
	id, err := parseCredentialID(in.CredentialID)
	if err != nil {
		return SQLQueryOutput{}, err
	}
	resp, err := d.SQL.Query(ctx, proxy.SQLQueryInput{CredentialID: id, Query: in.Query, Params: in.Params})
	if err != nil {
		return SQLQueryOutput{}, err
	}
	return SQLQueryOutput{Columns: resp.Columns, Rows: resp.Rows, RowsAffected: resp.RowsAffected}, nil
}

// --- send_email ---

type SendEmailInput struct {
	CredentialID string   `json:"credential_id"`
	To           []string `json:"to"`
	Subject      string   `json:"subject"`
	Body         string   `json:"body"`
	Cc           []string `json:"cc,omitempty"`
	Bcc          []string `json:"bcc,omitempty"`
}

type SendEmailOutput struct {
	Success   bool   `json:"success"`
	MessageID string `json:"message_id,omitempty"`
}

func (d *Dispatcher) SendEmail(ctx context.Context, in SendEmailInput) (SendEmailOutput, error) {
	id, err := parseCredentialID(in.CredentialID)
	if err != nil {
		return SendEmailOutput{}, err
	}
	resp, err := d.SMTP.Send(ctx, proxy.SendEmailInput{
		CredentialID: id, To: in.To, Cc: in.Cc, Bcc: in.Bcc, Subject: in.Subject, Body: in.Body,
	})
	if err != nil {
		return SendEmailOutput{}, err
	}
	return SendEmailOutput{Success: resp.Success, MessageID: resp.MessageID}, nil
}
