package proxy

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"passman/internal/apperr"
	"passman/internal/audit"
	"passman/internal/policy"
	"passman/internal/sanitize"
	"passman/internal/vault"
)

// HTTPProxy injects a stored credential into an outbound HTTP request.
type HTTPProxy struct {
	Base
	Timeout time.Duration
}

// HTTPRequestInput mirrors the http_request tool input (§6).
type HTTPRequestInput struct {
	CredentialID uuid.UUID
	Method       string
	URL          string
	Headers      map[string]string
	Body         string
}

// HTTPResponse mirrors the http_request tool output.
type HTTPResponse struct {
	Status  int                 `json:"status"`
	Headers map[string][]string `json:"headers"`
	Body    string              `json:"body"`
}

var allowedHTTPMethods = map[string]bool{
	http.MethodGet: true, http.MethodPost: true, http.MethodPut: true,
	http.MethodPatch: true, http.MethodDelete: true, http.MethodHead: true,
}

// Do performs one HTTP request on behalf of in.CredentialID.
func (p *HTTPProxy) Do(ctx context.Context, in HTTPRequestInput) (HTTPResponse, error) {
	method := strings.ToUpper(strings.TrimSpace(in.Method))
	if !allowedHTTPMethods[method] {
		return HTTPResponse{}, apperr.New(apperr.Internal, "unsupported http method "+in.Method)
	}

	rec, secret, err := p.checkAndFetch(ctx, in.CredentialID, policy.ToolHTTPRequest, policy.CheckInput{HTTPURL: in.URL})
	if err != nil {
		p.logAudit(in.CredentialID, rec.Name, policy.ToolHTTPRequest, audit.ResultDenied, map[string]any{"url_host": hostOf(in.URL)}, errorClass(err))
		return HTTPResponse{}, err
	}

	timeout := p.Timeout
	if timeout <= 0 {
		timeout = DefaultHTTPTimeout
	}
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, method, in.URL, strings.NewReader(in.Body))
	if err != nil {
		p.logAudit(in.CredentialID, rec.Name, policy.ToolHTTPRequest, audit.ResultError, map[string]any{"url_host": hostOf(in.URL)}, "internal")
		return HTTPResponse{}, apperr.Wrap(apperr.Internal, "build request", err)
	}
	for k, v := range in.Headers {
		req.Header.Set(k, v)
	}

	client, err := p.clientFor(rec, secret, timeout)
	if err != nil {
		p.logAudit(in.CredentialID, rec.Name, policy.ToolHTTPRequest, audit.ResultError, map[string]any{"url_host": hostOf(in.URL)}, errorClass(err))
		return HTTPResponse{}, err
	}
	if err := injectHTTPCredential(req, rec.Kind, secret); err != nil {
		p.logAudit(in.CredentialID, rec.Name, policy.ToolHTTPRequest, audit.ResultError, map[string]any{"url_host": hostOf(in.URL)}, errorClass(err))
		return HTTPResponse{}, err
	}

	resp, err := client.Do(req)
	if err != nil {
		class := apperr.Timeout
		if reqCtx.Err() == nil {
			class = apperr.ProtocolError
		}
		sanitized := sanitize.String(err.Error(), p.secretValues(secret))
		p.logAudit(in.CredentialID, rec.Name, policy.ToolHTTPRequest, audit.ResultError, map[string]any{"url_host": hostOf(in.URL)}, sanitized)
		return HTTPResponse{}, apperr.New(class, sanitized)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		p.logAudit(in.CredentialID, rec.Name, policy.ToolHTTPRequest, audit.ResultError, map[string]any{"url_host": hostOf(in.URL)}, "read body")
		return HTTPResponse{}, apperr.Wrap(apperr.ProtocolError, "read response body", err)
	}

	secrets := p.secretValues(secret)
	out := HTTPResponse{
		Status:  resp.StatusCode,
		Headers: sanitize.Headers(resp.Header, secrets),
		Body:    sanitize.String(bodyOrHex(bodyBytes), secrets),
	}
	p.logAudit(in.CredentialID, rec.Name, policy.ToolHTTPRequest, audit.ResultSuccess, map[string]any{"url_host": hostOf(in.URL), "status": out.Status}, "")
	return out, nil
}

// clientFor returns the shared keep-alive client, except for Certificate
// credentials which need a one-off transport carrying the client cert pair.
func (p *HTTPProxy) clientFor(rec vault.CredentialRecord, secret vault.SecretPayload, timeout time.Duration) (*http.Client, error) {
	if rec.Kind != vault.KindCertificate {
		return sharedHTTPClient(timeout), nil
	}
	cert, err := tls.X509KeyPair([]byte(secret.Fields["cert_pem"]), []byte(secret.Fields["key_pem"]))
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "parse client certificate", err)
	}
	tlsConfig := &tls.Config{Certificates: []tls.Certificate{cert}}
	if ca := secret.Fields["ca_pem"]; ca != "" {
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM([]byte(ca)) {
			return nil, apperr.New(apperr.Internal, "invalid ca_pem")
		}
		tlsConfig.RootCAs = pool
	}
	return &http.Client{
		Timeout:   timeout,
		Transport: &http.Transport{TLSClientConfig: tlsConfig},
	}, nil
}

// injectHTTPCredential sets the Authorization (or configured) header
// according to the credential kind. Certificate credentials need no header;
// authentication happens at the TLS layer via clientFor.
func injectHTTPCredential(req *http.Request, kind vault.CredentialKind, secret vault.SecretPayload) error {
	switch kind {
	case vault.KindApiToken:
		headerName, ok := secret.Fields["header_name"]
		if !ok {
			headerName = "Authorization"
		}
		prefix, ok := secret.Fields["prefix"]
		if !ok {
			prefix = "Bearer "
		}
		req.Header.Set(headerName, prefix+secret.Fields["token"])
	case vault.KindPassword:
		creds := secret.Fields["username"] + ":" + secret.Fields["password"]
		req.Header.Set("Authorization", "Basic "+base64.StdEncoding.EncodeToString([]byte(creds)))
	case vault.KindCertificate:
		// handled by the TLS transport, no header needed.
	default:
		return apperr.New(apperr.KindMismatch, "credential kind "+string(kind)+" cannot be used for http_request")
	}
	return nil
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return u.Host
}

func bodyOrHex(b []byte) string {
	if utf8.Valid(b) {
		return string(b)
	}
	return fmt.Sprintf("%x", b)
}
