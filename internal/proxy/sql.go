package proxy

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"passman/internal/apperr"
	"passman/internal/audit"
	"passman/internal/policy"
	"passman/internal/sanitize"
	"passman/internal/vault"
)

// SQLProxy runs one statement against a stored DatabaseConnection credential.
type SQLProxy struct {
	Base
	Timeout time.Duration
}

// SQLQueryInput mirrors the sql_query tool input.
type SQLQueryInput struct {
	CredentialID uuid.UUID
	Query        string
	Params       []any
}

// SQLQueryResponse mirrors the sql_query tool output. Columns/Rows are set
// for SELECT-shaped statements; RowsAffected is set otherwise.
type SQLQueryResponse struct {
	Columns      []string `json:"columns,omitempty"`
	Rows         [][]any  `json:"rows,omitempty"`
	RowsAffected int64    `json:"rows_affected"`
}

var defaultSQLPort = map[string]string{
	"postgres":   "5432",
	"postgresql": "5432",
	"mysql":      "3306",
	"sqlite":     "",
}

// Query executes in.Query against in.CredentialID's database, honoring the
// write-block policy and using the dialect's positional-parameter
// convention.
func (p *SQLProxy) Query(ctx context.Context, in SQLQueryInput) (SQLQueryResponse, error) {
	rec, secret, err := p.checkAndFetch(ctx, in.CredentialID, policy.ToolSQLQuery, policy.CheckInput{SQLQuery: in.Query})
	if err != nil {
		p.logAudit(in.CredentialID, rec.Name, policy.ToolSQLQuery, audit.ResultDenied, nil, errorClass(err))
		return SQLQueryResponse{}, err
	}
	if rec.Kind != vault.KindDatabaseConnection {
		err := apperr.New(apperr.KindMismatch, "credential kind "+string(rec.Kind)+" cannot be used for sql_query")
		p.logAudit(in.CredentialID, rec.Name, policy.ToolSQLQuery, audit.ResultError, nil, errorClass(err))
		return SQLQueryResponse{}, err
	}

	driverName, dsn, err := buildDSN(secret)
	if err != nil {
		p.logAudit(in.CredentialID, rec.Name, policy.ToolSQLQuery, audit.ResultError, map[string]any{"driver": secret.Fields["driver"]}, errorClass(err))
		return SQLQueryResponse{}, err
	}

	timeout := p.Timeout
	if timeout <= 0 {
		timeout = DefaultSQLTimeout
	}
	queryCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	db, err := sql.Open(driverName, dsn)
	if err != nil {
		p.logAudit(in.CredentialID, rec.Name, policy.ToolSQLQuery, audit.ResultError, map[string]any{"driver": driverName}, "connect")
		return SQLQueryResponse{}, apperr.Wrap(apperr.ProtocolError, "open database connection", err)
	}
	defer db.Close()

	rewritten := rewritePlaceholders(driverName, in.Query)

	var out SQLQueryResponse
	if !policy.IsWriteStatement(in.Query) {
		out, err = runSelect(queryCtx, db, rewritten, in.Params)
	} else {
		out, err = runExec(queryCtx, db, rewritten, in.Params)
	}
	if err != nil {
		class := apperr.ProtocolError
		if queryCtx.Err() != nil {
			class = apperr.Timeout
		}
		sanitized := sanitize.String(err.Error(), p.secretValues(secret))
		p.logAudit(in.CredentialID, rec.Name, policy.ToolSQLQuery, audit.ResultError, map[string]any{"driver": driverName}, sanitized)
		return SQLQueryResponse{}, apperr.New(class, sanitized)
	}

	secrets := p.secretValues(secret)
	for _, row := range out.Rows {
		for i, cell := range row {
			if s, ok := cell.(string); ok {
				row[i] = sanitize.String(s, secrets)
			}
		}
	}
	p.logAudit(in.CredentialID, rec.Name, policy.ToolSQLQuery, audit.ResultSuccess, map[string]any{"driver": driverName, "rows_affected": out.RowsAffected}, "")
	return out, nil
}

func runSelect(ctx context.Context, db *sql.DB, query string, params []any) (SQLQueryResponse, error) {
	rows, err := db.QueryContext(ctx, query, params...)
	if err != nil {
		return SQLQueryResponse{}, err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return SQLQueryResponse{}, err
	}

	var result [][]any
	for rows.Next() {
		values := make([]any, len(cols))
		scanTargets := make([]any, len(cols))
		for i := range values {
			scanTargets[i] = &values[i]
		}
		if err := rows.Scan(scanTargets...); err != nil {
			return SQLQueryResponse{}, err
		}
		for i, v := range values {
			if b, ok := v.([]byte); ok {
				values[i] = string(b)
			}
		}
		result = append(result, values)
	}
	if err := rows.Err(); err != nil {
		return SQLQueryResponse{}, err
	}
	return SQLQueryResponse{Columns: cols, Rows: result}, nil
}

func runExec(ctx context.Context, db *sql.DB, query string, params []any) (SQLQueryResponse, error) {
	res, err := db.ExecContext(ctx, query, params...)
	if err != nil {
		return SQLQueryResponse{}, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return SQLQueryResponse{}, err
	}
	return SQLQueryResponse{RowsAffected: affected}, nil
}

// buildDSN assembles a driver name and connection string from the
// credential's fields, applying each dialect's default port when absent.
func buildDSN(secret vault.SecretPayload) (string, string, error) {
	driver := strings.ToLower(secret.Fields["driver"])
	host := secret.Fields["host"]
	port := secret.Fields["port"]
	database := secret.Fields["database"]
	username := secret.Fields["username"]
	password := secret.Fields["password"]

	if port == "" {
		port = defaultSQLPort[driver]
	}

	switch driver {
	case "postgres", "postgresql":
		dsn := fmt.Sprintf("host=%s port=%s dbname=%s user=%s password=%s sslmode=disable",
			host, port, database, username, password)
		if extra := strings.TrimSpace(secret.Fields["params"]); extra != "" {
			dsn += " " + strings.ReplaceAll(extra, "&", " ")
		}
		return "postgres", dsn, nil
	case "mysql":
		cfg := mysql.NewConfig()
		cfg.User = username
		cfg.Passwd = password
		cfg.Net = "tcp"
		cfg.Addr = host + ":" + port
		cfg.DBName = database
		cfg.ParseTime = true
		return "mysql", cfg.FormatDSN(), nil
	case "sqlite", "sqlite3":
		return "sqlite", database, nil
	default:
		return "", "", apperr.New(apperr.KindMismatch, "unsupported sql driver "+driver)
	}
}

// rewritePlaceholders converts the vault's neutral "?" placeholder
// convention into each dialect's native positional syntax: "$1" for
// Postgres, "?" as-is for MySQL and SQLite.
func rewritePlaceholders(driverName, query string) string {
	if driverName != "postgres" {
		return query
	}
	var b strings.Builder
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}
