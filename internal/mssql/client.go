// Package mssql provides the authenticated SQL Server session layer.
// Once the scanner has confirmed a TDS listener, assessment actions
// run their T-SQL through a Client's ExecuteTable and ExecuteScalar.
package mssql

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"strings"
	"time"

	mssqldb "github.com/microsoft/go-mssqldb"
	"github.com/rs/zerolog"

	"github.com/vigilsec/sqlsweep/internal/types"
)

// Config describes one SQL Server session.
type Config struct {
	Host     string
	Port     int
	Instance string
	Username string
	Password string
	Database string

	// WindowsAuth uses the current security context instead of SQL
	// login credentials.
	WindowsAuth bool

	// Encrypt is passed through to go-mssqldb: "true", "false",
	// "strict" or "disable". Empty means "true".
	Encrypt string

	// Dialer routes the session through a shared dial path (e.g. a
	// SOCKS5 proxy). Nil means direct.
	Dialer interface {
		DialContext(ctx context.Context, network, address string) (net.Conn, error)
	}

	Logger zerolog.Logger
}

// Client wraps an open database handle for one server.
type Client struct {
	cfg Config
	db  *sql.DB
	log zerolog.Logger
}

// connectTimeout bounds the initial ping so a wedged server cannot
// stall an assessment run.
const connectTimeout = 15 * time.Second

// Connect opens and verifies a session.
func Connect(ctx context.Context, cfg Config) (*Client, error) {
	connector, err := mssqldb.NewConnector(buildConnectionString(cfg))
	if err != nil {
		return nil, fmt.Errorf("invalid connection parameters for %s: %w", cfg.Host, err)
	}
	if cfg.Dialer != nil {
		connector.Dialer = cfg.Dialer
	}

	db := sql.OpenDB(connector)

	pingCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("connection to %s failed: %w", cfg.Host, err)
	}

	cfg.Logger.Debug().Str("host", cfg.Host).Int("port", cfg.Port).Msg("SQL session established")

	return &Client{cfg: cfg, db: db, log: cfg.Logger}, nil
}

// buildConnectionString assembles a go-mssqldb DSN in key=value form.
func buildConnectionString(cfg Config) string {
	var parts []string

	parts = append(parts, fmt.Sprintf("server=%s", cfg.Host))

	if cfg.Port > 0 {
		parts = append(parts, fmt.Sprintf("port=%d", cfg.Port))
	}
	if cfg.Instance != "" {
		parts = append(parts, fmt.Sprintf("instance=%s", cfg.Instance))
	}
	if cfg.Database != "" {
		parts = append(parts, fmt.Sprintf("database=%s", cfg.Database))
	}

	if cfg.WindowsAuth {
		parts = append(parts, "trusted_connection=yes")
	} else {
		parts = append(parts, fmt.Sprintf("user id=%s", cfg.Username))
		parts = append(parts, fmt.Sprintf("password=%s", cfg.Password))
	}

	encrypt := cfg.Encrypt
	if encrypt == "" {
		encrypt = "true"
	}
	parts = append(parts, fmt.Sprintf("encrypt=%s", encrypt))
	parts = append(parts, "TrustServerCertificate=true")
	parts = append(parts, "app name=sqlsweep")

	return strings.Join(parts, ";")
}

// ExecuteTable runs a query and returns every row with values
// stringified in column order.
func (c *Client) ExecuteTable(ctx context.Context, query string) (*types.Table, error) {
	rows, err := c.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	table := &types.Table{Columns: columns}

	for rows.Next() {
		values := make([]interface{}, len(columns))
		valuePtrs := make([]interface{}, len(columns))
		for i := range values {
			valuePtrs[i] = &values[i]
		}

		if err := rows.Scan(valuePtrs...); err != nil {
			return nil, err
		}

		row := make([]string, len(columns))
		for i, val := range values {
			row[i] = formatValue(val)
		}
		table.Rows = append(table.Rows, row)
	}

	return table, rows.Err()
}

// ExecuteScalar runs a query and returns the first column of the first
// row, stringified. sql.ErrNoRows surfaces unchanged so callers can
// tell "no value" from a failed query.
func (c *Client) ExecuteScalar(ctx context.Context, query string) (string, error) {
	var value interface{}
	if err := c.db.QueryRowContext(ctx, query).Scan(&value); err != nil {
		return "", err
	}
	return formatValue(value), nil
}

func (c *Client) Close() error {
	return c.db.Close()
}

// formatValue renders a scanned SQL value for tabular output.
func formatValue(val interface{}) string {
	switch v := val.(type) {
	case nil:
		return "NULL"
	case []byte:
		return string(v)
	case time.Time:
		return v.Format(time.RFC3339)
	case bool:
		if v {
			return "1"
		}
		return "0"
	default:
		return fmt.Sprintf("%v", v)
	}
}
