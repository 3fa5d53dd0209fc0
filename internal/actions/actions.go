// Package actions holds the thin T-SQL assessment actions that run
// against a confirmed server: each action is one query through the
// session layer plus tabular rendering of the result.
package actions

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/vigilsec/sqlsweep/internal/types"
)

// Executor is the query surface actions depend on, satisfied by
// mssql.Client.
type Executor interface {
	ExecuteTable(ctx context.Context, query string) (*types.Table, error)
	ExecuteScalar(ctx context.Context, query string) (string, error)
}

// Action pairs a name with the T-SQL it runs.
type Action struct {
	Name        string
	Description string
	Query       string
}

var registry = []Action{
	{
		Name:        "whoami",
		Description: "Current login, mapped user and sysadmin membership",
		Query: `SELECT SYSTEM_USER AS [login],
       USER_NAME() AS [user],
       IS_SRVROLEMEMBER('sysadmin') AS [sysadmin],
       IS_SRVROLEMEMBER('securityadmin') AS [securityadmin]`,
	},
	{
		Name:        "serverinfo",
		Description: "Version, edition and authentication mode",
		Query: `SELECT SERVERPROPERTY('ServerName') AS [server],
       SERVERPROPERTY('ProductVersion') AS [version],
       SERVERPROPERTY('ProductLevel') AS [level],
       SERVERPROPERTY('Edition') AS [edition],
       CASE SERVERPROPERTY('IsIntegratedSecurityOnly')
            WHEN 1 THEN 'Windows' ELSE 'Mixed' END AS [authMode],
       SERVERPROPERTY('IsClustered') AS [clustered]`,
	},
	{
		Name:        "databases",
		Description: "Databases with owner and TRUSTWORTHY flag",
		Query: `SELECT d.name AS [database],
       SUSER_SNAME(d.owner_sid) AS [owner],
       d.is_trustworthy_on AS [trustworthy],
       HAS_DBACCESS(d.name) AS [accessible]
FROM sys.databases d
ORDER BY d.name`,
	},
	{
		Name:        "linkedservers",
		Description: "Linked servers reachable from this instance",
		Query: `SELECT s.name AS [name],
       s.product AS [product],
       s.provider AS [provider],
       s.data_source AS [dataSource]
FROM sys.servers s
WHERE s.is_linked = 1
ORDER BY s.name`,
	},
	{
		Name:        "impersonation",
		Description: "Logins the current principal may impersonate",
		Query: `SELECT pe.permission_name AS [permission],
       pr.name AS [grantor],
       pr.type_desc AS [grantorType]
FROM sys.server_permissions pe
JOIN sys.server_principals pr ON pe.grantor_principal_id = pr.principal_id
WHERE pe.permission_name = 'IMPERSONATE'`,
	},
}

// All returns every registered action, sorted by name.
func All() []Action {
	actions := make([]Action, len(registry))
	copy(actions, registry)
	sort.Slice(actions, func(i, j int) bool { return actions[i].Name < actions[j].Name })
	return actions
}

// Lookup finds an action by name, case-insensitively.
func Lookup(name string) (Action, error) {
	for _, a := range registry {
		if strings.EqualFold(a.Name, name) {
			return a, nil
		}
	}

	names := make([]string, 0, len(registry))
	for _, a := range All() {
		names = append(names, a.Name)
	}

	return Action{}, fmt.Errorf("unknown action %q (available: %s)", name, strings.Join(names, ", "))
}

// Run executes one action and renders its result to w.
func Run(ctx context.Context, exec Executor, name string, w io.Writer) error {
	action, err := Lookup(name)
	if err != nil {
		return err
	}

	table, err := exec.ExecuteTable(ctx, action.Query)
	if err != nil {
		return fmt.Errorf("action %s: %w", action.Name, err)
	}

	fmt.Fprintf(w, "\n[%s] %s\n", action.Name, action.Description)
	if len(table.Rows) == 0 {
		fmt.Fprintln(w, "  (no rows)")
		return nil
	}

	RenderTable(w, table)

	return nil
}
