// Package ad discovers candidate SQL Server hosts from Active
// Directory: it locates a domain controller, binds over LDAP and
// enumerates accounts carrying MSSQLSvc service principal names.
package ad

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-ldap/ldap/v3"
	"github.com/miekg/dns"
	"github.com/rs/zerolog"

	"github.com/vigilsec/sqlsweep/internal/types"
)

// Config describes how to reach and authenticate against the domain.
type Config struct {
	// Domain is the DNS domain name, e.g. "corp.local".
	Domain string

	// DomainController overrides SRV-based DC location.
	DomainController string

	// ResolverAddr is an explicit DNS server IP for SRV lookups.
	// Empty means the system resolver.
	ResolverAddr string

	// Username/Password bind the LDAP session. user@domain or
	// DOMAIN\user both work; empty credentials attempt an
	// unauthenticated bind.
	Username string
	Password string

	// Dialer routes LDAP and DNS traffic through the shared dial path.
	Dialer interface {
		DialContext(ctx context.Context, network, address string) (net.Conn, error)
	}

	Logger zerolog.Logger
}

// Client handles domain discovery via LDAP.
type Client struct {
	cfg    Config
	conn   *ldap.Conn
	baseDN string
	log    zerolog.Logger
}

const (
	ldapPort    = 389
	dnsPort     = 53
	dialTimeout = 10 * time.Second
	pageSize    = 1000
)

func NewClient(cfg Config) *Client {
	if cfg.Dialer == nil {
		cfg.Dialer = &net.Dialer{Timeout: dialTimeout}
	}

	return &Client{
		cfg:    cfg,
		baseDN: baseDNFromDomain(cfg.Domain),
		log:    cfg.Logger,
	}
}

// Connect locates a DC, opens the LDAP connection (upgrading with
// StartTLS when the server allows it) and binds.
func (c *Client) Connect(ctx context.Context) error {
	dc := c.cfg.DomainController
	if dc == "" {
		located, err := c.locateDC(ctx)
		if err != nil {
			return fmt.Errorf("failed to locate a domain controller for %s: %w", c.cfg.Domain, err)
		}
		dc = located
	}

	conn, err := c.dialLDAP(ctx, dc)
	if err != nil {
		return err
	}

	// Best effort: some DCs refuse simple binds on cleartext LDAP.
	serverName := dc
	if !strings.Contains(serverName, ".") && c.cfg.Domain != "" {
		serverName = fmt.Sprintf("%s.%s", dc, c.cfg.Domain)
	}
	if err := conn.StartTLS(&tls.Config{ServerName: serverName, InsecureSkipVerify: true}); err != nil {
		c.log.Debug().Str("dc", dc).Err(err).Msg("StartTLS not available, continuing in cleartext")
	}

	if c.cfg.Username != "" {
		err = conn.Bind(bindName(c.cfg.Username, c.cfg.Domain), c.cfg.Password)
	} else {
		err = conn.UnauthenticatedBind("")
	}
	if err != nil {
		conn.Close()
		return fmt.Errorf("LDAP bind to %s failed: %w", dc, err)
	}

	c.log.Debug().Str("dc", dc).Str("baseDN", c.baseDN).Msg("LDAP session established")
	c.conn = conn

	return nil
}

// dialLDAP opens the TCP connection through the shared dialer so a
// configured proxy covers LDAP too.
func (c *Client) dialLDAP(ctx context.Context, dc string) (*ldap.Conn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()

	addr := net.JoinHostPort(dc, strconv.Itoa(ldapPort))
	rawConn, err := c.cfg.Dialer.DialContext(dialCtx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("LDAP dial to %s failed: %w", addr, err)
	}

	conn := ldap.NewConn(rawConn, false)
	conn.Start()

	return conn, nil
}

// locateDC resolves the domain's LDAP SRV record. With an explicit
// resolver address the query goes out over TCP through the shared
// dialer; otherwise the system resolver is used. When no SRV record
// answers, the domain name itself is the last resort.
func (c *Client) locateDC(ctx context.Context) (string, error) {
	name := fmt.Sprintf("_ldap._tcp.dc._msdcs.%s.", strings.TrimSuffix(c.cfg.Domain, "."))

	if c.cfg.ResolverAddr != "" {
		target, err := c.querySRV(ctx, name)
		if err == nil && target != "" {
			return target, nil
		}
		c.log.Debug().Str("record", name).Err(err).Msg("SRV query against explicit resolver failed")
	} else {
		_, addrs, err := net.DefaultResolver.LookupSRV(ctx, "ldap", "tcp", c.cfg.Domain)
		if err == nil && len(addrs) > 0 {
			return strings.TrimSuffix(addrs[0].Target, "."), nil
		}
	}

	if c.cfg.Domain != "" {
		return c.cfg.Domain, nil
	}

	return "", fmt.Errorf("no domain controller candidates")
}

// querySRV performs one SRV lookup against the configured resolver.
// TCP only: SOCKS5 has no UDP support and DNS over TCP works fine.
func (c *Client) querySRV(ctx context.Context, name string) (string, error) {
	msg := new(dns.Msg)
	msg.SetQuestion(dns.Fqdn(name), dns.TypeSRV)

	resolverAddr := net.JoinHostPort(c.cfg.ResolverAddr, strconv.Itoa(dnsPort))
	rawConn, err := c.cfg.Dialer.DialContext(ctx, "tcp", resolverAddr)
	if err != nil {
		return "", fmt.Errorf("DNS dial to %s failed: %w", resolverAddr, err)
	}
	defer rawConn.Close()

	dnsConn := &dns.Conn{Conn: rawConn}
	if err := dnsConn.WriteMsg(msg); err != nil {
		return "", err
	}

	reply, err := dnsConn.ReadMsg()
	if err != nil {
		return "", err
	}

	var records []*dns.SRV
	for _, rr := range reply.Answer {
		if srv, ok := rr.(*dns.SRV); ok {
			records = append(records, srv)
		}
	}
	if len(records) == 0 {
		return "", fmt.Errorf("no SRV records for %s", name)
	}

	sort.Slice(records, func(i, j int) bool { return records[i].Priority < records[j].Priority })

	return strings.TrimSuffix(records[0].Target, "."), nil
}

// EnumerateSQLServers returns every MSSQLSvc SPN in the domain, paged.
func (c *Client) EnumerateSQLServers(ctx context.Context) ([]types.SPN, error) {
	if c.conn == nil {
		if err := c.Connect(ctx); err != nil {
			return nil, err
		}
	}

	searchRequest := ldap.NewSearchRequest(
		c.baseDN,
		ldap.ScopeWholeSubtree,
		ldap.NeverDerefAliases,
		0, 0, false,
		"(servicePrincipalName=MSSQLSvc/*)",
		[]string{"servicePrincipalName", "sAMAccountName"},
		nil,
	)

	pagingControl := ldap.NewControlPaging(pageSize)
	searchRequest.Controls = append(searchRequest.Controls, pagingControl)

	var spns []types.SPN

	for {
		result, err := c.conn.Search(searchRequest)
		if err != nil {
			return nil, fmt.Errorf("LDAP search failed: %w", err)
		}

		for _, entry := range result.Entries {
			accountName := entry.GetAttributeValue("sAMAccountName")

			for _, spn := range entry.GetAttributeValues("servicePrincipalName") {
				if !strings.HasPrefix(strings.ToUpper(spn), "MSSQLSVC/") {
					continue
				}

				parsed := parseSPN(spn)
				parsed.AccountName = accountName
				spns = append(spns, parsed)
			}
		}

		pagingResult := ldap.FindControl(result.Controls, ldap.ControlTypePaging)
		if pagingResult == nil {
			break
		}
		pagingCtrl := pagingResult.(*ldap.ControlPaging)
		if len(pagingCtrl.Cookie) == 0 {
			break
		}
		pagingControl.SetCookie(pagingCtrl.Cookie)
	}

	c.log.Info().Int("spns", len(spns)).Msg("MSSQLSvc SPN enumeration complete")

	return spns, nil
}

// Close closes the LDAP connection.
func (c *Client) Close() error {
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	return nil
}

// Hostnames dedupes SPNs down to the candidate hosts worth scanning,
// in stable sorted order.
func Hostnames(spns []types.SPN) []string {
	seen := make(map[string]struct{}, len(spns))
	var hosts []string

	for _, spn := range spns {
		host := strings.ToLower(spn.Hostname)
		if host == "" {
			continue
		}
		if _, ok := seen[host]; ok {
			continue
		}
		seen[host] = struct{}{}
		hosts = append(hosts, host)
	}

	sort.Strings(hosts)

	return hosts
}

// parseSPN splits "MSSQLSvc/host.fqdn:port" (or ":instance") into its
// parts. A numeric suffix is a port; anything else is an instance name.
func parseSPN(spn string) types.SPN {
	result := types.SPN{FullSPN: spn}

	parts := strings.SplitN(spn, "/", 2)
	if len(parts) < 2 {
		return result
	}

	result.ServiceClass = parts[0]
	hostPart := parts[1]

	if idx := strings.LastIndex(hostPart, ":"); idx != -1 {
		result.Hostname = hostPart[:idx]
		portOrInstance := hostPart[idx+1:]

		if _, err := strconv.Atoi(portOrInstance); err == nil {
			result.Port = portOrInstance
		} else {
			result.InstanceName = portOrInstance
		}
	} else {
		result.Hostname = hostPart
	}

	return result
}

// baseDNFromDomain turns "corp.local" into "DC=corp,DC=local".
func baseDNFromDomain(domain string) string {
	if domain == "" {
		return ""
	}

	labels := strings.Split(strings.TrimSuffix(domain, "."), ".")
	for i, label := range labels {
		labels[i] = "DC=" + label
	}

	return strings.Join(labels, ",")
}

// bindName normalizes a username for a simple bind: bare names become
// user@domain, DOMAIN\user and UPN forms pass through unchanged.
func bindName(username, domain string) string {
	if strings.Contains(username, "\\") || strings.Contains(username, "@") {
		return username
	}
	if domain != "" {
		return fmt.Sprintf("%s@%s", username, domain)
	}
	return username
}
