package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/vigilsec/sqlsweep/internal/actions"
	"github.com/vigilsec/sqlsweep/internal/ad"
	"github.com/vigilsec/sqlsweep/internal/logger"
	"github.com/vigilsec/sqlsweep/internal/mssql"
	"github.com/vigilsec/sqlsweep/internal/proxydialer"
	"github.com/vigilsec/sqlsweep/internal/scanner"
	"github.com/vigilsec/sqlsweep/internal/types"
)

var (
	version = "0.3.0"

	// Target selection
	target       string
	domain       string
	dcIP         string
	dnsResolver  string
	ldapUser     string
	ldapPassword string

	// Session credentials
	userID      string
	password    string
	database    string
	windowsAuth bool
	encrypt     string

	// Assessment
	actionList string

	// Scan tuning
	timeoutMs   int
	workers     int
	scanAll     bool
	stopOnFirst bool

	// Proxy
	proxyAddr string

	// Output
	verbose bool
	trace   bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "sqlsweep",
		Short: "sqlsweep: discover and assess Microsoft SQL Server instances",
		Long: `sqlsweep: discover and assess Microsoft SQL Server instances

Finds TDS-speaking listeners on a host by probing TCP ports in phases
(known ports, the IANA ephemeral range, optionally everything else),
then optionally runs T-SQL assessment actions against confirmed
servers. Candidate hosts can also be discovered from Active Directory
MSSQLSvc service principal names.`,
		Version:      version,
		RunE:         run,
		SilenceUsage: true,
	}

	// Target flags
	rootCmd.Flags().StringVarP(&target, "target", "t", "", "Host or IP to scan")
	rootCmd.Flags().StringVarP(&domain, "domain", "d", "", "AD domain to discover candidate hosts from (MSSQLSvc SPNs)")
	rootCmd.Flags().StringVar(&dcIP, "dc-ip", "", "Domain controller hostname or IP (also used as DNS resolver if --dns-resolver not specified)")
	rootCmd.Flags().StringVar(&dnsResolver, "dns-resolver", "", "DNS resolver IP address for target and domain lookups")
	rootCmd.Flags().StringVar(&ldapUser, "ldap-user", "", "LDAP bind user (user, DOMAIN\\user or user@domain)")
	rootCmd.Flags().StringVar(&ldapPassword, "ldap-password", "", "LDAP bind password")

	// Session flags
	rootCmd.Flags().StringVarP(&userID, "user", "u", "", "SQL login username for assessment actions")
	rootCmd.Flags().StringVarP(&password, "password", "p", "", "SQL login password")
	rootCmd.Flags().StringVar(&database, "database", "", "Database to connect to (default master)")
	rootCmd.Flags().BoolVar(&windowsAuth, "windows-auth", false, "Use Windows integrated authentication for SQL sessions")
	rootCmd.Flags().StringVar(&encrypt, "encrypt", "", "Session encryption: true, false, strict, disable (default true)")

	// Assessment flags
	rootCmd.Flags().StringVar(&actionList, "action", "", "Comma-separated assessment actions to run on confirmed servers, or 'all'")

	// Scan flags
	rootCmd.Flags().IntVar(&timeoutMs, "timeout-ms", 300, "Initial per-probe timeout in milliseconds (adapts downward)")
	rootCmd.Flags().IntVarP(&workers, "workers", "w", 500, "Maximum concurrently in-flight probes")
	rootCmd.Flags().BoolVar(&scanAll, "scan-all", false, "Also scan ports 1-49151 outside the known list when earlier phases find nothing")
	rootCmd.Flags().BoolVar(&stopOnFirst, "stop-on-first", true, "Stop probing once one TDS listener is confirmed")

	// Proxy flags
	rootCmd.Flags().StringVar(&proxyAddr, "proxy", "", "SOCKS5 proxy address (host:port or socks5://[user:pass@]host:port)")

	// Output flags
	rootCmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.Flags().BoolVar(&trace, "trace", false, "Enable per-probe trace logging (very noisy)")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	level := "info"
	if verbose {
		level = "debug"
	}
	if trace {
		level = "trace"
	}
	if err := logger.Init(logger.Config{Level: level}); err != nil {
		return err
	}

	fmt.Printf("sqlsweep v%s\n\n", version)

	if target == "" && domain == "" {
		return fmt.Errorf("either --target or --domain is required")
	}

	dialer, err := proxydialer.New(proxyAddr)
	if err != nil {
		return err
	}
	if proxyAddr != "" {
		fmt.Printf("SOCKS5 proxy configured: %s\n\n", proxyAddr)
	}

	// If --dc-ip is given without an explicit resolver, the DC is the
	// resolver: it runs AD-integrated DNS.
	resolverAddr := dnsResolver
	if resolverAddr == "" && dcIP != "" {
		resolverAddr = dcIP
	}

	var resolver *net.Resolver
	if resolverAddr != "" {
		fmt.Printf("Using DNS resolver: %s\n\n", resolverAddr)
		resolver = &net.Resolver{
			PreferGo: true,
			Dial: func(ctx context.Context, network, address string) (net.Conn, error) {
				// TCP only: SOCKS5 has no UDP support and DNS over TCP
				// works fine.
				return dialer.DialContext(ctx, "tcp", net.JoinHostPort(resolverAddr, "53"))
			},
		}
	}

	ctx := context.Background()

	targets, err := gatherTargets(ctx, dialer, resolverAddr)
	if err != nil {
		return err
	}

	s := scanner.New(scanner.Options{
		Timeout:     time.Duration(timeoutMs) * time.Millisecond,
		Parallelism: workers,
		StopOnFirst: stopOnFirst,
		ScanAll:     scanAll,
		Resolver:    resolver,
		Dialer:      dialer,
		Logger:      logger.Get(),
	})

	exitErr := false
	for _, host := range targets {
		summary, err := s.Scan(ctx, host)
		if err != nil {
			var resErr *scanner.ResolutionError
			if errors.As(err, &resErr) {
				// Could not even try. Reported before any phase timing
				// so it cannot be mistaken for "scanned, found nothing".
				fmt.Printf("[-] %v\n\n", resErr)
				exitErr = true
				continue
			}
			return err
		}

		printSummary(summary)

		if len(summary.Results) > 0 && actionList != "" {
			if err := runActions(ctx, dialer, host, summary.Results[0].Port); err != nil {
				logger.Error().Str("host", host).Err(err).Msg("assessment actions failed")
				exitErr = true
			}
		}
	}

	if exitErr {
		return fmt.Errorf("one or more targets failed")
	}
	return nil
}

// gatherTargets returns the explicit target or the hosts discovered
// from MSSQLSvc SPNs in the domain.
func gatherTargets(ctx context.Context, dialer proxydialer.ContextDialer, resolverAddr string) ([]string, error) {
	if target != "" {
		return []string{target}, nil
	}

	// Fall back to SQL credentials for the LDAP bind when they look
	// like domain credentials.
	bindUser, bindPassword := ldapUser, ldapPassword
	if bindUser == "" && userID != "" &&
		(strings.Contains(userID, "\\") || strings.Contains(userID, "@")) {
		bindUser, bindPassword = userID, password
	}

	client := ad.NewClient(ad.Config{
		Domain:           domain,
		DomainController: dcIP,
		ResolverAddr:     resolverAddr,
		Username:         bindUser,
		Password:         bindPassword,
		Dialer:           dialer,
		Logger:           logger.Get(),
	})
	defer client.Close()

	spns, err := client.EnumerateSQLServers(ctx)
	if err != nil {
		return nil, fmt.Errorf("AD discovery failed: %w", err)
	}

	hosts := ad.Hostnames(spns)
	if len(hosts) == 0 {
		return nil, fmt.Errorf("no MSSQLSvc SPNs found in %s", domain)
	}

	fmt.Printf("Discovered %d candidate host(s) from %d MSSQLSvc SPN(s)\n\n", len(hosts), len(spns))

	return hosts, nil
}

func printSummary(summary *types.ScanSummary) {
	fmt.Printf("=== %s (%s) ===\n", summary.Target, summary.IP)

	for _, phase := range summary.Phases {
		fmt.Printf("  phase %-12s %6d ports probed in %s\n",
			phase.Phase, phase.Probed, phase.Duration.Round(time.Millisecond))
	}

	if len(summary.Results) == 0 {
		fmt.Printf("  no SQL Server ports found (%s total)\n\n", summary.Elapsed.Round(time.Millisecond))
		return
	}

	table := &types.Table{Columns: []string{"port", "tds", "detail"}}
	for _, r := range summary.Results {
		table.Rows = append(table.Rows, []string{
			strconv.Itoa(r.Port),
			strconv.FormatBool(r.IsTDS),
			r.ResponseInfo,
		})
	}

	fmt.Println()
	actions.RenderTable(os.Stdout, table)
	fmt.Printf("\n  scan finished in %s\n\n", summary.Elapsed.Round(time.Millisecond))
}

// runActions connects an authenticated session to the first confirmed
// port and runs the requested assessment actions.
func runActions(ctx context.Context, dialer proxydialer.ContextDialer, host string, port int) error {
	if userID == "" && !windowsAuth {
		return fmt.Errorf("assessment actions need --user/--password or --windows-auth")
	}

	client, err := mssql.Connect(ctx, mssql.Config{
		Host:        host,
		Port:        port,
		Username:    userID,
		Password:    password,
		Database:    database,
		WindowsAuth: windowsAuth,
		Encrypt:     encrypt,
		Dialer:      dialer,
		Logger:      logger.Get(),
	})
	if err != nil {
		return err
	}
	defer client.Close()

	var names []string
	if strings.EqualFold(actionList, "all") {
		for _, a := range actions.All() {
			names = append(names, a.Name)
		}
	} else {
		for _, name := range strings.Split(actionList, ",") {
			if name = strings.TrimSpace(name); name != "" {
				names = append(names, name)
			}
		}
	}

	for _, name := range names {
		if err := actions.Run(ctx, client, name, os.Stdout); err != nil {
			return err
		}
	}

	return nil
}
