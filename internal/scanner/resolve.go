package scanner

import (
	"context"
	"fmt"
	"net"
)

// ResolutionError is the one fatal failure mode of a scan: the target
// could not be resolved at all, so "no results" would be misleading.
type ResolutionError struct {
	Host string
	Err  error
}

func (e *ResolutionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("cannot resolve target %q: %v", e.Host, e.Err)
	}
	return fmt.Sprintf("cannot resolve target %q", e.Host)
}

func (e *ResolutionError) Unwrap() error {
	return e.Err
}

// resolveTarget turns a hostname or literal IP into a single address.
// Literal addresses pass through untouched without any name
// resolution. For hostnames, IPv4 is preferred; otherwise the first
// returned address is used. The result is resolved once per scan and
// shared by every probe, so a mid-scan DNS change cannot split the
// scan across hosts.
func resolveTarget(ctx context.Context, resolver *net.Resolver, host string) (net.IP, error) {
	if ip := net.ParseIP(host); ip != nil {
		return ip, nil
	}

	if resolver == nil {
		resolver = net.DefaultResolver
	}

	addrs, err := resolver.LookupIPAddr(ctx, host)
	if err != nil {
		return nil, &ResolutionError{Host: host, Err: err}
	}
	if len(addrs) == 0 {
		return nil, &ResolutionError{Host: host}
	}

	for _, addr := range addrs {
		if v4 := addr.IP.To4(); v4 != nil {
			return v4, nil
		}
	}

	return addrs[0].IP, nil
}
