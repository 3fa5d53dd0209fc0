package scanner

import (
	"context"
	"errors"
	"net"
	"strconv"
	"syscall"
	"time"

	"github.com/vigilsec/sqlsweep/internal/types"
)

// probePort attempts one TCP-connect-and-handshake against a single
// port. It returns a ScanResult only when the respondent proves it
// speaks TDS; every other outcome (closed, filtered, timed out, open
// but not TDS, socket error) yields nil. Nothing a single port does
// may abort the scan, so all errors are absorbed here and logged at
// low verbosity.
func (r *scanRun) probePort(ctx context.Context, port int) *types.ScanResult {
	addr := net.JoinHostPort(r.ip.String(), strconv.Itoa(port))

	// Dial raced against the current effective timeout. The deadline
	// context both bounds the connect and aborts it on early-stop.
	timeout := r.tuner.Current()
	dialCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	conn, err := r.dialer.DialContext(dialCtx, "tcp", addr)
	elapsed := time.Since(start)

	if err != nil {
		// A clean refusal is a cheap, valid timing sample: the RTT to
		// the host is the same whether the port answered or refused.
		if isConnRefused(err) {
			r.tuner.Observe(elapsed)
		}
		r.log.Trace().Str("addr", addr).Dur("elapsed", elapsed).Err(err).Msg("connect failed")
		return nil
	}
	defer conn.Close()

	r.tuner.Observe(elapsed)

	// Early-stop check between suspension points. Past this point the
	// probe is one write and one read from done and is allowed to
	// finish naturally.
	if ctx.Err() != nil {
		return nil
	}

	// Fresh read: the tuner may have shrunk since the dial started.
	deadline := time.Now().Add(r.tuner.Current())
	if err := conn.SetDeadline(deadline); err != nil {
		r.log.Trace().Str("addr", addr).Err(err).Msg("set deadline failed")
		return nil
	}

	if _, err := conn.Write(preloginProbe); err != nil {
		r.log.Trace().Str("addr", addr).Err(err).Msg("PRELOGIN write failed")
		return nil
	}

	response := make([]byte, preloginReadLen)
	n, err := conn.Read(response)
	if err != nil && n == 0 {
		r.log.Trace().Str("addr", addr).Err(err).Msg("no PRELOGIN response")
		return nil
	}

	confirmed, info := classifyResponse(response[:n])
	if !confirmed {
		r.log.Debug().Str("addr", addr).Str("detail", info).Msg("open port is not TDS")
		return nil
	}

	r.log.Info().Str("addr", addr).Str("detail", info).Msg("TDS listener confirmed")

	return &types.ScanResult{
		Port:         port,
		IsTDS:        true,
		ResponseInfo: info,
	}
}

// isConnRefused reports whether a dial error is a definitive TCP-level
// refusal rather than a timeout or filter.
func isConnRefused(err error) bool {
	return errors.Is(err, syscall.ECONNREFUSED)
}
