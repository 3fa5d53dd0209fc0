package scanner

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// tdsReply is the first 8 bytes of a plausible PRELOGIN response.
var tdsReply = []byte{0x12, 0x01, 0x00, 0x30, 0x00, 0x00, 0x01, 0x00}

// startResponder runs a listener on a loopback ephemeral port that
// reads the probe and answers with reply. An empty reply makes the
// responder close the connection without writing anything.
func startResponder(t *testing.T, reply []byte) int {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func(c net.Conn) {
				defer c.Close()
				buf := make([]byte, 64)
				if _, err := c.Read(buf); err != nil {
					return
				}
				if len(reply) > 0 {
					_, _ = c.Write(reply)
				}
			}(conn)
		}
	}()

	return ln.Addr().(*net.TCPAddr).Port
}

// closedPort returns a loopback port that nothing is listening on.
func closedPort(t *testing.T) int {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())

	return port
}

func newTestScanner(stopOnFirst bool, plan []phaseSpec) *Scanner {
	s := New(Options{
		Timeout:     500 * time.Millisecond,
		Parallelism: 16,
		StopOnFirst: stopOnFirst,
		Logger:      zerolog.Nop(),
	})
	s.phasePlan = func(bool) []phaseSpec { return plan }

	return s
}

func staticPorts(ports ...int) func() []int {
	return func() []int { return ports }
}

func TestScanFindsTDSListener(t *testing.T) {
	tdsPort := startResponder(t, tdsReply)

	s := newTestScanner(true, []phaseSpec{
		{name: PhaseKnownPorts, ports: staticPorts(tdsPort)},
		{name: PhaseEphemeral, ports: staticPorts(closedPort(t))},
	})

	summary, err := s.Scan(context.Background(), "127.0.0.1")
	require.NoError(t, err)

	require.Len(t, summary.Results, 1)
	assert.Equal(t, tdsPort, summary.Results[0].Port)
	assert.True(t, summary.Results[0].IsTDS)

	// With stop-on-first the ephemeral phase must never run.
	require.Len(t, summary.Phases, 1)
	assert.Equal(t, PhaseKnownPorts, summary.Phases[0].Phase)
	assert.Equal(t, 1, summary.Phases[0].Probed)
}

func TestScanNonTDSListenerProceedsToNextPhase(t *testing.T) {
	httpPort := startResponder(t, []byte("HTTP/1.1 400 Bad Request\r\n"))
	tdsPort := startResponder(t, tdsReply)

	s := newTestScanner(true, []phaseSpec{
		{name: PhaseKnownPorts, ports: staticPorts(httpPort)},
		{name: PhaseEphemeral, ports: staticPorts(tdsPort)},
	})

	summary, err := s.Scan(context.Background(), "127.0.0.1")
	require.NoError(t, err)

	// The open-but-not-TDS port is not a finding, so the scan went on.
	require.Len(t, summary.Phases, 2)
	assert.Empty(t, summary.Phases[0].Results)

	require.Len(t, summary.Results, 1)
	assert.Equal(t, tdsPort, summary.Results[0].Port)
}

func TestScanNothingFoundIsNotAnError(t *testing.T) {
	s := newTestScanner(true, []phaseSpec{
		{name: PhaseKnownPorts, ports: staticPorts(closedPort(t))},
		{name: PhaseEphemeral, ports: staticPorts(closedPort(t))},
	})

	summary, err := s.Scan(context.Background(), "127.0.0.1")
	require.NoError(t, err)

	assert.Empty(t, summary.Results)
	assert.Len(t, summary.Phases, 2)
}

func TestScanResolutionFailureIsFatal(t *testing.T) {
	s := newTestScanner(true, []phaseSpec{
		{name: PhaseKnownPorts, ports: staticPorts(1433)},
	})

	summary, err := s.Scan(context.Background(), "does-not-exist.invalid.")

	require.Error(t, err)
	assert.Nil(t, summary)
	assert.ErrorAs(t, err, new(*ResolutionError))
}

func TestMisbehavingPortDoesNotStopSiblings(t *testing.T) {
	rudePort := startResponder(t, nil) // accepts, then hangs up without answering
	tdsPort := startResponder(t, tdsReply)

	s := newTestScanner(false, []phaseSpec{
		{name: PhaseKnownPorts, ports: staticPorts(rudePort, tdsPort, closedPort(t))},
	})

	summary, err := s.Scan(context.Background(), "127.0.0.1")
	require.NoError(t, err)

	require.Len(t, summary.Phases, 1)
	assert.Equal(t, 3, summary.Phases[0].Probed)

	require.Len(t, summary.Results, 1)
	assert.Equal(t, tdsPort, summary.Results[0].Port)
}

func TestScanWithoutStopOnFirstRunsAllPhases(t *testing.T) {
	tdsPort := startResponder(t, tdsReply)
	secondTDSPort := startResponder(t, tdsReply)

	s := newTestScanner(false, []phaseSpec{
		{name: PhaseKnownPorts, ports: staticPorts(tdsPort)},
		{name: PhaseEphemeral, ports: staticPorts(secondTDSPort)},
	})

	summary, err := s.Scan(context.Background(), "127.0.0.1")
	require.NoError(t, err)

	require.Len(t, summary.Phases, 2)
	require.Len(t, summary.Results, 2)
	assert.Less(t, summary.Results[0].Port, summary.Results[1].Port, "results must be sorted by port")
}

func TestScanHonorsCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	s := newTestScanner(true, []phaseSpec{
		{name: PhaseKnownPorts, ports: staticPorts(closedPort(t))},
	})

	summary, err := s.Scan(ctx, "127.0.0.1")

	require.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, summary)
	assert.Empty(t, summary.Phases)
}

func TestScanCanceledMidScanKeepsGatheredResults(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// A TDS responder that pulls the plug on the whole scan right
	// after reading the probe, before answering: the first phase still
	// lands its finding, the second phase must never start.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })
	port := ln.Addr().(*net.TCPAddr).Port

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		buf := make([]byte, 64)
		if _, err := conn.Read(buf); err != nil {
			return
		}
		cancel()
		_, _ = conn.Write(tdsReply)
	}()

	s := newTestScanner(false, []phaseSpec{
		{name: PhaseKnownPorts, ports: staticPorts(port)},
		{name: PhaseEphemeral, ports: staticPorts(closedPort(t))},
	})

	summary, err := s.Scan(ctx, "127.0.0.1")

	require.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, summary)
	require.Len(t, summary.Phases, 1)

	require.Len(t, summary.Results, 1, "results gathered before cancellation must survive")
	assert.Equal(t, port, summary.Results[0].Port)
	assert.True(t, summary.Results[0].IsTDS)
}
