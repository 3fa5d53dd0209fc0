// Package scanner discovers listening SQL Server instances on a host
// by probing TCP ports and validating, at the TDS wire level, that the
// respondent actually speaks the protocol rather than merely having an
// open socket. Scanning runs in phases (known ports, the IANA
// ephemeral range, optionally everything in between) with bounded
// concurrency, an adaptive per-probe timeout fed by observed
// latencies, and cooperative early-stop across all in-flight probes.
package scanner

import (
	"context"
	"net"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"github.com/vigilsec/sqlsweep/internal/types"
)

// Scan phases, entered in this fixed order.
const (
	PhaseKnownPorts = "known-ports"
	PhaseEphemeral  = "ephemeral"
	PhaseMiddle     = "middle"
)

// DefaultTimeout is the initial per-probe timeout before the tuner has
// enough samples to shrink it.
const DefaultTimeout = 300 * time.Millisecond

// DefaultParallelism is the hard ceiling on simultaneously in-flight
// probes.
const DefaultParallelism = 500

// ContextDialer is the dialing surface probes go through. A SOCKS5
// proxy dialer or a plain net.Dialer both satisfy it.
type ContextDialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// Options configures a Scanner. Zero values take defaults.
type Options struct {
	// Timeout is the initial per-probe timeout. The effective timeout
	// adapts downward during the scan; see timeoutTuner.
	Timeout time.Duration

	// Parallelism caps simultaneously in-flight probes.
	Parallelism int

	// StopOnFirst stops probing as soon as one confirmed result
	// exists, trading completeness for speed.
	StopOnFirst bool

	// ScanAll enables the middle phase ([1, 49151] minus known ports)
	// when the known and ephemeral phases find nothing.
	ScanAll bool

	// Resolver overrides the name resolver used for the single
	// up-front target resolution.
	Resolver *net.Resolver

	// Dialer overrides how probe connections are opened, e.g. to send
	// them through a SOCKS5 proxy.
	Dialer ContextDialer

	// Logger receives scan diagnostics.
	Logger zerolog.Logger
}

// Scanner runs TDS discovery scans. It holds no per-scan state, so one
// Scanner may serve concurrent Scan calls against different hosts.
type Scanner struct {
	timeout     time.Duration
	parallelism int
	stopOnFirst bool
	scanAll     bool
	resolver    *net.Resolver
	dialer      ContextDialer
	log         zerolog.Logger

	// phasePlan is swapped out by tests to scan synthetic port spaces.
	phasePlan func(scanAll bool) []phaseSpec
}

type phaseSpec struct {
	name  string
	ports func() []int
}

func defaultPhasePlan(scanAll bool) []phaseSpec {
	plan := []phaseSpec{
		{name: PhaseKnownPorts, ports: knownPortList},
		{name: PhaseEphemeral, ports: ephemeralPorts},
	}
	if scanAll {
		plan = append(plan, phaseSpec{name: PhaseMiddle, ports: middlePorts})
	}
	return plan
}

// New builds a Scanner from opts, applying defaults.
func New(opts Options) *Scanner {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Parallelism <= 0 {
		opts.Parallelism = DefaultParallelism
	}
	if opts.Dialer == nil {
		opts.Dialer = &net.Dialer{}
	}

	return &Scanner{
		timeout:     opts.Timeout,
		parallelism: opts.Parallelism,
		stopOnFirst: opts.StopOnFirst,
		scanAll:     opts.ScanAll,
		resolver:    opts.Resolver,
		dialer:      opts.Dialer,
		log:         opts.Logger,
		phasePlan:   defaultPhasePlan,
	}
}

// scanRun is the per-invocation state: the resolved IP and the
// adaptive timeout tuner shared by all of this scan's probes. Keeping
// it off the Scanner means concurrent scans do not interfere.
type scanRun struct {
	ip     net.IP
	tuner  *timeoutTuner
	dialer ContextDialer
	log    zerolog.Logger
}

// Scan resolves target once, then probes port spaces phase by phase
// until results are found (with StopOnFirst) or the plan is exhausted.
// Resolution failure is the only fatal error: it distinguishes "could
// not scan" from the meaningful empty result of a completed scan. A
// canceled parent context returns ctx.Err alongside whatever was
// gathered so far.
func (s *Scanner) Scan(ctx context.Context, target string) (*types.ScanSummary, error) {
	ip, err := resolveTarget(ctx, s.resolver, target)
	if err != nil {
		return nil, err
	}

	run := &scanRun{
		ip:     ip,
		tuner:  newTimeoutTuner(s.timeout),
		dialer: s.dialer,
		log:    s.log.With().Str("target", target).Str("ip", ip.String()).Logger(),
	}

	summary := &types.ScanSummary{Target: target, IP: ip.String()}
	started := time.Now()

	var scanErr error
	for _, phase := range s.phasePlan(s.scanAll) {
		if err := ctx.Err(); err != nil {
			scanErr = err
			break
		}

		report := s.runPhase(ctx, run, phase.name, phase.ports())
		summary.Phases = append(summary.Phases, report)

		run.log.Info().
			Str("phase", report.Phase).
			Int("probed", report.Probed).
			Int("results", len(report.Results)).
			Dur("elapsed", report.Duration).
			Msg("phase complete")

		if s.stopOnFirst && len(report.Results) > 0 {
			break
		}
	}

	// Aggregate even after cancellation: results from phases that
	// completed before the signal are still part of the answer.
	for _, phase := range summary.Phases {
		summary.Results = append(summary.Results, phase.Results...)
	}
	sort.Slice(summary.Results, func(i, j int) bool {
		return summary.Results[i].Port < summary.Results[j].Port
	})

	summary.Elapsed = time.Since(started)

	return summary, scanErr
}

// runPhase fans out one probe task per port under the admission gate.
// With StopOnFirst, the first probe to confirm cancels the phase
// context: unstarted tasks skip their work entirely, in-flight tasks
// abandon at their next suspension point, and tasks already past their
// last suspension point finish naturally and still land their result.
func (s *Scanner) runPhase(ctx context.Context, run *scanRun, name string, ports []int) types.PhaseReport {
	started := time.Now()

	phaseCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	gate := semaphore.NewWeighted(int64(s.parallelism))

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		results []types.ScanResult
		probed  atomic.Int64
	)

	for _, port := range ports {
		// Acquire blocks until a slot frees up; it returns early with
		// an error once the phase is canceled, which also covers the
		// "skip all unstarted work" half of early-stop.
		if err := gate.Acquire(phaseCtx, 1); err != nil {
			break
		}

		wg.Add(1)
		go func(port int) {
			defer wg.Done()
			defer gate.Release(1)

			probed.Add(1)

			result := run.probePort(phaseCtx, port)
			if result == nil {
				return
			}

			mu.Lock()
			results = append(results, *result)
			mu.Unlock()

			if s.stopOnFirst {
				cancel()
			}
		}(port)
	}

	wg.Wait()

	sort.Slice(results, func(i, j int) bool { return results[i].Port < results[j].Port })

	return types.PhaseReport{
		Phase:    name,
		Probed:   int(probed.Load()),
		Duration: time.Since(started),
		Results:  results,
	}
}
