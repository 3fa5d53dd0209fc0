package scanner

// KnownPorts is the curated list of ports SQL Server has been observed
// listening on in real deployments. Order is kept stable for log
// readability and does not affect correctness. Extend it as new custom
// ports show up in the field.
var KnownPorts = []int{
	1433,  // IANA default instance port
	1434,  // dedicated admin connection (DAC)
	2433,  // legacy "hide instance" default
	14433, // common "double up" convention
	14330, // prefix convention: 1433 + trailing digit
	14333,
	1533, // off-by-one-hundred moves seen in hardened estates
	1733,
	2383, // SQL Server with Analysis Services co-located
	11433,
}

// IANA ephemeral range. Named instances frequently end up here because
// the instance port is dynamically assigned at service start.
const (
	ephemeralStart = 49152
	ephemeralEnd   = 65535
)

// The middle phase covers everything below the ephemeral range.
const (
	middleStart = 1
	middleEnd   = ephemeralStart - 1
)

// knownPortList returns a copy of KnownPorts so a phase can own its
// port space without aliasing the package variable.
func knownPortList() []int {
	ports := make([]int, len(KnownPorts))
	copy(ports, KnownPorts)
	return ports
}

// ephemeralPorts returns the ephemeral range in edge-to-middle order.
func ephemeralPorts() []int {
	return edgeToMiddle(portRange(ephemeralStart, ephemeralEnd))
}

// middlePorts returns [middleStart, middleEnd] minus the known ports,
// in edge-to-middle order.
func middlePorts() []int {
	known := make(map[int]struct{}, len(KnownPorts))
	for _, p := range KnownPorts {
		known[p] = struct{}{}
	}

	ports := make([]int, 0, middleEnd-middleStart+1-len(known))
	for p := middleStart; p <= middleEnd; p++ {
		if _, ok := known[p]; ok {
			continue
		}
		ports = append(ports, p)
	}

	return edgeToMiddle(ports)
}

// portRange materializes the closed interval [lo, hi].
func portRange(lo, hi int) []int {
	ports := make([]int, 0, hi-lo+1)
	for p := lo; p <= hi; p++ {
		ports = append(ports, p)
	}
	return ports
}

// edgeToMiddle reorders a sorted port sequence by alternating between
// the low and high ends, converging inward: p0, pN-1, p1, pN-2, ...
// For odd N the single middle element comes last. The idea is to
// surface a hit sooner than a linear sweep would when a custom port
// sits near either end of a range, without assuming anything about
// where it actually is. Pure function; the input slice is not
// modified.
func edgeToMiddle(ports []int) []int {
	out := make([]int, 0, len(ports))

	lo, hi := 0, len(ports)-1
	for lo < hi {
		out = append(out, ports[lo], ports[hi])
		lo++
		hi--
	}
	if lo == hi {
		out = append(out, ports[lo])
	}

	return out
}
