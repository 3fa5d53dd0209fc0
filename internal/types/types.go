// Package types defines the core data structures shared across sqlsweep:
// scan results and phase reports produced by the scanner, SPN records
// produced by Active Directory discovery, and tabular query results
// produced by the SQL session layer.
package types

import (
	"fmt"
	"time"
)

// ScanResult represents one confirmed finding on a single port. It is
// created at most once per probed port and never mutated afterwards.
type ScanResult struct {
	Port         int    `json:"port"`
	IsTDS        bool   `json:"isTds"`
	ResponseInfo string `json:"responseInfo"`
}

// PhaseReport holds the outcome of one scan phase.
type PhaseReport struct {
	Phase    string        `json:"phase"`
	Probed   int           `json:"probed"`
	Duration time.Duration `json:"duration"`
	Results  []ScanResult  `json:"results,omitempty"`
}

// ScanSummary aggregates the phases actually run against one target.
// Results holds the union of all phase results, sorted by port.
type ScanSummary struct {
	Target  string        `json:"target"`
	IP      string        `json:"ip"`
	Phases  []PhaseReport `json:"phases"`
	Results []ScanResult  `json:"results,omitempty"`
	Elapsed time.Duration `json:"elapsed"`
}

// SPN represents a parsed service principal name from Active Directory.
type SPN struct {
	ServiceClass string `json:"serviceClass"`
	Hostname     string `json:"hostname"`
	Port         string `json:"port,omitempty"`
	InstanceName string `json:"instanceName,omitempty"`
	FullSPN      string `json:"fullSpn"`
	AccountName  string `json:"accountName,omitempty"`
}

// Address returns "host" or "host:port" depending on whether the SPN
// carries an explicit port.
func (s SPN) Address() string {
	if s.Port != "" {
		return fmt.Sprintf("%s:%s", s.Hostname, s.Port)
	}
	return s.Hostname
}

// Table is a generic tabular query result: column names plus rows of
// stringified values in column order.
type Table struct {
	Columns []string   `json:"columns"`
	Rows    [][]string `json:"rows"`
}
