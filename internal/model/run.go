package model

import "time"

// RunKind distinguishes the two pipeline phases.
type RunKind string

const (
	RunKindDiscovery  RunKind = "discovery"
	RunKindExtraction RunKind = "extraction"
)

// RunStatus represents the lifecycle state of a scraper run.
type RunStatus string

const (
	RunStatusPending   RunStatus = "pending"
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
)

// Terminal reports whether the status admits no further transitions.
func (s RunStatus) Terminal() bool {
	return s == RunStatusCompleted || s == RunStatusFailed
}

// RunConfig is the immutable configuration a run was created with.
type RunConfig struct {
	Countries     []string `json:"countries,omitempty"`
	Platforms     []string `json:"platforms,omitempty"`
	Mode          string   `json:"mode,omitempty"`
	Target        string   `json:"target,omitempty"`
	ChainID       string   `json:"chain_id,omitempty"`
	VenueID       string   `json:"venue_id,omitempty"`
	MaxQueries    int      `json:"max_queries,omitempty"`
	MaxVenues     int      `json:"max_venues,omitempty"`
	MaxChainDepth int      `json:"max_chain_depth,omitempty"`
	DryRun        bool     `json:"dry_run,omitempty"`
}

// RunStats holds monotonically incrementing counters for a run. Updates are
// merged key-wise so concurrent workers never clobber each other's counts.
type RunStats map[string]int64

// Merge adds every counter in delta to s. Negative deltas are ignored so a
// buggy caller cannot decrease a previously recorded counter.
func (s RunStats) Merge(delta RunStats) {
	for k, v := range delta {
		if v > 0 {
			s[k] += v
		}
	}
}

// Clone returns a copy of the stats map.
func (s RunStats) Clone() RunStats {
	out := make(RunStats, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

// Well-known run stat counters.
const (
	StatQueriesExecuted = "queries_executed"
	StatQueriesSkipped  = "queries_skipped"
	StatQueriesPlanned  = "queries_planned"
	StatVenuesFound     = "venues_found"
	StatVenuesStaged    = "venues_staged"
	StatDishesStaged    = "dishes_staged"
	StatChainsDetected  = "chains_detected"
	StatChainFollowups  = "chain_followups"
	StatPagesFetched    = "pages_fetched"
	StatPagesBlocked    = "pages_blocked"
	StatParseFailures   = "parse_failures"
	StatErrors          = "errors"
)

// RunError is one error recorded against a run. Appending an error does not
// change the run's status.
type RunError struct {
	Message    string    `json:"message"`
	Target     string    `json:"target,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// ScraperRun is a single discovery or extraction batch. Config is immutable
// after creation; Stats only ever grow; the status machine is
// pending -> running -> {completed | failed}.
type ScraperRun struct {
	ID          string     `json:"id"`
	Kind        RunKind    `json:"kind"`
	Status      RunStatus  `json:"status"`
	Config      RunConfig  `json:"config"`
	Stats       RunStats   `json:"stats"`
	Errors      []RunError `json:"errors,omitempty"`
	Cancelled   bool       `json:"cancelled,omitempty"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}
