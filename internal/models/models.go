package models

import (
	"time"
)

// RunStatus is the lifecycle state of a collection run.
type RunStatus string

const (
	RunStatusQueued  RunStatus = "queued"
	RunStatusRunning RunStatus = "running"
	RunStatusDone    RunStatus = "done"
	RunStatusFailed  RunStatus = "failed"
)

// Per-target error codes recorded on a PricePoint. A code never aborts the
// run; it is data describing the outcome for one target.
const (
	ErrCodePriceNotFound = "price_not_found"
	ErrCodeAccessBlocked = "access_blocked"
	ErrCodeTimeout       = "timeout"
	ErrCodeFetchError    = "fetch_error"
	ErrCodeCriticalError = "critical_error"
)

// Target is a catalog page URL tracked for price collection.
type Target struct {
	ID        int64     `json:"id"`
	URL       string    `json:"url"`
	Name      string    `json:"name"`
	Enabled   bool      `json:"enabled"`
	CreatedAt time.Time `json:"created_at"`
}

// RegionProfile is a named browsing identity (saved session state for a
// locale/pickup-point) used by the session fetcher.
type RegionProfile struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	StoragePath string    `json:"storage_path"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Run is one execution of the collection process across all targets that
// were enabled at admission time.
type Run struct {
	ID           int64      `json:"id"`
	RegionID     int64      `json:"region_id"`
	Status       RunStatus  `json:"status"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`
	Error        string     `json:"error,omitempty"`
	TotalTargets int        `json:"total_targets"`
	SuccessCount int        `json:"success_count"`
	FailCount    int        `json:"fail_count"`
}

// PricePoint is the append-only recorded outcome for one target within one
// run. Price fields are in minor currency units (kopecks); nil means the
// field was not observed.
type PricePoint struct {
	ID          int64     `json:"id"`
	RunID       int64     `json:"run_id"`
	TargetID    int64     `json:"target_id"`
	Price       *int64    `json:"price"`
	OldPrice    *int64    `json:"old_price"`
	CardPrice   *int64    `json:"card_price"`
	InStock     bool      `json:"in_stock"`
	CollectedAt time.Time `json:"collected_at"`
	RawCapture  string    `json:"raw_capture,omitempty"`
	Error       string    `json:"error,omitempty"`
}

// Success reports whether this point counts toward a run's success tally.
func (p *PricePoint) Success() bool {
	return p.Price != nil
}

// MinorToMajor converts a minor-unit amount to decimal major units for
// external reporting. Returns nil for nil.
func MinorToMajor(v *int64) *float64 {
	if v == nil {
		return nil
	}
	f := float64(*v) / 100
	return &f
}
