package syncer

import "time"

// EventOutcome tags what happened to one event during a plan sync
type EventOutcome string

const (
	EventCreated                     EventOutcome = "created"
	EventSkippedNoProperties         EventOutcome = "skipped_no_properties"
	EventSkippedUnresolvedProperties EventOutcome = "skipped_unresolved_properties"
)

// PlanOutcome tags what happened to one tracking plan
type PlanOutcome string

const (
	PlanSynced               PlanOutcome = "synced"
	PlanSkippedArchiveFailed PlanOutcome = "skipped_archive_failed"
	PlanSkippedReservedName  PlanOutcome = "skipped_reserved_name"
)

// EventResult is the outcome for one event.
// RecordID and ReferencedIDs are set only when the outcome is EventCreated.
type EventResult struct {
	Event         string       `json:"event"`
	EventID       string       `json:"event_id"`
	Outcome       EventOutcome `json:"outcome"`
	RecordID      string       `json:"record_id,omitempty"`
	ReferencedIDs []string     `json:"referenced_ids,omitempty"`
	Unresolved    []string     `json:"unresolved,omitempty"`
}

// PlanResult is the outcome for one tracking plan
type PlanResult struct {
	Plan                 string        `json:"plan"`
	PlanID               string        `json:"plan_id"`
	CollectionID         string        `json:"collection_id,omitempty"`
	PreviousCollectionID string        `json:"previous_collection_id,omitempty"`
	Outcome              PlanOutcome   `json:"outcome"`
	Error                string        `json:"error,omitempty"`
	Events               []EventResult `json:"events,omitempty"`
}

// PropertiesReport summarises a property sync
type PropertiesReport struct {
	RunID                string    `json:"run_id"`
	CollectionID         string    `json:"collection_id"`
	PreviousCollectionID string    `json:"previous_collection_id,omitempty"`
	Archived             bool      `json:"archived"`
	ArchiveError         string    `json:"archive_error,omitempty"`
	Resumed              bool      `json:"resumed"`
	Fetched              int       `json:"fetched"`
	Created              int       `json:"created"`
	Skipped              int       `json:"skipped"`
	StartedAt            time.Time `json:"started_at"`
	FinishedAt           time.Time `json:"finished_at"`
}

// Counts returns the fetched, created and skipped totals
func (r *PropertiesReport) Counts() map[string]int {
	if r == nil {
		return map[string]int{}
	}
	return map[string]int{
		"fetched": r.Fetched,
		"created": r.Created,
		"skipped": r.Skipped,
	}
}

// PlansReport summarises a tracking plan sync
type PlansReport struct {
	RunID      string       `json:"run_id"`
	Plans      []PlanResult `json:"plans"`
	StartedAt  time.Time    `json:"started_at"`
	FinishedAt time.Time    `json:"finished_at"`
}

// Counts returns the number of events per outcome
func (r *PlansReport) Counts() map[string]int {
	counts := map[string]int{
		string(EventCreated):                     0,
		string(EventSkippedNoProperties):         0,
		string(EventSkippedUnresolvedProperties): 0,
	}
	if r == nil {
		return counts
	}
	for _, plan := range r.Plans {
		for _, event := range plan.Events {
			counts[string(event.Outcome)]++
		}
	}
	return counts
}

// PlanCounts returns the number of plans per outcome
func (r *PlansReport) PlanCounts() map[string]int {
	counts := make(map[string]int)
	if r == nil {
		return counts
	}
	for _, plan := range r.Plans {
		counts[string(plan.Outcome)]++
	}
	return counts
}

// Plan returns the result for a plan name
func (r *PlansReport) Plan(name string) (PlanResult, bool) {
	for _, plan := range r.Plans {
		if plan.Plan == name {
			return plan, true
		}
	}
	return PlanResult{}, false
}

// RunReport is the result of SyncAll
type RunReport struct {
	RunID      string            `json:"run_id"`
	Properties *PropertiesReport `json:"properties"`
	Plans      *PlansReport      `json:"plans,omitempty"`
}

// Counts merges both phases, prefixing property counts with "properties_"
func (r *RunReport) Counts() map[string]int {
	counts := make(map[string]int)
	if r == nil {
		return counts
	}
	for k, v := range r.Properties.Counts() {
		counts["properties_"+k] = v
	}
	if r.Plans != nil {
		for k, v := range r.Plans.Counts() {
			counts[k] = v
		}
	}
	return counts
}
