package extract

import (
	"encoding/json"
	"fmt"
)

// Kind classifies why a row was skipped or failed.
type Kind string

const (
	KindMissingURL Kind = "missing-url"
	KindNoFeatures Kind = "no-features"
	KindExists     Kind = "exists"
	KindConfig     Kind = "config"
	KindFetch      Kind = "fetch"
	KindWrite      Kind = "write"
	KindCancelled  Kind = "cancelled"
)

// Partition is one of the four disjoint groups of an Outcome.
type Partition int

const (
	Extracted Partition = iota
	Replaced
	Skipped
	Failed
)

func (p Partition) String() string {
	switch p {
	case Extracted:
		return "extracted"
	case Replaced:
		return "replaced"
	case Skipped:
		return "skipped"
	case Failed:
		return "failed"
	}
	return fmt.Sprintf("partition(%d)", int(p))
}

// RowResult is what happened to one reference row.
type RowResult struct {
	ShortName string `json:"short_name"`
	SafeName  string `json:"safe_name"`
	Dataset   string `json:"dataset,omitempty"`
	Kind      Kind   `json:"kind,omitempty"`
	Reason    string `json:"reason,omitempty"`
	Err       error  `json:"-"`
	Features  int    `json:"features"`
	Dropped   int    `json:"dropped,omitempty"`
	// QueryURL is the last id query sent for the row.
	QueryURL string `json:"query_url,omitempty"`
}

// Outcome is the result of a run. Every short name appears in exactly one
// partition.
type Outcome struct {
	RunID        string      `json:"run_id"`
	Extracted    []RowResult `json:"extracted"`
	Replaced     []RowResult `json:"replaced"`
	Skipped      []RowResult `json:"skipped"`
	Failed       []RowResult `json:"failed"`
	ReportErrors []error     `json:"-"`

	seen map[string]Partition
}

// Record adds r to partition p. A short name already recorded is rejected
// and keeps its first classification.
func (o *Outcome) Record(p Partition, r RowResult) error {
	if prev, ok := o.seen[r.ShortName]; ok {
		return fmt.Errorf("row %q already recorded as %s", r.ShortName, prev)
	}
	if o.seen == nil {
		o.seen = make(map[string]Partition)
	}
	if r.Err != nil && r.Reason == "" {
		r.Reason = r.Err.Error()
	}
	switch p {
	case Extracted:
		o.Extracted = append(o.Extracted, r)
	case Replaced:
		o.Replaced = append(o.Replaced, r)
	case Skipped:
		o.Skipped = append(o.Skipped, r)
	case Failed:
		o.Failed = append(o.Failed, r)
	default:
		return fmt.Errorf("unknown partition %d", int(p))
	}
	o.seen[r.ShortName] = p
	return nil
}

// PartitionOf returns where a short name was recorded.
func (o *Outcome) PartitionOf(shortName string) (Partition, bool) {
	p, ok := o.seen[shortName]
	return p, ok
}

// HasFailures reports whether any row failed.
func (o *Outcome) HasFailures() bool { return len(o.Failed) > 0 }

// Total is the number of recorded rows.
func (o *Outcome) Total() int {
	return len(o.Extracted) + len(o.Replaced) + len(o.Skipped) + len(o.Failed)
}

// MarshalJSON includes report errors as text.
func (o *Outcome) MarshalJSON() ([]byte, error) {
	type plain Outcome
	reportErrors := make([]string, len(o.ReportErrors))
	for i, err := range o.ReportErrors {
		reportErrors[i] = err.Error()
	}
	return json.Marshal(struct {
		*plain
		ReportErrors []string `json:"report_errors,omitempty"`
	}{(*plain)(o), reportErrors})
}
