package model

import "math"

// Counters is the fixed set of per-operator, per-day metrics.
// All values are non-negative.
type Counters struct {
	AllCalls  int64 `json:"all"`
	Dialogs   int64 `json:"total"`
	Agreement int64 `json:"agreement"`
	Transfer  int64 `json:"transfer"`
	LeadAgent int64 `json:"lead_agent"`
	LineTime  int64 `json:"line_time"`

	// Tagged comes from the spreadsheet feed.
	Tagged int64 `json:"tagged"`

	// Sales CRM derived.
	CRMCalls      int64 `json:"crm_calls"`
	CRMAgreements int64 `json:"crm_agreements"`
	MeetingsHeld  int64 `json:"meetings_held"`
	DealsWon      int64 `json:"deals_won"`
	Revenue       int64 `json:"revenue"`

	TalkSum   int64 `json:"talk_sum"`
	TalkCount int64 `json:"talk_count"`
}

// Add accumulates o into c.
func (c *Counters) Add(o Counters) {
	c.AllCalls += o.AllCalls
	c.Dialogs += o.Dialogs
	c.Agreement += o.Agreement
	c.Transfer += o.Transfer
	c.LeadAgent += o.LeadAgent
	c.LineTime += o.LineTime
	c.Tagged += o.Tagged
	c.CRMCalls += o.CRMCalls
	c.CRMAgreements += o.CRMAgreements
	c.MeetingsHeld += o.MeetingsHeld
	c.DealsWon += o.DealsWon
	c.Revenue += o.Revenue
	c.TalkSum += o.TalkSum
	c.TalkCount += o.TalkCount
}

// AvgTalk returns the floored average talk duration in seconds.
func (c Counters) AvgTalk() int64 {
	if c.TalkCount <= 0 {
		return 0
	}
	return c.TalkSum / c.TalkCount
}

// Reach returns dialogs as a percentage of all calls, rounded to one decimal.
func (c Counters) Reach() float64 {
	if c.AllCalls <= 0 {
		return 0
	}
	return math.Round(float64(c.Dialogs)/float64(c.AllCalls)*1000) / 10
}

// IsZero reports whether every counter is zero.
func (c Counters) IsZero() bool {
	return c == Counters{}
}

// OperatorTotals holds counters summed over a date range for one operator.
type OperatorTotals struct {
	OperatorID string   `json:"operator_id"`
	Name       string   `json:"name"`
	Counters   Counters `json:"counters"`
	AvgTalk    int64    `json:"avg"`
	Reach      float64  `json:"reach"`
}

// Derive fills AvgTalk and Reach from the summed counters.
func (t *OperatorTotals) Derive() {
	t.AvgTalk = t.Counters.AvgTalk()
	t.Reach = t.Counters.Reach()
}

// Totals is the sum across a set of operators.
type Totals struct {
	Operators int      `json:"operators"`
	Counters  Counters `json:"counters"`
	AvgTalk   int64    `json:"avg"`
	Reach     float64  `json:"reach"`
}

// Report is the range/branch view served to presentation layers.
type Report struct {
	Start    string            `json:"start"`
	End      string            `json:"end"`
	Branch   string            `json:"branch,omitempty"`
	Rows     []OperatorTotals  `json:"rows"`
	Totals   Totals            `json:"totals"`
	Branches map[string]Totals `json:"branches,omitempty"`

	// MissingDates lists requested dates that have no stored rows,
	// typically because their backfill failed.
	MissingDates []string `json:"missing_dates,omitempty"`
}

// DateCoverage reports which dates of a range are stored.
type DateCoverage struct {
	Start   string   `json:"start"`
	End     string   `json:"end"`
	Present []string `json:"present"`
	Missing []string `json:"missing"`
}
