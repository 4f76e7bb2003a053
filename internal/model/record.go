// Package model defines domain types for callpulse metrics and operators.
package model

import "time"

// DailyOperatorRecord is the unit of storage, keyed by (Date, OperatorID).
type DailyOperatorRecord struct {
	Date       string // DateKey
	OperatorID string
	Name       string
	Counters   Counters
	UpdatedAt  time.Time
}

// Call is one telephony call as seen by the aggregator.
type Call struct {
	ID           string
	OperatorID   string
	OperatorName string
	Status       string
	TalkSecs     int64
	StartedAt    time.Time
}

// CRMCounters are the per-operator outputs of the event reconstructor.
type CRMCounters struct {
	Calls        int64
	Agreements   int64
	MeetingsHeld int64
	DealsWon     int64
	Revenue      int64
}
