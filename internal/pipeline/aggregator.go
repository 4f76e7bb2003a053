// Package pipeline merges one day's telephony calls, CRM reconstruction and
// spreadsheet tags into per-operator counters, and builds range reports.
package pipeline

import (
	"sort"
	"strings"
	"time"

	"github.com/theirongolddev/callpulse/internal/config"
	"github.com/theirongolddev/callpulse/internal/model"
)

// Rules classifies calls.
type Rules struct {
	Substantive     config.StatusSet
	Agreement       string
	Transfer        string
	LeadAgent       string
	DialogFloorSecs int64
	Excluded        map[string]bool
}

// RulesFromConfig builds Rules from the telephony section and exclusion list.
func RulesFromConfig(cfg config.Config) Rules {
	return Rules{
		Substantive:     config.NewStatusSet(cfg.Telephony.SubstantiveStatuses...),
		Agreement:       strings.TrimSpace(cfg.Telephony.AgreementStatus),
		Transfer:        strings.TrimSpace(cfg.Telephony.TransferStatus),
		LeadAgent:       strings.TrimSpace(cfg.Telephony.LeadAgentStatus),
		DialogFloorSecs: cfg.Telephony.DialogFloorSecs,
		Excluded:        cfg.Excluded(),
	}
}

// IsDialog reports whether a call is a substantive conversation: its status
// is in the substantive set and it lasted longer than the floor.
func (r Rules) IsDialog(c model.Call) bool {
	return r.Substantive.Has(c.Status) && c.TalkSecs > r.DialogFloorSecs
}

// DayInput is everything known about one calendar day.
type DayInput struct {
	Calls    []model.Call
	LineTime map[string]int64
	CRM      map[string]model.CRMCounters
	Tags     map[string]int64
}

// AggregateDay returns counters for every operator present in any source.
// Calls without an operator id are ignored. Excluded operators are removed
// after merging.
func AggregateDay(in DayInput, rules Rules) map[string]*model.Counters {
	out := make(map[string]*model.Counters)
	get := func(id string) *model.Counters {
		c, ok := out[id]
		if !ok {
			c = &model.Counters{}
			out[id] = c
		}
		return c
	}

	for _, call := range in.Calls {
		id := strings.TrimSpace(call.OperatorID)
		if id == "" {
			continue
		}
		c := get(id)
		c.AllCalls++

		if rules.IsDialog(call) {
			c.Dialogs++
			c.TalkSum += call.TalkSecs
			c.TalkCount++
		}

		// tags are independent; one call may match several
		status := strings.TrimSpace(call.Status)
		if status == "" {
			continue
		}
		if status == rules.Agreement {
			c.Agreement++
		}
		if status == rules.Transfer {
			c.Transfer++
		}
		if status == rules.LeadAgent {
			c.LeadAgent++
		}
	}

	for id, secs := range in.LineTime {
		if id = strings.TrimSpace(id); id != "" && secs > 0 {
			get(id).LineTime += secs
		}
	}

	for id, crm := range in.CRM {
		if id = strings.TrimSpace(id); id == "" {
			continue
		}
		c := get(id)
		c.CRMCalls += max(crm.Calls, 0)
		c.CRMAgreements += max(crm.Agreements, 0)
		c.MeetingsHeld += max(crm.MeetingsHeld, 0)
		c.DealsWon += max(crm.DealsWon, 0)
		c.Revenue += max(crm.Revenue, 0)
	}

	for id, n := range in.Tags {
		if id = strings.TrimSpace(id); id != "" && n > 0 {
			get(id).Tagged += n
		}
	}

	for id := range rules.Excluded {
		delete(out, id)
	}
	return out
}

// NameLookup resolves operator display names.
type NameLookup interface {
	Name(id string) string
}

// BuildRecords turns day counters into storage records sorted by operator id.
func BuildRecords(date string, counters map[string]*model.Counters, names NameLookup, now time.Time) []model.DailyOperatorRecord {
	records := make([]model.DailyOperatorRecord, 0, len(counters))
	for id, c := range counters {
		name := ""
		if names != nil {
			name = names.Name(id)
		}
		if name == "" {
			name = id
		}
		records = append(records, model.DailyOperatorRecord{
			Date:       date,
			OperatorID: id,
			Name:       name,
			Counters:   *c,
			UpdatedAt:  now,
		})
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].OperatorID < records[j].OperatorID
	})
	return records
}
