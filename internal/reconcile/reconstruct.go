// Package reconcile rebuilds per-lead state from the sales CRM event stream
// and turns it into per-operator counters for one time window.
package reconcile

import (
	"context"
	"slices"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/theirongolddev/callpulse/internal/crm"
	"github.com/theirongolddev/callpulse/internal/model"
	"github.com/theirongolddev/callpulse/internal/normalize"
)

// Source is the part of the CRM client the reconstructor reads.
type Source interface {
	Events(ctx context.Context, types []string, from, to time.Time, fn func(crm.Event)) error
	Leads(ctx context.Context, ids []int64) ([]crm.Lead, error)
	Notes(ctx context.Context, ids []int64) ([]crm.Note, error)
}

// Rules configures which fields and statuses count.
type Rules struct {
	TrackedFieldID      int64
	MeetingDoneStatusID int64
	SuccessStatusID     int64
	// RevenueFieldID selects a custom field; 0 uses the lead price.
	RevenueFieldID int64
	MinCallSecs    int64
	// OperatorMap maps CRM user ids onto operator ids. Unmapped users keep
	// their CRM id.
	OperatorMap map[string]string
}

// observation is one timestamped fact. Ties on At are broken by EventID so
// the winner does not depend on arrival order.
type observation struct {
	At      int64
	EventID string
}

func (o observation) newer(than observation) bool {
	if o.At != than.At {
		return o.At > than.At
	}
	return o.EventID > than.EventID
}

// LeadState is the latest status and flag seen for one lead in a window.
type LeadState struct {
	LeadID int64

	HasStatus bool
	StatusID  int64
	status    observation

	HasFlag bool
	Flag    bool
	flag    observation

	// PayloadResponsible is a responsible user carried by the latest status event.
	PayloadResponsible int64
	// Author is the creator of the latest qualifying event.
	Author int64
	author observation

	// Responsible and Revenue come from the leads endpoint.
	Responsible int64
	Revenue     int64
}

// attributedTo returns the CRM user id owning the lead, or 0.
func (s *LeadState) attributedTo() int64 {
	switch {
	case s.Responsible > 0:
		return s.Responsible
	case s.PayloadResponsible > 0:
		return s.PayloadResponsible
	default:
		return s.Author
	}
}

// Result is the output of one reconstruction.
type Result struct {
	Counters map[string]model.CRMCounters
	Leads    map[int64]*LeadState
	// Dropped counts leads with no responsible user and no author.
	Dropped int
	// Errors holds page-walk failures; the counters are partial when set.
	Errors []error
}

// Reconstructor builds Results from a Source.
type Reconstructor struct {
	src   Source
	rules Rules
	log   zerolog.Logger
}

// New returns a Reconstructor.
func New(src Source, rules Rules, log zerolog.Logger) *Reconstructor {
	return &Reconstructor{
		src:   src,
		rules: rules,
		log:   log.With().Str("component", "reconcile").Logger(),
	}
}

// Reconstruct reads events created in [from, to] and returns per-operator
// counters. Upstream failures end the affected walk; whatever was read is
// still counted.
func (r *Reconstructor) Reconstruct(ctx context.Context, from, to time.Time) Result {
	res := Result{
		Counters: make(map[string]model.CRMCounters),
		Leads:    make(map[int64]*LeadState),
	}
	fail := func(stage string, err error) {
		r.log.Warn().Err(err).Str("stage", stage).
			Time("from", from).Time("to", to).Msg("upstream walk stopped, keeping partial data")
		res.Errors = append(res.Errors, err)
	}

	lead := func(id int64) *LeadState {
		st, ok := res.Leads[id]
		if !ok {
			st = &LeadState{LeadID: id}
			res.Leads[id] = st
		}
		return st
	}

	err := r.src.Events(ctx, []string{crm.EventLeadStatusChanged}, from, to, func(ev crm.Event) {
		if ev.EntityID <= 0 {
			return
		}
		v, ok := first(statusChain, ev.ValueAfter)
		if !ok {
			return
		}
		st := lead(ev.EntityID)
		obs := observation{At: ev.CreatedAt, EventID: ev.ID}
		if st.HasStatus && !obs.newer(st.status) {
			return
		}
		st.HasStatus = true
		st.StatusID = parseID(v)
		st.status = obs
		st.PayloadResponsible = 0
		if resp, ok := first(responsibleChain, ev.ValueAfter); ok {
			st.PayloadResponsible = parseID(resp)
		}
		st.noteAuthor(ev, obs)
	})
	if err != nil {
		fail("status events", err)
	}

	if r.rules.TrackedFieldID > 0 {
		fieldType := crm.CustomFieldEventType(r.rules.TrackedFieldID)
		err = r.src.Events(ctx, []string{fieldType}, from, to, func(ev crm.Event) {
			if ev.EntityID <= 0 {
				return
			}
			v, _ := first(fieldValueChain, ev.ValueAfter)
			st := lead(ev.EntityID)
			obs := observation{At: ev.CreatedAt, EventID: ev.ID}
			if st.HasFlag && !obs.newer(st.flag) {
				return
			}
			st.HasFlag = true
			st.Flag = normalize.Truthy(v)
			st.flag = obs
			st.noteAuthor(ev, obs)
		})
		if err != nil {
			fail("field events", err)
		}
	}

	if len(res.Leads) > 0 {
		ids := make([]int64, 0, len(res.Leads))
		for id := range res.Leads {
			ids = append(ids, id)
		}
		slices.Sort(ids)

		leads, err := r.src.Leads(ctx, ids)
		if err != nil {
			fail("leads", err)
		}
		for _, l := range leads {
			st, ok := res.Leads[l.ID]
			if !ok {
				continue
			}
			st.Responsible = l.ResponsibleUserID
			if r.rules.RevenueFieldID > 0 {
				st.Revenue = max(l.FieldInt(r.rules.RevenueFieldID), 0)
			} else {
				st.Revenue = max(l.Price, 0)
			}
		}
	}

	for _, st := range res.Leads {
		uid := st.attributedTo()
		if uid <= 0 {
			res.Dropped++
			continue
		}
		op := r.operatorID(uid)
		c := res.Counters[op]
		if st.HasFlag && st.Flag {
			c.Agreements++
		}
		if st.HasStatus && r.rules.MeetingDoneStatusID > 0 && st.StatusID == r.rules.MeetingDoneStatusID {
			c.MeetingsHeld++
		}
		if st.HasStatus && r.rules.SuccessStatusID > 0 && st.StatusID == r.rules.SuccessStatusID {
			c.DealsWon++
			c.Revenue += st.Revenue
		}
		res.Counters[op] = c
	}

	r.countCalls(ctx, from, to, &res, fail)

	for op, c := range res.Counters {
		if c == (model.CRMCounters{}) {
			delete(res.Counters, op)
		}
	}

	r.log.Debug().Int("leads", len(res.Leads)).Int("operators", len(res.Counters)).
		Int("dropped", res.Dropped).Msg("reconstructed")
	return res
}

// noteAuthor keeps the author of the newest event seen for the lead.
func (s *LeadState) noteAuthor(ev crm.Event, obs observation) {
	if ev.CreatedBy <= 0 {
		return
	}
	if s.Author == 0 || obs.newer(s.author) {
		s.Author = ev.CreatedBy
		s.author = obs
	}
}

// countCalls credits call notes of at least MinCallSecs to their owner,
// once per note.
func (r *Reconstructor) countCalls(ctx context.Context, from, to time.Time, res *Result, fail func(string, error)) {
	authors := make(map[int64]int64)
	err := r.src.Events(ctx, []string{crm.EventOutgoingCall, crm.EventIncomingCall}, from, to, func(ev crm.Event) {
		v, ok := first(noteChain, ev.ValueAfter)
		if !ok {
			return
		}
		id := parseID(v)
		if _, seen := authors[id]; !seen || ev.CreatedBy > 0 {
			authors[id] = ev.CreatedBy
		}
	})
	if err != nil {
		fail("call events", err)
	}
	if len(authors) == 0 {
		return
	}

	ids := make([]int64, 0, len(authors))
	for id := range authors {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	notes, err := r.src.Notes(ctx, ids)
	if err != nil {
		fail("notes", err)
	}
	counted := make(map[int64]bool, len(notes))
	for _, n := range notes {
		if counted[n.ID] || n.Params.Duration < r.rules.MinCallSecs {
			continue
		}
		uid := n.ResponsibleUserID
		if uid <= 0 {
			uid = n.CreatedBy
		}
		if uid <= 0 {
			uid = authors[n.ID]
		}
		if uid <= 0 {
			continue
		}
		counted[n.ID] = true
		op := r.operatorID(uid)
		c := res.Counters[op]
		c.Calls++
		res.Counters[op] = c
	}
}

func (r *Reconstructor) operatorID(uid int64) string {
	id := strconv.FormatInt(uid, 10)
	if mapped, ok := r.rules.OperatorMap[id]; ok && mapped != "" {
		return mapped
	}
	return id
}
