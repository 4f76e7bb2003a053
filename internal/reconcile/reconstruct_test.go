package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"slices"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/theirongolddev/callpulse/internal/crm"
	"github.com/theirongolddev/callpulse/internal/model"
)

const trackedField = 942511

// fakeSource serves canned events split into pages. A page listed in
// failAfter aborts the walk for that event type after delivering it.
type fakeSource struct {
	pages     map[string][][]crm.Event
	leads     map[int64]crm.Lead
	notes     map[int64]crm.Note
	failAfter map[string]int
	leadsErr  error

	leadCalls [][]int64
}

func (f *fakeSource) Events(_ context.Context, types []string, _, _ time.Time, fn func(crm.Event)) error {
	key := types[0]
	for i, page := range f.pages[key] {
		for _, ev := range page {
			fn(ev)
		}
		if n, ok := f.failAfter[key]; ok && i+1 == n {
			return errors.New("upstream 502")
		}
	}
	return nil
}

func (f *fakeSource) Leads(_ context.Context, ids []int64) ([]crm.Lead, error) {
	f.leadCalls = append(f.leadCalls, ids)
	var out []crm.Lead
	for _, id := range ids {
		if l, ok := f.leads[id]; ok {
			out = append(out, l)
		}
	}
	return out, f.leadsErr
}

func (f *fakeSource) Notes(_ context.Context, ids []int64) ([]crm.Note, error) {
	var out []crm.Note
	for _, id := range ids {
		if n, ok := f.notes[id]; ok {
			out = append(out, n)
		}
	}
	return out, nil
}

func fieldEvent(id string, lead int64, at int64, author int64, payload string) crm.Event {
	return crm.Event{
		ID: id, Type: crm.CustomFieldEventType(trackedField), EntityID: lead, EntityType: "lead",
		CreatedAt: at, CreatedBy: author, ValueAfter: json.RawMessage(payload),
	}
}

func statusEvent(id string, lead int64, at int64, author int64, status int64) crm.Event {
	payload, _ := json.Marshal([]map[string]any{{"lead_status": map[string]int64{"id": status, "pipeline_id": 1}}})
	return crm.Event{
		ID: id, Type: crm.EventLeadStatusChanged, EntityID: lead, EntityType: "lead",
		CreatedAt: at, CreatedBy: author, ValueAfter: payload,
	}
}

func rules() Rules {
	return Rules{
		TrackedFieldID:      trackedField,
		MeetingDoneStatusID: 55,
		SuccessStatusID:     142,
		MinCallSecs:         60,
	}
}

func reconstruct(t *testing.T, src *fakeSource, r Rules) Result {
	t.Helper()
	day := time.Date(2025, 3, 7, 0, 0, 0, 0, time.UTC)
	return New(src, r, zerolog.Nop()).Reconstruct(context.Background(), day, day.Add(24*time.Hour-time.Second))
}

func TestLatestWinsRegardlessOfPageOrder(t *testing.T) {
	evTrue1 := fieldEvent("a", 1, 100, 9, `[{"custom_field_value":{"field_id":942511,"text":"да"}}]`)
	evFalse := fieldEvent("b", 1, 200, 9, `[{"custom_field_value":{"field_id":942511,"text":"нет"}}]`)
	evTrue3 := fieldEvent("c", 1, 300, 9, `{"custom_field_value":{"field_id":942511,"text":"Да"}}`)

	orders := [][][]crm.Event{
		{{evTrue1}, {evFalse}, {evTrue3}},
		{{evTrue3}, {evFalse, evTrue1}},
		{{evFalse}, {evTrue3}, {evTrue1}},
	}
	for i, pages := range orders {
		src := &fakeSource{
			pages: map[string][][]crm.Event{crm.CustomFieldEventType(trackedField): pages},
			leads: map[int64]crm.Lead{1: {ID: 1, ResponsibleUserID: 17}},
		}
		res := reconstruct(t, src, rules())
		st := res.Leads[1]
		if st == nil || !st.Flag {
			t.Fatalf("order %d: flag = %+v, want true from t3", i, st)
		}
		if got := res.Counters["17"].Agreements; got != 1 {
			t.Fatalf("order %d: Agreements = %d, want 1", i, got)
		}
	}
}

func TestLatestFalseIsNotCounted(t *testing.T) {
	src := &fakeSource{
		pages: map[string][][]crm.Event{crm.CustomFieldEventType(trackedField): {{
			fieldEvent("a", 1, 100, 9, `{"value":"yes"}`),
			fieldEvent("b", 1, 200, 9, `{"custom_fields_values":[{"field_id":942511,"values":[{"value":"0"}]}]}`),
		}}},
		leads: map[int64]crm.Lead{1: {ID: 1, ResponsibleUserID: 17}},
	}
	res := reconstruct(t, src, rules())
	if res.Counters["17"].Agreements != 0 {
		t.Fatalf("Agreements = %d, want 0", res.Counters["17"].Agreements)
	}
}

func TestFieldValueChain(t *testing.T) {
	tests := []struct {
		payload string
		want    string
		ok      bool
	}{
		{`[{"custom_field_value":{"text":"Да"}}]`, "Да", true},
		{`{"custom_field_value":{"value":true}}`, "true", true},
		{`[{"value":"1"}]`, "1", true},
		{`{"text":"on"}`, "on", true},
		{`[{"custom_fields_values":[{"values":[{"value":"yes"}]}]}]`, "yes", true},
		{`"да"`, "да", true},
		{`[]`, "", false},
		{`{"unrelated":{"x":1}}`, "", false},
		{`null`, "", false},
		{`not json`, "", false},
	}
	for _, tt := range tests {
		got, ok := first(fieldValueChain, json.RawMessage(tt.payload))
		if got != tt.want || ok != tt.ok {
			t.Fatalf("first(%s) = (%q, %v), want (%q, %v)", tt.payload, got, ok, tt.want, tt.ok)
		}
	}
}

func TestStatusCountersAndRevenue(t *testing.T) {
	src := &fakeSource{
		pages: map[string][][]crm.Event{crm.EventLeadStatusChanged: {{
			statusEvent("1", 10, 100, 0, 55),
			statusEvent("2", 10, 200, 0, 142), // lead 10 ends won
			statusEvent("3", 11, 300, 0, 55),  // lead 11 ends meeting held
			statusEvent("4", 12, 100, 0, 142),
			statusEvent("5", 12, 150, 0, 143), // lead 12 ends lost
		}}},
		leads: map[int64]crm.Lead{
			10: {ID: 10, ResponsibleUserID: 17, Price: 50000},
			11: {ID: 11, ResponsibleUserID: 17, Price: 70000},
			12: {ID: 12, ResponsibleUserID: 18, Price: 90000},
		},
	}
	res := reconstruct(t, src, rules())

	got := res.Counters["17"]
	want := model.CRMCounters{MeetingsHeld: 1, DealsWon: 1, Revenue: 50000}
	if got != want {
		t.Fatalf("counters[17] = %+v, want %+v", got, want)
	}
	if _, ok := res.Counters["18"]; ok {
		t.Fatalf("operator 18 has only a lost lead, got %+v", res.Counters["18"])
	}
}

func TestRevenueFromCustomField(t *testing.T) {
	src := &fakeSource{
		pages: map[string][][]crm.Event{crm.EventLeadStatusChanged: {{statusEvent("1", 10, 100, 0, 142)}}},
		leads: map[int64]crm.Lead{10: {ID: 10, ResponsibleUserID: 17, Price: 1, CustomFieldsValues: []crm.CustomField{
			{FieldID: 77, Values: []crm.CustomFieldValue{{Value: json.RawMessage(`"12 500"`)}}},
		}}},
	}
	r := rules()
	r.RevenueFieldID = 77
	if got := reconstruct(t, src, r).Counters["17"].Revenue; got != 12500 {
		t.Fatalf("Revenue = %d, want 12500", got)
	}
}

func TestAttributionFallbacks(t *testing.T) {
	payloadResp := crm.Event{
		ID: "p", Type: crm.EventLeadStatusChanged, EntityID: 21, CreatedAt: 100, CreatedBy: 3,
		ValueAfter: json.RawMessage(`[{"lead_status":{"id":142}},{"responsible_user":{"id":44}}]`),
	}
	src := &fakeSource{
		pages: map[string][][]crm.Event{crm.EventLeadStatusChanged: {{
			// no lead rows: 21 falls back to payload responsible 44,
			// 22 to its author 5, 23 has nobody and is dropped
			payloadResp,
			statusEvent("q", 22, 100, 5, 142),
			statusEvent("r", 23, 100, 0, 142),
		}}},
		leads: map[int64]crm.Lead{},
	}
	r := rules()
	r.OperatorMap = map[string]string{"44": "op-44"}
	res := reconstruct(t, src, r)

	if res.Counters["op-44"].DealsWon != 1 {
		t.Fatalf("payload responsible not used: %+v", res.Counters)
	}
	if res.Counters["5"].DealsWon != 1 {
		t.Fatalf("event author not used: %+v", res.Counters)
	}
	if res.Dropped != 1 {
		t.Fatalf("Dropped = %d, want 1", res.Dropped)
	}
	total := int64(0)
	for _, c := range res.Counters {
		total += c.DealsWon
	}
	if total != 2 {
		t.Fatalf("DealsWon total = %d, want 2", total)
	}
}

func TestPartialPagesAreKept(t *testing.T) {
	src := &fakeSource{
		pages: map[string][][]crm.Event{crm.EventLeadStatusChanged: {
			{statusEvent("1", 10, 100, 0, 142)},
			{statusEvent("2", 11, 100, 0, 142)},
		}},
		failAfter: map[string]int{crm.EventLeadStatusChanged: 1},
		leads:     map[int64]crm.Lead{10: {ID: 10, ResponsibleUserID: 17}, 11: {ID: 11, ResponsibleUserID: 17}},
	}
	res := reconstruct(t, src, rules())
	if len(res.Errors) != 1 {
		t.Fatalf("Errors = %v, want 1", res.Errors)
	}
	if res.Counters["17"].DealsWon != 1 {
		t.Fatalf("DealsWon = %d, want 1 from the first page", res.Counters["17"].DealsWon)
	}
}

func TestLeadsFetchedOnceForUnion(t *testing.T) {
	src := &fakeSource{
		pages: map[string][][]crm.Event{
			crm.EventLeadStatusChanged:             {{statusEvent("1", 10, 100, 0, 55)}},
			crm.CustomFieldEventType(trackedField): {{fieldEvent("2", 10, 50, 0, `{"value":"1"}`), fieldEvent("3", 12, 50, 0, `{"value":"1"}`)}},
		},
		leads: map[int64]crm.Lead{10: {ID: 10, ResponsibleUserID: 17}, 12: {ID: 12, ResponsibleUserID: 18}},
	}
	res := reconstruct(t, src, rules())
	if len(src.leadCalls) != 1 || !slices.Equal(src.leadCalls[0], []int64{10, 12}) {
		t.Fatalf("lead fetches = %v, want one call with [10 12]", src.leadCalls)
	}
	if c := res.Counters["17"]; c.Agreements != 1 || c.MeetingsHeld != 1 {
		t.Fatalf("counters[17] = %+v", c)
	}
	if res.Counters["18"].Agreements != 1 {
		t.Fatalf("counters[18] = %+v", res.Counters["18"])
	}
}

func TestCallNotesCountedOnce(t *testing.T) {
	callEv := func(id string, note int64, author int64) crm.Event {
		payload, _ := json.Marshal([]map[string]any{{"note": map[string]int64{"id": note}}})
		return crm.Event{ID: id, Type: crm.EventOutgoingCall, EntityID: 10, CreatedAt: 1, CreatedBy: author, ValueAfter: payload}
	}
	src := &fakeSource{
		pages: map[string][][]crm.Event{crm.EventOutgoingCall: {
			{callEv("a", 501, 17), callEv("b", 502, 17)},
			{callEv("c", 501, 17), callEv("d", 503, 0)},
		}},
		notes: map[int64]crm.Note{
			501: {ID: 501, ResponsibleUserID: 17, Params: crm.NoteParams{Duration: 61}},
			502: {ID: 502, ResponsibleUserID: 17, Params: crm.NoteParams{Duration: 59}},
			503: {ID: 503, CreatedBy: 18, Params: crm.NoteParams{Duration: 600}},
		},
	}
	res := reconstruct(t, src, rules())
	if res.Counters["17"].Calls != 1 {
		t.Fatalf("Calls[17] = %d, want 1", res.Counters["17"].Calls)
	}
	if res.Counters["18"].Calls != 1 {
		t.Fatalf("Calls[18] = %d, want 1", res.Counters["18"].Calls)
	}
}

func TestCountTaggedLeads(t *testing.T) {
	tagged := []crm.CustomField{{FieldID: trackedField, Values: []crm.CustomFieldValue{{EnumID: 3619433}}}}
	leads := []crm.Lead{
		{ID: 1, ResponsibleUserID: 17, CustomFieldsValues: tagged},
		{ID: 2, ResponsibleUserID: 17, CustomFieldsValues: tagged},
		{ID: 3, ResponsibleUserID: 17, CustomFieldsValues: tagged, IsDeleted: true},
		{ID: 4, ResponsibleUserID: 18},
	}
	got := CountTaggedLeads(leads, trackedField, 3619433, "ЦК", nil)
	if got["17"] != 2 || len(got) != 1 {
		t.Fatalf("CountTaggedLeads = %v", got)
	}
}
