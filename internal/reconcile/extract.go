package reconcile

import (
	"bytes"
	"encoding/json"
	"strconv"

	"github.com/theirongolddev/callpulse/internal/crm"
)

// An extractor pulls one value out of an event payload. ok is false when
// the payload does not have the shape the extractor understands.
type extractor func(raw json.RawMessage) (value string, ok bool)

// first runs chain in order and returns the first value found.
func first(chain []extractor, raw json.RawMessage) (string, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return "", false
	}
	for _, ex := range chain {
		if v, ok := ex(raw); ok {
			return v, true
		}
	}
	return "", false
}

// fieldValueChain reads the new value of a custom field change.
var fieldValueChain = []extractor{
	listOf(customFieldValue),
	customFieldValue,
	listOf(flatValue),
	flatValue,
	listOf(customFieldsWrapper),
	customFieldsWrapper,
	scalar,
}

// statusChain reads the new status id of a lead status change.
var statusChain = []extractor{
	listOf(objectID("lead_status")),
	objectID("lead_status"),
	listOf(flatNumber("status_id")),
	flatNumber("status_id"),
}

// responsibleChain reads a responsible user id carried in a payload.
var responsibleChain = []extractor{
	listOf(objectID("responsible_user")),
	objectID("responsible_user"),
	listOf(flatNumber("responsible_user_id")),
	flatNumber("responsible_user_id"),
}

// noteChain reads the note id referenced by a call event.
var noteChain = []extractor{
	listOf(objectID("note")),
	objectID("note"),
}

// listOf applies ex to each element of a JSON array and returns the first hit.
func listOf(ex extractor) extractor {
	return func(raw json.RawMessage) (string, bool) {
		if raw[0] != '[' {
			return "", false
		}
		var items []json.RawMessage
		if err := json.Unmarshal(raw, &items); err != nil {
			return "", false
		}
		for _, it := range items {
			it = bytes.TrimSpace(it)
			if len(it) == 0 {
				continue
			}
			if v, ok := ex(it); ok {
				return v, true
			}
		}
		return "", false
	}
}

// customFieldValue handles {"custom_field_value": {"text": ..., "value": ...}}.
func customFieldValue(raw json.RawMessage) (string, bool) {
	var obj struct {
		CFV *struct {
			Text  json.RawMessage `json:"text"`
			Value json.RawMessage `json:"value"`
		} `json:"custom_field_value"`
	}
	if raw[0] != '{' || json.Unmarshal(raw, &obj) != nil || obj.CFV == nil {
		return "", false
	}
	for _, v := range []json.RawMessage{obj.CFV.Text, obj.CFV.Value} {
		if s := crm.RawString(v); s != "" {
			return s, true
		}
	}
	return "", false
}

// flatValue handles {"value": ...} and {"text": ...}.
func flatValue(raw json.RawMessage) (string, bool) {
	var obj struct {
		Value json.RawMessage `json:"value"`
		Text  json.RawMessage `json:"text"`
	}
	if raw[0] != '{' || json.Unmarshal(raw, &obj) != nil {
		return "", false
	}
	for _, v := range []json.RawMessage{obj.Value, obj.Text} {
		if s := crm.RawString(v); s != "" {
			return s, true
		}
	}
	return "", false
}

// customFieldsWrapper handles {"custom_fields_values": [{"values": [{"value": ...}]}]}.
func customFieldsWrapper(raw json.RawMessage) (string, bool) {
	var obj struct {
		Fields []crm.CustomField `json:"custom_fields_values"`
	}
	if raw[0] != '{' || json.Unmarshal(raw, &obj) != nil {
		return "", false
	}
	for _, f := range obj.Fields {
		for _, v := range f.Values {
			if s := v.String(); s != "" {
				return s, true
			}
		}
	}
	return "", false
}

// scalar handles a bare string, number or boolean.
func scalar(raw json.RawMessage) (string, bool) {
	if raw[0] == '{' || raw[0] == '[' || !json.Valid(raw) {
		return "", false
	}
	s := crm.RawString(raw)
	return s, s != ""
}

// objectID handles {key: {"id": N}}.
func objectID(key string) extractor {
	return func(raw json.RawMessage) (string, bool) {
		if raw[0] != '{' {
			return "", false
		}
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(raw, &obj); err != nil {
			return "", false
		}
		inner, ok := obj[key]
		if !ok {
			return "", false
		}
		var ref struct {
			ID json.RawMessage `json:"id"`
		}
		if err := json.Unmarshal(inner, &ref); err != nil {
			return "", false
		}
		return positiveInt(crm.RawString(ref.ID))
	}
}

// flatNumber handles {key: N}.
func flatNumber(key string) extractor {
	return func(raw json.RawMessage) (string, bool) {
		if raw[0] != '{' {
			return "", false
		}
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(raw, &obj); err != nil {
			return "", false
		}
		v, ok := obj[key]
		if !ok {
			return "", false
		}
		return positiveInt(crm.RawString(v))
	}
}

func positiveInt(s string) (string, bool) {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil || n <= 0 {
		return "", false
	}
	return strconv.FormatInt(n, 10), true
}

func parseID(s string) int64 {
	n, _ := strconv.ParseInt(s, 10, 64)
	return n
}
