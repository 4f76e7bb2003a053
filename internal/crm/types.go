package crm

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
)

// Event types consumed by the reconstructor.
const (
	EventLeadStatusChanged = "lead_status_changed"
	EventOutgoingCall      = "outgoing_call"
	EventIncomingCall      = "incoming_call"
)

// CustomFieldEventType returns the event type for value changes of one
// custom field.
func CustomFieldEventType(fieldID int64) string {
	return "custom_field_" + strconv.FormatInt(fieldID, 10) + "_value_changed"
}

// Event is one entry of the events stream. Value payloads vary by event
// type and are left raw.
type Event struct {
	ID          string          `json:"id"`
	Type        string          `json:"type"`
	EntityID    int64           `json:"entity_id"`
	EntityType  string          `json:"entity_type"`
	CreatedBy   int64           `json:"created_by"`
	CreatedAt   int64           `json:"created_at"`
	ValueAfter  json.RawMessage `json:"value_after"`
	ValueBefore json.RawMessage `json:"value_before"`
}

// Lead is the subset of lead fields callpulse reads.
type Lead struct {
	ID                 int64         `json:"id"`
	Name               string        `json:"name"`
	Price              int64         `json:"price"`
	ResponsibleUserID  int64         `json:"responsible_user_id"`
	StatusID           int64         `json:"status_id"`
	PipelineID         int64         `json:"pipeline_id"`
	CreatedAt          int64         `json:"created_at"`
	IsDeleted          bool          `json:"is_deleted"`
	CustomFieldsValues []CustomField `json:"custom_fields_values"`
}

// CustomField is one custom field with its values.
type CustomField struct {
	FieldID   int64              `json:"field_id"`
	FieldName string             `json:"field_name"`
	Values    []CustomFieldValue `json:"values"`
}

// CustomFieldValue holds a scalar of any JSON type.
type CustomFieldValue struct {
	Value  json.RawMessage `json:"value"`
	EnumID int64           `json:"enum_id"`
}

// String renders the raw value as text: strings unquoted, numbers and
// booleans verbatim, null as "".
func (v CustomFieldValue) String() string {
	return RawString(v.Value)
}

// RawString renders a raw JSON scalar as text.
func RawString(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return ""
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			return strings.TrimSpace(s)
		}
	}
	if raw[0] == '{' || raw[0] == '[' {
		return ""
	}
	return string(raw)
}

// Field returns the custom field with id, if present.
func (l Lead) Field(id int64) (CustomField, bool) {
	for _, f := range l.CustomFieldsValues {
		if f.FieldID == id {
			return f, true
		}
	}
	return CustomField{}, false
}

// FieldInt returns the first value of a custom field parsed as an integer.
// Decimal values are truncated.
func (l Lead) FieldInt(id int64) int64 {
	f, ok := l.Field(id)
	if !ok || len(f.Values) == 0 {
		return 0
	}
	s := strings.ReplaceAll(f.Values[0].String(), " ", "")
	s = strings.ReplaceAll(s, ",", ".")
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n
	}
	if x, err := strconv.ParseFloat(s, 64); err == nil {
		return int64(x)
	}
	return 0
}

// HasEnum reports whether a custom field holds enumID or the literal text.
func (l Lead) HasEnum(fieldID, enumID int64, text string) bool {
	f, ok := l.Field(fieldID)
	if !ok {
		return false
	}
	for _, v := range f.Values {
		if enumID != 0 && v.EnumID == enumID {
			return true
		}
		if text != "" && v.String() == text {
			return true
		}
	}
	return false
}

// Note is a lead note. Call notes carry their duration in Params.
type Note struct {
	ID                int64      `json:"id"`
	EntityID          int64      `json:"entity_id"`
	NoteType          string     `json:"note_type"`
	CreatedBy         int64      `json:"created_by"`
	ResponsibleUserID int64      `json:"responsible_user_id"`
	CreatedAt         int64      `json:"created_at"`
	Params            NoteParams `json:"params"`
}

// NoteParams holds call note details.
type NoteParams struct {
	Duration int64  `json:"duration"`
	Phone    string `json:"phone"`
	UniqueID string `json:"uniq"`
	Source   string `json:"source"`
}

// User is one CRM user.
type User struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// Tokens is the OAuth token file layout.
type Tokens struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	UpdatedAt    int64  `json:"updated_at"`
}

type halPage struct {
	Links struct {
		Next struct {
			Href string `json:"href"`
		} `json:"next"`
	} `json:"_links"`
	Embedded struct {
		Leads  []Lead  `json:"leads"`
		Events []Event `json:"events"`
		Notes  []Note  `json:"notes"`
		Users  []User  `json:"users"`
	} `json:"_embedded"`
}
