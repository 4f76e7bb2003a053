package telephony

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
)

// ID is an identifier that the API emits as a number, a string, or an
// object carrying an "id" field, depending on the endpoint.
type ID string

// UnmarshalJSON accepts 12, "12" and {"id": 12, ...}.
func (id *ID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}

	switch data[0] {
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = ID(strings.TrimSpace(s))
	case '{':
		var obj struct {
			ID ID `json:"id"`
		}
		if err := json.Unmarshal(data, &obj); err != nil {
			return err
		}
		*id = obj.ID
	default:
		var n json.Number
		if err := json.Unmarshal(data, &n); err != nil {
			return err
		}
		if i, err := n.Int64(); err == nil {
			*id = ID(strconv.FormatInt(i, 10))
		} else {
			*id = ID(n.String())
		}
	}
	return nil
}

// Operator is the inline operator reference on a call.
type Operator struct {
	ID   ID     `json:"id"`
	Name string `json:"name"`
}

// CallItem is one row of call/list.
type CallItem struct {
	ID           ID       `json:"id"`
	Operator     Operator `json:"operator"`
	ClientStatus ID       `json:"client_status"`
	TalkDuration int64    `json:"talk_duration"`
	StartAt      string   `json:"start_at"`
	Phone        string   `json:"phone"`
	Campaign     ID       `json:"campaign"`
}

// UserStatus is one row of user_report/list: the operator's current event.
type UserStatus struct {
	ID    ID     `json:"id"`
	Name  string `json:"name"`
	Event string `json:"event"`
}

// LineTime is seconds an operator's line was occupied during a day.
type LineTime struct {
	ID       ID    `json:"id"`
	LineTime int64 `json:"line_time"`
}

// Contact is one row of contact/list.
type Contact struct {
	ID        ID     `json:"id"`
	Phone     string `json:"phone"`
	CreatedAt string `json:"created_at"`
}

// User is one row of user/list.
type User struct {
	ID   ID     `json:"id"`
	Name string `json:"name"`
}

// Campaign is one row of campaign/list.
type Campaign struct {
	ID     ID     `json:"id"`
	Name   string `json:"name"`
	Active bool   `json:"active"`
}

// CallFilter narrows call/list. Empty fields apply no filter.
type CallFilter struct {
	Operators []string
	Statuses  []string
	Campaigns []int
}

type page[T any] struct {
	Items []T `json:"items"`
}
