package entity

import "encoding/json"

type ChangeType string

const (
	ChangeInsert ChangeType = "INSERT"
	ChangeUpdate ChangeType = "UPDATE"
	ChangeDelete ChangeType = "DELETE"
)

// ChangeEvent is one row-level notification from the store. Record holds the
// new row (insert/update) and OldRecord the prior row (update/delete); either
// may be empty.
type ChangeEvent struct {
	Type      ChangeType      `json:"type"`
	Table     string          `json:"table"`
	Record    json.RawMessage `json:"record"`
	OldRecord json.RawMessage `json:"old_record"`
}

// LeadChange is a ChangeEvent decoded for the leads table.
type LeadChange struct {
	Type ChangeType
	New  *Lead
	// OldPhone is the key of the prior row, when the feed sent one.
	OldPhone string
}

// Key returns the identity the event refers to, preferring the new row.
func (c LeadChange) Key() string {
	if c.New != nil && c.New.Phone != "" {
		return c.New.Phone
	}
	return c.OldPhone
}

// DecodeLeadChange never fails: unreadable rows are left nil so the
// consumer can drop the event on a missing key.
func DecodeLeadChange(ev ChangeEvent) LeadChange {
	out := LeadChange{Type: ev.Type}

	if len(ev.Record) > 0 && string(ev.Record) != "null" {
		var l Lead
		if err := json.Unmarshal(ev.Record, &l); err == nil && l.Phone != "" {
			out.New = &l
		}
	}

	if len(ev.OldRecord) > 0 && string(ev.OldRecord) != "null" {
		var old struct {
			Phone string `json:"phone"`
		}
		if err := json.Unmarshal(ev.OldRecord, &old); err == nil {
			out.OldPhone = old.Phone
		}
	}

	return out
}
