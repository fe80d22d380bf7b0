package model

import (
	"encoding/json"
	"time"
)

// Table names a persisted entity that emits change notifications.
type Table string

const (
	TableConversations Table = "conversations"
	TableMessages      Table = "messages"
	TableProblems      Table = "problems"
)

// ChangeType is the kind of row mutation.
type ChangeType string

const (
	ChangeInsert ChangeType = "insert"
	ChangeUpdate ChangeType = "update"
	ChangeDelete ChangeType = "delete"
)

// Change is a row-level change notification. Scope is the routing key of
// the row: the conversation id for messages, the student id for
// conversations and the submitter id for problems.
type Change struct {
	Table Table           `json:"table"`
	Type  ChangeType      `json:"type"`
	Scope string          `json:"scope"`
	Row   json.RawMessage `json:"row,omitempty"`
	At    time.Time       `json:"at"`
}

// ChangeFilter selects changes. Empty fields match anything.
type ChangeFilter struct {
	Table Table
	Type  ChangeType
	Scope string
}

// Matches reports whether c passes the filter.
func (f ChangeFilter) Matches(c Change) bool {
	if f.Table != "" && f.Table != c.Table {
		return false
	}
	if f.Type != "" && f.Type != c.Type {
		return false
	}
	if f.Scope != "" && f.Scope != c.Scope {
		return false
	}
	return true
}

// NewChange builds a change carrying row encoded as JSON.
func NewChange(table Table, typ ChangeType, scope string, row any) (Change, error) {
	data, err := json.Marshal(row)
	if err != nil {
		return Change{}, err
	}
	return Change{Table: table, Type: typ, Scope: scope, Row: data, At: time.Now().UTC()}, nil
}

// ErrorEvent represents an error event on a stream.
type ErrorEvent struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// HeartbeatEvent represents a heartbeat event.
type HeartbeatEvent struct {
	Timestamp time.Time `json:"timestamp"`
}
