// internal/model/contact.go
package model

import "time"

// Contact is a recipient document in the dispatch collection. The disparo loop
// iterates contacts directly instead of pre-materialized Send rows.
type Contact struct {
	ID    int    `db:"id" json:"id"`
	Phone string `db:"phone" json:"phone"`
	Name  string `db:"name" json:"name"`
	Tag   string `db:"tag" json:"tag,omitempty"`

	// Audit fields written back after each dispatch attempt.
	LastDisparoAt       *time.Time `db:"last_disparo_at" json:"last_disparo_at,omitempty"`
	LastDisparoOk       *bool      `db:"last_disparo_ok" json:"last_disparo_ok,omitempty"`
	LastDisparoError    string     `db:"last_disparo_error" json:"last_disparo_error,omitempty"`
	LastDisparoInstance string     `db:"last_disparo_instance" json:"last_disparo_instance,omitempty"`
	LastDisparoDevice   string     `db:"last_disparo_device" json:"last_disparo_device,omitempty"`
	LastDisparoMessage  string     `db:"last_disparo_message" json:"last_disparo_message,omitempty"`
	LastDisparoType     string     `db:"last_disparo_type" json:"last_disparo_type,omitempty"`

	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// DisparoAudit is the structured outcome written onto a contact after an
// attempt.
type DisparoAudit struct {
	At       time.Time
	Ok       bool
	Error    string
	Instance string
	Device   string
	Message  string
	Type     string
}
