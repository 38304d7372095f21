// Package model defines the domain types shared by the store, the
// reconciliation engine, the search executor and the task dispatcher.
package model

import "strings"

// Contact is a locally stored directory record. Empty strings stand for
// NULL columns; the store converts between the two.
type Contact struct {
	ID          int64  `json:"id"`
	RemoteID    string `json:"remote_id,omitempty"`
	FirstName   string `json:"first_name"`
	LastName    string `json:"last_name"`
	Email       string `json:"email"`
	Description string `json:"description,omitempty"`
}

// IndexText returns the text the search index is derived from: the
// non-empty indexed fields joined by a single space.
func (c Contact) IndexText() string {
	parts := make([]string, 0, 4)
	for _, v := range []string{c.FirstName, c.LastName, c.Email, c.Description} {
		if v != "" {
			parts = append(parts, v)
		}
	}
	return strings.Join(parts, " ")
}

// Reconcilable reports whether the contact carries anything the remote
// directory can be queried by.
func (c Contact) Reconcilable() bool {
	return c.RemoteID != "" || strings.TrimSpace(c.Email) != ""
}
