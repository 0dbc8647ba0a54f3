// Package storage opens the SQLite database shared by the candidate catalogue
// and the audit sink.
package storage

import "errors"

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Migration is one idempotent schema statement batch owned by a component.
type Migration struct {
	Name   string
	Schema string
}
