// Package storage provides the bbolt-backed outcome journal
package storage

import "time"

// RecordKind distinguishes forward outcomes from reset-check outcomes
type RecordKind string

const (
	KindSync  RecordKind = "sync"
	KindReset RecordKind = "reset"
)

// Record is one journaled outcome of an outbound call
type Record struct {
	Kind            RecordKind `json:"kind"`
	Timestamp       time.Time  `json:"timestamp"`
	Device          string     `json:"device,omitempty"`
	LoadType        string     `json:"loadType,omitempty"`
	Power           float64    `json:"power,omitempty"`
	DurationSeconds float64    `json:"durationSeconds,omitempty"`
	Success         bool       `json:"success"`
	ErrorKind       string     `json:"errorKind,omitempty"`
	Error           string     `json:"error,omitempty"`
	HourBucket      string     `json:"hourBucket,omitempty"`
	Resets          []string   `json:"resets,omitempty"`
}

// Journal is the interface for the outcome audit log
type Journal interface {
	// Append stores a record
	Append(rec Record) error

	// Records returns up to limit most recent records, ordered from oldest to newest
	Records(limit int) ([]Record, error)

	// Count returns the number of stored records
	Count() (int, error)

	// Trim keeps only the last maxRecords records
	// Older records are removed
	Trim(maxRecords int) error

	// Close closes the journal
	Close() error
}
