package model

import "time"

// Artifact is one ledger row: a payload stored under the upload root.
type Artifact struct {
	ID         string     `json:"id"`
	Filename   string     `json:"filename"`
	Day        string     `json:"day"`
	RelPath    string     `json:"rel_path"`
	Size       int64      `json:"size"`
	Digest     string     `json:"digest"`
	CapturedAt *time.Time `json:"captured_at"`
	ReceivedAt time.Time  `json:"received_at"`
}

// LedgerStats aggregates the ledger.
type LedgerStats struct {
	TotalArtifacts int
	TotalBytes     int64
	PerDay         map[string]int
	LastReceivedAt *time.Time
}
