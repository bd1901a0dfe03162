// Stats summarises the ingestion ledger for GET /api/stats.
package dto

type Stats struct {
	TotalArtifacts int            `json:"total_artifacts"`
	TotalBytes     int64          `json:"total_bytes"`
	PerDay         map[string]int `json:"per_day"`
	LastReceivedAt string         `json:"last_received_at,omitempty"`
}
