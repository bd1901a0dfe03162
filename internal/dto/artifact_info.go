package dto

import (
	"edgecam/internal/metadata"
)

// ArtifactInfo describes a stored artifact in listing responses.
type ArtifactInfo struct {
	Filename   string            `json:"filename"`
	URL        string            `json:"url"`
	UploadTime string            `json:"upload_time"`
	Metadata   metadata.Metadata `json:"metadata"`
}

// DaySummary is one entry of the per-day index.
type DaySummary struct {
	Day              string `json:"day"`
	Count            int    `json:"count"`
	LatestUploadTime string `json:"latest_upload_time"`
}
