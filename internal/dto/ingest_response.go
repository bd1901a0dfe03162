package dto

import "edgecam/internal/metadata"

// IngestResponse is returned by POST /receive.
type IngestResponse struct {
	Message   string            `json:"message"`
	Filename  string            `json:"filename"`
	URL       string            `json:"url"`
	Subdir    string            `json:"subdir"`
	Metadata  metadata.Metadata `json:"metadata"`
	Duplicate bool              `json:"duplicate"`
}

// ArtifactEvent is pushed to live viewers and published on the bus.
type ArtifactEvent struct {
	Type     string            `json:"type"`
	Filename string            `json:"filename"`
	URL      string            `json:"url"`
	Subdir   string            `json:"subdir"`
	Size     int64             `json:"size"`
	Digest   string            `json:"digest"`
	Metadata metadata.Metadata `json:"metadata"`
}

// ErrorResponse is the body of every JSON error.
type ErrorResponse struct {
	Error string `json:"error"`
}
