package model

import "time"

// ResultsExport is the top-level JSON structure for result export.
type ResultsExport struct {
	GeneratedAt time.Time      `json:"generated_at"`
	Filter      ExportFilter   `json:"filter"`
	Count       int            `json:"count"`
	Results     []ResultExport `json:"results"`
}

// ExportFilter records which results an export covers.
type ExportFilter struct {
	SubjectID string `json:"subject_id,omitempty"`
	TopicID   int64  `json:"topic_id,omitempty"`
}

// ResultExport flattens one result with its topic name for export.
type ResultExport struct {
	Result
	TopicName string `json:"topic_name"`
}
