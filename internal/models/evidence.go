package models

import "time"

// FileStatus is the lifecycle status of an evidence file.
type FileStatus string

const (
	StatusQueued     FileStatus = "queued"
	StatusUploading  FileStatus = "uploading"
	StatusExtracting FileStatus = "extracting"
	StatusComplete   FileStatus = "complete"
	StatusFailed     FileStatus = "failed"
)

// ValidFileStatuses is the set of all valid file statuses.
var ValidFileStatuses = []FileStatus{
	StatusQueued,
	StatusUploading,
	StatusExtracting,
	StatusComplete,
	StatusFailed,
}

// IsValid returns true if the status is recognized.
func (s FileStatus) IsValid() bool {
	for _, v := range ValidFileStatuses {
		if s == v {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transition is possible.
func (s FileStatus) IsTerminal() bool {
	return s == StatusComplete || s == StatusFailed
}

// CanAdvanceTo reports whether next directly follows s.
func (s FileStatus) CanAdvanceTo(next FileStatus) bool {
	switch s {
	case StatusQueued:
		return next == StatusUploading
	case StatusUploading:
		return next == StatusExtracting
	case StatusExtracting:
		return next == StatusComplete || next == StatusFailed
	default:
		return false
	}
}

// EvidenceFile is one submitted file of an investigation.
type EvidenceFile struct {
	ID          string     `json:"id"`
	DisplayName string     `json:"display_name"`
	SizeBytes   int64      `json:"size_bytes"`
	MimeClass   string     `json:"mime_class"`
	Status      FileStatus `json:"status"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}
