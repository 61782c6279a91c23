// Package models defines data structures for the document backend API.
package models

// Document represents one previously ingested document as returned by the
// backend's document list endpoint. The list seeds the duplicate index at the
// start of every batch.
type Document struct {
	ID           string `json:"id"`
	DocumentType string `json:"documentType"`
	OriginalName string `json:"originalName"`
	FileSize     int64  `json:"fileSize"`
	MimeType     string `json:"mimeType,omitempty"`
	UploadedAt   string `json:"uploadedAt,omitempty"`
}

// DocumentList is the response envelope of GET /api/documents.
type DocumentList struct {
	Success   bool       `json:"success"`
	Documents []Document `json:"documents"`
}

// DetectResult is the response of POST /api/documents/detect-type.
// DocumentType is empty when the classifier could not identify the file.
type DetectResult struct {
	Success      bool   `json:"success"`
	DocumentType string `json:"documentType"`
	Filename     string `json:"filename"`
}

// ImportSummary describes what the server-side import extracted from a
// document once processing finished.
type ImportSummary struct {
	Imported  int    `json:"imported"`
	Skipped   int    `json:"skipped"`
	StartDate string `json:"startDate,omitempty"`
	EndDate   string `json:"endDate,omitempty"`
}

// UploadResult is the response of POST /api/documents/upload.
type UploadResult struct {
	Success       bool           `json:"success"`
	DocumentID    string         `json:"documentId"`
	ImportSummary *ImportSummary `json:"importSummary,omitempty"`
}

// Processing states reported by GET /api/upload-progress/{uploadId}.
const (
	ProcessingQueued   = "queued"
	ProcessingActive   = "processing"
	ProcessingComplete = "complete"
	ProcessingError    = "error"
)

// UploadStatus is one poll response from the upload progress endpoint.
// Progress is a percentage; Processed/Total count imported records when the
// server knows them.
type UploadStatus struct {
	Status    string `json:"status"`
	Progress  int    `json:"progress"`
	Processed int    `json:"processed,omitempty"`
	Total     int    `json:"total,omitempty"`
	Message   string `json:"message,omitempty"`
}
