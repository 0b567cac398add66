// Package models contains the shared domain types of the summarizer backend.
package models

import "time"

// FileStatus describes where an uploaded file is in the extraction workflow.
type FileStatus string

const (
	FileStatusUploaded   FileStatus = "uploaded"
	FileStatusExtracting FileStatus = "extracting"
	FileStatusExtracted  FileStatus = "extracted"
	FileStatusError      FileStatus = "error"
)

// FileInfo represents metadata about an uploaded file.
type FileInfo struct {
	ID         string     `json:"id" msgpack:"id"`
	Name       string     `json:"name" msgpack:"name"`
	MediaType  string     `json:"mediaType" msgpack:"mediaType"`
	Size       int64      `json:"size" msgpack:"size"`
	UploadedAt time.Time  `json:"uploadedAt" msgpack:"uploadedAt"`
	Status     FileStatus `json:"status" msgpack:"status"`
}
