package models

import "time"

// Image is the metadata record of one stored object. Records are never
// updated; they are created by an upload and removed by a delete.
type Image struct {
	ID          string    `json:"id"`
	Filename    string    `json:"filename"`
	MimeType    string    `json:"mime_type"`
	Size        int64     `json:"size"`
	StoragePath string    `json:"storage_path"`
	UserID      string    `json:"user_id"`
	CreatedAt   time.Time `json:"created_at"`
}
