package models

import (
	"github.com/google/uuid"
)

// FileRecord is the metadata record kept for every indexed file. The
// file_id is the join key against the vector index payloads, so deleting
// a file's vectors and its record always goes through this ID.
type FileRecord struct {
	FileID     uuid.UUID `json:"file_id"`
	Filename   string    `json:"filename"`
	UploadDate string    `json:"upload_date"` // RFC 3339
}
