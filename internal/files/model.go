package files

import (
	"time"

	"github.com/google/uuid"
)

// File is the metadata row for one stored patient document. The bytes live
// in S3 under Key.
type File struct {
	ID          uuid.UUID  `json:"id"`
	OwnerID     uuid.UUID  `json:"owner_id"`
	Name        string     `json:"name"`
	ContentType string     `json:"content_type"`
	SizeBytes   int64      `json:"size_bytes"`
	Key         string     `json:"-"`
	UploadedAt  time.Time  `json:"uploaded_at"`
	DeletedAt   *time.Time `json:"deleted_at,omitempty"`
}
