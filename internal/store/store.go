// Package store persists upload metadata. Media bytes live in object
// storage; this records who uploaded what and where it went.
package store

import (
	"context"
	"time"
)

type Upload struct {
	ID           int64     `json:"id"`
	UserID       string    `json:"user_id"`
	Bucket       string    `json:"bucket"`
	StorageKey   string    `json:"storage_key"`
	OriginalName string    `json:"original_name"`
	MimeType     string    `json:"mime_type"`
	SizeBytes    int64     `json:"size_bytes"`
	CreatedAt    time.Time `json:"created_at"`
}

type UploadStore interface {
	Insert(ctx context.Context, u *Upload) error
	ListByUser(ctx context.Context, userID string, limit int) ([]Upload, error)
	Delete(ctx context.Context, id int64, userID string) (bool, error)
	Close() error
}
