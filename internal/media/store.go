// Package media abstracts the remote media host. Documents keep only
// references (public IDs and URLs); bytes never touch local disk.
package media

import (
	"context"
	"io"
)

type UploadInput struct {
	Reader       io.Reader
	FileName     string
	Folder       string
	PublicID     string
	ResourceType string // "raw" | "video" | "image"
}

type UploadResult struct {
	URL          string
	PublicID     string
	ResourceType string
	Format       string
	Bytes        int64
	Duration     float64
	Width        int
	Height       int
}

type Item struct {
	PublicID     string
	ResourceType string
}

type ItemResult struct {
	PublicID string `json:"publicId"`
	Deleted  bool   `json:"deleted"`
	Error    string `json:"error,omitempty"`
}

// CleanupSummary reports a best-effort bulk delete. Partial failure is normal
// and callers proceed regardless; failed items are logged for manual cleanup.
type CleanupSummary struct {
	Deleted        int          `json:"deletedFiles"`
	Failed         int          `json:"failedFiles"`
	TotalAttempted int          `json:"totalAttempted"`
	Items          []ItemResult `json:"items,omitempty"`
}

type Store interface {
	Upload(ctx context.Context, in UploadInput) (*UploadResult, error)
	Delete(ctx context.Context, item Item) error
	Cleanup(ctx context.Context, items []Item) CleanupSummary
}
