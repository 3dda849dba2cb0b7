// Package registry manages document records and their media assets: create
// with upload, owner-scoped reads and updates, and delete with remote
// cleanup.
package registry

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	gonanoid "github.com/matoous/go-nanoid/v2"

	"github.com/flipshare/flipshare/internal/auth"
	"github.com/flipshare/flipshare/internal/db"
	"github.com/flipshare/flipshare/internal/media"
	"github.com/flipshare/flipshare/internal/model"
)

var (
	ErrNotFound      = errors.New("document not found")
	ErrNotAccessible = errors.New("document not accessible")
	ErrForbidden     = errors.New("not the document owner")
	ErrValidation    = errors.New("invalid input")
	ErrPassword      = errors.New("password required or incorrect")
)

// Slugs use an unambiguous alphabet (no 0/O, 1/l/I) since they end up in
// shared links people read aloud.
const slugAlphabet = "23456789abcdefghjkmnpqrstuvwxyzABCDEFGHJKMNPQRSTUVWXYZ"
const slugLength = 10

// VideoURLBuilder is implemented by media stores that can derive playback
// URLs without extra API calls.
type VideoURLBuilder interface {
	VideoMP4URL(publicID string) string
	VideoWebMURL(publicID string) string
	VideoMobileURL(publicID string) string
	VideoThumbnailURL(publicID string) string
}

type Registry struct {
	db    *sql.DB
	store media.Store
}

func New(database *sql.DB, store media.Store) *Registry {
	return &Registry{db: database, store: store}
}

type CreateInput struct {
	Title          string
	Description    string
	DocType        string
	AllowDownload  bool
	RequireContact bool
	Password       string
	ExpiresAt      *time.Time

	File     io.Reader
	FileName string
	FileSize int64
	MimeType string
}

// Create registers the document and uploads its media. The record exists in
// processing state during the upload; it flips to active on success and to
// error on failure, so a crashed upload leaves an inspectable row rather
// than an orphaned asset.
func (r *Registry) Create(ctx context.Context, ownerID string, in CreateInput) (*model.Document, error) {
	in.Title = strings.TrimSpace(in.Title)
	if in.Title == "" {
		return nil, fmt.Errorf("%w: title is required", ErrValidation)
	}
	if in.DocType != model.TypePDF && in.DocType != model.TypeVideo {
		return nil, fmt.Errorf("%w: doc type must be pdf or video", ErrValidation)
	}
	if in.File == nil {
		return nil, fmt.Errorf("%w: file is required", ErrValidation)
	}

	slug, err := gonanoid.Generate(slugAlphabet, slugLength)
	if err != nil {
		return nil, fmt.Errorf("generate slug: %w", err)
	}

	doc := &model.Document{
		ID:             uuid.NewString(),
		OwnerID:        ownerID,
		PublicSlug:     slug,
		Title:          in.Title,
		Description:    strings.TrimSpace(in.Description),
		DocType:        in.DocType,
		Status:         model.StatusProcessing,
		Files:          model.DocumentFiles{Version: 1},
		AllowDownload:  in.AllowDownload,
		RequireContact: in.RequireContact,
		ExpiresAt:      in.ExpiresAt,
	}
	if in.Password != "" {
		hash, err := auth.HashPassword(in.Password)
		if err != nil {
			return nil, err
		}
		doc.PasswordHash = &hash
	}

	if err := db.CreateDocument(r.db, doc); err != nil {
		return nil, fmt.Errorf("create document: %w", err)
	}

	files, err := r.uploadMedia(ctx, doc, in)
	if err != nil {
		if serr := db.UpdateDocumentStatus(r.db, doc.ID, model.StatusError); serr != nil {
			slog.Error("mark document errored", "document", doc.ID, "error", serr)
		}
		doc.Status = model.StatusError
		return doc, fmt.Errorf("upload media: %w", err)
	}

	doc.Files = *files
	if err := db.UpdateDocumentFiles(r.db, doc.ID, doc.Files); err != nil {
		return nil, fmt.Errorf("store file refs: %w", err)
	}
	if err := db.UpdateDocumentStatus(r.db, doc.ID, model.StatusActive); err != nil {
		return nil, fmt.Errorf("activate document: %w", err)
	}
	doc.Status = model.StatusActive
	return doc, nil
}

func (r *Registry) uploadMedia(ctx context.Context, doc *model.Document, in CreateInput) (*model.DocumentFiles, error) {
	// PDFs go up as raw assets so the bytes, and the hyperlinks inside
	// them, survive untouched.
	resourceType := "raw"
	if in.DocType == model.TypeVideo {
		resourceType = "video"
	}

	res, err := r.store.Upload(ctx, media.UploadInput{
		Reader:       in.File,
		FileName:     in.FileName,
		Folder:       "flipshare/" + doc.OwnerID,
		PublicID:     media.SanitizePublicID(doc.ID),
		ResourceType: resourceType,
	})
	if err != nil {
		return nil, err
	}

	ref := model.FileRef{
		URL:          res.URL,
		PublicID:     res.PublicID,
		ResourceType: res.ResourceType,
		Format:       res.Format,
		FileName:     in.FileName,
		FileSize:     res.Bytes,
		MimeType:     in.MimeType,
	}

	files := &model.DocumentFiles{Version: 1}
	if in.DocType == model.TypePDF {
		files.PDF = &model.PDFFile{Original: ref}
		return files, nil
	}

	video := &model.VideoFile{
		Original: ref,
		Duration: res.Duration,
		Width:    res.Width,
		Height:   res.Height,
	}
	if b, ok := r.store.(VideoURLBuilder); ok {
		video.Formats = model.VideoFormats{
			MP4:    b.VideoMP4URL(res.PublicID),
			WebM:   b.VideoWebMURL(res.PublicID),
			Mobile: b.VideoMobileURL(res.PublicID),
		}
		video.Thumbnail = b.VideoThumbnailURL(res.PublicID)
	}
	files.Video = video
	return files, nil
}

// GetOwned loads a document and verifies ownership.
func (r *Registry) GetOwned(ctx context.Context, ownerID, id string) (*model.Document, error) {
	doc, err := db.GetDocumentByID(r.db, id)
	if err != nil {
		return nil, err
	}
	if doc == nil || doc.Status == model.StatusDeleted {
		return nil, ErrNotFound
	}
	if doc.OwnerID != ownerID {
		return nil, ErrForbidden
	}
	return doc, nil
}

func (r *Registry) List(ctx context.Context, ownerID string, filter db.DocumentFilter) ([]model.Document, int, error) {
	return db.ListDocumentsByOwner(r.db, ownerID, filter)
}

// GetPublic resolves a slug or ID for public consumption, enforcing the
// status and expiry gates.
func (r *Registry) GetPublic(ctx context.Context, identifier string) (*model.Document, error) {
	doc, err := db.GetDocumentByIdentifier(r.db, identifier)
	if err != nil {
		return nil, err
	}
	if doc == nil || doc.Status == model.StatusDeleted {
		return nil, ErrNotFound
	}
	if !doc.Accessible(time.Now()) {
		return nil, ErrNotAccessible
	}
	return doc, nil
}

// CheckPassword gates password-protected documents. Documents without a
// password always pass.
func (r *Registry) CheckPassword(doc *model.Document, password string) error {
	if doc.PasswordHash == nil {
		return nil
	}
	if password == "" || !auth.CheckPassword(*doc.PasswordHash, password) {
		return ErrPassword
	}
	return nil
}

type UpdateInput struct {
	Title          *string
	Description    *string
	Status         *string
	AllowDownload  *bool
	RequireContact *bool
	Password       *string
	ExpiresAt      *time.Time
	ClearExpiry    bool
}

func (r *Registry) Update(ctx context.Context, ownerID, id string, in UpdateInput) (*model.Document, error) {
	doc, err := r.GetOwned(ctx, ownerID, id)
	if err != nil {
		return nil, err
	}

	if in.Title != nil {
		t := strings.TrimSpace(*in.Title)
		if t == "" {
			return nil, fmt.Errorf("%w: title cannot be empty", ErrValidation)
		}
		doc.Title = t
	}
	if in.Description != nil {
		doc.Description = strings.TrimSpace(*in.Description)
	}
	if in.Status != nil {
		switch *in.Status {
		case model.StatusActive, model.StatusInactive:
			doc.Status = *in.Status
		default:
			return nil, fmt.Errorf("%w: status must be active or inactive", ErrValidation)
		}
	}
	if in.AllowDownload != nil {
		doc.AllowDownload = *in.AllowDownload
	}
	if in.RequireContact != nil {
		doc.RequireContact = *in.RequireContact
	}
	if in.Password != nil {
		if *in.Password == "" {
			doc.PasswordHash = nil
		} else {
			hash, err := auth.HashPassword(*in.Password)
			if err != nil {
				return nil, err
			}
			doc.PasswordHash = &hash
		}
	}
	if in.ClearExpiry {
		doc.ExpiresAt = nil
	} else if in.ExpiresAt != nil {
		doc.ExpiresAt = in.ExpiresAt
	}

	if err := db.UpdateDocumentMeta(r.db, doc); err != nil {
		return nil, fmt.Errorf("update document: %w", err)
	}
	return doc, nil
}

// DeleteResult pairs the soft delete with the media cleanup outcome.
type DeleteResult struct {
	DocumentID string               `json:"documentId"`
	Cleanup    media.CleanupSummary `json:"cleanup"`
}

// Delete soft-deletes the document and then best-effort removes its remote
// media. The record is marked deleted even when cleanup partially fails;
// leftover assets are reported, not fatal.
func (r *Registry) Delete(ctx context.Context, ownerID, id string) (*DeleteResult, error) {
	doc, err := r.GetOwned(ctx, ownerID, id)
	if err != nil {
		return nil, err
	}

	if err := db.MarkDocumentDeleted(r.db, doc.ID); err != nil {
		return nil, fmt.Errorf("mark deleted: %w", err)
	}

	summary := r.store.Cleanup(ctx, mediaItems(doc))
	if summary.Failed > 0 {
		slog.Warn("document media cleanup incomplete",
			"document", doc.ID, "deleted", summary.Deleted, "failed", summary.Failed)
	}
	return &DeleteResult{DocumentID: doc.ID, Cleanup: summary}, nil
}

// BulkDeleteItem is the per-document outcome of a bulk delete. One failing
// document never aborts the rest.
type BulkDeleteItem struct {
	DocumentID string                `json:"documentId"`
	Deleted    bool                  `json:"deleted"`
	Error      string                `json:"error,omitempty"`
	Cleanup    *media.CleanupSummary `json:"cleanup,omitempty"`
}

func (r *Registry) BulkDelete(ctx context.Context, ownerID string, ids []string) []BulkDeleteItem {
	out := make([]BulkDeleteItem, 0, len(ids))
	for _, id := range ids {
		item := BulkDeleteItem{DocumentID: id}
		res, err := r.Delete(ctx, ownerID, id)
		if err != nil {
			item.Error = err.Error()
		} else {
			item.Deleted = true
			item.Cleanup = &res.Cleanup
		}
		out = append(out, item)
	}
	return out
}

func mediaItems(doc *model.Document) []media.Item {
	var items []media.Item
	if doc.Files.PDF != nil && doc.Files.PDF.Original.PublicID != "" {
		items = append(items, media.Item{
			PublicID:     doc.Files.PDF.Original.PublicID,
			ResourceType: doc.Files.PDF.Original.ResourceType,
		})
	}
	if doc.Files.Video != nil && doc.Files.Video.Original.PublicID != "" {
		items = append(items, media.Item{
			PublicID:     doc.Files.Video.Original.PublicID,
			ResourceType: doc.Files.Video.Original.ResourceType,
		})
	}
	return items
}
