package registry

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	flipshare "github.com/flipshare/flipshare"
	"github.com/flipshare/flipshare/internal/auth"
	"github.com/flipshare/flipshare/internal/db"
	"github.com/flipshare/flipshare/internal/media"
	"github.com/flipshare/flipshare/internal/model"

	"github.com/google/uuid"
)

// fakeStore records uploads and can be told to fail specific deletes.
type fakeStore struct {
	uploads     []media.UploadInput
	uploadErr   error
	failDeletes map[string]bool
	deleted     []string
}

func (f *fakeStore) Upload(ctx context.Context, in media.UploadInput) (*media.UploadResult, error) {
	if f.uploadErr != nil {
		return nil, f.uploadErr
	}
	f.uploads = append(f.uploads, in)
	return &media.UploadResult{
		URL:          "https://cdn.example.com/" + in.PublicID,
		PublicID:     in.Folder + "/" + in.PublicID,
		ResourceType: in.ResourceType,
		Format:       "pdf",
		Bytes:        1234,
		Duration:     42.5,
		Width:        1920,
		Height:       1080,
	}, nil
}

func (f *fakeStore) Delete(ctx context.Context, item media.Item) error {
	if f.failDeletes[item.PublicID] {
		return errors.New("remote refused")
	}
	f.deleted = append(f.deleted, item.PublicID)
	return nil
}

func (f *fakeStore) Cleanup(ctx context.Context, items []media.Item) media.CleanupSummary {
	summary := media.CleanupSummary{TotalAttempted: len(items)}
	for _, item := range items {
		r := media.ItemResult{PublicID: item.PublicID}
		if err := f.Delete(ctx, item); err != nil {
			r.Error = err.Error()
			summary.Failed++
		} else {
			r.Deleted = true
			summary.Deleted++
		}
		summary.Items = append(summary.Items, r)
	}
	return summary
}

func (f *fakeStore) VideoMP4URL(id string) string       { return "https://cdn.example.com/mp4/" + id }
func (f *fakeStore) VideoWebMURL(id string) string      { return "https://cdn.example.com/webm/" + id }
func (f *fakeStore) VideoMobileURL(id string) string    { return "https://cdn.example.com/mob/" + id }
func (f *fakeStore) VideoThumbnailURL(id string) string { return "https://cdn.example.com/thumb/" + id }

func setup(t *testing.T) (*sql.DB, *fakeStore, *Registry, string) {
	t.Helper()
	database, err := db.OpenMemory()
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	if err := db.Migrate(database, flipshare.MigrationFS); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	hash, err := auth.HashPassword("secret")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	owner := &model.Account{
		ID:           uuid.NewString(),
		Email:        "owner@example.com",
		Name:         "Owner",
		PasswordHash: hash,
	}
	if err := db.CreateAccount(database, owner); err != nil {
		t.Fatalf("create account: %v", err)
	}

	store := &fakeStore{failDeletes: map[string]bool{}}
	return database, store, New(database, store), owner.ID
}

func TestCreatePDF(t *testing.T) {
	_, store, reg, owner := setup(t)

	doc, err := reg.Create(context.Background(), owner, CreateInput{
		Title:         "  Q3 Deck  ",
		DocType:       model.TypePDF,
		AllowDownload: true,
		File:          strings.NewReader("%PDF-1.7"),
		FileName:      "deck.pdf",
		MimeType:      "application/pdf",
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if doc.Status != model.StatusActive {
		t.Errorf("status = %q, want active", doc.Status)
	}
	if doc.Title != "Q3 Deck" {
		t.Errorf("title = %q, want trimmed", doc.Title)
	}
	if len(doc.PublicSlug) != 10 {
		t.Errorf("slug %q should be 10 chars", doc.PublicSlug)
	}
	if doc.Files.PDF == nil || doc.Files.PDF.Original.URL == "" {
		t.Fatal("pdf file ref missing")
	}
	if doc.Files.Video != nil {
		t.Error("pdf document should have no video block")
	}
	// Raw uploads preserve the PDF bytes and embedded hyperlinks.
	if len(store.uploads) != 1 || store.uploads[0].ResourceType != "raw" {
		t.Errorf("upload calls = %+v, want one raw upload", store.uploads)
	}
}

func TestCreateVideoDerivesFormats(t *testing.T) {
	_, _, reg, owner := setup(t)

	doc, err := reg.Create(context.Background(), owner, CreateInput{
		Title:   "Launch video",
		DocType: model.TypeVideo,
		File:    strings.NewReader("fake-bytes"),
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	v := doc.Files.Video
	if v == nil {
		t.Fatal("video block missing")
	}
	if v.Formats.MP4 == "" || v.Formats.WebM == "" || v.Formats.Mobile == "" {
		t.Errorf("derived formats incomplete: %+v", v.Formats)
	}
	if v.Thumbnail == "" {
		t.Error("thumbnail missing")
	}
	if v.Duration != 42.5 || v.Width != 1920 {
		t.Errorf("upload metadata not captured: %+v", v)
	}
}

func TestCreateValidation(t *testing.T) {
	_, _, reg, owner := setup(t)
	ctx := context.Background()

	cases := []struct {
		name string
		in   CreateInput
	}{
		{"missing title", CreateInput{DocType: model.TypePDF, File: strings.NewReader("x")}},
		{"bad type", CreateInput{Title: "t", DocType: "spreadsheet", File: strings.NewReader("x")}},
		{"missing file", CreateInput{Title: "t", DocType: model.TypePDF}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := reg.Create(ctx, owner, tc.in); !errors.Is(err, ErrValidation) {
				t.Errorf("got %v, want ErrValidation", err)
			}
		})
	}
}

func TestCreateUploadFailureMarksError(t *testing.T) {
	database, store, reg, owner := setup(t)
	store.uploadErr = errors.New("cdn down")

	doc, err := reg.Create(context.Background(), owner, CreateInput{
		Title:   "Broken",
		DocType: model.TypePDF,
		File:    strings.NewReader("x"),
	})
	if err == nil {
		t.Fatal("expected upload error")
	}
	if doc == nil || doc.Status != model.StatusError {
		t.Fatalf("document should survive in error state, got %+v", doc)
	}

	stored, err := db.GetDocumentByID(database, doc.ID)
	if err != nil || stored == nil {
		t.Fatalf("reload: %v", err)
	}
	if stored.Status != model.StatusError {
		t.Errorf("persisted status = %q, want error", stored.Status)
	}
}

func TestPublicAccessGates(t *testing.T) {
	database, _, reg, owner := setup(t)
	ctx := context.Background()

	doc, err := reg.Create(ctx, owner, CreateInput{
		Title:   "Gated",
		DocType: model.TypePDF,
		File:    strings.NewReader("x"),
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if _, err := reg.GetPublic(ctx, doc.PublicSlug); err != nil {
		t.Errorf("active doc by slug: %v", err)
	}
	if _, err := reg.GetPublic(ctx, doc.ID); err != nil {
		t.Errorf("active doc by id: %v", err)
	}
	if _, err := reg.GetPublic(ctx, "nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("unknown identifier: got %v, want ErrNotFound", err)
	}

	inactive := model.StatusInactive
	if _, err := reg.Update(ctx, owner, doc.ID, UpdateInput{Status: &inactive}); err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	if _, err := reg.GetPublic(ctx, doc.PublicSlug); !errors.Is(err, ErrNotAccessible) {
		t.Errorf("inactive doc: got %v, want ErrNotAccessible", err)
	}

	active := model.StatusActive
	past := time.Now().Add(-time.Hour)
	if _, err := reg.Update(ctx, owner, doc.ID, UpdateInput{Status: &active, ExpiresAt: &past}); err != nil {
		t.Fatalf("expire: %v", err)
	}
	if _, err := reg.GetPublic(ctx, doc.PublicSlug); !errors.Is(err, ErrNotAccessible) {
		t.Errorf("expired doc: got %v, want ErrNotAccessible", err)
	}

	// Expiry is a read-time gate; the row itself is untouched.
	stored, err := db.GetDocumentByID(database, doc.ID)
	if err != nil || stored == nil {
		t.Fatalf("reload: %v", err)
	}
	if stored.Status != model.StatusActive {
		t.Errorf("expired doc status = %q, want still active", stored.Status)
	}
}

func TestPasswordGate(t *testing.T) {
	_, _, reg, owner := setup(t)
	ctx := context.Background()

	doc, err := reg.Create(ctx, owner, CreateInput{
		Title:    "Secret",
		DocType:  model.TypePDF,
		Password: "hunter2",
		File:     strings.NewReader("x"),
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := reg.CheckPassword(doc, ""); !errors.Is(err, ErrPassword) {
		t.Errorf("empty password: got %v, want ErrPassword", err)
	}
	if err := reg.CheckPassword(doc, "wrong"); !errors.Is(err, ErrPassword) {
		t.Errorf("wrong password: got %v, want ErrPassword", err)
	}
	if err := reg.CheckPassword(doc, "hunter2"); err != nil {
		t.Errorf("correct password: %v", err)
	}
}

func TestOwnershipScoping(t *testing.T) {
	database, _, reg, owner := setup(t)
	ctx := context.Background()

	doc, err := reg.Create(ctx, owner, CreateInput{
		Title:   "Mine",
		DocType: model.TypePDF,
		File:    strings.NewReader("x"),
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	hash, _ := auth.HashPassword("pw")
	other := &model.Account{
		ID: uuid.NewString(), Email: "other@example.com", Name: "Other", PasswordHash: hash,
	}
	if err := db.CreateAccount(database, other); err != nil {
		t.Fatalf("create other: %v", err)
	}

	if _, err := reg.GetOwned(ctx, other.ID, doc.ID); !errors.Is(err, ErrForbidden) {
		t.Errorf("foreign access: got %v, want ErrForbidden", err)
	}
	if _, err := reg.Delete(ctx, other.ID, doc.ID); !errors.Is(err, ErrForbidden) {
		t.Errorf("foreign delete: got %v, want ErrForbidden", err)
	}
}

func TestDeleteReportsCleanup(t *testing.T) {
	_, store, reg, owner := setup(t)
	ctx := context.Background()

	doc, err := reg.Create(ctx, owner, CreateInput{
		Title:   "Doomed",
		DocType: model.TypePDF,
		File:    strings.NewReader("x"),
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	res, err := reg.Delete(ctx, owner, doc.ID)
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if res.Cleanup.Deleted != 1 || res.Cleanup.Failed != 0 || res.Cleanup.TotalAttempted != 1 {
		t.Errorf("cleanup summary = %+v, want 1/0/1", res.Cleanup)
	}
	if len(store.deleted) != 1 {
		t.Errorf("store deletes = %v, want 1 item", store.deleted)
	}

	if _, err := reg.GetPublic(ctx, doc.PublicSlug); !errors.Is(err, ErrNotFound) {
		t.Errorf("deleted doc public access: got %v, want ErrNotFound", err)
	}
}

func TestDeleteSucceedsWhenCleanupFails(t *testing.T) {
	_, store, reg, owner := setup(t)
	ctx := context.Background()

	doc, err := reg.Create(ctx, owner, CreateInput{
		Title:   "Sticky",
		DocType: model.TypePDF,
		File:    strings.NewReader("x"),
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	store.failDeletes[doc.Files.PDF.Original.PublicID] = true

	res, err := reg.Delete(ctx, owner, doc.ID)
	if err != nil {
		t.Fatalf("delete with failing cleanup: %v", err)
	}
	if res.Cleanup.Failed != 1 {
		t.Errorf("cleanup failed = %d, want 1", res.Cleanup.Failed)
	}
	if _, err := reg.GetOwned(ctx, owner, doc.ID); !errors.Is(err, ErrNotFound) {
		t.Error("document should be gone despite cleanup failure")
	}
}

func TestBulkDeletePerItemResults(t *testing.T) {
	_, _, reg, owner := setup(t)
	ctx := context.Background()

	var ids []string
	for i := 0; i < 2; i++ {
		doc, err := reg.Create(ctx, owner, CreateInput{
			Title:   fmt.Sprintf("Doc %d", i),
			DocType: model.TypePDF,
			File:    strings.NewReader("x"),
		})
		if err != nil {
			t.Fatalf("create %d: %v", i, err)
		}
		ids = append(ids, doc.ID)
	}
	ids = append(ids, "no-such-id")

	items := reg.BulkDelete(ctx, owner, ids)
	if len(items) != 3 {
		t.Fatalf("items = %d, want 3", len(items))
	}
	deleted, failed := 0, 0
	for _, item := range items {
		if item.Deleted {
			deleted++
		} else {
			failed++
		}
	}
	if deleted != 2 || failed != 1 {
		t.Errorf("deleted=%d failed=%d, want 2/1", deleted, failed)
	}
}
